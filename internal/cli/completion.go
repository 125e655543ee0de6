package cli

import (
	"fmt"
	"io"
)

// BashCompletion generates bash completion script
const BashCompletion = `#!/bin/bash
# Bash completion for cosmicctl

_cosmicctl_completion() {
    local cur prev
    COMPREPLY=()
    cur="${COMP_WORDS[COMP_CWORD]}"
    prev="${COMP_WORDS[COMP_CWORD-1]}"

    local commands="login pending-payments approve-payment reject-payment pending-withdrawals process-withdrawal make-admin leaderboard audit completion"
    local global_flags="--url --token --timeout"

    case "${prev}" in
        completion)
            COMPREPLY=( $(compgen -W "bash fish" -- ${cur}) )
            return 0
            ;;
        process-withdrawal)
            return 0
            ;;
    esac

    COMPREPLY=( $(compgen -W "${commands} ${global_flags}" -- ${cur}) )
    return 0
}

complete -F _cosmicctl_completion cosmicctl
`

// FishCompletion generates fish completion script
const FishCompletion = `# Fish completion for cosmicctl

complete -c cosmicctl -f
complete -c cosmicctl -n "__fish_use_subcommand" -a "login" -d "Obtain a bearer token"
complete -c cosmicctl -n "__fish_use_subcommand" -a "pending-payments" -d "List payment claims awaiting review"
complete -c cosmicctl -n "__fish_use_subcommand" -a "approve-payment" -d "Approve a payment claim"
complete -c cosmicctl -n "__fish_use_subcommand" -a "reject-payment" -d "Reject a payment claim"
complete -c cosmicctl -n "__fish_use_subcommand" -a "pending-withdrawals" -d "List withdrawals awaiting review"
complete -c cosmicctl -n "__fish_use_subcommand" -a "process-withdrawal" -d "Approve or reject a withdrawal"
complete -c cosmicctl -n "__fish_use_subcommand" -a "make-admin" -d "Grant admin to an account"
complete -c cosmicctl -n "__fish_use_subcommand" -a "leaderboard" -d "Show the leaderboard"
complete -c cosmicctl -n "__fish_use_subcommand" -a "audit" -d "Show recent admin actions"
complete -c cosmicctl -n "__fish_seen_subcommand_from completion" -a "bash fish"
complete -c cosmicctl -l url -r -d "API base URL"
complete -c cosmicctl -l token -r -d "Bearer token"
`

// GenerateCompletion writes the completion script for shell.
func GenerateCompletion(w io.Writer, shell string) error {
	var script string

	switch shell {
	case "bash":
		script = BashCompletion
	case "fish":
		script = FishCompletion
	default:
		return fmt.Errorf("unsupported shell: %s (supported: bash, fish)", shell)
	}

	_, err := io.WriteString(w, script)
	return err
}
