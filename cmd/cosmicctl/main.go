// Command cosmicctl drives the admin endpoints of the economy server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/R3E-Network/cosmicminer/internal/cli"
	apperr "github.com/R3E-Network/cosmicminer/internal/errors"
	"github.com/R3E-Network/cosmicminer/internal/httputil"
)

const usage = `usage: cosmicctl [--url URL] [--token TOKEN] <command> [args]

commands:
  login EMAIL PASSWORD              print a bearer token
  pending-payments                  list payment claims awaiting review
  approve-payment ID                approve a payment claim
  reject-payment ID                 reject a payment claim
  pending-withdrawals               list withdrawals awaiting review
  process-withdrawal ID true|false  approve or reject a withdrawal
  make-admin EMAIL                  grant admin to an account
  leaderboard                       show the leaderboard
  audit [LIMIT]                     show recent admin actions
  completion bash|fish              print a shell completion script
`

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout); err != nil {
		cli.NewPrinter(os.Stderr).Error(err.Error())
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("cosmicctl", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	baseURL := fs.String("url", envOr("COSMIC_API_URL", "http://localhost:8080"), "API base URL")
	token := fs.String("token", os.Getenv("COSMIC_TOKEN"), "bearer token")
	timeout := fs.Duration("timeout", 15*time.Second, "request timeout")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%v\n%s", err, usage)
	}
	rest := fs.Args()
	if len(rest) == 0 {
		return errors.New(usage)
	}

	out := cli.NewPrinter(stdout)
	c := &commands{
		client: httputil.NewClient(httputil.ClientConfig{BaseURL: *baseURL, Token: *token, Timeout: *timeout}),
		out:    out,
		stdout: stdout,
	}

	cmd, params := rest[0], rest[1:]
	switch cmd {
	case "login":
		if len(params) != 2 {
			return errors.New("login requires EMAIL and PASSWORD")
		}
		return c.login(ctx, params[0], params[1])
	case "pending-payments":
		return c.pendingPayments(ctx)
	case "approve-payment", "reject-payment":
		if len(params) != 1 {
			return fmt.Errorf("%s requires ID", cmd)
		}
		return c.decidePayment(ctx, cmd == "approve-payment", params[0])
	case "pending-withdrawals":
		return c.pendingWithdrawals(ctx)
	case "process-withdrawal":
		if len(params) != 2 {
			return errors.New("process-withdrawal requires ID and true|false")
		}
		approve, err := strconv.ParseBool(params[1])
		if err != nil {
			return fmt.Errorf("invalid decision %q", params[1])
		}
		return c.processWithdrawal(ctx, params[0], approve)
	case "make-admin":
		if len(params) != 1 {
			return errors.New("make-admin requires EMAIL")
		}
		return c.message(ctx, "/api/admin/make-admin/"+url.PathEscape(params[0]))
	case "leaderboard":
		return c.leaderboard(ctx)
	case "audit":
		limit := ""
		if len(params) == 1 {
			limit = params[0]
		}
		return c.audit(ctx, limit)
	case "completion":
		if len(params) != 1 {
			return errors.New("completion requires a shell")
		}
		return cli.GenerateCompletion(stdout, params[0])
	default:
		return fmt.Errorf("unknown command %q\n%s", cmd, usage)
	}
}

type commands struct {
	client *httputil.Client
	out    *cli.Printer
	stdout io.Writer
}

func (c *commands) login(ctx context.Context, email, password string) error {
	resp, err := c.client.Post(ctx, "/api/auth/login", map[string]string{"email": email, "password": password})
	if err != nil {
		return err
	}
	var body struct {
		AccessToken string `json:"access_token"`
	}
	if err := httputil.DecodeResponse(resp, &body); err != nil {
		return describe(err)
	}
	fmt.Fprintln(c.stdout, body.AccessToken)
	return nil
}

func (c *commands) pendingPayments(ctx context.Context) error {
	resp, err := c.client.Get(ctx, "/api/admin/payments")
	if err != nil {
		return err
	}
	var body struct {
		Payments []struct {
			ID       string          `json:"id"`
			Username string          `json:"username"`
			ItemID   string          `json:"item_id"`
			Amount   decimal.Decimal `json:"amount_usdt"`
			TxHash   string          `json:"tx_hash"`
		} `json:"payments"`
	}
	if err := httputil.DecodeResponse(resp, &body); err != nil {
		return describe(err)
	}
	if len(body.Payments) == 0 {
		c.out.Info("no pending payments")
		return nil
	}
	rows := make([][]string, 0, len(body.Payments))
	for _, p := range body.Payments {
		rows = append(rows, []string{p.ID, p.Username, p.ItemID, p.Amount.String(), p.TxHash})
	}
	c.out.Table([]string{"ID", "USER", "ITEM", "AMOUNT", "TX"}, rows)
	return nil
}

func (c *commands) decidePayment(ctx context.Context, approve bool, id string) error {
	path := "/api/admin/reject-payment/" + url.PathEscape(id)
	if approve {
		path = "/api/admin/approve-payment/" + url.PathEscape(id)
	}
	return c.message(ctx, path)
}

func (c *commands) pendingWithdrawals(ctx context.Context) error {
	resp, err := c.client.Get(ctx, "/api/admin/withdrawals")
	if err != nil {
		return err
	}
	var body struct {
		Withdrawals []struct {
			ID       string          `json:"id"`
			Username string          `json:"username"`
			Coins    int64           `json:"coins_amount"`
			Amount   decimal.Decimal `json:"usdt_amount"`
			Address  string          `json:"wallet_address"`
		} `json:"withdrawals"`
	}
	if err := httputil.DecodeResponse(resp, &body); err != nil {
		return describe(err)
	}
	if len(body.Withdrawals) == 0 {
		c.out.Info("no pending withdrawals")
		return nil
	}
	rows := make([][]string, 0, len(body.Withdrawals))
	for _, w := range body.Withdrawals {
		rows = append(rows, []string{w.ID, w.Username, strconv.FormatInt(w.Coins, 10), w.Amount.String(), w.Address})
	}
	c.out.Table([]string{"ID", "USER", "COINS", "AMOUNT", "ADDRESS"}, rows)
	return nil
}

func (c *commands) processWithdrawal(ctx context.Context, id string, approve bool) error {
	path := fmt.Sprintf("/api/admin/process-withdrawal/%s?approve=%t", url.PathEscape(id), approve)
	return c.message(ctx, path)
}

func (c *commands) leaderboard(ctx context.Context) error {
	resp, err := c.client.Get(ctx, "/api/leaderboard")
	if err != nil {
		return err
	}
	var body struct {
		Leaderboard []struct {
			Rank        int    `json:"rank"`
			Username    string `json:"username"`
			TotalEarned int64  `json:"total_earned"`
		} `json:"leaderboard"`
	}
	if err := httputil.DecodeResponse(resp, &body); err != nil {
		return describe(err)
	}
	rows := make([][]string, 0, len(body.Leaderboard))
	for _, e := range body.Leaderboard {
		rows = append(rows, []string{strconv.Itoa(e.Rank), e.Username, strconv.FormatInt(e.TotalEarned, 10)})
	}
	c.out.Table([]string{"RANK", "USER", "EARNED"}, rows)
	return nil
}

func (c *commands) audit(ctx context.Context, limit string) error {
	path := "/api/admin/audit"
	if limit != "" {
		path += "?limit=" + url.QueryEscape(limit)
	}
	resp, err := c.client.Get(ctx, path)
	if err != nil {
		return err
	}
	var body struct {
		Entries []struct {
			Time    time.Time `json:"time"`
			ActorID string    `json:"actor_id"`
			Method  string    `json:"method"`
			Path    string    `json:"path"`
			Status  int       `json:"status"`
		} `json:"entries"`
	}
	if err := httputil.DecodeResponse(resp, &body); err != nil {
		return describe(err)
	}
	rows := make([][]string, 0, len(body.Entries))
	for _, e := range body.Entries {
		rows = append(rows, []string{e.Time.Format(time.RFC3339), e.ActorID, e.Method, e.Path, strconv.Itoa(e.Status)})
	}
	c.out.Table([]string{"TIME", "ACTOR", "METHOD", "PATH", "STATUS"}, rows)
	return nil
}

func (c *commands) message(ctx context.Context, path string) error {
	resp, err := c.client.Post(ctx, path, nil)
	if err != nil {
		return err
	}
	var body struct {
		Message string `json:"message"`
	}
	if err := httputil.DecodeResponse(resp, &body); err != nil {
		return describe(err)
	}
	c.out.Success(body.Message)
	return nil
}

func describe(err error) error {
	if svcErr := apperr.GetServiceError(err); svcErr != nil {
		return fmt.Errorf("%s: %s", svcErr.Code, svcErr.Message)
	}
	return err
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
