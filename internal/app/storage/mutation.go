package storage

import (
	"errors"
	"math"
	"time"

	"github.com/R3E-Network/cosmicminer/internal/app/domain/account"
)

// Guard failures reported by ApplyMutation. Nothing is written when a guard
// fails.
var (
	ErrInsufficientCoins = errors.New("storage: insufficient coins")
	ErrShipOwned         = errors.New("storage: ship already owned")
	ErrShipNotOwned      = errors.New("storage: ship not owned")
	ErrInvalidMutation   = errors.New("storage: invalid mutation")
	ErrCounterOverflow   = errors.New("storage: counter overflow")
)

// Mutation describes a single atomic change to one account. A negative Coins
// delta carries the guard coins >= -Coins.
type Mutation struct {
	Coins         int64
	TotalEarned   int64
	ReferralCount int64

	// AddShip appends a ship to the inventory. Unless AllowOwned is set the
	// mutation fails with ErrShipOwned when the ship is already owned.
	AddShip    string
	AllowOwned bool

	// PushBoost and PruneBoostsAt are mutually exclusive. Pruning removes
	// every boost whose expiry is at or before the given instant.
	PushBoost     *account.Boost
	PruneBoostsAt *time.Time

	// ActiveShip must already be owned.
	ActiveShip string
	Admin      *bool
}

// Validate rejects mutations that would break account invariants regardless
// of the account's state.
func (m Mutation) Validate() error {
	if m.TotalEarned < 0 || m.ReferralCount < 0 {
		return ErrInvalidMutation
	}
	if m.PushBoost != nil && m.PruneBoostsAt != nil {
		return ErrInvalidMutation
	}
	if m.AddShip != "" && m.ActiveShip != "" {
		return ErrInvalidMutation
	}
	return nil
}

// Apply checks the mutation's guards against acct and applies it in place.
// Stores that hold accounts in memory or under a row lock share this logic.
func Apply(acct *account.Account, m Mutation, now time.Time) error {
	if err := m.Validate(); err != nil {
		return err
	}
	if m.Coins < 0 && acct.Coins < -m.Coins {
		return ErrInsufficientCoins
	}
	if overflows(acct.Coins, m.Coins) || overflows(acct.TotalEarned, m.TotalEarned) || overflows(acct.ReferralCount, m.ReferralCount) {
		return ErrCounterOverflow
	}
	if m.AddShip != "" && !m.AllowOwned && acct.Owns(m.AddShip) {
		return ErrShipOwned
	}
	if m.ActiveShip != "" && !acct.Owns(m.ActiveShip) {
		return ErrShipNotOwned
	}

	acct.Coins += m.Coins
	acct.TotalEarned += m.TotalEarned
	acct.ReferralCount += m.ReferralCount
	if m.AddShip != "" && !acct.Owns(m.AddShip) {
		acct.OwnedShips = append(acct.OwnedShips, m.AddShip)
	}
	if m.PruneBoostsAt != nil {
		kept := acct.Boosts[:0:0]
		for _, b := range acct.Boosts {
			if !b.Expired(*m.PruneBoostsAt) {
				kept = append(kept, b)
			}
		}
		acct.Boosts = kept
	}
	if m.PushBoost != nil {
		acct.Boosts = append(acct.Boosts, *m.PushBoost)
	}
	if m.ActiveShip != "" {
		acct.ActiveShip = m.ActiveShip
	}
	if m.Admin != nil {
		acct.IsAdmin = *m.Admin
	}
	acct.UpdatedAt = now
	return nil
}

// MaxBefore is the largest counter value that can absorb delta without
// overflowing int64.
func MaxBefore(delta int64) int64 {
	return math.MaxInt64 - delta
}

func overflows(current, delta int64) bool {
	return delta > 0 && current > MaxBefore(delta)
}
