// Package testutil provides shared fixtures and fakes for service tests.
package testutil

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/R3E-Network/cosmicminer/internal/app/domain/account"
	"github.com/R3E-Network/cosmicminer/internal/app/storage"
	apperr "github.com/R3E-Network/cosmicminer/internal/errors"
)

// StoreAdmins authorizes callers by the admin flag persisted in the store.
type StoreAdmins struct {
	Store storage.AccountStore
}

// RequireAdmin returns Forbidden unless the account exists and is an admin.
func (a StoreAdmins) RequireAdmin(ctx context.Context, id string) (account.Account, error) {
	acct, err := a.Store.GetAccount(ctx, id)
	if err != nil || !acct.IsAdmin {
		return account.Account{}, apperr.Forbidden("admin privileges required")
	}
	return acct, nil
}

// AccountOption customises a seeded account.
type AccountOption func(*account.Account)

// WithCoins sets both the balance and lifetime earnings.
func WithCoins(coins int64) AccountOption {
	return func(a *account.Account) {
		a.Coins = coins
		a.TotalEarned = coins
	}
}

// WithTotalEarned sets lifetime earnings without touching the balance.
func WithTotalEarned(total int64) AccountOption {
	return func(a *account.Account) { a.TotalEarned = total }
}

// AsAdmin marks the account as an admin.
func AsAdmin() AccountOption {
	return func(a *account.Account) { a.IsAdmin = true }
}

// WithShips adds ships to the inventory.
func WithShips(ships ...string) AccountOption {
	return func(a *account.Account) { a.OwnedShips = append(a.OwnedShips, ships...) }
}

// CreateAccount stores a minimal valid account named after username and
// fails the test on error.
func CreateAccount(t testing.TB, store storage.AccountStore, username string, opts ...AccountOption) account.Account {
	t.Helper()
	acct := account.Account{
		Email:        username + "@example.com",
		Username:     username,
		ReferralCode: referralCode(username),
		OwnedShips:   []string{account.BasicShip},
		ActiveShip:   account.BasicShip,
	}
	for _, opt := range opts {
		opt(&acct)
	}
	created, err := store.CreateAccount(context.Background(), acct)
	if err != nil {
		t.Fatalf("create account %s: %v", username, err)
	}
	return created
}

func referralCode(username string) string {
	code := strings.ToUpper(username)
	if len(code) >= 8 {
		return code[:8]
	}
	return code + strings.Repeat("X", 8-len(code))
}

// Clock is a settable time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock starts the clock at t.
func NewClock(t time.Time) *Clock {
	return &Clock{now: t}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
