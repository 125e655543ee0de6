package storage

import (
	"context"
	"errors"
	"time"

	"github.com/R3E-Network/cosmicminer/internal/app/domain/account"
	"github.com/R3E-Network/cosmicminer/internal/app/domain/payment"
	"github.com/R3E-Network/cosmicminer/internal/app/domain/withdrawal"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("storage: not found")
	// ErrDuplicate is returned when a unique key is already taken.
	ErrDuplicate = errors.New("storage: duplicate key")
	// ErrConflict is returned when a compare-and-set finds an unexpected state.
	ErrConflict = errors.New("storage: conflict")
)

// AccountStore persists player accounts. Every mutation of an existing
// account goes through ApplyMutation, which is atomic per account.
type AccountStore interface {
	CreateAccount(ctx context.Context, acct account.Account) (account.Account, error)
	GetAccount(ctx context.Context, id string) (account.Account, error)
	GetAccountByEmail(ctx context.Context, email string) (account.Account, error)
	GetAccountByUsername(ctx context.Context, username string) (account.Account, error)
	GetAccountByReferralCode(ctx context.Context, code string) (account.Account, error)
	ApplyMutation(ctx context.Context, id string, m Mutation) (account.Account, error)
	ListReferredBy(ctx context.Context, inviterID string, limit int) ([]account.Account, error)
	// TopByEarnings orders by total_earned descending, ties by id ascending.
	TopByEarnings(ctx context.Context, limit int) ([]account.Account, error)
}

// PaymentStore persists payment claims.
type PaymentStore interface {
	CreatePayment(ctx context.Context, req payment.Request) (payment.Request, error)
	GetPayment(ctx context.Context, id string) (payment.Request, error)
	// TransitionPayment moves a pending request to status. It returns
	// ErrConflict when the request is no longer pending.
	TransitionPayment(ctx context.Context, id string, status payment.Status, at time.Time) (payment.Request, error)
	ListPendingPayments(ctx context.Context, limit int) ([]payment.Request, error)
	ListPaymentsByAccount(ctx context.Context, accountID string, limit int) ([]payment.Request, error)
	CountPendingPayments(ctx context.Context) (int64, error)
}

// WithdrawalStore persists withdrawal requests.
type WithdrawalStore interface {
	CreateWithdrawal(ctx context.Context, req withdrawal.Request) (withdrawal.Request, error)
	GetWithdrawal(ctx context.Context, id string) (withdrawal.Request, error)
	// TransitionWithdrawal moves a pending request to status. It returns
	// ErrConflict when the request is no longer pending.
	TransitionWithdrawal(ctx context.Context, id string, status withdrawal.Status, at time.Time) (withdrawal.Request, error)
	ListPendingWithdrawals(ctx context.Context, limit int) ([]withdrawal.Request, error)
	ListWithdrawalsByAccount(ctx context.Context, accountID string, limit int) ([]withdrawal.Request, error)
	CountPendingWithdrawals(ctx context.Context) (int64, error)
}

// Store bundles every persistence interface. Each backend implements it.
type Store interface {
	AccountStore
	PaymentStore
	WithdrawalStore
}
