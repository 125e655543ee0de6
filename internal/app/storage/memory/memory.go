package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/R3E-Network/cosmicminer/internal/app/domain/account"
	"github.com/R3E-Network/cosmicminer/internal/app/domain/payment"
	"github.com/R3E-Network/cosmicminer/internal/app/domain/withdrawal"
	"github.com/R3E-Network/cosmicminer/internal/app/storage"
)

// Store is an in-memory implementation of the storage interfaces. It is safe
// for concurrent use and is primarily intended for tests and local development.
type Store struct {
	mu          sync.RWMutex
	nextID      int64
	accounts    map[string]account.Account
	payments    map[string]payment.Request
	withdrawals map[string]withdrawal.Request
	now         func() time.Time
}

var _ storage.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		nextID:      1,
		accounts:    make(map[string]account.Account),
		payments:    make(map[string]payment.Request),
		withdrawals: make(map[string]withdrawal.Request),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) nextIDLocked() string {
	id := s.nextID
	s.nextID++
	return fmt.Sprintf("%d", id)
}

// AccountStore implementation -------------------------------------------------

func (s *Store) CreateAccount(_ context.Context, acct account.Account) (account.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if acct.ID == "" {
		acct.ID = s.nextIDLocked()
	} else if _, exists := s.accounts[acct.ID]; exists {
		return account.Account{}, storage.ErrDuplicate
	}
	for _, existing := range s.accounts {
		if existing.Email == acct.Email || existing.Username == acct.Username || existing.ReferralCode == acct.ReferralCode {
			return account.Account{}, storage.ErrDuplicate
		}
	}

	now := s.now()
	acct.CreatedAt = now
	acct.UpdatedAt = now
	acct = acct.Clone()

	s.accounts[acct.ID] = acct
	return acct.Clone(), nil
}

func (s *Store) GetAccount(_ context.Context, id string) (account.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acct, ok := s.accounts[id]
	if !ok {
		return account.Account{}, storage.ErrNotFound
	}
	return acct.Clone(), nil
}

func (s *Store) GetAccountByEmail(_ context.Context, email string) (account.Account, error) {
	return s.findAccount(func(a account.Account) bool { return a.Email == email })
}

func (s *Store) GetAccountByUsername(_ context.Context, username string) (account.Account, error) {
	return s.findAccount(func(a account.Account) bool { return a.Username == username })
}

func (s *Store) GetAccountByReferralCode(_ context.Context, code string) (account.Account, error) {
	return s.findAccount(func(a account.Account) bool { return a.ReferralCode == code })
}

func (s *Store) findAccount(match func(account.Account) bool) (account.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, acct := range s.accounts {
		if match(acct) {
			return acct.Clone(), nil
		}
	}
	return account.Account{}, storage.ErrNotFound
}

func (s *Store) ApplyMutation(_ context.Context, id string, m storage.Mutation) (account.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.accounts[id]
	if !ok {
		return account.Account{}, storage.ErrNotFound
	}
	acct := existing.Clone()
	if err := storage.Apply(&acct, m, s.now()); err != nil {
		return account.Account{}, err
	}
	s.accounts[id] = acct
	return acct.Clone(), nil
}

func (s *Store) ListReferredBy(_ context.Context, inviterID string, limit int) ([]account.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []account.Account
	for _, acct := range s.accounts {
		if acct.ReferredBy == inviterID {
			out = append(out, acct.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return truncate(out, limit), nil
}

func (s *Store) TopByEarnings(_ context.Context, limit int) ([]account.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]account.Account, 0, len(s.accounts))
	for _, acct := range s.accounts {
		out = append(out, acct.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalEarned == out[j].TotalEarned {
			return out[i].ID < out[j].ID
		}
		return out[i].TotalEarned > out[j].TotalEarned
	})
	return truncate(out, limit), nil
}

// PaymentStore implementation -------------------------------------------------

func (s *Store) CreatePayment(_ context.Context, req payment.Request) (payment.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if req.ID == "" {
		req.ID = s.nextIDLocked()
	} else if _, exists := s.payments[req.ID]; exists {
		return payment.Request{}, storage.ErrDuplicate
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = s.now()
	}
	s.payments[req.ID] = req
	return req, nil
}

func (s *Store) GetPayment(_ context.Context, id string) (payment.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	req, ok := s.payments[id]
	if !ok {
		return payment.Request{}, storage.ErrNotFound
	}
	return req, nil
}

func (s *Store) TransitionPayment(_ context.Context, id string, status payment.Status, at time.Time) (payment.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.payments[id]
	if !ok {
		return payment.Request{}, storage.ErrNotFound
	}
	if req.Status != payment.StatusPending {
		return req, storage.ErrConflict
	}
	req.Status = status
	req.ProcessedAt = &at
	s.payments[id] = req
	return req, nil
}

func (s *Store) ListPendingPayments(_ context.Context, limit int) ([]payment.Request, error) {
	return s.listPayments(func(r payment.Request) bool { return r.Status == payment.StatusPending }, false, limit), nil
}

func (s *Store) ListPaymentsByAccount(_ context.Context, accountID string, limit int) ([]payment.Request, error) {
	return s.listPayments(func(r payment.Request) bool { return r.AccountID == accountID }, true, limit), nil
}

func (s *Store) CountPendingPayments(_ context.Context) (int64, error) {
	return int64(len(s.listPayments(func(r payment.Request) bool { return r.Status == payment.StatusPending }, false, 0))), nil
}

func (s *Store) listPayments(match func(payment.Request) bool, newestFirst bool, limit int) []payment.Request {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []payment.Request
	for _, req := range s.payments {
		if match(req) {
			out = append(out, req)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return ordered(out[i].CreatedAt, out[j].CreatedAt, out[i].ID, out[j].ID, newestFirst)
	})
	return truncate(out, limit)
}

// WithdrawalStore implementation ----------------------------------------------

func (s *Store) CreateWithdrawal(_ context.Context, req withdrawal.Request) (withdrawal.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if req.ID == "" {
		req.ID = s.nextIDLocked()
	} else if _, exists := s.withdrawals[req.ID]; exists {
		return withdrawal.Request{}, storage.ErrDuplicate
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = s.now()
	}
	s.withdrawals[req.ID] = req
	return req, nil
}

func (s *Store) GetWithdrawal(_ context.Context, id string) (withdrawal.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	req, ok := s.withdrawals[id]
	if !ok {
		return withdrawal.Request{}, storage.ErrNotFound
	}
	return req, nil
}

func (s *Store) TransitionWithdrawal(_ context.Context, id string, status withdrawal.Status, at time.Time) (withdrawal.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.withdrawals[id]
	if !ok {
		return withdrawal.Request{}, storage.ErrNotFound
	}
	if req.Status != withdrawal.StatusPending {
		return req, storage.ErrConflict
	}
	req.Status = status
	req.ProcessedAt = &at
	s.withdrawals[id] = req
	return req, nil
}

func (s *Store) ListPendingWithdrawals(_ context.Context, limit int) ([]withdrawal.Request, error) {
	return s.listWithdrawals(func(r withdrawal.Request) bool { return r.Status == withdrawal.StatusPending }, false, limit), nil
}

func (s *Store) ListWithdrawalsByAccount(_ context.Context, accountID string, limit int) ([]withdrawal.Request, error) {
	return s.listWithdrawals(func(r withdrawal.Request) bool { return r.AccountID == accountID }, true, limit), nil
}

func (s *Store) CountPendingWithdrawals(_ context.Context) (int64, error) {
	return int64(len(s.listWithdrawals(func(r withdrawal.Request) bool { return r.Status == withdrawal.StatusPending }, false, 0))), nil
}

func (s *Store) listWithdrawals(match func(withdrawal.Request) bool, newestFirst bool, limit int) []withdrawal.Request {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []withdrawal.Request
	for _, req := range s.withdrawals {
		if match(req) {
			out = append(out, req)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return ordered(out[i].CreatedAt, out[j].CreatedAt, out[i].ID, out[j].ID, newestFirst)
	})
	return truncate(out, limit)
}

// helpers ---------------------------------------------------------------------

func ordered(a, b time.Time, idA, idB string, newestFirst bool) bool {
	if a.Equal(b) {
		return idA < idB
	}
	if newestFirst {
		return a.After(b)
	}
	return a.Before(b)
}

func truncate[T any](items []T, limit int) []T {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}
