// Package withdrawals converts coins into external payouts pending admin
// review. Coins are held at submission and refunded on rejection.
package withdrawals

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/R3E-Network/cosmicminer/internal/app/domain/account"
	"github.com/R3E-Network/cosmicminer/internal/app/domain/withdrawal"
	"github.com/R3E-Network/cosmicminer/internal/app/metrics"
	"github.com/R3E-Network/cosmicminer/internal/app/storage"
	apperr "github.com/R3E-Network/cosmicminer/internal/errors"
	"github.com/R3E-Network/cosmicminer/pkg/logger"
)

const (
	kind      = "withdrawal"
	maxListed = 100
)

// Authorizer gates admin-only operations.
type Authorizer interface {
	RequireAdmin(ctx context.Context, accountID string) (account.Account, error)
}

// Policy controls conversion and eligibility.
type Policy struct {
	Threshold int64
	Rate      decimal.Decimal
	Validate  AddressValidator
}

// DefaultPolicy returns the standard withdrawal rules.
func DefaultPolicy() Policy {
	return Policy{
		Threshold: 10000,
		Rate:      decimal.RequireFromString("0.001"),
		Validate:  ValidateTronAddress,
	}
}

// Info describes the caller's withdrawal eligibility.
type Info struct {
	Threshold     int64           `json:"threshold"`
	Rate          decimal.Decimal `json:"usdt_per_coin"`
	CurrentCoins  int64           `json:"current_coins"`
	CanWithdraw   bool            `json:"can_withdraw"`
	PotentialPaid decimal.Decimal `json:"potential_usdt"`
}

// Service manages withdrawal requests.
type Service struct {
	accounts    storage.AccountStore
	withdrawals storage.WithdrawalStore
	admins      Authorizer
	policy      Policy
	log         *logger.Logger
	now         func() time.Time
}

// New constructs a withdrawal service.
func New(accounts storage.AccountStore, withdrawals storage.WithdrawalStore, admins Authorizer, policy Policy, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("withdrawals")
	}
	if policy.Validate == nil {
		policy.Validate = ValidateTronAddress
	}
	return &Service{
		accounts:    accounts,
		withdrawals: withdrawals,
		admins:      admins,
		policy:      policy,
		log:         log,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Convert returns the external amount paid for coins.
func (s *Service) Convert(coins int64) decimal.Decimal {
	return decimal.NewFromInt(coins).Mul(s.policy.Rate)
}

// Submit holds coins and records a pending payout.
func (s *Service) Submit(ctx context.Context, accountID string, coins int64, address string) (withdrawal.Request, error) {
	if coins < s.policy.Threshold {
		return withdrawal.Request{}, apperr.BelowThreshold(s.policy.Threshold, coins)
	}
	address = strings.TrimSpace(address)
	if err := s.policy.Validate(address); err != nil {
		return withdrawal.Request{}, apperr.InvalidAddress(address, err)
	}
	acct, err := s.accounts.GetAccount(ctx, accountID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return withdrawal.Request{}, apperr.AccountNotFound(accountID)
		}
		return withdrawal.Request{}, apperr.Internal("load account", err)
	}
	if acct.Coins < coins {
		return withdrawal.Request{}, apperr.InsufficientBalance(acct.Coins, coins)
	}

	if _, err := s.accounts.ApplyMutation(ctx, accountID, storage.Mutation{Coins: -coins}); err != nil {
		if errors.Is(err, storage.ErrInsufficientCoins) {
			return withdrawal.Request{}, apperr.InsufficientBalance(acct.Coins, coins)
		}
		return withdrawal.Request{}, apperr.Internal("hold coins", err)
	}

	created, err := s.withdrawals.CreateWithdrawal(ctx, withdrawal.Request{
		AccountID:      acct.ID,
		Username:       acct.Username,
		Coins:          coins,
		ExternalAmount: s.Convert(coins),
		Address:        address,
		Status:         withdrawal.StatusPending,
		CreatedAt:      s.now(),
	})
	if err != nil {
		s.refund(ctx, accountID, "", coins)
		return withdrawal.Request{}, apperr.Internal("create withdrawal", err)
	}
	metrics.RecordDebit("withdrawal", coins)

	s.log.WithField("withdrawal_id", created.ID).
		WithField("account_id", accountID).
		WithField("coins", coins).
		WithField("amount", created.ExternalAmount.String()).
		Info("withdrawal submitted")
	return created, nil
}

// Process approves or rejects a pending request. Rejection refunds the held
// coins; approval only updates the record.
func (s *Service) Process(ctx context.Context, actorID, withdrawalID string, approve bool) (withdrawal.Request, error) {
	if _, err := s.admins.RequireAdmin(ctx, actorID); err != nil {
		return withdrawal.Request{}, err
	}
	req, err := s.withdrawals.GetWithdrawal(ctx, withdrawalID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return withdrawal.Request{}, apperr.RequestNotFound(kind, withdrawalID)
		}
		return withdrawal.Request{}, apperr.Internal("load withdrawal", err)
	}
	if req.Status != withdrawal.StatusPending {
		return withdrawal.Request{}, apperr.AlreadyProcessed(kind, withdrawalID, string(req.Status))
	}

	status := withdrawal.StatusRejected
	if approve {
		status = withdrawal.StatusApproved
	}
	processed, err := s.withdrawals.TransitionWithdrawal(ctx, withdrawalID, status, s.now())
	switch {
	case err == nil:
	case errors.Is(err, storage.ErrConflict):
		return withdrawal.Request{}, apperr.AlreadyProcessed(kind, withdrawalID, string(processed.Status))
	case errors.Is(err, storage.ErrNotFound):
		return withdrawal.Request{}, apperr.RequestNotFound(kind, withdrawalID)
	default:
		return withdrawal.Request{}, apperr.Internal("transition withdrawal", err)
	}
	metrics.RecordClaimDecision(kind, string(status))

	if !approve {
		s.refund(ctx, processed.AccountID, processed.ID, processed.Coins)
	}

	s.log.WithField("withdrawal_id", processed.ID).
		WithField("account_id", processed.AccountID).
		WithField("status", processed.Status).
		WithField("actor_id", actorID).
		Info("withdrawal processed")
	return processed, nil
}

// refund returns held coins. total_earned is left alone.
func (s *Service) refund(ctx context.Context, accountID, withdrawalID string, coins int64) {
	if _, err := s.accounts.ApplyMutation(ctx, accountID, storage.Mutation{Coins: coins}); err != nil {
		metrics.RecordConsistencyHazard("withdrawal_refund")
		s.log.WithError(err).
			WithField("withdrawal_id", withdrawalID).
			WithField("account_id", accountID).
			WithField("coins", coins).
			Error("held coins not refunded")
		return
	}
	s.log.WithField("withdrawal_id", withdrawalID).
		WithField("account_id", accountID).
		WithField("coins", coins).
		Info("held coins refunded")
}

// Info reports the caller's eligibility.
func (s *Service) Info(ctx context.Context, accountID string) (Info, error) {
	acct, err := s.accounts.GetAccount(ctx, accountID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Info{}, apperr.AccountNotFound(accountID)
		}
		return Info{}, apperr.Internal("load account", err)
	}
	return Info{
		Threshold:     s.policy.Threshold,
		Rate:          s.policy.Rate,
		CurrentCoins:  acct.Coins,
		CanWithdraw:   acct.Coins >= s.policy.Threshold,
		PotentialPaid: s.Convert(acct.Coins),
	}, nil
}

// ListPending returns pending requests, oldest first.
func (s *Service) ListPending(ctx context.Context, actorID string) ([]withdrawal.Request, error) {
	if _, err := s.admins.RequireAdmin(ctx, actorID); err != nil {
		return nil, err
	}
	list, err := s.withdrawals.ListPendingWithdrawals(ctx, maxListed)
	if err != nil {
		return nil, apperr.Internal("list pending withdrawals", err)
	}
	return list, nil
}

// ListMine returns the caller's requests, newest first.
func (s *Service) ListMine(ctx context.Context, accountID string) ([]withdrawal.Request, error) {
	list, err := s.withdrawals.ListWithdrawalsByAccount(ctx, accountID, maxListed)
	if err != nil {
		return nil, apperr.Internal("list withdrawals", err)
	}
	return list, nil
}

// CountPending reports the number of requests awaiting a decision.
func (s *Service) CountPending(ctx context.Context) (int64, error) {
	return s.withdrawals.CountPendingWithdrawals(ctx)
}
