// Package payments handles externally paid shop claims and their admin
// approval.
package payments

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/R3E-Network/cosmicminer/internal/app/domain/account"
	"github.com/R3E-Network/cosmicminer/internal/app/domain/catalog"
	"github.com/R3E-Network/cosmicminer/internal/app/domain/payment"
	"github.com/R3E-Network/cosmicminer/internal/app/metrics"
	"github.com/R3E-Network/cosmicminer/internal/app/services/boosts"
	"github.com/R3E-Network/cosmicminer/internal/app/storage"
	apperr "github.com/R3E-Network/cosmicminer/internal/errors"
	"github.com/R3E-Network/cosmicminer/pkg/logger"
)

const (
	kind         = "payment"
	maxListed    = 100
	maxTxRefSize = 256
)

// Authorizer gates admin-only operations.
type Authorizer interface {
	RequireAdmin(ctx context.Context, accountID string) (account.Account, error)
}

// Submission is a player's claim to have paid for an item.
type Submission struct {
	TxReference string
	Amount      decimal.Decimal
	ItemID      string
}

// Decision is the outcome of an approval.
type Decision struct {
	Request payment.Request
	Item    catalog.Item
}

// Service manages payment claims.
type Service struct {
	accounts storage.AccountStore
	payments storage.PaymentStore
	catalog  *catalog.Catalog
	admins   Authorizer
	log      *logger.Logger
	now      func() time.Time
}

// New constructs a payment service.
func New(accounts storage.AccountStore, payments storage.PaymentStore, cat *catalog.Catalog, admins Authorizer, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("payments")
	}
	if cat == nil {
		cat = catalog.MustDefault()
	}
	return &Service{
		accounts: accounts,
		payments: payments,
		catalog:  cat,
		admins:   admins,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the time source. Intended for tests.
func (s *Service) WithClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Submit records a pending claim. The account is not touched until an admin
// approves it.
func (s *Service) Submit(ctx context.Context, accountID string, sub Submission) (payment.Request, error) {
	itemID := strings.TrimSpace(sub.ItemID)
	item, ok := s.catalog.Item(itemID)
	if !ok {
		return payment.Request{}, apperr.ItemNotFound(itemID)
	}
	if !item.ExternalPriced() {
		return payment.Request{}, apperr.NotExternalPriced(itemID)
	}
	txRef := strings.TrimSpace(sub.TxReference)
	if txRef == "" {
		return payment.Request{}, apperr.InvalidArgument("tx_hash is required")
	}
	if len(txRef) > maxTxRefSize {
		return payment.Request{}, apperr.InvalidArgument("tx_hash is too long")
	}
	if sub.Amount.LessThan(*item.PriceExternal) {
		return payment.Request{}, apperr.AmountTooLow(item.PriceExternal.String())
	}

	acct, err := s.accounts.GetAccount(ctx, accountID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return payment.Request{}, apperr.AccountNotFound(accountID)
		}
		return payment.Request{}, apperr.Internal("load account", err)
	}

	created, err := s.payments.CreatePayment(ctx, payment.Request{
		AccountID:   acct.ID,
		Username:    acct.Username,
		TxReference: txRef,
		Amount:      sub.Amount,
		ItemID:      item.ID,
		ItemName:    item.Name,
		Status:      payment.StatusPending,
		CreatedAt:   s.now(),
	})
	if err != nil {
		return payment.Request{}, apperr.Internal("create payment", err)
	}

	s.log.WithField("payment_id", created.ID).
		WithField("account_id", acct.ID).
		WithField("item_id", item.ID).
		WithField("amount", created.Amount.String()).
		Info("payment submitted")
	return created, nil
}

// Approve marks a pending claim approved and grants the item.
func (s *Service) Approve(ctx context.Context, actorID, paymentID string) (Decision, error) {
	if _, err := s.admins.RequireAdmin(ctx, actorID); err != nil {
		return Decision{}, err
	}
	req, err := s.pending(ctx, paymentID)
	if err != nil {
		return Decision{}, err
	}
	item, ok := s.catalog.Item(req.ItemID)
	if !ok {
		return Decision{}, apperr.ItemNotFound(req.ItemID)
	}

	now := s.now()
	approved, err := s.transition(ctx, paymentID, payment.StatusApproved, now)
	if err != nil {
		return Decision{}, err
	}
	metrics.RecordClaimDecision(kind, string(payment.StatusApproved))

	s.grant(ctx, approved, item, now)

	s.log.WithField("payment_id", approved.ID).
		WithField("account_id", approved.AccountID).
		WithField("item_id", item.ID).
		WithField("actor_id", actorID).
		Info("payment approved")
	return Decision{Request: approved, Item: item}, nil
}

// grant applies the item to the paying account. The claim is already
// approved, so a failure is recorded rather than returned.
func (s *Service) grant(ctx context.Context, req payment.Request, item catalog.Item, now time.Time) {
	var mutation storage.Mutation
	switch v := item.Variant.(type) {
	case catalog.Ship:
		mutation = storage.Mutation{AddShip: item.ID, AllowOwned: true}
	case catalog.Boost:
		boost := boosts.New(item.ID, item.Name, v.Multiplier, v.Duration, now)
		mutation = storage.Mutation{PushBoost: &boost}
	case catalog.CoinPackage:
		mutation = storage.Mutation{Coins: v.Credit, TotalEarned: v.Credit}
	}

	if _, err := s.accounts.ApplyMutation(ctx, req.AccountID, mutation); err != nil {
		metrics.RecordConsistencyHazard("payment_grant")
		s.log.WithError(err).
			WithField("payment_id", req.ID).
			WithField("account_id", req.AccountID).
			WithField("item_id", item.ID).
			Error("payment approved but item not granted")
		return
	}
	if _, ok := item.Variant.(catalog.CoinPackage); ok {
		metrics.RecordCredit("coin_package", mutation.Coins)
	}
	metrics.RecordPurchase(item.ID, "external")
}

// Reject marks a pending claim rejected. The account is not touched.
func (s *Service) Reject(ctx context.Context, actorID, paymentID string) (payment.Request, error) {
	if _, err := s.admins.RequireAdmin(ctx, actorID); err != nil {
		return payment.Request{}, err
	}
	if _, err := s.pending(ctx, paymentID); err != nil {
		return payment.Request{}, err
	}
	rejected, err := s.transition(ctx, paymentID, payment.StatusRejected, s.now())
	if err != nil {
		return payment.Request{}, err
	}
	metrics.RecordClaimDecision(kind, string(payment.StatusRejected))
	s.log.WithField("payment_id", rejected.ID).
		WithField("account_id", rejected.AccountID).
		WithField("actor_id", actorID).
		Info("payment rejected")
	return rejected, nil
}

// ListPending returns pending claims, oldest first.
func (s *Service) ListPending(ctx context.Context, actorID string) ([]payment.Request, error) {
	if _, err := s.admins.RequireAdmin(ctx, actorID); err != nil {
		return nil, err
	}
	list, err := s.payments.ListPendingPayments(ctx, maxListed)
	if err != nil {
		return nil, apperr.Internal("list pending payments", err)
	}
	return list, nil
}

// ListMine returns the caller's claims, newest first.
func (s *Service) ListMine(ctx context.Context, accountID string) ([]payment.Request, error) {
	list, err := s.payments.ListPaymentsByAccount(ctx, accountID, maxListed)
	if err != nil {
		return nil, apperr.Internal("list payments", err)
	}
	return list, nil
}

// CountPending reports the number of claims awaiting a decision.
func (s *Service) CountPending(ctx context.Context) (int64, error) {
	return s.payments.CountPendingPayments(ctx)
}

func (s *Service) pending(ctx context.Context, id string) (payment.Request, error) {
	req, err := s.payments.GetPayment(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return payment.Request{}, apperr.RequestNotFound(kind, id)
		}
		return payment.Request{}, apperr.Internal("load payment", err)
	}
	if req.Status != payment.StatusPending {
		return payment.Request{}, apperr.AlreadyProcessed(kind, id, string(req.Status))
	}
	return req, nil
}

func (s *Service) transition(ctx context.Context, id string, status payment.Status, at time.Time) (payment.Request, error) {
	req, err := s.payments.TransitionPayment(ctx, id, status, at)
	switch {
	case err == nil:
		return req, nil
	case errors.Is(err, storage.ErrConflict):
		return payment.Request{}, apperr.AlreadyProcessed(kind, id, string(req.Status))
	case errors.Is(err, storage.ErrNotFound):
		return payment.Request{}, apperr.RequestNotFound(kind, id)
	default:
		return payment.Request{}, apperr.Internal("transition payment", err)
	}
}
