// Package ledger applies coin-changing gameplay and shop operations to
// accounts.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/R3E-Network/cosmicminer/internal/app/domain/account"
	"github.com/R3E-Network/cosmicminer/internal/app/domain/catalog"
	"github.com/R3E-Network/cosmicminer/internal/app/metrics"
	"github.com/R3E-Network/cosmicminer/internal/app/services/boosts"
	"github.com/R3E-Network/cosmicminer/internal/app/storage"
	apperr "github.com/R3E-Network/cosmicminer/internal/errors"
	"github.com/R3E-Network/cosmicminer/pkg/logger"
)

// floorEpsilon absorbs float error in products such as 100 * 2.0 * 1.5.
const floorEpsilon = 1e-9

// MaxSessionCredit caps the coins one play session can credit. It is the
// largest integer a float64 holds exactly.
const MaxSessionCredit int64 = 1 << 53

// GameResult is the outcome of one play session.
type GameResult struct {
	CoinsEarned int64   `json:"coins_earned"`
	BaseCoins   int64   `json:"base_coins"`
	Multiplier  float64 `json:"multiplier"`
	TotalCoins  int64   `json:"total_coins"`
	TotalEarned int64   `json:"total_earned"`
}

// Purchase is the outcome of a coin purchase.
type Purchase struct {
	Item    catalog.Item `json:"item"`
	Balance int64        `json:"coins"`
}

// ShipData describes the caller's active ship and current multipliers.
type ShipData struct {
	ShipID          string          `json:"ship_id"`
	ShipName        string          `json:"ship_name"`
	BaseMultiplier  float64         `json:"base_multiplier"`
	BoostMultiplier float64         `json:"boost_multiplier"`
	TotalMultiplier float64         `json:"total_multiplier"`
	SpeedBonus      float64         `json:"speed_bonus"`
	Image           string          `json:"image"`
	ActiveBoosts    []account.Boost `json:"active_boosts"`
}

// Service owns coin credits and debits driven by the player.
type Service struct {
	accounts storage.AccountStore
	catalog  *catalog.Catalog
	log      *logger.Logger
	now      func() time.Time
}

// New constructs a ledger service.
func New(accounts storage.AccountStore, cat *catalog.Catalog, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("ledger")
	}
	if cat == nil {
		cat = catalog.MustDefault()
	}
	return &Service{
		accounts: accounts,
		catalog:  cat,
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

// ApplyGameplayResult credits the coins earned in one session, scaled by the
// active ship and the boosts valid now. Expired boosts are pruned in the same
// write. distance and crystals are informational.
func (s *Service) ApplyGameplayResult(ctx context.Context, accountID string, rawCoins, distance, crystals int64) (GameResult, error) {
	if rawCoins < 0 {
		return GameResult{}, apperr.InvalidArgument("coins_earned must not be negative")
	}
	acct, err := s.getAccount(ctx, accountID)
	if err != nil {
		return GameResult{}, err
	}

	now := s.now()
	ship := s.catalog.Ship(acct.ActiveShip)
	eval := boosts.Evaluate(acct.Boosts, now)
	multiplier := ship.Multiplier * eval.Multiplier
	final := sessionCredit(rawCoins, multiplier)

	updated, err := s.accounts.ApplyMutation(ctx, accountID, storage.Mutation{
		Coins:         final,
		TotalEarned:   final,
		PruneBoostsAt: &now,
	})
	if err != nil {
		if errors.Is(err, storage.ErrCounterOverflow) {
			return GameResult{}, apperr.InvalidArgument("coins_earned would overflow the balance")
		}
		return GameResult{}, translate(err, accountID)
	}
	metrics.RecordCredit("gameplay", final)

	s.log.WithField("account_id", accountID).
		WithField("base_coins", rawCoins).
		WithField("coins_earned", final).
		WithField("multiplier", multiplier).
		WithField("distance", distance).
		WithField("crystals", crystals).
		WithField("boosts_pruned", len(eval.Expired)).
		Debug("gameplay result applied")

	return GameResult{
		CoinsEarned: final,
		BaseCoins:   rawCoins,
		Multiplier:  multiplier,
		TotalCoins:  updated.Coins,
		TotalEarned: updated.TotalEarned,
	}, nil
}

// PurchaseWithCoins buys a coin-priced item. Ships join the inventory without
// being activated; boosts start immediately.
func (s *Service) PurchaseWithCoins(ctx context.Context, accountID, itemID string) (Purchase, error) {
	itemID = strings.TrimSpace(itemID)
	item, ok := s.catalog.Item(itemID)
	if !ok {
		return Purchase{}, apperr.ItemNotFound(itemID)
	}
	if !item.CoinPriced() {
		return Purchase{}, apperr.NotCoinPriced(itemID)
	}
	price := *item.PriceCoins

	acct, err := s.getAccount(ctx, accountID)
	if err != nil {
		return Purchase{}, err
	}
	if acct.Coins < price {
		return Purchase{}, apperr.InsufficientBalance(acct.Coins, price)
	}

	mutation := storage.Mutation{Coins: -price}
	switch v := item.Variant.(type) {
	case catalog.Ship:
		if acct.Owns(item.ID) {
			return Purchase{}, apperr.AlreadyOwned(item.ID)
		}
		mutation.AddShip = item.ID
	case catalog.Boost:
		boost := boosts.New(item.ID, item.Name, v.Multiplier, v.Duration, s.now())
		mutation.PushBoost = &boost
	default:
		return Purchase{}, apperr.NotCoinPriced(itemID)
	}

	updated, err := s.accounts.ApplyMutation(ctx, accountID, mutation)
	if err != nil {
		// The store guard catches purchases that raced past the checks above.
		switch {
		case errors.Is(err, storage.ErrInsufficientCoins):
			return Purchase{}, apperr.InsufficientBalance(acct.Coins, price)
		case errors.Is(err, storage.ErrShipOwned):
			return Purchase{}, apperr.AlreadyOwned(item.ID)
		}
		return Purchase{}, translate(err, accountID)
	}
	metrics.RecordDebit("purchase", price)
	metrics.RecordPurchase(item.ID, "coins")

	s.log.WithField("account_id", accountID).
		WithField("item_id", item.ID).
		WithField("price", price).
		WithField("balance", updated.Coins).
		Info("item purchased with coins")

	return Purchase{Item: item, Balance: updated.Coins}, nil
}

// SelectShip makes an owned ship the active one.
func (s *Service) SelectShip(ctx context.Context, accountID, shipID string) (account.Account, error) {
	shipID = strings.TrimSpace(shipID)
	acct, err := s.getAccount(ctx, accountID)
	if err != nil {
		return account.Account{}, err
	}
	if shipID == "" || !acct.Owns(shipID) {
		return account.Account{}, apperr.NotOwned(shipID)
	}
	updated, err := s.accounts.ApplyMutation(ctx, accountID, storage.Mutation{ActiveShip: shipID})
	if err != nil {
		if errors.Is(err, storage.ErrShipNotOwned) {
			return account.Account{}, apperr.NotOwned(shipID)
		}
		return account.Account{}, translate(err, accountID)
	}
	s.log.WithField("account_id", accountID).WithField("ship_id", shipID).Info("active ship selected")
	return updated, nil
}

// ShipData reports the multipliers that would apply to a session started now.
// Expired boosts are filtered from the result but not removed from storage.
func (s *Service) ShipData(ctx context.Context, accountID string) (ShipData, error) {
	acct, err := s.getAccount(ctx, accountID)
	if err != nil {
		return ShipData{}, err
	}
	ship := s.catalog.Ship(acct.ActiveShip)
	eval := boosts.Evaluate(acct.Boosts, s.now())
	active := eval.Valid
	if active == nil {
		active = []account.Boost{}
	}
	return ShipData{
		ShipID:          ship.ID,
		ShipName:        ship.Name,
		BaseMultiplier:  ship.Multiplier,
		BoostMultiplier: eval.Multiplier,
		TotalMultiplier: ship.Multiplier * eval.Multiplier,
		SpeedBonus:      ship.Speed,
		Image:           ship.Image,
		ActiveBoosts:    active,
	}, nil
}

// Catalog exposes the catalog the service prices against.
func (s *Service) Catalog() *catalog.Catalog {
	return s.catalog
}

func (s *Service) getAccount(ctx context.Context, id string) (account.Account, error) {
	acct, err := s.accounts.GetAccount(ctx, id)
	if err != nil {
		return account.Account{}, translate(err, id)
	}
	return acct, nil
}

func sessionCredit(rawCoins int64, multiplier float64) int64 {
	product := math.Floor(float64(rawCoins)*multiplier + floorEpsilon)
	if product >= float64(MaxSessionCredit) || math.IsNaN(product) {
		return MaxSessionCredit
	}
	if product < 0 {
		return 0
	}
	return int64(product)
}

func translate(err error, accountID string) error {
	if errors.Is(err, storage.ErrNotFound) {
		return apperr.AccountNotFound(accountID)
	}
	if apperr.GetServiceError(err) != nil {
		return err
	}
	return apperr.Internal("ledger update failed", fmt.Errorf("account %s: %w", accountID, err))
}
