package ledger

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/R3E-Network/cosmicminer/internal/app/domain/account"
	"github.com/R3E-Network/cosmicminer/internal/app/domain/catalog"
	"github.com/R3E-Network/cosmicminer/internal/app/storage/memory"
	apperr "github.com/R3E-Network/cosmicminer/internal/errors"
	"github.com/R3E-Network/cosmicminer/pkg/logger"
)

var fixedNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

const coinBoostCatalog = `
ships:
  - {id: basic, name: Basic, multiplier: 1.0, image: "b"}
items:
  - id: boost_coin_2x
    name: Coin Boost
    price_coins: 300
    boost: {multiplier: 2.0, duration: 30m}
`

func useCoinBoostCatalog(t *testing.T, svc *Service) {
	t.Helper()
	cat, err := catalog.Parse([]byte(coinBoostCatalog))
	if err != nil {
		t.Fatalf("parse catalog: %v", err)
	}
	svc.catalog = cat
}

func newTestService(t *testing.T, acct account.Account) (*Service, *memory.Store, string) {
	t.Helper()
	store := memory.New()
	if acct.OwnedShips == nil {
		acct.OwnedShips = []string{account.BasicShip}
	}
	if acct.ActiveShip == "" {
		acct.ActiveShip = account.BasicShip
	}
	if acct.Email == "" {
		acct.Email = "pilot@example.com"
		acct.Username = "pilot"
		acct.ReferralCode = "PILOT001"
	}
	created, err := store.CreateAccount(context.Background(), acct)
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	svc := New(store, nil, logger.Discard())
	svc.WithClock(func() time.Time { return fixedNow })
	return svc, store, created.ID
}

func TestApplyGameplayResultAppliesMultipliersAndPrunes(t *testing.T) {
	svc, store, id := newTestService(t, account.Account{
		OwnedShips: []string{account.BasicShip, "ship_gold"},
		ActiveShip: "ship_gold",
		Boosts: []account.Boost{
			{ID: "boost_1_5x_1h", Name: "1.5x", Multiplier: 1.5, ExpiresAt: fixedNow.Add(time.Hour)},
			{ID: "boost_2x_30m", Name: "2x", Multiplier: 2.0, ExpiresAt: fixedNow.Add(-time.Minute)},
		},
	})

	res, err := svc.ApplyGameplayResult(context.Background(), id, 100, 2500, 7)
	if err != nil {
		t.Fatalf("apply gameplay: %v", err)
	}
	if res.CoinsEarned != 300 || res.BaseCoins != 100 {
		t.Fatalf("expected 300 earned from 100 base, got %+v", res)
	}
	if res.Multiplier != 3.0 {
		t.Fatalf("expected multiplier 3.0, got %v", res.Multiplier)
	}
	if res.TotalCoins != 300 || res.TotalEarned != 300 {
		t.Fatalf("unexpected totals %+v", res)
	}

	acct, _ := store.GetAccount(context.Background(), id)
	if len(acct.Boosts) != 1 || acct.Boosts[0].ID != "boost_1_5x_1h" {
		t.Fatalf("expected expired boost pruned, got %+v", acct.Boosts)
	}
}

func TestApplyGameplayResultBoostExpiringNowIsExcluded(t *testing.T) {
	svc, _, id := newTestService(t, account.Account{
		Boosts: []account.Boost{{ID: "boost_2x_1h", Multiplier: 2, ExpiresAt: fixedNow}},
	})
	res, err := svc.ApplyGameplayResult(context.Background(), id, 10, 0, 0)
	if err != nil {
		t.Fatalf("apply gameplay: %v", err)
	}
	if res.CoinsEarned != 10 {
		t.Fatalf("expected boost at expiry to be ignored, got %d", res.CoinsEarned)
	}
}

func TestApplyGameplayResultFloors(t *testing.T) {
	svc, _, id := newTestService(t, account.Account{
		OwnedShips: []string{account.BasicShip, "ship_silver"},
		ActiveShip: "ship_silver",
	})
	res, err := svc.ApplyGameplayResult(context.Background(), id, 7, 0, 0)
	if err != nil {
		t.Fatalf("apply gameplay: %v", err)
	}
	if res.CoinsEarned != 10 {
		t.Fatalf("expected floor(7*1.5)=10, got %d", res.CoinsEarned)
	}
}

func TestApplyGameplayResultRejectsNegative(t *testing.T) {
	svc, store, id := newTestService(t, account.Account{Coins: 50, TotalEarned: 50})
	_, err := svc.ApplyGameplayResult(context.Background(), id, -10, 0, 0)
	if !errors.Is(err, apperr.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
	acct, _ := store.GetAccount(context.Background(), id)
	if acct.Coins != 50 || acct.TotalEarned != 50 {
		t.Fatalf("account changed: %+v", acct)
	}
}

func TestApplyGameplayResultCapsHugeSessions(t *testing.T) {
	svc, store, id := newTestService(t, account.Account{Coins: 100, TotalEarned: 100})
	ctx := context.Background()
	prevEarned := int64(100)
	for i := 0; i < 2; i++ {
		res, err := svc.ApplyGameplayResult(ctx, id, 1<<62, 0, 0)
		if err != nil {
			t.Fatalf("apply gameplay %d: %v", i, err)
		}
		if res.CoinsEarned != MaxSessionCredit {
			t.Fatalf("expected credit capped at %d, got %d", MaxSessionCredit, res.CoinsEarned)
		}
		if res.TotalCoins < 0 || res.TotalEarned < prevEarned {
			t.Fatalf("counters went backwards: %+v", res)
		}
		prevEarned = res.TotalEarned
	}
	acct, _ := store.GetAccount(ctx, id)
	if acct.Coins != 100+2*MaxSessionCredit {
		t.Fatalf("unexpected balance %d", acct.Coins)
	}
}

func TestApplyGameplayResultRefusesOverflow(t *testing.T) {
	start := int64(math.MaxInt64 - 10)
	svc, store, id := newTestService(t, account.Account{Coins: start, TotalEarned: start})
	_, err := svc.ApplyGameplayResult(context.Background(), id, 100, 0, 0)
	if !errors.Is(err, apperr.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
	acct, _ := store.GetAccount(context.Background(), id)
	if acct.Coins != start || acct.TotalEarned != start {
		t.Fatalf("account changed: %+v", acct)
	}
}

func TestApplyGameplayResultUnknownAccount(t *testing.T) {
	svc, _, _ := newTestService(t, account.Account{})
	if _, err := svc.ApplyGameplayResult(context.Background(), "missing", 1, 0, 0); !errors.Is(err, apperr.ErrAccountNotFound) {
		t.Fatalf("expected account not found, got %v", err)
	}
}

func TestPurchaseShipWithCoins(t *testing.T) {
	svc, store, id := newTestService(t, account.Account{Coins: 1999})

	res, err := svc.PurchaseWithCoins(context.Background(), id, "ship_silver")
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if res.Balance != 1499 {
		t.Fatalf("expected balance 1499, got %d", res.Balance)
	}
	acct, _ := store.GetAccount(context.Background(), id)
	if !acct.Owns("ship_silver") || acct.ActiveShip != account.BasicShip {
		t.Fatalf("ship should be owned but not active: %+v", acct)
	}

	if _, err := svc.PurchaseWithCoins(context.Background(), id, "ship_silver"); !errors.Is(err, apperr.ErrAlreadyOwned) {
		t.Fatalf("expected already owned, got %v", err)
	}
	acct, _ = store.GetAccount(context.Background(), id)
	if acct.Coins != 1499 {
		t.Fatalf("second purchase changed balance: %d", acct.Coins)
	}
}

func TestPurchaseBoostWithCoins(t *testing.T) {
	svc, store, id := newTestService(t, account.Account{Coins: 5000})
	useCoinBoostCatalog(t, svc)

	if _, err := svc.PurchaseWithCoins(context.Background(), id, "boost_coin_2x"); err != nil {
		t.Fatalf("purchase boost: %v", err)
	}
	acct, _ := store.GetAccount(context.Background(), id)
	if len(acct.Boosts) != 1 || !acct.Boosts[0].ExpiresAt.Equal(fixedNow.Add(30*time.Minute)) {
		t.Fatalf("expected active boost, got %+v", acct.Boosts)
	}
}

func TestPurchaseWithCoinsFailures(t *testing.T) {
	svc, _, id := newTestService(t, account.Account{Coins: 100})
	cases := []struct {
		item string
		want error
	}{
		{"no_such_item", apperr.ErrItemNotFound},
		{"ship_phoenix", apperr.ErrNotCoinPriced},
		{"coins_1000", apperr.ErrNotCoinPriced},
		{"ship_silver", apperr.ErrInsufficientBalance},
	}
	for _, tc := range cases {
		if _, err := svc.PurchaseWithCoins(context.Background(), id, tc.item); !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.item, tc.want, err)
		}
	}
}

func TestConcurrentPurchasesNeverOverdraw(t *testing.T) {
	svc, store, id := newTestService(t, account.Account{Coins: 1200})

	// Boosts can be bought repeatedly, so only the balance guard limits them.
	useCoinBoostCatalog(t, svc)
	item, _ := svc.Catalog().Item("boost_coin_2x")
	price := *item.PriceCoins

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.PurchaseWithCoins(context.Background(), id, item.ID); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			} else if !errors.Is(err, apperr.ErrInsufficientBalance) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	acct, _ := store.GetAccount(context.Background(), id)
	if acct.Coins < 0 {
		t.Fatalf("balance went negative: %d", acct.Coins)
	}
	if int64(succeeded) != 1200/price || acct.Coins != 1200-int64(succeeded)*price {
		t.Fatalf("succeeded=%d coins=%d price=%d", succeeded, acct.Coins, price)
	}
}

func TestSelectShip(t *testing.T) {
	svc, _, id := newTestService(t, account.Account{OwnedShips: []string{account.BasicShip, "ship_gold"}})

	if _, err := svc.SelectShip(context.Background(), id, "ship_diamond"); !errors.Is(err, apperr.ErrNotOwned) {
		t.Fatalf("expected not owned, got %v", err)
	}
	acct, err := svc.SelectShip(context.Background(), id, "ship_gold")
	if err != nil {
		t.Fatalf("select ship: %v", err)
	}
	if acct.ActiveShip != "ship_gold" {
		t.Fatalf("expected ship_gold active, got %s", acct.ActiveShip)
	}
}

func TestShipDataDoesNotPersistPruning(t *testing.T) {
	svc, store, id := newTestService(t, account.Account{
		OwnedShips: []string{account.BasicShip, "ship_diamond"},
		ActiveShip: "ship_diamond",
		Boosts: []account.Boost{
			{ID: "boost_2x_1h", Multiplier: 2, ExpiresAt: fixedNow.Add(time.Hour)},
			{ID: "boost_3x_1h", Multiplier: 3, ExpiresAt: fixedNow.Add(-time.Hour)},
		},
	})
	data, err := svc.ShipData(context.Background(), id)
	if err != nil {
		t.Fatalf("ship data: %v", err)
	}
	if data.ShipID != "ship_diamond" || data.BaseMultiplier != 3.0 || data.BoostMultiplier != 2.0 || data.TotalMultiplier != 6.0 {
		t.Fatalf("unexpected ship data %+v", data)
	}
	if len(data.ActiveBoosts) != 1 {
		t.Fatalf("expected one active boost, got %d", len(data.ActiveBoosts))
	}
	acct, _ := store.GetAccount(context.Background(), id)
	if len(acct.Boosts) != 2 {
		t.Fatalf("read-only query pruned storage: %+v", acct.Boosts)
	}
}
