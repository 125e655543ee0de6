package payments

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/R3E-Network/cosmicminer/internal/app/domain/account"
	"github.com/R3E-Network/cosmicminer/internal/app/domain/payment"
	"github.com/R3E-Network/cosmicminer/internal/app/metrics"
	"github.com/R3E-Network/cosmicminer/internal/app/storage/memory"
	apperr "github.com/R3E-Network/cosmicminer/internal/errors"
	"github.com/R3E-Network/cosmicminer/pkg/logger"
	"github.com/R3E-Network/cosmicminer/pkg/testutil"
)

var fixedNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	svc     *Service
	store   *memory.Store
	userID  string
	adminID string
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	store := memory.New()
	user := testutil.CreateAccount(t, store, "u", testutil.WithCoins(10))
	admin := testutil.CreateAccount(t, store, "a", testutil.AsAdmin())
	svc := New(store, store, nil, testutil.StoreAdmins{Store: store}, logger.Discard())
	svc.WithClock(func() time.Time { return fixedNow })
	return fixture{svc: svc, store: store, userID: user.ID, adminID: admin.ID}
}

func (f fixture) submit(t *testing.T, itemID, amount string) payment.Request {
	t.Helper()
	req, err := f.svc.Submit(context.Background(), f.userID, Submission{
		TxReference: "0xabc",
		Amount:      decimal.RequireFromString(amount),
		ItemID:      itemID,
	})
	if err != nil {
		t.Fatalf("submit %s: %v", itemID, err)
	}
	return req
}

func TestSubmitValidation(t *testing.T) {
	f := newFixture(t)
	cases := []struct {
		name string
		sub  Submission
		want error
	}{
		{"unknown item", Submission{TxReference: "x", Amount: decimal.NewFromInt(100), ItemID: "nope"}, apperr.ErrItemNotFound},
		{"coin priced", Submission{TxReference: "x", Amount: decimal.NewFromInt(100), ItemID: "ship_silver"}, apperr.ErrNotExternalPriced},
		{"missing tx", Submission{Amount: decimal.NewFromInt(100), ItemID: "ship_diamond"}, apperr.ErrInvalidArgument},
		{"too low", Submission{TxReference: "x", Amount: decimal.RequireFromString("4.99"), ItemID: "ship_diamond"}, apperr.ErrAmountTooLow},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := f.svc.Submit(context.Background(), f.userID, tc.sub); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestSubmitLeavesAccountUntouched(t *testing.T) {
	f := newFixture(t)
	req := f.submit(t, "ship_diamond", "5.0")
	if req.Status != payment.StatusPending || req.Username != "u" || req.ItemName == "" {
		t.Fatalf("unexpected request %+v", req)
	}
	acct, _ := f.store.GetAccount(context.Background(), f.userID)
	if acct.Coins != 10 || acct.Owns("ship_diamond") {
		t.Fatalf("account changed on submit: %+v", acct)
	}
	mine, err := f.svc.ListMine(context.Background(), f.userID)
	if err != nil || len(mine) != 1 {
		t.Fatalf("expected one payment in history, got %d (%v)", len(mine), err)
	}
}

func TestApproveShip(t *testing.T) {
	f := newFixture(t)
	req := f.submit(t, "ship_diamond", "5.0")

	dec, err := f.svc.Approve(context.Background(), f.adminID, req.ID)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if dec.Request.Status != payment.StatusApproved || dec.Request.ProcessedAt == nil {
		t.Fatalf("unexpected decision %+v", dec.Request)
	}
	acct, _ := f.store.GetAccount(context.Background(), f.userID)
	if !acct.Owns("ship_diamond") || acct.ActiveShip != account.BasicShip {
		t.Fatalf("ship not granted: %+v", acct)
	}

	if _, err := f.svc.Approve(context.Background(), f.adminID, req.ID); !errors.Is(err, apperr.ErrAlreadyProcessed) {
		t.Fatalf("expected already processed, got %v", err)
	}
	if _, err := f.svc.Reject(context.Background(), f.adminID, req.ID); !errors.Is(err, apperr.ErrAlreadyProcessed) {
		t.Fatalf("expected already processed on reject, got %v", err)
	}
}

func TestApproveShipAlreadyOwnedIsIdempotent(t *testing.T) {
	f := newFixture(t)
	first := f.submit(t, "ship_cosmic", "15")
	second := f.submit(t, "ship_cosmic", "15")
	for _, id := range []string{first.ID, second.ID} {
		if _, err := f.svc.Approve(context.Background(), f.adminID, id); err != nil {
			t.Fatalf("approve %s: %v", id, err)
		}
	}
	acct, _ := f.store.GetAccount(context.Background(), f.userID)
	count := 0
	for _, s := range acct.OwnedShips {
		if s == "ship_cosmic" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected ship owned once, got %v", acct.OwnedShips)
	}
}

func TestApproveBoostAndCoins(t *testing.T) {
	f := newFixture(t)
	boost := f.submit(t, "boost_10x_30m", "5")
	coins := f.submit(t, "coins_5000", "8")

	if _, err := f.svc.Approve(context.Background(), f.adminID, boost.ID); err != nil {
		t.Fatalf("approve boost: %v", err)
	}
	if _, err := f.svc.Approve(context.Background(), f.adminID, coins.ID); err != nil {
		t.Fatalf("approve coins: %v", err)
	}

	acct, _ := f.store.GetAccount(context.Background(), f.userID)
	if len(acct.Boosts) != 1 || acct.Boosts[0].Multiplier != 10 || !acct.Boosts[0].ExpiresAt.Equal(fixedNow.Add(30*time.Minute)) {
		t.Fatalf("unexpected boosts %+v", acct.Boosts)
	}
	if acct.Coins != 10+5500 || acct.TotalEarned != 10+5500 {
		t.Fatalf("expected 5500 credited, got coins=%d earned=%d", acct.Coins, acct.TotalEarned)
	}
}

func creditedCoins(t *testing.T, source string) float64 {
	t.Helper()
	families, err := metrics.Registry.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != "cosmic_miner_ledger_coins_credited_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "source" && l.GetValue() == source {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestCoinPackageCreditMetricOnlyCountsPackages(t *testing.T) {
	f := newFixture(t)
	ship := f.submit(t, "ship_phoenix", "50")
	coins := f.submit(t, "coins_1000", "2")

	before := creditedCoins(t, "coin_package")
	if _, err := f.svc.Approve(context.Background(), f.adminID, ship.ID); err != nil {
		t.Fatalf("approve ship: %v", err)
	}
	if got := creditedCoins(t, "coin_package"); got != before {
		t.Fatalf("ship grant counted as coin package credit: %v -> %v", before, got)
	}
	if _, err := f.svc.Approve(context.Background(), f.adminID, coins.ID); err != nil {
		t.Fatalf("approve coins: %v", err)
	}
	if got := creditedCoins(t, "coin_package"); got != before+1000 {
		t.Fatalf("expected +1000 coin package credit, got %v -> %v", before, got)
	}
}

func TestRejectLeavesAccountUntouched(t *testing.T) {
	f := newFixture(t)
	req := f.submit(t, "coins_1000", "2")
	rejected, err := f.svc.Reject(context.Background(), f.adminID, req.ID)
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if rejected.Status != payment.StatusRejected {
		t.Fatalf("expected rejected, got %s", rejected.Status)
	}
	acct, _ := f.store.GetAccount(context.Background(), f.userID)
	if acct.Coins != 10 {
		t.Fatalf("reject changed coins: %d", acct.Coins)
	}
}

func TestAdminGate(t *testing.T) {
	f := newFixture(t)
	req := f.submit(t, "coins_1000", "2")
	ctx := context.Background()

	if _, err := f.svc.Approve(ctx, f.userID, req.ID); !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("approve: expected forbidden, got %v", err)
	}
	if _, err := f.svc.Reject(ctx, f.userID, req.ID); !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("reject: expected forbidden, got %v", err)
	}
	if _, err := f.svc.ListPending(ctx, f.userID); !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("list: expected forbidden, got %v", err)
	}
	if _, err := f.svc.Approve(ctx, f.adminID, "missing"); !errors.Is(err, apperr.ErrRequestNotFound) {
		t.Fatalf("expected request not found, got %v", err)
	}

	pending, err := f.svc.ListPending(ctx, f.adminID)
	if err != nil || len(pending) != 1 {
		t.Fatalf("expected one pending payment, got %d (%v)", len(pending), err)
	}
	n, err := f.svc.CountPending(ctx)
	if err != nil || n != 1 {
		t.Fatalf("expected count 1, got %d (%v)", n, err)
	}
}
