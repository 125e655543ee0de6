package mongo

import (
	"context"
	"errors"
	"math"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/R3E-Network/cosmicminer/internal/app/domain/account"
	"github.com/R3E-Network/cosmicminer/internal/app/domain/payment"
	"github.com/R3E-Network/cosmicminer/internal/app/storage"
)

func TestBuildUpdatePurchaseGuards(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	filter, update, err := buildUpdate("acct-1", storage.Mutation{Coins: -500, AddShip: "ship_silver"}, now)
	require.NoError(t, err)

	assert.Equal(t, bson.M{
		"_id":         "acct-1",
		"coins":       bson.M{"$gte": int64(500)},
		"owned_ships": bson.M{"$ne": "ship_silver"},
	}, filter)
	assert.Equal(t, bson.M{"coins": int64(-500)}, update["$inc"])
	assert.Equal(t, bson.M{"owned_ships": "ship_silver"}, update["$addToSet"])
	assert.Equal(t, bson.M{"updated_at": now}, update["$set"])
	assert.NotContains(t, update, "$push")
}

func TestBuildUpdateGameplayPrunes(t *testing.T) {
	now := time.Now().UTC()
	_, update, err := buildUpdate("acct-1", storage.Mutation{Coins: 300, TotalEarned: 300, PruneBoostsAt: &now}, now)
	require.NoError(t, err)

	assert.Equal(t, bson.M{"coins": int64(300), "total_earned": int64(300)}, update["$inc"])
	assert.Equal(t, bson.M{"active_boosts": bson.M{"expires_at": bson.M{"$lte": now}}}, update["$pull"])
}

func TestBuildUpdateCreditsGuardOverflow(t *testing.T) {
	filter, _, err := buildUpdate("acct-1", storage.Mutation{Coins: 300, TotalEarned: 300}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, bson.M{"$lte": int64(math.MaxInt64 - 300)}, filter["coins"])
	assert.Equal(t, bson.M{"$lte": int64(math.MaxInt64 - 300)}, filter["total_earned"])
	assert.NotContains(t, filter, "referral_count")
}

func TestToAccountEmptyBoosts(t *testing.T) {
	acct := accountDoc{ID: "acct-1"}.toAccount()
	require.NotNil(t, acct.Boosts)
	assert.Empty(t, acct.Boosts)
}

func TestBuildUpdateSelectShipRequiresOwnership(t *testing.T) {
	filter, update, err := buildUpdate("acct-1", storage.Mutation{ActiveShip: "ship_gold"}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, "ship_gold", filter["owned_ships"])
	assert.Equal(t, "ship_gold", update["$set"].(bson.M)["active_ship"])
	assert.NotContains(t, update, "$inc")
}

func TestBuildUpdateAllowOwnedHasNoShipGuard(t *testing.T) {
	expires := time.Now().Add(time.Hour)
	filter, update, err := buildUpdate("acct-1", storage.Mutation{
		AddShip:    "ship_phoenix",
		AllowOwned: true,
		PushBoost:  &account.Boost{ID: "boost_2x_1h", Multiplier: 2, ExpiresAt: expires},
	}, time.Now())
	require.NoError(t, err)
	assert.NotContains(t, filter, "owned_ships")
	assert.Contains(t, update, "$push")
}

func TestBuildUpdateRejectsInvalidMutation(t *testing.T) {
	now := time.Now()
	_, _, err := buildUpdate("acct-1", storage.Mutation{PushBoost: &account.Boost{}, PruneBoostsAt: &now}, now)
	assert.ErrorIs(t, err, storage.ErrInvalidMutation)
}

func TestStoreIntegration(t *testing.T) {
	uri := os.Getenv("TEST_MONGO_URL")
	if uri == "" {
		t.Skip("TEST_MONGO_URL not set; skipping mongo integration test")
	}
	ctx := context.Background()
	store, err := Connect(ctx, uri, "cosmic_miner_test_"+uuid.NewString()[:8])
	require.NoError(t, err)
	defer func() {
		_ = store.accounts.Database().Drop(ctx)
		_ = store.Close(ctx)
	}()

	acct, err := store.CreateAccount(ctx, account.Account{
		Email:        "m@example.com",
		Username:     "m",
		Coins:        600,
		OwnedShips:   []string{account.BasicShip},
		ActiveShip:   account.BasicShip,
		ReferralCode: "MONGO001",
	})
	require.NoError(t, err)

	updated, err := store.ApplyMutation(ctx, acct.ID, storage.Mutation{Coins: -500, AddShip: "ship_silver"})
	require.NoError(t, err)
	assert.Equal(t, int64(100), updated.Coins)

	_, err = store.ApplyMutation(ctx, acct.ID, storage.Mutation{Coins: -500, AddShip: "ship_gold"})
	assert.True(t, errors.Is(err, storage.ErrInsufficientCoins), "got %v", err)
	_, err = store.ApplyMutation(ctx, acct.ID, storage.Mutation{AddShip: "ship_silver"})
	assert.ErrorIs(t, err, storage.ErrShipOwned)

	req, err := store.CreatePayment(ctx, payment.Request{
		AccountID: acct.ID,
		Amount:    decimal.RequireFromString("5.5"),
		ItemID:    "ship_diamond",
		Status:    payment.StatusPending,
	})
	require.NoError(t, err)
	got, err := store.TransitionPayment(ctx, req.ID, payment.StatusApproved, time.Now())
	require.NoError(t, err)
	assert.Equal(t, "5.5", got.Amount.String())
	_, err = store.TransitionPayment(ctx, req.ID, payment.StatusRejected, time.Now())
	assert.ErrorIs(t, err, storage.ErrConflict)
}
