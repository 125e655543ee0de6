package leaderboard

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/cosmicminer/internal/app/domain/account"
	"github.com/R3E-Network/cosmicminer/internal/app/storage"
	"github.com/R3E-Network/cosmicminer/internal/app/storage/memory"
	"github.com/R3E-Network/cosmicminer/pkg/logger"
	"github.com/R3E-Network/cosmicminer/pkg/testutil"
)

func seed(t *testing.T, store *memory.Store, n int) []string {
	t.Helper()
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		acct := testutil.CreateAccount(t, store, fmt.Sprintf("p%d", i),
			testutil.WithTotalEarned(int64(i*10)),
			testutil.WithShips("ship_gold"))
		ids = append(ids, acct.ID)
	}
	return ids
}

func TestTopOrdersByEarnings(t *testing.T) {
	store := memory.New()
	ids := seed(t, store, 60)
	_, err := store.ApplyMutation(context.Background(), ids[3], storage.Mutation{ActiveShip: "ship_gold"})
	require.NoError(t, err)
	_, err = store.ApplyMutation(context.Background(), ids[3], storage.Mutation{TotalEarned: 10000})
	require.NoError(t, err)

	svc := New(store, nil, nil, 0, 0, logger.Discard())
	top, err := svc.Top(context.Background())
	require.NoError(t, err)

	require.Len(t, top, 50)
	assert.Equal(t, Entry{Rank: 1, Username: "p3", TotalEarned: 10030, ShipImage: "✨"}, top[0])
	assert.Equal(t, "p59", top[1].Username)
	assert.Equal(t, 2, top[1].Rank)
	for i := 1; i < len(top); i++ {
		assert.GreaterOrEqual(t, top[i-1].TotalEarned, top[i].TotalEarned)
	}
}

func TestTopTiesBreakByID(t *testing.T) {
	store := memory.New()
	for _, name := range []string{"first", "second"} {
		_, err := store.CreateAccount(context.Background(), account.Account{
			Email: name + "@example.com", Username: name, ReferralCode: name,
			TotalEarned: 500,
		})
		require.NoError(t, err)
	}
	top, err := New(store, nil, nil, 10, 0, logger.Discard()).Top(context.Background())
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, "first", top[0].Username)
}

func TestTopServesFromCache(t *testing.T) {
	store := memory.New()
	ids := seed(t, store, 3)
	cache := NewMemoryCache()
	svc := New(store, nil, cache, 10, time.Minute, logger.Discard())

	first, err := svc.Top(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "p2", first[0].Username)

	_, err = store.ApplyMutation(context.Background(), ids[0], storage.Mutation{TotalEarned: 1000})
	require.NoError(t, err)

	cached, err := svc.Top(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "p2", cached[0].Username, "expected cached snapshot")

	refreshed, err := svc.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "p0", refreshed[0].Username)
}

func TestMemoryCacheExpires(t *testing.T) {
	cache := NewMemoryCache()
	now := time.Now()
	cache.now = func() time.Time { return now }
	require.NoError(t, cache.Set(context.Background(), []Entry{{Rank: 1}}, time.Second))

	_, ok, _ := cache.Get(context.Background())
	assert.True(t, ok)
	now = now.Add(time.Second)
	_, ok, _ = cache.Get(context.Background())
	assert.False(t, ok)
}

func TestRedisCache(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set; skipping redis integration test")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	ctx := context.Background()
	cache := NewRedisCache(client, "cosmic_miner_test:"+uuid.NewString())
	_, ok, err := cache.Get(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	want := []Entry{{Rank: 1, Username: "p", TotalEarned: 42, ShipImage: "🛸"}}
	require.NoError(t, cache.Set(ctx, want, time.Minute))
	got, ok, err := cache.Get(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, want, got)
}
