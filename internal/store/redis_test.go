package store

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atharvakonge/crypto-portfolio-tracker/internal/models"
)

func setupRedisCoinStore(t *testing.T) (*RedisCoinStore, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewRedisCoinStore(client, "test"), mr
}

func TestRedisCoinStore_Empty(t *testing.T) {
	s, _ := setupRedisCoinStore(t)

	coins, err := s.LoadCoins(context.Background())
	require.NoError(t, err)
	assert.Empty(t, coins)
}

func TestRedisCoinStore_ReplaceCoins(t *testing.T) {
	s, mr := setupRedisCoinStore(t)
	ctx := context.Background()

	require.NoError(t, s.ReplaceCoins(ctx, []models.Coin{
		{ID: "ethereum", Symbol: "eth", Price: d("3000"), Rank: 2, LastUpdated: t0},
		{ID: "bitcoin", Symbol: "btc", Price: d("65000.5"), Rank: 1, LastUpdated: t0},
	}))
	keys, err := mr.HKeys("test:coins")
	require.NoError(t, err)
	assert.Len(t, keys, 2)

	coins, err := s.LoadCoins(ctx)
	require.NoError(t, err)
	require.Len(t, coins, 2)
	assert.Equal(t, "bitcoin", coins[0].ID)
	assert.True(t, coins[0].Price.Equal(d("65000.5")))
	assert.True(t, coins[0].LastUpdated.Equal(t0))

	require.NoError(t, s.ReplaceCoins(ctx, []models.Coin{{ID: "solana", Price: d("150"), Rank: 5}}))
	coins, err = s.LoadCoins(ctx)
	require.NoError(t, err)
	require.Len(t, coins, 1)
	assert.Equal(t, "solana", coins[0].ID)
}

func TestRedisCoinStore_ConnectionError(t *testing.T) {
	s, mr := setupRedisCoinStore(t)
	mr.Close()

	_, err := s.LoadCoins(context.Background())
	assert.Error(t, err)
}
