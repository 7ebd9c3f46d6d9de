package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"

	"github.com/atharvakonge/crypto-portfolio-tracker/internal/models"
)

// RedisCoinStore keeps the coin snapshot in a single hash: field = coin id, value = JSON
type RedisCoinStore struct {
	rdb *redis.Client
	key string
}

// NewRedisCoinStore stores coins under prefix + ":coins"
func NewRedisCoinStore(rdb *redis.Client, prefix string) *RedisCoinStore {
	return &RedisCoinStore{rdb: rdb, key: prefix + ":coins"}
}

func (r *RedisCoinStore) LoadCoins(ctx context.Context) ([]models.Coin, error) {
	fields, err := r.rdb.HGetAll(ctx, r.key).Result()
	if err != nil {
		return nil, fmt.Errorf("hgetall %s: %w", r.key, err)
	}

	coins := make([]models.Coin, 0, len(fields))
	for id, raw := range fields {
		var c models.Coin
		if err := json.Unmarshal([]byte(raw), &c); err != nil {
			return nil, fmt.Errorf("decode coin %s: %w", id, err)
		}
		coins = append(coins, c)
	}
	sort.Slice(coins, func(i, j int) bool {
		if coins[i].Rank != coins[j].Rank {
			return coins[i].Rank < coins[j].Rank
		}
		return coins[i].ID < coins[j].ID
	})
	return coins, nil
}

// ReplaceCoins swaps the hash inside MULTI/EXEC so readers see either set, never a mix
func (r *RedisCoinStore) ReplaceCoins(ctx context.Context, coins []models.Coin) error {
	values := make([]any, 0, len(coins)*2)
	for _, c := range coins {
		b, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("encode coin %s: %w", c.ID, err)
		}
		values = append(values, c.ID, string(b))
	}

	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.key)
		if len(values) > 0 {
			pipe.HSet(ctx, r.key, values...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("replace %s: %w", r.key, err)
	}
	return nil
}

var _ CoinStore = (*RedisCoinStore)(nil)
