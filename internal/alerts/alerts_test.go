package alerts

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atharvakonge/crypto-portfolio-tracker/internal/db"
	"github.com/atharvakonge/crypto-portfolio-tracker/internal/models"
	"github.com/atharvakonge/crypto-portfolio-tracker/internal/pricecache"
	"github.com/atharvakonge/crypto-portfolio-tracker/internal/store"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func alert(coinID, threshold string, dir models.Direction) models.Alert {
	return models.Alert{ID: coinID + "-" + string(dir) + "-" + threshold, CoinID: coinID, Threshold: dec(threshold), Direction: dir, Active: true}
}

func priced(id, price string) models.Coin {
	return models.Coin{ID: id, Price: dec(price), LastUpdated: t0}
}

func TestEvaluate_BoundaryIsInclusive(t *testing.T) {
	above := alert("x", "100", models.DirectionAbove)

	got := Evaluate([]models.Coin{priced("x", "100")}, []models.Alert{above})
	require.Len(t, got, 1)
	assert.True(t, got[0].Price.Equal(dec("100")))
	assert.Equal(t, t0, got[0].At)

	got = Evaluate([]models.Coin{priced("x", "99.999999")}, []models.Alert{above})
	assert.Empty(t, got)
}

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name   string
		price  string
		alert  models.Alert
		expect bool
	}{
		{"above crossed", "150", alert("x", "100", models.DirectionAbove), true},
		{"above not reached", "50", alert("x", "100", models.DirectionAbove), false},
		{"below crossed", "50", alert("x", "100", models.DirectionBelow), true},
		{"below at threshold", "100", alert("x", "100", models.DirectionBelow), true},
		{"below not reached", "100.000001", alert("x", "100", models.DirectionBelow), false},
		{"unknown direction", "100", alert("x", "100", "SIDEWAYS"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Evaluate([]models.Coin{priced("x", tt.price)}, []models.Alert{tt.alert})
			assert.Equal(t, tt.expect, len(got) == 1)
		})
	}
}

func TestEvaluate_SkipsInactiveAndMissing(t *testing.T) {
	inactive := alert("x", "1", models.DirectionAbove)
	inactive.Active = false
	missing := alert("gone", "1", models.DirectionAbove)

	got := Evaluate([]models.Coin{priced("x", "100")}, []models.Alert{inactive, missing})
	assert.Empty(t, got)
}

func TestEvaluate_Idempotent(t *testing.T) {
	coins := []models.Coin{priced("x", "100"), priced("y", "5")}
	as := []models.Alert{alert("x", "90", models.DirectionAbove), alert("y", "10", models.DirectionBelow)}

	first := Evaluate(coins, as)
	second := Evaluate(coins, as)
	assert.Equal(t, first, second)
	assert.Len(t, first, 2)
	assert.True(t, as[0].Active, "inputs untouched")
}

type stubSource struct {
	mu    sync.Mutex
	coins []models.Coin
}

func (s *stubSource) set(coins ...models.Coin) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.coins = coins
}

func (s *stubSource) FetchMarketSnapshot(ctx context.Context) ([]models.Coin, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.coins, nil
}

func (s *stubSource) FetchHistoricalSeries(ctx context.Context, coinID string, from, to time.Time) ([]models.PricePoint, error) {
	return nil, errors.New("not supported")
}

func setupService(t *testing.T) (*Service, *pricecache.Cache, *stubSource) {
	t.Helper()
	st := store.NewSQLStore(db.SetupTestDB(t))
	src := &stubSource{}
	cache := pricecache.New(src, st)
	svc := NewService(st, cache, WithClock(func() time.Time { return t0 }))
	return svc, cache, src
}

func TestService_CreateValidates(t *testing.T) {
	svc, _, _ := setupService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, models.AlertRequest{CoinID: " ", Threshold: dec("1"), Direction: models.DirectionAbove})
	assert.ErrorIs(t, err, models.ErrInvalidAlert)
	_, err = svc.Create(ctx, models.AlertRequest{CoinID: "btc", Threshold: dec("1"), Direction: "UP"})
	assert.ErrorIs(t, err, models.ErrInvalidAlert)
	_, err = svc.Create(ctx, models.AlertRequest{CoinID: "btc", Threshold: dec("0"), Direction: models.DirectionBelow})
	assert.ErrorIs(t, err, models.ErrInvalidAlert)

	a, err := svc.Create(ctx, models.AlertRequest{CoinID: "btc", Threshold: dec("70000"), Direction: models.DirectionAbove})
	require.NoError(t, err)
	assert.True(t, a.Active)
	assert.NotEmpty(t, a.ID)

	all, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, a.ID, all[0].ID)
}

func TestService_CheckFiresOnce(t *testing.T) {
	svc, cache, src := setupService(t)
	ctx := context.Background()

	// nothing loaded yet
	got, err := svc.Check(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)

	a, err := svc.Create(ctx, models.AlertRequest{CoinID: "btc", Threshold: dec("100"), Direction: models.DirectionAbove})
	require.NoError(t, err)

	var published []models.Trigger
	cancel := svc.Subscribe(func(tr models.Trigger) { published = append(published, tr) })
	defer cancel()

	src.set(priced("btc", "99"))
	require.NoError(t, cache.Refresh(ctx))
	got, err = svc.Check(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)

	src.set(priced("btc", "100"))
	require.NoError(t, cache.Refresh(ctx))
	got, err = svc.Check(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, a.ID, got[0].Alert.ID)
	assert.False(t, got[0].Alert.Active)
	require.NotNil(t, got[0].Alert.LastTriggeredAt)
	assert.True(t, got[0].Alert.LastTriggeredAt.Equal(t0))

	// price unchanged: already fired
	got, err = svc.Check(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Len(t, published, 1)

	stored, err := svc.List(ctx)
	require.NoError(t, err)
	assert.False(t, stored[0].Active)

	// reactivated: fires again
	re, err := svc.Reactivate(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, re.Active)
	got, err = svc.Check(ctx)
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Len(t, published, 2)
}

func TestService_DeleteAndNotFound(t *testing.T) {
	svc, _, _ := setupService(t)
	ctx := context.Background()

	a, err := svc.Create(ctx, models.AlertRequest{CoinID: "eth", Threshold: dec("2000"), Direction: models.DirectionBelow})
	require.NoError(t, err)
	require.NoError(t, svc.Delete(ctx, a.ID))

	assert.ErrorIs(t, svc.Delete(ctx, a.ID), models.ErrNotFound)
	_, err = svc.Reactivate(ctx, a.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
}
