package pricecache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atharvakonge/crypto-portfolio-tracker/internal/db"
	"github.com/atharvakonge/crypto-portfolio-tracker/internal/market"
	"github.com/atharvakonge/crypto-portfolio-tracker/internal/models"
	"github.com/atharvakonge/crypto-portfolio-tracker/internal/store"
)

type fakeSource struct {
	mu     sync.Mutex
	coins  []models.Coin
	err    error
	calls  atomic.Int32
	block  chan struct{}
	series []models.PricePoint
}

func (f *fakeSource) set(coins []models.Coin, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.coins, f.err = coins, err
}

func (f *fakeSource) FetchMarketSnapshot(ctx context.Context) ([]models.Coin, error) {
	f.calls.Add(1)
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, fmt.Errorf("%v: %w", ctx.Err(), market.ErrTransient)
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Coin(nil), f.coins...), f.err
}

func (f *fakeSource) FetchHistoricalSeries(ctx context.Context, coinID string, from, to time.Time) ([]models.PricePoint, error) {
	if coinID != "bitcoin" {
		return nil, fmt.Errorf("coin %s: %w", coinID, market.ErrNotFound)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.series, f.err
}

type memCoinStore struct {
	mu      sync.Mutex
	coins   []models.Coin
	loadErr error
	saveErr error
	saves   int
}

func (m *memCoinStore) LoadCoins(ctx context.Context) ([]models.Coin, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Coin(nil), m.coins...), m.loadErr
}

func (m *memCoinStore) ReplaceCoins(ctx context.Context, coins []models.Coin) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	if m.saveErr != nil {
		return m.saveErr
	}
	m.coins = append([]models.Coin(nil), coins...)
	return nil
}

func coin(id string, price string, rank int) models.Coin {
	return models.Coin{ID: id, Name: id, Symbol: id, Price: decimal.RequireFromString(price), Rank: rank}
}

var transient = fmt.Errorf("dial tcp: %w", market.ErrTransient)

func TestGetAll_LoadsFromStoreFirst(t *testing.T) {
	src := &fakeSource{}
	st := &memCoinStore{coins: []models.Coin{coin("ethereum", "3000", 2), coin("bitcoin", "65000", 1)}}
	c := New(src, st)

	coins, err := c.GetAll(context.Background())
	require.NoError(t, err)
	require.Len(t, coins, 2)
	assert.Equal(t, "bitcoin", coins[0].ID)
	assert.Equal(t, int32(0), src.calls.Load(), "network not touched when the store has data")
	assert.False(t, c.Snapshot().Live)
}

func TestGetAll_FallsBackToNetwork(t *testing.T) {
	src := &fakeSource{coins: []models.Coin{coin("bitcoin", "65000", 1)}}
	st := &memCoinStore{}
	c := New(src, st)

	coins, err := c.GetAll(context.Background())
	require.NoError(t, err)
	require.Len(t, coins, 1)
	assert.True(t, c.Snapshot().Live)
	assert.Len(t, st.coins, 1, "network result is persisted")
}

func TestGetAll_StoreErrorFallsBackToNetwork(t *testing.T) {
	src := &fakeSource{coins: []models.Coin{coin("bitcoin", "65000", 1)}}
	c := New(src, &memCoinStore{loadErr: errors.New("disk gone")})

	coins, err := c.GetAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, coins, 1)
}

func TestGetAll_NothingAnywhere(t *testing.T) {
	src := &fakeSource{err: transient}
	c := New(src, &memCoinStore{})

	_, err := c.GetAll(context.Background())
	assert.ErrorIs(t, err, models.ErrNoCachedData)
	assert.NotErrorIs(t, err, models.ErrNetworkFailure)

	// a later call retries the load
	src.set([]models.Coin{coin("bitcoin", "1", 1)}, nil)
	coins, err := c.GetAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, coins, 1)
}

func TestGetAll_ConcurrentFirstCallersShareOneLoad(t *testing.T) {
	src := &fakeSource{coins: []models.Coin{coin("bitcoin", "65000", 1)}, block: make(chan struct{})}
	c := New(src, &memCoinStore{})

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			coins, err := c.GetAll(context.Background())
			if err == nil && len(coins) != 1 {
				err = fmt.Errorf("got %d coins", len(coins))
			}
			errs <- err
		}()
	}

	// let the callers pile up behind the blocked fetch
	require.Eventually(t, func() bool { return src.calls.Load() == 1 }, time.Second, time.Millisecond)
	close(src.block)
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int32(1), src.calls.Load())
}

func TestGetAll_CallerContextCancelled(t *testing.T) {
	src := &fakeSource{coins: []models.Coin{coin("bitcoin", "65000", 1)}, block: make(chan struct{})}
	c := New(src, &memCoinStore{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.GetAll(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	close(src.block)
}

func TestRefresh_CallerCancelDoesNotFailOthers(t *testing.T) {
	src := &fakeSource{coins: []models.Coin{coin("bitcoin", "65000", 1)}, block: make(chan struct{})}
	c := New(src, &memCoinStore{})

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() { errA <- c.Refresh(ctxA) }()
	require.Eventually(t, func() bool { return src.calls.Load() == 1 }, time.Second, time.Millisecond)

	errB := make(chan error, 1)
	go func() { errB <- c.Refresh(context.Background()) }()
	time.Sleep(20 * time.Millisecond)

	cancelA()
	assert.ErrorIs(t, <-errA, context.Canceled)

	close(src.block)
	require.NoError(t, <-errB)
	require.NotNil(t, c.Snapshot())
	assert.True(t, c.Snapshot().Live)
}

func TestRefresh_TimeoutBoundsSharedFetch(t *testing.T) {
	src := &fakeSource{coins: []models.Coin{coin("bitcoin", "65000", 1)}, block: make(chan struct{})}
	defer close(src.block)
	c := New(src, &memCoinStore{}, WithRefreshTimeout(20*time.Millisecond))

	err := c.Refresh(context.Background())
	assert.ErrorIs(t, err, models.ErrNoCachedData)
	assert.ErrorIs(t, err, market.ErrTransient)
}

// racingStore runs during while a load is reading, after the stored rows were read
type racingStore struct {
	*memCoinStore
	during func()
}

func (r *racingStore) LoadCoins(ctx context.Context) ([]models.Coin, error) {
	coins, err := r.memCoinStore.LoadCoins(ctx)
	if r.during != nil {
		r.during()
	}
	return coins, err
}

func TestGetAll_RestoreNeverOverwritesNewerRefresh(t *testing.T) {
	src := &fakeSource{coins: []models.Coin{coin("bitcoin", "66000", 1)}}
	st := &racingStore{memCoinStore: &memCoinStore{coins: []models.Coin{coin("bitcoin", "50000", 1)}}}
	c := New(src, st)
	st.during = func() { assert.NoError(t, c.Refresh(context.Background())) }

	_, err := c.GetAll(context.Background())
	require.NoError(t, err)

	snap := c.Snapshot()
	assert.True(t, snap.Live, "restored snapshot must not replace live prices")
	btc, ok := snap.Coin("bitcoin")
	require.True(t, ok)
	assert.True(t, btc.Price.Equal(decimal.NewFromInt(66000)))
}

func TestRefresh_FailureKeepsPriorSnapshot(t *testing.T) {
	src := &fakeSource{coins: []models.Coin{coin("bitcoin", "65000", 1), coin("ethereum", "3000", 2)}}
	c := New(src, &memCoinStore{})
	require.NoError(t, c.Refresh(context.Background()))
	before := c.Snapshot()

	src.set(nil, transient)
	err := c.Refresh(context.Background())
	assert.ErrorIs(t, err, models.ErrNetworkFailure)
	assert.ErrorIs(t, err, market.ErrTransient)
	assert.NotErrorIs(t, err, models.ErrNoCachedData)

	assert.Same(t, before, c.Snapshot())
	coins, err := c.GetAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, coins, 2)
	btc, ok := c.GetByID("bitcoin")
	require.True(t, ok)
	assert.True(t, btc.Price.Equal(decimal.NewFromInt(65000)))
}

func TestRefresh_EmptyResultIsFailure(t *testing.T) {
	src := &fakeSource{}
	c := New(src, &memCoinStore{})
	assert.ErrorIs(t, c.Refresh(context.Background()), models.ErrNoCachedData)
}

func TestRefresh_ReplacesWholeMap(t *testing.T) {
	src := &fakeSource{coins: []models.Coin{coin("bitcoin", "65000", 1), coin("ethereum", "3000", 2)}}
	st := &memCoinStore{}
	c := New(src, st)
	require.NoError(t, c.Refresh(context.Background()))

	src.set([]models.Coin{coin("bitcoin", "66000", 1)}, nil)
	require.NoError(t, c.Refresh(context.Background()))

	_, ok := c.GetByID("ethereum")
	assert.False(t, ok, "coins missing from the new snapshot disappear")
	btc, _ := c.GetByID("bitcoin")
	assert.True(t, btc.Price.Equal(decimal.NewFromInt(66000)))
	assert.Len(t, st.coins, 1)
}

func TestRefresh_PersistFailureStillUpdatesMemory(t *testing.T) {
	src := &fakeSource{coins: []models.Coin{coin("bitcoin", "65000", 1)}}
	c := New(src, &memCoinStore{saveErr: errors.New("read-only fs")})

	require.NoError(t, c.Refresh(context.Background()))
	_, ok := c.GetByID("bitcoin")
	assert.True(t, ok)
}

func TestSubscribe_ReceivesWholeSnapshots(t *testing.T) {
	src := &fakeSource{coins: []models.Coin{coin("bitcoin", "65000", 1), coin("ethereum", "3000", 2)}}
	c := New(src, &memCoinStore{})

	var got []*Snapshot
	cancel := c.Subscribe(func(s *Snapshot) { got = append(got, s) })
	defer cancel()

	require.NoError(t, c.Refresh(context.Background()))
	src.set(nil, transient)
	_ = c.Refresh(context.Background())

	require.Len(t, got, 1, "failed refresh publishes nothing")
	assert.Equal(t, 2, got[0].Len())
}

func TestConcurrentReadsDuringRefresh(t *testing.T) {
	src := &fakeSource{}
	c := New(src, &memCoinStore{})

	// every snapshot holds coins whose prices all equal the generation number
	gen := func(n int) []models.Coin {
		p := fmt.Sprint(n)
		return []models.Coin{coin("a", p, 1), coin("b", p, 2), coin("c", p, 3)}
	}
	src.set(gen(1), nil)
	require.NoError(t, c.Refresh(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 2; i < 200; i++ {
			src.set(gen(i), nil)
			_ = c.Refresh(ctx)
		}
		cancel()
	}()

	for ctx.Err() == nil {
		coins := c.Snapshot().Coins()
		require.Len(t, coins, 3)
		for _, cn := range coins[1:] {
			require.True(t, cn.Price.Equal(coins[0].Price), "torn snapshot")
		}
	}
	wg.Wait()
}

func TestHistory(t *testing.T) {
	series := []models.PricePoint{{Timestamp: time.Unix(0, 0), Price: decimal.NewFromInt(1)}}
	src := &fakeSource{series: series}
	c := New(src, &memCoinStore{})

	got, err := c.History(context.Background(), "bitcoin", time.Unix(0, 0), time.Unix(3600, 0))
	require.NoError(t, err)
	assert.Equal(t, series, got)

	_, err = c.History(context.Background(), "nope", time.Unix(0, 0), time.Unix(3600, 0))
	assert.ErrorIs(t, err, models.ErrNotFound)

	src.set(nil, transient)
	_, err = c.History(context.Background(), "bitcoin", time.Unix(0, 0), time.Unix(3600, 0))
	assert.ErrorIs(t, err, models.ErrNetworkFailure)
}

func TestCache_WithSQLStoreSurvivesRestart(t *testing.T) {
	path := t.TempDir() + "/coins.db"
	src := &fakeSource{coins: []models.Coin{coin("bitcoin", "65000.12", 1)}}

	first := New(src, store.NewSQLStore(db.OpenTestDBAt(t, path)))
	require.NoError(t, first.Refresh(context.Background()))

	// new process, network down
	down := &fakeSource{err: transient}
	second := New(down, store.NewSQLStore(db.OpenTestDBAt(t, path)))
	coins, err := second.GetAll(context.Background())
	require.NoError(t, err)
	require.Len(t, coins, 1)
	assert.True(t, coins[0].Price.Equal(decimal.RequireFromString("65000.12")))
	assert.False(t, second.Snapshot().Live)
	assert.Equal(t, int32(0), down.calls.Load())
}

func TestSnapshot_MarshalJSON(t *testing.T) {
	var empty *Snapshot
	b, err := json.Marshal(empty)
	require.NoError(t, err)
	assert.Equal(t, "null", string(b))

	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	snap := newSnapshot([]models.Coin{coin("ethereum", "10", 2), coin("bitcoin", "100", 1)}, at, true)
	b, err = json.Marshal(snap)
	require.NoError(t, err)

	var out struct {
		Coins    []struct{ ID string `json:"id"` } `json:"coins"`
		LoadedAt time.Time                         `json:"loaded_at"`
		Live     bool                              `json:"live"`
	}
	require.NoError(t, json.Unmarshal(b, &out))
	require.Len(t, out.Coins, 2)
	assert.Equal(t, "bitcoin", out.Coins[0].ID, "rank order")
	assert.True(t, out.LoadedAt.Equal(at))
	assert.True(t, out.Live)
}
