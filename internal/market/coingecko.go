package market

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/atharvakonge/crypto-portfolio-tracker/internal/models"
)

// CoinGeckoConfig configures the CoinGecko client
type CoinGeckoConfig struct {
	BaseURL  string
	APIKey   string
	Currency string
	PerPage  int
	Timeout  time.Duration
	RPS      float64
}

// CoinGecko fetches market data from the CoinGecko v3 API
type CoinGecko struct {
	baseURL  string
	apiKey   string
	currency string
	perPage  int
	http     *http.Client
	limiter  *rate.Limiter
	now      func() time.Time
}

// NewCoinGecko creates a client. Requests are rate limited client side and
// bounded by cfg.Timeout so no call hangs.
func NewCoinGecko(cfg CoinGeckoConfig) *CoinGecko {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.PerPage <= 0 {
		cfg.PerPage = 100
	}
	if cfg.Currency == "" {
		cfg.Currency = "usd"
	}
	limit := rate.Inf
	if cfg.RPS > 0 {
		limit = rate.Limit(cfg.RPS)
	}
	return &CoinGecko{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:   cfg.APIKey,
		currency: strings.ToLower(cfg.Currency),
		perPage:  cfg.PerPage,
		http:     &http.Client{Timeout: cfg.Timeout},
		limiter:  rate.NewLimiter(limit, 1),
		now:      time.Now,
	}
}

type marketEntry struct {
	ID           string              `json:"id"`
	Symbol       string              `json:"symbol"`
	Name         string              `json:"name"`
	Image        string              `json:"image"`
	CurrentPrice decimal.NullDecimal `json:"current_price"`
	MarketCap    decimal.NullDecimal `json:"market_cap"`
	Rank         *int                `json:"market_cap_rank"`
	Change24h    decimal.NullDecimal `json:"price_change_percentage_24h"`
	LastUpdated  *time.Time          `json:"last_updated"`
}

// FetchMarketSnapshot returns the top coins by market cap.
// Entries without a price are skipped.
func (c *CoinGecko) FetchMarketSnapshot(ctx context.Context) ([]models.Coin, error) {
	q := url.Values{}
	q.Set("vs_currency", c.currency)
	q.Set("order", "market_cap_desc")
	q.Set("per_page", strconv.Itoa(c.perPage))
	q.Set("page", "1")
	q.Set("sparkline", "false")

	var entries []marketEntry
	if err := c.get(ctx, "/coins/markets", q, &entries); err != nil {
		return nil, err
	}

	fetched := c.now().UTC()
	coins := make([]models.Coin, 0, len(entries))
	for _, e := range entries {
		if e.ID == "" || !e.CurrentPrice.Valid || !e.CurrentPrice.Decimal.IsPositive() {
			continue
		}
		coin := models.Coin{
			ID:          e.ID,
			Name:        e.Name,
			Symbol:      strings.ToUpper(e.Symbol),
			Price:       e.CurrentPrice.Decimal,
			MarketCap:   e.MarketCap.Decimal,
			Change24h:   e.Change24h.Decimal,
			ImageURL:    e.Image,
			LastUpdated: fetched,
		}
		if e.Rank != nil {
			coin.Rank = *e.Rank
		}
		if e.LastUpdated != nil {
			coin.LastUpdated = e.LastUpdated.UTC()
		}
		coins = append(coins, coin)
	}
	return coins, nil
}

type rangeResponse struct {
	Prices [][2]decimal.Decimal `json:"prices"`
}

// FetchHistoricalSeries returns price samples for coinID between from and to
func (c *CoinGecko) FetchHistoricalSeries(ctx context.Context, coinID string, from, to time.Time) ([]models.PricePoint, error) {
	if coinID == "" {
		return nil, fmt.Errorf("empty coin id: %w", ErrNotFound)
	}
	q := url.Values{}
	q.Set("vs_currency", c.currency)
	q.Set("from", strconv.FormatInt(from.Unix(), 10))
	q.Set("to", strconv.FormatInt(to.Unix(), 10))

	var resp rangeResponse
	if err := c.get(ctx, "/coins/"+url.PathEscape(coinID)+"/market_chart/range", q, &resp); err != nil {
		return nil, err
	}

	points := make([]models.PricePoint, 0, len(resp.Prices))
	for _, p := range resp.Prices {
		points = append(points, models.PricePoint{
			Timestamp: time.UnixMilli(p[0].IntPart()).UTC(),
			Price:     p[1],
		})
	}
	return points, nil
}

func (c *CoinGecko) get(ctx context.Context, path string, q url.Values, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %v: %w", err, ErrTransient)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-cg-demo-api-key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return classifyTransport(path, err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(path, resp); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("GET %s: decode: %w", path, err)
	}
	return nil
}

// A failed round trip (dial, TLS, timeout, cancellation) is always transient.
func classifyTransport(path string, err error) error {
	return fmt.Errorf("GET %s: %v: %w", path, err, ErrTransient)
}

func classifyStatus(path string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	msg := strings.TrimSpace(string(body))

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("GET %s: %s: %w", path, resp.Status, ErrNotFound)
	case resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode >= 500:
		return fmt.Errorf("GET %s: %s %s: %w", path, resp.Status, msg, ErrTransient)
	default:
		return fmt.Errorf("GET %s: %s %s", path, resp.Status, msg)
	}
}

var _ Source = (*CoinGecko)(nil)
