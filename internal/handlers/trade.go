package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/atharvakonge/crypto-portfolio-tracker/internal/models"
)

// Portfolio is the read side of the ledger plus quoting
type Portfolio interface {
	Quote(ctx context.Context, coinID string) (models.Coin, error)
	Holdings(ctx context.Context) ([]models.HoldingView, error)
	TransactionsFor(ctx context.Context, coinID string) ([]models.Transaction, error)
	AllTransactions(ctx context.Context) ([]models.Transaction, error)
	Balance(ctx context.Context) (models.Balance, error)
	Summary(ctx context.Context) (models.PortfolioSummary, error)
}

// Prices is the market data the API serves
type Prices interface {
	GetAll(ctx context.Context) ([]models.Coin, error)
	GetByID(id string) (models.Coin, bool)
	Refresh(ctx context.Context) error
	History(ctx context.Context, coinID string, from, to time.Time) ([]models.PricePoint, error)
}

// AlertManager manages price alerts
type AlertManager interface {
	Create(ctx context.Context, req models.AlertRequest) (models.Alert, error)
	List(ctx context.Context) ([]models.Alert, error)
	Delete(ctx context.Context, id string) error
	Reactivate(ctx context.Context, id string) (models.Alert, error)
}

// Handler serves the REST API
type Handler struct {
	portfolio Portfolio
	prices    Prices
	alerts    AlertManager
	trades    *TradeProcessor
	log       zerolog.Logger
	now       func() time.Time
}

// NewHandler wires the API to its collaborators
func NewHandler(portfolio Portfolio, prices Prices, alerts AlertManager, trades *TradeProcessor, log zerolog.Logger) *Handler {
	return &Handler{
		portfolio: portfolio,
		prices:    prices,
		alerts:    alerts,
		trades:    trades,
		log:       log,
		now:       time.Now,
	}
}

// BuyCoin handles POST /api/trades/buy
func (h *Handler) BuyCoin(c *gin.Context) {
	h.trade(c, models.TradeBuy)
}

// SellCoin handles POST /api/trades/sell
func (h *Handler) SellCoin(c *gin.Context) {
	h.trade(c, models.TradeSell)
}

func (h *Handler) trade(c *gin.Context, side models.TradeType) {
	var req models.TradeRequest

	// Parse JSON request body
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	price := req.Price
	if price.IsZero() {
		coin, err := h.portfolio.Quote(ctx, req.CoinID)
		if err != nil {
			h.fail(c, err)
			return
		}
		price = coin.Price
	}

	r, err := h.trades.SubmitTrade(ctx, Order{Side: side, CoinID: req.CoinID, Quantity: req.Quantity, Price: price})
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":     "Trade executed successfully",
		"transaction": r.Transaction,
		"holding":     r.Holding,
		"total":       r.Transaction.Total(),
		"fee":         r.Transaction.Fee,
		"new_balance": r.Balance.Amount,
	})
}

// GetTradeHistory handles GET /api/trades
func (h *Handler) GetTradeHistory(c *gin.Context) {
	txs, err := h.portfolio.AllTransactions(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"trades": txs,
		"count":  len(txs),
	})
}

// GetCoinTradeHistory handles GET /api/trades/:coinId
func (h *Handler) GetCoinTradeHistory(c *gin.Context) {
	txs, err := h.portfolio.TransactionsFor(c.Request.Context(), c.Param("coinId"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"trades": txs,
		"count":  len(txs),
	})
}

// GetPortfolio handles GET /api/portfolio
func (h *Handler) GetPortfolio(c *gin.Context) {
	s, err := h.portfolio.Summary(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

// GetBalance handles GET /api/balance
func (h *Handler) GetBalance(c *gin.Context) {
	b, err := h.portfolio.Balance(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}
