package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/atharvakonge/crypto-portfolio-tracker/internal/models"
)

const maxHistoryDays = 365

// GetCoins handles GET /api/coins
func (h *Handler) GetCoins(c *gin.Context) {
	coins, err := h.prices.GetAll(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"coins": coins,
		"count": len(coins),
	})
}

// GetCoin handles GET /api/coins/:id
func (h *Handler) GetCoin(c *gin.Context) {
	id := c.Param("id")
	coin, ok := h.prices.GetByID(id)
	if !ok {
		h.fail(c, fmt.Errorf("coin %s: %w", id, models.ErrNotFound))
		return
	}
	c.JSON(http.StatusOK, coin)
}

// RefreshCoins handles POST /api/coins/refresh
func (h *Handler) RefreshCoins(c *gin.Context) {
	if err := h.prices.Refresh(c.Request.Context()); err != nil {
		h.fail(c, err)
		return
	}
	coins, err := h.prices.GetAll(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": "Prices refreshed",
		"count":   len(coins),
	})
}

// GetCoinHistory handles GET /api/coins/:id/history?days=N
func (h *Handler) GetCoinHistory(c *gin.Context) {
	days, err := strconv.Atoi(c.DefaultQuery("days", "7"))
	if err != nil || days < 1 || days > maxHistoryDays {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("days must be between 1 and %d", maxHistoryDays)})
		return
	}

	to := h.now().UTC()
	from := to.Add(-time.Duration(days) * 24 * time.Hour)
	points, err := h.prices.History(c.Request.Context(), c.Param("id"), from, to)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"coin_id": c.Param("id"),
		"days":    days,
		"prices":  points,
	})
}
