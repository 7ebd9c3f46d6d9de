package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// NewRouter builds the gin engine with every API route.
// hub may be nil when push updates are disabled.
func NewRouter(h *Handler, hub *Hub) *gin.Engine {
	router := gin.New()
	router.Use(requestLogger(h.log), gin.Recovery())

	// API routes
	api := router.Group("/api")
	{
		// Trading endpoints
		api.POST("/trades/buy", h.BuyCoin)
		api.POST("/trades/sell", h.SellCoin)
		api.GET("/trades", h.GetTradeHistory)
		api.GET("/trades/:coinId", h.GetCoinTradeHistory)
		api.GET("/portfolio", h.GetPortfolio)
		api.GET("/balance", h.GetBalance)

		// Market data
		api.GET("/coins", h.GetCoins)
		api.POST("/coins/refresh", h.RefreshCoins)
		api.GET("/coins/:id", h.GetCoin)
		api.GET("/coins/:id/history", h.GetCoinHistory)

		// Alerts
		api.GET("/alerts", h.GetAlerts)
		api.POST("/alerts", h.CreateAlert)
		api.DELETE("/alerts/:id", h.DeleteAlert)
		api.POST("/alerts/:id/reactivate", h.ReactivateAlert)
	}

	// WebSocket endpoint
	if hub != nil {
		router.GET("/ws", hub.HandleWebSocket)
	}

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})

	return router
}

// requestLogger logs one line per request with zerolog instead of gin's default writer
func requestLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		ev := log.Debug()
		if c.Writer.Status() >= http.StatusInternalServerError {
			ev = log.Warn()
		}
		ev.Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("took", time.Since(start)).
			Msg("request")
	}
}
