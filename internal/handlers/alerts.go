package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/atharvakonge/crypto-portfolio-tracker/internal/models"
)

// GetAlerts handles GET /api/alerts
func (h *Handler) GetAlerts(c *gin.Context) {
	as, err := h.alerts.List(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"alerts": as,
		"count":  len(as),
	})
}

// CreateAlert handles POST /api/alerts
func (h *Handler) CreateAlert(c *gin.Context) {
	var req models.AlertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	a, err := h.alerts.Create(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, a)
}

// DeleteAlert handles DELETE /api/alerts/:id
func (h *Handler) DeleteAlert(c *gin.Context) {
	if err := h.alerts.Delete(c.Request.Context(), c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ReactivateAlert handles POST /api/alerts/:id/reactivate
func (h *Handler) ReactivateAlert(c *gin.Context) {
	a, err := h.alerts.Reactivate(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}
