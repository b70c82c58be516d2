package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"prediction-engine/internal/auth"
	"prediction-engine/internal/models"
	"prediction-engine/internal/services"
)

// AdminHandler exposes the manual settlement and void triggers
type AdminHandler struct {
	engine *services.SettlementEngine
}

func NewAdminHandler(engine *services.SettlementEngine) *AdminHandler {
	return &AdminHandler{engine: engine}
}

// SettleMarket handles POST /api/admin/markets/:id/settle
func (h *AdminHandler) SettleMarket(c *gin.Context) {
	marketID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid market id"})
		return
	}

	var req models.SettleMarketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	winningOutcomeID, err := uuid.Parse(req.WinningOutcomeID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid winning outcome id"})
		return
	}

	actor, _ := auth.GetAccount(c)

	result, err := h.engine.Settle(c.Request.Context(), marketID, winningOutcomeID, actor)
	if err != nil {
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "market not found"})
		case errors.Is(err, services.ErrInvalidTransition),
			errors.Is(err, services.ErrUnknownOutcome):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			// Broadcast-loop failures leave the market resumable; the
			// caller retries the same request.
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"result": result})
}

// VoidMarket handles POST /api/admin/markets/:id/void
func (h *AdminHandler) VoidMarket(c *gin.Context) {
	marketID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid market id"})
		return
	}

	var req models.VoidMarketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	actor, _ := auth.GetAccount(c)

	if err := h.engine.Void(c.Request.Context(), marketID, req.Reason, actor); err != nil {
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "market not found"})
		case errors.Is(err, services.ErrInvalidTransition):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "refunded"})
}
