package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"prediction-engine/internal/auth"
	"prediction-engine/internal/models"
	"prediction-engine/internal/services"
)

type MarketHandler struct {
	markets *services.MarketService
	stakes  *services.StakeService
}

func NewMarketHandler(markets *services.MarketService, stakes *services.StakeService) *MarketHandler {
	return &MarketHandler{markets: markets, stakes: stakes}
}

// CreateMarket handles POST /api/markets
func (h *MarketHandler) CreateMarket(c *gin.Context) {
	var req models.CreateMarketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	creator, ok := auth.GetAccount(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "account not found in token"})
		return
	}

	market, outcomes, err := h.markets.Create(c.Request.Context(), &req, creator)
	if err != nil {
		if errors.Is(err, services.ErrBadOutcomeCount) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"market":   market,
		"outcomes": outcomes,
	})
}

// GetMarkets handles GET /api/markets
func (h *MarketHandler) GetMarkets(c *gin.Context) {
	status := models.MarketStatus(c.Query("status"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	markets, err := h.markets.List(c.Request.Context(), status, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"markets": markets})
}

// GetMarketByID handles GET /api/markets/:id with live odds per outcome
func (h *MarketHandler) GetMarketByID(c *gin.Context) {
	marketID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid market id"})
		return
	}

	market, outcomes, err := h.stakes.MarketWithOdds(c.Request.Context(), marketID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "market not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"market":   market,
		"outcomes": outcomes,
	})
}
