package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"prediction-engine/internal/auth"
	"prediction-engine/internal/models"
	"prediction-engine/internal/services"
	"prediction-engine/internal/token"
)

type StakeHandler struct {
	stakes *services.StakeService
}

func NewStakeHandler(stakes *services.StakeService) *StakeHandler {
	return &StakeHandler{stakes: stakes}
}

// QuoteStake handles POST /api/stakes/quote
func (h *StakeHandler) QuoteStake(c *gin.Context) {
	var req models.StakeQuoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	staker, ok := auth.GetAccount(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "account not found in token"})
		return
	}

	marketID, err := uuid.Parse(req.MarketID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid market id"})
		return
	}
	outcomeID, err := uuid.Parse(req.OutcomeID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid outcome id"})
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
		return
	}

	quote, err := h.stakes.Quote(c.Request.Context(), marketID, outcomeID, staker, amount)
	if err != nil {
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "market or outcome not found"})
		case errors.Is(err, services.ErrMarketNotOpen),
			errors.Is(err, services.ErrMarketLockPassed),
			errors.Is(err, services.ErrOutcomeMismatch):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		}
		return
	}

	c.JSON(http.StatusOK, quote)
}

// ConfirmStake handles POST /api/stakes/confirm
func (h *StakeHandler) ConfirmStake(c *gin.Context) {
	var req models.ConfirmStakeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	stake, err := h.stakes.Confirm(c.Request.Context(), req.Token, req.TxID)
	if err != nil {
		switch {
		case errors.Is(err, token.ErrInvalidToken), errors.Is(err, token.ErrTokenExpired):
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		case errors.Is(err, services.ErrTokenConsumed):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		case errors.Is(err, services.ErrStakeTxNotFound),
			errors.Is(err, services.ErrStakeAmountMismatch),
			errors.Is(err, services.ErrStakeMemoMismatch),
			errors.Is(err, services.ErrStakeNoMatchingTransfer):
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		case errors.Is(err, services.ErrMarketNotOpen):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{"stake": stake})
}
