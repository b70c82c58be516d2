package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// CreateMarketRequest represents a request to create a new market
type CreateMarketRequest struct {
	Title    string    `json:"title" binding:"required"`
	Category string    `json:"category" binding:"required"`
	MatchRef *string   `json:"match_ref"`
	LockTime time.Time `json:"lock_time" binding:"required"`
	Outcomes []string  `json:"outcomes" binding:"required,min=2,max=4"`
}

// StakeQuoteRequest represents a request for a stake quote
type StakeQuoteRequest struct {
	MarketID  string `json:"market_id" binding:"required"`
	OutcomeID string `json:"outcome_id" binding:"required"`
	Amount    string `json:"amount" binding:"required"`
}

// StakeQuoteResponse carries the issued token and the transfer terms the
// client must broadcast to the escrow account
type StakeQuoteResponse struct {
	Token         string          `json:"token"`
	ExpiresAt     time.Time       `json:"expires_at"`
	EscrowAccount string          `json:"escrow_account"`
	TokenSymbol   string          `json:"token_symbol"`
	Amount        decimal.Decimal `json:"amount"`
	Memo          string          `json:"memo"`
	Multiplier    decimal.Decimal `json:"multiplier"`
	Percentage    decimal.Decimal `json:"percentage"`
}

// ConfirmStakeRequest submits the broadcast transaction id for a quoted stake
type ConfirmStakeRequest struct {
	Token string `json:"token" binding:"required"`
	TxID  string `json:"tx_id" binding:"required"`
}

// SettleMarketRequest represents an admin settlement trigger
type SettleMarketRequest struct {
	WinningOutcomeID string `json:"winning_outcome_id" binding:"required"`
}

// VoidMarketRequest represents an admin void trigger
type VoidMarketRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// OutcomeOddsResponse is one outcome with its live odds
type OutcomeOddsResponse struct {
	Outcome
	Multiplier         decimal.Decimal `json:"multiplier"`
	Percentage         decimal.Decimal `json:"percentage"`
	ImpliedProbability decimal.Decimal `json:"implied_probability"`
}
