package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type MarketStatus string

const (
	MarketStatusOpen     MarketStatus = "OPEN"
	MarketStatusLocked   MarketStatus = "LOCKED"
	MarketStatusSettling MarketStatus = "SETTLING"
	MarketStatusSettled  MarketStatus = "SETTLED"
	MarketStatusVoid     MarketStatus = "VOID"
	MarketStatusRefunded MarketStatus = "REFUNDED"
)

// Terminal reports whether no further mutation of a market is permitted.
func (s MarketStatus) Terminal() bool {
	return s == MarketStatusSettled || s == MarketStatusRefunded
}

// Market represents a prediction market: a wager with 2-4 mutually
// exclusive outcomes, custodied by the escrow account until settlement.
type Market struct {
	ID             uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	CreatorAccount string          `gorm:"size:255;not null;index" json:"creator_account"`
	Title          string          `gorm:"size:500;not null" json:"title"`
	Category       string          `gorm:"size:50;not null;index" json:"category"`
	MatchRef       *string         `gorm:"size:255;index" json:"match_ref,omitempty"`
	LockTime       time.Time       `gorm:"not null;index" json:"lock_time"`
	Status         MarketStatus    `gorm:"size:50;not null;default:OPEN;index" json:"status"`
	TotalPool      decimal.Decimal `gorm:"type:decimal(20,3);not null;default:0" json:"total_pool"`
	WinningOutcome *uuid.UUID      `gorm:"type:uuid;column:winning_outcome_id" json:"winning_outcome_id,omitempty"`
	Voided         bool            `gorm:"not null;default:false" json:"voided"`
	VoidReason     *string         `gorm:"size:500" json:"void_reason,omitempty"`
	PlatformFee    decimal.Decimal `gorm:"type:decimal(20,3);not null;default:0" json:"platform_fee"`
	BurnAmount     decimal.Decimal `gorm:"type:decimal(20,3);not null;default:0" json:"burn_amount"`
	RewardAmount   decimal.Decimal `gorm:"type:decimal(20,3);not null;default:0" json:"reward_amount"`
	FeeBurnTxID    *string         `gorm:"size:255" json:"fee_burn_tx_id,omitempty"`
	FeeRewardTxID  *string         `gorm:"size:255" json:"fee_reward_tx_id,omitempty"`
	SettledBy      *string         `gorm:"size:255" json:"settled_by,omitempty"`
	SettledAt      *time.Time      `json:"settled_at,omitempty"`
	CreatedAt      time.Time       `gorm:"default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (Market) TableName() string {
	return "markets"
}

// Outcome represents one possible resolution of a market
type Outcome struct {
	ID          uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	MarketID    uuid.UUID       `gorm:"type:uuid;not null;index" json:"market_id"`
	Label       string          `gorm:"size:255;not null" json:"label"`
	TotalStaked decimal.Decimal `gorm:"type:decimal(20,3);not null;default:0" json:"total_staked"`
	BackerCount int             `gorm:"not null;default:0" json:"backer_count"`
	IsWinner    bool            `gorm:"not null;default:false" json:"is_winner"`
	CreatedAt   time.Time       `gorm:"default:CURRENT_TIMESTAMP" json:"created_at"`
}

func (Outcome) TableName() string {
	return "outcomes"
}

// Stake represents one user's wager on one outcome of one market.
// PayoutTxID and RefundTxID are write-once: once a broadcast transaction
// id is recorded the stake is never paid or refunded again.
type Stake struct {
	ID             uuid.UUID        `gorm:"type:uuid;primaryKey" json:"id"`
	MarketID       uuid.UUID        `gorm:"type:uuid;not null;index" json:"market_id"`
	OutcomeID      uuid.UUID        `gorm:"type:uuid;not null;index" json:"outcome_id"`
	StakerAccount  string           `gorm:"size:255;not null;index" json:"staker_account"`
	Amount         decimal.Decimal  `gorm:"type:decimal(20,3);not null" json:"amount"`
	StakeTxID      string           `gorm:"size:255;not null;uniqueIndex" json:"stake_tx_id"`
	Payout         *decimal.Decimal `gorm:"type:decimal(20,3)" json:"payout,omitempty"`
	PayoutTxID     *string          `gorm:"size:255" json:"payout_tx_id,omitempty"`
	RefundTxID     *string          `gorm:"size:255" json:"refund_tx_id,omitempty"`
	Refunded       bool             `gorm:"not null;default:false" json:"refunded"`
	CreatedAt      time.Time        `gorm:"default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt      time.Time        `gorm:"default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (Stake) TableName() string {
	return "stakes"
}

// SettlementRecord is the audit row written when a market reaches a
// terminal state
type SettlementRecord struct {
	ID             uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	MarketID       uuid.UUID       `gorm:"type:uuid;not null;index" json:"market_id"`
	WinningOutcome *uuid.UUID      `gorm:"type:uuid;column:winning_outcome_id" json:"winning_outcome_id,omitempty"`
	FinalStatus    MarketStatus    `gorm:"size:50;not null" json:"final_status"`
	TotalPool      decimal.Decimal `gorm:"type:decimal(20,3);not null" json:"total_pool"`
	TotalPaid      decimal.Decimal `gorm:"type:decimal(20,3);not null" json:"total_paid"`
	PlatformFee    decimal.Decimal `gorm:"type:decimal(20,3);not null" json:"platform_fee"`
	StakesPaid     int             `gorm:"not null" json:"stakes_paid"`
	StakesRefunded int             `gorm:"not null" json:"stakes_refunded"`
	Actor          string          `gorm:"size:255;not null" json:"actor"`
	CreatedAt      time.Time       `gorm:"default:CURRENT_TIMESTAMP" json:"created_at"`
}

func (SettlementRecord) TableName() string {
	return "settlement_records"
}
