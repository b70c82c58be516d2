package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"prediction-engine/internal/models"
)

// ErrStaleStatus is returned when a conditional status update matched no
// row: the market moved under the caller, who must re-read and re-check.
var ErrStaleStatus = errors.New("market status changed concurrently")

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// DB exposes the underlying handle for multi-step transactions
func (r *Repository) DB() *gorm.DB {
	return r.db
}

// CreateMarket creates a market with its outcomes in one transaction
func (r *Repository) CreateMarket(ctx context.Context, market *models.Market, outcomes []models.Outcome) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(market).Error; err != nil {
			return err
		}
		for i := range outcomes {
			outcomes[i].MarketID = market.ID
			if err := tx.Create(&outcomes[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// GetMarket retrieves a market by ID
func (r *Repository) GetMarket(ctx context.Context, marketID uuid.UUID) (*models.Market, error) {
	var market models.Market
	err := r.db.WithContext(ctx).Where("id = ?", marketID).First(&market).Error
	if err != nil {
		return nil, err
	}
	return &market, nil
}

// ListMarkets retrieves markets filtered by status, newest first
func (r *Repository) ListMarkets(ctx context.Context, status models.MarketStatus, limit, offset int) ([]*models.Market, error) {
	var markets []*models.Market
	q := r.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Offset(offset)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if err := q.Find(&markets).Error; err != nil {
		return nil, err
	}
	return markets, nil
}

// GetOutcomes retrieves a market's outcomes in creation order
func (r *Repository) GetOutcomes(ctx context.Context, marketID uuid.UUID) ([]models.Outcome, error) {
	var outcomes []models.Outcome
	err := r.db.WithContext(ctx).
		Where("market_id = ?", marketID).
		Order("created_at ASC, id ASC").
		Find(&outcomes).Error
	if err != nil {
		return nil, err
	}
	return outcomes, nil
}

// GetOutcome retrieves an outcome by ID
func (r *Repository) GetOutcome(ctx context.Context, outcomeID uuid.UUID) (*models.Outcome, error) {
	var outcome models.Outcome
	err := r.db.WithContext(ctx).Where("id = ?", outcomeID).First(&outcome).Error
	if err != nil {
		return nil, err
	}
	return &outcome, nil
}

// GetStakes retrieves a market's stakes in creation order. The order is
// load-bearing: the settlement rounding tie-break is "first occurrence".
func (r *Repository) GetStakes(ctx context.Context, marketID uuid.UUID) ([]models.Stake, error) {
	var stakes []models.Stake
	err := r.db.WithContext(ctx).
		Where("market_id = ?", marketID).
		Order("created_at ASC, id ASC").
		Find(&stakes).Error
	if err != nil {
		return nil, err
	}
	return stakes, nil
}

// CreateStake persists a verified stake and grows the outcome and market
// pools atomically. The unique index on stake_tx_id rejects replays even
// when the token-consumption cache was unavailable.
func (r *Repository) CreateStake(ctx context.Context, stake *models.Stake) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(stake).Error; err != nil {
			return err
		}

		res := tx.Model(&models.Outcome{}).
			Where("id = ?", stake.OutcomeID).
			Updates(map[string]interface{}{
				"total_staked": gorm.Expr("total_staked + ?", stake.Amount),
				"backer_count": gorm.Expr("backer_count + 1"),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}

		res = tx.Model(&models.Market{}).
			Where("id = ? AND status = ?", stake.MarketID, models.MarketStatusOpen).
			Updates(map[string]interface{}{
				"total_pool": gorm.Expr("total_pool + ?", stake.Amount),
				"updated_at": time.Now(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrStaleStatus
		}
		return nil
	})
}

// CasMarketStatus performs the atomic conditional status transition that
// guards every irreversible step. It reports whether this caller won the
// transition.
func (r *Repository) CasMarketStatus(ctx context.Context, marketID uuid.UUID, from []models.MarketStatus, to models.MarketStatus) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.Market{}).
		Where("id = ? AND status IN ?", marketID, from).
		Updates(map[string]interface{}{
			"status":     to,
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// LockDueMarkets flips every OPEN market past its lock time to LOCKED
func (r *Repository) LockDueMarkets(ctx context.Context, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.Market{}).
		Where("status = ? AND lock_time <= ?", models.MarketStatusOpen, now).
		Updates(map[string]interface{}{
			"status":     models.MarketStatusLocked,
			"updated_at": now,
		})
	return res.RowsAffected, res.Error
}

// GetAutoResolvable retrieves LOCKED markets that carry a match reference
func (r *Repository) GetAutoResolvable(ctx context.Context, limit int) ([]*models.Market, error) {
	var markets []*models.Market
	err := r.db.WithContext(ctx).
		Where("status = ? AND match_ref IS NOT NULL", models.MarketStatusLocked).
		Order("lock_time ASC").
		Limit(limit).
		Find(&markets).Error
	if err != nil {
		return nil, err
	}
	return markets, nil
}

// SetStakePayout records a payout broadcast against a stake, write-once:
// a stake that already has a payout tx id is left untouched.
func (r *Repository) SetStakePayout(ctx context.Context, stakeID uuid.UUID, payout decimal.Decimal, txID string) error {
	res := r.db.WithContext(ctx).Model(&models.Stake{}).
		Where("id = ? AND payout_tx_id IS NULL", stakeID).
		Updates(map[string]interface{}{
			"payout":       payout,
			"payout_tx_id": txID,
			"updated_at":   time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStaleStatus
	}
	return nil
}

// SetStakeRefunded records a refund broadcast against a stake, write-once
func (r *Repository) SetStakeRefunded(ctx context.Context, stakeID uuid.UUID, txID string) error {
	res := r.db.WithContext(ctx).Model(&models.Stake{}).
		Where("id = ? AND refund_tx_id IS NULL", stakeID).
		Updates(map[string]interface{}{
			"refunded":     true,
			"refund_tx_id": txID,
			"updated_at":   time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStaleStatus
	}
	return nil
}

// SetMarketFeeTx records a fee broadcast tx id on the market. Column is
// fee_burn_tx_id or fee_reward_tx_id; the write-once guard mirrors the
// stake setters.
func (r *Repository) SetMarketFeeTx(ctx context.Context, marketID uuid.UUID, column, txID string) error {
	res := r.db.WithContext(ctx).Model(&models.Market{}).
		Where("id = ? AND "+column+" IS NULL", marketID).
		Updates(map[string]interface{}{
			column:       txID,
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStaleStatus
	}
	return nil
}

// FinalizeSettlement marks the winning outcome, moves the market from
// SETTLING to SETTLED with its fee totals, and writes the audit record,
// all in one transaction.
func (r *Repository) FinalizeSettlement(ctx context.Context, marketID, winningOutcomeID uuid.UUID, fee, burn, reward decimal.Decimal, actor string, record *models.SettlementRecord) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Outcome{}).
			Where("id = ?", winningOutcomeID).
			Update("is_winner", true).Error; err != nil {
			return err
		}

		now := time.Now()
		res := tx.Model(&models.Market{}).
			Where("id = ? AND status = ?", marketID, models.MarketStatusSettling).
			Updates(map[string]interface{}{
				"status":             models.MarketStatusSettled,
				"winning_outcome_id": winningOutcomeID,
				"platform_fee":       fee,
				"burn_amount":        burn,
				"reward_amount":      reward,
				"settled_by":         actor,
				"settled_at":         now,
				"updated_at":         now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrStaleStatus
		}

		return tx.Create(record).Error
	})
}

// FinalizeRefund moves the market from SETTLING or VOID to REFUNDED and
// writes the audit record. The winning outcome, when known, is recorded
// for information only.
func (r *Repository) FinalizeRefund(ctx context.Context, marketID uuid.UUID, winningOutcomeID *uuid.UUID, voidReason *string, actor string, record *models.SettlementRecord) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		updates := map[string]interface{}{
			"status":     models.MarketStatusRefunded,
			"settled_by": actor,
			"settled_at": now,
			"updated_at": now,
		}
		if winningOutcomeID != nil {
			updates["winning_outcome_id"] = *winningOutcomeID
			if err := tx.Model(&models.Outcome{}).
				Where("id = ?", *winningOutcomeID).
				Update("is_winner", true).Error; err != nil {
				return err
			}
		}
		if voidReason != nil {
			updates["voided"] = true
			updates["void_reason"] = *voidReason
		}

		res := tx.Model(&models.Market{}).
			Where("id = ? AND status IN ?", marketID,
				[]models.MarketStatus{models.MarketStatusSettling, models.MarketStatusVoid}).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrStaleStatus
		}

		return tx.Create(record).Error
	})
}

// GetSettlementRecord retrieves the audit record for a settled market
func (r *Repository) GetSettlementRecord(ctx context.Context, marketID uuid.UUID) (*models.SettlementRecord, error) {
	var record models.SettlementRecord
	err := r.db.WithContext(ctx).Where("market_id = ?", marketID).First(&record).Error
	if err != nil {
		return nil, err
	}
	return &record, nil
}
