// Package odds is the pure math of the settlement engine. Everything here
// works on decimals with the ledger's fixed 3-decimal scale; no I/O.
package odds

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"prediction-engine/internal/models"
)

// Scale is the ledger token's decimal precision
const Scale = 3

var (
	// ErrNoWinningStakes means the winning outcome has no backers; callers
	// handle that as a no-contest refund before asking for a settlement.
	ErrNoWinningStakes = errors.New("odds: winning outcome has no stakes")

	one     = decimal.NewFromInt(1)
	hundred = decimal.NewFromInt(100)
)

// Quote is the live odds for one outcome
type Quote struct {
	Multiplier         decimal.Decimal `json:"multiplier"`
	Percentage         decimal.Decimal `json:"percentage"`
	ImpliedProbability decimal.Decimal `json:"implied_probability"`
}

// Compute converts pool sizes into a payout multiplier and pool share.
// An empty outcome pool or pool quotes zero across the board.
func Compute(totalPool, outcomePool, feePct decimal.Decimal) Quote {
	if outcomePool.IsZero() || !totalPool.IsPositive() {
		return Quote{Multiplier: decimal.Zero, Percentage: decimal.Zero, ImpliedProbability: decimal.Zero}
	}

	share := outcomePool.Div(totalPool)
	return Quote{
		Multiplier:         totalPool.Mul(one.Sub(feePct)).Div(outcomePool).Round(Scale),
		Percentage:         share.Mul(hundred).Round(2),
		ImpliedProbability: share.Round(4),
	}
}

// Payout computes a single winning stake's proportional payout, rounded to
// the ledger scale
func Payout(stakeAmount, totalPool, winningPool, feePct decimal.Decimal) decimal.Decimal {
	if winningPool.IsZero() {
		return decimal.Zero
	}
	return stakeAmount.Div(winningPool).Mul(totalPool).Mul(one.Sub(feePct)).Round(Scale)
}

// StakePayout is one winning stake's computed payout
type StakePayout struct {
	StakeID uuid.UUID       `json:"stake_id"`
	Staker  string          `json:"staker"`
	Amount  decimal.Decimal `json:"amount"`
}

// SettlementResult is the full money decision for a settled market.
// Invariant: TotalPaid + PlatformFee equals TotalPool exactly.
type SettlementResult struct {
	WinningOutcomeID uuid.UUID       `json:"winning_outcome_id"`
	TotalPool        decimal.Decimal `json:"total_pool"`
	WinningPool      decimal.Decimal `json:"winning_pool"`
	PlatformFee      decimal.Decimal `json:"platform_fee"`
	BurnAmount       decimal.Decimal `json:"burn_amount"`
	RewardAmount     decimal.Decimal `json:"reward_amount"`
	Payouts          []StakePayout   `json:"payouts"`
	TotalPaid        decimal.Decimal `json:"total_paid"`
}

// Settle computes every winning stake's payout for the given pool.
//
// The platform fee is taken off the top and split into burn and reward
// shares; the rest is distributed proportionally over the winning stakes.
// Each payout is rounded individually, then the exact rounding remainder
// is added to the largest payout (first occurrence wins a tie) so the
// distributed total balances to the mill.
func Settle(stakes []models.Stake, winningOutcomeID uuid.UUID, totalPool, feePct, burnShare decimal.Decimal) (*SettlementResult, error) {
	if !totalPool.IsPositive() {
		return nil, fmt.Errorf("odds: total pool must be positive, got %s", totalPool)
	}

	fee := totalPool.Mul(feePct).Round(Scale)
	burn := fee.Mul(burnShare).Round(Scale)
	reward := fee.Sub(burn)
	distributable := totalPool.Sub(fee)

	winningPool := decimal.Zero
	var winners []models.Stake
	for _, s := range stakes {
		if s.OutcomeID == winningOutcomeID {
			winningPool = winningPool.Add(s.Amount)
			winners = append(winners, s)
		}
	}
	if winningPool.IsZero() {
		return nil, ErrNoWinningStakes
	}

	payouts := make([]StakePayout, 0, len(winners))
	paid := decimal.Zero
	largest := 0
	for i, s := range winners {
		amount := s.Amount.Div(winningPool).Mul(distributable).Round(Scale)
		payouts = append(payouts, StakePayout{
			StakeID: s.ID,
			Staker:  s.StakerAccount,
			Amount:  amount,
		})
		paid = paid.Add(amount)
		if amount.GreaterThan(payouts[largest].Amount) {
			largest = i
		}
	}

	// Reconcile the rounding drift against the largest payout
	remainder := distributable.Sub(paid)
	if !remainder.IsZero() {
		payouts[largest].Amount = payouts[largest].Amount.Add(remainder)
		paid = paid.Add(remainder)
	}

	return &SettlementResult{
		WinningOutcomeID: winningOutcomeID,
		TotalPool:        totalPool,
		WinningPool:      winningPool,
		PlatformFee:      fee,
		BurnAmount:       burn,
		RewardAmount:     reward,
		Payouts:          payouts,
		TotalPaid:        paid,
	}, nil
}
