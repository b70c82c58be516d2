package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"prediction-engine/internal/config"
	"prediction-engine/internal/ledger"
	"prediction-engine/internal/models"
	"prediction-engine/internal/odds"
	"prediction-engine/internal/repository"
)

var (
	// ErrInvalidTransition is a precondition violation: the market is not
	// in a status from which the requested transition is legal.
	ErrInvalidTransition = errors.New("market status does not permit this transition")
	// ErrUnknownOutcome means the winning outcome does not belong to the market
	ErrUnknownOutcome = errors.New("winning outcome does not belong to market")
)

// OperationBroadcaster is the ledger broadcast collaborator. It returns
// after submission, not confirmation; a submitted transfer cannot be
// retracted.
type OperationBroadcaster interface {
	Broadcast(ctx context.Context, ops []ledger.TransferOp) (string, error)
}

// SettlementEngine drives the market lifecycle: locking, settling,
// broadcasting escrow operations exactly once per stake, and persisting
// terminal state.
//
// Concurrency control is the compare-and-set on market status; no lock is
// held across ledger broadcasts. Independent markets settle independently.
type SettlementEngine struct {
	repo          *repository.Repository
	broadcaster   OperationBroadcaster
	escrowAccount string
	burnAccount   string
	rewardAccount string
	tokenSymbol   string
	feePct        decimal.Decimal
	burnShare     decimal.Decimal
	log           *zap.SugaredLogger
}

func NewSettlementEngine(repo *repository.Repository, broadcaster OperationBroadcaster, ledgerCfg config.LedgerConfig, stakeCfg config.StakeConfig, log *zap.Logger) *SettlementEngine {
	return &SettlementEngine{
		repo:          repo,
		broadcaster:   broadcaster,
		escrowAccount: ledgerCfg.EscrowAccount,
		burnAccount:   ledgerCfg.BurnAccount,
		rewardAccount: ledgerCfg.RewardAccount,
		tokenSymbol:   ledgerCfg.TokenSymbol,
		feePct:        decimal.NewFromFloat(stakeCfg.FeePercent),
		burnShare:     decimal.NewFromFloat(stakeCfg.BurnShare),
		log:           log.Sugar(),
	}
}

// LockDue flips every open market whose lock time has elapsed to LOCKED
func (e *SettlementEngine) LockDue(ctx context.Context) (int64, error) {
	n, err := e.repo.LockDueMarkets(ctx, time.Now())
	if err != nil {
		return 0, fmt.Errorf("failed to lock due markets: %w", err)
	}
	if n > 0 {
		e.log.Infow("locked due markets", "count", n)
	}
	return n, nil
}

// Settle determines the winner and distributes the pool. It is re-entrant:
// a retry after a partial failure resumes from the first unpersisted
// broadcast, and a call against an already settled market returns the
// stored result without broadcasting anything.
func (e *SettlementEngine) Settle(ctx context.Context, marketID, winningOutcomeID uuid.UUID, actor string) (*odds.SettlementResult, error) {
	return e.processSettlement(ctx, marketID, winningOutcomeID, actor)
}

// processSettlement is the single internal settlement path used by every
// entry point (admin trigger, auto resolver, scheduler retry).
//
// The broadcast loop persists each transaction id immediately after its
// broadcast. A crash between a ledger accept and the persist can duplicate
// that one transfer on retry; a crash anywhere else either resumes before
// the broadcast or skips it via the recorded id. That trade-off is the
// documented at-least-once window.
func (e *SettlementEngine) processSettlement(ctx context.Context, marketID, winningOutcomeID uuid.UUID, actor string) (*odds.SettlementResult, error) {
	market, err := e.repo.GetMarket(ctx, marketID)
	if err != nil {
		return nil, fmt.Errorf("failed to get market: %w", err)
	}

	switch market.Status {
	case models.MarketStatusSettled, models.MarketStatusRefunded:
		return e.storedResult(ctx, market)
	case models.MarketStatusSettling:
		// Legitimate retry of an interrupted settlement
	case models.MarketStatusLocked:
		won, err := e.repo.CasMarketStatus(ctx, marketID,
			[]models.MarketStatus{models.MarketStatusLocked}, models.MarketStatusSettling)
		if err != nil {
			return nil, fmt.Errorf("failed to begin settlement: %w", err)
		}
		if !won {
			// Lost the race: re-read and decide whether this is a resume
			market, err = e.repo.GetMarket(ctx, marketID)
			if err != nil {
				return nil, fmt.Errorf("failed to re-read market: %w", err)
			}
			switch market.Status {
			case models.MarketStatusSettling:
				// another attempt crashed or is in flight; resuming is safe
			case models.MarketStatusSettled, models.MarketStatusRefunded:
				return e.storedResult(ctx, market)
			default:
				return nil, fmt.Errorf("%w: status %s", ErrInvalidTransition, market.Status)
			}
		}
	default:
		return nil, fmt.Errorf("%w: status %s", ErrInvalidTransition, market.Status)
	}

	// Re-read so a resume sees previously recorded broadcast tx ids
	market, err = e.repo.GetMarket(ctx, marketID)
	if err != nil {
		return nil, fmt.Errorf("failed to re-read market: %w", err)
	}

	outcomes, err := e.repo.GetOutcomes(ctx, marketID)
	if err != nil {
		return nil, fmt.Errorf("failed to get outcomes: %w", err)
	}
	if !outcomeBelongs(outcomes, winningOutcomeID) {
		return nil, ErrUnknownOutcome
	}

	stakes, err := e.repo.GetStakes(ctx, marketID)
	if err != nil {
		return nil, fmt.Errorf("failed to get stakes: %w", err)
	}

	if e.isNoContest(stakes, winningOutcomeID) {
		return e.settleNoContest(ctx, market, winningOutcomeID, actor, stakes)
	}

	result, err := odds.Settle(stakes, winningOutcomeID, market.TotalPool, e.feePct, e.burnShare)
	if err != nil {
		return nil, fmt.Errorf("settlement computation failed: %w", err)
	}

	// Broadcast order: fee burn, fee reward, then one payout per winning
	// stake. Each id is persisted before the next item so a retry resumes
	// from the first unpersisted transfer.
	if market.FeeBurnTxID == nil && result.BurnAmount.IsPositive() {
		op := ledger.BuildTransfer(e.escrowAccount, e.burnAccount, result.BurnAmount, e.tokenSymbol, ledger.FeeBurnMemo(marketID))
		txID, err := e.broadcaster.Broadcast(ctx, []ledger.TransferOp{op})
		if err != nil {
			return nil, e.broadcastFailed(market, "fee burn", err)
		}
		if err := e.repo.SetMarketFeeTx(ctx, marketID, "fee_burn_tx_id", txID); err != nil {
			return nil, fmt.Errorf("failed to record fee burn tx: %w", err)
		}
	}

	if market.FeeRewardTxID == nil && result.RewardAmount.IsPositive() {
		op := ledger.BuildTransfer(e.escrowAccount, e.rewardAccount, result.RewardAmount, e.tokenSymbol, ledger.FeeRewardMemo(marketID))
		txID, err := e.broadcaster.Broadcast(ctx, []ledger.TransferOp{op})
		if err != nil {
			return nil, e.broadcastFailed(market, "fee reward", err)
		}
		if err := e.repo.SetMarketFeeTx(ctx, marketID, "fee_reward_tx_id", txID); err != nil {
			return nil, fmt.Errorf("failed to record fee reward tx: %w", err)
		}
	}

	byID := make(map[uuid.UUID]models.Stake, len(stakes))
	for _, s := range stakes {
		byID[s.ID] = s
	}

	paid := 0
	for _, p := range result.Payouts {
		stake := byID[p.StakeID]
		if stake.PayoutTxID != nil {
			continue // already paid on a previous attempt
		}

		ops := ledger.BuildPayoutOps(e.escrowAccount, e.tokenSymbol, []ledger.Payment{{
			StakeID:   p.StakeID,
			Recipient: p.Staker,
			Amount:    p.Amount,
		}})
		txID, err := e.broadcaster.Broadcast(ctx, ops)
		if err != nil {
			return nil, e.broadcastFailed(market, "payout", err)
		}
		if err := e.repo.SetStakePayout(ctx, p.StakeID, p.Amount, txID); err != nil {
			return nil, fmt.Errorf("failed to record payout tx: %w", err)
		}
		paid++
	}

	record := &models.SettlementRecord{
		ID:             uuid.New(),
		MarketID:       marketID,
		WinningOutcome: &winningOutcomeID,
		FinalStatus:    models.MarketStatusSettled,
		TotalPool:      result.TotalPool,
		TotalPaid:      result.TotalPaid,
		PlatformFee:    result.PlatformFee,
		StakesPaid:     len(result.Payouts),
		Actor:          actor,
	}
	if err := e.repo.FinalizeSettlement(ctx, marketID, winningOutcomeID,
		result.PlatformFee, result.BurnAmount, result.RewardAmount, actor, record); err != nil {
		return nil, fmt.Errorf("failed to finalize settlement: %w", err)
	}

	e.log.Infow("market settled",
		"market_id", marketID, "winning_outcome_id", winningOutcomeID,
		"total_pool", result.TotalPool, "total_paid", result.TotalPaid,
		"platform_fee", result.PlatformFee, "payouts", paid, "actor", actor)

	return result, nil
}

// Void cancels an OPEN or LOCKED market before settlement, refunds every
// stake, and moves it to REFUNDED.
func (e *SettlementEngine) Void(ctx context.Context, marketID uuid.UUID, reason, actor string) error {
	market, err := e.repo.GetMarket(ctx, marketID)
	if err != nil {
		return fmt.Errorf("failed to get market: %w", err)
	}

	switch market.Status {
	case models.MarketStatusRefunded:
		return nil // already fully voided
	case models.MarketStatusVoid:
		// resume an interrupted void
	case models.MarketStatusOpen, models.MarketStatusLocked:
		won, err := e.repo.CasMarketStatus(ctx, marketID,
			[]models.MarketStatus{models.MarketStatusOpen, models.MarketStatusLocked}, models.MarketStatusVoid)
		if err != nil {
			return fmt.Errorf("failed to void market: %w", err)
		}
		if !won {
			market, err = e.repo.GetMarket(ctx, marketID)
			if err != nil {
				return fmt.Errorf("failed to re-read market: %w", err)
			}
			if market.Status != models.MarketStatusVoid {
				return fmt.Errorf("%w: status %s", ErrInvalidTransition, market.Status)
			}
		}
	default:
		return fmt.Errorf("%w: status %s", ErrInvalidTransition, market.Status)
	}

	stakes, err := e.repo.GetStakes(ctx, marketID)
	if err != nil {
		return fmt.Errorf("failed to get stakes: %w", err)
	}

	refunded, err := e.refundStakes(ctx, market, stakes)
	if err != nil {
		return err
	}

	record := &models.SettlementRecord{
		ID:             uuid.New(),
		MarketID:       marketID,
		FinalStatus:    models.MarketStatusRefunded,
		TotalPool:      market.TotalPool,
		TotalPaid:      market.TotalPool,
		PlatformFee:    decimal.Zero,
		StakesRefunded: refunded,
		Actor:          actor,
	}
	if err := e.repo.FinalizeRefund(ctx, marketID, nil, &reason, actor, record); err != nil {
		return fmt.Errorf("failed to finalize void: %w", err)
	}

	e.log.Infow("market voided and refunded",
		"market_id", marketID, "reason", reason, "stakes_refunded", refunded, "actor", actor)
	return nil
}

// settleNoContest refunds every stake instead of paying out: either all
// money sat on one outcome or the winner had no backers. The winning
// outcome is recorded for information only, with zero fee.
func (e *SettlementEngine) settleNoContest(ctx context.Context, market *models.Market, winningOutcomeID uuid.UUID, actor string, stakes []models.Stake) (*odds.SettlementResult, error) {
	refunded, err := e.refundStakes(ctx, market, stakes)
	if err != nil {
		return nil, err
	}

	record := &models.SettlementRecord{
		ID:             uuid.New(),
		MarketID:       market.ID,
		WinningOutcome: &winningOutcomeID,
		FinalStatus:    models.MarketStatusRefunded,
		TotalPool:      market.TotalPool,
		TotalPaid:      market.TotalPool,
		PlatformFee:    decimal.Zero,
		StakesRefunded: refunded,
		Actor:          actor,
	}
	if err := e.repo.FinalizeRefund(ctx, market.ID, &winningOutcomeID, nil, actor, record); err != nil {
		return nil, fmt.Errorf("failed to finalize no-contest refund: %w", err)
	}

	e.log.Infow("no-contest market refunded",
		"market_id", market.ID, "winning_outcome_id", winningOutcomeID,
		"stakes_refunded", refunded, "actor", actor)

	return &odds.SettlementResult{
		WinningOutcomeID: winningOutcomeID,
		TotalPool:        market.TotalPool,
		WinningPool:      decimal.Zero,
		PlatformFee:      decimal.Zero,
		BurnAmount:       decimal.Zero,
		RewardAmount:     decimal.Zero,
		TotalPaid:        market.TotalPool,
	}, nil
}

// refundStakes broadcasts one refund per un-refunded stake, persisting
// each tx id before the next broadcast
func (e *SettlementEngine) refundStakes(ctx context.Context, market *models.Market, stakes []models.Stake) (int, error) {
	refunded := 0
	for _, s := range stakes {
		if s.Refunded || s.RefundTxID != nil {
			continue
		}

		ops := ledger.BuildRefundOps(e.escrowAccount, e.tokenSymbol, []ledger.Payment{{
			StakeID:   s.ID,
			Recipient: s.StakerAccount,
			Amount:    s.Amount,
		}})
		txID, err := e.broadcaster.Broadcast(ctx, ops)
		if err != nil {
			return refunded, e.broadcastFailed(market, "refund", err)
		}
		if err := e.repo.SetStakeRefunded(ctx, s.ID, txID); err != nil {
			return refunded, fmt.Errorf("failed to record refund tx: %w", err)
		}
		refunded++
	}
	return refunded, nil
}

// broadcastFailed logs a broadcast-loop failure and surfaces it. The
// market deliberately stays in its resumable status (SETTLING or VOID):
// per-item skip checks make a retry safe, a rollback would not be.
func (e *SettlementEngine) broadcastFailed(market *models.Market, phase string, err error) error {
	e.log.Errorw("settlement broadcast failed, market left resumable",
		"market_id", market.ID, "status", market.Status, "phase", phase, "error", err)
	return fmt.Errorf("%s broadcast failed for market %s: %w", phase, market.ID, err)
}

// storedResult rebuilds the settlement result of a market that already
// reached a terminal state so repeated invocations stay idempotent
func (e *SettlementEngine) storedResult(ctx context.Context, market *models.Market) (*odds.SettlementResult, error) {
	result := &odds.SettlementResult{
		TotalPool:    market.TotalPool,
		PlatformFee:  market.PlatformFee,
		BurnAmount:   market.BurnAmount,
		RewardAmount: market.RewardAmount,
	}
	if market.WinningOutcome != nil {
		result.WinningOutcomeID = *market.WinningOutcome
	}

	stakes, err := e.repo.GetStakes(ctx, market.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get stakes: %w", err)
	}

	total := decimal.Zero
	for _, s := range stakes {
		if market.WinningOutcome != nil && s.OutcomeID == *market.WinningOutcome {
			result.WinningPool = result.WinningPool.Add(s.Amount)
		}
		switch {
		case s.Payout != nil && s.PayoutTxID != nil:
			result.Payouts = append(result.Payouts, odds.StakePayout{
				StakeID: s.ID,
				Staker:  s.StakerAccount,
				Amount:  *s.Payout,
			})
			total = total.Add(*s.Payout)
		case s.Refunded:
			total = total.Add(s.Amount)
		}
	}
	result.TotalPaid = total

	return result, nil
}

func (e *SettlementEngine) isNoContest(stakes []models.Stake, winningOutcomeID uuid.UUID) bool {
	if len(stakes) == 0 {
		return true
	}

	winnerBackers := 0
	opposed := false
	first := stakes[0].OutcomeID
	for _, s := range stakes {
		if s.OutcomeID == winningOutcomeID {
			winnerBackers++
		}
		if s.OutcomeID != first {
			opposed = true
		}
	}
	return winnerBackers == 0 || !opposed
}

func outcomeBelongs(outcomes []models.Outcome, id uuid.UUID) bool {
	for _, o := range outcomes {
		if o.ID == id {
			return true
		}
	}
	return false
}
