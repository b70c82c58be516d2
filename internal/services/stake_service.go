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
	"prediction-engine/internal/token"
)

var (
	ErrMarketNotOpen    = errors.New("market is not open for staking")
	ErrMarketLockPassed = errors.New("market lock time has passed")
	ErrOutcomeMismatch  = errors.New("outcome does not belong to market")
	ErrTokenConsumed    = errors.New("stake token already consumed")
)

// StakeService drives the quote -> broadcast -> confirm stake flow
type StakeService struct {
	repo      *repository.Repository
	tokenizer *token.Tokenizer
	verifier  *StakeVerifier
	ledgerCfg config.LedgerConfig
	feePct    decimal.Decimal
	log       *zap.SugaredLogger
}

func NewStakeService(repo *repository.Repository, tokenizer *token.Tokenizer, verifier *StakeVerifier, ledgerCfg config.LedgerConfig, feePct float64, log *zap.Logger) *StakeService {
	return &StakeService{
		repo:      repo,
		tokenizer: tokenizer,
		verifier:  verifier,
		ledgerCfg: ledgerCfg,
		feePct:    decimal.NewFromFloat(feePct),
		log:       log.Sugar(),
	}
}

// Quote issues a stake token for the requested terms together with the
// escrow transfer the client must broadcast and the current odds.
func (s *StakeService) Quote(ctx context.Context, marketID, outcomeID uuid.UUID, staker string, amount decimal.Decimal) (*models.StakeQuoteResponse, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("stake amount must be positive, got %s", amount)
	}
	amount = amount.Round(odds.Scale)

	market, err := s.repo.GetMarket(ctx, marketID)
	if err != nil {
		return nil, fmt.Errorf("failed to get market: %w", err)
	}
	if market.Status != models.MarketStatusOpen {
		return nil, ErrMarketNotOpen
	}
	if !time.Now().Before(market.LockTime) {
		return nil, ErrMarketLockPassed
	}

	outcome, err := s.repo.GetOutcome(ctx, outcomeID)
	if err != nil {
		return nil, fmt.Errorf("failed to get outcome: %w", err)
	}
	if outcome.MarketID != marketID {
		return nil, ErrOutcomeMismatch
	}

	tok, expiresAt, err := s.tokenizer.Issue(marketID, staker, outcomeID, amount)
	if err != nil {
		return nil, fmt.Errorf("failed to issue stake token: %w", err)
	}

	// Quote odds as if this stake were already in the pool
	quote := odds.Compute(market.TotalPool.Add(amount), outcome.TotalStaked.Add(amount), s.feePct)

	return &models.StakeQuoteResponse{
		Token:         tok,
		ExpiresAt:     expiresAt,
		EscrowAccount: s.ledgerCfg.EscrowAccount,
		TokenSymbol:   s.ledgerCfg.TokenSymbol,
		Amount:        amount,
		Memo:          ledger.StakeMemo(marketID, outcomeID),
		Multiplier:    quote.Multiplier,
		Percentage:    quote.Percentage,
	}, nil
}

// Confirm redeems a stake token against a broadcast transaction id: the
// token is verified and checked for prior consumption, the transfer is
// independently confirmed on the ledger, and only then is the stake
// persisted and the pool grown.
func (s *StakeService) Confirm(ctx context.Context, tok, txID string) (*models.Stake, error) {
	data, err := s.tokenizer.Verify(tok)
	if err != nil {
		return nil, err
	}

	if s.tokenizer.IsConsumed(ctx, tok) {
		return nil, ErrTokenConsumed
	}

	if _, err := s.verifier.Verify(ctx, txID, data.Staker, data.Amount, data.MarketID, data.OutcomeID); err != nil {
		return nil, err
	}

	stake := &models.Stake{
		ID:            uuid.New(),
		MarketID:      data.MarketID,
		OutcomeID:     data.OutcomeID,
		StakerAccount: data.Staker,
		Amount:        data.Amount,
		StakeTxID:     txID,
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}

	if err := s.repo.CreateStake(ctx, stake); err != nil {
		if errors.Is(err, repository.ErrStaleStatus) {
			return nil, ErrMarketNotOpen
		}
		return nil, fmt.Errorf("failed to persist stake: %w", err)
	}

	s.tokenizer.Consume(ctx, tok, stake.ID.String())

	s.log.Infow("stake accepted",
		"stake_id", stake.ID, "market_id", data.MarketID, "outcome_id", data.OutcomeID,
		"staker", data.Staker, "amount", data.Amount, "tx_id", txID)

	return stake, nil
}

// MarketWithOdds returns a market and its outcomes with live odds
func (s *StakeService) MarketWithOdds(ctx context.Context, marketID uuid.UUID) (*models.Market, []models.OutcomeOddsResponse, error) {
	market, err := s.repo.GetMarket(ctx, marketID)
	if err != nil {
		return nil, nil, err
	}

	outcomes, err := s.repo.GetOutcomes(ctx, marketID)
	if err != nil {
		return nil, nil, err
	}

	withOdds := make([]models.OutcomeOddsResponse, 0, len(outcomes))
	for _, o := range outcomes {
		quote := odds.Compute(market.TotalPool, o.TotalStaked, s.feePct)
		withOdds = append(withOdds, models.OutcomeOddsResponse{
			Outcome:            o,
			Multiplier:         quote.Multiplier,
			Percentage:         quote.Percentage,
			ImpliedProbability: quote.ImpliedProbability,
		})
	}

	return market, withOdds, nil
}
