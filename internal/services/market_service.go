package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"prediction-engine/internal/models"
	"prediction-engine/internal/repository"
)

var ErrBadOutcomeCount = errors.New("market needs between 2 and 4 outcomes")

// MarketService handles market creation and listing
type MarketService struct {
	repo *repository.Repository
	log  *zap.SugaredLogger
}

func NewMarketService(repo *repository.Repository, log *zap.Logger) *MarketService {
	return &MarketService{repo: repo, log: log.Sugar()}
}

// Create opens a new market with its outcome set
func (s *MarketService) Create(ctx context.Context, req *models.CreateMarketRequest, creator string) (*models.Market, []models.Outcome, error) {
	if len(req.Outcomes) < 2 || len(req.Outcomes) > 4 {
		return nil, nil, ErrBadOutcomeCount
	}
	if !req.LockTime.After(time.Now()) {
		return nil, nil, fmt.Errorf("lock time must be in the future")
	}

	seen := make(map[string]bool, len(req.Outcomes))
	for _, label := range req.Outcomes {
		if label == "" {
			return nil, nil, fmt.Errorf("outcome label must not be empty")
		}
		if seen[label] {
			return nil, nil, fmt.Errorf("duplicate outcome label %q", label)
		}
		seen[label] = true
	}

	now := time.Now()
	market := &models.Market{
		ID:             uuid.New(),
		CreatorAccount: creator,
		Title:          req.Title,
		Category:       req.Category,
		MatchRef:       req.MatchRef,
		LockTime:       req.LockTime,
		Status:         models.MarketStatusOpen,
		TotalPool:      decimal.Zero,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	outcomes := make([]models.Outcome, 0, len(req.Outcomes))
	for i, label := range req.Outcomes {
		outcomes = append(outcomes, models.Outcome{
			ID:          uuid.New(),
			Label:       label,
			TotalStaked: decimal.Zero,
			// keep insertion order stable under equal timestamps
			CreatedAt: now.Add(time.Duration(i) * time.Microsecond),
		})
	}

	if err := s.repo.CreateMarket(ctx, market, outcomes); err != nil {
		return nil, nil, fmt.Errorf("failed to create market: %w", err)
	}

	s.log.Infow("market created",
		"market_id", market.ID, "title", market.Title, "outcomes", len(outcomes),
		"lock_time", market.LockTime, "creator", creator)

	return market, outcomes, nil
}

// List returns markets filtered by status
func (s *MarketService) List(ctx context.Context, status models.MarketStatus, limit, offset int) ([]*models.Market, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.repo.ListMarkets(ctx, status, limit, offset)
}
