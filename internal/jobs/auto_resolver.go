package jobs

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"prediction-engine/internal/feed"
	"prediction-engine/internal/models"
	"prediction-engine/internal/repository"
	"prediction-engine/internal/services"
)

const autoResolverActor = "auto-resolver"

// ResultFetcher is the match-result feed collaborator
type ResultFetcher interface {
	GetResult(ctx context.Context, matchRef string) (*feed.MatchResult, error)
}

// AutoResolver settles locked markets from the external result feed
// without human intervention. A market is only settled when the result
// maps to exactly one outcome label; anything ambiguous is left for
// manual settlement.
type AutoResolver struct {
	engine   *services.SettlementEngine
	repo     *repository.Repository
	feed     ResultFetcher
	interval time.Duration
	stopChan chan struct{}
	log      *zap.SugaredLogger
}

func NewAutoResolver(engine *services.SettlementEngine, repo *repository.Repository, fetcher ResultFetcher, interval time.Duration, log *zap.Logger) *AutoResolver {
	return &AutoResolver{
		engine:   engine,
		repo:     repo,
		feed:     fetcher,
		interval: interval,
		stopChan: make(chan struct{}),
		log:      log.Sugar(),
	}
}

// Start begins the resolution loop
func (ar *AutoResolver) Start() {
	ar.log.Infow("starting auto resolver", "interval", ar.interval)

	ticker := time.NewTicker(ar.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ar.resolveLockedMarkets()
		case <-ar.stopChan:
			ar.log.Info("stopping auto resolver")
			return
		}
	}
}

// Stop stops the resolution loop
func (ar *AutoResolver) Stop() {
	close(ar.stopChan)
}

func (ar *AutoResolver) resolveLockedMarkets() {
	ctx := context.Background()

	markets, err := ar.repo.GetAutoResolvable(ctx, 100)
	if err != nil {
		ar.log.Errorw("failed to fetch resolvable markets", "error", err)
		return
	}

	for _, market := range markets {
		if err := ar.resolveMarket(ctx, market); err != nil {
			ar.log.Errorw("auto resolution failed", "market_id", market.ID, "error", err)
		}
	}
}

func (ar *AutoResolver) resolveMarket(ctx context.Context, market *models.Market) error {
	result, err := ar.feed.GetResult(ctx, *market.MatchRef)
	if err != nil {
		return err
	}

	if result.Cancelled() {
		ar.log.Infow("match cancelled, voiding market", "market_id", market.ID, "match_ref", *market.MatchRef)
		return ar.engine.Void(ctx, market.ID, "match cancelled by result feed", autoResolverActor)
	}
	if !result.Finished() {
		return nil
	}

	outcomes, err := ar.repo.GetOutcomes(ctx, market.ID)
	if err != nil {
		return err
	}

	winnerID, ok := matchWinningOutcome(outcomes, result)
	if !ok {
		ar.log.Warnw("result does not map to a single outcome, deferring to manual settlement",
			"market_id", market.ID, "match_ref", *market.MatchRef,
			"home", result.HomeTeam, "away", result.AwayTeam,
			"score", result.HomeScore, "away_score", result.AwayScore)
		return nil
	}

	ar.log.Infow("auto-resolving market", "market_id", market.ID, "winning_outcome_id", winnerID)
	_, err = ar.engine.Settle(ctx, market.ID, winnerID, autoResolverActor)
	return err
}

// matchWinningOutcome maps a final score to an outcome. The result is
// turned into keywords (winning team name fragments, or draw terms) and
// matched against lowercased outcome labels; only an unambiguous single
// match resolves.
func matchWinningOutcome(outcomes []models.Outcome, result *feed.MatchResult) (uuid.UUID, bool) {
	var keywords []string
	switch {
	case result.HomeScore > result.AwayScore:
		keywords = teamKeywords(result.HomeTeam)
	case result.AwayScore > result.HomeScore:
		keywords = teamKeywords(result.AwayTeam)
	default:
		keywords = []string{"draw", "tie"}
	}

	var matched []uuid.UUID
	for _, outcome := range outcomes {
		label := strings.ToLower(outcome.Label)
		for _, kw := range keywords {
			if strings.Contains(label, kw) {
				matched = append(matched, outcome.ID)
				break
			}
		}
	}

	if len(matched) != 1 {
		return uuid.Nil, false
	}
	return matched[0], true
}

// teamKeywords lowercases the team name and its words. Single short words
// ("fc", "de") are skipped to avoid spurious cross-team matches.
func teamKeywords(team string) []string {
	name := strings.ToLower(strings.TrimSpace(team))
	if name == "" {
		return nil
	}

	keywords := []string{name}
	for _, word := range strings.Fields(name) {
		if len(word) >= 3 && word != name {
			keywords = append(keywords, word)
		}
	}
	return keywords
}
