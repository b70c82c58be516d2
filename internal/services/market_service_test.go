package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"prediction-engine/internal/models"
	"prediction-engine/internal/repository"
)

func TestCreateMarket(t *testing.T) {
	db := setupTestDB(t)
	repo := repository.NewRepository(db)
	service := NewMarketService(repo, zap.NewNop())
	ctx := context.Background()

	ref := "match-42"
	market, outcomes, err := service.Create(ctx, &models.CreateMarketRequest{
		Title:    "Arsenal vs Chelsea",
		Category: "sports",
		MatchRef: &ref,
		LockTime: time.Now().Add(time.Hour),
		Outcomes: []string{"Arsenal wins", "Chelsea wins", "Draw"},
	}, "creator")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if market.Status != models.MarketStatusOpen {
		t.Errorf("status: expected OPEN, got %s", market.Status)
	}
	if !market.TotalPool.IsZero() {
		t.Errorf("pool: expected 0, got %s", market.TotalPool)
	}
	if len(outcomes) != 3 {
		t.Fatalf("expected 3 outcomes, got %d", len(outcomes))
	}

	stored, err := repo.GetOutcomes(ctx, market.ID)
	if err != nil {
		t.Fatalf("failed to reload outcomes: %v", err)
	}
	for i, o := range stored {
		if o.Label != outcomes[i].Label {
			t.Errorf("outcome %d: expected %q, got %q", i, outcomes[i].Label, o.Label)
		}
	}
}

func TestCreateMarketValidation(t *testing.T) {
	db := setupTestDB(t)
	service := NewMarketService(repository.NewRepository(db), zap.NewNop())
	ctx := context.Background()

	future := time.Now().Add(time.Hour)

	_, _, err := service.Create(ctx, &models.CreateMarketRequest{
		Title: "t", Category: "c", LockTime: future,
		Outcomes: []string{"only one"},
	}, "creator")
	if !errors.Is(err, ErrBadOutcomeCount) {
		t.Errorf("single outcome: expected ErrBadOutcomeCount, got %v", err)
	}

	_, _, err = service.Create(ctx, &models.CreateMarketRequest{
		Title: "t", Category: "c", LockTime: future,
		Outcomes: []string{"a", "b", "c", "d", "e"},
	}, "creator")
	if !errors.Is(err, ErrBadOutcomeCount) {
		t.Errorf("five outcomes: expected ErrBadOutcomeCount, got %v", err)
	}

	_, _, err = service.Create(ctx, &models.CreateMarketRequest{
		Title: "t", Category: "c", LockTime: future,
		Outcomes: []string{"same", "same"},
	}, "creator")
	if err == nil {
		t.Error("duplicate labels: expected error")
	}

	_, _, err = service.Create(ctx, &models.CreateMarketRequest{
		Title: "t", Category: "c", LockTime: time.Now().Add(-time.Minute),
		Outcomes: []string{"a", "b"},
	}, "creator")
	if err == nil {
		t.Error("past lock time: expected error")
	}
}
