package jobs

import (
	"testing"

	"github.com/google/uuid"

	"prediction-engine/internal/feed"
	"prediction-engine/internal/models"
)

func outcomeSet(labels ...string) []models.Outcome {
	outcomes := make([]models.Outcome, len(labels))
	for i, label := range labels {
		outcomes[i] = models.Outcome{ID: uuid.New(), Label: label}
	}
	return outcomes
}

func TestMatchWinningOutcomeHomeWin(t *testing.T) {
	outcomes := outcomeSet("Arsenal wins", "Chelsea wins", "Draw")
	result := &feed.MatchResult{
		HomeTeam: "Arsenal", AwayTeam: "Chelsea",
		HomeScore: 2, AwayScore: 1, Status: "finished",
	}

	winner, ok := matchWinningOutcome(outcomes, result)
	if !ok {
		t.Fatal("expected a single match")
	}
	if winner != outcomes[0].ID {
		t.Errorf("expected %s, got %s", outcomes[0].ID, winner)
	}
}

func TestMatchWinningOutcomeAwayWin(t *testing.T) {
	outcomes := outcomeSet("Arsenal wins", "Chelsea wins", "Draw")
	result := &feed.MatchResult{
		HomeTeam: "Arsenal", AwayTeam: "Chelsea",
		HomeScore: 0, AwayScore: 3, Status: "finished",
	}

	winner, ok := matchWinningOutcome(outcomes, result)
	if !ok {
		t.Fatal("expected a single match")
	}
	if winner != outcomes[1].ID {
		t.Errorf("expected %s, got %s", outcomes[1].ID, winner)
	}
}

func TestMatchWinningOutcomeDraw(t *testing.T) {
	outcomes := outcomeSet("Arsenal wins", "Chelsea wins", "Draw")
	result := &feed.MatchResult{
		HomeTeam: "Arsenal", AwayTeam: "Chelsea",
		HomeScore: 1, AwayScore: 1, Status: "finished",
	}

	winner, ok := matchWinningOutcome(outcomes, result)
	if !ok {
		t.Fatal("expected a single match")
	}
	if winner != outcomes[2].ID {
		t.Errorf("expected %s, got %s", outcomes[2].ID, winner)
	}
}

func TestMatchWinningOutcomeAmbiguous(t *testing.T) {
	// Both labels mention the winning team
	outcomes := outcomeSet("Arsenal wins 2-1", "Arsenal wins by more", "Chelsea wins")
	result := &feed.MatchResult{
		HomeTeam: "Arsenal", AwayTeam: "Chelsea",
		HomeScore: 2, AwayScore: 1, Status: "finished",
	}

	if _, ok := matchWinningOutcome(outcomes, result); ok {
		t.Fatal("ambiguous result should not resolve")
	}
}

func TestMatchWinningOutcomeNoMatch(t *testing.T) {
	outcomes := outcomeSet("Yes", "No")
	result := &feed.MatchResult{
		HomeTeam: "Arsenal", AwayTeam: "Chelsea",
		HomeScore: 2, AwayScore: 1, Status: "finished",
	}

	if _, ok := matchWinningOutcome(outcomes, result); ok {
		t.Fatal("unrelated labels should not resolve")
	}
}

func TestMatchWinningOutcomeMultiWordTeam(t *testing.T) {
	outcomes := outcomeSet("United take it", "City take it", "Draw")
	result := &feed.MatchResult{
		HomeTeam: "Manchester United", AwayTeam: "Manchester City",
		HomeScore: 1, AwayScore: 0, Status: "finished",
	}

	winner, ok := matchWinningOutcome(outcomes, result)
	if !ok {
		t.Fatal("expected a single match")
	}
	if winner != outcomes[0].ID {
		t.Errorf("expected %s, got %s", outcomes[0].ID, winner)
	}
}

func TestTeamKeywordsSkipsShortWords(t *testing.T) {
	keywords := teamKeywords("FC St Pauli")
	for _, kw := range keywords {
		if kw != "fc st pauli" && len(kw) < 3 {
			t.Errorf("short word %q should be skipped", kw)
		}
	}

	if len(teamKeywords("   ")) != 0 {
		t.Error("blank team should yield no keywords")
	}
}
