// Package feed reads finished-match results from the external sport
// result oracle.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// MatchResult is one finished match as reported by the feed
type MatchResult struct {
	MatchID   string `json:"match_id"`
	HomeTeam  string `json:"home_team"`
	AwayTeam  string `json:"away_team"`
	HomeScore int    `json:"home_score"`
	AwayScore int    `json:"away_score"`
	Status    string `json:"status"` // scheduled, live, finished, cancelled
}

// Finished reports whether the match has a final result
func (m *MatchResult) Finished() bool {
	return m.Status == "finished"
}

// Cancelled reports whether the match was called off
func (m *MatchResult) Cancelled() bool {
	return m.Status == "cancelled"
}

// Client fetches match results over the feed's JSON HTTP API
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// GetResult fetches the result for one match reference
func (c *Client) GetResult(ctx context.Context, matchRef string) (*MatchResult, error) {
	endpoint := fmt.Sprintf("%s/v1/matches/%s", c.baseURL, url.PathEscape(matchRef))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("result feed request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read feed response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("result feed returned status %d", resp.StatusCode)
	}

	var result MatchResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to decode match result: %w", err)
	}
	return &result, nil
}
