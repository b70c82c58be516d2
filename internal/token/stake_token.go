// Package token issues and validates the short-lived signed tokens that
// bind a quoted stake's terms between quote and on-ledger confirmation.
package token

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"prediction-engine/internal/config"
)

var (
	// ErrInvalidToken covers malformed tokens and signature mismatches
	ErrInvalidToken = errors.New("stake token invalid")
	// ErrTokenExpired means the token's validity window has elapsed
	ErrTokenExpired = errors.New("stake token expired")
)

// Data is the stake-terms tuple a token binds
type Data struct {
	MarketID  uuid.UUID       `json:"market_id"`
	Staker    string          `json:"staker"`
	OutcomeID uuid.UUID       `json:"outcome_id"`
	Amount    decimal.Decimal `json:"amount"`
	ExpiresAt int64           `json:"expires_at"`
}

// Tokenizer signs, verifies, and tracks one-time consumption of stake
// tokens. The consumption cache is best effort: when it is unavailable the
// unique stake_tx_id constraint at persistence time is the backstop.
type Tokenizer struct {
	secret []byte
	ttl    time.Duration
	cache  *redis.Client
	log    *zap.SugaredLogger
	now    func() time.Time
}

// NewTokenizer builds a tokenizer from injected configuration. A missing
// secret is fatal in production; outside production a fixed development
// secret is used with a logged warning.
func NewTokenizer(cfg config.StakeConfig, production bool, cache *redis.Client, log *zap.Logger) (*Tokenizer, error) {
	secret := cfg.TokenSecret
	if secret == "" {
		if production {
			return nil, errors.New("stake token secret is required in production")
		}
		log.Warn("STAKE_TOKEN_SECRET not set, using development fallback")
		secret = config.DevStakeTokenSecret
	}

	return &Tokenizer{
		secret: []byte(secret),
		ttl:    cfg.TokenTTL,
		cache:  cache,
		log:    log.Sugar(),
		now:    time.Now,
	}, nil
}

// Issue builds a signed token for the stake terms, valid for the
// configured window
func (t *Tokenizer) Issue(marketID uuid.UUID, staker string, outcomeID uuid.UUID, amount decimal.Decimal) (string, time.Time, error) {
	expiresAt := t.now().Add(t.ttl)

	payload, err := json.Marshal(Data{
		MarketID:  marketID,
		Staker:    staker,
		OutcomeID: outcomeID,
		Amount:    amount,
		ExpiresAt: expiresAt.Unix(),
	})
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to marshal stake token payload: %w", err)
	}

	encoded := base64.RawURLEncoding.EncodeToString(payload)
	return encoded + "." + t.sign(encoded), expiresAt, nil
}

// Verify checks the token signature and expiry and returns the bound
// stake terms. Malformed input yields ErrInvalidToken, never a panic.
func (t *Tokenizer) Verify(tok string) (*Data, error) {
	idx := strings.LastIndex(tok, ".")
	if idx <= 0 || idx == len(tok)-1 {
		return nil, ErrInvalidToken
	}

	encoded, sig := tok[:idx], tok[idx+1:]
	if !hmac.Equal([]byte(t.sign(encoded)), []byte(sig)) {
		return nil, ErrInvalidToken
	}

	payload, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, ErrInvalidToken
	}

	var data Data
	if err := json.Unmarshal(payload, &data); err != nil {
		return nil, ErrInvalidToken
	}

	if data.ExpiresAt <= t.now().Unix() {
		return nil, ErrTokenExpired
	}

	return &data, nil
}

// IsConsumed reports whether the token was already redeemed. Cache outages
// degrade to "not consumed".
func (t *Tokenizer) IsConsumed(ctx context.Context, tok string) bool {
	if t.cache == nil {
		return false
	}

	_, err := t.cache.Get(ctx, consumedKey(tok)).Result()
	if err == redis.Nil {
		return false
	}
	if err != nil {
		t.log.Warnw("stake token cache unavailable, treating token as not consumed", "error", err)
		return false
	}
	return true
}

// Consume marks the token as redeemed for the remainder of its validity
// window. Failures are logged, not fatal.
func (t *Tokenizer) Consume(ctx context.Context, tok, meta string) {
	if t.cache == nil {
		return
	}

	if err := t.cache.Set(ctx, consumedKey(tok), meta, t.ttl).Err(); err != nil {
		t.log.Warnw("failed to mark stake token consumed", "error", err)
	}
}

func (t *Tokenizer) sign(payload string) string {
	mac := hmac.New(sha256.New, t.secret)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// consumedKey hashes the token so the raw signed value never lands in the
// cache
func consumedKey(tok string) string {
	sum := sha256.Sum256([]byte(tok))
	return "stake-token:" + hex.EncodeToString(sum[:])
}
