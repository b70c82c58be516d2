package jobs

import (
	"context"
	"time"

	"go.uber.org/zap"

	"prediction-engine/internal/services"
)

// MarketLocker periodically flips open markets past their lock time to
// LOCKED. Locking has no side effects beyond the status flag, so the
// sweep is safe to run from multiple instances.
type MarketLocker struct {
	engine   *services.SettlementEngine
	interval time.Duration
	stopChan chan struct{}
	log      *zap.SugaredLogger
}

func NewMarketLocker(engine *services.SettlementEngine, interval time.Duration, log *zap.Logger) *MarketLocker {
	return &MarketLocker{
		engine:   engine,
		interval: interval,
		stopChan: make(chan struct{}),
		log:      log.Sugar(),
	}
}

// Start begins the lock sweep loop
func (ml *MarketLocker) Start() {
	ml.log.Infow("starting market lock sweep", "interval", ml.interval)

	ticker := time.NewTicker(ml.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := ml.engine.LockDue(context.Background()); err != nil {
				ml.log.Errorw("lock sweep failed", "error", err)
			}
		case <-ml.stopChan:
			ml.log.Info("stopping market lock sweep")
			return
		}
	}
}

// Stop stops the lock sweep loop
func (ml *MarketLocker) Stop() {
	close(ml.stopChan)
}
