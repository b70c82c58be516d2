package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"prediction-engine/internal/config"
	"prediction-engine/internal/ledger"
	"prediction-engine/internal/models"
	"prediction-engine/internal/repository"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	// A named shared-cache memory DB keeps the schema alive across the
	// pooled connections gorm opens.
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to connect database: %v", err)
	}

	err = db.AutoMigrate(
		&models.Market{},
		&models.Outcome{},
		&models.Stake{},
		&models.SettlementRecord{},
	)
	if err != nil {
		t.Fatalf("failed to migrate database: %v", err)
	}

	return db
}

// fakeBroadcaster records broadcast operations and can be told to start
// failing after a number of successful calls.
type fakeBroadcaster struct {
	mu        sync.Mutex
	ops       []ledger.TransferOp
	calls     int
	failAfter int // -1 means never fail
}

func newFakeBroadcaster() *fakeBroadcaster {
	return &fakeBroadcaster{failAfter: -1}
}

func (f *fakeBroadcaster) Broadcast(_ context.Context, ops []ledger.TransferOp) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failAfter >= 0 && f.calls >= f.failAfter {
		return "", errors.New("ledger unreachable")
	}
	f.calls++
	f.ops = append(f.ops, ops...)
	return fmt.Sprintf("tx-%04d", f.calls), nil
}

func (f *fakeBroadcaster) memos() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	memos := make([]string, 0, len(f.ops))
	for _, op := range f.ops {
		memos = append(memos, op.Memo)
	}
	return memos
}

func newTestEngine(db *gorm.DB, broadcaster OperationBroadcaster) (*SettlementEngine, *repository.Repository) {
	repo := repository.NewRepository(db)
	engine := NewSettlementEngine(repo, broadcaster,
		config.LedgerConfig{
			EscrowAccount: "predict.escrow",
			BurnAccount:   "predict.burn",
			RewardAccount: "predict.reward",
			TokenSymbol:   "PRD",
		},
		config.StakeConfig{FeePercent: 0.10, BurnShare: 0.50},
		zap.NewNop())
	return engine, repo
}

type seededStake struct {
	outcome int // index into the outcome labels
	staker  string
	amount  string
}

// seedMarket creates a market with outcomes and stakes in a known order
// and a consistent total pool.
func seedMarket(t *testing.T, db *gorm.DB, status models.MarketStatus, labels []string, stakes []seededStake) (*models.Market, []models.Outcome, []models.Stake) {
	t.Helper()

	now := time.Now()
	market := &models.Market{
		ID:             uuid.New(),
		CreatorAccount: "creator",
		Title:          "Test market",
		Category:       "sports",
		LockTime:       now.Add(-time.Minute),
		Status:         status,
		TotalPool:      decimal.Zero,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	outcomes := make([]models.Outcome, len(labels))
	for i, label := range labels {
		outcomes[i] = models.Outcome{
			ID:        uuid.New(),
			MarketID:  market.ID,
			Label:     label,
			CreatedAt: now.Add(time.Duration(i) * time.Millisecond),
		}
	}

	rows := make([]models.Stake, len(stakes))
	for i, s := range stakes {
		amount, err := decimal.NewFromString(s.amount)
		if err != nil {
			t.Fatalf("bad stake amount %q: %v", s.amount, err)
		}
		rows[i] = models.Stake{
			ID:            uuid.New(),
			MarketID:      market.ID,
			OutcomeID:     outcomes[s.outcome].ID,
			StakerAccount: s.staker,
			Amount:        amount,
			StakeTxID:     fmt.Sprintf("stake-tx-%s-%d", s.staker, i),
			CreatedAt:     now.Add(time.Duration(i) * time.Millisecond),
			UpdatedAt:     now,
		}
		outcomes[s.outcome].TotalStaked = outcomes[s.outcome].TotalStaked.Add(amount)
		outcomes[s.outcome].BackerCount++
		market.TotalPool = market.TotalPool.Add(amount)
	}

	if err := db.Create(market).Error; err != nil {
		t.Fatalf("failed to seed market: %v", err)
	}
	for i := range outcomes {
		if err := db.Create(&outcomes[i]).Error; err != nil {
			t.Fatalf("failed to seed outcome: %v", err)
		}
	}
	for i := range rows {
		if err := db.Create(&rows[i]).Error; err != nil {
			t.Fatalf("failed to seed stake: %v", err)
		}
	}

	return market, outcomes, rows
}

func TestSettleDistributesPoolAndFees(t *testing.T) {
	db := setupTestDB(t)
	fb := newFakeBroadcaster()
	engine, repo := newTestEngine(db, fb)
	ctx := context.Background()

	market, outcomes, _ := seedMarket(t, db, models.MarketStatusLocked,
		[]string{"Team A", "Team B", "Draw"},
		[]seededStake{
			{0, "alice", "100"},
			{1, "bob", "100"},
			{2, "carol", "100"},
		})

	result, err := engine.Settle(ctx, market.ID, outcomes[0].ID, "admin")
	if err != nil {
		t.Fatalf("Settle failed: %v", err)
	}

	if !result.PlatformFee.Equal(decimal.NewFromInt(30)) {
		t.Errorf("fee: expected 30, got %s", result.PlatformFee)
	}
	if !result.BurnAmount.Equal(decimal.NewFromInt(15)) {
		t.Errorf("burn: expected 15, got %s", result.BurnAmount)
	}
	if !result.TotalPaid.Equal(decimal.NewFromInt(270)) {
		t.Errorf("total paid: expected 270, got %s", result.TotalPaid)
	}
	if !result.TotalPaid.Add(result.PlatformFee).Equal(result.TotalPool) {
		t.Errorf("pool not conserved: paid %s + fee %s != pool %s",
			result.TotalPaid, result.PlatformFee, result.TotalPool)
	}

	// Fee burn, fee reward, one payout
	if fb.calls != 3 {
		t.Errorf("expected 3 broadcasts, got %d", fb.calls)
	}

	settled, err := repo.GetMarket(ctx, market.ID)
	if err != nil {
		t.Fatalf("failed to reload market: %v", err)
	}
	if settled.Status != models.MarketStatusSettled {
		t.Errorf("status: expected SETTLED, got %s", settled.Status)
	}
	if settled.WinningOutcome == nil || *settled.WinningOutcome != outcomes[0].ID {
		t.Errorf("winning outcome not recorded: %v", settled.WinningOutcome)
	}
	if settled.FeeBurnTxID == nil || settled.FeeRewardTxID == nil {
		t.Error("fee tx ids not recorded")
	}

	winner, err := repo.GetOutcome(ctx, outcomes[0].ID)
	if err != nil {
		t.Fatalf("failed to reload outcome: %v", err)
	}
	if !winner.IsWinner {
		t.Error("winning outcome not flagged")
	}

	stakes, err := repo.GetStakes(ctx, market.ID)
	if err != nil {
		t.Fatalf("failed to reload stakes: %v", err)
	}
	for _, s := range stakes {
		if s.StakerAccount == "alice" {
			if s.Payout == nil || !s.Payout.Equal(decimal.NewFromInt(270)) {
				t.Errorf("alice payout not recorded: %v", s.Payout)
			}
			if s.PayoutTxID == nil {
				t.Error("alice payout tx id not recorded")
			}
		} else if s.PayoutTxID != nil {
			t.Errorf("losing stake %s has a payout tx", s.StakerAccount)
		}
	}

	record, err := repo.GetSettlementRecord(ctx, market.ID)
	if err != nil {
		t.Fatalf("failed to load settlement record: %v", err)
	}
	if record.FinalStatus != models.MarketStatusSettled {
		t.Errorf("record status: expected SETTLED, got %s", record.FinalStatus)
	}
	if record.StakesPaid != 1 {
		t.Errorf("record stakes paid: expected 1, got %d", record.StakesPaid)
	}

	// A second invocation returns the stored result without broadcasting
	again, err := engine.Settle(ctx, market.ID, outcomes[0].ID, "admin")
	if err != nil {
		t.Fatalf("repeated Settle failed: %v", err)
	}
	if !again.TotalPaid.Equal(result.TotalPaid) || !again.PlatformFee.Equal(result.PlatformFee) {
		t.Errorf("repeated Settle returned different totals: %+v", again)
	}
	if fb.calls != 3 {
		t.Errorf("repeated Settle broadcast again: %d calls", fb.calls)
	}
}

func TestSettleResumesAfterBroadcastFailure(t *testing.T) {
	db := setupTestDB(t)
	fb := newFakeBroadcaster()
	engine, repo := newTestEngine(db, fb)
	ctx := context.Background()

	market, outcomes, _ := seedMarket(t, db, models.MarketStatusLocked,
		[]string{"Team A", "Team B"},
		[]seededStake{
			{0, "alice", "50"},
			{0, "bob", "150"},
			{1, "carol", "100"},
		})

	// Fee burn, fee reward, and the first payout go through; the second
	// payout broadcast fails.
	fb.failAfter = 3
	if _, err := engine.Settle(ctx, market.ID, outcomes[0].ID, "admin"); err == nil {
		t.Fatal("expected Settle to fail on broadcast")
	}

	interrupted, err := repo.GetMarket(ctx, market.ID)
	if err != nil {
		t.Fatalf("failed to reload market: %v", err)
	}
	if interrupted.Status != models.MarketStatusSettling {
		t.Errorf("status after failure: expected SETTLING, got %s", interrupted.Status)
	}
	if interrupted.FeeBurnTxID == nil || interrupted.FeeRewardTxID == nil {
		t.Error("fee tx ids should be recorded before the payout loop")
	}

	stakes, err := repo.GetStakes(ctx, market.ID)
	if err != nil {
		t.Fatalf("failed to reload stakes: %v", err)
	}
	for _, s := range stakes {
		switch s.StakerAccount {
		case "alice":
			if s.PayoutTxID == nil {
				t.Error("alice payout should be recorded before the failure")
			}
		case "bob":
			if s.PayoutTxID != nil {
				t.Error("bob payout should not be recorded after the failure")
			}
		}
	}

	// Retry resumes from the first unrecorded broadcast
	fb.failAfter = -1
	result, err := engine.Settle(ctx, market.ID, outcomes[0].ID, "admin")
	if err != nil {
		t.Fatalf("resumed Settle failed: %v", err)
	}
	if !result.TotalPaid.Equal(decimal.NewFromInt(270)) {
		t.Errorf("total paid: expected 270, got %s", result.TotalPaid)
	}

	// 3 before the failure plus the single remaining payout
	if fb.calls != 4 {
		t.Errorf("expected 4 broadcasts total, got %d", fb.calls)
	}
	seen := make(map[string]int)
	for _, memo := range fb.memos() {
		seen[memo]++
	}
	for memo, n := range seen {
		if n > 1 {
			t.Errorf("memo %q broadcast %d times", memo, n)
		}
	}

	settled, err := repo.GetMarket(ctx, market.ID)
	if err != nil {
		t.Fatalf("failed to reload market: %v", err)
	}
	if settled.Status != models.MarketStatusSettled {
		t.Errorf("status after resume: expected SETTLED, got %s", settled.Status)
	}
}

func TestSettleNoContestRefundsEveryStake(t *testing.T) {
	db := setupTestDB(t)
	fb := newFakeBroadcaster()
	engine, repo := newTestEngine(db, fb)
	ctx := context.Background()

	// All money on one outcome: refund, no fee
	market, outcomes, _ := seedMarket(t, db, models.MarketStatusLocked,
		[]string{"Team A", "Team B"},
		[]seededStake{
			{0, "alice", "40"},
			{0, "bob", "60"},
		})

	result, err := engine.Settle(ctx, market.ID, outcomes[0].ID, "admin")
	if err != nil {
		t.Fatalf("Settle failed: %v", err)
	}

	if !result.PlatformFee.IsZero() {
		t.Errorf("no-contest fee: expected 0, got %s", result.PlatformFee)
	}
	if !result.TotalPaid.Equal(decimal.NewFromInt(100)) {
		t.Errorf("total paid: expected 100, got %s", result.TotalPaid)
	}
	if fb.calls != 2 {
		t.Errorf("expected 2 refund broadcasts, got %d", fb.calls)
	}

	refunded, err := repo.GetMarket(ctx, market.ID)
	if err != nil {
		t.Fatalf("failed to reload market: %v", err)
	}
	if refunded.Status != models.MarketStatusRefunded {
		t.Errorf("status: expected REFUNDED, got %s", refunded.Status)
	}
	if refunded.WinningOutcome == nil || *refunded.WinningOutcome != outcomes[0].ID {
		t.Error("informational winning outcome not recorded")
	}

	stakes, err := repo.GetStakes(ctx, market.ID)
	if err != nil {
		t.Fatalf("failed to reload stakes: %v", err)
	}
	for _, s := range stakes {
		if !s.Refunded || s.RefundTxID == nil {
			t.Errorf("stake %s not refunded", s.StakerAccount)
		}
	}

	record, err := repo.GetSettlementRecord(ctx, market.ID)
	if err != nil {
		t.Fatalf("failed to load settlement record: %v", err)
	}
	if record.FinalStatus != models.MarketStatusRefunded {
		t.Errorf("record status: expected REFUNDED, got %s", record.FinalStatus)
	}
	if record.StakesRefunded != 2 {
		t.Errorf("record stakes refunded: expected 2, got %d", record.StakesRefunded)
	}
}

func TestSettleWinnerWithoutBackersRefunds(t *testing.T) {
	db := setupTestDB(t)
	fb := newFakeBroadcaster()
	engine, repo := newTestEngine(db, fb)
	ctx := context.Background()

	market, outcomes, _ := seedMarket(t, db, models.MarketStatusLocked,
		[]string{"Team A", "Team B", "Draw"},
		[]seededStake{
			{0, "alice", "100"},
			{1, "bob", "100"},
		})

	// Nobody backed the draw
	result, err := engine.Settle(ctx, market.ID, outcomes[2].ID, "admin")
	if err != nil {
		t.Fatalf("Settle failed: %v", err)
	}
	if !result.PlatformFee.IsZero() {
		t.Errorf("fee: expected 0, got %s", result.PlatformFee)
	}

	refunded, err := repo.GetMarket(ctx, market.ID)
	if err != nil {
		t.Fatalf("failed to reload market: %v", err)
	}
	if refunded.Status != models.MarketStatusRefunded {
		t.Errorf("status: expected REFUNDED, got %s", refunded.Status)
	}
}

func TestSettleRejectsOpenMarket(t *testing.T) {
	db := setupTestDB(t)
	engine, _ := newTestEngine(db, newFakeBroadcaster())

	market, outcomes, _ := seedMarket(t, db, models.MarketStatusOpen,
		[]string{"Team A", "Team B"},
		[]seededStake{{0, "alice", "100"}, {1, "bob", "100"}})

	_, err := engine.Settle(context.Background(), market.ID, outcomes[0].ID, "admin")
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestSettleRejectsForeignOutcome(t *testing.T) {
	db := setupTestDB(t)
	fb := newFakeBroadcaster()
	engine, _ := newTestEngine(db, fb)
	ctx := context.Background()

	market, outcomes, _ := seedMarket(t, db, models.MarketStatusLocked,
		[]string{"Team A", "Team B"},
		[]seededStake{{0, "alice", "100"}, {1, "bob", "100"}})

	_, err := engine.Settle(ctx, market.ID, uuid.New(), "admin")
	if !errors.Is(err, ErrUnknownOutcome) {
		t.Fatalf("expected ErrUnknownOutcome, got %v", err)
	}
	if fb.calls != 0 {
		t.Errorf("nothing should be broadcast, got %d calls", fb.calls)
	}

	// The market sits in SETTLING; a retry with a valid outcome completes
	if _, err := engine.Settle(ctx, market.ID, outcomes[0].ID, "admin"); err != nil {
		t.Fatalf("retry with valid outcome failed: %v", err)
	}
}

func TestVoidRefundsAndIsIdempotent(t *testing.T) {
	db := setupTestDB(t)
	fb := newFakeBroadcaster()
	engine, repo := newTestEngine(db, fb)
	ctx := context.Background()

	market, _, _ := seedMarket(t, db, models.MarketStatusOpen,
		[]string{"Team A", "Team B"},
		[]seededStake{
			{0, "alice", "25"},
			{1, "bob", "75"},
		})

	if err := engine.Void(ctx, market.ID, "match postponed indefinitely", "admin"); err != nil {
		t.Fatalf("Void failed: %v", err)
	}

	voided, err := repo.GetMarket(ctx, market.ID)
	if err != nil {
		t.Fatalf("failed to reload market: %v", err)
	}
	if voided.Status != models.MarketStatusRefunded {
		t.Errorf("status: expected REFUNDED, got %s", voided.Status)
	}
	if !voided.Voided || voided.VoidReason == nil || *voided.VoidReason != "match postponed indefinitely" {
		t.Error("void reason not recorded")
	}

	stakes, err := repo.GetStakes(ctx, market.ID)
	if err != nil {
		t.Fatalf("failed to reload stakes: %v", err)
	}
	for _, s := range stakes {
		if !s.Refunded || s.RefundTxID == nil {
			t.Errorf("stake %s not refunded", s.StakerAccount)
		}
	}
	if fb.calls != 2 {
		t.Errorf("expected 2 refund broadcasts, got %d", fb.calls)
	}

	// Voiding an already refunded market is a no-op
	if err := engine.Void(ctx, market.ID, "again", "admin"); err != nil {
		t.Fatalf("repeated Void failed: %v", err)
	}
	if fb.calls != 2 {
		t.Errorf("repeated Void broadcast again: %d calls", fb.calls)
	}
}

func TestVoidRejectsSettledMarket(t *testing.T) {
	db := setupTestDB(t)
	engine, _ := newTestEngine(db, newFakeBroadcaster())

	market, _, _ := seedMarket(t, db, models.MarketStatusSettled,
		[]string{"Team A", "Team B"}, nil)

	err := engine.Void(context.Background(), market.ID, "too late", "admin")
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestLockDue(t *testing.T) {
	db := setupTestDB(t)
	engine, repo := newTestEngine(db, newFakeBroadcaster())
	ctx := context.Background()

	due, _, _ := seedMarket(t, db, models.MarketStatusOpen,
		[]string{"Team A", "Team B"}, nil)

	notDue := &models.Market{
		ID:             uuid.New(),
		CreatorAccount: "creator",
		Title:          "Future market",
		Category:       "sports",
		LockTime:       time.Now().Add(time.Hour),
		Status:         models.MarketStatusOpen,
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}
	if err := db.Create(notDue).Error; err != nil {
		t.Fatalf("failed to seed market: %v", err)
	}

	n, err := engine.LockDue(ctx)
	if err != nil {
		t.Fatalf("LockDue failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 locked market, got %d", n)
	}

	locked, err := repo.GetMarket(ctx, due.ID)
	if err != nil {
		t.Fatalf("failed to reload market: %v", err)
	}
	if locked.Status != models.MarketStatusLocked {
		t.Errorf("due market status: expected LOCKED, got %s", locked.Status)
	}

	still, err := repo.GetMarket(ctx, notDue.ID)
	if err != nil {
		t.Fatalf("failed to reload market: %v", err)
	}
	if still.Status != models.MarketStatusOpen {
		t.Errorf("future market status: expected OPEN, got %s", still.Status)
	}
}
