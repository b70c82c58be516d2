package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"prediction-engine/internal/config"
	"prediction-engine/internal/ledger"
)

// fakeLedgerReader serves one canned transaction, optionally after a few
// not-found responses to exercise the confirmation wait.
type fakeLedgerReader struct {
	tx            *ledger.Transaction
	notFoundTimes int
	calls         int
}

func (f *fakeLedgerReader) GetTransaction(_ context.Context, txID string) (*ledger.Transaction, error) {
	f.calls++
	if f.calls <= f.notFoundTimes {
		return nil, ledger.ErrTxNotFound
	}
	if f.tx == nil {
		return nil, ledger.ErrTxNotFound
	}
	return f.tx, nil
}

func bridgeTransferOp(t *testing.T, authorizer, from, to, quantity, memo string) ledger.Operation {
	t.Helper()
	data, err := json.Marshal(ledger.TransferData{From: from, To: to, Quantity: quantity, Memo: memo})
	if err != nil {
		t.Fatalf("failed to marshal transfer: %v", err)
	}
	return ledger.Operation{
		Kind:        ledger.OpKindBridgeTransfer,
		Authorizers: []string{authorizer},
		Data:        data,
	}
}

func newTestVerifier(reader TransactionReader) *StakeVerifier {
	return NewStakeVerifier(reader, config.LedgerConfig{
		EscrowAccount: "predict.escrow",
		TokenSymbol:   "PRD",
		BlockInterval: time.Millisecond,
	}, zap.NewNop())
}

func TestVerifyMatchesStakeTransfer(t *testing.T) {
	marketID := uuid.New()
	outcomeID := uuid.New()
	memo := ledger.StakeMemo(marketID, outcomeID)

	reader := &fakeLedgerReader{tx: &ledger.Transaction{
		ID: "tx-1",
		Operations: []ledger.Operation{
			{Kind: "vote", Authorizers: []string{"alice"}, Data: []byte(`{}`)},
			bridgeTransferOp(t, "alice", "alice", "predict.escrow", "100.000 PRD", memo),
		},
	}}

	transfer, err := newTestVerifier(reader).Verify(context.Background(),
		"tx-1", "alice", decimal.NewFromInt(100), marketID, outcomeID)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if transfer.Quantity != "100.000 PRD" {
		t.Errorf("quantity: expected %q, got %q", "100.000 PRD", transfer.Quantity)
	}
}

func TestVerifyWaitsForConfirmation(t *testing.T) {
	marketID := uuid.New()
	outcomeID := uuid.New()
	memo := ledger.StakeMemo(marketID, outcomeID)

	reader := &fakeLedgerReader{
		notFoundTimes: 2,
		tx: &ledger.Transaction{
			ID: "tx-1",
			Operations: []ledger.Operation{
				bridgeTransferOp(t, "alice", "alice", "predict.escrow", "100.000 PRD", memo),
			},
		},
	}

	_, err := newTestVerifier(reader).Verify(context.Background(),
		"tx-1", "alice", decimal.NewFromInt(100), marketID, outcomeID)
	if err != nil {
		t.Fatalf("Verify failed after retries: %v", err)
	}
	if reader.calls != 3 {
		t.Errorf("expected 3 ledger reads, got %d", reader.calls)
	}
}

func TestVerifyTransactionNeverConfirms(t *testing.T) {
	reader := &fakeLedgerReader{notFoundTimes: 100}

	_, err := newTestVerifier(reader).Verify(context.Background(),
		"tx-1", "alice", decimal.NewFromInt(100), uuid.New(), uuid.New())
	if !errors.Is(err, ErrStakeTxNotFound) {
		t.Fatalf("expected ErrStakeTxNotFound, got %v", err)
	}
	if reader.calls != maxVerifyRetries+1 {
		t.Errorf("expected %d ledger reads, got %d", maxVerifyRetries+1, reader.calls)
	}
}

func TestVerifyAmountMismatch(t *testing.T) {
	marketID := uuid.New()
	outcomeID := uuid.New()
	memo := ledger.StakeMemo(marketID, outcomeID)

	reader := &fakeLedgerReader{tx: &ledger.Transaction{
		ID: "tx-1",
		Operations: []ledger.Operation{
			bridgeTransferOp(t, "alice", "alice", "predict.escrow", "99.000 PRD", memo),
		},
	}}

	_, err := newTestVerifier(reader).Verify(context.Background(),
		"tx-1", "alice", decimal.NewFromInt(100), marketID, outcomeID)
	if !errors.Is(err, ErrStakeAmountMismatch) {
		t.Fatalf("expected ErrStakeAmountMismatch, got %v", err)
	}
}

func TestVerifyMemoMismatch(t *testing.T) {
	marketID := uuid.New()
	outcomeID := uuid.New()

	reader := &fakeLedgerReader{tx: &ledger.Transaction{
		ID: "tx-1",
		Operations: []ledger.Operation{
			bridgeTransferOp(t, "alice", "alice", "predict.escrow", "100.000 PRD",
				ledger.StakeMemo(marketID, uuid.New())),
		},
	}}

	_, err := newTestVerifier(reader).Verify(context.Background(),
		"tx-1", "alice", decimal.NewFromInt(100), marketID, outcomeID)
	if !errors.Is(err, ErrStakeMemoMismatch) {
		t.Fatalf("expected ErrStakeMemoMismatch, got %v", err)
	}
}

func TestVerifyIgnoresUnrelatedTransfers(t *testing.T) {
	marketID := uuid.New()
	outcomeID := uuid.New()
	memo := ledger.StakeMemo(marketID, outcomeID)

	reader := &fakeLedgerReader{tx: &ledger.Transaction{
		ID: "tx-1",
		Operations: []ledger.Operation{
			// Wrong sender authorization
			bridgeTransferOp(t, "mallory", "mallory", "predict.escrow", "100.000 PRD", memo),
			// Wrong recipient
			bridgeTransferOp(t, "alice", "alice", "someone.else", "100.000 PRD", memo),
			// Wrong token
			bridgeTransferOp(t, "alice", "alice", "predict.escrow", "100.000 OTHER", memo),
		},
	}}

	_, err := newTestVerifier(reader).Verify(context.Background(),
		"tx-1", "alice", decimal.NewFromInt(100), marketID, outcomeID)
	if !errors.Is(err, ErrStakeNoMatchingTransfer) {
		t.Fatalf("expected ErrStakeNoMatchingTransfer, got %v", err)
	}
}
