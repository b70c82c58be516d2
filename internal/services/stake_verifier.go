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
)

// Specific verification mismatch reasons, so callers can surface an
// actionable error instead of a generic failure.
var (
	ErrStakeTxNotFound         = errors.New("stake transaction not found on ledger")
	ErrStakeAmountMismatch     = errors.New("stake transfer amount does not match quoted amount")
	ErrStakeMemoMismatch       = errors.New("stake transfer memo does not match market and outcome")
	ErrStakeNoMatchingTransfer = errors.New("no escrow transfer from staker found in transaction")
)

// quantityEpsilon tolerates fixed-point formatting differences in the
// ledger quantity string.
var quantityEpsilon = decimal.New(5, -4) // 0.0005

// maxVerifyRetries bounds the wait-for-confirmation loop
const maxVerifyRetries = 5

// TransactionReader is the ledger read collaborator
type TransactionReader interface {
	GetTransaction(ctx context.Context, txID string) (*ledger.Transaction, error)
}

// StakeVerifier confirms a claimed stake deposit actually occurred on the
// ledger with the expected sender, recipient, amount, and memo. It never
// mutates anything and is safe to call repeatedly.
type StakeVerifier struct {
	reader        TransactionReader
	escrowAccount string
	tokenSymbol   string
	blockInterval time.Duration
	maxRetries    int
	log           *zap.SugaredLogger
}

func NewStakeVerifier(reader TransactionReader, cfg config.LedgerConfig, log *zap.Logger) *StakeVerifier {
	return &StakeVerifier{
		reader:        reader,
		escrowAccount: cfg.EscrowAccount,
		tokenSymbol:   cfg.TokenSymbol,
		blockInterval: cfg.BlockInterval,
		maxRetries:    maxVerifyRetries,
		log:           log.Sugar(),
	}
}

// Verify fetches the transaction, waiting out asynchronous block
// confirmation with linear backoff, and scans its operations for a bridge
// transfer matching every expected term. It returns the matched transfer,
// or the most specific mismatch reason it saw.
func (v *StakeVerifier) Verify(ctx context.Context, txID, staker string, amount decimal.Decimal, marketID, outcomeID uuid.UUID) (*ledger.TransferData, error) {
	tx, err := v.fetchWithRetry(ctx, txID)
	if err != nil {
		return nil, err
	}

	wantMemo := ledger.StakeMemo(marketID, outcomeID)
	mismatch := ErrStakeNoMatchingTransfer

	for _, op := range tx.Operations {
		if op.Kind != ledger.OpKindBridgeTransfer {
			continue
		}
		if !op.AuthorizedBy(staker) {
			continue
		}

		transfer, ok := op.DecodeTransfer()
		if !ok {
			continue
		}
		if transfer.To != v.escrowAccount {
			continue
		}

		got, symbol, err := ledger.ParseQuantity(transfer.Quantity)
		if err != nil || symbol != v.tokenSymbol {
			continue
		}

		if got.Sub(amount).Abs().GreaterThan(quantityEpsilon) {
			mismatch = ErrStakeAmountMismatch
			continue
		}
		if transfer.Memo != wantMemo {
			mismatch = ErrStakeMemoMismatch
			continue
		}

		v.log.Infow("stake transfer verified",
			"tx_id", txID, "staker", staker, "quantity", transfer.Quantity, "memo", transfer.Memo)
		return transfer, nil
	}

	return nil, mismatch
}

func (v *StakeVerifier) fetchWithRetry(ctx context.Context, txID string) (*ledger.Transaction, error) {
	for attempt := 0; ; attempt++ {
		tx, err := v.reader.GetTransaction(ctx, txID)
		if err == nil {
			return tx, nil
		}
		if !errors.Is(err, ledger.ErrTxNotFound) {
			return nil, fmt.Errorf("ledger read failed: %w", err)
		}
		if attempt >= v.maxRetries {
			return nil, ErrStakeTxNotFound
		}

		// Linear backoff: one block interval, then two, then three...
		delay := v.blockInterval * time.Duration(attempt+1)
		v.log.Debugw("transaction not confirmed yet, retrying", "tx_id", txID, "attempt", attempt+1, "delay", delay)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
}
