package ledger

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Structured memo patterns. Every escrow money movement carries one of
// these so on-chain history is independently auditable.
const (
	memoStake     = "prediction-stake|%s|%s"
	memoPayout    = "prediction-payout|%s"
	memoRefund    = "prediction-refund|%s"
	memoFeeBurn   = "prediction-fee-burn|%s"
	memoFeeReward = "prediction-fee-reward|%s"
)

// StakeMemo is the memo a client's escrow deposit must carry
func StakeMemo(marketID, outcomeID uuid.UUID) string {
	return fmt.Sprintf(memoStake, marketID, outcomeID)
}

// PayoutMemo tags a winning stake's payout transfer
func PayoutMemo(stakeID uuid.UUID) string {
	return fmt.Sprintf(memoPayout, stakeID)
}

// RefundMemo tags a stake refund transfer
func RefundMemo(stakeID uuid.UUID) string {
	return fmt.Sprintf(memoRefund, stakeID)
}

// FeeBurnMemo tags the burn share of the platform fee
func FeeBurnMemo(marketID uuid.UUID) string {
	return fmt.Sprintf(memoFeeBurn, marketID)
}

// FeeRewardMemo tags the reward-pool share of the platform fee
func FeeRewardMemo(marketID uuid.UUID) string {
	return fmt.Sprintf(memoFeeReward, marketID)
}

// TransferOp is one transfer instruction ready for broadcast
type TransferOp struct {
	From     string          `json:"from"`
	To       string          `json:"to"`
	Amount   decimal.Decimal `json:"-"`
	Symbol   string          `json:"-"`
	Quantity string          `json:"quantity"`
	Memo     string          `json:"memo"`
}

// BuildTransfer is the shared primitive every other builder composes
func BuildTransfer(from, to string, amount decimal.Decimal, symbol, memo string) TransferOp {
	return TransferOp{
		From:     from,
		To:       to,
		Amount:   amount,
		Symbol:   symbol,
		Quantity: FormatQuantity(amount, symbol),
		Memo:     memo,
	}
}

// BuildStakeEscrowOp builds the deposit transfer a staker broadcasts to
// the escrow account
func BuildStakeEscrowOp(staker, escrow string, amount decimal.Decimal, symbol string, marketID, outcomeID uuid.UUID) TransferOp {
	return BuildTransfer(staker, escrow, amount, symbol, StakeMemo(marketID, outcomeID))
}

// Payment is one (recipient, amount, stake) payout or refund decision
type Payment struct {
	StakeID   uuid.UUID
	Recipient string
	Amount    decimal.Decimal
}

// BuildPayoutOps turns payout decisions into escrow transfer instructions
func BuildPayoutOps(escrow, symbol string, payouts []Payment) []TransferOp {
	ops := make([]TransferOp, 0, len(payouts))
	for _, p := range payouts {
		ops = append(ops, BuildTransfer(escrow, p.Recipient, p.Amount, symbol, PayoutMemo(p.StakeID)))
	}
	return ops
}

// BuildRefundOps turns refund decisions into escrow transfer instructions
func BuildRefundOps(escrow, symbol string, refunds []Payment) []TransferOp {
	ops := make([]TransferOp, 0, len(refunds))
	for _, r := range refunds {
		ops = append(ops, BuildTransfer(escrow, r.Recipient, r.Amount, symbol, RefundMemo(r.StakeID)))
	}
	return ops
}

// BuildFeeOps builds the fee-burn and fee-reward transfers, in broadcast
// order. A zero share produces no instruction.
func BuildFeeOps(escrow, burnAccount, rewardAccount, symbol string, marketID uuid.UUID, burn, reward decimal.Decimal) []TransferOp {
	var ops []TransferOp
	if burn.IsPositive() {
		ops = append(ops, BuildTransfer(escrow, burnAccount, burn, symbol, FeeBurnMemo(marketID)))
	}
	if reward.IsPositive() {
		ops = append(ops, BuildTransfer(escrow, rewardAccount, reward, symbol, FeeRewardMemo(marketID)))
	}
	return ops
}
