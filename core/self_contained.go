package core

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/eth2030/ledgercore/core/types"
)

// RecoveredCall is an envelope together with its recovered signer. It lives
// for one validation and execution and is never persisted.
type RecoveredCall struct {
	Tx   *types.Transaction
	From types.Address
}

// SelfContainedCall makes a RecoveredCall dispatchable. The Ethereum
// signature stands in for the native origin check.
type SelfContainedCall struct {
	RecoveredCall
}

// NewSelfContainedCall recovers the signer of tx.
func NewSelfContainedCall(tx *types.Transaction) (*SelfContainedCall, error) {
	if tx == nil {
		return nil, fmt.Errorf("%w: nil envelope", types.ErrDecode)
	}
	from, err := types.Sender(tx)
	if err != nil {
		return nil, err
	}
	return &SelfContainedCall{RecoveredCall{Tx: tx, From: from}}, nil
}

// DecodeSelfContained decodes raw envelope bytes and recovers the signer.
func DecodeSelfContained(raw []byte) (*SelfContainedCall, error) {
	tx, err := types.DecodeTransaction(raw)
	if err != nil {
		return nil, err
	}
	return NewSelfContainedCall(tx)
}

func (c *SelfContainedCall) Hash() types.Hash           { return c.Tx.Hash() }
func (c *SelfContainedCall) Origin() types.Address      { return c.From }
func (c *SelfContainedCall) Nonce() uint64              { return c.Tx.Nonce() }
func (c *SelfContainedCall) GasLimit() uint64           { return c.Tx.Gas() }
func (c *SelfContainedCall) Native() bool               { return false }
func (c *SelfContainedCall) Extrinsic() types.Extrinsic { return types.Extrinsic{Tx: c.Tx} }
func (c *SelfContainedCall) dispatchable()              {}

// Validate implements Dispatchable.
func (c *SelfContainedCall) Validate(ctx *ExecContext) (Validity, error) {
	return ValidateSelfContained(ctx, &c.RecoveredCall)
}

// Dispatch implements Dispatchable.
func (c *SelfContainedCall) Dispatch(ctx *ExecContext) (*types.Receipt, error) {
	res, err := ctx.Bridge.ApplySelfContained(ctx, c)
	if err != nil {
		return nil, err
	}
	return res.Receipt, nil
}

// GasAccounting is the per-call gas record.
type GasAccounting struct {
	GasLimit          uint64
	GasUsed           uint64
	EffectiveGasPrice *uint256.Int
	BaseFee           *uint256.Int
}

// NewGasAccounting prices tx against baseFee.
func NewGasAccounting(tx *types.Transaction, baseFee *uint256.Int) GasAccounting {
	return GasAccounting{
		GasLimit:          tx.Gas(),
		EffectiveGasPrice: tx.EffectiveGasPrice(baseFee),
		BaseFee:           new(uint256.Int).Set(baseFee),
	}
}

// Tip returns the per-gas payment above the base fee.
func (g GasAccounting) Tip() *uint256.Int {
	if g.EffectiveGasPrice.Lt(g.BaseFee) {
		return new(uint256.Int)
	}
	return new(uint256.Int).Sub(g.EffectiveGasPrice, g.BaseFee)
}

// ValidateSelfContained checks a recovered call against chain state. The
// checks run in a fixed order and the first failure wins: chain id, nonce,
// intrinsic gas, balance, price.
func ValidateSelfContained(ctx *ExecContext, call *RecoveredCall) (Validity, error) {
	var (
		tx  = call.Tx
		cfg = ctx.Bridge.Config()
	)
	if tx.Protected() && tx.ChainID() != cfg.ChainID {
		return Validity{}, invalidf(ErrChainIDMismatch, "have %d, want %d", tx.ChainID(), cfg.ChainID)
	}

	gap, err := checkNonce(ctx.State, call.From, tx.Nonce())
	if err != nil {
		return Validity{}, err
	}

	if tx.IsContractCreation() && len(tx.Data()) > MaxInitCodeSize {
		return Validity{}, invalidf(ErrIntrinsicGas, "init code size %d exceeds %d", len(tx.Data()), MaxInitCodeSize)
	}
	intrinsic, ok := IntrinsicGas(tx.Data(), tx.AccessList(), tx.IsContractCreation())
	if !ok || intrinsic > tx.Gas() {
		return Validity{}, invalidf(ErrIntrinsicGas, "have %d, want %d", tx.Gas(), intrinsic)
	}
	if tx.Gas() > cfg.BlockGasLimit {
		return Validity{}, invalidf(ErrBlockGasExhausted, "gas %d above block limit %d", tx.Gas(), cfg.BlockGasLimit)
	}

	current := ctx.Bridge.Fees().Current()
	acct := NewGasAccounting(tx, current)
	cost, overflow := new(uint256.Int).MulOverflow(uint256.NewInt(tx.Gas()), acct.EffectiveGasPrice)
	if overflow {
		return Validity{}, fatalf("gas cost overflow: %d * %s", tx.Gas(), acct.EffectiveGasPrice)
	}
	if _, overflow := cost.AddOverflow(cost, tx.Value()); overflow {
		return Validity{}, fatalf("gas cost plus value overflow for %s", tx.Hash())
	}
	if balance := ctx.State.GetBalance(call.From); balance.Lt(cost) {
		return Validity{}, invalidf(ErrInsufficientBalance, "address %s have %s want %s", call.From, balance, cost)
	}

	if tx.Type() == types.DynamicFeeTxType {
		if tx.GasFeeCap().Lt(current) {
			return Validity{}, invalidf(ErrUnderpricedFee, "max fee %s below base fee %s", tx.GasFeeCap(), current)
		}
		if tx.GasTipCap().Gt(tx.GasFeeCap()) {
			return Validity{}, invalidf(ErrUnderpricedFee, "max priority fee %s above max fee %s", tx.GasTipCap(), tx.GasFeeCap())
		}
	} else if tx.GasPrice().Lt(current) {
		return Validity{}, invalidf(ErrUnderpricedFee, "gas price %s below minimum %s", tx.GasPrice(), current)
	}

	return Validity{
		Priority:  futurePriority(saturate(acct.Tip()), gap),
		Longevity: cfg.TxLongevity,
		Future:    gap > 0,
	}, nil
}
