package core

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/eth2030/ledgercore/core/types"
)

// RemarkTopic is the topic of the log a remark call emits.
var RemarkTopic = types.Keccak256Hash([]byte("Remarked(address,bytes)"))

// NativeDispatch wraps a natively-signed call.
type NativeDispatch struct {
	Call *types.NativeCall
}

// NewNativeDispatch checks the call's signature and wraps it.
func NewNativeDispatch(c *types.NativeCall) (*NativeDispatch, error) {
	if c == nil {
		return nil, fmt.Errorf("%w: nil native call", types.ErrDecode)
	}
	if err := c.VerifySignature(); err != nil {
		return nil, err
	}
	return &NativeDispatch{Call: c}, nil
}

func (n *NativeDispatch) Hash() types.Hash           { return n.Call.Hash() }
func (n *NativeDispatch) Origin() types.Address      { return n.Call.Origin }
func (n *NativeDispatch) Nonce() uint64              { return n.Call.Nonce }
func (n *NativeDispatch) GasLimit() uint64           { return NativeWeight(n.Call.Function) }
func (n *NativeDispatch) Native() bool               { return true }
func (n *NativeDispatch) Extrinsic() types.Extrinsic { return types.Extrinsic{Native: n.Call} }
func (n *NativeDispatch) dispatchable()              {}

func (n *NativeDispatch) value() *uint256.Int {
	if n.Call.Function != types.FuncTransfer || n.Call.Value == nil {
		return new(uint256.Int)
	}
	return n.Call.Value
}

func (n *NativeDispatch) tip() *uint256.Int {
	if n.Call.Tip == nil {
		return new(uint256.Int)
	}
	return n.Call.Tip
}

// fee returns weight*baseFee + tip.
func (n *NativeDispatch) fee(baseFee *uint256.Int) (burn, total *uint256.Int, err error) {
	burn, overflow := new(uint256.Int).MulOverflow(uint256.NewInt(n.GasLimit()), baseFee)
	if overflow {
		return nil, nil, fatalf("native fee overflow: %d * %s", n.GasLimit(), baseFee)
	}
	total, overflow = new(uint256.Int).AddOverflow(burn, n.tip())
	if overflow {
		return nil, nil, fatalf("native fee plus tip overflow for %s", n.Hash())
	}
	return burn, total, nil
}

// Validate implements Dispatchable. The signature was checked on
// construction; nonce, payload and balance are checked here.
func (n *NativeDispatch) Validate(ctx *ExecContext) (Validity, error) {
	gap, err := checkNonce(ctx.State, n.Call.Origin, n.Call.Nonce)
	if err != nil {
		return Validity{}, err
	}
	if n.Call.Function == types.FuncRemark && len(n.Call.Data) > MaxRemarkSize {
		return Validity{}, invalidf(ErrIntrinsicGas, "remark of %d bytes exceeds %d", len(n.Call.Data), MaxRemarkSize)
	}
	_, total, err := n.fee(ctx.Bridge.Fees().Current())
	if err != nil {
		return Validity{}, err
	}
	cost, overflow := new(uint256.Int).AddOverflow(total, n.value())
	if overflow {
		return Validity{}, fatalf("native cost overflow for %s", n.Hash())
	}
	if balance := ctx.State.GetBalance(n.Call.Origin); balance.Lt(cost) {
		return Validity{}, invalidf(ErrInsufficientBalance, "address %s have %s want %s", n.Call.Origin, balance, cost)
	}
	priority := new(uint256.Int).Div(n.tip(), uint256.NewInt(n.GasLimit()))
	return Validity{
		Priority:  futurePriority(saturate(priority), gap),
		Longevity: ctx.Bridge.Config().TxLongevity,
		Future:    gap > 0,
	}, nil
}

// Dispatch implements Dispatchable.
func (n *NativeDispatch) Dispatch(ctx *ExecContext) (*types.Receipt, error) {
	return ctx.Bridge.ApplyNative(ctx, n)
}
