package core

import (
	"math"

	"github.com/holiman/uint256"

	"github.com/eth2030/ledgercore/core/state"
	"github.com/eth2030/ledgercore/core/types"
)

// BlockEnv describes the block a call executes in.
type BlockEnv struct {
	ParentHash types.Hash
	Number     uint64
	Time       uint64
	Author     types.Address
	GasLimit   uint64
}

// ExecContext carries the explicit state handles a validate or dispatch
// call works against. Block and GasPool are nil when validating at the pool
// boundary.
type ExecContext struct {
	Bridge  *Bridge
	State   state.StateDB
	Block   *BlockEnv
	GasPool *GasPool
	TxIndex int
}

// Validity is the outcome of a successful validation.
type Validity struct {
	// Priority orders calls within a block; higher goes first.
	Priority uint64
	// Longevity is the number of blocks the call stays eligible.
	Longevity uint64
	// Future marks a call whose nonce is ahead of the account nonce. It is
	// valid for pooling but cannot be dispatched yet.
	Future bool
}

// Dispatchable is a unit the block pipeline orders and executes. The two
// implementations are *SelfContainedCall and *NativeDispatch.
type Dispatchable interface {
	Hash() types.Hash
	Origin() types.Address
	Nonce() uint64
	GasLimit() uint64
	Native() bool
	Extrinsic() types.Extrinsic

	Validate(ctx *ExecContext) (Validity, error)
	Dispatch(ctx *ExecContext) (*types.Receipt, error)

	dispatchable()
}

// checkNonce applies the shared nonce rule. It returns the gap between the
// call's nonce and the account nonce.
func checkNonce(st state.StateDB, origin types.Address, nonce uint64) (uint64, error) {
	expected := st.GetNonce(origin)
	if nonce < expected {
		return 0, invalidf(ErrStaleNonce, "address %s, tx: %d state: %d", origin, nonce, expected)
	}
	return nonce - expected, nil
}

// futurePriority reduces the priority of a call waiting on gap earlier
// nonces.
func futurePriority(priority, gap uint64) uint64 {
	if gap == 0 {
		return priority
	}
	if gap == math.MaxUint64 {
		return 0
	}
	return priority / (gap + 1)
}

// saturate returns v as uint64, or MaxUint64 if it does not fit.
func saturate(v *uint256.Int) uint64 {
	if !v.IsUint64() {
		return math.MaxUint64
	}
	return v.Uint64()
}

// DecodeDispatchable decodes raw bytes into a Dispatchable. Ethereum envelopes
// have their signer recovered; native calls have their signature checked.
func DecodeDispatchable(raw []byte) (Dispatchable, error) {
	ext, err := types.DecodeExtrinsic(raw)
	if err != nil {
		return nil, err
	}
	return FromExtrinsic(ext)
}

// FromExtrinsic wraps a decoded block body entry.
func FromExtrinsic(ext types.Extrinsic) (Dispatchable, error) {
	if ext.Native != nil {
		return NewNativeDispatch(ext.Native)
	}
	return NewSelfContainedCall(ext.Tx)
}
