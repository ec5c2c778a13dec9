package state

import (
	"github.com/holiman/uint256"

	"github.com/eth2030/ledgercore/core/types"
	"github.com/eth2030/ledgercore/core/vm"
)

// StateDB is the chain-state handle the execution bridge works against.
// Every mutation is journaled so a snapshot can undo it.
type StateDB interface {
	// Account operations
	GetBalance(addr types.Address) *uint256.Int
	AddBalance(addr types.Address, amount *uint256.Int)
	SubBalance(addr types.Address, amount *uint256.Int)
	GetNonce(addr types.Address) uint64
	SetNonce(addr types.Address, nonce uint64)
	GetCode(addr types.Address) []byte
	SetCode(addr types.Address, code []byte)
	GetCodeHash(addr types.Address) types.Hash

	// Storage operations
	GetState(addr types.Address, key types.Hash) types.Hash
	SetState(addr types.Address, key types.Hash, value types.Hash)

	Exist(addr types.Address) bool
	Empty(addr types.Address) bool

	// Snapshot and revert for tx-level atomicity
	Snapshot() int
	RevertToSnapshot(id int)

	// SetTxContext tags logs emitted from now on with the given position.
	SetTxContext(txHash types.Hash, index int)
	AddLog(log *types.Log)
	GetLogs(txHash types.Hash) []*types.Log

	// Refund counter
	AddRefund(gas uint64)
	SubRefund(gas uint64)
	GetRefund() uint64

	// Commit flushes the block's changes and returns the state root.
	Commit(blockNumber uint64) (types.Hash, error)

	vm.InterpreterProvider
}

// Finaliser is implemented by states that close out one call's changes
// before the next call of the block runs. Snapshots taken before Finalise
// can no longer be reverted individually.
type Finaliser interface {
	Finalise()
}
