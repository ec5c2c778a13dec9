package vm

import (
	"github.com/holiman/uint256"

	"github.com/eth2030/ledgercore/core/types"
)

// BlockContext carries the block-level values an interpreter exposes to
// contract code.
type BlockContext struct {
	ParentHash types.Hash
	Number     uint64
	Time       uint64
	Author     types.Address
	GasLimit   uint64
	BaseFee    *uint256.Int
	ChainID    uint64
}

// TxContext carries the per-call values an interpreter exposes to contract
// code.
type TxContext struct {
	Origin     types.Address
	GasPrice   *uint256.Int
	TxHash     types.Hash
	TxIndex    int
	AccessList types.AccessList
}

// Message is one top-level invocation. A nil To creates a contract from
// Input.
type Message struct {
	Caller types.Address
	To     *types.Address
	Input  []byte
	Gas    uint64
	Value  *uint256.Int
}

// Outcome is what an interpreter reports back for a Message. Err is nil on
// success; ErrExecutionReverted and ErrOutOfGas classify the two ordinary
// failure modes.
type Outcome struct {
	ReturnData      []byte
	GasLeft         uint64
	Err             error
	ContractAddress types.Address
	InternalTxs     []*types.InternalTx
}

// Interpreter executes bytecode. Its instruction semantics are opaque to the
// execution bridge, which only sees Execute.
type Interpreter interface {
	Execute(msg *Message) *Outcome
}

// InterpreterProvider hands out interpreters bound to one call's block and
// transaction context. Precompiles passed here must be reachable from
// nested calls made by contract code.
type InterpreterProvider interface {
	NewInterpreter(block *BlockContext, tx *TxContext, precompiles *PrecompileTable) Interpreter
}

// TransferState is the state a TransferInterpreter needs.
type TransferState interface {
	GetBalance(addr types.Address) *uint256.Int
	AddBalance(addr types.Address, amount *uint256.Int)
	SubBalance(addr types.Address, amount *uint256.Int)
	GetCode(addr types.Address) []byte
}

// TransferInterpreter moves value between accounts without code. It backs
// state implementations that have no bytecode interpreter attached; calls
// into code and contract creation fail with ErrCodeExecutionUnsupported.
type TransferInterpreter struct {
	State TransferState
}

// Execute implements Interpreter.
func (ti *TransferInterpreter) Execute(msg *Message) *Outcome {
	if msg.To == nil || len(ti.State.GetCode(*msg.To)) > 0 {
		return &Outcome{GasLeft: msg.Gas, Err: ErrCodeExecutionUnsupported}
	}
	if msg.Value != nil && !msg.Value.IsZero() {
		if ti.State.GetBalance(msg.Caller).Lt(msg.Value) {
			return &Outcome{GasLeft: msg.Gas, Err: ErrInsufficientBalance}
		}
		ti.State.SubBalance(msg.Caller, msg.Value)
		ti.State.AddBalance(*msg.To, msg.Value)
	}
	return &Outcome{GasLeft: msg.Gas}
}
