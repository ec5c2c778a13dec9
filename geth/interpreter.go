package geth

import (
	"errors"
	"fmt"
	"math/big"

	gethcommon "github.com/ethereum/go-ethereum/common"
	gethcore "github.com/ethereum/go-ethereum/core"
	"github.com/ethereum/go-ethereum/core/tracing"
	gethvm "github.com/ethereum/go-ethereum/core/vm"
	"github.com/holiman/uint256"

	"github.com/eth2030/ledgercore/core/types"
	"github.com/eth2030/ledgercore/core/vm"
)

// evmInterpreter executes one top-level message on go-ethereum's EVM. Gas
// purchase, nonce handling and fee settlement stay with the execution
// bridge; only the message's own gas budget is handed to the EVM.
type evmInterpreter struct {
	state       *State
	block       *vm.BlockContext
	tx          *vm.TxContext
	precompiles *vm.PrecompileTable
}

func (in *evmInterpreter) Execute(msg *vm.Message) *vm.Outcome {
	var (
		st       = in.state
		blockCtx = st.blockContext(in.block)
		rec      = new(callRecorder)
		caller   = ToGethAddress(msg.Caller)
		to       = toGethAddressPtr(msg.To)
		value    = msg.Value
	)
	if value == nil {
		value = new(uint256.Int)
	}
	evm := gethvm.NewEVM(blockCtx, st.statedb, st.config, gethvm.Config{Tracer: rec.hooks()})
	evm.SetPrecompiles(Precompiles(in.precompiles))

	txMsg := &gethcore.Message{From: ToGethAddress(in.tx.Origin), GasPrice: new(big.Int)}
	if in.tx.GasPrice != nil {
		txMsg.GasPrice = in.tx.GasPrice.ToBig()
	}
	evm.SetTxContext(gethcore.NewEVMTxContext(txMsg))

	rules := st.config.Rules(blockCtx.BlockNumber, true, blockCtx.Time)
	st.statedb.Prepare(rules, caller, blockCtx.Coinbase, to, PrecompileAddresses(in.precompiles), ToGethAccessList(in.tx.AccessList))

	out := new(vm.Outcome)
	if to == nil {
		ret, addr, left, err := evm.Create(caller, msg.Input, msg.Gas, value)
		out.ReturnData, out.GasLeft, out.Err = ret, left, translateError(err)
		out.ContractAddress = FromGethAddress(addr)
	} else {
		ret, left, err := evm.Call(caller, *to, msg.Input, msg.Gas, value)
		out.ReturnData, out.GasLeft, out.Err = ret, left, translateError(err)
	}
	out.InternalTxs = rec.calls
	return out
}

func (s *State) blockContext(b *vm.BlockContext) gethvm.BlockContext {
	random := ToGethHash(b.ParentHash)
	ctx := gethvm.BlockContext{
		CanTransfer: gethcore.CanTransfer,
		Transfer:    gethcore.Transfer,
		GetHash:     s.blockHash,
		Coinbase:    ToGethAddress(b.Author),
		GasLimit:    b.GasLimit,
		BlockNumber: new(big.Int).SetUint64(b.Number),
		Time:        b.Time,
		Difficulty:  new(big.Int),
		BaseFee:     new(big.Int),
		Random:      &random,
	}
	if b.BaseFee != nil {
		ctx.BaseFee = b.BaseFee.ToBig()
	}
	return ctx
}

func (s *State) blockHash(number uint64) gethcommon.Hash {
	if s.getHash == nil {
		return gethcommon.Hash{}
	}
	return ToGethHash(s.getHash(number))
}

// translateError maps go-ethereum's execution errors onto the ones the
// bridge classifies. Anything else is a failure that consumed its gas.
func translateError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gethvm.ErrExecutionReverted):
		return vm.ErrExecutionReverted
	case errors.Is(err, gethvm.ErrOutOfGas):
		return vm.ErrOutOfGas
	case errors.Is(err, gethvm.ErrCodeStoreOutOfGas), errors.Is(err, gethvm.ErrGasUintOverflow):
		return fmt.Errorf("%w: %w", vm.ErrOutOfGas, err)
	case errors.Is(err, gethvm.ErrInsufficientBalance):
		return vm.ErrInsufficientBalance
	default:
		return err
	}
}

// callRecorder collects nested calls through go-ethereum's tracing hooks.
type callRecorder struct {
	calls []*types.InternalTx
	open  []int // index into calls per open frame, -1 for the top frame
}

func (r *callRecorder) hooks() *tracing.Hooks {
	return &tracing.Hooks{OnEnter: r.onEnter, OnExit: r.onExit}
}

func (r *callRecorder) onEnter(depth int, typ byte, from, to gethcommon.Address, input []byte, gas uint64, value *big.Int) {
	if depth == 0 {
		r.open = append(r.open, -1)
		return
	}
	op := gethvm.OpCode(typ)
	itx := &types.InternalTx{
		From:   FromGethAddress(from),
		To:     FromGethAddress(to),
		Depth:  depth,
		Create: op == gethvm.CREATE || op == gethvm.CREATE2,
	}
	if value != nil && value.Sign() > 0 {
		itx.Value = value.Bytes()
	}
	r.calls = append(r.calls, itx)
	r.open = append(r.open, len(r.calls)-1)
}

func (r *callRecorder) onExit(depth int, output []byte, gasUsed uint64, err error, reverted bool) {
	if len(r.open) == 0 {
		return
	}
	idx := r.open[len(r.open)-1]
	r.open = r.open[:len(r.open)-1]
	if idx < 0 {
		// A failed top frame undoes every nested call.
		if err != nil {
			for _, c := range r.calls {
				c.Reverted = true
			}
		}
		return
	}
	r.calls[idx].GasUsed = gasUsed
	r.calls[idx].Reverted = reverted || err != nil
}
