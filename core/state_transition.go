package core

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"github.com/eth2030/ledgercore/core/state"
	"github.com/eth2030/ledgercore/core/types"
	"github.com/eth2030/ledgercore/core/vm"
	"github.com/eth2030/ledgercore/log"
	"github.com/eth2030/ledgercore/metrics"
)

// Bridge turns validated calls into state effects. It owns the precompile
// table and reads the base fee from the fee oracle; all chain state comes in
// through the ExecContext.
type Bridge struct {
	cfg         *ChainConfig
	fees        *FeeOracle
	precompiles *vm.PrecompileTable
	log         *log.Logger
}

// NewBridge builds the precompile table for cfg.
func NewBridge(cfg *ChainConfig, fees *FeeOracle) (*Bridge, error) {
	table, err := vm.NewPrecompileTable(cfg.Precompiles)
	if err != nil {
		return nil, err
	}
	return &Bridge{cfg: cfg, fees: fees, precompiles: table, log: log.Default().Module("bridge")}, nil
}

func (b *Bridge) Config() *ChainConfig             { return b.cfg }
func (b *Bridge) Fees() *FeeOracle                 { return b.fees }
func (b *Bridge) Precompiles() *vm.PrecompileTable { return b.precompiles }

// VerifyPrecompiles reports a corrupted precompile table as fatal.
func (b *Bridge) VerifyPrecompiles() error {
	if err := b.precompiles.Verify(); err != nil {
		return fmt.Errorf("%w: %w", ErrFatal, err)
	}
	return nil
}

// ApplySelfContained executes a recovered Ethereum call:
//
//  1. reserve gas_limit * price from the signer and from the block gas pool
//  2. snapshot, then run the precompile at `to` or the interpreter
//  3. on success refund unused gas, burn used*base, pay used*tip to the
//     author and keep the logs
//  4. on failure revert to the snapshot but keep the gas charge
//
// The nonce is incremented in both cases. A returned error means the call
// was not included; execution failures are reported in the receipt.
func (b *Bridge) ApplySelfContained(ctx *ExecContext, call *SelfContainedCall) (*ExecutionResult, error) {
	var (
		tx   = call.Tx
		from = call.From
		st   = ctx.State
	)
	baseFee := b.fees.Current()
	acct := NewGasAccounting(tx, baseFee)
	if acct.EffectiveGasPrice.Lt(baseFee) {
		return nil, invalidf(ErrUnderpricedFee, "effective price %s below base fee %s", acct.EffectiveGasPrice, baseFee)
	}
	reserve, overflow := new(uint256.Int).MulOverflow(uint256.NewInt(acct.GasLimit), acct.EffectiveGasPrice)
	if overflow {
		return nil, fatalf("gas reservation overflow: %d * %s", acct.GasLimit, acct.EffectiveGasPrice)
	}
	intrinsic, ok := IntrinsicGas(tx.Data(), tx.AccessList(), tx.IsContractCreation())
	if !ok || intrinsic > acct.GasLimit {
		return nil, invalidf(ErrIntrinsicGas, "have %d, want %d", acct.GasLimit, intrinsic)
	}
	if balance := st.GetBalance(from); balance.Lt(reserve) {
		return nil, invalidf(ErrInsufficientBalance, "address %s have %s want %s", from, balance, reserve)
	}
	if err := ctx.GasPool.SubGas(acct.GasLimit); err != nil {
		return nil, err
	}
	st.SubBalance(from, reserve)
	nonce := st.GetNonce(from)
	st.SetTxContext(tx.Hash(), ctx.TxIndex)
	refundBefore := st.GetRefund()
	snapshot := st.Snapshot()

	available := acct.GasLimit - intrinsic
	var out *vm.Outcome
	if to := tx.To(); to != nil {
		if p, ok := b.precompiles.Lookup(*to); ok {
			metrics.PrecompileCalls.Inc(1)
			out = runPrecompile(st, from, *to, p, tx.Data(), available, tx.Value())
		}
	}
	if out == nil {
		metrics.InterpreterCalls.Inc(1)
		interp := st.NewInterpreter(b.blockContext(ctx, baseFee), &vm.TxContext{
			Origin:     from,
			GasPrice:   acct.EffectiveGasPrice,
			TxHash:     tx.Hash(),
			TxIndex:    ctx.TxIndex,
			AccessList: tx.AccessList(),
		}, b.precompiles)
		out = interp.Execute(&vm.Message{
			Caller: from,
			To:     tx.To(),
			Input:  tx.Data(),
			Gas:    available,
			Value:  tx.Value(),
		})
	}
	if out.GasLeft > available {
		return nil, fatalf("interpreter returned %d gas of %d", out.GasLeft, available)
	}

	outcome := outcomeOf(out.Err)
	gasUsed := acct.GasLimit - out.GasLeft
	switch outcome {
	case types.OutcomeSuccess:
		var refund uint64
		if after := st.GetRefund(); after > refundBefore {
			refund = after - refundBefore
		}
		gasUsed -= min(refund, gasUsed/RefundQuotient)
	case types.OutcomeOutOfGas:
		st.RevertToSnapshot(snapshot)
		gasUsed = acct.GasLimit
	default:
		st.RevertToSnapshot(snapshot)
	}
	st.SetNonce(from, nonce+1)
	acct.GasUsed = gasUsed

	// Settle. None of these can overflow: each is bounded by reserve.
	leftover := acct.GasLimit - gasUsed
	ctx.GasPool.AddGas(leftover)
	st.AddBalance(from, new(uint256.Int).Mul(uint256.NewInt(leftover), acct.EffectiveGasPrice))
	burnt := new(uint256.Int).Mul(uint256.NewInt(gasUsed), acct.BaseFee)
	tip := new(uint256.Int).Mul(uint256.NewInt(gasUsed), acct.Tip())
	if !tip.IsZero() {
		st.AddBalance(b.author(ctx), tip)
	}

	receipt := types.NewReceipt(outcome, gasUsed)
	receipt.Type = tx.Type()
	receipt.TxHash = tx.Hash()
	receipt.From = from
	receipt.EffectiveGasPrice = acct.EffectiveGasPrice
	receipt.BurntFee = burnt
	receipt.PriorityFee = tip
	receipt.ReturnData = out.ReturnData
	receipt.InternalTxs = out.InternalTxs
	receipt.TransactionIndex = uint(ctx.TxIndex)
	if ctx.Block != nil {
		receipt.BlockNumber = ctx.Block.Number
	}
	if tx.IsContractCreation() {
		receipt.ContractAddress = types.CreateAddress(from, nonce)
	}
	if outcome == types.OutcomeSuccess {
		receipt.Logs = st.GetLogs(tx.Hash())
	}
	receipt.Bloom = types.LogsBloom(receipt.Logs)

	if outcome != types.OutcomeSuccess {
		b.log.Debug("call failed", "hash", tx.Hash(), "outcome", outcome, "gas", gasUsed, "err", out.Err)
	}
	finaliseCall(st)
	return &ExecutionResult{
		Receipt:    receipt,
		Gas:        acct,
		Err:        out.Err,
		ReturnData: out.ReturnData,
	}, nil
}

// ApplyNative executes a native call. Native calls have fixed weight: the
// whole weight is charged, weight*base is burned and the tip goes to the
// author.
func (b *Bridge) ApplyNative(ctx *ExecContext, n *NativeDispatch) (*types.Receipt, error) {
	var (
		c  = n.Call
		st = ctx.State
	)
	baseFee := b.fees.Current()
	burnt, total, err := n.fee(baseFee)
	if err != nil {
		return nil, err
	}
	if balance := st.GetBalance(c.Origin); balance.Lt(total) {
		return nil, invalidf(ErrInsufficientBalance, "address %s have %s want %s", c.Origin, balance, total)
	}
	weight := n.GasLimit()
	if err := ctx.GasPool.SubGas(weight); err != nil {
		return nil, err
	}
	st.SubBalance(c.Origin, total)
	if tip := n.tip(); !tip.IsZero() {
		st.AddBalance(b.author(ctx), tip)
	}
	st.SetTxContext(c.Hash(), ctx.TxIndex)
	snapshot := st.Snapshot()

	outcome := types.OutcomeSuccess
	switch c.Function {
	case types.FuncTransfer:
		value := n.value()
		if st.GetBalance(c.Origin).Lt(value) {
			outcome = types.OutcomeFailed
		} else {
			st.SubBalance(c.Origin, value)
			st.AddBalance(c.Dest, value)
		}
	case types.FuncRemark:
		st.AddLog(&types.Log{
			Address: c.Origin,
			Topics:  []types.Hash{RemarkTopic, types.BytesToHash(c.Origin[:])},
			Data:    append([]byte(nil), c.Data...),
		})
	}
	if outcome != types.OutcomeSuccess {
		st.RevertToSnapshot(snapshot)
	}
	st.SetNonce(c.Origin, c.Nonce+1)

	receipt := types.NewReceipt(outcome, weight)
	receipt.Type = types.NativeCallType
	receipt.TxHash = c.Hash()
	receipt.From = c.Origin
	receipt.EffectiveGasPrice = new(uint256.Int).Set(baseFee)
	receipt.BurntFee = burnt
	receipt.PriorityFee = new(uint256.Int).Set(n.tip())
	receipt.TransactionIndex = uint(ctx.TxIndex)
	if ctx.Block != nil {
		receipt.BlockNumber = ctx.Block.Number
	}
	if outcome == types.OutcomeSuccess {
		receipt.Logs = st.GetLogs(c.Hash())
	}
	receipt.Bloom = types.LogsBloom(receipt.Logs)
	finaliseCall(st)
	return receipt, nil
}

// finaliseCall ends the call's journal on states that keep per-call flags.
func finaliseCall(st state.StateDB) {
	if f, ok := st.(state.Finaliser); ok {
		f.Finalise()
	}
}

func (b *Bridge) author(ctx *ExecContext) types.Address {
	if ctx.Block == nil {
		return types.Address{}
	}
	return ctx.Block.Author
}

func (b *Bridge) blockContext(ctx *ExecContext, baseFee *uint256.Int) *vm.BlockContext {
	bc := &vm.BlockContext{BaseFee: baseFee, ChainID: b.cfg.ChainID, GasLimit: b.cfg.BlockGasLimit}
	if env := ctx.Block; env != nil {
		bc.ParentHash = env.ParentHash
		bc.Number = env.Number
		bc.Time = env.Time
		bc.Author = env.Author
		bc.GasLimit = env.GasLimit
	}
	return bc
}

// runPrecompile transfers value and runs p. It never enters the
// interpreter. Any failure other than running out of gas consumes the whole
// budget.
func runPrecompile(st state.StateDB, from, to types.Address, p vm.PrecompiledContract, input []byte, gas uint64, value *uint256.Int) *vm.Outcome {
	if !value.IsZero() {
		if st.GetBalance(from).Lt(value) {
			return &vm.Outcome{GasLeft: gas, Err: vm.ErrInsufficientBalance}
		}
		st.SubBalance(from, value)
		st.AddBalance(to, value)
	}
	ret, left, err := vm.RunPrecompiledContract(p, input, gas)
	if err != nil && !errors.Is(err, vm.ErrOutOfGas) {
		left = 0
	}
	return &vm.Outcome{ReturnData: ret, GasLeft: left, Err: err}
}

func outcomeOf(err error) types.Outcome {
	switch {
	case err == nil:
		return types.OutcomeSuccess
	case errors.Is(err, vm.ErrExecutionReverted):
		return types.OutcomeRevert
	case errors.Is(err, vm.ErrOutOfGas):
		return types.OutcomeOutOfGas
	default:
		return types.OutcomeFailed
	}
}
