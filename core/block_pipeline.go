package core

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/holiman/uint256"

	"github.com/eth2030/ledgercore/core/state"
	"github.com/eth2030/ledgercore/core/types"
	"github.com/eth2030/ledgercore/log"
	"github.com/eth2030/ledgercore/metrics"
)

// BlockSink receives sealed blocks from the pipeline.
type BlockSink interface {
	SubmitBlock(block *types.Block) error
}

// SkippedCall records a call left out of a block. Skipping is not an error:
// the call may be resubmitted.
type SkippedCall struct {
	Hash   types.Hash
	Origin types.Address
	Nonce  uint64
	Reason error
}

// BlockResult is the output of ProduceBlock.
type BlockResult struct {
	Block       *types.Block
	Receipts    []*types.Receipt
	Skipped     []SkippedCall
	GasUsed     uint64
	BurntFees   *uint256.Int
	StateRoot   types.Hash
	NextBaseFee *uint256.Int
}

// Pipeline orders, re-validates and executes calls into blocks. Blocks are
// produced one at a time.
type Pipeline struct {
	mu     sync.Mutex
	bridge *Bridge
	sink   BlockSink
	log    *log.Logger
}

// NewPipeline creates a pipeline. sink may be nil.
func NewPipeline(bridge *Bridge, sink BlockSink) *Pipeline {
	return &Pipeline{bridge: bridge, sink: sink, log: log.Default().Module("pipeline")}
}

// Bridge returns the execution bridge the pipeline dispatches through.
func (p *Pipeline) Bridge() *Bridge { return p.bridge }

// ProduceBlock executes calls against st and seals the result. The index of
// a call in calls is its submission sequence.
//
// Calls that fail validation, are still waiting on an earlier nonce, or do
// not fit the remaining block gas are skipped. A fatal error or a cancelled
// ctx reverts st to its state at entry and leaves the fee oracle untouched.
func (p *Pipeline) ProduceBlock(ctx context.Context, env *BlockEnv, st state.StateDB, calls []Dispatchable) (*BlockResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	start := time.Now()
	defer metrics.BlockProduceTimer.UpdateSince(start)

	if err := p.bridge.VerifyPrecompiles(); err != nil {
		metrics.BlocksAborted.Inc(1)
		return nil, err
	}
	if h := p.bridge.Fees().Height(); env.Number <= h {
		metrics.BlocksAborted.Inc(1)
		return nil, fatalf("block %d at or below base fee height %d", env.Number, h)
	}
	gasLimit := env.GasLimit
	if gasLimit == 0 {
		gasLimit = p.bridge.Config().BlockGasLimit
	}
	blockEnv := *env
	blockEnv.GasLimit = gasLimit
	baseFee := p.bridge.Fees().Current()

	var (
		blockSnap = st.Snapshot()
		gasPool   = NewGasPool(gasLimit)
		ectx      = &ExecContext{Bridge: p.bridge, State: st, Block: &blockEnv, GasPool: gasPool}
		result    = &BlockResult{BurntFees: new(uint256.Int)}
	)
	abort := func(err error) (*BlockResult, error) {
		st.RevertToSnapshot(blockSnap)
		metrics.BlocksAborted.Inc(1)
		p.log.Error("block aborted", "number", env.Number, "err", err)
		return nil, err
	}
	skip := func(c Dispatchable, reason error) {
		result.Skipped = append(result.Skipped, SkippedCall{Hash: c.Hash(), Origin: c.Origin(), Nonce: c.Nonce(), Reason: reason})
		metrics.CallsSkipped.Mark(1)
		p.log.Debug("call skipped", "hash", c.Hash(), "origin", c.Origin(), "nonce", c.Nonce(), "reason", reason)
	}

	cands := make([]*Candidate, 0, len(calls))
	for i, c := range calls {
		v, err := c.Validate(ectx)
		if err != nil {
			if Classify(err) == ClassFatal {
				return abort(err)
			}
			skip(c, err)
			continue
		}
		cands = append(cands, &Candidate{Call: c, Validity: v, Seq: uint64(i)})
	}

	var (
		exts     []types.Extrinsic
		receipts []*types.Receipt
	)
	for _, cand := range OrderCandidates(cands) {
		if err := ctx.Err(); err != nil {
			return abort(err)
		}
		c := cand.Call
		v, err := c.Validate(ectx)
		switch {
		case err != nil && Classify(err) == ClassFatal:
			return abort(err)
		case err != nil:
			skip(c, err)
			continue
		case v.Future:
			skip(c, invalidf(ErrFutureNonce, "address %s nonce %d", c.Origin(), c.Nonce()))
			continue
		case c.GasLimit() > gasPool.Gas():
			skip(c, invalidf(ErrBlockGasExhausted, "have %d, want %d", gasPool.Gas(), c.GasLimit()))
			continue
		}

		ectx.TxIndex = len(receipts)
		receipt, err := c.Dispatch(ectx)
		if err != nil {
			if Classify(err) == ClassFatal {
				return abort(err)
			}
			skip(c, err)
			continue
		}
		result.GasUsed += receipt.GasUsed
		receipt.CumulativeGasUsed = result.GasUsed
		result.BurntFees.Add(result.BurntFees, receipt.BurntFee)
		receipts = append(receipts, receipt)
		exts = append(exts, c.Extrinsic())

		metrics.CallsIncluded.Mark(1)
		if !receipt.Succeeded() {
			metrics.CallsFailed.Mark(1)
		}
	}
	if err := ctx.Err(); err != nil {
		return abort(err)
	}

	root, err := st.Commit(env.Number)
	if err != nil {
		metrics.BlocksAborted.Inc(1)
		return nil, fmt.Errorf("%w: commit block %d: %w", ErrFatal, env.Number, err)
	}
	next, applied, err := p.bridge.Fees().OnBlockFinalized(env.Number, result.GasUsed, gasLimit)
	if err != nil {
		return nil, fmt.Errorf("%w: finalize base fee: %w", ErrFatal, err)
	}
	if !applied {
		return nil, fatalf("base fee already adjusted for block %d", env.Number)
	}

	extRoot, err := types.ExtrinsicsRoot(exts)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFatal, err)
	}
	header := &types.Header{
		ParentHash:     env.ParentHash,
		Number:         env.Number,
		Author:         env.Author,
		StateRoot:      root,
		ExtrinsicsRoot: extRoot,
		ReceiptsRoot:   types.ReceiptsRoot(receipts),
		Bloom:          types.CreateBloom(receipts),
		GasLimit:       gasLimit,
		GasUsed:        result.GasUsed,
		Time:           env.Time,
		BaseFee:        baseFee,
	}
	block := types.NewBlock(header, exts, receipts)
	hash := block.Hash()
	for _, r := range receipts {
		r.BlockHash = hash
		r.BlockNumber = env.Number
		for _, l := range r.Logs {
			l.BlockHash = hash
			l.BlockNumber = env.Number
		}
	}

	result.Block = block
	result.Receipts = receipts
	result.StateRoot = root
	result.NextBaseFee = next

	metrics.BlockHeight.Update(int64(min(env.Number, math.MaxInt64)))
	metrics.BlockGasUsed.Update(int64(min(result.GasUsed, math.MaxInt64)))
	p.log.Info("block produced", "number", env.Number, "hash", hash, "calls", len(receipts),
		"skipped", len(result.Skipped), "gas", result.GasUsed, "basefee", baseFee, "next", next)

	if p.sink != nil {
		if err := p.sink.SubmitBlock(block); err != nil {
			return result, fmt.Errorf("submit block %d: %w", env.Number, err)
		}
	}
	return result, nil
}
