package core

import (
	"fmt"
	"math"
	"sync"

	"github.com/holiman/uint256"

	"github.com/eth2030/ledgercore/log"
	"github.com/eth2030/ledgercore/metrics"
)

// BaseFeeState is the persisted fee oracle state: the elastic base fee and
// the height of the last block it was adjusted for.
type BaseFeeState struct {
	BaseFee *uint256.Int
	Height  uint64
}

// FeeStore persists BaseFeeState. ReadBaseFee returns nil, nil when nothing
// has been written yet.
type FeeStore interface {
	ReadBaseFee() (*BaseFeeState, error)
	WriteBaseFee(state *BaseFeeState) error
}

// MemoryFeeStore is a FeeStore kept in process memory.
type MemoryFeeStore struct {
	mu    sync.Mutex
	state *BaseFeeState
}

// NewMemoryFeeStore returns an empty in-memory store.
func NewMemoryFeeStore() *MemoryFeeStore { return &MemoryFeeStore{} }

func (s *MemoryFeeStore) ReadBaseFee() (*BaseFeeState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		return nil, nil
	}
	return &BaseFeeState{BaseFee: new(uint256.Int).Set(s.state.BaseFee), Height: s.state.Height}, nil
}

func (s *MemoryFeeStore) WriteBaseFee(state *BaseFeeState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = &BaseFeeState{BaseFee: new(uint256.Int).Set(state.BaseFee), Height: state.Height}
	return nil
}

// CalcBaseFee returns the base fee that follows a block which used gasUsed
// out of capacity:
//
//	delta = base * |used - target| / target / denominator   (truncated)
//
// A non-zero deviation from the target always moves the fee by at least
// one unit. The result is clamped to [MinBaseFee, MaxBaseFee].
func CalcBaseFee(cfg *ChainConfig, base *uint256.Int, gasUsed, capacity uint64) *uint256.Int {
	next := new(uint256.Int).Set(base)
	target := cfg.GasTarget(capacity)
	if target != 0 && gasUsed != target {
		var diff uint64
		if gasUsed > target {
			diff = gasUsed - target
		} else {
			diff = target - gasUsed
		}
		delta, overflow := new(uint256.Int).MulOverflow(base, uint256.NewInt(diff))
		if overflow {
			delta.SetAllOne()
		}
		delta.Div(delta, uint256.NewInt(target))
		delta.Div(delta, uint256.NewInt(cfg.BaseFeeAdjustmentDenominator))
		if delta.IsZero() {
			delta.SetOne()
		}
		if gasUsed > target {
			if _, overflow := next.AddOverflow(next, delta); overflow {
				next.SetAllOne()
			}
		} else if next.Lt(delta) {
			next.Clear()
		} else {
			next.Sub(next, delta)
		}
	}
	return clampBaseFee(cfg, next)
}

func clampBaseFee(cfg *ChainConfig, fee *uint256.Int) *uint256.Int {
	if fee.Lt(cfg.MinBaseFee) {
		return new(uint256.Int).Set(cfg.MinBaseFee)
	}
	if fee.Gt(cfg.MaxBaseFee) {
		return new(uint256.Int).Set(cfg.MaxBaseFee)
	}
	return fee
}

// FeeOracle tracks the chain's base fee. OnBlockFinalized is its only
// mutator; all other methods are safe for concurrent readers.
type FeeOracle struct {
	mu    sync.RWMutex
	cfg   *ChainConfig
	store FeeStore
	state BaseFeeState
	log   *log.Logger
}

// NewFeeOracle loads the persisted state from store, or starts from the
// configured initial base fee at height zero.
func NewFeeOracle(cfg *ChainConfig, store FeeStore) (*FeeOracle, error) {
	if store == nil {
		store = NewMemoryFeeStore()
	}
	o := &FeeOracle{cfg: cfg, store: store, log: log.Default().Module("fee")}
	saved, err := store.ReadBaseFee()
	if err != nil {
		return nil, fmt.Errorf("read base fee: %w", err)
	}
	if saved != nil && saved.BaseFee != nil {
		o.state = BaseFeeState{BaseFee: clampBaseFee(cfg, new(uint256.Int).Set(saved.BaseFee)), Height: saved.Height}
	} else {
		o.state = BaseFeeState{BaseFee: clampBaseFee(cfg, new(uint256.Int).Set(cfg.InitialBaseFee))}
	}
	o.report()
	return o, nil
}

// Current returns the price floor calls are checked against: the base fee,
// or the minimum gas price when that is higher.
func (o *FeeOracle) Current() *uint256.Int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if floor := o.cfg.minGasPrice(); floor.Gt(o.state.BaseFee) {
		return new(uint256.Int).Set(floor)
	}
	return new(uint256.Int).Set(o.state.BaseFee)
}

// BaseFee returns the elastic base fee without the minimum-price floor.
func (o *FeeOracle) BaseFee() *uint256.Int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return new(uint256.Int).Set(o.state.BaseFee)
}

// MinGasPrice returns the configured minimum gas price.
func (o *FeeOracle) MinGasPrice() *uint256.Int {
	return new(uint256.Int).Set(o.cfg.minGasPrice())
}

// Height returns the height of the last applied update.
func (o *FeeOracle) Height() uint64 {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state.Height
}

// Rebase aligns the oracle with a chain resumed at head. A persisted height
// above head belongs to blocks the chain no longer has; it is lowered to
// head so those heights are adjusted for again. The base fee is kept.
func (o *FeeOracle) Rebase(head uint64) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state.Height <= head {
		return nil
	}
	rebased := BaseFeeState{BaseFee: o.state.BaseFee, Height: head}
	if err := o.store.WriteBaseFee(&rebased); err != nil {
		return fmt.Errorf("persist base fee: %w", err)
	}
	o.log.Warn("base fee height ahead of chain", "height", o.state.Height, "head", head, "basefee", o.state.BaseFee)
	o.state = rebased
	return nil
}

// OnBlockFinalized adjusts the base fee for a finalized block. Heights at or
// below the last applied height are ignored and reported as not applied.
func (o *FeeOracle) OnBlockFinalized(height, gasUsed, capacity uint64) (*uint256.Int, bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if height <= o.state.Height {
		return new(uint256.Int).Set(o.state.BaseFee), false, nil
	}
	next := CalcBaseFee(o.cfg, o.state.BaseFee, gasUsed, capacity)
	updated := BaseFeeState{BaseFee: next, Height: height}
	if err := o.store.WriteBaseFee(&updated); err != nil {
		return nil, false, fmt.Errorf("persist base fee: %w", err)
	}
	o.log.Debug("base fee adjusted", "height", height, "used", gasUsed, "capacity", capacity,
		"old", o.state.BaseFee, "new", next)
	o.state = updated
	metrics.BaseFeeUpdates.Inc(1)
	o.report()
	return new(uint256.Int).Set(next), true, nil
}

func (o *FeeOracle) report() {
	v := int64(math.MaxInt64)
	if o.state.BaseFee.IsUint64() && o.state.BaseFee.Uint64() <= math.MaxInt64 {
		v = int64(o.state.BaseFee.Uint64())
	}
	metrics.BaseFee.Update(v)
}
