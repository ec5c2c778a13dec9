// Package txpool holds validated calls waiting for inclusion. Raw
// submissions are decoded and their signers recovered in parallel; checks
// against chain state and insertion happen sequentially.
package txpool

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/google/btree"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"github.com/eth2030/ledgercore/core"
	"github.com/eth2030/ledgercore/core/state"
	"github.com/eth2030/ledgercore/core/types"
	"github.com/eth2030/ledgercore/log"
	"github.com/eth2030/ledgercore/metrics"
)

// Pool constants.
const (
	// PriceBump is the minimum priority bump percentage for replacing a
	// pooled call with the same origin and nonce.
	PriceBump = 10

	// MaxPoolSize is the maximum number of calls the pool holds.
	MaxPoolSize = 4096

	// MaxPerSender is the maximum number of calls per origin.
	MaxPerSender = 16

	// MaxTxSize is the maximum accepted raw submission size (128KB).
	MaxTxSize = 128 * 1024

	// MaxNonceGap is the maximum distance between a call's nonce and the
	// origin's account nonce.
	MaxNonceGap = 64

	senderCacheSize = 8192
)

var (
	ErrAlreadyKnown           = errors.New("already known")
	ErrNonceTooHigh           = errors.New("nonce too high")
	ErrTxPoolFull             = errors.New("transaction pool is full")
	ErrOversizedData          = errors.New("oversized data")
	ErrReplacementUnderpriced = errors.New("replacement transaction underpriced")
	ErrSenderLimitExceeded    = errors.New("per-sender transaction limit exceeded")
)

// rejectf wraps a pool rejection so core.Classify reports it as invalid.
func rejectf(reason error, format string, args ...any) error {
	return &core.InvalidError{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// Config holds Pool configuration.
type Config struct {
	MaxSize      int    // Maximum number of calls in the pool
	MaxPerSender int    // Maximum pooled calls per origin
	MaxNonceGap  uint64 // Maximum nonce distance ahead of the account nonce
	Workers      int    // Parallel decoders for batch submission
}

// DefaultConfig returns sensible defaults for the pool.
func DefaultConfig() Config {
	return Config{
		MaxSize:      MaxPoolSize,
		MaxPerSender: MaxPerSender,
		MaxNonceGap:  MaxNonceGap,
		Workers:      8,
	}
}

// entry is one pooled call.
type entry struct {
	call      core.Dispatchable
	validity  core.Validity
	seq       uint64 // submission sequence
	submitted uint64 // pool height at submission
}

func nonceLess(a, b *entry) bool { return a.call.Nonce() < b.call.Nonce() }

// SubmitResult is the outcome of one raw submission.
type SubmitResult struct {
	Hash types.Hash
	Err  error
}

// Pool keeps calls validated against the state it was given, indexed by
// hash and by origin in nonce order.
type Pool struct {
	config  Config
	bridge  *core.Bridge
	state   state.StateDB
	senders *lru.Cache[types.Hash, types.Address]
	log     *log.Logger

	mu       sync.RWMutex
	all      map[types.Hash]*entry
	byOrigin map[types.Address]*btree.BTreeG[*entry]
	seq      uint64
	height   uint64
}

// New creates a pool that validates against st.
func New(config Config, bridge *core.Bridge, st state.StateDB) (*Pool, error) {
	if config.Workers <= 0 {
		config.Workers = 1
	}
	senders, err := lru.New[types.Hash, types.Address](senderCacheSize)
	if err != nil {
		return nil, err
	}
	return &Pool{
		config:   config,
		bridge:   bridge,
		state:    st,
		senders:  senders,
		log:      log.Default().Module("txpool"),
		all:      make(map[types.Hash]*entry),
		byOrigin: make(map[types.Address]*btree.BTreeG[*entry]),
	}, nil
}

// SubmitRawTransaction decodes, recovers and pools one raw call. The
// returned error follows the decode, signature and validity taxonomy.
func (p *Pool) SubmitRawTransaction(raw []byte) (types.Hash, error) {
	call, err := p.decode(raw)
	if err != nil {
		metrics.PoolRejected.Mark(1)
		return types.Hash{}, err
	}
	return call.Hash(), p.Add(call)
}

// SubmitRawTransactions decodes and recovers raws in parallel, then pools
// them in order. Only a cancelled ctx fails the batch; per-call errors are
// reported in the results.
func (p *Pool) SubmitRawTransactions(ctx context.Context, raws [][]byte) ([]SubmitResult, error) {
	calls := make([]core.Dispatchable, len(raws))
	results := make([]SubmitResult, len(raws))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.config.Workers)
	for i, raw := range raws {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			calls[i], results[i].Err = p.decode(raw)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i, call := range calls {
		if results[i].Err != nil {
			metrics.PoolRejected.Mark(1)
			continue
		}
		results[i].Hash = call.Hash()
		results[i].Err = p.Add(call)
	}
	return results, nil
}

// decode turns raw bytes into a dispatchable call, reusing recovered
// senders of envelopes seen before.
func (p *Pool) decode(raw []byte) (core.Dispatchable, error) {
	if len(raw) > MaxTxSize {
		return nil, rejectf(ErrOversizedData, "%d bytes", len(raw))
	}
	ext, err := types.DecodeExtrinsic(raw)
	if err != nil {
		return nil, err
	}
	if ext.Tx != nil {
		hash := ext.Tx.Hash()
		if from, ok := p.senders.Get(hash); ok {
			metrics.SenderCacheHits.Inc(1)
			ext.Tx.SetSender(from)
		}
		call, err := core.NewSelfContainedCall(ext.Tx)
		if err != nil {
			return nil, err
		}
		p.senders.Add(hash, call.From)
		return call, nil
	}
	return core.FromExtrinsic(ext)
}

// Add validates call against the pool's state and pools it.
func (p *Pool) Add(call core.Dispatchable) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.add(call); err != nil {
		metrics.PoolRejected.Mark(1)
		p.log.Debug("call rejected", "hash", call.Hash(), "origin", call.Origin(), "nonce", call.Nonce(), "err", err)
		return err
	}
	metrics.PoolAdded.Mark(1)
	metrics.PoolPending.Update(int64(len(p.all)))
	return nil
}

func (p *Pool) add(call core.Dispatchable) error {
	hash := call.Hash()
	if _, ok := p.all[hash]; ok {
		return rejectf(ErrAlreadyKnown, "%s", hash)
	}
	v, err := call.Validate(&core.ExecContext{Bridge: p.bridge, State: p.state})
	if err != nil {
		return err
	}
	origin := call.Origin()
	if gap := call.Nonce() - p.state.GetNonce(origin); gap > p.config.MaxNonceGap {
		return rejectf(ErrNonceTooHigh, "gap %d exceeds %d", gap, p.config.MaxNonceGap)
	}
	e := &entry{call: call, validity: v, submitted: p.height}

	list := p.byOrigin[origin]
	if list == nil {
		list = btree.NewG[*entry](4, nonceLess)
	}
	old, replacing := list.Get(e)
	if replacing {
		if !sufficientBump(old.validity.Priority, v.Priority) {
			return rejectf(ErrReplacementUnderpriced, "priority %d, have %d", v.Priority, old.validity.Priority)
		}
	} else {
		if list.Len() >= p.config.MaxPerSender {
			return rejectf(ErrSenderLimitExceeded, "%d pooled for %s", list.Len(), origin)
		}
		if len(p.all) >= p.config.MaxSize && !p.evictBelow(v.Priority) {
			return rejectf(ErrTxPoolFull, "%d pooled", len(p.all))
		}
	}

	p.seq++
	e.seq = p.seq
	if replacing {
		delete(p.all, old.call.Hash())
	}
	list.ReplaceOrInsert(e)
	p.byOrigin[origin] = list
	p.all[hash] = e
	return nil
}

// sufficientBump reports whether next outbids prev by PriceBump percent.
func sufficientBump(prev, next uint64) bool {
	if next <= prev {
		return false
	}
	bump := prev/100*PriceBump + (prev%100)*PriceBump/100
	if prev > math.MaxUint64-bump {
		return false
	}
	return next >= prev+bump
}

// evictBelow removes the lowest-priority call if it ranks below priority.
// Only an origin's highest nonce is a candidate so no gap is opened.
func (p *Pool) evictBelow(priority uint64) bool {
	var victim *entry
	for _, list := range p.byOrigin {
		last, ok := list.Max()
		if !ok {
			continue
		}
		if victim == nil || last.validity.Priority < victim.validity.Priority ||
			(last.validity.Priority == victim.validity.Priority && last.seq > victim.seq) {
			victim = last
		}
	}
	if victim == nil || victim.validity.Priority >= priority {
		return false
	}
	p.remove(victim)
	metrics.PoolDropped.Mark(1)
	return true
}

func (p *Pool) remove(e *entry) {
	origin := e.call.Origin()
	delete(p.all, e.call.Hash())
	if list := p.byOrigin[origin]; list != nil {
		list.Delete(e)
		if list.Len() == 0 {
			delete(p.byOrigin, origin)
		}
	}
}

// Get returns the pooled call with the given hash.
func (p *Pool) Get(hash types.Hash) core.Dispatchable {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if e, ok := p.all[hash]; ok {
		return e.call
	}
	return nil
}

// Has reports whether hash is pooled.
func (p *Pool) Has(hash types.Hash) bool {
	return p.Get(hash) != nil
}

// Count returns the number of pooled calls.
func (p *Pool) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.all)
}

// Pending returns every pooled call in submission order, the order the
// block pipeline breaks ties by.
func (p *Pool) Pending() []core.Dispatchable {
	p.mu.RLock()
	entries := make([]*entry, 0, len(p.all))
	for _, e := range p.all {
		entries = append(entries, e)
	}
	p.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	out := make([]core.Dispatchable, len(entries))
	for i, e := range entries {
		out[i] = e.call
	}
	return out
}

// PendingFrom returns origin's pooled calls in nonce order.
func (p *Pool) PendingFrom(origin types.Address) []core.Dispatchable {
	p.mu.RLock()
	defer p.mu.RUnlock()

	list := p.byOrigin[origin]
	if list == nil {
		return nil
	}
	out := make([]core.Dispatchable, 0, list.Len())
	list.Ascend(func(e *entry) bool {
		out = append(out, e.call)
		return true
	})
	return out
}

// Prune advances the pool to height. It drops calls whose nonce the state
// has passed, which covers every included call, and calls that outlived
// their longevity. It returns the number of dropped calls.
func (p *Pool) Prune(height uint64) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.height = height
	var drop []*entry
	for origin, list := range p.byOrigin {
		nonce := p.state.GetNonce(origin)
		list.Ascend(func(e *entry) bool {
			if e.call.Nonce() < nonce || e.submitted+e.validity.Longevity < height {
				drop = append(drop, e)
			}
			return true
		})
	}
	for _, e := range drop {
		p.remove(e)
	}
	if len(drop) > 0 {
		metrics.PoolDropped.Mark(int64(len(drop)))
		p.log.Debug("pool pruned", "height", height, "dropped", len(drop), "remaining", len(p.all))
	}
	metrics.PoolPending.Update(int64(len(p.all)))
	return len(drop)
}
