package node

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/eth2030/ledgercore/core"
	"github.com/eth2030/ledgercore/core/state"
	"github.com/eth2030/ledgercore/core/types"
	"github.com/eth2030/ledgercore/geth"
	"github.com/eth2030/ledgercore/log"
	"github.com/eth2030/ledgercore/mapping"
	"github.com/eth2030/ledgercore/txpool"
)

// Node owns the execution core and the services around it.
type Node struct {
	config *Config
	log    *log.Logger

	// Subsystems.
	db       *mapping.DB
	state    state.StateDB
	chain    *core.Chain
	fees     *core.FeeOracle
	bridge   *core.Bridge
	pipeline *core.Pipeline
	txPool   *txpool.Pool
	worker   *mapping.Worker

	// blockMu is held exclusively while a block executes against state and
	// shared while the pool validates submissions against it.
	blockMu sync.RWMutex

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	stop    chan struct{}
}

// New creates a Node with the given configuration. It commits the genesis
// block but does not start the mapping worker.
func New(config *Config) (*Node, error) {
	if config == nil {
		c := DefaultConfig()
		config = &c
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	n := &Node{
		config: config,
		log:    log.Default().Module("node"),
		stop:   make(chan struct{}),
	}

	db, err := mapping.Open(config.ResolvePath("mapping"))
	if err != nil {
		return nil, err
	}
	n.db = db
	if err := n.init(); err != nil {
		db.Close()
		return nil, err
	}
	return n, nil
}

func (n *Node) init() error {
	cfg := n.config.Chain
	switch n.config.Backend {
	case BackendEVM:
		st, err := geth.NewMemoryState(cfg)
		if err != nil {
			return fmt.Errorf("init state: %w", err)
		}
		n.state = st
		st.SetBlockHashes(n.canonicalHash)
	default:
		n.state = state.NewMemoryStateDB()
	}

	genesis, err := n.config.Genesis.Commit(cfg, n.state)
	if err != nil {
		return fmt.Errorf("init genesis: %w", err)
	}
	if n.chain, err = core.NewChain(genesis); err != nil {
		return fmt.Errorf("init chain: %w", err)
	}
	if n.fees, err = core.NewFeeOracle(cfg, n.db); err != nil {
		return fmt.Errorf("init fee oracle: %w", err)
	}
	if err := n.fees.Rebase(n.chain.CurrentBlock().Number()); err != nil {
		return fmt.Errorf("init fee oracle: %w", err)
	}
	if n.bridge, err = core.NewBridge(cfg, n.fees); err != nil {
		return fmt.Errorf("init bridge: %w", err)
	}
	n.pipeline = core.NewPipeline(n.bridge, n.chain)
	if n.txPool, err = txpool.New(n.config.Pool, n.bridge, n.state); err != nil {
		return fmt.Errorf("init txpool: %w", err)
	}
	n.worker = mapping.NewWorker(n.db, n.chain, n.config.SyncInterval, n.config.SyncLimit)
	n.log.Info("node initialised",
		"backend", n.config.Backend, "chain", cfg.ChainID, "genesis", genesis.Hash(), "baseFee", n.fees.Current())
	return nil
}

func (n *Node) canonicalHash(number uint64) types.Hash {
	if b := n.chain.BlockByNumber(number); b != nil {
		return b.Hash()
	}
	return types.Hash{}
}

// Start launches the mapping worker.
func (n *Node) Start() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.running {
		return errors.New("node already running")
	}
	ctx, cancel := context.WithCancel(context.Background())
	n.cancel = cancel
	n.done = make(chan struct{})
	go func() {
		defer close(n.done)
		if err := n.worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			n.log.Error("mapping worker stopped", "err", err)
		}
	}()
	n.running = true
	n.log.Info("node started", "datadir", n.config.DataDir)
	return nil
}

// Stop halts the mapping worker and closes the database. A stopped node
// cannot be restarted.
func (n *Node) Stop() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	select {
	case <-n.stop:
		return nil
	default:
	}
	if n.running {
		n.cancel()
		<-n.done
		n.running = false
	}
	if err := n.db.Close(); err != nil {
		n.log.Error("database close error", "err", err)
	}
	close(n.stop)
	n.log.Info("node stopped")
	return nil
}

// Wait blocks until the node is stopped.
func (n *Node) Wait() {
	<-n.stop
}

// SubmitRawTransaction pools an encoded extrinsic. It waits for a block
// in progress so the call is checked against committed state.
func (n *Node) SubmitRawTransaction(raw []byte) (types.Hash, error) {
	n.blockMu.RLock()
	defer n.blockMu.RUnlock()
	return n.txPool.SubmitRawTransaction(raw)
}

// SubmitRawTransactions pools a batch of encoded extrinsics in order.
func (n *Node) SubmitRawTransactions(ctx context.Context, raws [][]byte) ([]txpool.SubmitResult, error) {
	n.blockMu.RLock()
	defer n.blockMu.RUnlock()
	return n.txPool.SubmitRawTransactions(ctx, raws)
}

// ProduceBlock builds a block from the pooled calls on top of the head,
// prunes the pool and maps the new block.
func (n *Node) ProduceBlock(ctx context.Context) (*core.BlockResult, error) {
	n.blockMu.Lock()
	defer n.blockMu.Unlock()

	parent := n.chain.CurrentBlock().Header().Time
	now := uint64(time.Now().Unix())
	if now <= parent {
		now = parent + 1
	}
	env := n.chain.NextEnv(n.config.Author, now, 0)
	res, err := n.pipeline.ProduceBlock(ctx, env, n.state, n.txPool.Pending())
	if err != nil {
		return nil, err
	}
	n.txPool.Prune(res.Block.Number())
	if _, err := mapping.SyncBlocks(n.db, n.chain, n.config.SyncLimit); err != nil {
		return res, fmt.Errorf("map block %d: %w", res.Block.Number(), err)
	}
	return res, nil
}

// Chain returns the canonical chain.
func (n *Node) Chain() *core.Chain { return n.chain }

// TxPool returns the transaction pool. Submissions go through the node so
// they do not race block production.
func (n *Node) TxPool() *txpool.Pool { return n.txPool }

// Fees returns the fee oracle.
func (n *Node) Fees() *core.FeeOracle { return n.fees }

// Mapping returns the mapping database.
func (n *Node) Mapping() *mapping.DB { return n.db }

// State returns the live state. It must not be read while a block is being
// produced.
func (n *Node) State() state.StateDB { return n.state }

// Config returns the node configuration.
func (n *Node) Config() *Config { return n.config }

// Running reports whether the mapping worker is running.
func (n *Node) Running() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.running
}
