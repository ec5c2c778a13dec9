package mapping

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/eth2030/ledgercore/core/types"
	"github.com/eth2030/ledgercore/log"
	"github.com/eth2030/ledgercore/metrics"
)

// BlockSource is the canonical chain the sync follows. core.Chain
// implements it.
type BlockSource interface {
	CurrentBlock() *types.Block
	BlockByNumber(number uint64) *types.Block
}

var errNoGenesis = errors.New("genesis block not found")

// Commitment returns the mapping entries of block.
func Commitment(block *types.Block) MappingCommitment {
	txs := block.Transactions()
	ids := make([]types.Hash, len(txs))
	for i, tx := range txs {
		ids[i] = tx.Hash()
	}
	return MappingCommitment{
		BlockHash:         block.Hash(),
		EthBlockHash:      block.EthHash(),
		EthTransactionIDs: ids,
	}
}

// SyncBlock writes the mapping of one block. A block without self-contained
// transactions has no Ethereum view and is only marked synced.
func SyncBlock(db *DB, block *types.Block) error {
	if len(block.Transactions()) == 0 {
		return db.WriteNone(block.Hash())
	}
	return db.WriteHashes(Commitment(block))
}

// SyncGenesis maps the genesis block. Its Ethereum view always exists, even
// without transactions.
func SyncGenesis(db *DB, src BlockSource) error {
	genesis := src.BlockByNumber(0)
	if genesis == nil {
		return errNoGenesis
	}
	log.Default().Module("mapping").Info("syncing genesis block", "hash", genesis.Hash())
	if err := db.WriteHashes(Commitment(genesis)); err != nil {
		return err
	}
	return db.WriteLastSyncedBlock(genesis.Hash(), 0)
}

// RollbackLastBlock undoes the last synced block and moves the sync back to
// its parent.
func RollbackLastBlock(db *DB) (bool, error) {
	last, err := db.LastSyncedBlock()
	if err != nil {
		return false, err
	}
	if last == nil {
		return false, errors.New("failed to get last synced block")
	}
	log.Default().Module("mapping").Debug("rollback block", "number", last.Number, "hash", last.Hash)
	if err := db.RollbackBlock(last.Hash); err != nil {
		return false, err
	}
	if err := db.RemoveSyncedBlock(last); err != nil {
		return false, err
	}
	if last.Number == 0 {
		return true, db.ClearLastSyncedBlock()
	}
	parent, err := db.SyncedBlockHash(last.Number - 1)
	if err != nil {
		return false, err
	}
	return true, db.WriteLastSyncedBlock(parent, last.Number-1)
}

// ensureSyncedBlocks rolls the sync back until its last block is canonical
// again. Blocks above the source head are rolled back too.
func ensureSyncedBlocks(db *DB, src BlockSource) error {
	for {
		last, err := db.LastSyncedBlock()
		if err != nil || last == nil {
			return err
		}
		var canonical types.Hash
		if onChain := src.BlockByNumber(last.Number); onChain != nil {
			if onChain.Hash() == last.Hash {
				return nil
			}
			canonical = onChain.Hash()
		}
		log.Default().Module("mapping").Debug("last synced block is not canonical",
			"number", last.Number, "synced", last.Hash, "canonical", canonical)
		if _, err := RollbackLastBlock(db); err != nil {
			return err
		}
	}
}

// SyncOneBlock maps the next canonical block. It reports false when the
// sync has caught up with the source head.
func SyncOneBlock(db *DB, src BlockSource) (bool, error) {
	if err := ensureSyncedBlocks(db, src); err != nil {
		return false, err
	}
	last, err := db.LastSyncedBlock()
	if err != nil {
		return false, err
	}
	if last == nil {
		return true, SyncGenesis(db, src)
	}
	next := last.Number + 1
	if src.CurrentBlock().Number() < next {
		return false, nil
	}
	block := src.BlockByNumber(next)
	if block == nil {
		return false, fmt.Errorf("block %d not found", next)
	}
	if err := SyncBlock(db, block); err != nil {
		return false, err
	}
	if err := db.WriteLastSyncedBlock(block.Hash(), next); err != nil {
		return false, err
	}
	metrics.MappingSynced.Inc(1)
	metrics.MappingHeight.Update(int64(next))
	return true, nil
}

// SyncBlocks maps up to limit blocks and records the head it is syncing
// towards while it lags behind.
func SyncBlocks(db *DB, src BlockSource, limit int) (bool, error) {
	db.syncMu.Lock()
	defer db.syncMu.Unlock()

	var synced bool
	for range limit {
		ok, err := SyncOneBlock(db, src)
		if err != nil {
			return synced, err
		}
		if !ok {
			break
		}
		synced = true
	}
	var tips []types.Hash
	if last, err := db.LastSyncedBlock(); err != nil {
		return synced, err
	} else if head := src.CurrentBlock(); last == nil || last.Hash != head.Hash() {
		tips = []types.Hash{head.Hash()}
	}
	return synced, db.SetCurrentSyncingTips(tips)
}

// Worker keeps a mapping database in step with a block source.
type Worker struct {
	db       *DB
	src      BlockSource
	interval time.Duration
	limit    int
	log      *log.Logger
}

// NewWorker returns a worker syncing up to limit blocks every interval.
func NewWorker(db *DB, src BlockSource, interval time.Duration, limit int) *Worker {
	return &Worker{db: db, src: src, interval: interval, limit: limit, log: log.Default().Module("mapping")}
}

// Run syncs until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		if _, err := SyncBlocks(w.db, w.src, w.limit); err != nil {
			w.log.Error("mapping sync failed", "err", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
