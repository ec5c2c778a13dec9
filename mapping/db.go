// Package mapping keeps the Ethereum view of the ledger: which ledger block
// an Ethereum block hash refers to and where each self-contained
// transaction was included. It also persists the fee oracle state.
package mapping

import (
	"encoding/binary"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"

	"github.com/eth2030/ledgercore/core"
	"github.com/eth2030/ledgercore/core/types"
	"github.com/eth2030/ledgercore/log"
)

// Key prefixes. Each plays the role of a column.
var (
	metaPrefix         = []byte("m") // static keys below
	blockMappingPrefix = []byte("b") // eth block hash -> []ledger block hash
	txMappingPrefix    = []byte("t") // eth tx hash -> []TransactionMetadata
	blockIDPrefix      = []byte("n") // number -> synced ledger block hash
	blockHashPrefix    = []byte("h") // ledger block hash -> eth block hash
	ethBlockTxPrefix   = []byte("x") // eth block hash -> []eth tx hash
	syncedPrefix       = []byte("s") // ledger block hash -> synced mark

	lastSyncedKey  = []byte("LAST_SYNCED_BLOCK")
	syncingTipsKey = []byte("CURRENT_SYNCING_TIPS")
	baseFeeKey     = []byte("BASE_FEE")
)

var ErrNotMapped = errors.New("block not mapped")

// MappingCommitment is what one synced ledger block contributes.
type MappingCommitment struct {
	BlockHash         types.Hash
	EthBlockHash      types.Hash
	EthTransactionIDs []types.Hash
}

// TransactionMetadata locates one inclusion of an Ethereum transaction.
type TransactionMetadata struct {
	BlockHash    types.Hash
	EthBlockHash types.Hash
	EthIndex     uint32
}

// SyncedBlockInfo identifies the last block written by the sync.
type SyncedBlockInfo struct {
	Hash   types.Hash
	Number uint64
}

// DB is the mapping database. It also implements core.FeeStore.
type DB struct {
	db     *leveldb.DB
	mu     sync.Mutex // serializes read-modify-write of list values
	syncMu sync.Mutex // held for a whole SyncBlocks round
	log    *log.Logger
}

var _ core.FeeStore = (*DB)(nil)

// Open opens or creates the database at path. An empty path opens an
// in-memory database.
func Open(path string) (*DB, error) {
	var (
		db  *leveldb.DB
		err error
	)
	if path == "" {
		db, err = leveldb.Open(storage.NewMemStorage(), nil)
	} else {
		db, err = leveldb.OpenFile(path, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("open mapping db at %q: %w", path, err)
	}
	return &DB{db: db, log: log.Default().Module("mapping")}, nil
}

// Close releases the underlying LevelDB handle.
func (d *DB) Close() error { return d.db.Close() }

func key(prefix []byte, suffix []byte) []byte {
	out := make([]byte, 0, len(prefix)+len(suffix))
	return append(append(out, prefix...), suffix...)
}

func numberKey(n uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], n)
	return key(blockIDPrefix, b[:])
}

// get decodes the value at k into v. It reports false when k is absent.
func (d *DB) get(k []byte, v any) (bool, error) {
	raw, err := d.db.Get(k, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get %x: %w", k, err)
	}
	if err := rlp.DecodeBytes(raw, v); err != nil {
		return false, fmt.Errorf("decode %x: %w", k, err)
	}
	return true, nil
}

func put(batch *leveldb.Batch, k []byte, v any) error {
	raw, err := rlp.EncodeToBytes(v)
	if err != nil {
		return err
	}
	batch.Put(k, raw)
	return nil
}

// WriteHashes records c and marks its block synced.
func (d *DB) WriteHashes(c MappingCommitment) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	batch := new(leveldb.Batch)
	blocks, err := d.BlockHashes(c.EthBlockHash)
	if err != nil {
		return err
	}
	if !slices.Contains(blocks, c.BlockHash) {
		blocks = append(blocks, c.BlockHash)
	}
	if err := put(batch, key(blockMappingPrefix, c.EthBlockHash[:]), blocks); err != nil {
		return err
	}
	batch.Put(key(blockHashPrefix, c.BlockHash[:]), c.EthBlockHash[:])
	if len(c.EthTransactionIDs) > 0 {
		if err := put(batch, key(ethBlockTxPrefix, c.EthBlockHash[:]), c.EthTransactionIDs); err != nil {
			return err
		}
	}
	for i, txHash := range c.EthTransactionIDs {
		metas, err := d.TransactionMetadata(txHash)
		if err != nil {
			return err
		}
		metas = append(metas, TransactionMetadata{
			BlockHash:    c.BlockHash,
			EthBlockHash: c.EthBlockHash,
			EthIndex:     uint32(i),
		})
		if err := put(batch, key(txMappingPrefix, txHash[:]), metas); err != nil {
			return err
		}
	}
	batch.Put(key(syncedPrefix, c.BlockHash[:]), []byte{1})
	return d.db.Write(batch, nil)
}

// WriteNone marks a block without Ethereum content as synced.
func (d *DB) WriteNone(blockHash types.Hash) error {
	return d.db.Put(key(syncedPrefix, blockHash[:]), []byte{1}, nil)
}

// BlockHashes returns the ledger blocks mapped to an Ethereum block hash.
func (d *DB) BlockHashes(ethHash types.Hash) ([]types.Hash, error) {
	var hashes []types.Hash
	if _, err := d.get(key(blockMappingPrefix, ethHash[:]), &hashes); err != nil {
		return nil, err
	}
	return hashes, nil
}

// EthBlockHash returns the Ethereum hash of a mapped ledger block.
func (d *DB) EthBlockHash(blockHash types.Hash) (types.Hash, error) {
	raw, err := d.db.Get(key(blockHashPrefix, blockHash[:]), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return types.Hash{}, fmt.Errorf("%w: %s", ErrNotMapped, blockHash)
	}
	if err != nil {
		return types.Hash{}, err
	}
	return types.BytesToHash(raw), nil
}

// EthTransactions lists the transactions of an Ethereum block in order.
func (d *DB) EthTransactions(ethHash types.Hash) ([]types.Hash, error) {
	var hashes []types.Hash
	if _, err := d.get(key(ethBlockTxPrefix, ethHash[:]), &hashes); err != nil {
		return nil, err
	}
	return hashes, nil
}

// TransactionMetadata returns every recorded inclusion of txHash.
func (d *DB) TransactionMetadata(txHash types.Hash) ([]TransactionMetadata, error) {
	var metas []TransactionMetadata
	if _, err := d.get(key(txMappingPrefix, txHash[:]), &metas); err != nil {
		return nil, err
	}
	return metas, nil
}

// IsSynced reports whether the sync has written blockHash.
func (d *DB) IsSynced(blockHash types.Hash) (bool, error) {
	return d.db.Has(key(syncedPrefix, blockHash[:]), nil)
}

// RollbackBlock removes everything WriteHashes or WriteNone recorded for
// blockHash.
func (d *DB) RollbackBlock(blockHash types.Hash) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	batch := new(leveldb.Batch)
	batch.Delete(key(syncedPrefix, blockHash[:]))

	ethHash, err := d.EthBlockHash(blockHash)
	if errors.Is(err, ErrNotMapped) {
		return d.db.Write(batch, nil)
	}
	if err != nil {
		return err
	}
	txs, err := d.EthTransactions(ethHash)
	if err != nil {
		return err
	}
	for _, txHash := range txs {
		metas, err := d.TransactionMetadata(txHash)
		if err != nil {
			return err
		}
		kept := metas[:0]
		for _, m := range metas {
			if m.BlockHash != blockHash {
				kept = append(kept, m)
			}
		}
		if len(kept) == 0 {
			batch.Delete(key(txMappingPrefix, txHash[:]))
		} else if err := put(batch, key(txMappingPrefix, txHash[:]), kept); err != nil {
			return err
		}
	}

	blocks, err := d.BlockHashes(ethHash)
	if err != nil {
		return err
	}
	kept := blocks[:0]
	for _, h := range blocks {
		if h != blockHash {
			kept = append(kept, h)
		}
	}
	if len(kept) == 0 {
		batch.Delete(key(blockMappingPrefix, ethHash[:]))
		batch.Delete(key(ethBlockTxPrefix, ethHash[:]))
	} else if err := put(batch, key(blockMappingPrefix, ethHash[:]), kept); err != nil {
		return err
	}
	batch.Delete(key(blockHashPrefix, blockHash[:]))
	return d.db.Write(batch, nil)
}

// LastSyncedBlock returns the last block the sync wrote, or nil.
func (d *DB) LastSyncedBlock() (*SyncedBlockInfo, error) {
	info := new(SyncedBlockInfo)
	ok, err := d.get(key(metaPrefix, lastSyncedKey), info)
	if err != nil || !ok {
		return nil, err
	}
	return info, nil
}

// WriteLastSyncedBlock records hash as the synced block at number.
func (d *DB) WriteLastSyncedBlock(hash types.Hash, number uint64) error {
	d.log.Debug("write last synced block", "number", number, "hash", hash)
	batch := new(leveldb.Batch)
	if err := put(batch, key(metaPrefix, lastSyncedKey), &SyncedBlockInfo{Hash: hash, Number: number}); err != nil {
		return err
	}
	batch.Put(numberKey(number), hash[:])
	return d.db.Write(batch, nil)
}

// SyncedBlockHash returns the block synced at number.
func (d *DB) SyncedBlockHash(number uint64) (types.Hash, error) {
	raw, err := d.db.Get(numberKey(number), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return types.Hash{}, fmt.Errorf("%w: no synced block at %d", ErrNotMapped, number)
	}
	if err != nil {
		return types.Hash{}, err
	}
	return types.BytesToHash(raw), nil
}

// RemoveSyncedBlock forgets the number index entry of info.
func (d *DB) RemoveSyncedBlock(info *SyncedBlockInfo) error {
	return d.db.Delete(numberKey(info.Number), nil)
}

// ClearLastSyncedBlock resets the sync to start from genesis.
func (d *DB) ClearLastSyncedBlock() error {
	d.log.Debug("clear last synced block")
	return d.db.Delete(key(metaPrefix, lastSyncedKey), nil)
}

// CurrentSyncingTips returns the heads the sync is working towards.
func (d *DB) CurrentSyncingTips() ([]types.Hash, error) {
	var tips []types.Hash
	if _, err := d.get(key(metaPrefix, syncingTipsKey), &tips); err != nil {
		return nil, err
	}
	return tips, nil
}

// SetCurrentSyncingTips replaces the syncing tips.
func (d *DB) SetCurrentSyncingTips(tips []types.Hash) error {
	batch := new(leveldb.Batch)
	if err := put(batch, key(metaPrefix, syncingTipsKey), tips); err != nil {
		return err
	}
	return d.db.Write(batch, nil)
}

// ReadBaseFee implements core.FeeStore.
func (d *DB) ReadBaseFee() (*core.BaseFeeState, error) {
	st := new(core.BaseFeeState)
	ok, err := d.get(key(metaPrefix, baseFeeKey), st)
	if err != nil || !ok {
		return nil, err
	}
	return st, nil
}

// WriteBaseFee implements core.FeeStore. The write is synced to disk.
func (d *DB) WriteBaseFee(state *core.BaseFeeState) error {
	batch := new(leveldb.Batch)
	if err := put(batch, key(metaPrefix, baseFeeKey), state); err != nil {
		return err
	}
	return d.db.Write(batch, &opt.WriteOptions{Sync: true})
}
