package mapping

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"github.com/eth2030/ledgercore/core"
	"github.com/eth2030/ledgercore/core/state"
	"github.com/eth2030/ledgercore/core/types"
)

var (
	testKey, _ = crypto.HexToECDSA("b71c71a67e1177ad4e901695e1b4b9ee17ae16c6668d313eac2f96dbcda3f291")
	testAddr   = types.PubkeyToAddress(testKey.PublicKey)
	payee      = types.BytesToAddress([]byte{0xbe, 0xef})
)

func openMemory(t *testing.T) *DB {
	t.Helper()
	db, err := Open("")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

type testChain struct {
	chain    *core.Chain
	pipeline *core.Pipeline
	st       *state.MemoryStateDB
	nonce    uint64
}

func newTestChain(t *testing.T) *testChain {
	t.Helper()
	cfg := core.DefaultChainConfig()
	cfg.InitialBaseFee = uint256.NewInt(1)
	st := state.NewMemoryStateDB()
	genesis, err := core.DevGenesis(uint256.NewInt(1_000_000_000), testAddr).Commit(cfg, st)
	if err != nil {
		t.Fatal(err)
	}
	chain, err := core.NewChain(genesis)
	if err != nil {
		t.Fatal(err)
	}
	fees, err := core.NewFeeOracle(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	bridge, err := core.NewBridge(cfg, fees)
	if err != nil {
		t.Fatal(err)
	}
	return &testChain{chain: chain, pipeline: core.NewPipeline(bridge, chain), st: st}
}

// produce seals a block carrying txs transfers, stamped with time.
func (tc *testChain) produce(t *testing.T, txs int, time uint64) *types.Block {
	t.Helper()
	var calls []core.Dispatchable
	for range txs {
		tx, err := types.SignTx(types.NewTx(&types.LegacyTx{
			Nonce:    tc.nonce,
			GasPrice: uint256.NewInt(10),
			Gas:      21000,
			To:       &payee,
			Value:    uint256.NewInt(1),
		}), 42, testKey)
		if err != nil {
			t.Fatal(err)
		}
		call, err := core.NewSelfContainedCall(tx)
		if err != nil {
			t.Fatal(err)
		}
		calls = append(calls, call)
		tc.nonce++
	}
	res, err := tc.pipeline.ProduceBlock(context.Background(), tc.chain.NextEnv(payee, time, 0), tc.st, calls)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Receipts) != txs {
		t.Fatalf("included %d of %d", len(res.Receipts), txs)
	}
	return res.Block
}

func TestWriteHashes(t *testing.T) {
	db := openMemory(t)
	var (
		blockA = types.HexToHash("0xaa")
		blockB = types.HexToHash("0xbb")
		eth    = types.HexToHash("0xe1")
		tx0    = types.HexToHash("0x10")
		tx1    = types.HexToHash("0x11")
	)
	if err := db.WriteHashes(MappingCommitment{BlockHash: blockA, EthBlockHash: eth, EthTransactionIDs: []types.Hash{tx0, tx1}}); err != nil {
		t.Fatal(err)
	}
	// A second ledger block carrying the same Ethereum block, as after a
	// reorg that re-included the same transactions.
	if err := db.WriteHashes(MappingCommitment{BlockHash: blockB, EthBlockHash: eth, EthTransactionIDs: []types.Hash{tx0, tx1}}); err != nil {
		t.Fatal(err)
	}

	blocks, err := db.BlockHashes(eth)
	if err != nil || len(blocks) != 2 || blocks[0] != blockA || blocks[1] != blockB {
		t.Fatalf("block hashes: %v %v", blocks, err)
	}
	metas, err := db.TransactionMetadata(tx1)
	if err != nil || len(metas) != 2 {
		t.Fatalf("metadata: %v %v", metas, err)
	}
	if metas[0].BlockHash != blockA || metas[0].EthBlockHash != eth || metas[0].EthIndex != 1 {
		t.Fatalf("metadata[0] = %+v", metas[0])
	}
	if got, err := db.EthBlockHash(blockB); err != nil || got != eth {
		t.Fatalf("eth hash: %s %v", got, err)
	}
	if ok, _ := db.IsSynced(blockA); !ok {
		t.Fatal("block not marked synced")
	}

	if err := db.RollbackBlock(blockA); err != nil {
		t.Fatal(err)
	}
	if blocks, _ := db.BlockHashes(eth); len(blocks) != 1 || blocks[0] != blockB {
		t.Fatalf("after rollback: %v", blocks)
	}
	if metas, _ := db.TransactionMetadata(tx0); len(metas) != 1 || metas[0].BlockHash != blockB {
		t.Fatalf("after rollback: %+v", metas)
	}
	if ok, _ := db.IsSynced(blockA); ok {
		t.Fatal("rolled back block still synced")
	}
	if _, err := db.EthBlockHash(blockA); err == nil {
		t.Fatal("rolled back block still mapped")
	}

	if err := db.RollbackBlock(blockB); err != nil {
		t.Fatal(err)
	}
	if metas, _ := db.TransactionMetadata(tx0); len(metas) != 0 {
		t.Fatal("transaction still mapped")
	}
	if txs, _ := db.EthTransactions(eth); len(txs) != 0 {
		t.Fatal("eth block transactions still mapped")
	}
}

func TestWriteNone(t *testing.T) {
	db := openMemory(t)
	h := types.HexToHash("0x01")
	if err := db.WriteNone(h); err != nil {
		t.Fatal(err)
	}
	if ok, _ := db.IsSynced(h); !ok {
		t.Fatal("not synced")
	}
	if _, err := db.EthBlockHash(h); err == nil {
		t.Fatal("empty block has an Ethereum mapping")
	}
	if err := db.RollbackBlock(h); err != nil {
		t.Fatal(err)
	}
	if ok, _ := db.IsSynced(h); ok {
		t.Fatal("still synced after rollback")
	}
}

func TestSyncingTips(t *testing.T) {
	db := openMemory(t)
	if tips, err := db.CurrentSyncingTips(); err != nil || len(tips) != 0 {
		t.Fatalf("fresh tips: %v %v", tips, err)
	}
	want := []types.Hash{types.HexToHash("0x01"), types.HexToHash("0x02")}
	if err := db.SetCurrentSyncingTips(want); err != nil {
		t.Fatal(err)
	}
	got, err := db.CurrentSyncingTips()
	if err != nil || len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("tips: %v %v", got, err)
	}
}

func TestFeeStore(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	if st, err := db.ReadBaseFee(); err != nil || st != nil {
		t.Fatalf("fresh store: %v %v", st, err)
	}

	cfg := core.DefaultChainConfig()
	cfg.InitialBaseFee = uint256.NewInt(100)
	oracle, err := core.NewFeeOracle(cfg, db)
	if err != nil {
		t.Fatal(err)
	}
	next, _, err := oracle.OnBlockFinalized(1, cfg.BlockGasLimit, cfg.BlockGasLimit)
	if err != nil {
		t.Fatal(err)
	}
	if err := db.Close(); err != nil {
		t.Fatal(err)
	}

	// The adjusted fee survives a restart.
	db, err = Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	reloaded, err := core.NewFeeOracle(cfg, db)
	if err != nil {
		t.Fatal(err)
	}
	if !reloaded.BaseFee().Eq(next) || reloaded.Height() != 1 {
		t.Fatalf("reloaded %s at %d, want %s at 1", reloaded.BaseFee(), reloaded.Height(), next)
	}
}

func TestSyncBlocks(t *testing.T) {
	tc := newTestChain(t)
	b1 := tc.produce(t, 2, 1)
	b2 := tc.produce(t, 0, 2)
	b3 := tc.produce(t, 1, 3)
	db := openMemory(t)

	// Genesis plus one block, then the sync is behind the head.
	synced, err := SyncBlocks(db, tc.chain, 2)
	if err != nil || !synced {
		t.Fatalf("sync: %v %v", synced, err)
	}
	if tips, _ := db.CurrentSyncingTips(); len(tips) != 1 || tips[0] != b3.Hash() {
		t.Fatalf("tips while behind: %v", tips)
	}

	if _, err := SyncBlocks(db, tc.chain, 10); err != nil {
		t.Fatal(err)
	}
	last, err := db.LastSyncedBlock()
	if err != nil || last == nil || last.Number != 3 || last.Hash != b3.Hash() {
		t.Fatalf("last synced: %+v %v", last, err)
	}
	if tips, _ := db.CurrentSyncingTips(); len(tips) != 0 {
		t.Fatalf("tips after catching up: %v", tips)
	}
	if synced, err := SyncBlocks(db, tc.chain, 10); err != nil || synced {
		t.Fatalf("nothing left to sync: %v %v", synced, err)
	}

	genesis := tc.chain.Genesis()
	if blocks, _ := db.BlockHashes(genesis.EthHash()); len(blocks) != 1 || blocks[0] != genesis.Hash() {
		t.Fatal("genesis not mapped")
	}
	for i, tx := range b1.Transactions() {
		metas, err := db.TransactionMetadata(tx.Hash())
		if err != nil || len(metas) != 1 {
			t.Fatalf("tx %d: %v %v", i, metas, err)
		}
		if metas[0].BlockHash != b1.Hash() || metas[0].EthBlockHash != b1.EthHash() || metas[0].EthIndex != uint32(i) {
			t.Fatalf("tx %d metadata %+v", i, metas[0])
		}
	}
	if ok, _ := db.IsSynced(b2.Hash()); !ok {
		t.Fatal("empty block not marked synced")
	}
	if _, err := db.EthBlockHash(b2.Hash()); err == nil {
		t.Fatal("empty block mapped")
	}
	for n, want := range []*types.Block{genesis, b1, b2, b3} {
		if got, err := db.SyncedBlockHash(uint64(n)); err != nil || got != want.Hash() {
			t.Fatalf("synced hash %d: %s %v", n, got, err)
		}
	}
}

func TestSyncFollowsReorg(t *testing.T) {
	tc := newTestChain(t)
	tc.produce(t, 1, 1)
	old := tc.produce(t, 1, 2)
	db := openMemory(t)
	if _, err := SyncBlocks(db, tc.chain, 10); err != nil {
		t.Fatal(err)
	}
	staleTx := old.Transactions()[0].Hash()

	if err := tc.chain.SetHead(1); err != nil {
		t.Fatal(err)
	}
	if err := tc.pipeline.Bridge().Fees().Rebase(1); err != nil {
		t.Fatal(err)
	}
	replacement := tc.produce(t, 0, 20)
	if replacement.Hash() == old.Hash() {
		t.Fatal("replacement block equals the old one")
	}

	if _, err := SyncBlocks(db, tc.chain, 10); err != nil {
		t.Fatal(err)
	}
	last, _ := db.LastSyncedBlock()
	if last.Number != 2 || last.Hash != replacement.Hash() {
		t.Fatalf("last synced %+v, want replacement", last)
	}
	if metas, _ := db.TransactionMetadata(staleTx); len(metas) != 0 {
		t.Fatal("transaction of the orphaned block still mapped")
	}
	if ok, _ := db.IsSynced(old.Hash()); ok {
		t.Fatal("orphaned block still synced")
	}
}

func TestSyncRollsBackPastHead(t *testing.T) {
	tc := newTestChain(t)
	b1 := tc.produce(t, 1, 1)
	tc.produce(t, 1, 2)
	db := openMemory(t)
	if _, err := SyncBlocks(db, tc.chain, 10); err != nil {
		t.Fatal(err)
	}
	if err := tc.chain.SetHead(1); err != nil {
		t.Fatal(err)
	}
	if _, err := SyncBlocks(db, tc.chain, 10); err != nil {
		t.Fatal(err)
	}
	last, err := db.LastSyncedBlock()
	if err != nil || last == nil || last.Number != 1 || last.Hash != b1.Hash() {
		t.Fatalf("last synced %+v %v, want block 1", last, err)
	}
	if tips, _ := db.CurrentSyncingTips(); len(tips) != 0 {
		t.Fatalf("tips: %v", tips)
	}
}

func TestRollbackToGenesis(t *testing.T) {
	tc := newTestChain(t)
	tc.produce(t, 1, 1)
	db := openMemory(t)
	if _, err := SyncBlocks(db, tc.chain, 10); err != nil {
		t.Fatal(err)
	}
	for range 2 {
		if ok, err := RollbackLastBlock(db); err != nil || !ok {
			t.Fatalf("rollback: %v %v", ok, err)
		}
	}
	if last, err := db.LastSyncedBlock(); err != nil || last != nil {
		t.Fatalf("last synced after full rollback: %+v %v", last, err)
	}
	if _, err := RollbackLastBlock(db); err == nil {
		t.Fatal("rollback with nothing synced succeeded")
	}

	// The sync starts over from genesis.
	if _, err := SyncBlocks(db, tc.chain, 10); err != nil {
		t.Fatal(err)
	}
	if last, _ := db.LastSyncedBlock(); last == nil || last.Number != 1 {
		t.Fatalf("resync: %+v", last)
	}
}

func TestWorker(t *testing.T) {
	tc := newTestChain(t)
	tc.produce(t, 1, 1)
	db := openMemory(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// A cancelled worker still runs one round before returning.
	if err := NewWorker(db, tc.chain, 1, 10).Run(ctx); err != context.Canceled {
		t.Fatalf("got %v", err)
	}
	if last, _ := db.LastSyncedBlock(); last == nil || last.Number != 1 {
		t.Fatalf("worker did not sync: %+v", last)
	}
}
