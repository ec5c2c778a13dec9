package core

import (
	"errors"
	"testing"

	"github.com/holiman/uint256"

	"github.com/eth2030/ledgercore/core/state"
	"github.com/eth2030/ledgercore/core/types"
)

func TestGenesisCommit(t *testing.T) {
	cfg := testConfig(7)
	st := state.NewMemoryStateDB()
	g := &Genesis{
		Timestamp: 99,
		Alloc: []GenesisAccount{
			{Address: addrA, Balance: uint256.NewInt(500)},
			{Address: addrB, Nonce: 3, Code: []byte{0x60, 0x00}},
		},
	}
	block, err := g.Commit(cfg, st)
	if err != nil {
		t.Fatal(err)
	}
	if block.Number() != 0 || block.BaseFee().Uint64() != 7 || block.Header().Time != 99 {
		t.Fatalf("header: %+v", block.Header())
	}
	if st.GetBalance(addrA).Uint64() != 500 || st.GetNonce(addrB) != 3 || len(st.GetCode(addrB)) != 2 {
		t.Fatal("allocation not applied")
	}

	// Same allocation, same root.
	again, err := g.Commit(cfg, state.NewMemoryStateDB())
	if err != nil {
		t.Fatal(err)
	}
	if again.Hash() != block.Hash() {
		t.Fatal("genesis is not deterministic")
	}

	g.Alloc = append(g.Alloc, GenesisAccount{Address: addrA})
	if _, err := g.Commit(cfg, state.NewMemoryStateDB()); err == nil {
		t.Fatal("duplicate account accepted")
	}
}

func TestChainInsert(t *testing.T) {
	tc := newTestChain(t, testConfig(4), state.NewMemoryStateDB(), addrA)
	genesis := tc.chain.Genesis()

	var blocks []*types.Block
	for nonce := uint64(0); nonce < 3; nonce++ {
		res, err := tc.produce(t.Context(), legacyCall(t, keyA, nonce, 21000, 10, &recipient, 1, nil))
		if err != nil {
			t.Fatal(err)
		}
		blocks = append(blocks, res.Block)
	}
	if head := tc.chain.CurrentBlock(); head.Number() != 3 || head.Hash() != blocks[2].Hash() {
		t.Fatalf("head: %d", head.Number())
	}
	for i, b := range blocks {
		if got := tc.chain.BlockByNumber(uint64(i + 1)); got == nil || got.Hash() != b.Hash() {
			t.Fatalf("block %d not canonical", i+1)
		}
	}
	if tc.chain.BlockByNumber(0).Hash() != genesis.Hash() {
		t.Fatal("genesis lost")
	}

	// Re-submitting an old block does not extend the head.
	if err := tc.chain.SubmitBlock(blocks[1]); !errors.Is(err, ErrInvalidChain) {
		t.Fatalf("got %v, want ErrInvalidChain", err)
	}
	orphan := types.NewBlock(&types.Header{ParentHash: types.HexToHash("0xdead"), Number: 4}, nil, nil)
	if err := tc.chain.SubmitBlock(orphan); !errors.Is(err, ErrUnknownParent) {
		t.Fatalf("got %v, want ErrUnknownParent", err)
	}
}

func TestChainSetHead(t *testing.T) {
	tc := newTestChain(t, testConfig(4), state.NewMemoryStateDB(), addrA)
	var last *types.Block
	for i := 0; i < 2; i++ {
		res, err := tc.produce(t.Context())
		if err != nil {
			t.Fatal(err)
		}
		last = res.Block
	}
	if err := tc.chain.SetHead(1); err != nil {
		t.Fatal(err)
	}
	if tc.chain.CurrentBlock().Number() != 1 {
		t.Fatal("head not rewound")
	}
	if tc.chain.IsCanonical(last.Hash()) || tc.chain.BlockByHash(last.Hash()) == nil {
		t.Fatal("rewound block should be known but not canonical")
	}
	if tc.chain.BlockByNumber(2) != nil {
		t.Fatal("number 2 still canonical")
	}
	if err := tc.chain.SetHead(5); !errors.Is(err, ErrBlockNotFound) {
		t.Fatalf("got %v", err)
	}
	if _, err := NewChain(nil); !errors.Is(err, ErrNoGenesis) {
		t.Fatalf("got %v", err)
	}
}
