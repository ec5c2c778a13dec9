package types

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
)

// Header is the ledger block header produced by the block pipeline.
type Header struct {
	ParentHash     Hash
	Number         uint64
	Author         Address
	StateRoot      Hash
	ExtrinsicsRoot Hash
	ReceiptsRoot   Hash
	Bloom          Bloom
	GasLimit       uint64
	GasUsed        uint64
	Time           uint64
	BaseFee        *uint256.Int
}

// Hash returns the keccak256 of the RLP-encoded header.
func (h *Header) Hash() Hash {
	cpy := *h
	cpy.BaseFee = copyU256(h.BaseFee)
	return rlpHash(&cpy)
}

// Extrinsic is one entry of a block body: either a self-contained
// Ethereum transaction or a native call.
type Extrinsic struct {
	Tx     *Transaction
	Native *NativeCall
}

// Hash returns the hash of the wrapped call.
func (e Extrinsic) Hash() Hash {
	if e.Tx != nil {
		return e.Tx.Hash()
	}
	if e.Native != nil {
		return e.Native.Hash()
	}
	return Hash{}
}

// MarshalBinary returns the wrapped call's canonical encoding. The leading
// byte distinguishes the two kinds.
func (e Extrinsic) MarshalBinary() ([]byte, error) {
	switch {
	case e.Tx != nil:
		return e.Tx.MarshalBinary()
	case e.Native != nil:
		return e.Native.MarshalBinary()
	default:
		return nil, errors.New("empty extrinsic")
	}
}

// DecodeExtrinsic reverses Extrinsic.MarshalBinary.
func DecodeExtrinsic(b []byte) (Extrinsic, error) {
	if len(b) > 0 && b[0] == NativeCallType {
		c, err := DecodeNativeCall(b)
		return Extrinsic{Native: c}, err
	}
	tx, err := DecodeTransaction(b)
	return Extrinsic{Tx: tx}, err
}

// ExtrinsicsRoot commits to the encoded extrinsics in block order.
func ExtrinsicsRoot(exts []Extrinsic) (Hash, error) {
	if len(exts) == 0 {
		return EmptyRootHash, nil
	}
	encs := make([][]byte, len(exts))
	for i, e := range exts {
		enc, err := e.MarshalBinary()
		if err != nil {
			return Hash{}, fmt.Errorf("extrinsic %d: %w", i, err)
		}
		encs[i] = enc
	}
	return rlpHash(encs), nil
}

// Block is a sealed ledger block together with the receipts of its
// extrinsics, index-aligned.
type Block struct {
	header     *Header
	extrinsics []Extrinsic
	receipts   []*Receipt
}

// NewBlock assembles a block. The header is copied.
func NewBlock(header *Header, exts []Extrinsic, receipts []*Receipt) *Block {
	h := *header
	h.BaseFee = copyU256(header.BaseFee)
	return &Block{header: &h, extrinsics: exts, receipts: receipts}
}

func (b *Block) Header() *Header          { h := *b.header; return &h }
func (b *Block) Hash() Hash               { return b.header.Hash() }
func (b *Block) Number() uint64           { return b.header.Number }
func (b *Block) ParentHash() Hash         { return b.header.ParentHash }
func (b *Block) Extrinsics() []Extrinsic  { return b.extrinsics }
func (b *Block) Receipts() []*Receipt     { return b.receipts }
func (b *Block) BaseFee() *uint256.Int    { return copyU256(b.header.BaseFee) }
func (b *Block) GasUsed() uint64          { return b.header.GasUsed }

// Transactions returns the self-contained Ethereum transactions of the
// block in execution order.
func (b *Block) Transactions() []*Transaction {
	var txs []*Transaction
	for _, e := range b.extrinsics {
		if e.Tx != nil {
			txs = append(txs, e.Tx)
		}
	}
	return txs
}

// EthReceipts returns the receipts of the self-contained transactions.
func (b *Block) EthReceipts() []*Receipt {
	var out []*Receipt
	for i, e := range b.extrinsics {
		if e.Tx != nil && i < len(b.receipts) {
			out = append(out, b.receipts[i])
		}
	}
	return out
}

// EthHash is the Ethereum-view block hash: it commits only to the
// self-contained transactions, so Ethereum tooling sees a consistent chain
// of blocks even when native calls are interleaved.
func (b *Block) EthHash() Hash {
	txs := b.Transactions()
	hashes := make([]Hash, len(txs))
	for i, tx := range txs {
		hashes[i] = tx.Hash()
	}
	return rlpHash([]any{
		b.header.ParentHash,
		b.header.Number,
		b.header.StateRoot,
		rlpHash(hashes),
		ReceiptsRoot(b.EthReceipts()),
	})
}
