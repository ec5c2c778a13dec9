package types

import (
	"bytes"
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"
)

// MarshalBinary returns the canonical envelope encoding: a bare RLP list
// for legacy transactions, type || rlp(payload) for typed ones.
func (tx *Transaction) MarshalBinary() ([]byte, error) {
	if tx.Type() == LegacyTxType {
		return rlp.EncodeToBytes(tx.inner)
	}
	var buf bytes.Buffer
	buf.WriteByte(tx.Type())
	if err := rlp.Encode(&buf, tx.inner); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary decodes the canonical envelope encoding into tx.
func (tx *Transaction) UnmarshalBinary(b []byte) error {
	inner, err := decodeTxData(b)
	if err != nil {
		return err
	}
	tx.setDecoded(inner, uint64(len(b)))
	return nil
}

// EncodeTransaction returns the canonical encoding of tx.
func EncodeTransaction(tx *Transaction) ([]byte, error) {
	return tx.MarshalBinary()
}

// DecodeTransaction parses raw envelope bytes. Every failure wraps
// ErrDecode: an unrecognised type byte, a field count that does not match
// the variant, an integer that overflows its field width, a non-canonical
// encoding or trailing bytes.
func DecodeTransaction(b []byte) (*Transaction, error) {
	tx := new(Transaction)
	if err := tx.UnmarshalBinary(b); err != nil {
		return nil, err
	}
	return tx, nil
}

func (tx *Transaction) setDecoded(inner TxData, size uint64) {
	tx.inner = inner
	tx.size.Store(size)
	tx.hash.Store(nil)
	tx.from.Store(nil)
}

func decodeTxData(b []byte) (TxData, error) {
	if len(b) == 0 {
		return nil, fmt.Errorf("%w: %w", ErrDecode, ErrEmptyEnvelope)
	}
	if b[0] >= 0xc0 {
		var inner LegacyTx
		if err := rlp.DecodeBytes(b, &inner); err != nil {
			return nil, fmt.Errorf("%w: legacy: %w", ErrDecode, err)
		}
		return &inner, nil
	}
	var inner TxData
	switch b[0] {
	case AccessListTxType:
		inner = new(AccessListTx)
	case DynamicFeeTxType:
		inner = new(DynamicFeeTx)
	default:
		return nil, fmt.Errorf("%w: %w 0x%02x", ErrDecode, ErrUnknownTxType, b[0])
	}
	if len(b) == 1 {
		return nil, fmt.Errorf("%w: typed envelope without payload", ErrDecode)
	}
	if err := rlp.DecodeBytes(b[1:], inner); err != nil {
		return nil, fmt.Errorf("%w: type 0x%02x: %w", ErrDecode, b[0], err)
	}
	return inner, nil
}

// SigningHash returns the hash that the envelope's signature commits to.
// Legacy envelopes only include the chain id when their V value carries
// EIP-155 replay protection; typed envelopes hash their type byte and
// chain id explicitly.
func SigningHash(tx *Transaction) Hash {
	switch t := tx.inner.(type) {
	case *LegacyTx:
		if id, protected := deriveChainID(t.V); protected {
			return rlpHash([]any{t.Nonce, t.GasPrice, t.Gas, t.To, t.Value, t.Data, id, uint(0), uint(0)})
		}
		return rlpHash([]any{t.Nonce, t.GasPrice, t.Gas, t.To, t.Value, t.Data})
	case *AccessListTx:
		return prefixedRlpHash(AccessListTxType, []any{
			t.ChainID, t.Nonce, t.GasPrice, t.Gas, t.To, t.Value, t.Data, t.AccessList,
		})
	case *DynamicFeeTx:
		return prefixedRlpHash(DynamicFeeTxType, []any{
			t.ChainID, t.Nonce, t.GasTipCap, t.GasFeeCap, t.Gas, t.To, t.Value, t.Data, t.AccessList,
		})
	default:
		return Hash{}
	}
}

// signingHashFor returns the hash a signer with the given chain id signs.
// Unsigned legacy envelopes do not yet carry V, so the chain id comes from
// the caller.
func signingHashFor(tx *Transaction, chainID uint64) Hash {
	if t, ok := tx.inner.(*LegacyTx); ok {
		if chainID == 0 {
			return rlpHash([]any{t.Nonce, t.GasPrice, t.Gas, t.To, t.Value, t.Data})
		}
		return rlpHash([]any{t.Nonce, t.GasPrice, t.Gas, t.To, t.Value, t.Data, chainID, uint(0), uint(0)})
	}
	return SigningHash(tx)
}

func rlpHash(x any) Hash {
	enc, err := rlp.EncodeToBytes(x)
	if err != nil {
		return Hash{}
	}
	return Keccak256Hash(enc)
}

func prefixedRlpHash(prefix byte, x any) Hash {
	enc, err := rlp.EncodeToBytes(x)
	if err != nil {
		return Hash{}
	}
	return Keccak256Hash([]byte{prefix}, enc)
}
