package types

import (
	"errors"
	"sync/atomic"

	"github.com/holiman/uint256"
)

// Transaction type constants. The type byte prefixes every typed envelope.
const (
	LegacyTxType     = 0x00
	AccessListTxType = 0x01
	DynamicFeeTxType = 0x02
)

var (
	// ErrDecode marks malformed envelope bytes. Envelopes rejected with it
	// can never become valid.
	ErrDecode = errors.New("invalid transaction envelope")

	// ErrSignature marks an envelope whose signer cannot be recovered.
	ErrSignature = errors.New("invalid transaction signature")

	ErrUnknownTxType     = errors.New("unknown transaction type")
	ErrEmptyEnvelope     = errors.New("empty envelope")
	ErrInvalidRecoveryID = errors.New("invalid recovery id")
	ErrInvalidSigValues  = errors.New("signature values out of range")
	ErrFeeCapTooLow      = errors.New("fee cap below base fee")
)

// Transaction is a self-contained Ethereum transaction envelope. Exactly
// one TxData variant is active.
type Transaction struct {
	inner TxData
	hash  atomic.Pointer[Hash]
	size  atomic.Uint64
	from  atomic.Pointer[Address] // cached sender address
}

// TxData is the variant payload of a transaction envelope.
type TxData interface {
	txType() byte
	chainID() uint64
	accessList() AccessList
	data() []byte
	gas() uint64
	gasPrice() *uint256.Int
	gasTipCap() *uint256.Int
	gasFeeCap() *uint256.Int
	value() *uint256.Int
	nonce() uint64
	to() *Address

	rawSignatureValues() (v, r, s *uint256.Int)
	setSignatureValues(chainID uint64, v, r, s *uint256.Int)
	copy() TxData
}

// AccessList is a list of address-slot pairs accessed by a transaction.
type AccessList []AccessTuple

// AccessTuple is a single address and its accessed storage slots.
type AccessTuple struct {
	Address     Address
	StorageKeys []Hash
}

// StorageKeys returns the total number of storage keys in the list.
func (al AccessList) StorageKeys() int {
	n := 0
	for _, tuple := range al {
		n += len(tuple.StorageKeys)
	}
	return n
}

// LegacyTx is a pre-EIP-2718 transaction. V carries the recovery id and,
// for EIP-155 envelopes, the chain id.
type LegacyTx struct {
	Nonce    uint64
	GasPrice *uint256.Int
	Gas      uint64
	To       *Address `rlp:"nil"`
	Value    *uint256.Int
	Data     []byte
	V, R, S  *uint256.Int
}

func (tx *LegacyTx) txType() byte            { return LegacyTxType }
func (tx *LegacyTx) chainID() uint64         { id, _ := deriveChainID(tx.V); return id }
func (tx *LegacyTx) accessList() AccessList  { return nil }
func (tx *LegacyTx) data() []byte            { return tx.Data }
func (tx *LegacyTx) gas() uint64             { return tx.Gas }
func (tx *LegacyTx) gasPrice() *uint256.Int  { return tx.GasPrice }
func (tx *LegacyTx) gasTipCap() *uint256.Int { return tx.GasPrice }
func (tx *LegacyTx) gasFeeCap() *uint256.Int { return tx.GasPrice }
func (tx *LegacyTx) value() *uint256.Int     { return tx.Value }
func (tx *LegacyTx) nonce() uint64           { return tx.Nonce }
func (tx *LegacyTx) to() *Address            { return tx.To }

func (tx *LegacyTx) rawSignatureValues() (v, r, s *uint256.Int) { return tx.V, tx.R, tx.S }

func (tx *LegacyTx) setSignatureValues(chainID uint64, v, r, s *uint256.Int) {
	tx.V, tx.R, tx.S = v, r, s
}

func (tx *LegacyTx) copy() TxData {
	return &LegacyTx{
		Nonce:    tx.Nonce,
		GasPrice: copyU256(tx.GasPrice),
		Gas:      tx.Gas,
		To:       copyAddressPtr(tx.To),
		Value:    copyU256(tx.Value),
		Data:     copyBytes(tx.Data),
		V:        copyU256(tx.V),
		R:        copyU256(tx.R),
		S:        copyU256(tx.S),
	}
}

// AccessListTx is an EIP-2930 (type 0x01) transaction.
type AccessListTx struct {
	ChainID    uint64
	Nonce      uint64
	GasPrice   *uint256.Int
	Gas        uint64
	To         *Address `rlp:"nil"`
	Value      *uint256.Int
	Data       []byte
	AccessList AccessList
	YParity    uint8
	R, S       *uint256.Int
}

func (tx *AccessListTx) txType() byte            { return AccessListTxType }
func (tx *AccessListTx) chainID() uint64         { return tx.ChainID }
func (tx *AccessListTx) accessList() AccessList  { return tx.AccessList }
func (tx *AccessListTx) data() []byte            { return tx.Data }
func (tx *AccessListTx) gas() uint64             { return tx.Gas }
func (tx *AccessListTx) gasPrice() *uint256.Int  { return tx.GasPrice }
func (tx *AccessListTx) gasTipCap() *uint256.Int { return tx.GasPrice }
func (tx *AccessListTx) gasFeeCap() *uint256.Int { return tx.GasPrice }
func (tx *AccessListTx) value() *uint256.Int     { return tx.Value }
func (tx *AccessListTx) nonce() uint64           { return tx.Nonce }
func (tx *AccessListTx) to() *Address            { return tx.To }

func (tx *AccessListTx) rawSignatureValues() (v, r, s *uint256.Int) {
	return uint256.NewInt(uint64(tx.YParity)), tx.R, tx.S
}

func (tx *AccessListTx) setSignatureValues(chainID uint64, v, r, s *uint256.Int) {
	tx.ChainID, tx.YParity, tx.R, tx.S = chainID, uint8(v.Uint64()), r, s
}

func (tx *AccessListTx) copy() TxData {
	return &AccessListTx{
		ChainID:    tx.ChainID,
		Nonce:      tx.Nonce,
		GasPrice:   copyU256(tx.GasPrice),
		Gas:        tx.Gas,
		To:         copyAddressPtr(tx.To),
		Value:      copyU256(tx.Value),
		Data:       copyBytes(tx.Data),
		AccessList: copyAccessList(tx.AccessList),
		YParity:    tx.YParity,
		R:          copyU256(tx.R),
		S:          copyU256(tx.S),
	}
}

// DynamicFeeTx is an EIP-1559 (type 0x02) fee-market transaction.
type DynamicFeeTx struct {
	ChainID    uint64
	Nonce      uint64
	GasTipCap  *uint256.Int // max_priority_fee
	GasFeeCap  *uint256.Int // max_fee
	Gas        uint64
	To         *Address `rlp:"nil"`
	Value      *uint256.Int
	Data       []byte
	AccessList AccessList
	YParity    uint8
	R, S       *uint256.Int
}

func (tx *DynamicFeeTx) txType() byte            { return DynamicFeeTxType }
func (tx *DynamicFeeTx) chainID() uint64         { return tx.ChainID }
func (tx *DynamicFeeTx) accessList() AccessList  { return tx.AccessList }
func (tx *DynamicFeeTx) data() []byte            { return tx.Data }
func (tx *DynamicFeeTx) gas() uint64             { return tx.Gas }
func (tx *DynamicFeeTx) gasPrice() *uint256.Int  { return tx.GasFeeCap }
func (tx *DynamicFeeTx) gasTipCap() *uint256.Int { return tx.GasTipCap }
func (tx *DynamicFeeTx) gasFeeCap() *uint256.Int { return tx.GasFeeCap }
func (tx *DynamicFeeTx) value() *uint256.Int     { return tx.Value }
func (tx *DynamicFeeTx) nonce() uint64           { return tx.Nonce }
func (tx *DynamicFeeTx) to() *Address            { return tx.To }

func (tx *DynamicFeeTx) rawSignatureValues() (v, r, s *uint256.Int) {
	return uint256.NewInt(uint64(tx.YParity)), tx.R, tx.S
}

func (tx *DynamicFeeTx) setSignatureValues(chainID uint64, v, r, s *uint256.Int) {
	tx.ChainID, tx.YParity, tx.R, tx.S = chainID, uint8(v.Uint64()), r, s
}

func (tx *DynamicFeeTx) copy() TxData {
	return &DynamicFeeTx{
		ChainID:    tx.ChainID,
		Nonce:      tx.Nonce,
		GasTipCap:  copyU256(tx.GasTipCap),
		GasFeeCap:  copyU256(tx.GasFeeCap),
		Gas:        tx.Gas,
		To:         copyAddressPtr(tx.To),
		Value:      copyU256(tx.Value),
		Data:       copyBytes(tx.Data),
		AccessList: copyAccessList(tx.AccessList),
		YParity:    tx.YParity,
		R:          copyU256(tx.R),
		S:          copyU256(tx.S),
	}
}

// NewTx creates a new transaction with a deep copy of inner. Nil integer
// fields are normalised to zero so that the envelope survives an encoding
// round trip unchanged.
func NewTx(inner TxData) *Transaction {
	return &Transaction{inner: inner.copy()}
}

// Type returns the envelope type byte.
func (tx *Transaction) Type() uint8 { return tx.inner.txType() }

// ChainID returns the chain id carried by the envelope. Unprotected legacy
// envelopes return zero.
func (tx *Transaction) ChainID() uint64 { return tx.inner.chainID() }

// Protected reports whether the envelope commits to a chain id.
func (tx *Transaction) Protected() bool {
	if legacy, ok := tx.inner.(*LegacyTx); ok {
		_, protected := deriveChainID(legacy.V)
		return protected
	}
	return true
}

func (tx *Transaction) AccessList() AccessList    { return tx.inner.accessList() }
func (tx *Transaction) Data() []byte              { return tx.inner.data() }
func (tx *Transaction) Gas() uint64               { return tx.inner.gas() }
func (tx *Transaction) GasPrice() *uint256.Int    { return new(uint256.Int).Set(tx.inner.gasPrice()) }
func (tx *Transaction) GasTipCap() *uint256.Int   { return new(uint256.Int).Set(tx.inner.gasTipCap()) }
func (tx *Transaction) GasFeeCap() *uint256.Int   { return new(uint256.Int).Set(tx.inner.gasFeeCap()) }
func (tx *Transaction) Value() *uint256.Int       { return new(uint256.Int).Set(tx.inner.value()) }
func (tx *Transaction) Nonce() uint64             { return tx.inner.nonce() }
func (tx *Transaction) To() *Address              { return copyAddressPtr(tx.inner.to()) }
func (tx *Transaction) IsContractCreation() bool  { return tx.inner.to() == nil }

// Inner returns a copy of the variant payload.
func (tx *Transaction) Inner() TxData { return tx.inner.copy() }

// RawSignatureValues returns the signature values. For typed envelopes v is
// the y-parity bit.
func (tx *Transaction) RawSignatureValues() (v, r, s *uint256.Int) {
	return tx.inner.rawSignatureValues()
}

// EffectiveGasPrice returns the per-gas price charged at the given base
// fee: min(max_fee, base_fee + max_priority_fee) for fee-market envelopes,
// the flat gas price otherwise. A nil baseFee yields the fee cap.
func (tx *Transaction) EffectiveGasPrice(baseFee *uint256.Int) *uint256.Int {
	if tx.Type() != DynamicFeeTxType || baseFee == nil {
		return tx.GasPrice()
	}
	price, overflow := new(uint256.Int).AddOverflow(baseFee, tx.inner.gasTipCap())
	if overflow || price.Gt(tx.inner.gasFeeCap()) {
		return tx.GasFeeCap()
	}
	return price
}

// EffectiveGasTip returns the part of the effective price above baseFee.
// It fails with ErrFeeCapTooLow if the fee cap is below the base fee.
func (tx *Transaction) EffectiveGasTip(baseFee *uint256.Int) (*uint256.Int, error) {
	if baseFee == nil {
		return tx.GasTipCap(), nil
	}
	feeCap := tx.inner.gasFeeCap()
	if feeCap.Lt(baseFee) {
		return nil, ErrFeeCapTooLow
	}
	price := tx.EffectiveGasPrice(baseFee)
	return price.Sub(price, baseFee), nil
}

// SetSender caches the sender address on the transaction.
func (tx *Transaction) SetSender(addr Address) {
	a := addr
	tx.from.Store(&a)
}

// CachedSender returns the cached sender address, or nil if not yet set.
func (tx *Transaction) CachedSender() *Address {
	return tx.from.Load()
}

// Hash returns the transaction hash, keccak256 of the canonical envelope
// encoding, caching it on first call.
func (tx *Transaction) Hash() Hash {
	if h := tx.hash.Load(); h != nil {
		return *h
	}
	enc, err := tx.MarshalBinary()
	if err != nil {
		return Hash{}
	}
	h := Keccak256Hash(enc)
	tx.hash.Store(&h)
	return h
}

// Size returns the encoded size of the envelope in bytes.
func (tx *Transaction) Size() uint64 {
	if cached := tx.size.Load(); cached != 0 {
		return cached
	}
	enc, err := tx.MarshalBinary()
	if err != nil {
		return 0
	}
	tx.size.Store(uint64(len(enc)))
	return uint64(len(enc))
}

// Helpers

func copyU256(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(v)
}

func copyAddressPtr(a *Address) *Address {
	if a == nil {
		return nil
	}
	cpy := *a
	return &cpy
}

func copyBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	cpy := make([]byte, len(b))
	copy(cpy, b)
	return cpy
}

func copyAccessList(al AccessList) AccessList {
	if al == nil {
		return nil
	}
	cpy := make(AccessList, len(al))
	for i, tuple := range al {
		cpy[i] = AccessTuple{
			Address:     tuple.Address,
			StorageKeys: make([]Hash, len(tuple.StorageKeys)),
		}
		copy(cpy[i].StorageKeys, tuple.StorageKeys)
	}
	return cpy
}

// deriveChainID derives the chain id from a legacy V value. It reports
// false for unprotected (27/28) signatures and for V values that do not
// encode a 64-bit chain id.
func deriveChainID(v *uint256.Int) (uint64, bool) {
	if v == nil || !v.IsUint64() {
		return 0, false
	}
	val := v.Uint64()
	if val == 27 || val == 28 || val < 35 {
		return 0, false
	}
	return (val - 35) / 2, true
}
