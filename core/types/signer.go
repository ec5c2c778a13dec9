package types

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// RecoverSigner recovers the address that signed the envelope. It never
// panics: every failure wraps ErrSignature.
func RecoverSigner(tx *Transaction) (Address, error) {
	v, r, s := tx.RawSignatureValues()
	if v == nil || r == nil || s == nil {
		return Address{}, fmt.Errorf("%w: missing signature values", ErrSignature)
	}
	var recID uint64
	switch tx.Type() {
	case LegacyTxType:
		id, protected := deriveChainID(v)
		switch {
		case protected:
			// v = chainID*2 + 35 + parity
			recID = v.Uint64() - 35 - 2*id
		case v.IsUint64() && (v.Uint64() == 27 || v.Uint64() == 28):
			recID = v.Uint64() - 27
		default:
			return Address{}, fmt.Errorf("%w: %w: v=%s", ErrSignature, ErrInvalidRecoveryID, v)
		}
	default:
		if !v.IsUint64() || v.Uint64() > 1 {
			return Address{}, fmt.Errorf("%w: %w: y-parity=%s", ErrSignature, ErrInvalidRecoveryID, v)
		}
		recID = v.Uint64()
	}
	return recoverPlain(SigningHash(tx), r, s, byte(recID))
}

// Sender returns the recovered signer, consulting and populating the
// sender cache on tx.
func Sender(tx *Transaction) (Address, error) {
	if cached := tx.CachedSender(); cached != nil {
		return *cached, nil
	}
	addr, err := RecoverSigner(tx)
	if err != nil {
		return Address{}, err
	}
	tx.SetSender(addr)
	return addr, nil
}

func recoverPlain(sighash Hash, r, s *uint256.Int, recID byte) (Address, error) {
	// Homestead rules: s must be in the lower half of the curve order.
	if !crypto.ValidateSignatureValues(recID, r.ToBig(), s.ToBig(), true) {
		return Address{}, fmt.Errorf("%w: %w", ErrSignature, ErrInvalidSigValues)
	}
	sig := make([]byte, crypto.SignatureLength)
	rb, sb := r.Bytes32(), s.Bytes32()
	copy(sig[0:32], rb[:])
	copy(sig[32:64], sb[:])
	sig[64] = recID

	pub, err := crypto.Ecrecover(sighash[:], sig)
	if err != nil {
		return Address{}, fmt.Errorf("%w: %w", ErrSignature, err)
	}
	if len(pub) == 0 || pub[0] != 4 {
		return Address{}, fmt.Errorf("%w: invalid public key", ErrSignature)
	}
	return BytesToAddress(crypto.Keccak256(pub[1:])[12:]), nil
}

// SignTx signs tx with key and returns the signed copy. Typed envelopes
// take chainID into their payload; legacy envelopes use EIP-155 when
// chainID is non-zero and the unprotected 27/28 form otherwise.
func SignTx(tx *Transaction, chainID uint64, key *ecdsa.PrivateKey) (*Transaction, error) {
	inner := tx.inner.copy()
	unsigned := &Transaction{inner: inner}
	if tx.Type() != LegacyTxType {
		inner.setSignatureValues(chainID, new(uint256.Int), new(uint256.Int), new(uint256.Int))
	}
	h := signingHashFor(unsigned, chainID)
	sig, err := crypto.Sign(h[:], key)
	if err != nil {
		return nil, err
	}
	r := new(uint256.Int).SetBytes(sig[0:32])
	s := new(uint256.Int).SetBytes(sig[32:64])
	v := uint256.NewInt(uint64(sig[64]))
	if tx.Type() == LegacyTxType {
		if chainID != 0 {
			v.AddUint64(v, 35+2*chainID)
		} else {
			v.AddUint64(v, 27)
		}
	}
	inner.setSignatureValues(chainID, v, r, s)
	return &Transaction{inner: inner}, nil
}

// PubkeyToAddress returns the account address of a public key.
func PubkeyToAddress(p ecdsa.PublicKey) Address {
	return Address(crypto.PubkeyToAddress(p))
}

