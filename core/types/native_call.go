package types

import (
	"bytes"
	"crypto/ecdsa"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"
)

// NativeCallType is the receipt type and encoding prefix of native calls.
// It lies outside the EIP-2718 range so it never collides with an envelope.
const NativeCallType = 0x4e

// NativeFunction selects the runtime function a native call dispatches to.
type NativeFunction uint8

const (
	FuncTransfer NativeFunction = iota
	FuncRemark
)

func (f NativeFunction) String() string {
	switch f {
	case FuncTransfer:
		return "transfer"
	case FuncRemark:
		return "remark"
	default:
		return fmt.Sprintf("function(%d)", uint8(f))
	}
}

var ErrUnknownFunction = errors.New("unknown native function")

// NativeCall is a natively-signed structured call. The origin account
// signs keccak256(NativeCallType || rlp(unsigned fields)) with its
// secp256k1 key.
type NativeCall struct {
	Origin   Address
	Nonce    uint64
	Tip      *uint256.Int
	Function NativeFunction
	Dest     Address
	Value    *uint256.Int
	Data     []byte

	Signature []byte
}

type nativeUnsigned struct {
	Origin   Address
	Nonce    uint64
	Tip      *uint256.Int
	Function NativeFunction
	Dest     Address
	Value    *uint256.Int
	Data     []byte
}

func (c *NativeCall) unsigned() *nativeUnsigned {
	return &nativeUnsigned{
		Origin:   c.Origin,
		Nonce:    c.Nonce,
		Tip:      copyU256(c.Tip),
		Function: c.Function,
		Dest:     c.Dest,
		Value:    copyU256(c.Value),
		Data:     c.Data,
	}
}

// SigningHash returns the digest the origin signs.
func (c *NativeCall) SigningHash() Hash {
	return prefixedRlpHash(NativeCallType, c.unsigned())
}

// Hash identifies the call, including its signature.
func (c *NativeCall) Hash() Hash {
	enc, err := c.MarshalBinary()
	if err != nil {
		return Hash{}
	}
	return Keccak256Hash(enc)
}

// MarshalBinary encodes the call as NativeCallType || rlp(call).
func (c *NativeCall) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(NativeCallType)
	cpy := *c
	cpy.Tip, cpy.Value = copyU256(c.Tip), copyU256(c.Value)
	if err := rlp.Encode(&buf, &cpy); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeNativeCall parses the encoding produced by MarshalBinary.
func DecodeNativeCall(b []byte) (*NativeCall, error) {
	if len(b) < 2 || b[0] != NativeCallType {
		return nil, fmt.Errorf("%w: not a native call", ErrDecode)
	}
	c := new(NativeCall)
	if err := rlp.DecodeBytes(b[1:], c); err != nil {
		return nil, fmt.Errorf("%w: native call: %w", ErrDecode, err)
	}
	if c.Function > FuncRemark {
		return nil, fmt.Errorf("%w: %w %d", ErrDecode, ErrUnknownFunction, c.Function)
	}
	return c, nil
}

// VerifySignature checks that Signature was produced by Origin.
func (c *NativeCall) VerifySignature() error {
	if len(c.Signature) != crypto.SignatureLength {
		return fmt.Errorf("%w: native signature length %d", ErrSignature, len(c.Signature))
	}
	r := new(uint256.Int).SetBytes(c.Signature[0:32])
	s := new(uint256.Int).SetBytes(c.Signature[32:64])
	signer, err := recoverPlain(c.SigningHash(), r, s, c.Signature[64])
	if err != nil {
		return err
	}
	if signer != c.Origin {
		return fmt.Errorf("%w: native call signed by %s, origin %s", ErrSignature, signer, c.Origin)
	}
	return nil
}

// SignNativeCall fills in Origin and Signature from key.
func SignNativeCall(c *NativeCall, key *ecdsa.PrivateKey) (*NativeCall, error) {
	cpy := *c
	cpy.Origin = PubkeyToAddress(key.PublicKey)
	h := cpy.SigningHash()
	sig, err := crypto.Sign(h[:], key)
	if err != nil {
		return nil, err
	}
	cpy.Signature = sig
	return &cpy, nil
}
