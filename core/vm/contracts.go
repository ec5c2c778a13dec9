package vm

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"math"
	"math/big"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/crypto/blake2b"
	"github.com/holiman/uint256"
	"golang.org/x/crypto/ripemd160"
	"golang.org/x/crypto/sha3"
)

// Gas schedule of the built-in precompiles.
const (
	EcrecoverGas        uint64 = 3000
	Sha256BaseGas       uint64 = 60
	Sha256PerWordGas    uint64 = 12
	Ripemd160BaseGas    uint64 = 600
	Ripemd160PerWordGas uint64 = 120
	IdentityBaseGas     uint64 = 15
	IdentityPerWordGas  uint64 = 3
	ModExpMinGas        uint64 = 200
	Blake2FRoundGas     uint64 = 1
	Sha3FIPSBaseGas     uint64 = 60
	Sha3FIPSPerWordGas  uint64 = 12
)

const blake2FInputLength = 213

var (
	errBlake2FInputLength = errors.New("blake2f: invalid input length")
	errBlake2FFinalFlag   = errors.New("blake2f: invalid final flag")
	errModExpLength       = errors.New("modexp: length exceeds 32 bits")
)

// --- ecrecover (0x01) ---

type ecrecover struct{}

func (c *ecrecover) RequiredGas(input []byte) uint64 { return EcrecoverGas }

// Run returns the 32-byte left-padded signer address, or empty output for
// any invalid signature.
func (c *ecrecover) Run(input []byte) ([]byte, error) {
	pub := recoverPublicKey(input)
	if pub == nil {
		return nil, nil
	}
	out := make([]byte, 32)
	copy(out[12:], crypto.Keccak256(pub[1:])[12:])
	return out, nil
}

// --- ecrecover returning the public key (0x0401) ---

type ecrecoverPublicKey struct{}

func (c *ecrecoverPublicKey) RequiredGas(input []byte) uint64 { return EcrecoverGas }

func (c *ecrecoverPublicKey) Run(input []byte) ([]byte, error) {
	pub := recoverPublicKey(input)
	if pub == nil {
		return nil, errors.New("ecrecover: invalid signature")
	}
	return pub[1:], nil
}

// recoverPublicKey parses hash || v || r || s (each 32 bytes, zero padded)
// and returns the uncompressed 65-byte public key, or nil.
func recoverPublicKey(input []byte) []byte {
	input = padRight(input, 128)
	// v must be a 32-byte big-endian 27 or 28.
	if !allZero(input[32:63]) {
		return nil
	}
	v := input[63]
	if v != 27 && v != 28 {
		return nil
	}
	r := new(big.Int).SetBytes(input[64:96])
	s := new(big.Int).SetBytes(input[96:128])
	if !crypto.ValidateSignatureValues(v-27, r, s, false) {
		return nil
	}
	sig := make([]byte, 65)
	copy(sig[0:64], input[64:128])
	sig[64] = v - 27
	pub, err := crypto.Ecrecover(input[:32], sig)
	if err != nil || len(pub) != 65 {
		return nil
	}
	return pub
}

// --- sha256 (0x02) ---

type sha256hash struct{}

func (c *sha256hash) RequiredGas(input []byte) uint64 {
	return Sha256BaseGas + Sha256PerWordGas*wordCount(len(input))
}

func (c *sha256hash) Run(input []byte) ([]byte, error) {
	h := sha256.Sum256(input)
	return h[:], nil
}

// --- ripemd160 (0x03) ---

type ripemd160hash struct{}

func (c *ripemd160hash) RequiredGas(input []byte) uint64 {
	return Ripemd160BaseGas + Ripemd160PerWordGas*wordCount(len(input))
}

func (c *ripemd160hash) Run(input []byte) ([]byte, error) {
	h := ripemd160.New()
	h.Write(input)
	out := make([]byte, 32)
	copy(out[12:], h.Sum(nil))
	return out, nil
}

// --- identity (0x04) ---

type dataCopy struct{}

func (c *dataCopy) RequiredGas(input []byte) uint64 {
	return IdentityBaseGas + IdentityPerWordGas*wordCount(len(input))
}

func (c *dataCopy) Run(input []byte) ([]byte, error) {
	return append([]byte(nil), input...), nil
}

// --- modexp (0x05), EIP-198 with EIP-2565 pricing ---

type bigModExp struct{}

func (c *bigModExp) RequiredGas(input []byte) uint64 {
	input = padRight(input, 96)
	baseLen, okB := word32(input[0:32])
	expLen, okE := word32(input[32:64])
	modLen, okM := word32(input[64:96])
	if !okB || !okE || !okM {
		return math.MaxUint64
	}
	var data []byte
	if len(input) > 96 {
		data = input[96:]
	}
	adjExpLen := adjustedExpLen(expLen, baseLen, data)
	if adjExpLen < 1 {
		adjExpLen = 1
	}
	words := (max(baseLen, modLen) + 7) / 8

	// mult_complexity * iteration_count / 3 in 256-bit arithmetic.
	gas := uint256.NewInt(words)
	gas.Mul(gas, gas)
	gas.Mul(gas, uint256.NewInt(adjExpLen))
	gas.Div(gas, uint256.NewInt(3))
	if !gas.IsUint64() {
		return math.MaxUint64
	}
	return max(gas.Uint64(), ModExpMinGas)
}

func (c *bigModExp) Run(input []byte) ([]byte, error) {
	input = padRight(input, 96)
	baseLen, okB := word32(input[0:32])
	expLen, okE := word32(input[32:64])
	modLen, okM := word32(input[64:96])
	if !okB || !okE || !okM {
		return nil, errModExpLength
	}
	if baseLen == 0 && modLen == 0 {
		return []byte{}, nil
	}
	data := input[96:]
	base := new(big.Int).SetBytes(getDataSlice(data, 0, baseLen))
	exp := new(big.Int).SetBytes(getDataSlice(data, baseLen, expLen))
	mod := new(big.Int).SetBytes(getDataSlice(data, baseLen+expLen, modLen))

	out := make([]byte, modLen)
	if mod.BitLen() == 0 {
		return out, nil
	}
	var v []byte
	if base.BitLen() == 1 {
		// 1^x mod m
		v = base.Mod(base, mod).Bytes()
	} else {
		v = base.Exp(base, exp, mod).Bytes()
	}
	copy(out[modLen-uint64(len(v)):], v)
	return out, nil
}

// adjustedExpLen implements the EIP-2565 adjusted exponent length.
func adjustedExpLen(expLen, baseLen uint64, data []byte) uint64 {
	head := expLen
	if head > 32 {
		head = 32
	}
	first := new(big.Int).SetBytes(getDataSlice(data, baseLen, head))
	var msb uint64
	if first.BitLen() > 0 {
		msb = uint64(first.BitLen() - 1)
	}
	if expLen <= 32 {
		return msb
	}
	return msb + 8*(expLen-32)
}

// --- blake2f (0x09), EIP-152 ---

type blake2F struct{}

func (c *blake2F) RequiredGas(input []byte) uint64 {
	if len(input) != blake2FInputLength {
		return 0
	}
	return uint64(binary.BigEndian.Uint32(input[0:4])) * Blake2FRoundGas
}

func (c *blake2F) Run(input []byte) ([]byte, error) {
	if len(input) != blake2FInputLength {
		return nil, errBlake2FInputLength
	}
	if input[212] != 0 && input[212] != 1 {
		return nil, errBlake2FFinalFlag
	}
	rounds := binary.BigEndian.Uint32(input[0:4])
	final := input[212] == 1

	var (
		h [8]uint64
		m [16]uint64
		t [2]uint64
	)
	for i := 0; i < 8; i++ {
		offset := 4 + i*8
		h[i] = binary.LittleEndian.Uint64(input[offset : offset+8])
	}
	for i := 0; i < 16; i++ {
		offset := 68 + i*8
		m[i] = binary.LittleEndian.Uint64(input[offset : offset+8])
	}
	t[0] = binary.LittleEndian.Uint64(input[196:204])
	t[1] = binary.LittleEndian.Uint64(input[204:212])

	blake2b.F(&h, m, t, final, rounds)

	out := make([]byte, 64)
	for i := 0; i < 8; i++ {
		binary.LittleEndian.PutUint64(out[i*8:], h[i])
	}
	return out, nil
}

// --- FIPS-202 SHA3-256 (0x0400) ---

type sha3FIPS256 struct{}

func (c *sha3FIPS256) RequiredGas(input []byte) uint64 {
	return Sha3FIPSBaseGas + Sha3FIPSPerWordGas*wordCount(len(input))
}

func (c *sha3FIPS256) Run(input []byte) ([]byte, error) {
	h := sha3.Sum256(input)
	return h[:], nil
}

// --- helpers ---

// wordCount returns ceil(size / 32).
func wordCount(size int) uint64 {
	return uint64((size + 31) / 32)
}

// padRight pads data with zeros on the right to reach at least minLen.
func padRight(data []byte, minLen int) []byte {
	if len(data) >= minLen {
		return data
	}
	padded := make([]byte, minLen)
	copy(padded, data)
	return padded
}

// getDataSlice returns data[offset:offset+length], zero-padded on the right.
func getDataSlice(data []byte, offset, length uint64) []byte {
	result := make([]byte, length)
	if offset >= uint64(len(data)) {
		return result
	}
	end := offset + length
	if end > uint64(len(data)) {
		end = uint64(len(data))
	}
	copy(result, data[offset:end])
	return result
}

// word32 reads a 32-byte big-endian length that must fit in 32 bits.
func word32(b []byte) (uint64, bool) {
	if !allZero(b[:28]) {
		return 0, false
	}
	return uint64(binary.BigEndian.Uint32(b[28:32])), true
}

func allZero(b []byte) bool {
	for _, x := range b {
		if x != 0 {
			return false
		}
	}
	return true
}
