package types

import (
	"bytes"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"
)

var (
	testKey, _  = crypto.HexToECDSA("b71c71a67e1177ad4e901695e1b4b9ee17ae16c6668d313eac2f96dbcda3f291")
	testAddr    = PubkeyToAddress(testKey.PublicKey)
	testTo      = HexToAddress("0x095e7baea6a6c7c4c2dfeb977efac326af552d87")
	testChainID = uint64(42)
)

func sampleEnvelopes(t *testing.T) map[string]*Transaction {
	t.Helper()
	al := AccessList{{Address: testTo, StorageKeys: []Hash{HexToHash("0x01"), HexToHash("0x02")}}}
	unsigned := map[string]*Transaction{
		"legacy-unprotected": NewTx(&LegacyTx{
			Nonce: 3, GasPrice: uint256.NewInt(10), Gas: 21000, To: &testTo,
			Value: uint256.NewInt(1), Data: []byte{0xde, 0xad},
		}),
		"legacy-eip155": NewTx(&LegacyTx{
			Nonce: 0, GasPrice: uint256.NewInt(1_000_000_000), Gas: 50000, To: &testTo,
			Value: uint256.NewInt(0), Data: []byte{},
		}),
		"legacy-create": NewTx(&LegacyTx{
			Nonce: 1, GasPrice: uint256.NewInt(7), Gas: 100000,
			Value: uint256.NewInt(0), Data: []byte{0x60, 0x00},
		}),
		"access-list": NewTx(&AccessListTx{
			ChainID: testChainID, Nonce: 9, GasPrice: uint256.NewInt(12), Gas: 30000, To: &testTo,
			Value: uint256.NewInt(5), Data: []byte{0x01}, AccessList: al,
		}),
		"fee-market": NewTx(&DynamicFeeTx{
			ChainID: testChainID, Nonce: 1 << 40, GasTipCap: uint256.NewInt(5), GasFeeCap: uint256.NewInt(50),
			Gas: 21000, To: &testTo, Value: new(uint256.Int).Lsh(uint256.NewInt(1), 200), Data: []byte{},
			AccessList: AccessList{},
		}),
	}
	chainIDs := map[string]uint64{"legacy-unprotected": 0}
	signed := make(map[string]*Transaction, len(unsigned))
	for name, tx := range unsigned {
		id, ok := chainIDs[name]
		if !ok {
			id = testChainID
		}
		stx, err := SignTx(tx, id, testKey)
		if err != nil {
			t.Fatalf("%s: sign: %v", name, err)
		}
		signed[name] = stx
	}
	return signed
}

func TestEnvelopeRoundTrip(t *testing.T) {
	for name, tx := range sampleEnvelopes(t) {
		enc, err := tx.MarshalBinary()
		if err != nil {
			t.Fatalf("%s: encode: %v", name, err)
		}
		dec, err := DecodeTransaction(enc)
		if err != nil {
			t.Fatalf("%s: decode: %v", name, err)
		}
		reenc, err := EncodeTransaction(dec)
		if err != nil {
			t.Fatalf("%s: re-encode: %v", name, err)
		}
		if !bytes.Equal(enc, reenc) {
			t.Errorf("%s: encoding changed across round trip\n have %x\n want %x", name, reenc, enc)
		}
		if dec.Hash() != tx.Hash() {
			t.Errorf("%s: hash mismatch", name)
		}
		if dec.Type() != tx.Type() || dec.Nonce() != tx.Nonce() || dec.Gas() != tx.Gas() ||
			dec.ChainID() != tx.ChainID() || !dec.Value().Eq(tx.Value()) ||
			!dec.GasFeeCap().Eq(tx.GasFeeCap()) || !dec.GasTipCap().Eq(tx.GasTipCap()) ||
			!bytes.Equal(dec.Data(), tx.Data()) {
			t.Errorf("%s: decoded fields differ", name)
		}
		if (dec.To() == nil) != (tx.To() == nil) || (dec.To() != nil && *dec.To() != *tx.To()) {
			t.Errorf("%s: recipient differs", name)
		}
		dv, dr, ds := dec.RawSignatureValues()
		v, r, s := tx.RawSignatureValues()
		if !dv.Eq(v) || !dr.Eq(r) || !ds.Eq(s) {
			t.Errorf("%s: signature values differ", name)
		}
		if dec.Size() != uint64(len(enc)) {
			t.Errorf("%s: size = %d, want %d", name, dec.Size(), len(enc))
		}
	}
}

func TestEnvelopeTypedPrefix(t *testing.T) {
	envs := sampleEnvelopes(t)
	enc, _ := envs["fee-market"].MarshalBinary()
	if enc[0] != DynamicFeeTxType {
		t.Fatalf("fee-market prefix = %#x", enc[0])
	}
	enc, _ = envs["access-list"].MarshalBinary()
	if enc[0] != AccessListTxType {
		t.Fatalf("access-list prefix = %#x", enc[0])
	}
	enc, _ = envs["legacy-eip155"].MarshalBinary()
	if enc[0] < 0xc0 {
		t.Fatalf("legacy envelope must be a bare list, got prefix %#x", enc[0])
	}
}

func TestDecodeRejectsMalformed(t *testing.T) {
	mustRLP := func(v any) []byte {
		b, err := rlp.EncodeToBytes(v)
		if err != nil {
			t.Fatal(err)
		}
		return b
	}
	nineBytes := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9}
	valid, _ := sampleEnvelopes(t)["fee-market"].MarshalBinary()

	tests := []struct {
		name  string
		input []byte
		cause error
	}{
		{"empty", nil, ErrEmptyEnvelope},
		{"unknown type", append([]byte{0x05}, mustRLP([]any{uint64(1)})...), ErrUnknownTxType},
		{"blob type unsupported", append([]byte{0x03}, mustRLP([]any{uint64(1)})...), ErrUnknownTxType},
		{"typed without payload", []byte{DynamicFeeTxType}, nil},
		{"legacy too few fields", mustRLP([]any{uint64(1), uint64(2), uint64(3)}), nil},
		{"legacy too many fields", mustRLP([]any{
			uint64(0), uint64(1), uint64(21000), []byte{}, uint64(0), []byte{},
			uint64(27), uint64(1), uint64(1), uint64(99),
		}), nil},
		{"nonce overflows uint64", mustRLP([]any{
			nineBytes, uint64(1), uint64(21000), []byte{}, uint64(0), []byte{},
			uint64(27), uint64(1), uint64(1),
		}), nil},
		{"gas price overflows 256 bits", mustRLP([]any{
			uint64(0), bytes.Repeat([]byte{0xff}, 33), uint64(21000), []byte{}, uint64(0), []byte{},
			uint64(27), uint64(1), uint64(1),
		}), nil},
		{"recipient wrong length", mustRLP([]any{
			uint64(0), uint64(1), uint64(21000), []byte{1, 2, 3}, uint64(0), []byte{},
			uint64(27), uint64(1), uint64(1),
		}), nil},
		{"y-parity overflows uint8", append([]byte{AccessListTxType}, mustRLP([]any{
			uint64(1), uint64(0), uint64(1), uint64(21000), []byte{}, uint64(0), []byte{},
			[]any{}, uint64(256), uint64(1), uint64(1),
		})...), nil},
		{"trailing bytes", append(append([]byte{}, valid...), 0x00), nil},
		{"non-list legacy", []byte{0x85, 1, 2, 3, 4, 5}, nil},
	}
	for _, tt := range tests {
		_, err := DecodeTransaction(tt.input)
		if err == nil {
			t.Errorf("%s: expected error", tt.name)
			continue
		}
		if !errors.Is(err, ErrDecode) {
			t.Errorf("%s: error %v does not wrap ErrDecode", tt.name, err)
		}
		if tt.cause != nil && !errors.Is(err, tt.cause) {
			t.Errorf("%s: error %v does not wrap %v", tt.name, err, tt.cause)
		}
	}
}

func TestEffectiveGasPrice(t *testing.T) {
	tx := NewTx(&DynamicFeeTx{ChainID: 1, GasTipCap: uint256.NewInt(5), GasFeeCap: uint256.NewInt(50), Gas: 21000})
	tests := []struct {
		base uint64
		want uint64
	}{
		{10, 15},
		{45, 50},
		{48, 50},
		{50, 50},
	}
	for _, tt := range tests {
		if got := tx.EffectiveGasPrice(uint256.NewInt(tt.base)); got.Uint64() != tt.want {
			t.Errorf("base %d: price = %d, want %d", tt.base, got.Uint64(), tt.want)
		}
	}
	if _, err := tx.EffectiveGasTip(uint256.NewInt(60)); !errors.Is(err, ErrFeeCapTooLow) {
		t.Fatalf("tip below base fee: err = %v, want ErrFeeCapTooLow", err)
	}
	tip, err := tx.EffectiveGasTip(uint256.NewInt(48))
	if err != nil || tip.Uint64() != 2 {
		t.Fatalf("tip = %v, %v, want 2", tip, err)
	}

	legacy := NewTx(&LegacyTx{GasPrice: uint256.NewInt(10), Gas: 21000})
	if got := legacy.EffectiveGasPrice(uint256.NewInt(3)); got.Uint64() != 10 {
		t.Fatalf("legacy price = %d, want 10", got.Uint64())
	}
}
