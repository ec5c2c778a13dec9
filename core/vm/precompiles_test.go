package vm

import (
	"bytes"
	"encoding/hex"
	"errors"
	"math"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"github.com/eth2030/ledgercore/core/types"
)

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	if err != nil {
		t.Fatalf("bad hex %q: %v", s, err)
	}
	return b
}

func fullTable(t *testing.T) *PrecompileTable {
	t.Helper()
	table, err := NewPrecompileTable(DefaultPrecompiles())
	if err != nil {
		t.Fatalf("NewPrecompileTable: %v", err)
	}
	return table
}

func TestPrecompileTableAddresses(t *testing.T) {
	table := fullTable(t)
	want := map[string]types.Address{
		PrecompileEcrecover:          types.BytesToAddress([]byte{0x01}),
		PrecompileIdentity:           types.BytesToAddress([]byte{0x04}),
		PrecompileModExp:             types.BytesToAddress([]byte{0x05}),
		PrecompileBlake2F:            types.BytesToAddress([]byte{0x09}),
		PrecompileSha3FIPS256:        types.BytesToAddress([]byte{0x04, 0x00}),
		PrecompileEcrecoverPublicKey: types.BytesToAddress([]byte{0x04, 0x01}),
	}
	for name, addr := range want {
		if _, ok := table.Lookup(addr); !ok {
			t.Errorf("%s not registered at %s", name, addr)
		}
		if got := table.Name(addr); got != name {
			t.Errorf("Name(%s) = %q, want %q", addr, got, name)
		}
	}
	for _, addr := range []types.Address{{}, types.BytesToAddress([]byte{0x06}), types.BytesToAddress([]byte{0xff})} {
		if _, ok := table.Lookup(addr); ok {
			t.Errorf("%s should not be a precompile", addr)
		}
	}
	addrs := table.Addresses()
	if len(addrs) != table.Len() || len(addrs) != len(DefaultPrecompiles()) {
		t.Fatalf("addresses = %d, len = %d", len(addrs), table.Len())
	}
	for i := 1; i < len(addrs); i++ {
		if bytes.Compare(addrs[i-1][:], addrs[i][:]) >= 0 {
			t.Fatal("addresses not sorted")
		}
	}
	if err := table.Verify(); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestPrecompileTableSubset(t *testing.T) {
	table, err := NewPrecompileTable([]string{PrecompileModExp, PrecompileModExp})
	if err != nil {
		t.Fatal(err)
	}
	if table.Len() != 1 {
		t.Fatalf("len = %d, want 1", table.Len())
	}
	if _, ok := table.Lookup(types.BytesToAddress([]byte{0x01})); ok {
		t.Fatal("ecrecover enabled without being configured")
	}
	if _, err := NewPrecompileTable([]string{"bn256add"}); !errors.Is(err, ErrUnknownPrecompile) {
		t.Fatalf("err = %v, want ErrUnknownPrecompile", err)
	}
}

func TestPrecompileTableCorruption(t *testing.T) {
	table := fullTable(t)
	table.contracts[types.BytesToAddress([]byte{0x05})] = nil
	if err := table.Verify(); !errors.Is(err, ErrCorruptedPrecompiles) {
		t.Fatalf("err = %v, want ErrCorruptedPrecompiles", err)
	}

	table = fullTable(t)
	table.names[types.BytesToAddress([]byte{0x05})] = PrecompileSha256
	if err := table.Verify(); !errors.Is(err, ErrCorruptedPrecompiles) {
		t.Fatalf("err = %v, want ErrCorruptedPrecompiles", err)
	}
}

func TestHashPrecompiles(t *testing.T) {
	tests := []struct {
		name  string
		p     PrecompiledContract
		input []byte
		want  string
		gas   uint64
	}{
		{"sha256 empty", &sha256hash{}, nil,
			"e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", 60},
		{"ripemd160 empty", &ripemd160hash{}, nil,
			"0000000000000000000000009c1185a5c5e9fc54612808977ee8f548b2258d31", 600},
		{"sha3-256 empty", &sha3FIPS256{}, nil,
			"a7ffc6f8bf1ed76651c14756a061d662f580ff4de43b49fa82d80a4b80f8434a", 60},
		{"identity", &dataCopy{}, []byte{1, 2, 3}, "010203", 18},
		{"sha256 two words", &sha256hash{}, make([]byte, 33), "", 84},
	}
	for _, tt := range tests {
		if gas := tt.p.RequiredGas(tt.input); gas != tt.gas {
			t.Errorf("%s: gas = %d, want %d", tt.name, gas, tt.gas)
		}
		if tt.want == "" {
			continue
		}
		out, err := tt.p.Run(tt.input)
		if err != nil {
			t.Fatalf("%s: %v", tt.name, err)
		}
		if got := hex.EncodeToString(out); got != tt.want {
			t.Errorf("%s: output = %s, want %s", tt.name, got, tt.want)
		}
	}
}

func modexpInput(base, exp, mod []byte) []byte {
	word := func(n int) []byte {
		b := make([]byte, 32)
		b[28], b[29], b[30], b[31] = byte(n>>24), byte(n>>16), byte(n>>8), byte(n)
		return b
	}
	var in []byte
	in = append(in, word(len(base))...)
	in = append(in, word(len(exp))...)
	in = append(in, word(len(mod))...)
	in = append(in, base...)
	in = append(in, exp...)
	return append(in, mod...)
}

func TestModExp(t *testing.T) {
	fermat := modexpInput(
		[]byte{0x03},
		mustHex(t, "fffffffffffffffffffffffffffffffffffffffffffffffffffffffefffffc2e"),
		mustHex(t, "fffffffffffffffffffffffffffffffffffffffffffffffffffffffefffffc2f"),
	)
	tests := []struct {
		name  string
		input []byte
		want  string
		gas   uint64
	}{
		{"small", modexpInput([]byte{3}, []byte{5}, []byte{7}), "05", ModExpMinGas},
		{"fermat little theorem", fermat,
			"0000000000000000000000000000000000000000000000000000000000000001", 1360},
		{"zero modulus", modexpInput([]byte{3}, []byte{5}, []byte{0, 0}), "0000", ModExpMinGas},
		{"base one", modexpInput([]byte{1}, []byte{0xff}, []byte{0x0d}), "01", ModExpMinGas},
		{"empty", nil, "", ModExpMinGas},
	}
	c := &bigModExp{}
	for _, tt := range tests {
		if gas := c.RequiredGas(tt.input); gas != tt.gas {
			t.Errorf("%s: gas = %d, want %d", tt.name, gas, tt.gas)
		}
		out, err := c.Run(tt.input)
		if err != nil {
			t.Fatalf("%s: %v", tt.name, err)
		}
		if got := hex.EncodeToString(out); got != tt.want {
			t.Errorf("%s: output = %s, want %s", tt.name, got, tt.want)
		}
		// Determinism: a second run yields the same bytes.
		again, _ := c.Run(tt.input)
		if !bytes.Equal(out, again) {
			t.Errorf("%s: non-deterministic output", tt.name)
		}
	}
}

func TestModExpHugeLengths(t *testing.T) {
	in := make([]byte, 96)
	in[0] = 1 // base length far beyond 32 bits
	c := &bigModExp{}
	if gas := c.RequiredGas(in); gas != math.MaxUint64 {
		t.Fatalf("gas = %d, want MaxUint64", gas)
	}
	if _, err := c.Run(in); err == nil {
		t.Fatal("expected length error")
	}
	if _, _, err := RunPrecompiledContract(c, in, 10_000_000); !errors.Is(err, ErrOutOfGas) {
		t.Fatalf("err = %v, want ErrOutOfGas", err)
	}
}

func TestBlake2F(t *testing.T) {
	input := mustHex(t, "0000000c48c9bdf267e6096a3ba7ca8485ae67bb2bf894fe72f36e3cf1361d5f3af54fa5d182e6ad7f520e511f6c3e2b8c68059b6bbd41fbabd9831f79217e1319cde05b61626300000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000300000000000000000000000000000001")
	want := "ba80a53f981c4d0d6a2797b69f12f6e94c212f14685ac4b74b12bb6fdbffa2d17d87c5392aab792dc252d5de4533cc9518d38aa8dbf1925ab92386edd4009923"
	if len(input) != 213 {
		t.Fatalf("input is %d bytes, want 213", len(input))
	}
	c := &blake2F{}
	if gas := c.RequiredGas(input); gas != 12 {
		t.Fatalf("gas = %d, want 12", gas)
	}
	out, err := c.Run(input)
	if err != nil {
		t.Fatal(err)
	}
	if got := hex.EncodeToString(out); got != want {
		t.Fatalf("output = %s, want %s", got, want)
	}

	if _, err := c.Run(input[:212]); !errors.Is(err, errBlake2FInputLength) {
		t.Fatalf("short input: err = %v", err)
	}
	if _, err := c.Run(append(input[:213:213], 0)); !errors.Is(err, errBlake2FInputLength) {
		t.Fatalf("long input: err = %v", err)
	}
	bad := append([]byte(nil), input...)
	bad[212] = 2
	if _, err := c.Run(bad); !errors.Is(err, errBlake2FFinalFlag) {
		t.Fatalf("bad flag: err = %v", err)
	}
}

func TestEcrecoverPrecompiles(t *testing.T) {
	key, _ := crypto.GenerateKey()
	hash := crypto.Keccak256([]byte("ledgercore"))
	sig, err := crypto.Sign(hash, key)
	if err != nil {
		t.Fatal(err)
	}
	input := make([]byte, 128)
	copy(input[0:32], hash)
	input[63] = sig[64] + 27
	copy(input[64:128], sig[:64])

	out, err := (&ecrecover{}).Run(input)
	if err != nil {
		t.Fatal(err)
	}
	addr := crypto.PubkeyToAddress(key.PublicKey)
	if !bytes.Equal(out[12:], addr[:]) || !bytes.Equal(out[:12], make([]byte, 12)) {
		t.Fatalf("ecrecover = %x, want %x", out, addr)
	}

	pub, err := (&ecrecoverPublicKey{}).Run(input)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(pub, crypto.FromECDSAPub(&key.PublicKey)[1:]) {
		t.Fatalf("public key mismatch")
	}

	// Invalid v yields empty output for ecrecover and an error for the
	// public-key variant.
	input[63] = 29
	if out, err := (&ecrecover{}).Run(input); err != nil || len(out) != 0 {
		t.Fatalf("invalid v: out=%x err=%v", out, err)
	}
	if _, err := (&ecrecoverPublicKey{}).Run(input); err == nil {
		t.Fatal("expected error for invalid v")
	}
}

func TestRunPrecompiledContract(t *testing.T) {
	p := &dataCopy{}
	out, left, err := RunPrecompiledContract(p, []byte{9}, 100)
	if err != nil || left != 82 || !bytes.Equal(out, []byte{9}) {
		t.Fatalf("out=%x left=%d err=%v", out, left, err)
	}
	if _, left, err := RunPrecompiledContract(&ecrecover{}, nil, 100); !errors.Is(err, ErrOutOfGas) || left != 0 {
		t.Fatalf("left=%d err=%v, want out of gas", left, err)
	}
}

type mapState struct {
	balances map[types.Address]*uint256.Int
	code     map[types.Address][]byte
}

func (m *mapState) GetBalance(a types.Address) *uint256.Int {
	if b, ok := m.balances[a]; ok {
		return new(uint256.Int).Set(b)
	}
	return new(uint256.Int)
}
func (m *mapState) AddBalance(a types.Address, v *uint256.Int) {
	m.balances[a] = new(uint256.Int).Add(m.GetBalance(a), v)
}
func (m *mapState) SubBalance(a types.Address, v *uint256.Int) {
	m.balances[a] = new(uint256.Int).Sub(m.GetBalance(a), v)
}
func (m *mapState) GetCode(a types.Address) []byte { return m.code[a] }

func TestTransferInterpreter(t *testing.T) {
	from := types.HexToAddress("0x01aa")
	to := types.HexToAddress("0x02bb")
	contract := types.HexToAddress("0x03cc")
	st := &mapState{
		balances: map[types.Address]*uint256.Int{from: uint256.NewInt(100)},
		code:     map[types.Address][]byte{contract: {0x00}},
	}
	ti := &TransferInterpreter{State: st}

	out := ti.Execute(&Message{Caller: from, To: &to, Gas: 10, Value: uint256.NewInt(40)})
	if out.Err != nil || out.GasLeft != 10 {
		t.Fatalf("transfer: %+v", out)
	}
	if st.GetBalance(to).Uint64() != 40 || st.GetBalance(from).Uint64() != 60 {
		t.Fatal("balances not moved")
	}
	out = ti.Execute(&Message{Caller: from, To: &to, Gas: 10, Value: uint256.NewInt(1000)})
	if !errors.Is(out.Err, ErrInsufficientBalance) {
		t.Fatalf("overdraft: err = %v", out.Err)
	}
	out = ti.Execute(&Message{Caller: from, To: &contract, Gas: 10, Value: new(uint256.Int)})
	if !errors.Is(out.Err, ErrCodeExecutionUnsupported) {
		t.Fatalf("code call: err = %v", out.Err)
	}
	out = ti.Execute(&Message{Caller: from, Gas: 10, Input: []byte{0x00}})
	if !errors.Is(out.Err, ErrCodeExecutionUnsupported) {
		t.Fatalf("create: err = %v", out.Err)
	}
}
