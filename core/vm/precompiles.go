package vm

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/eth2030/ledgercore/core/types"
)

// PrecompiledContract is a fixed-address contract implemented in native
// code. Its wire contract is (input, gas) -> (output, gas used) | error.
type PrecompiledContract interface {
	RequiredGas(input []byte) uint64
	Run(input []byte) ([]byte, error)
}

// Precompile names accepted in the chain configuration.
const (
	PrecompileEcrecover          = "ecrecover"
	PrecompileSha256             = "sha256"
	PrecompileRipemd160          = "ripemd160"
	PrecompileIdentity           = "identity"
	PrecompileModExp             = "modexp"
	PrecompileBlake2F            = "blake2f"
	PrecompileSha3FIPS256        = "sha3fips256"
	PrecompileEcrecoverPublicKey = "ecrecover-publickey"
)

type precompileSpec struct {
	addr types.Address
	new  func() PrecompiledContract
}

var builtinPrecompiles = map[string]precompileSpec{
	PrecompileEcrecover:          {types.BytesToAddress([]byte{0x01}), func() PrecompiledContract { return &ecrecover{} }},
	PrecompileSha256:             {types.BytesToAddress([]byte{0x02}), func() PrecompiledContract { return &sha256hash{} }},
	PrecompileRipemd160:          {types.BytesToAddress([]byte{0x03}), func() PrecompiledContract { return &ripemd160hash{} }},
	PrecompileIdentity:           {types.BytesToAddress([]byte{0x04}), func() PrecompiledContract { return &dataCopy{} }},
	PrecompileModExp:             {types.BytesToAddress([]byte{0x05}), func() PrecompiledContract { return &bigModExp{} }},
	PrecompileBlake2F:            {types.BytesToAddress([]byte{0x09}), func() PrecompiledContract { return &blake2F{} }},
	PrecompileSha3FIPS256:        {types.BytesToAddress([]byte{0x04, 0x00}), func() PrecompiledContract { return &sha3FIPS256{} }},
	PrecompileEcrecoverPublicKey: {types.BytesToAddress([]byte{0x04, 0x01}), func() PrecompiledContract { return &ecrecoverPublicKey{} }},
}

// DefaultPrecompiles lists every built-in precompile.
func DefaultPrecompiles() []string {
	names := make([]string, 0, len(builtinPrecompiles))
	for name := range builtinPrecompiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// PrecompileAddress returns the fixed address of a built-in precompile.
func PrecompileAddress(name string) (types.Address, bool) {
	spec, ok := builtinPrecompiles[name]
	return spec.addr, ok
}

// PrecompileTable maps fixed addresses to native contracts. It is built
// once from the chain configuration and never modified afterwards.
type PrecompileTable struct {
	contracts map[types.Address]PrecompiledContract
	names     map[types.Address]string
	addrs     []types.Address
}

// NewPrecompileTable builds the table for the enabled precompile names.
func NewPrecompileTable(enabled []string) (*PrecompileTable, error) {
	t := &PrecompileTable{
		contracts: make(map[types.Address]PrecompiledContract, len(enabled)),
		names:     make(map[types.Address]string, len(enabled)),
	}
	for _, name := range enabled {
		spec, ok := builtinPrecompiles[name]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownPrecompile, name)
		}
		if _, dup := t.contracts[spec.addr]; dup {
			continue
		}
		t.contracts[spec.addr] = spec.new()
		t.names[spec.addr] = name
		t.addrs = append(t.addrs, spec.addr)
	}
	sort.Slice(t.addrs, func(i, j int) bool {
		return bytes.Compare(t.addrs[i][:], t.addrs[j][:]) < 0
	})
	return t, nil
}

// Lookup returns the contract at addr, if any.
func (t *PrecompileTable) Lookup(addr types.Address) (PrecompiledContract, bool) {
	if t == nil {
		return nil, false
	}
	p, ok := t.contracts[addr]
	return p, ok
}

// Name returns the configured name of the precompile at addr.
func (t *PrecompileTable) Name(addr types.Address) string {
	if t == nil {
		return ""
	}
	return t.names[addr]
}

// Addresses returns the precompile addresses in ascending order.
func (t *PrecompileTable) Addresses() []types.Address {
	if t == nil {
		return nil
	}
	return append([]types.Address(nil), t.addrs...)
}

// Len returns the number of enabled precompiles.
func (t *PrecompileTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.addrs)
}

// Verify checks that every address resolves to a contract registered at
// its canonical address. A failure means the table was corrupted after
// construction and block production must stop.
func (t *PrecompileTable) Verify() error {
	if t == nil {
		return nil
	}
	if len(t.contracts) != len(t.addrs) || len(t.names) != len(t.addrs) {
		return fmt.Errorf("%w: size mismatch", ErrCorruptedPrecompiles)
	}
	for _, addr := range t.addrs {
		p := t.contracts[addr]
		if p == nil {
			return fmt.Errorf("%w: nil contract at %s", ErrCorruptedPrecompiles, addr)
		}
		spec, ok := builtinPrecompiles[t.names[addr]]
		if !ok || spec.addr != addr {
			return fmt.Errorf("%w: %s registered at %s", ErrCorruptedPrecompiles, t.names[addr], addr)
		}
	}
	return nil
}

// RunPrecompiledContract charges the contract's gas and runs it. It
// returns the output, the gas left over and any error. Running out of gas
// consumes the whole budget.
func RunPrecompiledContract(p PrecompiledContract, input []byte, gas uint64) (ret []byte, remainingGas uint64, err error) {
	gasCost := p.RequiredGas(input)
	if gas < gasCost {
		return nil, 0, ErrOutOfGas
	}
	output, err := p.Run(input)
	return output, gas - gasCost, err
}
