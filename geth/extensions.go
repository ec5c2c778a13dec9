package geth

// extensions.go installs the core's precompile table into go-ethereum's EVM
// via the SetPrecompiles API, so that nested calls made by contract code
// reach the same contracts as top-level calls.

import (
	gethcommon "github.com/ethereum/go-ethereum/common"
	gethvm "github.com/ethereum/go-ethereum/core/vm"

	"github.com/eth2030/ledgercore/core/vm"
	"github.com/eth2030/ledgercore/metrics"
)

// PrecompileAdapter wraps a ledgercore PrecompiledContract to satisfy
// go-ethereum's PrecompiledContract interface (which adds Name()).
type PrecompileAdapter struct {
	inner vm.PrecompiledContract
	name  string
}

// RequiredGas delegates to the wrapped precompile.
func (a *PrecompileAdapter) RequiredGas(input []byte) uint64 {
	return a.inner.RequiredGas(input)
}

// Run delegates to the wrapped precompile.
func (a *PrecompileAdapter) Run(input []byte) ([]byte, error) {
	metrics.NestedPrecompileCalls.Inc(1)
	return a.inner.Run(input)
}

// Name returns the configured name of the precompile.
func (a *PrecompileAdapter) Name() string {
	return a.name
}

// NewPrecompileAdapter wraps a ledgercore precompile for use with go-ethereum.
func NewPrecompileAdapter(inner vm.PrecompiledContract, name string) gethvm.PrecompiledContract {
	return &PrecompileAdapter{inner: inner, name: name}
}

// Precompiles builds the go-ethereum precompile set for table. It replaces
// go-ethereum's own set entirely: an address outside the table is ordinary
// account space.
func Precompiles(table *vm.PrecompileTable) gethvm.PrecompiledContracts {
	set := make(gethvm.PrecompiledContracts, table.Len())
	for _, addr := range table.Addresses() {
		p, _ := table.Lookup(addr)
		set[ToGethAddress(addr)] = NewPrecompileAdapter(p, table.Name(addr))
	}
	return set
}

// PrecompileAddresses lists the table's addresses for EIP-2929 access list
// warming.
func PrecompileAddresses(table *vm.PrecompileTable) []gethcommon.Address {
	addrs := table.Addresses()
	out := make([]gethcommon.Address, len(addrs))
	for i, a := range addrs {
		out[i] = ToGethAddress(a)
	}
	return out
}
