// Package metrics holds the named meters of the ledger core. All metrics are
// registered in the go-ethereum DefaultRegistry so any reporter attached to
// it picks them up.
package metrics

import (
	"sort"
	"strings"

	gethmetrics "github.com/ethereum/go-ethereum/metrics"
)

var (
	// ---- Block pipeline ----

	// BlockHeight tracks the number of the last produced block.
	BlockHeight = gethmetrics.NewRegisteredGauge("ledgercore/pipeline/height", nil)
	// BlockGasUsed tracks gas used by the last produced block.
	BlockGasUsed = gethmetrics.NewRegisteredGauge("ledgercore/pipeline/gasused", nil)
	// BlockProduceTimer times ProduceBlock end to end.
	BlockProduceTimer = gethmetrics.NewRegisteredTimer("ledgercore/pipeline/produce", nil)
	// BlocksAborted counts blocks abandoned on a fatal error or cancellation.
	BlocksAborted = gethmetrics.NewRegisteredCounter("ledgercore/pipeline/aborted", nil)

	// CallsIncluded counts calls included in a block, successful or not.
	CallsIncluded = gethmetrics.NewRegisteredMeter("ledgercore/pipeline/included", nil)
	// CallsFailed counts included calls that reverted or ran out of gas.
	CallsFailed = gethmetrics.NewRegisteredMeter("ledgercore/pipeline/failed", nil)
	// CallsSkipped counts calls left out of a block after re-validation.
	CallsSkipped = gethmetrics.NewRegisteredMeter("ledgercore/pipeline/skipped", nil)

	// PrecompileCalls counts top-level calls served by a precompile.
	PrecompileCalls = gethmetrics.NewRegisteredCounter("ledgercore/bridge/precompile", nil)
	// InterpreterCalls counts top-level calls handed to the interpreter.
	InterpreterCalls = gethmetrics.NewRegisteredCounter("ledgercore/bridge/interpreter", nil)
	// NestedPrecompileCalls counts precompiles reached from contract code.
	NestedPrecompileCalls = gethmetrics.NewRegisteredCounter("ledgercore/evm/precompile", nil)

	// ---- Fee oracle ----

	// BaseFee tracks the elastic base fee (saturated to int64).
	BaseFee = gethmetrics.NewRegisteredGauge("ledgercore/fee/basefee", nil)
	// BaseFeeUpdates counts applied block-finalization updates.
	BaseFeeUpdates = gethmetrics.NewRegisteredCounter("ledgercore/fee/updates", nil)

	// ---- Transaction pool ----

	// PoolPending tracks the number of pooled calls.
	PoolPending = gethmetrics.NewRegisteredGauge("ledgercore/txpool/pending", nil)
	// PoolAdded counts calls accepted into the pool.
	PoolAdded = gethmetrics.NewRegisteredMeter("ledgercore/txpool/added", nil)
	// PoolRejected counts raw submissions rejected at the pool boundary.
	PoolRejected = gethmetrics.NewRegisteredMeter("ledgercore/txpool/rejected", nil)
	// PoolDropped counts calls removed by pruning.
	PoolDropped = gethmetrics.NewRegisteredMeter("ledgercore/txpool/dropped", nil)
	// SenderCacheHits counts sender recoveries served from the LRU.
	SenderCacheHits = gethmetrics.NewRegisteredCounter("ledgercore/txpool/sendercache/hits", nil)

	// ---- Mapping sync ----

	// MappingSynced counts blocks written to the mapping database.
	MappingSynced = gethmetrics.NewRegisteredCounter("ledgercore/mapping/synced", nil)
	// MappingHeight tracks the last block written to the mapping database.
	MappingHeight = gethmetrics.NewRegisteredGauge("ledgercore/mapping/height", nil)
)

// Enable turns on metric collection in the underlying registry.
func Enable() { gethmetrics.Enable() }

// Enabled reports whether collection is on.
func Enabled() bool { return gethmetrics.Enabled() }

// Names lists every metric registered by this package.
func Names() []string {
	var names []string
	gethmetrics.DefaultRegistry.Each(func(name string, _ any) {
		if strings.HasPrefix(name, "ledgercore/") {
			names = append(names, name)
		}
	})
	sort.Strings(names)
	return names
}
