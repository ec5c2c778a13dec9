package core

import (
	"math"

	"github.com/eth2030/ledgercore/core/types"
)

// Intrinsic gas schedule (Shanghai rules).
const (
	TxGas                     uint64 = 21000
	TxGasContractCreation     uint64 = 53000
	TxDataZeroGas             uint64 = 4
	TxDataNonZeroGas          uint64 = 16
	TxAccessListAddressGas    uint64 = 2400
	TxAccessListStorageKeyGas uint64 = 1900
	InitCodeWordGas           uint64 = 2
	MaxInitCodeSize                  = 2 * 24576

	// RefundQuotient caps the refund counter at gasUsed/RefundQuotient.
	RefundQuotient uint64 = 5
)

// Native call weights, in gas units.
const (
	TransferWeight uint64 = 21000
	RemarkWeight   uint64 = 25000

	// MaxRemarkSize bounds the payload of a remark call.
	MaxRemarkSize = 16 * 1024
)

// NativeWeight returns the fixed weight of a native function.
func NativeWeight(f types.NativeFunction) uint64 {
	if f == types.FuncRemark {
		return RemarkWeight
	}
	return TransferWeight
}

// IntrinsicGas computes the gas charged before any execution. ok is false
// when the cost does not fit in 64 bits.
func IntrinsicGas(data []byte, accessList types.AccessList, isCreate bool) (gas uint64, ok bool) {
	if isCreate {
		gas = TxGasContractCreation
	} else {
		gas = TxGas
	}
	if n := uint64(len(data)); n > 0 {
		var nz uint64
		for _, b := range data {
			if b != 0 {
				nz++
			}
		}
		z := n - nz
		if (math.MaxUint64-gas)/TxDataNonZeroGas < nz {
			return 0, false
		}
		gas += nz * TxDataNonZeroGas
		if (math.MaxUint64-gas)/TxDataZeroGas < z {
			return 0, false
		}
		gas += z * TxDataZeroGas

		if isCreate {
			words := (n + 31) / 32
			if (math.MaxUint64-gas)/InitCodeWordGas < words {
				return 0, false
			}
			gas += words * InitCodeWordGas
		}
	}
	if accessList != nil {
		gas += uint64(len(accessList)) * TxAccessListAddressGas
		gas += uint64(accessList.StorageKeys()) * TxAccessListStorageKeyGas
	}
	return gas, true
}

// GasPool tracks the gas left in the block being produced.
type GasPool uint64

// NewGasPool returns a pool holding limit gas.
func NewGasPool(limit uint64) *GasPool {
	gp := GasPool(limit)
	return &gp
}

// SubGas reserves amount from the pool. Exhaustion is an invalid, not a
// fatal, condition: the call is skipped and may fit a later block.
func (gp *GasPool) SubGas(amount uint64) error {
	if uint64(*gp) < amount {
		return invalidf(ErrBlockGasExhausted, "have %d, want %d", uint64(*gp), amount)
	}
	*gp -= GasPool(amount)
	return nil
}

// AddGas returns unused gas to the pool.
func (gp *GasPool) AddGas(amount uint64) {
	if math.MaxUint64-uint64(*gp) < amount {
		*gp = math.MaxUint64
		return
	}
	*gp += GasPool(amount)
}

// Gas returns the amount of gas remaining in the pool.
func (gp *GasPool) Gas() uint64 { return uint64(*gp) }
