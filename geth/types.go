// Package geth runs contract code for the execution core on go-ethereum's
// EVM and state database. It is the only package that imports
// go-ethereum's core packages; the rest of ledgercore works with
// ledgercore/core/types.
package geth

import (
	gethcommon "github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/eth2030/ledgercore/core/types"
)

// --- Address and Hash conversion (zero-copy, layout-compatible) ---

// ToGethAddress converts a ledgercore Address to a go-ethereum Address.
func ToGethAddress(a types.Address) gethcommon.Address {
	return gethcommon.Address(a)
}

// FromGethAddress converts a go-ethereum Address to a ledgercore Address.
func FromGethAddress(a gethcommon.Address) types.Address {
	return types.Address(a)
}

// ToGethHash converts a ledgercore Hash to a go-ethereum Hash.
func ToGethHash(h types.Hash) gethcommon.Hash {
	return gethcommon.Hash(h)
}

// FromGethHash converts a go-ethereum Hash to a ledgercore Hash.
func FromGethHash(h gethcommon.Hash) types.Hash {
	return types.Hash(h)
}

func toGethAddressPtr(a *types.Address) *gethcommon.Address {
	if a == nil {
		return nil
	}
	ga := ToGethAddress(*a)
	return &ga
}

// --- AccessList conversion ---

// ToGethAccessList converts a ledgercore AccessList to a go-ethereum AccessList.
func ToGethAccessList(al types.AccessList) gethtypes.AccessList {
	if al == nil {
		return nil
	}
	result := make(gethtypes.AccessList, len(al))
	for i, tuple := range al {
		keys := make([]gethcommon.Hash, len(tuple.StorageKeys))
		for j, k := range tuple.StorageKeys {
			keys[j] = ToGethHash(k)
		}
		result[i] = gethtypes.AccessTuple{
			Address:     ToGethAddress(tuple.Address),
			StorageKeys: keys,
		}
	}
	return result
}

// --- Log conversion ---

// ToGethLog converts the consensus fields of a ledgercore Log. go-ethereum
// fills in the positional fields when the log is added to its state.
func ToGethLog(l *types.Log) *gethtypes.Log {
	topics := make([]gethcommon.Hash, len(l.Topics))
	for i, t := range l.Topics {
		topics[i] = ToGethHash(t)
	}
	return &gethtypes.Log{
		Address: ToGethAddress(l.Address),
		Topics:  topics,
		Data:    l.Data,
	}
}

// FromGethLog converts a go-ethereum Log to a ledgercore Log.
func FromGethLog(l *gethtypes.Log) *types.Log {
	if l == nil {
		return nil
	}
	topics := make([]types.Hash, len(l.Topics))
	for i, t := range l.Topics {
		topics[i] = FromGethHash(t)
	}
	return &types.Log{
		Address:     FromGethAddress(l.Address),
		Topics:      topics,
		Data:        l.Data,
		BlockNumber: l.BlockNumber,
		TxHash:      FromGethHash(l.TxHash),
		TxIndex:     l.TxIndex,
		BlockHash:   FromGethHash(l.BlockHash),
		Index:       l.Index,
	}
}

// FromGethLogs converts a slice of go-ethereum Logs.
func FromGethLogs(logs []*gethtypes.Log) []*types.Log {
	result := make([]*types.Log, len(logs))
	for i, l := range logs {
		result[i] = FromGethLog(l)
	}
	return result
}
