package core

import (
	"crypto/ecdsa"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"github.com/eth2030/ledgercore/core/state"
	"github.com/eth2030/ledgercore/core/types"
	"github.com/eth2030/ledgercore/core/vm"
)

var (
	keyA, _ = crypto.HexToECDSA("b71c71a67e1177ad4e901695e1b4b9ee17ae16c6668d313eac2f96dbcda3f291")
	keyB, _ = crypto.HexToECDSA("8a1f9a8f95be41cd7ccb6168179afb4504aefe388d1e14474d32c45c72ce7b7a")
	keyC, _ = crypto.HexToECDSA("49a7b37aa6f6645917e7b807e9d1c00d4fa71f18343b0d4122a4d2df64dd6fee")

	addrA = types.PubkeyToAddress(keyA.PublicKey)
	addrB = types.PubkeyToAddress(keyB.PublicKey)
	addrC = types.PubkeyToAddress(keyC.PublicKey)

	recipient = types.HexToAddress("0x095e7baea6a6c7c4c2dfeb977efac326af552d87")
	author    = types.HexToAddress("0x00000000000000000000000000000000000a0701")
)

// testConfig returns a config with a small, round base fee.
func testConfig(baseFee uint64) *ChainConfig {
	cfg := DefaultChainConfig()
	cfg.InitialBaseFee = uint256.NewInt(baseFee)
	cfg.MinBaseFee = uint256.NewInt(1)
	cfg.MaxBaseFee = uint256.NewInt(1_000_000_000_000)
	return cfg
}

func newTestBridge(t *testing.T, cfg *ChainConfig) *Bridge {
	t.Helper()
	fees, err := NewFeeOracle(cfg, nil)
	if err != nil {
		t.Fatalf("NewFeeOracle: %v", err)
	}
	b, err := NewBridge(cfg, fees)
	if err != nil {
		t.Fatalf("NewBridge: %v", err)
	}
	return b
}

func fundedState(balance uint64, addrs ...types.Address) *state.MemoryStateDB {
	st := state.NewMemoryStateDB()
	for _, a := range addrs {
		st.AddBalance(a, uint256.NewInt(balance))
	}
	return st
}

func blockCtx(b *Bridge, st state.StateDB) *ExecContext {
	return &ExecContext{
		Bridge:  b,
		State:   st,
		Block:   &BlockEnv{Number: 1, Time: 1000, Author: author, GasLimit: b.Config().BlockGasLimit},
		GasPool: NewGasPool(b.Config().BlockGasLimit),
	}
}

func signTx(t *testing.T, key *ecdsa.PrivateKey, chainID uint64, inner types.TxData) *types.Transaction {
	t.Helper()
	tx, err := types.SignTx(types.NewTx(inner), chainID, key)
	if err != nil {
		t.Fatalf("SignTx: %v", err)
	}
	return tx
}

func legacyCall(t *testing.T, key *ecdsa.PrivateKey, nonce, gas, price uint64, to *types.Address, value uint64, data []byte) *SelfContainedCall {
	t.Helper()
	tx := signTx(t, key, 42, &types.LegacyTx{
		Nonce:    nonce,
		GasPrice: uint256.NewInt(price),
		Gas:      gas,
		To:       to,
		Value:    uint256.NewInt(value),
		Data:     data,
	})
	call, err := NewSelfContainedCall(tx)
	if err != nil {
		t.Fatalf("NewSelfContainedCall: %v", err)
	}
	return call
}

func dynamicCall(t *testing.T, key *ecdsa.PrivateKey, nonce, gas, tip, feeCap uint64, to *types.Address) *SelfContainedCall {
	t.Helper()
	tx := signTx(t, key, 42, &types.DynamicFeeTx{
		ChainID:   42,
		Nonce:     nonce,
		GasTipCap: uint256.NewInt(tip),
		GasFeeCap: uint256.NewInt(feeCap),
		Gas:       gas,
		To:        to,
		Value:     new(uint256.Int),
	})
	call, err := NewSelfContainedCall(tx)
	if err != nil {
		t.Fatalf("NewSelfContainedCall: %v", err)
	}
	return call
}

func nativeTransfer(t *testing.T, key *ecdsa.PrivateKey, nonce, tip uint64, dest types.Address, value uint64) *NativeDispatch {
	t.Helper()
	c, err := types.SignNativeCall(&types.NativeCall{
		Nonce:    nonce,
		Tip:      uint256.NewInt(tip),
		Function: types.FuncTransfer,
		Dest:     dest,
		Value:    uint256.NewInt(value),
	}, key)
	if err != nil {
		t.Fatalf("SignNativeCall: %v", err)
	}
	n, err := NewNativeDispatch(c)
	if err != nil {
		t.Fatalf("NewNativeDispatch: %v", err)
	}
	return n
}

// scriptedState replaces the interpreter of a MemoryStateDB with script and
// counts invocations.
type scriptedState struct {
	*state.MemoryStateDB
	script func(st state.StateDB, msg *vm.Message) *vm.Outcome
	calls  int
}

type interpreterFunc func(msg *vm.Message) *vm.Outcome

func (f interpreterFunc) Execute(msg *vm.Message) *vm.Outcome { return f(msg) }

func (s *scriptedState) NewInterpreter(block *vm.BlockContext, tx *vm.TxContext, p *vm.PrecompileTable) vm.Interpreter {
	return interpreterFunc(func(msg *vm.Message) *vm.Outcome {
		s.calls++
		if s.script == nil {
			return s.MemoryStateDB.NewInterpreter(block, tx, p).Execute(msg)
		}
		return s.script(s, msg)
	})
}
