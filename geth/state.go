package geth

import (
	"fmt"

	gethcommon "github.com/ethereum/go-ethereum/common"
	gethstate "github.com/ethereum/go-ethereum/core/state"
	"github.com/ethereum/go-ethereum/core/tracing"
	"github.com/ethereum/go-ethereum/params"
	"github.com/holiman/uint256"

	"github.com/eth2030/ledgercore/core"
	corestate "github.com/eth2030/ledgercore/core/state"
	"github.com/eth2030/ledgercore/core/types"
	"github.com/eth2030/ledgercore/core/vm"
	"github.com/eth2030/ledgercore/log"
)

// State implements the core's state.StateDB on top of a go-ethereum
// StateDB. Calls into contract code run on go-ethereum's EVM.
type State struct {
	db      gethstate.Database
	statedb *gethstate.StateDB
	root    gethcommon.Hash // last committed root
	config  *params.ChainConfig
	getHash func(uint64) types.Hash
	log     *log.Logger

	// Snapshot ids handed out by State. Finalise clears go-ethereum's
	// journal, so each id remembers the epoch it was taken in. Commit and
	// Finalise start a new epoch.
	revisions   map[int]revision
	nextID      int
	epoch       uint64
	commitEpoch uint64
}

type revision struct {
	id    int
	epoch uint64
}

var (
	_ corestate.StateDB   = (*State)(nil)
	_ corestate.Finaliser = (*State)(nil)
)

// NewState opens the state at root.
func NewState(cfg *core.ChainConfig, root types.Hash, db gethstate.Database) (*State, error) {
	statedb, err := gethstate.New(ToGethHash(root), db)
	if err != nil {
		return nil, fmt.Errorf("open state %s: %w", root, err)
	}
	return &State{
		db:        db,
		statedb:   statedb,
		root:      ToGethHash(root),
		config:    ToGethChainConfig(cfg),
		log:       log.Default().Module("geth"),
		revisions: make(map[int]revision),
	}, nil
}

// NewMemoryState opens an empty state backed by an in-memory trie database.
func NewMemoryState(cfg *core.ChainConfig) (*State, error) {
	return NewState(cfg, types.EmptyRootHash, gethstate.NewDatabaseForTesting())
}

// SetBlockHashes installs the lookup behind the BLOCKHASH opcode. Without
// one, BLOCKHASH returns zero.
func (s *State) SetBlockHashes(fn func(number uint64) types.Hash) { s.getHash = fn }

// StateDB returns the underlying go-ethereum state.
func (s *State) StateDB() *gethstate.StateDB { return s.statedb }

// ChainConfig returns the go-ethereum chain config the EVM runs under.
func (s *State) ChainConfig() *params.ChainConfig { return s.config }

func (s *State) GetBalance(addr types.Address) *uint256.Int {
	return new(uint256.Int).Set(s.statedb.GetBalance(ToGethAddress(addr)))
}

func (s *State) AddBalance(addr types.Address, amount *uint256.Int) {
	s.statedb.AddBalance(ToGethAddress(addr), amount, tracing.BalanceChangeTransfer)
}

func (s *State) SubBalance(addr types.Address, amount *uint256.Int) {
	s.statedb.SubBalance(ToGethAddress(addr), amount, tracing.BalanceChangeTransfer)
}

func (s *State) GetNonce(addr types.Address) uint64 {
	return s.statedb.GetNonce(ToGethAddress(addr))
}

func (s *State) SetNonce(addr types.Address, nonce uint64) {
	s.statedb.SetNonce(ToGethAddress(addr), nonce, tracing.NonceChangeEoACall)
}

func (s *State) GetCode(addr types.Address) []byte {
	return s.statedb.GetCode(ToGethAddress(addr))
}

func (s *State) SetCode(addr types.Address, code []byte) {
	s.statedb.SetCode(ToGethAddress(addr), code, tracing.CodeChangeUnspecified)
}

func (s *State) GetCodeHash(addr types.Address) types.Hash {
	return FromGethHash(s.statedb.GetCodeHash(ToGethAddress(addr)))
}

func (s *State) GetState(addr types.Address, key types.Hash) types.Hash {
	return FromGethHash(s.statedb.GetState(ToGethAddress(addr), ToGethHash(key)))
}

func (s *State) SetState(addr types.Address, key, value types.Hash) {
	s.statedb.SetState(ToGethAddress(addr), ToGethHash(key), ToGethHash(value))
}

func (s *State) Exist(addr types.Address) bool { return s.statedb.Exist(ToGethAddress(addr)) }
func (s *State) Empty(addr types.Address) bool { return s.statedb.Empty(ToGethAddress(addr)) }

func (s *State) Snapshot() int {
	id := s.nextID
	s.nextID++
	s.revisions[id] = revision{id: s.statedb.Snapshot(), epoch: s.epoch}
	return id
}

// RevertToSnapshot undoes changes made since id. A snapshot from an earlier
// epoch can only be reverted if it was taken at the committed root, in
// which case the state is reopened there.
func (s *State) RevertToSnapshot(id int) {
	rev, ok := s.revisions[id]
	if !ok {
		panic(fmt.Errorf("snapshot %d cannot be reverted", id))
	}
	switch rev.epoch {
	case s.epoch:
		s.statedb.RevertToSnapshot(rev.id)
	case s.commitEpoch:
		statedb, err := gethstate.New(s.root, s.db)
		if err != nil {
			panic(fmt.Errorf("reopen state %s: %w", s.root, err))
		}
		s.statedb = statedb
		s.epoch++
		s.commitEpoch = s.epoch
		clear(s.revisions)
		s.log.Debug("state reverted to committed root", "root", s.root)
		return
	default:
		panic(fmt.Errorf("snapshot %d was taken before a finalised call", id))
	}
	for other := range s.revisions {
		if other >= id {
			delete(s.revisions, other)
		}
	}
}

// Finalise ends the current call: self-destructed and empty accounts are
// removed and per-call flags are cleared before the next call runs.
func (s *State) Finalise() {
	s.statedb.Finalise(true)
	s.startEpoch()
}

func (s *State) startEpoch() {
	s.epoch++
	for id, rev := range s.revisions {
		if rev.epoch != s.commitEpoch {
			delete(s.revisions, id)
		}
	}
}

func (s *State) SetTxContext(txHash types.Hash, index int) {
	s.statedb.SetTxContext(ToGethHash(txHash), index)
}

func (s *State) AddLog(l *types.Log) { s.statedb.AddLog(ToGethLog(l)) }

// GetLogs returns the logs of txHash. Block fields are left zero; the
// pipeline sets them once the block is sealed.
func (s *State) GetLogs(txHash types.Hash) []*types.Log {
	return FromGethLogs(s.statedb.GetLogs(ToGethHash(txHash), 0, gethcommon.Hash{}, 0))
}

func (s *State) AddRefund(gas uint64) { s.statedb.AddRefund(gas) }

// SubRefund saturates at zero; go-ethereum panics instead.
func (s *State) SubRefund(gas uint64) {
	s.statedb.SubRefund(min(gas, s.statedb.GetRefund()))
}

func (s *State) GetRefund() uint64 { return s.statedb.GetRefund() }

// Commit writes the block's changes to the trie database and reopens the
// state at the new root. Empty accounts are removed (EIP-158).
func (s *State) Commit(blockNumber uint64) (types.Hash, error) {
	root, err := s.statedb.Commit(blockNumber, true, false)
	if err != nil {
		return types.Hash{}, fmt.Errorf("commit state: %w", err)
	}
	statedb, err := gethstate.New(root, s.db)
	if err != nil {
		return types.Hash{}, fmt.Errorf("reopen state %s: %w", root, err)
	}
	s.statedb = statedb
	s.root = root
	s.epoch++
	s.commitEpoch = s.epoch
	clear(s.revisions)
	s.log.Debug("state committed", "number", blockNumber, "root", root)
	return FromGethHash(root), nil
}

// NewInterpreter returns an EVM interpreter bound to one call's context.
func (s *State) NewInterpreter(block *vm.BlockContext, tx *vm.TxContext, precompiles *vm.PrecompileTable) vm.Interpreter {
	return &evmInterpreter{state: s, block: block, tx: tx, precompiles: precompiles}
}
