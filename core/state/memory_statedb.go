package state

import (
	"bytes"
	"sort"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"github.com/eth2030/ledgercore/core/types"
	"github.com/eth2030/ledgercore/core/vm"
)

// stateObject is one account held by MemoryStateDB.
type stateObject struct {
	nonce            uint64
	balance          *uint256.Int
	code             []byte
	codeHash         types.Hash
	dirtyStorage     map[types.Hash]types.Hash
	committedStorage map[types.Hash]types.Hash
}

func newStateObject() *stateObject {
	return &stateObject{
		balance:          new(uint256.Int),
		codeHash:         types.EmptyCodeHash,
		dirtyStorage:     make(map[types.Hash]types.Hash),
		committedStorage: make(map[types.Hash]types.Hash),
	}
}

func (obj *stateObject) empty() bool {
	return obj.nonce == 0 && obj.balance.IsZero() && obj.codeHash == types.EmptyCodeHash
}

// MemoryStateDB is an in-memory StateDB. It executes value transfers only;
// code calls go through an attached interpreter such as the geth backend.
type MemoryStateDB struct {
	stateObjects map[types.Address]*stateObject
	journal      *journal
	logs         map[types.Hash][]*types.Log
	logSize      uint
	refund       uint64

	txHash  types.Hash
	txIndex int
}

// NewMemoryStateDB creates a new in-memory state database.
func NewMemoryStateDB() *MemoryStateDB {
	return &MemoryStateDB{
		stateObjects: make(map[types.Address]*stateObject),
		journal:      newJournal(),
		logs:         make(map[types.Hash][]*types.Log),
	}
}

func (s *MemoryStateDB) getStateObject(addr types.Address) *stateObject {
	return s.stateObjects[addr]
}

func (s *MemoryStateDB) getOrNewStateObject(addr types.Address) *stateObject {
	if obj := s.stateObjects[addr]; obj != nil {
		return obj
	}
	obj := newStateObject()
	s.journal.append(createObjectChange{addr: addr})
	s.stateObjects[addr] = obj
	return obj
}

// --- Account operations ---

func (s *MemoryStateDB) SubBalance(addr types.Address, amount *uint256.Int) {
	obj := s.getOrNewStateObject(addr)
	s.journal.append(balanceChange{addr: addr, prev: obj.balance})
	obj.balance = new(uint256.Int).Sub(obj.balance, amount)
}

func (s *MemoryStateDB) AddBalance(addr types.Address, amount *uint256.Int) {
	obj := s.getOrNewStateObject(addr)
	s.journal.append(balanceChange{addr: addr, prev: obj.balance})
	obj.balance = new(uint256.Int).Add(obj.balance, amount)
}

func (s *MemoryStateDB) GetBalance(addr types.Address) *uint256.Int {
	if obj := s.getStateObject(addr); obj != nil {
		return new(uint256.Int).Set(obj.balance)
	}
	return new(uint256.Int)
}

func (s *MemoryStateDB) GetNonce(addr types.Address) uint64 {
	if obj := s.getStateObject(addr); obj != nil {
		return obj.nonce
	}
	return 0
}

func (s *MemoryStateDB) SetNonce(addr types.Address, nonce uint64) {
	obj := s.getOrNewStateObject(addr)
	s.journal.append(nonceChange{addr: addr, prev: obj.nonce})
	obj.nonce = nonce
}

func (s *MemoryStateDB) GetCode(addr types.Address) []byte {
	if obj := s.getStateObject(addr); obj != nil {
		return obj.code
	}
	return nil
}

func (s *MemoryStateDB) SetCode(addr types.Address, code []byte) {
	obj := s.getOrNewStateObject(addr)
	s.journal.append(codeChange{addr: addr, prevCode: obj.code, prevHash: obj.codeHash})
	obj.code = code
	obj.codeHash = types.Keccak256Hash(code)
}

func (s *MemoryStateDB) GetCodeHash(addr types.Address) types.Hash {
	if obj := s.getStateObject(addr); obj != nil {
		return obj.codeHash
	}
	return types.Hash{}
}

// --- Storage operations ---

func (s *MemoryStateDB) GetState(addr types.Address, key types.Hash) types.Hash {
	if obj := s.getStateObject(addr); obj != nil {
		if val, ok := obj.dirtyStorage[key]; ok {
			return val
		}
		return obj.committedStorage[key]
	}
	return types.Hash{}
}

func (s *MemoryStateDB) SetState(addr types.Address, key types.Hash, value types.Hash) {
	obj := s.getOrNewStateObject(addr)
	prev, exists := obj.dirtyStorage[key]
	s.journal.append(storageChange{addr: addr, key: key, prev: prev, prevExists: exists})
	obj.dirtyStorage[key] = value
}

// --- Account existence ---

func (s *MemoryStateDB) Exist(addr types.Address) bool {
	return s.stateObjects[addr] != nil
}

func (s *MemoryStateDB) Empty(addr types.Address) bool {
	obj := s.getStateObject(addr)
	return obj == nil || obj.empty()
}

// --- Snapshot and revert ---

func (s *MemoryStateDB) Snapshot() int {
	return s.journal.snapshot()
}

func (s *MemoryStateDB) RevertToSnapshot(id int) {
	s.journal.revertToSnapshot(id, s)
}

// --- Logs ---

func (s *MemoryStateDB) SetTxContext(txHash types.Hash, index int) {
	s.txHash = txHash
	s.txIndex = index
}

// AddLog records a log against the current tx context.
func (s *MemoryStateDB) AddLog(log *types.Log) {
	s.journal.append(logChange{txHash: s.txHash, prevLen: len(s.logs[s.txHash])})
	log.TxHash = s.txHash
	log.TxIndex = uint(s.txIndex)
	log.Index = s.logSize
	s.logs[s.txHash] = append(s.logs[s.txHash], log)
	s.logSize++
}

func (s *MemoryStateDB) GetLogs(txHash types.Hash) []*types.Log {
	return s.logs[txHash]
}

// --- Refund counter ---

func (s *MemoryStateDB) AddRefund(gas uint64) {
	s.journal.append(refundChange{prev: s.refund})
	s.refund += gas
}

func (s *MemoryStateDB) SubRefund(gas uint64) {
	s.journal.append(refundChange{prev: s.refund})
	if gas > s.refund {
		s.refund = 0
		return
	}
	s.refund -= gas
}

func (s *MemoryStateDB) GetRefund() uint64 {
	return s.refund
}

// NewInterpreter implements vm.InterpreterProvider with a transfer-only
// interpreter.
func (s *MemoryStateDB) NewInterpreter(*vm.BlockContext, *vm.TxContext, *vm.PrecompileTable) vm.Interpreter {
	return &vm.TransferInterpreter{State: s}
}

// --- Commit ---

type accountRLP struct {
	Address     types.Address
	Nonce       uint64
	Balance     *uint256.Int
	CodeHash    types.Hash
	StorageRoot types.Hash
}

type slotRLP struct {
	Key   types.Hash
	Value types.Hash
}

// Commit flushes dirty storage, drops empty accounts and returns a root
// over the sorted account set. The root is a flat keccak commitment, not a
// trie root.
func (s *MemoryStateDB) Commit(blockNumber uint64) (types.Hash, error) {
	addrs := make([]types.Address, 0, len(s.stateObjects))
	for addr, obj := range s.stateObjects {
		for key, val := range obj.dirtyStorage {
			if val == (types.Hash{}) {
				delete(obj.committedStorage, key)
			} else {
				obj.committedStorage[key] = val
			}
		}
		obj.dirtyStorage = make(map[types.Hash]types.Hash)
		if obj.empty() && len(obj.committedStorage) == 0 {
			delete(s.stateObjects, addr)
			continue
		}
		addrs = append(addrs, addr)
	}
	s.journal.reset()
	s.refund = 0
	s.logs = make(map[types.Hash][]*types.Log)
	s.logSize = 0

	if len(addrs) == 0 {
		return types.EmptyRootHash, nil
	}
	sort.Slice(addrs, func(i, j int) bool { return bytes.Compare(addrs[i][:], addrs[j][:]) < 0 })

	accounts := make([]accountRLP, len(addrs))
	for i, addr := range addrs {
		obj := s.stateObjects[addr]
		storageRoot, err := storageRoot(obj.committedStorage)
		if err != nil {
			return types.Hash{}, err
		}
		accounts[i] = accountRLP{addr, obj.nonce, obj.balance, obj.codeHash, storageRoot}
	}
	enc, err := rlp.EncodeToBytes(accounts)
	if err != nil {
		return types.Hash{}, err
	}
	return types.Keccak256Hash(enc), nil
}

func storageRoot(storage map[types.Hash]types.Hash) (types.Hash, error) {
	if len(storage) == 0 {
		return types.EmptyRootHash, nil
	}
	slots := make([]slotRLP, 0, len(storage))
	for k, v := range storage {
		slots = append(slots, slotRLP{k, v})
	}
	sort.Slice(slots, func(i, j int) bool { return bytes.Compare(slots[i].Key[:], slots[j].Key[:]) < 0 })
	enc, err := rlp.EncodeToBytes(slots)
	if err != nil {
		return types.Hash{}, err
	}
	return types.Keccak256Hash(enc), nil
}

// Verify interface compliance at compile time.
var _ StateDB = (*MemoryStateDB)(nil)
