package core

import (
	"errors"
	"fmt"
	"sync"

	"github.com/eth2030/ledgercore/core/types"
	"github.com/eth2030/ledgercore/log"
)

var (
	ErrNoGenesis     = errors.New("genesis block not provided")
	ErrUnknownParent = errors.New("unknown parent")
	ErrInvalidChain  = errors.New("invalid chain: block does not extend head")
	ErrBlockNotFound = errors.New("block not found")
)

// Chain is an in-memory canonical block store. It is the pipeline's
// BlockSink and the source the mapping sync reads from.
type Chain struct {
	mu      sync.RWMutex
	genesis *types.Block
	blocks  map[types.Hash]*types.Block
	canon   []types.Hash // canonical hash by number
	log     *log.Logger
}

// NewChain starts a chain at genesis.
func NewChain(genesis *types.Block) (*Chain, error) {
	if genesis == nil {
		return nil, ErrNoGenesis
	}
	hash := genesis.Hash()
	return &Chain{
		genesis: genesis,
		blocks:  map[types.Hash]*types.Block{hash: genesis},
		canon:   []types.Hash{hash},
		log:     log.Default().Module("chain"),
	}, nil
}

// SubmitBlock appends block to the canonical chain. It must extend the
// current head.
func (c *Chain) SubmitBlock(block *types.Block) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	head := c.blocks[c.canon[len(c.canon)-1]]
	if _, ok := c.blocks[block.ParentHash()]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownParent, block.ParentHash())
	}
	if block.ParentHash() != head.Hash() || block.Number() != head.Number()+1 {
		return fmt.Errorf("%w: block %d parent %s, head %d %s",
			ErrInvalidChain, block.Number(), block.ParentHash(), head.Number(), head.Hash())
	}
	hash := block.Hash()
	c.blocks[hash] = block
	c.canon = append(c.canon, hash)
	c.log.Debug("block inserted", "number", block.Number(), "hash", hash)
	return nil
}

// SetHead rewinds the canonical chain to number. Blocks above it stay
// retrievable by hash but are no longer canonical.
func (c *Chain) SetHead(number uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if number >= uint64(len(c.canon)) {
		return fmt.Errorf("%w: number %d", ErrBlockNotFound, number)
	}
	c.canon = c.canon[:number+1]
	c.log.Info("chain rewound", "number", number, "hash", c.canon[number])
	return nil
}

// Genesis returns the genesis block.
func (c *Chain) Genesis() *types.Block { return c.genesis }

// CurrentBlock returns the head of the canonical chain.
func (c *Chain) CurrentBlock() *types.Block {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.blocks[c.canon[len(c.canon)-1]]
}

// BlockByHash returns any known block, canonical or not.
func (c *Chain) BlockByHash(hash types.Hash) *types.Block {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.blocks[hash]
}

// BlockByNumber returns the canonical block at number.
func (c *Chain) BlockByNumber(number uint64) *types.Block {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if number >= uint64(len(c.canon)) {
		return nil
	}
	return c.blocks[c.canon[number]]
}

// IsCanonical reports whether hash is on the canonical chain.
func (c *Chain) IsCanonical(hash types.Hash) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, ok := c.blocks[hash]
	if !ok || b.Number() >= uint64(len(c.canon)) {
		return false
	}
	return c.canon[b.Number()] == hash
}

// NextEnv returns the environment of the block that extends the head.
func (c *Chain) NextEnv(author types.Address, time, gasLimit uint64) *BlockEnv {
	head := c.CurrentBlock()
	return &BlockEnv{
		ParentHash: head.Hash(),
		Number:     head.Number() + 1,
		Time:       time,
		Author:     author,
		GasLimit:   gasLimit,
	}
}
