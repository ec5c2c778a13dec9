package core

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"

	"github.com/eth2030/ledgercore/core/state"
	"github.com/eth2030/ledgercore/core/types"
)

// GenesisAccount is one pre-funded account.
type GenesisAccount struct {
	Address types.Address
	Balance *uint256.Int
	Nonce   uint64
	Code    hexutil.Bytes
}

// Genesis specifies the header fields and allocation of block zero.
type Genesis struct {
	Timestamp uint64
	Author    types.Address
	Alloc     []GenesisAccount
}

// Commit writes the allocation into st and returns the genesis block.
func (g *Genesis) Commit(cfg *ChainConfig, st state.StateDB) (*types.Block, error) {
	seen := make(map[types.Address]bool, len(g.Alloc))
	for _, acct := range g.Alloc {
		if seen[acct.Address] {
			return nil, fmt.Errorf("duplicate genesis account %s", acct.Address)
		}
		seen[acct.Address] = true
		if acct.Balance != nil {
			st.AddBalance(acct.Address, acct.Balance)
		}
		if acct.Nonce > 0 {
			st.SetNonce(acct.Address, acct.Nonce)
		}
		if len(acct.Code) > 0 {
			st.SetCode(acct.Address, acct.Code)
		}
	}
	root, err := st.Commit(0)
	if err != nil {
		return nil, fmt.Errorf("commit genesis state: %w", err)
	}
	head := &types.Header{
		Number:         0,
		Author:         g.Author,
		StateRoot:      root,
		ExtrinsicsRoot: types.EmptyRootHash,
		ReceiptsRoot:   types.EmptyRootHash,
		GasLimit:       cfg.BlockGasLimit,
		Time:           g.Timestamp,
		BaseFee:        new(uint256.Int).Set(cfg.InitialBaseFee),
	}
	return types.NewBlock(head, nil, nil), nil
}

// DevGenesis funds each of addrs with balance.
func DevGenesis(balance *uint256.Int, addrs ...types.Address) *Genesis {
	g := &Genesis{}
	for _, addr := range addrs {
		g.Alloc = append(g.Alloc, GenesisAccount{Address: addr, Balance: new(uint256.Int).Set(balance)})
	}
	return g
}
