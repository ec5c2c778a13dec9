package geth

import (
	"math/big"

	"github.com/ethereum/go-ethereum/params"

	"github.com/eth2030/ledgercore/core"
)

// ToGethChainConfig converts a ledgercore ChainConfig to the go-ethereum
// ChainConfig the EVM runs under. All forks through London are active from
// genesis, the chain is post-merge and Shanghai is on. Later forks stay off:
// the core has no blob or authorization envelopes to feed them.
func ToGethChainConfig(c *core.ChainConfig) *params.ChainConfig {
	if c == nil {
		return nil
	}
	zero := big.NewInt(0)
	shanghai := uint64(0)
	return &params.ChainConfig{
		ChainID: new(big.Int).SetUint64(c.ChainID),

		// Block-number forks (pre-merge).
		HomesteadBlock:      zero,
		EIP150Block:         zero,
		EIP155Block:         zero,
		EIP158Block:         zero,
		ByzantiumBlock:      zero,
		ConstantinopleBlock: zero,
		PetersburgBlock:     zero,
		IstanbulBlock:       zero,
		MuirGlacierBlock:    zero,
		BerlinBlock:         zero,
		LondonBlock:         zero,

		// Merge.
		TerminalTotalDifficulty: zero,

		// Timestamp forks (post-merge).
		ShanghaiTime: &shanghai,
	}
}
