package core

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/holiman/uint256"

	"github.com/eth2030/ledgercore/core/vm"
)

// Configuration errors.
var (
	ErrInvalidChainConfig = errors.New("invalid chain config")
	ErrInvalidFraction    = errors.New("invalid fraction")
)

// Fraction is a ratio num/den. It reads and writes as "num/den" text so it
// can sit in TOML files.
type Fraction struct {
	Num uint64
	Den uint64
}

// Of returns v * Num / Den, truncated.
func (f Fraction) Of(v uint64) uint64 {
	if f.Den == 0 {
		return 0
	}
	r := new(uint256.Int).Mul(uint256.NewInt(v), uint256.NewInt(f.Num))
	r.Div(r, uint256.NewInt(f.Den))
	return r.Uint64()
}

func (f Fraction) String() string { return fmt.Sprintf("%d/%d", f.Num, f.Den) }

// MarshalText implements encoding.TextMarshaler.
func (f Fraction) MarshalText() ([]byte, error) { return []byte(f.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (f *Fraction) UnmarshalText(input []byte) error {
	num, den, ok := strings.Cut(strings.TrimSpace(string(input)), "/")
	if !ok {
		return fmt.Errorf("%w: %q, want num/den", ErrInvalidFraction, input)
	}
	n, err := strconv.ParseUint(strings.TrimSpace(num), 10, 64)
	if err != nil {
		return fmt.Errorf("%w: numerator: %w", ErrInvalidFraction, err)
	}
	d, err := strconv.ParseUint(strings.TrimSpace(den), 10, 64)
	if err != nil {
		return fmt.Errorf("%w: denominator: %w", ErrInvalidFraction, err)
	}
	if d == 0 {
		return fmt.Errorf("%w: zero denominator", ErrInvalidFraction)
	}
	f.Num, f.Den = n, d
	return nil
}

// ChainConfig is the chain-spec configuration of the execution core. It is
// fixed at startup.
type ChainConfig struct {
	ChainID uint64

	// Base fee elasticity.
	GasTargetFraction            Fraction
	BaseFeeAdjustmentDenominator uint64
	MinBaseFee                   *uint256.Int
	MaxBaseFee                   *uint256.Int
	InitialBaseFee               *uint256.Int

	// MinGasPrice is a chain-wide price floor independent of the base fee.
	// When higher than the base fee it dominates.
	MinGasPrice *uint256.Int

	// Precompiles lists the enabled precompile names.
	Precompiles []string

	// TxLongevity is the number of blocks a validated call stays eligible.
	TxLongevity uint64

	BlockGasLimit uint64
}

// DefaultChainConfig returns the configuration used by dev chains and
// tests.
func DefaultChainConfig() *ChainConfig {
	return &ChainConfig{
		ChainID:                      42,
		GasTargetFraction:            Fraction{1, 2},
		BaseFeeAdjustmentDenominator: 8,
		MinBaseFee:                   uint256.NewInt(1),
		MaxBaseFee:                   uint256.NewInt(1_000_000_000_000_000),
		InitialBaseFee:               uint256.NewInt(1_000_000_000),
		MinGasPrice:                  new(uint256.Int),
		Precompiles:                  vm.DefaultPrecompiles(),
		TxLongevity:                  64,
		BlockGasLimit:                30_000_000,
	}
}

// Validate checks the configuration for internal consistency.
func (c *ChainConfig) Validate() error {
	switch {
	case c.ChainID == 0:
		return fmt.Errorf("%w: chain id must be non-zero", ErrInvalidChainConfig)
	case c.GasTargetFraction.Den == 0 || c.GasTargetFraction.Num == 0:
		return fmt.Errorf("%w: gas target fraction %s", ErrInvalidChainConfig, c.GasTargetFraction)
	case c.GasTargetFraction.Num > c.GasTargetFraction.Den:
		return fmt.Errorf("%w: gas target fraction %s exceeds 1", ErrInvalidChainConfig, c.GasTargetFraction)
	case c.BaseFeeAdjustmentDenominator == 0:
		return fmt.Errorf("%w: zero base fee adjustment denominator", ErrInvalidChainConfig)
	case c.MinBaseFee == nil || c.MaxBaseFee == nil || c.InitialBaseFee == nil:
		return fmt.Errorf("%w: base fee bounds must be set", ErrInvalidChainConfig)
	case c.MinBaseFee.Gt(c.MaxBaseFee):
		return fmt.Errorf("%w: min base fee %s above max %s", ErrInvalidChainConfig, c.MinBaseFee, c.MaxBaseFee)
	case c.BlockGasLimit < TxGas:
		return fmt.Errorf("%w: block gas limit %d below %d", ErrInvalidChainConfig, c.BlockGasLimit, TxGas)
	case c.TxLongevity == 0:
		return fmt.Errorf("%w: zero tx longevity", ErrInvalidChainConfig)
	}
	if _, err := vm.NewPrecompileTable(c.Precompiles); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidChainConfig, err)
	}
	return nil
}

// GasTarget returns the gas target for a block of the given capacity.
func (c *ChainConfig) GasTarget(capacity uint64) uint64 {
	return c.GasTargetFraction.Of(capacity)
}

// minGasPrice returns the configured floor, never nil.
func (c *ChainConfig) minGasPrice() *uint256.Int {
	if c.MinGasPrice == nil {
		return new(uint256.Int)
	}
	return c.MinGasPrice
}
