// Package node wires the execution core into a runnable unit: chain
// configuration, fee persistence, the transaction pool, block production
// and the Ethereum mapping sync.
package node

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"time"

	"github.com/naoina/toml"

	"github.com/eth2030/ledgercore/core"
	"github.com/eth2030/ledgercore/core/types"
	"github.com/eth2030/ledgercore/txpool"
)

// State backends.
const (
	BackendMemory = "memory" // native interpreter over the in-memory state
	BackendEVM    = "evm"    // go-ethereum EVM over a trie-backed state
)

// Config holds all configuration for a node.
type Config struct {
	// DataDir is the root directory for persistent data. Empty keeps
	// everything in memory.
	DataDir string

	// LogLevel controls log verbosity (debug, info, warn, error).
	LogLevel string

	// Backend selects the state and interpreter implementation.
	Backend string

	// Author receives the priority fees of produced blocks.
	Author types.Address

	// SyncInterval is how often the mapping worker polls the chain.
	SyncInterval time.Duration

	// SyncLimit bounds the blocks mapped per sync round.
	SyncLimit int

	Chain   *core.ChainConfig
	Pool    txpool.Config
	Genesis *core.Genesis
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		LogLevel:     "info",
		Backend:      BackendMemory,
		SyncInterval: time.Second,
		SyncLimit:    64,
		Chain:        core.DefaultChainConfig(),
		Pool:         txpool.DefaultConfig(),
		Genesis:      &core.Genesis{},
	}
}

// Validate checks configuration values for correctness.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendMemory, BackendEVM:
	default:
		return fmt.Errorf("config: unknown backend %q", c.Backend)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log level %q", c.LogLevel)
	}
	if c.SyncInterval <= 0 {
		return fmt.Errorf("config: invalid sync interval: %s", c.SyncInterval)
	}
	if c.SyncLimit <= 0 {
		return fmt.Errorf("config: invalid sync limit: %d", c.SyncLimit)
	}
	if c.Chain == nil {
		return errors.New("config: chain config must be set")
	}
	if err := c.Chain.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.Pool.MaxSize <= 0 || c.Pool.MaxPerSender <= 0 {
		return fmt.Errorf("config: invalid pool limits: size %d, per sender %d", c.Pool.MaxSize, c.Pool.MaxPerSender)
	}
	if c.Genesis == nil {
		return errors.New("config: genesis must be set")
	}
	return nil
}

// ResolvePath returns an absolute path within the data directory, or ""
// when the node runs in memory.
func (c *Config) ResolvePath(path string) string {
	if c.DataDir == "" {
		return ""
	}
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.DataDir, path)
}

// These settings ensure that TOML keys use the same names as Go struct fields.
var tomlSettings = toml.Config{
	NormFieldName: func(rt reflect.Type, key string) string {
		return key
	},
	FieldToKey: func(rt reflect.Type, field string) string {
		return field
	},
	MissingField: func(rt reflect.Type, field string) error {
		return fmt.Errorf("field '%s' is not defined in %s", field, rt.String())
	},
}

// LoadConfig reads a TOML file over cfg. Keys absent from the file keep
// their current values.
func LoadConfig(file string, cfg *Config) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()

	err = tomlSettings.NewDecoder(bufio.NewReader(f)).Decode(cfg)
	// Add file name to errors that have a line number.
	if _, ok := err.(*toml.LineError); ok {
		err = errors.New(file + ", " + err.Error())
	}
	return err
}

// DumpConfig writes cfg as TOML.
func DumpConfig(w io.Writer, cfg *Config) error {
	out, err := tomlSettings.Marshal(cfg)
	if err != nil {
		return err
	}
	_, err = w.Write(out)
	return err
}
