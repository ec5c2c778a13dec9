// Command ledgercore runs and inspects the transaction execution core.
//
// Usage:
//
//	ledgercore [global flags] <command> [flags]
//
// Commands:
//
//	run         Produce blocks from submitted calls until interrupted
//	replay      Execute a file of raw calls into blocks and print receipts
//	decode      Decode a raw call and print its fields
//	inspect     Print the mapping database of a data directory
//	dumpconfig  Print the resolved configuration as TOML
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/eth2030/ledgercore/log"
	"github.com/eth2030/ledgercore/node"
)

// Build-time version info, overridable with ldflags:
//
//	go build -ldflags "-X main.version=v0.2.0 -X main.commit=abc1234"
var (
	version = "v0.1.0-dev"
	commit  = "unknown"
)

var (
	configFileFlag = &cli.StringFlag{
		Name:  "config",
		Usage: "TOML configuration file",
	}
	dataDirFlag = &cli.StringFlag{
		Name:  "datadir",
		Usage: "Data directory for persistent state (empty keeps everything in memory)",
	}
	logLevelFlag = &cli.StringFlag{
		Name:  "loglevel",
		Usage: "Log level: debug, info, warn, error",
	}
	backendFlag = &cli.StringFlag{
		Name:  "backend",
		Usage: "Execution backend: memory, evm",
	}
)

func main() {
	os.Exit(run(os.Args, os.Stdout, os.Stderr))
}

// run is the actual entry point, returning an exit code. It takes the full
// argument vector so it can be tested in isolation.
func run(args []string, stdout, stderr io.Writer) int {
	if err := newApp(stdout, stderr).Run(args); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func newApp(stdout, stderr io.Writer) *cli.App {
	return &cli.App{
		Name:      "ledgercore",
		Usage:     "transaction execution core",
		Version:   fmt.Sprintf("%s (commit %s)", version, commit),
		Writer:    stdout,
		ErrWriter: stderr,
		Flags:     []cli.Flag{configFileFlag, dataDirFlag, logLevelFlag, backendFlag},
		Commands: []*cli.Command{
			runCommand,
			replayCommand,
			decodeCommand,
			inspectCommand,
			dumpConfigCommand,
		},
	}
}

// makeConfig loads the configuration file, applies flags over it and sets
// up logging at the resolved level.
func makeConfig(ctx *cli.Context) (*node.Config, error) {
	cfg := node.DefaultConfig()
	if file := ctx.String(configFileFlag.Name); file != "" {
		if err := node.LoadConfig(file, &cfg); err != nil {
			return nil, err
		}
	}
	if ctx.IsSet(dataDirFlag.Name) {
		cfg.DataDir = ctx.String(dataDirFlag.Name)
	}
	if ctx.IsSet(logLevelFlag.Name) {
		cfg.LogLevel = ctx.String(logLevelFlag.Name)
	}
	if ctx.IsSet(backendFlag.Name) {
		cfg.Backend = ctx.String(backendFlag.Name)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.SetDefault(log.NewText(ctx.App.ErrWriter, log.ParseLevel(cfg.LogLevel)))
	return &cfg, nil
}
