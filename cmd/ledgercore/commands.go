package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
	"github.com/urfave/cli/v2"

	"github.com/eth2030/ledgercore/core"
	"github.com/eth2030/ledgercore/core/types"
	"github.com/eth2030/ledgercore/log"
	"github.com/eth2030/ledgercore/mapping"
	"github.com/eth2030/ledgercore/node"
)

var (
	blockTimeFlag = &cli.DurationFlag{
		Name:  "blocktime",
		Usage: "Interval between produced blocks",
		Value: 2 * time.Second,
	}
	txsFileFlag = &cli.StringFlag{
		Name:     "txs",
		Usage:    "File of hex-encoded raw calls, one per line",
		Required: true,
	}
	feedFlag = &cli.StringFlag{
		Name:  "feed",
		Usage: "File of hex-encoded raw calls to submit while running, one per line (\"-\" for stdin)",
	}
	maxBlocksFlag = &cli.IntFlag{
		Name:  "blocks",
		Usage: "Maximum number of blocks to produce",
		Value: 16,
	}

	runCommand = &cli.Command{
		Name:   "run",
		Usage:  "Produce blocks from submitted calls until interrupted",
		Flags:  []cli.Flag{blockTimeFlag, feedFlag},
		Action: runNode,
	}
	replayCommand = &cli.Command{
		Name:   "replay",
		Usage:  "Execute a file of raw calls into blocks and print receipts",
		Flags:  []cli.Flag{txsFileFlag, maxBlocksFlag},
		Action: replay,
	}
	decodeCommand = &cli.Command{
		Name:      "decode",
		Usage:     "Decode a raw call and print its fields",
		ArgsUsage: "<hex>",
		Action:    decode,
	}
	inspectCommand = &cli.Command{
		Name:   "inspect",
		Usage:  "Print the mapping database of a data directory",
		Action: inspect,
	}
	dumpConfigCommand = &cli.Command{
		Name:        "dumpconfig",
		Usage:       "Show configuration values",
		Description: `The dumpconfig command shows configuration values.`,
		Action:      dumpConfig,
	}
)

func runNode(ctx *cli.Context) error {
	cfg, err := makeConfig(ctx)
	if err != nil {
		return err
	}
	n, err := node.New(cfg)
	if err != nil {
		return err
	}
	if err := n.Start(); err != nil {
		n.Stop()
		return err
	}
	defer n.Stop()

	sigctx, stop := signal.NotifyContext(ctx.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := log.Default().Module("cmd")
	if path := ctx.String(feedFlag.Name); path != "" {
		r := ctx.App.Reader
		if path != "-" {
			f, err := os.Open(path)
			if err != nil {
				return err
			}
			defer f.Close()
			r = f
		}
		go func() {
			count, err := feedCalls(sigctx, r, n.SubmitRawTransaction)
			if err != nil {
				logger.Error("call feed stopped", "submitted", count, "err", err)
				return
			}
			logger.Info("call feed drained", "submitted", count)
		}()
	}

	ticker := time.NewTicker(ctx.Duration(blockTimeFlag.Name))
	defer ticker.Stop()
	for {
		select {
		case <-sigctx.Done():
			logger.Info("shutting down")
			return nil
		case <-ticker.C:
		}
		res, err := n.ProduceBlock(sigctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		if err != nil {
			return err
		}
		logger.Info("block produced", "number", res.Block.Number(), "hash", res.Block.Hash(),
			"calls", len(res.Receipts), "skipped", len(res.Skipped), "gasUsed", res.GasUsed, "nextBaseFee", res.NextBaseFee)
	}
}

// scanRawCalls calls fn with each hex-encoded call read from r, skipping
// blank lines and lines starting with '#'. Errors carry the line number.
func scanRawCalls(r io.Reader, fn func(line int, raw []byte) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for line := 1; scanner.Scan(); line++ {
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		raw, err := hexutil.Decode(text)
		if err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		if err := fn(line, raw); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// readRawCalls reads every call in the file at path.
func readRawCalls(path string) ([][]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var raws [][]byte
	err = scanRawCalls(f, func(_ int, raw []byte) error {
		raws = append(raws, raw)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return raws, nil
}

// feedCalls submits calls read from r until r is drained or ctx is done.
// Rejected calls are logged and skipped. It returns the number of calls
// accepted.
func feedCalls(ctx context.Context, r io.Reader, submit func([]byte) (types.Hash, error)) (int, error) {
	logger := log.Default().Module("cmd")
	var accepted int
	err := scanRawCalls(r, func(line int, raw []byte) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		hash, err := submit(raw)
		if err != nil {
			logger.Warn("call rejected", "line", line, "class", core.Classify(err), "err", err)
			return nil
		}
		logger.Debug("call submitted", "line", line, "hash", hash)
		accepted++
		return nil
	})
	return accepted, err
}

func replay(ctx *cli.Context) error {
	cfg, err := makeConfig(ctx)
	if err != nil {
		return err
	}
	raws, err := readRawCalls(ctx.String(txsFileFlag.Name))
	if err != nil {
		return err
	}
	n, err := node.New(cfg)
	if err != nil {
		return err
	}
	defer n.Stop()

	w := ctx.App.Writer
	results, err := n.SubmitRawTransactions(ctx.Context, raws)
	if err != nil {
		return err
	}
	for i, r := range results {
		if r.Err != nil {
			fmt.Fprintf(w, "rejected %d: class=%s err=%v\n", i, core.Classify(r.Err), r.Err)
		}
	}

	for range ctx.Int(maxBlocksFlag.Name) {
		if n.TxPool().Count() == 0 {
			break
		}
		res, err := n.ProduceBlock(ctx.Context)
		if err != nil {
			return err
		}
		printBlock(w, res)
	}
	if left := n.TxPool().Count(); left > 0 {
		fmt.Fprintf(w, "pending %d\n", left)
	}
	return nil
}

func printBlock(w io.Writer, res *core.BlockResult) {
	b := res.Block
	fmt.Fprintf(w, "block %d hash=%s eth=%s gasUsed=%d burnt=%s nextBaseFee=%s\n",
		b.Number(), b.Hash(), b.EthHash(), res.GasUsed, res.BurntFees, res.NextBaseFee)
	for _, r := range res.Receipts {
		fmt.Fprintf(w, "  tx %s from=%s status=%d gasUsed=%d price=%s",
			r.TxHash, r.From, r.Status, r.GasUsed, r.EffectiveGasPrice)
		if r.ContractAddress != (types.Address{}) {
			fmt.Fprintf(w, " contract=%s", r.ContractAddress)
		}
		fmt.Fprintln(w)
	}
	for _, s := range res.Skipped {
		fmt.Fprintf(w, "  skipped %s nonce=%d reason=%v\n", s.Hash, s.Nonce, s.Reason)
	}
}

func decode(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return fmt.Errorf("expected one hex argument, got %d", ctx.NArg())
	}
	raw, err := hexutil.Decode(strings.TrimSpace(ctx.Args().First()))
	if err != nil {
		return err
	}
	call, err := core.DecodeDispatchable(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", core.Classify(err), err)
	}

	w := ctx.App.Writer
	ext := call.Extrinsic()
	fmt.Fprintf(w, "hash:     %s\n", call.Hash())
	fmt.Fprintf(w, "origin:   %s\n", call.Origin())
	fmt.Fprintf(w, "nonce:    %d\n", call.Nonce())
	fmt.Fprintf(w, "gas:      %d\n", call.GasLimit())
	if tx := ext.Tx; tx != nil {
		fmt.Fprintf(w, "kind:     ethereum (type %d)\n", tx.Type())
		fmt.Fprintf(w, "chainId:  %d\n", tx.ChainID())
		if to := tx.To(); to != nil {
			fmt.Fprintf(w, "to:       %s\n", *to)
		} else {
			fmt.Fprintf(w, "to:       (create)\n")
		}
		fmt.Fprintf(w, "value:    %s\n", tx.Value())
		fmt.Fprintf(w, "feeCap:   %s\n", tx.GasFeeCap())
		fmt.Fprintf(w, "tipCap:   %s\n", tx.GasTipCap())
		fmt.Fprintf(w, "data:     %d bytes\n", len(tx.Data()))
		return nil
	}
	nc := ext.Native
	fmt.Fprintf(w, "kind:     native (%s)\n", nc.Function)
	fmt.Fprintf(w, "to:       %s\n", nc.Dest)
	fmt.Fprintf(w, "value:    %s\n", orZero(nc.Value))
	fmt.Fprintf(w, "tip:      %s\n", orZero(nc.Tip))
	fmt.Fprintf(w, "data:     %d bytes\n", len(nc.Data))
	return nil
}

func orZero(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return v
}

func inspect(ctx *cli.Context) error {
	cfg, err := makeConfig(ctx)
	if err != nil {
		return err
	}
	if cfg.DataDir == "" {
		return errors.New("inspect needs a data directory")
	}
	path := cfg.ResolvePath("mapping")
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("no mapping database in %s: %w", filepath.Clean(cfg.DataDir), err)
	}
	db, err := mapping.Open(path)
	if err != nil {
		return err
	}
	defer db.Close()

	w := ctx.App.Writer
	last, err := db.LastSyncedBlock()
	if err != nil {
		return err
	}
	if last == nil {
		fmt.Fprintln(w, "last synced: none")
	} else {
		fmt.Fprintf(w, "last synced: %d %s\n", last.Number, last.Hash)
	}
	tips, err := db.CurrentSyncingTips()
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "syncing tips: %d\n", len(tips))
	for _, tip := range tips {
		fmt.Fprintf(w, "  %s\n", tip)
	}
	fee, err := db.ReadBaseFee()
	if err != nil {
		return err
	}
	if fee == nil {
		fmt.Fprintln(w, "base fee: unset")
	} else {
		fmt.Fprintf(w, "base fee: %s at height %d\n", fee.BaseFee, fee.Height)
	}
	return nil
}

func dumpConfig(ctx *cli.Context) error {
	cfg, err := makeConfig(ctx)
	if err != nil {
		return err
	}
	return node.DumpConfig(ctx.App.Writer, cfg)
}
