// Copyright 2024 The glimpse Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Command glimpse inserts into and queries glimpse search stores.
//
//	glimpse [flags] insert <store> <key> [payload]
//	glimpse [flags] get <store> <query>
//	glimpse [flags] import <store> <file>...
//	glimpse [flags] stat <store>
//	glimpse [flags] reset <store>
//	glimpse [flags] bias <item>
//	glimpse [flags] wait <store>
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"golang.org/x/sync/errgroup"

	"github.com/bpowers/glimpse"
	"github.com/bpowers/glimpse/internal/arena"
)

const biasStore = "biases"

func main() {
	if err := mainImpl(); err != nil {
		fmt.Fprintf(os.Stderr, "glimpse: %v\n", err)
		os.Exit(1)
	}
}

func mainImpl() error {
	configPath := flag.String("config", "", "YAML config file")
	dir := flag.String("dir", "", "directory holding the stores (overrides the config file)")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	wait := flag.Bool("wait", false, "wait for a locked store instead of failing")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: glimpse [flags] insert|get|import|stat|reset|bias|wait args...\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ll := &slog.LevelVar{}
	switch *logLevel {
	case "debug":
		ll.Set(slog.LevelDebug)
	case "info":
	case "warn":
		ll.Set(slog.LevelWarn)
	case "error":
		ll.Set(slog.LevelError)
	default:
		return fmt.Errorf("unknown log level: %q", *logLevel)
	}
	logger := slog.New(tint.NewHandler(colorable.NewColorable(os.Stderr), &tint.Options{
		Level:      ll,
		TimeFormat: "15:04:05.000",
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
	}))
	slog.SetDefault(logger)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if *dir != "" {
		cfg.Dir = *dir
	}

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		return errors.New("missing command")
	}

	c := &cli{
		cfg:    cfg,
		logger: logger,
		locks:  glimpse.NewLockManager(logger),
		wait:   *wait,
	}
	defer func() {
		if c.biases != nil {
			if err := c.biases.Close(); err != nil {
				logger.Warn("closing biases", "err", err)
			}
		}
		if err := c.locks.ReleaseAll(); err != nil {
			logger.Warn("releasing locks", "err", err)
		}
	}()

	cmd, args := args[0], args[1:]
	switch cmd {
	case "insert":
		return c.insert(ctx, args)
	case "get":
		return c.get(ctx, args)
	case "import":
		return c.importFiles(ctx, args)
	case "stat":
		return c.stat(ctx, args)
	case "reset":
		return c.reset(args)
	case "bias":
		return c.bias(args)
	case "wait":
		return c.waitFor(ctx, args)
	default:
		flag.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

type cli struct {
	cfg    config
	logger *slog.Logger
	locks  *glimpse.LockManager
	wait   bool
	biases *glimpse.Biases
}

func (c *cli) open(ctx context.Context, name string, flags glimpse.AccessFlags) (*glimpse.Index, error) {
	path := c.cfg.storePath(name)
	if c.wait {
		if err := c.locks.Wait(ctx, path, c.cfg.LockTimeout); err != nil {
			return nil, err
		}
	}
	opts := []glimpse.Option{
		glimpse.WithLogger(c.logger),
		glimpse.WithLockManager(c.locks),
		glimpse.WithMaxResults(c.cfg.MaxResults),
	}
	if flags&glimpse.Write == 0 {
		biases, err := openExistingBiases(c.cfg.storePath(biasStore), c.logger)
		if err != nil {
			c.logger.Warn("ignoring biases", "err", err)
		} else if biases != nil {
			c.biases = biases
			opts = append(opts, glimpse.WithBiases(biases))
		}
	}
	return glimpse.Open(path, flags, opts...)
}

func (c *cli) openBiases() (*glimpse.Biases, error) {
	return glimpse.OpenBiases(c.cfg.storePath(biasStore), glimpse.WithLogger(c.logger))
}

// openExistingBiases opens the bias store at path for a query, returning
// nil if nothing has been biased yet.  Reads never create stores.
func openExistingBiases(path string, logger *slog.Logger) (*glimpse.Biases, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		logger.Debug("no biases yet", "path", path)
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("os.Stat(%s): %w", path, err)
	}
	return glimpse.OpenBiases(path, glimpse.WithLogger(logger))
}

func closeIndex(idx *glimpse.Index, err *error) {
	*err = errors.Join(*err, idx.Close())
}

func (c *cli) insert(ctx context.Context, args []string) (err error) {
	if len(args) < 2 || len(args) > 3 {
		return errors.New("usage: insert <store> <key> [payload]")
	}
	idx, err := c.open(ctx, args[0], glimpse.Read|glimpse.Write)
	if err != nil {
		return err
	}
	defer closeIndex(idx, &err)

	var payload string
	if len(args) == 3 {
		payload = args[2]
	}
	return idx.Insert(args[1], payload)
}

func (c *cli) get(ctx context.Context, args []string) (err error) {
	if len(args) != 2 {
		return errors.New("usage: get <store> <query>")
	}
	identity, err := c.cfg.identity()
	if err != nil {
		return err
	}
	idx, err := c.open(ctx, args[0], glimpse.Read)
	if err != nil {
		return err
	}
	defer closeIndex(idx, &err)

	for _, r := range idx.Get(args[1], identity) {
		fmt.Printf("%6.3f\t%s\n", r.Score, r.Payload)
	}
	return nil
}

// importFiles reads the input files in parallel.  Inserts are serialized
// by the index itself.
func (c *cli) importFiles(ctx context.Context, args []string) (err error) {
	if len(args) < 2 {
		return errors.New("usage: import <store> <file>...")
	}
	idx, err := c.open(ctx, args[0], glimpse.Read|glimpse.Write)
	if err != nil {
		return err
	}
	defer closeIndex(idx, &err)

	start := time.Now()
	counts := make([]int, len(args)-1)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.ImportJobs)
	for i, path := range args[1:] {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			f, err := os.Open(path)
			if err != nil {
				return err
			}
			defer func() {
				_ = f.Close()
			}()
			n, err := idx.Import(f)
			counts[i] = n
			if err != nil {
				return fmt.Errorf("import %s: %w", path, err)
			}
			return nil
		})
	}
	err = g.Wait()

	total := 0
	for _, n := range counts {
		total += n
	}
	c.logger.Info("import finished",
		"store", args[0],
		"files", len(args)-1,
		"entries", total,
		"bytes", idx.Size(),
		"elapsed", time.Since(start))
	return err
}

func (c *cli) stat(ctx context.Context, args []string) (err error) {
	if len(args) != 1 {
		return errors.New("usage: stat <store>")
	}
	path := c.cfg.storePath(args[0])
	idx, err := c.open(ctx, args[0], glimpse.Read)
	if err != nil {
		return err
	}
	defer closeIndex(idx, &err)

	fmt.Printf("path:\t%s\n", path)
	fmt.Printf("meta:\t%s\n", arena.MetaPath(path))
	fmt.Printf("size:\t%d\n", idx.Size())
	fmt.Printf("locked:\t%t\n", c.locks.IsLocked(path))
	return nil
}

func (c *cli) reset(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: reset <store>")
	}
	path := c.cfg.storePath(args[0])
	if err := glimpse.Reset(path); err != nil {
		return err
	}
	c.logger.Info("store reset", "path", path)
	return nil
}

func (c *cli) bias(args []string) (err error) {
	if len(args) != 1 {
		return errors.New("usage: bias <item>")
	}
	identity, err := c.cfg.identity()
	if err != nil {
		return err
	}
	biases, err := c.openBiases()
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, biases.Close())
	}()

	// scores look biases up by the lowercased candidate
	id := identity(strings.ToLower(args[0]))
	v, err := biases.Increment(id, c.cfg.BiasStep)
	if err != nil {
		return err
	}
	c.logger.Info("bias incremented", "item", args[0], "id", id, "bias", v)
	return nil
}

func (c *cli) waitFor(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: wait <store>")
	}
	return c.locks.Wait(ctx, c.cfg.storePath(args[0]), c.cfg.LockTimeout)
}
