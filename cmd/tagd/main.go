// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Tagd hosts the tag store. It creates the configured static tags
// (master.on, timer tags and any plant tags), serves the registry on a
// Unix socket, and optionally mirrors tag changes into Redis.
//
//	tagd --config /etc/tagbus/tagbus.yaml
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/tagbus/lib/clock"
	"github.com/bureau-foundation/tagbus/lib/config"
	"github.com/bureau-foundation/tagbus/lib/logging"
	"github.com/bureau-foundation/tagbus/lib/mirror"
	"github.com/bureau-foundation/tagbus/lib/process"
	"github.com/bureau-foundation/tagbus/lib/tagservice"
	"github.com/bureau-foundation/tagbus/lib/tagstore"
	"github.com/bureau-foundation/tagbus/lib/version"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return runArgs(ctx, os.Args[1:], os.Stdout)
}

func runArgs(ctx context.Context, args []string, stdout io.Writer) error {
	var configPath, socketPath string
	var showVersion bool

	flagSet := pflag.NewFlagSet("tagd", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to config file (default: $TAGBUS_CONFIG or built-in defaults)")
	flagSet.StringVar(&socketPath, "socket", "", "socket to listen on (default: from config)")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")
	flagSet.SetOutput(stdout)

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if showVersion {
		version.Fprint(stdout, "tagd")
		return nil
	}
	if flagSet.NArg() > 0 {
		return fmt.Errorf("unexpected argument: %s", flagSet.Arg(0))
	}

	cfg, err := config.Resolve(configPath)
	if err != nil {
		return err
	}
	if socketPath != "" {
		cfg.Store.Socket = socketPath
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := logging.New(logging.Options{
		Format:  cfg.Logging.Format,
		Level:   cfg.Logging.Level,
		Journal: cfg.Logging.Journal,
	})
	if err != nil {
		return err
	}

	store := tagstore.New(cfg.Store.Capacity, clock.Real())
	if err := seedStore(ctx, store, cfg.Store.Tags); err != nil {
		return err
	}
	logger.Info("static tags created", "count", store.Len(), "capacity", store.Capacity())

	if err := os.MkdirAll(filepath.Dir(cfg.Store.Socket), 0755); err != nil {
		return fmt.Errorf("creating socket directory: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	var mirrorErr error
	if cfg.Mirror.URL != "" {
		tagMirror, err := startMirror(ctx, cfg.Mirror, logger)
		if err != nil {
			return err
		}
		defer tagMirror.Close()
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := tagMirror.Run(ctx, store, cfg.Mirror.Tags, clock.Real()); err != nil {
				mirrorErr = fmt.Errorf("redis mirror: %w", err)
				logger.Error("redis mirror stopped", "error", err)
				cancel()
			}
		}()
	}

	server := tagservice.NewServer(cfg.Store.Socket, store, logger)
	logger.Info("tagd started", "pid", os.Getpid(), "version", version.Info())
	serveErr := server.Serve(ctx)
	cancel()
	wg.Wait()
	if serveErr != nil {
		return serveErr
	}
	if mirrorErr != nil {
		return mirrorErr
	}
	logger.Info("tagd stopped")
	return nil
}

// seedStore creates each static tag in order and writes its initial
// record when one is configured.
func seedStore(ctx context.Context, store *tagstore.Store, tags []config.StaticTag) error {
	for _, static := range tags {
		initial, err := static.Initial()
		if err != nil {
			return err
		}
		if _, err := store.Create(static.Name, initial.DType); err != nil {
			return fmt.Errorf("creating tag %s: %w", static.Name, err)
		}
		if initial.Record == nil {
			continue
		}
		handle, err := store.OpenHandle(static.Name)
		if err != nil {
			return err
		}
		err = handle.Write(ctx, *initial.Record)
		handle.Close()
		if err != nil {
			return fmt.Errorf("initializing tag %s: %w", static.Name, err)
		}
	}
	return nil
}

func startMirror(ctx context.Context, cfg config.MirrorConfig, logger *slog.Logger) (*mirror.Mirror, error) {
	tagMirror, err := mirror.Dial(cfg.URL, cfg.Instance, logger)
	if err != nil {
		return nil, err
	}
	if err := tagMirror.Ping(ctx); err != nil {
		tagMirror.Close()
		return nil, fmt.Errorf("connecting to redis mirror: %w", err)
	}
	logger.Info("redis mirror enabled", "instance", cfg.Instance, "tags", len(cfg.Tags))
	return tagMirror, nil
}
