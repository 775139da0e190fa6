// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package rule

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/tagbus/lib/config"
	"github.com/bureau-foundation/tagbus/lib/logging"
	"github.com/bureau-foundation/tagbus/lib/tagservice"
	"github.com/bureau-foundation/tagbus/lib/version"
)

// Main runs a compiled rule as a process: it parses os.Args, connects
// to the tag service and calls Run until the kill-switch clears or a
// SIGINT or SIGTERM arrives. Rule binaries call it from main:
//
//	func main() {
//		if err := rule.Main(declaration, &thermostat{}); err != nil {
//			process.Fatal(err)
//		}
//	}
//
// The supervisor starts rules with no arguments and an empty
// environment, so every flag has a working default.
func Main(decl Declaration, r Rule) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return mainArgs(ctx, os.Args[1:], os.Stdout, decl, r)
}

func mainArgs(ctx context.Context, args []string, stdout io.Writer, decl Declaration, r Rule) error {
	var configPath, socketPath string
	var showVersion bool

	flagSet := pflag.NewFlagSet(decl.Name, pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to config file (default: $TAGBUS_CONFIG or built-in defaults)")
	flagSet.StringVar(&socketPath, "socket", "", "tag service socket (default: from config)")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")
	flagSet.SetOutput(stdout)
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if showVersion {
		version.Fprint(stdout, decl.Name)
		return nil
	}
	if flagSet.NArg() > 0 {
		return fmt.Errorf("unexpected argument: %s", flagSet.Arg(0))
	}

	return RunService(ctx, ServiceOptions{ConfigPath: configPath, SocketPath: socketPath}, decl, r)
}

// ServiceOptions locates the tag service for RunService.
type ServiceOptions struct {
	// ConfigPath is the --config value; empty falls back to
	// TAGBUS_CONFIG and then the built-in defaults.
	ConfigPath string

	// SocketPath overrides the configured socket.
	SocketPath string
}

// RunService loads the configuration, builds the logger, connects to
// the tag service and runs r. Cancellation of ctx is a clean stop and
// returns nil.
func RunService(ctx context.Context, options ServiceOptions, decl Declaration, r Rule) error {
	cfg, err := config.Resolve(options.ConfigPath)
	if err != nil {
		return err
	}
	socketPath := options.SocketPath
	if socketPath == "" {
		socketPath = cfg.Store.Socket
	}
	logger, err := logging.New(logging.Options{
		Format:  cfg.Logging.Format,
		Level:   cfg.Logging.Level,
		Journal: cfg.Logging.Journal,
	})
	if err != nil {
		return err
	}

	client, err := tagservice.Dial(ctx, socketPath, logger)
	if err != nil {
		return fmt.Errorf("connecting to tag service: %w", err)
	}
	defer client.Close()

	err = Run(ctx, client, decl, r, Options{Logger: logger})
	if ctx.Err() != nil {
		logger.Info("rule interrupted", "rule", decl.Name)
		return nil
	}
	return err
}
