// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Controlengine supervises the rule programs of a tag bus plant. It
// launches every rule-* program in the rules directory, drives the
// timer.<n>sec tags, and runs until master.on reads zero and every
// rule has exited.
//
// By default it detaches from the terminal and holds a pid lock so at
// most one engine runs per host:
//
//	controlengine /usr/libexec/tagbus/rules
//	controlengine --foreground --config /etc/tagbus/tagbus.yaml
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/tagbus/lib/config"
	"github.com/bureau-foundation/tagbus/lib/daemon"
	"github.com/bureau-foundation/tagbus/lib/logging"
	"github.com/bureau-foundation/tagbus/lib/process"
	"github.com/bureau-foundation/tagbus/lib/supervisor"
	"github.com/bureau-foundation/tagbus/lib/tagservice"
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
	var foreground, showVersion bool

	flagSet := pflag.NewFlagSet("controlengine", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to config file (default: $TAGBUS_CONFIG or built-in defaults)")
	flagSet.StringVar(&socketPath, "socket", "", "tag service socket (default: from config)")
	flagSet.BoolVar(&foreground, "foreground", false, "stay attached to the terminal instead of daemonizing")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")
	flagSet.SetOutput(stdout)
	flagSet.Usage = func() {
		fmt.Fprintf(stdout, "Usage: controlengine [flags] [rules-dir]\n\n")
		flagSet.PrintDefaults()
	}

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if showVersion {
		version.Fprint(stdout, "controlengine")
		return nil
	}
	if flagSet.NArg() > 1 {
		flagSet.Usage()
		return fmt.Errorf("expected at most one rules directory, got %d arguments", flagSet.NArg())
	}

	// The detached engine runs in /, so relative paths are resolved
	// before it starts.
	if configPath != "" {
		absolute, err := filepath.Abs(configPath)
		if err != nil {
			return err
		}
		configPath = absolute
	}
	cfg, err := config.Resolve(configPath)
	if err != nil {
		return err
	}
	if flagSet.NArg() == 1 {
		cfg.Engine.RulesDir = flagSet.Arg(0)
	}
	if cfg.Engine.RulesDir, err = filepath.Abs(cfg.Engine.RulesDir); err != nil {
		return err
	}
	if socketPath != "" {
		cfg.Store.Socket = socketPath
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	detached := daemon.Detached()
	loggingOptions := logging.Options{
		Format:  cfg.Logging.Format,
		Level:   cfg.Logging.Level,
		Journal: cfg.Logging.Journal,
	}
	if detached {
		terminal := false
		loggingOptions.Terminal = &terminal
	}
	logger, err := logging.New(loggingOptions)
	if err != nil {
		return err
	}

	client, err := tagservice.Dial(ctx, cfg.Store.Socket, logger)
	if err != nil {
		return fmt.Errorf("connecting to tag service: %w", err)
	}
	defer client.Close()

	maxWait, err := cfg.Engine.MaxWaitDuration()
	if err != nil {
		return err
	}
	restart, err := supervisor.RestartPolicyFromConfig(cfg.Engine.Restart)
	if err != nil {
		return err
	}
	engine, err := supervisor.New(supervisor.Config{
		Directory:  client,
		RulesDir:   cfg.Engine.RulesDir,
		RulePrefix: cfg.Engine.RulePrefix,
		ScriptHost: cfg.Engine.ScriptHost,
		MaxWait:    maxWait,
		Restart:    restart,
		Launcher:   supervisor.ExecLauncher{Env: ruleEnvironment(cfg.Store.Socket, configPath)},
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	if err := engine.Prepare(ctx); err != nil {
		return err
	}

	if !foreground && !detached {
		pid, err := daemon.Detach(childArgs(configPath, cfg))
		if err != nil {
			return fmt.Errorf("daemonizing: %w", err)
		}
		fmt.Fprintf(stdout, "controlengine running as pid %d\n", pid)
		return nil
	}

	lock, err := daemon.AcquireLock(cfg.Engine.LockFile)
	if err != nil {
		return err
	}
	defer lock.Release()
	engine.MarkDaemonized()
	logger.Info("control engine started",
		"pid", os.Getpid(),
		"lock_file", lock.Path(),
		"version", version.Info(),
	)

	if err := engine.Run(ctx); err != nil {
		if ctx.Err() != nil {
			logger.Info("control engine interrupted")
			return nil
		}
		return err
	}
	return nil
}

// childArgs are the arguments of the detached engine.
func childArgs(configPath string, cfg *config.Config) []string {
	args := []string{"--socket", cfg.Store.Socket}
	if configPath != "" {
		args = append(args, "--config", configPath)
	}
	return append(args, cfg.Engine.RulesDir)
}

// ruleEnvironment is the environment rules start with: empty unless the
// engine was pointed at a non-default socket or config file, which the
// rules then need too.
func ruleEnvironment(socketPath, configPath string) []string {
	env := []string{}
	if socketPath != tagservice.DefaultSocketPath {
		env = append(env, tagservice.SocketEnv+"="+socketPath)
	}
	if configPath == "" {
		configPath = os.Getenv(config.EnvVar)
	}
	if configPath != "" {
		env = append(env, config.EnvVar+"="+configPath)
	}
	return env
}
