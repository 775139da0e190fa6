// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Rulehost runs one Starlark rule script against the tag bus. The
// control engine starts it for every rule-*.star file it discovers:
//
//	rulehost /usr/libexec/tagbus/rules/rule-example.star
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/tagbus/lib/process"
	"github.com/bureau-foundation/tagbus/lib/rule"
	"github.com/bureau-foundation/tagbus/lib/rulescript"
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
	var check, showVersion bool

	flagSet := pflag.NewFlagSet("rulehost", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to config file (default: $TAGBUS_CONFIG or built-in defaults)")
	flagSet.StringVar(&socketPath, "socket", "", "tag service socket (default: from config)")
	flagSet.BoolVar(&check, "check", false, "load and validate the script, print its declaration, and exit")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")
	flagSet.SetOutput(stdout)
	flagSet.Usage = func() {
		fmt.Fprintf(stdout, "Usage: rulehost [flags] <script%s>\n\n", rulescript.Extension)
		flagSet.PrintDefaults()
	}

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if showVersion {
		version.Fprint(stdout, "rulehost")
		return nil
	}
	if flagSet.NArg() != 1 {
		flagSet.Usage()
		return fmt.Errorf("expected exactly one script path, got %d arguments", flagSet.NArg())
	}

	script, err := rulescript.LoadFile(flagSet.Arg(0))
	if err != nil {
		return err
	}
	decl := script.Declaration()
	if check {
		fmt.Fprintf(stdout, "%s: trigger %s\n", decl.Name, decl.Trigger)
		for _, binding := range decl.Bindings {
			fmt.Fprintf(stdout, "  %-12s %c %-9s %s\n", binding.Local, byte(binding.Mode), binding.DType, binding.Tag)
		}
		return nil
	}

	return rule.RunService(ctx, rule.ServiceOptions{ConfigPath: configPath, SocketPath: socketPath}, decl, script)
}
