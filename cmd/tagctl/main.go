// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Tagctl is the operator tool for a running tagd: it lists, reads and
// writes tags, creates new ones, and streams changes in the relay
// format.
//
//	tagctl list tstat.
//	tagctl read tstat.SP.degC
//	tagctl set-value tstat.SP.degC 21.5
//	tagctl set-quality boiler.power.W BAD 12
//	tagctl create real64 tstat.PV.degC
//	tagctl relay -n timer.1sec tstat.PV.degC
package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/bureau-foundation/tagbus/lib/config"
	"github.com/bureau-foundation/tagbus/lib/logging"
	"github.com/bureau-foundation/tagbus/lib/process"
	"github.com/bureau-foundation/tagbus/lib/tag"
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
	return newRootCommand().ExecuteContext(ctx)
}

// rootOptions holds the global flags.
type rootOptions struct {
	configPath string
	socketPath string
	utc        bool
}

func newRootCommand() *cobra.Command {
	options := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "tagctl",
		Short:         "Inspect and modify tags on a running tagd",
		Version:       version.Info(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetVersionTemplate("tagctl {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&options.configPath, "config", "", "path to config file (default: $TAGBUS_CONFIG or built-in defaults)")
	cmd.PersistentFlags().StringVar(&options.socketPath, "socket", "", "tag service socket (default: from config)")
	cmd.PersistentFlags().BoolVar(&options.utc, "utc", false, "print timestamps in UTC instead of local time")

	cmd.AddCommand(newListCommand(options))
	cmd.AddCommand(newReadCommand(options))
	cmd.AddCommand(newSetValueCommand(options))
	cmd.AddCommand(newSetQualityCommand(options))
	cmd.AddCommand(newCreateCommand(options))
	cmd.AddCommand(newRelayCommand(options))

	return cmd
}

// connect dials the tag service named by --socket or the config.
func (o *rootOptions) connect(cmd *cobra.Command) (*tagservice.Client, error) {
	cfg, err := config.Resolve(o.configPath)
	if err != nil {
		return nil, err
	}
	socketPath := o.socketPath
	if socketPath == "" {
		socketPath = cfg.Store.Socket
	}
	logger, err := logging.New(logging.Options{
		Format:  cfg.Logging.Format,
		Level:   "warn",
		Journal: logging.JournalOff,
		Writer:  cmd.ErrOrStderr(),
	})
	if err != nil {
		return nil, err
	}
	client, err := tagservice.Dial(cmd.Context(), socketPath, logger)
	if err != nil {
		return nil, fmt.Errorf("connecting to tagd at %s: %w", socketPath, err)
	}
	return client, nil
}

func (o *rootOptions) location() *time.Location {
	if o.utc {
		return time.UTC
	}
	return time.Local
}

// current opens name and returns its handle with the stored record
// already consumed.
func current(ctx context.Context, client *tagservice.Client, name string) (tag.Handle, tag.Record, error) {
	handle, err := client.Open(ctx, name)
	if err != nil {
		return nil, tag.Record{}, err
	}
	record, err := handle.Read(ctx)
	if err != nil {
		handle.Close()
		return nil, tag.Record{}, err
	}
	return handle, record, nil
}
