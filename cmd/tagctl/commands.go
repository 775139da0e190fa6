// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bureau-foundation/tagbus/lib/relay"
	"github.com/bureau-foundation/tagbus/lib/tag"
)

func newListCommand(options *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list [prefix]",
		Short: "List tags, sorted by name",
		Long: `List every registered tag with its data type, sorted by name.
With a prefix, only tags whose names begin with it are listed.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := options.connect(cmd)
			if err != nil {
				return err
			}
			defer client.Close()

			infos, err := client.List(cmd.Context())
			if err != nil {
				return err
			}
			prefix := ""
			if len(args) == 1 {
				prefix = args[0]
			}
			var matched []tag.Info
			for _, info := range infos {
				if strings.HasPrefix(info.Name, prefix) {
					matched = append(matched, info)
				}
			}
			sort.Slice(matched, func(i, j int) bool { return matched[i].Name < matched[j].Name })

			width := len(strconv.Itoa(len(matched)))
			out := cmd.OutOrStdout()
			for i, info := range matched {
				fmt.Fprintf(out, "  %*d)  %-9s  %s\n", width, i+1, info.DType, info.Name)
			}
			return nil
		},
	}
}

func newReadCommand(options *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "read <tag>",
		Short: "Print a tag's current record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := options.connect(cmd)
			if err != nil {
				return err
			}
			defer client.Close()

			handle, record, err := current(cmd.Context(), client, args[0])
			if err != nil {
				return err
			}
			handle.Close()

			value := tag.FormatValueHuman(record)
			if record.DType == tag.Timestamp {
				value = tag.FormatTimestampIn(record.Value.Timestamp(), options.location())
			}
			fmt.Fprintf(cmd.OutOrStdout(), "name      %s\n"+
				"dtype     %s\n"+
				"quality   %s\n"+
				"timestamp %s\n"+
				"value     %s\n",
				args[0],
				record.DType,
				tag.FormatQuality(record.Quality, false),
				tag.FormatTimestampIn(record.Timestamp, options.location()),
				value,
			)
			return nil
		},
	}
}

func newSetValueCommand(options *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "set-value <tag> <value>",
		Short: "Write a new value, keeping the tag's quality",
		Long: `Write a new value to a tag. The value must suit the tag's data type;
timestamp values use the form "YYYY-MM-DD hh:mm:ss.lll" in local time.
Quote values that contain spaces.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := options.connect(cmd)
			if err != nil {
				return err
			}
			defer client.Close()

			handle, record, err := current(cmd.Context(), client, args[0])
			if err != nil {
				return err
			}
			defer handle.Close()

			value, err := tag.ParseValueHuman(record.DType, args[1])
			if err != nil {
				return fmt.Errorf("invalid value %q for data type %s: %w", args[1], record.DType, err)
			}
			record.Value = value
			record.Timestamp = 0
			return handle.Write(cmd.Context(), record)
		},
	}
}

func newSetQualityCommand(options *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "set-quality <tag> <GOOD|UNCERTAIN|BAD|DISCONNECTED> [vendor]",
		Short: "Write a new quality, keeping the tag's value",
		Long: `Write a new quality to a tag. The optional vendor quality is an
integer from 0 to 16383 carried in the low bits of the quality word.`,
		Args: cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			var vendor uint64
			if len(args) == 3 {
				var err error
				vendor, err = strconv.ParseUint(args[2], 10, 16)
				if err != nil {
					return fmt.Errorf("vendor quality must be a nonnegative integer: %w", err)
				}
			}
			quality, err := tag.ParseQuality(args[1], uint16(vendor))
			if err != nil {
				return err
			}

			client, err := options.connect(cmd)
			if err != nil {
				return err
			}
			defer client.Close()

			handle, record, err := current(cmd.Context(), client, args[0])
			if err != nil {
				return err
			}
			defer handle.Close()

			record.Quality = quality
			record.Timestamp = 0
			return handle.Write(cmd.Context(), record)
		},
	}
}

func newCreateCommand(options *rootOptions) *cobra.Command {
	var testOnly bool
	cmd := &cobra.Command{
		Use:   "create <dtype> <name>",
		Short: "Create a tag through the exclusive creation channel",
		Long: `Create a tag. The data type is one of int8, uint8, int16, uint16,
int32, uint32, int64, uint64, real32, real64, timestamp or string
(case-insensitive). With --test the request is validated but not sent.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			dtype, err := tag.ParseDType(args[0])
			if err != nil {
				return err
			}
			name := args[1]
			if err := tag.ValidateName(name); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if testOnly {
				fmt.Fprintf(out, "Test OK for: %s\n", name)
				return nil
			}

			client, err := options.connect(cmd)
			if err != nil {
				return err
			}
			defer client.Close()

			admin, err := client.Admin(cmd.Context())
			if err != nil {
				return err
			}
			info, createErr := admin.Create(cmd.Context(), name, dtype)
			closeErr := admin.Close(cmd.Context())
			if createErr != nil {
				return fmt.Errorf("creating %s (%s): %w", name, dtype, createErr)
			}
			if closeErr != nil {
				return closeErr
			}
			fmt.Fprintf(out, "Created %s (%d) at index %d\n", info.Name, uint8(info.DType), info.Index)
			return nil
		},
	}
	cmd.Flags().BoolVar(&testOnly, "test", false, "validate the request without creating the tag")
	return cmd
}

func newRelayCommand(options *rootOptions) *cobra.Command {
	var all, byName bool
	cmd := &cobra.Command{
		Use:   "relay [names...]",
		Short: "Stream tag changes in the relay line format",
		Long: `Stream tag changes until interrupted. The stream starts with one
"a <index> <name> <dtype>" line per tag and a blank line, then the
current record of each tag, then a line per change:
"i <index> <quality> <timestamp> <value>", or with -n
"n <name> <quality> <timestamp> <value>".`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !all && len(args) == 0 {
				return fmt.Errorf("name at least one tag, or use --all")
			}
			client, err := options.connect(cmd)
			if err != nil {
				return err
			}
			defer client.Close()

			return relay.Run(cmd.Context(), client, args, cmd.OutOrStdout(), relay.Options{
				All:    all,
				ByName: byName,
			})
		},
	}
	cmd.Flags().BoolVarP(&all, "all", "a", false, "relay every registered tag")
	cmd.Flags().BoolVarP(&byName, "names", "n", false, "address change lines by name instead of index")
	return cmd
}
