// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package rule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bureau-foundation/tagbus/lib/clock"
	"github.com/bureau-foundation/tagbus/lib/readiness"
	"github.com/bureau-foundation/tagbus/lib/tag"
)

// Options configures Run.
type Options struct {
	Logger *slog.Logger

	// Clock defaults to clock.Real().
	Clock clock.Clock
}

// Run executes r until the kill-switch reads zero (nil), ctx ends
// (ctx.Err()), or the rule fails. Every handle opened by Run is closed
// before it returns.
func Run(ctx context.Context, opener tag.Opener, decl Declaration, r Rule, options Options) error {
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("rule", decl.Name)
	clk := options.Clock
	if clk == nil {
		clk = clock.Real()
	}

	if err := decl.Validate(); err != nil {
		return err
	}

	rc := &Context{
		ctx:     ctx,
		name:    decl.Name,
		logger:  logger,
		byLocal: make(map[string]*bound, len(decl.Bindings)),
	}
	defer func() {
		for _, b := range rc.bound {
			b.handle.Close()
		}
	}()

	// The kill-switch is always the first binding.
	killSwitch := Binding{Mode: Input, DType: tag.UInt8, Tag: tag.KillSwitchName}
	bindings := append([]Binding{killSwitch}, decl.Bindings...)
	var trigger *bound
	for _, binding := range bindings {
		b, err := bind(ctx, opener, binding)
		if err != nil {
			return err
		}
		rc.bound = append(rc.bound, b)
		if binding.Local != "" {
			rc.byLocal[binding.Local] = b
		}
		if binding.Local == decl.Trigger && binding.Local != "" {
			trigger = b
		}
	}
	if trigger == nil {
		return fmt.Errorf("%w: %q", ErrTrigger, decl.Trigger)
	}
	ks := rc.bound[0]

	if err := r.Init(rc); err != nil {
		return fmt.Errorf("%s: init: %w", decl.Name, err)
	}
	logger.Info("rule started", "bindings", len(decl.Bindings), "trigger", decl.Trigger)

	var inputs []*bound
	var sources []readiness.Source
	for _, b := range rc.bound {
		if b.Mode.Reads() {
			inputs = append(inputs, b)
			sources = append(sources, b.handle)
		}
	}

	for ks.record.Value.UInt8() != 0 {
		ready, err := readiness.Wait(ctx, clk, 0, sources)
		if err != nil {
			return err
		}
		for _, b := range rc.bound {
			b.changed = false
		}
		fire := false
		for _, i := range ready {
			b := inputs[i]
			record, err := b.handle.Read(ctx)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return err
				}
				return fmt.Errorf("reading %s (%s): %w", b.Local, b.Tag, err)
			}
			b.record = record
			b.changed = true
			if b == trigger {
				fire = true
			}
		}
		if fire {
			if err := r.Exec(rc); err != nil {
				return fmt.Errorf("%s: exec: %w", decl.Name, err)
			}
		}
	}

	logger.Info("kill-switch cleared, rule stopping")
	return nil
}

// bind opens binding, checks its data type, and seeds the cache with
// the current record.
func bind(ctx context.Context, opener tag.Opener, binding Binding) (*bound, error) {
	handle, err := opener.Open(ctx, binding.Tag)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", binding.Tag, err)
	}
	if handle.DType() != binding.DType {
		handle.Close()
		return nil, fmt.Errorf("%w: %s is %s, declared %s", ErrBindingType, binding.Tag, handle.DType(), binding.DType)
	}
	record, err := handle.Read(ctx)
	if err != nil {
		handle.Close()
		return nil, fmt.Errorf("initial read of %s: %w", binding.Tag, err)
	}
	return &bound{Binding: binding, handle: handle, record: record}, nil
}
