// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package ruletest runs a rule against an in-process tag store for
// tests of rule behaviour.
//
//	h := ruletest.New(t,
//		ruletest.Tag{Name: "timer.1sec", DType: tag.UInt32},
//		ruletest.Tag{Name: "out", DType: tag.Real64},
//	)
//	out := h.Watch("out")
//	h.Start(declaration, &myRule{})
//	h.Set("timer.1sec", tag.UInt32Value(1))
//	record := out.Next()
//	h.Stop()
package ruletest

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/bureau-foundation/tagbus/lib/clock"
	"github.com/bureau-foundation/tagbus/lib/rule"
	"github.com/bureau-foundation/tagbus/lib/tag"
	"github.com/bureau-foundation/tagbus/lib/tagstore"
	"github.com/bureau-foundation/tagbus/lib/testutil"
)

const timeout = 5 * time.Second

// Tag is a tag the harness creates.
type Tag struct {
	Name  string
	DType tag.DType
}

// Harness owns a store holding the kill-switch (set to 1) and the
// requested tags, and at most one running rule.
type Harness struct {
	t      testing.TB
	Store  *tagstore.Store
	cancel context.CancelFunc
	done   chan error
}

// New creates the store.
func New(t testing.TB, tags ...Tag) *Harness {
	t.Helper()
	store := tagstore.New(len(tags)+1, clock.Real())
	h := &Harness{t: t, Store: store}
	if _, err := store.Create(tag.KillSwitchName, tag.UInt8); err != nil {
		t.Fatalf("creating kill-switch: %v", err)
	}
	for _, created := range tags {
		if _, err := store.Create(created.Name, created.DType); err != nil {
			t.Fatalf("creating %s: %v", created.Name, err)
		}
	}
	h.Set(tag.KillSwitchName, tag.UInt8Value(1))
	return h
}

// Set writes value with GOOD quality and a store timestamp.
func (h *Harness) Set(name string, value tag.Value) {
	h.t.Helper()
	handle, err := h.Store.OpenHandle(name)
	if err != nil {
		h.t.Fatalf("opening %s: %v", name, err)
	}
	defer handle.Close()
	record := tag.Record{Value: value.Canonical(handle.DType()), Quality: tag.Good, DType: handle.DType()}
	if err := handle.Write(context.Background(), record); err != nil {
		h.t.Fatalf("writing %s: %v", name, err)
	}
}

// SetFloat64 converts f to the tag's type and writes it.
func (h *Harness) SetFloat64(name string, f float64) {
	h.t.Helper()
	info, err := h.Store.Lookup(name)
	if err != nil {
		h.t.Fatalf("looking up %s: %v", name, err)
	}
	value, err := tag.FromFloat64(info.DType, f)
	if err != nil {
		h.t.Fatalf("converting %v for %s: %v", f, name, err)
	}
	h.Set(name, value)
}

// Start runs r in the background and returns once Init has completed,
// so every binding holds its initial value.
func (h *Harness) Start(decl rule.Declaration, r rule.Rule) {
	h.t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.done = make(chan error, 1)
	initialized := make(chan struct{})
	wrapped := rule.Funcs{
		InitFunc: func(c *rule.Context) error {
			defer close(initialized)
			return r.Init(c)
		},
		ExecFunc: r.Exec,
	}
	options := rule.Options{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	go func() {
		h.done <- rule.Run(ctx, h.Store, decl, wrapped, options)
	}()
	h.t.Cleanup(cancel)

	select {
	case <-initialized:
	case err := <-h.done:
		h.t.Fatalf("rule exited before Init completed: %v", err)
	case <-time.After(timeout): //nolint:realclock test hang prevention
		h.t.Fatalf("rule did not initialize within %v", timeout)
	}
}

// Stop clears the kill-switch and returns what Run returned.
func (h *Harness) Stop() error {
	h.t.Helper()
	h.Set(tag.KillSwitchName, tag.UInt8Value(0))
	return testutil.RequireReceive(h.t, h.done, timeout, "rule exit after kill-switch")
}

// Watcher follows one tag from the moment Watch was called.
type Watcher struct {
	t      testing.TB
	handle *tagstore.Handle
}

// Watch opens name and consumes its current record, so Next returns
// only later writes.
func (h *Harness) Watch(name string) *Watcher {
	h.t.Helper()
	handle, err := h.Store.OpenHandle(name)
	if err != nil {
		h.t.Fatalf("opening %s: %v", name, err)
	}
	h.t.Cleanup(func() { handle.Close() })
	if _, err := handle.TryRead(); err != nil {
		h.t.Fatalf("reading %s: %v", name, err)
	}
	return &Watcher{t: h.t, handle: handle}
}

// Next waits for the next write.
func (w *Watcher) Next() tag.Record {
	w.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	record, err := w.handle.Read(ctx)
	if err != nil {
		w.t.Fatalf("waiting for %s: %v", w.handle.Name(), err)
	}
	return record
}

// Wait returns what Run returned, for rules expected to fail on their
// own.
func (h *Harness) Wait() error {
	h.t.Helper()
	return testutil.RequireReceive(h.t, h.done, timeout, "rule exit")
}
