// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package rule

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/bureau-foundation/tagbus/lib/clock"
	"github.com/bureau-foundation/tagbus/lib/tag"
	"github.com/bureau-foundation/tagbus/lib/tagstore"
	"github.com/bureau-foundation/tagbus/lib/testutil"
)

func testOptions() Options {
	return Options{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

// plantStore returns a store holding the kill-switch (set to 1) and
// the tags used by the doubling rule below.
func plantStore(t *testing.T) *tagstore.Store {
	t.Helper()
	store := tagstore.New(16, clock.Real())
	for _, spec := range []struct {
		name  string
		dtype tag.DType
	}{
		{tag.KillSwitchName, tag.UInt8},
		{"sensor.a", tag.Real64},
		{"timer.1sec", tag.UInt32},
		{"out.b", tag.Real64},
		{"label", tag.String},
	} {
		if _, err := store.Create(spec.name, spec.dtype); err != nil {
			t.Fatalf("Create(%s): %v", spec.name, err)
		}
	}
	write(t, store, tag.KillSwitchName, tag.UInt8, tag.UInt8Value(1))
	return store
}

func write(t *testing.T, store *tagstore.Store, name string, dtype tag.DType, value tag.Value) {
	t.Helper()
	handle, err := store.OpenHandle(name)
	if err != nil {
		t.Fatalf("OpenHandle(%s): %v", name, err)
	}
	defer handle.Close()
	if err := handle.Write(context.Background(), tag.Record{Value: value, Quality: tag.Good, DType: dtype}); err != nil {
		t.Fatalf("Write(%s): %v", name, err)
	}
}

func doublerDeclaration() Declaration {
	return Declaration{
		Name: "doubler",
		Bindings: []Binding{
			{Local: "a", Mode: Input, DType: tag.Real64, Tag: "sensor.a"},
			{Local: "timer", Mode: Input, DType: tag.UInt32, Tag: "timer.1sec"},
			{Local: "b", Mode: Output, DType: tag.Real64, Tag: "out.b"},
		},
		Trigger: "timer",
	}
}

type execObservation struct {
	a            float64
	aChanged     bool
	timerChanged bool
}

func TestTriggerExecutesOncePerWake(t *testing.T) {
	store := plantStore(t)
	inInit := make(chan struct{})
	proceed := make(chan struct{})
	observations := make(chan execObservation, 10)

	rule := Funcs{
		InitFunc: func(c *Context) error {
			close(inInit)
			<-proceed
			return nil
		},
		ExecFunc: func(c *Context) error {
			observations <- execObservation{
				a:            c.Float64("a"),
				aChanged:     c.Changed("a"),
				timerChanged: c.Changed("timer"),
			}
			return c.SetFloat64("b", 2*c.Float64("a"))
		},
	}

	done := make(chan error, 1)
	go func() {
		done <- Run(context.Background(), store, doublerDeclaration(), rule, testOptions())
	}()

	// Both inputs change while the rule is still in Init, so the
	// first wait finds them ready together.
	testutil.RequireClosed(t, inInit, 5*time.Second, "Init")
	write(t, store, "sensor.a", tag.Real64, tag.Real64Value(3))
	write(t, store, "timer.1sec", tag.UInt32, tag.UInt32Value(1))
	close(proceed)

	observation := testutil.RequireReceive(t, observations, 5*time.Second, "first exec")
	if observation.a != 3 || !observation.aChanged || !observation.timerChanged {
		t.Fatalf("exec observed %+v, want a=3 with both inputs changed", observation)
	}
	testutil.RequireNotReceived(t, observations, 50*time.Millisecond, "exec must run once per wake")

	// A non-trigger input alone does not run Exec.
	write(t, store, "sensor.a", tag.Real64, tag.Real64Value(4))
	testutil.RequireNotReceived(t, observations, 50*time.Millisecond, "non-trigger change")

	write(t, store, "timer.1sec", tag.UInt32, tag.UInt32Value(2))
	observation = testutil.RequireReceive(t, observations, 5*time.Second, "second exec")
	if observation.a != 4 || observation.aChanged {
		t.Fatalf("second exec observed %+v, want a=4 from the cache", observation)
	}

	write(t, store, tag.KillSwitchName, tag.UInt8, tag.UInt8Value(0))
	if err := testutil.RequireReceive(t, done, 5*time.Second, "Run after kill-switch"); err != nil {
		t.Fatalf("Run = %v, want nil", err)
	}

	output, _ := store.Snapshot("out.b")
	if output.Value.Real64() != 8 || output.Quality != tag.Good {
		t.Fatalf("out.b = %v (%s), want 8 GOOD", output.Value.Real64(), output.Quality)
	}
}

func TestKillSwitchZeroAtStart(t *testing.T) {
	store := plantStore(t)
	write(t, store, tag.KillSwitchName, tag.UInt8, tag.UInt8Value(0))

	initCalled := false
	rule := Funcs{
		InitFunc: func(c *Context) error { initCalled = true; return nil },
		ExecFunc: func(c *Context) error { t.Error("Exec called with kill-switch clear"); return nil },
	}
	if err := Run(context.Background(), store, doublerDeclaration(), rule, testOptions()); err != nil {
		t.Fatalf("Run = %v", err)
	}
	if !initCalled {
		t.Fatal("Init was not called")
	}
}

func TestBindingErrors(t *testing.T) {
	noop := Funcs{ExecFunc: func(c *Context) error { return nil }}

	tests := []struct {
		name   string
		mutate func(*Declaration)
		want   error
	}{
		{"dtype mismatch", func(d *Declaration) { d.Bindings[0].DType = tag.Real32 }, ErrBindingType},
		{"trigger is output", func(d *Declaration) { d.Trigger = "b" }, ErrTrigger},
		{"trigger unbound", func(d *Declaration) { d.Trigger = "nope" }, ErrTrigger},
		{"missing tag", func(d *Declaration) { d.Bindings[0].Tag = "sensor.missing" }, tag.ErrNotFound},
		{"bad mode", func(d *Declaration) { d.Bindings[0].Mode = 'X' }, ErrDeclaration},
		{"duplicate local", func(d *Declaration) { d.Bindings[2].Local = "a" }, ErrDeclaration},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			store := plantStore(t)
			decl := doublerDeclaration()
			decl.Bindings = append([]Binding(nil), decl.Bindings...)
			test.mutate(&decl)
			err := Run(context.Background(), store, decl, noop, testOptions())
			if !errors.Is(err, test.want) {
				t.Fatalf("Run = %v, want %v", err, test.want)
			}
		})
	}
}

func TestKillSwitchMustBeUInt8(t *testing.T) {
	store := tagstore.New(4, clock.Real())
	store.Create(tag.KillSwitchName, tag.Int32)
	store.Create("timer.1sec", tag.UInt32)
	decl := Declaration{
		Name:     "k",
		Bindings: []Binding{{Local: "timer", Mode: Input, DType: tag.UInt32, Tag: "timer.1sec"}},
		Trigger:  "timer",
	}
	err := Run(context.Background(), store, decl, Funcs{ExecFunc: func(*Context) error { return nil }}, testOptions())
	if !errors.Is(err, ErrBindingType) {
		t.Fatalf("Run = %v, want ErrBindingType", err)
	}
}

func TestExecErrorEndsRule(t *testing.T) {
	store := plantStore(t)
	failure := errors.New("actuator fault")
	started := make(chan struct{})
	rule := Funcs{
		InitFunc: func(c *Context) error { close(started); return nil },
		ExecFunc: func(c *Context) error { return failure },
	}

	done := make(chan error, 1)
	go func() { done <- Run(context.Background(), store, doublerDeclaration(), rule, testOptions()) }()
	// The initial reads consume the current records, so Exec needs a
	// write made after Init.
	testutil.RequireClosed(t, started, 5*time.Second, "Init")
	write(t, store, "timer.1sec", tag.UInt32, tag.UInt32Value(1))

	if err := testutil.RequireReceive(t, done, 5*time.Second, "Run after exec error"); !errors.Is(err, failure) {
		t.Fatalf("Run = %v, want %v", err, failure)
	}
}

func TestContextCancel(t *testing.T) {
	store := plantStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	rule := Funcs{
		InitFunc: func(c *Context) error { close(started); return nil },
		ExecFunc: func(c *Context) error { return nil },
	}
	done := make(chan error, 1)
	go func() { done <- Run(ctx, store, doublerDeclaration(), rule, testOptions()) }()
	testutil.RequireClosed(t, started, 5*time.Second, "Init")
	cancel()
	if err := testutil.RequireReceive(t, done, 5*time.Second, "Run after cancel"); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run = %v, want context.Canceled", err)
	}
}

func TestContextSetters(t *testing.T) {
	store := plantStore(t)
	decl := Declaration{
		Name: "setters",
		Bindings: []Binding{
			{Local: "timer", Mode: Input, DType: tag.UInt32, Tag: "timer.1sec"},
			{Local: "label", Mode: Both, DType: tag.String, Tag: "label"},
			{Local: "b", Mode: Output, DType: tag.Real64, Tag: "out.b"},
		},
		Trigger: "timer",
	}
	var initErrs []error
	rule := Funcs{
		InitFunc: func(c *Context) error {
			initErrs = append(initErrs,
				c.SetFloat64("timer", 1),
				c.SetText("b", "x"),
				c.SetFloat64("nope", 1),
			)
			if err := c.SetText("label", "hello"); err != nil {
				return err
			}
			if c.Text("label") != "hello" {
				t.Errorf("cache after SetText = %q", c.Text("label"))
			}
			if err := c.SetInt64("b", 12); err != nil {
				return err
			}
			if c.Uint64("timer") != 0 || c.Quality("timer") != tag.Uncertain {
				t.Errorf("timer cache = %d %s", c.Uint64("timer"), c.Quality("timer"))
			}
			return nil
		},
		ExecFunc: func(c *Context) error { return nil },
	}
	write(t, store, tag.KillSwitchName, tag.UInt8, tag.UInt8Value(0))
	if err := Run(context.Background(), store, decl, rule, testOptions()); err != nil {
		t.Fatalf("Run = %v", err)
	}

	wants := []error{ErrNotOutput, tag.ErrTypeMismatch, ErrUnknownBinding}
	for i, want := range wants {
		if !errors.Is(initErrs[i], want) {
			t.Errorf("setter %d = %v, want %v", i, initErrs[i], want)
		}
	}
	label, _ := store.Snapshot("label")
	if label.Value.String() != "hello" || label.Quality != tag.Good {
		t.Errorf("label = %q %s", label.Value.String(), label.Quality)
	}
	b, _ := store.Snapshot("out.b")
	if b.Value.Real64() != 12 {
		t.Errorf("out.b = %v, want 12", b.Value.Real64())
	}
}
