// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"

	"github.com/bureau-foundation/tagbus/lib/clock"
	"github.com/bureau-foundation/tagbus/lib/config"
	"github.com/bureau-foundation/tagbus/lib/tag"
	"github.com/bureau-foundation/tagbus/lib/tagservice/tagservicetest"
	"github.com/bureau-foundation/tagbus/lib/tagstore"
	"github.com/bureau-foundation/tagbus/lib/testutil"
)

var epoch = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

// plant serves a small thermostat plant and returns the store and its
// socket.
func plant(t *testing.T) (*tagstore.Store, string) {
	t.Helper()
	t.Setenv(config.EnvVar, "")
	store := tagstore.New(8, clock.Fake(epoch))
	for _, created := range []struct {
		name  string
		dtype tag.DType
	}{
		{tag.KillSwitchName, tag.UInt8},
		{"timer.1sec", tag.UInt32},
		{"tstat.SP.degC", tag.Real64},
		{"tstat.PV.degC", tag.Real64},
	} {
		if _, err := store.Create(created.name, created.dtype); err != nil {
			t.Fatalf("Create(%s): %v", created.name, err)
		}
	}
	write(t, store, "tstat.SP.degC", tag.Record{
		Value:     tag.Real64Value(21.5),
		Timestamp: tag.Millis(epoch) + 250,
		Quality:   tag.Good,
		DType:     tag.Real64,
	})
	return store, tagservicetest.Serve(t, store)
}

func write(t *testing.T, store *tagstore.Store, name string, record tag.Record) {
	t.Helper()
	handle, err := store.OpenHandle(name)
	if err != nil {
		t.Fatalf("OpenHandle(%s): %v", name, err)
	}
	defer handle.Close()
	if err := handle.Write(context.Background(), record); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
}

func execute(t *testing.T, ctx context.Context, socketPath string, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--socket", socketPath, "--utc"}, args...))
	err := cmd.ExecuteContext(ctx)
	return stdout.String(), err
}

func golden(t *testing.T) *goldie.Goldie {
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

func TestVersion(t *testing.T) {
	output, err := execute(t, t.Context(), "/nonexistent.sock", "--version")
	if err != nil {
		t.Fatalf("--version: %v", err)
	}
	if !strings.HasPrefix(output, "tagctl ") {
		t.Fatalf("version output = %q", output)
	}
}

func TestList(t *testing.T) {
	_, socketPath := plant(t)

	output, err := execute(t, t.Context(), socketPath, "list")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	golden(t).Assert(t, "list", []byte(output))

	output, err = execute(t, t.Context(), socketPath, "list", "tstat.")
	if err != nil {
		t.Fatalf("list tstat.: %v", err)
	}
	golden(t).Assert(t, "list_prefix", []byte(output))
}

func TestRead(t *testing.T) {
	_, socketPath := plant(t)

	output, err := execute(t, t.Context(), socketPath, "read", "tstat.SP.degC")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	golden(t).Assert(t, "read", []byte(output))

	if _, err := execute(t, t.Context(), socketPath, "read", "no.such.tag"); !errors.Is(err, tag.ErrNotFound) {
		t.Fatalf("read unknown = %v, want ErrNotFound", err)
	}
}

func TestSetValue(t *testing.T) {
	store, socketPath := plant(t)

	if _, err := execute(t, t.Context(), socketPath, "set-value", "tstat.SP.degC", "19.25"); err != nil {
		t.Fatalf("set-value: %v", err)
	}
	record, err := store.Snapshot("tstat.SP.degC")
	if err != nil {
		t.Fatal(err)
	}
	if record.Value.Real64() != 19.25 || record.Quality != tag.Good {
		t.Fatalf("record = %v %s, want 19.25 GOOD", record.Value.Real64(), record.Quality)
	}
	if record.Timestamp <= tag.Millis(epoch)+250 {
		t.Fatalf("timestamp %d did not advance", record.Timestamp)
	}

	_, err = execute(t, t.Context(), socketPath, "set-value", "timer.1sec", "warm")
	if err == nil || !strings.Contains(err.Error(), "invalid value") {
		t.Fatalf("set-value bad = %v", err)
	}
}

func TestSetQuality(t *testing.T) {
	store, socketPath := plant(t)

	if _, err := execute(t, t.Context(), socketPath, "set-quality", "tstat.SP.degC", "BAD", "12"); err != nil {
		t.Fatalf("set-quality: %v", err)
	}
	record, err := store.Snapshot("tstat.SP.degC")
	if err != nil {
		t.Fatal(err)
	}
	if record.Quality != tag.Bad.WithVendor(12) || record.Value.Real64() != 21.5 {
		t.Fatalf("record = %v %s, want 21.5 BAD (12)", record.Value.Real64(), record.Quality)
	}

	for _, args := range [][]string{
		{"set-quality", "tstat.SP.degC", "SO-SO"},
		{"set-quality", "tstat.SP.degC", "GOOD", "-1"},
		{"set-quality", "tstat.SP.degC", "GOOD", "20000"},
	} {
		if _, err := execute(t, t.Context(), socketPath, args...); err == nil {
			t.Errorf("%v succeeded", args)
		}
	}
}

func TestCreate(t *testing.T) {
	store, socketPath := plant(t)

	output, err := execute(t, t.Context(), socketPath, "create", "REAL64", "boiler.power.W")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if output != "Created boiler.power.W (11) at index 4\n" {
		t.Fatalf("create output = %q", output)
	}
	if info, err := store.Lookup("boiler.power.W"); err != nil || info.DType != tag.Real64 {
		t.Fatalf("Lookup = %+v, %v", info, err)
	}

	_, err = execute(t, t.Context(), socketPath, "create", "real64", "boiler.power.W")
	if !errors.Is(err, tag.ErrDuplicateName) {
		t.Fatalf("duplicate create = %v, want ErrDuplicateName", err)
	}

	// The creation channel was released after each command.
	output, err = execute(t, t.Context(), socketPath, "create", "uint16", "alarm.count")
	if err != nil {
		t.Fatalf("create after duplicate: %v", err)
	}
	if !strings.HasPrefix(output, "Created alarm.count (5)") {
		t.Fatalf("create output = %q", output)
	}
}

func TestCreateTestOnly(t *testing.T) {
	t.Setenv(config.EnvVar, "")
	output, err := execute(t, t.Context(), "/nonexistent.sock", "create", "--test", "string", "boiler.mode")
	if err != nil {
		t.Fatalf("create --test: %v", err)
	}
	if output != "Test OK for: boiler.mode\n" {
		t.Fatalf("output = %q", output)
	}

	if _, err := execute(t, t.Context(), "/nonexistent.sock", "create", "--test", "string", "bad name"); !errors.Is(err, tag.ErrInvalidName) {
		t.Fatalf("bad name = %v, want ErrInvalidName", err)
	}
	if _, err := execute(t, t.Context(), "/nonexistent.sock", "create", "--test", "complex", "x"); !errors.Is(err, tag.ErrInvalidType) {
		t.Fatalf("bad dtype = %v, want ErrInvalidType", err)
	}
}

// syncBuffer is a bytes.Buffer safe for one writer and one reader.
type syncBuffer struct {
	mu     sync.Mutex
	buffer bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buffer.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buffer.String()
}

func waitForOutput(t *testing.T, output *syncBuffer, want string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second) //nolint:realclock test hang prevention
	for !strings.Contains(output.String(), want) {
		if time.Now().After(deadline) { //nolint:realclock test hang prevention
			t.Fatalf("output %q never contained %q", output.String(), want)
		}
		time.Sleep(time.Millisecond) //nolint:realclock polling a real goroutine
	}
}

func TestRelayByName(t *testing.T) {
	store, socketPath := plant(t)

	output := &syncBuffer{}
	cmd := newRootCommand()
	cmd.SetOut(output)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--socket", socketPath, "relay", "-n", "tstat.SP.degC", "timer.1sec"})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- cmd.ExecuteContext(ctx) }()

	initial := tag.Millis(epoch) + 250
	waitForOutput(t, output, "a 0 tstat.SP.degC 11\na 1 timer.1sec 7\n\n")
	waitForOutput(t, output, "n tstat.SP.degC 49152 "+itoa(initial)+" 2.15000000000000000e+01\n")

	write(t, store, "timer.1sec", tag.Record{
		Value:     tag.UInt32Value(9),
		Timestamp: initial + 1000,
		Quality:   tag.Good,
		DType:     tag.UInt32,
	})
	waitForOutput(t, output, "n timer.1sec 49152 "+itoa(initial+1000)+" 9\n")

	cancel()
	if err := testutil.RequireReceive(t, done, 5*time.Second, "relay exit"); err != nil {
		t.Fatalf("relay: %v", err)
	}
}

func TestRelayRequiresTags(t *testing.T) {
	t.Setenv(config.EnvVar, "")
	_, err := execute(t, t.Context(), "/nonexistent.sock", "relay")
	if err == nil || !strings.Contains(err.Error(), "--all") {
		t.Fatalf("relay = %v", err)
	}
}

func itoa(v uint64) string {
	return strconv.FormatUint(v, 10)
}
