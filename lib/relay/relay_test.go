// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"

	"github.com/bureau-foundation/tagbus/lib/clock"
	"github.com/bureau-foundation/tagbus/lib/tag"
	"github.com/bureau-foundation/tagbus/lib/tagstore"
	"github.com/bureau-foundation/tagbus/lib/testutil"
)

// lineChannel is an io.Writer that forwards each write. Run writes one
// line per call.
type lineChannel chan string

func (c lineChannel) Write(p []byte) (int, error) {
	c <- string(p)
	return len(p), nil
}

func testStore(t *testing.T) *tagstore.Store {
	t.Helper()
	store := tagstore.New(8, clock.Fake(time.UnixMilli(10)))
	for _, create := range []struct {
		name  string
		dtype tag.DType
	}{
		{"tstat.PV.degC", tag.Real64},
		{"timer.1sec", tag.UInt32},
		{"label", tag.String},
	} {
		if _, err := store.Create(create.name, create.dtype); err != nil {
			t.Fatalf("Create(%s): %v", create.name, err)
		}
	}
	return store
}

func write(t *testing.T, store *tagstore.Store, name string, record tag.Record) {
	t.Helper()
	handle, err := store.OpenHandle(name)
	if err != nil {
		t.Fatalf("OpenHandle(%s): %v", name, err)
	}
	defer handle.Close()
	if err := handle.Write(context.Background(), record); err != nil {
		t.Fatalf("Write(%s): %v", name, err)
	}
}

func TestRunGolden(t *testing.T) {
	for _, test := range []struct {
		golden string
		byName bool
	}{
		{"index", false},
		{"name", true},
	} {
		t.Run(test.golden, func(t *testing.T) {
			store := testStore(t)
			lines := make(lineChannel)
			ctx, cancel := context.WithCancel(t.Context())
			done := make(chan error, 1)
			go func() {
				done <- Run(ctx, store, []string{"timer.1sec", "tstat.PV.degC", "timer.1sec"}, lines, Options{ByName: test.byName})
			}()

			var output strings.Builder
			collect := func(count int) {
				for range count {
					output.WriteString(testutil.RequireReceive(t, lines, 5*time.Second, "relay line"))
				}
			}
			// Header (two tags, blank line) then both initial values.
			collect(5)

			write(t, store, "timer.1sec", tag.Record{Value: tag.UInt32Value(7), Timestamp: 100, Quality: tag.Good, DType: tag.UInt32})
			collect(1)
			write(t, store, "tstat.PV.degC", tag.Record{Value: tag.Real64Value(21.5), Timestamp: 101, Quality: tag.Good.WithVendor(3), DType: tag.Real64})
			collect(1)

			cancel()
			if err := testutil.RequireReceive(t, done, 5*time.Second, "relay exit"); err != nil {
				t.Fatalf("Run: %v", err)
			}

			golden := goldie.New(t,
				goldie.WithFixtureDir("testdata/golden"),
				goldie.WithNameSuffix(".golden"),
			)
			golden.Assert(t, test.golden, []byte(output.String()))
		})
	}
}

func TestOpenAllUsesRegistryOrder(t *testing.T) {
	store := testStore(t)
	session, err := Open(t.Context(), store, nil, true)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer session.Close()

	var names []string
	for i, entry := range session.Entries() {
		if entry.Stream != i {
			t.Errorf("entry %d has stream index %d", i, entry.Stream)
		}
		if entry.Initial.Timestamp != 10 {
			t.Errorf("%s initial timestamp = %d, want 10", entry.Info.Name, entry.Initial.Timestamp)
		}
		names = append(names, entry.Info.Name)
	}
	if got := strings.Join(names, ","); got != "tstat.PV.degC,timer.1sec,label" {
		t.Errorf("entries = %s", got)
	}
}

func TestOpenUnknownTag(t *testing.T) {
	store := testStore(t)
	_, err := Open(t.Context(), store, []string{"timer.1sec", "missing"}, false)
	if !errors.Is(err, tag.ErrNotFound) {
		t.Fatalf("Open = %v, want ErrNotFound", err)
	}
}

func TestRunRequiresTags(t *testing.T) {
	store := testStore(t)
	if err := Run(t.Context(), store, nil, lineChannel(make(chan string, 8)), Options{}); err == nil {
		t.Fatal("expected an error without tags")
	}
}

func TestFollowReportsLatestOnly(t *testing.T) {
	store := testStore(t)
	session, err := Open(t.Context(), store, []string{"timer.1sec"}, false)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer session.Close()

	write(t, store, "timer.1sec", tag.Record{Value: tag.UInt32Value(1), Timestamp: 100, Quality: tag.Good, DType: tag.UInt32})
	write(t, store, "timer.1sec", tag.Record{Value: tag.UInt32Value(2), Timestamp: 200, Quality: tag.Good, DType: tag.UInt32})

	stop := errors.New("stop")
	var seen []tag.Record
	err = session.Follow(t.Context(), clock.Real(), func(stream int, record tag.Record) error {
		if stream != 0 {
			t.Errorf("stream = %d, want 0", stream)
		}
		seen = append(seen, record)
		return stop
	})
	if !errors.Is(err, stop) {
		t.Fatalf("Follow = %v, want the emit error", err)
	}
	if len(seen) != 1 || seen[0].Value.UInt32() != 2 || seen[0].Timestamp != 200 {
		t.Fatalf("seen = %+v, want only the second write", seen)
	}
}

func TestFollowCancel(t *testing.T) {
	store := testStore(t)
	session, err := Open(t.Context(), store, []string{"label"}, false)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer session.Close()

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() {
		done <- session.Follow(ctx, clock.Real(), func(int, tag.Record) error {
			return errors.New("unexpected change")
		})
	}()
	cancel()
	if err := testutil.RequireReceive(t, done, 5*time.Second, "follow exit"); !errors.Is(err, context.Canceled) {
		t.Fatalf("Follow = %v, want context.Canceled", err)
	}
}
