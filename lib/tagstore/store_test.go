// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package tagstore

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/tagbus/lib/clock"
	"github.com/bureau-foundation/tagbus/lib/tag"
	"github.com/bureau-foundation/tagbus/lib/testutil"
)

// testStore returns a store whose clock starts 10ms after the epoch,
// so tests can write small literal timestamps.
func testStore(t *testing.T, capacity int) (*Store, *clock.FakeClock) {
	t.Helper()
	fake := clock.Fake(time.UnixMilli(10))
	return New(capacity, fake), fake
}

func mustCreate(t *testing.T, store *Store, name string, dtype tag.DType) tag.Info {
	t.Helper()
	info, err := store.Create(name, dtype)
	if err != nil {
		t.Fatalf("Create(%s): %v", name, err)
	}
	return info
}

func mustOpen(t *testing.T, store *Store, name string) *Handle {
	t.Helper()
	handle, err := store.OpenHandle(name)
	if err != nil {
		t.Fatalf("OpenHandle(%s): %v", name, err)
	}
	t.Cleanup(func() { handle.Close() })
	return handle
}

func TestCreateInitialState(t *testing.T) {
	store, _ := testStore(t, 4)
	info := mustCreate(t, store, "t1", tag.UInt32)
	if info.Index != 0 || info.Name != "t1" || info.DType != tag.UInt32 {
		t.Fatalf("info = %+v", info)
	}

	record, err := store.Snapshot("t1")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	want := tag.Record{Timestamp: 10, Quality: tag.Uncertain, DType: tag.UInt32}
	if record != want {
		t.Fatalf("initial record = %+v, want %+v", record, want)
	}
}

func TestCreateDuplicateLeavesCountUnchanged(t *testing.T) {
	store, _ := testStore(t, 4)
	mustCreate(t, store, "t1", tag.UInt32)

	_, err := store.Create("t1", tag.Real64)
	if !errors.Is(err, tag.ErrDuplicateName) {
		t.Fatalf("duplicate Create = %v, want ErrDuplicateName", err)
	}
	if store.Len() != 1 {
		t.Fatalf("Len = %d after rejected duplicate, want 1", store.Len())
	}
	info, err := store.Lookup("t1")
	if err != nil || info.DType != tag.UInt32 {
		t.Fatalf("Lookup(t1) = %+v, %v; dtype must be unchanged", info, err)
	}
}

func TestCreateErrors(t *testing.T) {
	store, _ := testStore(t, 1)
	if _, err := store.Create("bad name", tag.UInt8); !errors.Is(err, tag.ErrInvalidName) {
		t.Errorf("Create(bad name) = %v, want ErrInvalidName", err)
	}
	if _, err := store.Create("x", tag.DType(1)); !errors.Is(err, tag.ErrInvalidType) {
		t.Errorf("Create(dtype 1) = %v, want ErrInvalidType", err)
	}
	mustCreate(t, store, "only", tag.UInt8)
	if _, err := store.Create("second", tag.UInt8); !errors.Is(err, tag.ErrFull) {
		t.Errorf("Create past capacity = %v, want ErrFull", err)
	}
	if store.Len() != 1 {
		t.Errorf("Len = %d, want 1", store.Len())
	}
}

func TestOpenUnknown(t *testing.T) {
	store, _ := testStore(t, 1)
	if _, err := store.Open(context.Background(), "missing"); !errors.Is(err, tag.ErrNotFound) {
		t.Fatalf("Open(missing) = %v, want ErrNotFound", err)
	}
}

func TestListInIndexOrder(t *testing.T) {
	store, _ := testStore(t, 8)
	names := []string{"b", "a", "timer.1sec"}
	for _, name := range names {
		mustCreate(t, store, name, tag.UInt16)
	}
	infos, err := store.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(infos) != len(names) {
		t.Fatalf("List returned %d tags, want %d", len(infos), len(names))
	}
	for i, info := range infos {
		if info.Index != i || info.Name != names[i] {
			t.Errorf("infos[%d] = %+v, want index %d name %s", i, info, i, names[i])
		}
	}
}

// The scenario from the design: a reader blocked before the first write
// wakes exactly once and observes the accepted value, while a write
// with an older timestamp is rejected.
func TestVersionedWriteScenario(t *testing.T) {
	store, _ := testStore(t, 4)
	mustCreate(t, store, "t1", tag.UInt32)
	reader := mustOpen(t, store, "t1")
	writer := mustOpen(t, store, "t1")

	if _, err := reader.TryRead(); err != nil {
		t.Fatalf("initial TryRead: %v", err)
	}

	results := make(chan tag.Record, 1)
	errs := make(chan error, 1)
	go func() {
		record, err := reader.Read(context.Background())
		if err != nil {
			errs <- err
			return
		}
		results <- record
	}()

	if err := writer.Write(context.Background(), tag.Record{
		Value: tag.UInt32Value(5), Timestamp: 100, Quality: tag.Good, DType: tag.UInt32,
	}); err != nil {
		t.Fatalf("write ts=100: %v", err)
	}
	err := writer.Write(context.Background(), tag.Record{
		Value: tag.UInt32Value(3), Timestamp: 50, Quality: tag.Good, DType: tag.UInt32,
	})
	if !errors.Is(err, tag.ErrStaleTimestamp) {
		t.Fatalf("write ts=50 = %v, want ErrStaleTimestamp", err)
	}

	select {
	case record := <-results:
		if record.Value.UInt32() != 5 || record.Timestamp != 100 {
			t.Fatalf("reader woke with %+v, want value 5 at ts 100", record)
		}
	case err := <-errs:
		t.Fatalf("blocked read: %v", err)
	case <-time.After(5 * time.Second): //nolint:realclock test hang prevention
		t.Fatal("blocked reader never woke")
	}

	if _, err := reader.TryRead(); !errors.Is(err, tag.ErrWouldBlock) {
		t.Fatalf("second read = %v, want ErrWouldBlock (exactly one wake)", err)
	}
	snapshot, _ := store.Snapshot("t1")
	if snapshot.Value.UInt32() != 5 {
		t.Fatalf("stored value = %d, want 5", snapshot.Value.UInt32())
	}
}

func TestRejectedWritesLeaveStateUnchanged(t *testing.T) {
	store, _ := testStore(t, 4)
	mustCreate(t, store, "level", tag.Real32)
	writer := mustOpen(t, store, "level")
	if err := writer.Write(context.Background(), tag.Record{
		Value: tag.Real32Value(1.5), Timestamp: 200, Quality: tag.Good, DType: tag.Real32,
	}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	before, _ := store.Snapshot("level")
	beforeBytes, _ := before.MarshalBinary()

	rejected := []tag.Record{
		{Value: tag.Real32Value(9), Timestamp: 200, Quality: tag.Bad, DType: tag.Real32},
		{Value: tag.Real32Value(9), Timestamp: 199, Quality: tag.Bad, DType: tag.Real32},
		{Value: tag.Real64Value(9), Timestamp: 300, Quality: tag.Bad, DType: tag.Real64},
	}
	for _, record := range rejected {
		err := writer.Write(context.Background(), record)
		if !errors.Is(err, tag.ErrStaleTimestamp) && !errors.Is(err, tag.ErrTypeMismatch) {
			t.Fatalf("Write(%+v) = %v, want a rejection", record, err)
		}
	}

	after, _ := store.Snapshot("level")
	afterBytes, _ := after.MarshalBinary()
	if !bytes.Equal(beforeBytes, afterBytes) {
		t.Fatalf("state changed by rejected writes:\n%x\n%x", beforeBytes, afterBytes)
	}
}

func TestLatestWriteWins(t *testing.T) {
	store, _ := testStore(t, 4)
	mustCreate(t, store, "counter", tag.Int64)
	reader := mustOpen(t, store, "counter")
	writer := mustOpen(t, store, "counter")
	reader.TryRead()

	for i := int64(1); i <= 3; i++ {
		if err := writer.Write(context.Background(), tag.Record{
			Value: tag.Int64Value(i), Timestamp: uint64(100 + i), Quality: tag.Good, DType: tag.Int64,
		}); err != nil {
			t.Fatalf("Write %d: %v", i, err)
		}
	}

	record, err := reader.Read(context.Background())
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if record.Value.Int64() != 3 {
		t.Fatalf("Read = %d, want 3 (last value wins)", record.Value.Int64())
	}
	if _, err := reader.TryRead(); !errors.Is(err, tag.ErrWouldBlock) {
		t.Fatalf("TryRead after drain = %v, want ErrWouldBlock", err)
	}
}

func TestEngineStampsWhenTimestampZero(t *testing.T) {
	store, fake := testStore(t, 4)
	mustCreate(t, store, "s", tag.UInt8)
	writer := mustOpen(t, store, "s")

	// The clock has not moved since creation: the engine must still
	// produce a strictly newer timestamp.
	for want := uint64(11); want <= 12; want++ {
		if err := writer.Write(context.Background(), tag.Record{DType: tag.UInt8, Quality: tag.Good}); err != nil {
			t.Fatalf("Write: %v", err)
		}
		record, _ := store.Snapshot("s")
		if record.Timestamp != want {
			t.Fatalf("timestamp = %d, want %d", record.Timestamp, want)
		}
	}

	fake.Advance(time.Second)
	if err := writer.Write(context.Background(), tag.Record{DType: tag.UInt8}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	record, _ := store.Snapshot("s")
	if record.Timestamp != 1010 {
		t.Fatalf("timestamp after Advance = %d, want 1010", record.Timestamp)
	}
}

func TestIndependentHandlesEachSeeOneTransition(t *testing.T) {
	store, _ := testStore(t, 4)
	mustCreate(t, store, "shared", tag.UInt16)
	first := mustOpen(t, store, "shared")
	second := mustOpen(t, store, "shared")
	writer := mustOpen(t, store, "shared")
	first.TryRead()
	second.TryRead()

	for round := 1; round <= 3; round++ {
		if first.Ready() || second.Ready() {
			t.Fatalf("round %d: ready before write", round)
		}
		changed := first.Changed()
		if err := writer.Write(context.Background(), tag.Record{
			Value: tag.UInt16Value(uint16(round)), DType: tag.UInt16, Quality: tag.Good,
		}); err != nil {
			t.Fatalf("Write: %v", err)
		}
		testutil.RequireClosed(t, changed, 5*time.Second, "change channel after write")

		// Drain in alternating order; each handle sees the write once.
		order := []*Handle{first, second}
		if round%2 == 0 {
			order = []*Handle{second, first}
		}
		for _, handle := range order {
			record, err := handle.TryRead()
			if err != nil {
				t.Fatalf("round %d: TryRead: %v", round, err)
			}
			if record.Value.UInt16() != uint16(round) {
				t.Fatalf("round %d: read %d", round, record.Value.UInt16())
			}
			if _, err := handle.TryRead(); !errors.Is(err, tag.ErrWouldBlock) {
				t.Fatalf("round %d: duplicate delivery: %v", round, err)
			}
		}
	}
}

func TestCloseUnblocksRead(t *testing.T) {
	store, _ := testStore(t, 4)
	mustCreate(t, store, "idle", tag.UInt8)
	handle := mustOpen(t, store, "idle")
	handle.TryRead()

	errs := make(chan error, 1)
	go func() {
		_, err := handle.Read(context.Background())
		errs <- err
	}()
	testutil.RequireNotReceived(t, errs, 50*time.Millisecond, "read should block")

	handle.Close()
	err := testutil.RequireReceive(t, errs, 5*time.Second, "read after close")
	if !errors.Is(err, tag.ErrClosed) {
		t.Fatalf("Read after Close = %v, want ErrClosed", err)
	}
	if !handle.Ready() {
		t.Fatal("closed handle should report ready")
	}
	if err := handle.Write(context.Background(), tag.Record{DType: tag.UInt8}); !errors.Is(err, tag.ErrClosed) {
		t.Fatalf("Write after Close = %v, want ErrClosed", err)
	}
}

func TestReadHonoursContext(t *testing.T) {
	store, _ := testStore(t, 4)
	mustCreate(t, store, "idle", tag.UInt8)
	handle := mustOpen(t, store, "idle")
	handle.TryRead()

	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	go func() {
		_, err := handle.Read(ctx)
		errs <- err
	}()
	cancel()
	err := testutil.RequireReceive(t, errs, 5*time.Second, "read after cancel")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Read = %v, want context.Canceled", err)
	}
}

func TestWaitNewerDoesNotConsume(t *testing.T) {
	store, _ := testStore(t, 4)
	mustCreate(t, store, "w", tag.UInt8)
	handle := mustOpen(t, store, "w")
	writer := mustOpen(t, store, "w")

	initial, _ := store.Snapshot("w")
	results := make(chan uint64, 1)
	go func() {
		timestamp, err := handle.WaitNewer(context.Background(), initial.Timestamp)
		if err == nil {
			results <- timestamp
		}
	}()
	writer.Write(context.Background(), tag.Record{DType: tag.UInt8, Timestamp: 500})

	if got := testutil.RequireReceive(t, results, 5*time.Second, "WaitNewer"); got != 500 {
		t.Fatalf("WaitNewer = %d, want 500", got)
	}
	if handle.Cursor() != 0 {
		t.Fatalf("cursor = %d, WaitNewer must not consume", handle.Cursor())
	}
}

func TestConcurrentReadersAndWriters(t *testing.T) {
	store := New(4, clock.Real())
	mustCreate(t, store, "busy", tag.UInt64)

	const writes = 200
	var wg sync.WaitGroup
	for r := 0; r < 4; r++ {
		reader := mustOpen(t, store, "busy")
		wg.Add(1)
		go func() {
			defer wg.Done()
			var last uint64
			for {
				record, err := reader.Read(context.Background())
				if err != nil {
					t.Errorf("Read: %v", err)
					return
				}
				if record.Timestamp <= last {
					t.Errorf("timestamp went from %d to %d", last, record.Timestamp)
					return
				}
				last = record.Timestamp
				if record.Value.UInt64() == writes {
					return
				}
			}
		}()
	}

	writer := mustOpen(t, store, "busy")
	for i := uint64(1); i <= writes; i++ {
		if err := writer.Write(context.Background(), tag.Record{Value: tag.UInt64Value(i), DType: tag.UInt64}); err != nil {
			t.Fatalf("Write %d: %v", i, err)
		}
	}
	wg.Wait()
}
