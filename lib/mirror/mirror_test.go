// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mirror

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bureau-foundation/tagbus/lib/clock"
	"github.com/bureau-foundation/tagbus/lib/tag"
	"github.com/bureau-foundation/tagbus/lib/tagstore"
)

// setupTestMirror creates a mirror connected to a miniredis instance.
func setupTestMirror(t *testing.T) (*Mirror, *miniredis.Miniredis) {
	mr := miniredis.NewMiniRedis()
	err := mr.Start()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	m, err := New(&redis.Options{Addr: mr.Addr()}, "house", slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })

	return m, mr
}

func subscribe(t *testing.T, mr *miniredis.Miniredis, channel string) *redis.PubSub {
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	sub := rdb.Subscribe(context.Background(), channel)
	t.Cleanup(func() { sub.Close() })
	_, err := sub.Receive(context.Background())
	require.NoError(t, err)
	return sub
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "tagbus:house:tag:tstat.PV.degC", TagKey("house", "tstat.PV.degC"))
	assert.Equal(t, "tagbus:house:tag_events", EventsChannel("house"))
}

func TestNewRequiresInstance(t *testing.T) {
	_, err := New(&redis.Options{Addr: "localhost:0"}, "", slog.Default())
	assert.Error(t, err)
}

func TestDialRejectsBadURL(t *testing.T) {
	_, err := Dial("http://nope", "house", slog.Default())
	assert.Error(t, err)
}

func TestPublish(t *testing.T) {
	m, mr := setupTestMirror(t)
	ctx := context.Background()
	require.NoError(t, m.Ping(ctx))

	sub := subscribe(t, mr, EventsChannel("house"))

	record := tag.Record{
		Value:     tag.Real64Value(21.5),
		Timestamp: 1767225600000,
		Quality:   tag.Good.WithVendor(3),
		DType:     tag.Real64,
	}
	require.NoError(t, m.Publish(ctx, "tstat.PV.degC", record))

	key := TagKey("house", "tstat.PV.degC")
	assert.Equal(t, "real64", mr.HGet(key, "dtype"))
	assert.Equal(t, "49155", mr.HGet(key, "quality"))
	assert.Equal(t, "1767225600000", mr.HGet(key, "timestamp"))
	assert.Equal(t, "2.15000000000000000e+01", mr.HGet(key, "value"))

	select {
	case msg := <-sub.Channel():
		assert.Equal(t, "n tstat.PV.degC 49155 1767225600000 2.15000000000000000e+01", msg.Payload)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for tag event")
	}

	got, err := m.Get(ctx, "tstat.PV.degC")
	require.NoError(t, err)
	assert.Equal(t, record, got)
}

func TestGetMissing(t *testing.T) {
	m, _ := setupTestMirror(t)
	_, err := m.Get(context.Background(), "never.mirrored")
	assert.ErrorIs(t, err, redis.Nil)
}

func TestGetStringWithSpaces(t *testing.T) {
	m, _ := setupTestMirror(t)
	ctx := context.Background()
	value, err := tag.StringValue("heat on")
	require.NoError(t, err)
	record := tag.Record{Value: value, Timestamp: 5, Quality: tag.Good, DType: tag.String}

	require.NoError(t, m.Publish(ctx, "mode", record))
	got, err := m.Get(ctx, "mode")
	require.NoError(t, err)
	assert.Equal(t, record, got)
}

func TestInstancesAreIsolated(t *testing.T) {
	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	defer mr.Close()

	first, err := New(&redis.Options{Addr: mr.Addr()}, "one", slog.Default())
	require.NoError(t, err)
	defer first.Close()
	second, err := New(&redis.Options{Addr: mr.Addr()}, "two", slog.Default())
	require.NoError(t, err)
	defer second.Close()

	ctx := context.Background()
	require.NoError(t, first.Publish(ctx, "x", tag.Record{Timestamp: 1, DType: tag.UInt8}))
	_, err = second.Get(ctx, "x")
	assert.ErrorIs(t, err, redis.Nil)
}

func TestRunMirrorsInitialAndChanges(t *testing.T) {
	m, mr := setupTestMirror(t)
	store := tagstore.New(4, clock.Fake(time.UnixMilli(10)))
	_, err := store.Create("timer.1sec", tag.UInt32)
	require.NoError(t, err)
	_, err = store.Create("unmirrored", tag.UInt8)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- m.Run(ctx, store, []string{"timer.1sec"}, clock.Real())
	}()

	key := TagKey("house", "timer.1sec")
	require.Eventually(t, func() bool {
		return mr.Exists(key)
	}, 5*time.Second, 10*time.Millisecond, "initial record mirrored")
	assert.Equal(t, "10", mr.HGet(key, "timestamp"))
	assert.False(t, mr.Exists(TagKey("house", "unmirrored")))

	handle, err := store.OpenHandle("timer.1sec")
	require.NoError(t, err)
	defer handle.Close()
	require.NoError(t, handle.Write(ctx, tag.Record{
		Value:     tag.UInt32Value(42),
		Timestamp: 2000,
		Quality:   tag.Good,
		DType:     tag.UInt32,
	}))

	require.Eventually(t, func() bool {
		return mr.HGet(key, "value") == "42"
	}, 5*time.Second, 10*time.Millisecond, "change mirrored")
	assert.Equal(t, "2000", mr.HGet(key, "timestamp"))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancellation")
	}
}

func TestRunAllFollowsCreatedTags(t *testing.T) {
	m, mr := setupTestMirror(t)
	m.rescan = time.Second
	fake := clock.Fake(time.UnixMilli(10))
	store := tagstore.New(4, fake)
	_, err := store.Create("boiler.mode", tag.UInt8)
	require.NoError(t, err)

	sub := subscribe(t, mr, EventsChannel("house"))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- m.Run(ctx, store, nil, fake)
	}()

	receive := func() string {
		select {
		case msg := <-sub.Channel():
			return msg.Payload
		case <-time.After(5 * time.Second):
			t.Fatal("timeout waiting for tag event")
			return ""
		}
	}
	assert.Equal(t, "n boiler.mode 0 10 0", receive())

	// The registry is rescanned on the mirror's ticker.
	fake.WaitForTimers(1)
	_, err = store.Create("alarm.count", tag.UInt16)
	require.NoError(t, err)
	fake.Advance(time.Second)

	// Only the new tag is published; boiler.mode did not change.
	assert.Equal(t, "n alarm.count 0 10 0", receive())
	assert.Equal(t, "uint16", mr.HGet(TagKey("house", "alarm.count"), "dtype"))

	// Changes to the new tag are followed.
	handle, err := store.OpenHandle("alarm.count")
	require.NoError(t, err)
	defer handle.Close()
	require.NoError(t, handle.Write(ctx, tag.Record{
		Value:     tag.UInt16Value(3),
		Timestamp: 500,
		Quality:   tag.Good,
		DType:     tag.UInt16,
	}))
	assert.Equal(t, "n alarm.count 49152 500 3", receive())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancellation")
	}
}
