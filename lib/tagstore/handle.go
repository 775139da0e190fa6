// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package tagstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/bureau-foundation/tagbus/lib/clock"
	"github.com/bureau-foundation/tagbus/lib/tag"
)

// closedChannel is returned by Changed when the handle is already
// ready.
var closedChannel = func() chan struct{} {
	channel := make(chan struct{})
	close(channel)
	return channel
}()

// Handle is one consumer's session on a tag. It implements tag.Handle.
type Handle struct {
	store *Store
	entry *entry

	// cursor is the timestamp of the last record this handle
	// consumed. Atomic so that Ready and Changed may be called from a
	// goroutine other than the reader.
	cursor atomic.Uint64

	closed    chan struct{}
	closeOnce sync.Once
}

var _ tag.Handle = (*Handle)(nil)

func (h *Handle) Name() string { return h.entry.name }
func (h *Handle) Index() int { return h.entry.index }
func (h *Handle) DType() tag.DType { return h.entry.dtype }
func (h *Handle) Cursor() uint64 { return h.cursor.Load() }
func (h *Handle) Done() <-chan struct{} { return h.closed }

func (h *Handle) isClosed() bool {
	select {
	case <-h.closed:
		return true
	default:
		return false
	}
}

// Read blocks until the tag holds a record this handle has not
// consumed. Only the latest record is returned: writes between two
// reads collapse into one.
func (h *Handle) Read(ctx context.Context) (tag.Record, error) {
	for {
		if h.isClosed() {
			return tag.Record{}, tag.ErrClosed
		}
		if err := ctx.Err(); err != nil {
			return tag.Record{}, err
		}
		record, wake, err := h.consume()
		if err == nil {
			return record, nil
		}
		if !errors.Is(err, tag.ErrWouldBlock) {
			return tag.Record{}, err
		}
		select {
		case <-wake:
		case <-h.closed:
			return tag.Record{}, tag.ErrClosed
		case <-ctx.Done():
			return tag.Record{}, ctx.Err()
		}
	}
}

// TryRead returns tag.ErrWouldBlock instead of waiting.
func (h *Handle) TryRead() (tag.Record, error) {
	record, _, err := h.consume()
	return record, err
}

// consume returns the record and advances the cursor if it is new.
// Otherwise it returns tag.ErrWouldBlock and the change channel that
// the next write will close.
func (h *Handle) consume() (tag.Record, <-chan struct{}, error) {
	if h.isClosed() {
		return tag.Record{}, nil, tag.ErrClosed
	}
	e := h.entry
	e.mu.Lock()
	defer e.mu.Unlock()
	if h.cursor.Load() != e.record.Timestamp {
		h.cursor.Store(e.record.Timestamp)
		return e.record, nil, nil
	}
	return tag.Record{}, e.changed, tag.ErrWouldBlock
}

// Write stores record and wakes every handle waiting on the tag. The
// writer's own cursor is not advanced, so a handle that both writes and
// reads a tag observes its own writes.
func (h *Handle) Write(ctx context.Context, record tag.Record) error {
	if h.isClosed() {
		return tag.ErrClosed
	}
	e := h.entry
	if record.DType != e.dtype {
		return fmt.Errorf("%w: %s is %s, write is %s", tag.ErrTypeMismatch, e.name, e.dtype, record.DType)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	current := e.record.Timestamp
	timestamp := record.Timestamp
	if timestamp == 0 {
		timestamp = clock.Millis(h.store.clock)
		if timestamp <= current {
			timestamp = current + 1
		}
	} else if timestamp <= current {
		return fmt.Errorf("%w: %s has %d, write has %d", tag.ErrStaleTimestamp, e.name, current, timestamp)
	}

	e.record = tag.Record{
		Value:     record.Value,
		Timestamp: timestamp,
		Quality:   record.Quality,
		DType:     e.dtype,
	}
	close(e.changed)
	e.changed = make(chan struct{})
	return nil
}

// Ready reports whether Read would return immediately. A closed handle
// reports ready so that a multiplexed waiter calls Read and sees
// tag.ErrClosed instead of waiting forever.
func (h *Handle) Ready() bool {
	if h.isClosed() {
		return true
	}
	e := h.entry
	e.mu.Lock()
	defer e.mu.Unlock()
	return h.cursor.Load() != e.record.Timestamp
}

// Changed returns a channel closed once the handle is ready.
func (h *Handle) Changed() <-chan struct{} {
	if h.isClosed() {
		return closedChannel
	}
	e := h.entry
	e.mu.Lock()
	defer e.mu.Unlock()
	if h.cursor.Load() != e.record.Timestamp {
		return closedChannel
	}
	return e.changed
}

// WaitNewer blocks until the tag's timestamp differs from since and
// returns it. The cursor is not touched; the socket server uses this
// to push change notifications while the client owns the cursor.
func (h *Handle) WaitNewer(ctx context.Context, since uint64) (uint64, error) {
	e := h.entry
	for {
		if h.isClosed() {
			return 0, tag.ErrClosed
		}
		e.mu.Lock()
		timestamp := e.record.Timestamp
		wake := e.changed
		e.mu.Unlock()
		if timestamp != since {
			return timestamp, nil
		}
		select {
		case <-wake:
		case <-h.closed:
			return 0, tag.ErrClosed
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}

// Close releases the handle. Pending and future reads return
// tag.ErrClosed. Close is idempotent.
func (h *Handle) Close() error {
	h.closeOnce.Do(func() { close(h.closed) })
	return nil
}
