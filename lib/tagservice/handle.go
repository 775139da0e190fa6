// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package tagservice

import (
	"context"
	"errors"
	"sync"

	"github.com/bureau-foundation/tagbus/lib/tag"
)

var closedChannel = func() chan struct{} {
	channel := make(chan struct{})
	close(channel)
	return channel
}()

// Handle is a remote tag handle. The cursor lives here: tagd pushes
// the latest timestamp of the tag and Ready compares it against the
// last record this handle consumed.
type Handle struct {
	client *Client
	id     uint64
	name   string
	index  int
	dtype  tag.DType

	mu      sync.Mutex
	cursor  uint64
	latest  uint64
	changed chan struct{}
	closed  bool
}

var _ tag.Handle = (*Handle)(nil)

func (h *Handle) Name() string { return h.name }
func (h *Handle) Index() int { return h.index }
func (h *Handle) DType() tag.DType { return h.dtype }

// advance records a newer timestamp pushed by tagd.
func (h *Handle) advance(timestamp uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if timestamp <= h.latest {
		return
	}
	h.latest = timestamp
	h.wakeLocked()
}

func (h *Handle) wakeLocked() {
	close(h.changed)
	h.changed = make(chan struct{})
}

// disconnect marks the handle closed after the connection dropped.
func (h *Handle) disconnect() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.closed {
		h.closed = true
		h.wakeLocked()
	}
}

func (h *Handle) consumed(record tag.Record) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cursor = record.Timestamp
	if record.Timestamp > h.latest {
		h.latest = record.Timestamp
	}
}

func (h *Handle) isClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// Read blocks in tagd until the tag holds a record this handle has not
// consumed.
func (h *Handle) Read(ctx context.Context) (tag.Record, error) {
	return h.read(ctx, ActionRead)
}

// TryRead returns an error wrapping tag.ErrWouldBlock when nothing new
// is available.
func (h *Handle) TryRead() (tag.Record, error) {
	return h.read(context.Background(), ActionTryRead)
}

func (h *Handle) read(ctx context.Context, action string) (tag.Record, error) {
	if h.isClosed() {
		return tag.Record{}, tag.ErrClosed
	}
	var result ReadResult
	if err := h.client.call(ctx, Request{Action: action, Handle: h.id}, &result); err != nil {
		if errors.Is(err, ErrDisconnected) {
			return tag.Record{}, errors.Join(tag.ErrClosed, err)
		}
		return tag.Record{}, err
	}
	var record tag.Record
	if err := record.UnmarshalBinary(result.Record); err != nil {
		return tag.Record{}, err
	}
	h.consumed(record)
	return record, nil
}

// Write sends record to tagd.
func (h *Handle) Write(ctx context.Context, record tag.Record) error {
	if h.isClosed() {
		return tag.ErrClosed
	}
	data, err := record.MarshalBinary()
	if err != nil {
		return err
	}
	return h.client.call(ctx, Request{Action: ActionWrite, Handle: h.id, Record: data}, nil)
}

// Ready reports whether tagd has announced a record newer than the
// cursor. A closed handle reports ready.
func (h *Handle) Ready() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed || h.latest != h.cursor
}

// Changed returns a channel closed once the handle is ready.
func (h *Handle) Changed() <-chan struct{} {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed || h.latest != h.cursor {
		return closedChannel
	}
	return h.changed
}

// Close releases the handle in tagd. A Read blocked in another
// goroutine returns tag.ErrClosed.
func (h *Handle) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.wakeLocked()
	h.mu.Unlock()

	h.client.mu.Lock()
	delete(h.client.handles, h.id)
	h.client.mu.Unlock()

	err := h.client.call(context.Background(), Request{Action: ActionClose, Handle: h.id}, nil)
	if errors.Is(err, ErrDisconnected) {
		return nil
	}
	return err
}
