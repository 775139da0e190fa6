// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package tag

import "context"

// Info describes a registered tag without its current state.
type Info struct {
	Index int    `json:"index"`
	Name  string `json:"name"`
	DType DType  `json:"dtype"`
}

// Handle is a consumer's session on one tag. Each handle carries a
// private cursor: the timestamp it last consumed. Handles on the same
// tag never share cursors.
//
// A Handle is used by one goroutine at a time, except that Close may
// be called concurrently with a blocked Read to cancel it.
type Handle interface {
	// Name returns the tag name the handle was opened on.
	Name() string

	// Index returns the tag's stable registry index.
	Index() int

	// DType returns the tag's data type.
	DType() DType

	// Read blocks until the tag's timestamp differs from the cursor,
	// then returns the record and advances the cursor. Returns
	// ErrClosed if the handle is closed while waiting, or ctx.Err()
	// on cancellation.
	Read(ctx context.Context) (Record, error)

	// TryRead is the non-blocking form of Read. Returns ErrWouldBlock
	// when nothing new is available.
	TryRead() (Record, error)

	// Write stores record. The record's DType must match the tag's
	// (ErrTypeMismatch) and its Timestamp must be strictly newer than
	// the stored one (ErrStaleTimestamp). A zero Timestamp asks the
	// store to stamp the current time.
	Write(ctx context.Context, record Record) error

	// Ready reports whether a Read would return without blocking.
	Ready() bool

	// Changed returns a channel that is closed once the handle is
	// ready. A fresh call is needed after each Read.
	Changed() <-chan struct{}

	// Close releases the handle and unblocks any pending Read.
	Close() error
}

// Opener opens handles by tag name. Opening an unknown name returns
// an error wrapping ErrNotFound.
type Opener interface {
	Open(ctx context.Context, name string) (Handle, error)
}

// Directory is an Opener that can also enumerate the registry.
type Directory interface {
	Opener
	List(ctx context.Context) ([]Info, error)
}
