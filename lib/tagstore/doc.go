// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package tagstore is the tag registry and engine: an owned table of
// tags addressed by name or stable index, one mutex per tag, versioned
// writes, and blocking reads driven by per-handle cursors.
//
// Each tag keeps a change channel that a write closes and replaces.
// A reader that finds nothing new grabs the current channel under the
// tag's lock, releases the lock, and waits on it; after waking it
// re-checks under the lock. Because the channel is captured while the
// lock is held, a write landing between the check and the wait still
// closes the channel the reader is waiting on, so no wakeup is lost.
// Writers never wait for readers.
//
// Only one lock is ever held at a time: the registry lock for lookups
// and creation, or a single tag's lock for reads and writes.
//
// The creation channel is an AdminSession. At most one exists at a
// time across the store; a second OpenAdmin returns tag.ErrBusy until
// the first is closed.
package tagstore
