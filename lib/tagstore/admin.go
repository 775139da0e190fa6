// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package tagstore

import (
	"fmt"
	"sync/atomic"

	"github.com/bureau-foundation/tagbus/lib/tag"
)

// AdminSession is the exclusive tag-creation channel. Only one
// session exists at a time per store.
type AdminSession struct {
	store  *Store
	closed atomic.Bool
}

// OpenAdmin claims the creation channel. Returns tag.ErrBusy while
// another session is open.
func (s *Store) OpenAdmin() (*AdminSession, error) {
	if !s.adminHeld.CompareAndSwap(false, true) {
		return nil, tag.ErrBusy
	}
	return &AdminSession{store: s}, nil
}

// Create registers a tag through the session.
func (a *AdminSession) Create(name string, dtype tag.DType) (tag.Info, error) {
	if a.closed.Load() {
		return tag.Info{}, tag.ErrClosed
	}
	return a.store.create(name, dtype, true)
}

// Submit decodes a raw 258-byte creation request and applies it.
// Validation order: action, capacity, data type, NUL termination,
// empty name, name characters, uniqueness.
func (a *AdminSession) Submit(data []byte) (tag.Info, error) {
	if a.closed.Load() {
		return tag.Info{}, tag.ErrClosed
	}
	var request tag.CreateRequest
	if err := request.UnmarshalBinary(data); err != nil {
		return tag.Info{}, err
	}
	if request.Action != tag.ActionCreate {
		return tag.Info{}, fmt.Errorf("%w: action %q", tag.ErrInvalidAction, request.Action)
	}
	return a.store.create(request.Name, request.DType, request.Terminated())
}

// Close releases the creation channel. Close is idempotent.
func (a *AdminSession) Close() error {
	if a.closed.CompareAndSwap(false, true) {
		a.store.adminHeld.Store(false)
	}
	return nil
}
