// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package tagstore

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/bureau-foundation/tagbus/lib/clock"
	"github.com/bureau-foundation/tagbus/lib/tag"
)

// DefaultCapacity is the registry size used when none is configured.
const DefaultCapacity = 64

// Store owns every tag. The zero value is not usable; call New.
type Store struct {
	clock    clock.Clock
	capacity int

	mu      sync.RWMutex
	entries []*entry
	byName  map[string]*entry

	adminHeld atomic.Bool
}

// entry is one tag. Fields outside mu are immutable after creation.
type entry struct {
	index int
	name  string
	dtype tag.DType

	mu      sync.Mutex
	record  tag.Record
	changed chan struct{}
}

// New returns an empty store that holds at most capacity tags.
func New(capacity int, c clock.Clock) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{
		clock:    c,
		capacity: capacity,
		byName:   make(map[string]*entry),
	}
}

// Capacity returns the maximum number of tags.
func (s *Store) Capacity() int { return s.capacity }

// Len returns the number of registered tags.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Create registers a new tag with a zero value, UNCERTAIN quality, and
// the current time as its timestamp. Errors wrap tag.ErrFull,
// tag.ErrInvalidType, tag.ErrInvalidName, or tag.ErrDuplicateName, and
// leave the registry unchanged.
func (s *Store) Create(name string, dtype tag.DType) (tag.Info, error) {
	return s.create(name, dtype, true)
}

// create checks capacity, data type, name framing, name content, and
// uniqueness, in that order.
func (s *Store) create(name string, dtype tag.DType, terminated bool) (tag.Info, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.entries) >= s.capacity {
		return tag.Info{}, fmt.Errorf("%w: %d tags", tag.ErrFull, s.capacity)
	}
	if !dtype.Valid() {
		return tag.Info{}, fmt.Errorf("%w: %d", tag.ErrInvalidType, uint8(dtype))
	}
	if !terminated {
		return tag.Info{}, fmt.Errorf("%w: name is not NUL-terminated", tag.ErrInvalidName)
	}
	if err := tag.ValidateName(name); err != nil {
		return tag.Info{}, err
	}
	if _, exists := s.byName[name]; exists {
		return tag.Info{}, fmt.Errorf("%w: %s", tag.ErrDuplicateName, name)
	}

	timestamp := clock.Millis(s.clock)
	if timestamp == 0 {
		// A zero timestamp would equal every fresh handle's cursor.
		timestamp = 1
	}
	created := &entry{
		index: len(s.entries),
		name:  name,
		dtype: dtype,
		record: tag.Record{
			Timestamp: timestamp,
			Quality:   tag.Uncertain,
			DType:     dtype,
		},
		changed: make(chan struct{}),
	}
	s.entries = append(s.entries, created)
	s.byName[name] = created
	return created.info(), nil
}

func (e *entry) info() tag.Info {
	return tag.Info{Index: e.index, Name: e.name, DType: e.dtype}
}

func (s *Store) lookup(name string) (*entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	found, ok := s.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", tag.ErrNotFound, name)
	}
	return found, nil
}

// Lookup returns the registration of name.
func (s *Store) Lookup(name string) (tag.Info, error) {
	found, err := s.lookup(name)
	if err != nil {
		return tag.Info{}, err
	}
	return found.info(), nil
}

// List returns every tag in index order. The error is always nil; the
// signature matches tag.Directory.
func (s *Store) List(ctx context.Context) ([]tag.Info, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	infos := make([]tag.Info, len(s.entries))
	for i, registered := range s.entries {
		infos[i] = registered.info()
	}
	return infos, nil
}

// Snapshot returns the current record of name without touching any
// handle's cursor.
func (s *Store) Snapshot(name string) (tag.Record, error) {
	found, err := s.lookup(name)
	if err != nil {
		return tag.Record{}, err
	}
	found.mu.Lock()
	defer found.mu.Unlock()
	return found.record, nil
}

// Open returns a new handle on name as a tag.Handle.
func (s *Store) Open(ctx context.Context, name string) (tag.Handle, error) {
	handle, err := s.OpenHandle(name)
	if err != nil {
		return nil, err
	}
	return handle, nil
}

// OpenHandle returns a new handle on name. Its cursor starts at zero,
// so the first Read returns the current record immediately.
func (s *Store) OpenHandle(name string) (*Handle, error) {
	found, err := s.lookup(name)
	if err != nil {
		return nil, err
	}
	return &Handle{
		store:  s,
		entry:  found,
		closed: make(chan struct{}),
	}, nil
}
