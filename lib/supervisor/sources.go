// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"sync"

	"github.com/bureau-foundation/tagbus/lib/clock"
	"github.com/bureau-foundation/tagbus/lib/readiness"
)

// queue is a readiness source over a FIFO of events pushed from other
// goroutines. It is ready while non-empty.
type queue[T any] struct {
	mu      sync.Mutex
	items   []T
	changed chan struct{}
}

var _ readiness.Source = (*queue[int])(nil)

func newQueue[T any]() *queue[T] {
	return &queue[T]{changed: make(chan struct{})}
}

func (q *queue[T]) push(item T) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, item)
	close(q.changed)
	q.changed = make(chan struct{})
}

// drain removes and returns every queued item without blocking.
func (q *queue[T]) drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}

func (q *queue[T]) Ready() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) > 0
}

func (q *queue[T]) Changed() <-chan struct{} {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) > 0 {
		return closedChannel
	}
	return q.changed
}

var closedChannel = func() chan struct{} {
	channel := make(chan struct{})
	close(channel)
	return channel
}()

// tickSource turns a clock ticker into a level-triggered source: it is
// ready from a tick until take is called. Ticks that arrive while it is
// already ready coalesce.
type tickSource struct {
	ticker *clock.Ticker
	done   chan struct{}

	mu      sync.Mutex
	pending bool
	changed chan struct{}
}

func newTickSource(ticker *clock.Ticker) *tickSource {
	source := &tickSource{
		ticker:  ticker,
		done:    make(chan struct{}),
		changed: make(chan struct{}),
	}
	go source.forward()
	return source
}

func (s *tickSource) forward() {
	for {
		select {
		case <-s.ticker.C:
			s.mu.Lock()
			if !s.pending {
				s.pending = true
				close(s.changed)
				s.changed = make(chan struct{})
			}
			s.mu.Unlock()
		case <-s.done:
			return
		}
	}
}

func (s *tickSource) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

func (s *tickSource) Changed() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending {
		return closedChannel
	}
	return s.changed
}

// take consumes a pending tick.
func (s *tickSource) take() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	pending := s.pending
	s.pending = false
	return pending
}

func (s *tickSource) stop() {
	s.ticker.Stop()
	close(s.done)
}
