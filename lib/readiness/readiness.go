// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package readiness waits on several sources at once and reports
// which of them can be consumed without blocking.
//
// A Source is anything with a level-triggered readiness bit and a
// channel that closes (or receives) when the bit may have flipped:
// tag handles from lib/tagstore and lib/tagservice, and the timer and
// child-exit sources of the supervisor.
package readiness

import (
	"context"
	"errors"
	"reflect"
	"time"

	"github.com/bureau-foundation/tagbus/lib/clock"
)

// Source is one input to Wait.
type Source interface {
	// Ready reports whether consuming the source would not block.
	Ready() bool

	// Changed returns a channel that becomes receivable once Ready
	// may have changed. Wait calls it afresh on every iteration.
	Changed() <-chan struct{}
}

// ErrNoSources is returned by Wait when given nothing to wait on and
// no timeout.
var ErrNoSources = errors.New("readiness: no sources and no timeout")

// Wait returns the indices of every ready source. If none is ready it
// blocks until one becomes ready, the timeout elapses, or ctx ends.
// A timeout <= 0 waits without bound. On timeout the result is empty
// and the error nil.
func Wait(ctx context.Context, clk clock.Clock, timeout time.Duration, sources []Source) ([]int, error) {
	if ready := scan(sources); len(ready) > 0 {
		return ready, nil
	}
	if len(sources) == 0 && timeout <= 0 {
		return nil, ErrNoSources
	}

	var expired <-chan time.Time
	if timeout > 0 {
		timer := clk.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	// cases: one per source, then ctx.Done, then the timer.
	cases := make([]reflect.SelectCase, len(sources)+2)
	for {
		for i, source := range sources {
			cases[i] = reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(source.Changed())}
		}
		cases[len(sources)] = reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(ctx.Done())}
		cases[len(sources)+1] = reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(expired)}

		chosen, _, _ := reflect.Select(cases)
		switch chosen {
		case len(sources):
			return nil, ctx.Err()
		case len(sources) + 1:
			return scan(sources), nil
		}
		// A change channel fired; it may be a spurious wake for a
		// record another reader already consumed.
		if ready := scan(sources); len(ready) > 0 {
			return ready, nil
		}
	}
}

func scan(sources []Source) []int {
	var ready []int
	for i, source := range sources {
		if source.Ready() {
			ready = append(ready, i)
		}
	}
	return ready
}
