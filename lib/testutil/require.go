// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"fmt"
	"time"
)

// T is the subset of testing.TB the helpers need.
type T interface {
	Helper()
	Fatalf(format string, args ...any)
}

// RequireReceive returns the next value from ch, failing the test if
// none arrives within timeout or ch is closed.
//
//	record := testutil.RequireReceive(t, results, 5*time.Second, "blocked read")
func RequireReceive[V any](t T, ch <-chan V, timeout time.Duration, msgAndArgs ...any) V {
	t.Helper()
	timer := time.NewTimer(timeout) //nolint:realclock test hang prevention
	defer timer.Stop()
	select {
	case v, ok := <-ch:
		if !ok {
			t.Fatalf("%s: channel closed without a value", describe(msgAndArgs))
		}
		return v
	case <-timer.C:
		t.Fatalf("%s: nothing received within %v", describe(msgAndArgs), timeout)
	}
	panic("unreachable")
}

// RequireClosed waits up to timeout for ch to close (or deliver).
// Handle change channels signal by closing.
//
//	testutil.RequireClosed(t, handle.Changed(), 5*time.Second, "change after write")
func RequireClosed(t T, ch <-chan struct{}, timeout time.Duration, msgAndArgs ...any) {
	t.Helper()
	timer := time.NewTimer(timeout) //nolint:realclock test hang prevention
	defer timer.Stop()
	select {
	case <-ch:
	case <-timer.C:
		t.Fatalf("%s: channel still open after %v", describe(msgAndArgs), timeout)
	}
}

// RequireNotReceived fails the test if ch yields a value or closes
// within wait, asserting that a blocked operation stays blocked.
func RequireNotReceived[V any](t T, ch <-chan V, wait time.Duration, msgAndArgs ...any) {
	t.Helper()
	timer := time.NewTimer(wait) //nolint:realclock test hang prevention
	defer timer.Stop()
	select {
	case <-ch:
		t.Fatalf("%s: unexpected receive", describe(msgAndArgs))
	case <-timer.C:
	}
}

// describe renders the optional message: a plain value, or a format
// string and its arguments.
func describe(msgAndArgs []any) string {
	switch {
	case len(msgAndArgs) == 0:
		return "channel"
	case len(msgAndArgs) == 1:
		return fmt.Sprint(msgAndArgs[0])
	}
	if format, ok := msgAndArgs[0].(string); ok {
		return fmt.Sprintf(format, msgAndArgs[1:]...)
	}
	return fmt.Sprint(msgAndArgs...)
}
