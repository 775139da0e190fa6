// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time source.
//
// The tag store stamps writes with the clock, the control engine
// drives timer tags from its tickers and bounds its wait loop with its
// timers, and restart backoff measures run time with it. In production
// all of them use Real(). Tests use Fake():
//
//	c := clock.Fake(time.UnixMilli(10))
//	store := tagstore.New(64, c)
//	// ... start the goroutine under test ...
//	c.WaitForTimers(1)
//	c.Advance(2 * time.Second)
//
// WaitForTimers removes the race between a goroutine registering a
// ticker and the test advancing time past it.
package clock
