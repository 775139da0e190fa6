// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package daemon provides the single-instance daemon posture of the
// control engine.
//
// [Detach] re-executes the running binary in a new session with its
// standard streams on /dev/null and a marker variable in its
// environment; the child sees [Detached] report true and carries on
// where the parent left off. The parent exits once the child has
// started.
//
// [AcquireLock] takes an exclusive, non-blocking flock on a pid file
// and writes the holder's pid into it. The kernel drops the lock when
// the holder exits, so a crashed engine never leaves a stale lock.
package daemon
