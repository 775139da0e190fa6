// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package supervisor implements the control engine: it discovers rule
// programs and timer tags, launches every rule, increments each
// timer.<n>sec tag every n seconds, and reaps rules as they exit.
//
// The engine runs until the kill-switch tag (master.on) reads zero and
// every rule it launched has exited. Rules observe the same kill-switch
// and wind down on their own. On the way out every timer tag is written
// with DISCONNECTED quality so consumers can tell a stopped plant from
// a quiet one.
//
// The lifecycle is a short state machine:
//
//	Starting -> Daemonized -> Running -> Draining -> Stopped
//
// [Supervisor.Prepare] runs in Starting and fails fast on anything an
// operator must fix (no rules directory, a malformed timer, a missing
// kill-switch). The caller then detaches and takes the pid lock (see
// lib/daemon) and calls [Supervisor.MarkDaemonized]. [Supervisor.Run]
// owns the rest.
//
// Rule exits are handled by a [RestartPolicy]: never, on failure, or
// always, with exponential backoff. No rule is restarted once the
// kill-switch reads zero.
package supervisor
