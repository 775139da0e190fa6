// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package tagservice carries tag handles across process boundaries.
//
// tagd owns the tagstore.Store and serves it on a Unix socket. Each
// client process (a rule, the control engine, tagctl) keeps a single
// connection open and multiplexes all of its handles and requests over
// it as a stream of CBOR messages:
//
//	client -> tagd   Request{id, action, handle, name, record, create, target}
//	tagd -> client   Message{id, ok, error, code, data}
//	tagd -> client   Message{notify: {handle, timestamp}}
//
// Every request runs in its own goroutine on the server, so a blocking
// read on one handle never delays a write on another. A blocked read
// ends when the tag changes, when its handle is closed, or when the
// client sends cancel{target} for it.
//
// The cursor of a remote handle lives in the client. tagd pushes a
// notification whenever a handle's tag moves to a newer timestamp;
// Ready and Changed compare that against the last consumed record
// without a round trip, which lets lib/readiness wait on remote and
// in-process handles alike.
//
// Failures travel as a stable code (see tag.Code). The client returns
// them as *ServiceError, which unwraps to the matching tag sentinel.
// Dropping the connection releases every handle and the creation
// session the client held.
package tagservice
