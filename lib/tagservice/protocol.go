// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package tagservice

import (
	"os"

	"github.com/bureau-foundation/tagbus/lib/codec"
	"github.com/bureau-foundation/tagbus/lib/tag"
)

// DefaultSocketPath is where tagd listens unless configured otherwise.
const DefaultSocketPath = "/run/tagbus/tagd.sock"

// SocketEnv overrides DefaultSocketPath for clients.
const SocketEnv = "TAGBUS_SOCKET"

// SocketPath returns the socket clients should dial: $TAGBUS_SOCKET
// if set, DefaultSocketPath otherwise.
func SocketPath() string {
	if path := os.Getenv(SocketEnv); path != "" {
		return path
	}
	return DefaultSocketPath
}

// Action names.
const (
	ActionOpen       = "open"
	ActionClose      = "close"
	ActionRead       = "read"
	ActionTryRead    = "try-read"
	ActionWrite      = "write"
	ActionList       = "list"
	ActionCancel     = "cancel"
	ActionAdminOpen  = "admin-open"
	ActionCreate     = "create"
	ActionAdminClose = "admin-close"
)

// Request is a client-to-server message. ID is chosen by the client,
// unique among its in-flight requests, and never zero. Only the fields
// an action uses are set.
type Request struct {
	ID     uint64 `cbor:"id"`
	Action string `cbor:"action"`

	// Handle addresses an open handle (close, read, try-read, write).
	Handle uint64 `cbor:"handle,omitempty"`

	// Name is the tag to open.
	Name string `cbor:"name,omitempty"`

	// Record is a 32-byte tag.Record (write).
	Record []byte `cbor:"record,omitempty"`

	// Create is a 258-byte tag.CreateRequest (create).
	Create []byte `cbor:"create,omitempty"`

	// Target is the ID of the request to abandon (cancel).
	Target uint64 `cbor:"target,omitempty"`
}

// Message is a server-to-client message: either the reply to a
// request (ID set) or a change notification (Notify set).
type Message struct {
	ID    uint64           `cbor:"id,omitempty"`
	OK    bool             `cbor:"ok,omitempty"`
	Error string           `cbor:"error,omitempty"`
	Code  string           `cbor:"code,omitempty"`
	Data  codec.RawMessage `cbor:"data,omitempty"`

	Notify *Notification `cbor:"notify,omitempty"`
}

// Notification tells a client that the tag behind Handle now carries
// Timestamp. The client's cursor is not touched; a read is still
// needed to consume the record.
type Notification struct {
	Handle    uint64 `cbor:"handle"`
	Timestamp uint64 `cbor:"timestamp"`
}

// OpenResult is the data of a successful open.
type OpenResult struct {
	Handle    uint64    `cbor:"handle"`
	Index     int       `cbor:"index"`
	DType     tag.DType `cbor:"dtype"`
	Timestamp uint64    `cbor:"timestamp"`
}

// ReadResult is the data of a successful read or try-read.
type ReadResult struct {
	Record []byte `cbor:"record"`
}
