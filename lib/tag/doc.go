// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package tag defines the data model shared by every tagbus component:
// data types, quality codes, the fixed-layout tag record, tag names,
// tag-creation requests, text rendering, and the handle contract that
// both the in-process store and the socket client implement.
//
// A tag is a named, typed, versioned variable. Its timestamp (epoch
// milliseconds) doubles as its version: a write is accepted only when
// its timestamp is strictly greater than the stored one, and a reader
// handle is "ready" whenever the stored timestamp differs from the
// timestamp it last consumed.
//
// # Wire Layout
//
// [Record] marshals to a fixed 32-byte little-endian form:
//
//	offset  size  field
//	0       16    value (interpreted per dtype)
//	16      8     timestamp, epoch milliseconds
//	24      2     quality (status in the top 2 bits, vendor in the low 14)
//	26      1     dtype
//	27      5     zero padding
//
// [CreateRequest] marshals to 258 bytes: action ('+'), dtype, and a
// NUL-terminated name in a 256-byte field.
package tag
