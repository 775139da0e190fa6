// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec holds the CBOR configuration shared by the tag socket
// protocol and every other CBOR producer in the module.
//
// The tag daemon and its clients exchange a stream of CBOR values over
// a Unix socket. CBOR is self-delimiting, so the stream needs no
// additional framing. Encoding is deterministic: the same logical
// message always produces identical bytes, which keeps golden tests
// and protocol dumps stable.
//
// Buffer-oriented use:
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// Stream-oriented use:
//
//	encoder := codec.NewEncoder(conn)
//	decoder := codec.NewDecoder(conn)
//
// Types that only ever travel as CBOR use `cbor` struct tags. Types
// that are also printed as JSON by tagctl use `json` tags, which
// fxamacker/cbor reads as a fallback. A field never carries both.
package codec
