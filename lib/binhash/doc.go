// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package binhash computes content digests of rule binaries and rule
// scripts.
//
// The control engine hashes every rule when it is discovered and again
// before each restart. The digest appears in the launch log line, and a
// changed digest on restart is logged so an operator can tell a crash
// loop from a deliberately replaced rule.
//
// Digests are keyed BLAKE3 under a fixed rule-domain key, so they never
// collide with any other BLAKE3 value computed over the same bytes.
package binhash
