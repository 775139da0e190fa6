// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process holds entrypoint helpers shared by tagbus binaries.
//
// Every main follows the same shape:
//
//	func main() {
//		if err := run(); err != nil {
//			process.Fatal(err)
//		}
//	}
//
// Fatal is one of the few places that writes to stderr directly; past
// that point all output goes through the structured logger.
package process
