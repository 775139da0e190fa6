// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers: bounded channel
// assertions, short socket directories and stand-in executables.
package testutil
