// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package version holds build information for tagbus binaries.
//
// Four variables are injected with -ldflags -X:
//
//	go build -ldflags "-X github.com/bureau-foundation/tagbus/lib/version.GitCommit=$(git rev-parse --short HEAD)"
//
// They default to "unknown" and "0.1.0-dev" in development builds and
// tests. Every binary answers --version with [Print].
package version
