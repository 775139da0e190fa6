// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for tagbus
// binaries.
//
// Configuration comes from a single file named by the --config flag or
// the TAGBUS_CONFIG environment variable (via [Resolve] and [Load]), or
// from [Default] when neither is set. Values absent from the file keep
// their defaults. There is no automatic file search.
//
// Variable expansion is performed on path fields after loading:
// ${HOME} and ${VAR:-default} patterns are expanded. The default socket
// path is "${TAGBUS_SOCKET:-/run/tagbus/tagd.sock}", so the socket
// environment variable applies unless a file overrides the field.
//
// Key exports:
//
//   - [Config] -- store, engine, mirror and logging sections
//   - [Default] -- the built-in configuration
//   - [Resolve], [Load] and [LoadFile] -- the entry points for loading
//   - [StaticTag.Initial] -- resolves a configured tag to its dtype and
//     initial record
package config
