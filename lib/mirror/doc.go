// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package mirror republishes tag changes to Redis.
//
// Every record observed on a mirrored tag is written to the hash
// tagbus:{instance}:tag:{name} with the fields dtype, quality,
// timestamp and value (machine text form), then published as a relay
// name line ("n <name> <quality> <timestamp> <value>") on the channel
// tagbus:{instance}:tag_events. Keys are namespaced by instance so
// several tag daemons can share one Redis server.
//
// A mirror of every tag lists the registry once per rescan interval
// and starts mirroring new tags as they appear.
//
// The mirror is a read-only consumer of the store: it holds ordinary
// handles and never writes tags.
package mirror
