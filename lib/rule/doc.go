// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package rule runs a reactive control rule against the tag bus.
//
// A rule is declared as data: a list of bindings from local names to
// tags, each marked input ('I'), output ('O') or both ('B'), and the
// local name of the trigger input. Run opens every binding plus the
// kill-switch, checks data types, seeds the value cache, calls Init,
// and then loops:
//
//	while master.on != 0:
//	    wait until at least one input is ready
//	    read every ready input into the cache
//	    if the trigger was among them, call Exec once
//
// Exec sees a consistent cache: every input that changed during the
// wait has already been read. Outputs written through the Context are
// stamped by the store and carry GOOD quality.
//
// Binding mistakes (unknown tag, wrong data type, trigger that is not
// an input) and any read or write failure on an open handle end the
// rule with an error. The supervisor decides whether to restart it.
package rule
