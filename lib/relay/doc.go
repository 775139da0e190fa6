// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package relay streams tag changes as line-oriented text.
//
// A relay stream starts with one announcement line per tag, giving
// the zero-based stream index, the name and the numeric dtype:
//
//	a 0 tstat.PV.degC 11
//	a 1 timer.1sec 7
//
// A blank line ends the header. Every following line carries one
// record in the partial text form (quality, timestamp, value), either
// index-addressed or, with name addressing, name-addressed:
//
//	i 1 49152 1767225600000 42
//	n timer.1sec 49152 1767225600000 42
//
// The initial value of every tag follows the header, then one line per
// observed change. Changes are last-value-wins: a tag written twice
// between reads reports only the second record.
//
// [Open] and [Session.Follow] are the reusable core; [Run] writes the
// text protocol and lib/mirror republishes the same stream to Redis.
package relay
