// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package rulescript runs rules written in Starlark on the same
// reactive loop as compiled rules.
//
// A script declares its bindings and trigger as globals and defines
// exec, plus optionally init and NAME:
//
//	NAME = "rule-double"
//	TAGS = [
//	    ("sensor", "I", "real64", "sensor.a"),
//	    ("timer",  "I", "uint32", "timer.1sec"),
//	    ("out",    "O", "real64", "out.b"),
//	]
//	TRIGGER = "timer"
//
//	def init(state):
//	    state["runs"] = 0
//
//	def exec(values, state):
//	    state["runs"] += 1
//	    return {"out": values["sensor"] * 2}
//
// values maps every local name to its cached value: ints for integer
// and timestamp tags, floats for reals, strings for strings. state is
// a dict that persists across calls. exec returns None or a dict of
// outputs to write; every key must be an output or both-mode binding.
//
// Each init or exec call runs on a fresh thread with a step budget, so
// a runaway loop fails the rule instead of hanging it.
package rulescript
