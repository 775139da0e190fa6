// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"math"
	"testing"

	"github.com/bureau-foundation/tagbus/lib/rule"
	"github.com/bureau-foundation/tagbus/lib/rule/ruletest"
	"github.com/bureau-foundation/tagbus/lib/tag"
)

func TestHouseCoolsAndHeats(t *testing.T) {
	var tags []ruletest.Tag
	for _, binding := range declaration.Bindings {
		tags = append(tags, ruletest.Tag{Name: binding.Tag, DType: binding.DType})
	}
	h := ruletest.New(t, tags...)
	h.SetFloat64("tstat.PV.degC", 20)
	h.SetFloat64("sim.outsideTemp.degC", 10)
	h.SetFloat64("coeff.heatloss.W_degCm2", 2)
	h.Set("houseSize.m2", tag.Int32Value(100))
	h.SetFloat64("outputPower.W", 3000)

	pv := h.Watch("tstat.PV.degC")
	h.Start(declaration, rule.Funcs{ExecFunc: exec})

	// 200 W/degC loses 2000 W at a 10 degree difference; the 1000 W
	// surplus raises the reading by 5 degrees.
	h.Set("timer.1sec", tag.UInt32Value(1))
	if got := pv.Next().Value.Real64(); math.Abs(got-25) > 1e-9 {
		t.Fatalf("pv = %v, want 25", got)
	}

	// The next step starts from the value the rule wrote.
	h.SetFloat64("outputPower.W", 0)
	h.Set("timer.1sec", tag.UInt32Value(2))
	if got := pv.Next().Value.Real64(); math.Abs(got-10) > 1e-9 {
		t.Fatalf("pv = %v, want 10", got)
	}

	if err := h.Stop(); err != nil {
		t.Fatalf("rule stopped with %v", err)
	}
}
