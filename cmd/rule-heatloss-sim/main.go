// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Rule-heatloss-sim simulates the house: every tick of timer.1sec it
// moves the thermostat reading by the balance of boiler power against
// heat lost to the outside.
package main

import (
	"github.com/bureau-foundation/tagbus/lib/plant"
	"github.com/bureau-foundation/tagbus/lib/process"
	"github.com/bureau-foundation/tagbus/lib/rule"
	"github.com/bureau-foundation/tagbus/lib/tag"
)

var declaration = rule.Declaration{
	Name: "rule-heatloss-sim",
	Bindings: []rule.Binding{
		{Local: "pv", Mode: rule.Output, DType: tag.Real64, Tag: "tstat.PV.degC"},
		{Local: "outside", Mode: rule.Input, DType: tag.Real64, Tag: "sim.outsideTemp.degC"},
		{Local: "power", Mode: rule.Input, DType: tag.Real64, Tag: "outputPower.W"},
		{Local: "coeff", Mode: rule.Input, DType: tag.Real64, Tag: "coeff.heatloss.W_degCm2"},
		{Local: "size", Mode: rule.Input, DType: tag.Int32, Tag: "houseSize.m2"},
		{Local: "timer", Mode: rule.Input, DType: tag.UInt32, Tag: "timer.1sec"},
	},
	Trigger: "timer",
}

// The thermostat reading is an output: the cached value is the last
// one this rule wrote.
func exec(c *rule.Context) error {
	house := plant.House{
		Area:        float64(c.Int64("size")),
		Coefficient: c.Float64("coeff"),
	}
	inside := house.Step(c.Float64("pv"), c.Float64("outside"), c.Float64("power"))
	return c.SetFloat64("pv", inside)
}

func main() {
	if err := rule.Main(declaration, rule.Funcs{ExecFunc: exec}); err != nil {
		process.Fatal(err)
	}
}
