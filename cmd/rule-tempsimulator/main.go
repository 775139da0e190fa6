// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Rule-tempsimulator drives sim.outsideTemp.degC through a one-hour
// cosine cycle, one step per tick of timer.1sec.
package main

import (
	"github.com/bureau-foundation/tagbus/lib/plant"
	"github.com/bureau-foundation/tagbus/lib/process"
	"github.com/bureau-foundation/tagbus/lib/rule"
	"github.com/bureau-foundation/tagbus/lib/tag"
)

var declaration = rule.Declaration{
	Name: "rule-tempsimulator",
	Bindings: []rule.Binding{
		{Local: "outside", Mode: rule.Output, DType: tag.Real64, Tag: "sim.outsideTemp.degC"},
		{Local: "timer", Mode: rule.Input, DType: tag.UInt32, Tag: "timer.1sec"},
	},
	Trigger: "timer",
}

type simulator struct {
	outside plant.OutsideTemperature
}

func (s *simulator) Init(c *rule.Context) error {
	s.outside = plant.OutsideTemperature{Amplitude: 17, Period: 3600}
	return nil
}

func (s *simulator) Exec(c *rule.Context) error {
	return c.SetFloat64("outside", s.outside.Next())
}

func main() {
	if err := rule.Main(declaration, &simulator{}); err != nil {
		process.Fatal(err)
	}
}
