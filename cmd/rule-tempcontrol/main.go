// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Rule-tempcontrol is a PID thermostat. Every tick of timer.4sec it
// compares the thermostat setpoint with the measured temperature and
// drives the boiler power output.
package main

import (
	"time"

	"github.com/bureau-foundation/tagbus/lib/plant"
	"github.com/bureau-foundation/tagbus/lib/process"
	"github.com/bureau-foundation/tagbus/lib/rule"
	"github.com/bureau-foundation/tagbus/lib/tag"
)

var declaration = rule.Declaration{
	Name: "rule-tempcontrol",
	Bindings: []rule.Binding{
		{Local: "pv", Mode: rule.Input, DType: tag.Real64, Tag: "tstat.PV.degC"},
		{Local: "sp", Mode: rule.Input, DType: tag.Real64, Tag: "tstat.SP.degC"},
		{Local: "timer", Mode: rule.Input, DType: tag.UInt32, Tag: "timer.4sec"},
		{Local: "power", Mode: rule.Output, DType: tag.Real64, Tag: "outputPower.W"},
		{Local: "kp", Mode: rule.Input, DType: tag.Real64, Tag: "PID.KP"},
		{Local: "ki", Mode: rule.Input, DType: tag.Real64, Tag: "PID.KI"},
		{Local: "kd", Mode: rule.Input, DType: tag.Real64, Tag: "PID.KD"},
	},
	Trigger: "timer",
}

// timerInterval matches the trigger tag.
const timerInterval = 4 * time.Second

type thermostat struct {
	pid plant.PID
}

func (t *thermostat) Init(c *rule.Context) error {
	t.pid = plant.PID{Interval: timerInterval}
	return nil
}

func (t *thermostat) Exec(c *rule.Context) error {
	gains := plant.Gains{
		KP: c.Float64("kp"),
		KI: c.Float64("ki"),
		KD: c.Float64("kd"),
	}
	output := t.pid.Update(gains, c.Float64("sp"), c.Float64("pv"))
	return c.SetFloat64("power", plant.BoilerOutput(output))
}

func main() {
	if err := rule.Main(declaration, &thermostat{}); err != nil {
		process.Fatal(err)
	}
}
