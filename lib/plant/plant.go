// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package plant holds the process math of the example house-heating
// rules: a PID thermostat with a boiler output stage, a heat-loss house
// model and a synthetic outside temperature.
package plant

import (
	"math"
	"time"
)

// Boiler output limits in watts. Below MinFiring the burner is off;
// between MinFiring and MinOutput it runs at MinOutput.
const (
	MinFiring = 1500.0
	MinOutput = 3000.0
	MaxOutput = 24000.0
)

// Gains are PID tuning constants. They are tags, so they can change
// between steps.
type Gains struct {
	KP float64
	KI float64
	KD float64
}

// PID is a fixed-interval PID controller.
type PID struct {
	// Interval is the time between Update calls.
	Interval time.Duration

	// Bias is added to every output.
	Bias float64

	integral float64
	previous float64
}

// Update advances the controller one interval and returns the raw
// output for the given setpoint and measurement.
func (p *PID) Update(gains Gains, setpoint, measured float64) float64 {
	dt := p.Interval.Seconds()
	err := setpoint - measured
	p.integral += err * dt
	derivative := 0.0
	if dt > 0 {
		derivative = (err - p.previous) / dt
	}
	p.previous = err
	return gains.KP*err + gains.KI*p.integral + gains.KD*derivative + p.Bias
}

// Integral returns the accumulated error-seconds.
func (p *PID) Integral() float64 { return p.integral }

// BoilerOutput maps a controller output onto what the boiler can
// deliver.
func BoilerOutput(output float64) float64 {
	switch {
	case output < MinFiring:
		return 0
	case output < MinOutput:
		return MinOutput
	case output > MaxOutput:
		return MaxOutput
	}
	return output
}

// House is the heat-loss model: heat escapes in proportion to floor
// area, the loss coefficient and the inside/outside difference.
type House struct {
	// Area in square metres.
	Area float64

	// Coefficient in W/(degC*m2).
	Coefficient float64
}

// Step returns the inside temperature one second later given the
// heater power in watts. A house with no loss capacity keeps its
// temperature.
func (h House) Step(inside, outside, power float64) float64 {
	capacity := h.Area * h.Coefficient
	if capacity == 0 {
		return inside
	}
	loss := capacity * (inside - outside)
	return inside + (power-loss)/capacity
}

// OutsideTemperature is a cosine day: Amplitude*cos(2*pi*t/Period),
// advanced one tick per call.
type OutsideTemperature struct {
	Amplitude float64

	// Period is the number of ticks per cycle.
	Period int

	ticks int
}

// Next returns the temperature at the current tick and advances.
func (o *OutsideTemperature) Next() float64 {
	if o.Period <= 0 {
		return o.Amplitude
	}
	value := o.Amplitude * math.Cos(float64(o.ticks)*2*math.Pi/float64(o.Period))
	o.ticks = (o.ticks + 1) % o.Period
	return value
}
