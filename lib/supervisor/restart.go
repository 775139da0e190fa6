// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"fmt"
	"time"

	"github.com/bureau-foundation/tagbus/lib/config"
)

// RestartPolicy decides whether an exited rule is started again and
// how long to wait first.
type RestartPolicy struct {
	// Mode is config.RestartNever, config.RestartOnFailure or
	// config.RestartAlways.
	Mode string

	// InitialBackoff is the first delay. Each consecutive restart
	// doubles it up to MaxBackoff.
	InitialBackoff time.Duration

	// MaxBackoff caps the delay. A run lasting at least MaxBackoff
	// resets the delay to InitialBackoff.
	MaxBackoff time.Duration
}

// DefaultRestartPolicy restarts failed rules after 1s, doubling to 30s.
func DefaultRestartPolicy() RestartPolicy {
	return RestartPolicy{
		Mode:           config.RestartOnFailure,
		InitialBackoff: time.Second,
		MaxBackoff:     30 * time.Second,
	}
}

// RestartPolicyFromConfig converts an engine restart section.
func RestartPolicyFromConfig(restart config.RestartConfig) (RestartPolicy, error) {
	initial, maximum, err := restart.Backoff()
	if err != nil {
		return RestartPolicy{}, err
	}
	return RestartPolicy{Mode: restart.Policy, InitialBackoff: initial, MaxBackoff: maximum}, nil
}

func (p RestartPolicy) validate() error {
	switch p.Mode {
	case config.RestartNever:
		return nil
	case config.RestartOnFailure, config.RestartAlways:
	default:
		return fmt.Errorf("unknown restart policy %q", p.Mode)
	}
	if p.InitialBackoff <= 0 || p.MaxBackoff < p.InitialBackoff {
		return fmt.Errorf("restart backoff %s..%s is invalid", p.InitialBackoff, p.MaxBackoff)
	}
	return nil
}

// ShouldRestart reports whether a rule that exited with exitErr is
// restarted.
func (p RestartPolicy) ShouldRestart(exitErr error) bool {
	switch p.Mode {
	case config.RestartAlways:
		return true
	case config.RestartOnFailure:
		return exitErr != nil
	}
	return false
}

// NextBackoff returns the delay before the next restart given the
// previous delay (zero for none) and how long the rule ran.
func (p RestartPolicy) NextBackoff(previous, ran time.Duration) time.Duration {
	if previous == 0 || ran >= p.MaxBackoff {
		return p.InitialBackoff
	}
	next := previous * 2
	if next > p.MaxBackoff {
		next = p.MaxBackoff
	}
	return next
}
