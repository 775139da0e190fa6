// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"fmt"
	"os/exec"
)

// Process is a running rule.
type Process interface {
	// Pid returns the operating system process id, or 0 when there is
	// none.
	Pid() int

	// Wait blocks until the process exits. A nil error is a clean
	// exit; anything else counts as a failure for the restart policy.
	Wait() error
}

// Launcher starts rule programs.
type Launcher interface {
	Launch(spec RuleSpec) (Process, error)
}

// ExecLauncher starts rules as child processes with stdio on the null
// device.
type ExecLauncher struct {
	// Env is the child environment. Nil starts rules with an empty
	// environment.
	Env []string
}

// Launch implements Launcher.
func (l ExecLauncher) Launch(spec RuleSpec) (Process, error) {
	cmd := exec.Command(spec.Path, spec.Args...)
	cmd.Env = l.Env
	if cmd.Env == nil {
		cmd.Env = []string{}
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting rule %s: %w", spec.Name, err)
	}
	return execProcess{cmd: cmd}, nil
}

type execProcess struct {
	cmd *exec.Cmd
}

func (p execProcess) Pid() int    { return p.cmd.Process.Pid }
func (p execProcess) Wait() error { return p.cmd.Wait() }
