// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package rule

import (
	"errors"
	"fmt"

	"github.com/bureau-foundation/tagbus/lib/tag"
)

// Mode says how a rule uses a bound tag.
type Mode byte

const (
	Input  Mode = 'I'
	Output Mode = 'O'
	Both   Mode = 'B'
)

// Valid reports whether m is one of Input, Output or Both.
func (m Mode) Valid() bool {
	return m == Input || m == Output || m == Both
}

// Reads reports whether the runtime waits on and reads tags bound
// with m.
func (m Mode) Reads() bool { return m == Input || m == Both }

func (m Mode) String() string {
	if m.Valid() {
		return string(rune(m))
	}
	return fmt.Sprintf("mode(%d)", byte(m))
}

// Binding maps a local name to a tag.
type Binding struct {
	Local string
	Mode  Mode
	DType tag.DType
	Tag   string
}

// Declaration describes a rule.
type Declaration struct {
	Name     string
	Bindings []Binding

	// Trigger is the Local name of the input whose changes run Exec.
	Trigger string
}

// Rule is the behaviour of a rule. Both methods run on the loop
// goroutine; returning an error ends the rule.
type Rule interface {
	Init(c *Context) error
	Exec(c *Context) error
}

// Funcs adapts a pair of functions to Rule. A nil InitFunc does
// nothing.
type Funcs struct {
	InitFunc func(c *Context) error
	ExecFunc func(c *Context) error
}

func (f Funcs) Init(c *Context) error {
	if f.InitFunc == nil {
		return nil
	}
	return f.InitFunc(c)
}

func (f Funcs) Exec(c *Context) error { return f.ExecFunc(c) }

var (
	// ErrBindingType is returned when a bound tag's data type differs
	// from the declaration.
	ErrBindingType = errors.New("rule: bound tag has a different data type")

	// ErrTrigger is returned when the trigger names no input binding.
	ErrTrigger = errors.New("rule: trigger is not an input binding")

	// ErrDeclaration covers other malformed declarations.
	ErrDeclaration = errors.New("rule: invalid declaration")

	// ErrNotOutput is returned by Context setters on input-only
	// bindings.
	ErrNotOutput = errors.New("rule: binding is not an output")

	// ErrUnknownBinding is returned by Context methods for a local
	// name the declaration does not bind.
	ErrUnknownBinding = errors.New("rule: unknown binding")
)

// Validate checks the declaration without touching the bus.
func (d Declaration) Validate() error {
	var errs []error
	if d.Name == "" {
		errs = append(errs, fmt.Errorf("%w: empty rule name", ErrDeclaration))
	}
	seen := make(map[string]bool, len(d.Bindings))
	triggerFound := false
	for _, binding := range d.Bindings {
		switch {
		case binding.Local == "":
			errs = append(errs, fmt.Errorf("%w: binding for %q has no local name", ErrDeclaration, binding.Tag))
		case seen[binding.Local]:
			errs = append(errs, fmt.Errorf("%w: local name %q bound twice", ErrDeclaration, binding.Local))
		}
		seen[binding.Local] = true
		if !binding.Mode.Valid() {
			errs = append(errs, fmt.Errorf("%w: %s has %s", ErrDeclaration, binding.Local, binding.Mode))
		}
		if !binding.DType.Valid() {
			errs = append(errs, fmt.Errorf("%w: %s: %w", ErrDeclaration, binding.Local, tag.ErrInvalidType))
		}
		if err := tag.ValidateName(binding.Tag); err != nil {
			errs = append(errs, fmt.Errorf("%w: %s: %w", ErrDeclaration, binding.Local, err))
		}
		if binding.Local == d.Trigger {
			if !binding.Mode.Reads() {
				errs = append(errs, fmt.Errorf("%w: %s is an output", ErrTrigger, d.Trigger))
			}
			triggerFound = true
		}
	}
	if !triggerFound {
		errs = append(errs, fmt.Errorf("%w: %q is not bound", ErrTrigger, d.Trigger))
	}
	return errors.Join(errs...)
}
