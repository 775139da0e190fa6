// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package rulescript

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"github.com/bureau-foundation/tagbus/lib/rule"
	"github.com/bureau-foundation/tagbus/lib/tag"
)

// Extension marks script rules in a rules directory.
const Extension = ".star"

// DefaultMaxSteps bounds one init or exec call.
const DefaultMaxSteps = 1_000_000

// ErrScript is wrapped by every error that comes from the script
// itself: a bad declaration, a failed call or an unusable result.
var ErrScript = errors.New("rulescript")

var fileOptions = &syntax.FileOptions{
	Set:             true,
	While:           true,
	TopLevelControl: true,
	GlobalReassign:  true,
}

// Script is a loaded Starlark rule. It implements rule.Rule.
type Script struct {
	// MaxSteps overrides DefaultMaxSteps when nonzero.
	MaxSteps uint64

	filename string
	decl     rule.Declaration
	init     starlark.Callable
	exec     starlark.Callable
	state    *starlark.Dict
}

// LoadFile reads and loads a script. The rule name defaults to the
// file name without its extension.
func LoadFile(path string) (*Script, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Load(path, src)
}

// Load executes the script's top level and extracts its declaration.
func Load(filename string, src []byte) (*Script, error) {
	thread := &starlark.Thread{
		Name:  filename,
		Print: func(*starlark.Thread, string) {},
	}
	thread.SetMaxExecutionSteps(DefaultMaxSteps)
	globals, err := starlark.ExecFileOptions(fileOptions, thread, filename, src, nil)
	if err != nil {
		return nil, scriptError(filename, "loading", err)
	}

	script := &Script{filename: filename}
	script.decl.Name = strings.TrimSuffix(filepath.Base(filename), Extension)
	if value, ok := globals["NAME"]; ok {
		name, ok := starlark.AsString(value)
		if !ok || name == "" {
			return nil, fmt.Errorf("%w: %s: NAME must be a non-empty string", ErrScript, filename)
		}
		script.decl.Name = name
	}

	script.decl.Bindings, err = parseTags(globals["TAGS"])
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrScript, filename, err)
	}

	trigger, ok := starlark.AsString(globals["TRIGGER"])
	if !ok {
		return nil, fmt.Errorf("%w: %s: TRIGGER must be a string", ErrScript, filename)
	}
	script.decl.Trigger = trigger

	script.exec, ok = globals["exec"].(starlark.Callable)
	if !ok {
		return nil, fmt.Errorf("%w: %s: exec(values, state) is not defined", ErrScript, filename)
	}
	if value, defined := globals["init"]; defined {
		script.init, ok = value.(starlark.Callable)
		if !ok {
			return nil, fmt.Errorf("%w: %s: init is not callable", ErrScript, filename)
		}
	}

	if err := script.decl.Validate(); err != nil {
		return nil, err
	}
	return script, nil
}

// parseTags reads TAGS: a sequence of (local, mode, dtype, tag)
// string tuples.
func parseTags(value starlark.Value) ([]rule.Binding, error) {
	if value == nil {
		return nil, errors.New("TAGS is not defined")
	}
	list, ok := value.(starlark.Indexable)
	if !ok {
		return nil, fmt.Errorf("TAGS must be a list, got %s", value.Type())
	}
	bindings := make([]rule.Binding, 0, list.Len())
	for i := range list.Len() {
		entry, ok := list.Index(i).(starlark.Indexable)
		if !ok || entry.Len() != 4 {
			return nil, fmt.Errorf("TAGS[%d] must be a (local, mode, dtype, tag) tuple", i)
		}
		var fields [4]string
		for j := range fields {
			fields[j], ok = starlark.AsString(entry.Index(j))
			if !ok {
				return nil, fmt.Errorf("TAGS[%d][%d] must be a string", i, j)
			}
		}
		if len(fields[1]) != 1 {
			return nil, fmt.Errorf("TAGS[%d]: mode %q must be I, O or B", i, fields[1])
		}
		dtype, err := tag.ParseDType(fields[2])
		if err != nil {
			return nil, fmt.Errorf("TAGS[%d]: %w", i, err)
		}
		bindings = append(bindings, rule.Binding{
			Local: fields[0],
			Mode:  rule.Mode(fields[1][0]),
			DType: dtype,
			Tag:   fields[3],
		})
	}
	return bindings, nil
}

// Declaration returns the script's bindings and trigger.
func (s *Script) Declaration() rule.Declaration { return s.decl }

func (s *Script) thread(c *rule.Context) *starlark.Thread {
	thread := &starlark.Thread{
		Name: s.decl.Name,
		Print: func(_ *starlark.Thread, message string) {
			c.Logger().Info("script output", "message", message)
		},
	}
	steps := s.MaxSteps
	if steps == 0 {
		steps = DefaultMaxSteps
	}
	thread.SetMaxExecutionSteps(steps)
	return thread
}

// Init creates the state dict and calls the script's init, if any.
func (s *Script) Init(c *rule.Context) error {
	s.state = starlark.NewDict(0)
	if s.init == nil {
		return nil
	}
	if _, err := starlark.Call(s.thread(c), s.init, starlark.Tuple{s.state}, nil); err != nil {
		return scriptError(s.filename, "init", err)
	}
	return nil
}

// Exec calls exec(values, state) and writes the returned outputs in
// the order the script inserted them.
func (s *Script) Exec(c *rule.Context) error {
	values := starlark.NewDict(len(s.decl.Bindings))
	for _, binding := range s.decl.Bindings {
		record, err := c.Record(binding.Local)
		if err != nil {
			return err
		}
		if err := values.SetKey(starlark.String(binding.Local), toStarlark(record)); err != nil {
			return err
		}
	}

	result, err := starlark.Call(s.thread(c), s.exec, starlark.Tuple{values, s.state}, nil)
	if err != nil {
		return scriptError(s.filename, "exec", err)
	}
	if result == starlark.None {
		return nil
	}
	outputs, ok := result.(*starlark.Dict)
	if !ok {
		return fmt.Errorf("%w: %s: exec returned %s, want dict or None", ErrScript, s.filename, result.Type())
	}

	dtypes := make(map[string]tag.DType, len(s.decl.Bindings))
	for _, binding := range s.decl.Bindings {
		dtypes[binding.Local] = binding.DType
	}
	for _, item := range outputs.Items() {
		local, ok := starlark.AsString(item[0])
		if !ok {
			return fmt.Errorf("%w: %s: output key %s is not a string", ErrScript, s.filename, item[0])
		}
		dtype, ok := dtypes[local]
		if !ok {
			return fmt.Errorf("%w: %q", rule.ErrUnknownBinding, local)
		}
		value, err := fromStarlark(dtype, item[1])
		if err != nil {
			return fmt.Errorf("%w: %s: output %s: %v", ErrScript, s.filename, local, err)
		}
		if err := c.Set(local, value); err != nil {
			return err
		}
	}
	return nil
}

func scriptError(filename, phase string, err error) error {
	var evalErr *starlark.EvalError
	if errors.As(err, &evalErr) {
		return fmt.Errorf("%w: %s: %s: %s", ErrScript, filename, phase, evalErr.Backtrace())
	}
	return fmt.Errorf("%w: %s: %s: %v", ErrScript, filename, phase, err)
}

func toStarlark(record tag.Record) starlark.Value {
	v := record.Value
	switch record.DType {
	case tag.Int8:
		return starlark.MakeInt(int(v.Int8()))
	case tag.Int16:
		return starlark.MakeInt(int(v.Int16()))
	case tag.Int32:
		return starlark.MakeInt(int(v.Int32()))
	case tag.Int64:
		return starlark.MakeInt64(v.Int64())
	case tag.UInt8:
		return starlark.MakeUint(uint(v.UInt8()))
	case tag.UInt16:
		return starlark.MakeUint(uint(v.UInt16()))
	case tag.UInt32:
		return starlark.MakeUint(uint(v.UInt32()))
	case tag.UInt64:
		return starlark.MakeUint64(v.UInt64())
	case tag.Timestamp:
		return starlark.MakeUint64(v.Timestamp())
	case tag.Real32:
		return starlark.Float(v.Real32())
	case tag.Real64:
		return starlark.Float(v.Real64())
	case tag.String:
		return starlark.String(v.String())
	}
	return starlark.None
}

func fromStarlark(dtype tag.DType, value starlark.Value) (tag.Value, error) {
	if dtype == tag.String {
		text, ok := starlark.AsString(value)
		if !ok {
			return tag.Value{}, fmt.Errorf("want a string, got %s", value.Type())
		}
		return tag.StringValue(text)
	}

	switch v := value.(type) {
	case starlark.Bool:
		if v {
			return tag.FromFloat64(dtype, 1)
		}
		return tag.FromFloat64(dtype, 0)
	case starlark.Float:
		if dtype.IsReal() {
			return tag.FromFloat64(dtype, float64(v))
		}
		if math.Trunc(float64(v)) != float64(v) {
			return tag.Value{}, fmt.Errorf("%v is not an integer", float64(v))
		}
		return fromStarlark(dtype, starlark.MakeInt64(int64(v)))
	case starlark.Int:
		if dtype.IsReal() {
			return tag.FromFloat64(dtype, float64(v.Float()))
		}
		return intValue(dtype, v)
	}
	return tag.Value{}, fmt.Errorf("want a number, got %s", value.Type())
}

func intValue(dtype tag.DType, v starlark.Int) (tag.Value, error) {
	bits := uint(dtype.Width() * 8)
	if dtype.IsSigned() {
		i, ok := v.Int64()
		if !ok || (bits < 64 && (i < -(1<<(bits-1)) || i >= 1<<(bits-1))) {
			return tag.Value{}, fmt.Errorf("%s out of range for %s", v, dtype)
		}
		return tag.Int64Value(i).Canonical(dtype), nil
	}
	u, ok := v.Uint64()
	if !ok || (bits < 64 && u >= 1<<bits) {
		return tag.Value{}, fmt.Errorf("%s out of range for %s", v, dtype)
	}
	return tag.UInt64Value(u), nil
}
