// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package rule

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bureau-foundation/tagbus/lib/tag"
)

// bound is one opened binding and its cached record.
type bound struct {
	Binding
	handle  tag.Handle
	record  tag.Record
	changed bool
}

// Context gives Init and Exec access to the cached inputs and to the
// outputs of the rule.
type Context struct {
	ctx     context.Context
	name    string
	logger  *slog.Logger
	bound   []*bound
	byLocal map[string]*bound
}

// Context returns the context Run was called with.
func (c *Context) Context() context.Context { return c.ctx }

// Name returns the rule name.
func (c *Context) Name() string { return c.name }

// Logger returns the rule's logger.
func (c *Context) Logger() *slog.Logger { return c.logger }

func (c *Context) lookup(local string) (*bound, error) {
	b, ok := c.byLocal[local]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBinding, local)
	}
	return b, nil
}

// Record returns the cached record of local.
func (c *Context) Record(local string) (tag.Record, error) {
	b, err := c.lookup(local)
	if err != nil {
		return tag.Record{}, err
	}
	return b.record, nil
}

// Changed reports whether local was read during the wake that led to
// this Exec call.
func (c *Context) Changed(local string) bool {
	b, ok := c.byLocal[local]
	return ok && b.changed
}

// Float64 returns the cached value of a numeric binding. Unknown names
// and non-numeric tags read as zero; use Record to tell them apart.
func (c *Context) Float64(local string) float64 {
	b, ok := c.byLocal[local]
	if !ok {
		return 0
	}
	f, _ := b.record.Value.Float64(b.DType)
	return f
}

// Int64 returns the cached value of an integer binding.
func (c *Context) Int64(local string) int64 {
	b, ok := c.byLocal[local]
	if !ok {
		return 0
	}
	switch b.DType {
	case tag.Int8:
		return int64(b.record.Value.Int8())
	case tag.Int16:
		return int64(b.record.Value.Int16())
	case tag.Int32:
		return int64(b.record.Value.Int32())
	case tag.Int64:
		return b.record.Value.Int64()
	}
	if u, err := b.record.Value.Unsigned(b.DType); err == nil {
		return int64(u)
	}
	return int64(c.Float64(local))
}

// Uint64 returns the cached value of an unsigned binding.
func (c *Context) Uint64(local string) uint64 {
	b, ok := c.byLocal[local]
	if !ok {
		return 0
	}
	if u, err := b.record.Value.Unsigned(b.DType); err == nil {
		return u
	}
	if b.DType == tag.Timestamp {
		return b.record.Value.Timestamp()
	}
	return uint64(c.Int64(local))
}

// Text returns the cached value of a string binding.
func (c *Context) Text(local string) string {
	b, ok := c.byLocal[local]
	if !ok {
		return ""
	}
	return b.record.Value.String()
}

// Quality returns the cached quality of local.
func (c *Context) Quality(local string) tag.Quality {
	b, ok := c.byLocal[local]
	if !ok {
		return tag.Uncertain
	}
	return b.record.Quality
}

// Set writes value to an output binding with GOOD quality and a
// store-assigned timestamp.
func (c *Context) Set(local string, value tag.Value) error {
	return c.SetQuality(local, value, tag.Good)
}

// SetQuality writes value with the given quality.
func (c *Context) SetQuality(local string, value tag.Value, quality tag.Quality) error {
	b, err := c.lookup(local)
	if err != nil {
		return err
	}
	if b.Mode == Input {
		return fmt.Errorf("%w: %s", ErrNotOutput, local)
	}
	record := tag.Record{Value: value.Canonical(b.DType), Quality: quality, DType: b.DType}
	if err := b.handle.Write(c.ctx, record); err != nil {
		return fmt.Errorf("writing %s (%s): %w", local, b.Tag, err)
	}
	b.record.Value = record.Value
	b.record.Quality = quality
	return nil
}

// SetFloat64 converts f to the binding's numeric type and writes it.
func (c *Context) SetFloat64(local string, f float64) error {
	b, err := c.lookup(local)
	if err != nil {
		return err
	}
	value, err := tag.FromFloat64(b.DType, f)
	if err != nil {
		return fmt.Errorf("writing %s: %w", local, err)
	}
	return c.Set(local, value)
}

// SetInt64 writes an integer to a numeric binding.
func (c *Context) SetInt64(local string, v int64) error {
	b, err := c.lookup(local)
	if err != nil {
		return err
	}
	switch b.DType {
	case tag.Int8, tag.Int16, tag.Int32, tag.Int64, tag.UInt8, tag.UInt16, tag.UInt32:
		// Narrowing keeps the low bytes, as a C assignment would.
		return c.Set(local, tag.Int64Value(v))
	case tag.UInt64, tag.Timestamp:
		return c.Set(local, tag.UInt64Value(uint64(v)))
	}
	return c.SetFloat64(local, float64(v))
}

// SetText writes s to a string binding.
func (c *Context) SetText(local, s string) error {
	b, err := c.lookup(local)
	if err != nil {
		return err
	}
	if b.DType != tag.String {
		return fmt.Errorf("writing %s: %w: tag is %s", local, tag.ErrTypeMismatch, b.DType)
	}
	value, err := tag.StringValue(s)
	if err != nil {
		return fmt.Errorf("writing %s: %w", local, err)
	}
	return c.Set(local, value)
}
