// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package tag

import (
	"encoding/binary"
	"fmt"
	"math"
)

// ValueSize is the width of a tag value: the widest variant, a fixed
// 16-byte string.
const ValueSize = 16

// Value holds a tag value in its little-endian wire form. The dtype of
// the owning record decides how the bytes are read; accessors for a
// different width simply reinterpret the leading bytes.
type Value [ValueSize]byte

func Int8Value(v int8) Value { return uint64Value(uint64(uint8(v))) }
func UInt8Value(v uint8) Value { return uint64Value(uint64(v)) }
func Int16Value(v int16) Value { return uint64Value(uint64(uint16(v))) }
func UInt16Value(v uint16) Value { return uint64Value(uint64(v)) }
func Int32Value(v int32) Value { return uint64Value(uint64(uint32(v))) }
func UInt32Value(v uint32) Value { return uint64Value(uint64(v)) }
func Int64Value(v int64) Value { return uint64Value(uint64(v)) }
func UInt64Value(v uint64) Value { return uint64Value(v) }

// TimestampValue stores epoch milliseconds.
func TimestampValue(ms uint64) Value { return uint64Value(ms) }

func Real32Value(v float32) Value { return uint64Value(uint64(math.Float32bits(v))) }
func Real64Value(v float64) Value { return uint64Value(math.Float64bits(v)) }

// StringValue stores up to 16 bytes of s. Longer strings are an error
// rather than silently truncated. Exactly 16 bytes is valid and leaves
// no terminating NUL.
func StringValue(s string) (Value, error) {
	var v Value
	if len(s) > ValueSize {
		return v, fmt.Errorf("string value %q is %d bytes, maximum is %d", s, len(s), ValueSize)
	}
	copy(v[:], s)
	return v, nil
}

func uint64Value(bits uint64) Value {
	var v Value
	binary.LittleEndian.PutUint64(v[:8], bits)
	return v
}

func (v Value) Int8() int8 { return int8(v[0]) }
func (v Value) UInt8() uint8 { return v[0] }
func (v Value) Int16() int16 { return int16(binary.LittleEndian.Uint16(v[:2])) }
func (v Value) UInt16() uint16 { return binary.LittleEndian.Uint16(v[:2]) }
func (v Value) Int32() int32 { return int32(binary.LittleEndian.Uint32(v[:4])) }
func (v Value) UInt32() uint32 { return binary.LittleEndian.Uint32(v[:4]) }
func (v Value) Int64() int64 { return int64(binary.LittleEndian.Uint64(v[:8])) }
func (v Value) UInt64() uint64 { return binary.LittleEndian.Uint64(v[:8]) }
func (v Value) Timestamp() uint64 { return binary.LittleEndian.Uint64(v[:8]) }
func (v Value) Real32() float32 { return math.Float32frombits(binary.LittleEndian.Uint32(v[:4])) }
func (v Value) Real64() float64 { return math.Float64frombits(binary.LittleEndian.Uint64(v[:8])) }

// String returns the string payload up to the first NUL byte.
func (v Value) String() string {
	for i, b := range v {
		if b == 0 {
			return string(v[:i])
		}
	}
	return string(v[:])
}

// Float64 converts a numeric value of the given dtype to float64.
func (v Value) Float64(dtype DType) (float64, error) {
	switch dtype {
	case Int8:
		return float64(v.Int8()), nil
	case UInt8:
		return float64(v.UInt8()), nil
	case Int16:
		return float64(v.Int16()), nil
	case UInt16:
		return float64(v.UInt16()), nil
	case Int32:
		return float64(v.Int32()), nil
	case UInt32:
		return float64(v.UInt32()), nil
	case Int64:
		return float64(v.Int64()), nil
	case UInt64, Timestamp:
		return float64(v.UInt64()), nil
	case Real32:
		return float64(v.Real32()), nil
	case Real64:
		return v.Real64(), nil
	}
	return 0, fmt.Errorf("%w: %s is not numeric", ErrTypeMismatch, dtype)
}

// FromFloat64 converts f into a value of the given numeric dtype.
// Integer types truncate toward zero and saturate at the type's range.
func FromFloat64(dtype DType, f float64) (Value, error) {
	switch dtype {
	case Real32:
		return Real32Value(float32(f)), nil
	case Real64:
		return Real64Value(f), nil
	case Int8:
		return Int8Value(int8(clamp(f, math.MinInt8, math.MaxInt8))), nil
	case UInt8:
		return UInt8Value(uint8(clamp(f, 0, math.MaxUint8))), nil
	case Int16:
		return Int16Value(int16(clamp(f, math.MinInt16, math.MaxInt16))), nil
	case UInt16:
		return UInt16Value(uint16(clamp(f, 0, math.MaxUint16))), nil
	case Int32:
		return Int32Value(int32(clamp(f, math.MinInt32, math.MaxInt32))), nil
	case UInt32:
		return UInt32Value(uint32(clamp(f, 0, math.MaxUint32))), nil
	case Int64:
		if f >= math.MaxInt64 {
			return Int64Value(math.MaxInt64), nil
		}
		if f <= math.MinInt64 {
			return Int64Value(math.MinInt64), nil
		}
		return Int64Value(int64(f)), nil
	case UInt64, Timestamp:
		if f <= 0 {
			return UInt64Value(0), nil
		}
		if f >= math.MaxUint64 {
			return UInt64Value(math.MaxUint64), nil
		}
		return UInt64Value(uint64(f)), nil
	}
	return Value{}, fmt.Errorf("%w: %s is not numeric", ErrTypeMismatch, dtype)
}

func clamp(f, low, high float64) float64 {
	if math.IsNaN(f) {
		return 0
	}
	return math.Max(low, math.Min(high, f))
}

// Increment adds one to an unsigned value, wrapping at the declared
// width of dtype. Timer tags count this way.
func (v Value) Increment(dtype DType) (Value, error) {
	switch dtype {
	case UInt8:
		return UInt8Value(v.UInt8() + 1), nil
	case UInt16:
		return UInt16Value(v.UInt16() + 1), nil
	case UInt32:
		return UInt32Value(v.UInt32() + 1), nil
	case UInt64:
		return UInt64Value(v.UInt64() + 1), nil
	}
	return v, fmt.Errorf("%w: cannot increment %s", ErrTypeMismatch, dtype)
}

// Unsigned returns an unsigned value widened to uint64.
func (v Value) Unsigned(dtype DType) (uint64, error) {
	switch dtype {
	case UInt8:
		return uint64(v.UInt8()), nil
	case UInt16:
		return uint64(v.UInt16()), nil
	case UInt32:
		return uint64(v.UInt32()), nil
	case UInt64:
		return v.UInt64(), nil
	}
	return 0, fmt.Errorf("%w: %s is not unsigned", ErrTypeMismatch, dtype)
}

// Canonical returns v with every byte beyond dtype's width cleared.
// Records built from typed constructors are already canonical; raw
// records from the wire may carry junk in the unused bytes.
func (v Value) Canonical(dtype DType) Value {
	width := dtype.Width()
	var out Value
	copy(out[:width], v[:width])
	return out
}
