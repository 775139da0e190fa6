// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package tag

import (
	"fmt"
	"strings"
)

// DType identifies how a tag's 16-byte value is interpreted. The
// numeric values are part of the wire format and must not change.
type DType uint8

const (
	Invalid   DType = 0
	Int8      DType = 2
	UInt8     DType = 3
	Int16     DType = 4
	UInt16    DType = 5
	Int32     DType = 6
	UInt32    DType = 7
	Int64     DType = 8
	UInt64    DType = 9
	Real32    DType = 10
	Real64    DType = 11
	Timestamp DType = 12
	String    DType = 13
)

var dtypeNames = map[DType]string{
	Int8:      "int8",
	UInt8:     "uint8",
	Int16:     "int16",
	UInt16:    "uint16",
	Int32:     "int32",
	UInt32:    "uint32",
	Int64:     "int64",
	UInt64:    "uint64",
	Real32:    "real32",
	Real64:    "real64",
	Timestamp: "timestamp",
	String:    "string",
}

// Valid reports whether d is one of the defined data types.
func (d DType) Valid() bool {
	_, ok := dtypeNames[d]
	return ok
}

// String returns the lower-case type name ("uint32", "real64", ...).
// Undefined values render as "dtype(N)".
func (d DType) String() string {
	if name, ok := dtypeNames[d]; ok {
		return name
	}
	return fmt.Sprintf("dtype(%d)", uint8(d))
}

// IsUnsigned reports whether d is an unsigned integer type. Timer tags
// must be unsigned.
func (d DType) IsUnsigned() bool {
	switch d {
	case UInt8, UInt16, UInt32, UInt64:
		return true
	}
	return false
}

// IsSigned reports whether d is a signed integer type.
func (d DType) IsSigned() bool {
	switch d {
	case Int8, Int16, Int32, Int64:
		return true
	}
	return false
}

// IsReal reports whether d is a floating-point type.
func (d DType) IsReal() bool {
	return d == Real32 || d == Real64
}

// Width returns the number of value bytes d occupies.
func (d DType) Width() int {
	switch d {
	case Int8, UInt8:
		return 1
	case Int16, UInt16:
		return 2
	case Int32, UInt32, Real32:
		return 4
	case Int64, UInt64, Real64, Timestamp:
		return 8
	case String:
		return ValueSize
	}
	return 0
}

// ParseDType parses a type name as produced by String. Matching is
// case-insensitive so configuration files may write "UINT32".
func ParseDType(name string) (DType, error) {
	for dtype, candidate := range dtypeNames {
		if strings.EqualFold(candidate, name) {
			return dtype, nil
		}
	}
	return Invalid, fmt.Errorf("%w: unknown data type %q", ErrInvalidType, name)
}

// MarshalText implements encoding.TextMarshaler so data types appear
// by name in YAML and CBOR.
func (d DType) MarshalText() ([]byte, error) {
	if !d.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidType, uint8(d))
	}
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *DType) UnmarshalText(text []byte) error {
	parsed, err := ParseDType(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
