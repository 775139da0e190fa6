// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package tag

import (
	"bytes"
	"fmt"
)

// CreateRequestSize is the length of a marshaled CreateRequest.
const CreateRequestSize = 2 + NameFieldSize

// ActionCreate is the only action a creation request may carry.
const ActionCreate byte = '+'

// CreateRequest asks the creation channel to allocate a new tag.
type CreateRequest struct {
	Action byte
	DType  DType
	Name   string
}

// NewCreateRequest returns a '+' request for name and dtype.
func NewCreateRequest(name string, dtype DType) CreateRequest {
	return CreateRequest{Action: ActionCreate, DType: dtype, Name: name}
}

// MarshalBinary encodes the request into its 258-byte layout. Names
// that do not fit the field with a terminating NUL are rejected.
func (c CreateRequest) MarshalBinary() ([]byte, error) {
	if len(c.Name) > MaxNameLength {
		return nil, fmt.Errorf("%w: name is %d bytes, maximum is %d", ErrInvalidName, len(c.Name), MaxNameLength)
	}
	buffer := make([]byte, CreateRequestSize)
	buffer[0] = c.Action
	buffer[1] = byte(c.DType)
	copy(buffer[2:], c.Name)
	return buffer, nil
}

// UnmarshalBinary decodes the 258-byte layout. It checks only framing:
// the length and NUL termination of the name field. Action, dtype and
// name content are validated by the registry so that errors come back
// in the order the creation channel defines.
func (c *CreateRequest) UnmarshalBinary(data []byte) error {
	if len(data) != CreateRequestSize {
		return fmt.Errorf("%w: creation request is %d bytes, want %d", ErrInvalidAction, len(data), CreateRequestSize)
	}
	c.Action = data[0]
	c.DType = DType(data[1])
	field := data[2:]
	end := bytes.IndexByte(field, 0)
	if end < 0 {
		// Keep the unterminated bytes so the registry can report them.
		c.Name = string(field)
		return nil
	}
	c.Name = string(field[:end])
	return nil
}

// Terminated reports whether the name fits in the request's name field
// with room for its terminating NUL.
func (c CreateRequest) Terminated() bool {
	return len(c.Name) < NameFieldSize
}
