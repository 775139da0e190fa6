// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package tag

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by every implementation of the handle and
// registry contract. Callers compare with errors.Is; the socket
// transport carries them as stable codes (see Code and FromCode).
var (
	ErrNotFound       = errors.New("tag not found")
	ErrDuplicateName  = errors.New("tag name already in use")
	ErrFull           = errors.New("tag registry is full")
	ErrInvalidName    = errors.New("invalid tag name")
	ErrInvalidType    = errors.New("invalid data type")
	ErrInvalidAction  = errors.New("invalid creation request")
	ErrTypeMismatch   = errors.New("data type mismatch")
	ErrStaleTimestamp = errors.New("timestamp not newer than stored value")
	ErrWouldBlock     = errors.New("no new data")
	ErrClosed         = errors.New("handle closed")
	ErrBusy           = errors.New("creation session already open")
)

var errorCodes = []struct {
	code string
	err  error
}{
	{"not_found", ErrNotFound},
	{"duplicate_name", ErrDuplicateName},
	{"full", ErrFull},
	{"invalid_name", ErrInvalidName},
	{"invalid_type", ErrInvalidType},
	{"invalid_action", ErrInvalidAction},
	{"type_mismatch", ErrTypeMismatch},
	{"stale_timestamp", ErrStaleTimestamp},
	{"would_block", ErrWouldBlock},
	{"closed", ErrClosed},
	{"busy", ErrBusy},
}

// Code returns the wire code for the sentinel wrapped by err, or ""
// if err wraps none of them.
func Code(err error) string {
	for _, entry := range errorCodes {
		if errors.Is(err, entry.err) {
			return entry.code
		}
	}
	return ""
}

// FromCode rebuilds an error from a wire code and message. The result
// satisfies errors.Is for the matching sentinel and keeps the remote
// message. Unknown codes yield a plain error.
func FromCode(code, message string) error {
	for _, entry := range errorCodes {
		if entry.code != code {
			continue
		}
		if message == "" || message == entry.err.Error() {
			return entry.err
		}
		return &codedError{sentinel: entry.err, message: message}
	}
	if message == "" {
		message = fmt.Sprintf("unknown error code %q", code)
	}
	return errors.New(message)
}

type codedError struct {
	sentinel error
	message  string
}

func (e *codedError) Error() string { return e.message }
func (e *codedError) Unwrap() error { return e.sentinel }
