// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package tag

import "fmt"

// NameFieldSize is the size of the name field in a creation request,
// including the terminating NUL. Names are at most NameFieldSize-1
// bytes.
const NameFieldSize = 256

// MaxNameLength is the longest valid tag name.
const MaxNameLength = NameFieldSize - 1

// KillSwitchName is the well-known uint8 tag whose value gates the
// control engine and every rule loop. Nonzero means run.
const KillSwitchName = "master.on"

// ValidNameByte reports whether c may appear in a tag name.
func ValidNameByte(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	case c == '.', c == '-', c == '_':
		return true
	}
	return false
}

// ValidateName checks that name is 1 to 255 bytes drawn from
// [A-Za-z0-9._-] and is not "." or "..".
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidName)
	}
	if len(name) > MaxNameLength {
		return fmt.Errorf("%w: name is %d bytes, maximum is %d", ErrInvalidName, len(name), MaxNameLength)
	}
	if name == "." || name == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	for i := 0; i < len(name); i++ {
		if !ValidNameByte(name[i]) {
			return fmt.Errorf("%w: %q contains %q at offset %d", ErrInvalidName, name, name[i], i)
		}
	}
	return nil
}
