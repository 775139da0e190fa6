// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package tag

import (
	"fmt"
	"strings"
)

// Quality is a 16-bit quality word: a 2-bit status in the high bits
// and a 14-bit vendor code in the low bits.
type Quality uint16

const (
	// StatusMask selects the status bits of a Quality.
	StatusMask Quality = 0xC000

	// VendorMask selects the vendor bits of a Quality.
	VendorMask Quality = 0x3FFF

	Good         Quality = 0xC000
	Bad          Quality = 0x4000
	Uncertain    Quality = 0x0000
	Disconnected Quality = 0x8000
)

// Status returns q with the vendor bits cleared.
func (q Quality) Status() Quality { return q & StatusMask }

// Vendor returns the 14-bit vendor code.
func (q Quality) Vendor() uint16 { return uint16(q & VendorMask) }

// WithVendor returns q's status combined with the given vendor code.
// Vendor codes wider than 14 bits are truncated.
func (q Quality) WithVendor(vendor uint16) Quality {
	return q.Status() | Quality(vendor)&VendorMask
}

// StatusName returns the status as an upper-case word.
func (q Quality) StatusName() string {
	switch q.Status() {
	case Good:
		return "GOOD"
	case Bad:
		return "BAD"
	case Disconnected:
		return "DISCONNECTED"
	}
	return "UNCERTAIN"
}

func (q Quality) abbreviation() string {
	switch q.Status() {
	case Good:
		return "GD"
	case Bad:
		return "BD"
	case Disconnected:
		return "DC"
	}
	return "UN"
}

// String renders q in the long human form, e.g. "GOOD (0)".
func (q Quality) String() string { return FormatQuality(q, false) }

// ParseQuality parses a status word (GOOD, UNCERTAIN, BAD,
// DISCONNECTED, case-insensitive) and combines it with vendor.
func ParseQuality(status string, vendor uint16) (Quality, error) {
	if vendor > uint16(VendorMask) {
		return 0, fmt.Errorf("vendor quality %d exceeds %d", vendor, uint16(VendorMask))
	}
	var base Quality
	switch strings.ToUpper(status) {
	case "GOOD":
		base = Good
	case "BAD":
		base = Bad
	case "UNCERTAIN":
		base = Uncertain
	case "DISCONNECTED":
		base = Disconnected
	default:
		return 0, fmt.Errorf("unknown quality %q (want GOOD, UNCERTAIN, BAD, or DISCONNECTED)", status)
	}
	return base.WithVendor(vendor), nil
}
