// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package tag

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// HumanTimeLayout renders timestamps for people: local time with
// millisecond precision.
const HumanTimeLayout = "2006-01-02 15:04:05.000"

// FormatValue renders the record's value in machine form: integers and
// timestamps in decimal, real32 with 9 significant fraction digits and
// real64 with 17 (enough to round-trip), strings up to the first NUL.
// The result parses back with ParseValue.
func FormatValue(r Record) string {
	v := r.Value
	switch r.DType {
	case Int8:
		return strconv.FormatInt(int64(v.Int8()), 10)
	case UInt8:
		return strconv.FormatUint(uint64(v.UInt8()), 10)
	case Int16:
		return strconv.FormatInt(int64(v.Int16()), 10)
	case UInt16:
		return strconv.FormatUint(uint64(v.UInt16()), 10)
	case Int32:
		return strconv.FormatInt(int64(v.Int32()), 10)
	case UInt32:
		return strconv.FormatUint(uint64(v.UInt32()), 10)
	case Int64:
		return strconv.FormatInt(v.Int64(), 10)
	case UInt64, Timestamp:
		return strconv.FormatUint(v.UInt64(), 10)
	case Real32:
		return fmt.Sprintf("%.9e", float64(v.Real32()))
	case Real64:
		return fmt.Sprintf("%.17e", v.Real64())
	case String:
		return v.String()
	}
	return ""
}

// FormatValueHuman renders the value for display: reals with six
// fraction digits and timestamp values as local time.
func FormatValueHuman(r Record) string {
	return formatValueHumanIn(r, time.Local)
}

func formatValueHumanIn(r Record, location *time.Location) string {
	switch r.DType {
	case Real32:
		return fmt.Sprintf("%f", float64(r.Value.Real32()))
	case Real64:
		return fmt.Sprintf("%f", r.Value.Real64())
	case Timestamp:
		return FormatTimestampIn(r.Value.Timestamp(), location)
	}
	return FormatValue(r)
}

// FormatTimestamp renders epoch milliseconds as local time.
func FormatTimestamp(ms uint64) string {
	return FormatTimestampIn(ms, time.Local)
}

// FormatTimestampIn renders epoch milliseconds in the given location.
func FormatTimestampIn(ms uint64, location *time.Location) string {
	return FromMillis(ms).In(location).Format(HumanTimeLayout)
}

// ParseTimestamp parses HumanTimeLayout in the local zone. The
// millisecond part may be omitted.
func ParseTimestamp(text string) (uint64, error) {
	return parseTimestampIn(text, time.Local)
}

func parseTimestampIn(text string, location *time.Location) (uint64, error) {
	for _, layout := range []string{HumanTimeLayout, "2006-01-02 15:04:05"} {
		parsed, err := time.ParseInLocation(layout, text, location)
		if err == nil {
			return Millis(parsed), nil
		}
	}
	return 0, fmt.Errorf("timestamp %q does not match %q", text, HumanTimeLayout)
}

// FormatQuality renders q as "GOOD (5)" or, abbreviated, as "GD 5".
func FormatQuality(q Quality, abbreviated bool) string {
	if abbreviated {
		return fmt.Sprintf("%s %d", q.abbreviation(), q.Vendor())
	}
	return fmt.Sprintf("%s (%d)", q.StatusName(), q.Vendor())
}

// FormatPartial renders "<quality> <timestamp> <value>" with the
// quality as its full 16-bit decimal word. This is the payload of
// every relay change line.
func FormatPartial(r Record) string {
	return fmt.Sprintf("%d %d %s", uint16(r.Quality), r.Timestamp, FormatValue(r))
}

// FormatHuman renders a record as a single display line.
func FormatHuman(name string, r Record) string {
	return fmt.Sprintf("%s [%s] %s %s = %s", name, r.DType, FormatTimestamp(r.Timestamp),
		FormatQuality(r.Quality, true), FormatValueHuman(r))
}

// ParsePartial is the inverse of FormatPartial for a tag of the given
// dtype. For strings the value is everything after the second space,
// truncated to 16 bytes.
func ParsePartial(text string, dtype DType) (Record, error) {
	record := Record{DType: dtype}
	text = strings.TrimRight(text, "\r\n")

	qualityText, rest, ok := strings.Cut(text, " ")
	if !ok {
		return record, fmt.Errorf("partial record %q: missing timestamp", text)
	}
	quality, err := strconv.ParseUint(qualityText, 10, 16)
	if err != nil {
		return record, fmt.Errorf("partial record %q: quality: %w", text, err)
	}
	record.Quality = Quality(quality)

	timestampText, valueText, hasValue := strings.Cut(rest, " ")
	record.Timestamp, err = strconv.ParseUint(timestampText, 10, 64)
	if err != nil {
		return record, fmt.Errorf("partial record %q: timestamp: %w", text, err)
	}

	if dtype == String {
		if len(valueText) > ValueSize {
			valueText = valueText[:ValueSize]
		}
		record.Value, err = StringValue(valueText)
		if err != nil {
			return record, fmt.Errorf("partial record %q: %w", text, err)
		}
		return record, nil
	}
	if !hasValue {
		return record, fmt.Errorf("partial record %q: missing value", text)
	}
	record.Value, err = ParseValue(dtype, valueText)
	if err != nil {
		return record, fmt.Errorf("partial record %q: %w", text, err)
	}
	return record, nil
}

// ParseValue parses the machine form of a value. Reals accept any
// form strconv.ParseFloat does; timestamps are epoch milliseconds.
func ParseValue(dtype DType, text string) (Value, error) {
	switch dtype {
	case Int8, Int16, Int32, Int64:
		parsed, err := strconv.ParseInt(strings.TrimSpace(text), 10, dtype.Width()*8)
		if err != nil {
			return Value{}, fmt.Errorf("parsing %s value: %w", dtype, err)
		}
		return signedValue(dtype, parsed), nil
	case UInt8, UInt16, UInt32, UInt64, Timestamp:
		parsed, err := strconv.ParseUint(strings.TrimSpace(text), 10, dtype.Width()*8)
		if err != nil {
			return Value{}, fmt.Errorf("parsing %s value: %w", dtype, err)
		}
		return UInt64Value(parsed), nil
	case Real32:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(text), 32)
		if err != nil {
			return Value{}, fmt.Errorf("parsing %s value: %w", dtype, err)
		}
		return Real32Value(float32(parsed)), nil
	case Real64:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
		if err != nil {
			return Value{}, fmt.Errorf("parsing %s value: %w", dtype, err)
		}
		return Real64Value(parsed), nil
	case String:
		return StringValue(text)
	}
	return Value{}, fmt.Errorf("%w: %s", ErrInvalidType, dtype)
}

// ParseValueHuman parses a value typed by a person: like ParseValue,
// except timestamp values use HumanTimeLayout in local time.
func ParseValueHuman(dtype DType, text string) (Value, error) {
	if dtype == Timestamp {
		ms, err := ParseTimestamp(text)
		if err != nil {
			return Value{}, err
		}
		return TimestampValue(ms), nil
	}
	return ParseValue(dtype, text)
}

func signedValue(dtype DType, v int64) Value {
	switch dtype {
	case Int8:
		return Int8Value(int8(v))
	case Int16:
		return Int16Value(int16(v))
	case Int32:
		return Int32Value(int32(v))
	}
	return Int64Value(v)
}
