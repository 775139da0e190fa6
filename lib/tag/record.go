// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package tag

import (
	"encoding/binary"
	"fmt"
	"time"
)

// RecordSize is the length of a marshaled Record.
const RecordSize = 32

// Record is the full observable state of a tag: value, version
// timestamp, quality, and data type.
type Record struct {
	Value     Value
	Timestamp uint64
	Quality   Quality
	DType     DType
}

// MarshalBinary encodes r into the fixed 32-byte layout.
func (r Record) MarshalBinary() ([]byte, error) {
	buffer := make([]byte, RecordSize)
	r.put(buffer)
	return buffer, nil
}

// AppendBinary appends the 32-byte layout of r to buffer.
func (r Record) AppendBinary(buffer []byte) ([]byte, error) {
	start := len(buffer)
	buffer = append(buffer, make([]byte, RecordSize)...)
	r.put(buffer[start:])
	return buffer, nil
}

func (r Record) put(buffer []byte) {
	copy(buffer[0:16], r.Value[:])
	binary.LittleEndian.PutUint64(buffer[16:24], r.Timestamp)
	binary.LittleEndian.PutUint16(buffer[24:26], uint16(r.Quality))
	buffer[26] = byte(r.DType)
}

// UnmarshalBinary decodes the fixed 32-byte layout. The padding bytes
// are ignored.
func (r *Record) UnmarshalBinary(data []byte) error {
	if len(data) != RecordSize {
		return fmt.Errorf("tag record is %d bytes, want %d", len(data), RecordSize)
	}
	copy(r.Value[:], data[0:16])
	r.Timestamp = binary.LittleEndian.Uint64(data[16:24])
	r.Quality = Quality(binary.LittleEndian.Uint16(data[24:26]))
	r.DType = DType(data[26])
	return nil
}

// Time returns the record's timestamp as a time.Time.
func (r Record) Time() time.Time { return FromMillis(r.Timestamp) }

// Millis converts t to epoch milliseconds. Times before the epoch
// clamp to zero.
func Millis(t time.Time) uint64 {
	ms := t.UnixMilli()
	if ms < 0 {
		return 0
	}
	return uint64(ms)
}

// FromMillis converts epoch milliseconds to a time.Time.
func FromMillis(ms uint64) time.Time {
	return time.UnixMilli(int64(ms))
}
