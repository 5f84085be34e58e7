package pmd

import (
	"encoding/binary"
	"fmt"
)

// HeartRateMeasurement is a decoded heart rate notification: beats per
// minute plus zero or more R-R intervals delivered alongside it.
type HeartRateMeasurement struct {
	BeatsPerMinute uint16
	RRIntervals    []uint16
}

// DecodeHeartRate parses a heart rate notification payload: a 16-bit
// little-endian rate followed by zero or more 16-bit little-endian R-R
// intervals. An odd trailing byte fails with ErrTrailingBytes.
func DecodeHeartRate(data []byte) (HeartRateMeasurement, error) {
	if len(data) < 2 {
		return HeartRateMeasurement{}, fmt.Errorf("%w: heart rate payload %d bytes, want >= 2",
			ErrTruncated, len(data))
	}
	m := HeartRateMeasurement{BeatsPerMinute: binary.LittleEndian.Uint16(data)}

	rr := data[2:]
	if len(rr)%2 != 0 {
		return HeartRateMeasurement{}, fmt.Errorf("%w: odd byte after R-R intervals",
			ErrTrailingBytes)
	}
	for i := 0; i < len(rr); i += 2 {
		m.RRIntervals = append(m.RRIntervals, binary.LittleEndian.Uint16(rr[i:]))
	}
	return m, nil
}

// DecodeBatteryLevel parses a battery level notification payload.
func DecodeBatteryLevel(data []byte) (uint8, error) {
	if len(data) < 1 {
		return 0, fmt.Errorf("%w: empty battery payload", ErrTruncated)
	}
	return data[0], nil
}
