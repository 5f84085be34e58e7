package pmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeHeartRate_NoIntervals(t *testing.T) {
	m, err := DecodeHeartRate([]byte{0x3c, 0x00})
	require.NoError(t, err)
	assert.Equal(t, uint16(60), m.BeatsPerMinute)
	assert.Empty(t, m.RRIntervals)
}

func TestDecodeHeartRate_LittleEndianRate(t *testing.T) {
	m, err := DecodeHeartRate([]byte{0x34, 0x01})
	require.NoError(t, err)
	assert.Equal(t, uint16(308), m.BeatsPerMinute)
}

func TestDecodeHeartRate_WithIntervals(t *testing.T) {
	m, err := DecodeHeartRate([]byte{0x3c, 0x00, 0x37, 0x04, 0x07, 0x03})
	require.NoError(t, err)
	assert.Equal(t, uint16(60), m.BeatsPerMinute)
	assert.Equal(t, []uint16{1079, 775}, m.RRIntervals)
}

func TestDecodeHeartRate_Truncated(t *testing.T) {
	for _, data := range [][]byte{nil, {0x3c}} {
		_, err := DecodeHeartRate(data)
		assert.ErrorIs(t, err, ErrTruncated)
	}
}

func TestDecodeHeartRate_OddIntervalByte(t *testing.T) {
	_, err := DecodeHeartRate([]byte{0x3c, 0x00, 0x37})
	assert.ErrorIs(t, err, ErrTrailingBytes)
}

func TestDecodeBatteryLevel(t *testing.T) {
	level, err := DecodeBatteryLevel([]byte{87})
	require.NoError(t, err)
	assert.Equal(t, uint8(87), level)

	_, err = DecodeBatteryLevel(nil)
	assert.ErrorIs(t, err, ErrTruncated)
}
