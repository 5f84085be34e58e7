package pmd

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeDataFrame_Ecg(t *testing.T) {
	frame, err := DecodeDataFrame(MeasurementStream(Ecg), []byte{
		0x00,
		0xea, 0x54, 0xa2, 0x42, 0x8b, 0x45, 0x52, 0x08,
		0x00,
		0xff, 0xff, 0xff,
	})
	require.NoError(t, err)

	assert.Equal(t, MeasurementStream(Ecg), frame.Stream)
	assert.Equal(t, uint64(599618164814402794), frame.Timestamp)
	require.Len(t, frame.Samples, 1)
	require.NotNil(t, frame.Samples[0].Ecg)
	assert.Equal(t, []int32{-1}, frame.Samples[0].Ecg.Microvolts)
}

func TestDecodeDataFrame_EcgBatched(t *testing.T) {
	frame, err := DecodeDataFrame(MeasurementStream(Ecg), []byte{
		0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00,
		0xff, 0xff, 0xff, // -1
		0x00, 0x00, 0x10, // 1048576
		0x01, 0x00, 0x00, // 1
	})
	require.NoError(t, err)
	require.Len(t, frame.Samples, 1)
	assert.Equal(t, []int32{-1, 1048576, 1}, frame.Samples[0].Ecg.Microvolts)
}

func TestDecodeDataFrame_Acc(t *testing.T) {
	frame, err := DecodeDataFrame(MeasurementStream(Accelerometer), []byte{
		0x02,
		0xea, 0x54, 0xa2, 0x42, 0x8b, 0x45, 0x52, 0x08,
		0x01,
		0x45, 0xff, 0xe4, 0xff, 0xb5, 0x03,
		0x45, 0xff, 0xe4, 0xff, 0xb8, 0x03,
	})
	require.NoError(t, err)

	require.Len(t, frame.Samples, 1)
	require.NotNil(t, frame.Samples[0].Acc)
	assert.Equal(t, [][3]int32{
		{-187, -28, 949},
		{-187, -28, 952},
	}, frame.Samples[0].Acc.Triples)
}

func TestDecodeDataFrame_Gyro(t *testing.T) {
	frame, err := DecodeDataFrame(MeasurementStream(Gyroscope), []byte{
		0x05,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00,
		0x01, 0x00, 0xff, 0xff, 0x00, 0x80,
	})
	require.NoError(t, err)
	require.NotNil(t, frame.Samples[0].Gyro)
	assert.Equal(t, [][3]int32{{1, -1, -32768}}, frame.Samples[0].Gyro.Triples)
}

func TestDecodeDataFrame_Ppg(t *testing.T) {
	frame, err := DecodeDataFrame(MeasurementStream(Ppg), []byte{
		0x01,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00,
		// one sample: 3 ppg channels + ambient, int24 each
		0x01, 0x00, 0x00,
		0x02, 0x00, 0x00,
		0x03, 0x00, 0x00,
		0xff, 0xff, 0xff,
	})
	require.NoError(t, err)
	require.NotNil(t, frame.Samples[0].Ppg)
	ch := frame.Samples[0].Ppg.Channels
	require.Len(t, ch, 4)
	assert.Equal(t, []int32{1}, ch[0])
	assert.Equal(t, []int32{2}, ch[1])
	assert.Equal(t, []int32{3}, ch[2])
	assert.Equal(t, []int32{-1}, ch[3])
}

func TestDecodeDataFrame_Ppi(t *testing.T) {
	frame, err := DecodeDataFrame(MeasurementStream(Ppi), []byte{
		0x03,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00,
		0x3c, 0xe8, 0x03, 0x0a, 0x00, 0x01,
		0x3d, 0xd0, 0x07, 0x05, 0x00, 0x00,
	})
	require.NoError(t, err)

	require.Len(t, frame.Samples, 2)
	first := frame.Samples[0].Ppi
	require.NotNil(t, first)
	assert.Equal(t, uint16(60), first.HeartRate)
	assert.Equal(t, uint16(1000), first.IntervalMs)
	assert.Equal(t, uint16(10), first.ErrorEstimate)
	assert.Equal(t, uint8(1), first.BlockerFlags)
	assert.Equal(t, uint16(2000), frame.Samples[1].Ppi.IntervalMs)
}

func TestDecodeDataFrame_Truncated(t *testing.T) {
	_, err := DecodeDataFrame(MeasurementStream(Ecg), []byte{0x00, 0x01, 0x02})
	assert.ErrorIs(t, err, ErrTruncated)
}

func TestDecodeDataFrame_HeaderOnlyHasNoSamples(t *testing.T) {
	frame, err := DecodeDataFrame(MeasurementStream(Ecg), []byte{
		0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00,
	})
	require.NoError(t, err)
	assert.Empty(t, frame.Samples)
}

func TestDecodeDataFrame_TypeMismatch(t *testing.T) {
	data := []byte{
		0x02, // acc
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x01,
		0x01, 0x00, 0x02, 0x00, 0x03, 0x00,
	}
	_, err := DecodeDataFrame(MeasurementStream(Ecg), data)
	assert.ErrorIs(t, err, ErrTypeMismatch)

	_, err = DecodeDataFrame(HeartRateStream(), data)
	assert.ErrorIs(t, err, ErrTypeMismatch)
}

func TestDecodeDataFrame_TrailingBytes(t *testing.T) {
	_, err := DecodeDataFrame(MeasurementStream(Ecg), []byte{
		0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00,
		0xff, 0xff, 0xff, 0x01, // one sample plus a stray byte
	})
	assert.ErrorIs(t, err, ErrTrailingBytes)
}

func TestDecodeDataFrame_UnknownFrameType(t *testing.T) {
	_, err := DecodeDataFrame(MeasurementStream(Ecg), []byte{
		0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x07,
		0xff, 0xff, 0xff,
	})
	assert.ErrorIs(t, err, ErrUnknownFrameType)
}

func TestDataFrame_Time(t *testing.T) {
	frame := DataFrame{Timestamp: 599618164814402794}
	want := time.Unix(599618164+946684800, 814402794)
	assert.True(t, frame.Time().Equal(want))
}
