package pmd

import (
	"encoding/binary"
	"fmt"
	"time"
)

// Data frame header layout: measurement type, 8-byte little-endian
// timestamp, frame type.
const (
	frameTypeOffset = 9
	frameDataOffset = 10
)

// PMD timestamps count nanoseconds from 2000-01-01T00:00:00Z.
const epochOffset = 946684800

// FrameType selects the per-sample encoding for a measurement type.
// Treat it as an extensible tag: firmware revisions add new values.
type FrameType uint8

// Frame types implemented by this codec.
const (
	EcgFrame24Bit  FrameType = 0
	PpgFrame24Bit  FrameType = 0
	AccFrame16Bit  FrameType = 1
	PpiFrame       FrameType = 0
	GyroFrame16Bit FrameType = 0
	MagFrame16Bit  FrameType = 0
)

// ppgChannels is the channel count of the 24-bit PPG frame:
// three PPG photodiodes plus one ambient light channel.
const ppgChannels = 4

// Sample is one decoded measurement sample. Exactly one of the variant
// fields is populated, matching the frame's measurement type.
type Sample struct {
	Ecg  *EcgSample
	Acc  *TriadSample
	Gyro *TriadSample
	Mag  *TriadSample
	Ppg  *PpgSample
	Ppi  *PpiSample
}

// EcgSample is a batch of ECG voltages from one frame.
type EcgSample struct {
	Microvolts []int32
}

// TriadSample is a batch of 3-axis vector readings from one frame, one
// [x, y, z] triple per reading. Units depend on the stream: mG for the
// accelerometer, deg/s for the gyroscope, G for the magnetometer.
type TriadSample struct {
	Triples [][3]int32
}

// PpgSample is a batch of photoplethysmogram readings: Channels[c][i] is
// the i-th value of channel c. The last channel is ambient light.
type PpgSample struct {
	Channels [][]int32
}

// PpiSample is one peak-to-peak interval record.
type PpiSample struct {
	HeartRate     uint16
	IntervalMs    uint16
	ErrorEstimate uint16
	BlockerFlags  uint8
}

// DataFrame is one decoded data notification: the stream it belongs to,
// the device timestamp of the last sample, and the samples it carries.
type DataFrame struct {
	Stream    StreamKind
	Timestamp uint64
	Frame     FrameType
	Samples   []Sample
}

// Time converts the device timestamp to wall-clock time.
func (f DataFrame) Time() time.Time {
	return time.Unix(int64(f.Timestamp)/1e9+epochOffset, int64(f.Timestamp)%1e9)
}

// DecodeDataFrame parses one PMD data notification. The hint names the
// stream the caller expects on this characteristic; a payload whose
// embedded measurement type disagrees fails with ErrTypeMismatch. The
// payload must be consumed exactly: leftover bytes after the declared
// samples fail with ErrTrailingBytes.
func DecodeDataFrame(hint StreamKind, data []byte) (DataFrame, error) {
	if len(data) < frameDataOffset {
		return DataFrame{}, fmt.Errorf("%w: data frame %d bytes, want >= %d",
			ErrTruncated, len(data), frameDataOffset)
	}
	mt := MeasurementType(data[0])
	if !hint.IsMeasurement() || hint.Measurement != mt {
		return DataFrame{}, fmt.Errorf("%w: frame carries %s, expected %s",
			ErrTypeMismatch, mt, hint)
	}

	frame := DataFrame{
		Stream:    hint,
		Timestamp: binary.LittleEndian.Uint64(data[1:]),
		Frame:     FrameType(data[frameTypeOffset]),
	}
	payload := data[frameDataOffset:]
	if len(payload) == 0 {
		return frame, nil
	}

	var (
		sample Sample
		err    error
	)
	switch mt {
	case Ecg:
		sample, err = decodeEcg(frame.Frame, payload)
	case Accelerometer:
		sample, err = decodeTriad(mt, frame.Frame, AccFrame16Bit, payload)
	case Gyroscope:
		sample, err = decodeTriad(mt, frame.Frame, GyroFrame16Bit, payload)
	case Magnetometer:
		sample, err = decodeTriad(mt, frame.Frame, MagFrame16Bit, payload)
	case Ppg:
		sample, err = decodePpg(frame.Frame, payload)
	case Ppi:
		return decodePpi(frame, payload)
	default:
		err = fmt.Errorf("%w: measurement type %s", ErrUnknownFrameType, mt)
	}
	if err != nil {
		return DataFrame{}, err
	}
	frame.Samples = []Sample{sample}
	return frame, nil
}

func decodeEcg(ft FrameType, payload []byte) (Sample, error) {
	if ft != EcgFrame24Bit {
		return Sample{}, fmt.Errorf("%w: ecg frame type %d", ErrUnknownFrameType, ft)
	}
	const stride = 3
	if len(payload)%stride != 0 {
		return Sample{}, fmt.Errorf("%w: %d bytes beyond last ecg sample",
			ErrTrailingBytes, len(payload)%stride)
	}
	uv := make([]int32, 0, len(payload)/stride)
	for i := 0; i < len(payload); i += stride {
		uv = append(uv, leInt24(payload[i:i+stride]))
	}
	return Sample{Ecg: &EcgSample{Microvolts: uv}}, nil
}

func decodeTriad(mt MeasurementType, ft, want FrameType, payload []byte) (Sample, error) {
	if ft != want {
		return Sample{}, fmt.Errorf("%w: %s frame type %d", ErrUnknownFrameType, mt, ft)
	}
	const stride = 6 // three int16 axes
	if len(payload)%stride != 0 {
		return Sample{}, fmt.Errorf("%w: %d bytes beyond last %s sample",
			ErrTrailingBytes, len(payload)%stride, mt)
	}
	n := len(payload) / stride
	s := TriadSample{Triples: make([][3]int32, n)}
	for i := 0; i < n; i++ {
		off := i * stride
		s.Triples[i] = [3]int32{
			int32(int16(binary.LittleEndian.Uint16(payload[off:]))),
			int32(int16(binary.LittleEndian.Uint16(payload[off+2:]))),
			int32(int16(binary.LittleEndian.Uint16(payload[off+4:]))),
		}
	}
	sample := Sample{}
	switch mt {
	case Accelerometer:
		sample.Acc = &s
	case Gyroscope:
		sample.Gyro = &s
	case Magnetometer:
		sample.Mag = &s
	}
	return sample, nil
}

func decodePpg(ft FrameType, payload []byte) (Sample, error) {
	if ft != PpgFrame24Bit {
		return Sample{}, fmt.Errorf("%w: ppg frame type %d", ErrUnknownFrameType, ft)
	}
	const stride = ppgChannels * 3 // four channels, int24 each
	if len(payload)%stride != 0 {
		return Sample{}, fmt.Errorf("%w: %d bytes beyond last ppg sample",
			ErrTrailingBytes, len(payload)%stride)
	}
	n := len(payload) / stride
	channels := make([][]int32, ppgChannels)
	for c := range channels {
		channels[c] = make([]int32, n)
	}
	for i := 0; i < n; i++ {
		off := i * stride
		for c := 0; c < ppgChannels; c++ {
			channels[c][i] = leInt24(payload[off+3*c : off+3*c+3])
		}
	}
	return Sample{Ppg: &PpgSample{Channels: channels}}, nil
}

func decodePpi(frame DataFrame, payload []byte) (DataFrame, error) {
	if frame.Frame != PpiFrame {
		return DataFrame{}, fmt.Errorf("%w: ppi frame type %d", ErrUnknownFrameType, frame.Frame)
	}
	const stride = 6 // hr:1, interval:2, error estimate:2, flags:1
	if len(payload)%stride != 0 {
		return DataFrame{}, fmt.Errorf("%w: %d bytes beyond last ppi record",
			ErrTrailingBytes, len(payload)%stride)
	}
	for off := 0; off < len(payload); off += stride {
		frame.Samples = append(frame.Samples, Sample{Ppi: &PpiSample{
			HeartRate:     uint16(payload[off]),
			IntervalMs:    binary.LittleEndian.Uint16(payload[off+1:]),
			ErrorEstimate: binary.LittleEndian.Uint16(payload[off+3:]),
			BlockerFlags:  payload[off+5],
		}})
	}
	return frame, nil
}

// leInt24 decodes a little-endian signed 24-bit integer.
func leInt24(b []byte) int32 {
	_ = b[2]
	return int32(b[0]) | int32(b[1])<<8 | int32(int8(b[2]))<<16
}
