// Package pmd implements the wire codec for the Polar Measurement Data
// (PMD) protocol: control-point command encoding, control-point response
// decoding and streaming data-frame decoding.
//
// Everything in this package is a pure function over byte slices. State,
// I/O and session lifecycle live in the polar package.
//
// Technical documentation for the PMD protocol is available from the
// Polar BLE SDK repository:
// https://github.com/polarofficial/polar-ble-sdk/tree/master/technical_documentation
package pmd

import (
	"errors"
	"fmt"
)

// Decode errors. All of them are recoverable: a malformed notification is
// skipped and reported, it never terminates a session.
var (
	// ErrTruncated is returned when a payload is shorter than its fixed header.
	ErrTruncated = errors.New("pmd: truncated payload")
	// ErrMalformedSettings is returned when a settings block declares more
	// values than the buffer holds, or a successful settings reply carries
	// no settings at all.
	ErrMalformedSettings = errors.New("pmd: malformed settings block")
	// ErrTypeMismatch is returned when the measurement type embedded in a
	// data frame does not match the expected stream.
	ErrTypeMismatch = errors.New("pmd: measurement type mismatch")
	// ErrTrailingBytes is returned when a data frame payload is not fully
	// consumed by its samples. This signals a codec or firmware version
	// mismatch rather than a condition that can be silently ignored.
	ErrTrailingBytes = errors.New("pmd: trailing bytes in data frame")
	// ErrUnknownFrameType is returned for frame-type bytes this codec does
	// not implement. Frame types are an extensible tag; new firmware may
	// introduce values that must be reportable without being fatal.
	ErrUnknownFrameType = errors.New("pmd: unknown frame type")
	// ErrEmptySettingList is returned when a Start command is encoded
	// without any settings.
	ErrEmptySettingList = errors.New("pmd: start command requires settings")
)

// MeasurementType identifies a PMD measurement stream.
type MeasurementType uint8

const (
	Ecg           MeasurementType = 0
	Ppg           MeasurementType = 1
	Accelerometer MeasurementType = 2
	Ppi           MeasurementType = 3
	Gyroscope     MeasurementType = 5
	Magnetometer  MeasurementType = 6
)

func (t MeasurementType) String() string {
	switch t {
	case Ecg:
		return "ecg"
	case Ppg:
		return "ppg"
	case Accelerometer:
		return "acc"
	case Ppi:
		return "ppi"
	case Gyroscope:
		return "gyro"
	case Magnetometer:
		return "mag"
	default:
		return fmt.Sprintf("measurement(%d)", uint8(t))
	}
}

// Valid reports whether t is a measurement type known to this codec.
func (t MeasurementType) Valid() bool {
	switch t {
	case Ecg, Ppg, Accelerometer, Ppi, Gyroscope, Magnetometer:
		return true
	}
	return false
}

// RequiresSettings reports whether a Start command for t must carry at
// least a sample rate and resolution. PPI is event driven and starts
// with no settings at all.
func (t MeasurementType) RequiresSettings() bool {
	return t != Ppi
}

// OpCode is a PMD control point operation.
type OpCode uint8

const (
	GetSettings OpCode = 1
	Start       OpCode = 2
	Stop        OpCode = 3
)

func (o OpCode) String() string {
	switch o {
	case GetSettings:
		return "get_settings"
	case Start:
		return "start"
	case Stop:
		return "stop"
	default:
		return fmt.Sprintf("opcode(%d)", uint8(o))
	}
}

// SettingKind is an axis of configurability for a measurement type.
type SettingKind uint8

const (
	SampleRate SettingKind = 0
	Resolution SettingKind = 1
	Range      SettingKind = 2
	Channels   SettingKind = 4
)

func (k SettingKind) String() string {
	switch k {
	case SampleRate:
		return "sample_rate"
	case Resolution:
		return "resolution"
	case Range:
		return "range"
	case Channels:
		return "channels"
	default:
		return fmt.Sprintf("setting(%d)", uint8(k))
	}
}

// Setting is one configurable axis of a measurement: the kind paired with
// the values it carries. In a GetSettings reply Values holds every value
// the device supports; in a Start command it holds the single selected
// value.
type Setting struct {
	Kind   SettingKind
	Values []uint16
}

// Supports reports whether v is one of the setting's values.
func (s Setting) Supports(v uint16) bool {
	for _, sv := range s.Values {
		if sv == v {
			return true
		}
	}
	return false
}

// Status is a PMD control point response status.
type Status uint8

// Control point status codes per the PMD error table. Byte values outside
// this set decode without failing so that newer firmware does not break
// the codec; use Known to distinguish them.
const (
	StatusSuccess                         Status = 0
	StatusInvalidOpCode                   Status = 1
	StatusInvalidParameter                Status = 5
	StatusAlreadyInState                  Status = 6
	StatusInvalidResolution               Status = 7
	StatusInvalidSampleRate               Status = 8
	StatusInvalidRange                    Status = 9
	StatusInvalidMTU                      Status = 10
	StatusDeviceInCharacteristicReadState Status = 13
)

// Known reports whether s is one of the named status codes.
func (s Status) Known() bool {
	switch s {
	case StatusSuccess, StatusInvalidOpCode, StatusInvalidParameter,
		StatusAlreadyInState, StatusInvalidResolution, StatusInvalidSampleRate,
		StatusInvalidRange, StatusInvalidMTU, StatusDeviceInCharacteristicReadState:
		return true
	}
	return false
}

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusInvalidOpCode:
		return "invalid op code"
	case StatusInvalidParameter:
		return "invalid parameter"
	case StatusAlreadyInState:
		return "already in state"
	case StatusInvalidResolution:
		return "invalid resolution"
	case StatusInvalidSampleRate:
		return "invalid sample rate"
	case StatusInvalidRange:
		return "invalid range"
	case StatusInvalidMTU:
		return "invalid MTU"
	case StatusDeviceInCharacteristicReadState:
		return "device in characteristic read state"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// StreamClass distinguishes the subscribable sources a sensor exposes.
type StreamClass uint8

const (
	ClassBattery StreamClass = iota
	ClassHeartRate
	ClassMeasurement
)

// StreamKind identifies a subscribable data source: the standard battery
// and heart-rate GATT notifications, or one PMD measurement stream.
// StreamKind is comparable and usable as a map key; equality is by tag.
type StreamKind struct {
	Class       StreamClass
	Measurement MeasurementType // valid only when Class is ClassMeasurement
}

// BatteryStream is the battery level notification source.
func BatteryStream() StreamKind { return StreamKind{Class: ClassBattery} }

// HeartRateStream is the heart rate measurement notification source.
func HeartRateStream() StreamKind { return StreamKind{Class: ClassHeartRate} }

// MeasurementStream is the PMD stream for the given measurement type.
func MeasurementStream(t MeasurementType) StreamKind {
	return StreamKind{Class: ClassMeasurement, Measurement: t}
}

// IsMeasurement reports whether the stream is a PMD measurement stream,
// which uses the shared control point; battery and heart rate do not.
func (k StreamKind) IsMeasurement() bool { return k.Class == ClassMeasurement }

func (k StreamKind) String() string {
	switch k.Class {
	case ClassBattery:
		return "battery"
	case ClassHeartRate:
		return "heart_rate"
	case ClassMeasurement:
		return "pmd_" + k.Measurement.String()
	default:
		return fmt.Sprintf("stream(%d)", uint8(k.Class))
	}
}
