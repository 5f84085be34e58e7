package pmd

import (
	"encoding/binary"
	"fmt"
)

// ControlCommand is an outbound control point request. It is built once
// per call and never mutated after construction.
type ControlCommand struct {
	Op          OpCode
	Measurement MeasurementType
	// Settings is only meaningful for Start; each entry carries the
	// selected value(s) for one setting kind.
	Settings []Setting
}

// SettingsCommand builds a GetSettings request for the given measurement type.
func SettingsCommand(t MeasurementType) ControlCommand {
	return ControlCommand{Op: GetSettings, Measurement: t}
}

// StartCommand builds a Start request carrying the selected settings.
func StartCommand(t MeasurementType, settings []Setting) ControlCommand {
	return ControlCommand{Op: Start, Measurement: t, Settings: settings}
}

// StopCommand builds a Stop request for the given measurement type.
func StopCommand(t MeasurementType) ControlCommand {
	return ControlCommand{Op: Stop, Measurement: t}
}

// EncodeCommand serializes a control command to its wire form:
// opcode byte, measurement type byte, then for Start one block per
// setting as (kind, count, count x 2-byte little-endian value).
func EncodeCommand(cmd ControlCommand) ([]byte, error) {
	if cmd.Op == Start && len(cmd.Settings) == 0 && cmd.Measurement.RequiresSettings() {
		return nil, fmt.Errorf("%w: %s", ErrEmptySettingList, cmd.Measurement)
	}

	size := 2
	for _, s := range cmd.Settings {
		size += 2 + 2*len(s.Values)
	}

	buf := make([]byte, 2, size)
	buf[0] = byte(cmd.Op)
	buf[1] = byte(cmd.Measurement)
	if cmd.Op != Start {
		return buf, nil
	}

	for _, s := range cmd.Settings {
		buf = append(buf, byte(s.Kind), byte(len(s.Values)))
		for _, v := range s.Values {
			buf = binary.LittleEndian.AppendUint16(buf, v)
		}
	}
	return buf, nil
}
