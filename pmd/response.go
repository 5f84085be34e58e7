package pmd

import (
	"encoding/binary"
	"fmt"
)

// responseMarker is the fixed first byte of every control point response.
const responseMarker = 0xf0

// controlHeaderSize is marker + opcode + measurement type + status + more.
const controlHeaderSize = 5

// ControlResponse is a decoded control point reply.
type ControlResponse struct {
	Op          OpCode
	Measurement MeasurementType
	Status      Status
	// More mirrors the more-frames-available byte of the wire header.
	More bool
	// Settings holds the device-advertised capability for a successful
	// GetSettings reply and is empty in every other case.
	Settings []Setting
}

// DecodeControlResponse parses a control point notification payload.
//
// Unknown status bytes decode to their raw Status value rather than
// failing, so responses from newer firmware remain readable.
func DecodeControlResponse(data []byte) (ControlResponse, error) {
	if len(data) < controlHeaderSize {
		return ControlResponse{}, fmt.Errorf("%w: control response %d bytes, want >= %d",
			ErrTruncated, len(data), controlHeaderSize)
	}
	if data[0] != responseMarker {
		return ControlResponse{}, fmt.Errorf("%w: response marker %#02x, want %#02x",
			ErrTypeMismatch, data[0], responseMarker)
	}

	resp := ControlResponse{
		Op:          OpCode(data[1]),
		Measurement: MeasurementType(data[2]),
		Status:      Status(data[3]),
		More:        data[4] != 0,
	}

	if resp.Op != GetSettings || resp.Status != StatusSuccess {
		// Settings only accompany a successful GetSettings reply.
		return resp, nil
	}

	settings, err := decodeSettings(data[controlHeaderSize:])
	if err != nil {
		return ControlResponse{}, err
	}
	if len(settings) == 0 {
		return ControlResponse{}, fmt.Errorf("%w: successful settings reply with no settings",
			ErrMalformedSettings)
	}
	resp.Settings = settings
	return resp, nil
}

// decodeSettings parses consecutive (kind, count, count x uint16 LE)
// blocks until the buffer is exhausted.
func decodeSettings(data []byte) ([]Setting, error) {
	var settings []Setting
	for len(data) > 0 {
		if len(data) < 2 {
			return nil, fmt.Errorf("%w: dangling setting header", ErrMalformedSettings)
		}
		kind := SettingKind(data[0])
		count := int(data[1])
		data = data[2:]
		if len(data) < 2*count {
			return nil, fmt.Errorf("%w: %s declares %d values, %d bytes left",
				ErrMalformedSettings, kind, count, len(data))
		}
		values := make([]uint16, count)
		for i := range values {
			values[i] = binary.LittleEndian.Uint16(data[2*i:])
		}
		data = data[2*count:]
		settings = append(settings, Setting{Kind: kind, Values: values})
	}
	return settings, nil
}

// Matches reports whether the response echoes the given request.
func (r ControlResponse) Matches(cmd ControlCommand) bool {
	return r.Op == cmd.Op && r.Measurement == cmd.Measurement
}
