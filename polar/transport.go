package polar

import "fmt"

// Source tags the characteristic a notification originated from.
type Source uint8

const (
	// SourceControlPoint carries PMD control point replies.
	SourceControlPoint Source = iota
	// SourceData carries PMD measurement data frames.
	SourceData
	// SourceHeartRate carries standard heart rate measurements.
	SourceHeartRate
	// SourceBattery carries battery level updates.
	SourceBattery
)

func (s Source) String() string {
	switch s {
	case SourceControlPoint:
		return "control_point"
	case SourceData:
		return "pmd_data"
	case SourceHeartRate:
		return "heart_rate"
	case SourceBattery:
		return "battery"
	default:
		return fmt.Sprintf("source(%d)", uint8(s))
	}
}

// Notification is one inbound payload with its originating characteristic.
type Notification struct {
	Source  Source
	Payload []byte
}

// Transport is the already-connected byte channel to the sensor. The
// engine never discovers, pairs or connects; it is handed a Transport.
//
// Notifications returns the same channel on every call. The channel is
// closed when the link is lost and is not restartable.
type Transport interface {
	// Write sends a byte buffer to the control point characteristic.
	Write(data []byte) error
	// Notifications is the single inbound stream of tagged payloads.
	Notifications() <-chan Notification
	// EnableNotifications asks the device to start notifying the
	// characteristic behind src.
	EnableNotifications(src Source) error
	// DisableNotifications stops notifications for src.
	DisableNotifications(src Source) error
	IsConnected() bool
	Disconnect() error
}
