package polar

import (
	"errors"
	"fmt"

	"github.com/polarstream/polar-stream/pmd"
)

// Protocol errors returned synchronously to callers. None of them is
// retried automatically.
var (
	// ErrBusy is returned when a control exchange is already outstanding.
	// The PMD control point is a single channel shared by every
	// measurement type, so only one exchange may be in flight at a time.
	ErrBusy = errors.New("polar: control exchange already outstanding")
	// ErrMismatch is returned when a control response does not echo the
	// outstanding request.
	ErrMismatch = errors.New("polar: response does not match outstanding request")
	// ErrUnsupportedSetting is returned when a start request selects a
	// value the device did not advertise.
	ErrUnsupportedSetting = errors.New("polar: setting value not advertised by device")
	// ErrNoSubscriptions is returned when the event loop is entered with
	// nothing subscribed; such a loop could never produce an event.
	ErrNoSubscriptions = errors.New("polar: no active subscriptions")
	// ErrNoSettings is returned when a start request is issued before the
	// device's advertised settings have been fetched.
	ErrNoSettings = errors.New("polar: no cached settings, call RequestSettings first")
	// ErrNotConnected is returned when the transport reports the link down.
	ErrNotConnected = errors.New("polar: transport not connected")
	// ErrLinkLost is the terminal result of an event loop whose transport
	// notification stream ended.
	ErrLinkLost = errors.New("polar: link lost")
	// ErrRequestTimeout is returned when no matching control response
	// arrived within the request timeout.
	ErrRequestTimeout = errors.New("polar: control request timed out")
)

// DeviceStatusError reports a control request the device answered with a
// non-success status. Retrying, if sensible, is the caller's decision.
type DeviceStatusError struct {
	Op          pmd.OpCode
	Measurement pmd.MeasurementType
	Status      pmd.Status
}

func (e *DeviceStatusError) Error() string {
	return fmt.Sprintf("polar: device rejected %s for %s: %s", e.Op, e.Measurement, e.Status)
}
