package polar

import "github.com/polarstream/polar-stream/pmd"

// EventHandler receives decoded events from the event loop. All methods
// are invoked from the loop goroutine only; implementations that need to
// do slow work should hand it off rather than block the receive path.
type EventHandler interface {
	// OnBattery is called with each battery level update, in percent.
	OnBattery(level uint8)
	// OnHeartRate is called with each heart rate measurement. rr holds
	// the R-R intervals delivered with it and may be empty.
	OnHeartRate(bpm uint16, rr []uint16)
	// OnPMD is called with each decoded measurement data frame.
	OnPMD(kind pmd.StreamKind, frame pmd.DataFrame)
	// OnDecodeError is called when an inbound payload cannot be decoded
	// or matched. The loop skips the payload and continues; a corrupt
	// notification never terminates the session.
	OnDecodeError(context string, err error)
	// ShouldStop is polled once per processed notification; returning
	// true ends the event loop with a nil result.
	ShouldStop() bool
}
