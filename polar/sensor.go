// Package polar drives the measurement side of a Polar heart rate sensor
// over an already-connected transport. It subscribes streams, runs the
// PMD control point request/response cycle and dispatches every inbound
// notification from a single loop.
package polar

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/polarstream/polar-stream/internal/events"
	"github.com/polarstream/polar-stream/pmd"
)

// defaultRequestTimeout bounds how long a control round trip may take
// before the caller is released with ErrRequestTimeout.
const defaultRequestTimeout = 30 * time.Second

// Sensor is the client-facing engine for one connected device. All
// exported methods are safe for concurrent use; control round trips
// serialize on the shared control point and fail fast with ErrBusy
// rather than queue.
type Sensor struct {
	transport Transport
	handler   EventHandler
	logger    *log.Logger
	registry  *registry
	timeout   time.Duration

	frameEvents     *events.Broadcast[pmd.DataFrame]
	heartRateEvents *events.Broadcast[pmd.HeartRateMeasurement]
	batteryEvents   *events.Broadcast[uint8]
}

// NewSensor wires a Sensor to a connected transport. The optional
// timeout overrides the default 30s control round trip bound.
func NewSensor(transport Transport, handler EventHandler, logger *log.Logger, timeout ...time.Duration) *Sensor {
	if transport == nil {
		panic("transport cannot be nil")
	}
	if handler == nil {
		panic("handler cannot be nil")
	}
	if logger == nil {
		panic("logger cannot be nil")
	}

	requestTimeout := defaultRequestTimeout
	if len(timeout) > 0 && timeout[0] > 0 {
		requestTimeout = timeout[0]
	}

	return &Sensor{
		transport:       transport,
		handler:         handler,
		logger:          logger,
		registry:        newRegistry(),
		timeout:         requestTimeout,
		frameEvents:     events.NewBroadcast[pmd.DataFrame](false),
		heartRateEvents: events.NewBroadcast[pmd.HeartRateMeasurement](false),
		batteryEvents:   events.NewBroadcast[uint8](true),
	}
}

// Subscribe enables device notifications for the stream. Battery and
// heart rate start flowing immediately; a PMD measurement additionally
// needs a StartMeasurement round trip before data arrives. Subscribing
// an already subscribed stream is a no-op.
func (s *Sensor) Subscribe(kind pmd.StreamKind) error {
	if !s.transport.IsConnected() {
		return ErrNotConnected
	}
	if s.registry.isSubscribed(kind) {
		return nil
	}

	for _, src := range s.sources(kind) {
		if err := s.transport.EnableNotifications(src); err != nil {
			return fmt.Errorf("enabling %s notifications: %w", src, err)
		}
	}
	s.registry.setSubscribed(kind, true)
	s.logger.Printf("subscribed %s", kind)
	return nil
}

// Unsubscribe disables device notifications for the stream. The shared
// PMD characteristics stay enabled while any other measurement stream is
// still subscribed.
func (s *Sensor) Unsubscribe(kind pmd.StreamKind) error {
	if !s.registry.isSubscribed(kind) {
		return nil
	}

	s.registry.setSubscribed(kind, false)
	if kind.IsMeasurement() && s.registry.subscribedMeasurements() > 0 {
		return nil
	}
	for _, src := range s.sources(kind) {
		if err := s.transport.DisableNotifications(src); err != nil {
			return fmt.Errorf("disabling %s notifications: %w", src, err)
		}
	}
	s.logger.Printf("unsubscribed %s", kind)
	return nil
}

// sources maps a stream to the characteristics it needs notifying. All
// PMD measurements share one control point and one data characteristic.
func (s *Sensor) sources(kind pmd.StreamKind) []Source {
	switch kind.Class {
	case pmd.ClassBattery:
		return []Source{SourceBattery}
	case pmd.ClassHeartRate:
		return []Source{SourceHeartRate}
	default:
		return []Source{SourceControlPoint, SourceData}
	}
}

// RequestSettings asks the device which setting values it supports for
// the measurement type. The reply is cached so a later StartMeasurement
// can validate its selections locally.
func (s *Sensor) RequestSettings(ctx context.Context, t pmd.MeasurementType) ([]pmd.Setting, error) {
	resp, err := s.roundTrip(ctx, pmd.SettingsCommand(t))
	if err != nil {
		return nil, err
	}
	return resp.Settings, nil
}

// StartMeasurement starts streaming the measurement type with the given
// setting selections. Every selection is validated against the cached
// advertised settings before the device is contacted; an unadvertised
// value fails with ErrUnsupportedSetting and no bytes are written.
func (s *Sensor) StartMeasurement(ctx context.Context, t pmd.MeasurementType, selections map[pmd.SettingKind]uint16) (err error) {
	settings, err := s.resolveSelections(t, selections)
	if err != nil {
		return err
	}
	_, err = s.roundTrip(ctx, pmd.StartCommand(t, settings))
	return err
}

// resolveSelections checks the selections against the cached advertised
// capability and returns them ordered the way the device advertised its
// setting kinds.
func (s *Sensor) resolveSelections(t pmd.MeasurementType, selections map[pmd.SettingKind]uint16) ([]pmd.Setting, error) {
	if len(selections) == 0 {
		return nil, nil
	}

	advertised := s.registry.cachedSettings(t)
	if advertised == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoSettings, t)
	}

	settings := make([]pmd.Setting, 0, len(selections))
	chosen := make(map[pmd.SettingKind]bool, len(selections))
	for _, adv := range advertised {
		value, ok := selections[adv.Kind]
		if !ok {
			continue
		}
		if !adv.Supports(value) {
			return nil, fmt.Errorf("%w: %s %s=%d, device offers %v",
				ErrUnsupportedSetting, t, adv.Kind, value, adv.Values)
		}
		settings = append(settings, pmd.Setting{Kind: adv.Kind, Values: []uint16{value}})
		chosen[adv.Kind] = true
	}
	for kind, value := range selections {
		if !chosen[kind] {
			return nil, fmt.Errorf("%w: %s %s=%d, device does not advertise %s",
				ErrUnsupportedSetting, t, kind, value, kind)
		}
	}
	return settings, nil
}

// StopMeasurement stops a streaming measurement. Stopping a measurement
// that is not streaming succeeds without contacting the device.
func (s *Sensor) StopMeasurement(ctx context.Context, t pmd.MeasurementType) error {
	if s.registry.streamState(pmd.MeasurementStream(t)) == stateIdle {
		return nil
	}
	_, err := s.roundTrip(ctx, pmd.StopCommand(t))
	return err
}

// roundTrip runs one control exchange: encode, claim the control point,
// write, wait for the matching response. State transitions are rolled
// back on any failure so a dead request never wedges the session. If the
// response lands just as the timeout or cancellation fires, the session
// state may have advanced even though the caller sees an error; the next
// call observes the settled state.
func (s *Sensor) roundTrip(ctx context.Context, cmd pmd.ControlCommand) (pmd.ControlResponse, error) {
	encoded, err := pmd.EncodeCommand(cmd)
	if err != nil {
		return pmd.ControlResponse{}, err
	}
	if !s.transport.IsConnected() {
		return pmd.ControlResponse{}, ErrNotConnected
	}

	token, err := s.registry.beginRequest(pmd.MeasurementStream(cmd.Measurement), cmd)
	if err != nil {
		return pmd.ControlResponse{}, err
	}

	if err := s.transport.Write(encoded); err != nil {
		s.registry.abortRequest(token)
		return pmd.ControlResponse{}, fmt.Errorf("writing %s for %s: %w", cmd.Op, cmd.Measurement, err)
	}

	select {
	case result := <-token.done:
		if result.err != nil {
			return pmd.ControlResponse{}, result.err
		}
		if result.resp.Status != pmd.StatusSuccess {
			return pmd.ControlResponse{}, &DeviceStatusError{
				Op:          cmd.Op,
				Measurement: cmd.Measurement,
				Status:      result.resp.Status,
			}
		}
		return result.resp, nil
	case <-ctx.Done():
		s.registry.abortRequest(token)
		return pmd.ControlResponse{}, ctx.Err()
	case <-time.After(s.timeout):
		s.registry.abortRequest(token)
		return pmd.ControlResponse{}, fmt.Errorf("%w: %s for %s", ErrRequestTimeout, cmd.Op, cmd.Measurement)
	}
}

// EventLoop consumes the transport notification stream until the context
// is cancelled, the handler asks to stop, or the stream ends. It is the
// only consumer of inbound notifications; callers blocked in a control
// round trip are woken from here. A payload that fails to decode is
// reported through OnDecodeError and skipped.
func (s *Sensor) EventLoop(ctx context.Context) error {
	if len(s.registry.activeStreams()) == 0 {
		return ErrNoSubscriptions
	}

	notifications := s.transport.Notifications()
	for {
		if s.handler.ShouldStop() {
			s.logger.Printf("event loop stopped by handler")
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case n, ok := <-notifications:
			if !ok {
				s.registry.linkLost()
				s.logger.Printf("notification stream ended")
				return ErrLinkLost
			}
			s.handleNotification(n)
		}
	}
}

func (s *Sensor) handleNotification(n Notification) {
	switch n.Source {
	case SourceControlPoint:
		resp, err := pmd.DecodeControlResponse(n.Payload)
		if err != nil {
			s.handler.OnDecodeError("control response", err)
			return
		}
		if err := s.registry.complete(resp); err != nil {
			s.handler.OnDecodeError("control response", err)
		}
	case SourceData:
		s.handleDataFrame(n.Payload)
	case SourceHeartRate:
		hr, err := pmd.DecodeHeartRate(n.Payload)
		if err != nil {
			s.handler.OnDecodeError("heart rate", err)
			return
		}
		s.handler.OnHeartRate(hr.BeatsPerMinute, hr.RRIntervals)
		s.heartRateEvents.Notify(hr)
	case SourceBattery:
		level, err := pmd.DecodeBatteryLevel(n.Payload)
		if err != nil {
			s.handler.OnDecodeError("battery", err)
			return
		}
		s.handler.OnBattery(level)
		s.batteryEvents.Notify(level)
	default:
		s.handler.OnDecodeError("notification", fmt.Errorf("unknown source %s", n.Source))
	}
}

// handleDataFrame routes one PMD data payload. The data characteristic
// is shared by every measurement type, so the embedded type byte decides
// which stream the frame belongs to; a frame for a stream that is not
// subscribed is reported and dropped.
func (s *Sensor) handleDataFrame(payload []byte) {
	if len(payload) == 0 {
		s.handler.OnDecodeError("data frame", pmd.ErrTruncated)
		return
	}
	kind := pmd.MeasurementStream(pmd.MeasurementType(payload[0]))
	if !s.registry.activeStreams()[kind] {
		s.handler.OnDecodeError("data frame",
			fmt.Errorf("%w: frame for unsubscribed %s", pmd.ErrTypeMismatch, kind))
		return
	}

	frame, err := pmd.DecodeDataFrame(kind, payload)
	if err != nil {
		s.handler.OnDecodeError("data frame", err)
		return
	}
	s.handler.OnPMD(kind, frame)
	s.frameEvents.Notify(frame)
}

// ListenFrames registers a channel for decoded PMD data frames and
// returns a deregistration function. Sends never block; a full channel
// misses frames.
func (s *Sensor) ListenFrames(ch chan<- pmd.DataFrame) func() {
	return s.frameEvents.Listen(ch)
}

// ListenHeartRate registers a channel for heart rate measurements.
func (s *Sensor) ListenHeartRate(ch chan<- pmd.HeartRateMeasurement) func() {
	return s.heartRateEvents.Listen(ch)
}

// ListenBattery registers a channel for battery levels. The most recent
// level, if any, is replayed to the new listener.
func (s *Sensor) ListenBattery(ch chan<- uint8) func() {
	return s.batteryEvents.Listen(ch)
}

// Disconnect tears down the transport link. Sessions are invalidated by
// the event loop when the notification stream ends.
func (s *Sensor) Disconnect() error {
	if !s.transport.IsConnected() {
		return nil
	}
	return s.transport.Disconnect()
}
