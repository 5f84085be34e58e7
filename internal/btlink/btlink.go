// Package btlink implements the engine's transport over a BLE link using
// tinygo.org/x/bluetooth. It owns scanning, connecting and GATT
// characteristic plumbing; the engine only sees tagged notification
// payloads and a control point write.
package btlink

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"

	"github.com/polarstream/polar-stream/polar"
)

// Standard GATT services carried by every Polar sensor.
var (
	heartRateServiceUUID = bluetooth.New16BitUUID(0x180D)
	heartRateCharUUID    = bluetooth.New16BitUUID(0x2A37)
	batteryServiceUUID   = bluetooth.New16BitUUID(0x180F)
	batteryCharUUID      = bluetooth.New16BitUUID(0x2A19)
)

// Polar's vendor-specific PMD service. One control point characteristic
// for requests and replies, one data characteristic shared by every
// measurement stream.
var (
	pmdServiceUUID = mustUUID("fb005c80-02e7-f387-1cad-8acd2d8df0c8")
	pmdControlUUID = mustUUID("fb005c81-02e7-f387-1cad-8acd2d8df0c8")
	pmdDataUUID    = mustUUID("fb005c82-02e7-f387-1cad-8acd2d8df0c8")
)

func mustUUID(s string) bluetooth.UUID {
	uuid, err := bluetooth.ParseUUID(s)
	if err != nil {
		panic(fmt.Sprintf("btlink: bad uuid %q: %v", s, err))
	}
	return uuid
}

// notificationBuffer sizes the inbound channel. ECG at 130Hz arrives in
// bursts of batched frames; the buffer absorbs them while the event loop
// is busy in a handler.
const notificationBuffer = 256

// charKey identifies one characteristic in the discovery cache.
type charKey struct {
	service bluetooth.UUID
	char    bluetooth.UUID
}

// Link is a connected Polar sensor. It satisfies polar.Transport.
type Link struct {
	device bluetooth.Device
	logger *log.Logger

	mu        sync.RWMutex
	connected bool
	services  map[bluetooth.UUID]*bluetooth.DeviceService
	chars     map[charKey]*bluetooth.DeviceCharacteristic
	// allServicesDiscovered guards against re-running service discovery;
	// re-discovering singular services interrupts ones already in use.
	allServicesDiscovered bool
	charsDiscovered       map[bluetooth.UUID]bool

	// bleMu serializes GATT operations. The BLE stack does not take two
	// concurrent characteristic operations well.
	bleMu sync.Mutex

	notifications chan polar.Notification
	closeOnce     sync.Once
}

var _ polar.Transport = (*Link)(nil)

// Scan scans until a device advertising the PMD service is seen, or the
// timeout elapses. With name set, only a device whose local name has
// that prefix matches; Polar sensors advertise as e.g. "Polar H10 ABC123".
func Scan(adapter *bluetooth.Adapter, logger *log.Logger, name string, timeout time.Duration) (bluetooth.ScanResult, error) {
	if logger == nil {
		panic("logger cannot be nil")
	}

	var (
		found   bluetooth.ScanResult
		matched bool
	)

	timer := time.AfterFunc(timeout, func() {
		if err := adapter.StopScan(); err != nil {
			logger.Printf("btlink: stopping scan after timeout: %v", err)
		}
	})
	defer timer.Stop()

	logger.Printf("btlink: scanning for %q (timeout %v)", name, timeout)
	// Scan blocks until StopScan; the callback runs on the scanning
	// goroutine, so found and matched need no locking.
	err := adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
		if matched {
			return
		}
		if name != "" && !strings.HasPrefix(result.LocalName(), name) {
			return
		}
		if name == "" && !result.HasServiceUUID(pmdServiceUUID) {
			return
		}
		found = result
		matched = true
		logger.Printf("btlink: found %s (%s) [RSSI: %d]",
			result.LocalName(), result.Address.String(), result.RSSI)
		if err := adapter.StopScan(); err != nil {
			logger.Printf("btlink: stopping scan: %v", err)
		}
	})
	if err != nil {
		return bluetooth.ScanResult{}, fmt.Errorf("scan failed: %w", err)
	}

	if !matched {
		return bluetooth.ScanResult{}, errors.New("btlink: no matching device found")
	}
	return found, nil
}

// Dial connects to a scanned device and returns a Link ready for the
// engine. The adapter's connect handler is registered here so a dropped
// link closes the notification stream.
func Dial(adapter *bluetooth.Adapter, result bluetooth.ScanResult, logger *log.Logger) (*Link, error) {
	if logger == nil {
		panic("logger cannot be nil")
	}

	l := &Link{
		logger:          logger,
		services:        make(map[bluetooth.UUID]*bluetooth.DeviceService),
		chars:           make(map[charKey]*bluetooth.DeviceCharacteristic),
		charsDiscovered: make(map[bluetooth.UUID]bool),
		notifications:   make(chan polar.Notification, notificationBuffer),
	}

	adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		if device.Address.String() != result.Address.String() {
			return
		}
		if connected {
			logger.Printf("btlink: connected to %s", device.Address.String())
			return
		}
		logger.Printf("btlink: disconnected from %s", device.Address.String())
		l.markDisconnected()
	})

	logger.Printf("btlink: connecting to %s", result.Address.String())
	device, err := adapter.Connect(result.Address, bluetooth.ConnectionParams{})
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", result.Address.String(), err)
	}

	l.mu.Lock()
	l.device = device
	l.connected = true
	l.mu.Unlock()
	return l, nil
}

// markDisconnected flips the link down and closes the notification
// stream exactly once. The engine's event loop sees the close and
// reports the link as lost.
func (l *Link) markDisconnected() {
	l.mu.Lock()
	l.connected = false
	l.mu.Unlock()
	l.closeOnce.Do(func() { close(l.notifications) })
}

func (l *Link) IsConnected() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.connected
}

// Disconnect tears the BLE connection down. The connect handler fires
// the notification stream close.
func (l *Link) Disconnect() error {
	l.mu.RLock()
	connected := l.connected
	device := l.device
	l.mu.RUnlock()
	if !connected {
		return nil
	}
	return device.Disconnect()
}

// Notifications returns the single inbound stream. Closed when the link
// is lost; not restartable.
func (l *Link) Notifications() <-chan polar.Notification {
	return l.notifications
}

// Write sends data to the PMD control point with response.
func (l *Link) Write(data []byte) error {
	l.bleMu.Lock()
	defer l.bleMu.Unlock()

	char, err := l.characteristic(pmdServiceUUID, pmdControlUUID)
	if err != nil {
		return err
	}
	if _, err := char.Write(data); err != nil {
		return fmt.Errorf("writing control point: %w", err)
	}
	return nil
}

// characteristicFor maps an engine source to its GATT location.
func characteristicFor(src polar.Source) (service, char bluetooth.UUID, err error) {
	switch src {
	case polar.SourceControlPoint:
		return pmdServiceUUID, pmdControlUUID, nil
	case polar.SourceData:
		return pmdServiceUUID, pmdDataUUID, nil
	case polar.SourceHeartRate:
		return heartRateServiceUUID, heartRateCharUUID, nil
	case polar.SourceBattery:
		return batteryServiceUUID, batteryCharUUID, nil
	default:
		return bluetooth.UUID{}, bluetooth.UUID{}, fmt.Errorf("btlink: unknown source %s", src)
	}
}

// EnableNotifications subscribes the characteristic behind src and tags
// every inbound payload with it. A payload arriving while the buffer is
// full is dropped with a log line rather than blocking the BLE callback.
func (l *Link) EnableNotifications(src polar.Source) error {
	serviceUUID, charUUID, err := characteristicFor(src)
	if err != nil {
		return err
	}

	l.bleMu.Lock()
	defer l.bleMu.Unlock()

	char, err := l.characteristic(serviceUUID, charUUID)
	if err != nil {
		return err
	}

	err = char.EnableNotifications(func(buf []byte) {
		payload := make([]byte, len(buf))
		copy(payload, buf)
		select {
		case l.notifications <- polar.Notification{Source: src, Payload: payload}:
		default:
			l.logger.Printf("btlink: dropping %s payload, buffer full", src)
		}
	})
	if err != nil {
		return fmt.Errorf("enabling notifications for %s: %w", src, err)
	}
	l.logger.Printf("btlink: notifications enabled for %s", src)
	return nil
}

// DisableNotifications unsubscribes the characteristic behind src.
func (l *Link) DisableNotifications(src polar.Source) error {
	serviceUUID, charUUID, err := characteristicFor(src)
	if err != nil {
		return err
	}

	l.bleMu.Lock()
	defer l.bleMu.Unlock()

	char, err := l.characteristic(serviceUUID, charUUID)
	if err != nil {
		return err
	}
	if err := char.EnableNotifications(nil); err != nil {
		return fmt.Errorf("disabling notifications for %s: %w", src, err)
	}
	l.logger.Printf("btlink: notifications disabled for %s", src)
	return nil
}

// ReadBatteryLevel reads the battery level characteristic directly, for
// an initial value before any notification arrives.
func (l *Link) ReadBatteryLevel() (uint8, error) {
	l.bleMu.Lock()
	defer l.bleMu.Unlock()

	char, err := l.characteristic(batteryServiceUUID, batteryCharUUID)
	if err != nil {
		return 0, err
	}
	buf := make([]byte, 4)
	n, err := char.Read(buf)
	if err != nil {
		return 0, fmt.Errorf("reading battery level: %w", err)
	}
	if n < 1 {
		return 0, errors.New("btlink: empty battery read")
	}
	return buf[0], nil
}

// characteristic resolves a characteristic through the discovery cache.
// Callers hold bleMu.
func (l *Link) characteristic(serviceUUID, charUUID bluetooth.UUID) (*bluetooth.DeviceCharacteristic, error) {
	key := charKey{service: serviceUUID, char: charUUID}

	l.mu.RLock()
	char, ok := l.chars[key]
	l.mu.RUnlock()
	if ok {
		return char, nil
	}

	service, err := l.service(serviceUUID)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.charsDiscovered[serviceUUID] {
		// Discover all characteristics of the service in one pass;
		// repeated partial discovery disturbs characteristics already
		// subscribed.
		l.logger.Printf("btlink: discovering characteristics of %s", serviceUUID.String())
		discovered, err := service.DiscoverCharacteristics(nil)
		if err != nil {
			return nil, fmt.Errorf("discovering characteristics of %s: %w", serviceUUID.String(), err)
		}
		for i := range discovered {
			c := &discovered[i]
			l.chars[charKey{service: serviceUUID, char: c.UUID()}] = c
		}
		l.charsDiscovered[serviceUUID] = true
	}

	char, ok = l.chars[key]
	if !ok {
		return nil, fmt.Errorf("characteristic %s not found in service %s",
			charUUID.String(), serviceUUID.String())
	}
	return char, nil
}

// service resolves a service through the discovery cache, discovering
// all services on first miss.
func (l *Link) service(serviceUUID bluetooth.UUID) (*bluetooth.DeviceService, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if service, ok := l.services[serviceUUID]; ok {
		return service, nil
	}
	if !l.connected {
		return nil, errors.New("btlink: not connected")
	}

	if !l.allServicesDiscovered {
		l.logger.Printf("btlink: discovering services")
		discovered, err := l.device.DiscoverServices(nil)
		if err != nil {
			return nil, fmt.Errorf("discovering services: %w", err)
		}
		for i := range discovered {
			s := &discovered[i]
			l.services[s.UUID()] = s
		}
		l.allServicesDiscovered = true
	}

	service, ok := l.services[serviceUUID]
	if !ok {
		return nil, fmt.Errorf("service %s not found on device", serviceUUID.String())
	}
	return service, nil
}
