package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"
	"tinygo.org/x/bluetooth"

	"github.com/polarstream/polar-stream/internal/btlink"
	"github.com/polarstream/polar-stream/pmd"
	"github.com/polarstream/polar-stream/polar"
)

var adapter = bluetooth.DefaultAdapter

// printingHandler logs every decoded event. Decode errors are logged and
// skipped; the session keeps running.
type printingHandler struct {
	logger *log.Logger
}

func (h *printingHandler) OnBattery(level uint8) {
	h.logger.Printf("battery: %d%%", level)
}

func (h *printingHandler) OnHeartRate(bpm uint16, rr []uint16) {
	if len(rr) > 0 {
		h.logger.Printf("heart rate: %d bpm, rr %v ms", bpm, rr)
		return
	}
	h.logger.Printf("heart rate: %d bpm", bpm)
}

func (h *printingHandler) OnPMD(kind pmd.StreamKind, frame pmd.DataFrame) {
	h.logger.Printf("%s frame: %d samples at %s", kind, len(frame.Samples), frame.Time().Format(time.RFC3339Nano))
}

func (h *printingHandler) OnDecodeError(context string, err error) {
	h.logger.Printf("decode error (%s): %v", context, err)
}

func (h *printingHandler) ShouldStop() bool { return false }

func initConfig() {
	pflag.String("device", "Polar", "local name prefix of the sensor to connect to")
	pflag.Duration("scan-timeout", 30*time.Second, "how long to scan before giving up")
	pflag.Duration("request-timeout", 30*time.Second, "control request round trip bound")
	pflag.String("log-file", "", "also write logs to this file, with rotation")
	pflag.Bool("ecg", false, "stream ECG at the highest advertised rate")
	pflag.Bool("acc", false, "stream accelerometer at the highest advertised rate")
	pflag.Parse()

	viper.SetEnvPrefix("polar_stream")
	viper.AutomaticEnv()
	if err := viper.BindPFlags(pflag.CommandLine); err != nil {
		panic(fmt.Sprintf("binding flags: %v", err))
	}
}

func newLogger() *log.Logger {
	var out io.Writer = os.Stderr
	if file := viper.GetString("log-file"); file != "" {
		out = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   file,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     7, // days
		})
	}
	return log.New(out, "polar-stream: ", log.LstdFlags)
}

// maxAdvertised picks the largest advertised value per setting kind, the
// richest configuration the device claims to support.
func maxAdvertised(settings []pmd.Setting) map[pmd.SettingKind]uint16 {
	selections := make(map[pmd.SettingKind]uint16, len(settings))
	for _, s := range settings {
		var best uint16
		for _, v := range s.Values {
			if v > best {
				best = v
			}
		}
		selections[s.Kind] = best
	}
	return selections
}

func startStream(ctx context.Context, sensor *polar.Sensor, logger *log.Logger, t pmd.MeasurementType) error {
	if err := sensor.Subscribe(pmd.MeasurementStream(t)); err != nil {
		return fmt.Errorf("subscribing %s: %w", t, err)
	}

	settings, err := sensor.RequestSettings(ctx, t)
	if err != nil {
		return fmt.Errorf("requesting %s settings: %w", t, err)
	}
	logger.Printf("%s advertises: %v", t, settings)

	selections := maxAdvertised(settings)
	if err := sensor.StartMeasurement(ctx, t, selections); err != nil {
		return fmt.Errorf("starting %s: %w", t, err)
	}
	logger.Printf("%s streaming with %v", t, selections)
	return nil
}

func main() {
	initConfig()
	logger := newLogger()

	must("enable BLE stack", adapter.Enable())

	result, err := btlink.Scan(adapter, logger, viper.GetString("device"), viper.GetDuration("scan-timeout"))
	must("find sensor", err)

	link, err := btlink.Dial(adapter, result, logger)
	must("connect", err)

	handler := &printingHandler{logger: logger}
	sensor := polar.NewSensor(link, handler, logger, viper.GetDuration("request-timeout"))

	must("subscribe heart rate", sensor.Subscribe(pmd.HeartRateStream()))
	must("subscribe battery", sensor.Subscribe(pmd.BatteryStream()))

	if level, err := link.ReadBatteryLevel(); err == nil {
		logger.Printf("battery: %d%%", level)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// The event loop must be draining notifications before any control
	// round trip is issued: responses only reach the awaiting caller
	// through it.
	loopCtx, stopLoop := context.WithCancel(context.Background())
	defer stopLoop()
	loopDone := make(chan error, 1)
	go func() { loopDone <- sensor.EventLoop(loopCtx) }()

	var streaming []pmd.MeasurementType
	if viper.GetBool("ecg") {
		must("start ecg", startStream(ctx, sensor, logger, pmd.Ecg))
		streaming = append(streaming, pmd.Ecg)
	}
	if viper.GetBool("acc") {
		must("start acc", startStream(ctx, sensor, logger, pmd.Accelerometer))
		streaming = append(streaming, pmd.Accelerometer)
	}

	logger.Printf("running, ctrl-c to stop")
	var loopErr error
	select {
	case <-ctx.Done():
		logger.Printf("interrupted, shutting down")
		// Cancellation does not stop measurements on the device. Issue
		// the stops while the loop is still running so their responses
		// can complete, then cancel the loop.
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		for _, t := range streaming {
			if err := sensor.StopMeasurement(stopCtx, t); err != nil {
				logger.Printf("stopping %s: %v", t, err)
			}
		}
		stopCancel()
		stopLoop()
		loopErr = <-loopDone
	case loopErr = <-loopDone:
	}

	switch {
	case loopErr == nil || errors.Is(loopErr, context.Canceled):
	case errors.Is(loopErr, polar.ErrLinkLost):
		logger.Printf("link lost")
		os.Exit(1)
	default:
		logger.Printf("event loop failed: %v", loopErr)
		os.Exit(1)
	}

	if err := sensor.Disconnect(); err != nil {
		logger.Printf("disconnect: %v", err)
	}
}

func must(action string, err error) {
	if err != nil {
		panic("failed to " + action + ": " + err.Error())
	}
}
