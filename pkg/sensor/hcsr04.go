package sensor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// speedOfSound is in cm per microsecond at 20°C.
const speedOfSound = 0.0343

// UltrasonicConfig configures the HC-SR04 driver.
type UltrasonicConfig struct {
	TrigPin    string `yaml:"trig_pin"`
	EchoPin    string `yaml:"echo_pin"`
	FilterSize int    `yaml:"filter_size"`
}

// DefaultUltrasonicConfig returns BCM pins 23/24 and a 5-sample median.
func DefaultUltrasonicConfig() UltrasonicConfig {
	return UltrasonicConfig{
		TrigPin:    "GPIO23",
		EchoPin:    "GPIO24",
		FilterSize: 5,
	}
}

// HCSR04 drives an HC-SR04 ultrasonic range finder over two GPIO lines.
type HCSR04 struct {
	mu     sync.Mutex
	trig   gpio.PinIO
	echo   gpio.PinIO
	filter *MedianFilter
}

var _ DistanceReader = (*HCSR04)(nil)

// OpenHCSR04 initializes the host drivers and claims the trigger and echo pins.
func OpenHCSR04(cfg UltrasonicConfig) (*HCSR04, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("sensor: host init: %w", err)
	}
	trig := gpioreg.ByName(cfg.TrigPin)
	if trig == nil {
		return nil, fmt.Errorf("sensor: trigger pin %q not found", cfg.TrigPin)
	}
	echo := gpioreg.ByName(cfg.EchoPin)
	if echo == nil {
		return nil, fmt.Errorf("sensor: echo pin %q not found", cfg.EchoPin)
	}
	if err := trig.Out(gpio.Low); err != nil {
		return nil, fmt.Errorf("sensor: trigger pin: %w", err)
	}
	if err := echo.In(gpio.PullDown, gpio.BothEdges); err != nil {
		return nil, fmt.Errorf("sensor: echo pin: %w", err)
	}
	return &HCSR04{
		trig:   trig,
		echo:   echo,
		filter: NewMedianFilter(cfg.FilterSize),
	}, nil
}

// ReadDistance takes one measurement and returns the median of recent ones.
// A failed measurement still yields the median when history exists.
func (h *HCSR04) ReadDistance(ctx context.Context) (DistanceReading, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return DistanceReading{}, err
	}
	cm, err := h.measure()
	if err == nil {
		h.filter.Add(cm)
	}
	if h.filter.Len() == 0 {
		if err == nil {
			err = ErrNoReading
		}
		return DistanceReading{}, err
	}
	return DistanceReading{Time: time.Now(), CM: h.filter.Value()}, nil
}

func (h *HCSR04) measure() (float64, error) {
	// Round trip at MaxCM plus slack.
	var roundTripUS float64 = MaxCM * 2 / speedOfSound
	echoTimeout := time.Duration(roundTripUS)*time.Microsecond + 5*time.Millisecond

	for h.echo.WaitForEdge(0) {
	}
	if err := h.trig.Out(gpio.High); err != nil {
		return 0, fmt.Errorf("sensor: trigger: %w", err)
	}
	time.Sleep(10 * time.Microsecond)
	if err := h.trig.Out(gpio.Low); err != nil {
		return 0, fmt.Errorf("sensor: trigger: %w", err)
	}

	if !h.echo.WaitForEdge(echoTimeout) || h.echo.Read() != gpio.High {
		return 0, fmt.Errorf("%w: no echo start", ErrNoReading)
	}
	start := time.Now()
	if !h.echo.WaitForEdge(echoTimeout) {
		return 0, fmt.Errorf("%w: no echo end", ErrNoReading)
	}
	pulse := time.Since(start)

	return PulseToCM(pulse)
}

// PulseToCM converts an echo pulse width to centimeters, rejecting values
// outside the sensor range.
func PulseToCM(pulse time.Duration) (float64, error) {
	us := float64(pulse) / float64(time.Microsecond)
	cm := us * speedOfSound / 2
	if cm < MinCM || cm > MaxCM {
		return 0, fmt.Errorf("%w: %.1f cm", ErrOutOfRange, cm)
	}
	return cm, nil
}

// Close drives the trigger low and releases both pins.
func (h *HCSR04) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	err := h.trig.Out(gpio.Low)
	if herr := h.echo.Halt(); err == nil {
		err = herr
	}
	if herr := h.trig.Halt(); err == nil {
		err = herr
	}
	return err
}
