package sensor

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

// MPU9250 registers.
const (
	regPwrMgmt1    = 0x6B
	regGyroConfig  = 0x1B
	regAccelConfig = 0x1C
	regAccelXOutH  = 0x3B
	regWhoAmI      = 0x75

	accelScale = 16384.0 // LSB/g at ±2g
	gyroScale  = 131.0   // LSB/(deg/s) at ±250 deg/s
)

// IMUConfig configures the MPU9250 driver.
type IMUConfig struct {
	// Bus is the I2C bus name; empty picks the first available.
	Bus     string `yaml:"bus"`
	Address uint16 `yaml:"address"`
}

// DefaultIMUConfig returns the default bus and address 0x68.
func DefaultIMUConfig() IMUConfig {
	return IMUConfig{Address: 0x68}
}

// MPU9250 reads the accelerometer and gyroscope of an MPU9250 over I2C.
type MPU9250 struct {
	mu  sync.Mutex
	bus i2c.BusCloser
	dev *i2c.Dev
}

var _ IMUReader = (*MPU9250)(nil)

// OpenMPU9250 opens the bus, wakes the chip and sets ±2g / ±250 deg/s ranges.
func OpenMPU9250(cfg IMUConfig) (*MPU9250, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("sensor: host init: %w", err)
	}
	bus, err := i2creg.Open(cfg.Bus)
	if err != nil {
		return nil, fmt.Errorf("sensor: open i2c %q: %w", cfg.Bus, err)
	}
	m := &MPU9250{bus: bus, dev: &i2c.Dev{Bus: bus, Addr: cfg.Address}}

	if err := m.init(); err != nil {
		bus.Close()
		return nil, err
	}
	return m, nil
}

func (m *MPU9250) init() error {
	who := make([]byte, 1)
	if err := m.dev.Tx([]byte{regWhoAmI}, who); err != nil {
		return fmt.Errorf("sensor: imu who_am_i: %w", err)
	}
	switch who[0] {
	case 0x71, 0x73, 0x68, 0x70:
	default:
		return fmt.Errorf("sensor: unexpected imu id 0x%02X", who[0])
	}

	steps := []struct {
		reg, val byte
		settle   time.Duration
	}{
		{regPwrMgmt1, 0x00, 100 * time.Millisecond},
		{regPwrMgmt1, 0x01, 10 * time.Millisecond},
		{regAccelConfig, 0x00, 0},
		{regGyroConfig, 0x00, 0},
	}
	for _, s := range steps {
		if err := m.dev.Tx([]byte{s.reg, s.val}, nil); err != nil {
			return fmt.Errorf("sensor: imu write 0x%02X: %w", s.reg, err)
		}
		time.Sleep(s.settle)
	}
	return nil
}

// ReadIMU reads one burst of accelerometer, temperature and gyroscope registers.
func (m *MPU9250) ReadIMU(ctx context.Context) (IMUSample, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return IMUSample{}, err
	}
	buf := make([]byte, 14)
	if err := m.dev.Tx([]byte{regAccelXOutH}, buf); err != nil {
		return IMUSample{}, fmt.Errorf("sensor: imu read: %w", err)
	}
	return DecodeIMU(buf, time.Now())
}

// DecodeIMU converts a 14-byte register burst (accel, temp, gyro) to a sample.
func DecodeIMU(buf []byte, t time.Time) (IMUSample, error) {
	if len(buf) < 14 {
		return IMUSample{}, fmt.Errorf("sensor: short imu burst: %d bytes", len(buf))
	}
	word := func(i int) float64 {
		return float64(int16(binary.BigEndian.Uint16(buf[i:])))
	}
	s := IMUSample{Time: t}
	for i := 0; i < 3; i++ {
		s.Accel[i] = word(i*2) / accelScale
		s.Gyro[i] = word(8+i*2) / gyroScale
	}
	return s, nil
}

// Close puts the chip to sleep and releases the bus.
func (m *MPU9250) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	// Sleep bit.
	_ = m.dev.Tx([]byte{regPwrMgmt1, 0x40}, nil)
	return m.bus.Close()
}
