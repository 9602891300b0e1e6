package sensor

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDescribe(t *testing.T) {
	tests := []struct {
		feet float64
		want string
	}{
		{0.4, "Very close, less than 1 foot"},
		{2.34, "Obstacle at 2.3 feet"},
		{4.5, "Object at 4.5 feet ahead"},
		{7.6, "Clear path, obstacle 8 feet away"},
		{12, "Clear path ahead"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, Describe(tc.feet), "feet=%v", tc.feet)
	}
}

func TestDistanceReading_Feet(t *testing.T) {
	r := DistanceReading{CM: 60.96}
	assert.InDelta(t, 2.0, r.Feet(), 1e-9)
}

func TestMedianFilter(t *testing.T) {
	m := NewMedianFilter(5)
	assert.True(t, math.IsNaN(m.Value()))

	assert.Equal(t, 10.0, m.Add(10))
	assert.Equal(t, 200.0, m.Add(200), "fewer than 3 values returns latest")
	assert.Equal(t, 12.0, m.Add(12))
	m.Add(11)
	m.Add(13)
	assert.Equal(t, 12.0, m.Value())

	// Window slides past 10 and 200.
	m.Add(14)
	m.Add(15)
	assert.Equal(t, 5, m.Len())
	assert.Equal(t, 13.0, m.Value())
}

func TestDistanceMonitor(t *testing.T) {
	m := NewDistanceMonitor(1.0)
	ft := func(f float64) DistanceReading { return DistanceReading{CM: f * CMPerFoot} }

	assert.True(t, m.Changed(ft(5.0)), "first reading passes")
	assert.False(t, m.Changed(ft(5.5)))
	assert.False(t, m.Changed(ft(4.2)))
	assert.True(t, m.Changed(ft(3.9)))
	assert.False(t, m.Changed(ft(3.9)))

	m.Reset()
	assert.True(t, m.Changed(ft(3.9)))
}

func TestPulseToCM(t *testing.T) {
	cm, err := PulseToCM(1000 * time.Microsecond)
	require.NoError(t, err)
	assert.InDelta(t, 17.15, cm, 1e-9)

	_, err = PulseToCM(50 * time.Microsecond)
	assert.ErrorIs(t, err, ErrOutOfRange)

	_, err = PulseToCM(30 * time.Millisecond)
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestDecodeIMU(t *testing.T) {
	buf := make([]byte, 14)
	put := func(i int, v int16) { binary.BigEndian.PutUint16(buf[i:], uint16(v)) }
	put(0, 0)
	put(2, 0)
	put(4, 16384) // 1g on z
	put(8, 131)   // 1 deg/s on x
	put(10, -262)
	put(12, 0)

	now := time.Now()
	s, err := DecodeIMU(buf, now)
	require.NoError(t, err)
	assert.Equal(t, now, s.Time)
	assert.InDelta(t, 1.0, s.Accel[2], 1e-9)
	assert.InDelta(t, 1.0, s.Gyro[0], 1e-9)
	assert.InDelta(t, -2.0, s.Gyro[1], 1e-9)
	assert.InDelta(t, 1.0, s.AccelMagnitude(), 1e-9)

	_, err = DecodeIMU(buf[:6], now)
	assert.Error(t, err)
}

func TestPoll_DeliversInOrder(t *testing.T) {
	m := NewMockDistance(100, 110, 120)
	out := make(chan DistanceReading, 8)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Poll(ctx, PollConfig{Name: "test", Interval: 5 * time.Millisecond}, m.ReadDistance, out)
	}()

	var got []float64
	for len(got) < 3 {
		select {
		case r := <-out:
			got = append(got, r.CM)
		case <-time.After(2 * time.Second):
			t.Fatal("poll did not deliver")
		}
	}
	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, []float64{100, 110, 120}, got)
}

func TestPoll_ErrorsAndTimeoutsSkipped(t *testing.T) {
	var calls atomic.Int32
	read := func(ctx context.Context) (IMUSample, error) {
		switch calls.Add(1) {
		case 1:
			return IMUSample{}, errors.New("i2c nack")
		case 2:
			<-ctx.Done() // hangs until the per-read timeout
			return IMUSample{}, ctx.Err()
		default:
			return IMUSample{Accel: [3]float64{0, 0, 1}}, nil
		}
	}

	var failures atomic.Int32
	cfg := PollConfig{
		Name:     "imu",
		Interval: 5 * time.Millisecond,
		Timeout:  20 * time.Millisecond,
		OnError:  func(error) { failures.Add(1) },
	}
	out := make(chan IMUSample, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go Poll(ctx, cfg, read, out)

	select {
	case s := <-out:
		assert.Equal(t, 1.0, s.Accel[2])
	case <-time.After(2 * time.Second):
		t.Fatal("poll did not recover after failures")
	}
	assert.Equal(t, int32(2), failures.Load())
}

func TestPoll_StopsWhenBlockedOnDelivery(t *testing.T) {
	m := NewMockDistance(50)
	out := make(chan DistanceReading) // nobody reads

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Poll(ctx, PollConfig{Interval: time.Millisecond}, m.ReadDistance, out)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("poll did not stop")
	}
}

func TestMocks_Close(t *testing.T) {
	d := NewMockDistance()
	_, err := d.ReadDistance(context.Background())
	assert.ErrorIs(t, err, ErrNoReading)
	require.NoError(t, d.Close())
	assert.True(t, d.Closed())

	imu := NewMockIMU(IMUSample{})
	s, err := imu.ReadIMU(context.Background())
	require.NoError(t, err)
	assert.False(t, s.Time.IsZero())
	require.NoError(t, imu.Close())
	assert.True(t, imu.Closed())
}
