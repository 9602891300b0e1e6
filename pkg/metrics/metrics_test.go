package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-iris/pkg/announce"
	"github.com/teslashibe/go-iris/pkg/eventlog"
)

func TestCollector_AnnounceObserver(t *testing.T) {
	c := New()
	req := announce.NewRequest("Fall detected!", announce.Alert, announce.SourceFall, time.Now())

	c.Accepted(req)
	c.Spoken(req, 2*time.Second)
	c.Dropped(req, announce.DropQueueFull)
	c.SpeakFailed(req, errors.New("no sink"))

	assert.Equal(t, 1.0, testutil.ToFloat64(c.announceAccepted.WithLabelValues("fall", "alert")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.announceSpoken.WithLabelValues("fall")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.announceDropped.WithLabelValues("fall", "queue_full")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.speakFailures.WithLabelValues("fall")))
}

func TestCollector_SensorsAndFall(t *testing.T) {
	c := New()
	onErr := c.SensorError("ultrasonic")
	onErr(errors.New("echo timeout"))
	onErr(errors.New("echo timeout"))
	c.SensorReading("imu")

	c.SetFallState(1)
	c.SetFallState(4)
	c.SetFallState(0)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.sensorErrors.WithLabelValues("ultrasonic")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.sensorReadings.WithLabelValues("imu")))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.fallState))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.fallsTotal))
}

func TestCollector_Handler(t *testing.T) {
	c := New()
	c.WatchEventLog(func() eventlog.Stats { return eventlog.Stats{Written: 3, Failed: 1} })
	c.ObserveDetection(120*time.Millisecond, []string{"person", "chair"})
	c.Command("start")
	c.SetContinuous(true)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)

	text := string(body)
	assert.Contains(t, text, "iris_events_written_total 3")
	assert.Contains(t, text, "iris_events_failed_total 1")
	assert.Contains(t, text, `iris_detected_objects_total{label="person"} 1`)
	assert.Contains(t, text, `iris_voice_commands_total{intent="start"} 1`)
	assert.Contains(t, text, "iris_continuous_detection 1")
	assert.Contains(t, text, "go_goroutines")
}
