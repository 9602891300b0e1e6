package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/teslashibe/go-iris/pkg/audioio"
)

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// loadDotenv exports variables from path without overriding ones already
// set. A missing file is not an error.
func loadDotenv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return &ConfigError{Field: "env", Msg: "cannot load " + path, Err: err}
	}
	return nil
}

// ApplyEnv overrides settings from environment variables.
func (c *Config) ApplyEnv(lookup LookupFunc) error {
	e := envReader{lookup: lookup}

	e.str("LOG_LEVEL", &c.Log.Level)
	e.str("LOG_FORMAT", &c.Log.Format)

	e.str("WAKE_WORD", &c.Wake.Word)
	e.number("WAKE_WORD_THRESHOLD", &c.Wake.Threshold)

	e.str("YOLO_MODEL", &c.Detector.Model)
	e.number("YOLO_CONFIDENCE", &c.Detector.Confidence)

	e.integer("CAMERA_INDEX", &c.Camera.Index)
	e.integer("CAMERA_WIDTH", &c.Camera.Width)
	e.integer("CAMERA_HEIGHT", &c.Camera.Height)

	if v, ok := e.get("TTS_ENGINE"); ok {
		c.TTS.Engine = normalizeEngine(v)
	}
	e.integer("TTS_RATE", &c.TTS.Rate)
	e.number("TTS_VOLUME", &c.TTS.Volume)
	e.str("TTS_VOICE", &c.TTS.Voice)
	e.str("PIPER_VOICE", &c.TTS.Model)

	e.integer("SAMPLE_RATE", &c.Audio.SampleRate)
	if v, ok := e.get("AUDIO_BACKEND"); ok {
		c.Audio.Backend = audioio.Backend(v)
	}
	e.str("AUDIO_DEVICE", &c.Audio.Device)

	e.str("WHISPER_URL", &c.STT.BaseURL)
	e.str("WHISPER_MODEL", &c.STT.Model)
	e.str("WHISPER_LANGUAGE", &c.STT.Language)
	e.str("OPENAI_API_KEY", &c.STT.APIKey)
	e.str("OPENAI_API_KEY", &c.TTS.APIKey)

	e.str("EVENT_FILE", &c.Events.Path)

	if v, ok := e.get("ULTRASONIC_TRIG_PIN"); ok {
		c.Sensors.Ultrasonic.TrigPin = gpioName(v)
	}
	if v, ok := e.get("ULTRASONIC_ECHO_PIN"); ok {
		c.Sensors.Ultrasonic.EchoPin = gpioName(v)
	}
	e.str("FALL_LOCATION", &c.Fall.Location)

	e.str("WEB_ADDR", &c.Web.Addr)

	e.str("GOOGLE_CLIENT_ID", &c.Notify.Gmail.ClientID)
	e.str("GOOGLE_CLIENT_SECRET", &c.Notify.Gmail.ClientSecret)
	e.str("GOOGLE_TOKEN_FILE", &c.Notify.Gmail.TokenPath)
	if v, ok := e.get("NOTIFY_TO"); ok {
		c.Notify.To = splitList(v)
		c.Notify.Enabled = len(c.Notify.To) > 0
	}

	e.duration("DETECTION_INTERVAL", &c.Detector.Interval)
	e.duration("ANNOUNCE_COOLDOWN", &c.Debounce.Cooldown)

	return e.err
}

type envReader struct {
	lookup LookupFunc
	err    error
}

func (e *envReader) get(key string) (string, bool) {
	v, ok := e.lookup(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (e *envReader) fail(key, v string, err error) {
	if e.err == nil {
		e.err = &ConfigError{Field: key, Msg: fmt.Sprintf("invalid value %q", v), Err: err}
	}
}

func (e *envReader) str(key string, dst *string) {
	if v, ok := e.get(key); ok {
		*dst = v
	}
}

func (e *envReader) integer(key string, dst *int) {
	if v, ok := e.get(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = n
	}
}

func (e *envReader) number(key string, dst *float64) {
	if v, ok := e.get(key); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = f
	}
}

func (e *envReader) duration(key string, dst *time.Duration) {
	if v, ok := e.get(key); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = d
	}
}

// normalizeEngine maps engine names used by older deployments.
func normalizeEngine(v string) string {
	switch v = strings.ToLower(v); v {
	case "espeak-ng", "pyttsx3":
		return EngineEspeak
	}
	return v
}

// gpioName turns a bare BCM number into a periph pin name.
func gpioName(v string) string {
	if _, err := strconv.Atoi(v); err == nil {
		return "GPIO" + v
	}
	return v
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
