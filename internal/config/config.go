// Package config assembles the iris runtime configuration.
//
// Values are layered, later sources winning:
//
//	defaults <- YAML file <- .env <- environment <- command-line flags
//
// Flags are applied by the caller after Load; Validate runs last.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/teslashibe/go-iris/pkg/announce"
	"github.com/teslashibe/go-iris/pkg/audioio"
	"github.com/teslashibe/go-iris/pkg/camera"
	"github.com/teslashibe/go-iris/pkg/debounce"
	"github.com/teslashibe/go-iris/pkg/eventlog"
	"github.com/teslashibe/go-iris/pkg/fall"
	"github.com/teslashibe/go-iris/pkg/notify"
	"github.com/teslashibe/go-iris/pkg/sensor"
	"github.com/teslashibe/go-iris/pkg/stt"
	"github.com/teslashibe/go-iris/pkg/wake"
	"github.com/teslashibe/go-iris/pkg/web"
)

// TTS engines.
const (
	EngineOpenAI = "openai"
	EnginePiper  = "piper"
	EngineEspeak = "espeak"
	// EngineLog logs utterances instead of speaking them.
	EngineLog = "log"
)

// ConfigError reports an invalid setting.
type ConfigError struct {
	Field string
	Msg   string
	Err   error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("config: %s: %s: %v", e.Field, e.Msg, e.Err)
	}
	return fmt.Sprintf("config: %s: %s", e.Field, e.Msg)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// LogConfig selects the log level and handler.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DetectorConfig configures the YOLO detector.
type DetectorConfig struct {
	Model      string  `yaml:"model"`
	Confidence float64 `yaml:"confidence"`
	NMS        float64 `yaml:"nms"`
	InputSize  int     `yaml:"input_size"`
	// Interval between frames in continuous mode.
	Interval time.Duration `yaml:"interval"`
}

// TTSConfig selects and tunes the speech engine.
type TTSConfig struct {
	Engine string `yaml:"engine"`
	// Fallback is tried when Engine fails; empty disables.
	Fallback string  `yaml:"fallback"`
	Voice    string  `yaml:"voice"`
	Model    string  `yaml:"model"`
	Binary   string  `yaml:"binary"`
	BaseURL  string  `yaml:"base_url"`
	APIKey   string  `yaml:"-"`
	Rate     int     `yaml:"rate"`
	Volume   float64 `yaml:"volume"`
}

// SensorConfig configures the poll loops.
type SensorConfig struct {
	DistanceInterval time.Duration `yaml:"distance_interval"`
	IMUInterval      time.Duration `yaml:"imu_interval"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	// ChangeFeet is the distance change that counts as a new reading.
	ChangeFeet float64                 `yaml:"change_feet"`
	Ultrasonic sensor.UltrasonicConfig `yaml:"ultrasonic"`
	IMU        sensor.IMUConfig        `yaml:"imu"`
}

// NotifyConfig configures caregiver email.
type NotifyConfig struct {
	Enabled       bool `yaml:"enabled"`
	notify.Config `yaml:",inline"`
	Gmail         notify.GmailConfig `yaml:"gmail"`
}

// Subsystems switches hardware loops on or off.
type Subsystems struct {
	Camera     bool `yaml:"camera"`
	Microphone bool `yaml:"microphone"`
	Ultrasonic bool `yaml:"ultrasonic"`
	IMU        bool `yaml:"imu"`
	Web        bool `yaml:"web"`
}

// Config is the complete runtime configuration.
type Config struct {
	Log LogConfig `yaml:"log"`

	Enable Subsystems `yaml:"enable"`
	// Continuous starts with continuous detection on.
	Continuous bool `yaml:"continuous"`

	Camera   camera.Config         `yaml:"camera"`
	Detector DetectorConfig        `yaml:"detector"`
	Debounce debounce.Config       `yaml:"debounce"`
	Fusion   debounce.FusionConfig `yaml:"fusion"`

	Audio audioio.Config `yaml:"audio"`
	Wake  wake.Config    `yaml:"wake"`
	STT   stt.Config     `yaml:"stt"`
	TTS   TTSConfig      `yaml:"tts"`

	Arbiter announce.Config `yaml:"arbiter"`
	Events  eventlog.Config `yaml:"events"`

	Sensors SensorConfig `yaml:"sensors"`
	Fall    fall.Config  `yaml:"fall"`

	Web    web.Config   `yaml:"web"`
	Notify NotifyConfig `yaml:"notify"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "info", Format: "text"},
		Enable: Subsystems{
			Camera:     true,
			Microphone: true,
			Ultrasonic: true,
			IMU:        true,
			Web:        true,
		},
		Camera: camera.DefaultConfig(),
		Detector: DetectorConfig{
			Model:      "models/yolov8n.onnx",
			Confidence: 0.5,
			NMS:        0.45,
			InputSize:  640,
			Interval:   500 * time.Millisecond,
		},
		Debounce: debounce.DefaultConfig(),
		Fusion:   debounce.DefaultFusionConfig(),
		Audio:    audioio.DefaultConfig(),
		Wake:     wake.DefaultConfig(),
		STT:      stt.DefaultConfig(),
		TTS: TTSConfig{
			Engine:   EnginePiper,
			Fallback: EngineEspeak,
			Model:    "en_US-lessac-medium.onnx",
			Rate:     150,
			Volume:   0.9,
		},
		Arbiter: announce.DefaultConfig(),
		Events:  eventlog.DefaultConfig(),
		Sensors: SensorConfig{
			DistanceInterval: 200 * time.Millisecond,
			IMUInterval:      20 * time.Millisecond,
			ReadTimeout:      100 * time.Millisecond,
			ChangeFeet:       1.0,
			Ultrasonic:       sensor.DefaultUltrasonicConfig(),
			IMU:              sensor.DefaultIMUConfig(),
		},
		Fall:   fall.DefaultConfig(),
		Web:    web.DefaultConfig(),
		Notify: NotifyConfig{Config: notify.DefaultConfig()},
	}
}

// Load builds a Config from the defaults, the YAML file at path (skipped
// when path is empty), the dotenv file at envFile (skipped when missing)
// and the process environment.
func Load(path, envFile string) (*Config, error) {
	cfg := Default()

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, &ConfigError{Field: "config", Msg: "cannot open file", Err: err}
		}
		defer f.Close()
		if err := cfg.decodeYAML(f); err != nil {
			return nil, err
		}
	}

	if err := loadDotenv(envFile); err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	cfg.sync()
	return cfg, nil
}

// Parse decodes YAML onto the defaults. It is Load without the
// environment, for tests and embedded configs.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := cfg.decodeYAML(bytes.NewReader(data)); err != nil {
		return nil, err
	}
	cfg.sync()
	return cfg, nil
}

func (c *Config) decodeYAML(r io.Reader) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return &ConfigError{Field: "config", Msg: "invalid YAML", Err: err}
	}
	return nil
}

// sync copies settings shared between components.
func (c *Config) sync() {
	c.Web.EventFile = c.Events.Path
	c.Notify.EventFile = c.Events.Path
	if c.TTS.APIKey == "" {
		c.TTS.APIKey = c.STT.APIKey
	}
}

// SetEventFile points the event log, the dashboard and the notifier at path.
func (c *Config) SetEventFile(path string) {
	c.Events.Path = path
	c.sync()
}

// Validate checks the assembled configuration.
func (c *Config) Validate() error {
	if err := c.Camera.Validate(); err != nil {
		return &ConfigError{Field: "camera", Msg: "invalid", Err: err}
	}
	if err := c.Audio.Validate(); err != nil {
		return &ConfigError{Field: "audio", Msg: "invalid", Err: err}
	}
	if err := c.Fall.Validate(); err != nil {
		return &ConfigError{Field: "fall", Msg: "invalid", Err: err}
	}

	switch {
	case c.Detector.Confidence <= 0 || c.Detector.Confidence > 1:
		return &ConfigError{Field: "detector.confidence", Msg: fmt.Sprintf("must be in (0, 1], got %v", c.Detector.Confidence)}
	case c.Detector.Interval <= 0:
		return &ConfigError{Field: "detector.interval", Msg: "must be > 0"}
	case c.Wake.Word == "":
		return &ConfigError{Field: "wake.word", Msg: "must not be empty"}
	case c.Wake.Threshold <= 0 || c.Wake.Threshold > 1:
		return &ConfigError{Field: "wake.threshold", Msg: fmt.Sprintf("must be in (0, 1], got %v", c.Wake.Threshold)}
	case c.Wake.CommandWindow <= 0 || c.Wake.Timeout < c.Wake.CommandWindow:
		return &ConfigError{Field: "wake.timeout", Msg: "must be at least the command window"}
	case c.Debounce.Cooldown < 0 || c.Fusion.Cooldown < 0:
		return &ConfigError{Field: "debounce.cooldown", Msg: "must be >= 0"}
	case c.Fusion.MaxFeet <= 0 || c.Fusion.BucketFeet <= 0:
		return &ConfigError{Field: "fusion", Msg: "max_feet and bucket_feet must be > 0"}
	case c.TTS.Rate <= 0:
		return &ConfigError{Field: "tts.rate", Msg: "must be > 0"}
	case c.TTS.Volume < 0 || c.TTS.Volume > 1:
		return &ConfigError{Field: "tts.volume", Msg: fmt.Sprintf("must be in [0, 1], got %v", c.TTS.Volume)}
	case !knownEngine(c.TTS.Engine):
		return &ConfigError{Field: "tts.engine", Msg: fmt.Sprintf("unknown engine %q", c.TTS.Engine)}
	case c.TTS.Fallback != "" && !knownEngine(c.TTS.Fallback):
		return &ConfigError{Field: "tts.fallback", Msg: fmt.Sprintf("unknown engine %q", c.TTS.Fallback)}
	case c.Sensors.DistanceInterval <= 0 || c.Sensors.IMUInterval <= 0:
		return &ConfigError{Field: "sensors", Msg: "poll intervals must be > 0"}
	case c.Events.Path == "":
		return &ConfigError{Field: "events.path", Msg: "must not be empty"}
	case c.Notify.Enabled && len(c.Notify.To) == 0:
		return &ConfigError{Field: "notify.to", Msg: "required when notifications are enabled"}
	}
	return nil
}

func knownEngine(e string) bool {
	switch e {
	case EngineOpenAI, EnginePiper, EngineEspeak, EngineLog:
		return true
	}
	return false
}
