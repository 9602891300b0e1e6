package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/teslashibe/go-iris/internal/config"
	"github.com/teslashibe/go-iris/pkg/announce"
	"github.com/teslashibe/go-iris/pkg/audioio"
	"github.com/teslashibe/go-iris/pkg/camera"
	"github.com/teslashibe/go-iris/pkg/camera/webcam"
	"github.com/teslashibe/go-iris/pkg/detection"
	"github.com/teslashibe/go-iris/pkg/detection/yolo"
	"github.com/teslashibe/go-iris/pkg/eventlog"
	"github.com/teslashibe/go-iris/pkg/iris"
	"github.com/teslashibe/go-iris/pkg/notify"
	"github.com/teslashibe/go-iris/pkg/sensor"
	"github.com/teslashibe/go-iris/pkg/speaker"
	"github.com/teslashibe/go-iris/pkg/stt"
	"github.com/teslashibe/go-iris/pkg/tts"
)

// openDevices opens every enabled subsystem. A subsystem that fails to open
// is logged and left nil so iris runs without it. Only the event log is
// fatal.
func openDevices(ctx context.Context, cfg *config.Config, logger *slog.Logger) (iris.Devices, error) {
	var dev iris.Devices

	events, err := eventlog.Open(cfg.Events, logger)
	if err != nil {
		return dev, fmt.Errorf("open event log: %w", err)
	}
	dev.Events = events

	if cfg.Enable.Camera {
		dev.Camera, dev.Detector = openVision(cfg, logger)
	}
	if cfg.Enable.Microphone {
		dev.Microphone, dev.Transcriber = openVoice(cfg, logger)
	}
	dev.Speaker = openSpeaker(ctx, cfg, logger)

	if cfg.Enable.Ultrasonic {
		if d, err := sensor.OpenHCSR04(cfg.Sensors.Ultrasonic); err != nil {
			logger.Error("ultrasonic sensor unavailable", "error", err)
		} else {
			dev.Distance = d
		}
	}
	if cfg.Enable.IMU {
		if m, err := sensor.OpenMPU9250(cfg.Sensors.IMU); err != nil {
			logger.Error("IMU unavailable; fall detection off", "error", err)
		} else {
			dev.IMU = m
		}
	}

	if cfg.Notify.Enabled {
		if m, err := notify.NewGmail(ctx, cfg.Notify.Gmail, logger); err != nil {
			logger.Error("caregiver email unavailable", "error", err)
		} else {
			dev.Mailer = m
		}
	}
	return dev, nil
}

func openVision(cfg *config.Config, logger *slog.Logger) (camera.Camera, detection.Detector) {
	cam, err := webcam.Open(cfg.Camera, logger)
	if err != nil {
		logger.Error("camera unavailable", "index", cfg.Camera.Index, "error", err)
		return nil, nil
	}
	det, err := yolo.New(yolo.Config{
		ModelPath:        cfg.Detector.Model,
		ConfidenceThresh: float32(cfg.Detector.Confidence),
		NMSThresh:        float32(cfg.Detector.NMS),
		InputWidth:       cfg.Detector.InputSize,
		InputHeight:      cfg.Detector.InputSize,
	}, logger)
	if err != nil {
		logger.Error("detector unavailable", "model", cfg.Detector.Model, "error", err)
		cam.Close()
		return nil, nil
	}
	return cam, det
}

func openVoice(cfg *config.Config, logger *slog.Logger) (audioio.Source, stt.Transcriber) {
	src, err := audioio.NewSource(cfg.Audio, logger)
	if err != nil {
		logger.Error("microphone unavailable", "error", err)
		return nil, nil
	}
	w, err := stt.NewWhisper(cfg.STT, logger)
	if err != nil {
		logger.Error("speech recognition unavailable", "error", err)
		src.Close()
		return nil, nil
	}
	return src, w
}

// openSpeaker builds the TTS chain and audio output. Without either, speech
// is logged instead so the rest of iris keeps working.
func openSpeaker(ctx context.Context, cfg *config.Config, logger *slog.Logger) announce.Speaker {
	logSpeaker := speaker.Log{Logger: logger, WordsPerMinute: cfg.TTS.Rate}
	if cfg.TTS.Engine == config.EngineLog {
		return logSpeaker
	}

	var providers []tts.Provider
	for _, engine := range []string{cfg.TTS.Engine, cfg.TTS.Fallback} {
		if engine == "" || engine == config.EngineLog {
			continue
		}
		p, err := newProvider(engine, cfg.TTS, logger)
		if err != nil {
			logger.Warn("tts engine unavailable", "engine", engine, "error", err)
			continue
		}
		providers = append(providers, p)
	}
	chain, err := tts.NewChainWithLogger(logger, providers...)
	if err != nil {
		logger.Error("no speech engine; announcements will be logged", "error", err)
		return logSpeaker
	}

	sink, err := audioio.NewSink(cfg.Audio, logger)
	if err != nil {
		logger.Error("audio output unavailable; announcements will be logged", "error", err)
		chain.Close()
		return logSpeaker
	}
	spk, err := speaker.New(ctx, chain, sink, logger)
	if err != nil {
		logger.Error("speaker unavailable; announcements will be logged", "error", err)
		sink.Close()
		chain.Close()
		return logSpeaker
	}
	return spk
}

func newProvider(engine string, c config.TTSConfig, logger *slog.Logger) (tts.Provider, error) {
	opts := []tts.Option{
		tts.WithRate(c.Rate),
		tts.WithVolume(c.Volume),
		tts.WithLogger(logger),
	}
	if c.Voice != "" {
		opts = append(opts, tts.WithVoice(c.Voice))
	}
	if c.Binary != "" && engine == c.Engine {
		opts = append(opts, tts.WithBinary(c.Binary))
	}

	switch engine {
	case config.EngineOpenAI:
		opts = append(opts, tts.WithAPIKey(c.APIKey))
		if c.BaseURL != "" {
			opts = append(opts, tts.WithBaseURL(c.BaseURL))
		}
		return tts.NewOpenAI(opts...)
	case config.EnginePiper:
		return tts.NewCommand(tts.EnginePiper, append(opts, tts.WithModel(c.Model))...)
	case config.EngineEspeak:
		return tts.NewCommand(tts.EngineEspeak, opts...)
	default:
		return nil, fmt.Errorf("unknown tts engine %q", engine)
	}
}
