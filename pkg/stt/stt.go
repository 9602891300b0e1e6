// Package stt transcribes short microphone captures.
package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/teslashibe/go-iris/internal/httpc"
	"github.com/teslashibe/go-iris/pkg/audioio"
)

// ErrNoAPIKey is returned when the hosted endpoint is used without a key.
var ErrNoAPIKey = errors.New("stt: API key required")

// Transcriber converts mono PCM16 audio to text. Silence yields "".
type Transcriber interface {
	Transcribe(ctx context.Context, pcm []int16, sampleRate int) (string, error)
}

const defaultBaseURL = "https://api.openai.com/v1"

// Config configures a Whisper client.
type Config struct {
	// BaseURL of an OpenAI-compatible API; a local whisper server works too.
	BaseURL  string        `yaml:"base_url"`
	APIKey   string        `yaml:"-"`
	Model    string        `yaml:"model"`
	Language string        `yaml:"language"`
	Timeout  time.Duration `yaml:"timeout"`
	// SilenceRMS skips the request for captures quieter than this level.
	SilenceRMS float64 `yaml:"silence_rms"`
}

// DefaultConfig returns defaults for English with the small hosted model.
func DefaultConfig() Config {
	return Config{
		BaseURL:    defaultBaseURL,
		Model:      "whisper-1",
		Language:   "en",
		Timeout:    15 * time.Second,
		SilenceRMS: 0.005,
	}
}

// Whisper calls POST {BaseURL}/audio/transcriptions.
type Whisper struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger
}

// NewWhisper creates a client.
func NewWhisper(cfg Config, logger *slog.Logger) (*Whisper, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.APIKey == "" && cfg.BaseURL == defaultBaseURL {
		return nil, ErrNoAPIKey
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Whisper{
		cfg:    cfg,
		client: httpc.NewClient(cfg.Timeout),
		logger: logger.With("component", "stt.whisper"),
	}, nil
}

// Transcribe uploads pcm as a WAV file and returns the recognized text.
func (w *Whisper) Transcribe(ctx context.Context, pcm []int16, sampleRate int) (string, error) {
	if len(pcm) == 0 {
		return "", nil
	}
	if level := audioio.RMS(pcm); level < w.cfg.SilenceRMS {
		w.logger.Debug("skipping silent capture", "rms", level)
		return "", nil
	}

	body, contentType, err := w.form(audioio.EncodeWAV(pcm, sampleRate, 1))
	if err != nil {
		return "", fmt.Errorf("stt: build request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.BaseURL+"/audio/transcriptions", body)
	if err != nil {
		return "", fmt.Errorf("stt: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	if w.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+w.cfg.APIKey)
	}

	start := time.Now()
	resp, err := w.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("stt: transcribe: %w", err)
	}
	defer resp.Body.Close()

	if err := httpc.CheckResponse(resp); err != nil {
		return "", fmt.Errorf("stt: transcribe: %w", err)
	}

	var out struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return "", fmt.Errorf("stt: decode response: %w", err)
	}

	text := strings.TrimSpace(out.Text)
	w.logger.Debug("transcribed", "text", text, "took", time.Since(start))
	return text, nil
}

func (w *Whisper) form(wav []byte) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	fw, err := mw.CreateFormFile("file", "capture.wav")
	if err != nil {
		return nil, "", err
	}
	if _, err := fw.Write(wav); err != nil {
		return nil, "", err
	}
	fields := map[string]string{
		"model":           w.cfg.Model,
		"language":        w.cfg.Language,
		"response_format": "json",
	}
	for k, v := range fields {
		if v == "" {
			continue
		}
		if err := mw.WriteField(k, v); err != nil {
			return nil, "", err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &buf, mw.FormDataContentType(), nil
}

var _ Transcriber = (*Whisper)(nil)
