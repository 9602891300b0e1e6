package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	openAIBaseURL  = "https://api.openai.com/v1"
	providerOpenAI = "openai"

	// openAIPCMRate is the fixed rate of response_format "pcm".
	openAIPCMRate = 24000
)

// OpenAI synthesizes through an OpenAI-compatible /audio/speech endpoint.
// Local servers speaking the same API work through WithBaseURL.
type OpenAI struct {
	config *Config
	client *http.Client
	logger *slog.Logger
}

// NewOpenAI creates an OpenAI provider. An API key is required only for the
// default hosted endpoint.
func NewOpenAI(opts ...Option) (*OpenAI, error) {
	cfg := DefaultConfig()
	cfg.Model = "tts-1"
	cfg.Voice = "shimmer"
	cfg.Apply(opts...)

	if cfg.BaseURL == "" {
		cfg.BaseURL = openAIBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.APIKey == "" && cfg.BaseURL == openAIBaseURL {
		return nil, ErrNoAPIKey
	}

	return &OpenAI{
		config: cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: cfg.Logger.With("component", "tts.openai"),
	}, nil
}

// speed maps words per minute onto the API's 0.25-4.0 multiplier, taking
// 150 wpm as normal speed.
func (o *OpenAI) speed() float64 {
	if o.config.Rate <= 0 {
		return 1
	}
	s := float64(o.config.Rate) / 150
	return min(max(s, 0.25), 4)
}

// Synthesize converts text to 24 kHz PCM16.
func (o *OpenAI) Synthesize(ctx context.Context, text string) (*AudioResult, error) {
	if strings.TrimSpace(text) == "" {
		return nil, WrapError(providerOpenAI, ErrEmptyText)
	}
	start := time.Now()

	body, err := json.Marshal(map[string]any{
		"model":           o.config.Model,
		"voice":           o.config.Voice,
		"input":           text,
		"response_format": "pcm",
		"speed":           o.speed(),
	})
	if err != nil {
		return nil, WrapError(providerOpenAI, fmt.Errorf("marshal payload: %w", err))
	}

	resp, err := o.doWithRetry(ctx, http.MethodPost, o.config.BaseURL+"/audio/speech", body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, o.parseError(resp)
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, WrapError(providerOpenAI, fmt.Errorf("read response: %w", err))
	}
	audio = applyVolume(audio, o.config.Volume)
	latency := time.Since(start).Milliseconds()

	o.logger.Debug("synthesized audio",
		"chars", len(text),
		"bytes", len(audio),
		"latency_ms", latency,
		"voice", o.config.Voice,
	)

	return &AudioResult{
		Audio:     audio,
		Format:    AudioFormat{Encoding: EncodingPCM, SampleRate: openAIPCMRate, Channels: 1},
		CharCount: len(text),
		LatencyMs: latency,
	}, nil
}

// Health lists models as a connectivity and credentials check.
func (o *OpenAI) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.config.BaseURL+"/models", nil)
	if err != nil {
		return WrapError(providerOpenAI, err)
	}
	o.authorize(req)

	resp, err := o.client.Do(req)
	if err != nil {
		return WrapError(providerOpenAI, fmt.Errorf("health check: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return o.parseError(resp)
	}
	return nil
}

// Close releases idle connections.
func (o *OpenAI) Close() error {
	o.client.CloseIdleConnections()
	return nil
}

func (o *OpenAI) authorize(req *http.Request) {
	if o.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+o.config.APIKey)
	}
}

func (o *OpenAI) doWithRetry(ctx context.Context, method, url string, body []byte) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= o.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(o.config.RetryDelay * time.Duration(attempt)):
			}
		}

		req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
		if err != nil {
			return nil, WrapError(providerOpenAI, fmt.Errorf("create request: %w", err))
		}
		o.authorize(req)
		req.Header.Set("Content-Type", "application/json")

		resp, err := o.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = WrapError(providerOpenAI, err)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			lastErr = o.parseError(resp)
			resp.Body.Close()
			o.logger.Warn("retrying request",
				"attempt", attempt+1,
				"status", resp.StatusCode,
			)
			continue
		}
		return resp, nil
	}

	return nil, lastErr
}

func (o *OpenAI) parseError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var errResp struct {
		Error struct {
			Message string `json:"message"`
			Code    string `json:"code"`
		} `json:"error"`
	}

	message := strings.TrimSpace(string(body))
	code := ""
	if json.Unmarshal(body, &errResp) == nil && errResp.Error.Message != "" {
		message = errResp.Error.Message
		code = errResp.Error.Code
	}

	return &APIError{
		StatusCode: resp.StatusCode,
		Message:    message,
		Code:       code,
		Provider:   providerOpenAI,
	}
}

// applyVolume scales PCM16 in place; volume outside (0, 1) leaves it untouched.
func applyVolume(pcm []byte, volume float64) []byte {
	if volume <= 0 || volume >= 1 {
		return pcm
	}
	for i := 0; i+1 < len(pcm); i += 2 {
		s := int16(uint16(pcm[i]) | uint16(pcm[i+1])<<8)
		s = int16(float64(s) * volume)
		pcm[i] = byte(s)
		pcm[i+1] = byte(uint16(s) >> 8)
	}
	return pcm
}

var _ Provider = (*OpenAI)(nil)
