package tts

import (
	"errors"
	"fmt"
)

var (
	// ErrNoAPIKey is returned when a hosted provider has no API key.
	ErrNoAPIKey = errors.New("tts: API key required")

	// ErrEmptyText is returned for blank input.
	ErrEmptyText = errors.New("tts: empty text")

	// ErrUnsupportedFormat is returned when audio cannot be decoded to PCM.
	ErrUnsupportedFormat = errors.New("tts: unsupported audio format")

	// ErrUnknownEngine is returned by NewCommand for engines it cannot drive.
	ErrUnknownEngine = errors.New("tts: unknown engine")

	// ErrProviderUnavailable is returned when no providers are available.
	ErrProviderUnavailable = errors.New("tts: no providers available")
)

// APIError is an error response from a hosted TTS API.
type APIError struct {
	StatusCode int
	Message    string
	Code       string
	Provider   string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tts [%s]: API error %d (%s): %s", e.Provider, e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("tts [%s]: API error %d: %s", e.Provider, e.StatusCode, e.Message)
}

// IsRetryable reports rate limiting and server-side failures.
func (e *APIError) IsRetryable() bool {
	return e.StatusCode == 429 || (e.StatusCode >= 500 && e.StatusCode < 600)
}

// ProviderError wraps an error with provider context.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("tts [%s]: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// WrapError wraps err with provider context; nil stays nil.
func WrapError(provider string, err error) error {
	if err == nil {
		return nil
	}
	return &ProviderError{Provider: provider, Err: err}
}
