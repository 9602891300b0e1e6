package camera

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative index", func(c *Config) { c.Index = -1 }},
		{"tiny width", func(c *Config) { c.Width = 10 }},
		{"huge height", func(c *Config) { c.Height = 9000 }},
		{"quality", func(c *Config) { c.Quality = 0 }},
		{"timeout", func(c *Config) { c.Timeout = 0 }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestMock(t *testing.T) {
	m := NewMock([]byte{0xff, 0xd8})
	f, err := m.Capture(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte{0xff, 0xd8}, f.JPEG)
	assert.Equal(t, 1, m.Captures())

	m.Err = errors.New("unplugged")
	_, err = m.Capture(context.Background())
	assert.EqualError(t, err, "unplugged")

	require.NoError(t, m.Close())
	_, err = m.Capture(context.Background())
	assert.ErrorIs(t, err, ErrNoFrame)
}
