package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-iris/internal/config"
	"github.com/teslashibe/go-iris/internal/log"
	"github.com/teslashibe/go-iris/pkg/eventlog"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append(args, "--env-file", ""))
	err := cmd.Execute()
	return out.String(), err
}

func TestConfigCommand_FlagsOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	out, err := execute(t, "config", "--event-file", path, "--log-level", "debug")
	require.NoError(t, err)

	cfg, err := config.Parse([]byte(out))
	require.NoError(t, err, "printed config parses back")
	assert.Equal(t, path, cfg.Events.Path)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestConfigCommand_MissingFile(t *testing.T) {
	_, err := execute(t, "config", "--config", filepath.Join(t.TempDir(), "nope.yaml"))
	var ce *config.ConfigError
	assert.ErrorAs(t, err, &ce)
}

func TestEventsCommand_PrintsLast(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	sink, err := eventlog.Open(eventlog.Config{Path: path}, log.Discard())
	require.NoError(t, err)
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		sink.Append(eventlog.New(eventlog.KindFall, base.Add(time.Duration(i)*time.Minute), map[string]any{"n": i}))
	}
	require.NoError(t, sink.Close())

	out, err := execute(t, "events", "--event-file", path, "-n", "2")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"n":1`)
	assert.Contains(t, lines[1], `"n":2`)
	assert.Contains(t, lines[1], `"event":"fall_detected"`)
}
