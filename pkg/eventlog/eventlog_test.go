package eventlog

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) *Sink {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Path = filepath.Join(t.TempDir(), "events.jsonl")
	s, err := Open(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestEvent_JSONShape(t *testing.T) {
	ev := Event{
		ID:      "abc",
		Time:    time.Unix(1712345678, 500_000_000),
		Kind:    KindFall,
		Payload: map[string]any{"severity": "critical"},
	}
	data, err := json.Marshal(ev)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, 1712345678.5, raw["timestamp"])
	assert.Equal(t, "fall_detected", raw["event"])
	assert.Equal(t, map[string]any{"severity": "critical"}, raw["payload"])
	assert.Equal(t, "abc", raw["id"])
}

func TestEvent_UnmarshalIgnoresUnknownFields(t *testing.T) {
	line := `{"timestamp": 1700000000.25, "event": "distance_detection", "payload": {"object": "chair"}, "extra": 1}`
	var ev Event
	require.NoError(t, json.Unmarshal([]byte(line), &ev))

	assert.Equal(t, KindDistance, ev.Kind)
	assert.Equal(t, "chair", ev.Payload["object"])
	assert.Equal(t, int64(1700000000), ev.Time.Unix())
	assert.Equal(t, 250*time.Millisecond, time.Duration(ev.Time.Nanosecond()))
}

func TestEvent_UnmarshalRequiresKind(t *testing.T) {
	var ev Event
	assert.Error(t, json.Unmarshal([]byte(`{"timestamp": 1}`), &ev))
}

func TestSink_AppendWritesOneLinePerEvent(t *testing.T) {
	s := openTemp(t)
	s.Append(New(KindDistance, time.Now(), map[string]any{"object": "person", "distance_feet": 2.3}))
	s.Append(New(KindFall, time.Now(), map[string]any{"severity": "critical"}))

	f, err := os.Open(s.Path())
	require.NoError(t, err)
	defer f.Close()

	var lines int
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m), "line %d not JSON", lines)
		lines++
	}
	assert.Equal(t, 2, lines)
	assert.Equal(t, Stats{Written: 2}, s.Stats())
	assert.NoError(t, s.Err())

	events, err := ReadAll(s.Path())
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, KindDistance, events[0].Kind)
	assert.Equal(t, KindFall, events[1].Kind)
}

func TestSink_ReadBackInAppendOrder(t *testing.T) {
	s := openTemp(t)
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	for i := 0; i < 10; i++ {
		s.Append(New(KindDistance, base.Add(time.Duration(i)*time.Second), map[string]any{"seq": i}))
	}

	events, err := ReadAll(s.Path())
	require.NoError(t, err)
	require.Len(t, events, 10)
	for i, ev := range events {
		assert.Equal(t, float64(i), ev.Payload["seq"])
		assert.True(t, ev.Time.Equal(base.Add(time.Duration(i)*time.Second)))
	}
}

func TestSink_ConcurrentSourcesKeepTheirOrder(t *testing.T) {
	s := openTemp(t)
	const n = 100

	var wg sync.WaitGroup
	for _, kind := range []Kind{KindDistance, KindFall} {
		wg.Add(1)
		go func(kind Kind) {
			defer wg.Done()
			for i := 0; i < n; i++ {
				s.Append(New(kind, time.Now(), map[string]any{"seq": i}))
			}
		}(kind)
	}
	wg.Wait()

	events, err := ReadAll(s.Path())
	require.NoError(t, err)
	require.Len(t, events, 2*n)

	last := map[Kind]float64{KindDistance: -1, KindFall: -1}
	counts := map[Kind]int{}
	for _, ev := range events {
		seq, ok := ev.Payload["seq"].(float64)
		require.True(t, ok)
		assert.Greater(t, seq, last[ev.Kind], "%s out of order", ev.Kind)
		last[ev.Kind] = seq
		counts[ev.Kind]++
	}
	assert.Equal(t, n, counts[KindDistance])
	assert.Equal(t, n, counts[KindFall])
}

func TestSink_ConcurrentAppendsKeepLinesWhole(t *testing.T) {
	s := openTemp(t)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.Append(New(KindDistance, time.Now(), map[string]any{"n": i}))
		}(i)
	}
	wg.Wait()

	events, err := ReadAll(s.Path())
	require.NoError(t, err)
	assert.Len(t, events, 50)
}

func TestSink_AppendAfterCloseRecordsError(t *testing.T) {
	s := openTemp(t)
	require.NoError(t, s.Close())

	s.Append(New(KindFall, time.Now(), nil))

	assert.ErrorIs(t, s.Err(), ErrClosed)
	assert.Equal(t, uint64(1), s.Stats().Failed)
}

func TestSink_Subscribe(t *testing.T) {
	s := openTemp(t)
	ch, cancel := s.Subscribe()
	defer cancel()

	ev := New(KindFall, time.Now(), nil)
	s.Append(ev)

	select {
	case got := <-ch:
		assert.Equal(t, ev.ID, got.ID)
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive event")
	}

	cancel()
	_, ok := <-ch
	assert.False(t, ok, "channel should be closed after unsubscribe")
}

func TestReadAll_MissingFile(t *testing.T) {
	events, err := ReadAll(filepath.Join(t.TempDir(), "nope.jsonl"))
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestReadAll_SkipsMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	content := `{"timestamp": 1, "event": "fall_detected", "payload": {}}
not json
{"timestamp": 2, "event": "distance_detection", "payload": {}}
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	events, err := ReadAll(path)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, KindFall, events[0].Kind)

	last, err := ReadLast(path, 1)
	require.NoError(t, err)
	require.Len(t, last, 1)
	assert.Equal(t, KindDistance, last[0].Kind)
}

func TestFollow_DeliversNewEvents(t *testing.T) {
	s := openTemp(t)
	s.Append(New(KindDistance, time.Now(), nil)) // existing, skipped

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan Event, 4)
	done := make(chan error, 1)
	go func() {
		done <- Follow(ctx, s.Path(), false, func(ev Event) { got <- ev })
	}()

	// Give the watcher time to register.
	time.Sleep(100 * time.Millisecond)
	want := New(KindFall, time.Now(), map[string]any{"severity": "critical"})
	s.Append(want)

	select {
	case ev := <-got:
		assert.Equal(t, want.ID, ev.ID)
		assert.Equal(t, KindFall, ev.Kind)
	case <-time.After(3 * time.Second):
		t.Fatal("follow did not deliver event")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("follow did not stop")
	}
}
