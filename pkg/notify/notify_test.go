package notify

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	"google.golang.org/api/option"

	"github.com/teslashibe/go-iris/internal/log"
	"github.com/teslashibe/go-iris/pkg/eventlog"
)

type recordingMailer struct {
	mu   sync.Mutex
	sent []Message
	err  error
}

func (m *recordingMailer) Send(ctx context.Context, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

func (m *recordingMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

func fallEvent() eventlog.Event {
	return eventlog.New(eventlog.KindFall, time.Unix(1700000000, 0), map[string]any{
		"severity": "critical",
		"location": "kitchen",
		"peak_g":   3.1,
	})
}

func TestRender(t *testing.T) {
	msg := Render(fallEvent(), []string{"care@example.com"})

	assert.Equal(t, "iris: fall detected (kitchen)", msg.Subject)
	assert.Equal(t, []string{"care@example.com"}, msg.To)
	assert.Contains(t, msg.Body, "Event: fall_detected\n")

	loc := strings.Index(msg.Body, "location: kitchen")
	peak := strings.Index(msg.Body, "peak_g: 3.1")
	sev := strings.Index(msg.Body, "severity: critical")
	require.True(t, loc >= 0 && peak >= 0 && sev >= 0, msg.Body)
	assert.Less(t, loc, peak)
	assert.Less(t, peak, sev)

	other := Render(eventlog.New(eventlog.KindDistance, time.Now(), nil), nil)
	assert.Equal(t, "iris: distance detection", other.Subject)
}

func TestNotifierFiltersAndLimits(t *testing.T) {
	m := &recordingMailer{}
	cfg := DefaultConfig()
	cfg.To = []string{"care@example.com"}
	cfg.MinInterval = time.Hour
	n, err := New(cfg, m, log.Discard())
	require.NoError(t, err)

	ctx := context.Background()
	n.Handle(ctx, eventlog.New(eventlog.KindDistance, time.Now(), nil))
	assert.Equal(t, 0, m.count(), "distance events are not mailed by default")

	n.Handle(ctx, fallEvent())
	n.Handle(ctx, fallEvent())
	assert.Equal(t, 1, m.count())

	sent, skipped, failed := n.Counts()
	assert.Equal(t, uint64(1), sent)
	assert.Equal(t, uint64(1), skipped)
	assert.Equal(t, uint64(0), failed)
}

func TestNotifierCountsFailures(t *testing.T) {
	m := &recordingMailer{err: errors.New("smtp down")}
	n, err := New(Config{To: []string{"a@example.com"}}, m, log.Discard())
	require.NoError(t, err)

	n.Handle(context.Background(), fallEvent())
	_, _, failed := n.Counts()
	assert.Equal(t, uint64(1), failed)
}

func TestNewRequiresRecipients(t *testing.T) {
	_, err := New(DefaultConfig(), &recordingMailer{}, nil)
	assert.ErrorIs(t, err, ErrNoRecipients)
}

func TestNotifierFollowsEventLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	sink, err := eventlog.Open(eventlog.Config{Path: path}, log.Discard())
	require.NoError(t, err)
	defer sink.Close()

	m := &recordingMailer{}
	n, err := New(Config{EventFile: path, To: []string{"care@example.com"}}, m, log.Discard())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- n.Run(ctx) }()

	require.Eventually(t, func() bool {
		sink.Append(fallEvent())
		return m.count() > 0
	}, 5*time.Second, 100*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, "iris: fall detected (kitchen)", m.sent[0].Subject)
}

func TestCompose(t *testing.T) {
	raw := string(Compose("iris@example.com", Message{
		To:      []string{"a@example.com", "b@example.com"},
		Subject: "hello",
		Body:    "line one\nline two",
	}))
	assert.Contains(t, raw, "From: iris@example.com\r\n")
	assert.Contains(t, raw, "To: a@example.com, b@example.com\r\n")
	assert.Contains(t, raw, "Subject: hello\r\n")
	assert.True(t, strings.HasSuffix(raw, "\r\n\r\nline one\r\nline two"))
}

func writeToken(t *testing.T, tok *oauth2.Token) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "token.json")
	data, err := json.Marshal(tok)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestGmailSend(t *testing.T) {
	var (
		gotAuth string
		gotRaw  string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/users/me/messages/send") {
			http.NotFound(w, r)
			return
		}
		gotAuth = r.Header.Get("Authorization")
		var body struct {
			Raw string `json:"raw"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		decoded, err := base64.URLEncoding.DecodeString(body.Raw)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		gotRaw = string(decoded)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"m1"}`))
	}))
	defer srv.Close()

	tokenPath := writeToken(t, &oauth2.Token{
		AccessToken: "access-1",
		TokenType:   "Bearer",
		Expiry:      time.Now().Add(time.Hour),
	})
	g, err := NewGmail(context.Background(), GmailConfig{
		ClientID:     "id",
		ClientSecret: "secret",
		TokenPath:    tokenPath,
		From:         "iris@example.com",
	}, log.Discard(), option.WithEndpoint(srv.URL+"/"))
	require.NoError(t, err)

	err = g.Send(context.Background(), Message{To: []string{"care@example.com"}, Subject: "Fall", Body: "help"})
	require.NoError(t, err)
	assert.Equal(t, "Bearer access-1", gotAuth)
	assert.Contains(t, gotRaw, "To: care@example.com\r\n")
	assert.Contains(t, gotRaw, "Subject: Fall\r\n")
}

func TestGmailSendRequiresRecipients(t *testing.T) {
	g := NewGmailService(nil, "")
	assert.ErrorIs(t, g.Send(context.Background(), Message{}), ErrNoRecipients)
}

func TestNewGmailErrors(t *testing.T) {
	ctx := context.Background()

	_, err := NewGmail(ctx, GmailConfig{}, nil)
	assert.ErrorIs(t, err, ErrNoCredentials)

	_, err = NewGmail(ctx, GmailConfig{
		ClientID:     "id",
		ClientSecret: "secret",
		TokenPath:    filepath.Join(t.TempDir(), "missing.json"),
	}, nil)
	assert.ErrorIs(t, err, ErrNoToken)
}
