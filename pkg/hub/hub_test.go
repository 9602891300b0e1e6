package hub

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	written chan []byte
	closed  chan struct{}
	once    sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{written: make(chan []byte, 16), closed: make(chan struct{})}
}

func (f *fakeConn) SetReadLimit(int64) {}
func (f *fakeConn) SetReadDeadline(time.Time) error { return nil }
func (f *fakeConn) SetWriteDeadline(time.Time) error { return nil }
func (f *fakeConn) SetPongHandler(func(string) error) {}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	<-f.closed
	return 0, nil, errors.New("closed")
}

func (f *fakeConn) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeConn) WriteMessage(t int, data []byte) error {
	if t == websocket.TextMessage {
		f.written <- data
	}
	return nil
}

func startHub(t *testing.T) (*Hub, context.CancelFunc) {
	t.Helper()
	h := New("test", nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return h, cancel
}

func TestHub_PublishReachesClients(t *testing.T) {
	h, _ := startHub(t)

	conns := []*fakeConn{newFakeConn(), newFakeConn()}
	for _, fc := range conns {
		c := NewClient(context.Background(), h, fc)
		require.NotNil(t, c)
		go c.Run()
	}
	require.Eventually(t, func() bool { return h.ClientCount() == 2 }, time.Second, 5*time.Millisecond)

	require.NoError(t, h.Publish("event", map[string]string{"event": "fall_detected"}))

	for _, fc := range conns {
		select {
		case data := <-fc.written:
			var env struct {
				Type string            `json:"type"`
				Data map[string]string `json:"data"`
			}
			require.NoError(t, json.Unmarshal(data, &env))
			assert.Equal(t, "event", env.Type)
			assert.Equal(t, "fall_detected", env.Data["event"])
		case <-time.After(time.Second):
			t.Fatal("message not delivered")
		}
	}
}

func TestHub_DisconnectUnregisters(t *testing.T) {
	h, _ := startHub(t)

	fc := newFakeConn()
	c := NewClient(context.Background(), h, fc)
	go c.Run()
	require.Eventually(t, func() bool { return h.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	fc.Close()
	assert.Eventually(t, func() bool { return h.ClientCount() == 0 }, time.Second, 5*time.Millisecond)
}

func TestHub_StopsOnCancel(t *testing.T) {
	h, cancel := startHub(t)
	require.Eventually(t, h.IsRunning, time.Second, 5*time.Millisecond)
	cancel()
	assert.Eventually(t, func() bool { return !h.IsRunning() }, time.Second, 5*time.Millisecond)

	ctx, stop := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer stop()
	assert.Nil(t, NewClient(ctx, h, newFakeConn()), "registration fails once the hub is gone")
}
