package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

const testOrigin = "http://localhost:8080"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testConfig returns a config with limits loose enough for bursty tests and
// a short close grace period.
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.RateLimit.Burst = 10000
	cfg.CloseGracePeriod = 50 * time.Millisecond
	return cfg
}

// harness runs a Server behind httptest and accumulates what the hub emits,
// the way a host application would on each tick.
type harness struct {
	t      *testing.T
	srv    *Server
	ts     *httptest.Server
	wsURL  string
	events []LifecycleEvent
	msgs   []InboundMessage
	errs   []ErrorEvent
}

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()

	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	srv := NewServer(cfg, discardLogger())
	ts := httptest.NewServer(srv.Handler())

	h := &harness{
		t:     t,
		srv:   srv,
		ts:    ts,
		wsURL: "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws",
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Hub().Shutdown(ctx)
		ts.Close()
	})
	return h
}

func (h *harness) hub() *Hub {
	return h.srv.Hub()
}

// poll drains the hub once, like one application tick.
func (h *harness) poll() {
	hub := h.hub()
	h.events = append(h.events, hub.DrainLifecycleEvents()...)
	h.msgs = append(h.msgs, hub.DrainMessages()...)
	h.errs = append(h.errs, hub.DrainErrors()...)
}

// waitUntil polls until cond holds or two seconds pass.
func (h *harness) waitUntil(cond func() bool, format string, args ...any) {
	h.t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		h.poll()
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	h.t.Fatalf("timed out waiting: "+format, args...)
}

func (h *harness) countEvents(kind EventKind, id *ClientID) int {
	n := 0
	for _, ev := range h.events {
		if ev.Kind == kind && (id == nil || ev.Client == *id) {
			n++
		}
	}
	return n
}

func (h *harness) messagesFrom(id ClientID) []InboundMessage {
	var out []InboundMessage
	for _, m := range h.msgs {
		if m.From == id {
			out = append(out, m)
		}
	}
	return out
}

// connect dials the server and returns the connection with the ClientID the
// hub assigned to it.
func (h *harness) connect() (*websocket.Conn, ClientID) {
	h.t.Helper()

	before := h.countEvents(Connected, nil)
	conn, err := dial(h.wsURL, testOrigin)
	require.NoError(h.t, err)
	h.t.Cleanup(func() { _ = conn.Close() })

	h.waitUntil(func() bool { return h.countEvents(Connected, nil) > before }, "connected event")

	var id ClientID
	for i := len(h.events) - 1; i >= 0; i-- {
		if h.events[i].Kind == Connected {
			id = h.events[i].Client
			break
		}
	}
	return conn, id
}

func dial(url, origin string) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}

	headers := http.Header{}
	if origin != "" {
		headers.Set("Origin", origin)
	}
	conn, resp, err := dialer.Dial(url, headers)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, err
}

// readFrame reads one frame with a timeout.
func readFrame(t *testing.T, conn *websocket.Conn) (int, []byte) {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	frameType, data, err := conn.ReadMessage()
	require.NoError(t, err)
	return frameType, data
}

// expectNoFrame asserts that nothing arrives within d. The connection cannot
// be read from afterwards.
func expectNoFrame(t *testing.T, conn *websocket.Conn, d time.Duration) {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(d)))
	_, data, err := conn.ReadMessage()
	if err == nil {
		t.Fatalf("expected no frame, got %q", data)
	}
}

func closeGracefully(t *testing.T, conn *websocket.Conn) {
	t.Helper()

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")
	require.NoError(t, conn.WriteMessage(websocket.CloseMessage, msg))
}
