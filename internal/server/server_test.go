package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/wsmux/internal/message"
)

func TestConnectEmitsConnectedAfterRegistration(t *testing.T) {
	h := newHarness(t, nil)

	_, id := h.connect()

	client, ok := h.hub().clients.Lookup(id)
	require.True(t, ok, "connected client must be in the registry")
	assert.Equal(t, id, client.ID())
	assert.Equal(t, 1, h.hub().Count())
	assert.Equal(t, []ClientID{id}, h.hub().Clients())
}

func TestInboundMessagesAreTaggedAndOrdered(t *testing.T) {
	h := newHarness(t, nil)

	connA, idA := h.connect()
	connB, idB := h.connect()

	const n = 50
	var wg sync.WaitGroup
	wg.Add(2)
	for _, c := range []struct {
		conn   *websocket.Conn
		prefix string
	}{{connA, "a"}, {connB, "b"}} {
		go func(conn *websocket.Conn, prefix string) {
			defer wg.Done()
			for i := 0; i < n; i++ {
				if err := conn.WriteMessage(websocket.TextMessage, []byte(fmt.Sprintf("%s-%d", prefix, i))); err != nil {
					t.Errorf("write %s-%d: %v", prefix, i, err)
					return
				}
			}
		}(c.conn, c.prefix)
	}
	wg.Wait()

	h.waitUntil(func() bool { return len(h.msgs) == 2*n }, "%d inbound messages, have %d", 2*n, len(h.msgs))

	for id, prefix := range map[ClientID]string{idA: "a", idB: "b"} {
		msgs := h.messagesFrom(id)
		require.Len(t, msgs, n)
		for i, m := range msgs {
			assert.True(t, m.Message.IsText())
			assert.Equal(t, fmt.Sprintf("%s-%d", prefix, i), m.Message.Text())
		}
	}
}

func TestBinaryRoundTrip(t *testing.T) {
	h := newHarness(t, nil)
	conn, id := h.connect()

	payload := []byte{0x00, 0xff, 0x10, 0x20}
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, payload))
	h.waitUntil(func() bool { return len(h.msgs) == 1 }, "binary message")

	got := h.msgs[0]
	assert.Equal(t, id, got.From)
	assert.True(t, got.Message.IsBinary())
	assert.Equal(t, payload, got.Message.Bytes())

	require.True(t, h.hub().SendTo(id, got.Message))
	frameType, data := readFrame(t, conn)
	assert.Equal(t, websocket.BinaryMessage, frameType)
	assert.Equal(t, payload, data)
}

func TestSendToReachesOnlyAddressedClient(t *testing.T) {
	h := newHarness(t, nil)

	connA, idA := h.connect()
	connB, _ := h.connect()

	require.True(t, h.hub().SendTo(idA, message.Text("x")))

	frameType, data := readFrame(t, connA)
	assert.Equal(t, websocket.TextMessage, frameType)
	assert.Equal(t, "x", string(data))

	expectNoFrame(t, connA, 150*time.Millisecond)
	expectNoFrame(t, connB, 150*time.Millisecond)
}

func TestSendToUnknownClientIsDropped(t *testing.T) {
	h := newHarness(t, nil)

	assert.False(t, h.hub().SendTo(NewClientID(), message.Text("nobody")))
	assert.Empty(t, h.hub().DrainErrors())
}

func TestBroadcastReachesEveryClientOnce(t *testing.T) {
	h := newHarness(t, nil)

	const k = 5
	conns := make([]*websocket.Conn, k)
	for i := range conns {
		conns[i], _ = h.connect()
	}

	assert.Equal(t, k, h.hub().Broadcast(message.Text("hello all")))

	late, _ := h.connect()

	for i, conn := range conns {
		_, data := readFrame(t, conn)
		assert.Equal(t, "hello all", string(data), "client %d", i)
	}
	for _, conn := range conns {
		expectNoFrame(t, conn, 100*time.Millisecond)
	}
	expectNoFrame(t, late, 100*time.Millisecond)
}

func TestBroadcastExceptSkipsSender(t *testing.T) {
	h := newHarness(t, nil)

	connA, idA := h.connect()
	connB, _ := h.connect()

	assert.Equal(t, 1, h.hub().BroadcastExcept(idA, message.Text("from a")))

	_, data := readFrame(t, connB)
	assert.Equal(t, "from a", string(data))
	expectNoFrame(t, connA, 150*time.Millisecond)
}

func TestCloseFrameRemovesClientOnce(t *testing.T) {
	h := newHarness(t, nil)

	conn, id := h.connect()
	other, _ := h.connect()

	closeGracefully(t, conn)

	h.waitUntil(func() bool { return h.countEvents(Disconnected, &id) == 1 }, "disconnected event")

	_, ok := h.hub().clients.Lookup(id)
	assert.False(t, ok)
	assert.False(t, h.hub().SendTo(id, message.Text("late")))
	assert.Equal(t, 1, h.hub().Count())

	// The server answers the close frame.
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, websocket.CloseNormalClosure, closeErr.Code)

	// No second Disconnected shows up later, and a clean close is not a failure.
	time.Sleep(100 * time.Millisecond)
	h.poll()
	assert.Equal(t, 1, h.countEvents(Disconnected, &id))
	for _, e := range h.errs {
		assert.NotEqual(t, id, e.Client, "unexpected failure %v", e)
	}
	assert.NoError(t, h.hub().clients.Check())

	_ = other
}

func TestCloseFrameFlushesQueuedMessages(t *testing.T) {
	h := newHarness(t, func(cfg *Config) { cfg.CloseGracePeriod = time.Second })

	conn, id := h.connect()

	const n = 200
	for i := 0; i < n; i++ {
		require.True(t, h.hub().SendTo(id, message.Text(fmt.Sprint(i))))
	}
	closeGracefully(t, conn)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for i := 0; i < n; i++ {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err, "frame %d", i)
		assert.Equal(t, fmt.Sprint(i), string(data))
	}

	_, _, err := conn.ReadMessage()
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, websocket.CloseNormalClosure, closeErr.Code)

	h.waitUntil(func() bool { return h.countEvents(Disconnected, &id) == 1 }, "disconnected event")
}

func TestCloseFrameWithoutGraceRepliesImmediately(t *testing.T) {
	h := newHarness(t, func(cfg *Config) { cfg.CloseGracePeriod = 0 })

	conn, id := h.connect()
	client, ok := h.hub().clients.Lookup(id)
	require.True(t, ok)

	start := time.Now()
	closeGracefully(t, conn)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, websocket.CloseNormalClosure, closeErr.Code)
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	h.waitUntil(func() bool { return h.countEvents(Disconnected, &id) == 1 }, "disconnected event")

	select {
	case <-client.flush:
		t.Fatal("writer was asked to flush with a zero grace period")
	default:
	}
}

func TestWriteFailureKeepsConnection(t *testing.T) {
	h := newHarness(t, nil)

	conn, id := h.connect()
	client, ok := h.hub().clients.Lookup(id)
	require.True(t, ok)

	// An expired deadline makes the next write fail.
	client.writeTimeout = -time.Second
	require.True(t, h.hub().SendTo(id, message.Text("lost")))

	h.waitUntil(func() bool { return len(h.errs) > 0 }, "write failure event")

	time.Sleep(100 * time.Millisecond)
	h.poll()

	require.Len(t, h.errs, 1)
	assert.Equal(t, WriteFailure, h.errs[0].Kind)
	assert.Equal(t, id, h.errs[0].Client)

	assert.Equal(t, 1, h.hub().Count())
	_, ok = h.hub().clients.Lookup(id)
	assert.True(t, ok)
	assert.Zero(t, h.countEvents(Disconnected, &id))

	expectNoFrame(t, conn, 100*time.Millisecond)
}

func TestRegisterAfterShutdownClosesConnection(t *testing.T) {
	h := newHarness(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.hub().Shutdown(ctx))

	conn, err := dial(h.wsURL, testOrigin)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, websocket.CloseTryAgainLater, closeErr.Code)

	h.poll()
	assert.Zero(t, h.hub().Count())
	assert.Zero(t, h.countEvents(Connected, nil))
}

func TestAbruptDisconnectReportsReadFailure(t *testing.T) {
	h := newHarness(t, nil)

	conn, id := h.connect()
	require.NoError(t, conn.UnderlyingConn().Close())

	h.waitUntil(func() bool { return h.countEvents(Disconnected, &id) == 1 }, "disconnected event")
	h.waitUntil(func() bool { return len(h.errs) > 0 }, "read failure event")

	assert.Equal(t, id, h.errs[0].Client)
	assert.Equal(t, ReadFailure, h.errs[0].Kind)
	assert.Zero(t, h.hub().Count())
}

func TestOversizedMessageClosesConnection(t *testing.T) {
	h := newHarness(t, func(cfg *Config) { cfg.MaxMessageSize = 16 })

	conn, id := h.connect()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(strings.Repeat("x", 64))))

	h.waitUntil(func() bool { return h.countEvents(Disconnected, &id) == 1 }, "disconnected event")
	assert.Empty(t, h.messagesFrom(id))
}

func TestRateLimitDiscardsExcessFrames(t *testing.T) {
	h := newHarness(t, func(cfg *Config) {
		cfg.RateLimit = RateLimitConfig{Burst: 3, RefillInterval: time.Hour}
	})

	conn, id := h.connect()
	for i := 0; i < 10; i++ {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(fmt.Sprint(i))))
	}
	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))

	h.waitUntil(func() bool { return h.countEvents(Disconnected, &id) == 1 }, "disconnected event")
	msgs := h.messagesFrom(id)
	require.Len(t, msgs, 3)
	assert.Equal(t, "0", msgs[0].Message.Text())
	assert.Equal(t, "2", msgs[2].Message.Text())
}

func TestDisallowedOriginIsRejected(t *testing.T) {
	h := newHarness(t, nil)

	_, err := dial(h.wsURL, "http://evil.example")
	require.Error(t, err)
	assert.ErrorIs(t, err, websocket.ErrBadHandshake)

	time.Sleep(20 * time.Millisecond)
	h.poll()
	assert.Empty(t, h.events)
	assert.Zero(t, h.hub().Count())
}

func TestPeerWithoutOriginIsAccepted(t *testing.T) {
	h := newHarness(t, nil)

	conn, err := dial(h.wsURL, "")
	require.NoError(t, err)
	defer conn.Close()

	h.waitUntil(func() bool { return h.countEvents(Connected, nil) == 1 }, "connected event")
}

func TestHandshakeFailureLeavesNoEntry(t *testing.T) {
	h := newHarness(t, nil)

	resp, err := http.Get(h.ts.URL + "/ws")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	h.poll()
	assert.Empty(t, h.events)
	assert.Zero(t, h.hub().Count())
}

func TestNonGETIsMethodNotAllowed(t *testing.T) {
	h := newHarness(t, nil)

	for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodPatch} {
		t.Run(method, func(t *testing.T) {
			req, err := http.NewRequest(method, h.ts.URL+"/ws", http.NoBody)
			require.NoError(t, err)
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()

			body, _ := io.ReadAll(resp.Body)
			assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
			assert.Contains(t, resp.Header.Get("Content-Type"), "text/plain")
			assert.Equal(t, "Method not allowed. Only GET requests are accepted.", strings.TrimSpace(string(body)))
		})
	}
}

func TestHealthAndStats(t *testing.T) {
	h := newHarness(t, nil)
	h.connect()

	resp, err := http.Get(h.ts.URL + "/healthz")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/plain", resp.Header.Get("Content-Type"))
	assert.Contains(t, string(body), "1 clients")

	resp, err = http.Get(h.ts.URL + "/stats")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var stats Stats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	assert.Equal(t, 1, stats.Clients)
}

func TestSendQueueOverflowReportsFailure(t *testing.T) {
	hub := NewHub(testConfig(), discardLogger())
	cfg := hub.cfg
	cfg.SendQueueLimit = 2
	hub.cfg = cfg

	c := newClient(nil, hub, "test")
	require.NoError(t, hub.clients.Insert(c.id, c))

	assert.True(t, hub.SendTo(c.id, message.Text("1")))
	assert.True(t, hub.SendTo(c.id, message.Text("2")))
	assert.False(t, hub.SendTo(c.id, message.Text("3")))

	failures := hub.DrainErrors()
	require.Len(t, failures, 1)
	assert.Equal(t, Overflow, failures[0].Kind)
	assert.Equal(t, c.id, failures[0].Client)
}

func TestShutdownClosesClientsAndEmitsDisconnected(t *testing.T) {
	h := newHarness(t, nil)

	const k = 3
	conns := make([]*websocket.Conn, k)
	for i := range conns {
		conns[i], _ = h.connect()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.srv.Shutdown(ctx))

	h.poll()
	assert.Equal(t, k, h.countEvents(Disconnected, nil))
	assert.Zero(t, h.hub().Count())
	for _, e := range h.errs {
		assert.NotEqual(t, ReadFailure, e.Kind, "shutdown is not a read failure")
	}

	for i, conn := range conns {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
		_, _, err := conn.ReadMessage()
		assert.Error(t, err, "client %d should observe the close", i)
	}

	// Registration after shutdown is refused.
	_, err := dial(h.wsURL, testOrigin)
	if err == nil {
		h.poll()
		assert.Zero(t, h.hub().Count())
	}
}

func TestStartBindsAndServes(t *testing.T) {
	cfg := testConfig()
	srv := NewServer(cfg, discardLogger())
	require.NoError(t, srv.Start())

	addr := srv.Addr()
	require.NotNil(t, addr)

	conn, err := dial("ws://"+addr.String()+"/ws", testOrigin)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return srv.Hub().Count() == 1 }, 2*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))
	require.NoError(t, srv.Wait(ctx))

	assert.ErrorIs(t, srv.Start(), ErrServerClosed)
}

func TestStartBindFailure(t *testing.T) {
	occupied, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer occupied.Close()

	cfg := testConfig()
	cfg.ListenAddr = occupied.Addr().String()
	srv := NewServer(cfg, discardLogger())

	err = srv.Start()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBind), "got %v", err)
	assert.Nil(t, srv.Addr())
}
