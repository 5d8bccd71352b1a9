package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/Tyrowin/roomrelay/internal/chat"
	"github.com/Tyrowin/roomrelay/internal/chatrpc"
	"github.com/Tyrowin/roomrelay/internal/logger"
	"github.com/Tyrowin/roomrelay/internal/relay"
)

const testOrigin = "http://localhost:8080"

type testEnv struct {
	hub    *relay.Hub
	srv    *Server
	ts     *httptest.Server
	wsURL  string
	origin string
}

func newTestEnv(t *testing.T, customize func(cfg *Config)) *testEnv {
	t.Helper()

	cfg := NewConfig()
	cfg.AllowedOrigins = []string{testOrigin}
	cfg.PollInterval = 20 * time.Millisecond
	if customize != nil {
		customize(cfg)
	}

	hub := relay.NewHub(append(cfg.HubOptions(), relay.WithLogger(logger.Discard()))...)
	go hub.Run()

	srv := New(*cfg, hub, logger.Discard())
	ts := httptest.NewServer(srv.Routes())

	t.Cleanup(func() {
		_ = hub.Shutdown(time.Second)
		ts.Close()
	})

	return &testEnv{
		hub:    hub,
		srv:    srv,
		ts:     ts,
		wsURL:  "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws",
		origin: testOrigin,
	}
}

func (e *testEnv) dial(t *testing.T) *websocket.Conn {
	t.Helper()

	header := http.Header{}
	header.Set("Origin", e.origin)
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}

	conn, resp, err := dialer.Dial(e.wsURL, header)
	if resp != nil {
		_ = resp.Body.Close()
	}
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// joinWS connects and sends a JOIN, waiting until the hub has the session.
func (e *testEnv) joinWS(t *testing.T, userID, roomID string) *websocket.Conn {
	t.Helper()

	conn := e.dial(t)
	require.NoError(t, conn.WriteJSON(chat.Message{UserID: userID, Username: userID, Kind: chat.KindJoin, RoomID: roomID}))
	require.Eventually(t, func() bool {
		_, ok := e.hub.Lookup(userID)
		return ok
	}, 2*time.Second, 5*time.Millisecond)
	return conn
}

func readMsg(t *testing.T, conn *websocket.Conn) chat.Message {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg chat.Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func expectNoMessage(t *testing.T, conn *websocket.Conn, timeout time.Duration) {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(timeout)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err, "expected no message")

	var netErr net.Error
	if assert.ErrorAs(t, err, &netErr) {
		assert.True(t, netErr.Timeout())
	}
}

// TestHealthHandler tests the health check endpoint for GET and HEAD requests.
func TestHealthHandler(t *testing.T) {
	env := newTestEnv(t, nil)

	for _, method := range []string{http.MethodGet, http.MethodHead} {
		req, err := http.NewRequest(method, env.ts.URL+"/", http.NoBody)
		require.NoError(t, err)

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		_ = resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "text/plain", resp.Header.Get("Content-Type"))
	}
}

// TestTestPageHandler tests that the browser test page is served as HTML.
func TestTestPageHandler(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, err := http.Get(env.ts.URL + "/test")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/html", resp.Header.Get("Content-Type"))
}

// TestRoomsHandler tests the JSON room listing and its method restriction.
func TestRoomsHandler(t *testing.T) {
	env := newTestEnv(t, nil)

	alice := env.joinWS(t, "alice", "dev")
	require.NoError(t, alice.WriteJSON(chat.Message{UserID: "alice", Text: "hi", Kind: chat.KindText}))
	readMsg(t, alice)

	resp, err := http.Get(env.ts.URL + "/rooms")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	var rooms []relay.RoomInfo
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rooms))
	assert.Equal(t, []relay.RoomInfo{{ID: "dev", Members: 1, History: 1}}, rooms)

	post, err := http.Post(env.ts.URL+"/rooms", "application/json", strings.NewReader("{}"))
	require.NoError(t, err)
	_ = post.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, post.StatusCode)
}

// TestWebSocketEndpointRejectsBadRequests tests that non-upgrade requests and
// foreign origins are refused.
func TestWebSocketEndpointRejectsBadRequests(t *testing.T) {
	env := newTestEnv(t, nil)

	t.Run("POST", func(t *testing.T) {
		resp, err := http.Post(env.ts.URL+"/ws", "text/plain", strings.NewReader("test"))
		require.NoError(t, err)
		_ = resp.Body.Close()
		assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	})

	t.Run("GET without upgrade headers", func(t *testing.T) {
		resp, err := http.Get(env.ts.URL + "/ws")
		require.NoError(t, err)
		_ = resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("disallowed origin", func(t *testing.T) {
		header := http.Header{}
		header.Set("Origin", "http://evil.example")
		_, resp, err := websocket.DefaultDialer.Dial(env.wsURL, header)
		require.Error(t, err)
		require.NotNil(t, resp)
		_ = resp.Body.Close()
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})
}

// TestWebSocketRelay tests a text round trip between two WebSocket clients and
// the leave announcement on close.
func TestWebSocketRelay(t *testing.T) {
	env := newTestEnv(t, nil)

	alice := env.joinWS(t, "alice", "general")
	bob := env.joinWS(t, "bob", "general")

	joined := readMsg(t, alice)
	assert.Equal(t, chat.KindJoin, joined.Kind)
	assert.Equal(t, "bob joined the room", joined.Text)

	require.NoError(t, alice.WriteJSON(chat.Message{UserID: "alice", Username: "alice", Text: "hi", Kind: chat.KindText, RoomID: "general"}))

	for _, conn := range []*websocket.Conn{bob, alice} {
		msg := readMsg(t, conn)
		assert.Equal(t, "alice", msg.Username)
		assert.Equal(t, "hi", msg.Text)
		assert.Equal(t, "general", msg.RoomID)
	}

	require.NoError(t, bob.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))

	left := readMsg(t, alice)
	assert.Equal(t, chat.KindLeave, left.Kind)
	assert.Equal(t, "bob left the room", left.Text)
}

// TestWebSocketSkipsInvalidFrames tests that malformed JSON frames are dropped
// without ending the session.
func TestWebSocketSkipsInvalidFrames(t *testing.T) {
	env := newTestEnv(t, nil)

	alice := env.joinWS(t, "alice", "general")
	require.NoError(t, alice.WriteMessage(websocket.TextMessage, []byte("not json")))
	require.NoError(t, alice.WriteJSON(chat.Message{UserID: "alice", Text: "after garbage", Kind: chat.KindText}))

	assert.Equal(t, "after garbage", readMsg(t, alice).Text)
}

// TestWebSocketAssignsMissingUserID tests that a handshake without user_id gets
// a generated id.
func TestWebSocketAssignsMissingUserID(t *testing.T) {
	env := newTestEnv(t, nil)

	conn := env.dial(t)
	require.NoError(t, conn.WriteJSON(chat.Message{Username: "anon", Text: "hello", Kind: chat.KindText}))

	msg := readMsg(t, conn)
	assert.Equal(t, "hello", msg.Text)
	assert.NotEmpty(t, msg.UserID)
	assert.Equal(t, []string{msg.UserID}, env.hub.Members("general"))
}

// TestWebSocketRateLimit tests that text beyond the burst is discarded.
func TestWebSocketRateLimit(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config) {
		cfg.RateLimit = RateLimitConfig{Burst: 2, RefillInterval: time.Hour}
	})

	alice := env.joinWS(t, "alice", "general")
	for i := 0; i < 4; i++ {
		require.NoError(t, alice.WriteJSON(chat.Message{UserID: "alice", Text: "spam", Kind: chat.KindText}))
	}

	readMsg(t, alice)
	readMsg(t, alice)
	expectNoMessage(t, alice, 150*time.Millisecond)
	assert.Len(t, env.hub.History("general"), 2)
}

// TestWebSocketOversizedMessageEndsSession tests that a frame over the read
// limit closes the connection and announces the leave.
func TestWebSocketOversizedMessageEndsSession(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config) {
		cfg.MaxMessageSize = 256
	})

	alice := env.joinWS(t, "alice", "general")
	bob := env.joinWS(t, "bob", "general")
	readMsg(t, alice)

	big := chat.Message{UserID: "bob", Text: strings.Repeat("x", 1024), Kind: chat.KindText}
	require.NoError(t, bob.WriteJSON(big))

	left := readMsg(t, alice)
	assert.Equal(t, "bob left the room", left.Text)
	assert.Empty(t, env.hub.History("general"))
}

// TestWebSocketRejectedAfterHubShutdown tests that no upgrade happens once the
// hub has stopped.
func TestWebSocketRejectedAfterHubShutdown(t *testing.T) {
	env := newTestEnv(t, nil)
	require.NoError(t, env.hub.Shutdown(time.Second))

	header := http.Header{}
	header.Set("Origin", env.origin)
	conn, resp, err := websocket.DefaultDialer.Dial(env.wsURL, header)
	if conn != nil {
		_ = conn.Close()
	}
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

// TestServeAndShutdown tests serving gRPC on a real listener and a clean
// Shutdown.
func TestServeAndShutdown(t *testing.T) {
	cfg := NewConfig()
	cfg.PollInterval = 20 * time.Millisecond

	hub := relay.NewHub(append(cfg.HubOptions(), relay.WithLogger(logger.Discard()))...)
	go hub.Run()
	srv := New(*cfg, hub, logger.Discard())

	httpLis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	grpcLis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	served := make(chan error, 1)
	go func() { served <- srv.Serve(context.Background(), httpLis, grpcLis) }()

	cc, err := grpc.NewClient(grpcLis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer func() { _ = cc.Close() }()

	stream, err := chatrpc.NewChatServiceClient(cc).JoinChat(context.Background())
	require.NoError(t, err)
	require.NoError(t, stream.Send(&chat.Message{UserID: "alice", Text: "over grpc", Kind: chat.KindText}))

	msg, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, "over grpc", msg.Text)

	resp, err := http.Get("http://" + httpLis.Addr().String() + "/")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, hub.Shutdown(time.Second))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))

	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after Shutdown")
	}

	_, err = stream.Recv()
	assert.Error(t, err)
}

// TestServeStopsWhenContextEnds tests that Serve returns once its context is
// canceled.
func TestServeStopsWhenContextEnds(t *testing.T) {
	cfg := NewConfig()
	cfg.ShutdownTimeout = time.Second

	hub := relay.NewHub(relay.WithLogger(logger.Discard()))
	go hub.Run()
	t.Cleanup(func() { _ = hub.Shutdown(time.Second) })
	srv := New(*cfg, hub, logger.Discard())

	httpLis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	grpcLis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- srv.Serve(ctx, httpLis, grpcLis) }()

	cancel()
	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
