package relay

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeTokens struct {
	mu       sync.Mutex
	valid    map[string]string // token -> userID
	extended []string
}

func (f *fakeTokens) Validate(ctx context.Context, token string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	userID, ok := f.valid[token]
	if !ok {
		return "", errors.New("unknown token")
	}
	return userID, nil
}

func (f *fakeTokens) Extend(ctx context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.extended = append(f.extended, token)
	return nil
}

func (f *fakeTokens) extendedTokens() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.extended...)
}

func newTestHub(t *testing.T) (*Hub, *fakeTokens, *httptest.Server) {
	t.Helper()
	tokens := &fakeTokens{valid: map[string]string{"tok-1": "user-1"}}
	hub := NewHub(tokens, zap.NewNop().Sugar())
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleConnection))
	t.Cleanup(srv.Close)
	return hub, tokens, srv
}

func dialExtension(t *testing.T, srv *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHandshakeRequiresValidToken(t *testing.T) {
	_, _, srv := newTestHub(t)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?token=bogus"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandshakeExtendsToken(t *testing.T) {
	hub, tokens, srv := newTestHub(t)

	dialExtension(t, srv, "tok-1")

	require.Eventually(t, func() bool {
		return hub.Connected("user-1")
	}, time.Second, 10*time.Millisecond)
	assert.Contains(t, tokens.extendedTokens(), "tok-1")
}

func TestSendToUserDeliversCommand(t *testing.T) {
	hub, _, srv := newTestHub(t)
	conn := dialExtension(t, srv, "tok-1")

	require.Eventually(t, func() bool { return hub.Connected("user-1") }, time.Second, 10*time.Millisecond)

	cmd := JobCommand{Type: TypePost, JobID: "j1", Platform: "twitter", Content: "hello"}
	require.NoError(t, hub.SendToUser("user-1", cmd))

	var got JobCommand
	conn.SetReadDeadline(time.Now().Add(time.Second))
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, "j1", got.JobID)
	assert.Equal(t, "post", got.Type)
}

func TestSendToUnknownUserFails(t *testing.T) {
	hub, _, _ := newTestHub(t)
	assert.Error(t, hub.SendToUser("nobody", JobCommand{}))
}

func TestPostResultRoutedToHandler(t *testing.T) {
	hub, _, srv := newTestHub(t)

	results := make(chan PostResult, 1)
	hub.SetResultHandler(func(userID string, result PostResult) {
		assert.Equal(t, "user-1", userID)
		results <- result
	})

	conn := dialExtension(t, srv, "tok-1")
	require.Eventually(t, func() bool { return hub.Connected("user-1") }, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteJSON(PostResult{
		Type:    TypePostResult,
		JobID:   "j42",
		Success: true,
		PostURL: "https://x.com/u/status/1",
	}))

	select {
	case res := <-results:
		assert.Equal(t, "j42", res.JobID)
		assert.True(t, res.Success)
	case <-time.After(time.Second):
		t.Fatal("post_result never reached the handler")
	}
}

func TestMalformedMessagesAreDropped(t *testing.T) {
	hub, _, srv := newTestHub(t)
	conn := dialExtension(t, srv, "tok-1")
	require.Eventually(t, func() bool { return hub.Connected("user-1") }, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"payload":"no type"}`)))

	// connection must survive garbage input
	require.NoError(t, hub.SendToUser("user-1", pingMessage{Type: TypePing}))
	var env envelope
	conn.SetReadDeadline(time.Now().Add(time.Second))
	require.NoError(t, conn.ReadJSON(&env))
	assert.Equal(t, TypePing, env.Type)
}

func TestPingPongKeepsConnectionAlive(t *testing.T) {
	tokens := &fakeTokens{valid: map[string]string{"tok-1": "user-1"}}
	hub := NewHub(tokens, zap.NewNop().Sugar())
	hub.SetPingInterval(30*time.Millisecond, 200*time.Millisecond)
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleConnection))
	defer srv.Close()

	conn := dialExtension(t, srv, "tok-1")

	// answer pings like a healthy extension for a few cycles
	deadline := time.Now().Add(300 * time.Millisecond)
	for time.Now().Before(deadline) {
		conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		var env envelope
		if err := conn.ReadJSON(&env); err != nil {
			break
		}
		if env.Type == TypePing {
			require.NoError(t, conn.WriteJSON(pingMessage{Type: TypePong}))
		}
	}
	assert.True(t, hub.Connected("user-1"))
}

func TestUnresponsivePeerIsClosed(t *testing.T) {
	tokens := &fakeTokens{valid: map[string]string{"tok-1": "user-1"}}
	hub := NewHub(tokens, zap.NewNop().Sugar())
	hub.SetPingInterval(20*time.Millisecond, 50*time.Millisecond)
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleConnection))
	defer srv.Close()

	dialExtension(t, srv, "tok-1")
	require.Eventually(t, func() bool { return hub.Connected("user-1") }, time.Second, 10*time.Millisecond)

	// never answer pings; the hub should drop the connection
	require.Eventually(t, func() bool {
		return !hub.Connected("user-1")
	}, 2*time.Second, 20*time.Millisecond)
}

func TestDisconnectRemovesMapping(t *testing.T) {
	hub, _, srv := newTestHub(t)
	conn := dialExtension(t, srv, "tok-1")
	require.Eventually(t, func() bool { return hub.Connected("user-1") }, time.Second, 10*time.Millisecond)

	conn.Close()

	require.Eventually(t, func() bool {
		return !hub.Connected("user-1") && hub.ConnectionCount() == 0
	}, time.Second, 10*time.Millisecond)
}
