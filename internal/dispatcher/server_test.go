package dispatcher

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/corvidlabs/corvid-core/internal/corvidlog"
)

func newTestServerHTTP(t *testing.T, cfg ServerConfig) (*httptest.Server, *Server) {
	t.Helper()
	d := newTestDispatcher(t)
	srv := NewServer(cfg, d, corvidlog.Nop())
	ts := httptest.NewServer(srv.Mux())
	t.Cleanup(ts.Close)
	return ts, srv
}

func dialWS(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestServerSendsConnectedStatusOnOpen(t *testing.T) {
	ts, _ := newTestServerHTTP(t, ServerConfig{})
	conn := dialWS(t, ts)

	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))
	require.Equal(t, "status", m["type"])
	require.Equal(t, "connected", m["message"])
	require.NotEmpty(t, m["clientId"])
}

func TestServerRoutesCommandWithoutAuth(t *testing.T) {
	ts, _ := newTestServerHTTP(t, ServerConfig{})
	conn := dialWS(t, ts)
	_, _, err := conn.ReadMessage() // connected status
	require.NoError(t, err)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"id":"1","command":"ping"}`)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))
	require.Equal(t, true, m["success"])
	require.Equal(t, "pong", m["message"])
}

func TestServerRejectsCommandsBeforeAuth(t *testing.T) {
	ts, _ := newTestServerHTTP(t, ServerConfig{RequireAuth: true, JWTSecret: "test-secret"})
	conn := dialWS(t, ts)
	_, _, err := conn.ReadMessage() // connected status
	require.NoError(t, err)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"id":"1","command":"ping"}`)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))
	require.Equal(t, "Unauthorized", m["kind"])
}

func TestServerAcceptsCommandsAfterValidAuth(t *testing.T) {
	secret := "test-secret"
	ts, _ := newTestServerHTTP(t, ServerConfig{RequireAuth: true, JWTSecret: secret})
	conn := dialWS(t, ts)
	_, _, err := conn.ReadMessage() // connected status
	require.NoError(t, err)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)

	authFrame, _ := json.Marshal(map[string]any{"id": "auth", "command": "authenticate", "token": signed})
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, authFrame))

	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var authResp map[string]any
	require.NoError(t, json.Unmarshal(raw, &authResp))
	require.Equal(t, true, authResp["authenticated"])

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"id":"2","command":"ping"}`)))
	_, raw, err = conn.ReadMessage()
	require.NoError(t, err)
	var pingResp map[string]any
	require.NoError(t, json.Unmarshal(raw, &pingResp))
	require.Equal(t, true, pingResp["success"])
}
