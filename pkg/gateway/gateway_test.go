package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func TestURL(t *testing.T) {
	for _, ca := range []struct {
		name     string
		endpoint string
		url      string
		err      bool
	}{
		{"plain", "voice.example.com", "wss://voice.example.com/?v=4", false},
		{"legacy port stripped", "voice.example.com:80", "wss://voice.example.com/?v=4", false},
		{"other port kept", "voice.example.com:443", "wss://voice.example.com:443/?v=4", false},
		{"empty", "", "", true},
	} {
		t.Run(ca.name, func(t *testing.T) {
			u, err := URL(ca.endpoint)
			if ca.err {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, ca.url, u)
		})
	}
}

func TestIdentifyEncoding(t *testing.T) {
	raw, err := json.Marshal(Identify{
		ServerID:  41771983423143937,
		UserID:    80351110224678912,
		SessionID: "my_session_id",
		Token:     "my_token",
	})
	require.NoError(t, err)
	require.JSONEq(t, `{
		"server_id": "41771983423143937",
		"user_id": "80351110224678912",
		"session_id": "my_session_id",
		"token": "my_token"
	}`, string(raw))
}

func TestSessionDescriptionDecoding(t *testing.T) {
	var d SessionDescription
	err := json.Unmarshal([]byte(`{
		"mode": "xsalsa20_poly1305",
		"secret_key": [251, 100, 11, 62, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
			0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1]
	}`), &d)
	require.NoError(t, err)
	require.Equal(t, "xsalsa20_poly1305", d.Mode)
	require.Equal(t, byte(251), d.SecretKey[0])
	require.Equal(t, byte(1), d.SecretKey[31])
}

// wsTestServer upgrades an incoming connection and hands it to cb.
func wsTestServer(t *testing.T, cb func(*websocket.Conn)) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer ws.Close()
		cb(ws)
	}))
}

func TestReadEvent(t *testing.T) {
	frames := []string{
		`{"op":8,"d":{"heartbeat_interval":41250}}`,
		`{"op":2,"d":{"ssrc":7,"ip":"198.51.100.1","port":50001,"modes":["xsalsa20_poly1305"]}}`,
		`{"op":6,"d":1501184119561}`,
		`{"op":13,"d":{"user_id":"80351110224678912"}}`,
		`{"op":255,"d":{"whatever":true}}`,
	}

	srv := wsTestServer(t, func(ws *websocket.Conn) {
		for _, fr := range frames {
			err := ws.WriteMessage(websocket.TextMessage, []byte(fr))
			require.NoError(t, err)
		}

		// hold the connection open until the client is done
		ws.ReadMessage() //nolint:errcheck
	})
	defer srv.Close()

	conn, err := dialTestServer(t, srv)
	require.NoError(t, err)
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)

	ev, err := conn.ReadEvent(deadline)
	require.NoError(t, err)
	require.Equal(t, &Hello{HeartbeatInterval: 41250}, ev)

	ev, err = conn.ReadEvent(deadline)
	require.NoError(t, err)
	require.Equal(t, &Ready{
		SSRC:  7,
		IP:    "198.51.100.1",
		Port:  50001,
		Modes: []string{"xsalsa20_poly1305"},
	}, ev)

	ev, err = conn.ReadEvent(deadline)
	require.NoError(t, err)
	require.Equal(t, &HeartbeatAck{Nonce: 1501184119561}, ev)

	ev, err = conn.ReadEvent(deadline)
	require.NoError(t, err)
	require.Equal(t, &ClientDisconnect{UserID: 80351110224678912}, ev)

	ev, err = conn.ReadEvent(deadline)
	require.NoError(t, err)
	unknown, ok := ev.(*Unknown)
	require.True(t, ok)
	require.Equal(t, OpCode(255), unknown.Op)
}

func TestReadEventTimeout(t *testing.T) {
	srv := wsTestServer(t, func(ws *websocket.Conn) {
		ws.ReadMessage() //nolint:errcheck
	})
	defer srv.Close()

	conn, err := dialTestServer(t, srv)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.ReadEvent(time.Now().Add(20 * time.Millisecond))
	require.Error(t, err)
	require.True(t, IsTimeout(err))
}

func TestWriteHeartbeat(t *testing.T) {
	received := make(chan string, 1)
	srv := wsTestServer(t, func(ws *websocket.Conn) {
		_, raw, err := ws.ReadMessage()
		require.NoError(t, err)
		received <- string(raw)
	})
	defer srv.Close()

	conn, err := dialTestServer(t, srv)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteHeartbeat(42))

	select {
	case raw := <-received:
		require.JSONEq(t, `{"op":3,"d":42}`, raw)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
	}
}

// dialTestServer connects a Conn to an httptest websocket server, bypassing
// URL synthesis since the test server is plain ws://.
func dialTestServer(t *testing.T, srv *httptest.Server) (*Conn, error) {
	t.Helper()

	u := "ws" + strings.TrimPrefix(srv.URL, "http")
	ws, _, err := websocket.DefaultDialer.DialContext(context.Background(), u, nil)
	if err != nil {
		return nil, err
	}

	return NewConn(ws, 2*time.Second), nil
}
