package gateway

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// URL synthesizes the gateway URL for an endpoint handed out by the host
// gateway. A trailing ":80" is a legacy artifact and must be stripped before
// the TLS URL is built.
func URL(endpoint string) (string, error) {
	endpoint = strings.TrimSuffix(endpoint, ":80")

	u := fmt.Sprintf("wss://%s/?v=%d", endpoint, Version)
	if _, err := url.Parse(u); err != nil || endpoint == "" {
		return "", fmt.Errorf("invalid endpoint %q", endpoint)
	}
	return u, nil
}

// ParseError is delivered in place of a frame that could not be decoded.
// Receivers treat it as a warning; the connection stays usable.
type ParseError struct {
	Err error
	Raw []byte
}

// errTimeout is returned by ReadEvent when no frame arrives within the
// deadline. It satisfies net.Error so IsTimeout recognizes it.
type errTimeout struct{}

func (errTimeout) Error() string   { return "read deadline exceeded" }
func (errTimeout) Timeout() bool   { return true }
func (errTimeout) Temporary() bool { return true }

// IsTimeout reports whether err is a read deadline expiring, which callers
// treat as "no frame available" rather than a transport failure.
func IsTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// Conn is a voice gateway connection. A dedicated goroutine owns the socket
// reads and feeds decoded frames to ReadEvent, since WebSocket read errors
// are terminal and read deadlines cannot be used for polling.
type Conn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration

	events  chan interface{}
	readErr error
}

// Dial opens a gateway connection to the given endpoint.
// dialContext and tlsConfig may be nil to use the defaults.
func Dial(
	ctx context.Context,
	endpoint string,
	dialContext func(ctx context.Context, network, address string) (net.Conn, error),
	tlsConfig *tls.Config,
	writeTimeout time.Duration,
) (*Conn, error) {
	u, err := URL(endpoint)
	if err != nil {
		return nil, err
	}

	dialer := websocket.Dialer{
		Proxy:            websocket.DefaultDialer.Proxy,
		HandshakeTimeout: websocket.DefaultDialer.HandshakeTimeout,
		NetDialContext:   dialContext,
		TLSClientConfig:  tlsConfig,
	}

	ws, _, err := dialer.DialContext(ctx, u, nil)
	if err != nil {
		return nil, err
	}

	return NewConn(ws, writeTimeout), nil
}

// NewConn wraps an established WebSocket connection and starts its reader.
func NewConn(ws *websocket.Conn, writeTimeout time.Duration) *Conn {
	c := &Conn{
		ws:           ws,
		writeTimeout: writeTimeout,
		events:       make(chan interface{}, 64),
	}

	go c.reader()

	return c
}

// Close closes the connection. The reader goroutine exits on the resulting
// read error.
func (c *Conn) Close() error {
	return c.ws.Close()
}

// reader decodes inbound frames until the transport dies.
func (c *Conn) reader() {
	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			c.readErr = err
			close(c.events)
			return
		}

		ev, err := decodeEvent(raw)
		if err != nil {
			ev = &ParseError{Err: err, Raw: raw}
		}

		c.events <- ev
	}
}

// ReadEvent returns the next decoded frame, waiting until deadline at most.
// An expired deadline yields an error for which IsTimeout returns true; a
// closed transport yields its terminal read error.
func (c *Conn) ReadEvent(deadline time.Time) (interface{}, error) {
	wait := time.Until(deadline)
	if wait < 0 {
		wait = 0
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case ev, ok := <-c.events:
		if !ok {
			return nil, c.readErr
		}
		return ev, nil

	case <-timer.C:
		return nil, errTimeout{}
	}
}

// WriteEvent sends a frame with the given opcode and payload.
func (c *Conn) WriteEvent(op OpCode, d interface{}) error {
	raw, err := json.Marshal(d)
	if err != nil {
		return err
	}

	c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout)) //nolint:errcheck
	return c.ws.WriteJSON(envelope{Op: op, D: raw})
}

// WriteHeartbeat sends a heartbeat carrying a bare nonce.
func (c *Conn) WriteHeartbeat(nonce uint64) error {
	return c.WriteEvent(OpHeartbeat, nonce)
}

// decodeEvent parses one frame into its typed payload.
func decodeEvent(raw []byte) (interface{}, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, err
	}

	switch env.Op {
	case OpReady:
		var d Ready
		if err := json.Unmarshal(env.D, &d); err != nil {
			return nil, err
		}
		return &d, nil

	case OpSessionDescription:
		var d SessionDescription
		if err := json.Unmarshal(env.D, &d); err != nil {
			return nil, err
		}
		return &d, nil

	case OpSpeaking:
		var d Speaking
		if err := json.Unmarshal(env.D, &d); err != nil {
			return nil, err
		}
		return &d, nil

	case OpHeartbeatAck:
		var nonce uint64
		if err := json.Unmarshal(env.D, &nonce); err != nil {
			return nil, err
		}
		return &HeartbeatAck{Nonce: nonce}, nil

	case OpHello:
		var d Hello
		if err := json.Unmarshal(env.D, &d); err != nil {
			return nil, err
		}
		return &d, nil

	case OpResumed:
		return &Resumed{}, nil

	case OpClientConnect:
		var d ClientConnect
		if err := json.Unmarshal(env.D, &d); err != nil {
			return nil, err
		}
		return &d, nil

	case OpClientDisconnect:
		var d ClientDisconnect
		if err := json.Unmarshal(env.D, &d); err != nil {
			return nil, err
		}
		return &d, nil
	}

	return &Unknown{Op: env.Op, D: env.D}, nil
}
