// client/transport.go
// Copyright(c) 2025-2026 dronesync contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package client

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/multierr"
)

const (
	// CloseNormal is the close code sent by Disconnect and the only code
	// that does not trigger reconnection.
	CloseNormal = websocket.CloseNormalClosure

	defaultWriteTimeout = 5 * time.Second
)

// Socket is a single open, message-oriented connection.
type Socket interface {
	// ReadMessage blocks until the next message arrives. When the
	// connection ends it returns an error; a *websocket.CloseError
	// carries the close code sent by the peer.
	ReadMessage() ([]byte, error)
	// WriteMessage sends one text message. It may be called concurrently
	// with ReadMessage.
	WriteMessage(b []byte) error
	// Close sends a close frame with the given code and reason and
	// releases the connection. It unblocks a pending ReadMessage.
	Close(code int, reason string) error
}

// Transport opens sockets. Dial must return promptly once ctx is
// canceled.
type Transport interface {
	Dial(ctx context.Context, url string) (Socket, error)
}

// CloseCode returns the close code carried by an error returned from
// Socket.ReadMessage. Errors that carry no code, such as a failed dial or
// a dropped TCP connection, are reported as abnormal closures.
func CloseCode(err error) int {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return websocket.CloseAbnormalClosure
}

// WebsocketTransport is the Transport used to talk to the simulation
// backend.
type WebsocketTransport struct {
	Dialer       *websocket.Dialer
	Header       http.Header
	WriteTimeout time.Duration
}

func (t *WebsocketTransport) Dial(ctx context.Context, url string) (Socket, error) {
	d := t.Dialer
	if d == nil {
		d = websocket.DefaultDialer
	}
	conn, _, err := d.DialContext(ctx, url, t.Header)
	if err != nil {
		return nil, err
	}

	wt := t.WriteTimeout
	if wt == 0 {
		wt = defaultWriteTimeout
	}
	return &wsSocket{conn: conn, writeTimeout: wt}, nil
}

type wsSocket struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	// gorilla allows one concurrent writer.
	mu     sync.Mutex
	closed bool
}

func (s *wsSocket) ReadMessage() ([]byte, error) {
	_, b, err := s.conn.ReadMessage()
	return b, err
}

func (s *wsSocket) WriteMessage(b []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrNotConnected
	}
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, b)
}

func (s *wsSocket) Close(code int, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	msg := websocket.FormatCloseMessage(code, reason)
	werr := s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(s.writeTimeout))
	if errors.Is(werr, websocket.ErrCloseSent) {
		werr = nil
	}
	return multierr.Combine(werr, s.conn.Close())
}
