// client/connectmgr.go
// Copyright(c) 2025-2026 dronesync contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package client

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/aerowind/dronesync/log"
	"github.com/aerowind/dronesync/protocol"

	"github.com/benbjohnson/clock"
)

type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
	ConnectionError
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case ConnectionError:
		return "error"
	default:
		return fmt.Sprintf("ConnectionState(%d)", int(s))
	}
}

// StateChange is passed to the connection manager's state callback. Err
// is set when the change was caused by a transport failure.
type StateChange struct {
	State ConnectionState
	Err   error
}

func (ch StateChange) LogValue() slog.Value {
	if ch.Err == nil {
		return slog.StringValue(ch.State.String())
	}
	return slog.GroupValue(
		slog.String("state", ch.State.String()),
		slog.String("error", ch.Err.Error()))
}

// session is one connection attempt and, if the dial succeeds, the socket
// it produced. Callbacks from a session that is no longer the manager's
// current session are ignored.
type session struct {
	id     uint64
	cancel context.CancelFunc
	sock   Socket // guarded by ConnectionManager.mu
}

// ConnectionManager maintains the websocket connection to the backend: it
// dials on request, retries a bounded number of times after abnormal
// closes, and runs a supervisor that periodically reconnects if the
// connection has been lost.
type ConnectionManager struct {
	config    Config
	transport Transport
	clock     clock.Clock
	lg        *log.Logger

	onMessage     func([]byte)
	onStateChange func(StateChange)

	mu          sync.Mutex
	sess        *session
	nextID      uint64
	state       ConnectionState
	lastErr     error
	attempts    int
	retry       *clock.Timer
	retryGen    uint64
	stopMonitor chan struct{}
	closed      bool

	// State changes are queued and delivered in order by a single
	// goroutine so that callbacks may call back into the manager.
	pending []StateChange
	wake    chan struct{}
	done    chan struct{}

	wg sync.WaitGroup
}

// NewConnectionManager returns a manager in the disconnected state. Each
// received message is passed to onMessage on the connection's read
// goroutine; onStateChange is called from a separate goroutine. Either
// may be nil.
func NewConnectionManager(config Config, transport Transport, clk clock.Clock, lg *log.Logger,
	onMessage func([]byte), onStateChange func(StateChange)) *ConnectionManager {
	if transport == nil {
		transport = &WebsocketTransport{}
	}
	if clk == nil {
		clk = clock.New()
	}
	cm := &ConnectionManager{
		config:        config,
		transport:     transport,
		clock:         clk,
		lg:            lg.With(slog.String("url", config.URL)),
		onMessage:     onMessage,
		onStateChange: onStateChange,
		wake:          make(chan struct{}, 1),
		done:          make(chan struct{}),
	}

	cm.wg.Add(1)
	go cm.dispatchStateChanges()

	return cm
}

func (cm *ConnectionManager) State() ConnectionState {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return cm.state
}

// LastError returns the error that caused the most recent transition to
// the error state. It is cleared by a successful connection.
func (cm *ConnectionManager) LastError() error {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return cm.lastErr
}

// ReconnectAttempts returns the number of retries scheduled since the
// last successful connection.
func (cm *ConnectionManager) ReconnectAttempts() int {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return cm.attempts
}

// Connect starts a connection attempt unless one is already in progress
// or open. It returns immediately; the dial runs asynchronously.
func (cm *ConnectionManager) Connect() {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	cm.connectLocked()
}

// retryConnect runs from the reconnect timer. A timer that fired while
// Disconnect or another Connect held the lock finds its generation
// superseded and does nothing.
func (cm *ConnectionManager) retryConnect(gen uint64) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if gen != cm.retryGen || cm.retry == nil {
		return
	}
	cm.retry = nil
	cm.connectLocked()
}

func (cm *ConnectionManager) connectLocked() {
	if cm.closed {
		return
	}
	cm.startMonitorLocked()
	if cm.sess != nil {
		return
	}
	cm.stopRetryLocked()

	ctx, cancel := cm.clock.WithTimeout(context.Background(), cm.config.dialTimeout())
	cm.nextID++
	s := &session{id: cm.nextID, cancel: cancel}
	cm.sess = s
	cm.setStateLocked(Connecting, nil)

	cm.lg.Debug("connecting", slog.Uint64("session", s.id))

	cm.wg.Add(1)
	go cm.run(ctx, s)
}

func (cm *ConnectionManager) run(ctx context.Context, s *session) {
	defer cm.wg.Done()
	defer cm.lg.CatchAndReportCrash()

	sock, err := cm.transport.Dial(ctx, cm.config.URL)
	s.cancel()
	if err != nil {
		cm.handleClose(s, fmt.Errorf("%s: %w", cm.config.URL, err))
		return
	}

	cm.mu.Lock()
	if cm.sess != s {
		cm.mu.Unlock()
		cm.lg.Debug("closing superseded connection", slog.Uint64("session", s.id))
		if err := sock.Close(CloseNormal, "superseded"); err != nil {
			cm.lg.Debug("close superseded connection", slog.Any("error", err))
		}
		return
	}
	s.sock = sock
	cm.attempts = 0
	cm.lastErr = nil
	cm.stopRetryLocked()
	cm.setStateLocked(Connected, nil)
	cm.mu.Unlock()

	cm.lg.Info("connected", slog.Uint64("session", s.id))

	for {
		b, err := sock.ReadMessage()
		if err != nil {
			cm.handleClose(s, err)
			return
		}

		cm.mu.Lock()
		current := cm.sess == s
		cm.mu.Unlock()
		if !current {
			return
		}
		if cm.onMessage != nil {
			cm.onMessage(b)
		}
	}
}

// handleClose handles the end of session s, whether its dial failed or an
// open connection was closed.
func (cm *ConnectionManager) handleClose(s *session, err error) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.sess != s {
		cm.lg.Debug("ignoring close of stale connection", slog.Uint64("session", s.id),
			slog.Any("error", err))
		return
	}
	cm.sess = nil

	if code := CloseCode(err); code == CloseNormal {
		cm.lg.Info("server closed connection", slog.Uint64("session", s.id))
		cm.setStateLocked(Disconnected, nil)
		return
	}

	cm.lg.Warn("connection lost", slog.Uint64("session", s.id), slog.Any("error", err))
	cm.setStateLocked(ConnectionError, fmt.Errorf("%w: %w", ErrConnectionClosed, err))

	if cm.closed {
		return
	}
	if cm.attempts < cm.config.MaxReconnectAttempts {
		cm.attempts++
		cm.lg.Info("scheduling reconnect", slog.Int("attempt", cm.attempts),
			slog.Duration("delay", cm.config.ReconnectInterval))
		cm.stopRetryLocked()
		gen := cm.retryGen
		cm.retry = cm.clock.AfterFunc(cm.config.ReconnectInterval, func() { cm.retryConnect(gen) })
	} else {
		cm.lg.Warnf("giving up after %d reconnect attempts", cm.attempts)
	}
}

// Send encodes msg and writes it to the open connection. It returns
// ErrNotConnected if there is none; messages are never queued.
func (cm *ConnectionManager) Send(msg protocol.ClientMessage) error {
	b, err := protocol.EncodeClientMessage(msg)
	if err != nil {
		return err
	}

	cm.mu.Lock()
	var sock Socket
	if cm.sess != nil {
		sock = cm.sess.sock
	}
	cm.mu.Unlock()

	if sock == nil {
		cm.lg.Warn("dropping message while not connected", slog.String("type", string(msg.MessageType())))
		return ErrNotConnected
	}
	if err := sock.WriteMessage(b); err != nil {
		cm.lg.Warn("send failed", slog.String("type", string(msg.MessageType())), slog.Any("error", err))
		return fmt.Errorf("%s: %w", msg.MessageType(), err)
	}
	return nil
}

// Disconnect closes the connection with a normal closure, cancels any
// in-flight dial or pending retry, and stops the health supervisor.
func (cm *ConnectionManager) Disconnect() {
	if err := cm.disconnect(); err != nil {
		cm.lg.Warn("disconnect", slog.Any("error", err))
	}
}

func (cm *ConnectionManager) disconnect() error {
	cm.mu.Lock()
	s, sock := cm.disconnectLocked()
	cm.mu.Unlock()

	return cm.closeSession(s, sock)
}

// disconnectLocked detaches the current session and returns it for
// closing once the lock is released.
func (cm *ConnectionManager) disconnectLocked() (*session, Socket) {
	cm.stopRetryLocked()
	cm.stopMonitorLocked()
	cm.attempts = 0

	s := cm.sess
	cm.sess = nil
	var sock Socket
	if s != nil {
		sock = s.sock
	}
	if cm.state != Disconnected {
		cm.setStateLocked(Disconnected, nil)
	}
	return s, sock
}

func (cm *ConnectionManager) closeSession(s *session, sock Socket) error {
	if s == nil {
		return nil
	}
	s.cancel()
	if sock != nil {
		cm.lg.Info("disconnecting", slog.Uint64("session", s.id))
		return sock.Close(CloseNormal, "client disconnect")
	}
	return nil
}

// Close disconnects and waits for all of the manager's goroutines to
// exit. The manager cannot be reused afterward.
func (cm *ConnectionManager) Close() error {
	cm.mu.Lock()
	if cm.closed {
		cm.mu.Unlock()
		return nil
	}
	cm.closed = true
	cm.mu.Unlock()

	err := cm.disconnect()
	close(cm.done)
	cm.wg.Wait()
	return err
}

func (cm *ConnectionManager) setStateLocked(st ConnectionState, err error) {
	cm.state = st
	if err != nil {
		cm.lastErr = err
	}
	cm.pending = append(cm.pending, StateChange{State: st, Err: err})
	select {
	case cm.wake <- struct{}{}:
	default:
	}
}

func (cm *ConnectionManager) dispatchStateChanges() {
	defer cm.wg.Done()

	deliver := func() {
		cm.mu.Lock()
		q := cm.pending
		cm.pending = nil
		cm.mu.Unlock()

		for _, ch := range q {
			if cm.onStateChange != nil {
				cm.onStateChange(ch)
			}
		}
	}

	for {
		select {
		case <-cm.wake:
			deliver()
		case <-cm.done:
			deliver()
			return
		}
	}
}

func (cm *ConnectionManager) stopRetryLocked() {
	cm.retryGen++
	if cm.retry != nil {
		cm.retry.Stop()
		cm.retry = nil
	}
}

///////////////////////////////////////////////////////////////////////////
// Health supervisor

func (cm *ConnectionManager) startMonitorLocked() {
	interval := cm.config.healthCheckInterval()
	if cm.stopMonitor != nil || interval <= 0 {
		return
	}
	cm.stopMonitor = make(chan struct{})
	ticker := cm.clock.Ticker(interval)

	cm.wg.Add(1)
	go cm.monitor(ticker, cm.stopMonitor)
}

func (cm *ConnectionManager) stopMonitorLocked() {
	if cm.stopMonitor != nil {
		close(cm.stopMonitor)
		cm.stopMonitor = nil
	}
}

func (cm *ConnectionManager) monitor(ticker *clock.Ticker, stop <-chan struct{}) {
	defer cm.wg.Done()
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cm.checkHealth()
		case <-stop:
			return
		}
	}
}

func (cm *ConnectionManager) checkHealth() {
	cm.mu.Lock()
	if cm.closed || cm.sess != nil {
		cm.mu.Unlock()
		return
	}
	cm.attempts = 0
	cm.mu.Unlock()

	cm.lg.Info("health check: not connected; reconnecting")
	cm.Connect()
}
