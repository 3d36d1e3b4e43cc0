// client/client.go
// Copyright(c) 2025-2026 dronesync contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package client

import (
	"log/slog"
	"sync"
	"time"

	"github.com/aerowind/dronesync/log"
	"github.com/aerowind/dronesync/protocol"
	"github.com/aerowind/dronesync/sim"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"
)

// MessageRecorder receives every raw message read from the backend,
// before it is decoded.
type MessageRecorder interface {
	Record(msg []byte) error
}

type Option func(*options)

type options struct {
	transport Transport
	clock     clock.Clock
	recorder  MessageRecorder
	onState   func(StateChange)
}

// WithTransport replaces the websocket transport, e.g. with a replay
// player or a test fake.
func WithTransport(t Transport) Option {
	return func(o *options) { o.transport = t }
}

func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

func WithRecorder(r MessageRecorder) Option {
	return func(o *options) { o.recorder = r }
}

// WithConnectionCallback registers fn to be called after each connection
// state change.
func WithConnectionCallback(fn func(StateChange)) Option {
	return func(o *options) { o.onState = fn }
}

// SimClient is the single entry point for code that displays or drives
// a simulation: it owns the connection to the backend and the local
// simulation state.
type SimClient struct {
	cm       *ConnectionManager
	store    *sim.Store
	clock    clock.Clock
	recorder MessageRecorder
	onState  func(StateChange)
	lg       *log.Logger

	mu        sync.Mutex
	closed    bool
	errMsg    string
	pingSent  time.Time
	roundTrip time.Duration
}

func NewSimClient(config Config, lg *log.Logger, opts ...Option) (*SimClient, error) {
	if err := config.Validate(lg); err != nil {
		return nil, err
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.clock == nil {
		o.clock = clock.New()
	}

	c := &SimClient{
		store:    sim.NewStore(lg),
		clock:    o.clock,
		recorder: o.recorder,
		onState:  o.onState,
		lg:       lg,
	}
	c.cm = NewConnectionManager(config, o.transport, o.clock, lg, c.handleMessage, c.handleStateChange)

	if config.AutoConnect {
		c.cm.Connect()
	}
	return c, nil
}

func (c *SimClient) handleMessage(b []byte) {
	if c.recorder != nil {
		if err := c.recorder.Record(b); err != nil {
			c.lg.Warn("unable to record message", slog.Any("error", err))
		}
	}

	msg, err := protocol.DecodeServerMessage(b)
	if err != nil {
		c.lg.Warn("dropping undecodable message", slog.Any("error", err), slog.Int("length", len(b)))
		return
	}

	switch m := msg.(type) {
	case *protocol.Error:
		c.lg.Warn("server error", slog.String("message", m.Message))
		c.setError(m.Message)

	case *protocol.Pong:
		c.mu.Lock()
		if !c.pingSent.IsZero() {
			c.roundTrip = c.clock.Since(c.pingSent)
			c.pingSent = time.Time{}
		}
		c.mu.Unlock()
	}

	c.store.Apply(msg)
}

func (c *SimClient) handleStateChange(ch StateChange) {
	c.lg.Debug("connection state", slog.Any("change", ch))

	switch {
	case ch.Err != nil:
		c.setError(ch.Err.Error())
	case ch.State == Connected:
		c.setError("")
	}

	if c.onState != nil {
		c.onState(ch)
	}
}

func (c *SimClient) setError(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errMsg = s
}

///////////////////////////////////////////////////////////////////////////
// Connection

func (c *SimClient) Connect() {
	c.cm.Connect()
}

func (c *SimClient) Disconnect() {
	c.cm.Disconnect()
}

// Close disconnects, stops all background work, and drops every
// subscriber. The client cannot be used afterward.
func (c *SimClient) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	err := c.cm.Close()
	c.store.Close()
	if cl, ok := c.recorder.(interface{ Close() error }); ok {
		err = multierr.Append(err, cl.Close())
	}
	return err
}

func (c *SimClient) ConnectionState() ConnectionState {
	return c.cm.State()
}

// Error returns the most recent transport or backend error message; it
// is empty once a connection has been established and no error has been
// reported since.
func (c *SimClient) Error() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errMsg
}

///////////////////////////////////////////////////////////////////////////
// Requests

// send returns ErrClientClosed once Close has been called and otherwise
// writes msg to the connection.
func (c *SimClient) send(msg protocol.ClientMessage) error {
	if c.isClosed() {
		return ErrClientClosed
	}
	return c.cm.Send(msg)
}

func (c *SimClient) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *SimClient) RequestScene() error {
	return c.send(protocol.GetScene{})
}

// RequestWindField asks for the wind field; a positive downsample factor
// is passed to the backend, zero leaves it to the backend's default.
func (c *SimClient) RequestWindField(downsample int) error {
	return c.send(protocol.GetWindField{Downsample: downsampleArg(downsample)})
}

func (c *SimClient) RequestAll(downsample int) error {
	return c.send(protocol.GetAll{Downsample: downsampleArg(downsample)})
}

func downsampleArg(d int) *int {
	if d <= 0 {
		return nil
	}
	return &d
}

func (c *SimClient) Ping() error {
	if c.isClosed() {
		return ErrClientClosed
	}
	c.mu.Lock()
	c.pingSent = c.clock.Now()
	c.mu.Unlock()

	return c.send(protocol.Ping{})
}

// LastRoundTrip returns the latency measured by the most recent answered
// Ping, or zero if none has been answered.
func (c *SimClient) LastRoundTrip() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roundTrip
}

///////////////////////////////////////////////////////////////////////////
// Simulation

// StartSimulation discards the current run and asks the backend to fly
// from start to end. If the scene or the wind field has not been
// received yet, they are requested first.
func (c *SimClient) StartSimulation(start, end protocol.Vec3, rt protocol.RouteType) error {
	if c.isClosed() {
		return ErrClientClosed
	}
	c.setError("")
	if ext, ok := c.SceneBounds(); ok {
		for _, p := range []protocol.Vec3{start, end} {
			if !ext.Extent.Inside(p) {
				c.lg.Warn("route endpoint outside scene bounds", slog.Any("point", p), slog.Any("bounds", ext))
			}
		}
	}
	if c.store.BeginRun() {
		if err := c.send(protocol.GetAll{}); err != nil {
			return err
		}
	}

	c.lg.Info("starting simulation", slog.Any("start", start), slog.Any("end", end),
		slog.String("route_type", string(rt)))
	return c.send(protocol.Start{Start: start, End: end, RouteType: rt})
}

// ResetSimulation discards the current run locally; nothing is sent to
// the backend.
func (c *SimClient) ResetSimulation() {
	c.store.Reset()
}

func (c *SimClient) SetPaused(paused bool) {
	c.store.SetPaused(paused)
}

func (c *SimClient) SetSpeed(speed float64) {
	c.store.SetSpeed(speed)
}

func (c *SimClient) Playback() sim.Playback {
	return c.store.Playback()
}

///////////////////////////////////////////////////////////////////////////
// State

// Subscribe registers fn to receive the two-route frame snapshot for
// every frame applied. fn is called on the connection's read goroutine.
func (c *SimClient) Subscribe(fn func(sim.Frames)) *sim.FrameSubscription {
	return c.store.Subscribe(fn)
}

func (c *SimClient) GetSnapshot() sim.Frames {
	return c.store.Snapshot()
}

func (c *SimClient) State() sim.State {
	return c.store.State()
}

func (c *SimClient) Watch(fn func(sim.State)) *sim.StateWatch {
	return c.store.Watch(fn)
}

// SceneBounds returns the scene's extent; it returns false until the
// scene has been received.
func (c *SimClient) SceneBounds() (SceneExtent, bool) {
	st := c.store.State()
	return sceneBounds(&st)
}
