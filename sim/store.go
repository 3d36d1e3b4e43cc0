// sim/store.go
// Copyright(c) 2025-2026 dronesync contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package sim

import (
	"log/slog"
	"sync"

	"github.com/aerowind/dronesync/log"
	"github.com/aerowind/dronesync/protocol"
	"github.com/aerowind/dronesync/util"

	"github.com/brunoga/deep"
)

// Store is the client-side copy of the simulation. It is updated by
// applying decoded server messages and offers two ways to consume it:
// State returns the low-frequency published view (also pushed to
// watchers), while Snapshot and Subscribe give access to every frame as
// it arrives.
type Store struct {
	mu sync.Mutex

	// state is the published view, minus the speed history, which is
	// read from the ring buffers whenever the state is copied out.
	state State

	// live holds the most recent frame of each route. Only Apply writes
	// it.
	live     Frames
	arrivals [len(protocol.Routes)]int
	speeds   [len(protocol.Routes)]*util.RingBuffer[SpeedSample]

	frames   *stream[Frames]
	watchers *stream[State]

	lg *log.Logger
}

func NewStore(lg *log.Logger) *Store {
	s := &Store{
		state:    State{Phase: PhaseIdle, Playback: DefaultPlayback()},
		frames:   newStream[Frames](lg),
		watchers: newStream[State](lg),
		lg:       lg,
	}
	for i := range s.speeds {
		s.speeds[i] = util.NewRingBuffer[SpeedSample](MaxSpeedSamples)
	}
	return s
}

// State returns a copy of the published state.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copyStateLocked()
}

// Snapshot returns the live frames of both routes, including frames that
// have not yet been published to State.
func (s *Store) Snapshot() Frames {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deep.MustCopy(s.live)
}

// Subscribe registers fn to be called with the live two-route snapshot
// each time a frame is applied. fn runs on the goroutine that applied the
// frame and must not block for long.
func (s *Store) Subscribe(fn func(Frames)) *FrameSubscription {
	return s.frames.subscribe(fn, 1)
}

// Watch registers fn to be called with a copy of the state each time it
// is published.
func (s *Store) Watch(fn func(State)) *StateWatch {
	return s.watchers.subscribe(fn, 1)
}

// Close drops all subscribers and watchers.
func (s *Store) Close() {
	s.frames.clear()
	s.watchers.clear()
}

func (s *Store) copyStateLocked() State {
	st := s.state.clone()
	st.SpeedHistory = RoutePair[[]SpeedSample]{
		Naive:     s.speeds[protocol.NaiveRoute.Index()].Slice(),
		Optimized: s.speeds[protocol.OptimizedRoute.Index()].Slice(),
	}
	return st
}

func (s *Store) publishLocked() State {
	s.state.Revision++
	return s.copyStateLocked()
}

// BeginRun clears everything from the previous run and moves to the
// loading phase. It returns true if the scene or the wind field has not
// been received yet, in which case the caller should request them before
// starting the run.
func (s *Store) BeginRun() (needStatic bool) {
	s.mu.Lock()
	s.resetRunLocked()
	s.state.Phase = PhaseLoading
	needStatic = !s.state.HaveStaticData()
	st := s.publishLocked()
	s.mu.Unlock()

	s.lg.Info("beginning run", slog.Bool("need_static", needStatic))
	s.watchers.post(st)
	return
}

// Reset clears everything from the current run and returns to the idle
// phase. Static scene and wind data are kept.
func (s *Store) Reset() {
	s.mu.Lock()
	s.resetRunLocked()
	s.state.Phase = PhaseIdle
	st := s.publishLocked()
	s.mu.Unlock()

	s.lg.Info("reset run")
	s.watchers.post(st)
}

func (s *Store) resetRunLocked() {
	s.state.Paths = nil
	s.state.Frames = Frames{}
	s.state.Metrics = RoutePair[*protocol.RouteMetrics]{}
	s.state.Summaries = RoutePair[*protocol.FlightSummary]{}
	s.state.Error = ""

	s.live = Frames{}
	for i := range s.arrivals {
		s.arrivals[i] = 0
		s.speeds[i].Clear()
	}
}

// Apply updates the store with a message from the backend. Frame
// subscribers and state watchers are notified before Apply returns, after
// the store's lock has been released.
func (s *Store) Apply(msg protocol.ServerMessage) {
	var live *Frames
	var published *State

	s.mu.Lock()

	publish := true
	switch m := msg.(type) {
	case *protocol.Scene:
		s.state.Scene = &m.Data

	case *protocol.WindField:
		s.state.WindField = &m.Data

	case *protocol.FullScene:
		s.state.Scene = &m.Scene
		s.state.WindField = &m.WindField

	case *protocol.Paths:
		s.state.Paths = &m.Data
		s.state.Phase = PhasePathsReceived

	case *protocol.SimulationStart:
		s.lg.Debug("simulation started", slog.String("route", string(m.Route)))
		s.state.Phase = PhaseSimulating

	case *protocol.Frame:
		publish = false
		if s.applyFrameLocked(m, &publish) {
			f := deep.MustCopy(s.live)
			live = &f
		}

	case *protocol.SimulationEnd:
		metrics, summary := m.Metrics, m.FlightSummary
		s.state.Metrics.Set(m.Route, &metrics)
		s.state.Summaries.Set(m.Route, &summary)
		// Flush so that the route's final frame is never lost between
		// coalesced updates.
		s.state.Frames = deep.MustCopy(s.live)

	case *protocol.Complete:
		s.state.Phase = PhaseComplete
		if m.Metrics.Naive != nil {
			s.state.Metrics.Naive = m.Metrics.Naive
		}
		if m.Metrics.Optimized != nil {
			s.state.Metrics.Optimized = m.Metrics.Optimized
		}

	case *protocol.Error:
		s.state.Error = m.Message

	case *protocol.Pong:
		publish = false

	default:
		s.lg.Warnf("%T: unhandled message type", msg)
		publish = false
	}

	if publish {
		st := s.publishLocked()
		published = &st
	}

	s.mu.Unlock()

	if live != nil {
		s.frames.post(*live)
	}
	if published != nil {
		s.watchers.post(*published)
	}
}

// applyFrameLocked applies a single frame and returns true if it was
// applied; publish is set if the coalesced frames in the published state
// were updated.
func (s *Store) applyFrameLocked(m *protocol.Frame, publish *bool) bool {
	if s.state.Playback.Paused {
		return false
	}
	idx := m.Route.Index()
	if idx < 0 {
		s.lg.Warn("dropping frame for unknown route", slog.String("route", string(m.Route)))
		return false
	}

	f := m.Data
	s.live.Set(m.Route, &f)

	s.arrivals[idx]++
	n := s.arrivals[idx]
	if n%SpeedSampleInterval == 0 {
		s.speeds[idx].Add(makeSpeedSample(&f))
	}
	if n%CoalesceInterval == 0 {
		s.state.Frames = deep.MustCopy(s.live)
		*publish = true
	}
	return true
}

// Arrivals returns the number of frames applied to the given route in the
// current run.
func (s *Store) Arrivals(r protocol.RouteID) int {
	idx := r.Index()
	if idx < 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.arrivals[idx]
}
