// sim/state.go
// Copyright(c) 2025-2026 dronesync contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package sim

import (
	"log/slog"

	"github.com/aerowind/dronesync/protocol"

	"github.com/brunoga/deep"
)

const (
	// Every SpeedSampleInterval-th applied frame of a route adds a sample
	// to that route's speed history.
	SpeedSampleInterval = 5
	// Every CoalesceInterval-th applied frame of a route is copied into
	// the published State.
	CoalesceInterval = 10
	// MaxSpeedSamples bounds each route's speed history; the oldest
	// samples are discarded first.
	MaxSpeedSamples = 500
)

// Phase is the single run state shared by both routes.
type Phase string

const (
	PhaseIdle          Phase = "idle"
	PhaseLoading       Phase = "loading"
	PhasePathsReceived Phase = "paths_received"
	PhaseSimulating    Phase = "simulating"
	PhaseComplete      Phase = "complete"
)

// RoutePair holds one value per route.
type RoutePair[T any] struct {
	Naive     T `json:"naive"`
	Optimized T `json:"optimized"`
}

func (p *RoutePair[T]) Get(r protocol.RouteID) T {
	if r == protocol.OptimizedRoute {
		return p.Optimized
	}
	return p.Naive
}

func (p *RoutePair[T]) Set(r protocol.RouteID, v T) {
	if r == protocol.OptimizedRoute {
		p.Optimized = v
	} else {
		p.Naive = v
	}
}

// Frames is the current frame of each route; a nil entry means no frame
// has arrived for that route in the current run. The FrameData values are
// shared between snapshots and must be treated as read-only.
type Frames = RoutePair[*protocol.FrameData]

// SpeedSample is a (time, groundspeed, airspeed) triple taken from a
// subset of a route's frames.
type SpeedSample struct {
	Time        float64 `json:"time"`
	Groundspeed float64 `json:"groundspeed"`
	Airspeed    float64 `json:"airspeed"`
}

func makeSpeedSample(f *protocol.FrameData) SpeedSample {
	return SpeedSample{Time: f.Time, Groundspeed: f.Groundspeed, Airspeed: f.Airspeed}
}

// State is the low-frequency, externally observable view of the
// simulation. Values returned by Store.State are copies, except that the
// static Scene, WindField, and Paths data is shared and must not be
// modified.
type State struct {
	Phase Phase

	Scene     *protocol.SceneData
	WindField *protocol.WindFieldData
	Paths     *protocol.PathsData

	// Frames is the coalesced frame snapshot; it is updated every
	// CoalesceInterval frames and when a route's simulation ends.
	Frames Frames

	Metrics      RoutePair[*protocol.RouteMetrics]
	Summaries    RoutePair[*protocol.FlightSummary]
	SpeedHistory RoutePair[[]SpeedSample]

	Playback Playback

	// Error is the most recent error message reported by the backend
	// during this run.
	Error string

	// Revision is incremented each time the state is published.
	Revision uint64
}

// HaveStaticData reports whether both the scene and the wind field have
// been received.
func (s *State) HaveStaticData() bool {
	return s.Scene != nil && s.WindField != nil
}

func (s *State) clone() State {
	c := *s
	c.Frames = deep.MustCopy(s.Frames)
	c.Metrics = deep.MustCopy(s.Metrics)
	c.Summaries = deep.MustCopy(s.Summaries)
	c.SpeedHistory = deep.MustCopy(s.SpeedHistory)
	return c
}

func (s State) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("phase", string(s.Phase)),
		slog.Bool("scene", s.Scene != nil),
		slog.Bool("wind_field", s.WindField != nil),
		slog.Bool("paths", s.Paths != nil),
		slog.Int("naive_speed_samples", len(s.SpeedHistory.Naive)),
		slog.Int("optimized_speed_samples", len(s.SpeedHistory.Optimized)),
		slog.Bool("paused", s.Playback.Paused),
		slog.String("error", s.Error),
		slog.Uint64("revision", s.Revision))
}
