// sim/playback.go
// Copyright(c) 2025-2026 dronesync contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package sim

import (
	"log/slog"

	"github.com/aerowind/dronesync/math"
)

const (
	MinPlaybackSpeed = 0.1
	MaxPlaybackSpeed = 10
)

// Playback holds the local pause and speed controls. They are never sent
// to the backend. While Paused, arriving frames are discarded rather than
// applied; Speed is only a hint for presentation timing.
type Playback struct {
	Paused bool    `json:"paused"`
	Speed  float64 `json:"speed"`
}

func DefaultPlayback() Playback {
	return Playback{Speed: 1}
}

// SetPaused sets the pause flag; it is checked as each frame message is
// handled, so it applies to the very next frame to arrive.
func (s *Store) SetPaused(paused bool) {
	s.mu.Lock()
	if s.state.Playback.Paused == paused {
		s.mu.Unlock()
		return
	}
	s.state.Playback.Paused = paused
	st := s.publishLocked()
	s.mu.Unlock()

	s.lg.Info("playback", slog.Bool("paused", paused))
	s.watchers.post(st)
}

// SetSpeed sets the playback speed, clamped to [MinPlaybackSpeed,
// MaxPlaybackSpeed]. Non-positive and non-finite speeds are ignored.
func (s *Store) SetSpeed(speed float64) {
	if !math.IsFinite(speed) || speed <= 0 {
		s.lg.Warnf("%f: ignoring invalid playback speed", speed)
		return
	}
	speed = math.Clamp(speed, MinPlaybackSpeed, MaxPlaybackSpeed)

	s.mu.Lock()
	if s.state.Playback.Speed == speed {
		s.mu.Unlock()
		return
	}
	s.state.Playback.Speed = speed
	st := s.publishLocked()
	s.mu.Unlock()

	s.watchers.post(st)
}

func (s *Store) Playback() Playback {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Playback
}
