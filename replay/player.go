// replay/player.go
// Copyright(c) 2025-2026 dronesync contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package replay

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/aerowind/dronesync/client"
	"github.com/aerowind/dronesync/log"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"
	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"
)

// Player is a client.Transport that plays back a recording in place of a
// connection to the backend. Requests written to it are discarded.
type Player struct {
	open  func() (io.ReadCloser, error)
	speed float64
	clock clock.Clock
	lg    *log.Logger
}

// NewPlayer returns a Player that reads the recording returned by open;
// open is called for each dial. Messages are delivered at their recorded
// pace divided by speed; a speed of zero or less delivers them as fast as
// they can be read.
func NewPlayer(open func() (io.ReadCloser, error), speed float64, clk clock.Clock, lg *log.Logger) *Player {
	if clk == nil {
		clk = clock.New()
	}
	return &Player{open: open, speed: speed, clock: clk, lg: lg}
}

func OpenPlayer(path string, speed float64, clk clock.Clock, lg *log.Logger) *Player {
	return NewPlayer(func() (io.ReadCloser, error) { return os.Open(path) }, speed, clk, lg)
}

func (p *Player) Dial(ctx context.Context, url string) (client.Socket, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rc, err := p.open()
	if err != nil {
		return nil, err
	}
	zr, err := zstd.NewReader(rc)
	if err != nil {
		rc.Close()
		return nil, err
	}

	p.lg.Info("replaying recording", slog.Float64("speed", p.speed))
	return &playerSocket{
		rc:      rc,
		zr:      zr,
		dec:     msgpack.NewDecoder(zr),
		speed:   p.speed,
		clock:   p.clock,
		lg:      p.lg,
		started: make(chan struct{}),
		done:    make(chan struct{}),
	}, nil
}

type playerSocket struct {
	speed float64
	clock clock.Clock
	lg    *log.Logger

	// Playback starts with the first request, the way the backend only
	// sends once asked.
	startOnce sync.Once
	started   chan struct{}
	start     time.Time

	done chan struct{}

	mu     sync.Mutex
	rc     io.ReadCloser
	zr     *zstd.Decoder
	dec    *msgpack.Decoder
	closed bool
}

func (s *playerSocket) ReadMessage() ([]byte, error) {
	select {
	case <-s.started:
	case <-s.done:
		return nil, net.ErrClosed
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, net.ErrClosed
	}
	var rec Record
	err := s.dec.Decode(&rec)
	s.mu.Unlock()

	if errors.Is(err, io.EOF) {
		s.lg.Info("end of recording")
		return nil, &websocket.CloseError{Code: websocket.CloseNormalClosure, Text: "end of recording"}
	} else if err != nil {
		return nil, err
	}

	if s.speed > 0 {
		due := s.start.Add(time.Duration(float64(rec.Offset) / s.speed))
		if wait := due.Sub(s.clock.Now()); wait > 0 {
			select {
			case <-s.clock.After(wait):
			case <-s.done:
				return nil, net.ErrClosed
			}
		}
	}
	return rec.Data, nil
}

func (s *playerSocket) WriteMessage(b []byte) error {
	select {
	case <-s.done:
		return net.ErrClosed
	default:
	}

	s.lg.Debug("discarding request during replay", slog.String("request", string(b)))
	s.startOnce.Do(func() {
		s.start = s.clock.Now()
		close(s.started)
	})
	return nil
}

func (s *playerSocket) Close(code int, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	close(s.done)
	s.zr.Close()
	return s.rc.Close()
}
