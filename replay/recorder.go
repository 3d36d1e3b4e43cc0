// replay/recorder.go
// Copyright(c) 2025-2026 dronesync contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

// Package replay records the raw messages received from the simulation
// backend and plays them back through a client.Transport, so that a
// session can be examined offline.
//
// A recording is a zstd-compressed stream of msgpack-encoded Records.
package replay

import (
	"errors"
	"io"
	"os"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/multierr"
)

var ErrRecorderClosed = errors.New("Recorder has been closed")

// Record is a single received message and the time at which it arrived,
// relative to the start of the recording.
type Record struct {
	Offset time.Duration `msgpack:"t"`
	Data   []byte        `msgpack:"d"`
}

type Recorder struct {
	mu     sync.Mutex
	clock  clock.Clock
	start  time.Time
	zw     *zstd.Encoder
	enc    *msgpack.Encoder
	file   io.Closer
	count  int
	closed bool
}

// NewRecorder returns a Recorder that writes to w. Close must be called
// to flush the compressed stream; it does not close w.
func NewRecorder(w io.Writer, clk clock.Clock) (*Recorder, error) {
	if clk == nil {
		clk = clock.New()
	}
	zw, err := zstd.NewWriter(w, zstd.WithEncoderConcurrency(1))
	if err != nil {
		return nil, err
	}
	return &Recorder{
		clock: clk,
		start: clk.Now(),
		zw:    zw,
		enc:   msgpack.NewEncoder(zw),
	}, nil
}

// Create returns a Recorder that writes to a new file at path; Close
// closes the file.
func Create(path string, clk clock.Clock) (*Recorder, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	r, err := NewRecorder(f, clk)
	if err != nil {
		f.Close()
		return nil, err
	}
	r.file = f
	return r, nil
}

func (r *Recorder) Record(msg []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrRecorderClosed
	}
	if err := r.enc.Encode(Record{Offset: r.clock.Since(r.start), Data: msg}); err != nil {
		return err
	}
	r.count++
	return nil
}

// Count returns the number of messages recorded so far.
func (r *Recorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	err := r.zw.Close()
	if r.file != nil {
		err = multierr.Append(err, r.file.Close())
	}
	return err
}

// Load decodes all of the records in a recording.
func Load(rd io.Reader) ([]Record, error) {
	zr, err := zstd.NewReader(rd)
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	var recs []Record
	dec := msgpack.NewDecoder(zr)
	for {
		var rec Record
		if err := dec.Decode(&rec); errors.Is(err, io.EOF) {
			return recs, nil
		} else if err != nil {
			return recs, err
		}
		recs = append(recs, rec)
	}
}
