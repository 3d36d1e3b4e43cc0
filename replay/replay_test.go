// replay/replay_test.go
// Copyright(c) 2025-2026 dronesync contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package replay

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/aerowind/dronesync/client"
	"github.com/aerowind/dronesync/sim"

	"github.com/benbjohnson/clock"
	"github.com/google/go-cmp/cmp"
	"github.com/gorilla/websocket"
)

func record(t *testing.T, msgs []string, gaps []time.Duration) []byte {
	t.Helper()

	mock := clock.NewMock()
	var buf bytes.Buffer
	r, err := NewRecorder(&buf, mock)
	if err != nil {
		t.Fatal(err)
	}
	for i, m := range msgs {
		if i < len(gaps) {
			mock.Add(gaps[i])
		}
		if err := r.Record([]byte(m)); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	if r.Count() != len(msgs) {
		t.Errorf("expected %d records, got %d", len(msgs), r.Count())
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := r.Record([]byte("late")); !errors.Is(err, ErrRecorderClosed) {
		t.Errorf("expected ErrRecorderClosed, got %v", err)
	}
	return buf.Bytes()
}

func opener(b []byte) func() (io.ReadCloser, error) {
	return func() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader(b)), nil }
}

func TestRecordAndLoad(t *testing.T) {
	b := record(t, []string{"a", "b", "c"}, []time.Duration{0, time.Second, 1500 * time.Millisecond})

	recs, err := Load(bytes.NewReader(b))
	if err != nil {
		t.Fatal(err)
	}
	want := []Record{
		{Offset: 0, Data: []byte("a")},
		{Offset: time.Second, Data: []byte("b")},
		{Offset: 2500 * time.Millisecond, Data: []byte("c")},
	}
	if diff := cmp.Diff(want, recs); diff != "" {
		t.Errorf("records mismatch (-want +got):\n%s", diff)
	}
}

func TestCreate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.msgpack.zst")
	r, err := Create(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Record([]byte(`{"type":"pong"}`)); err != nil {
		t.Fatal(err)
	}
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}

	sock, err := OpenPlayer(path, 0, nil, nil).Dial(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	defer sock.Close(websocket.CloseNormalClosure, "")

	if err := sock.WriteMessage([]byte(`{"type":"ping"}`)); err != nil {
		t.Fatal(err)
	}
	if b, err := sock.ReadMessage(); err != nil || string(b) != `{"type":"pong"}` {
		t.Errorf("got %q, %v", b, err)
	}
}

func TestPlayerReadsToEnd(t *testing.T) {
	b := record(t, []string{"one", "two"}, nil)
	sock, err := NewPlayer(opener(b), 0, nil, nil).Dial(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}

	sock.WriteMessage([]byte(`{"type":"get_all"}`))
	for _, want := range []string{"one", "two"} {
		if got, err := sock.ReadMessage(); err != nil || string(got) != want {
			t.Errorf("expected %q, got %q, %v", want, got, err)
		}
	}
	_, err = sock.ReadMessage()
	if code := client.CloseCode(err); code != websocket.CloseNormalClosure {
		t.Errorf("expected normal close at end of recording, got %d (%v)", code, err)
	}

	if err := sock.Close(websocket.CloseNormalClosure, ""); err != nil {
		t.Errorf("Close: %v", err)
	}
	if _, err := sock.ReadMessage(); err == nil {
		t.Errorf("expected error reading closed socket")
	}
}

func TestPlayerWaitsForRequest(t *testing.T) {
	b := record(t, []string{"one"}, nil)
	sock, err := NewPlayer(opener(b), 0, nil, nil).Dial(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}

	read := make(chan error, 1)
	go func() {
		_, err := sock.ReadMessage()
		read <- err
	}()

	select {
	case <-read:
		t.Fatal("playback started before any request")
	case <-time.After(20 * time.Millisecond):
	}

	sock.Close(websocket.CloseNormalClosure, "")
	select {
	case err := <-read:
		if err == nil {
			t.Errorf("expected error after Close")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not unblock ReadMessage")
	}
}

func TestPlayerPacing(t *testing.T) {
	b := record(t, []string{"one", "two"}, []time.Duration{0, 2 * time.Second})

	mock := clock.NewMock()
	sock, err := NewPlayer(opener(b), 2, mock, nil).Dial(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	defer sock.Close(websocket.CloseNormalClosure, "")

	start := mock.Now()
	sock.WriteMessage([]byte(`{"type":"get_all"}`))
	if got, err := sock.ReadMessage(); err != nil || string(got) != "one" {
		t.Fatalf("got %q, %v", got, err)
	}

	read := make(chan []byte, 1)
	go func() {
		b, _ := sock.ReadMessage()
		read <- b
	}()

	for i := 0; i < 50; i++ {
		select {
		case got := <-read:
			if string(got) != "two" {
				t.Errorf("got %q", got)
			}
			// Recorded 2s apart, played at double speed.
			if elapsed := mock.Now().Sub(start); elapsed < time.Second {
				t.Errorf("second message delivered after only %s", elapsed)
			}
			return
		default:
		}
		mock.Add(100 * time.Millisecond)
		time.Sleep(time.Millisecond)
	}
	t.Fatal("second message never delivered")
}

func TestReplayThroughClient(t *testing.T) {
	msgs := []string{
		`{"type":"full_scene","scene":{"bounds":{"min":[0,0,0],"max":[100,100,40]}},"wind_field":{"bounds":{"min":[0,0,0],"max":[100,100,40]},"resolution":5,"points":[],"vectors":[]}}`,
		`{"type":"paths","data":{"naive":[[0,0,10],[90,90,10]],"optimized":[[0,0,10],[90,90,10]]}}`,
		`{"type":"simulation_start","route":"optimized"}`,
	}
	for i := 1; i <= 20; i++ {
		msgs = append(msgs, fmt.Sprintf(`{"type":"frame","route":"optimized","data":{"time":%d,"groundspeed":10}}`, i))
	}
	msgs = append(msgs,
		`{"type":"simulation_end","route":"optimized","metrics":{"total_distance":127},"flight_summary":{"completed":true}}`,
		`{"type":"complete","metrics":{}}`)
	b := record(t, msgs, nil)

	config := client.DefaultConfig()
	config.MaxReconnectAttempts = 0
	config.HealthCheckInterval = -1

	connected := make(chan struct{}, 1)
	c, err := client.NewSimClient(config, nil,
		client.WithTransport(NewPlayer(opener(b), 0, nil, nil)),
		client.WithConnectionCallback(func(ch client.StateChange) {
			if ch.State == client.Connected {
				connected <- struct{}{}
			}
		}))
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	done := make(chan sim.State, 1)
	c.Watch(func(st sim.State) {
		if st.Phase == sim.PhaseComplete {
			select {
			case done <- st:
			default:
			}
		}
	})

	select {
	case <-connected:
	case <-time.After(5 * time.Second):
		t.Fatal("never connected")
	}
	if err := c.StartSimulation([3]float64{0, 0, 10}, [3]float64{90, 90, 10}, "optimized"); err != nil {
		t.Fatal(err)
	}

	select {
	case st := <-done:
		if st.Frames.Optimized == nil || st.Frames.Optimized.Time != 20 {
			t.Errorf("unexpected final frame %+v", st.Frames.Optimized)
		}
		if st.Metrics.Optimized == nil || st.Metrics.Optimized.TotalDistance != 127 {
			t.Errorf("unexpected metrics %+v", st.Metrics.Optimized)
		}
		if n := len(st.SpeedHistory.Optimized); n != 4 {
			t.Errorf("expected 4 speed samples, got %d", n)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("replayed run never completed")
	}
}
