// sim/store_test.go
// Copyright(c) 2025-2026 dronesync contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package sim

import (
	"testing"

	"github.com/aerowind/dronesync/protocol"
)

func makeFrame(route protocol.RouteID, n int) *protocol.Frame {
	return &protocol.Frame{
		Route: route,
		Data: protocol.FrameData{
			Time:        float64(n),
			Position:    protocol.Vec3{float64(n), 0, 100},
			Groundspeed: 10 + float64(n),
			Airspeed:    20 + float64(n),
		},
	}
}

// simulatingStore returns a Store with a run in progress.
func simulatingStore(t *testing.T) *Store {
	t.Helper()

	s := NewStore(nil)
	s.Apply(&protocol.FullScene{})
	if s.BeginRun() {
		t.Fatalf("static data should already be present")
	}
	s.Apply(&protocol.Paths{Data: protocol.PathsData{
		Naive:     []protocol.Vec3{{0, 0, 0}, {100, 0, 0}},
		Optimized: []protocol.Vec3{{0, 0, 0}, {50, 50, 0}, {100, 0, 0}},
	}})
	s.Apply(&protocol.SimulationStart{Route: protocol.NaiveRoute})
	s.Apply(&protocol.SimulationStart{Route: protocol.OptimizedRoute})

	if p := s.State().Phase; p != PhaseSimulating {
		t.Fatalf("phase %q, expected %q", p, PhaseSimulating)
	}
	return s
}

func TestPhaseTransitions(t *testing.T) {
	s := NewStore(nil)
	if p := s.State().Phase; p != PhaseIdle {
		t.Errorf("initial phase %q", p)
	}

	if !s.BeginRun() {
		t.Errorf("BeginRun should report missing static data")
	}
	if p := s.State().Phase; p != PhaseLoading {
		t.Errorf("phase after BeginRun %q", p)
	}

	s.Apply(&protocol.Paths{})
	if p := s.State().Phase; p != PhasePathsReceived {
		t.Errorf("phase after paths %q", p)
	}

	s.Apply(&protocol.SimulationStart{Route: protocol.NaiveRoute})
	if p := s.State().Phase; p != PhaseSimulating {
		t.Errorf("phase after simulation_start %q", p)
	}

	s.Apply(&protocol.Error{Message: "turbulence model diverged"})
	st := s.State()
	if st.Phase != PhaseSimulating {
		t.Errorf("error message changed phase to %q", st.Phase)
	}
	if st.Error != "turbulence model diverged" {
		t.Errorf("error %q", st.Error)
	}

	s.Apply(&protocol.Complete{})
	if p := s.State().Phase; p != PhaseComplete {
		t.Errorf("phase after complete %q", p)
	}

	s.Reset()
	if p := s.State().Phase; p != PhaseIdle {
		t.Errorf("phase after reset %q", p)
	}
}

func TestStaticData(t *testing.T) {
	s := NewStore(nil)
	scene := protocol.SceneData{Bounds: protocol.Bounds{Max: protocol.Vec3{10, 10, 10}}}
	s.Apply(&protocol.Scene{Data: scene})
	if st := s.State(); st.Scene == nil || st.Scene.Bounds.Max != scene.Bounds.Max || st.HaveStaticData() {
		t.Errorf("unexpected state after scene: %+v", st)
	}

	s.Apply(&protocol.WindField{Data: protocol.WindFieldData{Resolution: 5}})
	if st := s.State(); st.WindField == nil || st.WindField.Resolution != 5 || !st.HaveStaticData() {
		t.Errorf("unexpected state after wind field: %+v", st)
	}

	// Overwrites are idempotent replacements.
	s.Apply(&protocol.WindField{Data: protocol.WindFieldData{Resolution: 10}})
	if r := s.State().WindField.Resolution; r != 10 {
		t.Errorf("wind field resolution %f after overwrite", r)
	}

	// Static data survives both kinds of reset.
	s.Reset()
	if s.BeginRun() {
		t.Errorf("static data lost across reset")
	}
}

func TestPauseDropsFrames(t *testing.T) {
	s := simulatingStore(t)
	for i := 1; i <= 7; i++ {
		s.Apply(makeFrame(protocol.NaiveRoute, i))
	}
	before := s.Snapshot()
	beforeSpeeds := len(s.State().SpeedHistory.Naive)

	s.SetPaused(true)
	for i := 8; i <= 50; i++ {
		s.Apply(makeFrame(protocol.NaiveRoute, i))
	}

	after := s.Snapshot()
	if after.Naive == nil || after.Naive.Time != before.Naive.Time {
		t.Errorf("paused store applied a frame: before %+v after %+v", before.Naive, after.Naive)
	}
	if n := len(s.State().SpeedHistory.Naive); n != beforeSpeeds {
		t.Errorf("speed history grew from %d to %d while paused", beforeSpeeds, n)
	}
	if n := s.Arrivals(protocol.NaiveRoute); n != 7 {
		t.Errorf("%d arrivals counted, expected 7", n)
	}

	s.SetPaused(false)
	s.Apply(makeFrame(protocol.NaiveRoute, 51))
	if f := s.Snapshot().Naive; f == nil || f.Time != 51 {
		t.Errorf("frame not applied after unpausing: %+v", f)
	}
}

func TestPauseKeepsTerminalState(t *testing.T) {
	s := simulatingStore(t)
	for i := 1; i <= 3; i++ {
		s.Apply(makeFrame(protocol.OptimizedRoute, i))
	}
	s.SetPaused(true)

	s.Apply(&protocol.SimulationEnd{
		Route:         protocol.OptimizedRoute,
		Metrics:       protocol.RouteMetrics{TotalDistance: 1234},
		FlightSummary: protocol.FlightSummary{Completed: true},
	})

	st := s.State()
	if st.Metrics.Optimized == nil || st.Metrics.Optimized.TotalDistance != 1234 {
		t.Errorf("metrics dropped while paused: %+v", st.Metrics.Optimized)
	}
	if st.Summaries.Optimized == nil || !st.Summaries.Optimized.Completed {
		t.Errorf("summary dropped while paused: %+v", st.Summaries.Optimized)
	}
	if st.Frames.Optimized == nil || st.Frames.Optimized.Time != 3 {
		t.Errorf("final frame not flushed: %+v", st.Frames.Optimized)
	}
}

func TestSpeedHistoryCapAndCadence(t *testing.T) {
	s := simulatingStore(t)
	const n = 5000
	for i := 1; i <= n; i++ {
		s.Apply(makeFrame(protocol.NaiveRoute, i))
	}

	hist := s.State().SpeedHistory.Naive
	if expected := min(n/SpeedSampleInterval, MaxSpeedSamples); len(hist) != expected {
		t.Fatalf("speed history has %d samples, expected %d", len(hist), expected)
	}

	// The retained samples are the most recent ones: frames 2505, 2510,
	// ..., 5000.
	first := n - (MaxSpeedSamples-1)*SpeedSampleInterval
	for i, sample := range hist {
		frame := first + i*SpeedSampleInterval
		if sample.Time != float64(frame) || sample.Groundspeed != 10+float64(frame) || sample.Airspeed != 20+float64(frame) {
			t.Fatalf("sample %d = %+v, expected frame %d", i, sample, frame)
		}
	}

	if len(s.State().SpeedHistory.Optimized) != 0 {
		t.Errorf("optimized route has speed samples")
	}
}

func TestSpeedHistoryBeforeCap(t *testing.T) {
	s := simulatingStore(t)
	for i := 1; i <= 23; i++ {
		s.Apply(makeFrame(protocol.OptimizedRoute, i))
	}
	hist := s.State().SpeedHistory.Optimized
	if len(hist) != 4 {
		t.Fatalf("got %d samples, expected 4", len(hist))
	}
	for i, sample := range hist {
		if sample.Time != float64(5*(i+1)) {
			t.Errorf("sample %d from frame %f, expected %d", i, sample.Time, 5*(i+1))
		}
	}
}

func TestCoalescedFrames(t *testing.T) {
	s := simulatingStore(t)

	for i := 1; i <= 23; i++ {
		s.Apply(makeFrame(protocol.NaiveRoute, i))

		coalesced := s.State().Frames.Naive
		switch {
		case i < 10:
			if coalesced != nil {
				t.Errorf("after frame %d: coalesced frame %f published early", i, coalesced.Time)
			}
		case i < 20:
			if coalesced == nil || coalesced.Time != 10 {
				t.Errorf("after frame %d: coalesced %+v, expected frame 10", i, coalesced)
			}
		default:
			if coalesced == nil || coalesced.Time != 20 {
				t.Errorf("after frame %d: coalesced %+v, expected frame 20", i, coalesced)
			}
		}

		if live := s.Snapshot().Naive; live == nil || live.Time != float64(i) {
			t.Errorf("after frame %d: live frame %+v", i, live)
		}
	}

	s.Apply(&protocol.SimulationEnd{Route: protocol.NaiveRoute})
	if coalesced := s.State().Frames.Naive; coalesced == nil || coalesced.Time != 23 {
		t.Errorf("simulation_end did not flush frame 23: %+v", coalesced)
	}
}

func TestCoalescingIsPerRoute(t *testing.T) {
	s := simulatingStore(t)
	for i := 1; i <= 9; i++ {
		s.Apply(makeFrame(protocol.NaiveRoute, i))
		s.Apply(makeFrame(protocol.OptimizedRoute, 100+i))
	}
	s.Apply(makeFrame(protocol.NaiveRoute, 10))

	// The naive route's 10th frame publishes both live frames.
	st := s.State()
	if st.Frames.Naive == nil || st.Frames.Naive.Time != 10 {
		t.Errorf("naive coalesced %+v", st.Frames.Naive)
	}
	if st.Frames.Optimized == nil || st.Frames.Optimized.Time != 109 {
		t.Errorf("optimized coalesced %+v", st.Frames.Optimized)
	}
	if s.Arrivals(protocol.OptimizedRoute) != 9 {
		t.Errorf("optimized arrivals %d", s.Arrivals(protocol.OptimizedRoute))
	}
}

func TestRunIsolation(t *testing.T) {
	s := simulatingStore(t)
	for i := 1; i <= 40; i++ {
		s.Apply(makeFrame(protocol.NaiveRoute, i))
		s.Apply(makeFrame(protocol.OptimizedRoute, i))
	}
	s.Apply(&protocol.SimulationEnd{Route: protocol.NaiveRoute, Metrics: protocol.RouteMetrics{TotalDistance: 1}})
	s.Apply(&protocol.Error{Message: "stale"})

	// A second start before the first run completes.
	s.BeginRun()

	st := s.State()
	if st.Phase != PhaseLoading {
		t.Errorf("phase %q", st.Phase)
	}
	if st.Paths != nil || st.Frames.Naive != nil || st.Frames.Optimized != nil ||
		st.Metrics.Naive != nil || st.Summaries.Naive != nil ||
		len(st.SpeedHistory.Naive) != 0 || len(st.SpeedHistory.Optimized) != 0 || st.Error != "" {
		t.Errorf("state from the first run survived: %+v", st)
	}
	if snap := s.Snapshot(); snap.Naive != nil || snap.Optimized != nil {
		t.Errorf("live frames survived: %+v", snap)
	}

	s.Apply(&protocol.Paths{})
	s.Apply(&protocol.SimulationStart{Route: protocol.OptimizedRoute})
	s.Apply(makeFrame(protocol.OptimizedRoute, 1))

	st = s.State()
	if st.Frames.Naive != nil || st.Metrics.Naive != nil || len(st.SpeedHistory.Naive) != 0 {
		t.Errorf("first-run data visible after second run's first frame: %+v", st)
	}
	if s.Arrivals(protocol.NaiveRoute) != 0 || s.Arrivals(protocol.OptimizedRoute) != 1 {
		t.Errorf("arrival counters not reset: %d %d", s.Arrivals(protocol.NaiveRoute),
			s.Arrivals(protocol.OptimizedRoute))
	}
}

func TestCompleteMergesMetrics(t *testing.T) {
	s := simulatingStore(t)
	s.Apply(&protocol.SimulationEnd{Route: protocol.NaiveRoute, Metrics: protocol.RouteMetrics{TotalDistance: 100}})
	s.Apply(&protocol.Complete{Metrics: protocol.CompleteMetrics{
		Optimized: &protocol.RouteMetrics{TotalDistance: 80},
	}})

	st := s.State()
	if st.Phase != PhaseComplete {
		t.Errorf("phase %q", st.Phase)
	}
	if st.Metrics.Naive == nil || st.Metrics.Naive.TotalDistance != 100 {
		t.Errorf("naive metrics lost: %+v", st.Metrics.Naive)
	}
	if st.Metrics.Optimized == nil || st.Metrics.Optimized.TotalDistance != 80 {
		t.Errorf("optimized metrics: %+v", st.Metrics.Optimized)
	}
}

func TestSubscribersSeeEveryFrame(t *testing.T) {
	s := simulatingStore(t)

	var got []float64
	sub := s.Subscribe(func(f Frames) {
		if f.Naive != nil {
			got = append(got, f.Naive.Time)
		}
	})

	var published int
	watch := s.Watch(func(State) { published++ })

	for i := 1; i <= 25; i++ {
		s.Apply(makeFrame(protocol.NaiveRoute, i))
	}
	if len(got) != 25 {
		t.Fatalf("subscriber called %d times, expected 25", len(got))
	}
	for i, tm := range got {
		if tm != float64(i+1) {
			t.Errorf("notification %d carried frame %f", i, tm)
		}
	}
	if published != 2 {
		t.Errorf("watchers called %d times, expected 2", published)
	}

	// Paused frames produce no notification.
	s.SetPaused(true)
	s.Apply(makeFrame(protocol.NaiveRoute, 26))
	s.SetPaused(false)
	if len(got) != 25 {
		t.Errorf("subscriber notified of a dropped frame")
	}

	sub.Unsubscribe()
	sub.Unsubscribe()
	watch.Unsubscribe()
	s.Apply(makeFrame(protocol.NaiveRoute, 27))
	if len(got) != 25 {
		t.Errorf("subscriber called after Unsubscribe")
	}
}

func TestSubscriberSeesBothRoutes(t *testing.T) {
	s := simulatingStore(t)
	s.Apply(makeFrame(protocol.NaiveRoute, 1))

	var last Frames
	sub := s.Subscribe(func(f Frames) { last = f })
	defer sub.Unsubscribe()

	s.Apply(makeFrame(protocol.OptimizedRoute, 2))
	if last.Naive == nil || last.Naive.Time != 1 || last.Optimized == nil || last.Optimized.Time != 2 {
		t.Errorf("subscriber snapshot %+v", last)
	}
}

func TestSubscriberMayCallBack(t *testing.T) {
	s := simulatingStore(t)

	var snap Frames
	var sub *FrameSubscription
	sub = s.Subscribe(func(Frames) {
		// Calling back into the store from a subscriber must not deadlock.
		snap = s.Snapshot()
		_ = s.State()
		sub.Unsubscribe()
	})
	s.Apply(makeFrame(protocol.NaiveRoute, 1))
	s.Apply(makeFrame(protocol.NaiveRoute, 2))

	if snap.Naive == nil || snap.Naive.Time != 1 {
		t.Errorf("snapshot from subscriber %+v", snap.Naive)
	}
}

func TestPanickingSubscriber(t *testing.T) {
	s := simulatingStore(t)
	s.Subscribe(func(Frames) { panic("boom") })

	var calls int
	s.Subscribe(func(Frames) { calls++ })

	s.Apply(makeFrame(protocol.NaiveRoute, 1))
	if calls != 1 {
		t.Errorf("second subscriber called %d times", calls)
	}
}

func TestStateIsACopy(t *testing.T) {
	s := simulatingStore(t)
	for i := 1; i <= 10; i++ {
		s.Apply(makeFrame(protocol.NaiveRoute, i))
	}

	st := s.State()
	st.Frames.Naive.Time = -1
	st.SpeedHistory.Naive[0].Time = -1

	st = s.State()
	if st.Frames.Naive.Time != 10 || st.SpeedHistory.Naive[0].Time != 5 {
		t.Errorf("modifying a returned State changed the store")
	}
}

func TestPlayback(t *testing.T) {
	s := NewStore(nil)
	if pb := s.Playback(); pb.Paused || pb.Speed != 1 {
		t.Errorf("default playback %+v", pb)
	}

	for _, test := range []struct {
		speed, expected float64
	}{
		{2, 2},
		{0, 2},
		{-1, 2},
		{100, MaxPlaybackSpeed},
		{0.01, MinPlaybackSpeed},
		{0.5, 0.5},
	} {
		s.SetSpeed(test.speed)
		if sp := s.Playback().Speed; sp != test.expected {
			t.Errorf("SetSpeed(%f) gave %f, expected %f", test.speed, sp, test.expected)
		}
	}

	rev := s.State().Revision
	s.SetPaused(true)
	if !s.Playback().Paused || !s.State().Playback.Paused {
		t.Errorf("pause not recorded")
	}
	if s.State().Revision != rev+1 {
		t.Errorf("pausing should publish the state")
	}
	s.SetPaused(true)
	if s.State().Revision != rev+1 {
		t.Errorf("redundant pause should not publish")
	}
}

func TestAppliesRunDataWithoutStart(t *testing.T) {
	// A client may attach to a backend that is already streaming a run.
	s := NewStore(nil)
	calls := 0
	s.Subscribe(func(Frames) { calls++ })

	for i := 1; i <= 23; i++ {
		s.Apply(makeFrame(protocol.NaiveRoute, i))
	}
	if calls != 23 {
		t.Errorf("expected 23 subscriber calls, got %d", calls)
	}
	if snap := s.Snapshot(); snap.Naive == nil || snap.Naive.Time != 23 {
		t.Errorf("live frame %+v", snap.Naive)
	}
	st := s.State()
	if st.Frames.Naive == nil || st.Frames.Naive.Time != 20 {
		t.Errorf("published frame %+v", st.Frames.Naive)
	}
	if n := len(st.SpeedHistory.Naive); n != 4 {
		t.Errorf("expected 4 speed samples, got %d", n)
	}

	s.Apply(&protocol.SimulationEnd{Route: protocol.NaiveRoute, Metrics: protocol.RouteMetrics{TotalDistance: 3}})
	st = s.State()
	if st.Metrics.Naive == nil || st.Frames.Naive.Time != 23 {
		t.Errorf("simulation_end not applied: %+v", st)
	}

	s.Apply(&protocol.Complete{Metrics: protocol.CompleteMetrics{Optimized: &protocol.RouteMetrics{}}})
	if st := s.State(); st.Phase != PhaseComplete || st.Metrics.Naive == nil || st.Metrics.Optimized == nil {
		t.Errorf("complete not applied: %+v", st)
	}

	s.Reset()
	s.Apply(&protocol.SimulationStart{Route: protocol.NaiveRoute})
	if p := s.State().Phase; p != PhaseSimulating {
		t.Errorf("simulation_start from idle gave phase %q", p)
	}
}
