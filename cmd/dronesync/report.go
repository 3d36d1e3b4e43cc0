// cmd/dronesync/report.go
// Copyright(c) 2025-2026 dronesync contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aerowind/dronesync/client"
	"github.com/aerowind/dronesync/protocol"
	"github.com/aerowind/dronesync/sim"
)

type launchRequest struct {
	Start, End protocol.Vec3
	RouteType  protocol.RouteType
}

// parseLaunch returns nil if no start position was given.
func parseLaunch(start, end, route string) (*launchRequest, error) {
	if start == "" && end == "" {
		return nil, nil
	} else if start == "" || end == "" {
		return nil, fmt.Errorf("both -start and -end must be specified")
	}

	var lr launchRequest
	var err error
	if lr.Start, err = parseVec3(start); err != nil {
		return nil, fmt.Errorf("-start: %w", err)
	}
	if lr.End, err = parseVec3(end); err != nil {
		return nil, fmt.Errorf("-end: %w", err)
	}
	if lr.RouteType, err = protocol.ParseRouteType(route); err != nil {
		return nil, fmt.Errorf("-route: %w", err)
	}
	return &lr, nil
}

func parseVec3(s string) (protocol.Vec3, error) {
	var v protocol.Vec3
	f := strings.Split(s, ",")
	if len(f) != 3 {
		return v, fmt.Errorf("%q: expected three comma-separated coordinates", s)
	}
	for i := range f {
		var err error
		if v[i], err = strconv.ParseFloat(strings.TrimSpace(f[i]), 64); err != nil {
			return v, fmt.Errorf("%q: %w", s, err)
		}
	}
	return v, nil
}

func statusLine(cs client.ConnectionState, st sim.State, live sim.Frames, rtt time.Duration, errMsg string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%-12s %-15s", cs, st.Phase)
	for _, r := range protocol.Routes {
		if f := live.Get(r); f != nil {
			fmt.Fprintf(&b, " %s: t=%.1fs gs=%.1fm/s wp=%d", r, f.Time, f.Groundspeed, f.WaypointIndex)
		}
	}
	if rtt > 0 {
		fmt.Fprintf(&b, " rtt=%s", rtt.Round(time.Millisecond))
	}
	if errMsg != "" {
		fmt.Fprintf(&b, " error=%q", errMsg)
	}
	return b.String()
}

func printResults(st sim.State) {
	fmt.Printf("%-28s %12s %12s\n", "", protocol.NaiveRoute, protocol.OptimizedRoute)
	row := func(name string, f func(m *protocol.RouteMetrics) string) {
		fmt.Printf("%-28s %12s %12s\n", name, metric(st.Metrics.Naive, f), metric(st.Metrics.Optimized, f))
	}
	row("distance (m)", func(m *protocol.RouteMetrics) string { return fmt.Sprintf("%.1f", m.TotalDistance) })
	row("flight time (s)", func(m *protocol.RouteMetrics) string { return fmt.Sprintf("%.1f", m.TotalFlightTime) })
	row("avg ground speed (m/s)", func(m *protocol.RouteMetrics) string { return fmt.Sprintf("%.2f", m.AverageGroundSpeed) })
	row("energy (J)", func(m *protocol.RouteMetrics) string { return fmt.Sprintf("%.0f", m.EnergyConsumption) })
	row("crash probability", func(m *protocol.RouteMetrics) string { return fmt.Sprintf("%.3f", m.CrashProbability) })
	row("max turbulence", func(m *protocol.RouteMetrics) string { return fmt.Sprintf("%.2f", m.MaxTurbulenceEncountered) })
	row("headwind/tailwind segments", func(m *protocol.RouteMetrics) string {
		return fmt.Sprintf("%d/%d", m.HeadwindSegments, m.TailwindSegments)
	})
}

func metric(m *protocol.RouteMetrics, f func(*protocol.RouteMetrics) string) string {
	if m == nil {
		return "-"
	}
	return f(m)
}
