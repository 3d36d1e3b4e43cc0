// protocol/messages.go
// Copyright(c) 2025-2026 dronesync contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

// Package protocol defines the JSON messages exchanged with the flight
// simulation backend over its websocket.
package protocol

import (
	"fmt"
	"log/slog"
)

type MessageType string

// Server to client.
const (
	SceneMessage           MessageType = "scene"
	WindFieldMessage       MessageType = "wind_field"
	FullSceneMessage       MessageType = "full_scene"
	PathsMessage           MessageType = "paths"
	SimulationStartMessage MessageType = "simulation_start"
	FrameMessage           MessageType = "frame"
	SimulationEndMessage   MessageType = "simulation_end"
	CompleteMessage        MessageType = "complete"
	PongMessage            MessageType = "pong"
	ErrorMessage           MessageType = "error"
)

// Client to server.
const (
	GetSceneRequest     MessageType = "get_scene"
	GetWindFieldRequest MessageType = "get_wind_field"
	GetAllRequest       MessageType = "get_all"
	StartRequest        MessageType = "start"
	PingRequest         MessageType = "ping"
)

///////////////////////////////////////////////////////////////////////////
// Routes

// RouteID identifies one of the two routes that are simulated side by
// side.
type RouteID string

const (
	NaiveRoute     RouteID = "naive"
	OptimizedRoute RouteID = "optimized"
)

// Routes lists every RouteID in a fixed order.
var Routes = [...]RouteID{NaiveRoute, OptimizedRoute}

func (r RouteID) Valid() bool {
	return r == NaiveRoute || r == OptimizedRoute
}

// Index returns a dense index for the route, suitable for indexing
// per-route arrays, or -1 for an unknown route.
func (r RouteID) Index() int {
	switch r {
	case NaiveRoute:
		return 0
	case OptimizedRoute:
		return 1
	default:
		return -1
	}
}

// RouteType selects which routes a start request simulates.
type RouteType string

const (
	RouteTypeNaive     RouteType = "naive"
	RouteTypeOptimized RouteType = "optimized"
	RouteTypeBoth      RouteType = "both"
)

func ParseRouteType(s string) (RouteType, error) {
	switch rt := RouteType(s); rt {
	case RouteTypeNaive, RouteTypeOptimized, RouteTypeBoth:
		return rt, nil
	default:
		return "", fmt.Errorf("%q: invalid route type; expected naive, optimized, or both", s)
	}
}

///////////////////////////////////////////////////////////////////////////
// Payloads

// Vec3 is a point or vector in scene coordinates; on the wire it is a
// three-element array.
type Vec3 [3]float64

// FrameData is one simulated instant of one route.
type FrameData struct {
	Time               float64 `json:"time"`
	Position           Vec3    `json:"position"`
	Velocity           Vec3    `json:"velocity"`
	Heading            Vec3    `json:"heading"`
	Wind               Vec3    `json:"wind"`
	Drift              Vec3    `json:"drift"`
	Correction         Vec3    `json:"correction"`
	Effort             float64 `json:"effort"` // [0,1]
	Airspeed           float64 `json:"airspeed"`
	Groundspeed        float64 `json:"groundspeed"`
	WaypointIndex      int     `json:"waypoint_index"`
	DistanceToWaypoint float64 `json:"distance_to_waypoint"`
}

func (f FrameData) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Float64("time", f.Time),
		slog.Any("position", f.Position),
		slog.Float64("groundspeed", f.Groundspeed),
		slog.Int("waypoint_index", f.WaypointIndex))
}

// RouteMetrics holds the aggregate statistics for a completed route.
type RouteMetrics struct {
	TotalDistance            float64 `json:"total_distance"`
	TotalFlightTime          float64 `json:"total_flight_time"`
	AverageGroundSpeed       float64 `json:"average_ground_speed"`
	EnergyConsumption        float64 `json:"energy_consumption"`
	AveragePower             float64 `json:"average_power"`
	CrashProbability         float64 `json:"crash_probability"`
	MaxTurbulenceEncountered float64 `json:"max_turbulence_encountered"`
	MaxWindSpeedEncountered  float64 `json:"max_wind_speed_encountered"`
	TurbulenceZonesCrossed   int     `json:"turbulence_zones_crossed"`
	HeadwindSegments         int     `json:"headwind_segments"`
	TailwindSegments         int     `json:"tailwind_segments"`
}

// FlightSummary describes how a route's flight went from the drone's
// point of view.
type FlightSummary struct {
	TotalFrames        int     `json:"total_frames"`
	Duration           float64 `json:"duration"`
	DistanceFlown      float64 `json:"distance_flown"`
	AverageGroundspeed float64 `json:"average_groundspeed"`
	MaxGroundspeed     float64 `json:"max_groundspeed"`
	AverageEffort      float64 `json:"average_effort"`
	MaxEffort          float64 `json:"max_effort"`
	WaypointsReached   int     `json:"waypoints_reached"`
	TotalWaypoints     int     `json:"total_waypoints"`
	Completed          bool    `json:"completed"`
}

// Bounds is the axis-aligned extent of the scene.
type Bounds struct {
	Min Vec3 `json:"min"`
	Max Vec3 `json:"max"`
}

type Building struct {
	ID     string  `json:"id"`
	Center Vec3    `json:"center"`
	Size   Vec3    `json:"size"`
	Height float64 `json:"height"`
}

// Terrain is a regular height grid; Heights is indexed [row][col].
type Terrain struct {
	Origin     Vec3        `json:"origin"`
	Resolution float64     `json:"resolution"`
	Heights    [][]float64 `json:"heights"`
}

type SceneData struct {
	Bounds    Bounds     `json:"bounds"`
	Buildings []Building `json:"buildings,omitempty"`
	Terrain   *Terrain   `json:"terrain,omitempty"`
}

// WindFieldData samples the wind field at scattered points; Points and
// Vectors are parallel arrays.
type WindFieldData struct {
	Bounds     Bounds    `json:"bounds"`
	Resolution float64   `json:"resolution"`
	Downsample int       `json:"downsample,omitempty"`
	Points     []Vec3    `json:"points"`
	Vectors    []Vec3    `json:"vectors"`
	Turbulence []float64 `json:"turbulence,omitempty"`
}

// PathsData is the planned waypoint sequence of each route.
type PathsData struct {
	Naive     []Vec3 `json:"naive"`
	Optimized []Vec3 `json:"optimized"`
}

func (p *PathsData) Route(r RouteID) []Vec3 {
	if p == nil {
		return nil
	}
	switch r {
	case NaiveRoute:
		return p.Naive
	case OptimizedRoute:
		return p.Optimized
	default:
		return nil
	}
}

// CompleteMetrics carries whichever route metrics the backend includes
// with its final message; either may be absent.
type CompleteMetrics struct {
	Naive     *RouteMetrics `json:"naive,omitempty"`
	Optimized *RouteMetrics `json:"optimized,omitempty"`
}

///////////////////////////////////////////////////////////////////////////
// Server messages

// ServerMessage is implemented by every message the backend sends.
type ServerMessage interface {
	MessageType() MessageType
}

type Scene struct {
	Data SceneData `json:"data"`
}

type WindField struct {
	Data WindFieldData `json:"data"`
}

type FullScene struct {
	Scene     SceneData     `json:"scene"`
	WindField WindFieldData `json:"wind_field"`
}

type Paths struct {
	Data PathsData `json:"data"`
}

type SimulationStart struct {
	Route RouteID `json:"route"`
}

type Frame struct {
	Route RouteID   `json:"route"`
	Data  FrameData `json:"data"`
}

type SimulationEnd struct {
	Route         RouteID       `json:"route"`
	Metrics       RouteMetrics  `json:"metrics"`
	FlightSummary FlightSummary `json:"flight_summary"`
}

type Complete struct {
	Metrics CompleteMetrics `json:"metrics"`
}

type Pong struct{}

type Error struct {
	Message string `json:"message"`
}

func (*Scene) MessageType() MessageType           { return SceneMessage }
func (*WindField) MessageType() MessageType       { return WindFieldMessage }
func (*FullScene) MessageType() MessageType       { return FullSceneMessage }
func (*Paths) MessageType() MessageType           { return PathsMessage }
func (*SimulationStart) MessageType() MessageType { return SimulationStartMessage }
func (*Frame) MessageType() MessageType           { return FrameMessage }
func (*SimulationEnd) MessageType() MessageType   { return SimulationEndMessage }
func (*Complete) MessageType() MessageType        { return CompleteMessage }
func (*Pong) MessageType() MessageType            { return PongMessage }
func (*Error) MessageType() MessageType           { return ErrorMessage }

func (f *Frame) LogValue() slog.Value {
	return slog.GroupValue(slog.String("route", string(f.Route)), slog.Any("data", f.Data))
}

///////////////////////////////////////////////////////////////////////////
// Client requests

// ClientMessage is implemented by every request the client sends.
type ClientMessage interface {
	MessageType() MessageType
}

type GetScene struct{}

type GetWindField struct {
	Downsample *int `json:"downsample,omitempty"`
}

type GetAll struct {
	Downsample *int `json:"downsample,omitempty"`
}

type Start struct {
	Start     Vec3      `json:"start"`
	End       Vec3      `json:"end"`
	RouteType RouteType `json:"route_type"`
}

type Ping struct{}

func (GetScene) MessageType() MessageType     { return GetSceneRequest }
func (GetWindField) MessageType() MessageType { return GetWindFieldRequest }
func (GetAll) MessageType() MessageType       { return GetAllRequest }
func (Start) MessageType() MessageType        { return StartRequest }
func (Ping) MessageType() MessageType         { return PingRequest }
