// client/state.go
// Copyright(c) 2025-2026 dronesync contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package client

import (
	"log/slog"

	"github.com/aerowind/dronesync/math"
	"github.com/aerowind/dronesync/protocol"
	"github.com/aerowind/dronesync/sim"

	"github.com/golang/geo/r3"
)

// SceneExtent summarizes the scene's bounds for positioning a camera or
// scaling a display.
type SceneExtent struct {
	Extent math.Extent3D
	Center r3.Vector
	Size   r3.Vector
	// Diagonal is the length of the bounding box's diagonal.
	Diagonal float64
}

func makeSceneExtent(b protocol.Bounds) SceneExtent {
	e := math.MakeExtent3D(b.Min, b.Max)
	return SceneExtent{
		Extent:   e,
		Center:   e.Center(),
		Size:     e.Size(),
		Diagonal: e.Diagonal(),
	}
}

func (e SceneExtent) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Any("center", math.FromR3(e.Center)),
		slog.Any("size", math.FromR3(e.Size)))
}

// sceneBounds returns the extent of the scene in st, if it has been
// received.
func sceneBounds(st *sim.State) (SceneExtent, bool) {
	if st.Scene == nil {
		return SceneExtent{}, false
	}
	return makeSceneExtent(st.Scene.Bounds), true
}
