// math/extent.go
// Copyright(c) 2025-2026 dronesync contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package math

import (
	"github.com/golang/geo/r3"
)

func R3(p [3]float64) r3.Vector {
	return r3.Vector{X: p[0], Y: p[1], Z: p[2]}
}

func FromR3(v r3.Vector) [3]float64 {
	return [3]float64{v.X, v.Y, v.Z}
}

// Extent3D is an axis-aligned bounding box.
type Extent3D struct {
	P0, P1 r3.Vector
}

// MakeExtent3D returns the bounding box of the two given corners; the
// corners may be given in any order.
func MakeExtent3D(a, b [3]float64) Extent3D {
	va, vb := R3(a), R3(b)
	return Extent3D{
		P0: r3.Vector{X: min(va.X, vb.X), Y: min(va.Y, vb.Y), Z: min(va.Z, vb.Z)},
		P1: r3.Vector{X: max(va.X, vb.X), Y: max(va.Y, vb.Y), Z: max(va.Z, vb.Z)},
	}
}

func (e Extent3D) Center() r3.Vector {
	return e.P0.Add(e.P1).Mul(0.5)
}

func (e Extent3D) Size() r3.Vector {
	return e.P1.Sub(e.P0)
}

// Diagonal returns the length of the box's diagonal, handy for picking a
// camera distance that frames the whole scene.
func (e Extent3D) Diagonal() float64 {
	return e.Size().Norm()
}

func (e Extent3D) Inside(p [3]float64) bool {
	v := R3(p)
	return v.X >= e.P0.X && v.X <= e.P1.X &&
		v.Y >= e.P0.Y && v.Y <= e.P1.Y &&
		v.Z >= e.P0.Z && v.Z <= e.P1.Z
}
