// Package transform converts between the voxel, fractional and millimeter
// coordinate spaces of an oriented volume.
//
// Voxel coordinates are 0-based RAS-order indices. Fractional coordinates
// span [0,1] per axis with voxel centers at (i+0.5)/dims.
package transform

import (
	"math"

	"neurovol/pkg/orient"
)

// VoxToMM maps a RAS voxel coordinate to millimeters.
func VoxToMM(o orient.Orientation, v [3]float64) [3]float64 {
	return o.MatRAS.Apply(v)
}

// MMToVox maps millimeters to a RAS voxel coordinate. With round set the
// result is the nearest voxel index, otherwise it stays continuous.
func MMToVox(o orient.Orientation, mm [3]float64, round bool) [3]float64 {
	v := o.MatRASInv.Apply(mm)
	if round {
		for i := range v {
			v[i] = math.Round(v[i])
		}
	}
	return v
}

// VoxToFrac maps a voxel coordinate to its fractional position.
func VoxToFrac(o orient.Orientation, v [3]float64) [3]float64 {
	var f [3]float64
	for i := range f {
		f[i] = (v[i] + 0.5) / float64(o.DimsRAS[i])
	}
	return f
}

// FracToVox maps a fractional position to the voxel containing it.
func FracToVox(o orient.Orientation, f [3]float64) [3]int {
	var v [3]int
	for i := range v {
		v[i] = int(math.Round(f[i]*float64(o.DimsRAS[i]) - 0.5))
	}
	return v
}

// FracToMM maps a fractional position to millimeters, through the
// de-obliqued box when ortho is set.
func FracToMM(o orient.Orientation, f [3]float64, ortho bool) [3]float64 {
	if ortho {
		return o.Frac2MMOrtho.Apply(f)
	}
	return o.Frac2MM.Apply(f)
}

// MMToFrac is the inverse of FracToMM.
func MMToFrac(o orient.Orientation, mm [3]float64, ortho bool) [3]float64 {
	if ortho {
		return o.Frac2MMOrthoInv.Apply(mm)
	}
	return VoxToFrac(o, MMToVox(o, mm, false))
}
