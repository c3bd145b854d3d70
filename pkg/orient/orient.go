// Package orient computes how a voxel lattice maps onto Right-Anterior-Superior
// order: the signed axis permutation, the reindexing transforms, and the
// true and de-obliqued fraction-to-millimeter mappings.
package orient

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"neurovol/pkg/affine"
)

// obliqueFloor is the angle in degrees below which a lattice counts as
// axis aligned.
const obliqueFloor = 0.01

// Orientation is the derived RAS metadata of a volume. All fields are
// computed once by Compute and not modified afterwards.
type Orientation struct {
	// PermRAS[k] is the 1-based native axis feeding RAS axis k, negative
	// when that axis runs from high to low index.
	PermRAS [3]int

	// DimsRAS and PixDimsRAS are the sample counts and spacings in RAS order.
	DimsRAS    [3]int
	PixDimsRAS [3]float64

	// MatRAS maps RAS-order voxel indices to millimeters.
	MatRAS    affine.Mat4
	MatRASInv affine.Mat4

	// ToRAS maps RAS fractional coordinates to native fractional
	// coordinates; ToRASVox does the same for voxel indices.
	ToRAS    affine.Mat4
	ToRASVox affine.Mat4

	// Img2RASStep and Img2RASStart walk the native buffer in RAS order:
	// native index = start + sum(ras[k] * step[k]).
	Img2RASStep  [3]int
	Img2RASStart int

	// Frac2MM keeps the obliquity of MatRAS; Frac2MMOrtho is the axis
	// aligned box of the same extent.
	Frac2MM         affine.Mat4
	Frac2MMOrtho    affine.Mat4
	Frac2MMOrthoInv affine.Mat4

	// ObliqueRAS holds, as columns, the millimeter displacement of a one
	// millimeter step along each RAS lattice axis. It has no translation.
	ObliqueRAS affine.Mat4

	// ObliqueAngle is in degrees, exactly zero for aligned lattices.
	ObliqueAngle float64
	// MaxShearDeg is the largest deviation from 90 degrees between any
	// two lattice axes in millimeter space.
	MaxShearDeg float64
}

// IsIdentity reports whether the native order already is RAS.
func (o Orientation) IsIdentity() bool {
	return o.PermRAS == [3]int{1, 2, 3}
}

// Permutation assigns native axes to RAS axes from the absolute linear part
// of m. RAS axis 0 takes the native axis with the largest right component,
// axis 1 the remaining native axis with the largest anterior component, and
// axis 2 the last one. Equal magnitudes go to the lowest native axis.
func Permutation(m affine.Mat4) [3]int {
	var used [3]bool
	var perm [3]int
	for k := 0; k < 2; k++ {
		best := -1
		for j := 0; j < 3; j++ {
			if used[j] {
				continue
			}
			if best < 0 || math.Abs(m[k][j]) > math.Abs(m[k][best]) {
				best = j
			}
		}
		used[best] = true
		perm[k] = best + 1
	}
	for j := 0; j < 3; j++ {
		if !used[j] {
			perm[2] = j + 1
		}
	}
	for k := 0; k < 3; k++ {
		if m[k][perm[k]-1] < 0 {
			perm[k] = -perm[k]
		}
	}
	return perm
}

func iabs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// Compute derives the orientation of a lattice with the given native
// transform, sample counts and spacings. m must satisfy affine.Usable.
func Compute(m affine.Mat4, dims [3]int, pixdims [3]float64) (Orientation, error) {
	var o Orientation
	for k := range dims {
		if dims[k] < 1 {
			dims[k] = 1
		}
	}
	o.PermRAS = Permutation(m)
	for k := 0; k < 3; k++ {
		n := iabs(o.PermRAS[k]) - 1
		o.DimsRAS[k] = dims[n]
		o.PixDimsRAS[k] = math.Abs(pixdims[n])
	}

	inStep := [3]int{1, dims[0], dims[0] * dims[1]}
	if o.IsIdentity() {
		o.ToRAS = affine.Identity()
		o.ToRASVox = affine.Identity()
		o.MatRAS = m
		o.Img2RASStep = inStep
	} else {
		o.ToRAS = affine.Mat4{3: {0, 0, 0, 1}}
		o.ToRASVox = affine.Mat4{3: {0, 0, 0, 1}}
		for k := 0; k < 3; k++ {
			n := iabs(o.PermRAS[k]) - 1
			step := inStep[n]
			if o.PermRAS[k] < 0 {
				o.ToRAS[n][k] = -1
				o.ToRAS[n][3] = 1
				o.ToRASVox[n][k] = -1
				o.ToRASVox[n][3] = float64(o.DimsRAS[k] - 1)
				o.Img2RASStart += step * (o.DimsRAS[k] - 1)
				step = -step
			} else {
				o.ToRAS[n][k] = 1
				o.ToRASVox[n][k] = 1
			}
			o.Img2RASStep[k] = step
		}
		o.MatRAS = m.Mul(o.ToRASVox)
	}

	inv, err := o.MatRAS.Inverse()
	if err != nil {
		return o, fmt.Errorf("inverting RAS transform: %w", err)
	}
	o.MatRASInv = inv

	var scale affine.Mat4
	scale[3][3] = 1
	for k := 0; k < 3; k++ {
		scale[k][k] = float64(o.DimsRAS[k])
		scale[k][3] = -0.5
	}
	o.Frac2MM = o.MatRAS.Mul(scale)

	origin := inv.Apply([3]float64{0, 0, 0})
	o.Frac2MMOrtho = affine.Identity()
	for k := 0; k < 3; k++ {
		p := o.PixDimsRAS[k]
		if p == 0 || math.IsNaN(p) {
			p = 1
		}
		o.Frac2MMOrtho[k][k] = p * float64(o.DimsRAS[k])
		o.Frac2MMOrtho[k][3] = (-origin[k] - 0.5) * p
	}
	if o.Frac2MMOrthoInv, err = o.Frac2MMOrtho.Inverse(); err != nil {
		return o, fmt.Errorf("inverting ortho transform: %w", err)
	}

	o.ObliqueRAS = obliqueRAS(o.MatRAS, o.PixDimsRAS)
	o.ObliqueAngle = ObliqueAngle(o.MatRAS)
	o.MaxShearDeg = MaxShear(o.ObliqueRAS)
	return o, nil
}

// obliqueRAS scales each column of m by the inverse of its spacing.
func obliqueRAS(m affine.Mat4, pixdims [3]float64) affine.Mat4 {
	out := affine.Mat4{3: {0, 0, 0, 1}}
	for j := 0; j < 3; j++ {
		p := pixdims[j]
		if p == 0 || math.IsNaN(p) {
			p = 1
		}
		for i := 0; i < 3; i++ {
			out[i][j] = m[i][j] / p
		}
	}
	return out
}

// ObliqueAngle returns, in degrees, how far the least aligned lattice axis
// deviates from its nearest millimeter axis.
func ObliqueAngle(m affine.Mat4) float64 {
	merit := 1.0
	for j := 0; j < 3; j++ {
		col := m.Column(j)
		norm := floats.Norm(col[:], 2)
		if norm == 0 {
			continue
		}
		largest := math.Max(math.Abs(col[0]), math.Max(math.Abs(col[1]), math.Abs(col[2])))
		merit = math.Min(merit, largest/norm)
	}
	angle := math.Acos(math.Min(merit, 1)) * 180 / math.Pi
	if angle <= obliqueFloor {
		return 0
	}
	return angle
}

// MaxShear returns the largest deviation from perpendicular, in degrees,
// among the three pairs of lattice axes.
func MaxShear(m affine.Mat4) float64 {
	cols := [3][3]float64{m.Column(0), m.Column(1), m.Column(2)}
	worst := 0.0
	for _, pair := range [3][2]int{{0, 1}, {0, 2}, {1, 2}} {
		a, b := cols[pair[0]], cols[pair[1]]
		na, nb := floats.Norm(a[:], 2), floats.Norm(b[:], 2)
		if na == 0 || nb == 0 {
			continue
		}
		c := floats.Dot(a[:], b[:]) / (na * nb)
		c = math.Max(-1, math.Min(1, c))
		worst = math.Max(worst, math.Abs(90-math.Acos(c)*180/math.Pi))
	}
	return worst
}

// NativeIndex returns the native linear index of RAS voxel (x, y, z).
func (o Orientation) NativeIndex(x, y, z int) int {
	return o.Img2RASStart + x*o.Img2RASStep[0] + y*o.Img2RASStep[1] + z*o.Img2RASStep[2]
}

// RASOrder returns, for every RAS-order linear index of one 3D frame, the
// native linear index holding that voxel.
func (o Orientation) RASOrder() []int {
	nx, ny, nz := o.DimsRAS[0], o.DimsRAS[1], o.DimsRAS[2]
	out := make([]int, nx*ny*nz)
	i := 0
	for z := 0; z < nz; z++ {
		for y := 0; y < ny; y++ {
			for x := 0; x < nx; x++ {
				out[i] = o.NativeIndex(x, y, z)
				i++
			}
		}
	}
	return out
}
