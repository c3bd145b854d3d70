// Package affine validates and repairs voxel-to-millimeter transforms.
package affine

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/mat"
)

// ErrSingular is returned when a transform cannot be inverted.
var ErrSingular = errors.New("affine: singular matrix")

// Mat4 is a row-major homogeneous 4x4 transform. Row 3 is [0 0 0 1] for
// every transform built by this package.
type Mat4 [4][4]float64

// Identity returns the 4x4 identity.
func Identity() Mat4 {
	return Mat4{{1, 0, 0, 0}, {0, 1, 0, 0}, {0, 0, 1, 0}, {0, 0, 0, 1}}
}

// Dense copies m into a gonum matrix.
func (m Mat4) Dense() *mat.Dense {
	d := mat.NewDense(4, 4, nil)
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			d.Set(i, j, m[i][j])
		}
	}
	return d
}

// FromDense copies the leading 4x4 block of d.
func FromDense(d mat.Matrix) Mat4 {
	var m Mat4
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			m[i][j] = d.At(i, j)
		}
	}
	return m
}

// Mul returns m·n.
func (m Mat4) Mul(n Mat4) Mat4 {
	var out mat.Dense
	out.Mul(m.Dense(), n.Dense())
	return FromDense(&out)
}

// Inverse returns m⁻¹.
func (m Mat4) Inverse() (Mat4, error) {
	var inv mat.Dense
	if err := inv.Inverse(m.Dense()); err != nil {
		var cond mat.Condition
		if !errors.As(err, &cond) {
			return Mat4{}, ErrSingular
		}
		if math.IsInf(float64(cond), 1) {
			return Mat4{}, ErrSingular
		}
	}
	return FromDense(&inv), nil
}

// Apply transforms the point p (homogeneous w=1).
func (m Mat4) Apply(p [3]float64) [3]float64 {
	var out [3]float64
	for i := 0; i < 3; i++ {
		out[i] = m[i][0]*p[0] + m[i][1]*p[1] + m[i][2]*p[2] + m[i][3]
	}
	return out
}

// Column returns the linear part of column j.
func (m Mat4) Column(j int) [3]float64 {
	return [3]float64{m[0][j], m[1][j], m[2][j]}
}

// IsValid reports whether m is usable as a spatial transform: no entry is
// NaN and every row and column of the 3x3 linear part has a nonzero entry.
func IsValid(m Mat4) bool {
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			if math.IsNaN(m[i][j]) {
				return false
			}
		}
	}
	for i := 0; i < 3; i++ {
		rowZero, colZero := true, true
		for j := 0; j < 3; j++ {
			if m[i][j] != 0 {
				rowZero = false
			}
			if m[j][i] != 0 {
				colZero = false
			}
		}
		if rowZero || colZero {
			return false
		}
	}
	return true
}
