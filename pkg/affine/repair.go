package affine

import "math"

// Quaternion holds the NIfTI qform parameters: rotation (b, c, d) and the
// offset of voxel (0,0,0) in millimeters.
type Quaternion struct {
	B, C, D          float64
	OffX, OffY, OffZ float64
}

// Source names where a repaired transform came from.
type Source int

const (
	// FromMatrix keeps the stored (sform) matrix.
	FromMatrix Source = iota
	// FromQuaternion rebuilt the transform from qform parameters.
	FromQuaternion
	// FromSpacing is the diagonal fallback built from voxel spacing.
	FromSpacing
)

func (s Source) String() string {
	switch s {
	case FromMatrix:
		return "sform"
	case FromQuaternion:
		return "qform"
	case FromSpacing:
		return "spacing"
	}
	return "unknown"
}

// Input is the spatial metadata Repair works from.
type Input struct {
	Matrix    Mat4
	Quat      Quaternion
	PixDims   [8]float64
	QformCode int
	SformCode int
}

// QuaternionToMat4 builds the qform transform. pixdim[0] carries the
// handedness factor qfac; anything other than a negative value counts as 1.
func QuaternionToMat4(q Quaternion, pixdim [8]float64) Mat4 {
	b, c, d := q.B, q.C, q.D
	a := 1 - (b*b + c*c + d*d)
	if a < 1e-7 {
		s := 1 / math.Sqrt(b*b+c*c+d*d)
		b, c, d = b*s, c*s, d*s
		a = 0
	} else {
		a = math.Sqrt(a)
	}
	qfac := 1.0
	if pixdim[0] < 0 {
		qfac = -1
	}
	r := [3][3]float64{
		{a*a + b*b - c*c - d*d, 2*b*c - 2*a*d, 2*b*d + 2*a*c},
		{2*b*c + 2*a*d, a*a + c*c - b*b - d*d, 2*c*d - 2*a*b},
		{2*b*d - 2*a*c, 2*c*d + 2*a*b, a*a + d*d - c*c - b*b},
	}
	m := Identity()
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			m[i][j] = r[i][j] * pixdim[j+1]
		}
		m[i][2] *= qfac
	}
	m[0][3], m[1][3], m[2][3] = q.OffX, q.OffY, q.OffZ
	return m
}

// Diagonal builds a spacing-only transform. NaN or zero spacings count as 1.
func Diagonal(pixdim [8]float64) Mat4 {
	m := Identity()
	for i := 0; i < 3; i++ {
		p := pixdim[i+1]
		if math.IsNaN(p) || p == 0 {
			p = 1
		}
		m[i][i] = p
	}
	return m
}

// Usable reports whether m passes IsValid and can be inverted.
func Usable(m Mat4) bool {
	if !IsValid(m) {
		return false
	}
	_, err := m.Inverse()
	return err == nil
}

// Repair returns a usable transform for in. The stored matrix is kept when
// usable unless the quaternion is preferred (preferQuat with a nonzero qform
// code) or carries a higher code than the matrix. An unusable result falls
// back to the diagonal spacing transform, so the returned matrix always
// satisfies Usable.
func Repair(in Input, preferQuat bool) (Mat4, Source) {
	m, src := in.Matrix, FromMatrix
	if (preferQuat && in.QformCode > 0) || !Usable(m) || in.QformCode > in.SformCode {
		m, src = QuaternionToMat4(in.Quat, in.PixDims), FromQuaternion
	}
	if !Usable(m) {
		m, src = Diagonal(in.PixDims), FromSpacing
	}
	return m, src
}

// NormalizeScaling replaces a NaN or zero slope with 1 and a NaN intercept
// with 0.
func NormalizeScaling(slope, inter float64) (float64, float64) {
	if math.IsNaN(slope) || slope == 0 {
		slope = 1
	}
	if math.IsNaN(inter) {
		inter = 0
	}
	return slope, inter
}
