package orient

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"neurovol/pkg/affine"
)

func diag(x, y, z float64) affine.Mat4 {
	return affine.Mat4{{x, 0, 0, 0}, {0, y, 0, 0}, {0, 0, z, 0}, {0, 0, 0, 1}}
}

func isSignedPermutation(p [3]int) bool {
	seen := map[int]bool{}
	for _, v := range p {
		a := iabs(v)
		if a < 1 || a > 3 || seen[a] {
			return false
		}
		seen[a] = true
	}
	return true
}

func TestComputeIdentity(t *testing.T) {
	o, err := Compute(diag(2, 2, 2), [3]int{3, 4, 5}, [3]float64{2, 2, 2})
	require.NoError(t, err)
	assert.Equal(t, [3]int{1, 2, 3}, o.PermRAS)
	assert.True(t, o.IsIdentity())
	assert.Equal(t, affine.Identity(), o.ToRAS)
	assert.Equal(t, affine.Identity(), o.ToRASVox)
	assert.Equal(t, [3]int{1, 3, 12}, o.Img2RASStep)
	assert.Equal(t, 0, o.Img2RASStart)
	assert.Equal(t, 0.0, o.ObliqueAngle)
	assert.Equal(t, 0.0, o.MaxShearDeg)

	order := o.RASOrder()
	for i, n := range order {
		if i != n {
			t.Fatalf("RAS order of an RAS volume must be untouched: index %d maps to %d", i, n)
		}
	}
}

func TestComputeLeftRightFlip(t *testing.T) {
	m := diag(-2, 2, 2)
	m[0][3] = 4
	o, err := Compute(m, [3]int{3, 4, 5}, [3]float64{2, 2, 2})
	require.NoError(t, err)
	assert.Equal(t, [3]int{-1, 2, 3}, o.PermRAS)
	assert.Equal(t, 2.0, o.MatRAS[0][0])
	assert.Equal(t, 0.0, o.MatRAS[0][3])
	assert.Equal(t, [3]int{-1, 3, 12}, o.Img2RASStep)
	assert.Equal(t, 2, o.Img2RASStart)

	native := o.ToRASVox.Apply([3]float64{0, 1, 2})
	assert.Equal(t, [3]float64{2, 1, 2}, native)
	assert.Equal(t, 2+1*3+2*12, o.NativeIndex(0, 1, 2))

	frac := o.ToRAS.Apply([3]float64{0.25, 0.5, 0.75})
	assert.InDeltaSlice(t, []float64{0.75, 0.5, 0.75}, frac[:], 1e-12)
}

func TestComputePermutedAxes(t *testing.T) {
	m := affine.Mat4{{0, 0, 2, 0}, {3, 0, 0, 0}, {0, -4, 0, 0}, {0, 0, 0, 1}}
	dims := [3]int{5, 6, 7}
	o, err := Compute(m, dims, [3]float64{3, 4, 2})
	require.NoError(t, err)
	assert.Equal(t, [3]int{3, 1, -2}, o.PermRAS)
	assert.Equal(t, [3]int{7, 5, 6}, o.DimsRAS)
	assert.Equal(t, [3]float64{2, 3, 4}, o.PixDimsRAS)

	for k := 0; k < 3; k++ {
		assert.Greater(t, o.MatRAS[k][k], 0.0, "RAS diagonal must be positive")
	}

	// Both routes from a RAS voxel to millimeters agree.
	ras := [3]float64{1, 2, 3}
	viaNative := m.Apply(o.ToRASVox.Apply(ras))
	direct := o.MatRAS.Apply(ras)
	assert.InDeltaSlice(t, viaNative[:], direct[:], 1e-12)

	native := o.ToRASVox.Apply(ras)
	idx := int(native[0]) + int(native[1])*dims[0] + int(native[2])*dims[0]*dims[1]
	assert.Equal(t, idx, o.NativeIndex(1, 2, 3))
}

func TestPermutationTieBreakLowestAxis(t *testing.T) {
	m := affine.Mat4{{1, 1, 0, 0}, {1, -1, 0, 0}, {0, 0, 1, 0}, {0, 0, 0, 1}}
	assert.Equal(t, [3]int{1, -2, 3}, Permutation(m))

	m = affine.Mat4{{1, 1, 1, 0}, {1, 1, 1, 0}, {1, 1, 1, 0}, {0, 0, 0, 1}}
	assert.Equal(t, [3]int{1, 2, 3}, Permutation(m))
}

func TestPermutationAllSignPatterns(t *testing.T) {
	perms := [][3]int{{0, 1, 2}, {0, 2, 1}, {1, 0, 2}, {1, 2, 0}, {2, 0, 1}, {2, 1, 0}}
	for _, p := range perms {
		for signs := 0; signs < 8; signs++ {
			var m affine.Mat4
			m[3][3] = 1
			for row := 0; row < 3; row++ {
				v := 1.5
				if signs&(1<<row) != 0 {
					v = -v
				}
				m[row][p[row]] = v
			}
			got := Permutation(m)
			require.True(t, isSignedPermutation(got), "perm %v signs %d -> %v", p, signs, got)
			for row := 0; row < 3; row++ {
				assert.Equal(t, p[row]+1, iabs(got[row]))
				assert.Equal(t, signs&(1<<row) != 0, got[row] < 0)
			}
		}
	}
}

func TestPermutationObliqueAndDegenerate(t *testing.T) {
	for deg := 0.0; deg < 360; deg += 15 {
		r := deg * math.Pi / 180
		c, s := math.Cos(r), math.Sin(r)
		m := affine.Mat4{{c, -s, 0, 0}, {s, c, 0, 0}, {0, 0, 1, 0}, {0, 0, 0, 1}}
		got := Permutation(m)
		assert.True(t, isSignedPermutation(got), "rotation %v -> %v", deg, got)
	}
	assert.True(t, isSignedPermutation(Permutation(affine.Mat4{})))
	nan := affine.Identity()
	nan[0][0] = math.NaN()
	assert.True(t, isSignedPermutation(Permutation(nan)))
}

func TestObliqueAngleAndShear(t *testing.T) {
	r := 30 * math.Pi / 180
	m := affine.Mat4{{math.Cos(r), -math.Sin(r), 0, 0}, {math.Sin(r), math.Cos(r), 0, 0}, {0, 0, 1, 0}, {0, 0, 0, 1}}
	o, err := Compute(m, [3]int{10, 10, 10}, [3]float64{1, 1, 1})
	require.NoError(t, err)
	assert.InDelta(t, 30, o.ObliqueAngle, 1e-9)
	assert.InDelta(t, 0, o.MaxShearDeg, 1e-9)

	tiny := 0.001 * math.Pi / 180
	m = affine.Mat4{{math.Cos(tiny), -math.Sin(tiny), 0, 0}, {math.Sin(tiny), math.Cos(tiny), 0, 0}, {0, 0, 1, 0}, {0, 0, 0, 1}}
	assert.Equal(t, 0.0, ObliqueAngle(m))

	sheared := affine.Mat4{{1, 1, 0, 0}, {0, 1, 0, 0}, {0, 0, 1, 0}, {0, 0, 0, 1}}
	assert.InDelta(t, 45, MaxShear(sheared), 1e-9)
}

func TestFrac2MMOrtho(t *testing.T) {
	m := diag(2, 3, 4)
	m[0][3], m[1][3], m[2][3] = -10, -20, -30
	o, err := Compute(m, [3]int{10, 20, 30}, [3]float64{2, 3, 4})
	require.NoError(t, err)

	// For an aligned lattice the true and ortho mappings coincide.
	for _, f := range [][3]float64{{0, 0, 0}, {0.5, 0.5, 0.5}, {1, 0.25, 0.75}} {
		a := o.Frac2MM.Apply(f)
		b := o.Frac2MMOrtho.Apply(f)
		assert.InDeltaSlice(t, a[:], b[:], 1e-9, "frac %v", f)
	}
}

func TestObliqueRAS(t *testing.T) {
	r := 30 * math.Pi / 180
	c, s := math.Cos(r), math.Sin(r)
	m := affine.Mat4{{2 * c, -3 * s, 0, 5}, {2 * s, 3 * c, 0, -5}, {0, 0, 4, 1}, {0, 0, 0, 1}}
	o, err := Compute(m, [3]int{8, 8, 8}, [3]float64{2, 3, 4})
	require.NoError(t, err)
	require.True(t, o.IsIdentity())

	want := affine.Mat4{{c, -s, 0, 0}, {s, c, 0, 0}, {0, 0, 1, 0}, {0, 0, 0, 1}}
	for i := 0; i < 4; i++ {
		assert.InDeltaSlice(t, want[i][:], o.ObliqueRAS[i][:], 1e-12, "row %d", i)
	}
	assert.InDelta(t, 30, o.ObliqueAngle, 1e-9)
	assert.InDelta(t, 0, o.MaxShearDeg, 1e-9)

	sheared := affine.Mat4{{2, 2, 0, 0}, {0, 2, 0, 0}, {0, 0, 2, 0}, {0, 0, 0, 1}}
	o, err = Compute(sheared, [3]int{4, 4, 4}, [3]float64{2, 2 * math.Sqrt2, 2})
	require.NoError(t, err)
	assert.InDelta(t, 1, o.ObliqueRAS[0][0], 1e-12)
	assert.InDelta(t, 1/math.Sqrt2, o.ObliqueRAS[0][1], 1e-12)
	assert.InDelta(t, 45, o.MaxShearDeg, 1e-9)
}
