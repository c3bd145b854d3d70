package volume

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"neurovol/pkg/affine"
	"neurovol/pkg/orient"
	"neurovol/pkg/transform"
	"neurovol/pkg/voxels"
)

// newTestVolume builds a 3x4x5 float volume whose sample i holds i.
func newTestVolume(t *testing.T, m affine.Mat4, samples []float32) *Volume {
	t.Helper()
	h := Header{
		Dims:     [8]int{3, 3, 4, 5, 1, 1, 1, 1},
		PixDims:  [8]float64{1, 2, 2, 2},
		Datatype: voxels.Float32,
		SclSlope: 2,
		SclInter: 1,
		Affine:   m,
	}
	o, err := orient.Compute(m, [3]int{3, 4, 5}, [3]float64{2, 2, 2})
	require.NoError(t, err)
	return &Volume{
		Header:        h,
		Samples:       voxels.Buffer{Type: voxels.Float32, F32: samples},
		Frame4D:       0,
		NFrame4D:      1,
		NTotalFrame4D: 1,
		Orientation:   o,
	}
}

func ramp(n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(i)
	}
	return out
}

func identity2mm() affine.Mat4 {
	return affine.Mat4{{2, 0, 0, 0}, {0, 2, 0, 0}, {0, 0, 2, 0}, {0, 0, 0, 1}}
}

func TestGetValueIdentity(t *testing.T) {
	v := newTestVolume(t, identity2mm(), ramp(60))
	assert.Equal(t, [3]int{1, 2, 3}, v.Orientation.PermRAS)
	idx := 1 + 2*3 + 3*3*4
	assert.Equal(t, float64(idx)*2+1, v.GetValue(1, 2, 3, 0))
}

func TestGetValueLeftRightFlip(t *testing.T) {
	plain := newTestVolume(t, identity2mm(), ramp(60))

	// Same anatomy stored right-to-left: x reversed and the affine's first
	// column negated with the translation moved to the far edge.
	flippedData := make([]float32, 60)
	for z := 0; z < 5; z++ {
		for y := 0; y < 4; y++ {
			for x := 0; x < 3; x++ {
				flippedData[(2-x)+y*3+z*12] = float32(x + y*3 + z*12)
			}
		}
	}
	m := identity2mm()
	m[0][0] = -2
	m[0][3] = 4
	flipped := newTestVolume(t, m, flippedData)
	require.Equal(t, [3]int{-1, 2, 3}, flipped.Orientation.PermRAS)

	for _, mm := range [][3]float64{{0, 0, 0}, {2, 4, 6}, {4, 6, 8}, {0, 2, 2}} {
		a := transform.MMToVox(plain.Orientation, mm, true)
		b := transform.MMToVox(flipped.Orientation, mm, true)
		assert.Equal(t, plain.GetValue(a[0], a[1], a[2], 0), flipped.GetValue(b[0], b[1], b[2], 0), "mm %v", mm)
	}
}

func TestGetValueClampsAndMissingFrame(t *testing.T) {
	v := newTestVolume(t, identity2mm(), ramp(60))
	assert.Equal(t, v.GetValue(2, 3, 4, 0), v.GetValue(10, 10, 10, 0))
	assert.Equal(t, v.GetValue(0, 0, 0, 0), v.GetValue(-3, -1, -8, 0))
	assert.Equal(t, 0.0, v.GetValue(0, 0, 0, 1))
}

func TestGetValueColorLuminance(t *testing.T) {
	v := newTestVolume(t, identity2mm(), nil)
	rgb := make([]uint8, 60*3)
	rgb[0], rgb[1], rgb[2] = 100, 50, 25
	v.Samples = voxels.Buffer{Type: voxels.RGB24, U8: rgb}
	assert.InDelta(t, voxels.Luminance(100, 50, 25), v.GetValue(0, 0, 0, 0), 1e-12)
}

func TestRASFrameIdentityUntouched(t *testing.T) {
	v := newTestVolume(t, identity2mm(), ramp(60))
	ras := v.RASFrame(0)
	for i, val := range ras {
		require.Equal(t, float64(i)*2+1, val)
	}
}

func TestRASFrameFlipped(t *testing.T) {
	m := identity2mm()
	m[0][0] = -2
	v := newTestVolume(t, m, ramp(60))
	ras := v.RASFrame(0)
	// RAS x=0 is native x=2.
	assert.Equal(t, 2.0*2+1, ras[0])
	assert.Equal(t, 0.0*2+1, ras[2])
}

func TestSetFrameClamps(t *testing.T) {
	v := newTestVolume(t, identity2mm(), ramp(120))
	v.NFrame4D = 2
	v.SetFrame(5)
	assert.Equal(t, 1, v.Frame4D)
	v.SetFrame(-1)
	assert.Equal(t, 0, v.Frame4D)
	assert.Equal(t, float32(60), v.FrameSamples(1).F32[0])
}

func TestDeclaredFrames(t *testing.T) {
	h := Header{Dims: [8]int{5, 4, 4, 4, 3, 2, 1, 1}}
	assert.Equal(t, 6, h.DeclaredFrames())
	h.Dims[0] = 3
	assert.Equal(t, 1, h.DeclaredFrames())
	assert.Equal(t, 64, h.NVox3D())
}

func TestCloneIsDeep(t *testing.T) {
	v := newTestVolume(t, identity2mm(), ramp(60))
	v.Extensions = []Extension{{Kind: ExtText, Data: []byte("a")}}
	c := v.Clone()
	c.Samples.F32[0] = 99
	c.Extensions[0].Data[0] = 'b'
	assert.Equal(t, float32(0), v.Samples.F32[0])
	assert.Equal(t, byte('a'), v.Extensions[0].Data[0])
}

func TestContentIDIsDeterministic(t *testing.T) {
	h := Header{Dims: [8]int{3, 2, 2, 2}, Affine: affine.Identity(), Datatype: voxels.Uint8}
	a := ContentID(h, []byte{1, 2, 3})
	b := ContentID(h, []byte{1, 2, 3})
	c := ContentID(h, []byte{1, 2, 4})
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}
