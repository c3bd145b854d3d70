package voxels

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVectorsToRGBA(t *testing.T) {
	nan := float32(math.NaN())
	in := Buffer{Type: Float32, F32: []float32{
		0.5, -0.02, nan, // x
		-0.25, 0.03, 0, // y
		0, 0.04, 0.9, // z
	}}
	out, err := VectorsToRGBA(in, 3)
	require.NoError(t, err)
	assert.Equal(t, RGBA32, out.Type)
	assert.Equal(t, 3, out.Len())
	// Magnitudes below one keep unit scaling.
	assert.Equal(t, []uint8{127, 63, 0, 249}, out.U8[0:4])
	assert.Equal(t, []uint8{5, 7, 10, 0}, out.U8[4:8])
	assert.Equal(t, []uint8{0, 0, 229, 252}, out.U8[8:12])

	big := Buffer{Type: Int16, I16: []int16{-10, 0, 0}}
	out, err = VectorsToRGBA(big, 1)
	require.NoError(t, err)
	assert.Equal(t, []uint8{255, 0, 0, 248}, out.U8)
}

func TestVectorsToRGBARejects(t *testing.T) {
	_, err := VectorsToRGBA(Buffer{Type: Float32, F32: make([]float32, 5)}, 2)
	assert.Error(t, err)

	_, err = VectorsToRGBA(Buffer{Type: RGB24, U8: make([]uint8, 9)}, 1)
	assert.ErrorIs(t, err, ErrUnsupportedDatatype)
}
