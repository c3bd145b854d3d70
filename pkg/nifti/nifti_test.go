package nifti

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"neurovol/pkg/affine"
	"neurovol/pkg/volume"
	"neurovol/pkg/voxels"
)

func sampleVolume(little bool) *volume.Volume {
	return &volume.Volume{
		Header: volume.Header{
			Dims:         [8]int{3, 2, 3, 4, 1, 1, 1, 1},
			PixDims:      [8]float64{1, 1.5, 2, 2.5, 0, 0, 0, 0},
			Datatype:     voxels.Int16,
			BitsPerVoxel: 16,
			SclSlope:     2,
			SclInter:     -1,
			CalMin:       0,
			CalMax:       100,
			Affine:       affine.Mat4{{-1.5, 0, 0, 10}, {0, 2, 0, -20}, {0, 0, 2.5, 30}, {0, 0, 0, 1}},
			Descrip:      "test volume",
			LittleEndian: little,
		},
		Samples:  voxels.Buffer{Type: voxels.Int16, I16: make([]int16, 24)},
		NFrame4D: 1,
	}
}

func TestWriteLayout(t *testing.T) {
	for _, little := range []bool{true, false} {
		v := sampleVolume(little)
		v.Samples.I16[1] = 0x0102
		out := Write(v)
		require.Len(t, out, 352+48)

		order := voxels.ByteOrder(little)
		assert.Equal(t, uint32(348), order.Uint32(out[0:]))
		assert.Equal(t, byte('r'), out[38])
		assert.Equal(t, uint16(3), order.Uint16(out[40:]))
		assert.Equal(t, uint16(4), order.Uint16(out[46:]))
		assert.Equal(t, uint16(voxels.Int16), order.Uint16(out[70:]))
		assert.Equal(t, uint16(16), order.Uint16(out[72:]))
		assert.Equal(t, float32(1.5), math.Float32frombits(order.Uint32(out[80:])))
		assert.Equal(t, float32(352), math.Float32frombits(order.Uint32(out[108:])))
		assert.Equal(t, float32(2), math.Float32frombits(order.Uint32(out[112:])))
		assert.Equal(t, byte(10), out[123])
		assert.Equal(t, float32(100), math.Float32frombits(order.Uint32(out[124:])))
		assert.Equal(t, "test volume", string(out[148:159]))
		assert.Equal(t, uint16(1), order.Uint16(out[254:]))
		assert.Equal(t, float32(-1.5), math.Float32frombits(order.Uint32(out[280:])))
		assert.Equal(t, float32(-20), math.Float32frombits(order.Uint32(out[296+12:])))
		assert.Equal(t, float32(2.5), math.Float32frombits(order.Uint32(out[312+8:])))
		assert.Equal(t, []byte("n+1\x00"), out[344:348])
		assert.Equal(t, []byte{0, 0, 0, 0}, out[348:352])
		assert.Equal(t, uint16(0x0102), order.Uint16(out[352+2:]))
	}
}

func TestDecodeRoundTrip(t *testing.T) {
	v := sampleVolume(false)
	out := Write(v)
	h, order, err := Decode(out)
	require.NoError(t, err)
	assert.Equal(t, binary.BigEndian, order)
	assert.True(t, h.HasMagic())
	assert.True(t, h.IsSingleFile())

	back := ToHeader(h, order)
	assert.Equal(t, v.Header.Dims, back.Dims)
	assert.Equal(t, v.Header.Affine, back.Affine)
	assert.Equal(t, "test volume", back.Descrip)
	assert.False(t, back.LittleEndian)
	assert.Equal(t, 1, back.SformCode)
	assert.Equal(t, Encode(h, order), out[:HeaderSize])
}

func TestDecodeErrors(t *testing.T) {
	_, _, err := Decode(make([]byte, 100))
	assert.True(t, errors.Is(err, ErrShortHeader))
	_, _, err = Decode(make([]byte, 400))
	assert.True(t, errors.Is(err, ErrNotNIfTI))
}

func TestExtensionsRoundTrip(t *testing.T) {
	v := sampleVolume(true)
	v.Extensions = []volume.Extension{
		{Kind: volume.ExtAFNI, Code: ECodeAFNIHead, Data: []byte("type = string-attribute")},
		{Kind: volume.ExtText, Code: ECodeComment, Data: []byte("note")},
	}
	out := Write(v)
	h, order, err := Decode(out)
	require.NoError(t, err)
	voxOffset := int(h.VoxOffset)
	assert.Equal(t, 352+32+16, voxOffset)
	assert.Len(t, out, voxOffset+48)

	exts := Extensions(out, order, voxOffset)
	require.Len(t, exts, 2)
	assert.Equal(t, volume.ExtAFNI, exts[0].Kind)
	assert.Equal(t, "type = string-attribute", string(exts[0].Data[:23]))
	assert.Equal(t, ECodeComment, exts[1].Code)
}

func TestFromVolumePartialFrames(t *testing.T) {
	v := sampleVolume(true)
	v.Header.Dims = [8]int{4, 2, 3, 4, 10, 1, 1, 1}
	v.Samples.I16 = make([]int16, 24*3)
	v.NFrame4D = 3
	h := FromVolume(v)
	assert.Equal(t, int16(3), h.Dim[4])
	assert.Equal(t, int16(4), h.Dim[0])
}

func TestWriteComplex(t *testing.T) {
	v := sampleVolume(true)
	v.Samples = voxels.Buffer{Type: voxels.Float32, F32: make([]float32, 24), Imag: make([]float32, 24)}
	out := Write(v)
	assert.Equal(t, uint16(voxels.Complex64), binary.LittleEndian.Uint16(out[70:]))
	assert.Len(t, out, 352+24*8)
}
