package formats

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"neurovol/pkg/voxels"
)

type ecatFrameFixture struct {
	dataType uint16
	scale    float32
	duration uint32
	values   []int16
}

// ecatFile lays out a main header, one directory block and, per frame, a
// subheader block followed by a data block.
func ecatFile(frames ...ecatFrameFixture) []byte {
	be := binary.BigEndian
	b := make([]byte, 2*ecatBlock+2*ecatBlock*len(frames))
	copy(b, "MATRIX72v")
	copy(b[14:], "scan.v")
	be.PutUint16(b[50:], 7)

	dir := b[ecatBlock:]
	be.PutUint32(dir[0:], 31)
	for i, f := range frames {
		dataBlock := 3 + 2*i
		be.PutUint32(dir[20+i*ecatDirEntrySize:], uint32(dataBlock))

		sub := b[(dataBlock-1)*ecatBlock:]
		be.PutUint16(sub[0:], f.dataType)
		be.PutUint16(sub[4:], 2)
		be.PutUint16(sub[6:], 2)
		be.PutUint16(sub[8:], 1)
		be.PutUint32(sub[26:], math.Float32bits(f.scale))
		be.PutUint32(sub[34:], math.Float32bits(0.2))
		be.PutUint32(sub[38:], math.Float32bits(0.2))
		be.PutUint32(sub[42:], math.Float32bits(0.3))
		be.PutUint32(sub[46:], f.duration)

		data := b[dataBlock*ecatBlock:]
		for j, v := range f.values {
			be.PutUint16(data[2*j:], uint16(v))
		}
	}
	return b
}

func floats32(raw []byte) []float32 {
	out := make([]float32, len(raw)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:]))
	}
	return out
}

func TestParseECAT(t *testing.T) {
	data := ecatFile(
		ecatFrameFixture{dataType: ecatSunShort, scale: 0.5, duration: 60000, values: []int16{-2, 4, 6, 8}},
		ecatFrameFixture{dataType: ecatSunShort, scale: 2, duration: 30000, values: []int16{1, 2, 3, 4}},
	)
	p, err := Parse("pet.v", data, nil, Options{})
	require.NoError(t, err)

	h := p.Header
	assert.Equal(t, voxels.Float32, h.Datatype)
	assert.True(t, h.LittleEndian)
	assert.Equal(t, [8]int{4, 2, 2, 1, 2, 1, 1, 1}, h.Dims)
	assert.Equal(t, "scan.v", h.Descrip)
	assert.Equal(t, []float32{-1, 2, 3, 4, 2, 4, 6, 8}, floats32(p.Raw))
	assert.InDelta(t, 2, h.PixDims[1], 1e-5)
	assert.InDelta(t, 3, h.PixDims[3], 1e-5)
	assert.Equal(t, 60.0, h.PixDims[4])
	assert.InDelta(t, -2, h.Affine[0][0], 1e-5)
	assert.InDelta(t, 0, h.Affine[0][3], 1e-5)
	assert.InDelta(t, -1.5, h.Affine[2][3], 1e-5)
	assert.Contains(t, p.Notes, "frame durations vary")
}

func TestParseECATFrameLimit(t *testing.T) {
	f := ecatFrameFixture{dataType: ecatByte, scale: 1, duration: 1000}
	p, err := Parse("pet.v", ecatFile(f, f, f), nil, Options{LimitFrames4D: 1})
	require.NoError(t, err)
	assert.Equal(t, 3, p.Header.Dims[0])
	assert.Len(t, p.Raw, 16)
}

func TestParseECATErrors(t *testing.T) {
	data := ecatFile(ecatFrameFixture{dataType: 3, scale: 1})
	_, err := Parse("pet.v", data, nil, Options{})
	assert.ErrorIs(t, err, ErrUnsupportedDatatype)

	data = ecatFile()
	_, err = Parse("pet.v", data, nil, Options{})
	assert.ErrorIs(t, err, ErrMalformedHeader)

	bad := ecatFile(ecatFrameFixture{dataType: ecatByte, scale: 1})
	binary.BigEndian.PutUint16(bad[50:], 99)
	_, err = Parse("pet.v", bad, nil, Options{})
	assert.ErrorIs(t, err, ErrMalformedHeader)
}
