package formats

import (
	"bytes"
	"testing"

	"github.com/klauspost/compress/zlib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"neurovol/pkg/voxels"
)

func mhaHeader(extra string) string {
	return "ObjectType = Image\n" +
		"NDims = 3\n" +
		"BinaryData = True\n" +
		"BinaryDataByteOrderMSB = False\n" +
		"TransformMatrix = 1 0 0 0 1 0 0 0 1\n" +
		"Offset = 1 2 3\n" +
		"ElementSpacing = 0.5 0.5 2\n" +
		"DimSize = 2 2 1\n" +
		"AnatomicalOrientation = RAI\n" +
		extra
}

func TestParseMHA(t *testing.T) {
	body := make([]byte, 16)
	data := append([]byte(mhaHeader("ElementType = MET_FLOAT\nElementDataFile = LOCAL\n")), body...)
	p, err := Parse("ct.mha", data, nil, Options{})
	require.NoError(t, err)

	h := p.Header
	assert.Equal(t, voxels.Float32, h.Datatype)
	assert.True(t, h.LittleEndian)
	assert.Equal(t, [8]int{3, 2, 2, 1, 1, 1, 1, 1}, h.Dims)
	assert.Equal(t, [4]float64{-0.5, 0, 0, -1}, h.Affine[0])
	assert.Equal(t, [4]float64{0, -0.5, 0, -2}, h.Affine[1])
	assert.Equal(t, [4]float64{0, 0, 2, 3}, h.Affine[2])
	assert.Equal(t, body, p.Raw)
	require.Len(t, p.Extensions, 1)
	assert.Contains(t, string(p.Extensions[0].Data), "AnatomicalOrientation")
}

func TestParseMHACompressed(t *testing.T) {
	body := []byte{1, 2, 3, 4}
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	_, err := zw.Write(body)
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	head := mhaHeader("CompressedData = True\nElementType = MET_UCHAR\nElementDataFile = LOCAL\n")
	p, err := Parse("ct.mha", append([]byte(head), buf.Bytes()...), nil, Options{})
	require.NoError(t, err)
	assert.Equal(t, body, p.Raw)
}

func TestParseMHDDetached(t *testing.T) {
	head := mhaHeader("ElementType = MET_SHORT\nElementDataFile = ct.raw\n")
	p, err := Parse("ct.mhd", []byte(head), make([]byte, 8), Options{})
	require.NoError(t, err)
	assert.Equal(t, voxels.Int16, p.Header.Datatype)
	assert.Len(t, p.Raw, 8)

	_, err = Parse("ct.mhd", []byte(head), nil, Options{})
	assert.ErrorIs(t, err, ErrMissingPair)
}

func TestParseMHAErrors(t *testing.T) {
	_, err := Parse("ct.mha", []byte(mhaHeader("ElementType = MET_LONG\nElementDataFile = LOCAL\n")), nil, Options{})
	assert.ErrorIs(t, err, ErrUnsupportedDatatype)

	_, err = Parse("ct.mha", []byte(mhaHeader("ElementType = MET_SHORT\n")), nil, Options{})
	assert.ErrorIs(t, err, ErrMalformedHeader)
}
