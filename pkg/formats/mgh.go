package formats

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"neurovol/internal/binreader"
	"neurovol/internal/textheader"
	"neurovol/pkg/volume"
	"neurovol/pkg/voxels"
)

// mghDataOffset is where MGH samples start.
const mghDataOffset = 284

// MGH footer tag holding a lookup table file name.
const mghTagLUT = 1

var mghTypes = map[uint32]voxels.Datatype{
	0: voxels.Uint8,
	1: voxels.Int32,
	3: voxels.Float32,
	4: voxels.Int16,
}

// Units: millimeters and milliseconds.
const unitsMMMillis = 2 | 16

func parseMGH(data []byte) (*Parsed, error) {
	if len(data) < mghDataOffset {
		return nil, fmt.Errorf("%w: %d byte header", ErrTruncated, len(data))
	}
	r := binreader.New(data, binary.BigEndian)
	if v := r.Int32(0); v != 1 {
		return nil, malformed("version %d", v)
	}
	p := &Parsed{Format: MGH, Header: defaultHeader(false)}
	h := &p.Header

	dims := []int{int(r.Int32(4)), int(r.Int32(8)), int(r.Int32(12)), int(r.Int32(16))}
	for i, d := range dims {
		if d < 1 {
			return nil, malformed("dimension %d is %d", i, d)
		}
	}
	if dims[3] > 1 {
		setDims(h, dims)
	} else {
		setDims(h, dims[:3])
	}
	code := r.Uint32(20)
	dt, ok := mghTypes[code]
	if !ok {
		return nil, unsupportedType("mgh type %d", code)
	}
	setDatatype(h, dt)

	spacing := [3]float64{1, 1, 1}
	dir := [3][3]float64{{-1, 0, 0}, {0, 0, -1}, {0, 1, 0}} // coronal: x left, y inferior, z anterior
	var centre [3]float64
	if r.Int16(28) > 0 {
		for i := 0; i < 3; i++ {
			spacing[i] = r.Float32(30 + 4*i)
			for k := 0; k < 3; k++ {
				dir[i][k] = r.Float32(42 + 12*i + 4*k)
			}
			centre[i] = r.Float32(78 + 4*i)
		}
	} else {
		p.note("no valid RAS orientation, using coronal default")
	}
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTruncated, err)
	}

	// dir[j] is the direction of voxel axis j, stored as column j.
	for j := 0; j < 3; j++ {
		s := math.Abs(spacing[j])
		h.PixDims[j+1] = s
		for i := 0; i < 3; i++ {
			h.Affine[i][j] = dir[j][i] * s
		}
	}
	for i := 0; i < 3; i++ {
		t := centre[i]
		for j := 0; j < 3; j++ {
			t -= h.Affine[i][j] * float64(dims[j]) / 2
		}
		h.Affine[i][3] = t
	}
	h.SformCode = 1
	h.XYZTUnits = unitsMMMillis

	end := mghDataOffset + FrameBytes(*h)*h.DeclaredFrames()
	p.Raw = data[mghDataOffset:min(end, len(data))]
	if end < len(data) {
		readMGHFooter(p, data[end:])
	}
	return p, nil
}

// readMGHFooter picks up the scan parameters and tags after the samples.
// TR, flip angle, TE, TI and FOV come first as big-endian float32.
func readMGHFooter(p *Parsed, footer []byte) {
	r := binreader.New(footer, binary.BigEndian)
	if tr := r.Float32(0); r.Err() == nil && tr > 0 {
		p.Header.PixDims[4] = tr
	}
	const tagsStart = 20
	if len(footer) <= tagsStart {
		return
	}
	tags := footer[tagsStart:]
	p.Extensions = append(p.Extensions, volume.Extension{Kind: volume.ExtMGHTags, Code: 0, Data: tags})

	tr := binreader.New(tags, binary.BigEndian)
	for pos := 0; pos+12 <= len(tags); {
		tag := tr.Int32(pos)
		n := int(tr.Int64(pos + 4))
		pos += 12
		if n < 0 || pos+n > len(tags) {
			return
		}
		if tag == mghTagLUT {
			name := strings.ToLower(strings.TrimSpace(textheader.Latin1(tags[pos : pos+n])))
			if strings.HasSuffix(name, "lut.txt") {
				p.Header.IntentCode = volume.IntentLabel
			}
		}
		pos += n
	}
}
