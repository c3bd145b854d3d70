package formats

import (
	"encoding/binary"
	"fmt"

	"neurovol/internal/binreader"
	"neurovol/pkg/voxels"
)

const (
	v16HeaderSize = 6
	vmrHeaderSize = 8
)

// BrainVoyager files carry no spatial transform. Both use the sagittal
// convention: stored x runs inferior, y anterior-posterior, z right-left.
func brainVoyagerAffine(p *Parsed) {
	h := &p.Header
	d, s := h.Dims, h.PixDims
	h.Affine = [4][4]float64{
		{0, 0, -s[1], float64(d[1]-2) * 0.5 * s[1]},
		{-s[2], 0, 0, float64(d[2]-2) * 0.5 * s[2]},
		{0, -s[3], 0, float64(d[3]-2) * 0.5 * s[3]},
		{0, 0, 0, 1},
	}
	h.SformCode = 1
	p.note("no spatial transform stored, using sagittal default")
}

func parseV16(data []byte) (*Parsed, error) {
	if len(data) < v16HeaderSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrTruncated, len(data))
	}
	r := binreader.New(data, binary.LittleEndian)
	p := &Parsed{Format: V16, Header: defaultHeader(true)}
	setDims(&p.Header, []int{int(r.Uint16(0)), int(r.Uint16(2)), int(r.Uint16(4))})
	setDatatype(&p.Header, voxels.Uint16)
	if want := v16HeaderSize + FrameBytes(p.Header); want != len(data) {
		p.note("expected %d bytes, found %d", want, len(data))
	}
	brainVoyagerAffine(p)
	p.Raw = data[v16HeaderSize:]
	return p, nil
}

func parseVMR(data []byte) (*Parsed, error) {
	if len(data) < vmrHeaderSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrTruncated, len(data))
	}
	r := binreader.New(data, binary.LittleEndian)
	p := &Parsed{Format: VMR, Header: defaultHeader(true)}
	h := &p.Header
	version := r.Uint16(0)
	setDims(h, []int{int(r.Uint16(2)), int(r.Uint16(4)), int(r.Uint16(6))})
	setDatatype(h, voxels.Uint8)
	n := FrameBytes(*h)
	if version >= 4 {
		if spacing, ok := vmrSpacing(r, vmrHeaderSize+n); ok {
			copy(h.PixDims[1:4], spacing[:])
		} else {
			p.note("post-header unreadable, assuming 1mm voxels")
		}
	} else {
		p.note("version %d has no voxel sizes", version)
	}
	brainVoyagerAffine(p)
	p.Raw = data[vmrHeaderSize:min(vmrHeaderSize+n, len(data))]
	return p, nil
}

// vmrSpacing reads the voxel sizes from the version 4 post-header at pos,
// skipping any stored spatial transforms.
func vmrSpacing(r *binreader.Reader, pos int) ([3]float64, bool) {
	var out [3]float64
	nTransforms := int(r.Uint32(pos + 88))
	pos += 92
	skipString := func() {
		for pos < r.Len() && r.Uint8(pos) != 0 {
			pos++
		}
		pos++
	}
	for i := 0; i < nTransforms && r.Err() == nil; i++ {
		skipString()
		pos += 4
		skipString()
		pos += 4 + 4*int(r.Uint32(pos))
	}
	for i := range out {
		out[i] = r.Float32(pos + 2 + 4*i)
	}
	return out, r.Err() == nil && out[0] > 0 && out[1] > 0 && out[2] > 0
}
