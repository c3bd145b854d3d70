package formats

import (
	"encoding/binary"
	"fmt"
	"math"

	"neurovol/internal/binreader"
	"neurovol/internal/textheader"
	"neurovol/pkg/voxels"
)

// ECAT7 matrix data types.
const (
	ecatByte      = 1
	ecatIEEEFloat = 5
	ecatSunShort  = 6
	ecatSunLong   = 7
)

const (
	ecatBlock        = 512
	ecatDirEntries   = 31
	ecatDirEntrySize = 16
)

// parseECAT walks the matrix directory and converts every image matrix to
// scaled float32 samples, since the scale factor may change per frame.
// limit caps the frames decoded; zero decodes all.
func parseECAT(data []byte, limit int) (*Parsed, error) {
	if len(data) < 2*ecatBlock {
		return nil, fmt.Errorf("%w: %d bytes", ErrTruncated, len(data))
	}
	r := binreader.New(data, binary.BigEndian)
	if r.Int32(0) != ecatMagic {
		return nil, malformed("missing MATRIX signature")
	}
	if ft := r.Int16(50); ft < 1 || ft > 14 {
		return nil, malformed("file type %d", ft)
	}
	p := &Parsed{Format: ECAT, Header: defaultHeader(true)}
	h := &p.Header
	h.Descrip = textheader.Latin1(r.Bytes(14, 32))
	setDatatype(h, voxels.Float32)

	var (
		out       []byte
		frames    int
		durations []float64
		dims      [3]int
	)
directory:
	for pos := ecatBlock; ; pos += ecatBlock {
		if r.Int32(pos)+r.Int32(pos+12) != ecatDirEntries || r.Err() != nil {
			break
		}
		for e := 0; e < ecatDirEntries; e++ {
			start := int(r.Int32(pos+20+e*ecatDirEntrySize)) * ecatBlock
			if start == 0 || r.Err() != nil {
				break directory
			}
			if limit > 0 && frames == limit {
				break directory
			}
			sub := start - ecatBlock
			frameDims := [3]int{int(r.Uint16(sub + 4)), int(r.Uint16(sub + 6)), int(r.Uint16(sub + 8))}
			if frames == 0 {
				dims = frameDims
				for i := 0; i < 3; i++ {
					h.PixDims[i+1] = r.Float32(sub+34+4*i) * 10
				}
			} else if frameDims != dims {
				return nil, malformed("frame %d dims %v differ from %v", frames, frameDims, dims)
			}
			durations = append(durations, float64(r.Uint32(sub+46))/1000)
			samples, err := ecatFrame(r, int(r.Uint16(sub)), start, dims[0]*dims[1]*dims[2], r.Float32(sub+26))
			if err != nil {
				return nil, err
			}
			if r.Err() != nil {
				return nil, fmt.Errorf("%w: frame %d", ErrTruncated, frames)
			}
			out = append(out, samples...)
			frames++
		}
	}
	if frames == 0 {
		return nil, malformed("no image matrices")
	}

	sizes := []int{dims[0], dims[1], dims[2]}
	if frames > 1 {
		sizes = append(sizes, frames)
	}
	setDims(h, sizes)
	h.PixDims[4] = durations[0]
	for _, d := range durations[1:] {
		if d != durations[0] {
			p.note("frame durations vary")
			break
		}
	}
	for i := 0; i < 3; i++ {
		s := h.PixDims[i+1]
		h.Affine[i][i] = -s
		h.Affine[i][3] = float64(dims[i]-2) * 0.5 * s
	}
	h.SformCode = 1
	p.Raw = out
	return p, nil
}

// ecatFrame decodes one image matrix to little-endian float32.
func ecatFrame(r *binreader.Reader, dataType, start, n int, scale float64) ([]byte, error) {
	var width int
	switch dataType {
	case ecatByte:
		width = 1
	case ecatSunShort:
		width = 2
	case ecatIEEEFloat, ecatSunLong:
		width = 4
	default:
		return nil, unsupportedType("ecat data type %d", dataType)
	}
	if scale == 0 {
		scale = 1
	}
	out := make([]byte, 4*n)
	for i := 0; i < n; i++ {
		off := start + i*width
		var v float64
		switch dataType {
		case ecatByte:
			v = float64(r.Uint8(off))
		case ecatSunShort:
			v = float64(r.Int16(off))
		case ecatSunLong:
			v = float64(r.Int32(off))
		case ecatIEEEFloat:
			v = r.Float32(off)
		}
		binary.LittleEndian.PutUint32(out[4*i:], math.Float32bits(float32(v*scale)))
	}
	return out, nil
}
