package formats

import (
	"errors"
	"fmt"

	"neurovol/pkg/nifti"
	"neurovol/pkg/voxels"
)

// minSingleFileOffset is the smallest legal vox_offset of an "n+1" file:
// the header plus the four extension flag bytes.
const minSingleFileOffset = nifti.HeaderSize + 4

func parseNIfTI(data, paired []byte) (*Parsed, error) {
	h1, order, err := nifti.Decode(data)
	switch {
	case errors.Is(err, nifti.ErrShortHeader):
		return nil, fmt.Errorf("%w: %v", ErrTruncated, err)
	case err != nil:
		return nil, fmt.Errorf("%w: %v", ErrMalformedHeader, err)
	}
	p := &Parsed{Format: NIfTI, Header: nifti.ToHeader(h1, order)}
	if !h1.HasMagic() {
		p.note("no NIfTI magic, reading as Analyze 7.5")
	}

	off := int(p.Header.VoxOffset)
	src, extEnd := data, off
	switch {
	case h1.IsSingleFile():
		if off < minSingleFileOffset {
			p.note("vox_offset %d below %d", off, minSingleFileOffset)
			off = minSingleFileOffset
			extEnd = off
		}
	case paired != nil:
		src, extEnd = paired, len(data)
	case len(data) <= minSingleFileOffset:
		return nil, ErrMissingPair
	default:
		// A paired header with the image appended.
		if off < nifti.HeaderSize {
			off = nifti.HeaderSize
		}
	}
	if off > len(src) {
		return nil, fmt.Errorf("%w: vox_offset %d beyond %d bytes", ErrTruncated, off, len(src))
	}
	p.Raw = src[off:]
	p.Extensions = nifti.Extensions(data, order, extEnd)

	h := &p.Header
	if h.Datatype != voxels.Uint8 && h.CalMin == 0 && h.CalMax == 255 {
		p.note("cal_min/cal_max 0/255 on %s data ignored", h.Datatype)
		h.CalMax = 0
	}
	return p, nil
}
