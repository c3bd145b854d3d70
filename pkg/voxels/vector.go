package voxels

import (
	"fmt"
	"math"
)

// VectorsToRGBA packs a three-frame vector field of nVox voxels per frame
// into one RGBA32 frame. Red, green and blue hold the absolute x, y and z
// components scaled so the largest magnitude maps to 255. Alpha is 248
// plus bit 0, 1 or 2 for each positive component, or 0 where the summed
// magnitude is below 0.1. NaN components count as zero.
func VectorsToRGBA(b Buffer, nVox int) (Buffer, error) {
	if b.Type.IsColor() || b.Imag != nil {
		return Buffer{}, fmt.Errorf("%w: vectors from %s", ErrUnsupportedDatatype, b.StoredType())
	}
	if nVox <= 0 || b.Len() < 3*nVox {
		return Buffer{}, fmt.Errorf("vector field needs %d values, have %d", 3*nVox, b.Len())
	}
	v := b.Float64s()[:3*nVox]
	peak := 1.0
	for i, f := range v {
		if math.IsNaN(f) {
			v[i] = 0
			continue
		}
		peak = math.Max(peak, math.Abs(f))
	}
	scale := 255 / peak
	out := make([]uint8, 4*nVox)
	for i := 0; i < nVox; i++ {
		alpha := uint8(248)
		sum := 0.0
		for c := 0; c < 3; c++ {
			f := v[i+c*nVox]
			out[4*i+c] = uint8(math.Abs(f) * scale)
			sum += math.Abs(f)
			if f > 0 {
				alpha += 1 << c
			}
		}
		if sum < 0.1 {
			alpha = 0
		}
		out[4*i+3] = alpha
	}
	return Buffer{Type: RGBA32, U8: out}, nil
}
