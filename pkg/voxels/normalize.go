package voxels

import (
	"encoding/binary"
	"fmt"
	"math"
)

// ByteOrder maps a little-endian flag to an encoding/binary order.
func ByteOrder(littleEndian bool) binary.ByteOrder {
	if littleEndian {
		return binary.LittleEndian
	}
	return binary.BigEndian
}

// Normalize converts raw stored samples into a host-order Buffer.
//
// Multi-byte samples are decoded with the stored byte order, which swaps
// them when it differs from the host. Types without a native Go buffer are
// promoted: Int8 to Int16, Binary to Uint8 (least significant bit first),
// Int32, Uint32, Int64 and Uint64 to Float64, and Complex64 to a Float32 real part
// plus Imag. Color types are never swapped. nVox caps the number of voxels
// decoded; zero or negative decodes everything raw holds. A trailing partial
// sample is ignored.
//
// raw is never modified. Uint8 and color data alias raw.
func Normalize(raw []byte, littleEndian bool, dt Datatype, nVox int) (Buffer, error) {
	order := ByteOrder(littleEndian)
	limit := func(width int) int {
		n := len(raw) / width
		if nVox > 0 && nVox < n {
			n = nVox
		}
		return n
	}
	switch dt {
	case Binary:
		n := len(raw) * 8
		if nVox > 0 && nVox < n {
			n = nVox
		}
		return Buffer{Type: Uint8, U8: UnpackBits(raw, n, false)}, nil
	case Uint8:
		return Buffer{Type: Uint8, U8: raw[:limit(1)]}, nil
	case RGB24:
		return Buffer{Type: RGB24, U8: raw[:3*limit(3)]}, nil
	case RGBA32:
		return Buffer{Type: RGBA32, U8: raw[:4*limit(4)]}, nil
	case Int8:
		n := limit(1)
		out := make([]int16, n)
		for i := range out {
			out[i] = int16(int8(raw[i]))
		}
		return Buffer{Type: Int16, I16: out}, nil
	case Int16:
		return Buffer{Type: Int16, I16: decode(raw, limit(2), 2, func(b []byte) int16 {
			return int16(order.Uint16(b))
		})}, nil
	case Uint16:
		return Buffer{Type: Uint16, U16: decode(raw, limit(2), 2, order.Uint16)}, nil
	case Int32:
		return Buffer{Type: Float64, F64: decode(raw, limit(4), 4, func(b []byte) float64 {
			return float64(int32(order.Uint32(b)))
		})}, nil
	case Uint32:
		return Buffer{Type: Float64, F64: decode(raw, limit(4), 4, func(b []byte) float64 {
			return float64(order.Uint32(b))
		})}, nil
	case Int64:
		return Buffer{Type: Float64, F64: decode(raw, limit(8), 8, func(b []byte) float64 {
			return float64(int64(order.Uint64(b)))
		})}, nil
	case Uint64:
		return Buffer{Type: Float64, F64: decode(raw, limit(8), 8, func(b []byte) float64 {
			return float64(order.Uint64(b))
		})}, nil
	case Float32:
		return Buffer{Type: Float32, F32: decode(raw, limit(4), 4, func(b []byte) float32 {
			return math.Float32frombits(order.Uint32(b))
		})}, nil
	case Float64:
		return Buffer{Type: Float64, F64: decode(raw, limit(8), 8, func(b []byte) float64 {
			return math.Float64frombits(order.Uint64(b))
		})}, nil
	case Complex64:
		n := limit(8)
		re := make([]float32, n)
		im := make([]float32, n)
		for i := 0; i < n; i++ {
			re[i] = math.Float32frombits(order.Uint32(raw[8*i:]))
			im[i] = math.Float32frombits(order.Uint32(raw[8*i+4:]))
		}
		return Buffer{Type: Float32, F32: re, Imag: im}, nil
	}
	return Buffer{}, fmt.Errorf("%w: %s", ErrUnsupportedDatatype, dt)
}

func decode[T number](raw []byte, n, width int, conv func([]byte) T) []T {
	out := make([]T, n)
	for i := range out {
		out[i] = conv(raw[i*width : (i+1)*width])
	}
	return out
}

// UnpackBits expands n packed bits into one byte per bit. msbFirst selects
// the bit order within each byte.
func UnpackBits(packed []byte, n int, msbFirst bool) []byte {
	if n > len(packed)*8 {
		n = len(packed) * 8
	}
	out := make([]byte, n)
	for i := range out {
		shift := uint(i % 8)
		if msbFirst {
			shift = 7 - shift
		}
		out[i] = (packed[i/8] >> shift) & 1
	}
	return out
}
