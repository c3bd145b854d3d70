package voxels

import (
	"encoding/binary"
	"fmt"
	"math"

	"golang.org/x/exp/constraints"
)

type number interface {
	constraints.Integer | constraints.Float
}

// Buffer is one flat, type-homogeneous sample buffer in host order.
// Exactly one of the typed slices is populated, selected by Type.
// Color data is interleaved in U8; complex input keeps its imaginary
// part in Imag next to the real part in F32.
type Buffer struct {
	Type Datatype
	U8   []uint8
	I16  []int16
	U16  []uint16
	F32  []float32
	F64  []float64
	Imag []float32
}

// Channels returns the number of interleaved values per voxel.
func (b Buffer) Channels() int {
	switch b.Type {
	case RGB24:
		return 3
	case RGBA32:
		return 4
	}
	return 1
}

// Len returns the number of voxels held.
func (b Buffer) Len() int {
	switch b.Type {
	case Uint8, RGB24, RGBA32:
		return len(b.U8) / b.Channels()
	case Int16:
		return len(b.I16)
	case Uint16:
		return len(b.U16)
	case Float32:
		return len(b.F32)
	case Float64:
		return len(b.F64)
	}
	return 0
}

// At returns the unscaled value of voxel i. Color voxels report
// Rec. 709 luminance.
func (b Buffer) At(i int) float64 {
	switch b.Type {
	case Uint8:
		return float64(b.U8[i])
	case RGB24, RGBA32:
		c := b.Channels()
		return Luminance(b.U8[i*c], b.U8[i*c+1], b.U8[i*c+2])
	case Int16:
		return float64(b.I16[i])
	case Uint16:
		return float64(b.U16[i])
	case Float32:
		return float64(b.F32[i])
	case Float64:
		return b.F64[i]
	}
	return 0
}

// Luminance weights red, green and blue channels.
func Luminance(r, g, b uint8) float64 {
	return 0.2126*float64(r) + 0.7152*float64(g) + 0.0722*float64(b)
}

// StoredType is the datatype Bytes serializes: Complex64 when an imaginary
// part is present, Type otherwise.
func (b Buffer) StoredType() Datatype {
	if b.Imag != nil && b.Type == Float32 {
		return Complex64
	}
	return b.Type
}

// Slice returns a view of n voxels starting at voxel start. It shares memory
// with b.
func (b Buffer) Slice(start, n int) Buffer {
	if start < 0 {
		start = 0
	}
	end := start + n
	if end > b.Len() {
		end = b.Len()
	}
	if start > end {
		start = end
	}
	out := Buffer{Type: b.Type}
	c := b.Channels()
	switch b.Type {
	case Uint8, RGB24, RGBA32:
		out.U8 = b.U8[start*c : end*c]
	case Int16:
		out.I16 = b.I16[start:end]
	case Uint16:
		out.U16 = b.U16[start:end]
	case Float32:
		out.F32 = b.F32[start:end]
		if b.Imag != nil {
			out.Imag = b.Imag[start:end]
		}
	case Float64:
		out.F64 = b.F64[start:end]
	}
	return out
}

// Clone returns a deep copy.
func (b Buffer) Clone() Buffer {
	out := Buffer{Type: b.Type}
	out.U8 = cloneSlice(b.U8)
	out.I16 = cloneSlice(b.I16)
	out.U16 = cloneSlice(b.U16)
	out.F32 = cloneSlice(b.F32)
	out.F64 = cloneSlice(b.F64)
	out.Imag = cloneSlice(b.Imag)
	return out
}

func cloneSlice[T number](s []T) []T {
	if s == nil {
		return nil
	}
	out := make([]T, len(s))
	copy(out, s)
	return out
}

// Bytes serializes the buffer in the given byte order as StoredType.
func (b Buffer) Bytes(order binary.ByteOrder) []byte {
	switch b.Type {
	case Uint8, RGB24, RGBA32:
		out := make([]byte, len(b.U8))
		copy(out, b.U8)
		return out
	case Int16:
		out := make([]byte, 2*len(b.I16))
		for i, v := range b.I16 {
			order.PutUint16(out[2*i:], uint16(v))
		}
		return out
	case Uint16:
		out := make([]byte, 2*len(b.U16))
		for i, v := range b.U16 {
			order.PutUint16(out[2*i:], v)
		}
		return out
	case Float32:
		if b.Imag != nil {
			out := make([]byte, 8*len(b.F32))
			for i, v := range b.F32 {
				order.PutUint32(out[8*i:], math.Float32bits(v))
				order.PutUint32(out[8*i+4:], math.Float32bits(b.Imag[i]))
			}
			return out
		}
		out := make([]byte, 4*len(b.F32))
		for i, v := range b.F32 {
			order.PutUint32(out[4*i:], math.Float32bits(v))
		}
		return out
	case Float64:
		out := make([]byte, 8*len(b.F64))
		for i, v := range b.F64 {
			order.PutUint64(out[8*i:], math.Float64bits(v))
		}
		return out
	}
	return nil
}

// Float64s copies the unscaled voxel values into a new slice.
func (b Buffer) Float64s() []float64 {
	switch b.Type {
	case Int16:
		return widen[int16, float64](b.I16)
	case Uint16:
		return widen[uint16, float64](b.U16)
	case Float32:
		return widen[float32, float64](b.F32)
	case Float64:
		return cloneSlice(b.F64)
	}
	out := make([]float64, b.Len())
	for i := range out {
		out[i] = b.At(i)
	}
	return out
}

func widen[S, D number](src []S) []D {
	out := make([]D, len(src))
	for i, v := range src {
		out[i] = D(v)
	}
	return out
}

func (b Buffer) String() string {
	return fmt.Sprintf("%s[%d]", b.StoredType(), b.Len())
}
