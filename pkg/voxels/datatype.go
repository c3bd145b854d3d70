// Package voxels turns raw sample bytes into a typed, host-order buffer.
package voxels

import (
	"errors"
	"fmt"
)

// Datatype is a NIfTI-1 datatype code.
type Datatype int

// NIfTI-1 datatype codes.
const (
	Binary     Datatype = 1
	Uint8      Datatype = 2
	Int16      Datatype = 4
	Int32      Datatype = 8
	Float32    Datatype = 16
	Complex64  Datatype = 32
	Float64    Datatype = 64
	RGB24      Datatype = 128
	Int8       Datatype = 256
	Uint16     Datatype = 512
	Uint32     Datatype = 768
	Int64      Datatype = 1024
	Uint64     Datatype = 1280
	Float128   Datatype = 1536
	Complex128 Datatype = 1792
	RGBA32     Datatype = 2304
)

// ErrUnsupportedDatatype is returned for codes that cannot be normalized.
var ErrUnsupportedDatatype = errors.New("unsupported datatype")

var datatypeInfo = map[Datatype]struct {
	name string
	bits int
}{
	Binary:     {"binary", 1},
	Uint8:      {"uint8", 8},
	Int16:      {"int16", 16},
	Int32:      {"int32", 32},
	Float32:    {"float32", 32},
	Complex64:  {"complex64", 64},
	Float64:    {"float64", 64},
	RGB24:      {"rgb24", 24},
	Int8:       {"int8", 8},
	Uint16:     {"uint16", 16},
	Uint32:     {"uint32", 32},
	Int64:      {"int64", 64},
	Uint64:     {"uint64", 64},
	Float128:   {"float128", 128},
	Complex128: {"complex128", 128},
	RGBA32:     {"rgba32", 32},
}

// Bits returns the stored width of one sample, or 0 for unknown codes.
func (d Datatype) Bits() int {
	return datatypeInfo[d].bits
}

func (d Datatype) String() string {
	if info, ok := datatypeInfo[d]; ok {
		return info.name
	}
	return fmt.Sprintf("datatype(%d)", int(d))
}

// Supported reports whether Normalize accepts the code.
func (d Datatype) Supported() bool {
	switch d {
	case Binary, Uint8, Int8, Int16, Uint16, Int32, Uint32, Int64, Uint64,
		Float32, Float64, Complex64, RGB24, RGBA32:
		return true
	}
	return false
}

// IsColor reports whether samples are interleaved color channels.
func (d Datatype) IsColor() bool {
	return d == RGB24 || d == RGBA32
}
