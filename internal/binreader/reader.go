// Package binreader provides bounded, byte-order-aware field access for the
// fixed binary headers of volume formats.
package binreader

import (
	"encoding/binary"
	"errors"
	"math"
)

// ErrShort is recorded when a read falls outside the buffer.
var ErrShort = errors.New("read beyond end of buffer")

// Reader reads fixed-offset fields from a byte slice. Out-of-range reads
// return zero and record ErrShort, so a parser can read a whole header and
// check Err once.
type Reader struct {
	buf   []byte
	order binary.ByteOrder
	err   error
}

// New creates a reader over buf with the given byte order.
func New(buf []byte, order binary.ByteOrder) *Reader {
	return &Reader{buf: buf, order: order}
}

// Len returns the length of the underlying buffer.
func (r *Reader) Len() int {
	return len(r.buf)
}

// Err returns ErrShort if any read fell outside the buffer.
func (r *Reader) Err() error {
	return r.err
}

func (r *Reader) span(off, n int) []byte {
	if off < 0 || n < 0 || off+n > len(r.buf) {
		r.err = ErrShort
		return nil
	}
	return r.buf[off : off+n]
}

// Bytes returns n bytes at off without copying.
func (r *Reader) Bytes(off, n int) []byte {
	return r.span(off, n)
}

// Uint8 reads an unsigned byte.
func (r *Reader) Uint8(off int) uint8 {
	b := r.span(off, 1)
	if b == nil {
		return 0
	}
	return b[0]
}

// Uint16 reads an unsigned 16-bit integer.
func (r *Reader) Uint16(off int) uint16 {
	b := r.span(off, 2)
	if b == nil {
		return 0
	}
	return r.order.Uint16(b)
}

// Int16 reads a signed 16-bit integer.
func (r *Reader) Int16(off int) int16 {
	return int16(r.Uint16(off))
}

// Uint32 reads an unsigned 32-bit integer.
func (r *Reader) Uint32(off int) uint32 {
	b := r.span(off, 4)
	if b == nil {
		return 0
	}
	return r.order.Uint32(b)
}

// Int32 reads a signed 32-bit integer.
func (r *Reader) Int32(off int) int32 {
	return int32(r.Uint32(off))
}

// Int64 reads a signed 64-bit integer.
func (r *Reader) Int64(off int) int64 {
	b := r.span(off, 8)
	if b == nil {
		return 0
	}
	return int64(r.order.Uint64(b))
}

// Float32 reads an IEEE-754 single as float64.
func (r *Reader) Float32(off int) float64 {
	return float64(math.Float32frombits(r.Uint32(off)))
}

// Float64 reads an IEEE-754 double.
func (r *Reader) Float64(off int) float64 {
	b := r.span(off, 8)
	if b == nil {
		return 0
	}
	return math.Float64frombits(r.order.Uint64(b))
}
