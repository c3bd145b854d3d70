// Package nifti decodes and encodes the 348-byte NIfTI-1 header and
// serializes volumes as single-file NIfTI-1 images.
package nifti

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// HeaderSize is sizeof_hdr for NIfTI-1.
const HeaderSize = 348

// Errors returned by Decode.
var (
	ErrShortHeader = errors.New("nifti: buffer shorter than 348 bytes")
	ErrNotNIfTI    = errors.New("nifti: sizeof_hdr is not 348 in either byte order")
)

// Header1 mirrors the on-disk NIfTI-1 header field for field, so it can be
// read and written with encoding/binary.
type Header1 struct {
	SizeofHdr     int32
	DataType      [10]byte
	DBName        [18]byte
	Extents       int32
	SessionError  int16
	Regular       byte
	DimInfo       byte
	Dim           [8]int16
	IntentP1      float32
	IntentP2      float32
	IntentP3      float32
	IntentCode    int16
	Datatype      int16
	Bitpix        int16
	SliceStart    int16
	Pixdim        [8]float32
	VoxOffset     float32
	SclSlope      float32
	SclInter      float32
	SliceEnd      int16
	SliceCode     byte
	XYZTUnits     byte
	CalMax        float32
	CalMin        float32
	SliceDuration float32
	Toffset       float32
	Glmax         int32
	Glmin         int32
	Descrip       [80]byte
	AuxFile       [24]byte
	QformCode     int16
	SformCode     int16
	QuaternB      float32
	QuaternC      float32
	QuaternD      float32
	QoffsetX      float32
	QoffsetY      float32
	QoffsetZ      float32
	SrowX         [4]float32
	SrowY         [4]float32
	SrowZ         [4]float32
	IntentName    [16]byte
	Magic         [4]byte
}

// ByteOrder detects the header's byte order from sizeof_hdr.
func ByteOrder(b []byte) (binary.ByteOrder, error) {
	if len(b) < 4 {
		return nil, ErrShortHeader
	}
	switch {
	case binary.LittleEndian.Uint32(b) == HeaderSize:
		return binary.LittleEndian, nil
	case binary.BigEndian.Uint32(b) == HeaderSize:
		return binary.BigEndian, nil
	}
	return nil, ErrNotNIfTI
}

// Decode reads a header from the start of b.
func Decode(b []byte) (*Header1, binary.ByteOrder, error) {
	if len(b) < HeaderSize {
		return nil, nil, ErrShortHeader
	}
	order, err := ByteOrder(b)
	if err != nil {
		return nil, nil, err
	}
	var h Header1
	if err := binary.Read(bytes.NewReader(b[:HeaderSize]), order, &h); err != nil {
		return nil, nil, fmt.Errorf("nifti: reading header: %w", err)
	}
	return &h, order, nil
}

// Encode writes h as exactly 348 bytes in the given order.
func Encode(h *Header1, order binary.ByteOrder) []byte {
	var buf bytes.Buffer
	buf.Grow(HeaderSize)
	// Writing a fixed-size struct to a bytes.Buffer cannot fail.
	_ = binary.Write(&buf, order, h)
	return buf.Bytes()
}

// HasMagic reports whether the header carries a NIfTI-1 magic string,
// single-file ("n+1") or paired ("ni1"). Headers without it are Analyze 7.5.
func (h *Header1) HasMagic() bool {
	m := string(h.Magic[:3])
	return (m == "n+1" || m == "ni1") && h.Magic[3] == 0
}

// IsSingleFile reports the "n+1" magic.
func (h *Header1) IsSingleFile() bool {
	return string(h.Magic[:3]) == "n+1"
}
