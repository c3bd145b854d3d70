package nifti

import (
	"bytes"
	"encoding/binary"

	"neurovol/internal/textheader"
	"neurovol/pkg/affine"
	"neurovol/pkg/volume"
	"neurovol/pkg/voxels"
)

// NIfTI extension codes used when carrying foreign metadata.
const (
	ECodeDICOM    = 2
	ECodeComment  = 6
	ECodeAFNIHead = 42
)

// extensionStart is where the four extension flag bytes begin.
const extensionStart = HeaderSize

// ToHeader converts a decoded header into the normalized form.
func ToHeader(h *Header1, order binary.ByteOrder) volume.Header {
	var out volume.Header
	for i, d := range h.Dim {
		out.Dims[i] = int(d)
	}
	out.Dims[0] = max(1, min(7, out.Dims[0]))
	for i, p := range h.Pixdim {
		out.PixDims[i] = float64(p)
	}
	out.Datatype = voxels.Datatype(h.Datatype)
	out.BitsPerVoxel = int(h.Bitpix)
	out.SclSlope = float64(h.SclSlope)
	out.SclInter = float64(h.SclInter)
	out.CalMin = float64(h.CalMin)
	out.CalMax = float64(h.CalMax)
	rows := [3][4]float32{h.SrowX, h.SrowY, h.SrowZ}
	for i, row := range rows {
		for j, v := range row {
			out.Affine[i][j] = float64(v)
		}
	}
	out.Affine[3] = [4]float64{0, 0, 0, 1}
	out.QformCode = int(h.QformCode)
	out.SformCode = int(h.SformCode)
	out.Quatern = affine.Quaternion{
		B: float64(h.QuaternB), C: float64(h.QuaternC), D: float64(h.QuaternD),
		OffX: float64(h.QoffsetX), OffY: float64(h.QoffsetY), OffZ: float64(h.QoffsetZ),
	}
	out.XYZTUnits = int(h.XYZTUnits)
	out.IntentCode = int(h.IntentCode)
	out.IntentName = textheader.Latin1(h.IntentName[:])
	out.Descrip = textheader.Latin1(h.Descrip[:])
	out.AuxFile = textheader.Latin1(h.AuxFile[:])
	out.VoxOffset = float64(h.VoxOffset)
	out.LittleEndian = order == binary.LittleEndian
	return out
}

// Extensions reads the extension blocks that follow the header, stopping at
// end (the data offset for single files, the buffer length for .hdr files).
func Extensions(b []byte, order binary.ByteOrder, end int) []volume.Extension {
	if end > len(b) {
		end = len(b)
	}
	if end < extensionStart+4 || b[extensionStart] == 0 {
		return nil
	}
	var out []volume.Extension
	pos := extensionStart + 4
	for pos+8 <= end {
		size := int(int32(order.Uint32(b[pos:])))
		code := int(int32(order.Uint32(b[pos+4:])))
		if size < 8 || pos+size > end {
			break
		}
		kind := volume.ExtNIfTI
		if code == ECodeAFNIHead {
			kind = volume.ExtAFNI
		}
		out = append(out, volume.Extension{
			Kind: kind,
			Code: code,
			Data: append([]byte(nil), b[pos+8:pos+size]...),
		})
		pos += size
	}
	return out
}

// FromVolume builds the header describing v as written by Write.
func FromVolume(v *volume.Volume) *Header1 {
	hdr := v.Header
	h := &Header1{SizeofHdr: HeaderSize, Regular: 'r'}

	dims := hdr.Dims
	if v.NFrame4D > 0 && v.NFrame4D != hdr.DeclaredFrames() {
		dims[4] = v.NFrame4D
		for i := 5; i < 8; i++ {
			dims[i] = 1
		}
		dims[0] = 3
		if v.NFrame4D > 1 {
			dims[0] = 4
		}
	}
	for i, d := range dims {
		h.Dim[i] = int16(d)
	}
	for i, p := range hdr.PixDims {
		h.Pixdim[i] = float32(p)
	}
	if h.Pixdim[0] == 0 {
		h.Pixdim[0] = 1
	}

	stored := v.Samples.StoredType()
	h.Datatype = int16(stored)
	h.Bitpix = int16(stored.Bits())
	h.VoxOffset = float32(HeaderSize + 4 + extensionBytes(v.Extensions))
	h.SclSlope = float32(hdr.SclSlope)
	h.SclInter = float32(hdr.SclInter)
	h.CalMin = float32(hdr.CalMin)
	h.CalMax = float32(hdr.CalMax)
	h.XYZTUnits = byte(hdr.XYZTUnits)
	if h.XYZTUnits == 0 {
		h.XYZTUnits = 10
	}
	h.IntentCode = int16(hdr.IntentCode)
	copy(h.IntentName[:], textheader.EncodeLatin1(hdr.IntentName, len(h.IntentName)))
	copy(h.Descrip[:], textheader.EncodeLatin1(hdr.Descrip, len(h.Descrip)))
	copy(h.AuxFile[:], textheader.EncodeLatin1(hdr.AuxFile, len(h.AuxFile)))

	h.QformCode = int16(hdr.QformCode)
	h.QuaternB = float32(hdr.Quatern.B)
	h.QuaternC = float32(hdr.Quatern.C)
	h.QuaternD = float32(hdr.Quatern.D)
	h.QoffsetX = float32(hdr.Quatern.OffX)
	h.QoffsetY = float32(hdr.Quatern.OffY)
	h.QoffsetZ = float32(hdr.Quatern.OffZ)

	h.SformCode = int16(max(1, hdr.SformCode))
	rows := []*[4]float32{&h.SrowX, &h.SrowY, &h.SrowZ}
	for i, row := range rows {
		for j := range row {
			row[j] = float32(hdr.Affine[i][j])
		}
	}
	copy(h.Magic[:], "n+1\x00")
	return h
}

func extensionBytes(exts []volume.Extension) int {
	n := 0
	for _, e := range exts {
		n += paddedSize(len(e.Data))
	}
	return n
}

// paddedSize is the on-disk size of an extension: 8 header bytes plus data,
// rounded up to a multiple of 16.
func paddedSize(n int) int {
	size := n + 8
	if rem := size % 16; rem != 0 {
		size += 16 - rem
	}
	return size
}

// Write serializes v as a single-file NIfTI-1 image in the record's own
// byte order: the 348-byte header, the four extension flag bytes, any
// extensions, then the resident samples.
func Write(v *volume.Volume) []byte {
	order := voxels.ByteOrder(v.Header.LittleEndian)
	h := FromVolume(v)

	var buf bytes.Buffer
	buf.Write(Encode(h, order))
	flag := []byte{0, 0, 0, 0}
	if len(v.Extensions) > 0 {
		flag[0] = 1
	}
	buf.Write(flag)
	for _, e := range v.Extensions {
		size := paddedSize(len(e.Data))
		var head [8]byte
		order.PutUint32(head[:], uint32(size))
		order.PutUint32(head[4:], uint32(e.Code))
		buf.Write(head[:])
		buf.Write(e.Data)
		buf.Write(make([]byte, size-8-len(e.Data)))
	}
	buf.Write(v.Samples.Bytes(order))
	return buf.Bytes()
}
