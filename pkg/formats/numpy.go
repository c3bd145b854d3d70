package formats

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/klauspost/compress/flate"

	"neurovol/pkg/voxels"
)

var (
	npyMagic = []byte("\x93NUMPY")
	zipMagic = []byte("PK\x03\x04")
)

// npyTypes maps a dtype code without its byte order character.
var npyTypes = map[string]voxels.Datatype{
	"b1": voxels.Uint8,
	"i1": voxels.Int8,
	"u1": voxels.Uint8,
	"i2": voxels.Int16,
	"u2": voxels.Uint16,
	"i4": voxels.Int32,
	"u4": voxels.Uint32,
	"i8": voxels.Int64,
	"u8": voxels.Uint64,
	"f4": voxels.Float32,
	"f8": voxels.Float64,
	"c8": voxels.Complex64,
}

// parseNPY reads a NumPy array. C-ordered shapes are reversed so the last
// axis becomes the fastest varying x axis.
func parseNPY(data []byte) (*Parsed, error) {
	if !bytes.HasPrefix(data, npyMagic) || len(data) < 10 {
		return nil, malformed("missing NUMPY magic")
	}
	major := data[6]
	var hlen, start int
	switch major {
	case 1:
		hlen, start = int(binary.LittleEndian.Uint16(data[8:])), 10
	case 2, 3:
		if len(data) < 12 {
			return nil, ErrTruncated
		}
		hlen, start = int(binary.LittleEndian.Uint32(data[8:])), 12
	default:
		return nil, malformed("npy version %d", major)
	}
	if start+hlen > len(data) {
		return nil, fmt.Errorf("%w: npy header of %d bytes", ErrTruncated, hlen)
	}
	dict := string(data[start : start+hlen])

	descr, ok := npyField(dict, "descr")
	if !ok {
		return nil, malformed("npy header without descr")
	}
	descr = strings.Trim(descr, `'"`)
	if len(descr) < 2 {
		return nil, malformed("npy descr %q", descr)
	}
	order, code := descr[0], descr[1:]
	if order != '<' && order != '>' && order != '|' && order != '=' {
		order, code = '|', descr
	}
	dt, ok := npyTypes[code]
	if !ok {
		return nil, unsupportedType("npy descr %q", descr)
	}

	fortran := false
	if v, ok := npyField(dict, "fortran_order"); ok {
		fortran = v == "True"
	}
	shapeText, ok := npyField(dict, "shape")
	if !ok {
		return nil, malformed("npy header without shape")
	}
	var shape []int
	for _, tok := range strings.Split(strings.Trim(shapeText, "()"), ",") {
		if tok = strings.TrimSpace(tok); tok == "" {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSuffix(tok, "L"))
		if err != nil || n < 0 {
			return nil, malformed("npy shape %q", shapeText)
		}
		shape = append(shape, n)
	}
	if !fortran {
		for i, j := 0, len(shape)-1; i < j; i, j = i+1, j-1 {
			shape[i], shape[j] = shape[j], shape[i]
		}
	}
	if len(shape) == 0 {
		shape = []int{1}
	}

	p := &Parsed{Format: NPY, Header: defaultHeader(order != '>')}
	h := &p.Header
	setDatatype(h, dt)
	setDims(h, shape)
	if h.Dims[0] < 3 {
		h.Dims[0] = 3
	}

	// Array rows run downward, so y and z are flipped about the center.
	nx, ny, nz := float64(h.Dims[1]), float64(h.Dims[2]), float64(h.Dims[3])
	h.Affine[0] = [4]float64{1, 0, 0, -(nx - 2) * 0.5}
	h.Affine[1] = [4]float64{0, -1, 0, (ny - 2) * 0.5}
	h.Affine[2] = [4]float64{0, 0, -1, (nz - 2) * 0.5}
	h.SformCode = 2

	p.Raw = data[start+hlen:]
	if want := FrameBytes(*h) * h.DeclaredFrames(); len(p.Raw) < want {
		return nil, fmt.Errorf("%w: %d of %d data bytes", ErrTruncated, len(p.Raw), want)
	}
	return p, nil
}

// npyField returns the raw value text of key in a Python dict literal.
// Tuple values keep their parentheses.
func npyField(dict, key string) (string, bool) {
	i := strings.Index(dict, "'"+key+"'")
	if i < 0 {
		return "", false
	}
	rest := dict[i+len(key)+2:]
	colon := strings.IndexByte(rest, ':')
	if colon < 0 {
		return "", false
	}
	rest = strings.TrimSpace(rest[colon+1:])
	if strings.HasPrefix(rest, "(") {
		if end := strings.IndexByte(rest, ')'); end >= 0 {
			return rest[:end+1], true
		}
		return "", false
	}
	if end := strings.IndexAny(rest, ",}"); end >= 0 {
		rest = rest[:end]
	}
	return strings.TrimSpace(rest), true
}

// parseNPZ reads the first .npy member of a NumPy zip archive.
func parseNPZ(data []byte) (*Parsed, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, malformed("npz archive: %v", err)
	}
	zr.RegisterDecompressor(zip.Deflate, flate.NewReader)

	var (
		names []string
		first []byte
	)
	for _, f := range zr.File {
		if !strings.HasSuffix(strings.ToLower(f.Name), ".npy") {
			continue
		}
		names = append(names, f.Name)
		if len(names) > 1 {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, malformed("npz member %s: %v", f.Name, err)
		}
		member, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("%w: npz member %s: %v", ErrTruncated, f.Name, err)
		}
		first = member
	}
	if len(names) == 0 {
		return nil, malformed("npz archive holds no .npy arrays")
	}
	p, err := parseNPY(first)
	if err != nil {
		return nil, err
	}
	if len(names) > 1 {
		p.note("npz holds %d arrays, read %s", len(names), names[0])
	}
	return p, nil
}
