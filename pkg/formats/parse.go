package formats

import (
	"bytes"
	"fmt"
	"math"

	"neurovol/pkg/volume"
	"neurovol/pkg/voxels"
)

// Options tune parsing.
type Options struct {
	// LimitFrames4D caps the number of 3D frames kept; zero keeps all.
	LimitFrames4D int
}

// Parsed is a header plus the raw, still byte-ordered samples.
type Parsed struct {
	Format     Format
	Header     volume.Header
	Raw        []byte
	Extensions []volume.Extension

	// Notes lists conditions the parser repaired on its own.
	Notes []string
}

func (p *Parsed) note(format string, args ...any) {
	p.Notes = append(p.Notes, fmt.Sprintf(format, args...))
}

// Parse decodes one volume. name selects the format by extension; paired
// carries the data file for split formats (.hdr/.img, .HEAD/.BRIK and
// detached NRRD, MetaImage or MRtrix headers). Either buffer may be gzip
// or zstd compressed.
func Parse(name string, data, paired []byte, opts Options) (*Parsed, error) {
	data, err := Decompress(data)
	if err != nil {
		return nil, &ParseError{Format: Unknown, Err: err}
	}
	if paired != nil {
		if paired, err = Decompress(paired); err != nil {
			return nil, &ParseError{Format: Unknown, Err: err}
		}
	}
	f, err := Classify(name, data)
	if err != nil {
		return nil, &ParseError{Format: f, Err: err}
	}

	var p *Parsed
	switch f {
	case NIfTI:
		p, err = parseNIfTI(data, paired)
	case DICOM:
		return ParseSeries([][]byte{data}, opts)
	case MGH:
		p, err = parseMGH(data)
	case NRRD:
		p, err = parseNRRD(data, paired)
	case MHA:
		p, err = parseMHA(data, paired)
	case AFNI:
		p, err = parseAFNI(data, paired)
	case ECAT:
		p, err = parseECAT(data, opts.LimitFrames4D)
	case V16:
		p, err = parseV16(data)
	case VMR:
		p, err = parseVMR(data)
	case MIF:
		p, err = parseMIF(data, paired)
	case NPY:
		if bytes.HasPrefix(data, zipMagic) {
			p, err = parseNPZ(data)
		} else {
			p, err = parseNPY(data)
		}
	default:
		err = ErrUnsupportedFormat
	}
	if err != nil {
		return nil, &ParseError{Format: f, Err: err}
	}
	if err := p.finish(opts); err != nil {
		return nil, &ParseError{Format: f, Err: err}
	}
	return p, nil
}

// finish checks the datatype and trims the samples to the declared size,
// capped to opts.LimitFrames4D frames.
func (p *Parsed) finish(opts Options) error {
	h := &p.Header
	if !h.Datatype.Supported() {
		return unsupportedType("code %d", int(h.Datatype))
	}
	if bits := h.Datatype.Bits(); h.BitsPerVoxel != bits {
		if h.BitsPerVoxel != 0 {
			p.note("bitpix %d does not match %s, using %d", h.BitsPerVoxel, h.Datatype, bits)
		}
		h.BitsPerVoxel = bits
	}
	if h.Dims[0] < 1 {
		h.Dims[0] = 3
	}
	for i := 1; i <= 3; i++ {
		if h.Dims[i] < 1 {
			h.Dims[i] = 1
		}
	}
	frames := h.DeclaredFrames()
	if opts.LimitFrames4D > 0 && opts.LimitFrames4D < frames {
		p.note("keeping %d of %d frames", opts.LimitFrames4D, frames)
		frames = opts.LimitFrames4D
	}
	want := FrameBytes(*h) * frames
	if len(p.Raw) > want {
		p.Raw = p.Raw[:want]
	}
	return nil
}

// FrameBytes is the stored size of one 3D frame of h.
func FrameBytes(h volume.Header) int {
	bits := h.BitsPerVoxel
	if bits <= 0 {
		bits = h.Datatype.Bits()
	}
	return (h.NVox3D()*bits + 7) / 8
}

// setDatatype fills the datatype and its width.
func setDatatype(h *volume.Header, dt voxels.Datatype) {
	h.Datatype = dt
	h.BitsPerVoxel = dt.Bits()
}

// defaultHeader returns a header with unit scaling and the given byte order.
func defaultHeader(littleEndian bool) volume.Header {
	var h volume.Header
	h.SclSlope = 1
	h.LittleEndian = littleEndian
	h.PixDims = [8]float64{1, 1, 1, 1, 1, 1, 1, 1}
	h.Affine[3] = [4]float64{0, 0, 0, 1}
	h.XYZTUnits = 10
	return h
}

// setDims fills Dims from a list of axis sizes, clamped to seven axes.
func setDims(h *volume.Header, sizes []int) {
	n := min(len(sizes), 7)
	h.Dims[0] = max(n, 1)
	for i := 0; i < n; i++ {
		h.Dims[i+1] = sizes[i]
	}
	for i := n + 1; i <= 7; i++ {
		h.Dims[i] = 1
	}
}

// columnNorm is the length of affine column j.
func columnNorm(h *volume.Header, j int) float64 {
	c := h.Affine.Column(j)
	return hypot3(c[0], c[1], c[2])
}

func hypot3(x, y, z float64) float64 {
	return math.Sqrt(x*x + y*y + z*z)
}
