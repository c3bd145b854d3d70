package formats

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/frame"
	"github.com/suyashkumar/dicom/pkg/tag"

	"neurovol/pkg/nifti"
	"neurovol/pkg/volume"
	"neurovol/pkg/voxels"
)

// dicomSlice is what one DICOM object contributes to a series.
type dicomSlice struct {
	series      string
	description string
	instance    int

	rows, cols int
	frames     int
	bits       int
	signed     bool
	samples    int

	// spacing is PixelSpacing: row spacing then column spacing.
	spacing   [2]float64
	thickness float64
	between   float64

	position       [3]float64
	hasPosition    bool
	orientation    [6]float64
	hasOrientation bool

	slope, inter float64
	tr           float64

	// pixels holds all frames as little-endian samples.
	pixels []byte
}

// ParseSeries decodes DICOM objects and assembles the largest complete
// subset that shares the first decoded object's series into one volume.
// Objects that fail to decode are skipped; the call fails only if none
// decode.
func ParseSeries(bufs [][]byte, opts Options) (*Parsed, error) {
	var (
		slices []*dicomSlice
		errs   *multierror.Error
	)
	for i, b := range bufs {
		b, err := Decompress(b)
		if err == nil {
			var s *dicomSlice
			if s, err = decodeDICOM(b); err == nil {
				slices = append(slices, s)
				continue
			}
		}
		errs = multierror.Append(errs, fmt.Errorf("object %d: %w", i, err))
	}
	if len(slices) == 0 {
		if err := errs.ErrorOrNil(); err != nil {
			return nil, &ParseError{Format: DICOM, Err: err}
		}
		return nil, &ParseError{Format: DICOM, Err: ErrTruncated}
	}
	p, err := assembleSeries(slices)
	if err != nil {
		return nil, &ParseError{Format: DICOM, Err: err}
	}
	if err := errs.ErrorOrNil(); err != nil {
		p.note("skipped objects: %v", err)
	}
	if err := p.finish(opts); err != nil {
		return nil, &ParseError{Format: DICOM, Err: err}
	}
	return p, nil
}

func decodeDICOM(b []byte) (*dicomSlice, error) {
	ds, err := dicom.Parse(bytes.NewReader(b), int64(len(b)), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedHeader, err)
	}
	s := &dicomSlice{
		series:      firstString(&ds, tag.SeriesInstanceUID),
		description: firstString(&ds, tag.SeriesDescription),
		instance:    int(firstFloat(&ds, tag.InstanceNumber, 0)),
		rows:        firstInt(&ds, tag.Rows, 0),
		cols:        firstInt(&ds, tag.Columns, 0),
		bits:        firstInt(&ds, tag.BitsAllocated, 16),
		signed:      firstInt(&ds, tag.PixelRepresentation, 0) == 1,
		samples:     firstInt(&ds, tag.SamplesPerPixel, 1),
		frames:      int(firstFloat(&ds, tag.NumberOfFrames, 1)),
		thickness:   firstFloat(&ds, tag.SliceThickness, 0),
		between:     firstFloat(&ds, tag.SpacingBetweenSlices, 0),
		slope:       firstFloat(&ds, tag.RescaleSlope, 1),
		inter:       firstFloat(&ds, tag.RescaleIntercept, 0),
		tr:          firstFloat(&ds, tag.RepetitionTime, 0),
		spacing:     [2]float64{1, 1},
	}
	if s.rows < 1 || s.cols < 1 {
		return nil, malformed("rows %d columns %d", s.rows, s.cols)
	}
	if v := dicomFloats(&ds, tag.PixelSpacing); len(v) >= 2 {
		s.spacing = [2]float64{v[0], v[1]}
	}
	if v := dicomFloats(&ds, tag.ImagePositionPatient); len(v) >= 3 {
		copy(s.position[:], v)
		s.hasPosition = true
	}
	if v := dicomFloats(&ds, tag.ImageOrientationPatient); len(v) >= 6 {
		copy(s.orientation[:], v)
		s.hasOrientation = true
	}
	if s.pixels, err = dicomPixels(&ds); err != nil {
		return nil, err
	}
	return s, nil
}

// dicomPixels flattens every native frame into little-endian bytes.
func dicomPixels(ds *dicom.Dataset) ([]byte, error) {
	el, err := ds.FindElementByTag(tag.PixelData)
	if err != nil {
		return nil, malformed("no pixel data")
	}
	var info dicom.PixelDataInfo
	switch v := el.Value.GetValue().(type) {
	case dicom.PixelDataInfo:
		info = v
	case *dicom.PixelDataInfo:
		info = *v
	default:
		return nil, malformed("pixel data of type %T", v)
	}
	var out []byte
	for _, fr := range info.Frames {
		if fr.Encapsulated {
			return nil, ErrCompressedPixels
		}
		switch nf := fr.NativeData.(type) {
		case *frame.NativeFrame[uint8]:
			out = append(out, nf.RawData...)
		case *frame.NativeFrame[int8]:
			for _, v := range nf.RawData {
				out = append(out, byte(v))
			}
		case *frame.NativeFrame[uint16]:
			out = appendLE(out, nf.RawData, func(b []byte, v uint16) []byte { return binary.LittleEndian.AppendUint16(b, v) })
		case *frame.NativeFrame[int16]:
			out = appendLE(out, nf.RawData, func(b []byte, v int16) []byte { return binary.LittleEndian.AppendUint16(b, uint16(v)) })
		case *frame.NativeFrame[uint32]:
			out = appendLE(out, nf.RawData, func(b []byte, v uint32) []byte { return binary.LittleEndian.AppendUint32(b, v) })
		case *frame.NativeFrame[int32]:
			out = appendLE(out, nf.RawData, func(b []byte, v int32) []byte { return binary.LittleEndian.AppendUint32(b, uint32(v)) })
		default:
			return nil, unsupportedType("native frame %T", nf)
		}
	}
	if len(out) == 0 {
		return nil, malformed("empty pixel data")
	}
	return out, nil
}

func appendLE[T any](dst []byte, src []T, put func([]byte, T) []byte) []byte {
	for _, v := range src {
		dst = put(dst, v)
	}
	return dst
}

func dicomStrings(ds *dicom.Dataset, t tag.Tag) []string {
	el, err := ds.FindElementByTag(t)
	if err != nil {
		return nil
	}
	s, _ := el.Value.GetValue().([]string)
	return s
}

func dicomFloats(ds *dicom.Dataset, t tag.Tag) []float64 {
	var out []float64
	for _, s := range dicomStrings(ds, t) {
		for _, part := range strings.Split(s, "\\") {
			if f, err := strconv.ParseFloat(strings.TrimSpace(part), 64); err == nil {
				out = append(out, f)
			}
		}
	}
	return out
}

func firstString(ds *dicom.Dataset, t tag.Tag) string {
	if s := dicomStrings(ds, t); len(s) > 0 {
		return strings.TrimSpace(s[0])
	}
	return ""
}

func firstFloat(ds *dicom.Dataset, t tag.Tag, def float64) float64 {
	if f := dicomFloats(ds, t); len(f) > 0 {
		return f[0]
	}
	return def
}

func firstInt(ds *dicom.Dataset, t tag.Tag, def int) int {
	el, err := ds.FindElementByTag(t)
	if err != nil {
		return def
	}
	if v, ok := el.Value.GetValue().([]int); ok && len(v) > 0 {
		return v[0]
	}
	return def
}

// sliceNormal is the cross product of the row and column direction cosines.
func (s *dicomSlice) sliceNormal() [3]float64 {
	x, y := s.orientation[:3], s.orientation[3:]
	return [3]float64{
		x[1]*y[2] - x[2]*y[1],
		x[2]*y[0] - x[0]*y[2],
		x[0]*y[1] - x[1]*y[0],
	}
}

func (s *dicomSlice) along(n [3]float64) float64 {
	return s.position[0]*n[0] + s.position[1]*n[1] + s.position[2]*n[2]
}

// assembleSeries stacks the slices of the first slice's series in spatial
// order and derives the voxel to RAS transform.
func assembleSeries(all []*dicomSlice) (*Parsed, error) {
	first := all[0]
	p := &Parsed{Format: DICOM, Header: defaultHeader(true)}
	var slices []*dicomSlice
	outside := 0
	for _, s := range all {
		switch {
		case s.series != first.series:
			outside++
			continue
		case s.rows != first.rows || s.cols != first.cols || s.bits != first.bits || s.samples != first.samples:
			p.note("instance %d: geometry differs, skipped", s.instance)
			continue
		}
		slices = append(slices, s)
	}
	if outside > 0 {
		p.note("%d objects outside series %s", outside, first.series)
	}

	dt, err := dicomDatatype(first)
	if err != nil {
		return nil, err
	}
	h := &p.Header
	setDatatype(h, dt)

	normal := [3]float64{0, 0, 1}
	if first.hasOrientation {
		normal = first.sliceNormal()
	} else {
		first.orientation = [6]float64{1, 0, 0, 0, 1, 0}
	}
	sort.SliceStable(slices, func(i, j int) bool {
		a, b := slices[i], slices[j]
		if a.hasPosition && b.hasPosition {
			if pa, pb := a.along(normal), b.along(normal); pa != pb {
				return pa < pb
			}
		}
		return a.instance < b.instance
	})

	depth, rescaleVaries := 0, false
	for _, s := range slices {
		depth += max(s.frames, 1)
		p.Raw = append(p.Raw, s.pixels...)
		rescaleVaries = rescaleVaries || s.slope != first.slope || s.inter != first.inter
	}
	if rescaleVaries {
		p.note("rescale varies between slices, using %g/%g", first.slope, first.inter)
	}
	setDims(h, []int{first.cols, first.rows, depth})

	step := first.thickness
	if first.between > 0 {
		step = first.between
	}
	if len(slices) > 1 && slices[0].hasPosition && slices[1].hasPosition {
		step = math.Abs(slices[1].along(normal) - slices[0].along(normal))
	}
	if step <= 0 {
		step = 1
	}
	colStep, rowStep := first.spacing[1], first.spacing[0]
	h.PixDims[1], h.PixDims[2], h.PixDims[3] = colStep, rowStep, step
	if first.tr > 0 {
		h.PixDims[4] = first.tr
	}

	// Patient space is LPS; negating the first two rows gives RAS.
	cosx, cosy := first.orientation[:3], first.orientation[3:]
	for i := 0; i < 3; i++ {
		sign := 1.0
		if i < 2 {
			sign = -1
		}
		h.Affine[i][0] = sign * cosx[i] * colStep
		h.Affine[i][1] = sign * cosy[i] * rowStep
		h.Affine[i][2] = sign * normal[i] * step
		h.Affine[i][3] = sign * slices[0].position[i]
	}
	h.SformCode = 1
	h.SclSlope, h.SclInter = first.slope, first.inter
	h.Descrip = first.description
	h.XYZTUnits = unitsMMMillis

	var ext strings.Builder
	fmt.Fprintf(&ext, "SeriesInstanceUID=%s\n", first.series)
	if first.description != "" {
		fmt.Fprintf(&ext, "SeriesDescription=%s\n", first.description)
	}
	p.Extensions = append(p.Extensions, volume.Extension{
		Kind: volume.ExtDICOM,
		Code: nifti.ECodeDICOM,
		Data: []byte(ext.String()),
	})
	return p, nil
}

func dicomDatatype(s *dicomSlice) (voxels.Datatype, error) {
	switch {
	case s.samples == 3 && s.bits == 8:
		return voxels.RGB24, nil
	case s.samples != 1:
		return 0, unsupportedType("%d samples per pixel", s.samples)
	}
	switch s.bits {
	case 8:
		if s.signed {
			return voxels.Int8, nil
		}
		return voxels.Uint8, nil
	case 16:
		if s.signed {
			return voxels.Int16, nil
		}
		return voxels.Uint16, nil
	case 32:
		if s.signed {
			return voxels.Int32, nil
		}
		return voxels.Uint32, nil
	}
	return 0, unsupportedType("%d bits allocated", s.bits)
}
