package formats

import (
	"math"
	"strconv"
	"strings"

	"neurovol/internal/textheader"
	"neurovol/pkg/nifti"
	"neurovol/pkg/volume"
	"neurovol/pkg/voxels"
)

// afniAttr is one HEAD attribute. Numeric attributes fill values; string
// attributes fill text.
type afniAttr struct {
	values []float64
	text   string
}

var afniBrickTypes = map[int]voxels.Datatype{
	0: voxels.Uint8,
	1: voxels.Int16,
	3: voxels.Float32,
}

// afniAxisCodes maps ORIENT_SPECIFIC codes (R-L, L-R, P-A, A-P, I-S, S-I)
// to the scanner axis they run along.
const afniAxisCodes = "xxyyzzg"

// readAFNIAttrs parses the "type = / name = / count =" groups of a HEAD file.
// Numeric values may span several lines.
func readAFNIAttrs(lines []string) map[string]afniAttr {
	attrs := make(map[string]afniAttr)
	for i := 0; i < len(lines); {
		line := strings.TrimSpace(lines[i])
		i++
		if !strings.HasPrefix(line, "type") || i+2 > len(lines) {
			continue
		}
		numeric := strings.Contains(line, "integer-attribute") || strings.Contains(line, "float-attribute")
		_, name, ok := textheader.KeyValue(lines[i], "=")
		if !ok || !strings.HasPrefix(strings.TrimSpace(lines[i]), "name") {
			continue
		}
		i++
		_, countText, _ := textheader.KeyValue(lines[i], "=")
		i++
		count, err := strconv.Atoi(countText)
		if err != nil || count < 1 || i >= len(lines) {
			continue
		}
		var a afniAttr
		if numeric {
			for i < len(lines) && len(a.values) < count {
				a.values = append(a.values, textheader.Floats(lines[i])...)
				i++
			}
		} else {
			a.text = strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(lines[i]), "'"), "~")
			i++
		}
		attrs[name] = a
	}
	return attrs
}

func parseAFNI(data, paired []byte) (*Parsed, error) {
	attrs := readAFNIAttrs(textheader.Lines(data))
	p := &Parsed{
		Format: AFNI,
		Header: defaultHeader(true),
		Extensions: []volume.Extension{{
			Kind: volume.ExtAFNI,
			Code: nifti.ECodeAFNIHead,
			Data: data,
		}},
	}
	h := &p.Header
	h.PixDims = [8]float64{1, 1, 1, 1, 1, 0, 0, 0}

	if a, ok := attrs["BYTEORDER_STRING"]; ok {
		switch {
		case strings.Contains(a.text, "MSB_FIRST"):
			h.LittleEndian = false
		case strings.Contains(a.text, "LSB_FIRST"):
			h.LittleEndian = true
		}
	}

	dims, ok := attrs["DATASET_DIMENSIONS"]
	if !ok || len(dims.values) < 3 {
		return nil, malformed("no DATASET_DIMENSIONS")
	}
	sizes := []int{int(dims.values[0]), int(dims.values[1]), int(dims.values[2])}

	types, ok := attrs["BRICK_TYPES"]
	if !ok || len(types.values) == 0 {
		return nil, malformed("no BRICK_TYPES")
	}
	code := int(types.values[0])
	for _, t := range types.values[1:] {
		if int(t) != code {
			return nil, unsupportedType("mixed brick types %v", types.values)
		}
	}
	dt, ok := afniBrickTypes[code]
	if !ok {
		return nil, unsupportedType("brick type %d", code)
	}
	setDatatype(h, dt)
	if n := len(types.values); n > 1 {
		sizes = append(sizes, n)
	}
	setDims(h, sizes)

	if facs, ok := attrs["BRICK_FLOAT_FACS"]; ok {
		for _, f := range facs.values {
			if f != 0 {
				h.SclSlope = f
				break
			}
		}
		for _, f := range facs.values {
			if f != 0 && f != h.SclSlope {
				p.note("per-brick scale factors differ, using %g", h.SclSlope)
				break
			}
		}
	}
	if t, ok := attrs["TAXIS_FLOATS"]; ok && len(t.values) > 1 {
		h.PixDims[4] = t.values[1]
	}

	if m, ok := attrs["IJK_TO_DICOM_REAL"]; ok && len(m.values) >= 12 {
		for i := 0; i < 3; i++ {
			for j := 0; j < 4; j++ {
				v := m.values[4*i+j]
				if i < 2 {
					v = -v
				}
				h.Affine[i][j] = v
			}
		}
		for j := 0; j < 3; j++ {
			h.PixDims[j+1] = columnNorm(h, j)
		}
		h.SformCode = 2
	} else {
		afniAxesToAffine(p, attrs)
	}

	if paired == nil {
		return nil, ErrMissingPair
	}
	p.Raw = paired
	return p, nil
}

// afniAxesToAffine builds the transform from ORIENT_SPECIFIC, DELTA and
// ORIGIN. The header affine stays zero when the orientation codes do not
// name three distinct axes.
func afniAxesToAffine(p *Parsed, attrs map[string]afniAttr) {
	orient, ok := attrs["ORIENT_SPECIFIC"]
	if !ok || len(orient.values) < 3 {
		p.note("no orientation attributes")
		return
	}
	delta := [3]float64{1, 1, 1}
	if d, ok := attrs["DELTA"]; ok && len(d.values) >= 3 {
		copy(delta[:], d.values)
	}
	var origin [3]float64
	if o, ok := attrs["ORIGIN"]; ok && len(o.values) >= 3 {
		copy(origin[:], o.values)
	}
	axis := [3]int{-1, -1, -1}
	for i := 0; i < 3; i++ {
		c := int(orient.values[i])
		if c < 0 || c >= len(afniAxisCodes)-1 {
			p.note("orientation code %d out of range", c)
			return
		}
		axis[afniAxisCodes[c]-'x'] = i
	}
	if axis[0] < 0 || axis[1] < 0 || axis[2] < 0 {
		p.note("orientation codes %v repeat an axis", orient.values[:3])
		return
	}
	h := &p.Header
	for i := 0; i < 3; i++ {
		h.PixDims[i+1] = math.Abs(delta[i])
	}
	h.Affine = [4][4]float64{3: {0, 0, 0, 1}}
	h.Affine[0][axis[0]] = -delta[axis[0]]
	h.Affine[1][axis[1]] = -delta[axis[1]]
	h.Affine[2][axis[2]] = delta[axis[2]]
	h.Affine[0][3] = -origin[axis[0]]
	h.Affine[1][3] = -origin[axis[1]]
	h.Affine[2][3] = origin[axis[2]]
	h.SformCode = 2
}
