package formats

import (
	"bytes"
	"fmt"
	"strings"

	"neurovol/internal/textheader"
	"neurovol/pkg/nifti"
	"neurovol/pkg/volume"
	"neurovol/pkg/voxels"
)

var nrrdTypes = map[string]voxels.Datatype{
	"uchar":              voxels.Uint8,
	"unsigned char":      voxels.Uint8,
	"uint8":              voxels.Uint8,
	"uint8_t":            voxels.Uint8,
	"signed char":        voxels.Int8,
	"int8":               voxels.Int8,
	"int8_t":             voxels.Int8,
	"short":              voxels.Int16,
	"short int":          voxels.Int16,
	"signed short":       voxels.Int16,
	"signed short int":   voxels.Int16,
	"int16":              voxels.Int16,
	"int16_t":            voxels.Int16,
	"ushort":             voxels.Uint16,
	"unsigned short":     voxels.Uint16,
	"unsigned short int": voxels.Uint16,
	"uint16":             voxels.Uint16,
	"uint16_t":           voxels.Uint16,
	"int":                voxels.Int32,
	"signed int":         voxels.Int32,
	"int32":              voxels.Int32,
	"int32_t":            voxels.Int32,
	"uint":               voxels.Uint32,
	"unsigned int":       voxels.Uint32,
	"uint32":             voxels.Uint32,
	"uint32_t":           voxels.Uint32,
	"float":              voxels.Float32,
	"double":             voxels.Float64,
}

// nrrdFlips gives the sign applied to the x and y rows for each "space"
// value so the affine ends up in RAS.
var nrrdFlips = map[string][2]float64{
	"right-anterior-superior": {1, 1},
	"ras":                     {1, 1},
	"left-anterior-superior":  {-1, 1},
	"las":                     {-1, 1},
	"left-posterior-superior": {-1, -1},
	"lps":                     {-1, -1},
}

func parseNRRD(data, paired []byte) (*Parsed, error) {
	end := bytes.Index(data, []byte("\n\n"))
	start := end + 2
	if crlf := bytes.Index(data, []byte("\r\n\r\n")); crlf >= 0 && (end < 0 || crlf < end) {
		end, start = crlf, crlf+4
	}
	if end < 0 {
		if paired == nil {
			return nil, fmt.Errorf("%w: no blank line after header", ErrTruncated)
		}
		end, start = len(data), len(data)
	}
	lines := textheader.Lines(data[:end])
	if !strings.HasPrefix(lines[0], "NRRD") {
		return nil, malformed("missing NRRD magic")
	}

	p := &Parsed{Format: NRRD, Header: defaultHeader(true)}
	h := &p.Header
	var (
		dirs     [][]float64
		origin   []float64
		encoding = "raw"
		detached bool
		microns  bool
		flips    = [2]float64{1, 1}
		extra    []string
		typeSeen bool
	)
	for _, line := range lines[1:] {
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.Contains(line, ":=") {
			extra = append(extra, line)
			continue
		}
		key, value, ok := textheader.KeyValue(line, ":")
		if !ok {
			continue
		}
		lower := strings.ToLower(value)
		switch strings.ToLower(key) {
		case "type":
			dt, ok := nrrdTypes[lower]
			if !ok {
				return nil, unsupportedType("nrrd type %q", value)
			}
			setDatatype(h, dt)
			typeSeen = true
		case "encoding":
			encoding = lower
		case "endian":
			h.LittleEndian = lower != "big"
		case "sizes":
			setDims(h, textheader.Ints(value))
		case "spacings":
			for i, s := range textheader.Floats(value) {
				if i < 7 {
					h.PixDims[i+1] = s
				}
			}
		case "space directions":
			for _, v := range textheader.Vectors(value) {
				if len(v) == 3 {
					dirs = append(dirs, v)
				}
			}
		case "space origin":
			origin = textheader.Floats(value)
		case "space units":
			microns = strings.Contains(lower, "micron")
		case "space":
			if f, ok := nrrdFlips[lower]; ok {
				flips = f
			} else {
				p.note("space %q not mapped to RAS", value)
			}
		case "data file", "datafile":
			detached = true
		default:
			extra = append(extra, line)
		}
	}
	if !typeSeen {
		return nil, malformed("no type field")
	}
	if h.Dims[0] == 0 {
		return nil, malformed("no sizes field")
	}

	if len(dirs) >= 3 {
		scale := 1.0
		if microns {
			scale = 0.001
		}
		for j := 0; j < 3; j++ {
			for i := 0; i < 3; i++ {
				h.Affine[i][j] = dirs[j][i] * scale
			}
		}
		if len(origin) >= 3 {
			for i := 0; i < 3; i++ {
				h.Affine[i][3] = origin[i] * scale
			}
		}
		for i := 0; i < 2; i++ {
			for j := 0; j < 4; j++ {
				h.Affine[i][j] *= flips[i]
			}
		}
		for j := 0; j < 3; j++ {
			h.PixDims[j+1] = columnNorm(h, j)
		}
		h.SformCode = 2
	}
	if len(extra) > 0 {
		p.Extensions = append(p.Extensions, volume.Extension{
			Kind: volume.ExtText,
			Code: nifti.ECodeComment,
			Data: []byte(strings.Join(extra, "\n")),
		})
	}

	body := data[min(start, len(data)):]
	if detached {
		if paired == nil {
			return nil, ErrMissingPair
		}
		body = paired
	}
	switch encoding {
	case "raw":
	case "gz", "gzip":
		var err error
		if body, err = inflate(body); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: nrrd encoding %q", ErrUnsupportedFormat, encoding)
	}
	p.Raw = body
	return p, nil
}
