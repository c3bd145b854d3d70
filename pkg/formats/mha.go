package formats

import (
	"bytes"
	"strings"

	"neurovol/internal/textheader"
	"neurovol/pkg/nifti"
	"neurovol/pkg/volume"
	"neurovol/pkg/voxels"
)

var metaTypes = map[string]voxels.Datatype{
	"MET_UCHAR":  voxels.Uint8,
	"MET_CHAR":   voxels.Int8,
	"MET_SHORT":  voxels.Int16,
	"MET_USHORT": voxels.Uint16,
	"MET_INT":    voxels.Int32,
	"MET_UINT":   voxels.Uint32,
	"MET_FLOAT":  voxels.Float32,
	"MET_DOUBLE": voxels.Float64,
}

// parseMHA reads a MetaImage header. The header ends at ElementDataFile;
// "LOCAL" means the samples follow in the same buffer.
func parseMHA(data, paired []byte) (*Parsed, error) {
	p := &Parsed{Format: MHA, Header: defaultHeader(true)}
	h := &p.Header
	var (
		transform  = []float64{1, 0, 0, 0, 1, 0, 0, 0, 1}
		offset     = []float64{0, 0, 0}
		spacing    []float64
		compressed bool
		channels   = 1
		elemType   string
		dataStart  = -1
		detached   bool
		extra      []string
	)
	for pos := 0; pos < len(data) && dataStart < 0; {
		var line []byte
		if i := bytes.IndexByte(data[pos:], '\n'); i >= 0 {
			line, pos = data[pos:pos+i], pos+i+1
		} else {
			line, pos = data[pos:], len(data)
		}
		key, value, ok := textheader.KeyValue(strings.TrimRight(string(line), "\r"), "=")
		if !ok {
			continue
		}
		switch key {
		case "BinaryDataByteOrderMSB", "ElementByteOrderMSB":
			h.LittleEndian = !strings.EqualFold(value, "true")
		case "CompressedData":
			compressed = strings.EqualFold(value, "true")
		case "TransformMatrix", "Rotation", "Orientation":
			if t := textheader.Floats(value); len(t) >= 9 {
				transform = t
			}
		case "Offset", "Position", "Origin":
			if o := textheader.Floats(value); len(o) >= 3 {
				offset = o
			}
		case "ElementSpacing":
			spacing = textheader.Floats(value)
		case "DimSize":
			setDims(h, textheader.Ints(value))
		case "ElementNumberOfChannels":
			if c := textheader.Ints(value); len(c) == 1 {
				channels = c[0]
			}
		case "ElementType":
			elemType = value
		case "ElementDataFile":
			dataStart = pos
			detached = !strings.EqualFold(value, "LOCAL")
		case "ObjectType", "NDims", "BinaryData", "CompressedDataSize", "HeaderSize":
		default:
			extra = append(extra, string(line))
		}
	}
	if dataStart < 0 {
		return nil, malformed("no ElementDataFile")
	}
	if h.Dims[0] == 0 {
		return nil, malformed("no DimSize")
	}
	dt, ok := metaTypes[elemType]
	if !ok {
		return nil, unsupportedType("element type %q", elemType)
	}
	if channels == 3 && dt == voxels.Uint8 {
		dt = voxels.RGB24
	} else if channels != 1 {
		return nil, unsupportedType("%d channels of %s", channels, elemType)
	}
	setDatatype(h, dt)

	s := [3]float64{1, 1, 1}
	for i := 0; i < 3 && i < len(spacing); i++ {
		s[i] = spacing[i]
	}
	for i, v := range spacing {
		if i < 7 {
			h.PixDims[i+1] = v
		}
	}
	// Column j of the direction matrix is transform[3j:3j+3]; LPS to RAS
	// negates the first two rows.
	for j := 0; j < 3; j++ {
		h.Affine[0][j] = -transform[3*j] * s[j]
		h.Affine[1][j] = -transform[3*j+1] * s[j]
		h.Affine[2][j] = transform[3*j+2] * s[j]
	}
	h.Affine[0][3] = -offset[0]
	h.Affine[1][3] = -offset[1]
	h.Affine[2][3] = offset[2]
	h.SformCode = 2

	if len(extra) > 0 {
		p.Extensions = append(p.Extensions, volume.Extension{
			Kind: volume.ExtText,
			Code: nifti.ECodeComment,
			Data: []byte(strings.Join(extra, "\n")),
		})
	}

	body := data[dataStart:]
	if detached {
		if paired == nil {
			return nil, ErrMissingPair
		}
		body = paired
	}
	if compressed {
		var err error
		if body, err = inflate(body); err != nil {
			return nil, err
		}
	}
	p.Raw = body
	return p, nil
}
