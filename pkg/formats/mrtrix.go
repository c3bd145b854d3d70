package formats

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"strings"

	"neurovol/internal/textheader"
	"neurovol/pkg/nifti"
	"neurovol/pkg/volume"
	"neurovol/pkg/voxels"
)

// mifMaxAxes is the highest rank the layout reorder handles (x y z t d).
const mifMaxAxes = 5

var mifTypes = map[string]voxels.Datatype{
	"Bit":      voxels.Binary,
	"Int8":     voxels.Int8,
	"UInt8":    voxels.Uint8,
	"Int16":    voxels.Int16,
	"UInt16":   voxels.Uint16,
	"Int32":    voxels.Int32,
	"UInt32":   voxels.Uint32,
	"Float32":  voxels.Float32,
	"Float64":  voxels.Float64,
	"CFloat32": voxels.Complex64,
}

// mifLayout is one axis of the "layout" field: its rank in memory order
// and whether it is stored reversed. "-0" is a reversed fastest axis.
type mifLayout struct {
	rank    int
	flipped bool
}

func parseMIFLayout(value string) ([]mifLayout, error) {
	var out []mifLayout
	for _, tok := range strings.Split(value, ",") {
		tok = strings.TrimSpace(tok)
		n, err := strconv.Atoi(strings.TrimLeft(tok, "+-"))
		if err != nil {
			return nil, malformed("layout %q", value)
		}
		out = append(out, mifLayout{rank: n, flipped: strings.HasPrefix(tok, "-")})
	}
	return out, nil
}

func parseMIF(data, paired []byte) (*Parsed, error) {
	end := bytes.Index(data, []byte("\nEND"))
	if end < 0 {
		return nil, fmt.Errorf("%w: no END line", ErrTruncated)
	}
	lines := textheader.Lines(data[:end])
	if !strings.HasPrefix(lines[0], "mrtrix image") {
		return nil, malformed("missing mrtrix image signature")
	}

	p := &Parsed{Format: MIF, Header: defaultHeader(true)}
	h := &p.Header
	var (
		layout   []mifLayout
		vox      []float64
		rows     int
		dt       voxels.Datatype
		detached bool
		offset   = -1
		extra    []string
		err      error
	)
	for _, line := range lines[1:] {
		key, value, ok := textheader.KeyValue(line, ":")
		if !ok {
			continue
		}
		switch key {
		case "dim":
			setDims(h, textheader.Ints(value))
		case "vox":
			vox = textheader.Floats(value)
		case "layout":
			if layout, err = parseMIFLayout(value); err != nil {
				return nil, err
			}
		case "datatype":
			name := value
			switch {
			case strings.HasSuffix(name, "BE"):
				h.LittleEndian = false
				name = strings.TrimSuffix(name, "BE")
			case strings.HasSuffix(name, "LE"):
				name = strings.TrimSuffix(name, "LE")
			}
			var ok bool
			if dt, ok = mifTypes[name]; !ok {
				return nil, unsupportedType("mrtrix datatype %q", value)
			}
		case "transform":
			t := textheader.Floats(value)
			if rows < 3 && len(t) == 4 {
				copy(h.Affine[rows][:], t)
				rows++
			}
		case "comments":
			if h.Descrip == "" {
				h.Descrip = value[:min(len(value), 79)]
			} else {
				extra = append(extra, line)
			}
		case "RepetitionTime":
			if tr := textheader.Floats(value); len(tr) > 0 && tr[0] > 0 {
				h.PixDims[4] = tr[0]
			}
		case "file":
			name, off, _ := strings.Cut(value, " ")
			if name == "." {
				if offset, err = strconv.Atoi(strings.TrimSpace(off)); err != nil {
					return nil, malformed("file offset %q", value)
				}
			} else {
				detached = true
				offset, _ = strconv.Atoi(strings.TrimSpace(off))
			}
		default:
			extra = append(extra, line)
		}
	}
	if h.Dims[0] == 0 {
		return nil, malformed("no dim field")
	}
	if dt == 0 {
		return nil, malformed("no datatype field")
	}
	if len(layout) != h.Dims[0] {
		return nil, malformed("layout has %d axes for %d dims", len(layout), h.Dims[0])
	}
	for i, v := range vox {
		if i < 7 && !math.IsNaN(v) {
			h.PixDims[i+1] = v
		}
	}
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			h.Affine[i][j] *= h.PixDims[j+1]
		}
	}
	h.SformCode = 2
	if len(extra) > 0 {
		p.Extensions = append(p.Extensions, volume.Extension{
			Kind: volume.ExtText,
			Code: nifti.ECodeComment,
			Data: []byte(strings.Join(extra, "\n")),
		})
	}

	body := data
	if detached {
		if paired == nil {
			return nil, ErrMissingPair
		}
		body = paired
	}
	if offset < 0 || offset > len(body) {
		return nil, malformed("data offset %d", offset)
	}
	body = body[offset:]

	nvox := 1
	for i := 1; i <= h.Dims[0]; i++ {
		nvox *= max(h.Dims[i], 1)
	}
	if dt == voxels.Binary {
		body = voxels.UnpackBits(body[:min(len(body), (nvox+7)/8)], nvox, true)
		dt = voxels.Uint8
	}
	setDatatype(h, dt)
	if p.Raw, err = mifReorder(body, h.Dims, layout, h.BitsPerVoxel/8); err != nil {
		return nil, err
	}
	return p, nil
}

// mifReorder copies samples stored in layout order into x-fastest order,
// undoing flipped axes. Buffers already in that order are returned as is.
func mifReorder(raw []byte, dims [8]int, layout []mifLayout, width int) ([]byte, error) {
	canonical := true
	for i, l := range layout {
		if l.rank != i || l.flipped {
			canonical = false
		}
	}
	if canonical {
		return raw, nil
	}
	if len(layout) > mifMaxAxes {
		return nil, malformed("layout reorder supports %d axes, got %d", mifMaxAxes, len(layout))
	}

	var size, stride [mifMaxAxes]int
	for i := range size {
		size[i] = 1
	}
	for i := range layout {
		size[i] = max(dims[i+1], 1)
	}
	step := 1
	for rank := range layout {
		for j, l := range layout {
			if l.rank == rank {
				stride[j] = step
				step *= size[j]
			}
		}
	}
	if step*width > len(raw) {
		return nil, fmt.Errorf("%w: reordering needs %d bytes, have %d", ErrTruncated, step*width, len(raw))
	}

	var lut [mifMaxAxes][]int
	for a := range lut {
		lut[a] = make([]int, size[a])
		for i := range lut[a] {
			idx := i
			if a < len(layout) && layout[a].flipped {
				idx = size[a] - 1 - i
			}
			lut[a][i] = idx * stride[a]
		}
	}
	out := make([]byte, 0, step*width)
	for _, d := range lut[4] {
		for _, t := range lut[3] {
			for _, z := range lut[2] {
				for _, y := range lut[1] {
					for _, x := range lut[0] {
						src := (x + y + z + t + d) * width
						out = append(out, raw[src:src+width]...)
					}
				}
			}
		}
	}
	return out, nil
}
