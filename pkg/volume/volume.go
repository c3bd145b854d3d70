// Package volume defines the canonical in-memory record every loaded
// volume is converted into, whatever its source format.
package volume

import (
	"crypto/sha256"
	"encoding/binary"
	"math"

	"github.com/google/uuid"

	"neurovol/pkg/affine"
	"neurovol/pkg/orient"
	"neurovol/pkg/voxels"
)

// NIfTI intent codes the core reacts to.
const (
	IntentLabel     = 1002
	IntentVector    = 1007
	IntentRGBVector = 2003
)

// Header is the normalized header shared by all formats.
type Header struct {
	// Dims[0] is the rank (1 to 7); Dims[1..7] are per-axis sample counts.
	Dims [8]int

	// PixDims[1..7] are per-axis spacings; PixDims[0] is the qform
	// handedness factor.
	PixDims [8]float64

	// Datatype and BitsPerVoxel describe the stored samples.
	Datatype     voxels.Datatype
	BitsPerVoxel int

	// SclSlope is never zero or NaN once the pipeline has run.
	SclSlope float64
	SclInter float64

	// CalMin and CalMax are the display hints stored in the file.
	CalMin float64
	CalMax float64

	// Affine maps native voxel indices to millimeters.
	Affine affine.Mat4

	QformCode int
	SformCode int
	Quatern   affine.Quaternion

	XYZTUnits  int
	IntentCode int
	IntentName string
	Descrip    string
	AuxFile    string

	// VoxOffset is the byte offset of the samples in the source.
	VoxOffset float64

	// LittleEndian is the byte order of the stored samples.
	LittleEndian bool
}

// NVox3D returns the voxel count of one 3D frame.
func (h Header) NVox3D() int {
	n := 1
	for i := 1; i <= 3; i++ {
		n *= max(h.Dims[i], 1)
	}
	return n
}

// DeclaredFrames returns the number of 3D frames the header declares:
// the product of dims 4 to 7 that exceed one.
func (h Header) DeclaredFrames() int {
	n := 1
	for i := 4; i <= 7 && i <= max(h.Dims[0], 3); i++ {
		if h.Dims[i] > 1 {
			n *= h.Dims[i]
		}
	}
	return n
}

// ExtensionKind tags the payload of an Extension.
type ExtensionKind int

const (
	// ExtNIfTI is a raw NIfTI-1 header extension.
	ExtNIfTI ExtensionKind = iota
	// ExtAFNI holds the full AFNI HEAD text.
	ExtAFNI
	// ExtDICOM holds identifying DICOM attributes as key/value text.
	ExtDICOM
	// ExtText holds header lines a text format could not map.
	ExtText
	// ExtMGHTags holds the MGH footer after the scan parameters.
	ExtMGHTags
)

func (k ExtensionKind) String() string {
	switch k {
	case ExtNIfTI:
		return "nifti"
	case ExtAFNI:
		return "afni"
	case ExtDICOM:
		return "dicom"
	case ExtText:
		return "text"
	case ExtMGHTags:
		return "mgh"
	}
	return "unknown"
}

// Extension is metadata a format carries that the normalized header cannot
// represent. Code is the NIfTI extension code used when re-serializing.
type Extension struct {
	Kind ExtensionKind
	Code int
	Data []byte
}

// Calibration holds the intensity statistics of the selected frame, in
// scaled units.
type Calibration struct {
	CalMin, CalMax       float64
	RobustMin, RobustMax float64
	GlobalMin, GlobalMax float64
	Mean, StdDev         float64

	// Otsu thresholds; unused slots are +Inf.
	Otsu [3]float64
}

// Volume is the canonical record of one loaded image.
type Volume struct {
	// ID is either supplied by the loader or derived from content.
	ID uuid.UUID

	Name   string
	Format string

	Header     Header
	Samples    voxels.Buffer
	Extensions []Extension

	// Frame4D is the selected frame, NFrame4D the frames resident in
	// Samples and NTotalFrame4D the frames the source declares.
	Frame4D       int
	NFrame4D      int
	NTotalFrame4D int

	Orientation orient.Orientation
	Calibration Calibration
}

// contentNamespace scopes content-derived identities.
var contentNamespace = uuid.MustParse("5c6f2a1e-8a53-4b4e-9d0c-6e6575726f76")

// ContentID derives a stable identity from the header geometry and the
// sample bytes.
func ContentID(h Header, samples []byte) uuid.UUID {
	d := sha256.New()
	var buf [8]byte
	for _, v := range h.Dims {
		binary.LittleEndian.PutUint64(buf[:], uint64(v))
		d.Write(buf[:])
	}
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			binary.LittleEndian.PutUint64(buf[:], math.Float64bits(h.Affine[i][j]))
			d.Write(buf[:])
		}
	}
	binary.LittleEndian.PutUint64(buf[:], uint64(h.Datatype))
	d.Write(buf[:])
	d.Write(samples)
	return uuid.NewSHA1(contentNamespace, d.Sum(nil))
}

// NVox3D returns the voxel count of one frame.
func (v *Volume) NVox3D() int {
	return v.Header.NVox3D()
}

// SetFrame selects a frame, clamped to the resident range.
func (v *Volume) SetFrame(frame int) {
	v.Frame4D = clampInt(frame, 0, max(v.NFrame4D-1, 0))
}

// FrameSamples returns a view of one resident frame.
func (v *Volume) FrameSamples(frame int) voxels.Buffer {
	frame = clampInt(frame, 0, max(v.NFrame4D-1, 0))
	n := v.NVox3D()
	return v.Samples.Slice(frame*n, n)
}

// GetValue returns the calibrated value at RAS voxel (x, y, z) of a frame.
// Coordinates are rounded and clamped to the volume; the lookup goes
// through ToRASVox when the native order is not RAS. Color volumes report
// luminance. A frame that is not resident reads as 0.
func (v *Volume) GetValue(x, y, z float64, frame int) float64 {
	p := [3]float64{math.Round(x), math.Round(y), math.Round(z)}
	if !v.Orientation.IsIdentity() {
		p = v.Orientation.ToRASVox.Apply(p)
	}
	h := v.Header
	nx, ny, nz := max(h.Dims[1], 1), max(h.Dims[2], 1), max(h.Dims[3], 1)
	ix := clampInt(int(math.Round(p[0])), 0, nx-1)
	iy := clampInt(int(math.Round(p[1])), 0, ny-1)
	iz := clampInt(int(math.Round(p[2])), 0, nz-1)
	if frame < 0 {
		frame = 0
	}
	idx := ix + iy*nx + iz*nx*ny + frame*nx*ny*nz
	if idx >= v.Samples.Len() {
		return 0
	}
	raw := v.Samples.At(idx)
	if v.Samples.Type.IsColor() {
		return raw
	}
	return raw*h.SclSlope + h.SclInter
}

// RASFrame returns one frame's calibrated values reordered into RAS order,
// x fastest.
func (v *Volume) RASFrame(frame int) []float64 {
	buf := v.FrameSamples(frame)
	order := v.Orientation.RASOrder()
	out := make([]float64, len(order))
	color := buf.Type.IsColor()
	for i, n := range order {
		if n >= buf.Len() {
			continue
		}
		val := buf.At(n)
		if !color {
			val = val*v.Header.SclSlope + v.Header.SclInter
		}
		out[i] = val
	}
	return out
}

// Clone returns a deep copy that shares nothing with v.
func (v *Volume) Clone() *Volume {
	c := *v
	c.Samples = v.Samples.Clone()
	c.Extensions = make([]Extension, len(v.Extensions))
	for i, e := range v.Extensions {
		e.Data = append([]byte(nil), e.Data...)
		c.Extensions[i] = e
	}
	return &c
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
