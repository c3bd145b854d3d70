// Package pipeline turns raw file bytes into a calibrated, RAS-aware
// volume record: classify, parse, normalize, repair the affine, derive the
// RAS orientation and calibrate intensities.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"math"
	"runtime"
	"sync"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"

	"neurovol/pkg/affine"
	"neurovol/pkg/calibrate"
	"neurovol/pkg/formats"
	"neurovol/pkg/orient"
	"neurovol/pkg/volume"
	"neurovol/pkg/voxels"
)

// Options holds the load parameters.
type Options struct {
	// Logger receives diagnostics. Nil discards them.
	Logger logrus.FieldLogger

	// PercentileFrac is trimmed from each end of the intensity histogram
	// when computing the robust display range. Zero uses 2%.
	PercentileFrac float64

	// IgnoreZeroVoxels excludes zeros from calibration. Zeros are excluded
	// anyway when they make up most of the volume.
	IgnoreZeroVoxels bool

	// UseQFormNotSForm prefers the quaternion transform of NIfTI headers
	// whenever its code is set.
	UseQFormNotSForm bool

	// LimitFrames4D caps the number of 3D frames kept in memory. Zero keeps
	// every frame the source provides.
	LimitFrames4D int

	// TrustCalMinMax uses the header display window when it is valid
	// instead of the robust range.
	TrustCalMinMax bool

	// OtsuLevels, between 2 and 4, computes that many Otsu classes for the
	// calibrated frame. Other values skip the thresholds.
	OtsuLevels int

	// CentreCalibration estimates the robust range from the central half
	// of the frame, ignoring borders such as scanner padding.
	CentreCalibration bool

	// NumWorkers bounds the concurrent loads of LoadAll. Zero uses
	// GOMAXPROCS.
	NumWorkers int
}

// Input is one volume to load.
type Input struct {
	// Name is the file name or URL; its extension selects the format.
	Name string

	// Data is the file content, possibly gzip or zstd compressed.
	Data []byte

	// Paired is the data file of split formats (.img, .BRIK, detached
	// NRRD, MetaImage and MRtrix data).
	Paired []byte

	// Series holds further DICOM objects loaded together with Data.
	Series [][]byte

	// ID, when set, is used instead of the content-derived identity.
	ID uuid.UUID
}

// Loader runs the load pipeline with fixed options. A Loader holds no
// per-load state and may be shared between goroutines.
type Loader struct {
	opts Options
	log  logrus.FieldLogger
}

// NewLoader creates a loader for the given options.
func NewLoader(opts Options) *Loader {
	log := opts.Logger
	if log == nil {
		discard := logrus.New()
		discard.SetOutput(io.Discard)
		log = discard
	}
	return &Loader{opts: opts, log: log}
}

// Load runs the pipeline once with opts.
func Load(in Input, opts Options) (*volume.Volume, error) {
	return NewLoader(opts).Load(in)
}

// Load converts one input into a volume record.
func (l *Loader) Load(in Input) (*volume.Volume, error) {
	log := l.log.WithField("name", in.Name)

	// Step 1: classify and parse into a header plus raw samples
	p, err := l.parse(in)
	if err != nil {
		return nil, err
	}
	h := p.Header
	log = log.WithField("format", p.Format)
	for _, n := range p.Notes {
		log.Warn(n)
	}
	log.WithFields(logrus.Fields{
		"dims":     h.Dims,
		"datatype": h.Datatype,
		"bytes":    len(p.Raw),
	}).Debug("parsed header")

	// Step 2: scaling defaults
	slope, inter := affine.NormalizeScaling(h.SclSlope, h.SclInter)
	if slope != h.SclSlope || inter != h.SclInter {
		log.WithFields(logrus.Fields{"slope": h.SclSlope, "inter": h.SclInter}).Debug("scaling normalized")
	}
	h.SclSlope, h.SclInter = slope, inter

	// Step 3: resident frames, derived from the bytes actually present
	declared := h.DeclaredFrames()
	frameBytes := formats.FrameBytes(h)
	available := 0
	if frameBytes > 0 {
		available = len(p.Raw) / frameBytes
	}
	if available < 1 {
		return nil, &formats.ParseError{
			Format: p.Format,
			Err:    fmt.Errorf("%w: %d bytes, one frame needs %d", formats.ErrTruncated, len(p.Raw), frameBytes),
		}
	}
	wanted := declared
	if l.opts.LimitFrames4D > 0 {
		wanted = min(wanted, l.opts.LimitFrames4D)
	}
	nFrames := min(wanted, available)
	if nFrames < wanted {
		log.WithFields(logrus.Fields{
			"declaredBytes": frameBytes * wanted,
			"actualBytes":   len(p.Raw),
			"frames":        nFrames,
		}).Warn("partial data, keeping complete frames only")
	}

	// Step 4: byte order and type promotion
	raw := p.Raw[:frameBytes*nFrames]
	samples, err := voxels.Normalize(raw, h.LittleEndian, h.Datatype, h.NVox3D()*nFrames)
	if err != nil {
		return nil, &formats.ParseError{Format: p.Format, Err: err}
	}
	if stored := samples.StoredType(); stored != h.Datatype {
		log.WithFields(logrus.Fields{"from": h.Datatype, "to": stored}).Debug("samples promoted")
		h.Datatype, h.BitsPerVoxel = stored, stored.Bits()
	}
	if isVectorField(h, nFrames) {
		if samples, err = voxels.VectorsToRGBA(samples, h.NVox3D()); err != nil {
			return nil, &formats.ParseError{Format: p.Format, Err: err}
		}
		log.Debug("vector field packed as rgba32")
		h.Datatype, h.BitsPerVoxel = voxels.RGBA32, voxels.RGBA32.Bits()
		h.Dims[0] = 3
		for i := 4; i <= 7; i++ {
			h.Dims[i] = 1
		}
		nFrames, declared = 1, 1
	}

	// Step 5: usable spatial transform
	m, src := affine.Repair(affine.Input{
		Matrix:    h.Affine,
		Quat:      h.Quatern,
		PixDims:   h.PixDims,
		QformCode: h.QformCode,
		SformCode: h.SformCode,
	}, l.opts.UseQFormNotSForm)
	if !affine.Usable(h.Affine) {
		log.WithField("source", src).Warn("stored transform invalid, rebuilt")
	} else if src != affine.FromMatrix {
		log.WithField("source", src).Debug("using quaternion transform")
	}
	h.Affine = m

	// Step 6: RAS orientation
	o, err := orient.Compute(m, [3]int{h.Dims[1], h.Dims[2], h.Dims[3]}, [3]float64{h.PixDims[1], h.PixDims[2], h.PixDims[3]})
	if err != nil {
		return nil, fmt.Errorf("orientation of %s: %w", in.Name, err)
	}
	if o.ObliqueAngle > 0 {
		log.WithField("degrees", o.ObliqueAngle).Debug("oblique lattice")
	}
	if o.MaxShearDeg > maxShearWarn {
		log.WithField("degrees", o.MaxShearDeg).Warn("voxels are rhomboidal")
	}

	v := &volume.Volume{
		ID:            in.ID,
		Name:          in.Name,
		Format:        p.Format.String(),
		Header:        h,
		Samples:       samples,
		Extensions:    p.Extensions,
		NFrame4D:      nFrames,
		NTotalFrame4D: declared,
		Orientation:   o,
	}

	// Step 7: intensity calibration of the first frame
	Calibrate(v, l.opts)

	// Step 8: identity
	if v.ID == uuid.Nil {
		v.ID = volume.ContentID(h, raw)
	}
	log.WithFields(logrus.Fields{
		"frames":   fmt.Sprintf("%d/%d", nFrames, declared),
		"perm":     o.PermRAS,
		"calRange": [2]float64{v.Calibration.CalMin, v.Calibration.CalMax},
	}).Info("volume loaded")
	return v, nil
}

// isVectorField reports a three-frame float32 direction map such as a
// principal eigenvector image. NIfTI defines RGB vectors as RGBA but FSL
// stores three float frames, so both intents qualify.
func isVectorField(h volume.Header, frames int) bool {
	if h.IntentCode != volume.IntentVector && h.IntentCode != volume.IntentRGBVector {
		return false
	}
	return frames == 3 && h.Datatype == voxels.Float32
}

func (l *Loader) parse(in Input) (*formats.Parsed, error) {
	opts := formats.Options{LimitFrames4D: l.opts.LimitFrames4D}
	if len(in.Series) > 0 {
		return formats.ParseSeries(append([][]byte{in.Data}, in.Series...), opts)
	}
	return formats.Parse(in.Name, in.Data, in.Paired, opts)
}

// Calibrate recomputes the calibration of v's selected frame.
func Calibrate(v *volume.Volume, opts Options) {
	h := v.Header
	frame := v.FrameSamples(v.Frame4D)
	if frame.Type.IsColor() {
		v.Calibration = volume.Calibration{
			CalMin: 0, CalMax: 255,
			RobustMin: 0, RobustMax: 255,
			GlobalMin: 0, GlobalMax: 255,
			Otsu: [3]float64{inf, inf, inf},
		}
		return
	}
	copts := calibrate.Options{
		PercentileFrac: opts.PercentileFrac,
		IgnoreZero:     opts.IgnoreZeroVoxels,
		Slope:          h.SclSlope,
		Inter:          h.SclInter,
	}
	if opts.CentreCalibration {
		copts.Dims = [3]int{h.Dims[1], h.Dims[2], h.Dims[3]}
	}
	r := calibrate.RobustRange(frame, copts)
	lo, hi := calibrate.DisplayRange(r, calibrate.HeaderHints{
		CalMin: h.CalMin,
		CalMax: h.CalMax,
		Trust:  opts.TrustCalMinMax,
		Label:  h.IntentCode == volume.IntentLabel,
	})
	v.Calibration = volume.Calibration{
		CalMin: lo, CalMax: hi,
		RobustMin: r.RobustMin, RobustMax: r.RobustMax,
		GlobalMin: r.GlobalMin, GlobalMax: r.GlobalMax,
		Mean: r.Mean, StdDev: r.StdDev,
		Otsu: [3]float64{inf, inf, inf},
	}
	if opts.OtsuLevels >= 2 && opts.OtsuLevels <= 4 {
		copts.Dims = [3]int{}
		v.Calibration.Otsu = calibrate.Otsu(frame, opts.OtsuLevels, copts)
	}
}

// LoadAll loads inputs concurrently. Results keep the input order; a
// failed input leaves a nil entry and its error is part of the returned
// multierror. Cancelling ctx stops inputs that have not started.
func (l *Loader) LoadAll(ctx context.Context, inputs []Input) ([]*volume.Volume, error) {
	workers := l.opts.NumWorkers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	out := make([]*volume.Volume, len(inputs))
	errs := make([]error, len(inputs))
	jobs := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < min(workers, len(inputs)); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				if err := ctx.Err(); err != nil {
					errs[i] = err
					continue
				}
				out[i], errs[i] = l.Load(inputs[i])
			}
		}()
	}
	for i := range inputs {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	var result *multierror.Error
	for i, err := range errs {
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", inputs[i].Name, err))
		}
	}
	return out, result.ErrorOrNil()
}

var inf = math.Inf(1)

// maxShearWarn is the lattice shear, in degrees, above which loads warn.
const maxShearWarn = 0.1
