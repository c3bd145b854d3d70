// Package calibrate derives display ranges and intensity thresholds from
// sample buffers.
package calibrate

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// Source is a read-only sequence of unscaled sample values.
type Source interface {
	Len() int
	At(i int) float64
}

// Floats adapts a float64 slice to Source.
type Floats []float64

func (f Floats) Len() int         { return len(f) }
func (f Floats) At(i int) float64 { return f[i] }

const (
	// DefaultPercentileFrac is the fraction trimmed from each end.
	DefaultPercentileFrac = 0.02

	// zeroDominance is the zero fraction above which zeros are treated
	// as background and excluded.
	zeroDominance = 0.6

	robustBins = 1001
)

// Options control RobustRange.
type Options struct {
	// PercentileFrac is trimmed from each end; values outside (0, 0.5)
	// use DefaultPercentileFrac.
	PercentileFrac float64

	// IgnoreZero excludes zero samples from the histogram and the count.
	// Zeros are excluded regardless when they dominate the volume.
	IgnoreZero bool

	// Slope and Inter scale raw values; zero Slope means 1.
	Slope float64
	Inter float64

	// Dims, when set, restricts the estimate to the central half of a 3D
	// frame, falling back to the whole frame if the centre is uniform.
	Dims [3]int
}

// Range is the result of RobustRange. All values are scaled.
type Range struct {
	RobustMin, RobustMax float64
	GlobalMin, GlobalMax float64

	// Counted is the number of samples that entered the histogram.
	Counted int
	// ZeroIgnored reports whether zeros were excluded.
	ZeroIgnored bool
	// Collapsed reports a range without variability.
	Collapsed bool
	// Mean and StdDev describe the counted samples.
	Mean, StdDev float64
}

func (o Options) scale(v float64) float64 {
	slope := o.Slope
	if slope == 0 {
		slope = 1
	}
	return v*slope + o.Inter
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// RobustRange computes the percentile display range of src.
//
// NaN and infinite samples never count. A 1001-bin histogram spans the
// counted minimum to maximum; the low cutoff is the first bin at which
// PercentileFrac of the counted samples have been passed from below, and
// the high cutoff likewise from above. When both land in the same bin the
// range is widened alternately until a populated bin is reached or the
// histogram ends. Without variability the range collapses to the one
// observed value.
func RobustRange(src Source, opts Options) Range {
	if opts.Dims[0] > 0 && opts.Dims[1] > 0 && opts.Dims[2] > 0 {
		centre := centralBox(src, opts.Dims)
		inner := opts
		inner.Dims = [3]int{}
		r := RobustRange(centre, inner)
		if !r.Collapsed {
			whole := RobustRange(src, inner)
			r.GlobalMin, r.GlobalMax = whole.GlobalMin, whole.GlobalMax
			return r
		}
		return RobustRange(src, inner)
	}

	frac := opts.PercentileFrac
	if !(frac > 0 && frac < 0.5) {
		frac = DefaultPercentileFrac
	}

	var r Range
	nFinite, nZero := 0, 0
	gmin, gmax := math.Inf(1), math.Inf(-1)
	for i, n := 0, src.Len(); i < n; i++ {
		v := src.At(i)
		if !finite(v) {
			continue
		}
		nFinite++
		if v == 0 {
			nZero++
		}
		gmin = math.Min(gmin, v)
		gmax = math.Max(gmax, v)
	}
	if nFinite == 0 {
		r.Collapsed = true
		return r
	}
	r.GlobalMin, r.GlobalMax = ordered(opts.scale(gmin), opts.scale(gmax))

	ignoreZero := opts.IgnoreZero || float64(nZero) > zeroDominance*float64(nFinite)
	if ignoreZero && nZero == nFinite {
		ignoreZero = false
	}
	r.ZeroIgnored = ignoreZero && nZero > 0

	mn, mx := math.Inf(1), math.Inf(-1)
	for i, n := 0, src.Len(); i < n; i++ {
		v := src.At(i)
		if !finite(v) || (ignoreZero && v == 0) {
			continue
		}
		r.Counted++
		mn = math.Min(mn, v)
		mx = math.Max(mx, v)
	}
	if mn == mx {
		r.RobustMin, r.RobustMax = opts.scale(mn), opts.scale(mn)
		r.Mean = opts.scale(mn)
		r.Collapsed = true
		return r
	}

	hist := make([]float64, robustBins)
	scl := float64(robustBins-1) / (mx - mn)
	for i, n := 0, src.Len(); i < n; i++ {
		v := src.At(i)
		if !finite(v) || (ignoreZero && v == 0) {
			continue
		}
		hist[int(math.Round((v-mn)*scl))]++
	}

	centres := make([]float64, robustBins)
	for b := range centres {
		centres[b] = opts.scale(float64(b)/scl + mn)
	}
	r.Mean, r.StdDev = stat.MeanStdDev(centres, hist)
	if r.Counted < 2 {
		r.StdDev = 0
	}

	nTrim := float64(int(math.Round(float64(r.Counted) * frac)))
	if nTrim < 1 {
		r.RobustMin, r.RobustMax = ordered(opts.scale(mn), opts.scale(mx))
		return r
	}

	lo, n := 0, 0.0
	for lo < robustBins {
		n += hist[lo]
		if n >= nTrim {
			break
		}
		lo++
	}
	hi := robustBins - 1
	n = 0
	for hi > 0 {
		n += hist[hi]
		if n >= nTrim {
			break
		}
		hi--
	}
	if lo > hi {
		lo, hi = hi, lo
	}
	if lo == hi {
		for {
			if lo > 0 {
				lo--
				if hist[lo] > 0 {
					break
				}
			}
			if hi < robustBins-1 {
				hi++
				if hist[hi] > 0 {
					break
				}
			}
			if lo == 0 && hi == robustBins-1 {
				break
			}
		}
	}
	rmin, rmax := ordered(opts.scale(float64(lo)/scl+mn), opts.scale(float64(hi)/scl+mn))
	r.RobustMin = clamp(rmin, r.GlobalMin, r.GlobalMax)
	r.RobustMax = clamp(rmax, r.GlobalMin, r.GlobalMax)
	return r
}

func ordered(a, b float64) (float64, float64) {
	if a > b {
		return b, a
	}
	return a, b
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

type subset struct {
	src Source
	idx []int
}

func (s subset) Len() int         { return len(s.idx) }
func (s subset) At(i int) float64 { return s.src.At(s.idx[i]) }

// centralBox selects the middle half of each axis of the first 3D frame.
func centralBox(src Source, dims [3]int) Source {
	var lo, hi [3]int
	for k := 0; k < 3; k++ {
		lo[k] = dims[k] / 4
		hi[k] = dims[k] - dims[k]/4
		if hi[k] <= lo[k] {
			lo[k], hi[k] = 0, dims[k]
		}
	}
	var idx []int
	for z := lo[2]; z < hi[2]; z++ {
		for y := lo[1]; y < hi[1]; y++ {
			for x := lo[0]; x < hi[0]; x++ {
				i := x + y*dims[0] + z*dims[0]*dims[1]
				if i < src.Len() {
					idx = append(idx, i)
				}
			}
		}
	}
	return subset{src: src, idx: idx}
}
