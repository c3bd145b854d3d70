package calibrate

import "math"

const otsuBins = 256

// Otsu returns the thresholds, in scaled units, that split src into levels
// classes (2 to 4) with maximal between-class variance. Slots beyond
// levels-1 are +Inf, as are all slots when src has no variability.
// Thresholds fall on bin boundaries, so they are strictly increasing and
// strictly between the observed minimum and maximum.
func Otsu(src Source, levels int, opts Options) [3]float64 {
	inf := math.Inf(1)
	out := [3]float64{inf, inf, inf}
	if levels < 2 {
		levels = 2
	}
	if levels > 4 {
		levels = 4
	}

	mn, mx := math.Inf(1), math.Inf(-1)
	for i, n := 0, src.Len(); i < n; i++ {
		v := src.At(i)
		if !finite(v) {
			continue
		}
		v = opts.scale(v)
		mn = math.Min(mn, v)
		mx = math.Max(mx, v)
	}
	if !(mx > mn) {
		return out
	}

	var hist [otsuBins]float64
	scl := float64(otsuBins-1) / (mx - mn)
	for i, n := 0, src.Len(); i < n; i++ {
		v := src.At(i)
		if !finite(v) {
			continue
		}
		v = clamp(opts.scale(v), mn, mx)
		hist[int(math.Round((v-mn)*scl))]++
	}

	// p and s are cumulative count and cumulative bin-weighted sum; h[u][v]
	// is the variance term of a class spanning bins u..v inclusive.
	var p, s [otsuBins + 1]float64
	for i, c := range hist {
		p[i+1] = p[i] + c
		s[i+1] = s[i] + float64(i)*c
	}
	h := make([][otsuBins]float64, otsuBins)
	for u := 0; u < otsuBins; u++ {
		for v := u; v < otsuBins; v++ {
			w := p[v+1] - p[u]
			if w > 0 {
				sum := s[v+1] - s[u]
				h[u][v] = sum * sum / w
			}
		}
	}

	last := otsuBins - 1
	var best [3]int
	bestVar := math.Inf(-1)
	switch levels {
	case 2:
		for t := 0; t < last; t++ {
			if v := h[0][t] + h[t+1][last]; v > bestVar {
				bestVar, best[0] = v, t
			}
		}
	case 3:
		for t1 := 0; t1 < last-1; t1++ {
			for t2 := t1 + 1; t2 < last; t2++ {
				if v := h[0][t1] + h[t1+1][t2] + h[t2+1][last]; v > bestVar {
					bestVar, best[0], best[1] = v, t1, t2
				}
			}
		}
	case 4:
		for t1 := 0; t1 < last-2; t1++ {
			for t2 := t1 + 1; t2 < last-1; t2++ {
				head := h[0][t1] + h[t1+1][t2]
				for t3 := t2 + 1; t3 < last; t3++ {
					if v := head + h[t2+1][t3] + h[t3+1][last]; v > bestVar {
						bestVar, best[0], best[1], best[2] = v, t1, t2, t3
					}
				}
			}
		}
	}
	for k := 0; k < levels-1; k++ {
		out[k] = mn + (float64(best[k])+0.5)/scl
	}
	return out
}

// ApplyThresholds labels every sample with its class: the number of
// thresholds its scaled value exceeds. Non-finite samples get class 0.
func ApplyThresholds(src Source, thresholds [3]float64, opts Options) []uint8 {
	out := make([]uint8, src.Len())
	for i := range out {
		v := src.At(i)
		if !finite(v) {
			continue
		}
		v = opts.scale(v)
		for _, t := range thresholds {
			if v > t {
				out[i]++
			}
		}
	}
	return out
}

// HeaderHints are the display hints stored in a file header.
type HeaderHints struct {
	CalMin, CalMax float64
	// Trust uses the stored window when it is valid.
	Trust bool
	// Label marks a label map, displayed over its full value range.
	Label bool
}

// DisplayRange picks the display window: the full range for label maps,
// the stored window when trusted and valid, the robust range otherwise.
func DisplayRange(r Range, hints HeaderHints) (float64, float64) {
	if hints.Label {
		return r.GlobalMin, r.GlobalMax
	}
	if hints.Trust && finite(hints.CalMin) && finite(hints.CalMax) && hints.CalMax > hints.CalMin {
		return hints.CalMin, hints.CalMax
	}
	return r.RobustMin, r.RobustMax
}
