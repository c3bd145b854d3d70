// Package visualization renders orthogonal slices of a loaded volume in RAS
// order and writes them as images.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/draw"
	"golang.org/x/image/tiff"

	"neurovol/pkg/volume"
)

// Viewer holds one frame of a volume resampled into RAS order, x fastest,
// and the display window used to map values to gray levels.
type Viewer struct {
	// data holds the calibrated values of the frame in RAS order
	data []float64

	// dimensions of the frame along R, A and S
	width  int
	height int
	depth  int

	// spacing is the voxel size in mm along R, A and S
	spacing [3]float64

	// lo and hi bound the display window
	lo, hi float64
}

// NewViewer creates a viewer for one frame of vol, windowed by the volume's
// calibrated display range.
func NewViewer(vol *volume.Volume, frame int) *Viewer {
	o := vol.Orientation
	return &Viewer{
		data:    vol.RASFrame(frame),
		width:   max(o.DimsRAS[0], 1),
		height:  max(o.DimsRAS[1], 1),
		depth:   max(o.DimsRAS[2], 1),
		spacing: o.PixDimsRAS,
		lo:      vol.Calibration.CalMin,
		hi:      vol.Calibration.CalMax,
	}
}

// SetWindow replaces the display window.
func (v *Viewer) SetWindow(lo, hi float64) {
	v.lo, v.hi = lo, hi
}

// gray maps a value to a 16-bit level inside the window.
func (v *Viewer) gray(val float64) color.Gray16 {
	if !(v.hi > v.lo) || math.IsNaN(val) {
		if val > v.lo {
			return color.Gray16{Y: 65535}
		}
		return color.Gray16{}
	}
	f := (val - v.lo) / (v.hi - v.lo)
	return color.Gray16{Y: uint16(math.Max(0, math.Min(65535, math.Round(f*65535))))}
}

func (v *Viewer) at(x, y, z int) float64 {
	idx := z*v.width*v.height + y*v.width + x
	if idx < len(v.data) {
		return v.data[idx]
	}
	return 0
}

// ExtractSlice extracts a 2D slice perpendicular to the given RAS axis.
// Images are in neurological convention: right on the right, anterior or
// superior at the top.
func (v *Viewer) ExtractSlice(axis string, position int) (*image.Gray16, error) {
	if position < 0 {
		return nil, fmt.Errorf("position must be non-negative")
	}

	var img *image.Gray16

	switch axis {
	case "x", "X":
		// Sagittal: A across, S up
		if position >= v.width {
			return nil, fmt.Errorf("position %d exceeds width %d", position, v.width)
		}
		img = image.NewGray16(image.Rect(0, 0, v.height, v.depth))
		for z := 0; z < v.depth; z++ {
			for y := 0; y < v.height; y++ {
				img.SetGray16(y, v.depth-1-z, v.gray(v.at(position, y, z)))
			}
		}

	case "y", "Y":
		// Coronal: R across, S up
		if position >= v.height {
			return nil, fmt.Errorf("position %d exceeds height %d", position, v.height)
		}
		img = image.NewGray16(image.Rect(0, 0, v.width, v.depth))
		for z := 0; z < v.depth; z++ {
			for x := 0; x < v.width; x++ {
				img.SetGray16(x, v.depth-1-z, v.gray(v.at(x, position, z)))
			}
		}

	case "z", "Z":
		// Axial: R across, A up
		if position >= v.depth {
			return nil, fmt.Errorf("position %d exceeds depth %d", position, v.depth)
		}
		img = image.NewGray16(image.Rect(0, 0, v.width, v.height))
		for y := 0; y < v.height; y++ {
			for x := 0; x < v.width; x++ {
				img.SetGray16(x, v.height-1-y, v.gray(v.at(x, y, position)))
			}
		}

	default:
		return nil, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	return img, nil
}

// ExtractPhysicalSlice is ExtractSlice resampled so one pixel covers the
// smallest in-plane spacing, giving anisotropic volumes their true aspect.
func (v *Viewer) ExtractPhysicalSlice(axis string, position int) (*image.Gray16, error) {
	img, err := v.ExtractSlice(axis, position)
	if err != nil {
		return nil, err
	}
	var sx, sy float64
	switch axis {
	case "x", "X":
		sx, sy = v.spacing[1], v.spacing[2]
	case "y", "Y":
		sx, sy = v.spacing[0], v.spacing[2]
	default:
		sx, sy = v.spacing[0], v.spacing[1]
	}
	if !(sx > 0) || !(sy > 0) || sx == sy {
		return img, nil
	}
	unit := math.Min(sx, sy)
	b := img.Bounds()
	w := max(1, int(math.Round(float64(b.Dx())*sx/unit)))
	h := max(1, int(math.Round(float64(b.Dy())*sy/unit)))
	out := image.NewGray16(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(out, out.Bounds(), img, b, draw.Src, nil)
	return out, nil
}

// ExtractRegion extracts a 3D subregion of calibrated values in RAS order
func (v *Viewer) ExtractRegion(startX, startY, startZ, sizeX, sizeY, sizeZ int) ([]float64, error) {
	// Validate parameters
	if startX < 0 || startY < 0 || startZ < 0 {
		return nil, fmt.Errorf("start coordinates must be non-negative")
	}

	if sizeX <= 0 || sizeY <= 0 || sizeZ <= 0 {
		return nil, fmt.Errorf("size dimensions must be positive")
	}

	if startX+sizeX > v.width || startY+sizeY > v.height || startZ+sizeZ > v.depth {
		return nil, fmt.Errorf("region extends beyond volume boundaries")
	}

	region := make([]float64, sizeX*sizeY*sizeZ)
	for z := 0; z < sizeZ; z++ {
		for y := 0; y < sizeY; y++ {
			for x := 0; x < sizeX; x++ {
				region[z*sizeX*sizeY+y*sizeX+x] = v.at(startX+x, startY+y, startZ+z)
			}
		}
	}

	return region, nil
}

// SaveSlice writes img, choosing the encoder from the file extension
// (.png, .jpg, .jpeg, .tif or .tiff).
func (v *Viewer) SaveSlice(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".png":
		return png.Encode(file, img)
	case ".jpg", ".jpeg":
		return jpeg.Encode(file, img, &jpeg.Options{Quality: 90})
	case ".tif", ".tiff":
		return tiff.Encode(file, img, &tiff.Options{Compression: tiff.Deflate})
	}
	return fmt.Errorf("unsupported image extension: %s", filename)
}

// SaveSliceSequence extracts and saves every slice along the specified axis.
// format is png, jpeg or tiff.
func (v *Viewer) SaveSliceSequence(axis, outputDir, format string) error {
	ext, err := extension(format)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}

	var maxPos int
	switch axis {
	case "x", "X":
		maxPos = v.width
	case "y", "Y":
		maxPos = v.height
	case "z", "Z":
		maxPos = v.depth
	default:
		return fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	for pos := 0; pos < maxPos; pos++ {
		img, err := v.ExtractPhysicalSlice(axis, pos)
		if err != nil {
			return err
		}

		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%s_%03d%s", strings.ToLower(axis), pos, ext))
		if err := v.SaveSlice(img, filename); err != nil {
			return err
		}
	}

	return nil
}

func extension(format string) (string, error) {
	switch strings.ToLower(format) {
	case "", "png":
		return ".png", nil
	case "jpg", "jpeg":
		return ".jpg", nil
	case "tif", "tiff":
		return ".tiff", nil
	}
	return "", fmt.Errorf("unsupported slice format: %s", format)
}
