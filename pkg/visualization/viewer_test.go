package visualization

import (
	"fmt"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"neurovol/pkg/affine"
	"neurovol/pkg/orient"
	"neurovol/pkg/volume"
	"neurovol/pkg/voxels"
)

// testVolume builds a float32 volume with the given spacing and a window of
// 0 to 1.
func testVolume(t *testing.T, width, height, depth int, spacing [3]float64, fill func(x, y, z int) float32) *volume.Volume {
	t.Helper()
	data := make([]float32, width*height*depth)
	for z := 0; z < depth; z++ {
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				data[z*width*height+y*width+x] = fill(x, y, z)
			}
		}
	}
	pix := [8]float64{1, spacing[0], spacing[1], spacing[2], 1, 1, 1, 1}
	m := affine.Diagonal(pix)
	o, err := orient.Compute(m, [3]int{width, height, depth}, spacing)
	if err != nil {
		t.Fatalf("Failed to compute orientation: %v", err)
	}
	return &volume.Volume{
		Header: volume.Header{
			Dims:     [8]int{3, width, height, depth, 1, 1, 1, 1},
			PixDims:  pix,
			Datatype: voxels.Float32,
			SclSlope: 1,
			Affine:   m,
		},
		Samples:     voxels.Buffer{Type: voxels.Float32, F32: data},
		NFrame4D:    1,
		Orientation: o,
		Calibration: volume.Calibration{CalMin: 0, CalMax: 1},
	}
}

// TestNewViewer verifies that a new viewer takes its geometry from the volume
func TestNewViewer(t *testing.T) {
	width, height, depth := 10, 8, 5
	vol := testVolume(t, width, height, depth, [3]float64{1, 1, 2}, func(x, y, z int) float32 {
		return float32(x + y + z)
	})

	viewer := NewViewer(vol, 0)

	if viewer.width != width || viewer.height != height || viewer.depth != depth {
		t.Errorf("Expected dimensions %dx%dx%d, got %dx%dx%d",
			width, height, depth, viewer.width, viewer.height, viewer.depth)
	}
	if viewer.spacing[2] != 2 {
		t.Errorf("Expected z spacing 2, got %f", viewer.spacing[2])
	}
	if len(viewer.data) != width*height*depth {
		t.Errorf("Expected %d values, got %d", width*height*depth, len(viewer.data))
	}
	if viewer.lo != 0 || viewer.hi != 1 {
		t.Errorf("Expected window [0, 1], got [%f, %f]", viewer.lo, viewer.hi)
	}
}

// TestExtractSlice verifies slice geometry, windowing and orientation
func TestExtractSlice(t *testing.T) {
	width, height, depth := 10, 8, 5
	vol := testVolume(t, width, height, depth, [3]float64{1, 1, 1}, func(x, y, z int) float32 {
		return float32(z) / float32(depth-1)
	})
	viewer := NewViewer(vol, 0)

	for z := 0; z < depth; z++ {
		img, err := viewer.ExtractSlice("z", z)
		if err != nil {
			t.Fatalf("Failed to extract Z slice at position %d: %v", z, err)
		}
		bounds := img.Bounds()
		if bounds.Dx() != width || bounds.Dy() != height {
			t.Errorf("Expected Z slice dimensions %dx%d, got %dx%d",
				width, height, bounds.Dx(), bounds.Dy())
		}
		want := uint16(float64(z) / float64(depth-1) * 65535)
		got := img.Gray16At(width/2, height/2).Y
		if diff := int(got) - int(want); diff > 1 || diff < -1 {
			t.Errorf("Expected Z slice value ~%d at center, got %d", want, got)
		}
	}

	imgX, err := viewer.ExtractSlice("x", width/2)
	if err != nil {
		t.Fatalf("Failed to extract X slice: %v", err)
	}
	if b := imgX.Bounds(); b.Dx() != height || b.Dy() != depth {
		t.Errorf("Expected X slice dimensions %dx%d, got %dx%d", height, depth, b.Dx(), b.Dy())
	}
	// Superior is drawn at the top
	if imgX.Gray16At(0, 0).Y != 65535 || imgX.Gray16At(0, depth-1).Y != 0 {
		t.Errorf("Expected superior slice at the top of the sagittal view")
	}

	imgY, err := viewer.ExtractSlice("y", height/2)
	if err != nil {
		t.Fatalf("Failed to extract Y slice: %v", err)
	}
	if b := imgY.Bounds(); b.Dx() != width || b.Dy() != depth {
		t.Errorf("Expected Y slice dimensions %dx%d, got %dx%d", width, depth, b.Dx(), b.Dy())
	}

	if _, err := viewer.ExtractSlice("invalid", 0); err == nil {
		t.Error("Expected error for invalid axis, got nil")
	}
	if _, err := viewer.ExtractSlice("z", depth+1); err == nil {
		t.Error("Expected error for out of bounds position, got nil")
	}
}

// TestExtractSliceFollowsRAS verifies a left-right flipped volume is
// displayed with right on the right
func TestExtractSliceFollowsRAS(t *testing.T) {
	width, height, depth := 4, 3, 2
	vol := testVolume(t, width, height, depth, [3]float64{1, 1, 1}, func(x, y, z int) float32 {
		if x == 0 {
			return 1
		}
		return 0
	})
	m := vol.Header.Affine
	m[0][0], m[0][3] = -1, float64(width-1)
	o, err := orient.Compute(m, [3]int{width, height, depth}, [3]float64{1, 1, 1})
	if err != nil {
		t.Fatalf("Failed to compute orientation: %v", err)
	}
	vol.Header.Affine, vol.Orientation = m, o

	img, err := NewViewer(vol, 0).ExtractSlice("z", 0)
	if err != nil {
		t.Fatalf("Failed to extract slice: %v", err)
	}
	if img.Gray16At(width-1, 0).Y != 65535 || img.Gray16At(0, 0).Y != 0 {
		t.Errorf("Expected native column 0 on the right of the image")
	}
}

// TestExtractPhysicalSlice verifies anisotropic slices are stretched to
// their physical aspect
func TestExtractPhysicalSlice(t *testing.T) {
	vol := testVolume(t, 6, 6, 4, [3]float64{1, 1, 3}, func(x, y, z int) float32 { return 0.5 })
	viewer := NewViewer(vol, 0)

	img, err := viewer.ExtractPhysicalSlice("y", 2)
	if err != nil {
		t.Fatalf("Failed to extract physical slice: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 6 || b.Dy() != 12 {
		t.Errorf("Expected 6x12 coronal image, got %dx%d", b.Dx(), b.Dy())
	}

	axial, err := viewer.ExtractPhysicalSlice("z", 0)
	if err != nil {
		t.Fatalf("Failed to extract physical slice: %v", err)
	}
	if b := axial.Bounds(); b.Dx() != 6 || b.Dy() != 6 {
		t.Errorf("Expected isotropic axial image to keep 6x6, got %dx%d", b.Dx(), b.Dy())
	}
}

// TestExtractRegion verifies that 3D regions are correctly extracted
func TestExtractRegion(t *testing.T) {
	width, height, depth := 10, 10, 5
	value := func(x, y, z int) float32 { return float32(x + 10*y + 100*z) }
	viewer := NewViewer(testVolume(t, width, height, depth, [3]float64{1, 1, 1}, value), 0)

	startX, startY, startZ := 2, 3, 1
	sizeX, sizeY, sizeZ := 4, 3, 2

	region, err := viewer.ExtractRegion(startX, startY, startZ, sizeX, sizeY, sizeZ)
	if err != nil {
		t.Fatalf("Failed to extract region: %v", err)
	}
	if len(region) != sizeX*sizeY*sizeZ {
		t.Errorf("Expected region size %d, got %d", sizeX*sizeY*sizeZ, len(region))
	}
	for z := 0; z < sizeZ; z++ {
		for y := 0; y < sizeY; y++ {
			for x := 0; x < sizeX; x++ {
				want := float64(value(startX+x, startY+y, startZ+z))
				if got := region[z*sizeX*sizeY+y*sizeX+x]; got != want {
					t.Errorf("Region value mismatch at (%d,%d,%d): expected %f, got %f", x, y, z, want, got)
				}
			}
		}
	}

	if _, err := viewer.ExtractRegion(-1, 0, 0, 1, 1, 1); err == nil {
		t.Error("Expected error for negative start coordinate, got nil")
	}
	if _, err := viewer.ExtractRegion(0, 0, 0, 0, 1, 1); err == nil {
		t.Error("Expected error for zero size, got nil")
	}
	if _, err := viewer.ExtractRegion(width-1, 0, 0, 2, 1, 1); err == nil {
		t.Error("Expected error for region extending beyond volume, got nil")
	}
}

// TestSaveSlice verifies that slices can be saved in each format
func TestSaveSlice(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping file I/O test in short mode")
	}
	tempDir := t.TempDir()

	viewer := NewViewer(testVolume(t, 10, 10, 5, [3]float64{1, 1, 1}, func(x, y, z int) float32 { return 0.5 }), 0)
	img, err := viewer.ExtractSlice("z", 0)
	if err != nil {
		t.Fatalf("Failed to extract slice: %v", err)
	}

	for _, name := range []string{"slice.png", "slice.jpg", "slice.tiff"} {
		filename := filepath.Join(tempDir, name)
		if err := viewer.SaveSlice(img, filename); err != nil {
			t.Fatalf("Failed to save %s: %v", name, err)
		}
		if _, err := os.Stat(filename); os.IsNotExist(err) {
			t.Errorf("Saved file does not exist: %s", filename)
		}
	}

	f, err := os.Open(filepath.Join(tempDir, "slice.png"))
	if err != nil {
		t.Fatalf("Failed to open png: %v", err)
	}
	defer f.Close()
	decoded, err := png.Decode(f)
	if err != nil {
		t.Fatalf("Failed to decode png: %v", err)
	}
	if decoded.Bounds() != img.Bounds() {
		t.Errorf("Expected bounds %v, got %v", img.Bounds(), decoded.Bounds())
	}

	if err := viewer.SaveSlice(img, filepath.Join(tempDir, "slice.bmp")); err == nil {
		t.Error("Expected error for unsupported extension, got nil")
	}
}

// TestSaveSliceSequence verifies that a sequence of slices can be saved
func TestSaveSliceSequence(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping file I/O test in short mode")
	}
	outputDir := filepath.Join(t.TempDir(), "slices")

	depth := 3
	viewer := NewViewer(testVolume(t, 5, 5, depth, [3]float64{1, 1, 1}, func(x, y, z int) float32 { return 0.5 }), 0)

	if err := viewer.SaveSliceSequence("z", outputDir, "png"); err != nil {
		t.Fatalf("Failed to save slice sequence: %v", err)
	}
	for z := 0; z < depth; z++ {
		filename := filepath.Join(outputDir, fmt.Sprintf("slice_z_%03d.png", z))
		if _, err := os.Stat(filename); os.IsNotExist(err) {
			t.Errorf("Expected slice file does not exist: %s", filename)
		}
	}

	if err := viewer.SaveSliceSequence("invalid", outputDir, "png"); err == nil {
		t.Error("Expected error for invalid axis, got nil")
	}
	if err := viewer.SaveSliceSequence("z", outputDir, "gif"); err == nil {
		t.Error("Expected error for unsupported format, got nil")
	}
}
