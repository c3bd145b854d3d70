package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"neurovol/pkg/calibrate"
	"neurovol/pkg/config"
	"neurovol/pkg/formats"
	"neurovol/pkg/nifti"
	"neurovol/pkg/pipeline"
	"neurovol/pkg/visualization"
	"neurovol/pkg/volume"
	"neurovol/pkg/voxels"
)

func main() {
	// Parse command line arguments
	input := flag.String("input", "", "Volume file, or a directory holding one DICOM series or several volumes")
	paired := flag.String("paired", "", "Data file of a split format (found automatically for .hdr, .HEAD and detached headers)")
	configPath := flag.String("config", "neurovol.yaml", "YAML configuration file")
	writeConfig := flag.Bool("write-config", false, "Write the default configuration to -config and exit")
	frames := flag.Int("frames", -1, "Maximum number of 4D frames to keep (overrides config)")
	qform := flag.Bool("qform", false, "Prefer the NIfTI qform over the sform")
	otsu := flag.Int("otsu", -1, "Number of Otsu classes, 2 to 4 (overrides config)")
	save := flag.String("save", "", "Write the loaded volume as a NIfTI-1 file")
	labels := flag.String("otsu-labels", "", "Write the Otsu class of every voxel as a NIfTI-1 label map")
	slicesDir := flag.String("slices", "", "Directory to save RAS slices along all axes")
	sliceFormat := flag.String("format", "", "Slice image format: png, jpeg or tiff")
	verbose := flag.Bool("v", false, "Verbose logging")
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if *writeConfig {
		if err := config.CreateDefaultConfigFile(*configPath); err != nil {
			log.Fatalf("Failed to write config: %v", err)
		}
		fmt.Printf("Default configuration written to %s\n", *configPath)
		return
	}

	// Validate inputs
	if *input == "" {
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *frames >= 0 {
		cfg.Load.LimitFrames4D = *frames
	}
	if *qform {
		cfg.Load.UseQFormNotSForm = true
	}
	if *otsu >= 0 {
		cfg.Load.OtsuLevels = *otsu
	}
	if *save != "" {
		cfg.Output.SaveNIfTI = *save
	}
	if *slicesDir != "" {
		cfg.Output.SlicesDir = *slicesDir
	}
	if *sliceFormat != "" {
		cfg.Output.SliceFormat = *sliceFormat
	}
	if *verbose {
		cfg.Output.Verbose = true
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid options: %v", err)
	}
	if cfg.Output.Verbose {
		log.SetLevel(logrus.DebugLevel)
	}

	inputs, err := gatherInputs(*input, *paired)
	if err != nil {
		log.Fatalf("Failed to read input: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	loader := pipeline.NewLoader(cfg.Options(log))
	startTime := time.Now()
	vols, err := loader.LoadAll(ctx, inputs)
	if err != nil {
		log.Errorf("Some inputs failed: %v", err)
	}
	log.WithField("elapsed", time.Since(startTime)).Debug("loading finished")

	loaded := 0
	for _, v := range vols {
		if v == nil {
			continue
		}
		loaded++
		printVolume(v)
		if err := writeOutputs(v, cfg, *labels, len(inputs) > 1); err != nil {
			log.Errorf("Failed to write outputs for %s: %v", v.Name, err)
		}
	}
	if loaded == 0 {
		os.Exit(1)
	}
}

// gatherInputs reads a single file (with its pair) or a directory. A
// directory whose files are all DICOM becomes one series.
func gatherInputs(path, pairedPath string) ([]pipeline.Input, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		in, err := readInput(path, pairedPath)
		if err != nil {
			return nil, err
		}
		return []pipeline.Input{in}, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			names = append(names, filepath.Join(path, e.Name()))
		}
	}
	sort.Strings(names)

	var inputs []pipeline.Input
	var series [][]byte
	referenced := map[string]bool{}
	for _, name := range names {
		data, err := os.ReadFile(name)
		if err != nil {
			return nil, err
		}
		if f, _ := formats.Classify(name, data); f == formats.DICOM {
			series = append(series, data)
			continue
		}
		if isDataFile(name) {
			continue
		}
		in, paired, err := withPair(name, data, "")
		if err != nil {
			return nil, err
		}
		if paired != "" {
			referenced[filepath.Clean(paired)] = true
		}
		inputs = append(inputs, in)
	}
	kept := inputs[:0]
	for _, in := range inputs {
		if !referenced[filepath.Clean(in.Name)] {
			kept = append(kept, in)
		}
	}
	inputs = kept
	if len(series) > 0 {
		inputs = append(inputs, pipeline.Input{Name: path, Data: series[0], Series: series[1:]})
	}
	if len(inputs) == 0 {
		return nil, fmt.Errorf("no volumes in %s", path)
	}
	return inputs, nil
}

// isDataFile reports the data halves of split formats, loaded through
// their header.
func isDataFile(name string) bool {
	switch formats.Extension(name) {
	case "img", "brik":
		return true
	}
	return false
}

func readInput(path, pairedPath string) (pipeline.Input, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return pipeline.Input{}, err
	}
	in, _, err := withPair(path, data, pairedPath)
	return in, err
}

// withPair attaches the data file of a split header, located from the
// header itself when pairedPath is empty, and returns the file it used.
func withPair(path string, data []byte, pairedPath string) (pipeline.Input, string, error) {
	in := pipeline.Input{Name: path, Data: data}
	if pairedPath == "" {
		pairedPath = findPaired(path, data)
	}
	if pairedPath != "" {
		var err error
		if in.Paired, err = os.ReadFile(pairedPath); err != nil {
			return pipeline.Input{}, "", err
		}
	}
	return in, pairedPath, nil
}

// findPaired locates the data file of a split header, trying the plain and
// compressed names. Detached NRRD, MetaImage and MRtrix headers name their
// data file; .hdr and .HEAD pairs follow from the header's own name.
func findPaired(path string, data []byte) string {
	name, ok := formats.PairedName(path)
	if !ok && formats.HeaderOnly(path) {
		if header, err := formats.Decompress(data); err == nil {
			name, ok = formats.DetachedName(path, header)
		}
	}
	if !ok {
		return ""
	}
	for _, candidate := range []string{name, name + ".gz", name + ".zst"} {
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

func printVolume(v *volume.Volume) {
	h := v.Header
	o := v.Orientation
	c := v.Calibration
	fmt.Println("================================")
	fmt.Printf("%s (%s)\n", v.Name, v.Format)
	fmt.Println("================================")
	fmt.Printf("ID:          %s\n", v.ID)
	fmt.Printf("Dimensions:  %v\n", h.Dims[1:h.Dims[0]+1])
	fmt.Printf("Spacing:     %.4g\n", h.PixDims[1:h.Dims[0]+1])
	fmt.Printf("Datatype:    %s (%d bits)\n", h.Datatype, h.BitsPerVoxel)
	fmt.Printf("Frames:      %d of %d\n", v.NFrame4D, v.NTotalFrame4D)
	fmt.Printf("Scaling:     %g * x + %g\n", h.SclSlope, h.SclInter)
	fmt.Println("Affine:")
	for _, row := range h.Affine[:3] {
		fmt.Printf("  %10.4f %10.4f %10.4f %10.4f\n", row[0], row[1], row[2], row[3])
	}
	fmt.Printf("RAS order:   %v (dims %v)\n", o.PermRAS, o.DimsRAS)
	if o.ObliqueAngle > 0 {
		fmt.Printf("Oblique:     %.2f degrees, shear %.2f degrees\n", o.ObliqueAngle, o.MaxShearDeg)
	}
	fmt.Printf("Display:     %g .. %g\n", c.CalMin, c.CalMax)
	fmt.Printf("Robust:      %g .. %g\n", c.RobustMin, c.RobustMax)
	fmt.Printf("Global:      %g .. %g (mean %g, sd %g)\n", c.GlobalMin, c.GlobalMax, c.Mean, c.StdDev)
	var otsu []float64
	for _, t := range c.Otsu {
		if !math.IsInf(t, 0) && !math.IsNaN(t) {
			otsu = append(otsu, t)
		}
	}
	if len(otsu) > 0 {
		fmt.Printf("Otsu:        %v\n", otsu)
	}
	if len(v.Extensions) > 0 {
		fmt.Printf("Extensions:  %d\n", len(v.Extensions))
	}
}

func writeOutputs(v *volume.Volume, cfg *config.Config, labelsPath string, many bool) error {
	base := strings.TrimSuffix(filepath.Base(v.Name), filepath.Ext(v.Name))
	perInput := func(path string) string {
		if many {
			return filepath.Join(filepath.Dir(path), base+"_"+filepath.Base(path))
		}
		return path
	}
	if path := cfg.Output.SaveNIfTI; path != "" {
		path = perInput(path)
		if err := os.WriteFile(path, nifti.Write(v), 0644); err != nil {
			return err
		}
		fmt.Printf("NIfTI saved to: %s\n", path)
	}
	if labelsPath != "" && !math.IsInf(v.Calibration.Otsu[0], 0) {
		path := perInput(labelsPath)
		if err := os.WriteFile(path, nifti.Write(otsuLabels(v)), 0644); err != nil {
			return err
		}
		fmt.Printf("Otsu labels saved to: %s\n", path)
	}
	if dir := cfg.Output.SlicesDir; dir != "" {
		if many {
			dir = filepath.Join(dir, base)
		}
		viewer := visualization.NewViewer(v, v.Frame4D)
		for _, axis := range []string{"x", "y", "z"} {
			axisDir := filepath.Join(dir, axis)
			fmt.Printf("Saving %s-axis slices to: %s\n", axis, axisDir)
			if err := viewer.SaveSliceSequence(axis, axisDir, cfg.Output.SliceFormat); err != nil {
				return fmt.Errorf("%s-axis slices: %w", axis, err)
			}
		}
	}
	return nil
}

// otsuLabels returns a uint8 label volume holding the Otsu class of every
// voxel of the selected frame.
func otsuLabels(v *volume.Volume) *volume.Volume {
	frame := v.FrameSamples(v.Frame4D)
	classes := calibrate.ApplyThresholds(frame, v.Calibration.Otsu, calibrate.Options{
		Slope: v.Header.SclSlope,
		Inter: v.Header.SclInter,
	})

	out := &volume.Volume{
		Name:     v.Name,
		Format:   v.Format,
		Header:   v.Header,
		Samples:  voxels.Buffer{Type: voxels.Uint8, U8: classes},
		NFrame4D: 1,
	}
	h := &out.Header
	h.Dims[0] = 3
	for i := 4; i < len(h.Dims); i++ {
		h.Dims[i] = 1
	}
	h.Datatype, h.BitsPerVoxel = voxels.Uint8, 8
	h.SclSlope, h.SclInter = 1, 0
	h.CalMin, h.CalMax = 0, 3
	h.IntentCode = volume.IntentLabel
	h.IntentName = "otsu"
	h.LittleEndian = true
	return out
}
