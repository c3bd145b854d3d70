// Package config provides configuration loading and management for neurovol.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"neurovol/pkg/pipeline"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Load parameters passed to the volume pipeline
	Load struct {
		// PercentileFrac is trimmed from each end of the histogram for the
		// robust display range
		PercentileFrac float64 `yaml:"percentileFrac"`

		// IgnoreZeroVoxels excludes zeros from calibration
		IgnoreZeroVoxels bool `yaml:"ignoreZeroVoxels"`

		// UseQFormNotSForm prefers the NIfTI quaternion transform
		UseQFormNotSForm bool `yaml:"useQFormNotSForm"`

		// LimitFrames4D caps the frames kept in memory, 0 keeps all
		LimitFrames4D int `yaml:"limitFrames4D"`

		// TrustCalMinMax uses the display window stored in the header
		TrustCalMinMax bool `yaml:"trustCalMinMax"`

		// OtsuLevels is the number of Otsu classes (2 to 4), 0 disables
		OtsuLevels int `yaml:"otsuLevels"`

		// CentreCalibration calibrates on the central half of the volume
		CentreCalibration bool `yaml:"centreCalibration"`

		// NumWorkers bounds concurrent loads
		NumWorkers int `yaml:"numWorkers"`
	} `yaml:"load"`

	// Output parameters
	Output struct {
		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`

		// SaveNIfTI writes the loaded volume as a single-file NIfTI-1 image
		SaveNIfTI string `yaml:"saveNIfTI"`

		// SliceFormat is the image format of exported slices (png, jpeg, tiff)
		SliceFormat string `yaml:"sliceFormat"`

		// SlicesDir is where slice sequences are written, empty disables
		SlicesDir string `yaml:"slicesDir"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	// Set default load parameters
	cfg.Load.PercentileFrac = 0.02
	cfg.Load.IgnoreZeroVoxels = false
	cfg.Load.UseQFormNotSForm = false
	cfg.Load.LimitFrames4D = 0
	cfg.Load.TrustCalMinMax = true
	cfg.Load.OtsuLevels = 0
	cfg.Load.NumWorkers = runtime.NumCPU()

	// Set default output parameters
	cfg.Output.Verbose = false
	cfg.Output.SliceFormat = "png"

	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	// Read config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// Parse YAML
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values the pipeline cannot honour.
func (c *Config) Validate() error {
	if c.Load.PercentileFrac < 0 || c.Load.PercentileFrac >= 0.5 {
		return fmt.Errorf("percentileFrac %g outside [0, 0.5)", c.Load.PercentileFrac)
	}
	if c.Load.LimitFrames4D < 0 {
		return fmt.Errorf("limitFrames4D %d is negative", c.Load.LimitFrames4D)
	}
	if l := c.Load.OtsuLevels; l != 0 && (l < 2 || l > 4) {
		return fmt.Errorf("otsuLevels %d outside 2..4", l)
	}
	switch c.Output.SliceFormat {
	case "", "png", "jpeg", "jpg", "tiff":
	default:
		return fmt.Errorf("unknown slice format %q", c.Output.SliceFormat)
	}
	return nil
}

// Options converts the load section into pipeline options.
func (c *Config) Options(logger logrus.FieldLogger) pipeline.Options {
	return pipeline.Options{
		Logger:            logger,
		PercentileFrac:    c.Load.PercentileFrac,
		IgnoreZeroVoxels:  c.Load.IgnoreZeroVoxels,
		UseQFormNotSForm:  c.Load.UseQFormNotSForm,
		LimitFrames4D:     c.Load.LimitFrames4D,
		TrustCalMinMax:    c.Load.TrustCalMinMax,
		OtsuLevels:        c.Load.OtsuLevels,
		CentreCalibration: c.Load.CentreCalibration,
		NumWorkers:        c.Load.NumWorkers,
	}
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	// Marshal config to YAML
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	// Write to file
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}
