// Package config provides configuration loading and management for her2dish.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Processing parameters
	Processing struct {
		// Workers is the number of containers processed concurrently within a stage
		Workers int `yaml:"workers"`

		// OutputBase is the directory under which "<case>_output" is created.
		// Empty means the parent directory of the case input.
		OutputBase string `yaml:"outputBase"`
	} `yaml:"processing"`

	// Signal classifier parameters
	Classifier struct {
		// HER2Model and Chr17Model are the trained classifier artifacts
		HER2Model  string `yaml:"her2Model"`
		Chr17Model string `yaml:"chr17Model"`

		// Command runs an external classifier. Placeholders {model}, {input} and
		// {output} are substituted. Empty selects the built-in color-range classifier.
		Command []string `yaml:"command"`
	} `yaml:"classifier"`

	// Cell segmentation parameters
	Segmentation struct {
		// Model selects the segmentation strategy: stardist, cellpose, otsu or opencv
		Model string `yaml:"model"`

		// Command runs the external segmenter for stardist/cellpose.
		// Placeholders {model}, {input} and {output} are substituted.
		Command []string `yaml:"command"`

		// ExpandDistance grows the built-in segmenter's cells into the background
		ExpandDistance float64 `yaml:"expandDistance"`

		// MinCellArea drops built-in segmentation blobs smaller than this many pixels
		MinCellArea int `yaml:"minCellArea"`
	} `yaml:"segmentation"`

	// Scoring and signal-removal parameters
	Scoring struct {
		// HeatmapSigma is the Gaussian sigma of the HER2 density pre-filter
		HeatmapSigma float64 `yaml:"heatmapSigma"`

		// HeatmapThreshold is the smoothed-density threshold of the pre-filter
		HeatmapThreshold float64 `yaml:"heatmapThreshold"`

		// SignalExpand is the radius, in pixels, signals are grown by before removal
		SignalExpand float64 `yaml:"signalExpand"`

		// BackgroundDelta is the per-channel deviation marking non-background pixels
		BackgroundDelta float64 `yaml:"backgroundDelta"`
	} `yaml:"scoring"`

	// Review policy parameters
	Review struct {
		// BaseCells is the number of cells reviewed by default
		BaseCells int `yaml:"baseCells"`

		// ExtendedCells is the number reviewed when the ratio is borderline
		ExtendedCells int `yaml:"extendedCells"`

		// RatioLow and RatioHigh bound the borderline HER2/Chr17 ratio
		RatioLow  float64 `yaml:"ratioLow"`
		RatioHigh float64 `yaml:"ratioHigh"`

		// AmplifiedRatio is the case ratio at or above which a case is amplified
		AmplifiedRatio float64 `yaml:"amplifiedRatio"`

		// CropExtend is the margin, in pixels, around cropped cell images
		CropExtend int `yaml:"cropExtend"`
	} `yaml:"review"`

	// Output parameters
	Output struct {
		// LogMode selects "development" or "production" logging
		LogMode string `yaml:"logMode"`

		// Verbose controls the level of console output
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	// Set default processing parameters
	cfg.Processing.Workers = runtime.NumCPU()
	cfg.Processing.OutputBase = ""

	// Set default classifier parameters
	cfg.Classifier.HER2Model = filepath.Join("classifier", "HER2", "HER2-0.yaml")
	cfg.Classifier.Chr17Model = filepath.Join("classifier", "Chr17", "Chr17-0.yaml")

	// Set default segmentation parameters
	cfg.Segmentation.Model = "otsu"
	cfg.Segmentation.ExpandDistance = 2
	cfg.Segmentation.MinCellArea = 20

	// Set default scoring parameters
	cfg.Scoring.HeatmapSigma = 50
	cfg.Scoring.HeatmapThreshold = 0.5
	cfg.Scoring.SignalExpand = 3
	cfg.Scoring.BackgroundDelta = 10

	// Set default review parameters
	cfg.Review.BaseCells = 20
	cfg.Review.ExtendedCells = 40
	cfg.Review.RatioLow = 1.8
	cfg.Review.RatioHigh = 2.2
	cfg.Review.AmplifiedRatio = 2.0
	cfg.Review.CropExtend = 10

	// Set default output parameters
	cfg.Output.LogMode = "development"
	cfg.Output.Verbose = true

	return cfg
}

// Validate checks that the configuration values are usable
func (c *Config) Validate() error {
	var errs []error
	if c.Processing.Workers < 1 {
		errs = append(errs, fmt.Errorf("processing.workers must be at least 1, got %d", c.Processing.Workers))
	}
	if c.Scoring.HeatmapSigma < 0 {
		errs = append(errs, fmt.Errorf("scoring.heatmapSigma must not be negative"))
	}
	if c.Scoring.SignalExpand < 0 {
		errs = append(errs, fmt.Errorf("scoring.signalExpand must not be negative"))
	}
	if c.Scoring.BackgroundDelta < 0 {
		errs = append(errs, fmt.Errorf("scoring.backgroundDelta must not be negative"))
	}
	if c.Review.BaseCells < 1 || c.Review.ExtendedCells < c.Review.BaseCells {
		errs = append(errs, fmt.Errorf("review: need 1 <= baseCells <= extendedCells, got %d and %d",
			c.Review.BaseCells, c.Review.ExtendedCells))
	}
	if c.Review.RatioLow > c.Review.RatioHigh {
		errs = append(errs, fmt.Errorf("review: ratioLow %.3f exceeds ratioHigh %.3f",
			c.Review.RatioLow, c.Review.RatioHigh))
	}
	return errors.Join(errs...)
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
		return nil, fmt.Errorf("invalid config file %s: %w", configPath, err)
	}

	return cfg, nil
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
