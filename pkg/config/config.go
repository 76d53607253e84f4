// Package config provides configuration loading and management for gazevol.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Viewer holds display defaults applied to new layers and shortcuts
	Viewer struct {
		// DefaultColormap is applied to layers added without one
		DefaultColormap string `yaml:"defaultColormap"`

		// DefaultOpacity is the opacity for layers added without one
		DefaultOpacity float64 `yaml:"defaultOpacity"`

		// ZoomFactor is the per-keypress zoom multiplier
		ZoomFactor float64 `yaml:"zoomFactor"`

		// OpacityStep is the per-keypress opacity adjustment
		OpacityStep float64 `yaml:"opacityStep"`
	} `yaml:"viewer"`

	// Heatmap holds gaze-density generation parameters
	Heatmap struct {
		// Sigma is the Gaussian kernel width in voxels
		Sigma float64 `yaml:"sigma"`

		// ClusterRadius merges fixations closer than this many voxels;
		// zero disables clustering
		ClusterRadius float64 `yaml:"clusterRadius"`

		// Workers is the number of goroutines expanding fixations
		Workers int `yaml:"workers"`

		// Normalize rescales finished volumes to a [0,1] density range
		Normalize bool `yaml:"normalize"`
	} `yaml:"heatmap"`

	// Preview holds slice-preview output parameters
	Preview struct {
		// Quality is the JPEG quality for preview slices (1-100)
		Quality int `yaml:"quality"`

		// OutputDir is the directory preview slices are written to
		OutputDir string `yaml:"outputDir"`
	} `yaml:"preview"`

	// Output parameters
	Output struct {
		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	// Set default viewer parameters
	cfg.Viewer.DefaultColormap = "gray"
	cfg.Viewer.DefaultOpacity = 1.0
	cfg.Viewer.ZoomFactor = 1.1
	cfg.Viewer.OpacityStep = 0.1

	// Set default heatmap parameters
	cfg.Heatmap.Sigma = 2.0
	cfg.Heatmap.ClusterRadius = 0.0
	cfg.Heatmap.Workers = runtime.NumCPU()
	cfg.Heatmap.Normalize = true

	// Set default preview parameters
	cfg.Preview.Quality = 90
	cfg.Preview.OutputDir = "heatmap_slices"

	// Set default output parameters
	cfg.Output.Verbose = true

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
