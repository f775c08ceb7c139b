// Package config loads and validates the YAML run configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration.
type Config struct {
	Paths    PathsConfig    `yaml:"paths"`
	Viewshed ViewshedConfig `yaml:"viewshed"`
	Merge    MergeConfig    `yaml:"merge"`
	Oracle   OracleConfig   `yaml:"oracle"`
	Workers  int            `yaml:"workers"` // 0 = one per CPU
	Log      LogConfig      `yaml:"log"`
}

// PathsConfig holds the input and output locations of a run.
type PathsConfig struct {
	Turbines  string `yaml:"turbines"`   // turbine point shapefile
	FovTable  string `yaml:"fov_table"`  // FOV lookup table CSV
	Elevation string `yaml:"elevation"`  // elevation raster
	OutputDir string `yaml:"output_dir"` // all outputs land under here
}

// ViewshedConfig holds the per-turbine analysis settings.
type ViewshedConfig struct {
	ObstructionIntervalM float64  `yaml:"obstruction_interval_m"`
	MaxDistance          Distance `yaml:"max_distance"`
	ViewerHeightM        float64  `yaml:"viewer_height_m"`
	SaveAll              bool     `yaml:"save_all"` // keep per-height viewsheds and composites
}

// MergeConfig holds the mosaic settings.
type MergeConfig struct {
	BlockSize int `yaml:"block_size"`
}

// OracleConfig holds the external viewshed command settings.
type OracleConfig struct {
	Command []string `yaml:"command"` // template; {elevation} {x} {y} {z} {tz} {md} {out}
	Timeout Duration `yaml:"timeout"` // per invocation
	TempDir string   `yaml:"temp_dir"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Path  string `yaml:"path"`
	Level string `yaml:"level"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Paths: PathsConfig{
			Turbines:  "./data/turbines.shp",
			FovTable:  "./data/fov_lookup.csv",
			Elevation: "./data/elevation.grd",
			OutputDir: "./output",
		},
		Viewshed: ViewshedConfig{
			ObstructionIntervalM: 20,
			MaxDistance:          Distance(10000),
			ViewerHeightM:        1.75,
			SaveAll:              false,
		},
		Merge: MergeConfig{
			BlockSize: 3600,
		},
		Oracle: OracleConfig{
			Timeout: Duration(5 * time.Minute),
		},
		Workers: 0,
		Log: LogConfig{
			Path:  "./logs/viawind.log",
			Level: "INFO",
		},
	}
}

// Load loads the configuration from the given path. If the file does not
// exist it is created with default values; if it exists, values found in it
// override the defaults but the file is never rewritten (to preserve user
// formatting and comments).
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	} else {
		if err := Save(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to save config file: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration to the path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(`# viawind Configuration
# ---------------------
# Supported units:
#   Duration: ns, us, ms, s, m, h, d (day), w (week)
#   Distance: m (meters), km (kilometers)

`)
	data = append(header, data...)

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

var logLevels = []string{"DEBUG", "INFO", "WARN", "ERROR"}

// Validate checks every field and reports all problems at once, so a user
// fixing a config file only needs one round trip.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if c.Paths.Turbines == "" {
		add("paths.turbines must be set")
	}
	if c.Paths.FovTable == "" {
		add("paths.fov_table must be set")
	}
	if c.Paths.Elevation == "" {
		add("paths.elevation must be set")
	}
	if c.Paths.OutputDir == "" {
		add("paths.output_dir must be set")
	}
	if c.Viewshed.ObstructionIntervalM <= 0 {
		add("viewshed.obstruction_interval_m must be positive, got %g", c.Viewshed.ObstructionIntervalM)
	}
	if c.Viewshed.MaxDistance <= 0 {
		add("viewshed.max_distance must be positive, got %g", float64(c.Viewshed.MaxDistance))
	}
	if c.Viewshed.ViewerHeightM <= 0 {
		add("viewshed.viewer_height_m must be positive, got %g", c.Viewshed.ViewerHeightM)
	}
	if c.Merge.BlockSize <= 0 {
		add("merge.block_size must be positive, got %d", c.Merge.BlockSize)
	}
	if c.Workers < 0 {
		add("workers must not be negative, got %d", c.Workers)
	}
	if len(c.Oracle.Command) == 0 {
		add("oracle.command must be set")
	} else if !strings.Contains(strings.Join(c.Oracle.Command, " "), "{out}") {
		add("oracle.command must contain the {out} placeholder")
	}
	if c.Log.Level != "" {
		valid := false
		for _, l := range logLevels {
			if strings.EqualFold(c.Log.Level, l) {
				valid = true
				break
			}
		}
		if !valid {
			add("log.level must be one of %s, got %q", strings.Join(logLevels, ", "), c.Log.Level)
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration:\n\t%s", strings.Join(problems, "\n\t"))
	}
	return nil
}

// MaxDistanceKM returns the analysis distance in kilometers.
func (c *Config) MaxDistanceKM() float64 {
	return float64(c.Viewshed.MaxDistance) / 1000
}
