package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/tendant/simple-image-sync/pkg/pipeline"
	"gopkg.in/yaml.v3"
)

// Environment overrides
const (
	EnvBaseDir     = "IMAGESYNC_BASE_DIR"
	EnvSourceRoot  = "IMAGESYNC_SOURCE_ROOT"
	EnvDerivedRoot = "IMAGESYNC_DERIVED_ROOT"
	EnvCopyDir     = "IMAGESYNC_COPY_DIR"
	EnvConcurrency = "IMAGESYNC_CONCURRENCY"
	EnvHTTPAddr    = "IMAGESYNC_HTTP_ADDR"
)

// fileConfig is the on-disk YAML shape
type fileConfig struct {
	BaseDir       string          `yaml:"base_dir"`
	SourceRoot    string          `yaml:"source_root"`
	DerivedRoot   string          `yaml:"derived_root"`
	CopyDir       string          `yaml:"copy_dir"`
	Concurrency   int             `yaml:"concurrency"`
	WatchDebounce time.Duration   `yaml:"watch_debounce"`
	HTTPAddr      string          `yaml:"http_addr"`
	Transforms    []fileTransform `yaml:"transforms"`
}

type fileTransform struct {
	SourceGlob string           `yaml:"source_glob"`
	DestRoot   string           `yaml:"dest_root"`
	Width      int              `yaml:"width"`
	Height     int              `yaml:"height"`
	Crop       bool             `yaml:"crop"`
	Gravity    pipeline.Gravity `yaml:"gravity"`
	Quality    *float64         `yaml:"quality"` // nil means 1
}

// LoadEnv loads .env files into the process environment.
// Missing files are ignored.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load env file %s: %w", f, err)
		}
	}
	return nil
}

// Load reads the YAML file at path, applies environment overrides and
// defaults, and validates the result
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Field: "file", Reason: err.Error()}
	}
	return Parse(data)
}

// Parse decodes YAML config data, applies environment overrides and
// defaults, and validates the result
func Parse(data []byte) (*Config, error) {
	var fc fileConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&fc); err != nil && !errors.Is(err, io.EOF) {
		return nil, &ConfigError{Field: "file", Reason: err.Error()}
	}

	cfg := &Config{
		BaseDir:       fc.BaseDir,
		SourceRoot:    fc.SourceRoot,
		DerivedRoot:   fc.DerivedRoot,
		CopyDir:       fc.CopyDir,
		Concurrency:   fc.Concurrency,
		WatchDebounce: fc.WatchDebounce,
		HTTPAddr:      fc.HTTPAddr,
	}
	for _, t := range fc.Transforms {
		quality := 1.0
		if t.Quality != nil {
			quality = *t.Quality
		}
		cfg.Transforms = append(cfg.Transforms, pipeline.TransformSpec{
			SourceGlob: t.SourceGlob,
			DestRoot:   t.DestRoot,
			Width:      t.Width,
			Height:     t.Height,
			Crop:       t.Crop,
			Gravity:    t.Gravity,
			Quality:    quality,
		})
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv(EnvBaseDir); v != "" {
		cfg.BaseDir = v
	}
	if v := os.Getenv(EnvSourceRoot); v != "" {
		cfg.SourceRoot = v
	}
	if v := os.Getenv(EnvDerivedRoot); v != "" {
		cfg.DerivedRoot = v
	}
	if v := os.Getenv(EnvCopyDir); v != "" {
		cfg.CopyDir = v
	}
	if v := os.Getenv(EnvHTTPAddr); v != "" {
		cfg.HTTPAddr = v
	}
	if v := os.Getenv(EnvConcurrency); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return invalid("concurrency", "%s=%q is not a number", EnvConcurrency, v)
		}
		cfg.Concurrency = n
	}
	return nil
}
