// Package config loads detscore settings from a YAML file, a .env file and
// DETSCORE_* environment variables, in increasing order of precedence.
package config

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultPath is the config file read when none is given.
	DefaultPath = "detscore.yaml"

	// EnvPrefix prefixes every environment override.
	EnvPrefix = "DETSCORE_"

	// LayoutSibling reads a.txt next to a.jpg.
	LayoutSibling = "sibling"

	// LayoutDataset reads labels/x/a.txt for images/x/a.jpg.
	LayoutDataset = "dataset"
)

// Config holds everything the command needs to build a run.
type Config struct {
	// Model is the identifier records are stored under.
	Model string `yaml:"model"`

	// ModelPath is a local ONNX model. DetectorURL selects a remote
	// detection server instead.
	ModelPath   string `yaml:"model_path"`
	DetectorURL string `yaml:"detector_url"`
	ORTLibrary  string `yaml:"ort_library"`

	InputSize    int     `yaml:"input_size"`
	Confidence   float64 `yaml:"confidence"`
	NMSThreshold float64 `yaml:"nms_threshold"`

	Classes     []string `yaml:"classes"`
	LabelLayout string   `yaml:"label_layout"`

	Database  string   `yaml:"database"`
	DataDirs  []string `yaml:"data_dirs"`
	PathsFile string   `yaml:"paths_file"`

	IoUThreshold  float64       `yaml:"iou_threshold"`
	Workers       int           `yaml:"workers"`
	DetectTimeout time.Duration `yaml:"detect_timeout"`

	LogLevel string `yaml:"log_level"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		InputSize:    640,
		Confidence:   0.25,
		NMSThreshold: 0.45,
		LabelLayout:  LayoutSibling,
		Database:     "images.db",
		IoUThreshold: 0.5,
		Workers:      1,
		LogLevel:     "info",
	}
}

// Load reads the YAML file at path over the defaults, then applies the
// environment. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return cfg, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadDotEnv loads variables from the given .env files into the process
// environment without overriding variables already set. Missing files are
// skipped.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}
	list := func(name string, dst *[]string) {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = splitList(v)
		}
	}

	str("MODEL", &c.Model)
	str("MODEL_PATH", &c.ModelPath)
	str("DETECTOR_URL", &c.DetectorURL)
	str("ORT_LIBRARY", &c.ORTLibrary)
	str("LABEL_LAYOUT", &c.LabelLayout)
	str("DATABASE", &c.Database)
	str("PATHS_FILE", &c.PathsFile)
	str("LOG_LEVEL", &c.LogLevel)
	list("CLASSES", &c.Classes)
	list("DATA_DIRS", &c.DataDirs)

	var errs []error
	if v, ok := lookup(EnvPrefix + "WORKERS"); ok {
		n, err := strconv.Atoi(v)
		errs = append(errs, envErr("WORKERS", err))
		c.Workers = n
	}
	if v, ok := lookup(EnvPrefix + "INPUT_SIZE"); ok {
		n, err := strconv.Atoi(v)
		errs = append(errs, envErr("INPUT_SIZE", err))
		c.InputSize = n
	}
	for name, dst := range map[string]*float64{
		"IOU_THRESHOLD": &c.IoUThreshold,
		"CONFIDENCE":    &c.Confidence,
		"NMS_THRESHOLD": &c.NMSThreshold,
	} {
		if v, ok := lookup(EnvPrefix + name); ok {
			f, err := strconv.ParseFloat(v, 64)
			errs = append(errs, envErr(name, err))
			*dst = f
		}
	}
	if v, ok := lookup(EnvPrefix + "DETECT_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		errs = append(errs, envErr("DETECT_TIMEOUT", err))
		c.DetectTimeout = d
	}
	return errors.Join(errs...)
}

func envErr(name string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Validate checks the settings needed to score a run.
func (c Config) Validate() error {
	var errs []error
	if c.Model == "" {
		errs = append(errs, errors.New("model is required"))
	}
	if c.IoUThreshold < 0 || c.IoUThreshold >= 1 {
		errs = append(errs, fmt.Errorf("iou_threshold %v out of range [0, 1)", c.IoUThreshold))
	}
	if c.Confidence < 0 || c.Confidence > 1 {
		errs = append(errs, fmt.Errorf("confidence %v out of range [0, 1]", c.Confidence))
	}
	if c.NMSThreshold <= 0 || c.NMSThreshold > 1 {
		errs = append(errs, fmt.Errorf("nms_threshold %v out of range (0, 1]", c.NMSThreshold))
	}
	if c.Workers < 1 {
		errs = append(errs, fmt.Errorf("workers must be at least 1, got %d", c.Workers))
	}
	if c.InputSize <= 0 || c.InputSize%32 != 0 {
		errs = append(errs, fmt.Errorf("input_size must be a positive multiple of 32, got %d", c.InputSize))
	}
	if c.DetectTimeout < 0 {
		errs = append(errs, fmt.Errorf("detect_timeout must not be negative, got %v", c.DetectTimeout))
	}
	if c.LabelLayout != LayoutSibling && c.LabelLayout != LayoutDataset {
		errs = append(errs, fmt.Errorf("label_layout must be %q or %q, got %q", LayoutSibling, LayoutDataset, c.LabelLayout))
	}
	if c.Database == "" {
		errs = append(errs, errors.New("database is required"))
	}
	return errors.Join(errs...)
}

// ValidateDetector checks that exactly one detector is configured.
func (c Config) ValidateDetector() error {
	switch {
	case c.ModelPath == "" && c.DetectorURL == "":
		return errors.New("one of model_path or detector_url is required")
	case c.ModelPath != "" && c.DetectorURL != "":
		return errors.New("model_path and detector_url are mutually exclusive")
	}
	return nil
}

// ReadPathsFile returns the data directories listed in a paths file: one
// "<type> <path>" entry per line, of which only type D is used. Blank lines
// are skipped.
func ReadPathsFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open paths file: %w", err)
	}
	defer func() { _ = f.Close() }()

	var dirs []string
	sc := bufio.NewScanner(f)
	for n := 1; sc.Scan(); n++ {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		kind, dir, ok := strings.Cut(line, " ")
		if !ok || strings.TrimSpace(dir) == "" {
			return nil, fmt.Errorf("%s:%d: want \"<type> <path>\", got %q", path, n, line)
		}
		if kind == "D" {
			dirs = append(dirs, strings.TrimSpace(dir))
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read paths file: %w", err)
	}
	return dirs, nil
}
