package haygo

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Size is a byte count that unmarshals from plain integers or strings
// with a binary suffix, e.g. "512MiB".
type Size uint64

var sizeSuffixes = []struct {
	suffix string
	factor uint64
}{
	{"TiB", 1 << 40},
	{"GiB", 1 << 30},
	{"MiB", 1 << 20},
	{"KiB", 1 << 10},
	{"B", 1},
}

// ParseSize parses strings like "1073741824", "64KiB" or "1 GiB".
func ParseSize(s string) (Size, error) {
	trimmed := strings.TrimSpace(s)

	for _, entry := range sizeSuffixes {
		if !strings.HasSuffix(trimmed, entry.suffix) {
			continue
		}

		number := strings.TrimSpace(strings.TrimSuffix(trimmed, entry.suffix))

		value, err := strconv.ParseUint(number, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parse size %q: %w", s, err)
		}

		if entry.factor > 1 && value > (1<<63)/entry.factor {
			return 0, fmt.Errorf("parse size %q: overflows", s)
		}

		return Size(value * entry.factor), nil
	}

	value, err := strconv.ParseUint(trimmed, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse size %q: %w", s, err)
	}

	return Size(value), nil
}

func (s Size) String() string {
	for _, entry := range sizeSuffixes {
		if entry.factor > 1 && uint64(s) >= entry.factor && uint64(s)%entry.factor == 0 {
			return strconv.FormatUint(uint64(s)/entry.factor, 10) + entry.suffix
		}
	}

	return strconv.FormatUint(uint64(s), 10) + "B"
}

func (s *Size) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := ParseSize(value.Value)
	if err != nil {
		return err
	}

	*s = parsed

	return nil
}

func (s Size) MarshalYAML() (any, error) {
	return s.String(), nil
}

// Config is the file-based configuration for a store.
type Config struct {
	// Dir is the directory holding the volume files.
	Dir string `yaml:"dir"`

	// VolumeCapacity caps the data file size of newly created volumes.
	VolumeCapacity Size `yaml:"volume_capacity"`

	// StrictRead fails reads on header/index length mismatches.
	StrictRead bool `yaml:"strict_read"`

	// LogLevel is one of debug, info, warn, error. Empty disables logging.
	LogLevel string `yaml:"log_level"`
}

// DefaultConfig returns the configuration used when fields are omitted.
func DefaultConfig() Config {
	return Config{
		VolumeCapacity: Size(DefaultVolumeCapacity),
	}
}

// LoadConfig reads a YAML config file. Omitted fields keep their
// defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %q: %w", path, err)
	}

	cfg := DefaultConfig()

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %q: %w", path, err)
	}

	if cfg.Dir == "" {
		return nil, fmt.Errorf("config %q: dir must be set", path)
	}

	return &cfg, nil
}

// Options translates the config into store options.
func (c *Config) Options() ([]Option, error) {
	opts := []Option{
		WithVolumeCapacity(uint64(c.VolumeCapacity)),
		WithStrictRead(c.StrictRead),
	}

	if c.LogLevel != "" {
		level, err := parseLogLevel(c.LogLevel)
		if err != nil {
			return nil, err
		}

		opts = append(opts, WithLogger(NewTextLogger(level)))
	}

	return opts, nil
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", s)
	}
}
