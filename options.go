package haygo

import (
	"github.com/hupe1980/haygo/internal/fs"
)

// DefaultVolumeCapacity is the maximum byte size of a single volume's
// data file unless overridden with WithVolumeCapacity.
const DefaultVolumeCapacity uint64 = 1 << 30 // 1 GiB

type options struct {
	logger         *Logger
	metrics        MetricsCollector
	fsys           fs.FileSystem
	volumeCapacity uint64
	strictRead     bool
}

// Option configures a Store.
type Option func(*options)

func defaultOptions() options {
	return options{
		logger:         NoopLogger(),
		metrics:        NoopMetricsCollector{},
		fsys:           fs.Default,
		volumeCapacity: DefaultVolumeCapacity,
	}
}

// WithLogger sets the logger used by the store and its volumes.
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetricsCollector sets the collector that receives operation metrics.
func WithMetricsCollector(collector MetricsCollector) Option {
	return func(o *options) {
		if collector != nil {
			o.metrics = collector
		}
	}
}

// WithVolumeCapacity sets the maximum data file size for volumes the
// store creates. Existing volumes keep the capacity they were opened with.
func WithVolumeCapacity(capacity uint64) Option {
	return func(o *options) {
		if capacity > 0 {
			o.volumeCapacity = capacity
		}
	}
}

// WithStrictRead makes reads fail with ErrCorrupted when a needle header
// disagrees with the index instead of logging a warning.
func WithStrictRead(strict bool) Option {
	return func(o *options) {
		o.strictRead = strict
	}
}

// WithFileSystem overrides the filesystem implementation. Intended for
// tests and fault injection.
func WithFileSystem(fsys fs.FileSystem) Option {
	return func(o *options) {
		if fsys != nil {
			o.fsys = fsys
		}
	}
}
