package haygo

import (
	"sync/atomic"
	"time"
)

// MetricsCollector receives operation-level measurements from the store.
// Implementations must be safe for concurrent use.
type MetricsCollector interface {
	// RecordWrite is called after every write attempt with the number of
	// bytes the needle occupies on disk (header included) and the wall
	// time the write took. err is nil on success.
	RecordWrite(bytes uint64, took time.Duration, err error)

	// RecordRead is called after every lookup. bytes is zero when the
	// lookup failed.
	RecordRead(bytes uint64, took time.Duration, err error)

	// RecordVolumeCreate is called when the store allocates a new volume.
	RecordVolumeCreate(id uint32)

	// RecordVolumeOpen is called for every volume recovered at startup.
	RecordVolumeOpen(id uint32, needles int)
}

// NoopMetricsCollector ignores all measurements. It is the default.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordWrite(uint64, time.Duration, error) {}
func (NoopMetricsCollector) RecordRead(uint64, time.Duration, error)  {}
func (NoopMetricsCollector) RecordVolumeCreate(uint32)                {}
func (NoopMetricsCollector) RecordVolumeOpen(uint32, int)             {}

// BasicMetricsCollector keeps process-local counters. Useful in tests and
// for callers that only need occasional snapshots.
type BasicMetricsCollector struct {
	writes       atomic.Uint64
	writeErrors  atomic.Uint64
	writtenBytes atomic.Uint64
	reads        atomic.Uint64
	readErrors   atomic.Uint64
	readBytes    atomic.Uint64
	volumes      atomic.Uint64
}

func (c *BasicMetricsCollector) RecordWrite(bytes uint64, _ time.Duration, err error) {
	c.writes.Add(1)
	if err != nil {
		c.writeErrors.Add(1)
		return
	}
	c.writtenBytes.Add(bytes)
}

func (c *BasicMetricsCollector) RecordRead(bytes uint64, _ time.Duration, err error) {
	c.reads.Add(1)
	if err != nil {
		c.readErrors.Add(1)
		return
	}
	c.readBytes.Add(bytes)
}

func (c *BasicMetricsCollector) RecordVolumeCreate(uint32) { c.volumes.Add(1) }

func (c *BasicMetricsCollector) RecordVolumeOpen(uint32, int) { c.volumes.Add(1) }

// Snapshot is a point-in-time copy of the basic collector's counters.
type Snapshot struct {
	Writes       uint64 `json:"writes"`
	WriteErrors  uint64 `json:"write_errors"`
	WrittenBytes uint64 `json:"written_bytes"`
	Reads        uint64 `json:"reads"`
	ReadErrors   uint64 `json:"read_errors"`
	ReadBytes    uint64 `json:"read_bytes"`
	Volumes      uint64 `json:"volumes"`
}

func (c *BasicMetricsCollector) Snapshot() Snapshot {
	return Snapshot{
		Writes:       c.writes.Load(),
		WriteErrors:  c.writeErrors.Load(),
		WrittenBytes: c.writtenBytes.Load(),
		Reads:        c.reads.Load(),
		ReadErrors:   c.readErrors.Load(),
		ReadBytes:    c.readBytes.Load(),
		Volumes:      c.volumes.Load(),
	}
}
