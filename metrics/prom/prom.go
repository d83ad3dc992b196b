// Package prom exposes store metrics through Prometheus.
package prom

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hupe1980/haygo"
)

// Compile time check to ensure Collector satisfies the store interface.
var _ haygo.MetricsCollector = (*Collector)(nil)

// Collector implements haygo.MetricsCollector on top of Prometheus
// primitives.
type Collector struct {
	writes       *prometheus.CounterVec
	writtenBytes prometheus.Counter
	writeSeconds prometheus.Histogram
	reads        *prometheus.CounterVec
	readBytes    prometheus.Counter
	readSeconds  prometheus.Histogram
	volumes      prometheus.Counter
	needlesOpen  prometheus.Counter
}

// NewCollector creates a Collector and registers its metrics with reg.
// Passing nil registers with the default registerer. Registration
// panics if the metrics are already registered.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := &Collector{
		writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "haygo",
			Name:      "writes_total",
			Help:      "Write operations, partitioned by outcome.",
		}, []string{"status"}),
		writtenBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "haygo",
			Name:      "written_bytes_total",
			Help:      "Bytes appended to data files, headers included.",
		}),
		writeSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "haygo",
			Name:      "write_duration_seconds",
			Help:      "Wall time of write operations.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}),
		reads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "haygo",
			Name:      "reads_total",
			Help:      "Read operations, partitioned by outcome.",
		}, []string{"status"}),
		readBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "haygo",
			Name:      "read_bytes_total",
			Help:      "Bytes served to readers, headers included.",
		}),
		readSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "haygo",
			Name:      "read_duration_seconds",
			Help:      "Wall time of read operations.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}),
		volumes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "haygo",
			Name:      "volumes_total",
			Help:      "Volumes created or recovered since process start.",
		}),
		needlesOpen: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "haygo",
			Name:      "recovered_needles_total",
			Help:      "Needles found in index logs during recovery.",
		}),
	}

	reg.MustRegister(c.writes, c.writtenBytes, c.writeSeconds, c.reads, c.readBytes, c.readSeconds, c.volumes, c.needlesOpen)

	return c
}

func (c *Collector) RecordWrite(bytes uint64, took time.Duration, err error) {
	c.writes.WithLabelValues(status(err)).Inc()
	c.writeSeconds.Observe(took.Seconds())

	if err == nil {
		c.writtenBytes.Add(float64(bytes))
	}
}

func (c *Collector) RecordRead(bytes uint64, took time.Duration, err error) {
	c.reads.WithLabelValues(status(err)).Inc()
	c.readSeconds.Observe(took.Seconds())

	if err == nil {
		c.readBytes.Add(float64(bytes))
	}
}

func (c *Collector) RecordVolumeCreate(uint32) {
	c.volumes.Inc()
}

func (c *Collector) RecordVolumeOpen(_ uint32, needles int) {
	c.volumes.Inc()
	c.needlesOpen.Add(float64(needles))
}

func status(err error) string {
	if err != nil {
		return "error"
	}

	return "success"
}
