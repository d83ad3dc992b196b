package prom

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestCollectorCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordWrite(104, time.Millisecond, nil)
	c.RecordWrite(0, time.Millisecond, errors.New("disk full"))
	c.RecordRead(104, time.Millisecond, nil)
	c.RecordVolumeCreate(1)
	c.RecordVolumeOpen(2, 7)

	require.Equal(t, float64(1), testutil.ToFloat64(c.writes.WithLabelValues("success")))
	require.Equal(t, float64(1), testutil.ToFloat64(c.writes.WithLabelValues("error")))
	require.Equal(t, float64(104), testutil.ToFloat64(c.writtenBytes))
	require.Equal(t, float64(104), testutil.ToFloat64(c.readBytes))
	require.Equal(t, float64(2), testutil.ToFloat64(c.volumes))
	require.Equal(t, float64(7), testutil.ToFloat64(c.needlesOpen))
}

func TestCollectorRegistersMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordWrite(10, time.Millisecond, nil)

	families, err := reg.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, families)
}
