// Package metrics counts backup and restore work. Counters are registered on
// a private registry and exported in the node-exporter textfile format.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "dbrb"

// Collector is safe to use as a nil pointer; every method is then a no-op.
type Collector struct {
	registry    *prometheus.Registry
	jobs        *prometheus.CounterVec
	jobDuration *prometheus.HistogramVec
	bytes       *prometheus.CounterVec
	segments    *prometheus.CounterVec
	mismatches  *prometheus.CounterVec
}

func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		jobs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "jobs_total",
				Help:      "Finished jobs by operation, backup type and terminal state.",
			}, []string{"operation", "type", "state"},
		),
		jobDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "job_duration_seconds",
				Help:      "Wall time of finished jobs.",
				Buckets:   []float64{1, 10, 60, 300, 900, 3600, 4 * 3600},
			}, []string{"operation"},
		),
		bytes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transferred_bytes_total",
				Help:      "Segment bytes moved to or from the object store.",
			}, []string{"direction"},
		),
		segments: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "segments_total",
				Help:      "Segments moved to or from the object store.",
			}, []string{"direction"},
		),
		mismatches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "checksum_mismatches_total",
				Help:      "Checksum mismatches by level.",
			}, []string{"level"},
		),
	}
	c.registry.MustRegister(c.jobs, c.jobDuration, c.bytes, c.segments, c.mismatches)
	return c
}

func (c *Collector) JobFinished(operation, typ, state string, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.jobs.WithLabelValues(operation, typ, state).Inc()
	c.jobDuration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

func (c *Collector) SegmentUploaded(size int64) {
	if c == nil {
		return
	}
	c.segments.WithLabelValues("upload").Inc()
	c.bytes.WithLabelValues("upload").Add(float64(size))
}

func (c *Collector) SegmentDownloaded(size int64) {
	if c == nil {
		return
	}
	c.segments.WithLabelValues("download").Inc()
	c.bytes.WithLabelValues("download").Add(float64(size))
}

func (c *Collector) ChecksumMismatch(level string) {
	if c == nil {
		return
	}
	c.mismatches.WithLabelValues(level).Inc()
}

func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// WriteTextfile writes every metric to filename for the node exporter
// textfile collector.
func (c *Collector) WriteTextfile(filename string) error {
	if c == nil {
		return nil
	}
	return prometheus.WriteToTextfile(filename, c.registry)
}
