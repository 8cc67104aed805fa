// Package metrics collects per-run counters and exports them in the
// Prometheus text format.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Source outcomes used as the status label of SourcesTotal.
const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

// Metrics contains the collectors updated during a run.
type Metrics struct {
	registry *prometheus.Registry

	SourcesTotal        *prometheus.CounterVec
	DownloadBytesTotal  prometheus.Counter
	LinesScannedTotal   prometheus.Counter
	InvalidDomainsTotal prometheus.Counter
	CategoryEntries     *prometheus.GaugeVec
	RunDurationSeconds  prometheus.Gauge
}

// New creates a Metrics instance backed by its own registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		SourcesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blockgen_sources_total",
				Help: "Number of processed sources by outcome",
			},
			[]string{"status"},
		),
		DownloadBytesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "blockgen_download_bytes_total",
			Help: "Bytes downloaded from all sources",
		}),
		LinesScannedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "blockgen_lines_scanned_total",
			Help: "Lines read from extracted source files",
		}),
		InvalidDomainsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "blockgen_invalid_domains_total",
			Help: "Extracted tokens rejected as invalid domain names",
		}),
		CategoryEntries: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "blockgen_category_entries",
				Help: "Entries written per category",
			},
			[]string{"category"},
		),
		RunDurationSeconds: factory.NewGauge(prometheus.GaugeOpts{
			Name: "blockgen_run_duration_seconds",
			Help: "Wall-clock duration of the last run",
		}),
	}
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// WriteTextfile writes all metrics to path for the node exporter textfile
// collector. The file is replaced atomically.
func (m *Metrics) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
