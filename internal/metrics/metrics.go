// Package metrics exposes Prometheus instruments for scrapes and board mutations.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Scrape outcomes used as the status label.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Metrics holds every collector the service reports. Collectors live on a
// private registry so tests can build as many instances as they like.
type Metrics struct {
	registry *prometheus.Registry

	ScrapesTotal     *prometheus.CounterVec
	ScrapeDuration   prometheus.Histogram
	RecordsExtracted prometheus.Counter
	MutationsTotal   *prometheus.CounterVec
	BoardRecords     *prometheus.GaugeVec
}

// New creates and registers all collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		ScrapesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sift_scrapes_total",
				Help: "Total number of page scrapes by outcome",
			},
			[]string{"status"},
		),
		ScrapeDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "sift_scrape_duration_seconds",
				Help:    "Wall time of a page fetch plus extraction",
				Buckets: []float64{.5, 1, 2.5, 5, 10, 20, 30, 60, 120},
			},
		),
		RecordsExtracted: f.NewCounter(
			prometheus.CounterOpts{
				Name: "sift_records_extracted_total",
				Help: "Total number of records extracted from fetched pages",
			},
		),
		MutationsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sift_board_mutations_total",
				Help: "Total number of persisted board mutations by operation",
			},
			[]string{"op"},
		),
		BoardRecords: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "sift_board_records",
				Help: "Records currently on the board per category",
			},
			[]string{"category"},
		),
	}
}

// ObserveScrape records one scrape attempt.
func (m *Metrics) ObserveScrape(d time.Duration, records int, err error) {
	if m == nil {
		return
	}
	status := StatusOK
	if err != nil {
		status = StatusError
	}
	m.ScrapesTotal.WithLabelValues(status).Inc()
	m.ScrapeDuration.Observe(d.Seconds())
	if err == nil {
		m.RecordsExtracted.Add(float64(records))
	}
}

// ObserveMutation counts a board mutation and refreshes the size gauge.
func (m *Metrics) ObserveMutation(op string, perCategory map[string]int) {
	if m == nil {
		return
	}
	m.MutationsTotal.WithLabelValues(op).Inc()
	m.SetBoardSize(perCategory)
}

// SetBoardSize overwrites the per-category record gauge.
func (m *Metrics) SetBoardSize(perCategory map[string]int) {
	if m == nil {
		return
	}
	m.BoardRecords.Reset()
	for id, n := range perCategory {
		m.BoardRecords.WithLabelValues(id).Set(float64(n))
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
