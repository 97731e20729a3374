package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveScrape(t *testing.T) {
	m := New()
	m.ObserveScrape(2*time.Second, 7, nil)
	m.ObserveScrape(time.Second, 3, errors.New("timeout"))

	if got := testutil.ToFloat64(m.ScrapesTotal.WithLabelValues(StatusOK)); got != 1 {
		t.Errorf("ok scrapes = %v", got)
	}
	if got := testutil.ToFloat64(m.ScrapesTotal.WithLabelValues(StatusError)); got != 1 {
		t.Errorf("failed scrapes = %v", got)
	}
	if got := testutil.ToFloat64(m.RecordsExtracted); got != 7 {
		t.Errorf("records extracted = %v, failed scrapes must not count", got)
	}
}

func TestObserveMutation_ReplacesGauge(t *testing.T) {
	m := New()
	m.ObserveMutation("ingest", map[string]int{"uncategorized": 4, "ai": 1})
	m.ObserveMutation("classify", map[string]int{"uncategorized": 2, "ai": 3})

	if got := testutil.ToFloat64(m.MutationsTotal.WithLabelValues("ingest")); got != 1 {
		t.Errorf("ingest mutations = %v", got)
	}
	if got := testutil.ToFloat64(m.BoardRecords.WithLabelValues("ai")); got != 3 {
		t.Errorf("ai gauge = %v", got)
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveScrape(time.Second, 1, nil)
	m.ObserveMutation("move", nil)
}

func TestHandler_ExposesSiftCollectors(t *testing.T) {
	m := New()
	m.ObserveScrape(time.Second, 1, nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "sift_scrapes_total") {
		t.Errorf("exposition missing sift_scrapes_total:\n%s", body)
	}
}
