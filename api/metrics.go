package api

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/warp/record-intake/record"
)

// Metrics holds the intake counters. Each instance owns its registry so
// tests can build as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	submissions *prometheus.CounterVec
	conflicts   *prometheus.CounterVec
	fetches     *prometheus.CounterVec
	adminAccess *prometheus.CounterVec
	duplicates  *prometheus.GaugeVec
	malformed   *prometheus.GaugeVec
}

// NewMetrics registers the intake counters on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "records",
			Name:      "submissions_total",
			Help:      "Record submissions by type and outcome.",
		}, []string{"type", "outcome"}),
		conflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "records",
			Name:      "allocation_conflicts_total",
			Help:      "Candidate identifiers rejected because another writer already used them.",
		}, []string{"type"}),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "records",
			Name:      "snapshot_fetches_total",
			Help:      "Snapshot cache lookups by store and result.",
		}, []string{"store", "result"}),
		adminAccess: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "records",
			Name:      "admin_access_total",
			Help:      "Privileged view attempts by result.",
		}, []string{"result"}),
		duplicates: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "records",
			Name:      "duplicate_ids",
			Help:      "Record IDs appearing more than once, as of the last integrity check.",
		}, []string{"store"}),
		malformed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "records",
			Name:      "malformed_ids",
			Help:      "Record IDs outside the fixed-width format, as of the last integrity check.",
		}, []string{"store"}),
	}
	m.registry.MustRegister(m.submissions, m.conflicts, m.fetches, m.adminAccess, m.duplicates, m.malformed)
	return m
}

// Hooks returns coordinator hooks that feed these counters.
func (m *Metrics) Hooks() record.Hooks {
	return record.Hooks{
		OnSubmit: func(t record.Type, err error) {
			m.submissions.WithLabelValues(t.StoreKey, outcome(err)).Inc()
		},
		OnConflict: func(t record.Type, _ record.ID) {
			m.conflicts.WithLabelValues(t.StoreKey).Inc()
		},
	}
}

// ObserveFetch is a record.SnapshotCache OnFetch callback.
func (m *Metrics) ObserveFetch(key string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.fetches.WithLabelValues(key, result).Inc()
}

// ObserveIntegrity is an IntegrityScheduler OnRun callback.
func (m *Metrics) ObserveIntegrity(run IntegrityRun) {
	if run.Err != nil {
		return
	}
	for _, r := range run.Reports {
		m.duplicates.WithLabelValues(r.StoreKey).Set(float64(len(r.Duplicates)))
		m.malformed.WithLabelValues(r.StoreKey).Set(float64(len(r.Malformed)))
	}
}

func (m *Metrics) observeAdmin(err error) {
	result := "granted"
	if err != nil {
		result = "denied"
	}
	m.adminAccess.WithLabelValues(result).Inc()
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry (tests gather from it).
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, record.ErrValidation), errors.Is(err, record.ErrUnknownType):
		return "validation"
	case errors.Is(err, record.ErrBlob):
		return "blob"
	case errors.Is(err, record.ErrDuplicateRecordID):
		return "conflict"
	case errors.Is(err, record.ErrStore):
		return "store"
	default:
		return "error"
	}
}
