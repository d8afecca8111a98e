package reconciler

import (
	"fmt"
	"io"
	"time"

	"github.com/ZENITH-cmd2/LavoroGiupponi/internal/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// Metrics holds the Prometheus collectors of a reconciliation run
type Metrics struct {
	DaysTotal     *prometheus.CounterVec
	OutcomesTotal *prometheus.CounterVec
	RunDuration   prometheus.Histogram
	DayErrors     prometheus.Counter

	gatherer prometheus.Gatherer
}

// NewMetrics creates the collectors and registers them on registry.
// A nil registry gets a fresh one.
func NewMetrics(registry *prometheus.Registry) (*Metrics, error) {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	m := &Metrics{
		DaysTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "recon_days_total",
				Help: "Total number of reconciled plant days by global status",
			},
			[]string{"global_status"},
		),

		OutcomesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "recon_outcomes_total",
				Help: "Total number of category outcomes by category and status",
			},
			[]string{"category", "status"},
		),

		RunDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "recon_run_duration_seconds",
				Help:    "Duration of batch reconciliation runs in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
		),

		DayErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "recon_day_errors_total",
				Help: "Total number of plant days that failed to load or persist",
			},
		),

		gatherer: registry,
	}

	for _, c := range []prometheus.Collector{m.DaysTotal, m.OutcomesTotal, m.RunDuration, m.DayErrors} {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("register metric: %w", err)
		}
	}

	return m, nil
}

// ObserveVerdict counts a verdict and each of its outcomes
func (m *Metrics) ObserveVerdict(v models.DailyVerdict) {
	if m == nil {
		return
	}
	m.DaysTotal.WithLabelValues(string(v.GlobalStatus)).Inc()
	for category, outcome := range v.Outcomes {
		m.OutcomesTotal.WithLabelValues(string(category), string(outcome.Status)).Inc()
	}
}

// ObserveRun records the duration of a run
func (m *Metrics) ObserveRun(d time.Duration) {
	if m == nil {
		return
	}
	m.RunDuration.Observe(d.Seconds())
}

// ObserveError counts a failed plant day
func (m *Metrics) ObserveError() {
	if m == nil {
		return
	}
	m.DayErrors.Inc()
}

// WriteText writes the registry in the Prometheus text exposition format
func (m *Metrics) WriteText(w io.Writer) error {
	families, err := m.gatherer.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}

	encoder := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := encoder.Encode(mf); err != nil {
			return fmt.Errorf("encode metric family %s: %w", mf.GetName(), err)
		}
	}
	return nil
}
