// Package metrics exports run outcomes in the Prometheus text format so a
// node_exporter textfile collector can pick them up.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/signalnine/finetune-harness/internal/result"
)

type Recorder struct {
	registry *prometheus.Registry

	duration   *prometheus.GaugeVec
	exitCode   *prometheus.GaugeVec
	passed     *prometheus.GaugeVec
	bleu       *prometheus.GaugeVec
	checksFail *prometheus.GaugeVec
	runs       *prometheus.CounterVec
}

func NewRecorder() *Recorder {
	labels := []string{"scenario", "launcher"}
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		duration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "finetune_run_duration_seconds",
			Help: "Wall-clock duration of the last trainer launch",
		}, labels),
		exitCode: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "finetune_run_exit_code",
			Help: "Exit code of the last trainer launch",
		}, labels),
		passed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "finetune_run_passed",
			Help: "1 if every check of the last run passed",
		}, labels),
		bleu: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "finetune_eval_bleu",
			Help: "eval_bleu at the first and last evaluation checkpoint",
		}, []string{"scenario", "checkpoint"}),
		checksFail: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "finetune_checks_failed",
			Help: "Number of failed checks in the last run",
		}, labels),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "finetune_runs_total",
			Help: "Trainer runs recorded by this process",
		}, []string{"scenario", "exit_reason"}),
	}
	r.registry.MustRegister(r.duration, r.exitCode, r.passed, r.bleu, r.checksFail, r.runs)
	return r
}

// Observe records one finished run.
func (r *Recorder) Observe(m *result.RunMeta) {
	lv := prometheus.Labels{"scenario": m.Scenario, "launcher": m.Launcher}
	r.duration.With(lv).Set(m.DurationS)
	r.exitCode.With(lv).Set(float64(m.ExitCode))
	passed := 0.0
	if m.Passed {
		passed = 1
	}
	r.passed.With(lv).Set(passed)

	failed := 0
	for _, c := range m.Checks {
		if !c.Passed {
			failed++
		}
	}
	r.checksFail.With(lv).Set(float64(failed))

	if m.Metrics.FirstBleu != nil {
		r.bleu.WithLabelValues(m.Scenario, "first").Set(*m.Metrics.FirstBleu)
	}
	if m.Metrics.LastBleu != nil {
		r.bleu.WithLabelValues(m.Scenario, "last").Set(*m.Metrics.LastBleu)
	}
	r.runs.WithLabelValues(m.Scenario, m.ExitReason).Inc()
}

func (r *Recorder) Gatherer() prometheus.Gatherer { return r.registry }

// WriteTextfile atomically replaces path with the current metrics.
func (r *Recorder) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("writing metrics textfile: %w", err)
	}
	return nil
}
