package sinks

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/price-harvester/internal/progress"
)

// PrometheusSink exports queue snapshots as gauges labelled by queue name.
type PrometheusSink struct {
	consumed   *prometheus.GaugeVec
	produced   *prometheus.GaugeVec
	remaining  *prometheus.GaugeVec
	throughput *prometheus.GaugeVec
	etc        *prometheus.GaugeVec
	elapsed    *prometheus.GaugeVec
}

// NewPrometheusSink registers the collectors against the provided registry.
// Collectors already registered by an earlier sink are reused.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gauge := func(name, help string) *prometheus.GaugeVec {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name, Help: help}, []string{"queue"})
	}
	s := &PrometheusSink{
		consumed:   gauge("harvester_queue_consumed_jobs", "Jobs consumed in the current run."),
		produced:   gauge("harvester_queue_produced_jobs", "Jobs produced in the current run."),
		remaining:  gauge("harvester_queue_remaining_jobs", "Jobs waiting in the queue."),
		throughput: gauge("harvester_queue_throughput_jobs_per_second", "Consumed jobs per second."),
		etc:        gauge("harvester_queue_etc_seconds", "Estimated seconds until the queue drains."),
		elapsed:    gauge("harvester_queue_elapsed_seconds", "Seconds since the run started."),
	}
	for _, ptr := range []**prometheus.GaugeVec{
		&s.consumed, &s.produced, &s.remaining, &s.throughput, &s.etc, &s.elapsed,
	} {
		if err := reg.Register(*ptr); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				if existing, ok := already.ExistingCollector.(*prometheus.GaugeVec); ok {
					*ptr = existing
					continue
				}
			}
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the gauges for the snapshot's queue.
func (s *PrometheusSink) Consume(_ context.Context, snap progress.Snapshot) error {
	q := snap.Queue
	if q == "" {
		q = "unknown"
	}
	s.consumed.WithLabelValues(q).Set(float64(snap.Consumed))
	s.produced.WithLabelValues(q).Set(float64(snap.Produced))
	s.remaining.WithLabelValues(q).Set(float64(snap.Remaining))
	s.throughput.WithLabelValues(q).Set(snap.Throughput)
	s.etc.WithLabelValues(q).Set(snap.ETC.Seconds())
	s.elapsed.WithLabelValues(q).Set(snap.Elapsed.Seconds())
	return nil
}
