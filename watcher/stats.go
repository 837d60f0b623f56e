package watcher

import (
	"maps"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	recordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "a11yfix_watcher_records_total",
		Help: "Mutation records seen by the watcher, by outcome",
	}, []string{"outcome"})

	droppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "a11yfix_watcher_dropped_total",
		Help: "Mutation records dropped because a delivery exceeded the cap",
	})

	batchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "a11yfix_watcher_batches_total",
		Help: "Batches flushed to the pipeline",
	})

	batchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "a11yfix_watcher_batch_size",
		Help:    "Records per flushed batch",
		Buckets: []float64{1, 2, 5, 10, 25, 50, 100},
	})

	callbackFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "a11yfix_watcher_callback_failures_total",
		Help: "Batch callbacks that returned an error or panicked",
	})
)

// Stats is a snapshot of watcher activity.
type Stats struct {
	Accepted int            `json:"accepted"`
	Rejected map[string]int `json:"rejected"`
	Dropped  int            `json:"dropped"`
	Batches  int            `json:"batches"`
	Failures int            `json:"failures"`
	Queued   int            `json:"queued"`
}

// Stats returns a copy of the counters.
func (w *Watcher) Stats() Stats {
	s := w.stats
	s.Rejected = maps.Clone(w.stats.Rejected)
	s.Queued = len(w.queue)
	return s
}
