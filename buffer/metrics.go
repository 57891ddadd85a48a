package buffer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the buffer pool counters.
type Metrics struct {
	Hits          prometheus.Counter
	Misses        prometheus.Counter
	Evictions     prometheus.Counter
	Flushes       prometheus.Counter
	Discards      prometheus.Counter
	LockTimeouts  prometheus.Counter
	Commits       prometheus.Counter
	Aborts        prometheus.Counter
	ResidentPages prometheus.Gauge
}

// NewMetrics registers the buffer pool metrics on reg. Pass prometheus.NewRegistry() in tests so that several
// pools can live in one process.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	counter := func(name, help string) prometheus.Counter {
		return f.NewCounter(prometheus.CounterOpts{
			Namespace: "heapdb",
			Subsystem: "buffer_pool",
			Name:      name,
			Help:      help,
		})
	}

	resident := f.NewGauge(prometheus.GaugeOpts{
		Namespace: "heapdb",
		Subsystem: "buffer_pool",
		Name:      "resident_pages",
		Help:      "Pages currently held in the cache.",
	})

	return &Metrics{
		Hits:          counter("hits_total", "Page requests served from the cache."),
		Misses:        counter("misses_total", "Page requests that had to read the page from its file."),
		Evictions:     counter("evictions_total", "Clean pages evicted to make room."),
		Flushes:       counter("flushes_total", "Pages written back to their file."),
		Discards:      counter("discards_total", "Pages dropped from the cache without being written."),
		LockTimeouts:  counter("lock_timeouts_total", "Lock requests that gave up and aborted the transaction."),
		Commits:       counter("commits_total", "Committed transactions."),
		Aborts:        counter("aborts_total", "Aborted transactions."),
		ResidentPages: resident,
	}
}
