package synchronizer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Stats are the counters of one run.
type Stats struct {
	Rounds        int   `json:"rounds"`
	Received      int64 `json:"received"`
	ReceivedBytes int64 `json:"received_bytes"`
	Processed     int64 `json:"processed"`
	// Sent is the number of messages the local site originated during the
	// run.
	Sent int64 `json:"sent"`
	// Pushed is the number of messages delivered to peers by pushes.
	Pushed       int64 `json:"pushed"`
	SentBytes    int64 `json:"sent_bytes"`
	PeersOffline int   `json:"peers_offline"`
}

// Result summarizes a run.
type Result struct {
	Stats
	// Pending is the number of messages left in the receive queues.
	Pending int64 `json:"pending"`
	// Synchronized is true when no message is left pending.
	Synchronized bool `json:"synchronized"`
	// RoundLimitReached is true when the run stopped on MaxRounds before
	// converging.
	RoundLimitReached bool `json:"round_limit_reached"`
}

const namespace = "sitesync"

// Metrics mirrors the synchronizer statistics into Prometheus collectors.
type Metrics struct {
	Runs          *prometheus.CounterVec
	Rounds        prometheus.Counter
	Received      prometheus.Counter
	ReceivedBytes prometheus.Counter
	Processed     prometheus.Counter
	Pushed        prometheus.Counter
	SentBytes     prometheus.Counter
	PeersOffline  prometheus.Gauge
	Pending       prometheus.Gauge
	Duration      prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Runs: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sync_runs_total",
				Help:      "Synchronization runs by outcome.",
			},
			[]string{"result"}, // synchronized/pending/error
		),
		Rounds: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_rounds_total",
			Help:      "Synchronization rounds run.",
		}),
		Received: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Messages downloaded from peers.",
		}),
		ReceivedBytes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_bytes_total",
			Help:      "Bytes of messages downloaded from peers.",
		}),
		Processed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_processed_total",
			Help:      "Messages dispatched into the local site.",
		}),
		Pushed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_pushed_total",
			Help:      "Messages pushed to peers.",
		}),
		SentBytes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_bytes_total",
			Help:      "Bytes of messages pushed to peers.",
		}),
		PeersOffline: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "peers_offline",
			Help:      "Peers found unreachable by the last run.",
		}),
		Pending: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "messages_pending",
			Help:      "Messages left in the receive queues after the last run.",
		}),
		Duration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_duration_seconds",
			Help:      "Duration of synchronization runs.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 16),
		}),
	}
}

func (m *Metrics) observe(res Result, err error, seconds float64) {
	if m == nil {
		return
	}

	m.Rounds.Add(float64(res.Rounds))
	m.Received.Add(float64(res.Received))
	m.ReceivedBytes.Add(float64(res.ReceivedBytes))
	m.Processed.Add(float64(res.Processed))
	m.Pushed.Add(float64(res.Pushed))
	m.SentBytes.Add(float64(res.SentBytes))
	m.PeersOffline.Set(float64(res.PeersOffline))
	m.Pending.Set(float64(res.Pending))
	m.Duration.Observe(seconds)

	switch {
	case err != nil:
		m.Runs.WithLabelValues("error").Inc()
	case res.Synchronized:
		m.Runs.WithLabelValues("synchronized").Inc()
	default:
		m.Runs.WithLabelValues("pending").Inc()
	}
}
