// Package metrics holds the prometheus collectors for chunk ingestion.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "consult_recorder"

var (
	// TicketsIssued counts upload tickets handed out.
	TicketsIssued = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tickets_issued_total",
		Help:      "Total number of upload tickets issued.",
	})
	// ChunkWrites counts chunk uploads by result (stored, failed, rejected).
	ChunkWrites = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "chunk_writes_total",
		Help:      "Total number of chunk uploads. Broken down by result.",
	}, []string{"result"})
	// ChunkBytes counts committed payload bytes.
	ChunkBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "chunk_bytes_total",
		Help:      "Total number of chunk payload bytes committed to storage.",
	})
	// ChunkWriteDuration observes how long committing a chunk takes.
	ChunkWriteDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "chunk_write_duration_seconds",
		Help:      "Latency in seconds to stream a chunk into storage.",
		Buckets:   prometheus.DefBuckets,
	})
	// Notifications counts chunk-arrival notifications by result (recorded, duplicate, rejected).
	Notifications = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "chunk_notifications_total",
		Help:      "Total number of chunk-arrival notifications. Broken down by result.",
	}, []string{"result"})
	// Transitions counts session lifecycle transitions by target status.
	Transitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "session_transitions_total",
		Help:      "Total number of session state transitions. Broken down by target status.",
	}, []string{"to"})
	// Transcriptions counts transcription hand-offs by result (submitted, completed, failed, dropped).
	Transcriptions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "transcriptions_total",
		Help:      "Total number of transcription jobs. Broken down by result.",
	}, []string{"result"})
)

var registerOnce sync.Once

// Register adds every collector to reg. Later calls are no-ops.
func Register(reg prometheus.Registerer) {
	registerOnce.Do(func() {
		reg.MustRegister(
			TicketsIssued,
			ChunkWrites,
			ChunkBytes,
			ChunkWriteDuration,
			Notifications,
			Transitions,
			Transcriptions,
		)
	})
}
