// Package metrics holds the prometheus collectors of the document pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	DocumentsIngested *prometheus.CounterVec
	DocumentsSkipped  *prometheus.CounterVec
	ChunksIndexed     prometheus.Counter
	IndexBuilds       *prometheus.CounterVec
	Answers           *prometheus.CounterVec
	ExternalRetries   *prometheus.CounterVec
	StageDuration     *prometheus.HistogramVec
	Comparisons       *prometheus.CounterVec
}

// New registers the collectors on reg. A nil reg yields unregistered collectors.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		DocumentsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docportal",
			Name:      "documents_ingested_total",
			Help:      "Documents accepted by ingestion, by extension.",
		}, []string{"extension"}),
		DocumentsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docportal",
			Name:      "documents_skipped_total",
			Help:      "Documents skipped by ingestion, by reason.",
		}, []string{"reason"}),
		ChunksIndexed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "docportal",
			Name:      "chunks_indexed_total",
			Help:      "Chunks embedded into published indexes.",
		}),
		IndexBuilds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docportal",
			Name:      "index_builds_total",
			Help:      "Index build attempts, by result.",
		}, []string{"result"}),
		Answers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docportal",
			Name:      "answers_total",
			Help:      "Conversational answers, by result (ok, empty, error).",
		}, []string{"result"}),
		ExternalRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docportal",
			Name:      "external_call_retries_total",
			Help:      "Retried calls to the embedding or language model, by operation.",
		}, []string{"operation"}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "docportal",
			Name:      "chain_stage_duration_seconds",
			Help:      "Duration of conversational chain stages.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage"}),
		Comparisons: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docportal",
			Name:      "comparisons_total",
			Help:      "Document comparisons, by result.",
		}, []string{"result"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.DocumentsIngested,
			m.DocumentsSkipped,
			m.ChunksIndexed,
			m.IndexBuilds,
			m.Answers,
			m.ExternalRetries,
			m.StageDuration,
			m.Comparisons,
		)
	}
	return m
}

// Nop returns collectors that are not exported anywhere.
func Nop() *Metrics {
	return New(nil)
}

// OrNop lets constructors accept nil metrics.
func OrNop(m *Metrics) *Metrics {
	if m == nil {
		return Nop()
	}
	return m
}
