package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	StateLoadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sigstate_state_loads_total",
			Help: "Account state loads by result.",
		},
		[]string{"result"},
	)

	StateSavesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sigstate_state_saves_total",
			Help: "Account state saves by result.",
		},
		[]string{"result"},
	)

	StateSaveDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sigstate_state_save_duration_seconds",
			Help:    "Duration of account state saves.",
			Buckets: prometheus.DefBuckets,
		},
	)

	MigratedRecordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sigstate_migrated_records_total",
			Help: "Legacy records migrated by target (contact, group, failed, skipped).",
		},
		[]string{"target"},
	)

	RecipientsRebuiltTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sigstate_recipients_rebuilt_total",
			Help: "Recipient tables rebuilt from sub-store references.",
		},
	)

	PollsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sigstate_polls_total",
			Help: "Receive polls by result (ok, timeout, error).",
		},
		[]string{"result"},
	)

	EnvelopesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sigstate_envelopes_total",
			Help: "Received envelopes by disposition.",
		},
		[]string{"kind"},
	)
)

// MustRegister registers every collector with reg.
func MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(
		StateLoadsTotal,
		StateSavesTotal,
		StateSaveDurationSeconds,
		MigratedRecordsTotal,
		RecipientsRebuiltTotal,
		PollsTotal,
		EnvelopesTotal,
	)
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
