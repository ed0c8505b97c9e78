package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ============================================
	// Relay submission metrics
	// ============================================
	RelaySubmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_submissions_total",
			Help: "Total number of transactions handed to the relay provider",
		},
		[]string{"chain_id", "kind"},
	)

	RelaySubmissionFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_submission_failures_total",
			Help: "Total number of relay provider submission failures",
		},
		[]string{"chain_id"},
	)

	RelayPollDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_poll_duration_seconds",
			Help:    "Time spent polling a relay task to a terminal state",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		},
		[]string{"chain_id", "outcome"},
	)

	// ============================================
	// Gas tank metrics
	// ============================================
	GasTankDebitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gas_tank_debits_total",
			Help: "Total number of accepted optimistic ledger debits",
		},
		[]string{"support_mode"},
	)

	GasTankDebitMicros = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gas_tank_debit_micros",
			Help:    "Estimated debit per accepted submission in micro-USD",
			Buckets: prometheus.ExponentialBuckets(1000, 4, 10),
		},
		[]string{"support_mode"},
	)

	GasTankPaymentRequiredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gas_tank_payment_required_total",
			Help: "Total number of submissions rejected under the ledger floor",
		},
		[]string{"support_mode"},
	)

	GasTankValidationRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gas_tank_validation_rejections_total",
		Help: "Total number of submissions rejected before costing",
	})

	// ============================================
	// Plan building metrics
	// ============================================
	PlansBuiltTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "execution_plans_built_total",
			Help: "Total number of execution plans built, by terminal plan state",
		},
		[]string{"state"},
	)
)
