package monitoring

import (
	"time"

	"ms-buddycart/internal/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	queueEntries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "buddycart_queue_entries",
			Help: "Current queue entries per status",
		},
		[]string{"status"},
	)

	queueOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "buddycart_queue_operations_total",
			Help: "Total queue operations",
		},
		[]string{"operation", "status"},
	)

	matchAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "buddycart_match_attempts_total",
			Help: "Matcher runs by outcome",
		},
		[]string{"outcome"},
	)

	groupSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "buddycart_group_size",
			Help:    "Number of participants per clubbed order",
			Buckets: prometheus.LinearBuckets(2, 1, 5),
		},
	)

	paymentEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "buddycart_payment_events_total",
			Help: "Commitment and payment confirmations",
		},
		[]string{"event", "status"},
	)

	cancellations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "buddycart_cancellations_total",
			Help: "Cancelled clubbed orders per reason",
		},
		[]string{"reason"},
	)

	sweepSteps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "buddycart_sweep_steps_total",
			Help: "Sweeper step executions",
		},
		[]string{"step", "status"},
	)

	sweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "buddycart_sweep_duration_seconds",
			Help:    "Duration of a full sweeper pass",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10),
		},
	)
)

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// TrackQueueOperation counts enqueue/leave/extend calls.
func TrackQueueOperation(operation string, err error) {
	queueOperations.WithLabelValues(operation, status(err)).Inc()
}

// SetQueueSizes publishes the current number of entries in each status.
func SetQueueSizes(counts map[models.BuddyStatus]int) {
	for _, s := range []models.BuddyStatus{models.BuddyWaiting, models.BuddyMatched, models.BuddyTimedOut} {
		queueEntries.WithLabelValues(string(s)).Set(float64(counts[s]))
	}
}

// TrackMatch records a matcher run. outcome is "matched", "insufficient", "skipped" or "error".
func TrackMatch(outcome string, members int) {
	matchAttempts.WithLabelValues(outcome).Inc()
	if members > 0 {
		groupSize.Observe(float64(members))
	}
}

func TrackPayment(event string, err error) {
	paymentEvents.WithLabelValues(event, status(err)).Inc()
}

func TrackCancellation(reason models.CancellationReason) {
	cancellations.WithLabelValues(string(reason)).Inc()
}

func TrackSweepStep(step string, err error) {
	sweepSteps.WithLabelValues(step, status(err)).Inc()
}

func TrackSweep(d time.Duration) {
	sweepDuration.Observe(d.Seconds())
}
