package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	roundCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flsim_rounds_total",
			Help: "Total number of completed training rounds",
		},
		[]string{"trainer"},
	)

	roundDurationHistogram = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "flsim_round_duration_seconds",
			Help:    "Duration of a training round in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		},
		[]string{"trainer"},
	)

	localTrainDurationHistogram = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "flsim_local_train_duration_seconds",
			Help:    "Duration of the local training phase of a round in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		},
		[]string{"trainer"},
	)

	migrationCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flsim_client_migrations_total",
			Help: "Total number of clients moved between groups",
		},
		[]string{"trainer"},
	)

	groupAccuracyGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "flsim_group_accuracy",
			Help: "Test accuracy of each group at the last evaluation",
		},
		[]string{"group"},
	)

	testAccuracyGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "flsim_test_accuracy",
			Help: "Weighted test accuracy at the last evaluation",
		},
	)

	errorCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flsim_errors_total",
			Help: "Total number of errors by type and component",
		},
		[]string{"type", "component"},
	)
)

// RecordRound records the duration of a finished round
func RecordRound(trainer string, duration time.Duration) {
	roundCounter.WithLabelValues(trainer).Inc()
	roundDurationHistogram.WithLabelValues(trainer).Observe(duration.Seconds())
}

func RecordLocalTrain(trainer string, duration time.Duration) {
	localTrainDurationHistogram.WithLabelValues(trainer).Observe(duration.Seconds())
}

func RecordMigrations(trainer string, count int) {
	if count > 0 {
		migrationCounter.WithLabelValues(trainer).Add(float64(count))
	}
}

// RecordAccuracy updates the accuracy gauges
func RecordAccuracy(overall float64, groups map[string]float64) {
	testAccuracyGauge.Set(overall)
	for group, acc := range groups {
		groupAccuracyGauge.WithLabelValues(group).Set(acc)
	}
}

// RecordError records an error occurrence by type and component
func RecordError(errorType string, component string) {
	errorCounter.WithLabelValues(errorType, component).Inc()
}
