package charnn

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	trainIterations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "charnn_train_iterations_total",
		Help: "Total number of training windows processed",
	})

	trainSmoothLoss = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "charnn_train_smooth_loss",
		Help: "Exponentially smoothed training loss",
	})

	trainWindowLoss = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "charnn_train_window_loss",
		Help: "Cross-entropy loss of the last training window",
	})

	hiddenResets = promauto.NewCounter(prometheus.CounterOpts{
		Name: "charnn_hidden_resets_total",
		Help: "Number of times the hidden state was reset to zero",
	})

	stepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "charnn_train_step_duration_seconds",
		Help:    "Time spent in forward-backward plus the optimizer update",
		Buckets: []float64{0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1},
	})

	generatedSymbols = promauto.NewCounter(prometheus.CounterOpts{
		Name: "charnn_generated_symbols_total",
		Help: "Total number of symbols emitted by the sampler",
	})
)
