package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RecordingsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "minuteman_recordings_started_total",
		Help: "Recording sessions started",
	})

	RecordingActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "minuteman_recording_active",
		Help: "Whether a recording is currently active (0 or 1)",
	})

	CaptureErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "minuteman_capture_errors_total",
		Help: "Capture attempts that failed before producing audio",
	})

	AnalysesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "minuteman_analyses_total",
		Help: "Completed analyses by outcome",
	}, []string{"outcome"})

	AnalysisDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "minuteman_analysis_duration_seconds",
		Help:    "Wall time of one analysis round trip",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 240, 480},
	})

	AudioFallbackFetches = promauto.NewCounter(prometheus.CounterOpts{
		Name: "minuteman_audio_remote_fetches_total",
		Help: "Audio payloads recovered from the remote store",
	})
)
