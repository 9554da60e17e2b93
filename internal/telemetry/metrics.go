package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// InterviewsCompleted counts sessions that reached finalization.
	InterviewsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "crisp",
		Name:      "interviews_completed_total",
		Help:      "Number of interview sessions completed.",
	})

	// OracleFallbacks counts remote oracle failures recovered by the
	// deterministic fallback, per operation.
	OracleFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "crisp",
		Name:      "oracle_fallbacks_total",
		Help:      "Number of remote oracle calls recovered by the local fallback.",
	}, []string{"op"})

	// ResumesUploaded counts accepted resume uploads.
	ResumesUploaded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "crisp",
		Name:      "resumes_uploaded_total",
		Help:      "Number of resumes accepted and extracted.",
	})
)
