package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// Ticks counts sampler ticks by outcome: skipped, miss, hit, error.
	Ticks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scanstation",
		Name:      "scan_ticks_total",
		Help:      "Sampler ticks by outcome.",
	}, []string{"result"})

	Submissions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scanstation",
		Name:      "submissions_total",
		Help:      "Attendance submissions by direction and outcome.",
	}, []string{"direction", "outcome"})

	SubmitLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "scanstation",
		Name:      "submit_duration_seconds",
		Help:      "Latency of attendance submissions.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"direction"})

	CameraErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scanstation",
		Name:      "camera_errors_total",
		Help:      "Camera access failures by reason.",
	}, []string{"reason"})

	Sessions = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "scanstation",
		Name:      "scan_sessions_total",
		Help:      "Scan sessions started.",
	})
)

func init() {
	prometheus.MustRegister(Ticks, Submissions, SubmitLatency, CameraErrors, Sessions)
}
