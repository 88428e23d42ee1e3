// Package metrics exposes pipeline counters and histograms for Prometheus.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ternarybob/foresight/internal/models"
)

// Recorder holds the pipeline metrics on its own registry
type Recorder struct {
	registry *prometheus.Registry

	jobsTotal       *prometheus.CounterVec
	jobDuration     *prometheus.HistogramVec
	jobRetries      *prometheus.CounterVec
	bundlesTotal    *prometheus.CounterVec
	alertsTotal     *prometheus.CounterVec
	notifyFailures  *prometheus.CounterVec
	collaboratorDur *prometheus.HistogramVec
	queueDepth      *prometheus.GaugeVec
	ensembleAgree   *prometheus.GaugeVec
}

// NewRecorder creates and registers the pipeline metrics
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		jobsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "foresight_jobs_total",
				Help: "Jobs finished by type and outcome",
			},
			[]string{"type", "status"},
		),
		jobDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "foresight_job_duration_seconds",
				Help:    "Wall-clock job execution time",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 14),
			},
			[]string{"type"},
		),
		jobRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "foresight_job_retries_total",
				Help: "Jobs requeued for another attempt",
			},
			[]string{"type"},
		),
		bundlesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "foresight_bundles_total",
				Help: "Bundles resolved by final status",
			},
			[]string{"status", "degraded"},
		),
		alertsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "foresight_alerts_total",
				Help: "Deviation alerts raised by type",
			},
			[]string{"type"},
		),
		notifyFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "foresight_alert_notify_failures_total",
				Help: "Alert deliveries that failed",
			},
			[]string{"type"},
		),
		collaboratorDur: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "foresight_collaborator_duration_seconds",
				Help:    "Model execution call latency by task",
				Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
			},
			[]string{"task", "outcome"},
		),
		queueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "foresight_queue_depth",
				Help: "Messages waiting per named queue",
			},
			[]string{"queue"},
		),
		ensembleAgree: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "foresight_ensemble_agreement_pct",
				Help: "Agreement of the latest ensemble run per profile",
			},
			[]string{"profile"},
		),
	}

	r.registry.MustRegister(
		r.jobsTotal,
		r.jobDuration,
		r.jobRetries,
		r.bundlesTotal,
		r.alertsTotal,
		r.notifyFailures,
		r.collaboratorDur,
		r.queueDepth,
		r.ensembleAgree,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)

	return r
}

// Handler returns the HTTP handler serving this recorder's registry
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// JobFinished records one job attempt
func (r *Recorder) JobFinished(jobType models.Domain, status models.JobStatus, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.jobsTotal.WithLabelValues(string(jobType), string(status)).Inc()
	r.jobDuration.WithLabelValues(string(jobType)).Observe(elapsed.Seconds())
}

// JobRetried records a job returned to its queue
func (r *Recorder) JobRetried(jobType models.Domain) {
	if r == nil {
		return
	}
	r.jobRetries.WithLabelValues(string(jobType)).Inc()
}

// BundleResolved records a bundle reaching a terminal state
func (r *Recorder) BundleResolved(bundle *models.JobBundle) {
	if r == nil || bundle == nil {
		return
	}
	degraded := "false"
	if bundle.Degraded {
		degraded = "true"
	}
	r.bundlesTotal.WithLabelValues(string(bundle.Status), degraded).Inc()
}

// AlertRaised records a persisted deviation alert
func (r *Recorder) AlertRaised(alertType models.DeviationType) {
	if r == nil {
		return
	}
	r.alertsTotal.WithLabelValues(string(alertType)).Inc()
}

// NotifyFailed records an alert that no notifier delivered
func (r *Recorder) NotifyFailed(alertType models.DeviationType) {
	if r == nil {
		return
	}
	r.notifyFailures.WithLabelValues(string(alertType)).Inc()
}

// CollaboratorCall records one model execution call
func (r *Recorder) CollaboratorCall(task string, elapsed time.Duration, err error) {
	if r == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	r.collaboratorDur.WithLabelValues(task, outcome).Observe(elapsed.Seconds())
}

// EnsembleAgreement records the latest agreement for a profile
func (r *Recorder) EnsembleAgreement(profileID string, agreementPct float64) {
	if r == nil {
		return
	}
	r.ensembleAgree.WithLabelValues(profileID).Set(agreementPct)
}

// SetQueueDepths replaces the queue depth gauges
func (r *Recorder) SetQueueDepths(depths map[models.Domain]int) {
	if r == nil {
		return
	}
	for queue, depth := range depths {
		r.queueDepth.WithLabelValues(string(queue)).Set(float64(depth))
	}
}

// PollQueueDepths samples queue depths every interval until ctx is done
func (r *Recorder) PollQueueDepths(ctx context.Context, interval time.Duration, depths func(context.Context) map[models.Domain]int) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		r.SetQueueDepths(depths(ctx))
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
