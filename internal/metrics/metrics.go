// Package metrics exposes Prometheus collectors for sync runs.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/tendant/simple-image-sync/pkg/pipeline"
)

// Run status labels
const (
	StatusSuccess = "success"
	StatusPartial = "partial"
	StatusFailed  = "failed"
)

// Recorder records sync activity. A nil *Recorder is valid and records
// nothing.
type Recorder struct {
	runs     *prometheus.CounterVec
	files    *prometheus.CounterVec
	failures *prometheus.CounterVec
	dirs     *prometheus.CounterVec
	duration prometheus.Histogram
}

// NewRecorder creates the collectors and registers them with reg when
// reg is not nil
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "imagesync",
			Name:      "runs_total",
			Help:      "Sync runs by final status.",
		}, []string{"status"}),
		files: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "imagesync",
			Name:      "files_total",
			Help:      "Derived files copied, transformed or deleted.",
		}, []string{"op"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "imagesync",
			Name:      "file_errors_total",
			Help:      "Per-file operations that failed.",
		}, []string{"op"}),
		dirs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "imagesync",
			Name:      "directories_deleted_total",
			Help:      "Derived directories removed, by reason.",
		}, []string{"reason"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "imagesync",
			Name:      "run_duration_seconds",
			Help:      "Wall time of sync runs.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
	}
	if reg != nil {
		reg.MustRegister(r.runs, r.files, r.failures, r.dirs, r.duration)
	}
	return r
}

// FileDone records a successful per-file operation
func (r *Recorder) FileDone(op pipeline.FileOp) {
	if r == nil {
		return
	}
	r.files.WithLabelValues(string(op)).Inc()
}

// FileFailed records a failed per-file operation
func (r *Recorder) FileFailed(op pipeline.FileOp) {
	if r == nil {
		return
	}
	r.failures.WithLabelValues(string(op)).Inc()
}

// DirsDeleted records removed directories; reason is "orphaned" or "empty"
func (r *Recorder) DirsDeleted(reason string, n int) {
	if r == nil || n == 0 {
		return
	}
	r.dirs.WithLabelValues(reason).Add(float64(n))
}

// RunFinished records the outcome of a run
func (r *Recorder) RunFinished(status string, d time.Duration) {
	if r == nil {
		return
	}
	r.runs.WithLabelValues(status).Inc()
	r.duration.Observe(d.Seconds())
}
