// Package daemon repeats reconciliation runs on an interval and serves the
// health and metrics endpoints while it does.
package daemon

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yairfalse/lassie/internal/telemetry"
)

// RunFunc performs one reconciliation run and returns its exit status.
// An error means the run could not start at all.
type RunFunc func(ctx context.Context) (int, error)

// Daemon drives RunFunc once, or on every tick of Interval.
type Daemon struct {
	interval  time.Duration
	run       RunFunc
	metrics   *Metrics
	logger    *telemetry.Logger
	startTime time.Time

	runs     atomic.Int64
	lastExit atomic.Int64
	ready    atomic.Bool
}

// New creates a daemon. A zero interval means a single run. metrics may be nil.
func New(interval time.Duration, run RunFunc, metrics *Metrics) *Daemon {
	return &Daemon{
		interval:  interval,
		run:       run,
		metrics:   metrics,
		logger:    telemetry.NewLogger("daemon"),
		startTime: time.Now(),
	}
}

// Start runs immediately and then on every interval until ctx is done. With
// no interval it returns after the first run. The returned code is the exit
// status of the last completed run.
func (d *Daemon) Start(ctx context.Context) (int, error) {
	code, err := d.Once(ctx)
	if err != nil || d.interval <= 0 {
		return code, err
	}

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return code, nil
		case <-ticker.C:
			next, err := d.Once(ctx)
			if err != nil {
				// A failed start in daemon mode waits for the next tick.
				d.logger.Error().Err(err).Msg("run failed to start")
				continue
			}
			code = next
		}
	}
}

// Once performs a single run and records it.
func (d *Daemon) Once(ctx context.Context) (int, error) {
	start := time.Now()
	code, err := d.run(ctx)

	status := "ok"
	switch {
	case err != nil:
		status = "error"
	case code != 0:
		status = "failed"
	}
	if d.metrics != nil {
		d.metrics.RecordRun(ctx, status, time.Since(start))
	}

	d.runs.Add(1)
	if err == nil {
		d.lastExit.Store(int64(code))
		d.ready.Store(true)
	}
	return code, err
}

// HealthStatus is the body of the health endpoint.
type HealthStatus struct {
	Status       string `json:"status"`
	Uptime       int64  `json:"uptime_seconds"`
	Runs         int64  `json:"runs"`
	LastExitCode int64  `json:"last_exit_code"`
}

// Health returns daemon health status
func (d *Daemon) Health() HealthStatus {
	return HealthStatus{
		Status:       "healthy",
		Uptime:       int64(time.Since(d.startTime).Seconds()),
		Runs:         d.runs.Load(),
		LastExitCode: d.lastExit.Load(),
	}
}

// RunCount returns the number of runs attempted so far.
func (d *Daemon) RunCount() int64 {
	return d.runs.Load()
}

// Handler serves /metrics, /healthz and /readyz. Ready means at least one run
// has completed.
func (d *Daemon) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", d.handleHealthz)
	mux.HandleFunc("/readyz", d.handleReadyz)
	return mux
}

func (d *Daemon) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (d *Daemon) handleReadyz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if !d.ready.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("no run completed"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
