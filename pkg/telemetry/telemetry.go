// Package telemetry exposes the service's Prometheus collectors. Scrape
// them from /metrics via promhttp.
package telemetry

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActionsAccepted counts actions accepted through the acceptance path,
	// live and replayed alike, by kind.
	ActionsAccepted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "biocollab_actions_accepted_total",
		Help: "Actions accepted through the acceptance path, by kind.",
	}, []string{"kind"})

	// BroadcastsSent counts events fanned out to room members, by type.
	BroadcastsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "biocollab_broadcasts_sent_total",
		Help: "Events fanned out to room members, by event type.",
	}, []string{"type"})

	// MembersDropped counts connections dropped for slow consumption or
	// transport failure.
	MembersDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "biocollab_members_dropped_total",
		Help: "Connections dropped by the hub (slow consumer or transport failure).",
	})

	// ConnectedMembers gauges live websocket connections.
	ConnectedMembers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "biocollab_connected_members",
		Help: "Currently connected room members.",
	})

	// QueuedActions gauges the client local queue depth.
	QueuedActions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "biocollab_queued_actions",
		Help: "Actions pending in the durable local queue.",
	})

	// ReplayOutcomes counts reconciliation results by outcome
	// (applied, retried, failed).
	ReplayOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "biocollab_replay_outcomes_total",
		Help: "Reconciliation outcomes for queued actions.",
	}, []string{"outcome"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "biocollab_http_request_duration_seconds",
		Help:    "HTTP request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "status"})
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack lets websocket upgrades pass through the middleware.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hj, ok := r.ResponseWriter.(http.Hijacker); ok {
		return hj.Hijack()
	}
	return nil, nil, errors.New("response writer does not support hijacking")
}

// Middleware records request latency and status for every handler.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		requestDuration.WithLabelValues(r.Method, strconv.Itoa(rec.status)).Observe(time.Since(start).Seconds())
	})
}
