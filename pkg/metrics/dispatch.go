// Package metrics holds the Prometheus collectors of the dispatcher.
package metrics

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "subject_router"

// Outcome labels.
const (
	OutcomeStatic     = "static"
	OutcomeOK         = "ok"
	OutcomeError      = "error"
	OutcomeBadRequest = "bad_request"
	OutcomeFault      = "fault"
)

// Dispatch tracks per-route dispatch statistics. A nil *Dispatch is valid and records nothing.
type Dispatch struct {
	mu         sync.Mutex
	registerer prometheus.Registerer
	registered bool

	requestsTotal   *prometheus.CounterVec
	doubleResponses *prometheus.CounterVec
	publishFailures *prometheus.CounterVec
	inFlight        prometheus.Gauge
	duration        *prometheus.HistogramVec
}

// NewDispatch creates the collectors. A nil registerer uses prometheus.DefaultRegisterer.
func NewDispatch(registerer prometheus.Registerer) *Dispatch {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	return &Dispatch{
		registerer: registerer,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "dispatch", Name: "requests_total",
			Help: "Requests handled per route, handler and terminal outcome",
		}, []string{"subject", "handler", "outcome"}),
		doubleResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "dispatch", Name: "double_responses_total",
			Help: "Reply attempts dropped because the request was already answered",
		}, []string{"subject"}),
		publishFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "dispatch", Name: "publish_failures_total",
			Help: "Replies the broker refused to publish",
		}, []string{"subject"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "dispatch", Name: "in_flight",
			Help: "Handler chains currently executing",
		}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "dispatch", Name: "duration_seconds",
			Help:    "Time from message arrival to reply",
			Buckets: prometheus.DefBuckets,
		}, []string{"subject", "handler"}),
	}
}

// Register registers the collectors. Safe to call multiple times.
func (m *Dispatch) Register() error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.registered {
		return nil
	}
	for _, c := range []prometheus.Collector{m.requestsTotal, m.doubleResponses, m.publishFailures, m.inFlight, m.duration} {
		if err := m.registerer.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if !errors.As(err, &already) {
				return err
			}
		}
	}
	m.registered = true
	return nil
}

func (m *Dispatch) ObserveRequest(subject, handler, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(subject, handler, outcome).Inc()
	m.duration.WithLabelValues(subject, handler).Observe(elapsed.Seconds())
}

func (m *Dispatch) DoubleResponse(subject string) {
	if m == nil {
		return
	}
	m.doubleResponses.WithLabelValues(subject).Inc()
}

func (m *Dispatch) PublishFailed(subject string) {
	if m == nil {
		return
	}
	m.publishFailures.WithLabelValues(subject).Inc()
}

func (m *Dispatch) ChainStarted() {
	if m == nil {
		return
	}
	m.inFlight.Inc()
}

func (m *Dispatch) ChainFinished() {
	if m == nil {
		return
	}
	m.inFlight.Dec()
}
