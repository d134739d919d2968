package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "huddle"

// Metrics holds the client's collectors.
type Metrics struct {
	SessionState      prometheus.Gauge
	ConnectAttempts   *prometheus.CounterVec
	StaleCloses       prometheus.Counter
	Frames            *prometheus.CounterVec
	SendsDenied       *prometheus.CounterVec
	MalformedFrames   prometheus.Counter
	BucketTokens      prometheus.Gauge
	Refreshes         *prometheus.CounterVec
	SessionEvents     *prometheus.CounterVec
	RoomRequests      *prometheus.CounterVec
	RoomRequestTiming *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg. A nil reg
// leaves them unregistered.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SessionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "state",
			Help:      "Connection state (0=disconnected, 1=connecting, 2=open, 3=closing)",
		}),
		ConnectAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "connect_attempts_total",
			Help:      "Connection attempts by result",
		}, []string{"result"}),
		StaleCloses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "stale_closes_total",
			Help:      "Connections closed after the pong timeout elapsed",
		}),
		Frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "frames_total",
			Help:      "Frames by direction and message type",
		}, []string{"direction", "type"}),
		SendsDenied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "sends_denied_total",
			Help:      "Outbound messages not sent, by reason",
		}, []string{"reason"}),
		MalformedFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "malformed_frames_total",
			Help:      "Inbound frames dropped because they could not be parsed",
		}),
		BucketTokens: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "limiter",
			Name:      "bucket_tokens",
			Help:      "Tokens left in the outbound message bucket",
		}),
		Refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "refreshes_total",
			Help:      "Access token refreshes by result",
		}, []string{"result"}),
		SessionEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "session_events_total",
			Help:      "Session lifecycle events by type",
		}, []string{"type"}),
		RoomRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "Room API requests by operation and status class",
		}, []string{"operation", "status"}),
		RoomRequestTiming: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "request_duration_seconds",
			Help:      "Room API request latency including retries",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"operation"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.SessionState,
			m.ConnectAttempts,
			m.StaleCloses,
			m.Frames,
			m.SendsDenied,
			m.MalformedFrames,
			m.BucketTokens,
			m.Refreshes,
			m.SessionEvents,
			m.RoomRequests,
			m.RoomRequestTiming,
		)
	}
	return m
}

// NewRegistry returns a registry preloaded with Go runtime and process
// collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func (m *Metrics) SetState(state int) {
	if m == nil {
		return
	}
	m.SessionState.Set(float64(state))
}

func (m *Metrics) ConnectAttempt(result string) {
	if m == nil {
		return
	}
	m.ConnectAttempts.WithLabelValues(result).Inc()
}

func (m *Metrics) StaleClose() {
	if m == nil {
		return
	}
	m.StaleCloses.Inc()
}

func (m *Metrics) FrameSent(msgType string) {
	if m == nil {
		return
	}
	m.Frames.WithLabelValues("out", msgType).Inc()
}

func (m *Metrics) FrameReceived(msgType string) {
	if m == nil {
		return
	}
	m.Frames.WithLabelValues("in", msgType).Inc()
}

func (m *Metrics) SendDenied(reason string) {
	if m == nil {
		return
	}
	m.SendsDenied.WithLabelValues(reason).Inc()
}

func (m *Metrics) MalformedFrame() {
	if m == nil {
		return
	}
	m.MalformedFrames.Inc()
}

func (m *Metrics) SetBucketTokens(n int) {
	if m == nil {
		return
	}
	m.BucketTokens.Set(float64(n))
}

func (m *Metrics) Refresh(result string) {
	if m == nil {
		return
	}
	m.Refreshes.WithLabelValues(result).Inc()
}

func (m *Metrics) SessionEvent(eventType string) {
	if m == nil {
		return
	}
	m.SessionEvents.WithLabelValues(eventType).Inc()
}

// RoomRequest records one logical room API call.
func (m *Metrics) RoomRequest(op, status string, seconds float64) {
	if m == nil {
		return
	}
	m.RoomRequests.WithLabelValues(op, status).Inc()
	m.RoomRequestTiming.WithLabelValues(op).Observe(seconds)
}
