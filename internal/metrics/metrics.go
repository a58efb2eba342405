package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	SessionsOpened    *prometheus.CounterVec
	SessionsClosed    *prometheus.CounterVec
	Reconnects        *prometheus.CounterVec
	Errors            *prometheus.CounterVec
	FragmentsAccepted prometheus.Counter
	FragmentsRejected prometheus.Counter
	ChunksScheduled   prometheus.Counter
	ChunksDropped     prometheus.Counter
	PooledConnections prometheus.Gauge
	DeviceReferences  prometheus.Gauge
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SessionsOpened: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "voice_sessions_opened_total",
			Help: "Sessions that reached the open state",
		}, []string{"purpose"}),
		SessionsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "voice_sessions_closed_total",
			Help: "Sessions that reached a terminal state",
		}, []string{"purpose"}),
		Reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "voice_reconnect_attempts_total",
			Help: "Automatic reconnect attempts",
		}, []string{"purpose"}),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "voice_session_errors_total",
			Help: "Failures surfaced to callers",
		}, []string{"kind"}),
		FragmentsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "voice_fragments_accepted_total",
			Help: "Result fragments merged into a transcript",
		}),
		FragmentsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "voice_fragments_rejected_total",
			Help: "Stale or duplicate result fragments",
		}),
		ChunksScheduled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "voice_playback_chunks_scheduled_total",
			Help: "Audio chunks placed on the output timeline",
		}),
		ChunksDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "voice_playback_chunks_dropped_total",
			Help: "Audio chunks skipped after a scheduling failure",
		}),
		PooledConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "voice_pooled_connections",
			Help: "Transcription connections held by the pool",
		}),
		DeviceReferences: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "voice_output_device_references",
			Help: "Active holders of the shared output device",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.SessionsOpened,
			m.SessionsClosed,
			m.Reconnects,
			m.Errors,
			m.FragmentsAccepted,
			m.FragmentsRejected,
			m.ChunksScheduled,
			m.ChunksDropped,
			m.PooledConnections,
			m.DeviceReferences,
		)
	}
	return m
}

func (m *Metrics) SessionOpened(purpose string) {
	if m != nil {
		m.SessionsOpened.WithLabelValues(purpose).Inc()
	}
}

func (m *Metrics) SessionClosed(purpose string) {
	if m != nil {
		m.SessionsClosed.WithLabelValues(purpose).Inc()
	}
}

func (m *Metrics) Reconnect(purpose string) {
	if m != nil {
		m.Reconnects.WithLabelValues(purpose).Inc()
	}
}

func (m *Metrics) Error(kind string) {
	if m != nil {
		m.Errors.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) Fragment(accepted bool) {
	if m == nil {
		return
	}
	if accepted {
		m.FragmentsAccepted.Inc()
	} else {
		m.FragmentsRejected.Inc()
	}
}

func (m *Metrics) ChunkScheduled() {
	if m != nil {
		m.ChunksScheduled.Inc()
	}
}

func (m *Metrics) ChunkDropped() {
	if m != nil {
		m.ChunksDropped.Inc()
	}
}

func (m *Metrics) SetPooled(n int) {
	if m != nil {
		m.PooledConnections.Set(float64(n))
	}
}

func (m *Metrics) SetDeviceRefs(n int) {
	if m != nil {
		m.DeviceReferences.Set(float64(n))
	}
}
