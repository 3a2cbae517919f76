package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "whiteboard"

// Metrics Prometheus 메트릭 모음
// 모든 메서드는 nil receiver에서도 안전하게 동작한다 (테스트에서 nil 전달 가능).
type Metrics struct {
	mutationsApplied    *prometheus.CounterVec
	mutationConflicts   prometheus.Counter
	moderationDecisions *prometheus.CounterVec
	moderationBacklog   prometheus.Gauge
	classifierFailures  prometheus.Counter
	cursorDropped       prometheus.Counter
	subscribersEvicted  prometheus.Counter
	activeRooms         prometheus.Gauge
	recordingFrames     *prometheus.CounterVec
	flushErrors         prometheus.Counter
	exportJobs          *prometheus.CounterVec
}

// New 메트릭 생성 및 등록
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		mutationsApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mutations_applied_total",
			Help:      "Accepted element mutations by operation.",
		}, []string{"op"}),
		mutationConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mutation_conflicts_total",
			Help:      "Mutation intents rejected with a version conflict.",
		}),
		moderationDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "moderation_decisions_total",
			Help:      "Moderation decisions applied, by resulting status and source.",
		}, []string{"status", "source"}),
		moderationBacklog: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "moderation_backlog_size",
			Help:      "Elements waiting for manual review.",
		}),
		classifierFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "classifier_failures_total",
			Help:      "Classifier calls that failed or timed out.",
		}),
		cursorDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cursor_events_dropped_total",
			Help:      "Cursor positions dropped by throttling or full buffers.",
		}),
		subscribersEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscribers_evicted_total",
			Help:      "Subscribers disconnected because they fell behind.",
		}),
		activeRooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_rooms",
			Help:      "Whiteboard rooms currently loaded.",
		}),
		recordingFrames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recording_frames_total",
			Help:      "Recording frames captured, by kind.",
		}, []string{"kind"}),
		flushErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recording_flush_errors_total",
			Help:      "Failed recording flush attempts.",
		}),
		exportJobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "export_jobs_total",
			Help:      "Export jobs by terminal status.",
		}, []string{"status"}),
	}

	reg.MustRegister(
		m.mutationsApplied,
		m.mutationConflicts,
		m.moderationDecisions,
		m.moderationBacklog,
		m.classifierFailures,
		m.cursorDropped,
		m.subscribersEvicted,
		m.activeRooms,
		m.recordingFrames,
		m.flushErrors,
		m.exportJobs,
	)
	return m
}

// Handler /metrics 엔드포인트용 핸들러
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func (m *Metrics) MutationApplied(op string) {
	if m == nil {
		return
	}
	m.mutationsApplied.WithLabelValues(op).Inc()
}

func (m *Metrics) MutationConflict() {
	if m == nil {
		return
	}
	m.mutationConflicts.Inc()
}

func (m *Metrics) ModerationDecision(status, source string) {
	if m == nil {
		return
	}
	m.moderationDecisions.WithLabelValues(status, source).Inc()
}

func (m *Metrics) SetBacklog(n int) {
	if m == nil {
		return
	}
	m.moderationBacklog.Set(float64(n))
}

func (m *Metrics) ClassifierFailure() {
	if m == nil {
		return
	}
	m.classifierFailures.Inc()
}

func (m *Metrics) CursorDropped() {
	if m == nil {
		return
	}
	m.cursorDropped.Inc()
}

func (m *Metrics) SubscriberEvicted() {
	if m == nil {
		return
	}
	m.subscribersEvicted.Inc()
}

func (m *Metrics) RoomOpened() {
	if m == nil {
		return
	}
	m.activeRooms.Inc()
}

func (m *Metrics) RoomClosed() {
	if m == nil {
		return
	}
	m.activeRooms.Dec()
}

func (m *Metrics) FrameCaptured(kind string) {
	if m == nil {
		return
	}
	m.recordingFrames.WithLabelValues(kind).Inc()
}

func (m *Metrics) FlushError() {
	if m == nil {
		return
	}
	m.flushErrors.Inc()
}

func (m *Metrics) ExportJob(status string) {
	if m == nil {
		return
	}
	m.exportJobs.WithLabelValues(status).Inc()
}
