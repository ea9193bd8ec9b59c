// Package metrics exposes pipeline counters on a dedicated Prometheus registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hazyhaar/docwatch/tracker/internal/llm"
)

const namespace = "docwatch"

// Metrics implements the pipeline observer and the notify observer.
type Metrics struct {
	Registry *prometheus.Registry

	commits       *prometheus.CounterVec
	notifications *prometheus.CounterVec
	tokens        *prometheus.CounterVec
	digests       *prometheus.CounterVec
	topicDuration *prometheus.HistogramVec
	topicFailures *prometheus.CounterVec
	lastRun       prometheus.Gauge
}

// New registers every collector on a fresh registry, together with the
// Go and process collectors.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		commits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commits_processed_total",
			Help:      "Commits processed, by topic and outcome.",
		}, []string{"topic", "outcome"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notification dispatches, by channel and delivery status.",
		}, []string{"channel", "status"}),
		tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_tokens_total",
			Help:      "Tokens reported by the text-generation backend, by call kind and direction.",
		}, []string{"kind", "direction"}),
		digests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "digests_total",
			Help:      "Weekly digest evaluations, by topic and result.",
		}, []string{"topic", "result"}),
		topicDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "topic_duration_seconds",
			Help:      "Duration of one topic iteration.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}, []string{"topic"}),
		topicFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "topic_failures_total",
			Help:      "Topic iterations that ended in an error.",
		}, []string{"topic"}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_iteration_timestamp_seconds",
			Help:      "Unix time the last polling iteration finished.",
		}),
	}
	m.Registry.MustRegister(
		m.commits, m.notifications, m.tokens, m.digests,
		m.topicDuration, m.topicFailures, m.lastRun,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// CommitProcessed counts one commit outcome.
func (m *Metrics) CommitProcessed(topic, outcome string) {
	m.commits.WithLabelValues(topic, outcome).Inc()
}

// TokensUsed adds u to the token counters.
func (m *Metrics) TokensUsed(kind string, u llm.Usage) {
	m.tokens.WithLabelValues(kind, "prompt").Add(float64(u.PromptTokens))
	m.tokens.WithLabelValues(kind, "completion").Add(float64(u.CompletionTokens))
}

// DigestEvaluated counts one weekly evaluation.
func (m *Metrics) DigestEvaluated(topic, outcome string) {
	m.digests.WithLabelValues(topic, outcome).Inc()
}

// TopicFinished records the duration of a topic iteration.
func (m *Metrics) TopicFinished(topic string, d time.Duration, err error) {
	m.topicDuration.WithLabelValues(topic).Observe(d.Seconds())
	if err != nil {
		m.topicFailures.WithLabelValues(topic).Inc()
	}
}

// Notified counts one dispatch; pass it to notify.WithObserver.
func (m *Metrics) Notified(channel, status string) {
	m.notifications.WithLabelValues(channel, status).Inc()
}

// IterationDone stamps the end of a polling iteration.
func (m *Metrics) IterationDone(at time.Time) {
	m.lastRun.Set(float64(at.Unix()))
}
