package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"

	"github.com/hazyhaar/docwatch/tracker/internal/llm"
)

func find(t *testing.T, m *Metrics, name string, labels map[string]string) *dto.Metric {
	t.Helper()
	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
	next:
		for _, metric := range f.GetMetric() {
			for _, lp := range metric.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
					continue next
				}
			}
			return metric
		}
	}
	t.Fatalf("metric %s %v not found", name, labels)
	return nil
}

func TestCounters(t *testing.T) {
	m := New()
	m.CommitProcessed("Fabric", "post")
	m.CommitProcessed("Fabric", "post")
	m.CommitProcessed("Fabric", "skip")
	m.Notified("teams", "delivered")
	m.TokensUsed("commit", llm.Usage{PromptTokens: 100, CompletionTokens: 20, TotalTokens: 120})
	m.DigestEvaluated("Fabric", "dispatched")
	m.TopicFinished("Fabric", 3*time.Second, errors.New("x"))
	m.IterationDone(time.Unix(1700000000, 0))

	if got := find(t, m, "docwatch_commits_processed_total", map[string]string{"outcome": "post"}).GetCounter().GetValue(); got != 2 {
		t.Errorf("commits post: got %v, want 2", got)
	}
	if got := find(t, m, "docwatch_llm_tokens_total", map[string]string{"direction": "prompt"}).GetCounter().GetValue(); got != 100 {
		t.Errorf("prompt tokens: got %v, want 100", got)
	}
	if got := find(t, m, "docwatch_topic_failures_total", nil).GetCounter().GetValue(); got != 1 {
		t.Errorf("failures: got %v, want 1", got)
	}
	if got := find(t, m, "docwatch_topic_duration_seconds", nil).GetHistogram().GetSampleCount(); got != 1 {
		t.Errorf("duration samples: got %v, want 1", got)
	}
	if got := find(t, m, "docwatch_last_iteration_timestamp_seconds", nil).GetGauge().GetValue(); got != 1700000000 {
		t.Errorf("last run: got %v", got)
	}
}

func TestHandler(t *testing.T) {
	m := New()
	m.Notified("telegram", "failed")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `docwatch_notifications_total{channel="telegram",status="failed"} 1`) {
		t.Errorf("exposition missing notification counter:\n%s", body)
	}
}
