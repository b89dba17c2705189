package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func counterValue(t *testing.T, m *Metrics, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
	next:
		for _, metric := range fam.GetMetric() {
			for _, lp := range metric.GetLabel() {
				if labels[lp.GetName()] != lp.GetValue() {
					continue next
				}
			}
			return metric.GetCounter().GetValue()
		}
	}
	return 0
}

func TestObserve(t *testing.T) {
	m := New()
	m.ObserveEvent("focus", true)
	m.ObserveEvent("title", false)
	m.ObserveEvent("title", false)
	m.ObserveNode("quota", ResultWritten)
	m.ObserveCycle("ok", 3*time.Millisecond)
	m.ObserveTreeError()

	if got := counterValue(t, m, "focusgov_events_total", map[string]string{"change": "title", "action": "ignored"}); got != 2 {
		t.Fatalf("ignored title events = %v, want 2", got)
	}
	if got := counterValue(t, m, "focusgov_nodes_total", map[string]string{"backend": "quota", "result": "written"}); got != 1 {
		t.Fatalf("written nodes = %v, want 1", got)
	}
	if got := counterValue(t, m, "focusgov_tree_fetch_errors_total", nil); got != 1 {
		t.Fatalf("tree errors = %v, want 1", got)
	}
}

func TestHandler(t *testing.T) {
	m := New()
	m.ObserveCycle("ok", time.Millisecond)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `focusgov_cycles_total{result="ok"} 1`) {
		t.Fatalf("cycles counter missing from output:\n%s", body)
	}
}
