package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func findMetric(t *testing.T, families []*dto.MetricFamily, name string, labels map[string]string) *dto.Metric {
	t.Helper()
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	next:
		for _, m := range mf.GetMetric() {
			got := map[string]string{}
			for _, lp := range m.GetLabel() {
				got[lp.GetName()] = lp.GetValue()
			}
			for k, v := range labels {
				if got[k] != v {
					continue next
				}
			}
			return m
		}
	}
	t.Fatalf("metric %s%v not found", name, labels)
	return nil
}

func TestCollector_Prometheus(t *testing.T) {
	c := NewCollector("telegram", "s3")
	c.IncReceived()
	c.IncReceived()
	c.IncRejected("sender not allowed")
	c.SaveStarted()
	c.IncSaveSucceeded(512)
	c.IncNotify(true)

	reg := prometheus.NewPedanticRegistry()
	if err := reg.Register(c); err != nil {
		t.Fatalf("Register: %v", err)
	}
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}

	m := findMetric(t, families, "tgdrop_messages_total", map[string]string{"outcome": "received", "transport": "telegram"})
	if v := m.GetCounter().GetValue(); v != 2 {
		t.Errorf("received = %v, want 2", v)
	}
	m = findMetric(t, families, "tgdrop_rejections_total", map[string]string{"reason": "sender not allowed"})
	if v := m.GetCounter().GetValue(); v != 1 {
		t.Errorf("rejections = %v, want 1", v)
	}
	m = findMetric(t, families, "tgdrop_bytes_written_total", nil)
	if v := m.GetCounter().GetValue(); v != 512 {
		t.Errorf("bytes = %v, want 512", v)
	}
	m = findMetric(t, families, "tgdrop_saves_in_flight", nil)
	if v := m.GetGauge().GetValue(); v != 1 {
		t.Errorf("in flight = %v, want 1", v)
	}
	m = findMetric(t, families, "tgdrop_hook_calls_total", map[string]string{"hook": "notify", "result": "success"})
	if v := m.GetCounter().GetValue(); v != 1 {
		t.Errorf("notify success = %v, want 1", v)
	}
}
