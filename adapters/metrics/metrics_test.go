package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/meterline/meterline/adapters/metrics"
)

func TestNewWithRegistry(t *testing.T) {
	// Use a new registry to avoid conflicts with other tests
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)

	if m == nil {
		t.Fatal("NewWithRegistry returned nil")
	}

	// Verify all metrics are initialized
	if m.TokensRecorded == nil {
		t.Error("TokensRecorded is nil")
	}
	if m.RequestsRecorded == nil {
		t.Error("RequestsRecorded is nil")
	}
	if m.UsageRejections == nil {
		t.Error("UsageRejections is nil")
	}
	if m.RecordingFailures == nil {
		t.Error("RecordingFailures is nil")
	}
	if m.PlanChanges == nil {
		t.Error("PlanChanges is nil")
	}
	if m.ReconcilerRuns == nil {
		t.Error("ReconcilerRuns is nil")
	}
	if m.InvoicesGenerated == nil {
		t.Error("InvoicesGenerated is nil")
	}
	if m.ConfigReloads == nil {
		t.Error("ConfigReloads is nil")
	}
}

func TestUsageCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)

	m.TokensRecorded.WithLabelValues("free", "gpt-4o-mini").Add(1500)
	m.UsageRejections.WithLabelValues("daily_limit_exceeded").Inc()
	m.RequestsRecorded.WithLabelValues("premium", "voice").Inc()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather error: %v", err)
	}

	found := map[string]bool{}
	for _, f := range families {
		found[f.GetName()] = true
	}
	for _, name := range []string{
		"meterline_tokens_recorded_total",
		"meterline_usage_rejections_total",
		"meterline_requests_recorded_total",
	} {
		if !found[name] {
			t.Errorf("metric %s not gathered", name)
		}
	}
}
