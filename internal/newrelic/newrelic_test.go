package newrelic

import (
	"context"
	"errors"
	"testing"

	"github.com/tos-network/statsserver/internal/config"
)

func TestNewAgent(t *testing.T) {
	cfg := &config.NewRelicConfig{
		Enabled:    true,
		AppName:    "Test Stats Server",
		LicenseKey: "test_key",
	}

	agent := NewAgent(cfg)

	if agent == nil {
		t.Fatal("NewAgent returned nil")
	}

	if agent.cfg != cfg {
		t.Error("Agent.cfg not set correctly")
	}

	if agent.app != nil {
		t.Error("Agent.app should be nil before Start()")
	}
}

func TestStartDisabled(t *testing.T) {
	cfg := &config.NewRelicConfig{
		Enabled: false,
	}

	agent := NewAgent(cfg)
	err := agent.Start()

	if err != nil {
		t.Errorf("Start() returned error when disabled: %v", err)
	}

	if agent.app != nil {
		t.Error("Agent.app should be nil when disabled")
	}
}

func TestStartNoLicenseKey(t *testing.T) {
	cfg := &config.NewRelicConfig{
		Enabled:    true,
		AppName:    "Test Stats Server",
		LicenseKey: "",
	}

	agent := NewAgent(cfg)
	err := agent.Start()

	if err != nil {
		t.Errorf("Start() returned error with empty license key: %v", err)
	}

	if agent.app != nil {
		t.Error("Agent.app should be nil with empty license key")
	}
}

func TestStopNotStarted(t *testing.T) {
	cfg := &config.NewRelicConfig{Enabled: false}
	agent := NewAgent(cfg)
	// Should not panic
	agent.Stop()
}

func TestApplicationNotStarted(t *testing.T) {
	cfg := &config.NewRelicConfig{Enabled: false}
	agent := NewAgent(cfg)

	if app := agent.Application(); app != nil {
		t.Error("Application() should return nil when not started")
	}
}

func TestIsEnabledNotStarted(t *testing.T) {
	cfg := &config.NewRelicConfig{Enabled: false}
	agent := NewAgent(cfg)

	if agent.IsEnabled() {
		t.Error("IsEnabled() should return false when not started")
	}
}

func TestStartTransactionNotStarted(t *testing.T) {
	cfg := &config.NewRelicConfig{Enabled: false}
	agent := NewAgent(cfg)

	if txn := agent.StartTransaction("test"); txn != nil {
		t.Error("StartTransaction() should return nil when not started")
	}
}

func TestRecordCustomEventNotStarted(t *testing.T) {
	cfg := &config.NewRelicConfig{Enabled: false}
	agent := NewAgent(cfg)

	// Should not panic
	agent.RecordCustomEvent("TestEvent", map[string]interface{}{"key": "value"})
}

func TestRecordCustomMetricNotStarted(t *testing.T) {
	cfg := &config.NewRelicConfig{Enabled: false}
	agent := NewAgent(cfg)

	// Should not panic
	agent.RecordCustomMetric("Custom/Test", 123.45)
}

func TestNoticeErrorNilTransaction(t *testing.T) {
	cfg := &config.NewRelicConfig{Enabled: false}
	agent := NewAgent(cfg)

	// Should not panic with nil transaction
	agent.NoticeError(nil, nil)
}

func TestNewContextNilTransaction(t *testing.T) {
	cfg := &config.NewRelicConfig{Enabled: false}
	agent := NewAgent(cfg)
	ctx := context.Background()

	if result := agent.NewContext(ctx, nil); result != ctx {
		t.Error("NewContext should return original context when txn is nil")
	}
}

func TestFromContext(t *testing.T) {
	cfg := &config.NewRelicConfig{Enabled: false}
	agent := NewAgent(cfg)
	ctx := context.Background()

	if txn := agent.FromContext(ctx); txn != nil {
		t.Error("FromContext should return nil for empty context")
	}
}

func TestRecordShareIngested(t *testing.T) {
	cfg := &config.NewRelicConfig{Enabled: false}
	agent := NewAgent(cfg)

	// Should not panic when not started
	agent.RecordShareIngested(1, 1, true)
	agent.RecordShareIngested(1, 1, false)
}

func TestRecordMalformedShare(t *testing.T) {
	cfg := &config.NewRelicConfig{Enabled: false}
	agent := NewAgent(cfg)

	// Should not panic when not started
	agent.RecordMalformedShare("192.168.1.100", 15)
}

func TestRecordFlushResult(t *testing.T) {
	cfg := &config.NewRelicConfig{Enabled: false}
	agent := NewAgent(cfg)

	// Should not panic when not started
	agent.RecordFlushResult(42, 0, nil)
	agent.RecordFlushResult(0, 3, errors.New("db unreachable"))
}

func TestUpdateRegistryMetrics(t *testing.T) {
	cfg := &config.NewRelicConfig{Enabled: false}
	agent := NewAgent(cfg)

	// Should not panic when not started
	agent.UpdateRegistryMetrics(250, 100)
}

func TestUpdateIngestLag(t *testing.T) {
	cfg := &config.NewRelicConfig{Enabled: false}
	agent := NewAgent(cfg)

	// Should not panic when not started
	agent.UpdateIngestLag(0.5)
}

func TestAgentStructFields(t *testing.T) {
	cfg := &config.NewRelicConfig{
		Enabled:    true,
		AppName:    "Stats Server",
		LicenseKey: "license_123",
	}

	agent := NewAgent(cfg)

	if agent.cfg.AppName != "Stats Server" {
		t.Errorf("AppName = %s, want Stats Server", agent.cfg.AppName)
	}

	if agent.cfg.LicenseKey != "license_123" {
		t.Errorf("LicenseKey = %s, want license_123", agent.cfg.LicenseKey)
	}
}

func TestConcurrentAccess(t *testing.T) {
	cfg := &config.NewRelicConfig{Enabled: false}
	agent := NewAgent(cfg)

	// Test concurrent access - should not panic
	done := make(chan bool)

	for i := 0; i < 10; i++ {
		go func() {
			agent.IsEnabled()
			agent.Application()
			agent.StartTransaction("test")
			agent.RecordCustomEvent("test", nil)
			agent.RecordCustomMetric("test", 1.0)
			done <- true
		}()
	}

	for i := 0; i < 10; i++ {
		<-done
	}
}
