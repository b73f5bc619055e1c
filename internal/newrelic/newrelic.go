// Package newrelic provides New Relic APM integration for monitoring.
package newrelic

import (
	"context"
	"sync"
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/tos-network/statsserver/internal/config"
	"github.com/tos-network/statsserver/internal/util"
)

// Agent wraps New Relic APM functionality
type Agent struct {
	cfg *config.NewRelicConfig
	app *newrelic.Application
	mu  sync.RWMutex
}

// NewAgent creates a new New Relic agent
func NewAgent(cfg *config.NewRelicConfig) *Agent {
	return &Agent{
		cfg: cfg,
	}
}

// Start initializes the New Relic agent
func (a *Agent) Start() error {
	if !a.cfg.Enabled {
		util.Info("New Relic APM disabled")
		return nil
	}

	if a.cfg.LicenseKey == "" {
		util.Warn("New Relic license key not configured, APM disabled")
		return nil
	}

	app, err := newrelic.NewApplication(
		newrelic.ConfigAppName(a.cfg.AppName),
		newrelic.ConfigLicense(a.cfg.LicenseKey),
		newrelic.ConfigDistributedTracerEnabled(true),
		newrelic.ConfigAppLogForwardingEnabled(true),
	)
	if err != nil {
		return err
	}

	// Wait for connection (up to 5 seconds)
	if err := app.WaitForConnection(5 * time.Second); err != nil {
		util.Warnf("New Relic connection timeout: %v (will retry in background)", err)
	}

	a.mu.Lock()
	a.app = app
	a.mu.Unlock()

	util.Infof("New Relic APM enabled for app: %s", a.cfg.AppName)
	return nil
}

// Stop shuts down the New Relic agent
func (a *Agent) Stop() {
	a.mu.RLock()
	app := a.app
	a.mu.RUnlock()

	if app != nil {
		util.Info("Shutting down New Relic agent")
		app.Shutdown(10 * time.Second)
	}
}

// Application returns the underlying New Relic application (for middleware)
func (a *Agent) Application() *newrelic.Application {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.app
}

// IsEnabled returns true if New Relic is enabled and connected
func (a *Agent) IsEnabled() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.app != nil
}

// StartTransaction starts a new New Relic transaction
func (a *Agent) StartTransaction(name string) *newrelic.Transaction {
	a.mu.RLock()
	app := a.app
	a.mu.RUnlock()

	if app == nil {
		return nil
	}
	return app.StartTransaction(name)
}

// RecordCustomEvent records a custom event
func (a *Agent) RecordCustomEvent(eventType string, params map[string]interface{}) {
	a.mu.RLock()
	app := a.app
	a.mu.RUnlock()

	if app != nil {
		app.RecordCustomEvent(eventType, params)
	}
}

// RecordCustomMetric records a custom metric
func (a *Agent) RecordCustomMetric(name string, value float64) {
	a.mu.RLock()
	app := a.app
	a.mu.RUnlock()

	if app != nil {
		app.RecordCustomMetric(name, value)
	}
}

// NoticeError records an error
func (a *Agent) NoticeError(txn *newrelic.Transaction, err error) {
	if txn != nil && err != nil {
		txn.NoticeError(err)
	}
}

// NewContext adds transaction to context
func (a *Agent) NewContext(ctx context.Context, txn *newrelic.Transaction) context.Context {
	if txn == nil {
		return ctx
	}
	return newrelic.NewContext(ctx, txn)
}

// FromContext gets transaction from context
func (a *Agent) FromContext(ctx context.Context) *newrelic.Transaction {
	return newrelic.FromContext(ctx)
}

// RecordShareIngested records one decoded share passing through the live
// ingest path.
func (a *Agent) RecordShareIngested(userID, workerID uint64, accepted bool) {
	status := "accept"
	if !accepted {
		status = "reject"
	}
	a.RecordCustomEvent("ShareIngested", map[string]interface{}{
		"user_id":   userID,
		"worker_id": workerID,
		"status":    status,
	})
}

// RecordMalformedShare records a malformed or undecodable share attributed to
// a source IP, the same event guard.Guard scores against.
func (a *Agent) RecordMalformedShare(ip string, score int32) {
	a.RecordCustomEvent("MalformedShare", map[string]interface{}{
		"ip":    ip,
		"score": score,
	})
}

// RecordFlushResult records the outcome of one DBFlusher tick.
func (a *Agent) RecordFlushResult(workerCount int, consecutiveFails int, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	a.RecordCustomEvent("DBFlush", map[string]interface{}{
		"worker_count":      workerCount,
		"consecutive_fails": consecutiveFails,
		"status":            status,
	})
}

// UpdateRegistryMetrics reports the live registry's current size.
func (a *Agent) UpdateRegistryMetrics(totalWorkers, totalUsers int64) {
	a.RecordCustomMetric("Custom/Registry/Workers", float64(totalWorkers))
	a.RecordCustomMetric("Custom/Registry/Users", float64(totalUsers))
}

// UpdateIngestLag reports how far behind wall-clock the live ingest path is
// running, in seconds.
func (a *Agent) UpdateIngestLag(lagSeconds float64) {
	a.RecordCustomMetric("Custom/Ingest/LagSeconds", lagSeconds)
}
