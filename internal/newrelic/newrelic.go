// Package newrelic provides New Relic APM integration for monitoring.
package newrelic

import (
	"context"
	"sync"
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"

	"github.com/tos-network/poolwatch/internal/alerts"
	"github.com/tos-network/poolwatch/internal/config"
	"github.com/tos-network/poolwatch/internal/storage"
	"github.com/tos-network/poolwatch/internal/util"
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
	)
	if err != nil {
		return err
	}

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

// Application returns the underlying New Relic application
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

// StartTransaction starts a new New Relic transaction. It returns nil when
// the agent is not running; Transaction methods accept a nil receiver.
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

// RecordPoolFetch records one pool API request
func (a *Agent) RecordPoolFetch(pool, coin string, d time.Duration, err error) {
	params := map[string]interface{}{
		"pool":       pool,
		"coin":       coin,
		"durationMs": d.Milliseconds(),
		"success":    err == nil,
	}
	if err != nil {
		params["error"] = err.Error()
	}
	a.RecordCustomEvent("PoolFetch", params)
}

// RecordAlert records a raised alert event
func (a *Agent) RecordAlert(ev alerts.Event) {
	a.RecordCustomEvent("WalletAlert", map[string]interface{}{
		"kind":        string(ev.Kind),
		"walletId":    ev.WalletID,
		"pool":        ev.Pool,
		"coin":        ev.Coin,
		"workers":     len(ev.Workers),
		"dropPercent": ev.DropPercent,
	})
}

// RecordCycle records a finished polling cycle
func (a *Agent) RecordCycle(wallets, failed int, d time.Duration) {
	a.RecordCustomMetric("Custom/Poll/CycleSeconds", d.Seconds())
	a.RecordCustomMetric("Custom/Poll/Wallets", float64(wallets))
	a.RecordCustomMetric("Custom/Poll/FailedWallets", float64(failed))
}

// UpdateWalletMetrics records per-wallet gauges from a snapshot
func (a *Agent) UpdateWalletMetrics(snap *storage.WalletSnapshot) {
	if snap == nil || snap.Error != "" {
		return
	}
	prefix := "Custom/Wallet/" + snap.WalletID + "/"
	a.RecordCustomMetric(prefix+"Hashrate", snap.Stats.Hashrate)
	a.RecordCustomMetric(prefix+"WorkersOnline", float64(snap.Stats.WorkersOnline))
	a.RecordCustomMetric(prefix+"Earnings24hUSD", snap.Earnings24hUSD)
}
