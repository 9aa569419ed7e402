package newrelic

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tos-network/poolwatch/internal/alerts"
	"github.com/tos-network/poolwatch/internal/config"
	"github.com/tos-network/poolwatch/internal/pools"
	"github.com/tos-network/poolwatch/internal/storage"
)

func disabledAgent() *Agent {
	return NewAgent(&config.NewRelicConfig{Enabled: false})
}

func TestNewAgent(t *testing.T) {
	cfg := &config.NewRelicConfig{
		Enabled:    true,
		AppName:    "poolwatch",
		LicenseKey: "test_key",
	}

	agent := NewAgent(cfg)

	if agent.cfg != cfg {
		t.Error("Agent.cfg not set correctly")
	}
	if agent.app != nil {
		t.Error("Agent.app should be nil before Start()")
	}
}

func TestStart(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.NewRelicConfig
	}{
		{"disabled", config.NewRelicConfig{Enabled: false}},
		{"no license key", config.NewRelicConfig{Enabled: true, AppName: "poolwatch"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agent := NewAgent(&tt.cfg)
			if err := agent.Start(); err != nil {
				t.Errorf("Start() error = %v", err)
			}
			if agent.IsEnabled() || agent.Application() != nil {
				t.Error("agent should stay disabled")
			}
			agent.Stop()
		})
	}
}

func TestTransactionsNotStarted(t *testing.T) {
	agent := disabledAgent()

	txn := agent.StartTransaction("poll-cycle")
	if txn != nil {
		t.Error("StartTransaction() should return nil when not started")
	}

	ctx := context.Background()
	if agent.NewContext(ctx, txn) != ctx {
		t.Error("NewContext should return original context when txn is nil")
	}
	if agent.FromContext(ctx) != nil {
		t.Error("FromContext should return nil for empty context")
	}

	// Should not panic with nil transaction
	agent.NoticeError(nil, errors.New("boom"))
}

func TestRecordersNotStarted(t *testing.T) {
	agent := disabledAgent()

	// None of these may panic when the agent is not running.
	agent.RecordCustomEvent("Test", map[string]interface{}{"key": "value"})
	agent.RecordCustomMetric("Custom/Test", 1)
	agent.RecordPoolFetch("2miners", "etc", time.Second, nil)
	agent.RecordPoolFetch("2miners", "etc", time.Second, errors.New("pool unavailable"))
	agent.RecordAlert(alerts.Event{Kind: alerts.KindWorkerOffline, WalletID: "w1", Workers: []string{"rig1"}})
	agent.RecordCycle(3, 1, 2*time.Second)
	agent.UpdateWalletMetrics(nil)
	agent.UpdateWalletMetrics(&storage.WalletSnapshot{WalletID: "w1", Error: "failed"})
	agent.UpdateWalletMetrics(&storage.WalletSnapshot{
		WalletID: "w1",
		Stats:    pools.PoolStats{Hashrate: 1e6, WorkersOnline: 1, WorkersTotal: 1},
	})
}

func TestConcurrentAccess(t *testing.T) {
	agent := disabledAgent()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			agent.IsEnabled()
			agent.Application()
			agent.StartTransaction("test")
			agent.RecordCycle(1, 0, time.Millisecond)
		}()
	}
	wg.Wait()
}
