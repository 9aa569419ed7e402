package poller

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/tos-network/poolwatch/internal/alerts"
	"github.com/tos-network/poolwatch/internal/config"
	"github.com/tos-network/poolwatch/internal/metrics"
	"github.com/tos-network/poolwatch/internal/pools"
	"github.com/tos-network/poolwatch/internal/prices"
	"github.com/tos-network/poolwatch/internal/storage"
)

// fakeFetcher serves canned stats per wallet address.
type fakeFetcher struct {
	mu     sync.Mutex
	stats  map[string]pools.PoolStats
	errs   map[string]error
	calls  int
	called chan struct{}
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		stats:  make(map[string]pools.PoolStats),
		errs:   make(map[string]error),
		called: make(chan struct{}, 16),
	}
}

func (f *fakeFetcher) set(address string, stats pools.PoolStats, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stats[address] = stats
	f.errs[address] = err
}

func (f *fakeFetcher) FetchWithRetry(ctx context.Context, poolID, coin, address string) (pools.PoolStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	select {
	case f.called <- struct{}{}:
	default:
	}
	if err := f.errs[address]; err != nil {
		return pools.PoolStats{}, err
	}
	return f.stats[address], nil
}

type fakePrices struct {
	mu      sync.Mutex
	quotes  map[string]prices.Price
	calls   int
	symbols []string
}

func (f *fakePrices) GetPrices(ctx context.Context, symbols []string) map[string]prices.Price {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.symbols = append([]string(nil), symbols...)
	out := make(map[string]prices.Price, len(symbols))
	for _, s := range symbols {
		out[s] = f.quotes[s]
	}
	return out
}

type recordingSink struct {
	mu     sync.Mutex
	events []alerts.Event
}

func (s *recordingSink) Notify(events []alerts.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, events...)
}

func worker(name string, offline bool) pools.WorkerStats {
	hr := 1e8
	if offline {
		hr = 0
	}
	return pools.WorkerStats{Name: name, Hashrate: hr, LastSeen: time.Now().UnixMilli(), Offline: offline}
}

func walletStats(workers ...pools.WorkerStats) pools.PoolStats {
	s := pools.PoolStats{
		Workers:      workers,
		WorkersTotal: len(workers),
		Balance:      2,
		Earnings24h:  0.5,
		LastShare:    time.Now().UnixMilli(),
	}
	for _, w := range workers {
		s.Hashrate += w.Hashrate
		if !w.Offline {
			s.WorkersOnline++
		}
	}
	return s
}

type testEnv struct {
	poller  *Poller
	fetcher *fakeFetcher
	prices  *fakePrices
	store   storage.Store
	sink    *recordingSink
	metrics *metrics.Metrics
}

func setupPoller(t *testing.T, wallets ...config.WalletConfig) *testEnv {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	store, err := storage.NewRedisClient(mr.Addr(), "", 0)
	if err != nil {
		mr.Close()
		t.Fatalf("Failed to create Redis client: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
		mr.Close()
	})

	cfg := &config.Config{
		Poll: config.PollConfig{
			Interval:   time.Hour,
			StaleAfter: 2 * time.Hour,
		},
		Alerts:  alerts.DefaultSettings(),
		Wallets: wallets,
	}

	env := &testEnv{
		fetcher: newFakeFetcher(),
		prices: &fakePrices{quotes: map[string]prices.Price{
			"etc": {USD: 20, Change24h: -1.5},
			"btc": {USD: 40000},
		}},
		store:   store,
		sink:    &recordingSink{},
		metrics: metrics.New(),
	}
	env.poller = New(cfg, env.fetcher, env.prices, store, Options{
		Metrics: env.metrics,
		Sinks:   []Sink{env.sink},
	})
	return env
}

var (
	etcWallet = config.WalletConfig{ID: "etc-main", Label: "Garage", Pool: "2miners", Coin: "etc", Address: "0xabc"}
	btcWallet = config.WalletConfig{ID: "btc-solo", Pool: "ckpool", Coin: "btc", Address: "bc1q"}
)

func TestRunCycleFirstObservation(t *testing.T) {
	env := setupPoller(t, etcWallet)
	env.fetcher.set("0xabc", walletStats(worker("rig1", false), worker("rig2", false)), nil)

	res := env.poller.RunCycle(context.Background())

	if res.Wallets != 1 || res.Failed != 0 || len(res.Events) != 0 {
		t.Errorf("result = %+v", res)
	}

	snap, err := env.store.GetSnapshot("etc-main")
	if err != nil || snap == nil {
		t.Fatalf("GetSnapshot = %v, %v", snap, err)
	}
	if snap.PriceUSD != 20 || snap.BalanceUSD != 40 || snap.Earnings24hUSD != 10 {
		t.Errorf("USD figures = price %v balance %v earnings %v", snap.PriceUSD, snap.BalanceUSD, snap.Earnings24hUSD)
	}
	if snap.Label != "Garage" || snap.Stale || snap.Error != "" {
		t.Errorf("snapshot = %+v", snap)
	}

	state, _ := env.store.GetWalletState("etc-main")
	if state == nil || len(state.OnlineWorkers) != 2 || state.Earnings24hUSD != 10 {
		t.Errorf("state = %+v", state)
	}
}

func TestRunCycleWorkerOffline(t *testing.T) {
	env := setupPoller(t, etcWallet)
	ctx := context.Background()

	env.fetcher.set("0xabc", walletStats(worker("rig1", false), worker("rig2", false)), nil)
	env.poller.RunCycle(ctx)

	env.fetcher.set("0xabc", walletStats(worker("rig1", false), worker("rig2", true)), nil)
	res := env.poller.RunCycle(ctx)

	if len(res.Events) != 1 || res.Events[0].Kind != alerts.KindWorkerOffline {
		t.Fatalf("events = %+v", res.Events)
	}
	if len(env.sink.events) != 1 || env.sink.events[0].WalletLabel != "Garage" {
		t.Errorf("sink events = %+v", env.sink.events)
	}

	notified, _ := env.store.GetNotified()
	if !notified.Has(alerts.NotifiedKey("etc-main", "rig2")) {
		t.Errorf("notified = %v", notified.Keys())
	}

	stored, _ := env.store.GetRecentEvents(10)
	if len(stored) != 1 {
		t.Errorf("stored events = %d, want 1", len(stored))
	}

	// Still offline: no repeat.
	if res := env.poller.RunCycle(ctx); len(res.Events) != 0 {
		t.Errorf("repeat events = %+v", res.Events)
	}

	// Back online clears the key and raises a recovery event.
	env.fetcher.set("0xabc", walletStats(worker("rig1", false), worker("rig2", false)), nil)
	res = env.poller.RunCycle(ctx)
	if len(res.Events) != 1 || res.Events[0].Kind != alerts.KindBackOnline {
		t.Errorf("recovery events = %+v", res.Events)
	}
	notified, _ = env.store.GetNotified()
	if len(notified) != 0 {
		t.Errorf("notified after recovery = %v", notified.Keys())
	}

	expected := `
# HELP poolwatch_alerts_total Alert events raised by kind.
# TYPE poolwatch_alerts_total counter
poolwatch_alerts_total{kind="back_online"} 1
poolwatch_alerts_total{kind="worker_offline"} 1
`
	if err := testutil.GatherAndCompare(env.metrics.Registry(), strings.NewReader(expected), "poolwatch_alerts_total"); err != nil {
		t.Errorf("alert metrics: %v", err)
	}
}

func TestRunCycleIsolatesFailures(t *testing.T) {
	env := setupPoller(t, etcWallet, btcWallet)
	ctx := context.Background()

	env.fetcher.set("0xabc", walletStats(worker("rig1", false)), nil)
	env.fetcher.set("bc1q", walletStats(worker("bitaxe", false)), nil)
	env.poller.RunCycle(ctx)

	unavailable := &pools.PoolUnavailableError{Pool: "2miners", StatusCode: 503}
	env.fetcher.set("0xabc", pools.PoolStats{}, unavailable)
	res := env.poller.RunCycle(ctx)

	if res.Wallets != 2 || res.Failed != 1 {
		t.Errorf("result = %+v", res)
	}

	failed, _ := env.store.GetSnapshot("etc-main")
	if failed == nil || failed.Error != unavailable.Error() {
		t.Fatalf("failed snapshot = %+v", failed)
	}
	if len(failed.Stats.Workers) != 1 {
		t.Errorf("failed snapshot lost last good stats: %+v", failed.Stats)
	}

	ok, _ := env.store.GetSnapshot("btc-solo")
	if ok == nil || ok.Error != "" || ok.PriceUSD != 40000 {
		t.Errorf("healthy snapshot = %+v", ok)
	}
}

func TestRunCycleFailureWithoutHistory(t *testing.T) {
	env := setupPoller(t, etcWallet)
	env.fetcher.set("0xabc", pools.PoolStats{}, &pools.WalletNotFoundError{Pool: "2miners", Address: "0xabc"})

	env.poller.RunCycle(context.Background())

	snap, _ := env.store.GetSnapshot("etc-main")
	if snap == nil || snap.Error == "" || snap.Pool != "2miners" || snap.Address != "0xabc" {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestRunCycleStaleData(t *testing.T) {
	env := setupPoller(t, etcWallet)

	stats := walletStats(worker("rig1", false))
	stats.LastShare = time.Now().Add(-3 * time.Hour).UnixMilli()
	env.fetcher.set("0xabc", stats, nil)

	env.poller.RunCycle(context.Background())

	snap, _ := env.store.GetSnapshot("etc-main")
	if !snap.Stale || snap.Stats.Hashrate != 0 || snap.Stats.WorkersOnline != 0 {
		t.Errorf("stale snapshot = %+v", snap)
	}
}

func TestRunCycleBatchesPrices(t *testing.T) {
	env := setupPoller(t, etcWallet, btcWallet)
	env.fetcher.set("0xabc", walletStats(worker("rig1", false)), nil)
	env.fetcher.set("bc1q", walletStats(worker("bitaxe", false)), nil)

	env.poller.RunCycle(context.Background())

	if env.prices.calls != 1 {
		t.Errorf("price lookups = %d, want 1", env.prices.calls)
	}
	if len(env.prices.symbols) != 2 {
		t.Errorf("symbols = %v", env.prices.symbols)
	}
}

func TestRunCycleSkipsPricesWhenAllFail(t *testing.T) {
	env := setupPoller(t, etcWallet)
	env.fetcher.set("0xabc", pools.PoolStats{}, errors.New("boom"))

	env.poller.RunCycle(context.Background())

	if env.prices.calls != 0 {
		t.Errorf("price lookups = %d, want 0", env.prices.calls)
	}
}

func TestRunCycleCancelled(t *testing.T) {
	env := setupPoller(t, etcWallet, btcWallet)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := env.poller.RunCycle(ctx)

	if res.Wallets != 0 || env.fetcher.calls != 0 {
		t.Errorf("cancelled cycle fetched %d wallets", env.fetcher.calls)
	}
}

func TestStartStop(t *testing.T) {
	env := setupPoller(t, etcWallet)
	env.poller.cfg.Poll.RunOnStart = true
	env.fetcher.set("0xabc", walletStats(worker("rig1", false)), nil)

	if err := env.poller.Start(); err != nil {
		t.Fatalf("Start error = %v", err)
	}

	select {
	case <-env.fetcher.called:
	case <-time.After(5 * time.Second):
		t.Fatal("initial cycle did not run")
	}

	env.poller.Stop()
}
