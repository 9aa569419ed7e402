// Package poller runs the periodic wallet polling cycle: fetch, normalize,
// price, evaluate alerts, persist and dispatch.
package poller

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/tos-network/poolwatch/internal/alerts"
	"github.com/tos-network/poolwatch/internal/config"
	"github.com/tos-network/poolwatch/internal/metrics"
	"github.com/tos-network/poolwatch/internal/newrelic"
	"github.com/tos-network/poolwatch/internal/pools"
	"github.com/tos-network/poolwatch/internal/prices"
	"github.com/tos-network/poolwatch/internal/rpc"
	"github.com/tos-network/poolwatch/internal/storage"
	"github.com/tos-network/poolwatch/internal/util"
)

// Fetcher retrieves normalized stats for one wallet.
type Fetcher interface {
	FetchWithRetry(ctx context.Context, poolID, coin, address string) (pools.PoolStats, error)
}

// PriceSource quotes coins by symbol.
type PriceSource interface {
	GetPrices(ctx context.Context, symbols []string) map[string]prices.Price
}

// Sink receives the alert events raised by a cycle.
type Sink interface {
	Notify(events []alerts.Event)
}

type healthReporter interface {
	Health() []rpc.PoolHealth
}

// Options carries the optional collaborators of a Poller.
type Options struct {
	Metrics  *metrics.Metrics
	NewRelic *newrelic.Agent
	Sinks    []Sink
}

// CycleResult summarizes one polling cycle.
type CycleResult struct {
	Wallets  int
	Failed   int
	Events   []alerts.Event
	Duration time.Duration
}

// Poller is the polling coordinator
type Poller struct {
	cfg       *config.Config
	fetcher   Fetcher
	prices    PriceSource
	store     storage.Store
	evaluator *alerts.Evaluator
	stale     *pools.StaleFilter
	metrics   *metrics.Metrics
	nr        *newrelic.Agent
	sinks     []Sink
	now       func() time.Time

	// Cycles never overlap.
	cycleMu sync.Mutex

	// Control
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a poller for the wallets in cfg.
func New(cfg *config.Config, fetcher Fetcher, priceSource PriceSource, store storage.Store, opts Options) *Poller {
	ctx, cancel := context.WithCancel(context.Background())

	nr := opts.NewRelic
	if nr == nil {
		nr = newrelic.NewAgent(&config.NewRelicConfig{})
	}

	return &Poller{
		cfg:       cfg,
		fetcher:   fetcher,
		prices:    priceSource,
		store:     store,
		evaluator: alerts.NewEvaluator(cfg.Alerts),
		stale:     pools.NewStaleFilter(cfg.Poll.StaleAfter),
		metrics:   opts.Metrics,
		nr:        nr,
		sinks:     opts.Sinks,
		now:       time.Now,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start begins the polling loop
func (p *Poller) Start() error {
	if len(p.cfg.Wallets) == 0 {
		util.Warn("No wallets configured, poller idle")
	}
	util.Infof("Starting poller: %d wallets every %s", len(p.cfg.Wallets), p.cfg.Poll.Interval)

	p.wg.Add(1)
	go p.pollLoop()
	return nil
}

// Stop shuts down the poller and waits for a running cycle to finish
func (p *Poller) Stop() {
	util.Info("Stopping poller...")
	p.cancel()
	p.wg.Wait()
	util.Info("Poller stopped")
}

func (p *Poller) pollLoop() {
	defer p.wg.Done()

	if p.cfg.Poll.RunOnStart {
		p.RunCycle(p.ctx)
	}

	ticker := time.NewTicker(p.cfg.Poll.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.RunCycle(p.ctx)
		}
	}
}

type fetchResult struct {
	wallet config.WalletConfig
	stats  pools.PoolStats
	err    error
}

// RunCycle polls every configured wallet once. A failing wallet is logged
// and recorded in its snapshot without affecting the others.
func (p *Poller) RunCycle(ctx context.Context) CycleResult {
	p.cycleMu.Lock()
	defer p.cycleMu.Unlock()

	start := time.Now()
	txn := p.nr.StartTransaction("poll-cycle")
	defer txn.End()
	ctx = p.nr.NewContext(ctx, txn)

	results := p.fetchAll(ctx)
	res := CycleResult{Wallets: len(results)}

	symbols := make([]string, 0, len(results))
	for _, r := range results {
		if r.err == nil {
			symbols = append(symbols, r.wallet.Coin)
		}
	}
	var quotes map[string]prices.Price
	if len(symbols) > 0 {
		quotes = p.prices.GetPrices(ctx, symbols)
	}

	notified, err := p.store.GetNotified()
	if err != nil {
		util.Warnf("Failed to load notified set: %v", err)
		notified = alerts.NewNotifiedSet()
	}

	for _, r := range results {
		if r.err != nil {
			res.Failed++
			if !isCancelled(r.err) {
				p.saveFailure(r)
			}
			continue
		}
		var events []alerts.Event
		events, notified = p.process(r, quotes[r.wallet.Coin], notified)
		res.Events = append(res.Events, events...)
	}

	if err := p.store.SaveNotified(notified); err != nil {
		util.Warnf("Failed to save notified set: %v", err)
	}
	p.dispatch(res.Events)
	p.recordHealth()

	res.Duration = time.Since(start)
	p.metrics.ObserveCycle(res.Duration, res.Failed)
	p.nr.RecordCycle(res.Wallets, res.Failed, res.Duration)
	util.Infof("Poll cycle: %d wallets, %d failed, %d alerts in %s",
		res.Wallets, res.Failed, len(res.Events), res.Duration.Round(time.Millisecond))

	return res
}

// fetchAll fetches wallets sequentially so no pool sees a burst of
// requests. Cancellation stops the cycle early.
func (p *Poller) fetchAll(ctx context.Context) []fetchResult {
	txn := p.nr.FromContext(ctx)
	results := make([]fetchResult, 0, len(p.cfg.Wallets))

	for _, w := range p.cfg.Wallets {
		if ctx.Err() != nil {
			util.Warnf("Poll cycle cancelled after %d of %d wallets", len(results), len(p.cfg.Wallets))
			break
		}

		seg := txn.StartSegment("fetch/" + w.Pool)
		begin := time.Now()
		stats, err := p.fetcher.FetchWithRetry(ctx, w.Pool, w.Coin, w.Address)
		elapsed := time.Since(begin)
		seg.End()

		p.metrics.ObservePoolFetch(w.Pool, elapsed, err)
		p.nr.RecordPoolFetch(w.Pool, w.Coin, elapsed, err)
		if err != nil {
			util.With("wallet", w.ID, "pool", w.Pool, "coin", w.Coin).Warnf("Fetch failed: %v", err)
		}
		results = append(results, fetchResult{wallet: w, stats: stats, err: err})
	}
	return results
}

// process evaluates one successful fetch, persists its state and snapshot,
// and returns the raised events with the updated notified set.
func (p *Poller) process(r fetchResult, price prices.Price, notified alerts.NotifiedSet) ([]alerts.Event, alerts.NotifiedSet) {
	w := r.wallet
	stats := p.stale.Apply(r.stats)

	snap := &storage.WalletSnapshot{
		WalletID:       w.ID,
		Label:          w.Label,
		Pool:           w.Pool,
		Coin:           w.Coin,
		Address:        w.Address,
		Stats:          stats,
		Stale:          p.stale.IsStale(r.stats),
		PriceUSD:       price.USD,
		Change24h:      price.Change24h,
		BalanceUSD:     stats.Balance * price.USD,
		Earnings24hUSD: stats.Earnings24h * price.USD,
		FetchedAt:      p.now(),
	}

	prev, err := p.store.GetWalletState(w.ID)
	if err != nil {
		util.Warnf("Failed to load state for wallet %s: %v", w.ID, err)
		prev = nil
	}

	result := p.evaluator.Evaluate(alerts.Input{
		WalletID:       w.ID,
		Label:          w.Label,
		Pool:           w.Pool,
		Coin:           w.Coin,
		Stats:          stats,
		Earnings24hUSD: snap.Earnings24hUSD,
	}, prev, notified)

	if err := p.store.SaveWalletState(w.ID, result.State); err != nil {
		util.Warnf("Failed to save state for wallet %s: %v", w.ID, err)
	}
	if err := p.store.SaveSnapshot(snap); err != nil {
		util.Warnf("Failed to save snapshot for wallet %s: %v", w.ID, err)
	}
	p.metrics.SetWallet(snap)
	p.nr.UpdateWalletMetrics(snap)

	if snap.Stale {
		util.Debugf("Wallet %s is stale, last share %s", w.ID, stats.LastShareTime().Format(time.RFC3339))
	}
	return result.Events, result.Notified
}

// saveFailure records the error on the wallet's snapshot, keeping the last
// good stats so readers still see something.
func (p *Poller) saveFailure(r fetchResult) {
	w := r.wallet
	snap, err := p.store.GetSnapshot(w.ID)
	if err != nil || snap == nil {
		snap = &storage.WalletSnapshot{
			WalletID: w.ID,
			Label:    w.Label,
			Pool:     w.Pool,
			Coin:     w.Coin,
			Address:  w.Address,
		}
	}
	snap.Error = r.err.Error()
	snap.FetchedAt = p.now()

	if err := p.store.SaveSnapshot(snap); err != nil {
		util.Warnf("Failed to save snapshot for wallet %s: %v", w.ID, err)
	}
}

func (p *Poller) dispatch(events []alerts.Event) {
	if len(events) == 0 {
		return
	}
	if err := p.store.AddEvents(events); err != nil {
		util.Warnf("Failed to store %d alert events: %v", len(events), err)
	}
	p.metrics.RecordAlerts(events)
	for _, ev := range events {
		p.nr.RecordAlert(ev)
		util.Infof("Alert [%s] %s: %s", ev.Kind, ev.WalletID, ev.Title)
	}
	for _, s := range p.sinks {
		s.Notify(events)
	}
}

func (p *Poller) recordHealth() {
	hr, ok := p.fetcher.(healthReporter)
	if !ok {
		return
	}
	for _, h := range hr.Health() {
		p.metrics.SetPoolHealth(h.Pool, h.Healthy)
	}
}

func isCancelled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
