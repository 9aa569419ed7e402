package alerts

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hako/durafmt"

	"github.com/tos-network/poolwatch/internal/pools"
	"github.com/tos-network/poolwatch/internal/util"
)

// DefaultProfitDropThreshold is the 24h earnings drop, in percent, that
// raises a profit alert.
const DefaultProfitDropThreshold = 20.0

// Kind identifies an alert type.
type Kind string

const (
	KindWorkerOffline Kind = "worker_offline"
	KindBackOnline    Kind = "back_online"
	KindProfitDrop    Kind = "profit_drop"
)

// Settings toggles the individual alert types.
type Settings struct {
	WorkerOffline       bool    `mapstructure:"worker_offline" json:"workerOffline"`
	BackOnline          bool    `mapstructure:"back_online" json:"backOnline"`
	ProfitDrop          bool    `mapstructure:"profit_drop" json:"profitDrop"`
	ProfitDropThreshold float64 `mapstructure:"profit_drop_threshold" json:"profitDropThreshold"`
}

// DefaultSettings enables every alert with the default threshold.
func DefaultSettings() Settings {
	return Settings{
		WorkerOffline:       true,
		BackOnline:          true,
		ProfitDrop:          true,
		ProfitDropThreshold: DefaultProfitDropThreshold,
	}
}

// Event is a single notification.
type Event struct {
	ID          string    `json:"id"`
	Kind        Kind      `json:"kind"`
	WalletID    string    `json:"walletId"`
	WalletLabel string    `json:"walletLabel,omitempty"`
	Pool        string    `json:"pool"`
	Coin        string    `json:"coin"`
	Title       string    `json:"title"`
	Message     string    `json:"message"`
	Workers     []string  `json:"workers,omitempty"`
	DropPercent float64   `json:"dropPercent,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Input is one wallet's current observation.
type Input struct {
	WalletID       string
	Label          string
	Pool           string
	Coin           string
	Stats          pools.PoolStats
	Earnings24hUSD float64
}

// Result is the outcome of one evaluation. The caller persists State and
// Notified.
type Result struct {
	Events   []Event
	State    WalletState
	Notified NotifiedSet
}

// Evaluator compares consecutive snapshots of a wallet.
type Evaluator struct {
	settings Settings
	now      func() time.Time
}

// NewEvaluator creates an evaluator. A non-positive threshold falls back to
// the default.
func NewEvaluator(settings Settings) *Evaluator {
	if settings.ProfitDropThreshold <= 0 {
		settings.ProfitDropThreshold = DefaultProfitDropThreshold
	}
	return &Evaluator{settings: settings, now: time.Now}
}

// Settings returns the evaluator's settings.
func (e *Evaluator) Settings() Settings {
	return e.settings
}

// Evaluate derives the alerts for in against the wallet's previous state
// and the shared notified set. Neither prev nor notified is modified.
func (e *Evaluator) Evaluate(in Input, prev *WalletState, notified NotifiedSet) Result {
	now := e.now()
	next := notified.Clone()

	state := WalletState{
		OnlineWorkers:  []string{},
		OfflineWorkers: []string{},
		Earnings24hUSD: in.Earnings24hUSD,
		UpdatedAt:      now,
	}

	var newlyOffline []pools.WorkerStats
	for _, w := range in.Stats.Workers {
		key := NotifiedKey(in.WalletID, w.Name)
		if !w.Offline {
			state.OnlineWorkers = append(state.OnlineWorkers, w.Name)
			delete(next, key)
			continue
		}
		state.OfflineWorkers = append(state.OfflineWorkers, w.Name)
		if prev.IsOnline(w.Name) && !next.Has(key) {
			newlyOffline = append(newlyOffline, w)
			next[key] = struct{}{}
		}
	}
	sort.Strings(state.OnlineWorkers)
	sort.Strings(state.OfflineWorkers)

	// Forget keys for workers that vanished from the wallet.
	prefix := in.WalletID + ":"
	present := make(map[string]bool, len(in.Stats.Workers))
	for _, w := range in.Stats.Workers {
		present[w.Name] = true
	}
	for key := range next {
		if strings.HasPrefix(key, prefix) && !present[strings.TrimPrefix(key, prefix)] {
			delete(next, key)
		}
	}

	var events []Event
	if e.settings.WorkerOffline && len(newlyOffline) > 0 {
		events = append(events, e.offlineEvent(in, newlyOffline, now))
	}

	if e.settings.BackOnline && prev != nil && len(prev.OfflineWorkers) > 0 &&
		len(in.Stats.Workers) > 0 && len(state.OfflineWorkers) == 0 {
		events = append(events, e.backOnlineEvent(in, prev.OfflineWorkers, now))
	}

	if e.settings.ProfitDrop && prev != nil && prev.Earnings24hUSD > 0 && in.Earnings24hUSD > 0 {
		drop := (prev.Earnings24hUSD - in.Earnings24hUSD) * 100 / prev.Earnings24hUSD
		if drop >= e.settings.ProfitDropThreshold {
			events = append(events, e.profitDropEvent(in, prev.Earnings24hUSD, drop, now))
		}
	}

	return Result{Events: events, State: state, Notified: next}
}

func (e *Evaluator) offlineEvent(in Input, workers []pools.WorkerStats, now time.Time) Event {
	names := make([]string, 0, len(workers))
	for _, w := range workers {
		names = append(names, w.Name)
	}

	ev := e.newEvent(in, KindWorkerOffline, now)
	ev.Workers = names
	if len(workers) == 1 {
		w := workers[0]
		ev.Title = fmt.Sprintf("Worker %s offline", w.Name)
		ev.Message = fmt.Sprintf("%s on %s (%s) stopped submitting shares", w.Name, in.Pool, strings.ToUpper(in.Coin))
		if w.LastSeen > 0 {
			ago := now.Sub(time.UnixMilli(w.LastSeen))
			ev.Message += fmt.Sprintf(", last seen %s ago", durafmt.Parse(ago.Truncate(time.Second)).LimitFirstN(2).String())
		}
		return ev
	}

	ev.Title = fmt.Sprintf("%d workers offline", len(workers))
	ev.Message = fmt.Sprintf("%s on %s (%s) went offline; %d of %d workers online, %s",
		strings.Join(names, ", "), in.Pool, strings.ToUpper(in.Coin),
		in.Stats.WorkersOnline, in.Stats.WorkersTotal, util.FormatHashrate(in.Stats.Hashrate))
	return ev
}

func (e *Evaluator) backOnlineEvent(in Input, recovered []string, now time.Time) Event {
	ev := e.newEvent(in, KindBackOnline, now)
	ev.Workers = append([]string(nil), recovered...)
	ev.Title = "Workers back online"
	ev.Message = fmt.Sprintf("All %d workers on %s (%s) are online, %s",
		in.Stats.WorkersTotal, in.Pool, strings.ToUpper(in.Coin), util.FormatHashrate(in.Stats.Hashrate))
	return ev
}

func (e *Evaluator) profitDropEvent(in Input, prevUSD, drop float64, now time.Time) Event {
	ev := e.newEvent(in, KindProfitDrop, now)
	ev.DropPercent = drop
	ev.Title = fmt.Sprintf("Earnings down %.1f%%", drop)
	ev.Message = fmt.Sprintf("24h earnings on %s (%s) fell from $%.2f to $%.2f",
		in.Pool, strings.ToUpper(in.Coin), prevUSD, in.Earnings24hUSD)
	return ev
}

func (e *Evaluator) newEvent(in Input, kind Kind, now time.Time) Event {
	return Event{
		ID:          uuid.NewString(),
		Kind:        kind,
		WalletID:    in.WalletID,
		WalletLabel: in.Label,
		Pool:        in.Pool,
		Coin:        in.Coin,
		CreatedAt:   now,
	}
}
