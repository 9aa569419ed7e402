// Package alerts decides which wallet notifications to raise between two
// polling cycles.
package alerts

import (
	"sort"
	"time"
)

// WalletState is what the evaluator remembers about a wallet between
// cycles.
type WalletState struct {
	OnlineWorkers  []string  `json:"onlineWorkers"`
	OfflineWorkers []string  `json:"offlineWorkers"`
	Earnings24hUSD float64   `json:"earnings24hUsd"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// IsOnline reports whether name was online in this state.
func (s *WalletState) IsOnline(name string) bool {
	if s == nil {
		return false
	}
	for _, n := range s.OnlineWorkers {
		if n == name {
			return true
		}
	}
	return false
}

// NotifiedSet holds "walletID:worker" keys already alerted as offline.
type NotifiedSet map[string]struct{}

// NotifiedKey builds the de-duplication key for a worker.
func NotifiedKey(walletID, worker string) string {
	return walletID + ":" + worker
}

// NewNotifiedSet builds a set from keys.
func NewNotifiedSet(keys ...string) NotifiedSet {
	s := make(NotifiedSet, len(keys))
	for _, k := range keys {
		s[k] = struct{}{}
	}
	return s
}

func (s NotifiedSet) Has(key string) bool {
	_, ok := s[key]
	return ok
}

// Keys returns the keys in sorted order.
func (s NotifiedSet) Keys() []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Clone returns a copy; a nil set clones to an empty one.
func (s NotifiedSet) Clone() NotifiedSet {
	out := make(NotifiedSet, len(s))
	for k := range s {
		out[k] = struct{}{}
	}
	return out
}
