// Package storage persists wallet alert state, snapshots and events.
package storage

import (
	"fmt"
	"time"

	"github.com/tos-network/poolwatch/internal/alerts"
	"github.com/tos-network/poolwatch/internal/pools"
)

// MaxEvents is how many recent alert events are retained.
const MaxEvents = 500

// WalletSnapshot is the latest polling result for one configured wallet.
type WalletSnapshot struct {
	WalletID       string          `json:"walletId"`
	Label          string          `json:"label,omitempty"`
	Pool           string          `json:"pool"`
	Coin           string          `json:"coin"`
	Address        string          `json:"address"`
	Stats          pools.PoolStats `json:"stats"`
	Stale          bool            `json:"stale"`
	PriceUSD       float64         `json:"priceUsd"`
	Change24h      float64         `json:"change24h"`
	BalanceUSD     float64         `json:"balanceUsd"`
	Earnings24hUSD float64         `json:"earnings24hUsd"`
	FetchedAt      time.Time       `json:"fetchedAt"`
	Error          string          `json:"error,omitempty"`
}

// Store is the persistence backend used by the poller and the API.
// A missing wallet state or snapshot is returned as nil with no error.
type Store interface {
	GetWalletState(walletID string) (*alerts.WalletState, error)
	SaveWalletState(walletID string, state alerts.WalletState) error

	GetNotified() (alerts.NotifiedSet, error)
	SaveNotified(set alerts.NotifiedSet) error

	SaveSnapshot(snap *WalletSnapshot) error
	GetSnapshot(walletID string) (*WalletSnapshot, error)
	GetSnapshots() ([]*WalletSnapshot, error)

	AddEvents(events []alerts.Event) error
	GetRecentEvents(limit int64) ([]alerts.Event, error)

	Ping() error
	Close() error
}

// Open returns the store selected by driver: "redis" (the default),
// "sqlite" or "postgres".
func Open(driver, dsn, redisURL, redisPassword string, redisDB int) (Store, error) {
	switch driver {
	case "", "redis":
		return NewRedisClient(redisURL, redisPassword, redisDB)
	case "sqlite", "postgres":
		return NewSQLStore(driver, dsn)
	}
	return nil, fmt.Errorf("unknown storage driver %q", driver)
}

var (
	_ Store = (*RedisClient)(nil)
	_ Store = (*SQLStore)(nil)
)
