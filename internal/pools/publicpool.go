package pools

import (
	"fmt"
	"net/url"
)

type publicPoolClient struct {
	WorkersCount int `json:"workersCount"`
	Workers      []struct {
		SessionID string `json:"sessionId"`
		Name      string `json:"name"`
		HashRate  number `json:"hashRate"`
		LastSeen  string `json:"lastSeen"`
	} `json:"workers"`
}

func parsePublicPool(raw []byte, pc ParseContext) (PoolStats, error) {
	var c publicPoolClient
	if err := decode(raw, &c); err != nil {
		return PoolStats{}, err
	}

	// One rig can hold several stratum sessions; fold them by name.
	type agg struct {
		hashrate float64
		lastSeen int64
	}
	byName := make(map[string]*agg)
	var order []string
	for i, w := range c.Workers {
		name := w.Name
		if name == "" {
			name = fmt.Sprintf("Worker %d", i+1)
		}
		a, ok := byName[name]
		if !ok {
			a = &agg{}
			byName[name] = a
			order = append(order, name)
		}
		a.hashrate += w.HashRate.Float64()
		if ts := isoMillis(w.LastSeen); ts > a.lastSeen {
			a.lastSeen = ts
		}
	}

	var stats PoolStats
	workers := make([]WorkerStats, 0, len(order))
	for _, name := range order {
		a := byName[name]
		w := newWorker(name, a.hashrate, a.lastSeen, false, pc)
		if !w.Offline {
			stats.Hashrate += w.Hashrate
		}
		workers = append(workers, w)
	}
	stats.Hashrate24h = stats.Hashrate
	stats.setWorkers(workers)
	stats.LastShare = latestSeen(workers)
	return stats, nil
}

// PublicPool returns the public-pool.io solo adapter.
func PublicPool() *Pool {
	return &Pool{
		ID:    "publicpool",
		Name:  "Public Pool",
		Coins: []string{"btc"},
		StatsURL: func(coin, address string) string {
			return fmt.Sprintf("https://public-pool.io:40557/api/client/%s", url.PathEscape(address))
		},
		Parse: parsePublicPool,
	}
}
