package pools

import (
	"fmt"
	"net/url"
)

// zergWallet is the walletEx payload. Only connected miners are listed and
// there is no per-miner timestamp. Amounts are coin units.
type zergWallet struct {
	Currency string `json:"currency"`
	Balance  number `json:"balance"`
	Unpaid   number `json:"unpaid"`
	Paid24h  number `json:"paid24h"`
	Total    number `json:"total"`
	Miners   []struct {
		ID       string `json:"ID"`
		Algo     string `json:"algo"`
		Accepted number `json:"accepted"`
		Rejected number `json:"rejected"`
	} `json:"miners"`
}

func parseZergPool(raw []byte, pc ParseContext) (PoolStats, error) {
	var w zergWallet
	if err := decode(raw, &w); err != nil {
		return PoolStats{}, err
	}

	stats := PoolStats{
		Balance:     w.Unpaid.Float64(),
		Paid:        w.Total.Float64() - w.Unpaid.Float64(),
		Earnings24h: w.Paid24h.Float64(),
	}
	if stats.Paid < 0 {
		stats.Paid = 0
	}

	workers := make([]WorkerStats, 0, len(w.Miners))
	for i, m := range w.Miners {
		name := m.ID
		if name == "" {
			name = fmt.Sprintf("Worker %d", i+1)
		}
		hr := m.Accepted.Float64()
		stats.Hashrate += hr
		workers = append(workers, WorkerStats{Name: name, Hashrate: hr, Offline: hr <= 0})
	}
	stats.Hashrate24h = stats.Hashrate
	stats.setWorkers(workers)
	return stats, nil
}

// ZergPool returns the zergpool.com adapter.
func ZergPool() *Pool {
	return &Pool{
		ID:    "zergpool",
		Name:  "Zergpool",
		Coins: []string{"btc", "ltc", "doge", "rvn", "etc"},
		StatsURL: func(coin, address string) string {
			return fmt.Sprintf("https://zergpool.com/api/walletEx?address=%s", url.QueryEscape(address))
		},
		Parse: parseZergPool,
	}
}
