package pools

import (
	"fmt"
	"net/url"
)

// f2poolAccount is the legacy F2Pool account payload. Workers are encoded
// as positional arrays: [name, hashrate, ..., lastShareISO].
type f2poolAccount struct {
	Hashrate      number          `json:"hashrate"`
	HashesLastDay number          `json:"hashes_last_day"`
	Balance       number          `json:"balance"`
	Paid          number          `json:"paid"`
	ValueLastDay  number          `json:"value_last_day"`
	WorkerLength  int             `json:"worker_length"`
	WorkersOnline int             `json:"worker_length_online"`
	Workers       [][]interface{} `json:"workers"`
}

func parseF2Pool(raw []byte, pc ParseContext) (PoolStats, error) {
	var acc f2poolAccount
	if err := decode(raw, &acc); err != nil {
		return PoolStats{}, err
	}

	// Amounts are coin units.
	stats := PoolStats{
		Hashrate:    acc.Hashrate.Float64(),
		Hashrate24h: acc.HashesLastDay.Float64() / 86400,
		Balance:     acc.Balance.Float64(),
		Paid:        acc.Paid.Float64(),
		Earnings24h: acc.ValueLastDay.Float64(),
	}

	if len(acc.Workers) == 0 {
		stats.setWorkers(synthesizeWorkers(acc.WorkersOnline, acc.WorkerLength-acc.WorkersOnline, stats.Hashrate))
		return stats, nil
	}

	workers := make([]WorkerStats, 0, len(acc.Workers))
	for i, row := range acc.Workers {
		if len(row) == 0 {
			continue
		}
		name, _ := row[0].(string)
		if name == "" {
			name = fmt.Sprintf("Worker %d", i+1)
		}
		var hashrate float64
		if len(row) > 1 {
			hashrate = anyFloat(row[1])
		}
		var lastSeen int64
		if ts, ok := row[len(row)-1].(string); ok && len(row) > 2 {
			lastSeen = isoMillis(ts)
		}
		workers = append(workers, newWorker(name, hashrate, lastSeen, false, pc))
	}
	stats.setWorkers(workers)
	stats.LastShare = latestSeen(workers)
	return stats, nil
}

// F2Pool returns the F2Pool adapter.
func F2Pool() *Pool {
	return &Pool{
		ID:    "f2pool",
		Name:  "F2Pool",
		Coins: []string{"btc", "ltc", "etc", "zec", "kas"},
		StatsURL: func(coin, address string) string {
			return fmt.Sprintf("https://api.f2pool.com/%s/%s", coin, url.PathEscape(address))
		},
		Parse: parseF2Pool,
	}
}
