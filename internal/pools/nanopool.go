package pools

import (
	"fmt"
	"net/url"
)

// nanopoolHashrateUnit is the multiplier nanopool applies per coin; most
// coins are reported in MH/s.
var nanopoolHashrateUnit = map[string]float64{
	"xmr": 1,
	"zec": 1,
}

type nanopoolUser struct {
	Data struct {
		Balance            number `json:"balance"`
		UnconfirmedBalance number `json:"unconfirmed_balance"`
		Hashrate           number `json:"hashrate"`
		AvgHashrate        struct {
			H24 number `json:"h24"`
		} `json:"avgHashrate"`
		Workers []struct {
			ID        string `json:"id"`
			Hashrate  number `json:"hashrate"`
			LastShare number `json:"lastshare"`
		} `json:"workers"`
	} `json:"data"`
}

func parseNanopool(raw []byte, pc ParseContext) (PoolStats, error) {
	var user nanopoolUser
	if err := decode(raw, &user); err != nil {
		return PoolStats{}, err
	}

	unit, ok := nanopoolHashrateUnit[pc.Coin.Symbol]
	if !ok {
		unit = 1e6
	}

	// Balances are already in coin units.
	stats := PoolStats{
		Hashrate:    user.Data.Hashrate.Float64() * unit,
		Hashrate24h: user.Data.AvgHashrate.H24.Float64() * unit,
		Balance:     user.Data.Balance.Float64(),
	}

	workers := make([]WorkerStats, 0, len(user.Data.Workers))
	for _, w := range user.Data.Workers {
		workers = append(workers, newWorker(w.ID, w.Hashrate.Float64()*unit, unixMillis(w.LastShare.Float64()), false, pc))
	}
	stats.setWorkers(workers)
	stats.LastShare = latestSeen(workers)
	return stats, nil
}

// Nanopool returns the nanopool.org adapter.
func Nanopool() *Pool {
	return &Pool{
		ID:    "nanopool",
		Name:  "Nanopool",
		Coins: []string{"etc", "xmr", "zec", "rvn", "erg", "cfx"},
		StatsURL: func(coin, address string) string {
			return fmt.Sprintf("https://api.nanopool.org/v1/%s/user/%s", coin, url.PathEscape(address))
		},
		Parse: parseNanopool,
	}
}
