package pools

import (
	"fmt"
	"net/url"
)

// heroMinersHosts maps coin symbols to HeroMiners subdomains.
var heroMinersHosts = map[string]string{
	"xmr": "monero",
	"rvn": "ravencoin",
	"erg": "ergo",
	"kas": "kaspa",
	"cfx": "conflux",
}

// heroMinersStats is the cryptonote-pool stats_address payload. Amounts are
// atomic units and most numbers arrive as strings.
type heroMinersStats struct {
	Stats struct {
		Hashrate    number `json:"hashrate"`
		Hashrate24h number `json:"hashrate_24h"`
		Balance     number `json:"balance"`
		Paid        number `json:"paid"`
		LastShare   number `json:"lastShare"`
		Rewards24h  number `json:"rewards_24h"`
	} `json:"stats"`
	Workers []struct {
		Name      string `json:"name"`
		Hashrate  number `json:"hashrate"`
		LastShare number `json:"lastShare"`
	} `json:"workers"`
}

func parseHeroMiners(raw []byte, pc ParseContext) (PoolStats, error) {
	var hs heroMinersStats
	if err := decode(raw, &hs); err != nil {
		return PoolStats{}, err
	}

	stats := PoolStats{
		Hashrate:    hs.Stats.Hashrate.Float64(),
		Hashrate24h: hs.Stats.Hashrate24h.Float64(),
		Balance:     pc.Coin.ToCoinUnits(hs.Stats.Balance.Decimal()),
		Paid:        pc.Coin.ToCoinUnits(hs.Stats.Paid.Decimal()),
		Earnings24h: pc.Coin.ToCoinUnits(hs.Stats.Rewards24h.Decimal()),
		LastShare:   unixMillis(hs.Stats.LastShare.Float64()),
	}

	workers := make([]WorkerStats, 0, len(hs.Workers))
	for _, w := range hs.Workers {
		workers = append(workers, newWorker(w.Name, w.Hashrate.Float64(), unixMillis(w.LastShare.Float64()), false, pc))
	}
	stats.setWorkers(workers)
	return stats, nil
}

// HeroMiners returns the HeroMiners adapter.
func HeroMiners() *Pool {
	return &Pool{
		ID:    "herominers",
		Name:  "HeroMiners",
		Coins: []string{"xmr", "rvn", "erg", "kas", "cfx"},
		StatsURL: func(coin, address string) string {
			return fmt.Sprintf("https://%s.herominers.com/api/stats_address?address=%s&longpoll=false",
				heroMinersHosts[coin], url.QueryEscape(address))
		},
		Parse: parseHeroMiners,
	}
}
