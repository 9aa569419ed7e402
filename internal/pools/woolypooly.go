package pools

import (
	"fmt"
	"net/url"
)

type woolyModeStats struct {
	CurrentHashrate number `json:"currentHashrate"`
	Hashrate        number `json:"hashrate"`
	WorkersOnline   int    `json:"workersOnline"`
	WorkersOffline  int    `json:"workersOffline"`
	LastShare       string `json:"lastShare"`
}

// woolyAccount only reports worker counts, so workers are synthesized.
// Amounts are coin units.
type woolyAccount struct {
	Stats struct {
		Balance         number `json:"balance"`
		ImmatureBalance number `json:"immature_balance"`
		Paid            number `json:"paid"`
		Reward24h       number `json:"reward_24h"`
	} `json:"stats"`
	ModeStats map[string]map[string]woolyModeStats `json:"mode_stats"`
}

func parseWoolyPooly(raw []byte, pc ParseContext) (PoolStats, error) {
	var acc woolyAccount
	if err := decode(raw, &acc); err != nil {
		return PoolStats{}, err
	}

	stats := PoolStats{
		Balance:     acc.Stats.Balance.Float64() + acc.Stats.ImmatureBalance.Float64(),
		Paid:        acc.Stats.Paid.Float64(),
		Earnings24h: acc.Stats.Reward24h.Float64(),
	}

	// Sum every payout mode (pplns, solo) and every region.
	var online, offline int
	for _, regions := range acc.ModeStats {
		for _, ms := range regions {
			stats.Hashrate += ms.CurrentHashrate.Float64()
			stats.Hashrate24h += ms.Hashrate.Float64()
			online += ms.WorkersOnline
			offline += ms.WorkersOffline
			if ts := isoMillis(ms.LastShare); ts > stats.LastShare {
				stats.LastShare = ts
			}
		}
	}

	stats.setWorkers(synthesizeWorkers(online, offline, stats.Hashrate))
	return stats, nil
}

// WoolyPooly returns the WoolyPooly adapter.
func WoolyPooly() *Pool {
	return &Pool{
		ID:    "woolypooly",
		Name:  "WoolyPooly",
		Coins: []string{"etc", "rvn", "erg", "kas", "cfx"},
		StatsURL: func(coin, address string) string {
			return fmt.Sprintf("https://api.woolypooly.com/api/%s-1/accounts/%s", coin, url.PathEscape(address))
		},
		Parse: parseWoolyPooly,
	}
}
