package pools

import (
	"fmt"
	"net/url"
	"strings"
)

// hiveonMiner reports stringified numbers and worker counts only.
type hiveonMiner struct {
	Hashrate          number `json:"hashrate"`
	Hashrate24h       number `json:"hashrate24h"`
	OnlineWorkers     number `json:"onlineWorkerCount"`
	OfflineWorkers    number `json:"offlineWorkerCount"`
	ExpectedReward24h number `json:"expectedReward24H"`
	SharesStatusStats struct {
		LastShareDt string `json:"lastShareDt"`
	} `json:"sharesStatusStats"`
}

func parseHiveon(raw []byte, pc ParseContext) (PoolStats, error) {
	var m hiveonMiner
	if err := decode(raw, &m); err != nil {
		return PoolStats{}, err
	}

	stats := PoolStats{
		Hashrate:    m.Hashrate.Float64(),
		Hashrate24h: m.Hashrate24h.Float64(),
		Earnings24h: m.ExpectedReward24h.Float64(),
		LastShare:   isoMillis(m.SharesStatusStats.LastShareDt),
	}
	stats.setWorkers(synthesizeWorkers(m.OnlineWorkers.Int(), m.OfflineWorkers.Int(), stats.Hashrate))
	return stats, nil
}

// Hiveon returns the Hiveon Pool adapter. Hiveon wants the address without
// its 0x prefix and the coin ticker upper-cased.
func Hiveon() *Pool {
	return &Pool{
		ID:    "hiveon",
		Name:  "Hiveon Pool",
		Coins: []string{"etc", "rvn"},
		StatsURL: func(coin, address string) string {
			addr := strings.ToLower(strings.TrimPrefix(strings.TrimPrefix(address, "0x"), "0X"))
			return fmt.Sprintf("https://hiveon.net/api/v1/stats/miner/%s/%s", url.PathEscape(addr), strings.ToUpper(coin))
		},
		Parse: parseHiveon,
	}
}
