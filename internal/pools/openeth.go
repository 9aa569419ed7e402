package pools

import (
	"fmt"
	"net/url"
	"sort"
)

// openEthAccount is the accounts payload served by open-ethereum-pool
// derivatives (2Miners, SoloPool). Amounts are in the coin's smallest unit.
type openEthAccount struct {
	CurrentHashrate number `json:"currentHashrate"`
	Hashrate        number `json:"hashrate"`
	Reward24h       number `json:"24hreward"`
	Stats           struct {
		Balance   number `json:"balance"`
		Immature  number `json:"immature"`
		Paid      number `json:"paid"`
		LastShare number `json:"lastShare"`
	} `json:"stats"`
	SumRewards []struct {
		Interval int    `json:"inverval"`
		Reward   number `json:"reward"`
	} `json:"sumrewards"`
	Workers map[string]struct {
		HR       number `json:"hr"`
		HR2      number `json:"hr2"`
		LastBeat number `json:"lastBeat"`
		Offline  bool   `json:"offline"`
	} `json:"workers"`
	WorkersOnline  int `json:"workersOnline"`
	WorkersOffline int `json:"workersOffline"`
}

func parseOpenEth(raw []byte, pc ParseContext) (PoolStats, error) {
	var acc openEthAccount
	if err := decode(raw, &acc); err != nil {
		return PoolStats{}, err
	}

	stats := PoolStats{
		Hashrate:    acc.CurrentHashrate.Float64(),
		Hashrate24h: acc.Hashrate.Float64(),
		Balance:     pc.Coin.ToCoinUnits(acc.Stats.Balance.Decimal()),
		Paid:        pc.Coin.ToCoinUnits(acc.Stats.Paid.Decimal()),
		LastShare:   unixMillis(acc.Stats.LastShare.Float64()),
	}

	reward := acc.Reward24h
	for _, r := range acc.SumRewards {
		if r.Interval == 86400 {
			reward = r.Reward
			break
		}
	}
	stats.Earnings24h = pc.Coin.ToCoinUnits(reward.Decimal())

	if len(acc.Workers) == 0 {
		stats.setWorkers(synthesizeWorkers(acc.WorkersOnline, acc.WorkersOffline, stats.Hashrate))
		return stats, nil
	}

	names := make([]string, 0, len(acc.Workers))
	for name := range acc.Workers {
		names = append(names, name)
	}
	sort.Strings(names)

	workers := make([]WorkerStats, 0, len(names))
	for _, name := range names {
		w := acc.Workers[name]
		workers = append(workers, newWorker(name, w.HR.Float64(), unixMillis(w.LastBeat.Float64()), w.Offline, pc))
	}
	stats.setWorkers(workers)
	if stats.LastShare == 0 {
		stats.LastShare = latestSeen(workers)
	}
	return stats, nil
}

func openEthPool(id, name, urlPattern string, coinList []string) *Pool {
	return &Pool{
		ID:    id,
		Name:  name,
		Coins: coinList,
		StatsURL: func(coin, address string) string {
			return fmt.Sprintf(urlPattern, coin, url.PathEscape(address))
		},
		Parse: parseOpenEth,
	}
}

// TwoMiners returns the 2Miners adapter.
func TwoMiners() *Pool {
	return openEthPool("2miners", "2Miners", "https://%s.2miners.com/api/accounts/%s",
		[]string{"etc", "rvn", "erg", "zec", "btg", "kas"})
}

// SoloPool returns the SoloPool.org adapter.
func SoloPool() *Pool {
	return openEthPool("solopool", "SoloPool", "https://%s.solopool.org/api/accounts/%s",
		[]string{"etc", "erg", "rvn", "kas"})
}
