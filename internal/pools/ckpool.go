package pools

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/tos-network/poolwatch/internal/util"
)

// ckpoolUser is the solo.ckpool.org user payload. Hashrates are strings
// such as "1.23T".
type ckpoolUser struct {
	Hashrate5m string `json:"hashrate5m"`
	Hashrate1d string `json:"hashrate1d"`
	LastShare  number `json:"lastshare"`
	Worker     []struct {
		WorkerName string `json:"workername"`
		Hashrate5m string `json:"hashrate5m"`
		LastShare  number `json:"lastshare"`
	} `json:"worker"`
}

func parseCKPool(raw []byte, pc ParseContext) (PoolStats, error) {
	var u ckpoolUser
	if err := decode(raw, &u); err != nil {
		return PoolStats{}, err
	}

	stats := PoolStats{
		Hashrate:    util.ParseHashrate(u.Hashrate5m),
		Hashrate24h: util.ParseHashrate(u.Hashrate1d),
		LastShare:   unixMillis(u.LastShare.Float64()),
	}

	workers := make([]WorkerStats, 0, len(u.Worker))
	for _, w := range u.Worker {
		// Worker names are "<address>.<rig>".
		name := w.WorkerName
		if i := strings.LastIndex(name, "."); i >= 0 && i < len(name)-1 {
			name = name[i+1:]
		}
		workers = append(workers, newWorker(name, util.ParseHashrate(w.Hashrate5m), unixMillis(w.LastShare.Float64()), false, pc))
	}
	stats.setWorkers(workers)
	return stats, nil
}

// CKPool returns the solo.ckpool.org adapter.
func CKPool() *Pool {
	return &Pool{
		ID:    "ckpool",
		Name:  "CKPool Solo",
		Coins: []string{"btc"},
		StatsURL: func(coin, address string) string {
			return fmt.Sprintf("https://solo.ckpool.org/users/%s", url.PathEscape(address))
		},
		Parse: parseCKPool,
	}
}
