// Package pools normalizes mining pool API responses into PoolStats.
package pools

import (
	"fmt"
	"time"
)

// WorkerOfflineAfter is how long a worker may go without a share before it
// is considered offline.
const WorkerOfflineAfter = 10 * time.Minute

// PoolStats is a normalized snapshot of one wallet on one pool.
// Hashrates are H/s, amounts are whole coin units, timestamps are epoch
// milliseconds with 0 meaning "not reported".
type PoolStats struct {
	Hashrate      float64       `json:"hashrate"`
	Hashrate24h   float64       `json:"hashrate24h"`
	Workers       []WorkerStats `json:"workers"`
	WorkersOnline int           `json:"workersOnline"`
	WorkersTotal  int           `json:"workersTotal"`
	Balance       float64       `json:"balance"`
	Paid          float64       `json:"paid"`
	Earnings24h   float64       `json:"earnings24h"`
	LastShare     int64         `json:"lastShareTimestamp,omitempty"`
}

// WorkerStats describes a single rig.
type WorkerStats struct {
	Name     string  `json:"name"`
	Hashrate float64 `json:"hashrate"`
	LastSeen int64   `json:"lastSeenTimestamp,omitempty"`
	Offline  bool    `json:"offline"`
}

// WorkersOffline returns the number of offline workers.
func (s PoolStats) WorkersOffline() int {
	return s.WorkersTotal - s.WorkersOnline
}

// Clone returns a deep copy so callers can derive a new snapshot.
func (s PoolStats) Clone() PoolStats {
	out := s
	if s.Workers != nil {
		out.Workers = make([]WorkerStats, len(s.Workers))
		copy(out.Workers, s.Workers)
	}
	return out
}

// LastShareTime returns the last share as a time, or the zero time.
func (s PoolStats) LastShareTime() time.Time {
	if s.LastShare <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(s.LastShare)
}

// setWorkers installs the worker list and derives the counters from it.
func (s *PoolStats) setWorkers(workers []WorkerStats) {
	if workers == nil {
		workers = []WorkerStats{}
	}
	s.Workers = workers
	s.WorkersTotal = len(workers)
	s.WorkersOnline = 0
	for _, w := range workers {
		if !w.Offline {
			s.WorkersOnline++
		}
	}
}

// newWorker builds a worker from detailed pool data.
// A worker is offline when the pool flags it, when its last share is older
// than offlineAfter, or when the pool gives no timestamp and no hashrate.
func newWorker(name string, hashrate float64, lastSeen int64, flagged bool, pc ParseContext) WorkerStats {
	offline := flagged
	if lastSeen > 0 {
		if pc.Now.Sub(time.UnixMilli(lastSeen)) > pc.offlineAfter() {
			offline = true
		}
	} else if hashrate <= 0 {
		offline = true
	}
	return WorkerStats{
		Name:     name,
		Hashrate: hashrate,
		LastSeen: lastSeen,
		Offline:  offline,
	}
}

// synthesizeWorkers creates placeholder workers for pools that only report
// counts. Online placeholders share the total hashrate evenly.
func synthesizeWorkers(online, offline int, hashrate float64) []WorkerStats {
	if online < 0 {
		online = 0
	}
	if offline < 0 {
		offline = 0
	}

	workers := make([]WorkerStats, 0, online+offline)
	share := 0.0
	if online > 0 {
		share = hashrate / float64(online)
	}
	for i := 0; i < online+offline; i++ {
		w := WorkerStats{Name: fmt.Sprintf("Worker %d", i+1)}
		if i < online {
			w.Hashrate = share
		} else {
			w.Offline = true
		}
		workers = append(workers, w)
	}
	return workers
}

// latestSeen returns the most recent LastSeen across workers.
func latestSeen(workers []WorkerStats) int64 {
	var latest int64
	for _, w := range workers {
		if w.LastSeen > latest {
			latest = w.LastSeen
		}
	}
	return latest
}
