package pools

import (
	"testing"
	"time"
)

func sampleStats(lastShare time.Time) PoolStats {
	s := PoolStats{
		Hashrate:    1000,
		Hashrate24h: 900,
		Balance:     1.5,
		LastShare:   lastShare.UnixMilli(),
	}
	s.setWorkers([]WorkerStats{
		{Name: "a", Hashrate: 600},
		{Name: "b", Hashrate: 400},
	})
	return s
}

func TestStaleFilterZeroesOldSnapshot(t *testing.T) {
	f := NewStaleFilter(2 * time.Hour)
	f.Now = func() time.Time { return testNow }

	in := sampleStats(testNow.Add(-3 * time.Hour))
	out := f.Apply(in)

	if out.Hashrate != 0 || out.Hashrate24h != 0 {
		t.Errorf("hashrate = %v/%v, want 0/0", out.Hashrate, out.Hashrate24h)
	}
	if out.WorkersOnline != 0 || out.WorkersTotal != 2 {
		t.Errorf("online/total = %d/%d, want 0/2", out.WorkersOnline, out.WorkersTotal)
	}
	for _, w := range out.Workers {
		if !w.Offline || w.Hashrate != 0 {
			t.Errorf("worker %s not zeroed: %+v", w.Name, w)
		}
	}
	if out.Balance != 1.5 || out.LastShare != in.LastShare {
		t.Error("non-hashrate fields must be preserved")
	}

	// Input is untouched.
	if in.Workers[0].Offline || in.Hashrate != 1000 {
		t.Error("Apply mutated its input")
	}
}

func TestStaleFilterKeepsFreshSnapshot(t *testing.T) {
	f := NewStaleFilter(0)
	f.Now = func() time.Time { return testNow }

	in := sampleStats(testNow.Add(-30 * time.Minute))
	out := f.Apply(in)
	if out.Hashrate != 1000 || out.WorkersOnline != 2 {
		t.Errorf("fresh snapshot changed: %+v", out)
	}
}

func TestStaleFilterWithoutLastShare(t *testing.T) {
	f := NewStaleFilter(time.Hour)
	f.Now = func() time.Time { return testNow }

	in := sampleStats(testNow)
	in.LastShare = 0
	if f.IsStale(in) {
		t.Error("snapshot without last share must not be stale")
	}
}
