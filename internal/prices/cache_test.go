package prices

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestCache(t *testing.T, handler http.HandlerFunc) (*Cache, *fakeClock) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	clock := &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	cache := NewCache(Options{
		URL:           server.URL,
		TTL:           5 * time.Minute,
		IncludeChange: true,
		HTTPClient:    server.Client(),
		Now:           clock.Now,
	})
	return cache, clock
}

func TestGetPricesCachesWithinTTL(t *testing.T) {
	var requests int32
	var gotQuery string
	cache, clock := newTestCache(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		gotQuery = r.URL.RawQuery
		w.Write([]byte(`{"bitcoin": {"usd": 42000.5, "usd_24h_change": -1.25}}`))
	})
	ctx := context.Background()

	first := cache.GetPrices(ctx, []string{"btc"})
	clock.Advance(4 * time.Minute)
	second := cache.GetPrices(ctx, []string{"BTC"})

	if requests != 1 {
		t.Fatalf("requests = %d, want 1", requests)
	}
	if first["btc"].USD != 42000.5 || first["btc"].Change24h != -1.25 {
		t.Errorf("first = %+v", first["btc"])
	}
	if second["btc"].USD != 42000.5 {
		t.Errorf("second = %+v", second["btc"])
	}
	if gotQuery != "ids=bitcoin&include_24hr_change=true&vs_currencies=usd" {
		t.Errorf("query = %s", gotQuery)
	}

	clock.Advance(2 * time.Minute)
	cache.GetPrices(ctx, []string{"btc"})
	if requests != 2 {
		t.Errorf("requests after TTL = %d, want 2", requests)
	}
}

func TestGetPricesBatchesMissingIDs(t *testing.T) {
	var requests int32
	var gotIDs string
	cache, _ := newTestCache(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		gotIDs = r.URL.Query().Get("ids")
		w.Write([]byte(`{"bitcoin": {"usd": 42000}, "ethereum-classic": {"usd": 20.5}, "monero": {"usd": 160}}`))
	})

	got := cache.GetPrices(context.Background(), []string{"etc", "btc", "xmr", "btc"})
	if requests != 1 {
		t.Fatalf("requests = %d, want 1", requests)
	}
	if gotIDs != "bitcoin,ethereum-classic,monero" {
		t.Errorf("ids = %s", gotIDs)
	}
	if got["etc"].USD != 20.5 || got["xmr"].USD != 160 {
		t.Errorf("prices = %+v", got)
	}
}

func TestGetPricesFallsBackToStale(t *testing.T) {
	var fail atomic.Bool
	cache, clock := newTestCache(t, func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"bitcoin": {"usd": 42000}}`))
	})
	ctx := context.Background()

	cache.GetPrices(ctx, []string{"btc"})
	fail.Store(true)
	clock.Advance(time.Hour)

	got := cache.GetPrices(ctx, []string{"btc", "ltc"})
	if got["btc"].USD != 42000 {
		t.Errorf("btc = %+v, want stale 42000", got["btc"])
	}
	if got["ltc"].USD != 0 {
		t.Errorf("ltc = %+v, want zero", got["ltc"])
	}
}

func TestGetPricesUnknownSymbol(t *testing.T) {
	var requests int32
	cache, _ := newTestCache(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		w.Write([]byte(`{}`))
	})

	got := cache.GetPrices(context.Background(), []string{"nope"})
	if requests != 0 {
		t.Errorf("unknown symbol triggered %d requests", requests)
	}
	if p, ok := got["nope"]; !ok || p.USD != 0 {
		t.Errorf("nope = %+v, %v", p, ok)
	}
}

func TestGetPricesMalformedResponse(t *testing.T) {
	var observed error
	cache, _ := newTestCache(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json`))
	})
	cache.OnRequest = func(ids int, d time.Duration, err error) { observed = err }

	got := cache.GetPrices(context.Background(), []string{"btc"})
	if got["btc"].USD != 0 {
		t.Errorf("btc = %+v", got["btc"])
	}
	if observed == nil {
		t.Error("OnRequest should observe the decode error")
	}
}

func TestGetPricesConcurrentCallers(t *testing.T) {
	var requests int32
	cache, _ := newTestCache(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		time.Sleep(20 * time.Millisecond)
		w.Write([]byte(`{"bitcoin": {"usd": 1}}`))
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cache.GetPrices(context.Background(), []string{"btc"})
		}()
	}
	wg.Wait()

	if requests != 1 {
		t.Errorf("requests = %d, want 1", requests)
	}
	if len(cache.Cached()) != 1 {
		t.Errorf("Cached = %+v", cache.Cached())
	}
}
