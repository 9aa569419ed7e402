// Package prices caches USD coin prices from a CoinGecko-compatible API.
package prices

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"

	"github.com/tos-network/poolwatch/internal/coins"
	"github.com/tos-network/poolwatch/internal/util"
)

const (
	DefaultURL = "https://api.coingecko.com/api/v3/simple/price"
	DefaultTTL = 5 * time.Minute
)

// Price is the USD quote for one coin.
type Price struct {
	USD       float64   `json:"usd"`
	Change24h float64   `json:"change24h"`
	FetchedAt time.Time `json:"fetchedAt,omitempty"`
}

// Options configures a Cache. Zero values select defaults.
type Options struct {
	URL           string
	APIKey        string
	TTL           time.Duration
	IncludeChange bool
	HTTPClient    *http.Client
	Now           func() time.Time
}

// Cache maps price ids to their latest quote. Lookups are serialized so that
// concurrent callers share one outbound request.
type Cache struct {
	url           string
	apiKey        string
	ttl           time.Duration
	includeChange bool
	client        *http.Client
	now           func() time.Time

	mu      sync.Mutex
	entries map[string]Price

	// OnRequest, when set, observes every outbound request.
	OnRequest func(ids int, d time.Duration, err error)
}

// NewCache creates a new price cache
func NewCache(opts Options) *Cache {
	if opts.URL == "" {
		opts.URL = DefaultURL
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Cache{
		url:           opts.URL,
		apiKey:        opts.APIKey,
		ttl:           opts.TTL,
		includeChange: opts.IncludeChange,
		client:        opts.HTTPClient,
		now:           opts.Now,
		entries:       make(map[string]Price),
	}
}

// GetPrices returns a quote for every requested symbol. Fresh entries are
// served from memory and everything else is fetched in one request. When
// the request fails the last known quote is returned, however old.
// Unknown symbols and coins never priced resolve to a zero Price.
func (c *Cache) GetPrices(ctx context.Context, symbols []string) map[string]Price {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	idBySymbol := make(map[string]string, len(symbols))
	need := make(map[string]struct{})
	for _, s := range symbols {
		sym := strings.ToLower(strings.TrimSpace(s))
		coin, ok := coins.Lookup(sym)
		if !ok {
			continue
		}
		idBySymbol[sym] = coin.PriceID
		if p, ok := c.entries[coin.PriceID]; !ok || now.Sub(p.FetchedAt) >= c.ttl {
			need[coin.PriceID] = struct{}{}
		}
	}

	if len(need) > 0 {
		ids := make([]string, 0, len(need))
		for id := range need {
			ids = append(ids, id)
		}
		sort.Strings(ids)

		start := time.Now()
		fetched, err := c.fetch(ctx, ids)
		if c.OnRequest != nil {
			c.OnRequest(len(ids), time.Since(start), err)
		}
		if err != nil {
			util.Warnf("Price fetch for %s failed, serving cached values: %v", strings.Join(ids, ","), err)
		}
		for id, p := range fetched {
			p.FetchedAt = now
			c.entries[id] = p
		}
	} else {
		util.Debugf("Price cache hit for %d symbols", len(idBySymbol))
	}

	out := make(map[string]Price, len(symbols))
	for _, s := range symbols {
		sym := strings.ToLower(strings.TrimSpace(s))
		out[sym] = c.entries[idBySymbol[sym]]
	}
	return out
}

// Cached returns the current entries keyed by price id without fetching.
func (c *Cache) Cached() map[string]Price {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]Price, len(c.entries))
	for id, p := range c.entries {
		out[id] = p
	}
	return out
}

type quote struct {
	USD       *float64 `json:"usd"`
	USDChange *float64 `json:"usd_24h_change"`
}

func (c *Cache) fetch(ctx context.Context, ids []string) (map[string]Price, error) {
	q := url.Values{}
	q.Set("ids", strings.Join(ids, ","))
	q.Set("vs_currencies", "usd")
	if c.includeChange {
		q.Set("include_24hr_change", "true")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-cg-demo-api-key", c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("price API returned HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}

	var quotes map[string]quote
	if err := sonic.ConfigStd.Unmarshal(body, &quotes); err != nil {
		return nil, fmt.Errorf("decode prices: %w", err)
	}

	out := make(map[string]Price, len(quotes))
	for id, qt := range quotes {
		if qt.USD == nil {
			continue
		}
		p := Price{USD: *qt.USD}
		if qt.USDChange != nil {
			p.Change24h = *qt.USDChange
		}
		out[id] = p
	}
	return out, nil
}
