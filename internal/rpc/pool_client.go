// Package rpc provides mining pool API communication.
package rpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tos-network/poolwatch/internal/pools"
	"github.com/tos-network/poolwatch/internal/util"
)

const (
	DefaultTimeout     = 15 * time.Second
	DefaultUserAgent   = "poolwatch/1.0"
	DefaultMaxAttempts = 3

	// Pool responses larger than this are rejected.
	maxBodySize = 4 << 20

	// Consecutive failures before a pool is marked unhealthy.
	unhealthyAfter = 3
)

// ErrEmptyAddress is returned when no wallet address is given.
var ErrEmptyAddress = errors.New("wallet address is required")

// ClientOptions configures a PoolClient. Zero values select defaults.
type ClientOptions struct {
	Timeout        time.Duration
	UserAgent      string
	MaxAttempts    int
	RetryBaseDelay time.Duration
	OfflineAfter   time.Duration
	HTTPClient     *http.Client
}

// PoolClient fetches and normalizes wallet stats from pool APIs.
type PoolClient struct {
	registry     *pools.Registry
	client       *http.Client
	userAgent    string
	maxAttempts  int
	baseDelay    time.Duration
	offlineAfter time.Duration

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	// Health tracking
	mu     sync.RWMutex
	health map[string]*poolHealth
}

type poolHealth struct {
	healthy      bool
	lastCheck    time.Time
	successCount int
	failCount    int
	lastError    string
}

// PoolHealth is a point-in-time view of one pool's health.
type PoolHealth struct {
	Pool         string    `json:"pool"`
	Healthy      bool      `json:"healthy"`
	LastCheck    time.Time `json:"lastCheck"`
	SuccessCount int       `json:"successCount"`
	FailCount    int       `json:"failCount"`
	LastError    string    `json:"lastError,omitempty"`
}

// NewPoolClient creates a new pool client
func NewPoolClient(registry *pools.Registry, opts ClientOptions) *PoolClient {
	if registry == nil {
		registry = pools.DefaultRegistry()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.RetryBaseDelay <= 0 {
		opts.RetryBaseDelay = baseDelay
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}

	return &PoolClient{
		registry:     registry,
		client:       client,
		userAgent:    opts.UserAgent,
		maxAttempts:  opts.MaxAttempts,
		baseDelay:    opts.RetryBaseDelay,
		offlineAfter: opts.OfflineAfter,
		now:          time.Now,
		sleep:        sleepContext,
		health:       make(map[string]*poolHealth),
	}
}

// Registry returns the adapter registry the client resolves against.
func (c *PoolClient) Registry() *pools.Registry {
	return c.registry
}

// FetchPoolData performs a single request for a wallet and returns the
// normalized snapshot. It does not retry.
func (c *PoolClient) FetchPoolData(ctx context.Context, poolID, coin, address string) (pools.PoolStats, error) {
	pool, cn, err := c.registry.Resolve(poolID, coin)
	if err != nil {
		return pools.PoolStats{}, err
	}
	address = strings.TrimSpace(address)
	if address == "" {
		return pools.PoolStats{}, ErrEmptyAddress
	}

	raw, err := c.get(ctx, pool, cn.Symbol, address)
	if err != nil {
		return pools.PoolStats{}, err
	}

	if err := pools.CheckEnvelope(pool.ID, raw); err != nil {
		var reported *pools.PoolReportedError
		if !errors.As(err, &reported) {
			c.recordFailure(pool.ID, err)
			return pools.PoolStats{}, fmt.Errorf("%s: %w", pool.ID, err)
		}
		return pools.PoolStats{}, err
	}

	stats, err := pool.Parse(raw, pools.ParseContext{
		Coin:         cn,
		Now:          c.now(),
		OfflineAfter: c.offlineAfter,
	})
	if err != nil {
		c.recordFailure(pool.ID, err)
		return pools.PoolStats{}, fmt.Errorf("%s: %w", pool.ID, err)
	}
	return stats, nil
}

// FetchWithRetry calls FetchPoolData, retrying transient failures with
// exponential backoff.
func (c *PoolClient) FetchWithRetry(ctx context.Context, poolID, coin, address string) (pools.PoolStats, error) {
	var lastErr error
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if attempt > 0 {
			delay := Backoff(attempt-1, c.baseDelay)
			util.Debugf("Retrying %s/%s in %v (attempt %d/%d): %v", poolID, coin, delay, attempt+1, c.maxAttempts, lastErr)
			if err := c.sleep(ctx, delay); err != nil {
				return pools.PoolStats{}, lastErr
			}
		}

		stats, err := c.FetchPoolData(ctx, poolID, coin, address)
		if err == nil {
			return stats, nil
		}
		lastErr = err
		if !pools.IsRetryable(err) || ctx.Err() != nil {
			break
		}
	}
	return pools.PoolStats{}, lastErr
}

// get issues the GET request and classifies the HTTP outcome.
func (c *PoolClient) get(ctx context.Context, pool *pools.Pool, coin, address string) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, pool.StatsURL(coin, address), nil)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", c.userAgent)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		c.recordFailure(pool.ID, err)
		return nil, fmt.Errorf("%s request: %w", pool.ID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		c.recordSuccess(pool.ID)
		return nil, &pools.WalletNotFoundError{Pool: pool.ID, Coin: coin, Address: address}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		uerr := &pools.PoolUnavailableError{Pool: pool.ID, StatusCode: resp.StatusCode}
		c.recordFailure(pool.ID, uerr)
		return nil, uerr
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		c.recordFailure(pool.ID, err)
		return nil, fmt.Errorf("%s read body: %w", pool.ID, err)
	}

	c.recordSuccess(pool.ID)
	return body, nil
}

// recordSuccess records a successful pool call
func (c *PoolClient) recordSuccess(poolID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h := c.entry(poolID)
	h.successCount++
	h.failCount = 0
	h.healthy = true
	h.lastError = ""
	h.lastCheck = c.now()
}

// recordFailure records a failed pool call
func (c *PoolClient) recordFailure(poolID string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h := c.entry(poolID)
	h.failCount++
	if h.failCount >= unhealthyAfter && h.healthy {
		h.healthy = false
		util.Warnf("Pool %s marked unhealthy after %d failures", poolID, h.failCount)
	}
	if err != nil {
		h.lastError = err.Error()
	}
	h.lastCheck = c.now()
}

// entry must be called with mu held.
func (c *PoolClient) entry(poolID string) *poolHealth {
	h, ok := c.health[poolID]
	if !ok {
		h = &poolHealth{healthy: true}
		c.health[poolID] = h
	}
	return h
}

// IsHealthy returns whether the pool is healthy. Pools never contacted are
// healthy.
func (c *PoolClient) IsHealthy(poolID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h, ok := c.health[poolID]
	return !ok || h.healthy
}

// Health returns the health of every pool contacted so far, ordered by id.
func (c *PoolClient) Health() []PoolHealth {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]PoolHealth, 0, len(c.health))
	for id, h := range c.health {
		out = append(out, PoolHealth{
			Pool:         id,
			Healthy:      h.healthy,
			LastCheck:    h.lastCheck,
			SuccessCount: h.successCount,
			FailCount:    h.failCount,
			LastError:    h.lastError,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Pool < out[j].Pool })
	return out
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
