package pools

import (
	"sort"
	"strings"
	"time"

	"github.com/tos-network/poolwatch/internal/coins"
)

// ParseContext is handed to every parser.
type ParseContext struct {
	Coin         coins.Coin
	Now          time.Time
	OfflineAfter time.Duration
}

func (pc ParseContext) offlineAfter() time.Duration {
	if pc.OfflineAfter > 0 {
		return pc.OfflineAfter
	}
	return WorkerOfflineAfter
}

// ParseFunc turns a raw pool payload into a normalized snapshot.
type ParseFunc func(raw []byte, pc ParseContext) (PoolStats, error)

// Pool describes one pool adapter.
type Pool struct {
	ID       string
	Name     string
	Coins    []string
	StatsURL func(coin, address string) string
	Parse    ParseFunc
}

// Supports reports whether the pool mines coin.
func (p *Pool) Supports(coin string) bool {
	coin = strings.ToLower(coin)
	for _, c := range p.Coins {
		if c == coin {
			return true
		}
	}
	return false
}

// Registry is an immutable lookup table of pool adapters.
type Registry struct {
	pools map[string]*Pool
}

// NewRegistry builds a registry from the given adapters.
func NewRegistry(pools ...*Pool) *Registry {
	r := &Registry{pools: make(map[string]*Pool, len(pools))}
	for _, p := range pools {
		r.pools[p.ID] = p
	}
	return r
}

// DefaultRegistry returns every built-in pool adapter.
func DefaultRegistry() *Registry {
	return NewRegistry(
		TwoMiners(),
		SoloPool(),
		Nanopool(),
		F2Pool(),
		HeroMiners(),
		WoolyPooly(),
		Hiveon(),
		CKPool(),
		PublicPool(),
		ZergPool(),
	)
}

// Get returns the adapter for id.
func (r *Registry) Get(id string) (*Pool, bool) {
	p, ok := r.pools[strings.ToLower(id)]
	return p, ok
}

// Pools returns all adapters ordered by id.
func (r *Registry) Pools() []*Pool {
	out := make([]*Pool, 0, len(r.pools))
	for _, p := range r.pools {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Resolve validates a pool/coin pair and returns the adapter and coin.
func (r *Registry) Resolve(poolID, coin string) (*Pool, coins.Coin, error) {
	p, ok := r.Get(poolID)
	if !ok {
		return nil, coins.Coin{}, &UnsupportedPoolError{Pool: poolID}
	}
	c, known := coins.Lookup(coin)
	if !known || !p.Supports(coin) {
		return nil, coins.Coin{}, &UnsupportedCoinError{Pool: p.ID, Coin: coin, Supported: p.Coins}
	}
	return p, c, nil
}
