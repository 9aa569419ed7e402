package pools

import (
	"errors"
	"net/url"
	"strings"
	"testing"

	"github.com/tos-network/poolwatch/internal/coins"
)

func TestDefaultRegistry(t *testing.T) {
	r := DefaultRegistry()
	pools := r.Pools()
	if len(pools) != 10 {
		t.Fatalf("len(Pools) = %d, want 10", len(pools))
	}
	for i := 1; i < len(pools); i++ {
		if pools[i-1].ID >= pools[i].ID {
			t.Errorf("pools not sorted: %s before %s", pools[i-1].ID, pools[i].ID)
		}
	}

	for _, p := range pools {
		if p.Name == "" || p.StatsURL == nil || p.Parse == nil {
			t.Errorf("%s: incomplete adapter", p.ID)
		}
		for _, c := range p.Coins {
			if _, ok := coins.Lookup(c); !ok {
				t.Errorf("%s lists coin %s missing from the coin table", p.ID, c)
			}
			u, err := url.Parse(p.StatsURL(c, "addr123"))
			if err != nil || u.Scheme != "https" || u.Host == "" {
				t.Errorf("%s/%s: bad stats URL %v", p.ID, c, err)
			}
		}
	}
}

func TestRegistryResolve(t *testing.T) {
	r := DefaultRegistry()

	p, c, err := r.Resolve("2Miners", "ETC")
	if err != nil {
		t.Fatalf("Resolve error = %v", err)
	}
	if p.ID != "2miners" || c.Symbol != "etc" {
		t.Errorf("Resolve = %s/%s", p.ID, c.Symbol)
	}

	_, _, err = r.Resolve("nosuchpool", "etc")
	var pe *UnsupportedPoolError
	if !errors.As(err, &pe) {
		t.Fatalf("expected UnsupportedPoolError, got %v", err)
	}
	if !IsConfigError(err) {
		t.Error("unsupported pool should be a config error")
	}

	_, _, err = r.Resolve("ckpool", "etc")
	var ce *UnsupportedCoinError
	if !errors.As(err, &ce) {
		t.Fatalf("expected UnsupportedCoinError, got %v", err)
	}
	if !strings.Contains(err.Error(), "BTC") {
		t.Errorf("error should list supported coins: %v", err)
	}
}

func TestStatsURLs(t *testing.T) {
	r := DefaultRegistry()
	tests := []struct {
		pool, coin, address, want string
	}{
		{"2miners", "etc", "0xAbC", "https://etc.2miners.com/api/accounts/0xAbC"},
		{"nanopool", "xmr", "4abc", "https://api.nanopool.org/v1/xmr/user/4abc"},
		{"herominers", "xmr", "4abc", "https://monero.herominers.com/api/stats_address?address=4abc&longpoll=false"},
		{"hiveon", "etc", "0xAbC", "https://hiveon.net/api/v1/stats/miner/abc/ETC"},
		{"zergpool", "ltc", "Lxyz", "https://zergpool.com/api/walletEx?address=Lxyz"},
	}

	for _, tt := range tests {
		t.Run(tt.pool, func(t *testing.T) {
			p, ok := r.Get(tt.pool)
			if !ok {
				t.Fatalf("pool %s missing", tt.pool)
			}
			if got := p.StatsURL(tt.coin, tt.address); got != tt.want {
				t.Errorf("StatsURL = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{&PoolUnavailableError{Pool: "x", StatusCode: 502}, true},
		{&PoolUnavailableError{Pool: "x", StatusCode: 429}, true},
		{&PoolUnavailableError{Pool: "x", StatusCode: 403}, false},
		{&WalletNotFoundError{Pool: "x"}, false},
		{&PoolReportedError{Pool: "x", Message: "bad"}, false},
	}
	for _, tt := range tests {
		if got := IsRetryable(tt.err); got != tt.want {
			t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
