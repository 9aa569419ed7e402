// Package coins holds the static coin registry used for price lookups and
// unit conversion.
package coins

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// Coin describes a mineable coin.
type Coin struct {
	Symbol        string `json:"symbol"`
	Name          string `json:"name"`
	PriceID       string `json:"price_id"` // CoinGecko id
	DecimalPlaces int32  `json:"decimal_places"`
}

// Divisor returns 10^DecimalPlaces.
func (c Coin) Divisor() decimal.Decimal {
	return decimal.New(1, c.DecimalPlaces)
}

// ToCoinUnits converts an amount in the coin's smallest denomination to
// whole coin units.
func (c Coin) ToCoinUnits(raw decimal.Decimal) float64 {
	f, _ := raw.Shift(-c.DecimalPlaces).Float64()
	return f
}

var table = map[string]Coin{
	"btc":  {Symbol: "btc", Name: "Bitcoin", PriceID: "bitcoin", DecimalPlaces: 8},
	"ltc":  {Symbol: "ltc", Name: "Litecoin", PriceID: "litecoin", DecimalPlaces: 8},
	"doge": {Symbol: "doge", Name: "Dogecoin", PriceID: "dogecoin", DecimalPlaces: 8},
	"etc":  {Symbol: "etc", Name: "Ethereum Classic", PriceID: "ethereum-classic", DecimalPlaces: 9},
	"rvn":  {Symbol: "rvn", Name: "Ravencoin", PriceID: "ravencoin", DecimalPlaces: 8},
	"erg":  {Symbol: "erg", Name: "Ergo", PriceID: "ergo", DecimalPlaces: 9},
	"xmr":  {Symbol: "xmr", Name: "Monero", PriceID: "monero", DecimalPlaces: 12},
	"zec":  {Symbol: "zec", Name: "Zcash", PriceID: "zcash", DecimalPlaces: 8},
	"kas":  {Symbol: "kas", Name: "Kaspa", PriceID: "kaspa", DecimalPlaces: 8},
	"btg":  {Symbol: "btg", Name: "Bitcoin Gold", PriceID: "bitcoin-gold", DecimalPlaces: 8},
	"cfx":  {Symbol: "cfx", Name: "Conflux", PriceID: "conflux-token", DecimalPlaces: 18},
}

// Lookup returns the coin for a symbol. Symbols are case-insensitive.
func Lookup(symbol string) (Coin, bool) {
	c, ok := table[strings.ToLower(strings.TrimSpace(symbol))]
	return c, ok
}

// All returns every known coin ordered by symbol.
func All() []Coin {
	out := make([]Coin, 0, len(table))
	for _, c := range table {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}
