package coins

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestLookup(t *testing.T) {
	c, ok := Lookup("ETC")
	if !ok {
		t.Fatal("Lookup(ETC) should succeed")
	}
	if c.PriceID != "ethereum-classic" {
		t.Errorf("PriceID = %s, want ethereum-classic", c.PriceID)
	}
	if c.DecimalPlaces != 9 {
		t.Errorf("DecimalPlaces = %d, want 9", c.DecimalPlaces)
	}

	if _, ok := Lookup("nope"); ok {
		t.Error("Lookup(nope) should fail")
	}
}

func TestToCoinUnits(t *testing.T) {
	tests := []struct {
		symbol   string
		raw      string
		expected float64
	}{
		{"etc", "5000000000", 5.0},
		{"btc", "123456789", 1.23456789},
		{"xmr", "1500000000000", 1.5},
		{"cfx", "2500000000000000000", 2.5},
		{"rvn", "0", 0},
	}

	for _, tt := range tests {
		c, ok := Lookup(tt.symbol)
		if !ok {
			t.Fatalf("Lookup(%s) failed", tt.symbol)
		}
		got := c.ToCoinUnits(decimal.RequireFromString(tt.raw))
		if got != tt.expected {
			t.Errorf("%s.ToCoinUnits(%s) = %v, want %v", tt.symbol, tt.raw, got, tt.expected)
		}
	}
}

func TestDivisor(t *testing.T) {
	for _, c := range All() {
		want := decimal.New(1, c.DecimalPlaces)
		if !c.Divisor().Equal(want) {
			t.Errorf("%s divisor = %s, want %s", c.Symbol, c.Divisor(), want)
		}
	}
}

func TestAllSorted(t *testing.T) {
	all := All()
	if len(all) != len(table) {
		t.Fatalf("All() len = %d, want %d", len(all), len(table))
	}
	for i := 1; i < len(all); i++ {
		if all[i-1].Symbol >= all[i].Symbol {
			t.Errorf("All() not sorted at %d: %s >= %s", i, all[i-1].Symbol, all[i].Symbol)
		}
	}
}
