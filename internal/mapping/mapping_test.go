package mapping

import (
	"testing"

	"futu-bridge/internal/gateway"
)

func TestToVenueCode(t *testing.T) {
	cases := []struct {
		symbol string
		code   string
		market gateway.Market
		ok     bool
	}{
		{"00700.HK", "HK.00700", gateway.MarketHK, true},
		{"AAPL.US", "US.AAPL", gateway.MarketUS, true},
		{"600519.CN", "CN.600519", gateway.MarketCN, true},
		{"00700.SG", "", "", false},
		{"00700", "", "", false},
		{".HK", "", "", false},
		{"00 700.HK", "", "", false},
		{"", "", "", false},
	}
	for _, tc := range cases {
		code, market, ok := ToVenueCode(tc.symbol)
		if ok != tc.ok || code != tc.code || market != tc.market {
			t.Errorf("ToVenueCode(%q) = (%q, %q, %v), want (%q, %q, %v)",
				tc.symbol, code, market, ok, tc.code, tc.market, tc.ok)
		}
	}
}

func TestFromVenueCodeRoundTrip(t *testing.T) {
	for _, symbol := range []string{"00700.HK", "AAPL.US", "600519.CN"} {
		code, _, ok := ToVenueCode(symbol)
		if !ok {
			t.Fatalf("ToVenueCode(%q) failed", symbol)
		}
		back, ok := FromVenueCode(code)
		if !ok || back != symbol {
			t.Errorf("round trip %q -> %q -> (%q, %v)", symbol, code, back, ok)
		}
	}
	for _, code := range []string{"SG.D05", "HK.", "00700", ""} {
		if _, ok := FromVenueCode(code); ok {
			t.Errorf("FromVenueCode(%q) accepted invalid code", code)
		}
	}
}

func TestToVenueSide(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"BUY", "buy", true},
		{"buy", "buy", true},
		{"SELL", "sell", true},
		{"Sell", "sell", true},
		{"HOLD", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, ok := ToVenueSide(tc.in)
		if got != tc.want || ok != tc.ok {
			t.Errorf("ToVenueSide(%q) = (%q, %v), want (%q, %v)", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}

func TestOrderStatus(t *testing.T) {
	cases := map[string]string{
		"SUBMITTED":      "NOTTRADED",
		"WAITING":        "NOTTRADED",
		"FILLED_PART":    "PARTTRADED",
		"FILLED_ALL":     "ALLTRADED",
		"CANCELLED_PART": "CANCELLED",
		"CANCELLED_ALL":  "CANCELLED",
		"FAILED":         "REJECTED",
		"DISABLED":       "REJECTED",
		"DELETED":        "REJECTED",
		"filled_all":     "ALLTRADED",
		"SOMETHING_NEW":  "SUBMITTING",
		"":               "SUBMITTING",
	}
	for raw, want := range cases {
		if got := OrderStatus(raw); got != want {
			t.Errorf("OrderStatus(%q) = %q, want %q", raw, got, want)
		}
	}
}

func TestInterval(t *testing.T) {
	valid := []gateway.BarInterval{
		gateway.IntervalMin1, gateway.IntervalMin5, gateway.IntervalMin15,
		gateway.IntervalMin60, gateway.IntervalDay, gateway.IntervalWeek,
		gateway.IntervalMonth,
	}
	for _, iv := range valid {
		if got, ok := Interval(iv); !ok || got != iv {
			t.Errorf("Interval(%q) = (%q, %v), want itself", iv, got, ok)
		}
	}
	for _, iv := range []gateway.BarInterval{"7m", "2h", ""} {
		if _, ok := Interval(iv); ok {
			t.Errorf("Interval(%q) accepted unknown interval", iv)
		}
	}
}
