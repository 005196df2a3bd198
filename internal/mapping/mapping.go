// Package mapping holds the stateless translation tables between the
// platform's normalized identifiers and the gateway's native ones.
package mapping

import (
	"fmt"
	"regexp"
	"strings"

	"futu-bridge/internal/gateway"
)

// Normalized symbols look like "00700.HK" or "AAPL.US"; the gateway speaks
// "HK.00700" and "US.AAPL".
var symbolPattern = regexp.MustCompile(`^[A-Za-z0-9]+\.(HK|US|CN)$`)

func ValidSymbol(symbol string) bool {
	return symbolPattern.MatchString(symbol)
}

// ToVenueCode converts a normalized symbol to the gateway's native code.
func ToVenueCode(symbol string) (string, gateway.Market, bool) {
	if !ValidSymbol(symbol) {
		return "", "", false
	}
	idx := strings.LastIndex(symbol, ".")
	code, market := symbol[:idx], symbol[idx+1:]
	return fmt.Sprintf("%s.%s", market, code), gateway.Market(market), true
}

// FromVenueCode converts a gateway code back to the normalized symbol.
func FromVenueCode(code string) (string, bool) {
	market, base, ok := strings.Cut(code, ".")
	if !ok || base == "" {
		return "", false
	}
	switch gateway.Market(market) {
	case gateway.MarketHK, gateway.MarketUS, gateway.MarketCN:
		return fmt.Sprintf("%s.%s", base, market), true
	}
	return "", false
}

// MarketOf reports the market a normalized symbol belongs to.
func MarketOf(symbol string) (gateway.Market, bool) {
	_, market, ok := ToVenueCode(symbol)
	return market, ok
}

// Side translation.

const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

func ToVenueSide(side string) (string, bool) {
	switch strings.ToUpper(side) {
	case SideBuy:
		return "buy", true
	case SideSell:
		return "sell", true
	}
	return "", false
}

// OrderStatus translates gateway order states into the platform's.
func OrderStatus(raw string) string {
	switch strings.ToUpper(raw) {
	case "SUBMITTED", "WAITING":
		return "NOTTRADED"
	case "FILLED_PART":
		return "PARTTRADED"
	case "FILLED_ALL":
		return "ALLTRADED"
	case "CANCELLED_PART", "CANCELLED_ALL":
		return "CANCELLED"
	case "FAILED", "DISABLED", "DELETED":
		return "REJECTED"
	default:
		return "SUBMITTING"
	}
}

// Interval validates a normalized bar interval and returns the gateway
// token for it.
func Interval(interval gateway.BarInterval) (gateway.BarInterval, bool) {
	switch interval {
	case gateway.IntervalMin1, gateway.IntervalMin5, gateway.IntervalMin15,
		gateway.IntervalMin60, gateway.IntervalDay, gateway.IntervalWeek,
		gateway.IntervalMonth:
		return interval, true
	}
	return "", false
}
