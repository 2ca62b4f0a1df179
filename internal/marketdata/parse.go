package marketdata

import (
	"fmt"
	"strings"
)

// ParseSubscription parses "exchange:BASE/COUNTER:TYPE", e.g.
// "simulated:BTC/USD:TICKER".
func ParseSubscription(s string) (MarketDataSubscription, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return MarketDataSubscription{}, fmt.Errorf("marketdata: bad subscription %q, want exchange:BASE/COUNTER:TYPE", s)
	}
	pair := strings.Split(parts[1], "/")
	if len(pair) != 2 || pair[0] == "" || pair[1] == "" {
		return MarketDataSubscription{}, fmt.Errorf("marketdata: bad pair in %q, want BASE/COUNTER", s)
	}

	dataType := MarketDataType(strings.ToUpper(parts[2]))
	valid := false
	for _, t := range Types {
		if dataType == t {
			valid = true
			break
		}
	}
	if !valid {
		return MarketDataSubscription{}, fmt.Errorf("marketdata: unknown data type %q", parts[2])
	}

	return NewSubscription(NewTickerSpec(parts[0], pair[0], pair[1]), dataType), nil
}

// ParsePair parses "BASE/COUNTER".
func ParsePair(s string) (Pair, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Pair{}, fmt.Errorf("marketdata: bad pair %q, want BASE/COUNTER", s)
	}
	return Pair{Base: parts[0], Counter: parts[1]}, nil
}
