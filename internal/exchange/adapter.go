// Package exchange defines the capability contract every venue adapter
// implements, the classified error taxonomy, and the registry that maps
// friendly exchange names to lazily constructed adapters.
package exchange

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/ajaxm-zz/orko/internal/marketdata"
)

// Mode declares how an adapter serves one data type.
type Mode int

const (
	// ModeUnsupported means the adapter cannot serve the type at all.
	ModeUnsupported Mode = iota
	// ModePoll means the manager drives the feed on a fixed interval.
	ModePoll
	// ModePush means the adapter opens one long-lived stream per pair.
	ModePush
)

func (m Mode) String() string {
	switch m {
	case ModePoll:
		return "poll"
	case ModePush:
		return "push"
	}
	return "unsupported"
}

// Capabilities maps each data type to the mode the adapter serves it in.
// Discovered once at registration, never via runtime type inspection.
type Capabilities map[marketdata.MarketDataType]Mode

// Supports reports whether the adapter serves the type at all.
func (c Capabilities) Supports(t marketdata.MarketDataType) bool {
	return c[t] != ModeUnsupported
}

// OrderRequest places a limit order on a venue.
type OrderRequest struct {
	Pair   marketdata.Pair
	Side   marketdata.Side
	Price  decimal.Decimal
	Amount decimal.Decimal
}

// Adapter is the uniform capability surface over one exchange. Fetch calls
// fail fast with a classified *Error; the manager's retry policy depends on
// the kind. Poll-mode types are served by the Fetch* methods; push-mode
// types additionally require the Streamer interface.
type Adapter interface {
	Name() string
	Capabilities() Capabilities

	FetchTicker(ctx context.Context, pair marketdata.Pair) (marketdata.TickerSnapshot, error)
	FetchOrderBook(ctx context.Context, pair marketdata.Pair, depth int) (marketdata.OrderBookSnapshot, error)
	// FetchTrades returns trades after the cursor plus the next cursor. An
	// empty cursor means "from the beginning of what the venue retains".
	FetchTrades(ctx context.Context, pair marketdata.Pair, cursor string) ([]marketdata.TradeEvent, string, error)
	FetchBalances(ctx context.Context) (marketdata.BalanceSnapshot, error)
	FetchOpenOrders(ctx context.Context, pair marketdata.Pair) (marketdata.OpenOrdersSnapshot, error)

	PlaceOrder(ctx context.Context, req OrderRequest) (string, error)
	CancelOrder(ctx context.Context, pair marketdata.Pair, orderID string) error
}

// Streamer is implemented by push-capable adapters for the types their
// Capabilities declare as ModePush. The returned channel closes when the
// stream ends; the error reports a failure to open it.
type Streamer interface {
	StreamTicker(ctx context.Context, pair marketdata.Pair) (<-chan marketdata.TickerSnapshot, error)
	StreamTrades(ctx context.Context, pair marketdata.Pair) (<-chan marketdata.TradeEvent, error)
}
