package marketdata

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// MarketDataType identifies one kind of market data feed.
type MarketDataType string

const (
	Ticker     MarketDataType = "TICKER"
	OrderBook  MarketDataType = "ORDERBOOK"
	Trades     MarketDataType = "TRADES"
	Balance    MarketDataType = "BALANCE"
	OpenOrders MarketDataType = "OPEN_ORDERS"
)

// Types lists every market data type.
var Types = []MarketDataType{Ticker, OrderBook, Trades, Balance, OpenOrders}

// Pair is a traded currency pair, e.g. BTC/USD.
type Pair struct {
	Base    string
	Counter string
}

func (p Pair) String() string {
	return p.Base + "/" + p.Counter
}

// Side of an order or trade.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// TickerSpec identifies a currency pair on a named exchange. It is a value
// type; two specs are the same subscription locus iff they compare equal.
type TickerSpec struct {
	Exchange string
	Base     string
	Counter  string
}

// NewTickerSpec builds a spec for a pair on an exchange.
func NewTickerSpec(exchange, base, counter string) TickerSpec {
	return TickerSpec{Exchange: exchange, Base: base, Counter: counter}
}

// Pair returns the currency pair part of the spec.
func (s TickerSpec) Pair() Pair {
	return Pair{Base: s.Base, Counter: s.Counter}
}

func (s TickerSpec) String() string {
	return fmt.Sprintf("%s:%s/%s", s.Exchange, s.Base, s.Counter)
}

// MarketDataSubscription is the atomic unit of subscribe/unsubscribe: one
// data type for one spec. Comparable, so it can key maps and form sets.
type MarketDataSubscription struct {
	Spec TickerSpec
	Type MarketDataType
}

// NewSubscription pairs a spec with a data type.
func NewSubscription(spec TickerSpec, t MarketDataType) MarketDataSubscription {
	return MarketDataSubscription{Spec: spec, Type: t}
}

func (s MarketDataSubscription) String() string {
	return fmt.Sprintf("%s@%s", s.Type, s.Spec)
}

// TickerSnapshot is the canonical ticker event payload.
type TickerSnapshot struct {
	Bid       decimal.Decimal `json:"bid"`
	Ask       decimal.Decimal `json:"ask"`
	Last      decimal.Decimal `json:"last"`
	Timestamp time.Time       `json:"timestamp"`
}

// PriceLevel is one aggregated price level of an order book.
type PriceLevel struct {
	Price  decimal.Decimal `json:"price"`
	Amount decimal.Decimal `json:"amount"`
}

// OrderBookSnapshot is the canonical order book payload. Bids are ordered by
// price descending, asks ascending.
type OrderBookSnapshot struct {
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
	Timestamp time.Time    `json:"timestamp"`
}

// TradeEvent is one executed trade. Trades are discrete facts: they are never
// coalesced and are delivered at least once in arrival order.
type TradeEvent struct {
	ID        string          `json:"id"`
	Price     decimal.Decimal `json:"price"`
	Amount    decimal.Decimal `json:"amount"`
	Side      Side            `json:"side"`
	Timestamp time.Time       `json:"timestamp"`
}

// CurrencyBalance is the balance of one currency on one exchange.
type CurrencyBalance struct {
	Currency  string          `json:"currency"`
	Available decimal.Decimal `json:"available"`
	Total     decimal.Decimal `json:"total"`
}

// BalanceSnapshot maps currency to balance for one account.
type BalanceSnapshot struct {
	Balances  map[string]CurrencyBalance `json:"balances"`
	Timestamp time.Time                  `json:"timestamp"`
}

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	OrderOpen            OrderStatus = "OPEN"
	OrderPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderFilled          OrderStatus = "FILLED"
	OrderCancelled       OrderStatus = "CANCELLED"
)

// OpenOrder is one live order as reported by an exchange.
type OpenOrder struct {
	ID        string          `json:"id"`
	Side      Side            `json:"side"`
	Price     decimal.Decimal `json:"price"`
	Remaining decimal.Decimal `json:"remaining"`
	Status    OrderStatus     `json:"status"`
}

// OpenOrdersSnapshot is the set of live orders for one spec.
type OpenOrdersSnapshot struct {
	Orders    []OpenOrder `json:"orders"`
	Timestamp time.Time   `json:"timestamp"`
}

// Event is the envelope published on the bus. Payload holds one of the
// canonical snapshot/event types above; Err is set instead when the owning
// loop degraded terminally.
type Event struct {
	Subscription MarketDataSubscription
	Payload      any
	Err          error
	Timestamp    time.Time
}
