package simulated

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ajaxm-zz/orko/internal/marketdata"
)

// ErrOrderNotFound rejects a cancel of an order that is not open (already
// filled, cancelled, or never seen).
var ErrOrderNotFound = errors.New("simulated: order not found")

// tradeRetention caps the in-memory trade log per pair. Older trades are
// discarded; cursors remain valid because they are absolute positions.
const tradeRetention = 10000

type bookOrder struct {
	id        string
	accountID string
	side      marketdata.Side
	price     decimal.Decimal
	remaining decimal.Decimal
	status    marketdata.OrderStatus
	seq       int64
	placedAt  time.Time
}

// Engine is the matching engine for one trading pair: two price-ordered
// books, price priority then time priority, immediate resolution of any
// cross. All mutations for the pair are serialized on one lock; independent
// pairs run concurrently. Matching is deterministic for a fixed submission
// sequence; the engine itself contains no randomness.
type Engine struct {
	pair     marketdata.Pair
	accounts *AccountFactory

	mu        sync.Mutex
	bids      []*bookOrder // price descending, FIFO within a level
	asks      []*bookOrder // price ascending, FIFO within a level
	open      map[string]*bookOrder
	trades    []marketdata.TradeEvent
	tradeBase int64 // absolute position of trades[0]
	last      decimal.Decimal
	seq       int64
}

// NewEngine creates an empty book for one pair, settling against the given
// ledgers.
func NewEngine(pair marketdata.Pair, accounts *AccountFactory) *Engine {
	return &Engine{
		pair:     pair,
		accounts: accounts,
		open:     make(map[string]*bookOrder),
		last:     decimal.Zero,
	}
}

// Pair returns the pair this engine trades.
func (e *Engine) Pair() marketdata.Pair {
	return e.pair
}

// Submit places a limit order. Funds are reserved up front (counter currency
// at the limit price for buys, base currency for sells); the order then
// crosses against the opposite side best-price-first, time priority at equal
// price. Each fill settles both ledgers before the next fill is considered,
// so no partial-leg state is ever observable. Any remainder rests on the
// book. Returns the order id.
func (e *Engine) Submit(accountID string, side marketdata.Side, price, amount decimal.Decimal) (string, error) {
	if price.Sign() <= 0 {
		return "", fmt.Errorf("simulated: price must be positive, got %s", price)
	}
	if amount.Sign() <= 0 {
		return "", fmt.Errorf("simulated: amount must be positive, got %s", amount)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	account := e.accounts.Get(accountID)
	if side == marketdata.Buy {
		if err := account.reserve(e.pair.Counter, price.Mul(amount)); err != nil {
			return "", err
		}
	} else {
		if err := account.reserve(e.pair.Base, amount); err != nil {
			return "", err
		}
	}

	e.seq++
	incoming := &bookOrder{
		id:        uuid.NewString(),
		accountID: accountID,
		side:      side,
		price:     price,
		remaining: amount,
		status:    marketdata.OrderOpen,
		seq:       e.seq,
		placedAt:  time.Now(),
	}

	e.cross(incoming)

	if incoming.remaining.Sign() > 0 {
		e.rest(incoming)
	} else {
		incoming.status = marketdata.OrderFilled
	}
	return incoming.id, nil
}

// Cancel removes an open order from the book and releases its remaining
// reservation. Cancelling a non-open order fails with ErrOrderNotFound and
// changes no ledger.
func (e *Engine) Cancel(orderID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	o, ok := e.open[orderID]
	if !ok {
		return ErrOrderNotFound
	}

	if o.side == marketdata.Buy {
		e.bids = removeOrder(e.bids, o)
		e.accounts.Get(o.accountID).release(e.pair.Counter, o.price.Mul(o.remaining))
	} else {
		e.asks = removeOrder(e.asks, o)
		e.accounts.Get(o.accountID).release(e.pair.Base, o.remaining)
	}
	o.status = marketdata.OrderCancelled
	delete(e.open, orderID)
	return nil
}

// Ticker snapshots best bid, best ask and last trade price. Absent sides
// report zero.
func (e *Engine) Ticker() marketdata.TickerSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	t := marketdata.TickerSnapshot{
		Bid:       decimal.Zero,
		Ask:       decimal.Zero,
		Last:      e.last,
		Timestamp: time.Now(),
	}
	if len(e.bids) > 0 {
		t.Bid = e.bids[0].price
	}
	if len(e.asks) > 0 {
		t.Ask = e.asks[0].price
	}
	return t
}

// OrderBook snapshots up to depth aggregated price levels per side.
// depth <= 0 means the full book.
func (e *Engine) OrderBook(depth int) marketdata.OrderBookSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return marketdata.OrderBookSnapshot{
		Bids:      aggregate(e.bids, depth),
		Asks:      aggregate(e.asks, depth),
		Timestamp: time.Now(),
	}
}

// TradesSince returns trades executed after the cursor, oldest first, plus
// the cursor for the next call. An empty cursor starts from the oldest
// retained trade.
func (e *Engine) TradesSince(cursor string) ([]marketdata.TradeEvent, string, error) {
	var from int64
	if cursor != "" {
		n, err := strconv.ParseInt(cursor, 10, 64)
		if err != nil {
			return nil, "", fmt.Errorf("simulated: bad trades cursor %q: %w", cursor, err)
		}
		from = n
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	end := e.tradeBase + int64(len(e.trades))
	if from < e.tradeBase {
		from = e.tradeBase
	}
	if from >= end {
		return nil, strconv.FormatInt(end, 10), nil
	}
	out := make([]marketdata.TradeEvent, end-from)
	copy(out, e.trades[from-e.tradeBase:])
	return out, strconv.FormatInt(end, 10), nil
}

// OpenOrders snapshots one account's resting orders on this pair.
func (e *Engine) OpenOrders(accountID string) marketdata.OpenOrdersSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	snapshot := marketdata.OpenOrdersSnapshot{Timestamp: time.Now()}
	for _, o := range e.open {
		if o.accountID != accountID {
			continue
		}
		snapshot.Orders = append(snapshot.Orders, marketdata.OpenOrder{
			ID:        o.id,
			Side:      o.side,
			Price:     o.price,
			Remaining: o.remaining,
			Status:    o.status,
		})
	}
	sortOpenOrders(snapshot.Orders)
	return snapshot
}

// cross matches the incoming order against the opposite book until it stops
// crossing or is exhausted.
func (e *Engine) cross(incoming *bookOrder) {
	for incoming.remaining.Sign() > 0 {
		var resting *bookOrder
		if incoming.side == marketdata.Buy {
			if len(e.asks) == 0 || e.asks[0].price.GreaterThan(incoming.price) {
				return
			}
			resting = e.asks[0]
		} else {
			if len(e.bids) == 0 || e.bids[0].price.LessThan(incoming.price) {
				return
			}
			resting = e.bids[0]
		}

		qty := decimal.Min(incoming.remaining, resting.remaining)
		e.settle(incoming, resting, qty)

		incoming.remaining = incoming.remaining.Sub(qty)
		resting.remaining = resting.remaining.Sub(qty)
		incoming.status = marketdata.OrderPartiallyFilled
		resting.status = marketdata.OrderPartiallyFilled

		if resting.remaining.Sign() == 0 {
			resting.status = marketdata.OrderFilled
			delete(e.open, resting.id)
			if resting.side == marketdata.Buy {
				e.bids = e.bids[1:]
			} else {
				e.asks = e.asks[1:]
			}
		}
	}
}

// settle executes one fill at the resting order's price: both ledgers move
// under this pair's lock, so the two legs are atomic with respect to every
// reader. Buy-side price improvement releases the difference between the
// limit reservation and the actual cost.
func (e *Engine) settle(incoming, resting *bookOrder, qty decimal.Decimal) {
	price := resting.price
	cost := price.Mul(qty)

	var buyer, seller *bookOrder
	if incoming.side == marketdata.Buy {
		buyer, seller = incoming, resting
	} else {
		buyer, seller = resting, incoming
	}

	buyerAccount := e.accounts.Get(buyer.accountID)
	sellerAccount := e.accounts.Get(seller.accountID)

	buyerAccount.spendReserved(e.pair.Counter, cost)
	if improvement := buyer.price.Sub(price); improvement.Sign() > 0 {
		buyerAccount.release(e.pair.Counter, improvement.Mul(qty))
	}
	buyerAccount.credit(e.pair.Base, qty)

	sellerAccount.spendReserved(e.pair.Base, qty)
	sellerAccount.credit(e.pair.Counter, cost)

	e.last = price
	e.trades = append(e.trades, marketdata.TradeEvent{
		ID:        strconv.FormatInt(e.tradeBase+int64(len(e.trades))+1, 10),
		Price:     price,
		Amount:    qty,
		Side:      incoming.side,
		Timestamp: time.Now(),
	})
	if len(e.trades) > tradeRetention {
		drop := len(e.trades) / 2
		e.trades = append([]marketdata.TradeEvent(nil), e.trades[drop:]...)
		e.tradeBase += int64(drop)
	}
}

// rest inserts the unmatched remainder into its book, keeping price order
// and FIFO within a price level.
func (e *Engine) rest(o *bookOrder) {
	if o.side == marketdata.Buy {
		i := 0
		for i < len(e.bids) && !e.bids[i].price.LessThan(o.price) {
			i++
		}
		e.bids = insertOrder(e.bids, i, o)
	} else {
		i := 0
		for i < len(e.asks) && !e.asks[i].price.GreaterThan(o.price) {
			i++
		}
		e.asks = insertOrder(e.asks, i, o)
	}
	e.open[o.id] = o
}

func insertOrder(book []*bookOrder, i int, o *bookOrder) []*bookOrder {
	book = append(book, nil)
	copy(book[i+1:], book[i:])
	book[i] = o
	return book
}

func removeOrder(book []*bookOrder, o *bookOrder) []*bookOrder {
	for i, candidate := range book {
		if candidate == o {
			return append(book[:i], book[i+1:]...)
		}
	}
	return book
}

func aggregate(book []*bookOrder, depth int) []marketdata.PriceLevel {
	var levels []marketdata.PriceLevel
	for _, o := range book {
		if n := len(levels); n > 0 && levels[n-1].Price.Equal(o.price) {
			levels[n-1].Amount = levels[n-1].Amount.Add(o.remaining)
			continue
		}
		if depth > 0 && len(levels) == depth {
			break
		}
		levels = append(levels, marketdata.PriceLevel{Price: o.price, Amount: o.remaining})
	}
	return levels
}

func sortOpenOrders(orders []marketdata.OpenOrder) {
	sort.Slice(orders, func(i, j int) bool {
		return orders[i].ID < orders[j].ID
	})
}

// EngineFactory hands out one engine per trading pair, created lazily. All
// engines settle against the same ledger set.
type EngineFactory struct {
	accounts *AccountFactory

	mu      sync.Mutex
	engines map[string]*Engine
}

// NewEngineFactory creates a factory settling against the given ledgers.
func NewEngineFactory(accounts *AccountFactory) *EngineFactory {
	return &EngineFactory{
		accounts: accounts,
		engines:  make(map[string]*Engine),
	}
}

// ForPair returns the engine for a pair, creating it on first use.
func (f *EngineFactory) ForPair(pair marketdata.Pair) *Engine {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := pair.String()
	engine, ok := f.engines[key]
	if !ok {
		engine = NewEngine(pair, f.accounts)
		f.engines[key] = engine
	}
	return engine
}

// Pairs lists the pairs with live engines.
func (f *EngineFactory) Pairs() []marketdata.Pair {
	f.mu.Lock()
	defer f.mu.Unlock()
	pairs := make([]marketdata.Pair, 0, len(f.engines))
	for _, e := range f.engines {
		pairs = append(pairs, e.pair)
	}
	return pairs
}
