package simulated

import (
	"context"
	"time"

	"github.com/ajaxm-zz/orko/internal/exchange"
	"github.com/ajaxm-zz/orko/internal/marketdata"
)

// ExchangeName is the friendly name the simulated exchange registers under.
const ExchangeName = "simulated"

// defaultAccount is used when no api key selects an account.
const defaultAccount = "anonymous"

// Adapter exposes the in-process exchange through the standard capability
// contract. Every capability is poll-based; there is no connection to open,
// so each fetch is a direct snapshot of engine state. The configured api key
// doubles as the account id, the way a real venue's key selects an account.
type Adapter struct {
	accountID string
	engines   *EngineFactory
	accounts  *AccountFactory
}

// NewAdapter builds an adapter trading and reporting as accountID.
func NewAdapter(accountID string, engines *EngineFactory, accounts *AccountFactory) *Adapter {
	if accountID == "" {
		accountID = defaultAccount
	}
	return &Adapter{
		accountID: accountID,
		engines:   engines,
		accounts:  accounts,
	}
}

// Factory adapts NewAdapter to the exchange service's registration shape.
func Factory(engines *EngineFactory, accounts *AccountFactory) exchange.Factory {
	return func(cfg exchange.Config) (exchange.Adapter, error) {
		return NewAdapter(cfg.APIKey, engines, accounts), nil
	}
}

func (a *Adapter) Name() string {
	return ExchangeName
}

func (a *Adapter) Capabilities() exchange.Capabilities {
	return exchange.Capabilities{
		marketdata.Ticker:     exchange.ModePoll,
		marketdata.OrderBook:  exchange.ModePoll,
		marketdata.Trades:     exchange.ModePoll,
		marketdata.Balance:    exchange.ModePoll,
		marketdata.OpenOrders: exchange.ModePoll,
	}
}

func (a *Adapter) FetchTicker(ctx context.Context, pair marketdata.Pair) (marketdata.TickerSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return marketdata.TickerSnapshot{}, err
	}
	return a.engines.ForPair(pair).Ticker(), nil
}

func (a *Adapter) FetchOrderBook(ctx context.Context, pair marketdata.Pair, depth int) (marketdata.OrderBookSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return marketdata.OrderBookSnapshot{}, err
	}
	return a.engines.ForPair(pair).OrderBook(depth), nil
}

func (a *Adapter) FetchTrades(ctx context.Context, pair marketdata.Pair, cursor string) ([]marketdata.TradeEvent, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}
	return a.engines.ForPair(pair).TradesSince(cursor)
}

func (a *Adapter) FetchBalances(ctx context.Context) (marketdata.BalanceSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return marketdata.BalanceSnapshot{}, err
	}
	snapshot := marketdata.BalanceSnapshot{
		Balances:  make(map[string]marketdata.CurrencyBalance),
		Timestamp: time.Now(),
	}
	for ccy, b := range a.accounts.Get(a.accountID).Snapshot() {
		snapshot.Balances[ccy] = marketdata.CurrencyBalance{
			Currency:  ccy,
			Available: b.Available,
			Total:     b.Total(),
		}
	}
	return snapshot, nil
}

func (a *Adapter) FetchOpenOrders(ctx context.Context, pair marketdata.Pair) (marketdata.OpenOrdersSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return marketdata.OpenOrdersSnapshot{}, err
	}
	return a.engines.ForPair(pair).OpenOrders(a.accountID), nil
}

func (a *Adapter) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return a.engines.ForPair(req.Pair).Submit(a.accountID, req.Side, req.Price, req.Amount)
}

func (a *Adapter) CancelOrder(ctx context.Context, pair marketdata.Pair, orderID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return a.engines.ForPair(pair).Cancel(orderID)
}
