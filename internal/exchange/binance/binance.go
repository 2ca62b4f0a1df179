// Package binance is a real-venue adapter proving the capability contract:
// ticker and trades are push streams over websocket, the order book is
// polled over REST. Trading and private data need signed keys and are left
// unsupported here.
package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ajaxm-zz/orko/internal/exchange"
	"github.com/ajaxm-zz/orko/internal/marketdata"
)

// ExchangeName is the friendly name this adapter registers under.
const ExchangeName = "binance"

const (
	wsEndpoint   = "wss://stream.binance.com:9443/ws"
	restEndpoint = "https://api.binance.com"
)

// Adapter streams public Binance market data.
type Adapter struct {
	httpClient *http.Client
	logger     *zap.Logger
}

// NewAdapter builds a keyless public-data adapter.
func NewAdapter(logger *zap.Logger) *Adapter {
	return &Adapter{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     logger,
	}
}

// Factory adapts NewAdapter to the exchange service's registration shape.
func Factory(logger *zap.Logger) exchange.Factory {
	return func(cfg exchange.Config) (exchange.Adapter, error) {
		return NewAdapter(logger), nil
	}
}

func (a *Adapter) Name() string {
	return ExchangeName
}

func (a *Adapter) Capabilities() exchange.Capabilities {
	return exchange.Capabilities{
		marketdata.Ticker:    exchange.ModePush,
		marketdata.Trades:    exchange.ModePush,
		marketdata.OrderBook: exchange.ModePoll,
	}
}

// symbol renders a pair the way Binance spells it: BTCUSDT.
func symbol(pair marketdata.Pair) string {
	return strings.ToUpper(pair.Base + pair.Counter)
}

// bookTickerMessage is the @bookTicker stream payload.
type bookTickerMessage struct {
	Symbol string `json:"s"`
	Bid    string `json:"b"`
	Ask    string `json:"a"`
}

// tradeMessage is the @trade stream payload.
type tradeMessage struct {
	EventType string `json:"e"`
	TradeID   int64  `json:"t"`
	Price     string `json:"p"`
	Quantity  string `json:"q"`
	TradeTime int64  `json:"T"`
	// IsMaker: buyer is the maker, so the aggressor sold.
	IsMaker bool `json:"m"`
}

// depthResponse is the REST /api/v3/depth payload.
type depthResponse struct {
	Bids [][]string `json:"bids"`
	Asks [][]string `json:"asks"`
}

func parseBookTicker(msg bookTickerMessage) (marketdata.TickerSnapshot, error) {
	bid, err := decimal.NewFromString(msg.Bid)
	if err != nil {
		return marketdata.TickerSnapshot{}, fmt.Errorf("binance: bad bid %q: %w", msg.Bid, err)
	}
	ask, err := decimal.NewFromString(msg.Ask)
	if err != nil {
		return marketdata.TickerSnapshot{}, fmt.Errorf("binance: bad ask %q: %w", msg.Ask, err)
	}
	return marketdata.TickerSnapshot{
		Bid:       bid,
		Ask:       ask,
		Last:      decimal.Zero,
		Timestamp: time.Now(),
	}, nil
}

func parseTrade(msg tradeMessage) (marketdata.TradeEvent, error) {
	price, err := decimal.NewFromString(msg.Price)
	if err != nil {
		return marketdata.TradeEvent{}, fmt.Errorf("binance: bad price %q: %w", msg.Price, err)
	}
	qty, err := decimal.NewFromString(msg.Quantity)
	if err != nil {
		return marketdata.TradeEvent{}, fmt.Errorf("binance: bad quantity %q: %w", msg.Quantity, err)
	}
	side := marketdata.Buy
	if msg.IsMaker {
		side = marketdata.Sell
	}
	return marketdata.TradeEvent{
		ID:        strconv.FormatInt(msg.TradeID, 10),
		Price:     price,
		Amount:    qty,
		Side:      side,
		Timestamp: time.UnixMilli(msg.TradeTime),
	}, nil
}

func parseLevels(raw [][]string) ([]marketdata.PriceLevel, error) {
	levels := make([]marketdata.PriceLevel, 0, len(raw))
	for _, entry := range raw {
		if len(entry) < 2 {
			continue
		}
		price, err := decimal.NewFromString(entry[0])
		if err != nil {
			return nil, fmt.Errorf("binance: bad level price %q: %w", entry[0], err)
		}
		amount, err := decimal.NewFromString(entry[1])
		if err != nil {
			return nil, fmt.Errorf("binance: bad level amount %q: %w", entry[1], err)
		}
		levels = append(levels, marketdata.PriceLevel{Price: price, Amount: amount})
	}
	return levels, nil
}

// classifyStatus maps an HTTP status onto the error taxonomy.
func classifyStatus(resp *http.Response) error {
	err := fmt.Errorf("binance: http %d", resp.StatusCode)
	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusTeapot:
		// 418 is Binance's auto-ban escalation of 429.
		var retryAfter time.Duration
		if s := resp.Header.Get("Retry-After"); s != "" {
			if secs, parseErr := strconv.Atoi(s); parseErr == nil {
				retryAfter = time.Duration(secs) * time.Second
			}
		}
		return exchange.RateLimitedError(retryAfter, err)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return exchange.UnauthorizedError(err)
	default:
		return exchange.NetworkError(err)
	}
}

// StreamTicker opens one @bookTicker stream for the pair. The channel closes
// when the stream ends; the manager reopens it.
func (a *Adapter) StreamTicker(ctx context.Context, pair marketdata.Pair) (<-chan marketdata.TickerSnapshot, error) {
	conn, err := a.dial(ctx, strings.ToLower(symbol(pair))+"@bookTicker")
	if err != nil {
		return nil, err
	}

	out := make(chan marketdata.TickerSnapshot)
	go func() {
		defer close(out)
		defer conn.Close()
		go closeOnDone(ctx, conn)
		for {
			var msg bookTickerMessage
			if err := conn.ReadJSON(&msg); err != nil {
				if ctx.Err() == nil {
					a.logger.Warn("binance ticker stream read failed", zap.Error(err))
				}
				return
			}
			ticker, err := parseBookTicker(msg)
			if err != nil {
				continue
			}
			select {
			case out <- ticker:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// StreamTrades opens one @trade stream for the pair.
func (a *Adapter) StreamTrades(ctx context.Context, pair marketdata.Pair) (<-chan marketdata.TradeEvent, error) {
	conn, err := a.dial(ctx, strings.ToLower(symbol(pair))+"@trade")
	if err != nil {
		return nil, err
	}

	out := make(chan marketdata.TradeEvent)
	go func() {
		defer close(out)
		defer conn.Close()
		go closeOnDone(ctx, conn)
		for {
			var msg tradeMessage
			if err := conn.ReadJSON(&msg); err != nil {
				if ctx.Err() == nil {
					a.logger.Warn("binance trade stream read failed", zap.Error(err))
				}
				return
			}
			if msg.EventType != "trade" {
				continue
			}
			trade, err := parseTrade(msg)
			if err != nil {
				continue
			}
			select {
			case out <- trade:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (a *Adapter) dial(ctx context.Context, stream string) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, wsEndpoint+"/"+stream, nil)
	if err != nil {
		if resp != nil {
			return nil, classifyStatus(resp)
		}
		return nil, exchange.NetworkError(err)
	}
	return conn, nil
}

func closeOnDone(ctx context.Context, conn *websocket.Conn) {
	<-ctx.Done()
	conn.Close()
}

// FetchTicker exists for the poll path only; ticker is push mode here.
func (a *Adapter) FetchTicker(ctx context.Context, pair marketdata.Pair) (marketdata.TickerSnapshot, error) {
	return marketdata.TickerSnapshot{}, exchange.UnsupportedError("polled ticker")
}

func (a *Adapter) FetchOrderBook(ctx context.Context, pair marketdata.Pair, depth int) (marketdata.OrderBookSnapshot, error) {
	if depth <= 0 {
		depth = 20
	}
	url := fmt.Sprintf("%s/api/v3/depth?symbol=%s&limit=%d", restEndpoint, symbol(pair), depth)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return marketdata.OrderBookSnapshot{}, exchange.NetworkError(err)
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return marketdata.OrderBookSnapshot{}, exchange.NetworkError(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return marketdata.OrderBookSnapshot{}, classifyStatus(resp)
	}

	var payload depthResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return marketdata.OrderBookSnapshot{}, exchange.NetworkError(err)
	}
	bids, err := parseLevels(payload.Bids)
	if err != nil {
		return marketdata.OrderBookSnapshot{}, exchange.NetworkError(err)
	}
	asks, err := parseLevels(payload.Asks)
	if err != nil {
		return marketdata.OrderBookSnapshot{}, exchange.NetworkError(err)
	}
	return marketdata.OrderBookSnapshot{
		Bids:      bids,
		Asks:      asks,
		Timestamp: time.Now(),
	}, nil
}

func (a *Adapter) FetchTrades(ctx context.Context, pair marketdata.Pair, cursor string) ([]marketdata.TradeEvent, string, error) {
	return nil, "", exchange.UnsupportedError("polled trades")
}

func (a *Adapter) FetchBalances(ctx context.Context) (marketdata.BalanceSnapshot, error) {
	return marketdata.BalanceSnapshot{}, exchange.UnsupportedError("balances")
}

func (a *Adapter) FetchOpenOrders(ctx context.Context, pair marketdata.Pair) (marketdata.OpenOrdersSnapshot, error) {
	return marketdata.OpenOrdersSnapshot{}, exchange.UnsupportedError("open orders")
}

func (a *Adapter) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (string, error) {
	return "", exchange.UnsupportedError("order placement")
}

func (a *Adapter) CancelOrder(ctx context.Context, pair marketdata.Pair, orderID string) error {
	return exchange.UnsupportedError("order cancellation")
}
