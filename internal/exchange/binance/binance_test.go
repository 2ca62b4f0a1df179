package binance

import (
	"net/http"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajaxm-zz/orko/internal/exchange"
	"github.com/ajaxm-zz/orko/internal/marketdata"
)

func TestSymbol(t *testing.T) {
	assert.Equal(t, "BTCUSDT", symbol(marketdata.Pair{Base: "BTC", Counter: "USDT"}))
	assert.Equal(t, "ETHBTC", symbol(marketdata.Pair{Base: "eth", Counter: "btc"}))
}

func TestParseBookTicker(t *testing.T) {
	ticker, err := parseBookTicker(bookTickerMessage{Symbol: "BTCUSDT", Bid: "63999.10", Ask: "64000.00"})
	require.NoError(t, err)
	assert.True(t, ticker.Bid.Equal(decimal.RequireFromString("63999.10")))
	assert.True(t, ticker.Ask.Equal(decimal.RequireFromString("64000.00")))

	_, err = parseBookTicker(bookTickerMessage{Bid: "not-a-number", Ask: "1"})
	assert.Error(t, err)
	_, err = parseBookTicker(bookTickerMessage{Bid: "1", Ask: ""})
	assert.Error(t, err)
}

func TestParseTradeSideMapping(t *testing.T) {
	// Buyer-is-maker means the aggressor sold.
	trade, err := parseTrade(tradeMessage{TradeID: 7, Price: "64000.5", Quantity: "0.25", TradeTime: 1700000000000, IsMaker: true})
	require.NoError(t, err)
	assert.Equal(t, "7", trade.ID)
	assert.Equal(t, marketdata.Sell, trade.Side)
	assert.True(t, trade.Price.Equal(decimal.RequireFromString("64000.5")))
	assert.True(t, trade.Amount.Equal(decimal.RequireFromString("0.25")))
	assert.Equal(t, time.UnixMilli(1700000000000), trade.Timestamp)

	trade, err = parseTrade(tradeMessage{TradeID: 8, Price: "64000.5", Quantity: "0.25", IsMaker: false})
	require.NoError(t, err)
	assert.Equal(t, marketdata.Buy, trade.Side)

	_, err = parseTrade(tradeMessage{Price: "x", Quantity: "1"})
	assert.Error(t, err)
}

func TestParseLevels(t *testing.T) {
	levels, err := parseLevels([][]string{
		{"64000.00", "1.5"},
		{"63999.00", "0.2", "ignored-extra"},
		{"63998.00"}, // short rows are skipped
	})
	require.NoError(t, err)
	require.Len(t, levels, 2)
	assert.True(t, levels[0].Price.Equal(decimal.RequireFromString("64000.00")))
	assert.True(t, levels[1].Amount.Equal(decimal.RequireFromString("0.2")))

	_, err = parseLevels([][]string{{"bad", "1"}})
	assert.Error(t, err)
}

func TestClassifyStatus(t *testing.T) {
	resp := func(code int, retryAfter string) *http.Response {
		r := &http.Response{StatusCode: code, Header: http.Header{}}
		if retryAfter != "" {
			r.Header.Set("Retry-After", retryAfter)
		}
		return r
	}

	err := classifyStatus(resp(http.StatusTooManyRequests, "7"))
	assert.Equal(t, exchange.KindRateLimited, exchange.KindOf(err))
	assert.Equal(t, 7*time.Second, exchange.RetryAfterOf(err))

	// 418 is the venue's ban escalation of 429.
	err = classifyStatus(resp(http.StatusTeapot, ""))
	assert.Equal(t, exchange.KindRateLimited, exchange.KindOf(err))
	assert.Zero(t, exchange.RetryAfterOf(err))

	err = classifyStatus(resp(http.StatusUnauthorized, ""))
	assert.Equal(t, exchange.KindUnauthorized, exchange.KindOf(err))
	err = classifyStatus(resp(http.StatusForbidden, ""))
	assert.Equal(t, exchange.KindUnauthorized, exchange.KindOf(err))

	err = classifyStatus(resp(http.StatusBadGateway, ""))
	assert.Equal(t, exchange.KindNetwork, exchange.KindOf(err))
	assert.True(t, exchange.IsRetryable(err))
}

func TestCapabilities(t *testing.T) {
	a := NewAdapter(nil)
	caps := a.Capabilities()
	assert.Equal(t, exchange.ModePush, caps[marketdata.Ticker])
	assert.Equal(t, exchange.ModePush, caps[marketdata.Trades])
	assert.Equal(t, exchange.ModePoll, caps[marketdata.OrderBook])
	assert.False(t, caps.Supports(marketdata.Balance))

	var _ exchange.Streamer = a
}
