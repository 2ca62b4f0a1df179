package subscription

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ajaxm-zz/orko/internal/exchange"
	"github.com/ajaxm-zz/orko/internal/marketdata"
	"github.com/ajaxm-zz/orko/internal/simulated"
)

// TestFullStackSimulatedExchange runs the whole pipeline against the
// simulated exchange: synthetic activity feeds the matching engine, the
// manager polls the adapter, and one consumer per data type watches the bus.
// No network is involved anywhere.
func TestFullStackSimulatedExchange(t *testing.T) {
	logger := zap.NewNop()

	accounts := simulated.NewAccountFactory()
	engines := simulated.NewEngineFactory(accounts)
	activity := simulated.NewActivity(simulated.ActivityConfig{
		Pairs:       []marketdata.Pair{{Base: "BTC", Counter: "USD"}},
		Interval:    2 * time.Millisecond,
		Seed:        1,
		AnchorPrice: 9000,
	}, engines, accounts, logger)

	activity.Start()
	require.NoError(t, activity.AwaitRunning(30*time.Second))
	defer func() {
		activity.Stop()
		require.NoError(t, activity.AwaitTerminated(30*time.Second))
	}()

	svc := exchange.NewService(map[string]exchange.Config{
		simulated.ExchangeName: {APIKey: "Test"},
	}, logger)
	svc.Register(simulated.ExchangeName, simulated.Factory(engines, accounts))

	bus := marketdata.NewBus(marketdata.DefaultBusConfig(), logger)
	defer bus.Close()
	mgr := NewManager(svc, bus, fastConfig(), logger)

	spec := marketdata.NewTickerSpec(simulated.ExchangeName, "BTC", "USD")
	var subs []marketdata.MarketDataSubscription
	streams := make(map[marketdata.MarketDataType]*marketdata.BusSubscription)
	for _, dataType := range marketdata.Types {
		key := marketdata.NewSubscription(spec, dataType)
		subs = append(subs, key)
		streams[dataType] = mgr.Subscribe(key)
		defer streams[dataType].Close()
	}

	require.NoError(t, mgr.SetSubscriptions(subs))
	require.NoError(t, mgr.AwaitReady(simulated.ExchangeName, 30*time.Second))
	assert.Equal(t, len(marketdata.Types), mgr.LoopCount())

	// Every data type delivers within the wait, with a well-formed payload.
	deadline := 30 * time.Second

	ev := receive(t, streams[marketdata.Ticker], deadline)
	require.Nil(t, ev.Err)
	ticker := ev.Payload.(marketdata.TickerSnapshot)
	assert.True(t, ticker.Bid.Sign() >= 0 && ticker.Ask.Sign() >= 0)

	ev = receive(t, streams[marketdata.OrderBook], deadline)
	require.Nil(t, ev.Err)
	book := ev.Payload.(marketdata.OrderBookSnapshot)
	for i := 1; i < len(book.Bids); i++ {
		assert.True(t, book.Bids[i].Price.LessThan(book.Bids[i-1].Price), "bids not descending")
	}
	for i := 1; i < len(book.Asks); i++ {
		assert.True(t, book.Asks[i].Price.GreaterThan(book.Asks[i-1].Price), "asks not ascending")
	}

	ev = receive(t, streams[marketdata.Trades], deadline)
	require.Nil(t, ev.Err)
	trade := ev.Payload.(marketdata.TradeEvent)
	assert.True(t, trade.Price.Sign() > 0)
	assert.True(t, trade.Amount.Sign() > 0)

	ev = receive(t, streams[marketdata.Balance], deadline)
	require.Nil(t, ev.Err)
	assert.IsType(t, marketdata.BalanceSnapshot{}, ev.Payload)

	ev = receive(t, streams[marketdata.OpenOrders], deadline)
	require.Nil(t, ev.Err)
	assert.IsType(t, marketdata.OpenOrdersSnapshot{}, ev.Payload)

	// Wait for a ticker that saw an actual trade print.
	require.Eventually(t, func() bool {
		select {
		case ev, ok := <-streams[marketdata.Ticker].C():
			if !ok {
				return false
			}
			return ev.Err == nil && ev.Payload.(marketdata.TickerSnapshot).Last.Sign() > 0
		default:
			return false
		}
	}, deadline, 10*time.Millisecond)

	// Teardown is bounded and quiet.
	require.NoError(t, mgr.Stop(30*time.Second))
	assert.Equal(t, 0, mgr.LoopCount())
}

// TestQuietMarketStillServesSnapshots subscribes with no activity generator
// running: snapshot feeds still deliver on the poll cadence, reporting an
// empty market.
func TestQuietMarketStillServesSnapshots(t *testing.T) {
	logger := zap.NewNop()
	accounts := simulated.NewAccountFactory()
	engines := simulated.NewEngineFactory(accounts)

	svc := exchange.NewService(map[string]exchange.Config{
		simulated.ExchangeName: {APIKey: "Test"},
	}, logger)
	svc.Register(simulated.ExchangeName, simulated.Factory(engines, accounts))

	bus := marketdata.NewBus(marketdata.DefaultBusConfig(), logger)
	defer bus.Close()
	mgr := NewManager(svc, bus, fastConfig(), logger)
	defer mgr.Stop(5 * time.Second)

	spec := marketdata.NewTickerSpec(simulated.ExchangeName, "BTC", "USD")
	tickerSub := marketdata.NewSubscription(spec, marketdata.Ticker)
	bookSub := marketdata.NewSubscription(spec, marketdata.OrderBook)
	tickerStream := mgr.Subscribe(tickerSub)
	defer tickerStream.Close()
	bookStream := mgr.Subscribe(bookSub)
	defer bookStream.Close()

	require.NoError(t, mgr.SetSubscriptions([]marketdata.MarketDataSubscription{tickerSub, bookSub}))
	require.NoError(t, mgr.AwaitReady(simulated.ExchangeName, 30*time.Second))

	ev := receive(t, tickerStream, 5*time.Second)
	require.Nil(t, ev.Err)
	ticker := ev.Payload.(marketdata.TickerSnapshot)
	assert.True(t, ticker.Bid.IsZero())
	assert.True(t, ticker.Ask.IsZero())
	assert.True(t, ticker.Last.IsZero())

	ev = receive(t, bookStream, 5*time.Second)
	require.Nil(t, ev.Err)
	book := ev.Payload.(marketdata.OrderBookSnapshot)
	assert.Empty(t, book.Bids)
	assert.Empty(t, book.Asks)

	// The feed keeps refreshing on its own cadence with nothing happening.
	ev = receive(t, tickerStream, 5*time.Second)
	assert.Nil(t, ev.Err)
}
