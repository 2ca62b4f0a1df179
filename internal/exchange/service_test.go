package exchange

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ajaxm-zz/orko/internal/marketdata"
)

type stubAdapter struct {
	name string
	caps Capabilities
}

func (a *stubAdapter) Name() string               { return a.name }
func (a *stubAdapter) Capabilities() Capabilities { return a.caps }

func (a *stubAdapter) FetchTicker(context.Context, marketdata.Pair) (marketdata.TickerSnapshot, error) {
	return marketdata.TickerSnapshot{}, nil
}

func (a *stubAdapter) FetchOrderBook(context.Context, marketdata.Pair, int) (marketdata.OrderBookSnapshot, error) {
	return marketdata.OrderBookSnapshot{}, nil
}

func (a *stubAdapter) FetchTrades(context.Context, marketdata.Pair, string) ([]marketdata.TradeEvent, string, error) {
	return nil, "", nil
}

func (a *stubAdapter) FetchBalances(context.Context) (marketdata.BalanceSnapshot, error) {
	return marketdata.BalanceSnapshot{}, nil
}

func (a *stubAdapter) FetchOpenOrders(context.Context, marketdata.Pair) (marketdata.OpenOrdersSnapshot, error) {
	return marketdata.OpenOrdersSnapshot{}, nil
}

func (a *stubAdapter) PlaceOrder(context.Context, OrderRequest) (string, error) {
	return "", UnsupportedError("place order")
}

func (a *stubAdapter) CancelOrder(context.Context, marketdata.Pair, string) error {
	return UnsupportedError("cancel order")
}

func TestServiceConstructsAdapterOnce(t *testing.T) {
	svc := NewService(nil, zap.NewNop())
	constructed := 0
	svc.Register("stub", func(cfg Config) (Adapter, error) {
		constructed++
		return &stubAdapter{name: "stub", caps: Capabilities{marketdata.Ticker: ModePoll}}, nil
	})

	a1, err := svc.Get("stub")
	require.NoError(t, err)
	a2, err := svc.Get("stub")
	require.NoError(t, err)
	assert.Same(t, a1, a2)
	assert.Equal(t, 1, constructed, "adapter should be constructed lazily, once")
}

func TestServiceUnknownExchange(t *testing.T) {
	svc := NewService(nil, zap.NewNop())
	_, err := svc.Get("nope")
	assert.ErrorIs(t, err, ErrUnknownExchange)
}

func TestServicePassesConfigToFactory(t *testing.T) {
	svc := NewService(map[string]Config{
		"stub": {APIKey: "Test", LoadRemoteData: true},
	}, zap.NewNop())

	var seen Config
	svc.Register("stub", func(cfg Config) (Adapter, error) {
		seen = cfg
		return &stubAdapter{name: "stub", caps: Capabilities{marketdata.Ticker: ModePoll}}, nil
	})

	_, err := svc.Get("stub")
	require.NoError(t, err)
	assert.Equal(t, "Test", seen.APIKey)
	assert.True(t, seen.LoadRemoteData)
}

func TestServiceRejectsAdapterWithNoCapabilities(t *testing.T) {
	svc := NewService(nil, zap.NewNop())
	svc.Register("useless", func(cfg Config) (Adapter, error) {
		return &stubAdapter{name: "useless", caps: Capabilities{}}, nil
	})

	_, err := svc.Get("useless")
	require.Error(t, err)
	assert.Equal(t, KindUnsupported, KindOf(err))
}

func TestServicePropagatesFactoryError(t *testing.T) {
	svc := NewService(nil, zap.NewNop())
	boom := errors.New("bad credentials")
	svc.Register("stub", func(cfg Config) (Adapter, error) {
		return nil, boom
	})

	_, err := svc.Get("stub")
	assert.ErrorIs(t, err, boom)
}

func TestServiceNamesSorted(t *testing.T) {
	svc := NewService(nil, zap.NewNop())
	factory := func(cfg Config) (Adapter, error) { return nil, nil }
	svc.Register("zeta", factory)
	svc.Register("alpha", factory)
	assert.Equal(t, []string{"alpha", "zeta"}, svc.Names())
}
