package simulated

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ajaxm-zz/orko/internal/lifecycle"
	"github.com/ajaxm-zz/orko/internal/marketdata"
)

func newTestActivity(t *testing.T) (*Activity, *EngineFactory, *AccountFactory) {
	t.Helper()
	accounts := NewAccountFactory()
	engines := NewEngineFactory(accounts)
	activity := NewActivity(ActivityConfig{
		Pairs:       []marketdata.Pair{btcUSD},
		Interval:    time.Millisecond,
		Seed:        42,
		AnchorPrice: 9000,
	}, engines, accounts, zap.NewNop())
	return activity, engines, accounts
}

func TestActivityProducesMarketMotion(t *testing.T) {
	activity, engines, _ := newTestActivity(t)

	activity.Start()
	activity.Start() // idempotent
	require.NoError(t, activity.AwaitRunning(5*time.Second))

	engine := engines.ForPair(btcUSD)
	require.Eventually(t, func() bool {
		trades, _, err := engine.TradesSince("")
		return err == nil && len(trades) > 0
	}, 5*time.Second, 5*time.Millisecond, "generator never printed a trade")

	require.Eventually(t, func() bool {
		ticker := engine.Ticker()
		return ticker.Bid.Sign() > 0 && ticker.Ask.Sign() > 0
	}, 5*time.Second, 5*time.Millisecond, "generator never quoted both sides")

	activity.Stop()
	activity.Stop() // idempotent
	require.NoError(t, activity.AwaitTerminated(5*time.Second))
}

func TestActivityNeverOverdrawsMakers(t *testing.T) {
	activity, _, accounts := newTestActivity(t)

	activity.Start()
	require.NoError(t, activity.AwaitRunning(5*time.Second))
	time.Sleep(200 * time.Millisecond)
	activity.Stop()
	require.NoError(t, activity.AwaitTerminated(5*time.Second))

	for _, id := range []string{makerBuyAccount, makerSellAccount} {
		for _, currency := range []string{"BTC", "USD"} {
			b := accounts.Get(id).Balance(currency)
			assert.True(t, b.Available.Sign() >= 0, "%s %s available went negative: %s", id, currency, b.Available)
			assert.True(t, b.Reserved.Sign() >= 0, "%s %s reserved went negative: %s", id, currency, b.Reserved)
		}
	}
}

func TestActivityStopBeforeStartTerminates(t *testing.T) {
	activity, _, _ := newTestActivity(t)

	activity.Stop()
	require.NoError(t, activity.AwaitTerminated(time.Second))

	// A terminated generator cannot be restarted.
	activity.Start()
	assert.ErrorIs(t, activity.AwaitRunning(50*time.Millisecond), lifecycle.ErrTerminatedEarly)
}

func TestActivityAwaitRunningTimesOutBeforeStart(t *testing.T) {
	activity, _, _ := newTestActivity(t)
	assert.ErrorIs(t, activity.AwaitRunning(50*time.Millisecond), lifecycle.ErrWaitTimeout)
}
