package simulated

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ajaxm-zz/orko/internal/lifecycle"
	"github.com/ajaxm-zz/orko/internal/marketdata"
)

// Market maker accounts the generator trades between.
const (
	makerBuyAccount  = "simulated-maker-buy"
	makerSellAccount = "simulated-maker-sell"
)

// ActivityConfig bounds the generator.
type ActivityConfig struct {
	Pairs []marketdata.Pair
	// Interval is the minimum gap between synthesized actions.
	Interval time.Duration
	// Seed fixes the random source for reproducible runs; 0 seeds from the
	// clock.
	Seed int64
	// AnchorPrice is the starting mid price for every pair.
	AnchorPrice float64
}

// DefaultActivityConfig generates activity on BTC/USD every 20ms around a
// 9000 mid.
func DefaultActivityConfig() ActivityConfig {
	return ActivityConfig{
		Pairs:       []marketdata.Pair{{Base: "BTC", Counter: "USD"}},
		Interval:    20 * time.Millisecond,
		AnchorPrice: 9000,
	}
}

type placedOrder struct {
	pair marketdata.Pair
	id   string
}

// Activity is the synthetic activity generator: a background process that
// submits and cancels randomized orders against the matching engine at a
// bounded rate, so ticker, order book and trade subscriptions observe
// continuous motion without any network. It owns no state beyond its random
// source and a window of its own recent order ids. Start and Stop are
// idempotent; both ends of the lifecycle are awaitable with a timeout.
type Activity struct {
	cfg      ActivityConfig
	engines  *EngineFactory
	accounts *AccountFactory
	logger   *zap.Logger

	lc        *lifecycle.Lifecycle
	rng       *rand.Rand
	cancel    context.CancelFunc
	startOnce sync.Once
	stopOnce  sync.Once

	anchors map[string]float64
	recent  []placedOrder
}

// NewActivity builds a generator over the given engines and ledgers.
func NewActivity(cfg ActivityConfig, engines *EngineFactory, accounts *AccountFactory, logger *zap.Logger) *Activity {
	if cfg.Interval <= 0 {
		cfg.Interval = 20 * time.Millisecond
	}
	if cfg.AnchorPrice <= 0 {
		cfg.AnchorPrice = 9000
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	anchors := make(map[string]float64, len(cfg.Pairs))
	for _, p := range cfg.Pairs {
		anchors[p.String()] = cfg.AnchorPrice
	}
	return &Activity{
		cfg:      cfg,
		engines:  engines,
		accounts: accounts,
		logger:   logger,
		lc:       lifecycle.New(),
		rng:      rand.New(rand.NewSource(seed)),
		anchors:  anchors,
	}
}

// Start launches the generator. Idempotent; await the transition with
// AwaitRunning.
func (a *Activity) Start() {
	a.startOnce.Do(func() {
		if a.lc.State() == lifecycle.Terminated {
			return
		}
		ctx, cancel := context.WithCancel(context.Background())
		a.cancel = cancel
		a.seedMakers()
		go a.run(ctx)
	})
}

// Stop asks the generator to terminate. Idempotent; await completion with
// AwaitTerminated.
func (a *Activity) Stop() {
	a.stopOnce.Do(func() {
		a.lc.MarkStopping()
		if a.cancel != nil {
			a.cancel()
		} else {
			// Never started: terminate directly.
			a.lc.MarkTerminated()
		}
	})
}

// AwaitRunning blocks until the generator is producing activity.
func (a *Activity) AwaitRunning(timeout time.Duration) error {
	return a.lc.AwaitRunning(timeout)
}

// AwaitTerminated blocks until the generator has fully stopped.
func (a *Activity) AwaitTerminated(timeout time.Duration) error {
	return a.lc.AwaitTerminated(timeout)
}

// seedMakers provisions the two market maker accounts with deep balances in
// every configured currency.
func (a *Activity) seedMakers() {
	base := decimal.NewFromInt(1_000_000)
	counter := decimal.NewFromInt(1_000_000_000)
	for _, pair := range a.cfg.Pairs {
		for _, id := range []string{makerBuyAccount, makerSellAccount} {
			account := a.accounts.Get(id)
			account.Deposit(pair.Base, base)
			account.Deposit(pair.Counter, counter)
		}
	}
}

func (a *Activity) run(ctx context.Context) {
	defer a.lc.MarkTerminated()
	a.lc.MarkRunning()
	a.logger.Info("simulated activity running",
		zap.Int("pairs", len(a.cfg.Pairs)),
		zap.Duration("interval", a.cfg.Interval),
	)

	ticker := time.NewTicker(a.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			a.lc.MarkStopping()
			a.logger.Info("simulated activity stopped")
			return
		case <-ticker.C:
			a.step()
		}
	}
}

// step synthesizes one action: usually a pair of passive quotes around a
// drifting mid, sometimes an aggressive order that crosses the spread, and
// occasionally a cancellation of one of its own resting orders. An order the
// maker cannot fund is skipped silently, never treated as a failure.
func (a *Activity) step() {
	if len(a.cfg.Pairs) == 0 {
		return
	}
	pair := a.cfg.Pairs[a.rng.Intn(len(a.cfg.Pairs))]
	engine := a.engines.ForPair(pair)
	key := pair.String()

	// Random walk the mid by up to ±0.5% per step.
	mid := a.anchors[key] * (1 + (a.rng.Float64()-0.5)*0.01)
	a.anchors[key] = mid

	switch n := a.rng.Float64(); {
	case n < 0.10 && len(a.recent) > 0:
		pick := a.rng.Intn(len(a.recent))
		target := a.recent[pick]
		a.recent = append(a.recent[:pick], a.recent[pick+1:]...)
		if err := a.engines.ForPair(target.pair).Cancel(target.id); err != nil && !errors.Is(err, ErrOrderNotFound) {
			a.logger.Warn("activity cancel failed", zap.Error(err))
		}
	case n < 0.35:
		// Aggressive order at the far quote so a trade prints.
		side := marketdata.Buy
		account := makerBuyAccount
		price := mid * 1.005
		if a.rng.Intn(2) == 0 {
			side = marketdata.Sell
			account = makerSellAccount
			price = mid * 0.995
		}
		a.submit(engine, account, side, price, a.amount())
	default:
		spread := mid * (0.0005 + a.rng.Float64()*0.002)
		a.submit(engine, makerBuyAccount, marketdata.Buy, mid-spread, a.amount())
		a.submit(engine, makerSellAccount, marketdata.Sell, mid+spread, a.amount())
	}
}

func (a *Activity) submit(engine *Engine, account string, side marketdata.Side, price float64, amount decimal.Decimal) {
	p := decimal.NewFromFloat(price).Round(2)
	if p.Sign() <= 0 {
		return
	}
	id, err := engine.Submit(account, side, p, amount)
	if errors.Is(err, ErrInsufficientBalance) {
		// Underfunded submissions are skipped, not errors.
		return
	}
	if err != nil {
		a.logger.Warn("activity submit failed", zap.Error(err))
		return
	}
	a.recent = append(a.recent, placedOrder{pair: engine.Pair(), id: id})
	if len(a.recent) > 256 {
		a.recent = a.recent[1:]
	}
}

func (a *Activity) amount() decimal.Decimal {
	return decimal.NewFromFloat(0.05 + a.rng.Float64()).Round(4)
}
