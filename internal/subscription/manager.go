// Package subscription contains the market data subscription manager: it
// tracks the desired set of (exchange, pair, data type) subscriptions, keeps
// exactly one polling loop or push stream per (exchange, type) alive to
// satisfy them, normalizes adapter responses into canonical events and fans
// them out on the bus.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ajaxm-zz/orko/internal/exchange"
	"github.com/ajaxm-zz/orko/internal/lifecycle"
	"github.com/ajaxm-zz/orko/internal/marketdata"
)

// ErrStopped rejects calls on a manager that has been stopped.
var ErrStopped = errors.New("subscription: manager stopped")

// ErrReadyTimeout reports that an exchange produced no successful fetch
// within the wait.
var ErrReadyTimeout = errors.New("subscription: timed out awaiting exchange readiness")

// Config tunes the manager. Poll intervals are per data type: snapshot feeds
// sub-second, account feeds slower.
type Config struct {
	PollIntervals map[marketdata.MarketDataType]time.Duration
	// OrderBookDepth is passed to FetchOrderBook.
	OrderBookDepth int
	// FetchTimeout bounds one adapter call.
	FetchTimeout time.Duration
	// RetryInitial and RetryMax bound the transient-failure backoff.
	RetryInitial time.Duration
	RetryMax     time.Duration
}

// DefaultConfig matches the cadence the venue types tolerate.
func DefaultConfig() Config {
	return Config{
		PollIntervals: map[marketdata.MarketDataType]time.Duration{
			marketdata.Ticker:     500 * time.Millisecond,
			marketdata.OrderBook:  500 * time.Millisecond,
			marketdata.Trades:     time.Second,
			marketdata.Balance:    10 * time.Second,
			marketdata.OpenOrders: 10 * time.Second,
		},
		OrderBookDepth: 20,
		FetchTimeout:   10 * time.Second,
		RetryInitial:   250 * time.Millisecond,
		RetryMax:       10 * time.Second,
	}
}

func (c Config) interval(t marketdata.MarketDataType) time.Duration {
	if d, ok := c.PollIntervals[t]; ok && d > 0 {
		return d
	}
	return time.Second
}

type loopKey struct {
	exchange string
	dataType marketdata.MarketDataType
}

func (k loopKey) String() string {
	return k.exchange + "/" + string(k.dataType)
}

// loop is one worker serving every spec of a (exchange, type) pair. Poll
// loops take spec-set updates in place; push loops are restarted when their
// spec set changes, since streams are opened per pair.
type loop struct {
	key  loopKey
	mode exchange.Mode

	mu    sync.Mutex
	specs []marketdata.TickerSpec

	cancel context.CancelFunc
	done   chan struct{}
}

func (l *loop) setSpecs(specs []marketdata.TickerSpec) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.specs = specs
}

func (l *loop) snapshotSpecs() []marketdata.TickerSpec {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]marketdata.TickerSpec, len(l.specs))
	copy(out, l.specs)
	return out
}

func sameSpecs(a, b []marketdata.TickerSpec) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[marketdata.TickerSpec]struct{}, len(a))
	for _, s := range a {
		set[s] = struct{}{}
	}
	for _, s := range b {
		if _, ok := set[s]; !ok {
			return false
		}
	}
	return true
}

// Manager is the subscription core. One instance serves any number of
// consumers; fan-out is in-process via the bus, so consumer count never
// multiplies upstream load.
type Manager struct {
	svc    *exchange.Service
	bus    *marketdata.Bus
	cfg    Config
	logger *zap.Logger

	mu      sync.Mutex
	active  map[marketdata.MarketDataSubscription]struct{}
	loops   map[loopKey]*loop
	ready   map[string]chan struct{}
	stopped bool
}

// NewManager wires the manager over an exchange registry and a bus.
func NewManager(svc *exchange.Service, bus *marketdata.Bus, cfg Config, logger *zap.Logger) *Manager {
	return &Manager{
		svc:    svc,
		bus:    bus,
		cfg:    cfg,
		logger: logger,
		active: make(map[marketdata.MarketDataSubscription]struct{}),
		loops:  make(map[loopKey]*loop),
		ready:  make(map[string]chan struct{}),
	}
}

// Subscribe attaches a consumer stream for one subscription. The stream is
// live until the consumer closes it; it does not by itself start any
// upstream loop — SetSubscriptions controls what is kept flowing.
func (m *Manager) Subscribe(sub marketdata.MarketDataSubscription) *marketdata.BusSubscription {
	return m.bus.Subscribe(sub)
}

// ActiveSubscriptions returns the current desired set.
func (m *Manager) ActiveSubscriptions() []marketdata.MarketDataSubscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]marketdata.MarketDataSubscription, 0, len(m.active))
	for sub := range m.active {
		out = append(out, sub)
	}
	return out
}

// LoopCount reports the live (exchange, type) workers.
func (m *Manager) LoopCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.loops)
}

// SetSubscriptions replaces the desired subscription set. Input has set
// semantics; duplicates collapse. The manager diffs against the current set,
// stops loops whose (exchange, type) disappeared — waiting for them so no
// event is emitted after return — starts loops for new keys, and updates the
// spec list of surviving ones. A failure starting one exchange's loops never
// affects another exchange's; per-exchange failures are collected into the
// returned error.
func (m *Manager) SetSubscriptions(desired []marketdata.MarketDataSubscription) error {
	want := make(map[loopKey][]marketdata.TickerSpec)
	active := make(map[marketdata.MarketDataSubscription]struct{}, len(desired))
	for _, sub := range desired {
		if _, dup := active[sub]; dup {
			continue
		}
		active[sub] = struct{}{}
		key := loopKey{exchange: sub.Spec.Exchange, dataType: sub.Type}
		want[key] = append(want[key], sub.Spec)
	}

	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return ErrStopped
	}
	m.active = active

	var stopping []*loop
	for key, l := range m.loops {
		if _, keep := want[key]; !keep {
			l.cancel()
			stopping = append(stopping, l)
			delete(m.loops, key)
		}
	}

	var errs []error
	for key, specs := range want {
		if existing, ok := m.loops[key]; ok {
			if existing.mode == exchange.ModePoll || sameSpecs(existing.snapshotSpecs(), specs) {
				existing.setSpecs(specs)
				continue
			}
			// Push streams are per pair: restart the loop on a new spec set.
			existing.cancel()
			stopping = append(stopping, existing)
			delete(m.loops, key)
		}
		if err := m.startLoop(key, specs); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
	}
	m.mu.Unlock()

	for _, l := range stopping {
		<-l.done
	}
	return errors.Join(errs...)
}

// Stop tears down every loop and waits for them, bounded by timeout. Further
// SetSubscriptions calls fail with ErrStopped. Idempotent.
func (m *Manager) Stop(timeout time.Duration) error {
	m.mu.Lock()
	m.stopped = true
	m.active = make(map[marketdata.MarketDataSubscription]struct{})
	loops := make([]*loop, 0, len(m.loops))
	for key, l := range m.loops {
		l.cancel()
		loops = append(loops, l)
		delete(m.loops, key)
	}
	m.mu.Unlock()

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for _, l := range loops {
		select {
		case <-l.done:
		case <-deadline.C:
			return lifecycle.ErrWaitTimeout
		}
	}
	return nil
}

// AwaitReady blocks until the exchange's first successful fetch or stream
// delivery, failing with ErrReadyTimeout after the bounded wait.
func (m *Manager) AwaitReady(exchangeName string, timeout time.Duration) error {
	ch := m.readyChan(exchangeName)
	select {
	case <-ch:
		return nil
	default:
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ch:
		return nil
	case <-timer.C:
		return ErrReadyTimeout
	}
}

func (m *Manager) readyChan(exchangeName string) chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.ready[exchangeName]
	if !ok {
		ch = make(chan struct{})
		m.ready[exchangeName] = ch
	}
	return ch
}

func (m *Manager) markReady(exchangeName string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.ready[exchangeName]
	if !ok {
		ch = make(chan struct{})
		m.ready[exchangeName] = ch
	}
	select {
	case <-ch:
	default:
		close(ch)
	}
}

// startLoop is called with m.mu held.
func (m *Manager) startLoop(key loopKey, specs []marketdata.TickerSpec) error {
	adapter, err := m.svc.Get(key.exchange)
	if err != nil {
		return err
	}

	mode := adapter.Capabilities()[key.dataType]
	if mode == exchange.ModeUnsupported {
		return fmt.Errorf("%s on %s: %w", key.dataType, key.exchange,
			exchange.UnsupportedError(string(key.dataType)))
	}

	ctx, cancel := context.WithCancel(context.Background())
	l := &loop{
		key:    key,
		mode:   mode,
		specs:  specs,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	m.loops[key] = l

	switch mode {
	case exchange.ModePush:
		streamer, ok := adapter.(exchange.Streamer)
		if !ok {
			delete(m.loops, key)
			cancel()
			return fmt.Errorf("%s declares push for %s without a stream implementation: %w",
				key.exchange, key.dataType, exchange.UnsupportedError(string(key.dataType)))
		}
		go m.runPushLoop(ctx, l, streamer)
	default:
		go m.runPollLoop(ctx, l, adapter)
	}

	m.logger.Info("subscription loop started",
		zap.String("exchange", key.exchange),
		zap.String("type", string(key.dataType)),
		zap.String("mode", mode.String()),
		zap.Int("specs", len(specs)),
	)
	return nil
}

// publish drops events raced past a cancelled loop so stopping is final.
func (m *Manager) publish(ctx context.Context, ev marketdata.Event) {
	if ctx.Err() != nil {
		return
	}
	m.bus.Publish(ev)
}

// degrade surfaces one error event per affected subscription and stops the
// loop. Other loops, on this exchange and elsewhere, are untouched.
func (m *Manager) degrade(ctx context.Context, l *loop, cause error) {
	m.logger.Error("subscription loop degraded",
		zap.String("loop", l.key.String()),
		zap.Error(cause),
	)
	now := time.Now()
	for _, spec := range l.snapshotSpecs() {
		m.publish(ctx, marketdata.Event{
			Subscription: marketdata.NewSubscription(spec, l.key.dataType),
			Err:          cause,
			Timestamp:    now,
		})
	}
	m.mu.Lock()
	if m.loops[l.key] == l {
		delete(m.loops, l.key)
	}
	m.mu.Unlock()
}

// runPollLoop drives poll-mode types: at most one fetch pass per interval
// regardless of consumer count. Transient failures back off exponentially on
// this loop only, honoring a venue-provided delay; terminal failures degrade
// the loop.
func (m *Manager) runPollLoop(ctx context.Context, l *loop, adapter exchange.Adapter) {
	defer close(l.done)

	interval := m.cfg.interval(l.key.dataType)
	backoff := m.cfg.RetryInitial
	cursors := make(map[marketdata.TickerSpec]string)

	timer := time.NewTimer(0) // first pass immediately
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		err := m.pollOnce(ctx, l, adapter, cursors)
		switch {
		case err == nil:
			backoff = m.cfg.RetryInitial
			timer.Reset(interval)
		case ctx.Err() != nil:
			return
		case exchange.IsRetryable(err):
			delay := backoff
			if ra := exchange.RetryAfterOf(err); ra > delay {
				delay = ra
			}
			m.logger.Warn("poll failed, backing off",
				zap.String("loop", l.key.String()),
				zap.Duration("backoff", delay),
				zap.Error(err),
			)
			backoff *= 2
			if backoff > m.cfg.RetryMax {
				backoff = m.cfg.RetryMax
			}
			timer.Reset(delay)
		default:
			m.degrade(ctx, l, err)
			return
		}
	}
}

// pollOnce runs one fetch pass over the loop's specs and publishes the
// resulting canonical events.
func (m *Manager) pollOnce(ctx context.Context, l *loop, adapter exchange.Adapter, cursors map[marketdata.TickerSpec]string) error {
	for _, spec := range l.snapshotSpecs() {
		fetchCtx, cancel := context.WithTimeout(ctx, m.cfg.FetchTimeout)
		err := m.fetchSpec(fetchCtx, l, adapter, spec, cursors)
		cancel()
		if err != nil {
			return err
		}
		m.markReady(l.key.exchange)
	}
	return nil
}

func (m *Manager) fetchSpec(ctx context.Context, l *loop, adapter exchange.Adapter, spec marketdata.TickerSpec, cursors map[marketdata.TickerSpec]string) error {
	sub := marketdata.NewSubscription(spec, l.key.dataType)
	switch l.key.dataType {
	case marketdata.Ticker:
		ticker, err := adapter.FetchTicker(ctx, spec.Pair())
		if err != nil {
			return err
		}
		m.publish(ctx, marketdata.Event{Subscription: sub, Payload: ticker, Timestamp: ticker.Timestamp})

	case marketdata.OrderBook:
		book, err := adapter.FetchOrderBook(ctx, spec.Pair(), m.cfg.OrderBookDepth)
		if err != nil {
			return err
		}
		m.publish(ctx, marketdata.Event{Subscription: sub, Payload: book, Timestamp: book.Timestamp})

	case marketdata.Trades:
		trades, next, err := adapter.FetchTrades(ctx, spec.Pair(), cursors[spec])
		if err != nil {
			return err
		}
		cursors[spec] = next
		for _, trade := range trades {
			m.publish(ctx, marketdata.Event{Subscription: sub, Payload: trade, Timestamp: trade.Timestamp})
		}

	case marketdata.Balance:
		balances, err := adapter.FetchBalances(ctx)
		if err != nil {
			return err
		}
		m.publish(ctx, marketdata.Event{Subscription: sub, Payload: balances, Timestamp: balances.Timestamp})

	case marketdata.OpenOrders:
		orders, err := adapter.FetchOpenOrders(ctx, spec.Pair())
		if err != nil {
			return err
		}
		m.publish(ctx, marketdata.Event{Subscription: sub, Payload: orders, Timestamp: orders.Timestamp})

	default:
		return exchange.UnsupportedError(string(l.key.dataType))
	}
	return nil
}

// runPushLoop serves push-mode types: one long-lived stream per spec. A
// closed or failed stream is reopened with backoff; terminal failures
// degrade the whole loop.
func (m *Manager) runPushLoop(ctx context.Context, l *loop, streamer exchange.Streamer) {
	defer close(l.done)

	var wg sync.WaitGroup
	terminal := make(chan error, len(l.snapshotSpecs()))
	streamCtx, cancelStreams := context.WithCancel(ctx)
	defer cancelStreams()

	for _, spec := range l.snapshotSpecs() {
		wg.Add(1)
		go func(spec marketdata.TickerSpec) {
			defer wg.Done()
			if err := m.runStream(streamCtx, l, streamer, spec); err != nil {
				select {
				case terminal <- err:
				default:
				}
			}
		}(spec)
	}

	streamsDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(streamsDone)
	}()

	select {
	case <-ctx.Done():
		cancelStreams()
		<-streamsDone
	case err := <-terminal:
		cancelStreams()
		<-streamsDone
		m.degrade(ctx, l, err)
	case <-streamsDone:
	}
}

// runStream keeps one pair's stream open until ctx ends, reopening on
// transient failure. Returns a terminal error, or nil when cancelled.
func (m *Manager) runStream(ctx context.Context, l *loop, streamer exchange.Streamer, spec marketdata.TickerSpec) error {
	sub := marketdata.NewSubscription(spec, l.key.dataType)
	backoff := m.cfg.RetryInitial

	for ctx.Err() == nil {
		var err error
		delivered := false
		switch l.key.dataType {
		case marketdata.Ticker:
			var ch <-chan marketdata.TickerSnapshot
			ch, err = streamer.StreamTicker(ctx, spec.Pair())
			if err == nil {
				for ticker := range ch {
					delivered = true
					m.markReady(l.key.exchange)
					m.publish(ctx, marketdata.Event{Subscription: sub, Payload: ticker, Timestamp: ticker.Timestamp})
				}
			}
		case marketdata.Trades:
			var ch <-chan marketdata.TradeEvent
			ch, err = streamer.StreamTrades(ctx, spec.Pair())
			if err == nil {
				for trade := range ch {
					delivered = true
					m.markReady(l.key.exchange)
					m.publish(ctx, marketdata.Event{Subscription: sub, Payload: trade, Timestamp: trade.Timestamp})
				}
			}
		default:
			err = exchange.UnsupportedError(string(l.key.dataType) + " stream")
		}

		if ctx.Err() != nil {
			return nil
		}
		if err != nil && !exchange.IsRetryable(err) {
			return err
		}
		if delivered {
			// A healthy session clears whatever backoff earlier failures built
			// up, so a long-lived stream that drops once reopens promptly.
			backoff = m.cfg.RetryInitial
		}

		// Stream ended or failed transiently: reopen after a pause.
		delay := backoff
		if ra := exchange.RetryAfterOf(err); ra > delay {
			delay = ra
		}
		m.logger.Warn("stream interrupted, reopening",
			zap.String("loop", l.key.String()),
			zap.String("spec", spec.String()),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		backoff *= 2
		if backoff > m.cfg.RetryMax {
			backoff = m.cfg.RetryMax
		}
	}
	return nil
}
