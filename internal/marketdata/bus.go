package marketdata

import (
	"sync"

	"go.uber.org/zap"
)

// BusConfig controls fan-out behaviour. Conflate marks the data types whose
// payloads are refreshable snapshots: a slow consumer observes only the
// latest value instead of a growing backlog. Discrete-fact types (trades,
// open-order transitions) must never be conflated.
type BusConfig struct {
	Conflate map[MarketDataType]bool
	// Buffer is the capacity of each subscriber's delivery channel.
	Buffer int
}

// DefaultBusConfig conflates TICKER, ORDERBOOK and BALANCE and preserves
// TRADES and OPEN_ORDERS in arrival order.
func DefaultBusConfig() BusConfig {
	return BusConfig{
		Conflate: map[MarketDataType]bool{
			Ticker:    true,
			OrderBook: true,
			Balance:   true,
		},
		Buffer: 16,
	}
}

// Bus is the in-process broadcast channel for canonical events, keyed by
// subscription. Many consumers may subscribe to the same key; each gets an
// independent cursor, and a slow consumer never blocks the publisher.
type Bus struct {
	cfg    BusConfig
	logger *zap.Logger

	mu       sync.RWMutex
	subs     map[MarketDataSubscription][]*BusSubscription
	wildcard []*BusSubscription
	closed   bool
}

// NewBus creates a bus with the given fan-out policy.
func NewBus(cfg BusConfig, logger *zap.Logger) *Bus {
	if cfg.Buffer <= 0 {
		cfg.Buffer = 16
	}
	return &Bus{
		cfg:    cfg,
		logger: logger,
		subs:   make(map[MarketDataSubscription][]*BusSubscription),
	}
}

// Subscribe registers a consumer for one subscription key. The returned
// stream is live until the consumer calls Close.
func (b *Bus) Subscribe(key MarketDataSubscription) *BusSubscription {
	s := b.newSubscription(key, b.cfg.Conflate[key.Type])

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		s.closeDetached()
		return s
	}
	b.subs[key] = append(b.subs[key], s)
	return s
}

// SubscribeAll registers a consumer for every event on the bus, regardless of
// key. Wildcard streams are never conflated since a single queue would drop
// snapshots of unrelated keys.
func (b *Bus) SubscribeAll() *BusSubscription {
	s := b.newSubscription(MarketDataSubscription{}, false)
	s.wildcard = true

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		s.closeDetached()
		return s
	}
	b.wildcard = append(b.wildcard, s)
	return s
}

// Publish fans an event out to every subscriber of its key. Never blocks.
func (b *Bus) Publish(ev Event) {
	// Clone under the read lock: removeSub shifts the backing arrays in
	// place, so the slice headers alone are not safe to iterate unlocked.
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	targets := make([]*BusSubscription, 0, len(b.subs[ev.Subscription])+len(b.wildcard))
	targets = append(targets, b.subs[ev.Subscription]...)
	targets = append(targets, b.wildcard...)
	b.mu.RUnlock()

	for _, s := range targets {
		s.enqueue(ev)
	}
}

// SubscriberCount reports the live consumers for a key.
func (b *Bus) SubscriberCount(key MarketDataSubscription) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[key])
}

// Close shuts the bus down and closes every subscriber stream.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	var all []*BusSubscription
	for _, subs := range b.subs {
		all = append(all, subs...)
	}
	all = append(all, b.wildcard...)
	b.subs = make(map[MarketDataSubscription][]*BusSubscription)
	b.wildcard = nil
	b.mu.Unlock()

	for _, s := range all {
		s.Close()
	}
}

func (b *Bus) newSubscription(key MarketDataSubscription, conflate bool) *BusSubscription {
	s := &BusSubscription{
		bus:      b,
		key:      key,
		conflate: conflate,
		ch:       make(chan Event, b.cfg.Buffer),
		notify:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	go s.pump()
	return s
}

func (b *Bus) remove(s *BusSubscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s.wildcard {
		b.wildcard = removeSub(b.wildcard, s)
		return
	}
	b.subs[s.key] = removeSub(b.subs[s.key], s)
	if len(b.subs[s.key]) == 0 {
		delete(b.subs, s.key)
	}
}

func removeSub(subs []*BusSubscription, target *BusSubscription) []*BusSubscription {
	for i, s := range subs {
		if s == target {
			return append(subs[:i], subs[i+1:]...)
		}
	}
	return subs
}

// BusSubscription is one consumer's independent cursor onto the bus.
type BusSubscription struct {
	bus      *Bus
	key      MarketDataSubscription
	wildcard bool
	conflate bool

	mu    sync.Mutex
	queue []Event

	ch     chan Event
	notify chan struct{}
	done   chan struct{}
	once   sync.Once
}

// C returns the consumer-facing event stream. It is closed by Close.
func (s *BusSubscription) C() <-chan Event {
	return s.ch
}

// Close detaches the consumer from the bus. Idempotent; no events are
// delivered after it returns the stream closed.
func (s *BusSubscription) Close() {
	s.once.Do(func() {
		s.bus.remove(s)
		close(s.done)
	})
}

// closeDetached closes a subscription that was never registered. Called with
// the bus lock held, so it must not go through remove.
func (s *BusSubscription) closeDetached() {
	s.once.Do(func() {
		close(s.done)
	})
}

func (s *BusSubscription) enqueue(ev Event) {
	s.mu.Lock()
	if s.conflate && len(s.queue) > 0 {
		// Latest value wins for refreshable snapshots.
		s.queue[len(s.queue)-1] = ev
	} else {
		s.queue = append(s.queue, ev)
	}
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *BusSubscription) pump() {
	defer close(s.ch)
	for {
		select {
		case <-s.done:
			return
		case <-s.notify:
		}
		for {
			s.mu.Lock()
			if len(s.queue) == 0 {
				s.mu.Unlock()
				break
			}
			ev := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()

			select {
			case s.ch <- ev:
			case <-s.done:
				return
			}
		}
	}
}
