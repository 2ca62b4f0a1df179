package exchange

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// ErrUnknownExchange is returned for a name no factory was registered under.
var ErrUnknownExchange = errors.New("exchange: unknown exchange")

// Config is the per-exchange configuration, immutable once the service
// starts. LoadRemoteData=false suppresses any construction-time calls to
// remote metadata endpoints, so tests and the simulated exchange never touch
// the network.
type Config struct {
	APIKey         string
	APISecret      string
	LoadRemoteData bool
}

// Factory builds a configured adapter for one exchange. Construction may be
// expensive (remote metadata, connection pools), which is why the service
// defers it until first use.
type Factory func(cfg Config) (Adapter, error)

// Service is the registry mapping friendly exchange names to adapters.
// Adapters are constructed lazily on first Get and cached for the process
// lifetime.
type Service struct {
	logger *zap.Logger

	mu        sync.Mutex
	configs   map[string]Config
	factories map[string]Factory
	adapters  map[string]Adapter
}

// NewService creates a registry over the given per-exchange configuration.
func NewService(configs map[string]Config, logger *zap.Logger) *Service {
	if configs == nil {
		configs = make(map[string]Config)
	}
	return &Service{
		logger:    logger,
		configs:   configs,
		factories: make(map[string]Factory),
		adapters:  make(map[string]Adapter),
	}
}

// Register binds a factory to a friendly exchange name. The name is the
// lookup key used throughout the system.
func (s *Service) Register(name string, factory Factory) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.factories[name] = factory
}

// Names enumerates the registered exchanges, sorted.
func (s *Service) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.factories))
	for name := range s.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Get returns the adapter for name, constructing it on first use. An adapter
// declaring no supported capability is a configuration error and fails here,
// before any loop is started on it.
func (s *Service) Get(name string) (Adapter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if adapter, ok := s.adapters[name]; ok {
		return adapter, nil
	}

	factory, ok := s.factories[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownExchange, name)
	}

	adapter, err := factory(s.configs[name])
	if err != nil {
		return nil, fmt.Errorf("exchange: constructing %q: %w", name, err)
	}

	caps := adapter.Capabilities()
	supported := 0
	for _, mode := range caps {
		if mode != ModeUnsupported {
			supported++
		}
	}
	if supported == 0 {
		return nil, fmt.Errorf("exchange: registering %q: %w", name, UnsupportedError("all capabilities"))
	}

	s.adapters[name] = adapter
	s.logger.Info("exchange adapter constructed",
		zap.String("exchange", name),
		zap.Int("capabilities", supported),
	)
	return adapter, nil
}
