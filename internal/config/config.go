// Package config loads process configuration from the environment, with an
// optional .env file for local development.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config is the full process configuration. Immutable once loaded.
type Config struct {
	App       AppConfig       `envPrefix:"APP_"`
	Polling   PollingConfig   `envPrefix:"POLL_"`
	Simulated SimulatedConfig `envPrefix:"SIMULATED_"`
	Binance   BinanceConfig   `envPrefix:"BINANCE_"`
	Kafka     KafkaConfig     `envPrefix:"KAFKA_"`
	Jobs      JobsConfig      `envPrefix:"JOBS_"`
}

// AppConfig names the process and its observability surface.
type AppConfig struct {
	Name     string `env:"NAME" envDefault:"orko"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	HTTPPort int    `env:"HTTP_PORT" envDefault:"8080"`
	// Subscriptions is the initial desired set, comma separated entries of
	// the form exchange:BASE/COUNTER:TYPE, e.g. simulated:BTC/USD:TICKER.
	Subscriptions []string `env:"SUBSCRIPTIONS" envSeparator:"," envDefault:""`
}

// PollingConfig sets per-type poll cadence and the manager's bounds.
type PollingConfig struct {
	TickerInterval     time.Duration `env:"TICKER_INTERVAL" envDefault:"500ms"`
	OrderBookInterval  time.Duration `env:"ORDERBOOK_INTERVAL" envDefault:"500ms"`
	TradesInterval     time.Duration `env:"TRADES_INTERVAL" envDefault:"1s"`
	BalanceInterval    time.Duration `env:"BALANCE_INTERVAL" envDefault:"10s"`
	OpenOrdersInterval time.Duration `env:"OPEN_ORDERS_INTERVAL" envDefault:"10s"`
	OrderBookDepth     int           `env:"ORDERBOOK_DEPTH" envDefault:"20"`
	FetchTimeout       time.Duration `env:"FETCH_TIMEOUT" envDefault:"10s"`
	ReadinessTimeout   time.Duration `env:"READINESS_TIMEOUT" envDefault:"30s"`
}

// SimulatedConfig controls the in-process exchange and its activity
// generator.
type SimulatedConfig struct {
	Enabled bool `env:"ENABLED" envDefault:"true"`
	// APIKey selects the simulated account, the way a real key would.
	APIKey           string        `env:"API_KEY" envDefault:"Test"`
	Pairs            []string      `env:"PAIRS" envSeparator:"," envDefault:"BTC/USD"`
	ActivityInterval time.Duration `env:"ACTIVITY_INTERVAL" envDefault:"20ms"`
	ActivitySeed     int64         `env:"ACTIVITY_SEED" envDefault:"0"`
	AnchorPrice      float64       `env:"ANCHOR_PRICE" envDefault:"9000"`
}

// BinanceConfig controls the real-venue example adapter.
type BinanceConfig struct {
	Enabled        bool   `env:"ENABLED" envDefault:"false"`
	APIKey         string `env:"API_KEY" envDefault:""`
	APISecret      string `env:"API_SECRET" envDefault:""`
	LoadRemoteData bool   `env:"LOAD_REMOTE_DATA" envDefault:"false"`
}

// KafkaConfig controls the optional canonical-event bridge.
type KafkaConfig struct {
	Enabled  bool     `env:"ENABLED" envDefault:"false"`
	Brokers  []string `env:"BROKERS" envSeparator:"," envDefault:"127.0.0.1:9092"`
	ClientID string   `env:"CLIENT_ID" envDefault:"orko"`
}

// JobsConfig locates the job record store. An empty path disables it.
type JobsConfig struct {
	DBPath string `env:"DB_PATH" envDefault:""`
}

// Load reads configuration from the environment, honoring a .env file when
// present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}
