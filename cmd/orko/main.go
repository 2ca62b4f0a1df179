package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/ajaxm-zz/orko/internal/bridge"
	"github.com/ajaxm-zz/orko/internal/config"
	"github.com/ajaxm-zz/orko/internal/exchange"
	"github.com/ajaxm-zz/orko/internal/exchange/binance"
	"github.com/ajaxm-zz/orko/internal/jobrun"
	"github.com/ajaxm-zz/orko/internal/logging"
	"github.com/ajaxm-zz/orko/internal/marketdata"
	"github.com/ajaxm-zz/orko/internal/observability"
	"github.com/ajaxm-zz/orko/internal/simulated"
	"github.com/ajaxm-zz/orko/internal/subscription"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewLogger(cfg.App.Name, cfg.App.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting orko market data core",
		zap.Bool("simulated", cfg.Simulated.Enabled),
		zap.Bool("binance", cfg.Binance.Enabled),
		zap.Int("http_port", cfg.App.HTTPPort),
	)

	// Exchange registry.
	exchangeConfigs := make(map[string]exchange.Config)
	if cfg.Simulated.Enabled {
		exchangeConfigs[simulated.ExchangeName] = exchange.Config{APIKey: cfg.Simulated.APIKey}
	}
	if cfg.Binance.Enabled {
		exchangeConfigs[binance.ExchangeName] = exchange.Config{
			APIKey:         cfg.Binance.APIKey,
			APISecret:      cfg.Binance.APISecret,
			LoadRemoteData: cfg.Binance.LoadRemoteData,
		}
	}
	svc := exchange.NewService(exchangeConfigs, logger)

	var activity *simulated.Activity
	if cfg.Simulated.Enabled {
		accounts := simulated.NewAccountFactory()
		engines := simulated.NewEngineFactory(accounts)
		svc.Register(simulated.ExchangeName, simulated.Factory(engines, accounts))

		pairs := make([]marketdata.Pair, 0, len(cfg.Simulated.Pairs))
		for _, raw := range cfg.Simulated.Pairs {
			pair, err := marketdata.ParsePair(raw)
			if err != nil {
				logger.Fatal("bad simulated pair", zap.String("pair", raw), zap.Error(err))
			}
			pairs = append(pairs, pair)
		}
		activity = simulated.NewActivity(simulated.ActivityConfig{
			Pairs:       pairs,
			Interval:    cfg.Simulated.ActivityInterval,
			Seed:        cfg.Simulated.ActivitySeed,
			AnchorPrice: cfg.Simulated.AnchorPrice,
		}, engines, accounts, logger)
		activity.Start()
		if err := activity.AwaitRunning(30 * time.Second); err != nil {
			logger.Fatal("simulated activity failed to start", zap.Error(err))
		}
	}
	if cfg.Binance.Enabled {
		svc.Register(binance.ExchangeName, binance.Factory(logger))
	}

	// Event bus and subscription manager.
	bus := marketdata.NewBus(marketdata.DefaultBusConfig(), logger)
	manager := subscription.NewManager(svc, bus, subscription.Config{
		PollIntervals: map[marketdata.MarketDataType]time.Duration{
			marketdata.Ticker:     cfg.Polling.TickerInterval,
			marketdata.OrderBook:  cfg.Polling.OrderBookInterval,
			marketdata.Trades:     cfg.Polling.TradesInterval,
			marketdata.Balance:    cfg.Polling.BalanceInterval,
			marketdata.OpenOrders: cfg.Polling.OpenOrdersInterval,
		},
		OrderBookDepth: cfg.Polling.OrderBookDepth,
		FetchTimeout:   cfg.Polling.FetchTimeout,
		RetryInitial:   250 * time.Millisecond,
		RetryMax:       10 * time.Second,
	}, logger)

	// Initial desired subscription set.
	var subs []marketdata.MarketDataSubscription
	for _, raw := range cfg.App.Subscriptions {
		if raw == "" {
			continue
		}
		sub, err := marketdata.ParseSubscription(raw)
		if err != nil {
			logger.Fatal("bad subscription", zap.String("subscription", raw), zap.Error(err))
		}
		subs = append(subs, sub)
	}
	if err := manager.SetSubscriptions(subs); err != nil {
		logger.Error("some subscriptions failed to start", zap.Error(err))
	}

	watched := make(map[string]struct{})
	for _, sub := range subs {
		watched[sub.Spec.Exchange] = struct{}{}
	}
	exchanges := make([]string, 0, len(watched))
	for name := range watched {
		exchanges = append(exchanges, name)
	}
	for _, name := range exchanges {
		go func(name string) {
			if err := manager.AwaitReady(name, cfg.Polling.ReadinessTimeout); err != nil {
				logger.Warn("exchange not ready", zap.String("exchange", name), zap.Error(err))
				return
			}
			logger.Info("exchange ready", zap.String("exchange", name))
		}(name)
	}

	// Health endpoint over per-exchange readiness.
	healthChecker := observability.NewHealthChecker(manager, exchanges, logger)
	httpErrCh := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.App.HTTPPort)
		if err := healthChecker.StartHTTPServer(addr); err != nil && err != http.ErrServerClosed {
			httpErrCh <- err
		}
	}()

	// Optional Kafka bridge for out-of-process consumers.
	bridgeCtx, cancelBridge := context.WithCancel(context.Background())
	defer cancelBridge()
	var publisher *bridge.Publisher
	if cfg.Kafka.Enabled {
		publisher, err = bridge.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.ClientID, logger)
		if err != nil {
			logger.Fatal("failed to start kafka bridge", zap.Error(err))
		}
		go publisher.Run(bridgeCtx, bus.SubscribeAll())
	}

	// Job record store for the job engine collaborator.
	var jobStore *jobrun.Store
	if cfg.Jobs.DBPath != "" {
		jobStore, err = jobrun.Open(cfg.Jobs.DBPath)
		if err != nil {
			logger.Fatal("failed to open job store", zap.Error(err))
		}
		pending, err := jobStore.ListUnprocessed(context.Background(), 100)
		if err != nil {
			logger.Error("failed to list pending jobs", zap.Error(err))
		} else {
			logger.Info("job store opened", zap.Int("pending_jobs", len(pending)))
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	case err := <-httpErrCh:
		logger.Error("HTTP server error", zap.Error(err))
	}

	logger.Info("shutting down gracefully...")

	if err := manager.Stop(30 * time.Second); err != nil {
		logger.Error("error stopping subscription manager", zap.Error(err))
	}
	if activity != nil {
		activity.Stop()
		if err := activity.AwaitTerminated(30 * time.Second); err != nil {
			logger.Error("error stopping simulated activity", zap.Error(err))
		}
	}
	cancelBridge()
	if publisher != nil {
		publisher.Close()
	}
	bus.Close()
	if jobStore != nil {
		if err := jobStore.Close(); err != nil {
			logger.Error("error closing job store", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := healthChecker.Shutdown(shutdownCtx); err != nil {
		logger.Error("error shutting down health checker", zap.Error(err))
	}

	logger.Info("orko stopped")
}
