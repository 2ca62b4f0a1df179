// Package observability exposes process health over HTTP: the pipeline is
// healthy once every watched exchange has completed its first successful
// fetch.
package observability

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ReadinessChecker reports whether one exchange's pipeline is live.
type ReadinessChecker interface {
	AwaitReady(exchange string, timeout time.Duration) error
}

// HealthChecker serves /healthz over the subscription manager's readiness
// signal.
type HealthChecker struct {
	checker    ReadinessChecker
	logger     *zap.Logger
	httpServer *http.Server

	mu        sync.RWMutex
	exchanges []string
	shutdown  bool
}

// NewHealthChecker watches the given exchanges through checker.
func NewHealthChecker(checker ReadinessChecker, exchanges []string, logger *zap.Logger) *HealthChecker {
	return &HealthChecker{
		checker:   checker,
		logger:    logger,
		exchanges: exchanges,
	}
}

// SetExchanges replaces the watched exchange set.
func (h *HealthChecker) SetExchanges(exchanges []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.exchanges = exchanges
}

// StartHTTPServer serves /healthz until Shutdown.
func (h *HealthChecker) StartHTTPServer(addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealthz)

	h.httpServer = &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	h.logger.Info("starting HTTP health server", zap.String("addr", addr))
	return h.httpServer.ListenAndServe()
}

// Shutdown stops the HTTP server and marks the process not ready.
func (h *HealthChecker) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.shutdown = true
	h.mu.Unlock()

	if h.httpServer != nil {
		return h.httpServer.Shutdown(ctx)
	}
	return nil
}

func (h *HealthChecker) handleHealthz(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	exchanges := h.exchanges
	shutdown := h.shutdown
	h.mu.RUnlock()

	if shutdown {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, "SHUTTING_DOWN")
		return
	}
	for _, name := range exchanges {
		if err := h.checker.AwaitReady(name, 0); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprintf(w, "NOT_READY %s", name)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}
