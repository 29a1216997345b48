package worker

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/meridianaudio/renderworker/internal/health"
	"github.com/meridianaudio/renderworker/internal/observe"
	"github.com/meridianaudio/renderworker/internal/queue"
)

// App owns the dispatch loop for every configured Environment plus the
// operational HTTP surface (/health, /metrics), wrapped in [observe.Middleware]
// for request tracing and duration metrics. It follows the reference
// lifecycle idiom: New wires everything, Run blocks until ctx is
// cancelled, Shutdown tears down in order behind a sync.Once guard.
type App struct {
	environments []*Environment
	pollInterval time.Duration
	httpAddr     string
	metrics      *observe.Metrics

	server  *http.Server
	closers []func() error

	stopOnce sync.Once
}

// Option configures an App.
type Option func(*App)

// WithHTTPAddr overrides the default ":3002" listen address for /health and
// /metrics.
func WithHTTPAddr(addr string) Option {
	return func(a *App) { a.httpAddr = addr }
}

// WithMetrics overrides the metrics instance the HTTP surface's request
// middleware records to. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// New creates an App dispatching across environments (PROD should precede
// DEV in the slice, so processAll drains PROD first per §4.F) with the
// given fallback poll interval.
func New(environments []*Environment, pollInterval time.Duration, opts ...Option) *App {
	a := &App{
		environments: environments,
		pollInterval: pollInterval,
		httpAddr:     ":3002",
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	return a
}

// processAll runs one activation across every environment, PROD before DEV
// per the slice order New was given.
func (a *App) processAll(ctx context.Context) {
	for _, env := range a.environments {
		env.process(ctx)
	}
}

func (a *App) snapshot() map[string]health.EnvironmentStatus {
	out := make(map[string]health.EnvironmentStatus, len(a.environments))
	for _, env := range a.environments {
		out[env.Name] = env.snapshot()
	}
	return out
}

// Run starts the HTTP server, drains any backlog once immediately, then
// blocks dispatching on the realtime subscription and the fallback poll
// ticker until ctx is cancelled. It returns ctx.Err() on cancellation.
func (a *App) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	health.New(a.snapshot).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	a.server = &http.Server{Addr: a.httpAddr, Handler: observe.Middleware(a.metrics)(mux)}
	a.closers = append(a.closers, func() error {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})

	serverErrs := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", a.httpAddr)
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrs <- err
			return
		}
		serverErrs <- nil
	}()

	// Startup: drain any backlog accumulated during downtime.
	a.processAll(ctx)

	g, gCtx := errgroup.WithContext(ctx)
	for _, env := range a.environments {
		stop := env.Queue.SubscribeInserts(gCtx, a.pollInterval, func(queue.JobInserted) {
			env.process(gCtx)
		})
		a.closers = append(a.closers, func() error { stop(); return nil })
	}

	g.Go(func() error {
		ticker := time.NewTicker(a.pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gCtx.Done():
				return gCtx.Err()
			case <-ticker.C:
				a.processAll(gCtx)
			}
		}
	})

	select {
	case err := <-serverErrs:
		if err != nil {
			return fmt.Errorf("worker: http server: %w", err)
		}
	case <-ctx.Done():
	}

	_ = g.Wait()
	return ctx.Err()
}

// Shutdown tears down the HTTP server and every environment's subscription,
// in reverse-init order. An in-flight job is never interrupted — it either
// completes or times out via its lease, per §4.F.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down worker", "closers", len(a.closers))
		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("closer error", "index", i, "error", err)
			}
		}
	})
	return shutdownErr
}
