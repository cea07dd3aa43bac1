// Package app wires all VerseCatch subsystems into a running server.
//
// The App struct owns the full lifecycle: New opens storage and builds the
// detection pipeline, Run serves HTTP until its context ends and drains every
// live session, and Shutdown releases what New acquired.
//
// For testing, inject doubles via functional options (WithStorage,
// WithMetrics, WithGatherer). When an option is not provided, New creates
// real implementations from the config.
package app

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/versecatch/internal/achievement"
	"github.com/MrWong99/versecatch/internal/config"
	"github.com/MrWong99/versecatch/internal/health"
	"github.com/MrWong99/versecatch/internal/identity"
	"github.com/MrWong99/versecatch/internal/ledger"
	"github.com/MrWong99/versecatch/internal/observe"
	"github.com/MrWong99/versecatch/internal/resilience"
	"github.com/MrWong99/versecatch/internal/stream"
	"github.com/MrWong99/versecatch/pkg/provider/detect"
)

// Version is reported by the welcome endpoint. Overridden at build time.
var Version = "dev"

// Detector is one named detection backend.
type Detector struct {
	Name     string
	Provider detect.Provider
}

// Providers holds the detection backends built by main.go via the config
// registry. Fallbacks are tried in order when the primary fails.
type Providers struct {
	Detector  Detector
	Fallbacks []Detector
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers

	storage      Storage
	ledger       ledger.Store
	resolver     *identity.Resolver
	achievements *achievement.Engine
	detector     *resilience.DetectFallback
	metrics      *observe.Metrics
	gatherer     prometheus.Gatherer
	health       *health.Handler
	stream       *stream.Handler

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStorage injects a backend instead of opening the configured one. The
// caller keeps ownership: Shutdown does not close it.
func WithStorage(s Storage) Option {
	return func(a *App) { a.storage = s }
}

// WithMetrics injects the metric instruments instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithGatherer sets the source of /metrics instead of
// [prometheus.DefaultGatherer].
func WithGatherer(g prometheus.Gatherer) Option {
	return func(a *App) { a.gatherer = g }
}

// New creates an App by wiring all subsystems together. cfg must already be
// validated (see [config.Load]).
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.Detector.Provider == nil {
		return nil, errors.New("app: a detector is required")
	}
	a := &App{cfg: cfg, providers: providers}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.gatherer == nil {
		a.gatherer = prometheus.DefaultGatherer
	}

	// ── 1. Storage ───────────────────────────────────────────────────────
	if a.storage == nil {
		s, closeFn, err := OpenStorage(ctx, cfg.Storage)
		if err != nil {
			return nil, err
		}
		a.storage = s
		a.closers = append(a.closers, closeFn)
	}
	a.ledger = ledger.WithRetry(a.storage, ledger.RetryPolicy{
		MaxAttempts: cfg.Ledger.MaxAttempts,
		BaseBackoff: cfg.Ledger.BaseBackoff,
	})

	// ── 2. Identity ──────────────────────────────────────────────────────
	a.resolver = identity.NewResolver(a.storage,
		identity.WithAnonymousScope(identity.Scope(cfg.Identity.AnonymousScope)),
		identity.WithCacheTTL(cfg.Identity.CacheTTL),
	)

	// ── 3. Achievements ──────────────────────────────────────────────────
	rules, err := achievement.DefaultRules().WithThresholds(cfg.Achievements)
	if err != nil {
		return nil, fmt.Errorf("app: achievements: %w", err)
	}
	a.achievements = achievement.NewEngine(a.storage, a.ledger,
		achievement.WithRules(rules),
		achievement.WithUnlockHook(func(ctx context.Context, ach achievement.Achievement) {
			a.metrics.RecordAchievement(ctx, string(ach.Tag))
		}),
	)

	// ── 4. Detection ─────────────────────────────────────────────────────
	a.detector = a.buildDetector()

	// ── 5. HTTP handlers ─────────────────────────────────────────────────
	auth, err := stream.NewAuthenticator(cfg.Server.APIKeyHash)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	a.stream, err = stream.NewHandler(stream.Config{
		Detector:        a.detector,
		Resolver:        a.resolver,
		Ledger:          a.ledger,
		Achievements:    a.achievements,
		Metrics:         a.metrics,
		QueueSize:       cfg.Stream.QueueSize,
		DetectTimeout:   cfg.Detector.Timeout,
		DrainTimeout:    cfg.Stream.DrainTimeout,
		ReplyOnNoMatch:  cfg.Stream.ReplyOnNoMatch,
		DefaultVersion:  cfg.Stream.DefaultVersion,
		MaxMessageBytes: cfg.Stream.MaxMessageBytes,
		OriginPatterns:  cfg.Stream.OriginPatterns,
	}, auth)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	a.health = health.New(
		health.PingCheck("storage", a.storage),
		health.AvailabilityCheck("detector", a.detector.Available),
	)

	return a, nil
}

// buildDetector puts every configured detector behind its own circuit
// breaker, primary first.
func (a *App) buildDetector() *resilience.DetectFallback {
	b := a.cfg.Detector.Breaker
	fbCfg := resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			MaxFailures:  b.MaxFailures,
			ResetTimeout: b.ResetTimeout,
			HalfOpenMax:  b.HalfOpenMax,
			OnStateChange: func(name string, _, to resilience.State) {
				a.metrics.RecordBreakerTransition(context.Background(), name, to.String())
			},
		},
	}
	p := a.providers
	df := resilience.NewDetectFallback(p.Detector.Provider, p.Detector.Name, fbCfg)
	seen := map[string]bool{p.Detector.Name: true}
	for i, fb := range p.Fallbacks {
		// Breaker names key readiness output and metrics, so keep them unique.
		name := fb.Name
		if name == "" || seen[name] {
			name = fmt.Sprintf("%s-%d", cmp.Or(fb.Name, "fallback"), i+1)
		}
		seen[name] = true
		df.AddFallback(name, fb.Provider)
	}
	return df
}

// Handler returns the HTTP routes. The stream endpoint bypasses the HTTP
// middleware: its request lives as long as the connection.
func (a *App) Handler() http.Handler {
	api := http.NewServeMux()
	a.health.Register(api)
	api.Handle("GET /metrics", promhttp.HandlerFor(a.gatherer, promhttp.HandlerOpts{}))
	api.HandleFunc("GET /{$}", a.welcome)

	root := http.NewServeMux()
	root.Handle("GET "+stream.Path, a.stream)
	root.Handle("/", observe.Middleware(a.metrics)(api))
	return root
}

func (a *App) welcome(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"message": "Welcome to VerseCatch",
		"version": Version,
		"stream":  stream.Path,
	})
}

// Run listens on server.listen_addr and serves until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen %q: %w", a.cfg.Server.ListenAddr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled, then shuts down gracefully:
// readiness flips to failing, the listener closes, and live sessions stop
// reading and drain their queues, all within server.shutdown_timeout.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	// Sessions outlive ctx so that they can drain; they are told to stop
	// only once the listener is closed.
	sessionCtx, stopSessions := context.WithCancel(context.WithoutCancel(ctx))
	defer stopSessions()

	srv := &http.Server{
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return sessionCtx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.health.SetDraining(true)
		slog.Info("draining", "timeout", a.cfg.Server.ShutdownTimeout)

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Server.ShutdownTimeout)
		defer cancel()

		err := srv.Shutdown(shutdownCtx)
		stopSessions()
		if werr := a.stream.Wait(shutdownCtx); werr != nil {
			slog.Warn("sessions still running at shutdown deadline", "err", werr)
			err = errors.Join(err, werr)
		}
		if err != nil {
			return fmt.Errorf("app: shutdown: %w", err)
		}
		return nil
	})
	return g.Wait()
}

// Shutdown releases everything New acquired, in order. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}
