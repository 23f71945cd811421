// Package bootstrap wires stores, adapters, and services into a
// runnable application.
package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/meterline/meterline/adapters/clock"
	"github.com/meterline/meterline/adapters/email"
	"github.com/meterline/meterline/adapters/idgen"
	"github.com/meterline/meterline/adapters/memory"
	"github.com/meterline/meterline/adapters/metrics"
	"github.com/meterline/meterline/adapters/payment"
	"github.com/meterline/meterline/adapters/sqlite"
	"github.com/meterline/meterline/app"
	"github.com/meterline/meterline/config"
	"github.com/meterline/meterline/ports"
	"github.com/meterline/meterline/web"
)

// Version is stamped via ldflags at build time.
var Version = "dev"

// stores groups the persistence ports so sqlite and memory modes wire
// identically.
type stores struct {
	users       ports.UserStore
	ledgers     ports.LedgerStore
	events      ports.UsageEventStore
	invoices    ports.InvoiceStore
	planChanges ports.PlanChangeStore
}

// App represents the wired application.
type App struct {
	Logger     zerolog.Logger
	DB         *sqlite.DB // nil in memory mode
	HTTPServer *http.Server
	Metrics    *metrics.Collector
	Holder     *config.Holder // nil without hot reload

	mu         sync.RWMutex
	usage      *app.UsageService
	plans      *app.PlanService
	reconciler *app.ReconcilerService

	stores            stores
	payments          ports.PaymentProvider
	emailSender       ports.EmailSender
	clock             ports.Clock
	idGen             ports.IDGenerator
	reconcileInterval time.Duration
	stopCh            chan struct{}
}

// New wires the application from a loaded configuration.
func New(cfg *config.Config) (*App, error) {
	logger := newLogger(cfg.Logging)
	logger.Info().Str("version", Version).Msg("initializing meterline")

	a := &App{
		Logger: logger,
		clock:  clock.UTC{},
		idGen:  idgen.UUID{},
		stopCh: make(chan struct{}),
	}

	if err := a.initStores(cfg); err != nil {
		return nil, err
	}
	if err := a.initProviders(cfg); err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	a.Metrics = metrics.NewWithRegistry(reg)

	a.buildServices(cfg)
	a.reconcileInterval = cfg.Billing.ReconcileInterval

	var pinger web.Pinger
	if a.DB != nil {
		pinger = a.DB
	}
	var metricsHandler http.Handler
	if cfg.Metrics.Enabled {
		metricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	}
	handler := web.NewHandler(web.Config{
		DB:             pinger,
		MetricsHandler: metricsHandler,
		Version:        Version,
		Logger:         logger,
	})
	a.HTTPServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return a, nil
}

// NewWithHotReload wires the application from a config file and watches
// it for changes. Pricing and limits changes apply without restart.
func NewWithHotReload(path string) (*App, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	a, err := New(cfg)
	if err != nil {
		return nil, err
	}

	holder, err := config.NewHolder(path, a.Logger)
	if err != nil {
		return nil, fmt.Errorf("config holder: %w", err)
	}
	holder.OnChange(func(updated *config.Config) {
		a.Metrics.ConfigReloads.Inc()
		a.Metrics.ConfigLastReload.Set(float64(a.clock.Now().Unix()))
		a.buildServices(updated)
		a.Logger.Info().Msg("configuration applied")
	})
	holder.OnError(func(error) {
		a.Metrics.ConfigReloadErrors.Inc()
	})
	if err := holder.WatchFile(); err != nil {
		a.Logger.Warn().Err(err).Msg("config file watch unavailable")
	}
	holder.WatchSignals()
	a.Holder = holder
	return a, nil
}

func (a *App) initStores(cfg *config.Config) error {
	switch cfg.Database.Driver {
	case "memory":
		a.stores = stores{
			users:       memory.NewUserStore(),
			ledgers:     memory.NewLedgerStore(),
			events:      memory.NewUsageEventStore(),
			invoices:    memory.NewInvoiceStore(),
			planChanges: memory.NewPlanChangeStore(),
		}
		a.Logger.Info().Msg("using in-memory stores")
	default:
		db, err := sqlite.Open(cfg.Database.DSN)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		if err := db.Migrate(); err != nil {
			db.Close()
			return fmt.Errorf("migrate database: %w", err)
		}
		a.DB = db
		a.stores = stores{
			users:       sqlite.NewUserStore(db),
			ledgers:     sqlite.NewLedgerStore(db),
			events:      sqlite.NewUsageEventStore(db),
			invoices:    sqlite.NewInvoiceStore(db),
			planChanges: sqlite.NewPlanChangeStore(db),
		}
		a.Logger.Info().Str("dsn", cfg.Database.DSN).Msg("database ready")
	}
	return nil
}

func (a *App) initProviders(cfg *config.Config) error {
	provider, err := payment.NewProvider(cfg.Billing.Provider, payment.StripeConfig{
		SecretKey:     cfg.Billing.StripeSecretKey,
		PublicKey:     cfg.Billing.StripePublicKey,
		WebhookSecret: cfg.Billing.StripeWebhookKey,
	}, cfg.Billing.BaseURL)
	if err != nil {
		return fmt.Errorf("payment provider: %w", err)
	}
	a.payments = provider
	a.Logger.Info().Str("provider", provider.Name()).Msg("payment provider ready")

	sender, err := email.NewSender(cfg.Email.Provider, email.SMTPConfig{
		Host:     cfg.Email.Host,
		Port:     cfg.Email.Port,
		Username: cfg.Email.Username,
		Password: cfg.Email.Password,
		From:     cfg.Email.From,
		FromName: cfg.Email.FromName,
		UseTLS:   cfg.Email.UseTLS,
		BaseURL:  cfg.Billing.BaseURL,
	})
	if err != nil {
		return fmt.Errorf("email sender: %w", err)
	}
	a.emailSender = sender
	return nil
}

// buildServices (re)constructs the service layer from a configuration
// snapshot. Stores and providers persist across rebuilds, so a config
// reload swaps pricing and limits without dropping state.
func (a *App) buildServices(cfg *config.Config) {
	registry := cfg.LimitsRegistry()
	table := cfg.PricingTable()

	a.mu.Lock()
	defer a.mu.Unlock()

	a.usage = app.NewUsageService(app.UsageDeps{
		Users:   a.stores.users,
		Ledgers: a.stores.ledgers,
		Events:  a.stores.events,
		Pricing: table,
		Limits:  registry,
		Clock:   a.clock,
		IDGen:   a.idGen,
		Logger:  a.Logger.With().Str("service", "usage").Logger(),
		Metrics: a.Metrics,
	})
	a.plans = app.NewPlanService(app.PlanDeps{
		Users:          a.stores.users,
		Events:         a.stores.events,
		Invoices:       a.stores.invoices,
		PlanChanges:    a.stores.planChanges,
		Payments:       a.payments,
		Email:          a.emailSender,
		Limits:         registry,
		Clock:          a.clock,
		IDGen:          a.idGen,
		Logger:         a.Logger.With().Str("service", "plans").Logger(),
		Metrics:        a.Metrics,
		PremiumPriceID: cfg.Billing.PremiumPriceID,
		BaseURL:        cfg.Billing.BaseURL,
	})
	a.reconciler = app.NewReconcilerService(app.ReconcilerDeps{
		Users:            a.stores.users,
		Events:           a.stores.events,
		Invoices:         a.stores.invoices,
		Payments:         a.payments,
		Email:            a.emailSender,
		Clock:            a.clock,
		IDGen:            a.idGen,
		Logger:           a.Logger.With().Str("service", "reconciler").Logger(),
		Metrics:          a.Metrics,
		PlatformFeeCents: cfg.Billing.PlatformFeeCents,
		BaseURL:          cfg.Billing.BaseURL,
	})
}

// Usage returns the usage service.
func (a *App) Usage() *app.UsageService {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.usage
}

// Plans returns the plan lifecycle service.
func (a *App) Plans() *app.PlanService {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.plans
}

// Reconciler returns the billing reconciler.
func (a *App) Reconciler() *app.ReconcilerService {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.reconciler
}

// Run starts the HTTP server and the reconcile scheduler, then blocks
// until SIGINT/SIGTERM or a server error.
func (a *App) Run() error {
	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info().Str("addr", a.HTTPServer.Addr).Msg("starting http server")
		if err := a.HTTPServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	go a.reconcileLoop()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		a.Logger.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	return a.Shutdown()
}

// reconcileLoop runs the billing reconciler on the configured interval.
func (a *App) reconcileLoop() {
	interval := a.reconcileInterval
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-a.stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
			if err := a.Reconciler().Run(ctx); err != nil {
				a.Logger.Error().Err(err).Msg("reconcile run failed")
			}
			cancel()
		}
	}
}

// Shutdown gracefully stops the application.
func (a *App) Shutdown() error {
	close(a.stopCh)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if a.Holder != nil {
		a.Holder.Stop()
	}
	if a.HTTPServer != nil {
		if err := a.HTTPServer.Shutdown(ctx); err != nil {
			a.Logger.Error().Err(err).Msg("http server shutdown error")
		}
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			a.Logger.Error().Err(err).Msg("database close error")
		}
	}

	a.Logger.Info().Msg("shutdown complete")
	return nil
}

func newLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if cfg.Format == "console" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		logger = zerolog.New(os.Stderr)
	}
	return logger.Level(level).With().Timestamp().Logger()
}
