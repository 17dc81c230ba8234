// Package server orchestrates all components: NATS client, route table, handler
// registry, dispatcher, optional dispatch log and the HTTP health surface.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	comms "github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/morezero/subject-router/internal/config"
	"github.com/morezero/subject-router/internal/handlers"
	"github.com/morezero/subject-router/pkg/commsutil"
	"github.com/morezero/subject-router/pkg/db"
	"github.com/morezero/subject-router/pkg/dispatcher"
	"github.com/morezero/subject-router/pkg/events"
	"github.com/morezero/subject-router/pkg/handler"
	"github.com/morezero/subject-router/pkg/metrics"
	"github.com/morezero/subject-router/pkg/routing"
)

const logPrefix = "server:server"

// shutdownGrace is added to the request timeout when draining in-flight chains.
const shutdownGrace = 5 * time.Second

type connectionChecker interface {
	Connected() bool
}

type databasePinger interface {
	Ping(ctx context.Context) error
}

type dispatchLister interface {
	ListRecent(ctx context.Context, subject string, limit int) ([]db.DispatchRecord, error)
	CountByOutcome(ctx context.Context, since time.Time) ([]db.OutcomeCount, error)
}

// Server is the subject-router orchestrator.
type Server struct {
	cfg        *config.Config
	table      *routing.Table
	comms      connectionChecker
	database   databasePinger
	dispatches dispatchLister
	gatherer   prometheus.Gatherer
	ready      atomic.Bool
	httpServer *http.Server
}

// ParseLogLevel maps LOG_LEVEL to a slog level; unknown values mean info.
func ParseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetupLogging installs the process-wide text logger.
func SetupLogging(level string) {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: ParseLogLevel(level)})))
}

// NewRegistry returns a handler registry holding every chain this binary ships with.
func NewRegistry() (*handler.Registry, error) {
	reg := handler.NewRegistry()
	if err := handlers.Register(reg); err != nil {
		return nil, fmt.Errorf("%s - failed to register handlers: %w", logPrefix, err)
	}
	return reg, nil
}

// Run starts the server, blocks until shutdown signal, then cleans up.
func Run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("%s - failed to load config: %w", logPrefix, err)
	}
	SetupLogging(cfg.LogLevel)
	if err := cfg.ValidateForServe(); err != nil {
		return err
	}

	slog.Info(fmt.Sprintf("%s - Starting subject-router", logPrefix))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := &Server{cfg: cfg}

	// Step 1: Load and validate routes
	table, routesPath, err := routing.LoadTable(cfg.RoutesFile)
	if err != nil {
		return fmt.Errorf("%s - failed to load routes: %w", logPrefix, err)
	}
	s.table = table
	slog.Info(fmt.Sprintf("%s - Using %d routes from %s", logPrefix, table.Len(), routesPath))

	reg, err := NewRegistry()
	if err != nil {
		return err
	}

	// Step 2: Connect to NATS
	nc, err := commsutil.Connect(cfg.COMMSURL, cfg.COMMSName)
	if err != nil {
		return fmt.Errorf("%s - failed to connect to NATS: %w", logPrefix, err)
	}
	broker := dispatcher.NewNatsBroker(nc)
	s.comms = broker

	// Step 3: Optional dispatch log
	var pool *pgxpool.Pool
	var publishers []events.EventPublisher
	if cfg.PersistenceEnabled() {
		pool, err = openDatabase(ctx, cfg)
		if err != nil {
			nc.Close()
			return err
		}
		repo := db.NewRepository(pool)
		s.database = repo
		s.dispatches = repo
		publishers = append(publishers, db.NewOutcomeStore(repo))
	} else {
		slog.Info(fmt.Sprintf("%s - DATABASE_URL not set, dispatch log disabled", logPrefix))
	}
	if cfg.EventsEnabled {
		publishers = append(publishers, events.NewCommsPublisher(nc, &events.CommsPublisherOpts{GlobalSubject: cfg.EventSubject}))
	}

	// Step 4: Metrics
	var dispatchMetrics *metrics.Dispatch
	if cfg.MetricsEnabled {
		promReg := prometheus.NewRegistry()
		promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		dispatchMetrics = metrics.NewDispatch(promReg)
		if err := dispatchMetrics.Register(); err != nil {
			closeAll(nc, pool)
			return fmt.Errorf("%s - failed to register metrics: %w", logPrefix, err)
		}
		s.gatherer = promReg
	}

	// Step 5: Create dispatcher and subscribe
	var publisher events.EventPublisher
	if len(publishers) > 0 {
		publisher = events.NewFanout(publishers...)
	}
	disp, err := dispatcher.NewDispatcher(dispatcher.NewDispatcherParams{
		Table:          table,
		Registry:       reg,
		Codec:          commsutil.NewJSONCodec(reg),
		Broker:         broker,
		Publisher:      publisher,
		Metrics:        dispatchMetrics,
		RequestTimeout: cfg.RequestTimeout,
	})
	if err != nil {
		closeAll(nc, pool)
		return fmt.Errorf("%s - invalid routing configuration: %w", logPrefix, err)
	}
	if err := disp.Start(); err != nil {
		closeAll(nc, pool)
		return err
	}
	s.ready.Store(true)

	// Step 6: Start HTTP health server
	httpAddr := fmt.Sprintf(":%d", cfg.HTTPPort)
	s.httpServer = &http.Server{Addr: httpAddr, Handler: s.routes(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		slog.Info(fmt.Sprintf("%s - HTTP health server listening on %s", logPrefix, httpAddr))
		if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error(fmt.Sprintf("%s - HTTP server error: %v", logPrefix, err))
		}
	}()

	slog.Info(fmt.Sprintf("%s - subject-router is ready", logPrefix))

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info(fmt.Sprintf("%s - Received signal %s, shutting down", logPrefix, sig))

	// Graceful shutdown: stop intake, let running chains reply, then close transports
	s.ready.Store(false)
	disp.Stop()
	drainCtx, drainCancel := context.WithTimeout(ctx, cfg.RequestTimeout+shutdownGrace)
	if err := disp.Wait(drainCtx); err != nil {
		slog.Warn(fmt.Sprintf("%s - in-flight chains did not finish: %v", logPrefix, err))
	}
	drainCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, cfg.HealthCheckTimeout)
	s.httpServer.Shutdown(shutdownCtx)
	shutdownCancel()

	if err := nc.Drain(); err != nil {
		slog.Warn(fmt.Sprintf("%s - NATS drain failed: %v", logPrefix, err))
	}
	if pool != nil {
		pool.Close()
	}

	slog.Info(fmt.Sprintf("%s - Shutdown complete", logPrefix))
	return nil
}

func openDatabase(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to connect to database: %w", logPrefix, err)
	}
	if !cfg.RunMigrations {
		return pool, nil
	}
	migrationSQL, err := db.LoadMigrationFiles(cfg.MigrationPath)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("%s - failed to load migrations: %w", logPrefix, err)
	}
	if err := db.RunMigrations(ctx, pool, migrationSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%s - failed to run migrations: %w", logPrefix, err)
	}
	return pool, nil
}

func closeAll(nc *comms.Conn, pool *pgxpool.Pool) {
	if pool != nil {
		pool.Close()
	}
	nc.Close()
}
