package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sort"

	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/vietddude/suindexer/internal/core/config"
	"github.com/vietddude/suindexer/internal/core/domain"
	"github.com/vietddude/suindexer/internal/core/worker"
	"github.com/vietddude/suindexer/internal/indexing/health"
	"github.com/vietddude/suindexer/internal/indexing/indexer"
	"github.com/vietddude/suindexer/internal/indexing/poller"
	"github.com/vietddude/suindexer/internal/indexing/processor"
	"github.com/vietddude/suindexer/internal/indexing/recovery"
	"github.com/vietddude/suindexer/internal/indexing/signal"
	"github.com/vietddude/suindexer/internal/infra/chain"
	"github.com/vietddude/suindexer/internal/infra/chain/sui"
	redisclient "github.com/vietddude/suindexer/internal/infra/redis"
	"github.com/vietddude/suindexer/internal/infra/rpc/provider"
	"github.com/vietddude/suindexer/internal/infra/storage"
	"github.com/vietddude/suindexer/internal/infra/storage/memory"
	"github.com/vietddude/suindexer/internal/infra/storage/sqldb"
	"github.com/vietddude/suindexer/internal/infra/tracing"
)

// ProcessorFactory builds the processor of one event type for a package.
type ProcessorFactory func(packageID string, logger *slog.Logger) *processor.Processor

// Processors lists every event type the binary knows how to project.
var Processors = map[domain.EventType]ProcessorFactory{
	processor.PropertyCreated: processor.NewPropertyCreated,
}

// App wires storage, the Sui client, the indexer and its HTTP and gRPC
// surfaces together and owns their lifecycle.
type App struct {
	cfg     *config.AppConfig
	store   storage.Store
	db      *sqldb.DB
	indexer *indexer.Indexer
	http    *health.Server
	auditor *worker.Auditor
	logger  *slog.Logger

	grpc       *grpc.Server
	dispatcher *signal.Dispatcher
	redis      *redisclient.Client
	shutdown   func(context.Context) error

	runCancel  context.CancelFunc
	closeStore bool
}

// Options overrides collaborators NewApp would otherwise build from config.
type Options struct {
	Store  storage.Store
	Source chain.EventSource
}

// NewApp creates an App with all dependencies initialized. Nothing runs
// until Start.
func NewApp(ctx context.Context, cfg *config.AppConfig, opts Options, logger *slog.Logger) (*App, error) {
	a := &App{
		cfg:        cfg,
		logger:     logger.With("component", "app"),
		shutdown:   func(context.Context) error { return nil },
		closeStore: true,
	}

	// 1. Tracing
	shutdown, err := tracing.Setup(ctx, cfg.Tracing)
	if err != nil {
		return nil, fmt.Errorf("failed to init tracing: %w", err)
	}
	a.shutdown = shutdown

	// 2. Storage
	store := opts.Store
	if store == nil {
		store, err = a.openStore(ctx)
		if err != nil {
			_ = a.release(ctx)
			return nil, err
		}
	}
	a.store = store

	// 3. Upstream
	source := opts.Source
	if source == nil {
		prov, err := newProvider(cfg.Sui)
		if err != nil {
			_ = a.release(ctx)
			return nil, err
		}
		source = sui.NewClient(prov)
	}

	// 4. Signal sinks
	sinks := []signal.Sink{signal.NewLogSink(logger), signal.MetricsSink{}}
	if cfg.Server.GRPCPort > 0 {
		hs := grpchealth.NewServer()
		sinks = append(sinks, health.NewGRPCSink(hs))
		a.grpc = grpc.NewServer()
		healthpb.RegisterHealthServer(a.grpc, hs)
	}
	if cfg.Redis.URL != "" {
		client, err := redisclient.NewClient(cfg.Redis)
		if err != nil {
			a.logger.Warn("Failed to connect to Redis, signal stream disabled", "error", err)
		} else {
			a.redis = client
			a.dispatcher = signal.NewDispatcher(signal.DefaultBuffer, redisclient.NewStreamSink(client, logger))
			sinks = append(sinks, a.dispatcher)
		}
	}

	// 5. Indexer
	ixCfg := indexer.Config{
		Poller: poller.Config{
			Interval:  cfg.Indexer.PollInterval,
			BatchSize: cfg.Indexer.BatchSize,
			Retry:     cfg.Indexer.Retry,
			CatchUp:   cfg.Indexer.CatchUp,
		},
		Health: health.DefaultConfig,
		Recovery: recovery.Config{
			MaxRetries: cfg.Indexer.MaxDeadLetterRetries,
			BatchSize:  cfg.Indexer.DeadLetterBatch,
		},
	}
	ixCfg.Health.Interval = cfg.Indexer.HealthInterval

	a.indexer = indexer.New(ixCfg, store, source, signal.Multi(sinks...), logger)

	types, err := selectTypes(cfg.Indexer.EventTypes)
	if err != nil {
		_ = a.release(ctx)
		return nil, err
	}
	for _, t := range types {
		if err := a.indexer.RegisterProcessor(Processors[t](cfg.Sui.PackageID, logger)); err != nil {
			_ = a.release(ctx)
			return nil, fmt.Errorf("failed to register %s: %w", t, err)
		}
	}

	maxRetries := cfg.Indexer.MaxDeadLetterRetries
	if maxRetries <= 0 {
		maxRetries = recovery.DefaultConfig.MaxRetries
	}
	a.auditor = worker.NewAuditor(cfg.Indexer.DeadLetterAudit, maxRetries, store.DeadLetters(), logger)

	// 6. HTTP surface
	status := func(ctx context.Context) (any, error) {
		return a.indexer.Status(ctx)
	}
	a.http = health.NewServer(a.indexer.Monitor(), a.indexer, status, cfg.Server.Port, logger)

	return a, nil
}

// newProvider connects to the primary node, failing over to the fallbacks in
// order when configured.
func newProvider(cfg config.SuiConfig) (provider.Provider, error) {
	primary := provider.NewHTTPProvider("sui", cfg.RPCURL, cfg.Timeout)
	if len(cfg.FallbackURLs) == 0 {
		return primary, nil
	}

	providers := []provider.Provider{primary}
	for i, u := range cfg.FallbackURLs {
		providers = append(providers, provider.NewHTTPProvider(fmt.Sprintf("sui-fallback-%d", i+1), u, cfg.Timeout))
	}
	return provider.NewPool(providers...)
}

func (a *App) openStore(ctx context.Context) (storage.Store, error) {
	if a.cfg.Database.Driver == config.DriverMemory {
		a.logger.Warn("Using in-memory storage, state is lost on restart")
		return memory.NewMemoryStorage(), nil
	}

	db, err := sqldb.NewDB(ctx, a.cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to init db: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate db: %w", err)
	}
	a.db = db
	a.logger.Info("Using SQL storage", "driver", a.cfg.Database.Driver)
	return db, nil
}

// selectTypes resolves configured event type names, defaulting to every
// known processor.
func selectTypes(names []string) ([]domain.EventType, error) {
	if len(names) == 0 {
		types := make([]domain.EventType, 0, len(Processors))
		for t := range Processors {
			types = append(types, t)
		}
		sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
		return types, nil
	}

	types := make([]domain.EventType, 0, len(names))
	for _, name := range names {
		t := domain.EventType(name)
		if _, ok := Processors[t]; !ok {
			return nil, fmt.Errorf("%w: %s", processor.ErrUnknownEventType, name)
		}
		types = append(types, t)
	}
	return types, nil
}

// Indexer returns the managed indexer.
func (a *App) Indexer() *indexer.Indexer {
	return a.indexer
}

// Handler returns the HTTP router.
func (a *App) Handler() http.Handler {
	return a.http.Handler()
}

// Start launches the servers and the indexer. It returns once everything is
// running.
func (a *App) Start(ctx context.Context) error {
	if err := a.Serve(ctx); err != nil {
		return err
	}
	return a.indexer.Start(ctx)
}

// Serve launches the HTTP and gRPC servers only. The indexer stays stopped
// until started through the admin routes.
func (a *App) Serve(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.runCancel = cancel

	go func() {
		if err := a.http.Start(); err != nil {
			a.logger.Error("HTTP server failed", "error", err)
		}
	}()

	if a.grpc != nil {
		lis, err := net.Listen("tcp", fmt.Sprintf(":%d", a.cfg.Server.GRPCPort))
		if err != nil {
			cancel()
			return fmt.Errorf("failed to listen for gRPC: %w", err)
		}
		go func() {
			a.logger.Info("gRPC health server listening", "addr", lis.Addr().String())
			if err := a.grpc.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				a.logger.Error("gRPC server failed", "error", err)
			}
		}()
	}

	if a.db != nil {
		a.db.StartMetricsCollector(runCtx)
	}
	go a.auditor.Start(runCtx)
	return nil
}

// Stop stops the indexer, waiting for in-flight commits bounded by ctx, then
// shuts down the servers and releases every connection.
func (a *App) Stop(ctx context.Context) error {
	a.logger.Info("Stopping app...")

	var errs []error
	drained := true
	if err := a.indexer.Stop(ctx); err != nil {
		drained = false
		errs = append(errs, fmt.Errorf("stop indexer: %w", err))
	}
	if err := a.http.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop http server: %w", err))
	}
	if a.grpc != nil {
		a.grpc.GracefulStop()
	}
	if a.runCancel != nil {
		a.runCancel()
	}

	if !drained {
		// A commit is still writing through the store
		a.logger.Warn("Indexer did not drain in time, leaving the store open")
		a.closeStore = false
	}
	if err := a.release(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// release flushes the signal stream and closes connections.
func (a *App) release(ctx context.Context) error {
	var errs []error
	if a.dispatcher != nil {
		a.dispatcher.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("Failed to close Redis", "error", err)
		}
	}
	if a.store != nil && a.closeStore {
		if err := a.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
	}
	if err := a.shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown tracing: %w", err))
	}
	return errors.Join(errs...)
}
