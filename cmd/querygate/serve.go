package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/guillermoBallester/querygate/internal/adapter/gormdb"
	"github.com/guillermoBallester/querygate/internal/adapter/httpapi"
	"github.com/guillermoBallester/querygate/internal/adapter/mcp"
	"github.com/guillermoBallester/querygate/internal/adapter/memstore"
	"github.com/guillermoBallester/querygate/internal/adapter/policy"
	"github.com/guillermoBallester/querygate/internal/adapter/postgres"
	"github.com/guillermoBallester/querygate/internal/adapter/redisstore"
	"github.com/guillermoBallester/querygate/internal/adapter/resultstore"
	"github.com/guillermoBallester/querygate/internal/adapter/sqlstore"
	"github.com/guillermoBallester/querygate/internal/audit"
	"github.com/guillermoBallester/querygate/internal/config"
	"github.com/guillermoBallester/querygate/internal/core/domain"
	"github.com/guillermoBallester/querygate/internal/core/port"
	"github.com/guillermoBallester/querygate/internal/core/service"
	"github.com/guillermoBallester/querygate/internal/telemetry"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

const (
	serviceName       = "querygate"
	auditStreamMaxLen = 100_000
	shutdownTimeout   = 10 * time.Second
)

// backend is the queried data store plus what the gateway needs around it.
type backend struct {
	store    port.DataStore
	explorer port.SchemaExplorer // nil when the driver has no catalog support
	ping     func(ctx context.Context) error
	close    func()
}

func runServe(ctx context.Context, o config.Overrides) error {
	cfg, err := config.Load(o)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("starting querygate",
		slog.String("version", version),
		slog.String("transport", cfg.Transport),
		slog.String("db.system", cfg.DatabaseDriver),
		slog.String("database", redactDSN(cfg.DatabaseURL)),
		slog.Int("max_rows", cfg.MaxRows),
		slog.Int("preview_limit", cfg.PreviewLimit),
		slog.Int("rate_limit_max", cfg.RateLimitMax),
		slog.String("rate_limit_window", cfg.RateLimitWindow.String()),
		slog.String("rate_limit_store", cfg.RateLimitStore),
		slog.String("exec_timeout", cfg.ExecTimeout.String()),
	)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// Telemetry
	tracer := telemetry.NoopTracer()
	var insts telemetry.Multi
	var prom *telemetry.PromInstruments
	if cfg.Transport == "http" {
		prom = telemetry.NewPromInstruments()
		insts = append(insts, prom)
	}
	if cfg.OTelEnabled {
		provider, err := telemetry.Init(ctx, serviceName, version)
		if err != nil {
			return fmt.Errorf("initializing telemetry: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := provider.Shutdown(shutdownCtx); err != nil {
				logger.Error("telemetry shutdown failed", slog.String("error.type", fmt.Sprintf("%T", err)), slog.String("error", err.Error()))
			}
		}()
		tracer = provider.Tracer(serviceName)
		insts = append(insts, telemetry.NewInstruments())
		logger.Info("opentelemetry enabled")
	}

	// Queried data store
	be, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer be.close()
	logger.Info("database connected", slog.String("db.system", cfg.DatabaseDriver))

	// Policy
	pol, sp, err := loadPolicy(cfg)
	if err != nil {
		return err
	}
	if pol != nil {
		logger.Info("policy loaded",
			slog.String("file", cfg.PolicyFile),
			slog.Int("tables", len(sp.Whitelist.Tables())),
			slog.Int("masked_columns", len(sp.Masks)),
		)
	}

	// Redis is shared by the rate-limit counters and the audit stream.
	var rdb *redis.Client
	if cfg.RateLimitStore == "redis" || cfg.AuditStream != "" {
		rdb, err = redisstore.NewClient(ctx, redisstore.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
		defer func() { _ = rdb.Close() }()
		logger.Info("redis connected", slog.String("addr", cfg.RedisAddr))
	}

	var counters port.CounterStore = memstore.NewCounterStore()
	if cfg.RateLimitStore == "redis" {
		counters = redisstore.NewCounterStore(rdb)
	}

	auditor, auditReader, err := buildAuditor(cfg, rdb, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := auditor.Close(); err != nil {
			logger.Error("closing audit sinks", slog.String("error", err.Error()))
		}
	}()

	results, err := buildResultStore(cfg)
	if err != nil {
		return err
	}

	// Services
	var opts []domain.ValidatorOption
	if cfg.StrictParse {
		opts = append(opts, domain.WithStrictParse())
	}
	limiter := service.NewRateLimiter(counters, cfg.RateLimitMax, cfg.RateLimitWindow)
	limiter.SetCASAttempts(cfg.RateLimitCASAttempts)
	querySvc := service.NewQueryService(
		domain.NewRuleValidator(opts...),
		limiter,
		service.NewExecutor(be.store, cfg.ExecTimeout),
		auditor,
		logger,
		sp,
		service.Options{PreviewLimit: cfg.PreviewLimit, CountRejected: cfg.RateLimitCountRejected},
	)
	access := policy.NewPrincipalChecker(pol)
	querySvc.SetAccessChecker(access)
	querySvc.SetResultStore(results)
	querySvc.SetTelemetry(tracer, insts)

	var polExplorer *policy.PolicyExplorer
	var mcpTables mcp.TableLister
	var apiTables httpapi.TableLister
	if be.explorer != nil {
		polExplorer = policy.NewPolicyExplorer(be.explorer, pol)
		explorerSvc := service.NewExplorerService(polExplorer, func() domain.TableWhitelist {
			return querySvc.Policy().Whitelist
		})
		mcpTables = explorerSvc
		apiTables = explorerSvc
	}

	mcpServer := mcp.NewServer(version, querySvc, mcpTables, logger, tracer, insts)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		watchPolicy(gctx, cfg, logger, func(pol *policy.Policy, sp service.Policy) {
			querySvc.UpdatePolicy(sp)
			access.SetPolicy(pol)
			if polExplorer != nil {
				polExplorer.SetPolicy(pol)
			}
		})
		return nil
	})

	switch cfg.Transport {
	case "http":
		handler := httpapi.NewHandler(querySvc, apiTables, logger, insts)
		ropts := httpapi.RouterOptions{Metrics: prom.Handler(), Health: be.ping, Audit: auditReader}
		if cfg.IngressRPS > 0 {
			ropts.Ingress = &httpapi.IngressConfig{RequestsPerSecond: cfg.IngressRPS, Burst: cfg.IngressBurst}
		}
		router := httpapi.NewRouter(handler, ropts)

		streamable := mcpserver.NewStreamableHTTPServer(mcpServer,
			mcpserver.WithHTTPContextFunc(mcp.HTTPPrincipal(httpapi.PrincipalHeader)),
		)
		router.Handle("/mcp", bearerAuthMiddleware(streamable, cfg.HTTPBearerToken))

		srv := &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           recoveryMiddleware(router, logger),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			defer stop()
			logger.Info("serving HTTP", slog.String("addr", cfg.HTTPAddr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})

	default:
		stdio := mcpserver.NewStdioServer(mcpServer)
		stdio.SetContextFunc(mcp.StdioPrincipal(cfg.StdioPrincipal))
		stdio.SetErrorLogger(slog.NewLogLogger(logger.Handler(), slog.LevelError))
		g.Go(func() error {
			defer stop()
			logger.Info("serving MCP over stdio", slog.String("enduser.id", cfg.StdioPrincipal))
			err := stdio.Listen(gctx, os.Stdin, os.Stdout)
			if err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("stdio server: %w", err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

func openBackend(ctx context.Context, cfg *config.Config) (*backend, error) {
	switch cfg.DatabaseDriver {
	case "sqlite":
		db, err := sqlstore.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("opening sqlite database: %w", err)
		}
		return &backend{
			store: sqlstore.NewDataStore(db),
			ping:  db.PingContext,
			close: func() { _ = db.Close() },
		}, nil
	default:
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, postgres.PoolConfig{
			MaxConns:        cfg.PoolMaxConns,
			MinConns:        cfg.PoolMinConns,
			MaxConnLifetime: cfg.PoolMaxConnLifetime,
			MaxConnIdleTime: cfg.PoolMaxConnIdleTime,
		})
		if err != nil {
			return nil, fmt.Errorf("connecting to database: %w", err)
		}
		return &backend{
			store:    postgres.NewDataStore(pool, cfg.ExecTimeout),
			explorer: postgres.NewExplorer(pool, cfg.Schemas),
			ping:     pool.Ping,
			close:    pool.Close,
		}, nil
	}
}

// loadPolicy builds the policy in force from the config and, when set, the
// policy file. The returned *policy.Policy is nil without a policy file.
func loadPolicy(cfg *config.Config) (*policy.Policy, service.Policy, error) {
	sp := service.Policy{Whitelist: cfg.Whitelist(), Budget: cfg.Budget()}
	if cfg.PolicyFile == "" {
		return nil, sp, nil
	}

	pol, err := policy.LoadFromFile(cfg.PolicyFile)
	if err != nil {
		return nil, sp, fmt.Errorf("loading policy: %w", err)
	}
	sp = service.Policy{
		Whitelist: pol.Whitelist(sp.Whitelist),
		Budget:    pol.ApplyBudget(sp.Budget),
		Masks:     pol.Masks(),
	}
	if err := sp.Budget.Check(); err != nil {
		return nil, sp, fmt.Errorf("policy budget: %w", err)
	}
	if sp.Whitelist.Len() == 0 && sp.Whitelist.Prefix() == "" {
		return nil, sp, &domain.ConfigurationError{Field: "POLICY_FILE", Reason: "policy leaves no table queryable"}
	}
	return pol, sp, nil
}

// watchPolicy reloads the policy file on SIGHUP until ctx is done. A file
// that fails to load leaves the current policy in force.
func watchPolicy(ctx context.Context, cfg *config.Config, logger *slog.Logger, apply func(*policy.Policy, service.Policy)) {
	if cfg.PolicyFile == "" {
		return
	}
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			pol, sp, err := loadPolicy(cfg)
			if err != nil {
				logger.Error("policy reload failed, keeping current policy",
					slog.String("file", cfg.PolicyFile),
					slog.String("error", err.Error()),
				)
				continue
			}
			apply(pol, sp)
			logger.Info("policy reloaded",
				slog.String("file", cfg.PolicyFile),
				slog.Int("tables", len(sp.Whitelist.Tables())),
			)
		}
	}
}

// buildAuditor assembles the configured sinks. The reader is non-nil only
// when entries go to a database table.
func buildAuditor(cfg *config.Config, rdb redis.UniversalClient, logger *slog.Logger) (port.QueryAuditor, port.AuditReader, error) {
	var (
		sinks  audit.Multi
		reader port.AuditReader
	)
	if cfg.AuditLog != "" {
		fa, err := audit.NewFileAuditor(cfg.AuditLog, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("opening audit log: %w", err)
		}
		sinks = append(sinks, fa)
		logger.Info("audit log enabled", slog.String("path", cfg.AuditLog))
	}
	if cfg.AuditStream != "" {
		sinks = append(sinks, audit.NewStreamAuditor(rdb, cfg.AuditStream, auditStreamMaxLen, logger))
		logger.Info("audit stream enabled", slog.String("stream", cfg.AuditStream))
	}
	if cfg.AuditDB != "" {
		db, err := gormdb.Open(cfg.AuditDB)
		if err != nil {
			_ = sinks.Close()
			return nil, nil, fmt.Errorf("opening audit database: %w", err)
		}
		da, err := audit.NewDBAuditor(db, logger)
		if err != nil {
			_ = sinks.Close()
			return nil, nil, fmt.Errorf("preparing audit table: %w", err)
		}
		sinks = append(sinks, da)
		reader = da
		logger.Info("audit table enabled", slog.String("db.system", gormdb.Driver(cfg.AuditDB)))
	}

	if len(sinks) == 0 {
		logger.Info("no audit sink configured, writing audit entries to stderr")
		return audit.NewLogAuditor(os.Stderr), nil, nil
	}
	return sinks, reader, nil
}

func buildResultStore(cfg *config.Config) (port.ResultStore, error) {
	if cfg.ResultStoreDSN == "" {
		return memstore.NewResultStore(), nil
	}
	db, err := gormdb.Open(cfg.ResultStoreDSN)
	if err != nil {
		return nil, fmt.Errorf("opening result store: %w", err)
	}
	store, err := resultstore.New(db)
	if err != nil {
		return nil, fmt.Errorf("preparing result store: %w", err)
	}
	return store, nil
}
