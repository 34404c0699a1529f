// Copyright 2025 Kestrel Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command tools-provider runs the tool-catalog and execution half of the
// Kestrel agent runtime (spec §4.7–§4.13): it ingests tool manifests from
// upstream sources, projects the write-side event store into a read model,
// resolves per-agent access, and executes tool calls on the agent host's
// behalf.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/kestrelai/kestrel/internal/toolsprovider/access"
	"github.com/kestrelai/kestrel/internal/toolsprovider/catalog"
	"github.com/kestrelai/kestrel/internal/toolsprovider/circuitbreaker"
	"github.com/kestrelai/kestrel/internal/toolsprovider/domain"
	"github.com/kestrelai/kestrel/internal/toolsprovider/executor"
	"github.com/kestrelai/kestrel/internal/toolsprovider/httpapi"
	"github.com/kestrelai/kestrel/internal/toolsprovider/mcp"
	"github.com/kestrelai/kestrel/internal/toolsprovider/projector"
	"github.com/kestrelai/kestrel/internal/toolsprovider/sourceadapter"
	"github.com/kestrelai/kestrel/internal/toolsprovider/tokenexchange"
	"github.com/kestrelai/kestrel/pkg/auth"
	"github.com/kestrelai/kestrel/pkg/config"
	"github.com/kestrelai/kestrel/pkg/eventstore"
	"github.com/kestrelai/kestrel/pkg/httpclient"
	"github.com/kestrelai/kestrel/pkg/logger"
	"github.com/kestrelai/kestrel/pkg/observability"
)

const mcpClientVersion = "1.0.0"

type cli struct {
	Config string `kong:"help='Path to the YAML/JSON config file.',default='config.yaml'"`
}

func main() {
	var c cli
	kong.Parse(&c, kong.Name("tools-provider"), kong.Description("Kestrel tools provider: catalog, access resolution, and tool execution."))

	if err := run(c); err != nil {
		slog.Default().Error("tools-provider exited with error", "error", err)
		var validationErr *config.ValidationErrors
		if errors.As(err, &validationErr) {
			os.Exit(1)
		}
		os.Exit(2)
	}
}

func run(c cli) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	loader, err := config.NewFileLoader(c.Config)
	if err != nil {
		return fmt.Errorf("init config loader: %w", err)
	}
	defer loader.Close() //nolint:errcheck
	cfg, err := loader.Load(ctx)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	level := logger.ParseLevel(cfg.Logging.Level)
	log := logger.Setup(logger.Options{Level: level, JSON: cfg.Logging.JSON, Service: cfg.Logging.Service})
	ctx = logger.WithContext(ctx, log)

	db, err := sql.Open("postgres", cfg.Postgres.DSN)
	if err != nil {
		return fmt.Errorf("open postgres: %w", err)
	}
	defer db.Close()
	if cfg.Postgres.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
	}
	if cfg.Postgres.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.Postgres.MaxIdleConns)
	}
	if cfg.Postgres.ConnMaxLifetime != "" {
		if d, err := time.ParseDuration(cfg.Postgres.ConnMaxLifetime); err == nil {
			db.SetConnMaxLifetime(d)
		}
	}

	events, err := eventstore.NewPostgresStore(ctx, db)
	if err != nil {
		return fmt.Errorf("init event store: %w", err)
	}
	mediator := eventstore.NewMediator()
	defer mediator.Close()

	repos := domain.NewRepositories(events, mediator)

	mongoClient, err := mongo.Connect(options.Client().ApplyURI(cfg.Mongo.URI))
	if err != nil {
		return fmt.Errorf("connect mongo: %w", err)
	}
	defer mongoClient.Disconnect(ctx) //nolint:errcheck
	projStore := projector.NewStore(mongoClient.Database(cfg.Mongo.Database))

	proj := projector.New(projStore, repos.Sources, repos.Tools, repos.Groups, repos.Policies)
	readModel := projector.NewReadModel(projStore)

	live := projector.NewLiveSubscriber(mediator, proj, projStore, "tools-provider-live")
	go live.Run(ctx)

	reconciliator := projector.NewReconciliator(events, proj, projStore)
	reconcileScheduler, err := projector.NewScheduler(cfg.ToolsProvider.ReconcileSchedule, reconciliator)
	if err != nil {
		return fmt.Errorf("init reconcile scheduler: %w", err)
	}
	reconcileScheduler.Start()
	defer reconcileScheduler.Stop()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	defer redisClient.Close()
	sharedCache := tokenexchange.NewRedisCache(redisClient)

	httpClient := httpclient.New()

	breakerResetTimeout, err := time.ParseDuration(cfg.ToolsProvider.BreakerResetTimeout)
	if err != nil {
		breakerResetTimeout = 30 * time.Second
	}
	breakers := circuitbreaker.NewManager(circuitbreaker.Options{
		FailureThreshold: cfg.ToolsProvider.BreakerFailureThreshold,
		RecoveryTimeout:  breakerResetTimeout,
	}, func(change circuitbreaker.StateChange) {
		log.InfoContext(ctx, "circuit breaker state change", "source_id", change.SourceID, "from", change.From, "to", change.To)
	})

	exchanger := tokenexchange.New(tokenexchange.Config{
		TokenEndpoint: cfg.ToolsProvider.TokenExchangeEndpoint,
		ClientID:      cfg.ToolsProvider.TokenExchangeClientID,
		ClientSecret:  cfg.ToolsProvider.TokenExchangeClientSecret,
	}, httpClient, sharedCache)

	metrics, err := observability.NewMetrics(&observability.MetricsConfig{Enabled: true, Namespace: "kestrel", Subsystem: "tools_provider"})
	if err != nil {
		log.WarnContext(ctx, "metrics disabled", "error", err)
		metrics = nil
	}
	var recorder observability.Recorder
	if metrics != nil {
		recorder = metrics
	} else {
		recorder = observability.NoopMetrics{}
	}

	toolValidator := executor.NewValidator()
	exec := executor.New(toolValidator, exchanger, breakers, httpClient, recorder)

	mcpPool := mcp.NewPool()
	mcpCaller := mcp.NewCaller(readModel, mcpPool, cfg.ToolsProvider.MCPClientName, mcpClientVersion)
	exec.SetMCPCaller(mcpCaller)

	toolTimeout, err := time.ParseDuration(cfg.ToolExecutor.DefaultTimeout)
	if err != nil {
		toolTimeout = 30 * time.Second
	}
	mcpAdapter := sourceadapter.NewMCPAdapter(cfg.ToolsProvider.MCPClientName, mcpClientVersion)
	openapiAdapter := sourceadapter.NewOpenAPIAdapter(httpClient, int(toolTimeout.Seconds()))
	syncer := sourceadapter.NewSyncer(repos.Sources, repos.Tools, openapiAdapter, mcpAdapter)
	syncScheduler, err := sourceadapter.NewScheduler(cfg.ToolsProvider.SourceSyncSchedule, syncer, func() []string {
		ids, err := readModel.ListSourceIDs(ctx)
		if err != nil {
			log.ErrorContext(ctx, "list source ids for re-sync failed", "error", err)
			return nil
		}
		return ids
	})
	if err != nil {
		return fmt.Errorf("init source sync scheduler: %w", err)
	}
	syncScheduler.Start()
	defer syncScheduler.Stop()

	accessCacheTTL, err := time.ParseDuration(cfg.ToolsProvider.AccessCacheTTL)
	if err != nil {
		accessCacheTTL = access.DefaultCacheTTL
	}
	accessResolver := access.New(access.Config{CacheTTL: accessCacheTTL}, readModel, sharedCache)
	catalogResolver := catalog.New(readModel, readModel)
	notifier := catalog.NewNotifier()
	// The invalidator subscribes to the mediator for its whole lifetime;
	// nothing else needs to hold a reference to it.
	_ = catalog.NewInvalidator(catalogResolver, notifier, mediator, "catalog-invalidator")

	adminHandlers := httpapi.NewAdminHandlers(repos.Sources, repos.Groups, repos.Policies)
	apiCatalog := httpapi.NewCatalog(accessResolver, catalogResolver)

	validator, err := auth.NewValidatorFromConfig(&cfg.Auth)
	if err != nil {
		return fmt.Errorf("init auth validator: %w", err)
	}
	if validator == nil {
		log.WarnContext(ctx, "auth disabled, accepting every bearer token as-is")
		validator = auth.AllowAllValidator{}
	}

	heartbeatInterval, err := time.ParseDuration(cfg.ToolsProvider.HeartbeatInterval)
	if err != nil {
		heartbeatInterval = 20 * time.Second
	}

	router := httpapi.NewRouter(httpapi.Config{
		Validator:          validator,
		Catalog:            apiCatalog,
		Executor:           exec,
		Notifier:           notifier,
		Admin:              adminHandlers,
		Metrics:            metrics,
		HeartbeatInterval:  heartbeatInterval,
		AdminRoleClaimPath: cfg.ToolsProvider.AdminRoleClaimPath,
		AdminRole:          cfg.ToolsProvider.AdminRole,
	})

	readTimeout, _ := time.ParseDuration(cfg.Server.ReadTimeout)
	writeTimeout, _ := time.ParseDuration(cfg.Server.WriteTimeout)
	shutdownTimeout, err := time.ParseDuration(cfg.Server.ShutdownTimeout)
	if err != nil {
		shutdownTimeout = 10 * time.Second
	}

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.InfoContext(ctx, "tools-provider listening", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("listen: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
