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

// Command agent-host runs the WebSocket-facing half of the Kestrel agent
// runtime (spec §4.5/§4.6/§6): it owns live client connections, the
// per-connection orchestrator state machines, and the conversation event
// store. It talks to a separately-running tools-provider over HTTP for
// everything tool-catalog- and execution-related.
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
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/kestrelai/kestrel/internal/agenthost/connmanager"
	"github.com/kestrelai/kestrel/internal/agenthost/conversation"
	"github.com/kestrelai/kestrel/internal/agenthost/llm"
	"github.com/kestrelai/kestrel/internal/agenthost/orchestrator"
	"github.com/kestrelai/kestrel/internal/agenthost/server"
	"github.com/kestrelai/kestrel/internal/agenthost/toolclient"
	"github.com/kestrelai/kestrel/pkg/auth"
	"github.com/kestrelai/kestrel/pkg/config"
	"github.com/kestrelai/kestrel/pkg/eventstore"
	"github.com/kestrelai/kestrel/pkg/logger"
	"github.com/kestrelai/kestrel/pkg/observability"
)

type cli struct {
	Config string `kong:"help='Path to the YAML/JSON config file.',default='config.yaml'"`
}

func main() {
	var c cli
	kong.Parse(&c, kong.Name("agent-host"), kong.Description("Kestrel agent host: WebSocket conversations and the agent loop."))

	if err := run(c); err != nil {
		slog.Default().Error("agent-host exited with error", "error", err)
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

	store, err := eventstore.NewPostgresStore(ctx, db)
	if err != nil {
		return fmt.Errorf("init event store: %w", err)
	}
	mediator := eventstore.NewMediator()
	defer mediator.Close()

	conversations := eventstore.NewRepository(store, mediator, "Conversation", conversation.NewConversation, conversation.FoldConversation)

	mongoClient, err := mongo.Connect(options.Client().ApplyURI(cfg.Mongo.URI))
	if err != nil {
		return fmt.Errorf("connect mongo: %w", err)
	}
	defer mongoClient.Disconnect(ctx) //nolint:errcheck
	templates := orchestrator.NewMongoTemplateStore(mongoClient.Database(cfg.Mongo.Database))

	validator, err := auth.NewValidatorFromConfig(&cfg.Auth)
	if err != nil {
		return fmt.Errorf("init auth validator: %w", err)
	}
	if validator == nil {
		log.WarnContext(ctx, "auth disabled, accepting every bearer token as-is")
		validator = auth.AllowAllValidator{}
	}

	providers := llm.NewFactory()
	defaultProviderConfig := llm.Config{
		ProviderType: cfg.LLM.Provider,
		APIKey:       cfg.LLM.APIKey,
		BaseURL:      cfg.LLM.BaseURL,
		Model:        cfg.LLM.Model,
	}

	tools := toolclient.New(cfg.AgentHost.ToolsProviderURL)

	pingInterval, _ := time.ParseDuration(cfg.AgentHost.PingInterval)
	idleTimeout, _ := time.ParseDuration(cfg.AgentHost.IdleTimeout)
	manager := connmanager.NewManager(
		connmanager.WithPingInterval(pingInterval),
		connmanager.WithMaxMissedPongs(cfg.AgentHost.MaxMissedPongs),
		connmanager.WithIdleTimeout(idleTimeout),
	)
	go manager.RunHeartbeat(ctx)
	go manager.RunIdleReaper(ctx)

	metrics, err := observability.NewMetrics(&observability.MetricsConfig{Enabled: true, Namespace: "kestrel", Subsystem: "agent_host"})
	if err != nil {
		log.WarnContext(ctx, "metrics disabled", "error", err)
		metrics = nil
	}

	router := server.NewRouter(server.Config{
		Validator:             validator,
		Conversations:         conversations,
		Templates:             templates,
		Tools:                 tools,
		Providers:             providers,
		Metrics:               metrics,
		Logger:                log,
		DefaultProviderConfig: defaultProviderConfig,
		ServerCapabilities:    cfg.AgentHost.Capabilities,
		AvailableModels:       cfg.AgentHost.AvailableModels,
		AllowModelSelection:   cfg.AgentHost.AllowModelSelection,
		Manager:               manager,
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
		log.InfoContext(ctx, "agent-host listening", "addr", cfg.Server.Addr)
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
