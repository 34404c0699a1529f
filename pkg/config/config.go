// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kestrel Authors
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads and validates the configuration shared by the
// agent-host and tools-provider binaries: a YAML file overlaid with
// environment variables, optionally hot-reloaded when the file changes.
package config

import "fmt"

// Config is the root configuration document. Both binaries decode the same
// file shape and ignore the sections they don't use.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Logging      LoggingConfig      `yaml:"logging"`
	Auth         AuthConfig         `yaml:"auth"`
	RateLimiting *RateLimitConfig   `yaml:"rate_limiting"`
	Postgres     PostgresConfig     `yaml:"postgres"`
	Redis        RedisConfig        `yaml:"redis"`
	Mongo        MongoConfig        `yaml:"mongo"`
	LLM          LLMConfig          `yaml:"llm"`
	ToolExecutor ToolExecutorConfig `yaml:"tool_executor"`
	AgentHost    AgentHostConfig    `yaml:"agent_host"`
	ToolsProvider ToolsProviderConfig `yaml:"tools_provider"`
}

// ServerConfig configures the HTTP/WS listener common to both binaries.
type ServerConfig struct {
	Addr            string `yaml:"addr"`
	ReadTimeout     string `yaml:"read_timeout"`
	WriteTimeout    string `yaml:"write_timeout"`
	ShutdownTimeout string `yaml:"shutdown_timeout"`
}

// LoggingConfig configures pkg/logger.
type LoggingConfig struct {
	Level   string `yaml:"level"`
	JSON    bool   `yaml:"json"`
	Service string `yaml:"service"`
}

// AuthConfig configures pkg/auth's JWKS-backed bearer validation.
type AuthConfig struct {
	Enabled      *bool  `yaml:"enabled"`
	JWKSURL      string `yaml:"jwks_url"`
	Issuer       string `yaml:"issuer"`
	Audience     string `yaml:"audience"`
	JWKSCacheTTL string `yaml:"jwks_cache_ttl"`
}

// IsEnabled defaults to true when the field is omitted, matching
// RateLimitConfig.IsEnabled's convention.
func (c *AuthConfig) IsEnabled() bool {
	if c == nil {
		return false
	}
	if c.Enabled == nil {
		return true
	}
	return *c.Enabled
}

// SetDefaults fills AuthConfig's zero-valued fields.
func (c *AuthConfig) SetDefaults() {
	if c.JWKSCacheTTL == "" {
		c.JWKSCacheTTL = "15m"
	}
}

// Validate checks that an enabled AuthConfig has the fields a JWKS
// validator cannot run without.
func (c *AuthConfig) Validate() error {
	if !c.IsEnabled() {
		return nil
	}
	if c.JWKSURL == "" {
		return fmt.Errorf("auth.jwks_url is required when auth is enabled")
	}
	if c.Issuer == "" {
		return fmt.Errorf("auth.issuer is required when auth is enabled")
	}
	return nil
}

// PostgresConfig points at the event store.
type PostgresConfig struct {
	DSN             string `yaml:"dsn"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifetime string `yaml:"conn_max_lifetime"`
}

// RedisConfig points at the shared KV cache (token exchange, access
// resolution, group manifests, distributed rate-limit counters).
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// MongoConfig points at the read-model document store.
type MongoConfig struct {
	URI      string `yaml:"uri"`
	Database string `yaml:"database"`
}

// LLMConfig configures the default LLM provider adapter.
type LLMConfig struct {
	Provider        string `yaml:"provider"`
	Model           string `yaml:"model"`
	APIKey          string `yaml:"api_key"`
	BaseURL         string `yaml:"base_url"`
	HealthCacheTTL  string `yaml:"health_cache_ttl"`
	GatewayTokenURL string `yaml:"gateway_token_url"`
	GatewayClientID string `yaml:"gateway_client_id"`
}

// ToolExecutorConfig bounds the tools-provider's executor.
type ToolExecutorConfig struct {
	DefaultTimeout   string `yaml:"default_timeout"`
	MaxConcurrentExe int    `yaml:"max_concurrent_executions"`
}

// AgentHostConfig configures the pieces of the agent-host binary that have
// no other natural home: where to reach the tools-provider, the connection
// manager's heartbeat/idle policy, and what the server advertises to
// clients during connection_established (spec §4.6).
type AgentHostConfig struct {
	ToolsProviderURL    string   `yaml:"tools_provider_url"`
	PingInterval        string   `yaml:"ping_interval"`
	MaxMissedPongs      int      `yaml:"max_missed_pongs"`
	IdleTimeout         string   `yaml:"idle_timeout"`
	Capabilities        []string `yaml:"capabilities"`
	AvailableModels     []string `yaml:"available_models"`
	AllowModelSelection bool     `yaml:"allow_model_selection"`
}

func (c *AgentHostConfig) setDefaults() {
	if c.ToolsProviderURL == "" {
		c.ToolsProviderURL = "http://127.0.0.1:8081"
	}
	if c.PingInterval == "" {
		c.PingInterval = "30s"
	}
	if c.MaxMissedPongs == 0 {
		c.MaxMissedPongs = 2
	}
	if c.IdleTimeout == "" {
		c.IdleTimeout = "10m"
	}
	if len(c.Capabilities) == 0 {
		c.Capabilities = []string{"chat", "tools", "templates"}
	}
}

// ToolsProviderConfig configures pieces of the tools-provider binary with
// no other natural home: the read-model reconciliation cadence, the
// upstream-source sync cadence, admin-route gating, and circuit breaker
// tuning shared across every breaker the manager tracks.
type ToolsProviderConfig struct {
	ReconcileSchedule       string `yaml:"reconcile_schedule"`
	SourceSyncSchedule      string `yaml:"source_sync_schedule"`
	HeartbeatInterval       string `yaml:"heartbeat_interval"`
	AdminRoleClaimPath      string `yaml:"admin_role_claim_path"`
	AdminRole               string `yaml:"admin_role"`
	BreakerFailureThreshold int    `yaml:"breaker_failure_threshold"`
	BreakerResetTimeout     string `yaml:"breaker_reset_timeout"`
	MCPClientName           string `yaml:"mcp_client_name"`
	AccessCacheTTL          string `yaml:"access_cache_ttl"`

	// Token-exchange client (spec §4.8, RFC 8693) the executor uses to
	// swap an agent's bearer token for one scoped to an upstream source.
	TokenExchangeEndpoint     string `yaml:"token_exchange_endpoint"`
	TokenExchangeClientID     string `yaml:"token_exchange_client_id"`
	TokenExchangeClientSecret string `yaml:"token_exchange_client_secret"`
}

func (c *ToolsProviderConfig) setDefaults() {
	if c.ReconcileSchedule == "" {
		c.ReconcileSchedule = "@every 5m"
	}
	if c.SourceSyncSchedule == "" {
		c.SourceSyncSchedule = "@every 1m"
	}
	if c.HeartbeatInterval == "" {
		c.HeartbeatInterval = "20s"
	}
	if c.AdminRoleClaimPath == "" {
		c.AdminRoleClaimPath = "roles"
	}
	if c.AdminRole == "" {
		c.AdminRole = "admin"
	}
	if c.BreakerFailureThreshold == 0 {
		c.BreakerFailureThreshold = 5
	}
	if c.BreakerResetTimeout == "" {
		c.BreakerResetTimeout = "30s"
	}
	if c.MCPClientName == "" {
		c.MCPClientName = "kestrel-tools-provider"
	}
	if c.AccessCacheTTL == "" {
		c.AccessCacheTTL = "60s"
	}
}

// SetDefaults fills in zero-valued fields with the production defaults both
// binaries otherwise repeat at every call site.
func (c *Config) SetDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.ReadTimeout == "" {
		c.Server.ReadTimeout = "30s"
	}
	if c.Server.WriteTimeout == "" {
		c.Server.WriteTimeout = "30s"
	}
	if c.Server.ShutdownTimeout == "" {
		c.Server.ShutdownTimeout = "10s"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Auth.JWKSCacheTTL == "" {
		c.Auth.JWKSCacheTTL = "15m"
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = "127.0.0.1:6379"
	}
	if c.LLM.HealthCacheTTL == "" {
		c.LLM.HealthCacheTTL = "60s"
	}
	if c.ToolExecutor.DefaultTimeout == "" {
		c.ToolExecutor.DefaultTimeout = "30s"
	}
	if c.ToolExecutor.MaxConcurrentExe == 0 {
		c.ToolExecutor.MaxConcurrentExe = 16
	}
	if c.RateLimiting != nil {
		c.RateLimiting.setDefaults()
	}
	c.AgentHost.setDefaults()
	c.ToolsProvider.setDefaults()
}

// Validate aggregates every field-level validation error instead of
// returning on the first one, so a misconfigured deployment gets the full
// list in one failed startup rather than one-error-per-restart.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Addr == "" {
		errs = append(errs, "server.addr is required")
	}
	if c.Postgres.DSN == "" {
		errs = append(errs, "postgres.dsn is required")
	}
	if c.RateLimiting != nil {
		if err := c.RateLimiting.Validate(); err != nil {
			errs = append(errs, err.Error())
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return &ValidationErrors{Errors: errs}
}

// ValidationErrors aggregates Config.Validate failures.
type ValidationErrors struct {
	Errors []string
}

func (e *ValidationErrors) Error() string {
	return fmt.Sprintf("config validation failed: %v", e.Errors)
}
