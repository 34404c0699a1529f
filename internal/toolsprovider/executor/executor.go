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

package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kestrelai/kestrel/internal/toolsprovider/circuitbreaker"
	"github.com/kestrelai/kestrel/internal/toolsprovider/domain"
	"github.com/kestrelai/kestrel/internal/toolsprovider/template"
	"github.com/kestrelai/kestrel/internal/toolsprovider/tokenexchange"
	"github.com/kestrelai/kestrel/pkg/httpclient"
	"github.com/kestrelai/kestrel/pkg/kerrors"
	"github.com/kestrelai/kestrel/pkg/observability"
)

// maxLoggedBodyBytes is the logging-discipline truncation length (spec
// §4.10: "request/response bodies truncated to 500 bytes").
const maxLoggedBodyBytes = 500

// Request is one execute() invocation (spec §4.10).
type Request struct {
	ToolID         string
	ToolName       string
	InputSchema    map[string]any
	Profile        domain.ExecutionProfile
	Arguments      map[string]any
	AgentToken     string
	Subject        string
	SourceID       string
	ValidateSchema bool
}

// Status is the outcome discriminator on Result.
type Status string

const (
	StatusOK    Status = "ok"
	StatusError Status = "error"
)

// Result is execute()'s return value; errors are reported inside Result
// rather than as a Go error, since a failed tool call is an ordinary
// outcome the caller reports back to the agent, not an exceptional one.
type Result struct {
	Status          Status
	Result          any
	Error           *ResultError
	ExecutionTimeMs int64
	UpstreamStatus  int
}

// ResultError carries the translated error kind and retry hint (spec §4.10
// step 5).
type ResultError struct {
	Kind      kerrors.Kind
	Message   string
	Retryable bool
}

// Executor runs execute() end to end: schema validation, token exchange,
// template rendering, and circuit-breaker-guarded HTTP execution.
type Executor struct {
	validator *Validator
	exchanger *tokenexchange.Exchanger
	breakers  *circuitbreaker.Manager
	http      *httpclient.Client
	tracer    trace.Tracer
	metrics   observability.Recorder
	mcp       MCPCaller
}

// MCPCaller dispatches a tools/call round trip to an MCP-sourced tool
// (Method == "MCP_CALL", URLTemplate "mcp://<source>/<tool>" per
// sourceadapter.MCPAdapter). Declared here rather than imported from
// internal/toolsprovider/mcp to avoid that package needing to import
// executor's Request/Result types back.
type MCPCaller interface {
	Call(ctx context.Context, sourceID, toolName string, arguments map[string]any) (any, error)
}

// New constructs an Executor. metrics may be observability.NoopMetrics{}
// when metrics are disabled.
func New(validator *Validator, exchanger *tokenexchange.Exchanger, breakers *circuitbreaker.Manager, httpClient *httpclient.Client, metrics observability.Recorder) *Executor {
	if httpClient == nil {
		httpClient = httpclient.New()
	}
	if metrics == nil {
		metrics = observability.NoopMetrics{}
	}
	return &Executor{
		validator: validator,
		exchanger: exchanger,
		breakers:  breakers,
		http:      httpClient,
		tracer:    observability.GetTracer("toolsprovider.executor"),
		metrics:   metrics,
	}
}

// SetMCPCaller wires in the transport for MCP_CALL tools. Left as a
// post-construction setter rather than a New parameter so the agent-host
// and tools-provider entrypoints can build the Executor before the MCP
// pool exists (the pool itself needs a ReadModel that isn't ready until
// later in bootstrap) without an extra nil placeholder argument.
func (e *Executor) SetMCPCaller(c MCPCaller) {
	e.mcp = c
}

// Execute runs req through validation, token exchange, template rendering,
// and breaker-guarded HTTP execution (spec §4.10 steps 1-5).
func (e *Executor) Execute(ctx context.Context, req Request) Result {
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "tool.execute",
		trace.WithAttributes(
			attribute.String("tool_id", req.ToolID),
			attribute.String("tool_name", req.ToolName),
			attribute.String("mode", string(req.Profile.Mode)),
		),
	)
	defer span.End()

	result := e.execute(ctx, req)

	result.ExecutionTimeMs = time.Since(start).Milliseconds()
	e.metrics.RecordToolCall(req.ToolName, time.Since(start))
	if result.Status == StatusError {
		span.SetStatus(codes.Error, result.Error.Message)
		span.SetAttributes(attribute.String("error.kind", string(result.Error.Kind)))
		e.metrics.RecordToolError(req.ToolName, string(result.Error.Kind))
	}
	span.SetAttributes(attribute.Int64("duration_ms", result.ExecutionTimeMs))
	if result.UpstreamStatus != 0 {
		span.SetAttributes(attribute.Int("upstream_status", result.UpstreamStatus))
	}
	return result
}

func (e *Executor) execute(ctx context.Context, req Request) Result {
	// Step 1: schema validation.
	if req.ValidateSchema {
		if err := e.validator.Validate(req.ToolID, req.InputSchema, req.Arguments); err != nil {
			return errorResult(err)
		}
	}

	// Step 2: token exchange.
	token := req.AgentToken
	if req.Profile.RequiredAudience != "" {
		if e.exchanger == nil {
			return errorResult(kerrors.New(kerrors.KindTokenExchange, "tool requires token exchange but no exchanger is configured"))
		}
		result, err := e.exchanger.Exchange(ctx, req.AgentToken, req.Subject, req.Profile.RequiredAudience, req.Profile.RequiredScopes)
		if err != nil {
			return errorResult(err)
		}
		token = result.AccessToken
	}

	// Step 3: template rendering.
	url, err := template.Render(req.Profile.URLTemplate, req.Arguments)
	if err != nil {
		return errorResult(err)
	}
	headers, err := template.RenderHeaders(req.Profile.HeadersTemplate, req.Arguments)
	if err != nil {
		return errorResult(err)
	}
	var body string
	if req.Profile.BodyTemplate != "" {
		body, err = template.Render(req.Profile.BodyTemplate, req.Arguments)
		if err != nil {
			return errorResult(err)
		}
	}
	headers["Authorization"] = "Bearer " + token

	// Step 4: breaker-guarded execution.
	breaker := e.breakerFor(req.SourceID)
	if err := breaker.Allow(ctx); err != nil {
		return errorResult(err)
	}

	switch {
	case req.Profile.Method == "MCP_CALL":
		return e.executeMCP(ctx, breaker, req)
	case req.Profile.Mode == domain.ModeAsyncPoll:
		return e.executeAsyncPoll(ctx, breaker, req, url, headers, body)
	default:
		return e.executeSyncHTTP(ctx, breaker, req.Profile, url, headers, body)
	}
}

// executeMCP dispatches an MCP-sourced tool through the wired MCPCaller.
// The rendered url from step 3 is discarded here: sourceadapter.MCPAdapter
// encodes the manifest name and tool name into URLTemplate for human
// readability, but req.SourceID and req.ToolName already carry what the
// caller needs to resolve the live session and make the call.
func (e *Executor) executeMCP(ctx context.Context, breaker *circuitbreaker.Breaker, req Request) Result {
	if e.mcp == nil {
		return errorResult(kerrors.New(kerrors.KindUnavailable, "tool requires an MCP caller but none is configured"))
	}
	result, err := e.mcp.Call(ctx, req.SourceID, req.ToolName, req.Arguments)
	if err != nil {
		breaker.RecordFailure()
		return errorResult(err)
	}
	breaker.RecordSuccess()
	return Result{Status: StatusOK, Result: result}
}

func (e *Executor) breakerFor(sourceID string) *circuitbreaker.Breaker {
	if sourceID == "" {
		sourceID = "unknown-source"
	}
	return e.breakers.Get(sourceID)
}

func (e *Executor) executeSyncHTTP(ctx context.Context, breaker *circuitbreaker.Breaker, profile domain.ExecutionProfile, url string, headers map[string]string, body string) Result {
	reqCtx := ctx
	if profile.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, time.Duration(profile.TimeoutSeconds)*time.Second)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(reqCtx, profile.Method, url, bodyReader(body))
	if err != nil {
		return errorResult(kerrors.Wrap(kerrors.KindValidation, "build tool request", err))
	}
	applyHeaders(httpReq, profile, headers, body)

	slog.DebugContext(reqCtx, "executing tool request",
		"method", profile.Method, "url", url,
		"headers", maskAuthorization(headers), "body", truncateForLog(body))

	resp, err := e.http.Do(httpReq)
	if err != nil && resp == nil {
		breaker.RecordFailure()
		if errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
			return errorResult(kerrors.Wrap(kerrors.KindUpstreamTimeout, "tool request timed out", err))
		}
		return errorResult(kerrors.Wrap(kerrors.KindConnectionError, "tool request failed", err))
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	slog.DebugContext(reqCtx, "tool request completed",
		"status", resp.StatusCode, "body", truncateForLog(string(raw)))

	if resp.StatusCode >= 500 {
		breaker.RecordFailure()
	} else {
		breaker.RecordSuccess()
	}

	if resp.StatusCode >= 400 {
		return withUpstreamStatus(errorResult(translateStatus(resp.StatusCode)), resp.StatusCode)
	}

	parsed := parseBody(raw)
	if len(profile.ResponseMapping) > 0 {
		parsed = applyResponseMapping(parsed, profile.ResponseMapping)
	}
	return Result{Status: StatusOK, Result: parsed, UpstreamStatus: resp.StatusCode}
}

func applyHeaders(req *http.Request, profile domain.ExecutionProfile, headers map[string]string, body string) {
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if body != "" {
		contentType := profile.ContentType
		if contentType == "" {
			contentType = "application/json"
		}
		req.Header.Set("Content-Type", contentType)
	}
}

func bodyReader(body string) io.Reader {
	if body == "" {
		return nil
	}
	return bytes.NewBufferString(body)
}

func parseBody(raw []byte) any {
	var v any
	if err := json.Unmarshal(raw, &v); err == nil {
		return v
	}
	return string(raw)
}

func applyResponseMapping(parsed any, mapping map[string]string) any {
	out := make(map[string]any, len(mapping))
	for outKey, path := range mapping {
		if v, ok := lookupPath(parsed, path); ok {
			out[outKey] = v
		}
	}
	return out
}

func withUpstreamStatus(r Result, status int) Result {
	r.UpstreamStatus = status
	return r
}

// translateStatus implements the error translation table (spec §4.10 step 5).
func translateStatus(status int) error {
	switch {
	case status == http.StatusUnauthorized:
		return kerrors.New(kerrors.KindTokenExchange, "upstream rejected the exchanged token")
	case status == http.StatusForbidden:
		return kerrors.New(kerrors.KindForbidden, "upstream forbade the request")
	case status == http.StatusNotFound:
		return kerrors.New(kerrors.KindNotFound, "upstream resource not found")
	case status == http.StatusTooManyRequests:
		return kerrors.New(kerrors.KindRateLimited, "upstream rate-limited the request")
	case status >= 500:
		return kerrors.New(kerrors.KindServerError, fmt.Sprintf("upstream returned status %d", status))
	default:
		return kerrors.New(kerrors.KindUnknown, fmt.Sprintf("upstream returned status %d", status))
	}
}

func errorResult(err error) Result {
	kind := kerrors.KindOf(err)
	return Result{
		Status: StatusError,
		Error: &ResultError{
			Kind:      kind,
			Message:   err.Error(),
			Retryable: kerrors.IsRetryable(err),
		},
	}
}

// lookupPath resolves a dot-notation path against decoded JSON (maps and
// slices), the same shape pkg/auth.Claims.Get uses for claim paths.
func lookupPath(v any, path string) (any, bool) {
	segments := strings.Split(path, ".")
	cur := v
	for _, seg := range segments {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// truncateForLog implements the logging discipline (spec §4.10: bodies
// truncated to 500 bytes, Authorization masked).
func truncateForLog(body string) string {
	if len(body) <= maxLoggedBodyBytes {
		return body
	}
	return body[:maxLoggedBodyBytes] + "...(truncated)"
}

func maskAuthorization(headers map[string]string) map[string]string {
	masked := make(map[string]string, len(headers))
	for k, v := range headers {
		if strings.EqualFold(k, "Authorization") {
			masked[k] = "Bearer ***"
			continue
		}
		masked[k] = v
	}
	return masked
}
