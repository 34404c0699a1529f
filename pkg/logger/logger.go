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

// Package logger configures the slog logger shared by the agent-host and
// tools-provider binaries.
package logger

import (
	"context"
	"log/slog"
	"os"
	"runtime"
	"strings"
)

const kestrelPackagePrefix = "github.com/kestrelai/kestrel"

// ParseLevel converts a string log level to slog.Level. Unknown values fall
// back to info rather than erroring, so a malformed LOG_LEVEL env var is
// not fatal.
func ParseLevel(levelStr string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(levelStr)) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Options configures Setup.
type Options struct {
	Level  slog.Level
	JSON   bool
	Output *os.File
	// Service names the binary (agent-host, tools-provider) and is attached
	// to every record.
	Service string
}

// Setup installs and returns the process-wide logger. Third-party library
// records below Warn are only surfaced when the configured level is Debug;
// their Warn and Error records are always surfaced.
func Setup(opts Options) *slog.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	handlerOpts := &slog.HandlerOptions{Level: opts.Level}

	var base slog.Handler
	if opts.JSON {
		base = slog.NewJSONHandler(out, handlerOpts)
	} else {
		base = slog.NewTextHandler(out, handlerOpts)
	}

	filtered := &filteringHandler{handler: base, minLevel: opts.Level}

	logger := slog.New(filtered)
	if opts.Service != "" {
		logger = logger.With("service", opts.Service)
	}

	slog.SetDefault(logger)
	return logger
}

// filteringHandler suppresses third-party DEBUG/INFO noise unless the
// configured level is Debug, so operators running at Info see kestrel's own
// events without the chatter of every imported client library.
type filteringHandler struct {
	handler  slog.Handler
	minLevel slog.Level
}

func (h *filteringHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.minLevel
}

func (h *filteringHandler) Handle(ctx context.Context, record slog.Record) error {
	if h.minLevel <= slog.LevelDebug || record.Level >= slog.LevelWarn || h.isKestrelPackage(record.PC) {
		return h.handler.Handle(ctx, record)
	}
	return nil
}

func (h *filteringHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &filteringHandler{handler: h.handler.WithAttrs(attrs), minLevel: h.minLevel}
}

func (h *filteringHandler) WithGroup(name string) slog.Handler {
	return &filteringHandler{handler: h.handler.WithGroup(name), minLevel: h.minLevel}
}

func (h *filteringHandler) isKestrelPackage(pc uintptr) bool {
	if pc == 0 {
		return false
	}
	fn := runtime.FuncForPC(pc)
	if fn == nil {
		return false
	}
	return strings.Contains(fn.Name(), kestrelPackagePrefix)
}

// contextKey is used to stash a request/connection-scoped logger on a
// context.Context.
type contextKey struct{}

// WithContext returns a context carrying l, retrievable with FromContext.
func WithContext(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, l)
}

// FromContext returns the logger stashed by WithContext, or slog.Default().
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(contextKey{}).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}
