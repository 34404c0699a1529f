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

package mcp

import (
	"context"
	"io"
	"net/http"
	"sync"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"gopkg.in/yaml.v3"

	"github.com/kestrelai/kestrel/internal/toolsprovider/domain"
	"github.com/kestrelai/kestrel/pkg/kerrors"
)

// session is the subset of *client.Client a Caller needs; narrowed to an
// interface so tests can substitute a fake rather than dialing a real MCP
// server.
type session interface {
	Initialize(ctx context.Context, req mcp.InitializeRequest) (*mcp.InitializeResult, error)
	CallTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)
	Close() error
}

var _ session = (*client.Client)(nil)

// manifest is the mcp.json-style descriptor sourceadapter.MCPAdapter
// already parses at sync time; the pool re-parses it at call time rather
// than persisting the connection details, since UpstreamSource only keeps
// descriptor_url (spec §3) and dialing is infrequent relative to calls
// against an already-open session.
type manifest struct {
	Name      string            `yaml:"name"`
	Transport string            `yaml:"transport"`
	Command   string            `yaml:"command"`
	Args      []string          `yaml:"args"`
	Env       map[string]string `yaml:"env"`
	URL       string            `yaml:"url"`
}

// dialFunc opens a session for manifest; overridable in tests.
type dialFunc func(manifest) (session, error)

// Pool keeps one long-lived MCP session per source, dialing lazily and
// re-dialing after a session is evicted by Invalidate or a call failure.
type Pool struct {
	mu       sync.Mutex
	sessions map[string]session
	dial     dialFunc
}

// NewPool returns an empty Pool dialing real MCP servers.
func NewPool() *Pool {
	return &Pool{sessions: make(map[string]session), dial: dialReal}
}

// Get returns sourceID's session, dialing and initializing one from
// descriptorURL on first use.
func (p *Pool) Get(ctx context.Context, clientName, clientVersion, sourceID, descriptorURL string, authCfg domain.AuthConfig) (session, error) {
	p.mu.Lock()
	if s, ok := p.sessions[sourceID]; ok {
		p.mu.Unlock()
		return s, nil
	}
	p.mu.Unlock()

	man, err := fetchManifest(ctx, descriptorURL)
	if err != nil {
		return nil, err
	}

	s, err := p.dial(man)
	if err != nil {
		return nil, kerrors.Wrap(kerrors.KindUnavailable, "dial MCP source", err)
	}
	if _, err := s.Initialize(ctx, mcp.InitializeRequest{
		Params: mcp.InitializeParams{
			ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
			ClientInfo:      mcp.Implementation{Name: clientName, Version: clientVersion},
		},
	}); err != nil {
		s.Close()
		return nil, kerrors.Wrap(kerrors.KindUnavailable, "MCP initialize handshake", err)
	}

	p.mu.Lock()
	p.sessions[sourceID] = s
	p.mu.Unlock()
	return s, nil
}

// Invalidate drops and closes sourceID's cached session, forcing the next
// Get to redial. Called after a call fails, since the failure may be a
// dead connection rather than a tool-level error.
func (p *Pool) Invalidate(sourceID string) {
	p.mu.Lock()
	s, ok := p.sessions[sourceID]
	delete(p.sessions, sourceID)
	p.mu.Unlock()
	if ok {
		s.Close()
	}
}

// Close closes every cached session, for process shutdown.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, s := range p.sessions {
		s.Close()
		delete(p.sessions, id)
	}
}

func dialReal(m manifest) (session, error) {
	switch m.Transport {
	case "", "stdio":
		env := make([]string, 0, len(m.Env))
		for k, v := range m.Env {
			env = append(env, k+"="+v)
		}
		return client.NewStdioMCPClient(m.Command, env, m.Args...)
	case "streamable_http":
		return client.NewStreamableHttpClient(m.URL)
	case "sse":
		return client.NewSSEMCPClient(m.URL)
	default:
		return nil, kerrors.New(kerrors.KindValidation, "unsupported MCP transport: "+m.Transport)
	}
}

func fetchManifest(ctx context.Context, descriptorURL string) (manifest, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, descriptorURL, nil)
	if err != nil {
		return manifest{}, kerrors.Wrap(kerrors.KindValidation, "build manifest request", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return manifest{}, kerrors.Wrap(kerrors.KindUnavailable, "fetch MCP manifest", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return manifest{}, kerrors.New(kerrors.KindUnavailable, "manifest fetch returned a non-2xx status")
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return manifest{}, kerrors.Wrap(kerrors.KindUnavailable, "read MCP manifest", err)
	}

	var m manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return manifest{}, kerrors.Wrap(kerrors.KindValidation, "parse MCP manifest", err)
	}
	return m, nil
}
