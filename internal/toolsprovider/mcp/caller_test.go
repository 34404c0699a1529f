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
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelai/kestrel/internal/toolsprovider/domain"
)

type fakeSession struct {
	callErr    error
	callResult *mcp.CallToolResult
	gotName    string
	gotArgs    any
	closed     bool
}

func (f *fakeSession) Initialize(ctx context.Context, req mcp.InitializeRequest) (*mcp.InitializeResult, error) {
	return &mcp.InitializeResult{}, nil
}

func (f *fakeSession) CallTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	f.gotName = req.Params.Name
	f.gotArgs = req.Params.Arguments
	if f.callErr != nil {
		return nil, f.callErr
	}
	return f.callResult, nil
}

func (f *fakeSession) Close() error {
	f.closed = true
	return nil
}

type fakeSources struct {
	source domain.UpstreamSource
	found  bool
	err    error
}

func (f fakeSources) GetSource(ctx context.Context, sourceID string) (domain.UpstreamSource, bool, error) {
	return f.source, f.found, f.err
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{mcp.TextContent{Type: "text", Text: text}}}
}

func newTestCaller(t *testing.T, sess *fakeSession, sources SourceLookup) *Caller {
	t.Helper()
	pool := NewPool()
	pool.dial = func(manifest) (session, error) { return sess, nil }
	pool.sessions["src1"] = sess
	return NewCaller(sources, pool, "test-client", "0.0.0")
}

func TestCaller_Call_ParsesJSONContentAsResult(t *testing.T) {
	sess := &fakeSession{callResult: textResult(`{"widget_id":"w1"}`)}
	sources := fakeSources{found: true, source: domain.UpstreamSource{ID: "src1", IsEnabled: true}}
	caller := newTestCaller(t, sess, sources)

	result, err := caller.Call(context.Background(), "src1", "get_widget", map[string]any{"id": "w1"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"widget_id": "w1"}, result)
	assert.Equal(t, "get_widget", sess.gotName)
}

func TestCaller_Call_FallsBackToPlainTextResult(t *testing.T) {
	sess := &fakeSession{callResult: textResult("not json")}
	sources := fakeSources{found: true, source: domain.UpstreamSource{ID: "src1", IsEnabled: true}}
	caller := newTestCaller(t, sess, sources)

	result, err := caller.Call(context.Background(), "src1", "get_widget", nil)
	require.NoError(t, err)
	assert.Equal(t, "not json", result)
}

func TestCaller_Call_ReturnsErrorOnToolError(t *testing.T) {
	res := textResult("boom")
	res.IsError = true
	sess := &fakeSession{callResult: res}
	sources := fakeSources{found: true, source: domain.UpstreamSource{ID: "src1", IsEnabled: true}}
	caller := newTestCaller(t, sess, sources)

	_, err := caller.Call(context.Background(), "src1", "get_widget", nil)
	assert.Error(t, err)
}

func TestCaller_Call_UnknownSourceRejected(t *testing.T) {
	caller := NewCaller(fakeSources{found: false}, NewPool(), "test-client", "0.0.0")

	_, err := caller.Call(context.Background(), "missing", "get_widget", nil)
	assert.Error(t, err)
}

func TestCaller_Call_DisabledSourceRejected(t *testing.T) {
	sources := fakeSources{found: true, source: domain.UpstreamSource{ID: "src1", IsEnabled: false}}
	caller := NewCaller(sources, NewPool(), "test-client", "0.0.0")

	_, err := caller.Call(context.Background(), "src1", "get_widget", nil)
	assert.Error(t, err)
}
