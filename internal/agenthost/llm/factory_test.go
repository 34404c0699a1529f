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

package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFactory_BuildsRegisteredOpenAIAdapter(t *testing.T) {
	f := NewFactory()
	p, err := f.Build(context.Background(), Config{ProviderType: "openai", APIKey: "k", Model: "gpt-4o-mini"})
	require.NoError(t, err)
	_, ok := p.(*OpenAIProvider)
	assert.True(t, ok)
}

func TestFactory_BuildsRegisteredOllamaAdapter(t *testing.T) {
	f := NewFactory()
	p, err := f.Build(context.Background(), Config{ProviderType: "ollama", BaseURL: "http://localhost:11434", Model: "llama3"})
	require.NoError(t, err)
	_, ok := p.(*OllamaProvider)
	assert.True(t, ok)
}

func TestFactory_UnknownProviderTypeFails(t *testing.T) {
	f := NewFactory()
	_, err := f.Build(context.Background(), Config{ProviderType: "nope"})
	assert.Error(t, err)
}

func TestFactory_GatewayWithoutConfigFails(t *testing.T) {
	f := NewFactory()
	_, err := f.Build(context.Background(), Config{ProviderType: "gateway"})
	assert.Error(t, err)
}

func TestFactory_RegisterOverridesBuiltin(t *testing.T) {
	f := NewFactory()
	called := false
	err := f.Register("openai", func(ctx context.Context, cfg Config) (Provider, error) {
		called = true
		return nil, nil
	})
	require.NoError(t, err)
	_, _ = f.Build(context.Background(), Config{ProviderType: "openai"})
	assert.True(t, called)
}
