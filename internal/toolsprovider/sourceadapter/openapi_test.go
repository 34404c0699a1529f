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

package sourceadapter

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDescriptor = `
openapi: "3.0.0"
info:
  title: sample
  version: "1"
servers:
  - url: https://api.example.com/v1
paths:
  /widgets/{widget_id}:
    get:
      operationId: getWidget
      description: Fetch a widget by id.
      parameters:
        - name: widget_id
          in: path
          required: true
          schema:
            type: string
  /widgets:
    post:
      summary: Create a widget
      requestBody:
        content:
          application/json:
            schema:
              type: object
              properties:
                name:
                  type: string
                price:
                  type: number
              required: [name]
`

const swagger2Descriptor = `
swagger: "2.0"
info:
  title: old
  version: "1"
paths: {}
`

func TestOpenAPIAdapter_RejectsSwagger2(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(swagger2Descriptor))
	}))
	defer server.Close()

	a := NewOpenAPIAdapter(nil, 30)
	_, err := a.FetchAndNormalize(context.Background(), server.URL, nil)
	require.Error(t, err)
}

func TestOpenAPIAdapter_ExtractsToolsFromPathsAndMethods(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(sampleDescriptor))
	}))
	defer server.Close()

	a := NewOpenAPIAdapter(nil, 30)
	result, err := a.FetchAndNormalize(context.Background(), server.URL, nil)
	require.NoError(t, err)
	require.True(t, result.OK)
	require.Len(t, result.Tools, 2)
	require.NotEmpty(t, result.InventoryHash)

	byID := map[string]ToolDefinition{}
	for _, tool := range result.Tools {
		byID[tool.OperationID] = tool
	}

	get, ok := byID["getWidget"]
	require.True(t, ok)
	assert.Equal(t, "https://api.example.com/v1/widgets/{{ widget_id }}", get.Profile.URLTemplate)
	assert.Equal(t, "GET", get.Profile.Method)
	props, _ := get.InputSchema["properties"].(map[string]any)
	assert.Contains(t, props, "widget_id")

	create, ok := byID["post_widgets"]
	require.True(t, ok)
	assert.Equal(t, "POST", create.Profile.Method)
	assert.Contains(t, create.Profile.BodyTemplate, `"name": {{ name | tojson }}`)
	req, _ := create.InputSchema["required"].([]string)
	assert.Contains(t, req, "name")
}

func TestOpenAPIAdapter_InventoryHashIsStableAcrossRuns(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(sampleDescriptor))
	}))
	defer server.Close()

	a := NewOpenAPIAdapter(nil, 30)
	r1, err := a.FetchAndNormalize(context.Background(), server.URL, nil)
	require.NoError(t, err)
	r2, err := a.FetchAndNormalize(context.Background(), server.URL, nil)
	require.NoError(t, err)
	assert.Equal(t, r1.InventoryHash, r2.InventoryHash)
}
