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
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/kestrelai/kestrel/internal/toolsprovider/domain"
	"github.com/kestrelai/kestrel/pkg/httpclient"
	"github.com/kestrelai/kestrel/pkg/kerrors"
)

// supportedMethods is the fixed method set fetch_and_normalize walks per
// path (spec §4.7).
var supportedMethods = []string{"get", "post", "put", "patch", "delete"}

var pathParamPattern = regexp.MustCompile(`\{([a-zA-Z0-9_]+)\}`)

// OpenAPIAdapter implements the OpenAPI variant of fetch_and_normalize.
type OpenAPIAdapter struct {
	http           *httpclient.Client
	timeoutSeconds int
}

// NewOpenAPIAdapter constructs an OpenAPIAdapter. httpClient defaults to a
// fresh httpclient.Client when nil.
func NewOpenAPIAdapter(httpClient *httpclient.Client, timeoutSeconds int) *OpenAPIAdapter {
	if httpClient == nil {
		httpClient = httpclient.New()
	}
	if timeoutSeconds <= 0 {
		timeoutSeconds = 30
	}
	return &OpenAPIAdapter{http: httpClient, timeoutSeconds: timeoutSeconds}
}

var _ Adapter = (*OpenAPIAdapter)(nil)

type openapiServer struct {
	URL string `mapstructure:"url"`
}

type openapiDoc struct {
	OpenAPI    string                    `mapstructure:"openapi"`
	Swagger    string                    `mapstructure:"swagger"`
	Servers    []openapiServer           `mapstructure:"servers"`
	Paths      map[string]map[string]any `mapstructure:"paths"`
	Components struct {
		Schemas         map[string]any `mapstructure:"schemas"`
		SecuritySchemes map[string]any `mapstructure:"securitySchemes"`
	} `mapstructure:"components"`
}

// FetchAndNormalize implements Adapter for OpenAPI descriptors.
func (a *OpenAPIAdapter) FetchAndNormalize(ctx context.Context, descriptorURL string, authCfg *domain.AuthConfig) (IngestionResult, error) {
	raw, err := a.fetch(ctx, descriptorURL, authCfg)
	if err != nil {
		return IngestionResult{OK: false, Error: err.Error()}, err
	}

	var generic map[string]any
	if err := yaml.Unmarshal(raw, &generic); err != nil {
		jsonErr := kerrors.Wrap(kerrors.KindValidation, "descriptor is neither valid JSON nor YAML", err)
		return IngestionResult{OK: false, Error: jsonErr.Error()}, jsonErr
	}

	if _, isSwagger2 := generic["swagger"]; isSwagger2 {
		err := kerrors.New(kerrors.KindValidation, "Swagger 2.x descriptors are not supported, use OpenAPI 3.x")
		return IngestionResult{OK: false, Error: err.Error()}, err
	}

	var doc openapiDoc
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{Result: &doc, WeaklyTypedInput: true})
	if err != nil {
		return IngestionResult{OK: false, Error: err.Error()}, err
	}
	if err := decoder.Decode(generic); err != nil {
		wrapped := kerrors.Wrap(kerrors.KindValidation, "decode OpenAPI document", err)
		return IngestionResult{OK: false, Error: wrapped.Error()}, wrapped
	}

	baseURL, err := resolveBaseURL(doc, descriptorURL)
	if err != nil {
		return IngestionResult{OK: false, Error: err.Error()}, err
	}

	var tools []ToolDefinition
	var warnings []string

	requiredAudience := requiredAudienceFromSecuritySchemes(doc.Components.SecuritySchemes)

	paths := make([]string, 0, len(doc.Paths))
	for p := range doc.Paths {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, p := range paths {
		methods := doc.Paths[p]
		methodNames := make([]string, 0, len(methods))
		for m := range methods {
			methodNames = append(methodNames, m)
		}
		sort.Strings(methodNames)

		for _, method := range methodNames {
			if !containsStr(supportedMethods, strings.ToLower(method)) {
				continue
			}
			opRaw, ok := methods[method].(map[string]any)
			if !ok {
				continue
			}
			tool, warn, err := a.buildTool(doc, baseURL, p, strings.ToUpper(method), opRaw, requiredAudience)
			if err != nil {
				warnings = append(warnings, fmt.Sprintf("%s %s: %v", strings.ToUpper(method), p, err))
				continue
			}
			warnings = append(warnings, warn...)
			tools = append(tools, tool)
		}
	}

	hash := inventoryHash(tools)
	return IngestionResult{Tools: tools, InventoryHash: hash, Warnings: warnings, OK: true}, nil
}

func (a *OpenAPIAdapter) fetch(ctx context.Context, descriptorURL string, authCfg *domain.AuthConfig) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, descriptorURL, nil)
	if err != nil {
		return nil, kerrors.Wrap(kerrors.KindValidation, "build descriptor request", err)
	}
	applyAuthHeader(req, authCfg)

	resp, err := a.http.Do(req)
	if err != nil {
		return nil, kerrors.Wrap(kerrors.KindUnavailable, "fetch descriptor", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, kerrors.New(kerrors.KindUnavailable, fmt.Sprintf("descriptor fetch returned status %d", resp.StatusCode))
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, kerrors.Wrap(kerrors.KindUnavailable, "read descriptor body", err)
	}
	return body, nil
}

func applyAuthHeader(req *http.Request, authCfg *domain.AuthConfig) {
	if authCfg == nil {
		return
	}
	if authCfg.APIKeyHeader != "" {
		req.Header.Set(authCfg.APIKeyHeader, authCfg.APIKeyValue)
	}
}

func resolveBaseURL(doc openapiDoc, descriptorURL string) (string, error) {
	if len(doc.Servers) > 0 && doc.Servers[0].URL != "" {
		server := doc.Servers[0].URL
		parsed, err := url.Parse(server)
		if err != nil {
			return "", kerrors.Wrap(kerrors.KindValidation, "parse servers[0].url", err)
		}
		if parsed.IsAbs() {
			return strings.TrimRight(server, "/"), nil
		}
		base, err := url.Parse(descriptorURL)
		if err != nil {
			return "", kerrors.Wrap(kerrors.KindValidation, "parse descriptor URL", err)
		}
		resolved := base.ResolveReference(parsed)
		return strings.TrimRight(resolved.String(), "/"), nil
	}
	base, err := url.Parse(descriptorURL)
	if err != nil {
		return "", kerrors.Wrap(kerrors.KindValidation, "parse descriptor URL", err)
	}
	return fmt.Sprintf("%s://%s", base.Scheme, base.Host), nil
}

func (a *OpenAPIAdapter) buildTool(doc openapiDoc, baseURL, path, method string, opRaw map[string]any, requiredAudience string) (ToolDefinition, []string, error) {
	var warnings []string

	operationID, _ := opRaw["operationId"].(string)
	if operationID == "" {
		operationID = generatedOperationID(method, path)
	}

	description, _ := opRaw["description"].(string)
	if description == "" {
		description, _ = opRaw["summary"].(string)
	}
	if description == "" {
		description = fmt.Sprintf("%s %s", method, path)
	}

	properties := map[string]any{}
	var required []string

	if params, ok := opRaw["parameters"].([]any); ok {
		for _, raw := range params {
			p, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			name, _ := p["name"].(string)
			if name == "" {
				continue
			}
			schema, _ := p["schema"].(map[string]any)
			if schema == nil {
				schema = map[string]any{"type": "string"}
			}
			properties[name] = resolveLocalRef(doc, schema)
			if isRequired, _ := p["required"].(bool); isRequired {
				required = append(required, name)
			}
		}
	}

	var bodyTemplate string
	contentType := "application/json"
	if reqBody, ok := opRaw["requestBody"].(map[string]any); ok {
		content, _ := reqBody["content"].(map[string]any)
		if jsonBody, ok := content["application/json"].(map[string]any); ok {
			schema, _ := jsonBody["schema"].(map[string]any)
			schema = resolveLocalRef(doc, schema)
			bodyProps, _ := schema["properties"].(map[string]any)
			bodyRequired, _ := schema["required"].([]any)

			keys := make([]string, 0, len(bodyProps))
			for k := range bodyProps {
				properties[k] = bodyProps[k]
				keys = append(keys, k)
			}
			sort.Strings(keys)
			bodyTemplate = buildBodyTemplate(keys)

			for _, r := range bodyRequired {
				if s, ok := r.(string); ok {
					required = append(required, s)
				}
			}
		} else {
			warnings = append(warnings, "request body present with no application/json content, omitted from schema")
		}
	}

	inputSchema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		sort.Strings(required)
		inputSchema["required"] = dedupe(required)
	}

	urlTemplate := baseURL + pathParamPattern.ReplaceAllString(path, "{{ $1 }}")

	profile := domain.ExecutionProfile{
		Mode:             domain.ModeSyncHTTP,
		Method:           method,
		URLTemplate:      urlTemplate,
		BodyTemplate:     bodyTemplate,
		ContentType:      contentType,
		RequiredAudience: requiredAudience,
		TimeoutSeconds:   a.timeoutSeconds,
	}

	return ToolDefinition{
		OperationID: operationID,
		ToolName:    operationID,
		Description: description,
		InputSchema: inputSchema,
		Profile:     profile,
	}, warnings, nil
}

func buildBodyTemplate(keys []string) string {
	if len(keys) == 0 {
		return ""
	}
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%q: {{ %s | tojson }}", k, k))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// resolveLocalRef follows a single internal "#/components/schemas/X" ref.
// Nested refs inside the resolved schema are left unresolved; the spec
// scopes this to "internal refs only", not full recursive dereferencing.
func resolveLocalRef(doc openapiDoc, schema map[string]any) map[string]any {
	ref, ok := schema["$ref"].(string)
	if !ok {
		return schema
	}
	const prefix = "#/components/schemas/"
	if !strings.HasPrefix(ref, prefix) {
		return schema
	}
	name := strings.TrimPrefix(ref, prefix)
	if resolved, ok := doc.Components.Schemas[name].(map[string]any); ok {
		return resolved
	}
	return schema
}

func requiredAudienceFromSecuritySchemes(schemes map[string]any) string {
	for _, raw := range schemes {
		scheme, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if aud, ok := scheme["x-audience"].(string); ok && aud != "" {
			return aud
		}
	}
	return ""
}

func generatedOperationID(method, path string) string {
	trimmed := pathParamPattern.ReplaceAllString(path, "$1")
	snake := strings.ToLower(strings.Trim(strings.ReplaceAll(trimmed, "/", "_"), "_"))
	return fmt.Sprintf("%s_%s", strings.ToLower(method), snake)
}

func containsStr(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// inventoryHash is the truncated SHA-256 of the sorted, canonicalized tool
// list (spec §4.7): name, description, and input schema per tool,
// JSON-marshaled deterministically (sorted map keys is encoding/json's
// default behavior).
func inventoryHash(tools []ToolDefinition) string {
	type canonical struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		InputSchema map[string]any `json:"input_schema"`
	}
	entries := make([]canonical, 0, len(tools))
	for _, t := range tools {
		entries = append(entries, canonical{Name: t.ToolName, Description: t.Description, InputSchema: t.InputSchema})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	b, _ := json.Marshal(entries)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:16])
}
