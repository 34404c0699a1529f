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

// Package template implements the restricted Jinja-style renderer spec
// §4.10 step 3 needs for URL, header, and body templates: variable
// interpolation ({{ name }}) and a tojson filter ({{ name | tojson }}).
// There is no loop, conditional, or macro support — upstream operation
// templates are generated data, not authored programs, so the renderer is
// deliberately narrower than a general template engine.
package template

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/kestrelai/kestrel/pkg/kerrors"
)

// exprPattern matches "{{ name }}" or "{{ name | tojson }}", capturing the
// variable name and optional filter. Whitespace around the braces and pipe
// is optional, matching common Jinja formatting.
var exprPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z_][a-zA-Z0-9_.]*)\s*(?:\|\s*([a-zA-Z_]+)\s*)?\}\}`)

// Render substitutes every {{ variable }} or {{ variable | tojson }}
// expression in tmpl using vars. Returns a *kerrors.Error(KindTemplate)
// listing every unresolved variable name if any expression references a
// name absent from vars.
func Render(tmpl string, vars map[string]any) (string, error) {
	var missing []string
	seen := map[string]bool{}

	result := exprPattern.ReplaceAllStringFunc(tmpl, func(match string) string {
		sub := exprPattern.FindStringSubmatch(match)
		name, filter := sub[1], sub[2]

		value, ok := vars[name]
		if !ok {
			if !seen[name] {
				seen[name] = true
				missing = append(missing, name)
			}
			return match
		}

		if filter == "tojson" {
			encoded, err := json.Marshal(value)
			if err != nil {
				return match
			}
			return string(encoded)
		}
		return fmt.Sprintf("%v", value)
	})

	if len(missing) > 0 {
		available := make([]string, 0, len(vars))
		for k := range vars {
			available = append(available, k)
		}
		return "", kerrors.New(kerrors.KindTemplate, "unknown template variables: "+strings.Join(missing, ", ")).
			WithDetails(map[string]any{"missing": missing, "available": available})
	}
	return result, nil
}

// RenderHeaders renders every header value in headers against vars,
// returning the first template error encountered.
func RenderHeaders(headers map[string]string, vars map[string]any) (map[string]string, error) {
	out := make(map[string]string, len(headers))
	for key, tmpl := range headers {
		rendered, err := Render(tmpl, vars)
		if err != nil {
			return nil, err
		}
		out[key] = rendered
	}
	return out, nil
}
