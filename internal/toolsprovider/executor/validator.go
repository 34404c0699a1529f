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
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/kestrelai/kestrel/pkg/kerrors"
)

// Validator compiles and caches Draft-7 JSON Schemas under the key the
// caller supplies (Execute passes the tool id), so a hot tool isn't
// recompiled on every call. A schema already cached under a key is reused
// even if a later call passes a different schema for that key.
type Validator struct {
	mu     sync.Mutex
	cached map[string]*jsonschema.Schema
}

// NewValidator returns an empty Validator.
func NewValidator() *Validator {
	return &Validator{cached: make(map[string]*jsonschema.Schema)}
}

// Validate checks arguments against schema, compiling (and caching under
// cacheKey) on first use. Returns a single kerrors.Error(KindValidation)
// aggregating every schema violation when arguments don't conform.
func (v *Validator) Validate(cacheKey string, schema map[string]any, arguments map[string]any) error {
	compiled, err := v.compiled(cacheKey, schema)
	if err != nil {
		return kerrors.Wrap(kerrors.KindValidation, "compile tool input schema", err)
	}

	if err := compiled.Validate(arguments); err != nil {
		if verr, ok := err.(*jsonschema.ValidationError); ok {
			return kerrors.New(kerrors.KindValidation, "argument validation failed").WithDetails(map[string]any{
				"violations": flattenViolations(verr),
			})
		}
		return kerrors.Wrap(kerrors.KindValidation, "argument validation failed", err)
	}
	return nil
}

func (v *Validator) compiled(cacheKey string, schema map[string]any) (*jsonschema.Schema, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if s, ok := v.cached[cacheKey]; ok {
		return s, nil
	}

	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft7
	resourceURL := "mem://" + cacheKey
	if err := compiler.AddResource(resourceURL, schema); err != nil {
		return nil, err
	}
	compiled, err := compiler.Compile(resourceURL)
	if err != nil {
		return nil, err
	}
	v.cached[cacheKey] = compiled
	return compiled, nil
}

// flattenViolations walks a ValidationError's cause tree into a flat list
// of "<instance path>: <message>" strings, aggregating every violation
// rather than surfacing only the first (spec §4.10 step 1: "multiple
// errors aggregate").
func flattenViolations(err *jsonschema.ValidationError) []string {
	var out []string
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			out = append(out, fmt.Sprintf("%s: %s", e.InstanceLocation, e.Message))
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(err)
	return out
}
