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

package domain

import (
	"fmt"
	"regexp"
	"strings"
)

// ClaimLookup resolves a dot-notation path against a claims set, mirroring
// pkg/auth.Claims.Get's signature so the access resolver can pass
// (*auth.Claims).Get directly without an adapter.
type ClaimLookup func(path string) (any, bool)

// Evaluate applies m's operator to the claim resolved by lookup(m.JSONPath),
// per spec §4.11's fixed operator semantics.
func (m ClaimMatcher) Evaluate(lookup ClaimLookup) bool {
	value, ok := lookup(m.JSONPath)
	if m.Operator == OpExists {
		return ok && value != nil
	}
	if !ok || value == nil {
		// "Missing claim ⇒ all operators except exists evaluate false."
		return false
	}

	switch m.Operator {
	case OpEquals:
		return stringify(value) == m.Value
	case OpNotEquals:
		return stringify(value) != m.Value
	case OpContains:
		return containsValue(value, m.Value)
	case OpNotContains:
		return !containsValue(value, m.Value)
	case OpMatches:
		re, err := regexp.Compile("^(?:" + m.Value + ")")
		if err != nil {
			return false
		}
		return re.MatchString(stringify(value))
	case OpIn:
		return containsFold(splitCSV(m.Value), stringify(value))
	case OpNotIn:
		return !containsFold(splitCSV(m.Value), stringify(value))
	default:
		return false
	}
}

func stringify(value any) string {
	if s, ok := value.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", value)
}

// containsValue implements "contains": substring for strings, membership
// for arrays (spec §4.11).
func containsValue(value any, needle string) bool {
	switch v := value.(type) {
	case string:
		return strings.Contains(v, needle)
	case []string:
		return containsFold(v, needle)
	case []any:
		for _, item := range v {
			if stringify(item) == needle {
				return true
			}
		}
		return false
	default:
		return strings.Contains(stringify(value), needle)
	}
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}
