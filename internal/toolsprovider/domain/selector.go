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
	"path"
	"regexp"
	"strings"
)

// ToolSelector is a glob-or-regex rule admitting tools into a ToolGroup by
// source/name/path/method/tag criteria (spec §3). Every pattern field is
// either a shell glob (matched case-insensitively) or, when prefixed
// "regex:", a case-insensitive regular expression.
type ToolSelector struct {
	SourcePattern     string   `json:"source_pattern,omitempty"`
	NamePattern       string   `json:"name_pattern,omitempty"`
	PathPattern       string   `json:"path_pattern,omitempty"`
	MethodPattern     string   `json:"method_pattern,omitempty"`
	RequiredTags      []string `json:"required_tags,omitempty"`
	ExcludedTags      []string `json:"excluded_tags,omitempty"`
	RequiredLabelIDs  []string `json:"required_label_ids,omitempty"`
}

// SelectableTool is the subset of SourceTool + its owning source a selector
// needs to decide membership; catalog resolution builds this from the
// projected read model, not the write-model aggregates directly.
type SelectableTool struct {
	SourceName  string
	ToolName    string
	URLPath     string
	Method      string
	Tags        []string
	LabelIDs    []string
}

// Matches reports whether tool satisfies every non-empty field of the
// selector.
func (s ToolSelector) Matches(tool SelectableTool) bool {
	if s.SourcePattern != "" && !patternMatches(s.SourcePattern, tool.SourceName) {
		return false
	}
	if s.NamePattern != "" && !patternMatches(s.NamePattern, tool.ToolName) {
		return false
	}
	if s.PathPattern != "" && !patternMatches(s.PathPattern, tool.URLPath) {
		return false
	}
	if s.MethodPattern != "" && !patternMatches(s.MethodPattern, tool.Method) {
		return false
	}
	for _, required := range s.RequiredTags {
		if !containsFold(tool.Tags, required) {
			return false
		}
	}
	for _, excluded := range s.ExcludedTags {
		if containsFold(tool.Tags, excluded) {
			return false
		}
	}
	for _, required := range s.RequiredLabelIDs {
		if !containsFold(tool.LabelIDs, required) {
			return false
		}
	}
	return true
}

// patternMatches matches pattern against value case-insensitively. A
// "regex:" prefix switches from shell glob to regular expression, anchored
// to the full string so a glob and a regex selector behave the same way
// when the author forgets to anchor (spec is silent on anchoring; full-match
// is the least surprising default for an allow-list selector).
func patternMatches(pattern, value string) bool {
	value = strings.ToLower(value)
	if rx, ok := strings.CutPrefix(pattern, "regex:"); ok {
		re, err := regexp.Compile("(?i)^(?:" + rx + ")$")
		if err != nil {
			return false
		}
		return re.MatchString(value)
	}
	ok, err := path.Match(strings.ToLower(pattern), value)
	return err == nil && ok
}

func containsFold(haystack []string, needle string) bool {
	for _, h := range haystack {
		if strings.EqualFold(h, needle) {
			return true
		}
	}
	return false
}
