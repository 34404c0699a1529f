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

package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelai/kestrel/pkg/kerrors"
)

func TestRender_VariableInterpolation(t *testing.T) {
	out, err := Render("https://api.example.com/users/{{ user_id }}", map[string]any{"user_id": "42"})
	require.NoError(t, err)
	assert.Equal(t, "https://api.example.com/users/42", out)
}

func TestRender_TojsonFilter(t *testing.T) {
	out, err := Render(`{"amount": {{ amount | tojson }}}`, map[string]any{"amount": 12.5})
	require.NoError(t, err)
	assert.Equal(t, `{"amount": 12.5}`, out)
}

func TestRender_TojsonFilter_String(t *testing.T) {
	out, err := Render(`{"name": {{ name | tojson }}}`, map[string]any{"name": `O'Brien "the" third`})
	require.NoError(t, err)
	assert.JSONEq(t, `{"name": "O'Brien \"the\" third"}`, out)
}

func TestRender_UnknownVariableYieldsTemplateErrorWithAvailableKeys(t *testing.T) {
	_, err := Render("{{ missing }}", map[string]any{"known": "x"})
	require.Error(t, err)
	assert.Equal(t, kerrors.KindTemplate, kerrors.KindOf(err))

	var ke *kerrors.Error
	require.ErrorAs(t, err, &ke)
	assert.Contains(t, ke.Details["missing"], "missing")
	assert.Contains(t, ke.Details["available"], "known")
}

func TestRender_EveryReferencedVariableIsPresentInValidatedArgsOrLocals(t *testing.T) {
	// "For all rendered request templates ρ, every variable referenced by ρ
	// is present in (validated arguments ∪ {special locals})." Render's
	// contract is exactly this: it fails closed rather than leaving a
	// literal {{ var }} in the output.
	vars := map[string]any{"a": 1, "b": "two"}
	out, err := Render("{{a}}-{{ b }}", vars)
	require.NoError(t, err)
	assert.Equal(t, "1-two", out)
}

func TestRenderHeaders(t *testing.T) {
	out, err := RenderHeaders(map[string]string{"X-User": "{{ user_id }}"}, map[string]any{"user_id": "u1"})
	require.NoError(t, err)
	assert.Equal(t, "u1", out["X-User"])
}
