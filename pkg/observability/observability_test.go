// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kestrel Authors
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package observability

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewMetricsDisabled(t *testing.T) {
	m, err := NewMetrics(nil)
	require.NoError(t, err)
	require.Nil(t, m)

	m, err = NewMetrics(&MetricsConfig{Enabled: false})
	require.NoError(t, err)
	require.Nil(t, m)
}

func TestMetricsRecordAndScrape(t *testing.T) {
	m, err := NewMetrics(&MetricsConfig{Enabled: true, Namespace: "kestrel", Subsystem: "test"})
	require.NoError(t, err)
	require.NotNil(t, m)

	m.RecordAgentCall("planner", "supervisor", 10*time.Millisecond)
	m.RecordAgentError("planner", "supervisor", "timeout")
	m.IncAgentActiveRuns("planner")
	m.DecAgentActiveRuns("planner")
	m.RecordLLMCall("gpt-4o", "openai", 100*time.Millisecond)
	m.RecordLLMTokens("gpt-4o", "openai", 120, 40)
	m.RecordToolCall("search_tool", 5*time.Millisecond)
	m.RecordHTTPRequest("GET", "/agent/run", 200, 2*time.Millisecond, 128, 512)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	m.Handler().ServeHTTP(rec, req)
	require.Equal(t, 200, rec.Code)
	require.Contains(t, rec.Body.String(), "kestrel_test_agent_calls_total")
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	require.NotPanics(t, func() {
		m.RecordAgentCall("a", "b", time.Millisecond)
		m.RecordToolCall("t", time.Millisecond)
		m.RecordHTTPRequest("GET", "/x", 500, time.Millisecond, 0, 0)
	})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 503, rec.Code)
}

func TestNoopMetricsSatisfiesRecorder(t *testing.T) {
	var r Recorder = NoopMetrics{}
	require.NotPanics(t, func() {
		r.RecordAgentCall("a", "b", time.Millisecond)
		r.RecordLLMError("gpt-4o", "openai", "rate_limited")
		r.RecordSessionCreated("agent-host")
	})
}

func TestStatusCodeLabel(t *testing.T) {
	cases := map[int]string{200: "2xx", 301: "3xx", 404: "4xx", 503: "5xx", 0: "unknown"}
	for code, want := range cases {
		require.Equal(t, want, statusCodeLabel(code))
	}
}
