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

package agentloop

import (
	"encoding/json"
	"sort"

	"github.com/kestrelai/kestrel/internal/agenthost/llm"
)

// toolCallAccumulator reassembles complete tool calls from the streamed
// fragments a provider delivers across many StreamChunks, keyed by the
// ordinal index providers use to address a not-yet-complete call (spec
// §4.4 step 2: "Accumulate content and tool-call deltas").
type toolCallAccumulator struct {
	byIndex map[int]*partialToolCall
}

type partialToolCall struct {
	index     int
	id        string
	name      string
	arguments string
}

func newToolCallAccumulator() *toolCallAccumulator {
	return &toolCallAccumulator{byIndex: make(map[int]*partialToolCall)}
}

func (a *toolCallAccumulator) apply(deltas []llm.ToolCallDelta) {
	for _, d := range deltas {
		p, ok := a.byIndex[d.Index]
		if !ok {
			p = &partialToolCall{index: d.Index}
			a.byIndex[d.Index] = p
		}
		if d.ID != "" {
			p.id = d.ID
		}
		p.name += d.ToolNameDelta
		p.arguments += d.ArgumentsDelta
	}
}

// finish returns the accumulated calls in index order with their
// argument JSON decoded, per spec §4.4's requirement that subsequent
// history preserve call order.
func (a *toolCallAccumulator) finish() []ToolCall {
	if len(a.byIndex) == 0 {
		return nil
	}
	indices := make([]int, 0, len(a.byIndex))
	for idx := range a.byIndex {
		indices = append(indices, idx)
	}
	sort.Ints(indices)

	calls := make([]ToolCall, 0, len(indices))
	for _, idx := range indices {
		p := a.byIndex[idx]
		calls = append(calls, ToolCall{
			CallID:    p.id,
			Name:      p.name,
			Arguments: decodeToolArguments(p.arguments),
		})
	}
	return calls
}

func decodeToolArguments(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return map[string]any{"_raw": raw}
	}
	return args
}

func toJSONOrEmpty(v any) string {
	if v == nil {
		return ""
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
