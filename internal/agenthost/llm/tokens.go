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
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter estimates prompt size so the context-assembly step (spec
// §4.3's get_context_messages) can trim to a provider's context window by
// tokens rather than by message count alone.
type TokenCounter struct {
	mu  sync.Mutex
	enc *tiktoken.Tiktoken
}

// NewTokenCounter builds a TokenCounter using the cl100k_base encoding,
// the encoding shared by the GPT-3.5/GPT-4 family and a reasonable
// approximation for any OpenAI-compatible or Ollama-served model.
func NewTokenCounter() (*TokenCounter, error) {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, err
	}
	return &TokenCounter{enc: enc}, nil
}

// Count returns the token length of s.
func (c *TokenCounter) Count(s string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.enc.Encode(s, nil, nil))
}

// Counter estimates the token cost of a string. TokenCounter is the real
// implementation; tests substitute a cheap fake so they don't depend on
// tiktoken-go's encoding tables.
type Counter interface {
	Count(s string) int
}

// TrimToBudget drops the oldest messages (after any leading system
// message, which is always kept) until the remaining messages' total
// token count fits within budget. It never drops the most recent message,
// even if that message alone exceeds budget.
func TrimToBudget(counter Counter, messages []Message, budget int) []Message {
	if len(messages) == 0 {
		return messages
	}

	var system *Message
	rest := messages
	if messages[0].Role == RoleSystem {
		system = &messages[0]
		rest = messages[1:]
	}

	total := 0
	if system != nil {
		total += counter.Count(system.Content)
	}

	kept := make([]Message, 0, len(rest))
	for i := len(rest) - 1; i >= 0; i-- {
		cost := counter.Count(rest[i].Content)
		if total+cost > budget && len(kept) > 0 {
			break
		}
		total += cost
		kept = append(kept, rest[i])
	}
	// kept was built newest-first; reverse it.
	for l, r := 0, len(kept)-1; l < r; l, r = l+1, r-1 {
		kept[l], kept[r] = kept[r], kept[l]
	}

	if system == nil {
		return kept
	}
	out := make([]Message, 0, len(kept)+1)
	out = append(out, *system)
	out = append(out, kept...)
	return out
}
