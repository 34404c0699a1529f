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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// charCounter treats one character as one token, avoiding a dependency on
// tiktoken-go's real encoding tables in unit tests.
type charCounter struct{}

func (charCounter) Count(s string) int { return len(s) }

func TestTrimToBudget_KeepsSystemMessageAndNewestTail(t *testing.T) {
	messages := []Message{
		{Role: RoleSystem, Content: "sys12345"},  // 8
		{Role: RoleUser, Content: "aaaaa"},        // 5, oldest
		{Role: RoleAssistant, Content: "bbbbb"},   // 5
		{Role: RoleUser, Content: "ccccc"},        // 5, newest
	}
	got := TrimToBudget(charCounter{}, messages, 18)

	require.Len(t, got, 3)
	assert.Equal(t, RoleSystem, got[0].Role)
	assert.Equal(t, "bbbbb", got[1].Content)
	assert.Equal(t, "ccccc", got[2].Content)
}

func TestTrimToBudget_AlwaysKeepsNewestMessageEvenIfOverBudget(t *testing.T) {
	messages := []Message{
		{Role: RoleUser, Content: "this-single-message-exceeds-the-budget-alone"},
	}
	got := TrimToBudget(charCounter{}, messages, 1)
	require.Len(t, got, 1)
	assert.Equal(t, messages[0].Content, got[0].Content)
}

func TestTrimToBudget_NoSystemMessage(t *testing.T) {
	messages := []Message{
		{Role: RoleUser, Content: "aaaa"},
		{Role: RoleUser, Content: "bbbb"},
	}
	got := TrimToBudget(charCounter{}, messages, 4)
	require.Len(t, got, 1)
	assert.Equal(t, "bbbb", got[0].Content)
}
