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

package orchestrator

import "context"

// Widget is the payload shown for a template item that requires a
// response (spec §4.5.1).
type Widget struct {
	ID      string
	Type    string
	Props   map[string]any
	Correct any // server-side scoring target, never sent to the client
}

// TemplateItem is one ordered step of a proactive flow (spec §4.5.1).
type TemplateItem struct {
	Title                string
	TextContent          string
	Widget               *Widget
	EnableChatInput      bool
	TimeLimitSeconds     int
	WarningMessage       string
	RevealCorrectAnswer  bool
	FeedbackCorrect      string
	FeedbackIncorrect    string
}

// Template is a static, ordered flow definition a conversation may be
// bound to (spec §4.5: "a static definition of ordered items, widgets,
// and flow flags").
type Template struct {
	ID               string
	AgentStartsFirst bool
	Items            []TemplateItem
}

// TemplateLookup resolves the template bound to a conversation, if any.
// It is read-only from the orchestrator's perspective — templates are
// authored out of band, not mutated by the conversation flow itself.
type TemplateLookup interface {
	GetTemplateForConversation(ctx context.Context, conversationID string) (*Template, bool, error)
}
