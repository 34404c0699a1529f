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

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kestrelai/kestrel/internal/agenthost/conversation"
	"github.com/kestrelai/kestrel/internal/agenthost/wire"
)

// contentChunkSize and contentChunkInterval implement spec §4.5.1's
// streamed-text presentation: item text is sent in 50-character chunks,
// 50ms apart, ending in a content_complete frame.
const (
	contentChunkSize     = 50
	contentChunkInterval = 50 * time.Millisecond
)

// runProactiveFlow drives the current template item per spec §4.5.1: send
// item_context, stream its text, show its widget (if any) and wait, or
// move straight to the next item when there is nothing to wait for.
func (o *Orchestrator) runProactiveFlow(ctx context.Context) {
	o.mu.Lock()
	tmpl := o.template
	idx := o.itemIdx
	o.mu.Unlock()

	if tmpl == nil || idx >= len(tmpl.Items) {
		o.completeProactiveFlow(ctx)
		return
	}
	item := tmpl.Items[idx]

	o.send(wire.Message{Type: wire.TypeItemContext, Payload: wire.ItemContextPayload{
		ItemIndex: idx, Total: len(tmpl.Items), Title: item.Title, EnableChatInput: item.EnableChatInput,
	}})

	msgID := uuid.NewString()
	o.streamItemText(ctx, msgID, item.TextContent)

	if item.Widget == nil {
		o.advanceToNextItem(ctx)
		return
	}

	o.send(wire.Message{Type: wire.TypeWidgetShow, Payload: wire.WidgetShowPayload{
		ItemID: item.Widget.ID, WidgetType: item.Widget.Type, Props: item.Widget.Props,
	}})
	o.setState(StateWaitingForWidget)

	if item.TimeLimitSeconds > 0 {
		go o.runItemTimer(ctx, idx, item)
	}
}

// streamItemText sends item text in fixed-size chunks spaced
// contentChunkInterval apart, per spec §4.5.1.
func (o *Orchestrator) streamItemText(ctx context.Context, msgID, text string) {
	runes := []rune(text)
	for i := 0; i < len(runes); i += contentChunkSize {
		end := i + contentChunkSize
		if end > len(runes) {
			end = len(runes)
		}
		chunk := string(runes[i:end])
		final := end >= len(runes)
		o.send(wire.Message{Type: wire.TypeContentChunk, Payload: wire.ContentChunkPayload{Content: chunk, MessageID: msgID, Final: final}})
		if !final {
			select {
			case <-ctx.Done():
				return
			case <-time.After(contentChunkInterval):
			}
		}
	}
	o.send(wire.Message{Type: wire.TypeContentComplete, Payload: wire.ContentCompletePayload{MessageID: msgID, Role: "assistant", FullContent: text}})
}

// runItemTimer enforces an item's time limit: it emits a warning partway
// through, then forces advancement if no response arrives before the
// limit (spec §4.5.1).
func (o *Orchestrator) runItemTimer(ctx context.Context, idx int, item TemplateItem) {
	limit := time.Duration(item.TimeLimitSeconds) * time.Second
	warnAt := limit - limit/5 // warn in the final fifth of the window
	if warnAt < 0 {
		warnAt = 0
	}

	warnTimer := time.NewTimer(warnAt)
	defer warnTimer.Stop()
	select {
	case <-ctx.Done():
		return
	case <-warnTimer.C:
	}

	o.mu.Lock()
	stillWaiting := o.state == StateWaitingForWidget && o.itemIdx == idx
	o.mu.Unlock()
	if !stillWaiting {
		return
	}

	secondsLeft := item.TimeLimitSeconds - int(warnAt.Seconds())
	if item.Widget != nil {
		o.send(wire.Message{Type: wire.TypeExpirationWarning, Payload: wire.ExpirationWarningPayload{ItemID: item.Widget.ID, SecondsRemaining: secondsLeft}})
	}

	remaining := limit - warnAt
	finalTimer := time.NewTimer(remaining)
	defer finalTimer.Stop()
	select {
	case <-ctx.Done():
		return
	case <-finalTimer.C:
	}

	o.mu.Lock()
	stillWaiting = o.state == StateWaitingForWidget && o.itemIdx == idx
	o.mu.Unlock()
	if !stillWaiting {
		return
	}
	_ = o.advanceProactiveFlow(ctx, "", nil)
}

// advanceProactiveFlow evaluates a widget response (or a forced timeout
// with a nil value), records feedback, persists the exchange as
// synthetic conversation messages, and moves to the next item (spec
// §4.5.1 step 4).
func (o *Orchestrator) advanceProactiveFlow(ctx context.Context, itemID string, value any) error {
	o.mu.Lock()
	tmpl := o.template
	idx := o.itemIdx
	o.mu.Unlock()
	if tmpl == nil || idx >= len(tmpl.Items) {
		return nil
	}
	item := tmpl.Items[idx]

	if item.Widget != nil && value != nil {
		correct := item.Widget.Correct != nil && fmt.Sprintf("%v", item.Widget.Correct) == fmt.Sprintf("%v", value)
		feedback := item.FeedbackIncorrect
		if correct {
			feedback = item.FeedbackCorrect
		}
		if err := o.recordSyntheticExchange(ctx, item, value, feedback, correct); err != nil {
			return err
		}
	}

	o.advanceToNextItem(ctx)
	return nil
}

// recordSyntheticExchange persists the widget answer and feedback as a
// user/assistant message pair so the conversation history (and any
// later agent run) can see what happened during the proactive flow.
func (o *Orchestrator) recordSyntheticExchange(ctx context.Context, item TemplateItem, value any, feedback string, correct bool) error {
	loaded, err := o.cfg.Conversations.Load(ctx, o.conversationID)
	if err != nil {
		return err
	}
	conv := loaded.State

	answerMsgID := uuid.NewString()
	events, err := conv.AddUserMessage(answerMsgID, fmt.Sprintf("%v", value))
	if err != nil {
		return err
	}
	if _, err := o.cfg.Conversations.Save(ctx, o.conversationID, loaded.Version, events); err != nil {
		return err
	}

	if feedback == "" && !item.RevealCorrectAnswer {
		return nil
	}
	content := feedback
	if item.RevealCorrectAnswer && item.Widget != nil {
		content = fmt.Sprintf("%s (correct answer: %v)", feedback, item.Widget.Correct)
	}

	loaded, err = o.cfg.Conversations.Load(ctx, o.conversationID)
	if err != nil {
		return err
	}
	events, err = loaded.State.AddAssistantMessage(uuid.NewString(), content, conversation.StatusCompleted)
	if err != nil {
		return err
	}
	_, err = o.cfg.Conversations.Save(ctx, o.conversationID, loaded.Version, events)
	return err
}

func (o *Orchestrator) advanceToNextItem(ctx context.Context) {
	o.mu.Lock()
	o.itemIdx++
	idx := o.itemIdx
	o.state = StatePresenting
	o.mu.Unlock()

	loaded, err := o.cfg.Conversations.Load(ctx, o.conversationID)
	if err == nil {
		if events, aerr := loaded.State.AdvanceTemplateItem(idx); aerr == nil && events != nil {
			_, _ = o.cfg.Conversations.Save(ctx, o.conversationID, loaded.Version, events)
		}
	}

	o.runProactiveFlow(ctx)
}

func (o *Orchestrator) completeProactiveFlow(ctx context.Context) {
	o.setState(StateActive)
	o.send(wire.Message{Type: wire.TypeMessageComplete, Payload: wire.MessageCompletePayload{Role: "system", Content: "flow complete"}})
	o.send(wire.Message{Type: wire.TypeChatInputEnabled, Payload: wire.ChatInputEnabledPayload{Enabled: true}})
}
