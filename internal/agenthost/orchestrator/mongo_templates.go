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
	"errors"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

const collectionTemplateBindings = "template_bindings"

// widgetDoc/templateItemDoc/templateDoc/bindingDoc mirror Template's
// shape for storage, the same split the tools-provider read models use
// between their domain structs and their bson-tagged documents.
type widgetDoc struct {
	ID      string         `bson:"id"`
	Type    string         `bson:"type"`
	Props   map[string]any `bson:"props"`
	Correct any            `bson:"correct,omitempty"`
}

type templateItemDoc struct {
	Title               string     `bson:"title"`
	TextContent         string     `bson:"text_content"`
	Widget              *widgetDoc `bson:"widget,omitempty"`
	EnableChatInput     bool       `bson:"enable_chat_input"`
	TimeLimitSeconds    int        `bson:"time_limit_seconds"`
	WarningMessage      string     `bson:"warning_message"`
	RevealCorrectAnswer bool       `bson:"reveal_correct_answer"`
	FeedbackCorrect     string     `bson:"feedback_correct"`
	FeedbackIncorrect   string     `bson:"feedback_incorrect"`
}

type templateDoc struct {
	ID               string            `bson:"_id"`
	AgentStartsFirst bool              `bson:"agent_starts_first"`
	Items            []templateItemDoc `bson:"items"`
}

// bindingDoc maps one conversation to the template it was started from.
type bindingDoc struct {
	ConversationID string `bson:"_id"`
	TemplateID     string `bson:"template_id"`
}

// MongoTemplateStore implements TemplateLookup against MongoDB
// collections, the same storage the tools-provider's projector read
// models use.
type MongoTemplateStore struct {
	templates *mongo.Collection
	bindings  *mongo.Collection
}

func NewMongoTemplateStore(db *mongo.Database) *MongoTemplateStore {
	return &MongoTemplateStore{
		templates: db.Collection("templates"),
		bindings:  db.Collection(collectionTemplateBindings),
	}
}

func (s *MongoTemplateStore) GetTemplateForConversation(ctx context.Context, conversationID string) (*Template, bool, error) {
	var binding bindingDoc
	err := s.bindings.FindOne(ctx, bson.M{"_id": conversationID}).Decode(&binding)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var doc templateDoc
	err = s.templates.FindOne(ctx, bson.M{"_id": binding.TemplateID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	return fromTemplateDoc(doc), true, nil
}

func fromTemplateDoc(doc templateDoc) *Template {
	t := &Template{ID: doc.ID, AgentStartsFirst: doc.AgentStartsFirst}
	for _, item := range doc.Items {
		out := TemplateItem{
			Title:               item.Title,
			TextContent:         item.TextContent,
			EnableChatInput:     item.EnableChatInput,
			TimeLimitSeconds:    item.TimeLimitSeconds,
			WarningMessage:      item.WarningMessage,
			RevealCorrectAnswer: item.RevealCorrectAnswer,
			FeedbackCorrect:     item.FeedbackCorrect,
			FeedbackIncorrect:   item.FeedbackIncorrect,
		}
		if item.Widget != nil {
			out.Widget = &Widget{ID: item.Widget.ID, Type: item.Widget.Type, Props: item.Widget.Props, Correct: item.Widget.Correct}
		}
		t.Items = append(t.Items, out)
	}
	return t
}
