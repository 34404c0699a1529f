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

package projector

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const (
	collectionTools    = "tools_read_model"
	collectionSources  = "sources_read_model"
	collectionGroups   = "groups_read_model"
	collectionPolicies = "policies_read_model"
	collectionMeta     = "projector_meta"

	positionDocID    = "position"
	policyEpochDocID = "policy_epoch"
)

// Store wraps the MongoDB collections the projector and read model share.
type Store struct {
	db *mongo.Database
}

// NewStore wraps db. Index creation is left to deployment tooling
// (migrations), matching the teacher's own convention of not issuing
// schema DDL from application code.
func NewStore(db *mongo.Database) *Store {
	return &Store{db: db}
}

func (s *Store) toolsCollection() *mongo.Collection    { return s.db.Collection(collectionTools) }
func (s *Store) sourcesCollection() *mongo.Collection  { return s.db.Collection(collectionSources) }
func (s *Store) groupsCollection() *mongo.Collection   { return s.db.Collection(collectionGroups) }
func (s *Store) policiesCollection() *mongo.Collection { return s.db.Collection(collectionPolicies) }
func (s *Store) metaCollection() *mongo.Collection     { return s.db.Collection(collectionMeta) }

type positionDoc struct {
	ID       string `bson:"_id"`
	Position int64  `bson:"position"`
}

// LastPosition returns the global position this store has fully projected
// through, or 0 if nothing has been projected yet.
func (s *Store) LastPosition(ctx context.Context) (int64, error) {
	var doc positionDoc
	err := s.metaCollection().FindOne(ctx, bson.M{"_id": positionDocID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return doc.Position, nil
}

// SavePosition records pos as the last fully-projected global position.
func (s *Store) SavePosition(ctx context.Context, pos int64) error {
	_, err := s.metaCollection().UpdateOne(ctx,
		bson.M{"_id": positionDocID},
		bson.M{"$set": bson.M{"position": pos}},
		options.UpdateOne().SetUpsert(true),
	)
	return err
}

// ResetPosition rewinds the stored position to zero, so the next
// Reconciliator pass replays every event from the beginning (full rebuild).
func (s *Store) ResetPosition(ctx context.Context) error {
	return s.SavePosition(ctx, 0)
}

type epochDoc struct {
	ID    string `bson:"_id"`
	Epoch int64  `bson:"epoch"`
}

// PolicyEpoch returns the current access-policy epoch (spec §4.11's
// "active-policy epoch" the access cache keys against).
func (s *Store) PolicyEpoch(ctx context.Context) (int64, error) {
	var doc epochDoc
	err := s.metaCollection().FindOne(ctx, bson.M{"_id": policyEpochDocID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return doc.Epoch, nil
}

// BumpPolicyEpoch increments and returns the access-policy epoch, called
// whenever an AccessPolicy event is projected so cached access decisions
// invalidate without needing a TTL to expire.
func (s *Store) BumpPolicyEpoch(ctx context.Context) (int64, error) {
	after := options.After
	var doc epochDoc
	err := s.metaCollection().FindOneAndUpdate(ctx,
		bson.M{"_id": policyEpochDocID},
		bson.M{"$inc": bson.M{"epoch": 1}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(after),
	).Decode(&doc)
	if err != nil {
		return 0, err
	}
	return doc.Epoch, nil
}
