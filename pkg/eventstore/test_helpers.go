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

package eventstore

import "testing"

// newTestStore returns a fresh MemoryStore for a test, mirroring the rest of
// the repo's per-package test_helpers.go convention.
func newTestStore(t testing.TB) *MemoryStore {
	t.Helper()
	return NewMemoryStore()
}
