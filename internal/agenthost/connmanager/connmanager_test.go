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

package connmanager

import (
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelai/kestrel/internal/agenthost/wire"
)

type fakeSocket struct {
	mu     sync.Mutex
	sent   []wire.Message
	closed bool
}

func (s *fakeSocket) WriteJSON(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, v.(wire.Message))
	return nil
}

func (s *fakeSocket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSocket) messages() []wire.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]wire.Message, len(s.sent))
	copy(out, s.sent)
	return out
}

func TestManager_ConnectIndexesByUserAndConversation(t *testing.T) {
	m := NewManager()
	m.Connect("c1", "u1", "conv1", &fakeSocket{})
	m.Connect("c2", "u1", "conv2", &fakeSocket{})

	stats := m.GetStats()
	assert.Equal(t, 2, stats.TotalConnections)
	assert.Equal(t, 1, stats.UniqueUsers)
	assert.Equal(t, 2, stats.UniqueConversations)
}

func TestManager_SendToUserReachesAllOfThatUsersConnections(t *testing.T) {
	m := NewManager()
	sock1, sock2 := &fakeSocket{}, &fakeSocket{}
	m.Connect("c1", "u1", "conv1", sock1)
	m.Connect("c2", "u1", "conv2", sock2)

	m.SendToUser("u1", wire.Message{Type: wire.TypePing})

	assert.Len(t, sock1.messages(), 1)
	assert.Len(t, sock2.messages(), 1)
}

func TestManager_BroadcastToConversationOnlyReachesSubscribedConnections(t *testing.T) {
	m := NewManager()
	sockA, sockB := &fakeSocket{}, &fakeSocket{}
	m.Connect("c1", "u1", "conv1", sockA)
	m.Connect("c2", "u2", "conv2", sockB)

	m.BroadcastToConversation("conv1", wire.Message{Type: wire.TypePing})

	assert.Len(t, sockA.messages(), 1)
	assert.Len(t, sockB.messages(), 0)
}

func TestManager_DisconnectSendsCloseFrameThenRemovesFromIndexes(t *testing.T) {
	m := NewManager()
	sock := &fakeSocket{}
	m.Connect("c1", "u1", "conv1", sock)

	m.Disconnect("c1", wire.ReasonUserLogout, websocket.CloseNormalClosure)

	require.Len(t, sock.messages(), 1)
	payload := sock.messages()[0].Payload.(wire.ConnectionClosePayload)
	assert.Equal(t, wire.ReasonUserLogout, payload.Reason)
	assert.True(t, sock.closed)
	assert.Equal(t, 0, m.GetStats().TotalConnections)
}

func TestManager_DisconnectFiresOnDisconnectCallbacks(t *testing.T) {
	m := NewManager()
	var gotReason wire.CloseReason
	m.OnDisconnect(func(c *Connection, reason wire.CloseReason) { gotReason = reason })
	m.Connect("c1", "u1", "conv1", &fakeSocket{})

	m.Disconnect("c1", wire.ReasonSessionExpired, websocket.CloseNormalClosure)
	assert.Equal(t, wire.ReasonSessionExpired, gotReason)
}

func TestManager_HeartbeatDisconnectsAfterMaxMissedPongs(t *testing.T) {
	fakeNow := time.Unix(1000, 0)
	m := NewManager(WithMaxMissedPongs(2))
	m.now = func() time.Time { return fakeNow }

	sock := &fakeSocket{}
	m.Connect("c1", "u1", "conv1", sock)

	m.pingAll() // missed=1
	m.pingAll() // missed=2
	assert.Equal(t, 1, m.GetStats().TotalConnections, "must still be connected at the threshold")

	m.pingAll() // missed=3, exceeds max of 2
	assert.Equal(t, 0, m.GetStats().TotalConnections, "must disconnect once missed pongs exceeds the max")
}

func TestManager_HandlePongResetsMissedCount(t *testing.T) {
	m := NewManager(WithMaxMissedPongs(1))
	m.Connect("c1", "u1", "conv1", &fakeSocket{})

	m.pingAll() // missed=1, at threshold
	m.HandlePong("c1")
	m.pingAll() // missed=1 again, should still be within threshold
	assert.Equal(t, 1, m.GetStats().TotalConnections)
}

func TestManager_IdleReaperClosesConnectionsPastIdleTimeout(t *testing.T) {
	fakeNow := time.Unix(1000, 0)
	m := NewManager(WithIdleTimeout(10 * time.Second))
	m.now = func() time.Time { return fakeNow }
	m.Connect("c1", "u1", "conv1", &fakeSocket{})

	fakeNow = fakeNow.Add(20 * time.Second)
	m.reapIdle()

	assert.Equal(t, 0, m.GetStats().TotalConnections)
}

func TestManager_TouchPreventsIdleReap(t *testing.T) {
	fakeNow := time.Unix(1000, 0)
	m := NewManager(WithIdleTimeout(10 * time.Second))
	m.now = func() time.Time { return fakeNow }
	m.Connect("c1", "u1", "conv1", &fakeSocket{})

	fakeNow = fakeNow.Add(5 * time.Second)
	m.Touch("c1")
	fakeNow = fakeNow.Add(8 * time.Second)
	m.reapIdle()

	assert.Equal(t, 1, m.GetStats().TotalConnections, "touched within the window must survive the reaper")
}

func TestManager_SendToConnectionUnknownIDErrors(t *testing.T) {
	m := NewManager()
	err := m.SendToConnection("nope", wire.Message{Type: wire.TypePing})
	assert.Error(t, err)
}
