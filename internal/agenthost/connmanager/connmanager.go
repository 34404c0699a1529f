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

// Package connmanager implements the Connection Manager (spec §4.6):
// lifecycle and delivery for every active client connection, indexed by
// connection, user, and conversation, with a heartbeat and an idle
// reaper.
package connmanager

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kestrelai/kestrel/internal/agenthost/wire"
)

const (
	DefaultPingInterval    = 30 * time.Second
	DefaultMaxMissedPongs  = 3
	DefaultCleanupInterval = 60 * time.Second
	DefaultIdleTimeout     = 300 * time.Second
)

// Socket is the subset of *websocket.Conn the manager needs, narrowed so
// tests can substitute a fake instead of opening a real TCP connection.
type Socket interface {
	WriteJSON(v any) error
	Close() error
}

var _ Socket = (*websocket.Conn)(nil)

// Connection is one live client connection.
type Connection struct {
	ID             string
	UserID         string
	ConversationID string

	socket Socket
	mu     sync.Mutex // guards writes to socket, since gorilla/websocket forbids concurrent writers

	lastActivity time.Time
	missedPongs  int
}

func (c *Connection) send(msg wire.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.socket.WriteJSON(msg)
}

// Stats is the result of get_stats.
type Stats struct {
	TotalConnections int
	UniqueUsers      int
	UniqueConversations int
}

// Manager holds the three indexes spec §4.6 names and drives the
// heartbeat/idle-reaper loops.
type Manager struct {
	mu            sync.RWMutex
	connections   map[string]*Connection
	byUser        map[string]map[string]struct{}
	byConversation map[string]map[string]struct{}

	onConnect    []func(*Connection)
	onDisconnect []func(*Connection, wire.CloseReason)

	pingInterval    time.Duration
	maxMissedPongs  int
	cleanupInterval time.Duration
	idleTimeout     time.Duration

	now func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

func WithPingInterval(d time.Duration) Option    { return func(m *Manager) { m.pingInterval = d } }
func WithMaxMissedPongs(n int) Option            { return func(m *Manager) { m.maxMissedPongs = n } }
func WithCleanupInterval(d time.Duration) Option { return func(m *Manager) { m.cleanupInterval = d } }
func WithIdleTimeout(d time.Duration) Option     { return func(m *Manager) { m.idleTimeout = d } }

// NewManager builds a Manager with spec-default timings unless overridden.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		connections:     make(map[string]*Connection),
		byUser:          make(map[string]map[string]struct{}),
		byConversation:  make(map[string]map[string]struct{}),
		pingInterval:    DefaultPingInterval,
		maxMissedPongs:  DefaultMaxMissedPongs,
		cleanupInterval: DefaultCleanupInterval,
		idleTimeout:     DefaultIdleTimeout,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// OnConnect registers a callback run (synchronously) after Connect indexes
// a new connection.
func (m *Manager) OnConnect(cb func(*Connection)) { m.onConnect = append(m.onConnect, cb) }

// OnDisconnect registers a callback run after Disconnect removes a
// connection from every index.
func (m *Manager) OnDisconnect(cb func(*Connection, wire.CloseReason)) {
	m.onDisconnect = append(m.onDisconnect, cb)
}

// Connect registers a new connection and indexes it by user and
// conversation.
func (m *Manager) Connect(id, userID, conversationID string, socket Socket) *Connection {
	conn := &Connection{ID: id, UserID: userID, ConversationID: conversationID, socket: socket, lastActivity: m.now()}

	m.mu.Lock()
	m.connections[id] = conn
	indexAdd(m.byUser, userID, id)
	indexAdd(m.byConversation, conversationID, id)
	m.mu.Unlock()

	for _, cb := range m.onConnect {
		cb(conn)
	}
	return conn
}

// Disconnect removes a connection from every index, closes its socket,
// and sends a system.connection.close frame first if the socket is still
// writable.
func (m *Manager) Disconnect(id string, reason wire.CloseReason, code int) {
	m.mu.Lock()
	conn, ok := m.connections[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.connections, id)
	indexRemove(m.byUser, conn.UserID, id)
	indexRemove(m.byConversation, conn.ConversationID, id)
	m.mu.Unlock()

	_ = conn.send(wire.Message{Type: wire.TypeConnectionClose, Payload: wire.ConnectionClosePayload{Reason: reason, Code: code}})
	_ = conn.socket.Close()

	for _, cb := range m.onDisconnect {
		cb(conn, reason)
	}
}

// SendToConnection delivers msg to exactly one connection.
func (m *Manager) SendToConnection(id string, msg wire.Message) error {
	m.mu.RLock()
	conn, ok := m.connections[id]
	m.mu.RUnlock()
	if !ok {
		return errConnectionNotFound(id)
	}
	return conn.send(msg)
}

// SendToUser delivers msg to every connection a user currently has open
// (a user may have more than one device/tab connected at once).
func (m *Manager) SendToUser(userID string, msg wire.Message) {
	for _, conn := range m.connectionsIn(m.byUser, userID) {
		_ = conn.send(msg)
	}
}

// BroadcastToConversation delivers msg to every connection subscribed to
// a conversation.
func (m *Manager) BroadcastToConversation(conversationID string, msg wire.Message) {
	for _, conn := range m.connectionsIn(m.byConversation, conversationID) {
		_ = conn.send(msg)
	}
}

// BroadcastAll delivers msg to every currently connected client.
func (m *Manager) BroadcastAll(msg wire.Message) {
	m.mu.RLock()
	conns := make([]*Connection, 0, len(m.connections))
	for _, conn := range m.connections {
		conns = append(conns, conn)
	}
	m.mu.RUnlock()
	for _, conn := range conns {
		_ = conn.send(msg)
	}
}

func (m *Manager) connectionsIn(index map[string]map[string]struct{}, key string) []*Connection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := index[key]
	out := make([]*Connection, 0, len(ids))
	for id := range ids {
		if conn, ok := m.connections[id]; ok {
			out = append(out, conn)
		}
	}
	return out
}

// HandlePong records receipt of a pong, resetting the connection's missed
// count and idle clock.
func (m *Manager) HandlePong(id string) {
	m.mu.RLock()
	conn, ok := m.connections[id]
	m.mu.RUnlock()
	if !ok {
		return
	}
	conn.mu.Lock()
	conn.missedPongs = 0
	conn.lastActivity = m.now()
	conn.mu.Unlock()
}

// Touch records activity on a connection (any inbound client message),
// resetting its idle clock independent of heartbeat pongs.
func (m *Manager) Touch(id string) {
	m.mu.RLock()
	conn, ok := m.connections[id]
	m.mu.RUnlock()
	if !ok {
		return
	}
	conn.mu.Lock()
	conn.lastActivity = m.now()
	conn.mu.Unlock()
}

// GetStats implements get_stats.
func (m *Manager) GetStats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Stats{
		TotalConnections:    len(m.connections),
		UniqueUsers:         len(m.byUser),
		UniqueConversations: len(m.byConversation),
	}
}

func indexAdd(index map[string]map[string]struct{}, key, id string) {
	if key == "" {
		return
	}
	set, ok := index[key]
	if !ok {
		set = make(map[string]struct{})
		index[key] = set
	}
	set[id] = struct{}{}
}

func indexRemove(index map[string]map[string]struct{}, key, id string) {
	set, ok := index[key]
	if !ok {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(index, key)
	}
}

// RunHeartbeat pings every active connection every pingInterval, tracking
// missed pongs and disconnecting with code 1002 once maxMissedPongs is
// exceeded (spec §4.6). It blocks until ctx is cancelled.
func (m *Manager) RunHeartbeat(ctx context.Context) {
	ticker := time.NewTicker(m.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.pingAll()
		}
	}
}

func (m *Manager) pingAll() {
	m.mu.RLock()
	conns := make([]*Connection, 0, len(m.connections))
	for _, conn := range m.connections {
		conns = append(conns, conn)
	}
	m.mu.RUnlock()

	for _, conn := range conns {
		conn.mu.Lock()
		conn.missedPongs++
		exceeded := conn.missedPongs > m.maxMissedPongs
		conn.mu.Unlock()

		if exceeded {
			m.Disconnect(conn.ID, wire.ReasonHeartbeatTimeout, websocket.CloseProtocolError)
			continue
		}
		_ = conn.send(wire.Message{Type: wire.TypePing, Payload: wire.PingPayload{Timestamp: m.now().Unix()}})
	}
}

// RunIdleReaper closes any connection idle longer than idleTimeout every
// cleanupInterval (spec §4.6). It blocks until ctx is cancelled.
func (m *Manager) RunIdleReaper(ctx context.Context) {
	ticker := time.NewTicker(m.cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.reapIdle()
		}
	}
}

func (m *Manager) reapIdle() {
	m.mu.RLock()
	conns := make([]*Connection, 0, len(m.connections))
	for _, conn := range m.connections {
		conns = append(conns, conn)
	}
	m.mu.RUnlock()

	now := m.now()
	for _, conn := range conns {
		conn.mu.Lock()
		idleFor := now.Sub(conn.lastActivity)
		conn.mu.Unlock()

		if idleFor > m.idleTimeout {
			m.Disconnect(conn.ID, wire.ReasonIdleTimeout, websocket.CloseNormalClosure)
		}
	}
}
