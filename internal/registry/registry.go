// Package registry tracks which live connection belongs to which user and
// room. It is purely in-memory: a process restart drops every binding and
// clients are expected to rejoin.
package registry

import "sync"

type Binding struct {
	Username string
	RoomID   string
}

type Registry struct {
	mu       sync.RWMutex
	bindings map[string]Binding
	rooms    map[string]map[string]struct{}
}

func New() *Registry {
	return &Registry{
		bindings: make(map[string]Binding),
		rooms:    make(map[string]map[string]struct{}),
	}
}

// Register makes a connection known before it has joined any room.
func (r *Registry) Register(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.bindings[connID]; !ok {
		r.bindings[connID] = Binding{}
	}
}

// Bind associates a connection with a username and room, replacing any
// previous room association. An empty roomID leaves the connection
// registered but roomless.
func (r *Registry) Bind(connID, username, roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.bindings[connID]; ok && prev.RoomID != "" {
		r.removeFromRoom(prev.RoomID, connID)
	}
	r.bindings[connID] = Binding{Username: username, RoomID: roomID}
	if roomID != "" {
		if _, ok := r.rooms[roomID]; !ok {
			r.rooms[roomID] = make(map[string]struct{})
		}
		r.rooms[roomID][connID] = struct{}{}
	}
}

// Unbind forgets a connection entirely. Unknown connections are a no-op.
func (r *Registry) Unbind(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.bindings[connID]; ok && prev.RoomID != "" {
		r.removeFromRoom(prev.RoomID, connID)
	}
	delete(r.bindings, connID)
}

func (r *Registry) Resolve(connID string) (Binding, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.bindings[connID]
	return b, ok
}

// Connections returns the ids of every connection currently bound to roomID.
func (r *Registry) Connections(roomID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conns, ok := r.rooms[roomID]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(conns))
	for id := range conns {
		out = append(out, id)
	}
	return out
}

// DisconnectAll unbinds every connection in roomID from it and returns their
// ids. The connections stay registered; only the room association is cleared.
func (r *Registry) DisconnectAll(roomID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	conns, ok := r.rooms[roomID]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(conns))
	for id := range conns {
		out = append(out, id)
		if b, ok := r.bindings[id]; ok {
			b.RoomID = ""
			r.bindings[id] = b
		}
	}
	delete(r.rooms, roomID)
	return out
}

// caller must hold r.mu
func (r *Registry) removeFromRoom(roomID, connID string) {
	if conns, ok := r.rooms[roomID]; ok {
		delete(conns, connID)
		if len(conns) == 0 {
			delete(r.rooms, roomID)
		}
	}
}
