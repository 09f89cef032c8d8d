package session

import (
	"sync"

	"roomsync/internal/metrics"
	"roomsync/internal/models"
	"roomsync/internal/registry"
)

// Router delivers frames to the connections the registry says are in a room.
// Delivery to a closed connection is a non-fatal per-connection failure.
type Router struct {
	mu    sync.RWMutex
	conns map[string]*Client
	reg   *registry.Registry
}

func NewRouter(reg *registry.Registry) *Router {
	return &Router{conns: make(map[string]*Client), reg: reg}
}

func (rt *Router) Attach(c *Client) {
	rt.mu.Lock()
	rt.conns[c.ID] = c
	rt.mu.Unlock()
}

func (rt *Router) Detach(connID string) {
	rt.mu.Lock()
	delete(rt.conns, connID)
	rt.mu.Unlock()
}

// Send delivers a frame to a single connection, if it is still attached.
func (rt *Router) Send(connID string, frame models.WSFrame) {
	rt.mu.RLock()
	c, ok := rt.conns[connID]
	rt.mu.RUnlock()
	if ok {
		c.Send(frame)
	}
}

// Broadcast delivers frame to every connection bound to roomID, skipping
// exclude when non-empty. A room with no members is a no-op.
func (rt *Router) Broadcast(roomID string, frame models.WSFrame, exclude string) {
	ids := rt.reg.Connections(roomID)
	if len(ids) == 0 {
		return
	}
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	for _, id := range ids {
		if id == exclude {
			continue
		}
		if c, ok := rt.conns[id]; ok {
			c.Send(frame)
		}
	}
	metrics.BroadcastSent(frame.Type)
}
