package session

import (
	"sync"
	"time"

	"roomsync/internal/models"
)

// Room holds the authoritative in-memory state for one open collaborative
// session. All mutation happens through the hub's operations while holding
// mu, so per-room changes and their broadcasts are serialized.
type Room struct {
	ID string

	mu           sync.Mutex
	code         string
	language     models.Language
	clients      []models.RoomClient
	messages     []models.Message
	createdAt    time.Time
	lastActivity time.Time

	// whiteboard sync: first responder within the window wins
	wbPending string
	wbTimer   *time.Timer

	// set when the hub drops this room from its map; a joiner holding a
	// stale pointer must reload instead of mutating it
	evicted bool
}

// newRoom hydrates in-memory state from a durable record. Persisted client
// entries are discarded: membership is process-local and rebuilt from live
// connections.
func newRoom(rec *models.RoomRecord) *Room {
	return &Room{
		ID:           rec.RoomID,
		code:         rec.Code,
		language:     rec.Language,
		messages:     append([]models.Message(nil), rec.Messages...),
		createdAt:    rec.CreatedAt,
		lastActivity: rec.LastActivity,
	}
}

// addClient appends the connection to membership unless already present.
// Caller holds r.mu.
func (r *Room) addClient(connID, username string, at time.Time) {
	for _, c := range r.clients {
		if c.ConnectionID == connID {
			return
		}
	}
	r.clients = append(r.clients, models.RoomClient{
		ConnectionID: connID,
		Username:     username,
		JoinedAt:     at,
	})
}

// removeClient drops the connection from membership and reports whether it
// was a member, with its username. Caller holds r.mu.
func (r *Room) removeClient(connID string) (bool, string) {
	for i, c := range r.clients {
		if c.ConnectionID == connID {
			r.clients = append(r.clients[:i], r.clients[i+1:]...)
			return true, c.Username
		}
	}
	return false, ""
}

// membersLocked copies the membership list. Caller holds r.mu.
func (r *Room) membersLocked() []models.RoomClient {
	return append([]models.RoomClient(nil), r.clients...)
}

// snapshotLocked builds the full-state read handed to a joining connection.
// Caller holds r.mu.
func (r *Room) snapshotLocked() models.RoomSnapshot {
	return models.RoomSnapshot{
		RoomID:   r.ID,
		Code:     r.code,
		Language: r.language,
		Clients:  r.membersLocked(),
		Messages: append([]models.Message(nil), r.messages...),
	}
}

// Snapshot is the locking variant for readers outside the hub's operations.
func (r *Room) Snapshot() models.RoomSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// ClientCount reports live membership size.
func (r *Room) ClientCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}
