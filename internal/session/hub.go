package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"roomsync/internal/exec"
	"roomsync/internal/metrics"
	"roomsync/internal/models"
	"roomsync/internal/registry"
	"roomsync/internal/store"
)

var (
	ErrRoomNotFound = errors.New("room not found")
	ErrNotInRoom    = errors.New("connection is not in the room")
)

const (
	persistAttempts = 3
	persistBackoff  = 250 * time.Millisecond
	persistTimeout  = 5 * time.Second
	wbSyncWindow    = 5 * time.Second
)

// Presence receives the courtesy updates to the user record. A nil Presence
// disables them.
type Presence interface {
	SetCurrentRoom(ctx context.Context, username, roomID, connectionID string) error
	ClearCurrentRoom(ctx context.Context, username string) error
}

// Hub is the central dispatcher. It exclusively owns the in-memory state of
// every room it holds open; all mutation for one room is serialized under
// that room's lock, and broadcasts are issued under the same lock so members
// observe events in apply order. Rooms share nothing, so cross-room
// operations run fully in parallel.
type Hub struct {
	reg        *registry.Registry
	router     *Router
	store      store.RoomStore
	presence   Presence
	dispatcher exec.Dispatcher
	log        *zap.Logger

	compileTimeout time.Duration

	mu    sync.RWMutex
	rooms map[string]*Room
}

func NewHub(reg *registry.Registry, router *Router, st store.RoomStore, pres Presence,
	disp exec.Dispatcher, logger *zap.Logger, compileTimeout time.Duration) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		reg:            reg,
		router:         router,
		store:          st,
		presence:       pres,
		dispatcher:     disp,
		log:            logger,
		compileTimeout: compileTimeout,
		rooms:          make(map[string]*Room),
	}
}

// Join adds the connection to the room, creating or loading it as needed,
// and returns the full snapshot the new member synchronizes from. Every
// other member gets a "joined" broadcast with the updated member list. A
// connection is a member of at most one room: joining a new room leaves the
// previous one first.
func (h *Hub) Join(ctx context.Context, roomID, connID, username string) (models.RoomSnapshot, error) {
	if b, ok := h.reg.Resolve(connID); ok && b.RoomID != "" && b.RoomID != roomID {
		h.Leave(ctx, b.RoomID, connID)
	}

	h.reg.Bind(connID, username, roomID)

	var snap models.RoomSnapshot
	now := time.Now().UTC()
	for {
		r, err := h.getOrLoad(ctx, roomID, true)
		if err != nil {
			return models.RoomSnapshot{}, err
		}
		r.mu.Lock()
		if r.evicted {
			// the last member left between lookup and lock; load a fresh copy
			r.mu.Unlock()
			continue
		}
		r.addClient(connID, username, now)
		r.lastActivity = now
		snap = r.snapshotLocked()
		h.router.Broadcast(roomID, models.WSFrame{
			Type: "joined",
			Data: models.Membership{Username: username, Clients: snap.Clients},
		}, connID)
		r.mu.Unlock()
		break
	}

	h.persist("save clients", func(ctx context.Context) error {
		return h.store.SaveClients(ctx, roomID, snap.Clients, now)
	})
	h.setPresence(username, roomID, connID)

	return snap, nil
}

// Leave removes the connection from the room. Leaving a room the connection
// never joined is a no-op, not an error, and broadcasts nothing.
func (h *Hub) Leave(_ context.Context, roomID, connID string) {
	h.mu.RLock()
	r, ok := h.rooms[roomID]
	h.mu.RUnlock()
	if !ok {
		return
	}

	now := time.Now().UTC()
	r.mu.Lock()
	removed, username := r.removeClient(connID)
	if !removed {
		r.mu.Unlock()
		return
	}
	r.lastActivity = now
	members := r.membersLocked()
	h.reg.Bind(connID, username, "")
	h.router.Broadcast(roomID, models.WSFrame{
		Type: "disconnected",
		Data: models.Membership{Username: username, Clients: members},
	}, connID)
	r.mu.Unlock()

	h.persist("save clients", func(ctx context.Context) error {
		return h.store.SaveClients(ctx, roomID, members, now)
	})
	h.clearPresence(username)

	if len(members) == 0 {
		h.evict(roomID)
	}
}

// UpdateCode replaces the room's entire buffer unconditionally: the write
// accepted last at this serialization point wins, with no merge. The new
// buffer goes to every member except the sender, which already has it.
func (h *Hub) UpdateCode(ctx context.Context, roomID, connID, code string) error {
	r, err := h.getOrLoad(ctx, roomID, false)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	r.mu.Lock()
	r.code = code
	r.lastActivity = now
	lang := r.language
	h.router.Broadcast(roomID, models.WSFrame{
		Type: "code-change",
		Data: models.CodeChange{RoomID: roomID, Code: code},
	}, connID)
	r.mu.Unlock()

	h.persist("save code", func(ctx context.Context) error {
		return h.store.SaveCode(ctx, roomID, code, lang, now)
	})
	return nil
}

// SetLanguage switches the compile target and notifies the other members.
func (h *Hub) SetLanguage(ctx context.Context, roomID, connID string, lang models.Language) error {
	r, err := h.getOrLoad(ctx, roomID, false)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	r.mu.Lock()
	r.language = lang
	r.lastActivity = now
	code := r.code
	h.router.Broadcast(roomID, models.WSFrame{Type: "language-change", Data: lang}, connID)
	r.mu.Unlock()

	h.persist("save code", func(ctx context.Context) error {
		return h.store.SaveCode(ctx, roomID, code, lang, now)
	})
	return nil
}

// SendMessage appends to the transcript and echoes the message to every
// member including the sender, so all clients render from one authoritative
// copy.
func (h *Hub) SendMessage(ctx context.Context, roomID, connID, content string) (models.Message, error) {
	b, ok := h.reg.Resolve(connID)
	if !ok || b.RoomID != roomID {
		return models.Message{}, ErrNotInRoom
	}
	r, err := h.getOrLoad(ctx, roomID, false)
	if err != nil {
		return models.Message{}, err
	}

	now := time.Now().UTC()
	msg := models.Message{
		ID:        uuid.NewString(),
		Username:  b.Username,
		Content:   content,
		Timestamp: now,
	}

	r.mu.Lock()
	r.messages = append(r.messages, msg)
	r.lastActivity = now
	h.router.Broadcast(roomID, models.WSFrame{Type: "receive-message", Data: msg}, "")
	r.mu.Unlock()

	h.persist("append message", func(ctx context.Context) error {
		return h.store.AppendMessage(ctx, roomID, msg, now)
	})
	return msg, nil
}

// SetTyping forwards a typing notification to the other members. Nothing is
// persisted and no debouncing happens here; that belongs to the client.
func (h *Hub) SetTyping(roomID, connID, username string, isTyping bool) {
	event := "typing"
	if !isTyping {
		event = "stop-typing"
	}
	h.router.Broadcast(roomID, models.WSFrame{
		Type: event,
		Data: models.TypingNotice{RoomID: roomID, Username: username},
	}, connID)
}

// WhiteboardDraw relays a stroke to the other members. The hub keeps no
// stroke history.
func (h *Hub) WhiteboardDraw(roomID, connID string, stroke json.RawMessage) {
	h.router.Broadcast(roomID, models.WSFrame{Type: "whiteboard-draw", Data: stroke}, connID)
}

func (h *Hub) WhiteboardClear(roomID, connID string) {
	h.router.Broadcast(roomID, models.WSFrame{Type: "whiteboard-clear", Data: models.RoomRef{RoomID: roomID}}, connID)
}

// WhiteboardSyncRequest asks the other members for their whiteboard state.
// The first response arriving within the window is forwarded to the
// requester; later responses are dropped.
func (h *Hub) WhiteboardSyncRequest(roomID, connID string) {
	h.mu.RLock()
	r, ok := h.rooms[roomID]
	h.mu.RUnlock()
	if !ok {
		return
	}

	r.mu.Lock()
	r.wbPending = connID
	if r.wbTimer != nil {
		r.wbTimer.Stop()
	}
	r.wbTimer = time.AfterFunc(wbSyncWindow, func() {
		r.mu.Lock()
		if r.wbPending == connID {
			r.wbPending = ""
		}
		r.mu.Unlock()
	})
	h.router.Broadcast(roomID, models.WSFrame{Type: "whiteboard-sync-request", Data: models.RoomRef{RoomID: roomID}}, connID)
	r.mu.Unlock()
}

// WhiteboardSync answers a pending sync request. Best-effort: if no request
// is pending the state is discarded.
func (h *Hub) WhiteboardSync(roomID, connID string, state json.RawMessage) {
	h.mu.RLock()
	r, ok := h.rooms[roomID]
	h.mu.RUnlock()
	if !ok {
		return
	}

	r.mu.Lock()
	target := r.wbPending
	if target == "" || target == connID {
		r.mu.Unlock()
		return
	}
	r.wbPending = ""
	if r.wbTimer != nil {
		r.wbTimer.Stop()
		r.wbTimer = nil
	}
	h.router.Send(target, models.WSFrame{Type: "whiteboard-sync", Data: state})
	r.mu.Unlock()
}

// RequestCompile hands the buffer to the dispatcher and, when it resolves,
// broadcasts exactly one compile-result to every member: compilation output
// is a shared artifact of the shared buffer. A timed-out dispatch resolves
// as an error result, never a hang.
func (h *Hub) RequestCompile(ctx context.Context, roomID, connID, code string, lang models.Language) error {
	if _, err := h.getOrLoad(ctx, roomID, false); err != nil {
		return err
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), h.compileTimeout)
		defer cancel()

		res, err := h.dispatcher.Dispatch(ctx, code, lang)

		var payload models.CompileResult
		switch {
		case err != nil:
			payload.Error = err.Error()
			metrics.CompileResult("error")
		case res.TimedOut:
			payload.Error = "execution timed out"
			metrics.CompileResult("timeout")
		case res.Exit != 0:
			payload.Error = res.Stderr
			if payload.Error == "" {
				payload.Error = fmt.Sprintf("exited with code %d", res.Exit)
			}
			metrics.CompileResult("failed")
		default:
			payload.Output = res.Stdout
			metrics.CompileResult("ok")
		}

		h.router.Broadcast(roomID, models.WSFrame{Type: "compile-result", Data: payload}, "")
	}()
	return nil
}

// Snapshot reads full room state, preferring the in-memory copy.
func (h *Hub) Snapshot(ctx context.Context, roomID string) (models.RoomSnapshot, error) {
	h.mu.RLock()
	r, ok := h.rooms[roomID]
	h.mu.RUnlock()
	if ok {
		return r.Snapshot(), nil
	}

	rec, err := h.store.Load(ctx, roomID)
	if err != nil {
		return models.RoomSnapshot{}, err
	}
	if rec == nil || !rec.IsActive {
		return models.RoomSnapshot{}, ErrRoomNotFound
	}
	return models.RoomSnapshot{
		RoomID:   rec.RoomID,
		Code:     rec.Code,
		Language: rec.Language,
		Clients:  rec.Clients,
		Messages: rec.Messages,
	}, nil
}

// CloseRoom marks a room logically deleted, tells its members, and drops the
// in-memory state. History is retained in the durable record.
func (h *Hub) CloseRoom(_ context.Context, roomID string) {
	h.mu.Lock()
	r, ok := h.rooms[roomID]
	delete(h.rooms, roomID)
	h.mu.Unlock()

	if ok {
		r.mu.Lock()
		r.evicted = true
		h.router.Broadcast(roomID, models.WSFrame{
			Type: "room-closed",
			Data: models.RoomRef{RoomID: roomID},
		}, "")
		r.mu.Unlock()
		metrics.RoomClosed()
	}
	h.reg.DisconnectAll(roomID)

	h.persist("deactivate room", func(ctx context.Context) error {
		return h.store.Deactivate(ctx, roomID)
	})
}

// RoomCount reports how many rooms are held open in memory.
func (h *Hub) RoomCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}

// getOrLoad resolves a room: in-memory copy first, then the durable record,
// then (when create is set) a fresh default room. Inactive records are
// invisible to non-creating operations; joining one reactivates it.
func (h *Hub) getOrLoad(ctx context.Context, roomID string, create bool) (*Room, error) {
	h.mu.RLock()
	r, ok := h.rooms[roomID]
	h.mu.RUnlock()
	if ok {
		return r, nil
	}

	rec, err := h.store.Load(ctx, roomID)
	if err != nil {
		if !create {
			return nil, err
		}
		// the room must stay usable even when storage is down
		h.log.Warn("room load failed, starting fresh", zap.String("roomId", roomID), zap.Error(err))
		rec = nil
	}

	var persistOp string
	var persistFn func(context.Context) error
	switch {
	case rec == nil:
		if !create {
			return nil, ErrRoomNotFound
		}
		now := time.Now().UTC()
		rec = &models.RoomRecord{
			RoomID:       roomID,
			Clients:      []models.RoomClient{},
			Code:         models.DefaultCode,
			Language:     models.DefaultLanguage,
			Messages:     []models.Message{},
			CreatedAt:    now,
			LastActivity: now,
			IsActive:     true,
		}
		created := *rec
		persistOp = "create room"
		persistFn = func(ctx context.Context) error { return h.store.Create(ctx, &created) }
	case !rec.IsActive:
		if !create {
			return nil, ErrRoomNotFound
		}
		persistOp = "reactivate room"
		persistFn = func(ctx context.Context) error { return h.store.Reactivate(ctx, roomID) }
	}

	newR := newRoom(rec)
	h.mu.Lock()
	if existing, ok := h.rooms[roomID]; ok {
		// lost the load race; the winner already scheduled any durable write
		h.mu.Unlock()
		return existing, nil
	}
	h.rooms[roomID] = newR
	h.mu.Unlock()
	metrics.RoomOpened()

	if persistFn != nil {
		h.persist(persistOp, persistFn)
	}
	return newR, nil
}

func (h *Hub) evict(roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[roomID]
	if !ok {
		return
	}
	r.mu.Lock()
	if len(r.clients) == 0 {
		r.evicted = true
		delete(h.rooms, roomID)
		metrics.RoomClosed()
	}
	r.mu.Unlock()
}

// persist runs a durable write off the mutation path, retrying transient
// failures. In-memory state stays authoritative whatever happens here.
func (h *Hub) persist(op string, fn func(context.Context) error) {
	go func() {
		for attempt := 1; attempt <= persistAttempts; attempt++ {
			ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
			err := fn(ctx)
			cancel()
			if err == nil {
				return
			}
			h.log.Warn("durable write failed",
				zap.String("op", op), zap.Int("attempt", attempt), zap.Error(err))
			time.Sleep(time.Duration(attempt) * persistBackoff)
		}
		h.log.Error("durable write abandoned", zap.String("op", op))
	}()
}

func (h *Hub) setPresence(username, roomID, connID string) {
	if h.presence == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		if err := h.presence.SetCurrentRoom(ctx, username, roomID, connID); err != nil {
			h.log.Warn("presence update failed", zap.String("username", username), zap.Error(err))
		}
	}()
}

func (h *Hub) clearPresence(username string) {
	if h.presence == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		if err := h.presence.ClearCurrentRoom(ctx, username); err != nil {
			h.log.Warn("presence update failed", zap.String("username", username), zap.Error(err))
		}
	}()
}
