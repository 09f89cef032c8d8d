package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"roomsync/internal/exec"
	"roomsync/internal/metrics"
	"roomsync/internal/models"
	"roomsync/internal/registry"
	"roomsync/internal/session"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

// inboundFrame defers payload decoding to the per-event handler.
type inboundFrame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type eventHandler func(ctx context.Context, c *session.Client, data json.RawMessage)

type Handlers struct {
	log        *zap.Logger
	hub        *session.Hub
	reg        *registry.Registry
	router     *session.Router
	dispatcher exec.Dispatcher
	table      map[string]eventHandler
}

func NewHandlers(log *zap.Logger, hub *session.Hub, reg *registry.Registry,
	router *session.Router, dispatcher exec.Dispatcher) *Handlers {
	h := &Handlers{log: log, hub: hub, reg: reg, router: router, dispatcher: dispatcher}
	h.table = map[string]eventHandler{
		"join":                    h.onJoin,
		"leave":                   h.onLeave,
		"code-change":             h.onCodeChange,
		"language-change":         h.onLanguageChange,
		"send-message":            h.onSendMessage,
		"typing":                  h.onTyping,
		"stop-typing":             h.onStopTyping,
		"compile":                 h.onCompile,
		"whiteboard-draw":         h.onWhiteboardDraw,
		"whiteboard-clear":        h.onWhiteboardClear,
		"whiteboard-sync":         h.onWhiteboardSync,
		"whiteboard-sync-request": h.onWhiteboardSyncRequest,
	}
	return h
}

func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	_, _ = w.Write([]byte("ok"))
}

func (h *Handlers) Ready(w http.ResponseWriter, _ *http.Request) {
	_, _ = w.Write([]byte("ready"))
}

func (h *Handlers) ListLanguages(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, exec.Catalog())
}

func (h *Handlers) GetRoom(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "id")
	snap, err := h.hub.Snapshot(r.Context(), roomID)
	if err != nil {
		if errors.Is(err, session.ErrRoomNotFound) {
			http.Error(w, "room not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, snap)
}

func (h *Handlers) CloseRoom(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "id")
	h.hub.CloseRoom(r.Context(), roomID)
	w.WriteHeader(http.StatusNoContent)
}

// RunOnce executes code outside any room, sharing the compile dispatcher.
func (h *Handlers) RunOnce(w http.ResponseWriter, r *http.Request) {
	var req models.RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 12*time.Second)
	defer cancel()

	res, err := h.dispatcher.Dispatch(ctx, req.Code, req.Language)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, models.RunResult{
		Stdout: res.Stdout, Stderr: res.Stderr, Exit: res.Exit, TimedOut: res.TimedOut,
	})
}

/*** Room WebSocket: one endpoint, event-dispatched ***/

func (h *Handlers) RoomWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	connID := uuid.NewString()
	client := session.NewClient(connID, conn)
	h.reg.Register(connID)
	h.router.Attach(client)
	defer func() {
		if b, ok := h.reg.Resolve(connID); ok && b.RoomID != "" {
			h.hub.Leave(context.Background(), b.RoomID, connID)
		}
		h.router.Detach(connID)
		h.reg.Unbind(connID)
	}()

	for {
		var frame inboundFrame
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}
		metrics.EventReceived(frame.Type)

		handler, ok := h.table[frame.Type]
		if !ok {
			sendError(client, "unknown event: "+frame.Type)
			continue
		}
		handler(r.Context(), client, frame.Data)
	}
}

func (h *Handlers) onJoin(ctx context.Context, c *session.Client, data json.RawMessage) {
	var req models.JoinRequest
	if err := json.Unmarshal(data, &req); err != nil || req.RoomID == "" || req.Username == "" {
		sendError(c, "join requires roomId and username")
		return
	}

	snap, err := h.hub.Join(ctx, req.RoomID, c.ID, req.Username)
	if err != nil {
		sendError(c, err.Error())
		return
	}

	// the new member synchronizes from the snapshot instead of replaying events
	c.Send(models.WSFrame{Type: "joined", Data: models.Membership{Username: req.Username, Clients: snap.Clients}})
	c.Send(models.WSFrame{Type: "sync-code", Data: models.CodeSync{Code: snap.Code, Language: snap.Language}})
	c.Send(models.WSFrame{Type: "sync-messages", Data: snap.Messages})
}

func (h *Handlers) onLeave(ctx context.Context, c *session.Client, data json.RawMessage) {
	var req models.LeaveRequest
	if err := json.Unmarshal(data, &req); err != nil || req.RoomID == "" {
		sendError(c, "leave requires roomId")
		return
	}
	h.hub.Leave(ctx, req.RoomID, c.ID)
}

func (h *Handlers) onCodeChange(ctx context.Context, c *session.Client, data json.RawMessage) {
	var req models.CodeChange
	if err := json.Unmarshal(data, &req); err != nil || req.RoomID == "" {
		sendError(c, "code-change requires roomId")
		return
	}
	if err := h.hub.UpdateCode(ctx, req.RoomID, c.ID, req.Code); err != nil {
		sendError(c, err.Error())
	}
}

func (h *Handlers) onLanguageChange(ctx context.Context, c *session.Client, data json.RawMessage) {
	var req struct {
		RoomID   string          `json:"roomId"`
		Language models.Language `json:"language"`
	}
	if err := json.Unmarshal(data, &req); err != nil || req.RoomID == "" || req.Language == "" {
		sendError(c, "language-change requires roomId and language")
		return
	}
	if err := h.hub.SetLanguage(ctx, req.RoomID, c.ID, req.Language); err != nil {
		sendError(c, err.Error())
	}
}

func (h *Handlers) onSendMessage(ctx context.Context, c *session.Client, data json.RawMessage) {
	var req models.ChatSend
	if err := json.Unmarshal(data, &req); err != nil || req.RoomID == "" || req.Message == "" {
		sendError(c, "send-message requires roomId and message")
		return
	}
	if _, err := h.hub.SendMessage(ctx, req.RoomID, c.ID, req.Message); err != nil {
		sendError(c, err.Error())
	}
}

func (h *Handlers) onTyping(_ context.Context, c *session.Client, data json.RawMessage) {
	h.typing(c, data, true)
}

func (h *Handlers) onStopTyping(_ context.Context, c *session.Client, data json.RawMessage) {
	h.typing(c, data, false)
}

func (h *Handlers) typing(c *session.Client, data json.RawMessage, isTyping bool) {
	var req models.TypingNotice
	if err := json.Unmarshal(data, &req); err != nil || req.RoomID == "" {
		sendError(c, "typing requires roomId")
		return
	}
	if req.Username == "" {
		if b, ok := h.reg.Resolve(c.ID); ok {
			req.Username = b.Username
		}
	}
	h.hub.SetTyping(req.RoomID, c.ID, req.Username, isTyping)
}

func (h *Handlers) onCompile(ctx context.Context, c *session.Client, data json.RawMessage) {
	var req models.CompileRequest
	if err := json.Unmarshal(data, &req); err != nil || req.RoomID == "" || req.Language == "" {
		sendError(c, "compile requires roomId and language")
		return
	}
	if err := h.hub.RequestCompile(ctx, req.RoomID, c.ID, req.Code, req.Language); err != nil {
		sendError(c, err.Error())
	}
}

func (h *Handlers) onWhiteboardDraw(_ context.Context, c *session.Client, data json.RawMessage) {
	roomID, ok := roomRef(c, data)
	if !ok {
		return
	}
	h.hub.WhiteboardDraw(roomID, c.ID, data)
}

func (h *Handlers) onWhiteboardClear(_ context.Context, c *session.Client, data json.RawMessage) {
	roomID, ok := roomRef(c, data)
	if !ok {
		return
	}
	h.hub.WhiteboardClear(roomID, c.ID)
}

func (h *Handlers) onWhiteboardSync(_ context.Context, c *session.Client, data json.RawMessage) {
	roomID, ok := roomRef(c, data)
	if !ok {
		return
	}
	h.hub.WhiteboardSync(roomID, c.ID, data)
}

func (h *Handlers) onWhiteboardSyncRequest(_ context.Context, c *session.Client, data json.RawMessage) {
	roomID, ok := roomRef(c, data)
	if !ok {
		return
	}
	h.hub.WhiteboardSyncRequest(roomID, c.ID)
}

// roomRef pulls the roomId out of a payload that is otherwise relayed opaque.
func roomRef(c *session.Client, data json.RawMessage) (string, bool) {
	var ref models.RoomRef
	if err := json.Unmarshal(data, &ref); err != nil || ref.RoomID == "" {
		sendError(c, "payload requires roomId")
		return "", false
	}
	return ref.RoomID, true
}

func sendError(c *session.Client, msg string) {
	c.Send(models.WSFrame{Type: "error", Data: models.ErrorPayload{Message: msg}})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
