package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"roomsync/internal/exec"
	"roomsync/internal/models"
	"roomsync/internal/registry"
	"roomsync/internal/session"
	"roomsync/internal/store"
)

type stubDispatcher struct {
	result exec.Result
	err    error
}

func (d stubDispatcher) Dispatch(context.Context, string, models.Language) (exec.Result, error) {
	return d.result, d.err
}

func newTestServer(t *testing.T, disp exec.Dispatcher) (*httptest.Server, *session.Hub) {
	t.Helper()
	reg := registry.New()
	router := session.NewRouter(reg)
	st := store.NewMemory()
	hub := session.NewHub(reg, router, st, nil, disp, zap.NewNop(), time.Second)
	h := NewHandlers(zap.NewNop(), hub, reg, router, disp)

	r := chi.NewRouter()
	r.Get("/ws", h.RoomWS)
	r.Get("/api/v1/rooms/{id}", h.GetRoom)
	r.Get("/api/v1/languages", h.ListLanguages)
	r.Post("/api/v1/run", h.RunOnce)

	server := httptest.NewServer(r)
	t.Cleanup(server.Close)
	return server, hub
}

func dialWS(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

type wsFrame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func send(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	if err := conn.WriteJSON(models.WSFrame{Type: event, Data: data}); err != nil {
		t.Fatalf("write %s: %v", event, err)
	}
}

func readFrame(t *testing.T, conn *websocket.Conn) wsFrame {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var f wsFrame
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return f
}

func expectFrame(t *testing.T, conn *websocket.Conn, event string) wsFrame {
	t.Helper()
	f := readFrame(t, conn)
	if f.Type != event {
		t.Fatalf("expected %s frame, got %s (%s)", event, f.Type, f.Data)
	}
	return f
}

func TestJoinHandshake(t *testing.T) {
	server, _ := newTestServer(t, stubDispatcher{})
	alice := dialWS(t, server)

	send(t, alice, "join", models.JoinRequest{RoomID: "r1", Username: "alice"})

	joined := expectFrame(t, alice, "joined")
	var membership models.Membership
	if err := json.Unmarshal(joined.Data, &membership); err != nil {
		t.Fatalf("decode membership: %v", err)
	}
	if membership.Username != "alice" || len(membership.Clients) != 1 {
		t.Fatalf("unexpected membership: %#v", membership)
	}

	syncCode := expectFrame(t, alice, "sync-code")
	var cs models.CodeSync
	if err := json.Unmarshal(syncCode.Data, &cs); err != nil {
		t.Fatalf("decode sync-code: %v", err)
	}
	if cs.Code != models.DefaultCode || cs.Language != models.DefaultLanguage {
		t.Fatalf("unexpected sync-code: %#v", cs)
	}

	expectFrame(t, alice, "sync-messages")
}

func TestCodeChangeReachesPeerOnly(t *testing.T) {
	server, _ := newTestServer(t, stubDispatcher{})
	alice := dialWS(t, server)
	bob := dialWS(t, server)

	send(t, alice, "join", models.JoinRequest{RoomID: "r1", Username: "alice"})
	expectFrame(t, alice, "joined")
	expectFrame(t, alice, "sync-code")
	expectFrame(t, alice, "sync-messages")

	send(t, bob, "join", models.JoinRequest{RoomID: "r1", Username: "bob"})
	expectFrame(t, bob, "joined")
	expectFrame(t, bob, "sync-code")
	expectFrame(t, bob, "sync-messages")

	// alice hears about bob
	expectFrame(t, alice, "joined")

	send(t, alice, "code-change", models.CodeChange{RoomID: "r1", Code: "x = 1"})

	change := expectFrame(t, bob, "code-change")
	var cc models.CodeChange
	if err := json.Unmarshal(change.Data, &cc); err != nil {
		t.Fatalf("decode code-change: %v", err)
	}
	if cc.Code != "x = 1" {
		t.Fatalf("unexpected code: %#v", cc)
	}

	// chat echoes to both, including the sender
	send(t, bob, "send-message", models.ChatSend{RoomID: "r1", Message: "hi"})
	for _, conn := range []*websocket.Conn{alice, bob} {
		f := expectFrame(t, conn, "receive-message")
		var msg models.Message
		if err := json.Unmarshal(f.Data, &msg); err != nil {
			t.Fatalf("decode message: %v", err)
		}
		if msg.Username != "bob" || msg.Content != "hi" || msg.ID == "" {
			t.Fatalf("unexpected message: %#v", msg)
		}
	}
}

func TestMalformedPayloadRejected(t *testing.T) {
	server, hub := newTestServer(t, stubDispatcher{})
	alice := dialWS(t, server)

	send(t, alice, "join", map[string]string{"roomId": ""})
	f := expectFrame(t, alice, "error")
	var ep models.ErrorPayload
	if err := json.Unmarshal(f.Data, &ep); err != nil || ep.Message == "" {
		t.Fatalf("expected error payload, got %s", f.Data)
	}

	// rejected before any state mutation
	if hub.RoomCount() != 0 {
		t.Fatalf("malformed join must not create a room")
	}
}

func TestUnknownEventRejected(t *testing.T) {
	server, _ := newTestServer(t, stubDispatcher{})
	alice := dialWS(t, server)

	send(t, alice, "teleport", map[string]string{"roomId": "r1"})
	expectFrame(t, alice, "error")
}

func TestDisconnectBroadcastsLeave(t *testing.T) {
	server, _ := newTestServer(t, stubDispatcher{})
	alice := dialWS(t, server)
	bob := dialWS(t, server)

	send(t, alice, "join", models.JoinRequest{RoomID: "r1", Username: "alice"})
	expectFrame(t, alice, "joined")
	expectFrame(t, alice, "sync-code")
	expectFrame(t, alice, "sync-messages")

	send(t, bob, "join", models.JoinRequest{RoomID: "r1", Username: "bob"})
	expectFrame(t, bob, "joined")
	expectFrame(t, alice, "joined")

	bob.Close()

	f := expectFrame(t, alice, "disconnected")
	var membership models.Membership
	if err := json.Unmarshal(f.Data, &membership); err != nil {
		t.Fatalf("decode membership: %v", err)
	}
	if membership.Username != "bob" || len(membership.Clients) != 1 {
		t.Fatalf("unexpected membership after disconnect: %#v", membership)
	}
}

func TestGetRoomNotFound(t *testing.T) {
	server, _ := newTestServer(t, stubDispatcher{})

	resp, err := http.Get(server.URL + "/api/v1/rooms/ghost")
	if err != nil {
		t.Fatalf("get room: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestListLanguages(t *testing.T) {
	server, _ := newTestServer(t, stubDispatcher{})

	resp, err := http.Get(server.URL + "/api/v1/languages")
	if err != nil {
		t.Fatalf("list languages: %v", err)
	}
	defer resp.Body.Close()

	var specs []models.LanguageSpec
	if err := json.NewDecoder(resp.Body).Decode(&specs); err != nil {
		t.Fatalf("decode languages: %v", err)
	}
	if len(specs) == 0 {
		t.Fatalf("expected at least one language")
	}
}

func TestRunOnce(t *testing.T) {
	server, _ := newTestServer(t, stubDispatcher{result: exec.Result{Stdout: "ok\n", Exit: 0}})

	body, _ := json.Marshal(models.RunRequest{Language: models.LangPython, Code: "print('ok')"})
	resp, err := http.Post(server.URL+"/api/v1/run", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	defer resp.Body.Close()

	var res models.RunResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if res.Stdout != "ok\n" || res.TimedOut {
		t.Fatalf("unexpected result: %#v", res)
	}
}
