package store

import (
	"context"
	"sync"
	"time"

	"roomsync/internal/models"
)

// Memory is a map-backed RoomStore for tests and for running without a
// configured document store. Records do not survive a restart.
type Memory struct {
	mu    sync.Mutex
	rooms map[string]*models.RoomRecord
}

func NewMemory() *Memory {
	return &Memory{rooms: make(map[string]*models.RoomRecord)}
}

func (m *Memory) Load(_ context.Context, roomID string) (*models.RoomRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.rooms[roomID]
	if !ok {
		return nil, nil
	}
	cp := *rec
	cp.Clients = append([]models.RoomClient(nil), rec.Clients...)
	cp.Messages = append([]models.Message(nil), rec.Messages...)
	return &cp, nil
}

func (m *Memory) Create(_ context.Context, rec *models.RoomRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rec
	m.rooms[rec.RoomID] = &cp
	return nil
}

func (m *Memory) SaveCode(_ context.Context, roomID, code string, lang models.Language, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.rooms[roomID]; ok {
		rec.Code = code
		rec.Language = lang
		rec.LastActivity = at
	}
	return nil
}

func (m *Memory) SaveClients(_ context.Context, roomID string, clients []models.RoomClient, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.rooms[roomID]; ok {
		rec.Clients = append([]models.RoomClient(nil), clients...)
		rec.LastActivity = at
	}
	return nil
}

func (m *Memory) AppendMessage(_ context.Context, roomID string, msg models.Message, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.rooms[roomID]; ok {
		rec.Messages = append(rec.Messages, msg)
		rec.LastActivity = at
	}
	return nil
}

func (m *Memory) Deactivate(_ context.Context, roomID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.rooms[roomID]; ok {
		rec.IsActive = false
	}
	return nil
}

func (m *Memory) Reactivate(_ context.Context, roomID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.rooms[roomID]; ok {
		rec.IsActive = true
		rec.LastActivity = time.Now().UTC()
	}
	return nil
}

func (m *Memory) DeactivateIdle(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, rec := range m.rooms {
		if rec.IsActive && rec.LastActivity.Before(cutoff) {
			rec.IsActive = false
			n++
		}
	}
	return n, nil
}
