package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"roomsync/internal/models"
)

func record(roomID string, at time.Time) *models.RoomRecord {
	return &models.RoomRecord{
		RoomID:       roomID,
		Clients:      []models.RoomClient{},
		Code:         models.DefaultCode,
		Language:     models.DefaultLanguage,
		Messages:     []models.Message{},
		CreatedAt:    at,
		LastActivity: at,
		IsActive:     true,
	}
}

func TestMemoryLoadAbsent(t *testing.T) {
	m := NewMemory()
	rec, err := m.Load(context.Background(), "ghost")
	assert.NoError(t, err)
	assert.Nil(t, rec)
}

func TestMemoryCreateAndMutate(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	now := time.Now().UTC()

	assert.NoError(t, m.Create(ctx, record("r1", now)))

	later := now.Add(time.Minute)
	assert.NoError(t, m.SaveCode(ctx, "r1", "print(1)", models.LangPython, later))
	assert.NoError(t, m.AppendMessage(ctx, "r1", models.Message{ID: "m1", Username: "alice", Content: "hi"}, later))
	assert.NoError(t, m.SaveClients(ctx, "r1", []models.RoomClient{{ConnectionID: "c1", Username: "alice"}}, later))

	rec, err := m.Load(ctx, "r1")
	assert.NoError(t, err)
	assert.Equal(t, "print(1)", rec.Code)
	assert.Equal(t, models.LangPython, rec.Language)
	assert.Len(t, rec.Messages, 1)
	assert.Len(t, rec.Clients, 1)
	assert.Equal(t, later, rec.LastActivity)
}

func TestMemoryLoadReturnsCopy(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	assert.NoError(t, m.Create(ctx, record("r1", time.Now().UTC())))

	rec, _ := m.Load(ctx, "r1")
	rec.Code = "mutated"
	rec.Messages = append(rec.Messages, models.Message{ID: "x"})

	fresh, _ := m.Load(ctx, "r1")
	assert.Equal(t, models.DefaultCode, fresh.Code)
	assert.Empty(t, fresh.Messages)
}

func TestMemoryDeactivateLifecycle(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	assert.NoError(t, m.Create(ctx, record("r1", time.Now().UTC())))

	assert.NoError(t, m.Deactivate(ctx, "r1"))
	rec, _ := m.Load(ctx, "r1")
	assert.False(t, rec.IsActive)

	assert.NoError(t, m.Reactivate(ctx, "r1"))
	rec, _ = m.Load(ctx, "r1")
	assert.True(t, rec.IsActive)
}

func TestMemoryDeactivateIdle(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	old := time.Now().UTC().Add(-48 * time.Hour)
	assert.NoError(t, m.Create(ctx, record("stale", old)))
	assert.NoError(t, m.Create(ctx, record("fresh", time.Now().UTC())))

	n, err := m.DeactivateIdle(ctx, time.Now().UTC().Add(-24*time.Hour))
	assert.NoError(t, err)
	assert.Equal(t, int64(1), n)

	stale, _ := m.Load(ctx, "stale")
	fresh, _ := m.Load(ctx, "fresh")
	assert.False(t, stale.IsActive)
	assert.True(t, fresh.IsActive)
}
