package presence

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *Tracker) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return mr, New(client)
}

func TestSetCurrentRoom(t *testing.T) {
	mr, tr := setupTestRedis(t)
	ctx := context.Background()

	err := tr.SetCurrentRoom(ctx, "alice", "r1", "conn-1")
	assert.NoError(t, err)

	assert.Equal(t, "r1", mr.HGet("user:alice", "currentRoom"))
	assert.Equal(t, "conn-1", mr.HGet("user:alice", "socketId"))
	assert.NotEmpty(t, mr.HGet("user:alice", "lastSeen"))

	room, err := tr.CurrentRoom(ctx, "alice")
	assert.NoError(t, err)
	assert.Equal(t, "r1", room)
}

func TestClearCurrentRoom(t *testing.T) {
	mr, tr := setupTestRedis(t)
	ctx := context.Background()

	assert.NoError(t, tr.SetCurrentRoom(ctx, "alice", "r1", "conn-1"))
	assert.NoError(t, tr.ClearCurrentRoom(ctx, "alice"))

	assert.Equal(t, "", mr.HGet("user:alice", "currentRoom"))
	assert.Equal(t, "", mr.HGet("user:alice", "socketId"))
	// lastSeen survives as the presence timestamp
	assert.NotEmpty(t, mr.HGet("user:alice", "lastSeen"))
}

func TestTouch(t *testing.T) {
	mr, tr := setupTestRedis(t)

	assert.NoError(t, tr.Touch(context.Background(), "bob"))
	assert.NotEmpty(t, mr.HGet("user:bob", "lastSeen"))
}
