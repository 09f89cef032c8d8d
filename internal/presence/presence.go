// Package presence writes the courtesy fields on the user record: which room
// a user is currently in, the connection carrying them, and when they were
// last seen. It does not own user identity.
package presence

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "user:"

type Tracker struct {
	rdb *redis.Client
}

func New(rdb *redis.Client) *Tracker { return &Tracker{rdb: rdb} }

func NewFromAddr(addr string) *Tracker {
	return &Tracker{rdb: redis.NewClient(&redis.Options{Addr: addr})}
}

func (t *Tracker) SetCurrentRoom(ctx context.Context, username, roomID, connectionID string) error {
	return t.rdb.HSet(ctx, keyPrefix+username,
		"currentRoom", roomID,
		"socketId", connectionID,
		"lastSeen", time.Now().Unix(),
	).Err()
}

func (t *Tracker) ClearCurrentRoom(ctx context.Context, username string) error {
	return t.rdb.HSet(ctx, keyPrefix+username,
		"currentRoom", "",
		"socketId", "",
		"lastSeen", time.Now().Unix(),
	).Err()
}

func (t *Tracker) Touch(ctx context.Context, username string) error {
	return t.rdb.HSet(ctx, keyPrefix+username, "lastSeen", time.Now().Unix()).Err()
}

func (t *Tracker) CurrentRoom(ctx context.Context, username string) (string, error) {
	return t.rdb.HGet(ctx, keyPrefix+username, "currentRoom").Result()
}
