// Package store owns the durable room records. The document store is the
// source of truth when a room is loaded fresh; while a room is held open in
// memory the hub's copy is authoritative and writes flow here asynchronously.
package store

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"roomsync/internal/models"
)

// RoomStore is what the session hub needs from persistence. Load returns
// (nil, nil) when no record exists.
type RoomStore interface {
	Load(ctx context.Context, roomID string) (*models.RoomRecord, error)
	Create(ctx context.Context, rec *models.RoomRecord) error
	SaveCode(ctx context.Context, roomID, code string, lang models.Language, at time.Time) error
	SaveClients(ctx context.Context, roomID string, clients []models.RoomClient, at time.Time) error
	AppendMessage(ctx context.Context, roomID string, msg models.Message, at time.Time) error
	Deactivate(ctx context.Context, roomID string) error
	Reactivate(ctx context.Context, roomID string) error
	DeactivateIdle(ctx context.Context, cutoff time.Time) (int64, error)
}

// Rooms wraps the MongoDB collection backing room records.
type Rooms struct {
	col *mongo.Collection
}

// NewRooms connects to Mongo and ensures a unique index on roomId.
func NewRooms(ctx context.Context, uri, dbName string) (*Rooms, error) {
	if uri == "" {
		return nil, errors.New("mongo uri is empty")
	}
	c, err := mongo.NewClient(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}

	col := c.Database(dbName).Collection("rooms")
	r := &Rooms{col: col}

	_, _ = r.col.Indexes().CreateOne(context.Background(), mongo.IndexModel{
		Keys:    bson.D{{Key: "roomId", Value: 1}},
		Options: options.Index().SetUnique(true),
	})

	return r, nil
}

func (r *Rooms) Load(ctx context.Context, roomID string) (*models.RoomRecord, error) {
	var rec models.RoomRecord
	err := r.col.FindOne(ctx, bson.M{"roomId": roomID}).Decode(&rec)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *Rooms) Create(ctx context.Context, rec *models.RoomRecord) error {
	_, err := r.col.InsertOne(ctx, rec)
	return err
}

func (r *Rooms) SaveCode(ctx context.Context, roomID, code string, lang models.Language, at time.Time) error {
	_, err := r.col.UpdateOne(ctx, bson.M{"roomId": roomID}, bson.M{
		"$set": bson.M{"code": code, "language": lang, "lastActivity": at},
	})
	return err
}

func (r *Rooms) SaveClients(ctx context.Context, roomID string, clients []models.RoomClient, at time.Time) error {
	if clients == nil {
		clients = []models.RoomClient{}
	}
	_, err := r.col.UpdateOne(ctx, bson.M{"roomId": roomID}, bson.M{
		"$set": bson.M{"clients": clients, "lastActivity": at},
	})
	return err
}

func (r *Rooms) AppendMessage(ctx context.Context, roomID string, msg models.Message, at time.Time) error {
	_, err := r.col.UpdateOne(ctx, bson.M{"roomId": roomID}, bson.M{
		"$push": bson.M{"messages": msg},
		"$set":  bson.M{"lastActivity": at},
	})
	return err
}

func (r *Rooms) Deactivate(ctx context.Context, roomID string) error {
	_, err := r.col.UpdateOne(ctx, bson.M{"roomId": roomID}, bson.M{
		"$set": bson.M{"isActive": false},
	})
	return err
}

func (r *Rooms) Reactivate(ctx context.Context, roomID string) error {
	_, err := r.col.UpdateOne(ctx, bson.M{"roomId": roomID}, bson.M{
		"$set": bson.M{"isActive": true, "lastActivity": time.Now().UTC()},
	})
	return err
}

// DeactivateIdle marks rooms whose lastActivity predates cutoff as inactive
// and reports how many were swept.
func (r *Rooms) DeactivateIdle(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.col.UpdateMany(ctx, bson.M{
		"isActive":     true,
		"lastActivity": bson.M{"$lt": cutoff},
	}, bson.M{
		"$set": bson.M{"isActive": false},
	})
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}
