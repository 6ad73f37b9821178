package mongo

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/sweetpotato0/carebridge/audit"
)

// Sink writes audit events to a MongoDB collection.
type Sink struct {
	client     *mongo.Client
	collection *mongo.Collection
}

// Config holds MongoDB connection configuration
type Config struct {
	URI        string
	Database   string
	Collection string
}

// DefaultConfig returns default MongoDB configuration
func DefaultConfig() *Config {
	return &Config{
		URI:        "mongodb://localhost:27017",
		Database:   "carebridge",
		Collection: "events",
	}
}

// NewSink connects to MongoDB and prepares the event collection.
func NewSink(ctx context.Context, config *Config) (*Sink, error) {
	if config == nil {
		config = DefaultConfig()
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(config.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	s := &Sink{
		client:     client,
		collection: client.Database(config.Database).Collection(config.Collection),
	}
	if err := s.createIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to create indexes: %w", err)
	}
	return s, nil
}

func (s *Sink) createIndexes(ctx context.Context) error {
	_, err := s.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "time", Value: -1}}},
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "session_id", Value: 1}, {Key: "time", Value: 1}}},
	})
	return err
}

// Write inserts an event. Events without an ID get one.
func (s *Sink) Write(ctx context.Context, e audit.Event) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
	opts := options.Replace().SetUpsert(true)
	if _, err := s.collection.ReplaceOne(ctx, bson.M{"_id": e.ID}, e, opts); err != nil {
		return fmt.Errorf("failed to write audit event: %w", err)
	}
	return nil
}

// Events returns a session's events, oldest first.
func (s *Sink) Events(ctx context.Context, userID, sessionID string) ([]audit.Event, error) {
	filter := bson.M{"user_id": userID, "session_id": sessionID}
	cursor, err := s.collection.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "time", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to find audit events: %w", err)
	}
	defer cursor.Close(ctx)

	var events []audit.Event
	if err := cursor.All(ctx, &events); err != nil {
		return nil, fmt.Errorf("failed to decode audit events: %w", err)
	}
	return events, nil
}

// Count returns the number of stored events.
func (s *Sink) Count(ctx context.Context) (int, error) {
	count, err := s.collection.EstimatedDocumentCount(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count audit events: %w", err)
	}
	return int(count), nil
}

// Clear removes all events.
func (s *Sink) Clear(ctx context.Context) error {
	if _, err := s.collection.DeleteMany(ctx, bson.M{}); err != nil {
		return fmt.Errorf("failed to clear audit events: %w", err)
	}
	return nil
}

// Close closes the MongoDB connection
func (s *Sink) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
