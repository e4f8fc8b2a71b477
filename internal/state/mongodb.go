package state

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/singer-io/tap-gemini/internal/config"
)

const (
	mongoDatabase   = "tap_gemini"
	mongoCollection = "state"
)

// MongoDBStore implements Store using MongoDB, one document per stream
type MongoDBStore struct {
	client     *mongo.Client
	collection *mongo.Collection
}

// streamStateDoc is the MongoDB document layout.
type streamStateDoc struct {
	StreamID  string            `bson:"_id"`
	Bookmarks map[string]string `bson:"bookmarks"`
}

// NewMongoDBStore creates a new MongoDB state store instance
func NewMongoDBStore(cfg config.StateConfig) (*MongoDBStore, error) {
	if cfg.MongoDBURI == "" {
		return nil, fmt.Errorf("MONGODB_URI is required for the mongodb state store")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoDBURI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return &MongoDBStore{
		client:     client,
		collection: client.Database(mongoDatabase).Collection(mongoCollection),
	}, nil
}

// Load reads every stream's bookmark document.
func (m *MongoDBStore) Load(ctx context.Context) (*State, error) {
	cursor, err := m.collection.Find(ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("failed to query state collection: %w", err)
	}
	defer cursor.Close(ctx)

	bookmarks := make(map[string]map[string]string)
	for cursor.Next(ctx) {
		var doc streamStateDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode state document: %w", err)
		}
		bookmarks[doc.StreamID] = doc.Bookmarks
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate state documents: %w", err)
	}

	return FromBookmarks(bookmarks), nil
}

// Save upserts one document per stream.
func (m *MongoDBStore) Save(ctx context.Context, s *State) error {
	for streamID, streamBookmarks := range s.Snapshot() {
		_, err := m.collection.ReplaceOne(ctx,
			bson.D{{Key: "_id", Value: streamID}},
			streamStateDoc{StreamID: streamID, Bookmarks: streamBookmarks},
			options.Replace().SetUpsert(true),
		)
		if err != nil {
			return fmt.Errorf("failed to store state for stream %s: %w", streamID, err)
		}
	}
	return nil
}

// Close disconnects from MongoDB
func (m *MongoDBStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}
