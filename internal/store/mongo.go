package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ayush/factcheck-agent/internal/models"
)

// MongoStore archives research pipeline traces in MongoDB.
type MongoStore struct {
	col *mongo.Collection
}

func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{col: db.Collection("research_traces")}
}

// EnsureIndexes creates the research_id lookup index.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.col.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "research_id", Value: 1}},
		Options: options.Index().SetName("research_id_1"),
	})
	if err != nil {
		return fmt.Errorf("mongo index: %w", err)
	}
	return nil
}

func (s *MongoStore) InsertTrace(ctx context.Context, trace *models.ResearchTrace) (string, error) {
	trace.CreatedAt = time.Now()
	res, err := s.col.InsertOne(ctx, trace)
	if err != nil {
		return "", fmt.Errorf("mongo insert: %w", err)
	}
	oid := res.InsertedID.(primitive.ObjectID)
	return oid.Hex(), nil
}

// GetTrace returns the newest trace recorded for a research result.
func (s *MongoStore) GetTrace(ctx context.Context, researchID string) (*models.ResearchTrace, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "created_at", Value: -1}})
	var trace models.ResearchTrace
	err := s.col.FindOne(ctx, bson.M{"research_id": researchID}, opts).Decode(&trace)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("mongo find: %w", err)
	}
	return &trace, nil
}
