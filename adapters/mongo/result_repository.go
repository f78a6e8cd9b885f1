package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"github.com/satriahrh/mianshi/domain/entities"
	"github.com/satriahrh/mianshi/domain/repositories"
)

const resultsCollection = "results"

// ResultRepository stores finished interviews in MongoDB
type ResultRepository struct {
	collection *mongo.Collection
	logger     *zap.Logger
}

// NewResultRepository creates a new MongoDB result repository
func NewResultRepository(db *mongo.Database, logger *zap.Logger) *ResultRepository {
	collection := db.Collection(resultsCollection)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		_, err := collection.Indexes().CreateOne(ctx, mongo.IndexModel{
			Keys: bson.D{{Key: "created_at", Value: -1}},
		})
		if err != nil {
			logger.Warn("Failed to create results index", zap.Error(err))
		}
	}()

	return &ResultRepository{
		collection: collection,
		logger:     logger,
	}
}

// Save implements repositories.ResultRepository
func (r *ResultRepository) Save(ctx context.Context, result *entities.InterviewResult) error {
	if result == nil {
		return errors.New("result cannot be nil")
	}
	if result.ID.IsZero() {
		result.ID = primitive.NewObjectID()
	}
	if result.CreatedAt.IsZero() {
		result.CreatedAt = time.Now()
	}
	if err := result.Validate(); err != nil {
		return fmt.Errorf("invalid result: %w", err)
	}

	if _, err := r.collection.InsertOne(ctx, result); err != nil {
		return fmt.Errorf("failed to save result: %w", err)
	}

	r.logger.Info("Interview result saved",
		zap.String("result_id", result.ID.Hex()),
		zap.Int("messages", len(result.Messages)))
	return nil
}

// GetByID implements repositories.ResultRepository
func (r *ResultRepository) GetByID(ctx context.Context, id string) (*entities.InterviewResult, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, fmt.Errorf("invalid result ID %q: %w", id, err)
	}

	var result entities.InterviewResult
	if err := r.collection.FindOne(ctx, bson.M{"_id": oid}).Decode(&result); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, repositories.ErrResultNotFound
		}
		return nil, fmt.Errorf("failed to get result: %w", err)
	}
	return &result, nil
}

var _ repositories.ResultRepository = (*ResultRepository)(nil)
