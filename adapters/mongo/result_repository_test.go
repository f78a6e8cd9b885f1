package mongo

import (
	"context"
	"errors"
	"os"
	"testing"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/satriahrh/mianshi/domain/entities"
	"github.com/satriahrh/mianshi/domain/repositories"
)

// TestResultRepository_Integration requires a running MongoDB instance
// (skipped if MONGODB_URI is not set)
func TestResultRepository_Integration(t *testing.T) {
	mongoURI := os.Getenv("MONGODB_URI")
	if mongoURI == "" {
		t.Skip("Skipping MongoDB integration test - MONGODB_URI not set")
	}

	ctx := context.Background()
	logger := zap.NewNop()

	client, err := NewClient(ctx, mongoURI, "mianshi_test", logger)
	if err != nil {
		t.Fatalf("Failed to connect to MongoDB: %v", err)
	}
	defer client.Close(ctx)
	defer client.Database.Drop(ctx)

	repo := NewResultRepository(client.Database, logger)

	t.Run("SaveAndGet", func(t *testing.T) {
		result := entities.NewInterviewResult(
			[]entities.Message{
				{ID: "1", Role: entities.MessageRoleAssistant, Content: "请做一下自我介绍", Timestamp: 1},
				{ID: "2", Role: entities.MessageRoleUser, Content: "我是一名产品经理", Timestamp: 2},
			},
			entities.Settings{Mode: entities.ModeInternet, Position: "产品经理", Duration: 15},
			&entities.Report{TotalScore: 80, Highlights: []string{"表达流畅"}},
		)

		if err := repo.Save(ctx, result); err != nil {
			t.Fatalf("Failed to save result: %v", err)
		}

		retrieved, err := repo.GetByID(ctx, result.ID.Hex())
		if err != nil {
			t.Fatalf("Failed to get result: %v", err)
		}
		if len(retrieved.Messages) != 2 || retrieved.Messages[1].Content != "我是一名产品经理" {
			t.Errorf("Unexpected messages %#v", retrieved.Messages)
		}
		if retrieved.Report == nil || retrieved.Report.TotalScore != 80 {
			t.Errorf("Unexpected report %#v", retrieved.Report)
		}
		if retrieved.Settings.Position != "产品经理" {
			t.Errorf("Expected position kept, got %s", retrieved.Settings.Position)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		_, err := repo.GetByID(ctx, primitive.NewObjectID().Hex())
		if !errors.Is(err, repositories.ErrResultNotFound) {
			t.Errorf("Expected ErrResultNotFound, got %v", err)
		}
	})

	t.Run("InvalidID", func(t *testing.T) {
		if _, err := repo.GetByID(ctx, "not-an-id"); err == nil {
			t.Error("Expected error for invalid ID")
		}
	})
}
