package repositories

import (
	"context"
	"errors"

	"github.com/satriahrh/mianshi/domain/entities"
)

// ErrResultNotFound is returned when no stored result matches the id
var ErrResultNotFound = errors.New("interview result not found")

// ResultRepository defines data access methods for finished interviews
type ResultRepository interface {
	Save(ctx context.Context, result *entities.InterviewResult) error
	GetByID(ctx context.Context, id string) (*entities.InterviewResult, error)
}
