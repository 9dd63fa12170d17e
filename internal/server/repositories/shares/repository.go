package shares

import (
	"context"

	"github.com/dmitrijs2005/gophdrive/internal/server/models"
)

// Repository persists public shares. An object has at most one share.
type Repository interface {
	Create(ctx context.Context, share *models.Share) (*models.Share, error)
	GetByKey(ctx context.Context, key string) (*models.Share, error)
	GetByObject(ctx context.Context, objectType string, objectID int64) (*models.Share, error)
	Update(ctx context.Context, share *models.Share) error
	Delete(ctx context.Context, id int64) error
	DeleteByObject(ctx context.Context, objectType string, objectID int64) error
	ListByOwner(ctx context.Context, ownerID int64, objectType string) ([]*models.Share, error)
}
