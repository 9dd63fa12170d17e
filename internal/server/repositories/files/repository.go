package files

import (
	"context"

	"github.com/dmitrijs2005/gophdrive/internal/server/models"
)

// Repository persists file metadata. Lookups are owner-scoped.
type Repository interface {
	Create(ctx context.Context, file *models.File) (*models.File, error)
	GetByID(ctx context.Context, userID, id int64) (*models.File, error)
	GetByName(ctx context.Context, userID int64, directoryID *int64, name string) (*models.File, error)
	ListByDirectory(ctx context.Context, userID int64, directoryID *int64) ([]*models.File, error)
	ListByIDs(ctx context.Context, userID int64, ids []int64) ([]*models.File, error)
	ListByUser(ctx context.Context, userID int64) ([]*models.File, error)
	Delete(ctx context.Context, userID, id int64) error
}
