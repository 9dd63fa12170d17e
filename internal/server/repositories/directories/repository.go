package directories

import (
	"context"

	"github.com/dmitrijs2005/gophdrive/internal/server/models"
)

// Repository persists the directory tree. Every lookup is scoped by owner,
// so a foreign ID behaves exactly like a missing one.
type Repository interface {
	Create(ctx context.Context, dir *models.Directory) (*models.Directory, error)
	GetByID(ctx context.Context, userID, id int64) (*models.Directory, error)
	GetByName(ctx context.Context, userID int64, parentID *int64, name string) (*models.Directory, error)
	ListChildren(ctx context.Context, userID int64, parentID *int64) ([]*models.Directory, error)
	ListByIDs(ctx context.Context, userID int64, ids []int64) ([]*models.Directory, error)
	Delete(ctx context.Context, userID, id int64) error
}
