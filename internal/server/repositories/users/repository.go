package users

import (
	"context"

	"github.com/dmitrijs2005/gophdrive/internal/server/models"
)

// Repository is the users table plus the used_space ledger column.
type Repository interface {
	Create(ctx context.Context, user *models.User) (*models.User, error)
	GetByID(ctx context.Context, id int64) (*models.User, error)
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	List(ctx context.Context) ([]*models.User, error)
	SetQuota(ctx context.Context, id int64, quota int64) error

	// AddUsedSpace applies delta unconditionally, clamping the result at zero.
	AddUsedSpace(ctx context.Context, id int64, delta int64) error
	// AddUsedSpaceWithinQuota applies delta only if the result fits the quota,
	// as a single statement, so concurrent callers cannot both pass.
	AddUsedSpaceWithinQuota(ctx context.Context, id int64, delta int64) error
	// RecomputeUsedSpace sets used_space to the sum of the user's file sizes
	// and returns the new value.
	RecomputeUsedSpace(ctx context.Context, id int64) (int64, error)
}
