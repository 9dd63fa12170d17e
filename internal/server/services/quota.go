package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/gophdrive/internal/common"
	"github.com/dmitrijs2005/gophdrive/internal/dbx"
	"github.com/dmitrijs2005/gophdrive/internal/server/repositories/repomanager"
)

// QuotaSnapshot is the user's storage accounting at a point in time.
type QuotaSnapshot struct {
	UsedSpace int64 `json:"used_space"`
	Quota     int64 `json:"quota"`
}

// QuotaLedger tracks used versus allowed bytes per user. Commits take the
// caller's transaction so they land together with the tree mutation they
// account for.
type QuotaLedger struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
}

func NewQuotaLedger(db *sql.DB, m repomanager.RepositoryManager) *QuotaLedger {
	return &QuotaLedger{db: db, repomanager: m}
}

// Reserve reports whether delta more bytes fit in the user's quota. It
// never mutates state; the binding check happens in CommitChecked.
func (q *QuotaLedger) Reserve(ctx context.Context, userID, delta int64) (bool, error) {
	user, err := q.repomanager.Users(q.db).GetByID(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("load user: %w", err)
	}
	return user.UsedSpace+delta <= user.Quota, nil
}

// Commit applies a signed delta unconditionally. Used space never drops
// below zero.
func (q *QuotaLedger) Commit(ctx context.Context, tx dbx.DBTX, userID, delta int64) error {
	if delta == 0 {
		return nil
	}
	return q.repomanager.Users(tx).AddUsedSpace(ctx, userID, delta)
}

// CommitChecked adds delta only if the result stays within quota, as one
// conditional update, so concurrent completions cannot both pass a check
// against stale used space.
func (q *QuotaLedger) CommitChecked(ctx context.Context, tx dbx.DBTX, userID, delta int64) error {
	if err := q.repomanager.Users(tx).AddUsedSpaceWithinQuota(ctx, userID, delta); err != nil {
		if errors.Is(err, common.ErrQuotaExceeded) {
			return fmt.Errorf("%d more bytes do not fit: %w", delta, common.ErrQuotaExceeded)
		}
		return err
	}
	return nil
}

func (q *QuotaLedger) Snapshot(ctx context.Context, userID int64) (QuotaSnapshot, error) {
	user, err := q.repomanager.Users(q.db).GetByID(ctx, userID)
	if err != nil {
		return QuotaSnapshot{}, err
	}
	return QuotaSnapshot{UsedSpace: user.UsedSpace, Quota: user.Quota}, nil
}
