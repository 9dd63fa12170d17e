package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/dmitrijs2005/gophdrive/internal/common"
	"github.com/dmitrijs2005/gophdrive/internal/dbx"
	"github.com/dmitrijs2005/gophdrive/internal/logging"
	"github.com/dmitrijs2005/gophdrive/internal/server/models"
	"github.com/dmitrijs2005/gophdrive/internal/server/repositories/repomanager"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// ShareRequest toggles the public link of one owned object.
//
// Password: nil keeps the current one, "" removes it, anything else replaces
// it. ExpiresInHours: nil keeps the current expiry, 0 removes it, a positive
// value sets it from now.
type ShareRequest struct {
	ObjectType     string
	ObjectID       int64
	Password       *string
	ExpiresInHours *int
	Revoke         bool
}

type ShareResult struct {
	ShareKey       string     `json:"share_key,omitempty"`
	Revoked        bool       `json:"revoked"`
	ExpirationTime *time.Time `json:"expiration_time,omitempty"`
	HasPassword    bool       `json:"has_password"`
}

// PublicObject is what a share key resolves to. Exactly one of File+Body
// or Archive is set; the caller closes whichever it got.
type PublicObject struct {
	Share   *models.Share
	File    *models.File
	Body    *os.File
	Archive *Archive
}

// Close releases the underlying handles.
func (p *PublicObject) Close() error {
	if p.Body != nil {
		return p.Body.Close()
	}
	if p.Archive != nil {
		return p.Archive.Close()
	}
	return nil
}

// ShareService publishes files and directories under opaque keys.
type ShareService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	archives    *ArchiveService
	logger      logging.Logger
	bcryptCost  int
	now         func() time.Time
}

func NewShareService(db *sql.DB, m repomanager.RepositoryManager, archives *ArchiveService, logger logging.Logger) *ShareService {
	return &ShareService{
		db:          db,
		repomanager: m,
		archives:    archives,
		logger:      logger.With("module", "shares"),
		bcryptCost:  bcrypt.DefaultCost,
		now:         time.Now,
	}
}

// ToggleShare creates, updates or revokes the share of an owned object.
func (s *ShareService) ToggleShare(ctx context.Context, userID int64, req ShareRequest) (*ShareResult, error) {
	if err := s.checkOwnership(ctx, userID, req.ObjectType, req.ObjectID); err != nil {
		return nil, err
	}
	if req.ExpiresInHours != nil && *req.ExpiresInHours < 0 {
		return nil, fmt.Errorf("expires_in_hours must not be negative: %w", common.ErrValidation)
	}

	var hash *string
	if req.Password != nil && !req.Revoke {
		h := ""
		if *req.Password != "" {
			b, err := bcrypt.GenerateFromPassword([]byte(*req.Password), s.bcryptCost)
			if err != nil {
				return nil, fmt.Errorf("hash share password: %w", err)
			}
			h = string(b)
		}
		hash = &h
	}

	var result *ShareResult
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Shares(tx)

		current, err := repo.GetByObject(ctx, req.ObjectType, req.ObjectID)
		switch {
		case errors.Is(err, common.ErrNotFound):
			current = nil
		case err != nil:
			return err
		}

		if req.Revoke {
			if current == nil {
				return fmt.Errorf("%s %d is not shared: %w", req.ObjectType, req.ObjectID, common.ErrNotFound)
			}
			if err := repo.Delete(ctx, current.ID); err != nil {
				return err
			}
			result = &ShareResult{Revoked: true}
			return nil
		}

		if current == nil {
			share := &models.Share{
				OwnerID:    userID,
				ObjectType: req.ObjectType,
				ObjectID:   req.ObjectID,
				ShareKey:   uuid.NewString(),
			}
			if hash != nil {
				share.PasswordHash = *hash
			}
			share.ExpirationTime = s.expiry(req.ExpiresInHours, nil)
			created, err := repo.Create(ctx, share)
			if err != nil {
				return err
			}
			result = shareResult(created)
			return nil
		}

		if hash != nil {
			current.PasswordHash = *hash
		}
		current.ExpirationTime = s.expiry(req.ExpiresInHours, current.ExpirationTime)
		if err := repo.Update(ctx, current); err != nil {
			return err
		}
		result = shareResult(current)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info(ctx, "share toggled", "user_id", userID, "object_type", req.ObjectType, "object_id", req.ObjectID,
		"revoked", result.Revoked, "protected", result.HasPassword)
	return result, nil
}

func (s *ShareService) expiry(hours *int, current *time.Time) *time.Time {
	switch {
	case hours == nil:
		return current
	case *hours == 0:
		return nil
	default:
		t := s.now().Add(time.Duration(*hours) * time.Hour).UTC()
		return &t
	}
}

func shareResult(sh *models.Share) *ShareResult {
	return &ShareResult{ShareKey: sh.ShareKey, ExpirationTime: sh.ExpirationTime, HasPassword: sh.HasPassword()}
}

func (s *ShareService) checkOwnership(ctx context.Context, userID int64, objectType string, id int64) error {
	var err error
	switch objectType {
	case models.ShareObjectFile:
		_, err = s.repomanager.Files(s.db).GetByID(ctx, userID, id)
	case models.ShareObjectDirectory:
		_, err = s.repomanager.Directories(s.db).GetByID(ctx, userID, id)
	default:
		return fmt.Errorf("unknown object type %q: %w", objectType, common.ErrValidation)
	}
	if errors.Is(err, common.ErrNotFound) {
		return fmt.Errorf("%s %d: %w", objectType, id, common.ErrNotFound)
	}
	return err
}

// PublicFetch resolves a share key for an anonymous caller. Unknown and
// expired keys are both NotFound.
func (s *ShareService) PublicFetch(ctx context.Context, key, password string) (*PublicObject, error) {
	share, err := s.repomanager.Shares(s.db).GetByKey(ctx, key)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, fmt.Errorf("share: %w", common.ErrNotFound)
		}
		return nil, err
	}
	if share.IsExpired(s.now()) {
		return nil, fmt.Errorf("share expired: %w", common.ErrNotFound)
	}
	if share.HasPassword() {
		if password == "" {
			return nil, fmt.Errorf("password required: %w", common.ErrAccessDenied)
		}
		if bcrypt.CompareHashAndPassword([]byte(share.PasswordHash), []byte(password)) != nil {
			return nil, fmt.Errorf("incorrect password: %w", common.ErrAccessDenied)
		}
	}

	switch share.ObjectType {
	case models.ShareObjectFile:
		file, err := s.repomanager.Files(s.db).GetByID(ctx, share.OwnerID, share.ObjectID)
		if err != nil {
			if errors.Is(err, common.ErrNotFound) {
				return nil, fmt.Errorf("shared file: %w", common.ErrNotFound)
			}
			return nil, err
		}
		body, err := openArtifact(ctx, s.logger, file)
		if err != nil {
			return nil, err
		}
		return &PublicObject{Share: share, File: file, Body: body}, nil

	case models.ShareObjectDirectory:
		dir, err := s.repomanager.Directories(s.db).GetByID(ctx, share.OwnerID, share.ObjectID)
		if err != nil {
			if errors.Is(err, common.ErrNotFound) {
				return nil, fmt.Errorf("shared directory: %w", common.ErrNotFound)
			}
			return nil, err
		}
		a, err := s.archives.PrepareDirectory(ctx, share.OwnerID, dir)
		if err != nil {
			return nil, err
		}
		return &PublicObject{Share: share, Archive: a}, nil
	}
	return nil, fmt.Errorf("share %d has object type %q: %w", share.ID, share.ObjectType, common.ErrConsistency)
}

// openArtifact opens the bytes behind a File row. A row without its artifact
// is a consistency error.
func openArtifact(ctx context.Context, logger logging.Logger, file *models.File) (*os.File, error) {
	body, err := os.Open(file.Filepath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			logger.Error(ctx, "file record without artifact", "user_id", file.UserID, "file_id", file.ID, "path", file.Filepath)
			return nil, fmt.Errorf("file %d has no artifact on disk: %w", file.ID, common.ErrConsistency)
		}
		return nil, fmt.Errorf("open file %d: %w: %v", file.ID, common.ErrStorageIO, err)
	}
	return body, nil
}
