package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/gophdrive/internal/common"
	"github.com/dmitrijs2005/gophdrive/internal/filex"
	"github.com/dmitrijs2005/gophdrive/internal/logging"
	"github.com/dmitrijs2005/gophdrive/internal/server/auth"
	"github.com/dmitrijs2005/gophdrive/internal/server/models"
	"github.com/dmitrijs2005/gophdrive/internal/server/repositories/repomanager"
)

// UserInfo is the public view of an account.
type UserInfo struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	UsedSpace int64  `json:"used_space"`
	Quota     int64  `json:"quota"`
	IsAdmin   bool   `json:"admin"`
}

func newUserInfo(u *models.User) *UserInfo {
	return &UserInfo{ID: u.ID, Username: u.Username, UsedSpace: u.UsedSpace, Quota: u.Quota, IsAdmin: u.IsAdmin}
}

// UserService manages accounts and the bearer tokens that identify them.
type UserService struct {
	db            *sql.DB
	repomanager   repomanager.RepositoryManager
	layout        *Layout
	logger        logging.Logger
	jwtSecret     []byte
	tokenValidity time.Duration
	defaultQuota  int64
}

// NewUserService constructs a UserService. defaultQuota applies to accounts
// created without an explicit quota.
func NewUserService(db *sql.DB, m repomanager.RepositoryManager, layout *Layout, logger logging.Logger,
	secret string, tokenValidity time.Duration, defaultQuota int64) *UserService {
	return &UserService{
		db:            db,
		repomanager:   m,
		layout:        layout,
		logger:        logger.With("module", "users"),
		jwtSecret:     []byte(secret),
		tokenValidity: tokenValidity,
		defaultQuota:  defaultQuota,
	}
}

// CreateUser registers an account and prepares its storage directory. A
// negative quota selects the default.
func (s *UserService) CreateUser(ctx context.Context, username string, quota int64, isAdmin bool) (*models.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, fmt.Errorf("username is required: %w", common.ErrValidation)
	}
	if quota < 0 {
		quota = s.defaultQuota
	}

	u, err := s.repomanager.Users(s.db).Create(ctx, &models.User{Username: username, Quota: quota, IsAdmin: isAdmin})
	if err != nil {
		if errors.Is(err, common.ErrConflict) {
			return nil, fmt.Errorf("user %q already exists: %w", username, common.ErrConflict)
		}
		return nil, fmt.Errorf("error creating user: %w", err)
	}

	if _, err := filex.EnsureDir(s.layout.UserDir(u.ID)); err != nil {
		return nil, fmt.Errorf("create user dir: %w: %v", common.ErrStorageIO, err)
	}

	s.logger.Info(ctx, "user created", "user_id", u.ID, "username", u.Username, "quota", u.Quota, "admin", u.IsAdmin)
	return u, nil
}

// GetUser returns the account by id.
func (s *UserService) GetUser(ctx context.Context, id int64) (*models.User, error) {
	u, err := s.repomanager.Users(s.db).GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, fmt.Errorf("user %d: %w", id, common.ErrNotFound)
		}
		return nil, err
	}
	return u, nil
}

// GetUserInfo returns the account with the given id. Only the account
// itself and administrators may read it.
func (s *UserService) GetUserInfo(ctx context.Context, requester *models.User, id int64) (*UserInfo, error) {
	if requester.ID != id && !requester.IsAdmin {
		return nil, common.ErrAccessDenied
	}
	u, err := s.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	return newUserInfo(u), nil
}

// SetQuota changes the quota of the named account. Lowering it below the
// used space is allowed and blocks further uploads until files are deleted.
func (s *UserService) SetQuota(ctx context.Context, username string, quota int64) (*models.User, error) {
	if quota < 0 {
		return nil, fmt.Errorf("quota must not be negative: %w", common.ErrValidation)
	}
	repo := s.repomanager.Users(s.db)
	u, err := repo.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, fmt.Errorf("user %q: %w", username, common.ErrNotFound)
		}
		return nil, err
	}
	if err := repo.SetQuota(ctx, u.ID, quota); err != nil {
		return nil, err
	}
	u.Quota = quota
	s.logger.Info(ctx, "quota changed", "user_id", u.ID, "quota", quota)
	return u, nil
}

// IssueToken mints a bearer token for the user.
func (s *UserService) IssueToken(ctx context.Context, username string) (string, error) {
	u, err := s.repomanager.Users(s.db).GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return "", fmt.Errorf("user %q: %w", username, common.ErrNotFound)
		}
		return "", err
	}
	token, err := auth.GenerateToken(strconv.FormatInt(u.ID, 10), s.jwtSecret, s.tokenValidity)
	if err != nil {
		return "", common.ErrorInternal
	}
	return token, nil
}

// Authenticate resolves a bearer token to its account. Any failure is
// common.ErrorUnauthorized.
func (s *UserService) Authenticate(ctx context.Context, token string) (*models.User, error) {
	sub, err := auth.GetUserIDFromToken(token, s.jwtSecret)
	if err != nil {
		return nil, common.ErrorUnauthorized
	}
	id, err := strconv.ParseInt(sub, 10, 64)
	if err != nil {
		return nil, common.ErrorUnauthorized
	}
	u, err := s.repomanager.Users(s.db).GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, common.ErrorUnauthorized
		}
		return nil, common.ErrorInternal
	}
	return u, nil
}
