package models

import "time"

// Object types a share can point at.
const (
	ShareObjectFile      = "file"
	ShareObjectDirectory = "directory"
)

// Share exposes one owned file or directory under an opaque key.
type Share struct {
	ID             int64
	OwnerID        int64
	ObjectType     string
	ObjectID       int64
	ShareKey       string
	PasswordHash   string // empty when the share is not password protected
	ExpirationTime *time.Time
	CreatedAt      time.Time
}

// IsExpired is evaluated at access time and never stored.
func (s *Share) IsExpired(now time.Time) bool {
	return s.ExpirationTime != nil && now.After(*s.ExpirationTime)
}

// HasPassword reports whether a password is required to fetch the share.
func (s *Share) HasPassword() bool {
	return s.PasswordHash != ""
}
