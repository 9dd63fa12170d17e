package services

import (
	"path/filepath"
	"strconv"

	"github.com/dmitrijs2005/gophdrive/internal/server/models"
)

// Layout maps tree objects onto the upload folder:
// <root>/<user_id>/<directory path>/<file name>.
type Layout struct {
	root string
}

// NewLayout expects an absolute root so stored file paths are stable.
func NewLayout(root string) *Layout {
	return &Layout{root: root}
}

func (l *Layout) Root() string {
	return l.root
}

func (l *Layout) UserDir(userID int64) string {
	return filepath.Join(l.root, strconv.FormatInt(userID, 10))
}

// DirectoryPath is the on-disk directory for dir; nil means the user's root.
func (l *Layout) DirectoryPath(userID int64, dir *models.Directory) string {
	if dir == nil {
		return l.UserDir(userID)
	}
	return filepath.Join(l.UserDir(userID), filepath.FromSlash(dir.Path))
}

func (l *Layout) FilePath(userID int64, dir *models.Directory, name string) string {
	return filepath.Join(l.DirectoryPath(userID, dir), name)
}
