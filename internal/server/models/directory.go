package models

import "time"

// Directory is a node of a user's tree. Path is the slash-joined chain of
// ancestor names ending with Name, computed once at creation.
type Directory struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"-"`
	ParentID  *int64    `json:"parent_dir_id"` // nil for root-level directories
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	CreatedAt time.Time `json:"created_at"`
}
