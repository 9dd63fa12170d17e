// Package models defines server-side data models persisted in the database.
package models

import "time"

// File describes a stored artifact. Filepath is the absolute on-disk
// location and must exist whenever the row exists.
type File struct {
	ID          int64     `json:"id"`
	UserID      int64     `json:"-"`
	DirectoryID *int64    `json:"directory_id"` // nil for the user's root
	Filename    string    `json:"filename"`
	Filepath    string    `json:"-"`
	Filesize    int64     `json:"filesize"`
	UploadTime  time.Time `json:"upload_time"`
}
