// Package models holds the client-side view of server resources.
package models

import "time"

type File struct {
	ID          int64     `json:"id"`
	DirectoryID *int64    `json:"directory_id"`
	Filename    string    `json:"filename"`
	Filesize    int64     `json:"filesize"`
	UploadTime  time.Time `json:"upload_time"`
	IsPublic    bool      `json:"is_public"`
	IsExpired   bool      `json:"is_expired"`
	ShareKey    string    `json:"share_key,omitempty"`
}

type Directory struct {
	ID        int64     `json:"id"`
	ParentID  *int64    `json:"parent_dir_id"`
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	CreatedAt time.Time `json:"created_at"`
}

type Breadcrumb struct {
	ID   *int64 `json:"id"`
	Name string `json:"name"`
}

type Quota struct {
	UsedSpace int64 `json:"used_space"`
	Quota     int64 `json:"quota"`
}

type Listing struct {
	Files       []*File      `json:"files"`
	Directories []*Directory `json:"directories"`
	Breadcrumbs []Breadcrumb `json:"breadcrumbs"`
	Quota       Quota        `json:"quota"`
}

type UserInfo struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	UsedSpace int64  `json:"used_space"`
	Quota     int64  `json:"quota"`
	IsAdmin   bool   `json:"admin"`
}

type DeletionStats struct {
	Files   int   `json:"deleted_files_count"`
	Dirs    int   `json:"deleted_dirs_count"`
	Bytes   int64 `json:"freed_bytes"`
	Missing int   `json:"missing_artifacts"`
}

type Share struct {
	ShareKey       string     `json:"share_key,omitempty"`
	Revoked        bool       `json:"revoked"`
	ExpirationTime *time.Time `json:"expiration_time,omitempty"`
	HasPassword    bool       `json:"has_password"`
}
