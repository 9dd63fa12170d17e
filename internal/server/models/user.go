package models

import "time"

// User owns directories, files and shares. UsedSpace is the sum of Filesize
// over the user's File rows; Quota bounds it on every write path.
type User struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Quota     int64     `json:"quota"`
	UsedSpace int64     `json:"used_space"`
	IsAdmin   bool      `json:"admin"`
	CreatedAt time.Time `json:"created_at"`
}

// Headroom returns how many more bytes fit in the quota.
func (u *User) Headroom() int64 {
	if u.UsedSpace >= u.Quota {
		return 0
	}
	return u.Quota - u.UsedSpace
}
