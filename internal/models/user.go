// Package models defines the blog's persisted entities and paging types.
package models

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// User is a registered account.
type User struct {
	ID                  int64     `json:"id" db:"id"`
	Username            string    `json:"username" db:"username"`
	Email               string    `json:"email" db:"email"`
	AboutMe             string    `json:"about_me" db:"about_me"`
	LastSeen            time.Time `json:"last_seen" db:"last_seen"`
	LastMessageReadTime time.Time `json:"last_message_read_time" db:"last_message_read_time"`
}

// Avatar returns the gravatar identicon URL for the user's email at size pixels.
func (u *User) Avatar(size int) string {
	sum := md5.Sum([]byte(strings.ToLower(u.Email)))
	return fmt.Sprintf("https://www.gravatar.com/avatar/%s?d=identicon&s=%d", hex.EncodeToString(sum[:]), size)
}

// Follow is a follower edge: FollowerID follows FollowedID.
type Follow struct {
	FollowerID int64 `json:"follower_id" db:"follower_id"`
	FollowedID int64 `json:"followed_id" db:"followed_id"`
}
