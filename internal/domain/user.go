package domain

import "time"

// AvatarKeys accepted profile avatars
var AvatarKeys = []string{
	"avatar-cat",
	"avatar-dog",
	"avatar-fox",
	"avatar-panda",
	"avatar-robot",
}

// IsAvatarKey reports whether key is one of AvatarKeys
func IsAvatarKey(key string) bool {
	for _, k := range AvatarKeys {
		if k == key {
			return true
		}
	}
	return false
}

type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	AvatarKey    *string   `json:"avatar_key"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"-"`
}

// SessionUser identity attached to a resolved bearer token
type SessionUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}
