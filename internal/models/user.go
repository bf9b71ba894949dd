package models

import (
	"time"
)

// User is the local record of an identity issued by the auth provider.
// It exists so payment events carrying only an email can be matched to a user.
type User struct {
	ID        string    `json:"id" db:"id"`
	Email     string    `json:"email" db:"email"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
