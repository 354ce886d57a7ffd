package models

import (
	"time"
)

type User struct {
	ID           string    `json:"id" dynamodbav:"id"`
	Email        string    `json:"email" dynamodbav:"email"`
	PasswordHash string    `json:"-" dynamodbav:"password_hash"`
	CreatedAt    time.Time `json:"created_at" dynamodbav:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" dynamodbav:"updated_at"`
}

// PublicUser is the projection returned to clients; it never carries the
// password hash.
type PublicUser struct {
	ID        string     `json:"id"`
	Email     string     `json:"email"`
	CreatedAt *time.Time `json:"createdAt,omitempty"`
}

func (u *User) Public() PublicUser {
	return PublicUser{ID: u.ID, Email: u.Email}
}

// PublicWithCreatedAt is the registration-response projection, which also
// exposes the creation timestamp.
func (u *User) PublicWithCreatedAt() PublicUser {
	createdAt := u.CreatedAt
	return PublicUser{ID: u.ID, Email: u.Email, CreatedAt: &createdAt}
}

func (u *User) GetPK() string {
	return "USER#" + u.ID
}

func (u *User) GetSK() string {
	return "METADATA"
}

// EmailIndexPK returns the partition key of the email lookup item that
// enforces email uniqueness and maps an email to its user ID.
func EmailIndexPK(email string) string {
	return "EMAIL#" + email
}
