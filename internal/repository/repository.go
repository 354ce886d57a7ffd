package repository

import (
	"context"
	"errors"

	"github.com/ntkwan/csc13114-auth-with-jwt/internal/models"
)

var (
	ErrUserExists   = errors.New("user already exists")
	ErrUserNotFound = errors.New("user not found")
)

// UserRepository is the credential store: user records keyed by id, with a
// unique email lookup. Records are created at registration and never
// hard-deleted by this service.
type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByID(ctx context.Context, id string) (*models.User, error)
}
