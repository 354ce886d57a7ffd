package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/ntkwan/csc13114-auth-with-jwt/internal/models"
	"github.com/ntkwan/csc13114-auth-with-jwt/internal/repository"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrEmailTaken         = errors.New("email already registered")

	// ErrAccessDenied is the single outcome for every refresh failure:
	// bad signature, expired token, unknown subject, rotated-out token.
	// Callers cannot tell which check failed, so a forged token leaks
	// nothing about what was wrong with it.
	ErrAccessDenied = errors.New("access denied")
)

// AuthService orchestrates login, refresh and logout against the token
// service and the stores. It owns the single-active-refresh-token-per-user
// invariant: issuing a refresh token always overwrites the stored one.
type AuthService struct {
	tokens   *TokenService
	sessions *SessionStore
	users    repository.UserRepository
	logger   *logrus.Logger
}

func NewAuthService(tokens *TokenService, sessions *SessionStore, users repository.UserRepository, logger *logrus.Logger) *AuthService {
	return &AuthService{
		tokens:   tokens,
		sessions: sessions,
		users:    users,
		logger:   logger,
	}
}

type LoginResult struct {
	models.TokenPair
	User models.PublicUser `json:"user"`
}

// Register creates a new user with a bcrypt password hash.
func (s *AuthService) Register(ctx context.Context, email, password string) (*models.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &models.User{
		ID:           uuid.New().String(),
		Email:        email,
		PasswordHash: string(hash),
	}

	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrUserExists) {
			return nil, ErrEmailTaken
		}
		s.logger.WithError(err).Error("Failed to create user")
		return nil, err
	}

	s.logger.WithField("user_id", user.ID).Info("User registered")
	return user, nil
}

// ValidateCredentials looks up the user by email and compares the password
// against the stored hash. Unknown email and wrong password are
// indistinguishable to the caller.
func (s *AuthService) ValidateCredentials(ctx context.Context, email, password string) (*models.User, error) {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	return user, nil
}

// Login issues a fresh token pair and installs the refresh token as the
// user's only active one, discarding any prior session. The caller must have
// validated credentials first.
func (s *AuthService) Login(ctx context.Context, user *models.User) (*LoginResult, error) {
	access, _, err := s.tokens.IssueAccessToken(user)
	if err != nil {
		return nil, err
	}
	refresh, refreshClaims, err := s.tokens.IssueRefreshToken(user)
	if err != nil {
		return nil, err
	}

	if err := s.sessions.Replace(ctx, user.ID, refreshClaims.ID, s.tokens.RefreshExpiry()); err != nil {
		return nil, err
	}

	return &LoginResult{
		TokenPair: models.TokenPair{AccessToken: access, RefreshToken: refresh},
		User:      user.Public(),
	}, nil
}

// Refresh exchanges a refresh token for a new pair, rotating the stored
// session so the presented token cannot be used again. Any failure collapses
// to ErrAccessDenied.
func (s *AuthService) Refresh(ctx context.Context, presented string) (*models.TokenPair, error) {
	claims, err := s.tokens.VerifyRefreshToken(presented)
	if err != nil {
		return nil, ErrAccessDenied
	}

	user, err := s.users.GetByID(ctx, claims.Subject)
	if err != nil {
		if !errors.Is(err, repository.ErrUserNotFound) {
			s.logger.WithError(err).Error("User lookup failed during refresh")
		}
		return nil, ErrAccessDenied
	}

	access, _, err := s.tokens.IssueAccessToken(user)
	if err != nil {
		return nil, ErrAccessDenied
	}
	refresh, refreshClaims, err := s.tokens.IssueRefreshToken(user)
	if err != nil {
		return nil, ErrAccessDenied
	}

	// Atomic compare-and-swap: only the holder of the stored JTI rotates.
	// A replayed token fails here even though its signature still verifies.
	if err := s.sessions.Rotate(ctx, user.ID, claims.ID, refreshClaims.ID, s.tokens.RefreshExpiry()); err != nil {
		if errors.Is(err, ErrSessionMismatch) {
			s.logger.WithField("user_id", user.ID).Warn("Refresh token replay detected")
		} else if !errors.Is(err, ErrSessionNotFound) {
			s.logger.WithError(err).Error("Session rotation failed")
		}
		return nil, ErrAccessDenied
	}

	return &models.TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// Logout invalidates the user's active refresh token.
func (s *AuthService) Logout(ctx context.Context, userID string) error {
	if err := s.sessions.Clear(ctx, userID); err != nil {
		return err
	}
	s.logger.WithField("user_id", userID).Info("User logged out")
	return nil
}

// Profile projects the public user straight from verified access-token
// claims; it never touches storage.
func (s *AuthService) Profile(claims *Claims) models.PublicUser {
	return models.PublicUser{ID: claims.Subject, Email: claims.Email}
}
