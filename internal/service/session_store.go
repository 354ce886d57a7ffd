package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

var (
	ErrSessionNotFound = errors.New("no active refresh session")
	ErrSessionMismatch = errors.New("refresh token does not match stored session")
)

// rotateSessionLua atomically compares the stored refresh JTI against the
// presented one and swaps in the next JTI with a fresh TTL. The compare and
// the write happen in one script so two concurrent refresh calls for the
// same user cannot both win.
var rotateSessionLua = redis.NewScript(`
local cur = redis.call("GET", KEYS[1])
if not cur then
  return 0
end
if cur ~= ARGV[1] then
  return -1
end
redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[3])
return 1
`)

// SessionStore persists the single active refresh token per user. The key
// holds the JTI of the most recently issued refresh token; anything else
// presented for that user is stale.
type SessionStore struct {
	client *redis.Client
	logger *logrus.Logger
}

func NewSessionStore(client *redis.Client, logger *logrus.Logger) *SessionStore {
	return &SessionStore{
		client: client,
		logger: logger,
	}
}

func (s *SessionStore) key(userID string) string {
	return fmt.Sprintf("refresh_session:%s", userID)
}

// Replace unconditionally installs jti as the user's active refresh token,
// discarding whatever was stored before. Used on login, where the new
// session wins by definition.
func (s *SessionStore) Replace(ctx context.Context, userID, jti string, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.key(userID), jti, ttl).Err(); err != nil {
		s.logger.WithError(err).Error("Failed to store refresh session")
		return fmt.Errorf("failed to store refresh session: %w", err)
	}
	return nil
}

// Rotate swaps presentedJTI for nextJTI if and only if presentedJTI is the
// stored value. Returns ErrSessionNotFound when the user has no active
// session and ErrSessionMismatch when the presented token has been rotated
// out (replay) or superseded by a newer login.
func (s *SessionStore) Rotate(ctx context.Context, userID, presentedJTI, nextJTI string, ttl time.Duration) error {
	result, err := rotateSessionLua.Run(
		ctx,
		s.client,
		[]string{s.key(userID)},
		presentedJTI,
		nextJTI,
		strconv.FormatInt(ttl.Milliseconds(), 10),
	).Int64()
	if err != nil {
		s.logger.WithError(err).Error("Failed to rotate refresh session")
		return fmt.Errorf("failed to rotate refresh session: %w", err)
	}

	switch result {
	case 1:
		return nil
	case 0:
		return ErrSessionNotFound
	case -1:
		return ErrSessionMismatch
	default:
		return fmt.Errorf("unexpected rotate script result %d", result)
	}
}

// Clear removes the user's active refresh session, invalidating the last
// issued refresh token. Clearing an absent session is not an error.
func (s *SessionStore) Clear(ctx context.Context, userID string) error {
	if err := s.client.Del(ctx, s.key(userID)).Err(); err != nil {
		s.logger.WithError(err).Error("Failed to clear refresh session")
		return fmt.Errorf("failed to clear refresh session: %w", err)
	}
	return nil
}
