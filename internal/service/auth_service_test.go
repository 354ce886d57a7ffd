package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/ntkwan/csc13114-auth-with-jwt/internal/config"
	"github.com/ntkwan/csc13114-auth-with-jwt/internal/repository"
)

func newTestAuthService(t *testing.T) *AuthService {
	t.Helper()

	m, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(m.Close)

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	tokens, err := NewTokenService(&config.JWTConfig{
		AccessSecret:  "test-access-secret",
		RefreshSecret: "test-refresh-secret",
		AccessExpiry:  15 * time.Minute,
		RefreshExpiry: 7 * 24 * time.Hour,
	}, logger)
	require.NoError(t, err)

	sessions := NewSessionStore(redis.NewClient(&redis.Options{Addr: m.Addr()}), logger)
	return NewAuthService(tokens, sessions, repository.NewMemoryUserRepository(), logger)
}

func TestAuthService_RegisterAndValidateCredentials(t *testing.T) {
	svc := newTestAuthService(t)
	ctx := context.Background()

	user, err := svc.Register(ctx, "alice@example.com", "secret-password-1")
	require.NoError(t, err)
	require.NotEmpty(t, user.ID)
	require.Equal(t, "alice@example.com", user.Email)
	require.NotEqual(t, "secret-password-1", user.PasswordHash)

	got, err := svc.ValidateCredentials(ctx, "alice@example.com", "secret-password-1")
	require.NoError(t, err)
	require.Equal(t, user.ID, got.ID)

	_, err = svc.ValidateCredentials(ctx, "alice@example.com", "wrong-password")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	// Unknown email and wrong password are indistinguishable.
	_, err = svc.ValidateCredentials(ctx, "nobody@example.com", "secret-password-1")
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestAuthService_RegisterDuplicateEmail(t *testing.T) {
	svc := newTestAuthService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, "alice@example.com", "secret-password-1")
	require.NoError(t, err)

	_, err = svc.Register(ctx, "alice@example.com", "another-password")
	require.ErrorIs(t, err, ErrEmailTaken)

	// The original password still works.
	_, err = svc.ValidateCredentials(ctx, "alice@example.com", "secret-password-1")
	require.NoError(t, err)
}

func TestAuthService_RefreshRotates(t *testing.T) {
	svc := newTestAuthService(t)
	ctx := context.Background()

	user, err := svc.Register(ctx, "alice@example.com", "secret-password-1")
	require.NoError(t, err)

	login, err := svc.Login(ctx, user)
	require.NoError(t, err)
	require.NotEmpty(t, login.AccessToken)
	require.NotEmpty(t, login.RefreshToken)

	pair, err := svc.Refresh(ctx, login.RefreshToken)
	require.NoError(t, err)
	require.NotEqual(t, login.RefreshToken, pair.RefreshToken)
}

func TestAuthService_RefreshReplayDenied(t *testing.T) {
	svc := newTestAuthService(t)
	ctx := context.Background()

	user, err := svc.Register(ctx, "alice@example.com", "secret-password-1")
	require.NoError(t, err)
	login, err := svc.Login(ctx, user)
	require.NoError(t, err)

	_, err = svc.Refresh(ctx, login.RefreshToken)
	require.NoError(t, err)

	// The signature of the first refresh token still verifies and it has
	// not expired, but it has been rotated out.
	_, err = svc.Refresh(ctx, login.RefreshToken)
	require.ErrorIs(t, err, ErrAccessDenied)
}

func TestAuthService_RefreshAfterLogoutDenied(t *testing.T) {
	svc := newTestAuthService(t)
	ctx := context.Background()

	user, err := svc.Register(ctx, "alice@example.com", "secret-password-1")
	require.NoError(t, err)
	login, err := svc.Login(ctx, user)
	require.NoError(t, err)

	require.NoError(t, svc.Logout(ctx, user.ID))

	_, err = svc.Refresh(ctx, login.RefreshToken)
	require.ErrorIs(t, err, ErrAccessDenied)
}

func TestAuthService_RefreshGarbageDenied(t *testing.T) {
	svc := newTestAuthService(t)

	_, err := svc.Refresh(context.Background(), "not-a-token")
	require.ErrorIs(t, err, ErrAccessDenied)
}

func TestAuthService_LoginSupersedesPreviousSession(t *testing.T) {
	svc := newTestAuthService(t)
	ctx := context.Background()

	user, err := svc.Register(ctx, "alice@example.com", "secret-password-1")
	require.NoError(t, err)

	first, err := svc.Login(ctx, user)
	require.NoError(t, err)
	second, err := svc.Login(ctx, user)
	require.NoError(t, err)

	// Only the most recently issued refresh token is accepted.
	_, err = svc.Refresh(ctx, first.RefreshToken)
	require.ErrorIs(t, err, ErrAccessDenied)

	_, err = svc.Refresh(ctx, second.RefreshToken)
	require.NoError(t, err)
}

func TestAuthService_ConcurrentRefreshSingleWinner(t *testing.T) {
	svc := newTestAuthService(t)
	ctx := context.Background()

	user, err := svc.Register(ctx, "alice@example.com", "secret-password-1")
	require.NoError(t, err)
	login, err := svc.Login(ctx, user)
	require.NoError(t, err)

	const n = 16
	var wg sync.WaitGroup
	wg.Add(n)
	results := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, err := svc.Refresh(ctx, login.RefreshToken)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	success := 0
	denied := 0
	for err := range results {
		if err == nil {
			success++
			continue
		}
		require.ErrorIs(t, err, ErrAccessDenied)
		denied++
	}

	require.Equal(t, 1, success, "exactly one concurrent refresh must win")
	require.Equal(t, n-1, denied)
}

func TestAuthService_Profile(t *testing.T) {
	svc := newTestAuthService(t)

	got := svc.Profile(&Claims{
		Email:            "alice@example.com",
		RegisteredClaims: jwt.RegisteredClaims{Subject: "user-1"},
	})
	require.Equal(t, "user-1", got.ID)
	require.Equal(t, "alice@example.com", got.Email)
	require.Nil(t, got.CreatedAt)
}
