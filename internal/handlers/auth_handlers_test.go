package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/ntkwan/csc13114-auth-with-jwt/internal/config"
	"github.com/ntkwan/csc13114-auth-with-jwt/internal/middleware"
	"github.com/ntkwan/csc13114-auth-with-jwt/internal/repository"
	"github.com/ntkwan/csc13114-auth-with-jwt/internal/service"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	m, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(m.Close)

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	tokens, err := service.NewTokenService(&config.JWTConfig{
		AccessSecret:  "test-access-secret",
		RefreshSecret: "test-refresh-secret",
		AccessExpiry:  15 * time.Minute,
		RefreshExpiry: 7 * 24 * time.Hour,
	}, logger)
	require.NoError(t, err)

	sessions := service.NewSessionStore(redis.NewClient(&redis.Options{Addr: m.Addr()}), logger)
	authService := service.NewAuthService(tokens, sessions, repository.NewMemoryUserRepository(), logger)

	router := mux.NewRouter()
	router.Use(middleware.CORSMiddleware)
	NewAuthHandlers(authService, logger).Routes(router, middleware.NewAuthMiddleware(tokens, logger))

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url, bearer string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(http.MethodPost, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	var decoded map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func TestEndToEndFlow(t *testing.T) {
	srv := newTestServer(t)

	// Register.
	resp, body := postJSON(t, srv.URL+"/user/register", "", map[string]string{
		"email":    "alice@example.com",
		"password": "secret-password-1",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Equal(t, "User registered successfully", body["message"])
	registered := body["user"].(map[string]interface{})
	require.Equal(t, "alice@example.com", registered["email"])
	require.NotEmpty(t, registered["id"])
	require.NotEmpty(t, registered["createdAt"])

	// Login.
	resp, body = postJSON(t, srv.URL+"/auth/login", "", map[string]string{
		"email":    "alice@example.com",
		"password": "secret-password-1",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	access := body["accessToken"].(string)
	refresh := body["refreshToken"].(string)
	require.NotEmpty(t, access)
	require.NotEmpty(t, refresh)
	loginUser := body["user"].(map[string]interface{})
	require.Equal(t, "alice@example.com", loginUser["email"])

	// Profile with the access token.
	resp, body = postJSON(t, srv.URL+"/auth/profile", access, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "alice@example.com", body["email"])
	require.Equal(t, registered["id"], body["id"])

	// Logout.
	resp, body = postJSON(t, srv.URL+"/auth/logout", access, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "Logged out successfully", body["message"])

	// The last-issued refresh token is now stale.
	resp, body = postJSON(t, srv.URL+"/auth/refresh", "", map[string]string{
		"refreshToken": refresh,
	})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	errDetail := body["error"].(map[string]interface{})
	require.Equal(t, "ACCESS_DENIED", errDetail["code"])
}

func TestRefreshRotationOverHTTP(t *testing.T) {
	srv := newTestServer(t)

	resp, _ := postJSON(t, srv.URL+"/user/register", "", map[string]string{
		"email": "alice@example.com", "password": "secret-password-1",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body := postJSON(t, srv.URL+"/auth/login", "", map[string]string{
		"email": "alice@example.com", "password": "secret-password-1",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	refresh := body["refreshToken"].(string)

	resp, body = postJSON(t, srv.URL+"/auth/refresh", "", map[string]string{"refreshToken": refresh})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	rotated := body["refreshToken"].(string)
	require.NotEqual(t, refresh, rotated)

	// Replaying the first token is denied with the same opaque outcome as
	// any other refresh failure.
	resp, body = postJSON(t, srv.URL+"/auth/refresh", "", map[string]string{"refreshToken": refresh})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	errDetail := body["error"].(map[string]interface{})
	require.Equal(t, "ACCESS_DENIED", errDetail["code"])
	require.Equal(t, "Access denied", errDetail["message"])
}

func TestRegisterValidation(t *testing.T) {
	srv := newTestServer(t)

	resp, body := postJSON(t, srv.URL+"/user/register", "", map[string]string{
		"email":    "not-an-email",
		"password": "short",
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	errDetail := body["error"].(map[string]interface{})
	require.Equal(t, "VALIDATION_ERROR", errDetail["code"])
	fields := errDetail["fields"].(map[string]interface{})
	require.Contains(t, fields, "email")
	require.Contains(t, fields, "password")
}

func TestRegisterDuplicateEmail(t *testing.T) {
	srv := newTestServer(t)

	resp, _ := postJSON(t, srv.URL+"/user/register", "", map[string]string{
		"email": "alice@example.com", "password": "secret-password-1",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body := postJSON(t, srv.URL+"/user/register", "", map[string]string{
		"email": "alice@example.com", "password": "another-password",
	})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	errDetail := body["error"].(map[string]interface{})
	require.Equal(t, "EMAIL_TAKEN", errDetail["code"])
}

func TestLoginWrongPassword(t *testing.T) {
	srv := newTestServer(t)

	resp, _ := postJSON(t, srv.URL+"/user/register", "", map[string]string{
		"email": "alice@example.com", "password": "secret-password-1",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body := postJSON(t, srv.URL+"/auth/login", "", map[string]string{
		"email": "alice@example.com", "password": "wrong-password-1",
	})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	errDetail := body["error"].(map[string]interface{})
	require.Equal(t, "INVALID_CREDENTIALS", errDetail["code"])
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	srv := newTestServer(t)

	for _, path := range []string{"/auth/profile", "/auth/logout"} {
		resp, body := postJSON(t, srv.URL+path, "", nil)
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode, path)
		errDetail := body["error"].(map[string]interface{})
		require.Equal(t, "UNAUTHORIZED", errDetail["code"])
	}
}

func TestPreflightOnProtectedRoutes(t *testing.T) {
	srv := newTestServer(t)

	// A browser preflight carries no Authorization header; it must get the
	// CORS answer, not a 401 or 405.
	for _, path := range []string{"/auth/profile", "/auth/logout"} {
		req, err := http.NewRequest(http.MethodOptions, srv.URL+path, nil)
		require.NoError(t, err)
		req.Header.Set("Origin", "http://localhost:3000")
		req.Header.Set("Access-Control-Request-Method", "POST")

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()

		require.Equal(t, http.StatusNoContent, resp.StatusCode, path)
		require.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"), path)
		require.Contains(t, resp.Header.Get("Access-Control-Allow-Headers"), "Authorization", path)
	}
}

func TestRefreshMissingToken(t *testing.T) {
	srv := newTestServer(t)

	resp, body := postJSON(t, srv.URL+"/auth/refresh", "", map[string]string{})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	errDetail := body["error"].(map[string]interface{})
	require.Equal(t, "VALIDATION_ERROR", errDetail["code"])
}
