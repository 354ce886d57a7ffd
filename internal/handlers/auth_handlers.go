package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/ntkwan/csc13114-auth-with-jwt/internal/middleware"
	"github.com/ntkwan/csc13114-auth-with-jwt/internal/models"
	"github.com/ntkwan/csc13114-auth-with-jwt/internal/service"
)

const minPasswordLength = 8

var emailRegexp = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

type AuthHandlers struct {
	authService *service.AuthService
	logger      *logrus.Logger
}

func NewAuthHandlers(authService *service.AuthService, logger *logrus.Logger) *AuthHandlers {
	return &AuthHandlers{
		authService: authService,
		logger:      logger,
	}
}

type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RegisterResponse struct {
	Message string            `json:"message"`
	User    models.PublicUser `json:"user"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

func (h *AuthHandlers) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body", nil)
		return
	}

	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if fields := validateCredentialsPayload(req.Email, req.Password); len(fields) > 0 {
		h.respondWithError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid registration payload", fields)
		return
	}

	user, err := h.authService.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrEmailTaken) {
			h.respondWithError(w, http.StatusConflict, "EMAIL_TAKEN", "Email is already registered", nil)
			return
		}
		h.logger.WithError(err).Error("Registration failed")
		h.respondWithError(w, http.StatusInternalServerError, "REGISTRATION_FAILED", "Failed to register user", nil)
		return
	}

	h.respondWithJSON(w, http.StatusCreated, RegisterResponse{
		Message: "User registered successfully",
		User:    user.PublicWithCreatedAt(),
	})
}

func (h *AuthHandlers) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body", nil)
		return
	}

	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if fields := validateCredentialsPayload(req.Email, req.Password); len(fields) > 0 {
		h.respondWithError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid login payload", fields)
		return
	}

	// Credential gate: Login below trusts the user only because this check
	// passed.
	user, err := h.authService.ValidateCredentials(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			h.respondWithError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil)
			return
		}
		h.logger.WithError(err).Error("Credential validation failed")
		h.respondWithError(w, http.StatusInternalServerError, "LOGIN_FAILED", "Failed to log in", nil)
		return
	}

	result, err := h.authService.Login(r.Context(), user)
	if err != nil {
		h.logger.WithError(err).Error("Login failed")
		h.respondWithError(w, http.StatusInternalServerError, "LOGIN_FAILED", "Failed to log in", nil)
		return
	}

	h.respondWithJSON(w, http.StatusOK, result)
}

func (h *AuthHandlers) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body", nil)
		return
	}
	if req.RefreshToken == "" {
		h.respondWithError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid refresh payload",
			map[string]string{"refreshToken": "refresh token is required"})
		return
	}

	pair, err := h.authService.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		// Deliberately one generic outcome for every refresh failure.
		h.respondWithError(w, http.StatusForbidden, "ACCESS_DENIED", "Access denied", nil)
		return
	}

	h.respondWithJSON(w, http.StatusOK, pair)
}

func (h *AuthHandlers) Logout(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		h.respondWithError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid token", nil)
		return
	}

	if err := h.authService.Logout(r.Context(), claims.Subject); err != nil {
		h.logger.WithError(err).Error("Logout failed")
		h.respondWithError(w, http.StatusInternalServerError, "LOGOUT_FAILED", "Failed to log out", nil)
		return
	}

	h.respondWithJSON(w, http.StatusOK, MessageResponse{Message: "Logged out successfully"})
}

func (h *AuthHandlers) Profile(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		h.respondWithError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid token", nil)
		return
	}

	h.respondWithJSON(w, http.StatusOK, h.authService.Profile(claims))
}

func validateCredentialsPayload(email, password string) map[string]string {
	fields := make(map[string]string)
	if email == "" {
		fields["email"] = "email is required"
	} else if !emailRegexp.MatchString(email) {
		fields["email"] = "email format is invalid"
	}
	if password == "" {
		fields["password"] = "password is required"
	} else if len(password) < minPasswordLength {
		fields["password"] = "password must be at least 8 characters"
	}
	return fields
}

func (h *AuthHandlers) respondWithJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func (h *AuthHandlers) respondWithError(w http.ResponseWriter, status int, code, message string, fields map[string]string) {
	h.respondWithJSON(w, status, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
			Fields:  fields,
		},
	})
}
