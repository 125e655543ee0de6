// Package middleware provides HTTP middleware for the API.
package middleware

import (
	"context"
	"net/http"
	"strings"

	apperr "github.com/R3E-Network/cosmicminer/internal/errors"
	"github.com/R3E-Network/cosmicminer/internal/httputil"
	"github.com/R3E-Network/cosmicminer/pkg/logger"
)

type contextKey string

const userIDKey contextKey = "user_id"

// TokenValidator resolves a bearer token to an account id.
type TokenValidator interface {
	Validate(token string) (string, error)
}

// AuthMiddleware requires a valid bearer token on every request outside the
// public paths and stores the caller's account id in the request context.
type AuthMiddleware struct {
	tokens       TokenValidator
	logger       *logger.Logger
	skipPaths    map[string]bool
	skipPrefixes []string
}

// NewAuthMiddleware creates the middleware. Paths ending in "/" skip every
// path below them.
func NewAuthMiddleware(tokens TokenValidator, log *logger.Logger, skipPaths []string) *AuthMiddleware {
	if log == nil {
		log = logger.NewDefault("auth")
	}
	m := &AuthMiddleware{
		tokens:    tokens,
		logger:    log,
		skipPaths: make(map[string]bool),
	}
	for _, path := range skipPaths {
		if strings.HasSuffix(path, "/") {
			m.skipPrefixes = append(m.skipPrefixes, path)
			continue
		}
		m.skipPaths[path] = true
	}
	return m
}

// Handler returns the middleware handler.
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || m.skip(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			m.respondError(w, r, apperr.Unauthorized("missing Authorization header"))
			return
		}
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
			m.respondError(w, r, apperr.Unauthorized("invalid Authorization header format"))
			return
		}

		userID, err := m.tokens.Validate(strings.TrimSpace(parts[1]))
		if err != nil {
			m.respondError(w, r, apperr.InvalidToken(err))
			return
		}

		m.logger.WithField("user_id", userID).WithField("path", r.URL.Path).Debug("authentication successful")
		next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
	})
}

func (m *AuthMiddleware) skip(path string) bool {
	if m.skipPaths[path] {
		return true
	}
	for _, prefix := range m.skipPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func (m *AuthMiddleware) respondError(w http.ResponseWriter, r *http.Request, err error) {
	httputil.WriteError(w, err)
	m.logger.WithError(err).
		WithField("path", r.URL.Path).
		WithField("method", r.Method).
		Warn("authentication failed")
}

// WithUserID stores the caller's account id in ctx.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// GetUserID extracts the caller's account id from ctx.
func GetUserID(ctx context.Context) string {
	if v, ok := ctx.Value(userIDKey).(string); ok {
		return v
	}
	return ""
}

// RequireUserID rejects requests that reached it without an authenticated
// caller.
func RequireUserID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetUserID(r.Context()) == "" {
			httputil.WriteError(w, apperr.Unauthorized(""))
			return
		}
		next.ServeHTTP(w, r)
	})
}
