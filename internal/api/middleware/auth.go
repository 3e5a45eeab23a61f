package middleware

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/phrazzld/cutout/internal/api/shared"
	"github.com/phrazzld/cutout/internal/platform/logger"
)

// Token validation errors.
var (
	// ErrInvalidToken is returned for malformed, unsigned or subject-less tokens.
	ErrInvalidToken = errors.New("invalid token")

	// ErrExpiredToken is returned for tokens past their expiry.
	ErrExpiredToken = errors.New("token expired")
)

// DefaultClockSkew is the leeway applied to time-based claims.
const DefaultClockSkew = 30 * time.Second

// AuthMiddleware guards routes with HS256 bearer tokens.
type AuthMiddleware struct {
	signingKey []byte
	clockSkew  time.Duration
	logger     *slog.Logger

	// timeFunc returns the current time; tests override it.
	timeFunc func() time.Time
}

// NewAuthMiddleware creates an AuthMiddleware that accepts tokens signed
// with secret.
func NewAuthMiddleware(secret string, logger *slog.Logger) *AuthMiddleware {
	if secret == "" {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("jwt secret cannot be empty")
	}
	return &AuthMiddleware{
		signingKey: []byte(secret),
		clockSkew:  DefaultClockSkew,
		logger:     logger.With("component", "auth_middleware"),
		timeFunc:   time.Now,
	}
}

// ValidateToken parses tokenString and returns its subject.
func (m *AuthMiddleware) ValidateToken(tokenString string) (string, error) {
	now := m.timeFunc()

	token, err := jwt.ParseWithClaims(
		tokenString,
		&jwt.RegisteredClaims{},
		func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return m.signingKey, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
		jwt.WithLeeway(m.clockSkew),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredToken
		}
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || !token.Valid || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

// Authenticate validates the bearer token from the Authorization header and
// adds its subject to the request context.
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			shared.RespondWithError(w, r, http.StatusUnauthorized, "Authorization header required")
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			shared.RespondWithError(w, r, http.StatusUnauthorized, "Invalid authorization format")
			return
		}

		subject, err := m.ValidateToken(parts[1])
		if err != nil {
			// Rejected tokens log at WARN.
			ctx := logger.WithLogger(r.Context(), logger.FromContextOrDefault(r.Context(), m.logger))
			message := "Invalid token"
			if errors.Is(err, ErrExpiredToken) {
				message = "Token expired"
			}
			shared.RespondWithErrorAndLog(w, r.WithContext(ctx), http.StatusUnauthorized, message, err,
				shared.WithElevatedLogLevel())
			return
		}

		next.ServeHTTP(w, r.WithContext(shared.WithSubject(r.Context(), subject)))
	})
}
