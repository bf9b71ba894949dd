package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/kue-app/backend/internal/api/response"
	"github.com/kue-app/backend/internal/logger"
	"github.com/kue-app/backend/internal/models"
)

// Context keys for authentication
type contextKey string

const (
	// UserContextKey is the context key for the authenticated user
	UserContextKey contextKey = "user"
	// ClaimsContextKey is the context key for JWT claims
	ClaimsContextKey contextKey = "claims"
)

// UserRecorder stores the identity seen in a valid token.
type UserRecorder interface {
	Upsert(ctx context.Context, id, email string) error
}

// AuthMiddleware holds dependencies for authentication middleware
type AuthMiddleware struct {
	jwtService *JWTService
	users      UserRecorder
	log        zerolog.Logger
}

// NewAuthMiddleware creates a new auth middleware. users may be nil.
func NewAuthMiddleware(jwtService *JWTService, users UserRecorder) *AuthMiddleware {
	return &AuthMiddleware{
		jwtService: jwtService,
		users:      users,
		log:        logger.Component("auth"),
	}
}

// Authenticate middleware authenticates requests via a bearer JWT
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := m.jwtService.Validate(bearerToken(r))
		if err != nil {
			writeAuthError(w, err)
			return
		}

		user := &models.User{ID: claims.UserID(), Email: claims.Email}
		if m.users != nil {
			if err := m.users.Upsert(r.Context(), user.ID, user.Email); err != nil {
				m.log.Warn().Err(err).Str("user_id", user.ID).Msg("failed to record user")
			}
		}

		ctx := context.WithValue(r.Context(), UserContextKey, user)
		ctx = context.WithValue(ctx, ClaimsContextKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// bearerToken reads the Authorization header. WebSocket upgrades may pass the
// token as the access_token query parameter since browsers cannot set headers
// on them.
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		return r.URL.Query().Get("access_token")
	}
	return ""
}

// GetUser returns the authenticated user from context
func GetUser(ctx context.Context) *models.User {
	user, ok := ctx.Value(UserContextKey).(*models.User)
	if !ok {
		return nil
	}
	return user
}

// GetUserID returns the authenticated user ID from context
func GetUserID(ctx context.Context) string {
	user := GetUser(ctx)
	if user == nil {
		return ""
	}
	return user.ID
}

// GetClaims returns the JWT claims from context
func GetClaims(ctx context.Context) *Claims {
	claims, ok := ctx.Value(ClaimsContextKey).(*Claims)
	if !ok {
		return nil
	}
	return claims
}

// WithUser returns ctx carrying user, for handlers mounted without the middleware.
func WithUser(ctx context.Context, user *models.User) context.Context {
	return context.WithValue(ctx, UserContextKey, user)
}

// writeAuthError writes an authentication error response
func writeAuthError(w http.ResponseWriter, err error) {
	message := "Authentication required"

	switch err {
	case ErrExpiredToken:
		message = "Token has expired"
	case ErrInvalidToken:
		message = "Invalid authentication token"
	case ErrTokenNotYetValid:
		message = "Token is not yet valid"
	}

	response.Unauthorized(w, message)
}
