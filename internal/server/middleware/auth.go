package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"authsessions/backend/internal/security"
	"authsessions/backend/internal/server/respond"
	userdomain "authsessions/backend/internal/user/domain"
)

const bearerPrefix = "bearer "

// AccessValidator verifies access tokens.
type AccessValidator interface {
	ValidateAccess(token string) (*security.Claims, error)
}

// UserLookup loads the identity named by a token subject. Returns (nil, nil) when the user is gone.
type UserLookup interface {
	GetByID(ctx context.Context, id string) (*userdomain.User, error)
}

// Authenticate requires a valid Bearer access token whose subject still exists,
// and stores the caller's identity in the request context.
func Authenticate(tokens AccessValidator, users UserLookup) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := ExtractBearer(c.Request)
		if token == "" {
			respond.Abort(c, http.StatusUnauthorized, "Unauthorized")
			return
		}
		claims, err := tokens.ValidateAccess(token)
		if err != nil {
			respond.Abort(c, http.StatusUnauthorized, "Unauthorized")
			return
		}
		ctx := c.Request.Context()
		user, err := users.GetByID(ctx, claims.UserID())
		if err != nil {
			log.Ctx(ctx).Error().Err(err).Msg("auth: identity lookup failed")
			respond.Abort(c, http.StatusInternalServerError, "Internal server error")
			return
		}
		if user == nil || user.Status != userdomain.UserStatusActive {
			respond.Abort(c, http.StatusUnauthorized, "User not found")
			return
		}
		c.Request = c.Request.WithContext(WithIdentity(ctx, user.ID, user.Email, user.Role))
		c.Next()
	}
}

// ExtractBearer returns the Bearer token from the Authorization header, or "" if missing or malformed.
func ExtractBearer(r *http.Request) string {
	v := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(v) < len(bearerPrefix) {
		return ""
	}
	if !strings.EqualFold(v[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(v[len(bearerPrefix):])
}
