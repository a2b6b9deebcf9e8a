// Package rbac guards routes by the caller's role. A route lists the roles it accepts
// and the caller passes if their single role is one of them.
package rbac

import (
	"context"
	"errors"
	"net/http"
	"slices"

	"github.com/gin-gonic/gin"

	"authsessions/backend/internal/server/middleware"
	"authsessions/backend/internal/server/respond"
	userdomain "authsessions/backend/internal/user/domain"
)

var (
	// ErrUnauthenticated is returned when the context carries no authenticated user.
	ErrUnauthenticated = errors.New("rbac: authentication required")
	// ErrForbidden is returned when the caller's role is not among the allowed roles.
	ErrForbidden = errors.New("rbac: insufficient role")
)

// RequireRole ensures the caller is authenticated and holds one of allowed.
// An empty allowed list admits any authenticated caller. Returns the caller's user id.
func RequireRole(ctx context.Context, allowed ...userdomain.Role) (userID string, err error) {
	userID, ok := middleware.GetUserID(ctx)
	if !ok || userID == "" {
		return "", ErrUnauthenticated
	}
	if len(allowed) == 0 {
		return userID, nil
	}
	role, _ := middleware.GetRole(ctx)
	if !slices.Contains(allowed, role) {
		return "", ErrForbidden
	}
	return userID, nil
}

// Roles responds 401 or 403 unless RequireRole passes. It must run after
// middleware.Authenticate.
func Roles(allowed ...userdomain.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, err := RequireRole(c.Request.Context(), allowed...); err != nil {
			if errors.Is(err, ErrForbidden) {
				respond.Abort(c, http.StatusForbidden, "Forbidden resource")
				return
			}
			respond.Abort(c, http.StatusUnauthorized, "Unauthorized")
			return
		}
		c.Next()
	}
}
