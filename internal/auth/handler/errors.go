package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"authsessions/backend/internal/auth/service"
	"authsessions/backend/internal/server/respond"
)

// errorResponses maps specific service errors to status and client message. Checked in order.
var errorResponses = []struct {
	err     error
	status  int
	message string
}{
	{service.ErrEmailTaken, http.StatusConflict, "Email already exists"},
	{service.ErrUsernameTaken, http.StatusConflict, "Username already exists"},
	{service.ErrInvalidCredentials, http.StatusUnauthorized, "Invalid credentials"},
	{service.ErrInvalidRefreshToken, http.StatusUnauthorized, "Invalid refresh token"},
	{service.ErrSessionNotFound, http.StatusUnauthorized, "Session not found"},
	{service.ErrIdentityNotFound, http.StatusUnauthorized, "User not found"},
	{service.ErrUnauthorized, http.StatusUnauthorized, "Unauthorized"},
	{service.ErrNotFound, http.StatusUnauthorized, "Unauthorized"},
	{service.ErrConflict, http.StatusConflict, "Conflict"},
}

// writeError maps err to a response. Unmapped errors are logged and reported as a bare 500.
func writeError(c *gin.Context, err error) {
	var ve *service.ValidationError
	if errors.As(err, &ve) {
		respond.Error(c, http.StatusBadRequest, ve.Message)
		return
	}
	for _, e := range errorResponses {
		if errors.Is(err, e.err) {
			respond.Error(c, e.status, e.message)
			return
		}
	}
	log.Ctx(c.Request.Context()).Error().Err(err).Msg("auth: request failed")
	respond.Error(c, http.StatusInternalServerError, "Internal server error")
}
