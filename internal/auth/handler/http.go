// Package handler exposes the auth service over HTTP: register, login, refresh, logout and session listing.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"authsessions/backend/internal/auth/service"
	"authsessions/backend/internal/server/middleware"
	"authsessions/backend/internal/server/respond"
	"authsessions/backend/internal/session/device"
	userdomain "authsessions/backend/internal/user/domain"
)

const maxBodyBytes = 1 << 20

// AuthService is the subset of the auth service the handlers call.
type AuthService interface {
	Register(ctx context.Context, in service.RegisterInput, dev device.Info) (*service.AuthResult, error)
	Login(ctx context.Context, email, password string, dev device.Info) (*service.AuthResult, error)
	Refresh(ctx context.Context, refreshToken string) (*service.RefreshResult, error)
	Logout(ctx context.Context, refreshToken string) error
	LogoutAll(ctx context.Context, userID string) error
	ListSessions(ctx context.Context, userID string) ([]service.SessionView, error)
	SessionDetails(ctx context.Context, refreshToken string) (*service.SessionView, error)
	CurrentUser(ctx context.Context, userID string) (*userdomain.User, error)
	CheckUsername(ctx context.Context, username string) (bool, error)
	CheckEmail(ctx context.Context, email string) (bool, error)
}

// Handler serves the auth routes.
type Handler struct {
	svc    AuthService
	cookie CookieConfig
}

// NewHandler returns a Handler over svc.
func NewHandler(svc AuthService, cookie CookieConfig) *Handler {
	return &Handler{svc: svc, cookie: cookie}
}

// UserView is the client-facing form of a user. It never carries the password hash.
type UserView struct {
	ID             string `json:"id"`
	Email          string `json:"email"`
	Username       string `json:"username"`
	FullName       string `json:"fullName,omitempty"`
	Role           string `json:"role"`
	ProfilePicture string `json:"profilePicture,omitempty"`
	Status         string `json:"status"`
	PhoneNumber    string `json:"phoneNumber,omitempty"`
}

func newUserView(u *userdomain.User) UserView {
	return UserView{
		ID:             u.ID,
		Email:          u.Email,
		Username:       u.Username,
		FullName:       u.FullName,
		Role:           string(u.Role),
		ProfilePicture: u.ProfilePicture,
		Status:         string(u.Status),
		PhoneNumber:    u.PhoneNumber,
	}
}

type registerRequest struct {
	Username       string `json:"username"`
	Email          string `json:"email"`
	Password       string `json:"password"`
	FullName       string `json:"fullName"`
	ProfilePicture string `json:"profilePicture"`
	PhoneNumber    string `json:"phoneNumber"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authData struct {
	User                 UserView  `json:"user"`
	AccessToken          string    `json:"accessToken"`
	AccessTokenExpiresAt time.Time `json:"accessTokenExpiresAt"`
}

// Register handles POST /auth/register.
func (h *Handler) Register(c *gin.Context) {
	var req registerRequest
	if !bindJSON(c, &req) {
		return
	}
	res, err := h.svc.Register(c.Request.Context(), service.RegisterInput{
		Username:       req.Username,
		Email:          req.Email,
		Password:       req.Password,
		FullName:       req.FullName,
		ProfilePicture: req.ProfilePicture,
		PhoneNumber:    req.PhoneNumber,
	}, device.FromRequest(c.Request))
	if err != nil {
		writeError(c, err)
		return
	}
	h.cookie.set(c, res.RefreshToken)
	respond.OK(c, "Register Success", authData{
		User:                 newUserView(res.User),
		AccessToken:          res.AccessToken,
		AccessTokenExpiresAt: res.AccessExpiresAt,
	})
}

// Login handles POST /auth/login.
func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if !bindJSON(c, &req) {
		return
	}
	if req.Email == "" || req.Password == "" {
		respond.Error(c, http.StatusBadRequest, "email and password are required")
		return
	}
	res, err := h.svc.Login(c.Request.Context(), req.Email, req.Password, device.FromRequest(c.Request))
	if err != nil {
		writeError(c, err)
		return
	}
	h.cookie.set(c, res.RefreshToken)
	respond.OK(c, "Login Success", authData{
		User:                 newUserView(res.User),
		AccessToken:          res.AccessToken,
		AccessTokenExpiresAt: res.AccessExpiresAt,
	})
}

// Refresh handles GET /auth/refresh. The refresh cookie is left as is.
func (h *Handler) Refresh(c *gin.Context) {
	token := refreshFromCookie(c)
	if token == "" {
		respond.Error(c, http.StatusUnauthorized, "Refresh token not found")
		return
	}
	res, err := h.svc.Refresh(c.Request.Context(), token)
	if err != nil {
		writeError(c, err)
		return
	}
	respond.OK(c, "Refresh token success", gin.H{
		"accessToken":          res.AccessToken,
		"accessTokenExpiresAt": res.AccessExpiresAt,
	})
}

// Logout handles POST /auth/logout. Requires a bearer token and the refresh cookie.
func (h *Handler) Logout(c *gin.Context) {
	token := refreshFromCookie(c)
	if token == "" {
		respond.Error(c, http.StatusUnauthorized, "Refresh token not found")
		return
	}
	if err := h.svc.Logout(c.Request.Context(), token); err != nil {
		writeError(c, err)
		return
	}
	h.cookie.clear(c)
	respond.OK(c, "Successfully logged out", nil)
}

// LogoutAll handles POST /auth/logout-all for the authenticated caller.
func (h *Handler) LogoutAll(c *gin.Context) {
	userID, ok := middleware.GetUserID(c.Request.Context())
	if !ok {
		respond.Error(c, http.StatusUnauthorized, "Unauthorized")
		return
	}
	if err := h.svc.LogoutAll(c.Request.Context(), userID); err != nil {
		writeError(c, err)
		return
	}
	h.cookie.clear(c)
	respond.OK(c, "Successfully logged out from all devices", nil)
}

// Sessions handles GET /auth/sessions for the authenticated caller.
func (h *Handler) Sessions(c *gin.Context) {
	userID, ok := middleware.GetUserID(c.Request.Context())
	if !ok {
		respond.Error(c, http.StatusUnauthorized, "Unauthorized")
		return
	}
	h.listSessions(c, userID)
}

// Session handles GET /auth/session: details of the session named by the refresh cookie.
func (h *Handler) Session(c *gin.Context) {
	token := refreshFromCookie(c)
	if token == "" {
		respond.Error(c, http.StatusUnauthorized, "Refresh token not found")
		return
	}
	view, err := h.svc.SessionDetails(c.Request.Context(), token)
	if err != nil {
		writeError(c, err)
		return
	}
	respond.OK(c, "Get session success", gin.H{"session": view})
}

// CurrentUser handles GET /user.
func (h *Handler) CurrentUser(c *gin.Context) {
	userID, ok := middleware.GetUserID(c.Request.Context())
	if !ok {
		respond.Error(c, http.StatusUnauthorized, "Unauthorized")
		return
	}
	u, err := h.svc.CurrentUser(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err)
		return
	}
	respond.OK(c, "Get user success", gin.H{"user": newUserView(u)})
}

// CheckUsername handles GET /auth/check-username?username=.
func (h *Handler) CheckUsername(c *gin.Context) {
	exists, err := h.svc.CheckUsername(c.Request.Context(), c.Query("username"))
	if err != nil {
		writeError(c, err)
		return
	}
	respond.OK(c, "", gin.H{"exists": exists})
}

// CheckEmail handles GET /auth/check-email?email=.
func (h *Handler) CheckEmail(c *gin.Context) {
	exists, err := h.svc.CheckEmail(c.Request.Context(), c.Query("email"))
	if err != nil {
		writeError(c, err)
		return
	}
	respond.OK(c, "", gin.H{"exists": exists})
}

// UserSessions handles GET /admin/users/:id/sessions.
func (h *Handler) UserSessions(c *gin.Context) {
	h.listSessions(c, c.Param("id"))
}

// RevokeUserSessions handles POST /admin/users/:id/logout-all.
func (h *Handler) RevokeUserSessions(c *gin.Context) {
	if err := h.svc.LogoutAll(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	respond.OK(c, "Successfully logged out from all devices", nil)
}

func (h *Handler) listSessions(c *gin.Context, userID string) {
	sessions, err := h.svc.ListSessions(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err)
		return
	}
	respond.OK(c, "Get active sessions success", gin.H{"sessions": sessions})
}

func bindJSON(c *gin.Context, v any) bool {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)
	if err := c.ShouldBindJSON(v); err != nil {
		respond.Error(c, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}
