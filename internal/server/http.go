package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/trace"

	audithandler "authsessions/backend/internal/audit/handler"
	authhandler "authsessions/backend/internal/auth/handler"
	healthhandler "authsessions/backend/internal/health/handler"
	"authsessions/backend/internal/platform/rbac"
	"authsessions/backend/internal/server/middleware"
	"authsessions/backend/internal/server/respond"
	userdomain "authsessions/backend/internal/user/domain"
)

const healthPath = "/healthz"

// HTTPDeps holds what the HTTP API needs.
type HTTPDeps struct {
	Auth   *authhandler.Handler
	Health *healthhandler.Server
	// Audit serves the admin audit log listing. Nil when no audit store is configured.
	Audit  *audithandler.Handler
	Tokens middleware.AccessValidator
	Users  middleware.UserLookup
	// ServiceName names the server in request spans.
	ServiceName string
	// TracerProvider receives one span per request. If nil, the global provider is used.
	TracerProvider trace.TracerProvider
}

// NewHTTPHandler returns the API router.
//
// Public: register, login, refresh (cookie), session (cookie), check-username, check-email, healthz.
// Bearer: logout, logout-all, sessions, user.
// Bearer + role: /admin/users/:id/sessions (admin, moderator), /admin/users/:id/logout-all (admin),
// /admin/audit-logs (admin).
func NewHTTPHandler(deps HTTPDeps) *gin.Engine {
	h := deps.Auth

	otelOpts := []otelgin.Option{
		otelgin.WithFilter(func(r *http.Request) bool { return r.URL.Path != healthPath }),
	}
	if deps.TracerProvider != nil {
		otelOpts = append(otelOpts, otelgin.WithTracerProvider(deps.TracerProvider))
	}
	serviceName := deps.ServiceName
	if serviceName == "" {
		serviceName = "authsessions"
	}

	router := gin.New()
	router.HandleMethodNotAllowed = true
	router.Use(
		gin.Recovery(),
		otelgin.Middleware(serviceName, otelOpts...),
		middleware.RequestLogger(map[string]bool{healthPath: true}),
	)
	router.NoRoute(func(c *gin.Context) { respond.Error(c, http.StatusNotFound, "Not found") })
	router.NoMethod(func(c *gin.Context) { respond.Error(c, http.StatusMethodNotAllowed, "Method not allowed") })

	if deps.Health != nil {
		router.GET(healthPath, deps.Health.HTTP)
	}

	public := router.Group("/auth")
	{
		public.POST("/register", h.Register)
		public.POST("/login", h.Login)
		public.GET("/refresh", h.Refresh)
		public.GET("/session", h.Session)
		public.GET("/check-username", h.CheckUsername)
		public.GET("/check-email", h.CheckEmail)
	}

	protected := router.Group("/")
	protected.Use(middleware.Authenticate(deps.Tokens, deps.Users))
	{
		protected.POST("/auth/logout", h.Logout)
		protected.POST("/auth/logout-all", h.LogoutAll)
		protected.GET("/auth/sessions", h.Sessions)
		protected.GET("/user", h.CurrentUser)
	}

	admin := protected.Group("/admin")
	{
		admin.GET("/users/:id/sessions", rbac.Roles(userdomain.RoleAdmin, userdomain.RoleModerator), h.UserSessions)
		admin.POST("/users/:id/logout-all", rbac.Roles(userdomain.RoleAdmin), h.RevokeUserSessions)
		if deps.Audit != nil {
			admin.GET("/audit-logs", rbac.Roles(userdomain.RoleAdmin), deps.Audit.List)
		}
	}

	return router
}
