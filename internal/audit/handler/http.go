package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"authsessions/backend/internal/audit/domain"
	"authsessions/backend/internal/server/respond"
)

const (
	defaultPageSize = 50
	maxPageSize     = 100
)

// Lister reads audit logs newest first.
type Lister interface {
	ListByUser(ctx context.Context, userID string, limit, offset int32) ([]*domain.AuditLog, error)
}

// Handler serves the admin audit log listing.
type Handler struct {
	logs Lister
}

// NewHandler returns a Handler over logs.
func NewHandler(logs Lister) *Handler {
	return &Handler{logs: logs}
}

type entryView struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Action    string    `json:"action"`
	Resource  string    `json:"resource"`
	IP        string    `json:"ip"`
	Metadata  string    `json:"metadata,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// List handles GET /admin/audit-logs?userId=&limit=&offset=.
func (h *Handler) List(c *gin.Context) {
	limit, ok := intParam(c.Query("limit"), defaultPageSize)
	if !ok || limit <= 0 {
		respond.Error(c, http.StatusBadRequest, "limit must be a positive integer")
		return
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	offset, ok := intParam(c.Query("offset"), 0)
	if !ok || offset < 0 {
		respond.Error(c, http.StatusBadRequest, "offset must be a non-negative integer")
		return
	}

	ctx := c.Request.Context()
	logs, err := h.logs.ListByUser(ctx, c.Query("userId"), limit, offset)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("audit: list failed")
		respond.Error(c, http.StatusInternalServerError, "Internal server error")
		return
	}
	out := make([]entryView, 0, len(logs))
	for _, a := range logs {
		out = append(out, entryView{
			ID:        a.ID,
			UserID:    a.UserID,
			Action:    a.Action,
			Resource:  a.Resource,
			IP:        a.IP,
			Metadata:  a.Metadata,
			CreatedAt: a.CreatedAt,
		})
	}
	respond.OK(c, "Get audit logs success", gin.H{"logs": out})
}

func intParam(raw string, def int32) (int32, bool) {
	if raw == "" {
		return def, true
	}
	n, err := strconv.ParseInt(raw, 10, 32)
	if err != nil {
		return 0, false
	}
	return int32(n), true
}
