package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	otellog "go.opentelemetry.io/otel/log"

	"authsessions/backend/internal/audit/domain"
	auditrepo "authsessions/backend/internal/audit/repository"
)

// SentinelUserID is the user_id recorded for events with no known user (e.g. login_failure).
const SentinelUserID = "_anonymous"

// ContextExtractor reads a request-scoped value (client IP, caller id) from the context.
type ContextExtractor func(context.Context) string

// Option configures a Logger.
type Option func(*Logger)

// WithIPExtractor sets how the client IP is read. Without it IP is recorded as "unknown".
func WithIPExtractor(f ContextExtractor) Option {
	return func(l *Logger) { l.ipExtractor = f }
}

// WithCallerExtractor sets how the authenticated caller is read when LogEvent gets no userID.
func WithCallerExtractor(f ContextExtractor) Option {
	return func(l *Logger) { l.callerExtractor = f }
}

// Emitter is the subset of otellog.Logger the audit logger uses.
type Emitter interface {
	Emit(ctx context.Context, rec otellog.Record)
}

// WithEmitter also emits each event as an OTel log record, e.g. on LoggerProvider.Logger("audit").
func WithEmitter(e Emitter) Option {
	return func(l *Logger) { l.emitter = e }
}

// Logger persists audit events and mirrors them to OTel logs.
// LogEvent is best-effort: failures are logged and do not affect the caller.
type Logger struct {
	repo            auditrepo.Repository
	ipExtractor     ContextExtractor
	callerExtractor ContextExtractor
	emitter         Emitter
	now             func() time.Time
}

// NewLogger returns a Logger that persists to repo. repo may be nil (memory ledger); then events are only emitted.
func NewLogger(repo auditrepo.Repository, opts ...Option) *Logger {
	l := &Logger{repo: repo, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// LogEvent writes one audit log entry.
func (l *Logger) LogEvent(ctx context.Context, userID, action, resource, metadata string) {
	ip := "unknown"
	if l.ipExtractor != nil {
		ip = l.ipExtractor(ctx)
	}
	if userID == "" && l.callerExtractor != nil {
		userID = l.callerExtractor(ctx)
	}
	if userID == "" {
		userID = SentinelUserID
	}
	entry := &domain.AuditLog{
		ID:        uuid.New().String(),
		UserID:    userID,
		Action:    action,
		Resource:  resource,
		IP:        ip,
		Metadata:  metadata,
		CreatedAt: l.now().UTC(),
	}
	l.emit(ctx, entry)
	if l.repo == nil {
		return
	}
	if err := l.repo.Create(ctx, entry); err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("action", action).Str("resource", resource).Msg("audit: failed to log event")
	}
}

func (l *Logger) emit(ctx context.Context, entry *domain.AuditLog) {
	if l.emitter == nil {
		return
	}
	var rec otellog.Record
	rec.SetTimestamp(entry.CreatedAt)
	rec.SetSeverity(otellog.SeverityInfo)
	rec.SetBody(otellog.StringValue(entry.Action))
	rec.AddAttributes(
		otellog.String("event.name", "audit."+entry.Action),
		otellog.String("user_id", entry.UserID),
		otellog.String("resource", entry.Resource),
		otellog.String("client_ip", entry.IP),
	)
	if entry.Metadata != "" {
		rec.AddAttributes(otellog.String("metadata", entry.Metadata))
	}
	l.emitter.Emit(ctx, rec)
}
