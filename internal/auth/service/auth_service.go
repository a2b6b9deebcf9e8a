package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"authsessions/backend/internal/audit"
	"authsessions/backend/internal/security"
	"authsessions/backend/internal/session/device"
	sessiondomain "authsessions/backend/internal/session/domain"
	"authsessions/backend/internal/session/policy"
	userdomain "authsessions/backend/internal/user/domain"
	userrepo "authsessions/backend/internal/user/repository"
)

// DefaultMaxActiveSessions is the per-user session cap when none is configured.
const DefaultMaxActiveSessions = 5

const minPasswordLength = 6

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// UserRepo is the minimal user repository needed by the auth service.
type UserRepo interface {
	GetByID(ctx context.Context, id string) (*userdomain.User, error)
	GetByEmail(ctx context.Context, email string) (*userdomain.User, error)
	GetByUsername(ctx context.Context, username string) (*userdomain.User, error)
	Create(ctx context.Context, u *userdomain.User) error
}

// SessionRepo is the minimal ledger needed by the auth service.
type SessionRepo interface {
	Create(ctx context.Context, rec *sessiondomain.RefreshToken) error
	FindByToken(ctx context.Context, token string) (*sessiondomain.RefreshToken, error)
	FindAnyByToken(ctx context.Context, token string) (*sessiondomain.RefreshToken, error)
	Invalidate(ctx context.Context, token string) error
	InvalidateAllForUser(ctx context.Context, userID string) error
	TouchLastUsed(ctx context.Context, token string, at time.Time) error
	ListActiveSessions(ctx context.Context, userID string, now time.Time) ([]*sessiondomain.RefreshToken, error)
}

// PasswordHasher digests and checks passwords.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password, digest string) bool
}

// Tokens signs and verifies access and refresh JWTs.
type Tokens interface {
	IssueAccess(userID, email string) (string, time.Time, error)
	IssueRefresh(userID, email string) (string, time.Time, error)
	ValidateRefresh(token string) (*security.Claims, error)
	RefreshTTL() time.Duration
}

// AuditLogger records session lifecycle events. Implementations are best-effort.
type AuditLogger interface {
	LogEvent(ctx context.Context, userID, action, resource, metadata string)
}

// RegisterInput carries the fields accepted at sign-up. Role and status are not client-settable.
type RegisterInput struct {
	Username       string
	Email          string
	Password       string
	FullName       string
	ProfilePicture string
	PhoneNumber    string
}

// AuthResult is returned by Register and Login.
type AuthResult struct {
	User             *userdomain.User
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// RefreshResult is returned by Refresh. The refresh token itself is unchanged.
type RefreshResult struct {
	AccessToken     string
	AccessExpiresAt time.Time
}

// SessionView is the client-facing form of a ledger record. It never carries the token.
type SessionView struct {
	ID string `json:"id"`
	device.Info
	IPAddress  string    `json:"ipAddress"`
	LastUsedAt time.Time `json:"lastUsedAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
	CreatedAt  time.Time `json:"createdAt"`
}

func newSessionView(rec *sessiondomain.RefreshToken) SessionView {
	return SessionView{
		ID:         rec.ID,
		Info:       device.Decode(rec.DeviceInfo),
		IPAddress:  rec.IPAddress,
		LastUsedAt: rec.LastUsedAt,
		ExpiresAt:  rec.ExpiresAt,
		CreatedAt:  rec.CreatedAt,
	}
}

// Option configures an AuthService.
type Option func(*AuthService)

// WithClock overrides time.Now. Tests share one clock between the service and the token provider.
func WithClock(now func() time.Time) Option {
	return func(s *AuthService) {
		if now != nil {
			s.now = now
		}
	}
}

// WithMaxActiveSessions sets the per-user cap. Values below 1 are ignored.
func WithMaxActiveSessions(n int) Option {
	return func(s *AuthService) {
		if n >= 1 {
			s.maxActive = n
		}
	}
}

// WithAuditLogger records lifecycle events through l.
func WithAuditLogger(l AuditLogger) Option {
	return func(s *AuthService) { s.audit = l }
}

// WithMeter records login, refresh and eviction counters on m.
func WithMeter(m metric.Meter) Option {
	return func(s *AuthService) {
		if m != nil {
			s.meter = m
		}
	}
}

// AuthService orchestrates register, login, refresh and logout over the session ledger.
//
// Admission is not serialized: two logins racing at the cap can both read the same
// active set and both insert, leaving the user one session over. The next admission
// evicts enough of the tail to bring the user back under the cap.
type AuthService struct {
	users     UserRepo
	sessions  SessionRepo
	hasher    PasswordHasher
	tokens    Tokens
	audit     AuditLogger
	maxActive int
	now       func() time.Time

	meter     metric.Meter
	logins    metric.Int64Counter
	refreshes metric.Int64Counter
	evictions metric.Int64Counter
}

// NewAuthService returns an AuthService with the given dependencies.
func NewAuthService(users UserRepo, sessions SessionRepo, hasher PasswordHasher, tokens Tokens, opts ...Option) (*AuthService, error) {
	s := &AuthService{
		users:     users,
		sessions:  sessions,
		hasher:    hasher,
		tokens:    tokens,
		maxActive: DefaultMaxActiveSessions,
		now:       time.Now,
		meter:     noop.NewMeterProvider().Meter("auth"),
	}
	for _, opt := range opts {
		opt(s)
	}
	var err error
	if s.logins, err = s.meter.Int64Counter("auth.logins", metric.WithDescription("Login attempts by outcome")); err != nil {
		return nil, err
	}
	if s.refreshes, err = s.meter.Int64Counter("auth.refreshes", metric.WithDescription("Refresh attempts by outcome")); err != nil {
		return nil, err
	}
	if s.evictions, err = s.meter.Int64Counter("auth.sessions.evicted", metric.WithDescription("Sessions invalidated to stay under the cap")); err != nil {
		return nil, err
	}
	return s, nil
}

// MaxActiveSessions returns the per-user cap.
func (s *AuthService) MaxActiveSessions() int { return s.maxActive }

// Register creates a user and opens the first session for it.
// The email is checked before the username; on either conflict nothing is created.
func (s *AuthService) Register(ctx context.Context, in RegisterInput, dev device.Info) (*AuthResult, error) {
	in.Email = normalizeEmail(in.Email)
	in.Username = strings.TrimSpace(in.Username)
	if err := validateRegistration(in); err != nil {
		return nil, err
	}
	existing, err := s.users.GetByEmail(ctx, in.Email)
	if err != nil {
		return nil, fmt.Errorf("auth: lookup email: %w", err)
	}
	if existing != nil {
		return nil, ErrEmailTaken
	}
	existing, err = s.users.GetByUsername(ctx, in.Username)
	if err != nil {
		return nil, fmt.Errorf("auth: lookup username: %w", err)
	}
	if existing != nil {
		return nil, ErrUsernameTaken
	}

	hashed, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("auth: hash password: %w", err)
	}
	now := s.now().UTC()
	user := &userdomain.User{
		ID:             uuid.New().String(),
		Username:       in.Username,
		Email:          in.Email,
		PasswordHash:   hashed,
		FullName:       strings.TrimSpace(in.FullName),
		Role:           userdomain.RoleUser,
		ProfilePicture: strings.TrimSpace(in.ProfilePicture),
		PhoneNumber:    strings.TrimSpace(in.PhoneNumber),
		Status:         userdomain.UserStatusActive,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := user.Validate(); err != nil {
		return nil, invalid("user", err.Error())
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, userrepo.ErrDuplicate) {
			// Lost a race with a concurrent sign-up for the same email or username.
			return nil, s.duplicateError(ctx, in)
		}
		return nil, fmt.Errorf("auth: create user: %w", err)
	}
	res, err := s.openSession(ctx, user, dev)
	if err != nil {
		return nil, err
	}
	s.logEvent(ctx, user.ID, audit.ActionRegister, audit.ResourceUser, "")
	return res, nil
}

// Login verifies credentials and opens a new session. Every credential failure,
// including lookup errors, is reported as ErrInvalidCredentials.
func (s *AuthService) Login(ctx context.Context, email, password string, dev device.Info) (*AuthResult, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		s.logins.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "rejected")))
		return nil, ErrInvalidCredentials
	}
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("auth: login lookup failed")
	}
	if err != nil || user == nil || user.Status != userdomain.UserStatusActive ||
		!s.hasher.Verify(password, user.PasswordHash) {
		s.logins.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "rejected")))
		s.logEvent(ctx, "", audit.ActionLoginFailure, audit.ResourceSession, email)
		return nil, ErrInvalidCredentials
	}
	res, err := s.openSession(ctx, user, dev)
	if err != nil {
		s.logins.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "error")))
		return nil, err
	}
	s.logins.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "success")))
	s.logEvent(ctx, user.ID, audit.ActionLogin, audit.ResourceSession, "")
	return res, nil
}

// openSession issues both tokens, frees a slot under the cap and records the new session.
func (s *AuthService) openSession(ctx context.Context, user *userdomain.User, dev device.Info) (*AuthResult, error) {
	access, accessExp, err := s.tokens.IssueAccess(user.ID, user.Email)
	if err != nil {
		return nil, fmt.Errorf("auth: sign access token: %w", err)
	}
	refresh, refreshExp, err := s.tokens.IssueRefresh(user.ID, user.Email)
	if err != nil {
		return nil, fmt.Errorf("auth: sign refresh token: %w", err)
	}

	now := s.now().UTC()
	active, err := s.sessions.ListActiveSessions(ctx, user.ID, now)
	if err != nil {
		return nil, fmt.Errorf("auth: list sessions: %w", err)
	}
	decision := policy.AdmitNewSession(active, s.maxActive)
	for _, victim := range decision.Evict {
		if err := s.sessions.Invalidate(ctx, victim.Token); err != nil {
			return nil, fmt.Errorf("auth: evict session: %w", err)
		}
		s.evictions.Add(ctx, 1)
		s.logEvent(ctx, user.ID, audit.ActionSessionEvicted, audit.ResourceSession, victim.ID)
		log.Ctx(ctx).Info().Str("user_id", user.ID).Str("session_id", victim.ID).Msg("auth: evicted least recently used session")
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("auth: session id: %w", err)
	}
	rec := &sessiondomain.RefreshToken{
		ID:         id.String(),
		UserID:     user.ID,
		Token:      refresh,
		ExpiresAt:  refreshExp,
		DeviceInfo: dev.Encode(),
		IPAddress:  dev.IP,
		IsValid:    true,
		LastUsedAt: now,
		CreatedAt:  now,
	}
	if rec.IPAddress == "" {
		rec.IPAddress = device.Unknown
	}
	if err := s.sessions.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("auth: create session: %w", err)
	}
	return &AuthResult{
		User:             user,
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     refresh,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// Refresh mints a new access token for a live refresh token and marks the session used.
// It never rotates the refresh token or creates a ledger row.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*RefreshResult, error) {
	res, err := s.refresh(ctx, refreshToken)
	outcome := "success"
	if err != nil {
		outcome = "rejected"
		if !errors.Is(err, ErrUnauthorized) {
			outcome = "error"
		}
	}
	s.refreshes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	return res, err
}

func (s *AuthService) refresh(ctx context.Context, refreshToken string) (*RefreshResult, error) {
	if refreshToken == "" {
		return nil, ErrInvalidRefreshToken
	}
	rec, err := s.sessions.FindByToken(ctx, refreshToken)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("auth: refresh lookup failed")
		return nil, ErrInvalidRefreshToken
	}
	now := s.now().UTC()
	if rec == nil || !rec.ExpiresAt.After(now) {
		return nil, ErrInvalidRefreshToken
	}
	claims, err := s.tokens.ValidateRefresh(refreshToken)
	if err != nil || claims.UserID() != rec.UserID {
		return nil, ErrInvalidRefreshToken
	}
	user, err := s.lookupUser(ctx, rec.UserID)
	if err != nil || user.Status != userdomain.UserStatusActive {
		return nil, ErrInvalidRefreshToken
	}

	access, accessExp, err := s.tokens.IssueAccess(user.ID, user.Email)
	if err != nil {
		return nil, fmt.Errorf("auth: sign access token: %w", err)
	}
	if err := s.sessions.TouchLastUsed(ctx, refreshToken, now); err != nil {
		return nil, fmt.Errorf("auth: touch session: %w", err)
	}
	s.logEvent(ctx, user.ID, audit.ActionRefresh, audit.ResourceSession, rec.ID)
	return &RefreshResult{AccessToken: access, AccessExpiresAt: accessExp}, nil
}

// Logout invalidates the session for refreshToken. Unknown or already invalid tokens succeed.
func (s *AuthService) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	if err := s.sessions.Invalidate(ctx, refreshToken); err != nil {
		return fmt.Errorf("auth: invalidate session: %w", err)
	}
	s.logEvent(ctx, "", audit.ActionLogout, audit.ResourceSession, "")
	return nil
}

// LogoutAll invalidates every session the user owns.
func (s *AuthService) LogoutAll(ctx context.Context, userID string) error {
	if err := s.sessions.InvalidateAllForUser(ctx, userID); err != nil {
		return fmt.Errorf("auth: invalidate sessions: %w", err)
	}
	s.logEvent(ctx, userID, audit.ActionLogoutAll, audit.ResourceSession, "")
	return nil
}

// ListSessions returns the user's active sessions, most recently used first.
func (s *AuthService) ListSessions(ctx context.Context, userID string) ([]SessionView, error) {
	recs, err := s.sessions.ListActiveSessions(ctx, userID, s.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("auth: list sessions: %w", err)
	}
	out := make([]SessionView, 0, len(recs))
	for _, rec := range recs {
		out = append(out, newSessionView(rec))
	}
	return out, nil
}

// SessionDetails describes the session for refreshToken whatever its state.
func (s *AuthService) SessionDetails(ctx context.Context, refreshToken string) (*SessionView, error) {
	if refreshToken == "" {
		return nil, ErrSessionNotFound
	}
	rec, err := s.sessions.FindAnyByToken(ctx, refreshToken)
	if err != nil {
		return nil, fmt.Errorf("auth: find session: %w", err)
	}
	if rec == nil {
		return nil, ErrSessionNotFound
	}
	v := newSessionView(rec)
	return &v, nil
}

// CurrentUser returns the user for userID or ErrIdentityNotFound.
func (s *AuthService) CurrentUser(ctx context.Context, userID string) (*userdomain.User, error) {
	return s.lookupUser(ctx, userID)
}

// CheckUsername reports whether username is taken.
func (s *AuthService) CheckUsername(ctx context.Context, username string) (bool, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return false, invalid("username", "username is required")
	}
	u, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		return false, fmt.Errorf("auth: lookup username: %w", err)
	}
	return u != nil, nil
}

// CheckEmail reports whether email is taken.
func (s *AuthService) CheckEmail(ctx context.Context, email string) (bool, error) {
	email = normalizeEmail(email)
	if email == "" {
		return false, invalid("email", "email is required")
	}
	u, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return false, fmt.Errorf("auth: lookup email: %w", err)
	}
	return u != nil, nil
}

func (s *AuthService) lookupUser(ctx context.Context, userID string) (*userdomain.User, error) {
	if userID == "" {
		return nil, ErrIdentityNotFound
	}
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("auth: lookup user: %w", err)
	}
	if u == nil {
		return nil, ErrIdentityNotFound
	}
	return u, nil
}

// duplicateError names the field a concurrent sign-up claimed first, email before username.
func (s *AuthService) duplicateError(ctx context.Context, in RegisterInput) error {
	if u, err := s.users.GetByEmail(ctx, in.Email); err == nil && u != nil {
		return ErrEmailTaken
	}
	if u, err := s.users.GetByUsername(ctx, in.Username); err == nil && u != nil {
		return ErrUsernameTaken
	}
	return ErrConflict
}

func (s *AuthService) logEvent(ctx context.Context, userID, action, resource, metadata string) {
	if s.audit != nil {
		s.audit.LogEvent(ctx, userID, action, resource, metadata)
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateRegistration(in RegisterInput) error {
	if in.Username == "" {
		return invalid("username", "username is required")
	}
	if in.Email == "" {
		return invalid("email", "email is required")
	}
	if !emailPattern.MatchString(in.Email) {
		return invalid("email", "invalid email format")
	}
	if len(in.Password) < minPasswordLength {
		return invalid("password", fmt.Sprintf("password must be at least %d characters", minPasswordLength))
	}
	return nil
}
