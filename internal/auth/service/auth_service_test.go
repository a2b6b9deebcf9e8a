package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"authsessions/backend/internal/security"
	"authsessions/backend/internal/session/device"
	sessiondomain "authsessions/backend/internal/session/domain"
	"authsessions/backend/internal/session/repository"
	userdomain "authsessions/backend/internal/user/domain"
	userrepo "authsessions/backend/internal/user/repository"
)

type memUserRepo struct {
	mu    sync.Mutex
	users map[string]*userdomain.User
	err   error
	// beforeCreate runs ahead of Create's uniqueness check, standing in for a concurrent writer.
	beforeCreate func(r *memUserRepo)
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{users: make(map[string]*userdomain.User)}
}

func (r *memUserRepo) find(match func(*userdomain.User) bool) (*userdomain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	for _, u := range r.users {
		if match(u) {
			c := *u
			return &c, nil
		}
	}
	return nil, nil
}

func (r *memUserRepo) GetByID(_ context.Context, id string) (*userdomain.User, error) {
	return r.find(func(u *userdomain.User) bool { return u.ID == id })
}

func (r *memUserRepo) GetByEmail(_ context.Context, email string) (*userdomain.User, error) {
	return r.find(func(u *userdomain.User) bool { return u.Email == email })
}

func (r *memUserRepo) GetByUsername(_ context.Context, username string) (*userdomain.User, error) {
	return r.find(func(u *userdomain.User) bool { return u.Username == username })
}

func (r *memUserRepo) Create(_ context.Context, u *userdomain.User) error {
	if hook := r.beforeCreate; hook != nil {
		r.beforeCreate = nil
		hook(r)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.users {
		if existing.Email == u.Email || existing.Username == u.Username {
			return userrepo.ErrDuplicate
		}
	}
	c := *u
	r.users[u.ID] = &c
	return nil
}

func (r *memUserRepo) put(u *userdomain.User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[u.ID] = u
}

func (r *memUserRepo) setStatus(id string, status userdomain.UserStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[id].Status = status
}

func (r *memUserRepo) Delete(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.users, id)
}

func (r *memUserRepo) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.users)
}

// flakyLedger fails selected calls and otherwise delegates to the in-memory ledger.
type flakyLedger struct {
	*repository.MemoryRepository
	listErr error
	findErr error
}

func (f *flakyLedger) ListActiveSessions(ctx context.Context, userID string, now time.Time) ([]*sessiondomain.RefreshToken, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.MemoryRepository.ListActiveSessions(ctx, userID, now)
}

func (f *flakyLedger) FindByToken(ctx context.Context, token string) (*sessiondomain.RefreshToken, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}
	return f.MemoryRepository.FindByToken(ctx, token)
}

type recordingAudit struct {
	mu      sync.Mutex
	actions []string
}

func (a *recordingAudit) LogEvent(_ context.Context, _, action, _, _ string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.actions = append(a.actions, action)
}

func (a *recordingAudit) Actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.actions...)
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

func (c *testClock) Advance(d time.Duration) {
	c.Set(c.Now().Add(d))
}

type fixture struct {
	svc    *AuthService
	users  *memUserRepo
	ledger *flakyLedger
	clock  *testClock
	audit  *recordingAudit
}

const (
	testEmail    = "alice@example.com"
	testPassword = "secret-pass"
)

func newFixture(t *testing.T, maxActive int) *fixture {
	t.Helper()
	clock := &testClock{t: time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)}
	f := &fixture{
		users:  newMemUserRepo(),
		ledger: &flakyLedger{MemoryRepository: repository.NewMemoryRepository()},
		clock:  clock,
		audit:  &recordingAudit{},
	}
	svc, err := NewAuthService(
		f.users,
		f.ledger,
		security.NewHasher(bcrypt.MinCost),
		security.NewTestTokenProvider(security.WithTokenClock(clock.Now)),
		WithClock(clock.Now),
		WithMaxActiveSessions(maxActive),
		WithAuditLogger(f.audit),
	)
	require.NoError(t, err)
	f.svc = svc
	return f
}

func (f *fixture) register(t *testing.T) *AuthResult {
	t.Helper()
	res, err := f.svc.Register(context.Background(), RegisterInput{
		Username: "alice",
		Email:    testEmail,
		Password: testPassword,
		FullName: "Alice",
	}, device.Parse("Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36", "10.0.0.1"))
	require.NoError(t, err)
	return res
}

func (f *fixture) login(t *testing.T) *AuthResult {
	t.Helper()
	res, err := f.svc.Login(context.Background(), testEmail, testPassword, device.UnknownInfo())
	require.NoError(t, err)
	return res
}

func (f *fixture) activeTokens(t *testing.T, userID string) []string {
	t.Helper()
	recs, err := f.ledger.ListActiveSessions(context.Background(), userID, f.clock.Now())
	require.NoError(t, err)
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.Token
	}
	return out
}

func TestRegister(t *testing.T) {
	f := newFixture(t, 5)
	res := f.register(t)

	assert.NotEmpty(t, res.AccessToken)
	assert.NotEmpty(t, res.RefreshToken)
	assert.Equal(t, userdomain.RoleUser, res.User.Role)
	assert.Equal(t, userdomain.UserStatusActive, res.User.Status)
	assert.NotEqual(t, testPassword, res.User.PasswordHash)
	assert.Equal(t, []string{res.RefreshToken}, f.activeTokens(t, res.User.ID))

	rec, err := f.ledger.FindByToken(context.Background(), res.RefreshToken)
	require.NoError(t, err)
	assert.True(t, rec.ExpiresAt.Equal(f.clock.Now().Add(24*time.Hour)))
	assert.True(t, rec.LastUsedAt.Equal(f.clock.Now()))
	assert.Equal(t, "10.0.0.1", rec.IPAddress)
	assert.Equal(t, "desktop", device.Decode(rec.DeviceInfo).DeviceType)
	assert.Equal(t, []string{"register"}, f.audit.Actions())
}

func TestRegisterDuplicateEmailCreatesNothing(t *testing.T) {
	f := newFixture(t, 5)
	f.register(t)

	_, err := f.svc.Register(context.Background(), RegisterInput{
		Username: "someone-else",
		Email:    "  ALICE@example.com ",
		Password: testPassword,
	}, device.UnknownInfo())
	assert.ErrorIs(t, err, ErrEmailTaken)
	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, 1, f.users.Count())
	assert.Equal(t, 1, f.ledger.Len())
}

func TestRegisterDuplicateUsername(t *testing.T) {
	f := newFixture(t, 5)
	f.register(t)

	_, err := f.svc.Register(context.Background(), RegisterInput{
		Username: "alice",
		Email:    "other@example.com",
		Password: testPassword,
	}, device.UnknownInfo())
	assert.ErrorIs(t, err, ErrUsernameTaken)
	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, 1, f.users.Count())
}

func TestRegisterLostRaceReportsClaimedField(t *testing.T) {
	tests := []struct {
		name  string
		rival userdomain.User
		want  error
	}{
		{"email", userdomain.User{ID: "rival", Username: "rival", Email: testEmail}, ErrEmailTaken},
		{"username", userdomain.User{ID: "rival", Username: "alice", Email: "rival@example.com"}, ErrUsernameTaken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, 5)
			f.users.beforeCreate = func(r *memUserRepo) {
				rival := tt.rival
				r.put(&rival)
			}
			_, err := f.svc.Register(context.Background(), RegisterInput{
				Username: "alice",
				Email:    testEmail,
				Password: testPassword,
			}, device.UnknownInfo())
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, 1, f.users.Count())
			assert.Zero(t, f.ledger.Len())
		})
	}
}

func TestRegisterValidation(t *testing.T) {
	cases := []struct {
		name  string
		in    RegisterInput
		field string
	}{
		{"missing username", RegisterInput{Email: "a@example.com", Password: testPassword}, "username"},
		{"missing email", RegisterInput{Username: "a", Password: testPassword}, "email"},
		{"bad email", RegisterInput{Username: "a", Email: "not-an-email", Password: testPassword}, "email"},
		{"short password", RegisterInput{Username: "a", Email: "a@example.com", Password: "12345"}, "password"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, 5)
			_, err := f.svc.Register(context.Background(), tc.in, device.UnknownInfo())
			require.ErrorIs(t, err, ErrInvalidInput)
			var ve *ValidationError
			require.True(t, errors.As(err, &ve))
			assert.Equal(t, tc.field, ve.Field)
			assert.Zero(t, f.users.Count())
		})
	}
}

func TestLoginFailuresCollapse(t *testing.T) {
	f := newFixture(t, 5)
	reg := f.register(t)
	ctx := context.Background()

	_, err := f.svc.Login(ctx, testEmail, "wrong-password", device.UnknownInfo())
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = f.svc.Login(ctx, "nobody@example.com", testPassword, device.UnknownInfo())
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = f.svc.Login(ctx, "", "", device.UnknownInfo())
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	f.users.err = errors.New("connection reset")
	_, err = f.svc.Login(ctx, testEmail, testPassword, device.UnknownInfo())
	assert.ErrorIs(t, err, ErrInvalidCredentials, "lookup failures look like bad credentials")
	f.users.err = nil

	f.users.mu.Lock()
	f.users.users[reg.User.ID].Status = userdomain.UserStatusDisabled
	f.users.mu.Unlock()
	_, err = f.svc.Login(ctx, testEmail, testPassword, device.UnknownInfo())
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	assert.ErrorIs(t, err, ErrUnauthorized)

	assert.Equal(t, 1, f.ledger.Len(), "failed logins never touch the ledger")
}

func TestLoginEnforcesCapWithLRUEviction(t *testing.T) {
	f := newFixture(t, 2)
	reg := f.register(t)
	// Start from a clean slate so the scenario is exactly A, B, C.
	require.NoError(t, f.svc.LogoutAll(context.Background(), reg.User.ID))

	f.clock.Advance(time.Second)
	a := f.login(t)
	f.clock.Advance(time.Second)
	b := f.login(t)
	f.clock.Advance(time.Second)
	c := f.login(t)

	assert.Equal(t, []string{c.RefreshToken, b.RefreshToken}, f.activeTokens(t, reg.User.ID))

	evicted, err := f.ledger.FindAnyByToken(context.Background(), a.RefreshToken)
	require.NoError(t, err)
	assert.False(t, evicted.IsValid)
	_, err = f.svc.Refresh(context.Background(), a.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)
	assert.Contains(t, f.audit.Actions(), "session_evicted")
}

func TestLoginNeverExceedsCap(t *testing.T) {
	f := newFixture(t, 3)
	reg := f.register(t)
	for i := 0; i < 10; i++ {
		f.clock.Advance(time.Minute)
		f.login(t)
		assert.LessOrEqual(t, len(f.activeTokens(t, reg.User.ID)), 3)
	}
}

func TestLoginDrainsOvershoot(t *testing.T) {
	f := newFixture(t, 2)
	reg := f.register(t)
	ctx := context.Background()
	// Simulate racing logins that left the user two over the cap.
	for i := 0; i < 3; i++ {
		f.clock.Advance(time.Second)
		now := f.clock.Now()
		require.NoError(t, f.ledger.Create(ctx, &sessiondomain.RefreshToken{
			ID: now.Format(time.RFC3339), UserID: reg.User.ID, Token: "raced-" + now.Format(time.RFC3339),
			ExpiresAt: now.Add(time.Hour), IsValid: true, LastUsedAt: now, CreatedAt: now,
		}))
	}
	require.Len(t, f.activeTokens(t, reg.User.ID), 4)

	f.clock.Advance(time.Second)
	res := f.login(t)
	active := f.activeTokens(t, reg.User.ID)
	assert.Len(t, active, 2)
	assert.Equal(t, res.RefreshToken, active[0])
}

func TestRefreshAroundExpiry(t *testing.T) {
	f := newFixture(t, 5)
	reg := f.register(t)
	ctx := context.Background()
	rec, err := f.ledger.FindByToken(ctx, reg.RefreshToken)
	require.NoError(t, err)

	f.clock.Set(rec.ExpiresAt.Add(-time.Second))
	res, err := f.svc.Refresh(ctx, reg.RefreshToken)
	require.NoError(t, err)
	assert.NotEmpty(t, res.AccessToken)
	assert.NotEqual(t, reg.AccessToken, res.AccessToken)
	touched, err := f.ledger.FindByToken(ctx, reg.RefreshToken)
	require.NoError(t, err)
	assert.True(t, touched.LastUsedAt.Equal(f.clock.Now()))
	assert.Equal(t, 1, f.ledger.Len(), "refresh must not create a row")

	f.clock.Set(rec.ExpiresAt.Add(time.Second))
	_, err = f.svc.Refresh(ctx, reg.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestLedgerExpiryMatchesRefreshToken(t *testing.T) {
	f := newFixture(t, 5)
	f.clock.Set(time.Date(2026, 4, 1, 9, 0, 0, 700_000_000, time.UTC))
	reg := f.register(t)
	ctx := context.Background()

	rec, err := f.ledger.FindByToken(ctx, reg.RefreshToken)
	require.NoError(t, err)
	assert.True(t, rec.ExpiresAt.Equal(reg.RefreshExpiresAt), "ledger %v, token %v", rec.ExpiresAt, reg.RefreshExpiresAt)
	assert.True(t, rec.ExpiresAt.Equal(time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC)))

	f.clock.Set(rec.ExpiresAt.Add(-time.Millisecond))
	_, err = f.svc.Refresh(ctx, reg.RefreshToken)
	assert.NoError(t, err, "ledger and token agree the session is still live")

	f.clock.Set(rec.ExpiresAt)
	_, err = f.svc.Refresh(ctx, reg.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)
}

func TestRefreshRejectsDisabledUser(t *testing.T) {
	f := newFixture(t, 5)
	reg := f.register(t)
	ctx := context.Background()

	f.users.setStatus(reg.User.ID, userdomain.UserStatusDisabled)
	_, err := f.svc.Refresh(ctx, reg.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)

	f.users.setStatus(reg.User.ID, userdomain.UserStatusActive)
	_, err = f.svc.Refresh(ctx, reg.RefreshToken)
	assert.NoError(t, err)
}

func TestRefreshRejections(t *testing.T) {
	f := newFixture(t, 5)
	reg := f.register(t)
	ctx := context.Background()

	_, err := f.svc.Refresh(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)
	_, err = f.svc.Refresh(ctx, "never-issued")
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)
	_, err = f.svc.Refresh(ctx, reg.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidRefreshToken, "access token is not a refresh token")

	f.ledger.findErr = errors.New("db down")
	_, err = f.svc.Refresh(ctx, reg.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)
	f.ledger.findErr = nil

	f.users.Delete(reg.User.ID)
	_, err = f.svc.Refresh(ctx, reg.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidRefreshToken, "deleted identity collapses to unauthorized")
}

func TestLogout(t *testing.T) {
	f := newFixture(t, 5)
	reg := f.register(t)
	ctx := context.Background()

	require.NoError(t, f.svc.Logout(ctx, "never-issued"))
	assert.Equal(t, 1, f.ledger.Len())
	assert.Len(t, f.activeTokens(t, reg.User.ID), 1)

	require.NoError(t, f.svc.Logout(ctx, reg.RefreshToken))
	require.NoError(t, f.svc.Logout(ctx, reg.RefreshToken))
	assert.Empty(t, f.activeTokens(t, reg.User.ID))
	_, err := f.svc.Refresh(ctx, reg.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)
}

func TestLogoutAll(t *testing.T) {
	f := newFixture(t, 5)
	reg := f.register(t)
	f.login(t)
	f.login(t)
	require.Len(t, f.activeTokens(t, reg.User.ID), 3)

	require.NoError(t, f.svc.LogoutAll(context.Background(), reg.User.ID))
	assert.Empty(t, f.activeTokens(t, reg.User.ID))
	assert.Equal(t, 3, f.ledger.Len(), "rows stay until the sweeper runs")
}

func TestListSessionsAndDetails(t *testing.T) {
	f := newFixture(t, 5)
	reg := f.register(t)
	f.clock.Advance(time.Second)
	second := f.login(t)
	ctx := context.Background()

	views, err := f.svc.ListSessions(ctx, reg.User.ID)
	require.NoError(t, err)
	require.Len(t, views, 2)
	assert.True(t, views[0].LastUsedAt.After(views[1].LastUsedAt))
	assert.Equal(t, device.Unknown, views[0].DeviceType)
	assert.Equal(t, "desktop", views[1].DeviceType)

	details, err := f.svc.SessionDetails(ctx, second.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, views[0].ID, details.ID)

	require.NoError(t, f.svc.Logout(ctx, second.RefreshToken))
	details, err = f.svc.SessionDetails(ctx, second.RefreshToken)
	require.NoError(t, err, "details are available for invalidated sessions")
	assert.Equal(t, views[0].ID, details.ID)

	_, err = f.svc.SessionDetails(ctx, "never-issued")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestLedgerFailureIsNotUnauthorized(t *testing.T) {
	f := newFixture(t, 5)
	f.register(t)
	f.ledger.listErr = errors.New("db down")

	_, err := f.svc.Login(context.Background(), testEmail, testPassword, device.UnknownInfo())
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrUnauthorized))
}

func TestCurrentUserAndChecks(t *testing.T) {
	f := newFixture(t, 5)
	reg := f.register(t)
	ctx := context.Background()

	u, err := f.svc.CurrentUser(ctx, reg.User.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Username)
	_, err = f.svc.CurrentUser(ctx, "missing")
	assert.ErrorIs(t, err, ErrIdentityNotFound)
	assert.ErrorIs(t, err, ErrNotFound)

	exists, err := f.svc.CheckUsername(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, exists)
	exists, err = f.svc.CheckEmail(ctx, "ALICE@example.com")
	require.NoError(t, err)
	assert.True(t, exists)
	exists, err = f.svc.CheckEmail(ctx, "bob@example.com")
	require.NoError(t, err)
	assert.False(t, exists)
	_, err = f.svc.CheckUsername(ctx, " ")
	assert.ErrorIs(t, err, ErrInvalidInput)
}
