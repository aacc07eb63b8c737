package service

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/meter-service/internal/auth"
	"github.com/spec-kit/meter-service/internal/config"
	"github.com/spec-kit/meter-service/internal/domain"
	"github.com/spec-kit/meter-service/internal/events"
	"github.com/spec-kit/meter-service/internal/persistence"
	"github.com/spec-kit/meter-service/internal/repository"
	apperrors "github.com/spec-kit/meter-service/pkg/util/errorutil"
)

const (
	testAccount  = "0000000000000000"
	testPassword = "validPass123"
)

type fakeUserRepo struct {
	mu     sync.Mutex
	nextID int64
	byID   map[int64]*domain.User
	err    error
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{byID: make(map[int64]*domain.User)}
}

func (r *fakeUserRepo) Create(_ context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	for _, u := range r.byID {
		if u.AccountNumber == user.AccountNumber {
			return repository.ErrConflict
		}
	}
	r.nextID++
	user.ID = r.nextID
	user.CreatedAt = time.Now()
	stored := *user
	r.byID[user.ID] = &stored
	return nil
}

func (r *fakeUserRepo) GetByID(_ context.Context, id int64) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	u, ok := r.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *fakeUserRepo) GetByAccountNumber(_ context.Context, account string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	for _, u := range r.byID {
		if u.AccountNumber == account {
			cp := *u
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *fakeUserRepo) UpdateRole(_ context.Context, id int64, role domain.Role) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	u, ok := r.byID[id]
	if !ok {
		return repository.ErrNotFound
	}
	u.Role = role
	return nil
}

func (r *fakeUserRepo) UpdatePassword(_ context.Context, id int64, hash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	u, ok := r.byID[id]
	if !ok {
		return repository.ErrNotFound
	}
	u.PasswordHash = hash
	return nil
}

func (r *fakeUserRepo) delete(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, id)
}

type fakeAttempts struct {
	mu       sync.Mutex
	failures map[string]int64
	err      error
}

func (f *fakeAttempts) Failures(_ context.Context, account string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	return f.failures[account], nil
}

func (f *fakeAttempts) RecordFailure(_ context.Context, account string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	f.failures[account]++
	return f.failures[account], nil
}

func (f *fakeAttempts) Reset(_ context.Context, account string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	delete(f.failures, account)
	return nil
}

type recordedEvents struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordedEvents) handle(_ context.Context, e events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recordedEvents) ofType(t events.EventType) []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type authFixture struct {
	now      time.Time
	users    *fakeUserRepo
	attempts *fakeAttempts
	tokens   *auth.TokenManager
	events   *recordedEvents
	svc      *AuthService
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()
	f := &authFixture{
		now:      time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC),
		users:    newFakeUserRepo(),
		attempts: &fakeAttempts{failures: make(map[string]int64)},
		events:   &recordedEvents{},
	}

	tokens, err := auth.NewTokenManager(auth.TokenConfig{
		Secret:     "service-test-secret",
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 24 * time.Hour,
	}, auth.WithClock(func() time.Time { return f.now }))
	require.NoError(t, err)
	f.tokens = tokens

	dispatcher := events.NewInMemoryDispatcher()
	for _, et := range events.AllEventTypes {
		dispatcher.Subscribe(et, f.events.handle)
	}

	f.svc, err = NewAuthService(config.AuthConfig{LoginMaxAttempts: 3}, AuthDependencies{
		UserRepo:      f.users,
		LoginAttempts: f.attempts,
		Tokens:        tokens,
		Dispatcher:    dispatcher,
	})
	require.NoError(t, err)
	return f
}

func requireStatus(t *testing.T, err error, status int) *apperrors.DomainError {
	t.Helper()
	require.Error(t, err)
	var domainErr *apperrors.DomainError
	require.True(t, errors.As(err, &domainErr), "expected DomainError, got %T", err)
	assert.Equal(t, status, domainErr.HTTPStatus)
	return domainErr
}

func TestRefreshFlow_EndToEnd(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	registered, _, err := f.svc.Register(ctx, testAccount, testPassword)
	require.NoError(t, err)

	user, pair, err := f.svc.Login(ctx, testAccount, testPassword)
	require.NoError(t, err)
	assert.Equal(t, registered.ID, user.ID)
	assert.True(t, f.tokens.Validate(pair.AccessToken))

	f.now = f.now.Add(time.Minute)
	refreshed, err := f.svc.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)
	assert.True(t, f.tokens.Validate(refreshed.AccessToken))
	assert.NotEqual(t, pair.AccessToken, refreshed.AccessToken)

	subject, err := f.tokens.SubjectOf(refreshed.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, user.ID, subject)

	assert.Len(t, f.events.ofType(events.EventUserRegistered), 1)
	assert.Len(t, f.events.ofType(events.EventLoginSucceeded), 1)
	assert.Len(t, f.events.ofType(events.EventTokensRefreshed), 1)
}

func TestRegister_Validation(t *testing.T) {
	f := newAuthFixture(t)

	tests := []struct {
		name     string
		account  string
		password string
	}{
		{name: "short account", account: "123", password: testPassword},
		{name: "non digit account", account: "000000000000000a", password: testPassword},
		{name: "short password", account: testAccount, password: "short"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := f.svc.Register(context.Background(), tt.account, tt.password)
			domainErr := requireStatus(t, err, http.StatusBadRequest)
			assert.Equal(t, "VALIDATION_FAILED", domainErr.Code)
		})
	}
}

func TestRegister_Conflict(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	_, _, err := f.svc.Register(ctx, testAccount, testPassword)
	require.NoError(t, err)

	_, _, err = f.svc.Register(ctx, testAccount, "anotherPass1")
	requireStatus(t, err, http.StatusConflict)
}

func TestRegister_StoresSaltedHashWithUserRole(t *testing.T) {
	f := newAuthFixture(t)

	user, pair, err := f.svc.Register(context.Background(), testAccount, testPassword)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleUser, user.Role)
	assert.NotEqual(t, testPassword, user.PasswordHash)
	assert.True(t, auth.VerifyPassword(testPassword, user.PasswordHash))
	assert.True(t, f.tokens.MatchesSubject(pair.AccessToken, user.ID))
	assert.True(t, pair.RefreshExpiresAt.After(pair.AccessExpiresAt))
}

func TestLogin_FailuresAreUniform(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	_, _, err := f.svc.Register(ctx, testAccount, testPassword)
	require.NoError(t, err)

	_, _, unknownErr := f.svc.Login(ctx, "9999999999999999", testPassword)
	_, _, wrongErr := f.svc.Login(ctx, testAccount, "wrongPass123")

	unknown := requireStatus(t, unknownErr, http.StatusUnauthorized)
	wrong := requireStatus(t, wrongErr, http.StatusUnauthorized)
	assert.Equal(t, unknown.Code, wrong.Code)
	assert.Equal(t, unknown.Message, wrong.Message)
	assert.ErrorIs(t, unknownErr, ErrInvalidCredentials)
	assert.ErrorIs(t, wrongErr, ErrInvalidCredentials)

	failed := f.events.ofType(events.EventLoginFailed)
	require.Len(t, failed, 2)
	assert.Equal(t, reasonUnknownAccount, failed[0].Payload.(events.LoginFailedPayload).Reason)
	assert.Equal(t, reasonBadPassword, failed[1].Payload.(events.LoginFailedPayload).Reason)
}

func TestLogin_Lockout(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	_, _, err := f.svc.Register(ctx, testAccount, testPassword)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, _, err := f.svc.Login(ctx, testAccount, "wrongPass123")
		requireStatus(t, err, http.StatusUnauthorized)
	}

	_, _, err = f.svc.Login(ctx, testAccount, testPassword)
	requireStatus(t, err, http.StatusTooManyRequests)

	delete(f.attempts.failures, testAccount)
	_, _, err = f.svc.Login(ctx, testAccount, testPassword)
	require.NoError(t, err)
}

func TestLogin_ConcurrentFailuresStopAtLimit(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	_, _, err := f.svc.Register(ctx, testAccount, testPassword)
	require.NoError(t, err)

	const callers = 20
	var (
		mu       sync.Mutex
		statuses = make(map[int]int)
		start    = make(chan struct{})
		wg       sync.WaitGroup
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, _, err := f.svc.Login(ctx, testAccount, "wrongPass123")
			var domainErr *apperrors.DomainError
			if !errors.As(err, &domainErr) {
				t.Errorf("expected DomainError, got %v", err)
				return
			}
			mu.Lock()
			statuses[domainErr.HTTPStatus]++
			mu.Unlock()
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 3, statuses[http.StatusUnauthorized], "only the allowed attempts reach the password check")
	assert.Equal(t, callers-3, statuses[http.StatusTooManyRequests])
}

func TestLogin_SuccessResetsFailures(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	_, _, err := f.svc.Register(ctx, testAccount, testPassword)
	require.NoError(t, err)

	_, _, err = f.svc.Login(ctx, testAccount, "wrongPass123")
	require.Error(t, err)
	assert.Equal(t, int64(1), f.attempts.failures[testAccount])

	_, _, err = f.svc.Login(ctx, testAccount, testPassword)
	require.NoError(t, err)
	assert.Zero(t, f.attempts.failures[testAccount])
}

func TestLogin_AttemptStoreDownFailsOpen(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	_, _, err := f.svc.Register(ctx, testAccount, testPassword)
	require.NoError(t, err)

	f.attempts.err = errors.New("redis: connection refused")

	_, _, err = f.svc.Login(ctx, testAccount, testPassword)
	require.NoError(t, err)
}

func TestLogin_PoolExhaustedIsUnavailable(t *testing.T) {
	f := newAuthFixture(t)
	f.users.err = errors.Join(repository.ErrUnavailable, persistence.ErrPoolExhausted)

	_, _, err := f.svc.Login(context.Background(), testAccount, testPassword)
	domainErr := requireStatus(t, err, http.StatusServiceUnavailable)
	assert.Equal(t, "SERVICE_UNAVAILABLE", domainErr.Code)
	assert.False(t, errors.Is(err, ErrInvalidCredentials))
}

func TestRefresh_Rejections(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	user, pair, err := f.svc.Register(ctx, testAccount, testPassword)
	require.NoError(t, err)

	t.Run("access token", func(t *testing.T) {
		_, err := f.svc.Refresh(ctx, pair.AccessToken)
		requireStatus(t, err, http.StatusUnauthorized)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := f.svc.Refresh(ctx, "not-a-token")
		requireStatus(t, err, http.StatusUnauthorized)
	})

	t.Run("store unavailable", func(t *testing.T) {
		f.users.err = repository.ErrUnavailable
		defer func() { f.users.err = nil }()
		_, err := f.svc.Refresh(ctx, pair.RefreshToken)
		requireStatus(t, err, http.StatusServiceUnavailable)
	})

	t.Run("deleted user", func(t *testing.T) {
		f.users.delete(user.ID)
		_, err := f.svc.Refresh(ctx, pair.RefreshToken)
		requireStatus(t, err, http.StatusUnauthorized)
	})

	assert.Empty(t, f.events.ofType(events.EventTokensRefreshed))
}

func TestRefresh_Expired(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	_, pair, err := f.svc.Register(ctx, testAccount, testPassword)
	require.NoError(t, err)

	f.now = f.now.Add(25 * time.Hour)
	_, err = f.svc.Refresh(ctx, pair.RefreshToken)
	requireStatus(t, err, http.StatusUnauthorized)
}

func TestCurrentUser(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	_, err := f.svc.CurrentUser(ctx)
	requireStatus(t, err, http.StatusUnauthorized)

	user, _, err := f.svc.Register(ctx, testAccount, testPassword)
	require.NoError(t, err)

	got, err := f.svc.CurrentUser(auth.ContextWithPrincipal(ctx, auth.Principal{UserID: user.ID, Role: user.Role}))
	require.NoError(t, err)
	assert.Equal(t, testAccount, got.AccountNumber)
}

func TestChangePassword(t *testing.T) {
	f := newAuthFixture(t)
	user, _, err := f.svc.Register(context.Background(), testAccount, testPassword)
	require.NoError(t, err)
	ctx := auth.ContextWithPrincipal(context.Background(), auth.Principal{UserID: user.ID, Role: user.Role})

	err = f.svc.ChangePassword(ctx, "wrongPass123", "brandNewPass1")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	err = f.svc.ChangePassword(ctx, testPassword, "tiny")
	requireStatus(t, err, http.StatusBadRequest)

	require.NoError(t, f.svc.ChangePassword(ctx, testPassword, "brandNewPass1"))

	_, _, err = f.svc.Login(context.Background(), testAccount, testPassword)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, _, err = f.svc.Login(context.Background(), testAccount, "brandNewPass1")
	require.NoError(t, err)
}

func TestPromoteToAdmin(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	target, _, err := f.svc.Register(ctx, testAccount, testPassword)
	require.NoError(t, err)
	admin := auth.Principal{UserID: 100, Role: domain.RoleAdmin}

	_, err = f.svc.PromoteToAdmin(ctx, auth.Principal{UserID: target.ID, Role: domain.RoleUser}, target.ID)
	requireStatus(t, err, http.StatusForbidden)

	_, err = f.svc.PromoteToAdmin(ctx, admin, 424242)
	requireStatus(t, err, http.StatusNotFound)

	promoted, err := f.svc.PromoteToAdmin(ctx, admin, target.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleAdmin, promoted.Role)

	emitted := f.events.ofType(events.EventUserPromoted)
	require.Len(t, emitted, 1)
	assert.Equal(t, target.ID, emitted[0].UserID)
	assert.Equal(t, int64(100), emitted[0].Payload.(events.UserPromotedPayload).ActorID)
}

func TestNewAuthService_RequiresDependencies(t *testing.T) {
	_, err := NewAuthService(config.AuthConfig{}, AuthDependencies{})
	assert.Error(t, err)
}
