package auth_test

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/go-session-auth/auth"
	"github.com/jrsteele09/go-session-auth/internal/clock"
	autherrors "github.com/jrsteele09/go-session-auth/internal/errors"
	"github.com/jrsteele09/go-session-auth/internal/metrics"
	"github.com/jrsteele09/go-session-auth/lockout"
	"github.com/jrsteele09/go-session-auth/roles"
	"github.com/jrsteele09/go-session-auth/store/memory"
	"github.com/jrsteele09/go-session-auth/token"
	"github.com/jrsteele09/go-session-auth/token/refresh"
	"github.com/jrsteele09/go-session-auth/users"
)

const (
	secretStr        = "0123456789abcdef0123456789abcdef"
	issuer           = "com.testissuer"
	audience         = "api"
	testUserEmail    = "john.doe@example.com"
	testUserPassword = "Passw0rd!"
	testIP           = "203.0.113.7"
)

var startTime = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

// testFixture holds all test dependencies
type testFixture struct {
	store   *memory.Store
	clock   *clock.Fake
	codec   *token.Codec
	tokens  *refresh.Manager
	metrics *metrics.Metrics
	service *auth.SessionService
}

// setupTestFixture creates a new test fixture backed by the memory store
func setupTestFixture(t *testing.T, options ...auth.SessionServiceOption) *testFixture {
	t.Helper()

	clk := clock.NewFake(startTime)
	store := memory.New()
	_, err := roles.Seed(context.Background(), store.Repos().Roles, startTime)
	require.NoError(t, err)

	signer, err := token.NewHMACSigner(secretStr)
	require.NoError(t, err)
	codec, err := token.NewCodec(signer, issuer, audience, token.WithClock(clk))
	require.NoError(t, err)

	repos := store.Repos()
	tokens, err := refresh.NewManager(repos.RefreshTokens, refresh.WithClock(clk))
	require.NoError(t, err)

	m := metrics.New(prometheus.NewRegistry())

	opts := append([]auth.SessionServiceOption{auth.WithClock(clk), auth.WithMetrics(m)}, options...)
	service, err := auth.NewSessionService(repos, store, codec, tokens, users.BcryptVerifier{}, opts...)
	require.NoError(t, err)

	return &testFixture{store: store, clock: clk, codec: codec, tokens: tokens, metrics: m, service: service}
}

func testRegistration(email, idNumber string) users.Registration {
	return users.Registration{
		Email:                email,
		Password:             testUserPassword,
		ConfirmPassword:      testUserPassword,
		IdentificationType:   "CC",
		IdentificationNumber: idNumber,
		Names:                "John",
		Surnames:             "Doe",
		BirthDate:            "1990-05-01",
		Sex:                  "M",
		City:                 "Medellín",
		Country:              "Colombia",
		Address:              "Carrera 7 # 8-9",
		PhoneNumber:          "+57 300 000 0000",
		Department:           "Sales",
	}
}

// createTestUser stores an active user with the test password
func (f *testFixture) createTestUser(t *testing.T, email string, roleNames ...string) *users.User {
	t.Helper()
	ctx := context.Background()

	hash, err := users.HashPassword(testUserPassword)
	require.NoError(t, err)

	reg := testRegistration(email, "")
	user := reg.NewUser(hash, f.clock.Now())
	repos := f.store.Repos()
	require.NoError(t, repos.Users.Create(ctx, user))

	for _, name := range roleNames {
		role, err := repos.Roles.GetByName(ctx, name)
		require.NoError(t, err)
		require.NoError(t, repos.Roles.AssignToUser(ctx, &roles.UserRole{UserID: user.ID, RoleID: role.ID, AssignedAt: f.clock.Now()}))
	}
	return user
}

func (f *testFixture) decode(t *testing.T, signed string) token.Claims {
	t.Helper()
	claims, err := f.codec.Decode(signed, token.DecodeOptions{ValidateExpiry: true})
	require.NoError(t, err)
	return claims
}

func (f *testFixture) storedUser(t *testing.T, id string) *users.User {
	t.Helper()
	u, err := f.store.Repos().Users.GetByID(context.Background(), id)
	require.NoError(t, err)
	return u
}

func (f *testFixture) refreshRow(t *testing.T, value string) *refresh.RefreshToken {
	t.Helper()
	rt, err := f.store.Repos().RefreshTokens.GetByToken(context.Background(), value)
	require.NoError(t, err)
	return rt
}

func TestNewSessionServiceRequiresDependencies(t *testing.T) {
	_, err := auth.NewSessionService(auth.Repos{}, nil, nil, nil, nil)
	require.Error(t, err)
}

func TestAuthenticateSuccess(t *testing.T) {
	f := setupTestFixture(t)
	user := f.createTestUser(t, testUserEmail, roles.EndUser, roles.Employee)

	resp, err := f.service.Authenticate(context.Background(), "John.Doe@Example.com", testUserPassword, testIP)
	require.NoError(t, err)

	assert.True(t, resp.IsAuthenticated)
	assert.Equal(t, auth.MsgAuthenticated, resp.Message)
	assert.NotEmpty(t, resp.RefreshToken)
	require.NotNil(t, resp.TokenExpiration)
	assert.Equal(t, startTime.Add(auth.DefaultAccessTokenTTL), *resp.TokenExpiration)
	require.NotNil(t, resp.User)
	assert.Equal(t, user.ID, resp.User.ID)
	assert.Equal(t, "John Doe", resp.User.FullName)
	assert.Equal(t, "1990-05-01", resp.User.BirthDate)
	assert.Equal(t, []string{roles.Employee, roles.EndUser}, resp.User.Roles)

	claims := f.decode(t, resp.Token)
	assert.Equal(t, user.ID, claims.Subject)
	assert.Equal(t, testUserEmail, claims.Email)
	assert.Equal(t, []string{roles.Employee, roles.EndUser}, claims.Roles)
	assert.Equal(t, "Sales", claims.Attributes[token.AttrDepartment])

	rt := f.refreshRow(t, resp.RefreshToken)
	assert.Equal(t, user.ID, rt.UserID)
	assert.Equal(t, testIP, rt.CreatedByIP)
	assert.Equal(t, startTime.Add(auth.DefaultRefreshTokenTTL), rt.ExpiresAt)

	stored := f.storedUser(t, user.ID)
	require.NotNil(t, stored.LastLoginAt)
	assert.Equal(t, startTime, *stored.LastLoginAt)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.LoginsTotal.WithLabelValues(metrics.OutcomeSuccess)))
}

func TestAuthenticateUnknownEmailMatchesWrongPassword(t *testing.T) {
	f := setupTestFixture(t)
	f.createTestUser(t, testUserEmail)
	ctx := context.Background()

	_, unknownErr := f.service.Authenticate(ctx, "nobody@example.com", testUserPassword, testIP)
	require.ErrorIs(t, unknownErr, autherrors.ErrInvalidCredentials)

	_, wrongErr := f.service.Authenticate(ctx, testUserEmail, "Wr0ng-pass", testIP)
	require.ErrorIs(t, wrongErr, autherrors.ErrInvalidCredentials)

	assert.Equal(t, unknownErr.Error(), wrongErr.Error())
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.LoginsTotal.WithLabelValues(metrics.OutcomeInvalidCredentials)))
}

func TestAuthenticateValidation(t *testing.T) {
	f := setupTestFixture(t)
	_, err := f.service.Authenticate(context.Background(), "", "", testIP)
	require.ErrorIs(t, err, autherrors.ErrValidation)
}

func TestAuthenticateInactiveAccount(t *testing.T) {
	f := setupTestFixture(t)
	user := f.createTestUser(t, testUserEmail)
	require.NoError(t, f.store.Repos().Users.SetActive(context.Background(), user.ID, false))

	_, err := f.service.Authenticate(context.Background(), testUserEmail, testUserPassword, testIP)
	require.ErrorIs(t, err, autherrors.ErrAccountInactive)
	assert.Zero(t, f.storedUser(t, user.ID).FailedLoginAttempts)
}

func TestLockoutAfterRepeatedFailures(t *testing.T) {
	f := setupTestFixture(t)
	user := f.createTestUser(t, testUserEmail)
	ctx := context.Background()

	for i := 1; i <= 4; i++ {
		_, err := f.service.Authenticate(ctx, testUserEmail, "Wr0ng-pass", testIP)
		require.ErrorIs(t, err, autherrors.ErrInvalidCredentials, "attempt %d", i)
		assert.Equal(t, i, f.storedUser(t, user.ID).FailedLoginAttempts)
	}

	// The fifth failure reports the lockout.
	_, err := f.service.Authenticate(ctx, testUserEmail, "Wr0ng-pass", testIP)
	require.ErrorIs(t, err, autherrors.ErrLockedOut)
	var locked *autherrors.LockedOutError
	require.True(t, errors.As(err, &locked))
	assert.Equal(t, 30, locked.RemainingMinutes)
	assert.Contains(t, err.Error(), "30 minutes")

	stored := f.storedUser(t, user.ID)
	assert.Equal(t, 5, stored.FailedLoginAttempts)
	require.NotNil(t, stored.LockoutEnd)
	assert.Equal(t, startTime.Add(30*time.Minute), *stored.LockoutEnd)

	// The correct password does not help while locked, and the counter stays put.
	_, err = f.service.Authenticate(ctx, testUserEmail, testUserPassword, testIP)
	require.ErrorIs(t, err, autherrors.ErrLockedOut)
	assert.Equal(t, 5, f.storedUser(t, user.ID).FailedLoginAttempts)

	f.clock.Advance(29*time.Minute + 30*time.Second)
	_, err = f.service.Authenticate(ctx, testUserEmail, testUserPassword, testIP)
	require.True(t, errors.As(err, &locked))
	assert.Equal(t, 1, locked.RemainingMinutes)

	f.clock.Advance(30 * time.Second)
	resp, err := f.service.Authenticate(ctx, testUserEmail, testUserPassword, testIP)
	require.NoError(t, err)
	assert.True(t, resp.IsAuthenticated)

	stored = f.storedUser(t, user.ID)
	assert.Zero(t, stored.FailedLoginAttempts)
	assert.Nil(t, stored.LockoutEnd)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.LockoutsTotal))
}

func TestFailureAfterLockoutWindowRestartsCounter(t *testing.T) {
	f := setupTestFixture(t, auth.WithPolicy(lockout.Policy{Threshold: 2, Duration: 10 * time.Minute}))
	user := f.createTestUser(t, testUserEmail)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, _ = f.service.Authenticate(ctx, testUserEmail, "Wr0ng-pass", testIP)
	}
	require.NotNil(t, f.storedUser(t, user.ID).LockoutEnd)

	f.clock.Advance(10 * time.Minute)
	_, err := f.service.Authenticate(ctx, testUserEmail, "Wr0ng-pass", testIP)
	require.ErrorIs(t, err, autherrors.ErrInvalidCredentials)

	stored := f.storedUser(t, user.ID)
	assert.Equal(t, 1, stored.FailedLoginAttempts)
	assert.Nil(t, stored.LockoutEnd)
}

func TestSuccessResetsCounter(t *testing.T) {
	f := setupTestFixture(t)
	user := f.createTestUser(t, testUserEmail)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _ = f.service.Authenticate(ctx, testUserEmail, "Wr0ng-pass", testIP)
	}
	_, err := f.service.Authenticate(ctx, testUserEmail, testUserPassword, testIP)
	require.NoError(t, err)
	assert.Zero(t, f.storedUser(t, user.ID).FailedLoginAttempts)
}

func TestIssueSessionUsesCurrentRoles(t *testing.T) {
	f := setupTestFixture(t)
	user := f.createTestUser(t, testUserEmail, roles.EndUser)
	ctx := context.Background()

	resp, err := f.service.IssueSession(ctx, user, testIP)
	require.NoError(t, err)
	assert.Equal(t, []string{roles.EndUser}, f.decode(t, resp.Token).Roles)

	admin, err := f.store.Repos().Roles.GetByName(ctx, roles.Admin)
	require.NoError(t, err)
	require.NoError(t, f.store.Repos().Roles.AssignToUser(ctx, &roles.UserRole{UserID: user.ID, RoleID: admin.ID, AssignedAt: f.clock.Now()}))

	resp, err = f.service.IssueSession(ctx, user, testIP)
	require.NoError(t, err)
	assert.Equal(t, []string{roles.Admin, roles.EndUser}, f.decode(t, resp.Token).Roles)

	_, err = f.service.IssueSession(ctx, nil, testIP)
	require.ErrorIs(t, err, autherrors.ErrValidation)
}

func TestRefreshSessionIsSingleUse(t *testing.T) {
	f := setupTestFixture(t)
	user := f.createTestUser(t, testUserEmail)
	ctx := context.Background()

	first, err := f.service.Authenticate(ctx, testUserEmail, testUserPassword, testIP)
	require.NoError(t, err)

	// An expired access token is still accepted for refresh.
	f.clock.Advance(2 * time.Hour)

	second, err := f.service.RefreshSession(ctx, first.Token, first.RefreshToken, testIP)
	require.NoError(t, err)
	assert.Equal(t, auth.MsgRefreshed, second.Message)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)
	assert.Equal(t, user.ID, f.decode(t, second.Token).Subject)

	old := f.refreshRow(t, first.RefreshToken)
	assert.True(t, old.Revoked)
	assert.Equal(t, second.RefreshToken, old.ReplacedBy)
	assert.Equal(t, testIP, old.RevokedByIP)

	_, err = f.service.RefreshSession(ctx, first.Token, first.RefreshToken, testIP)
	require.ErrorIs(t, err, autherrors.ErrTokenAlreadyRevoked)

	third, err := f.service.RefreshSession(ctx, second.Token, second.RefreshToken, testIP)
	require.NoError(t, err)
	assert.NotEmpty(t, third.RefreshToken)

	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.RotationsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ReuseDetected))
}

func TestRefreshSessionRejections(t *testing.T) {
	f := setupTestFixture(t)
	f.createTestUser(t, testUserEmail)
	f.createTestUser(t, "jane.doe@example.com")
	ctx := context.Background()

	john, err := f.service.Authenticate(ctx, testUserEmail, testUserPassword, testIP)
	require.NoError(t, err)
	jane, err := f.service.Authenticate(ctx, "jane.doe@example.com", testUserPassword, testIP)
	require.NoError(t, err)

	t.Run("refresh token of another user", func(t *testing.T) {
		_, err := f.service.RefreshSession(ctx, john.Token, jane.RefreshToken, testIP)
		require.ErrorIs(t, err, autherrors.ErrTokenNotFound)
		assert.False(t, f.refreshRow(t, jane.RefreshToken).Revoked)
	})

	t.Run("unknown refresh token", func(t *testing.T) {
		_, err := f.service.RefreshSession(ctx, john.Token, "does-not-exist", testIP)
		require.ErrorIs(t, err, autherrors.ErrTokenNotFound)
	})

	t.Run("tampered access token", func(t *testing.T) {
		tampered := john.Token[:len(john.Token)-2] + "xx"
		_, err := f.service.RefreshSession(ctx, tampered, john.RefreshToken, testIP)
		require.True(t, autherrors.IsTokenError(err))
		assert.False(t, f.refreshRow(t, john.RefreshToken).Revoked)
	})

	t.Run("garbage access token", func(t *testing.T) {
		_, err := f.service.RefreshSession(ctx, "not-a-jwt", john.RefreshToken, testIP)
		require.ErrorIs(t, err, autherrors.ErrTokenMalformed)
	})

	t.Run("inactive user", func(t *testing.T) {
		janeID := f.decode(t, jane.Token).Subject
		require.NoError(t, f.store.Repos().Users.SetActive(ctx, janeID, false))
		_, err := f.service.RefreshSession(ctx, jane.Token, jane.RefreshToken, testIP)
		require.ErrorIs(t, err, autherrors.ErrAccountInactive)
		assert.False(t, f.refreshRow(t, jane.RefreshToken).Revoked)
	})

	t.Run("expired refresh token", func(t *testing.T) {
		f.clock.Advance(auth.DefaultRefreshTokenTTL)
		_, err := f.service.RefreshSession(ctx, john.Token, john.RefreshToken, testIP)
		require.ErrorIs(t, err, autherrors.ErrTokenExpired)
	})
}

// failingTransactor runs fn and then fails, so nothing is committed.
type failingTransactor struct {
	inner auth.Transactor
}

var errCommit = errors.New("commit failed")

func (ft failingTransactor) InTransaction(ctx context.Context, fn func(ctx context.Context, repos auth.Repos) error) error {
	return ft.inner.InTransaction(ctx, func(ctx context.Context, repos auth.Repos) error {
		if err := fn(ctx, repos); err != nil {
			return err
		}
		return errCommit
	})
}

func TestFailedRotationLeavesOldTokenActive(t *testing.T) {
	healthy := setupTestFixture(t)
	user := healthy.createTestUser(t, testUserEmail)
	ctx := context.Background()

	login, err := healthy.service.IssueSession(ctx, user, testIP)
	require.NoError(t, err)

	broken, err := auth.NewSessionService(
		healthy.store.Repos(),
		failingTransactor{inner: healthy.store},
		healthy.codec,
		healthy.tokens,
		users.BcryptVerifier{},
		auth.WithClock(healthy.clock),
	)
	require.NoError(t, err)

	_, err = broken.RefreshSession(ctx, login.Token, login.RefreshToken, testIP)
	require.ErrorIs(t, err, errCommit)

	rt := healthy.refreshRow(t, login.RefreshToken)
	assert.False(t, rt.Revoked)
	assert.Empty(t, rt.ReplacedBy)

	list, err := healthy.tokens.List(ctx, user.ID)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = healthy.service.RefreshSession(ctx, login.Token, login.RefreshToken, testIP)
	require.NoError(t, err)
}

func TestReuseDetection(t *testing.T) {
	tests := []struct {
		name          string
		enabled       bool
		successorLive bool
	}{
		{name: "cascade enabled", enabled: true, successorLive: false},
		{name: "cascade disabled", enabled: false, successorLive: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setupTestFixture(t, auth.WithReuseDetection(tt.enabled))
			user := f.createTestUser(t, testUserEmail)
			ctx := context.Background()

			first, err := f.service.IssueSession(ctx, user, testIP)
			require.NoError(t, err)
			second, err := f.service.RefreshSession(ctx, first.Token, first.RefreshToken, testIP)
			require.NoError(t, err)

			_, err = f.service.RefreshSession(ctx, first.Token, first.RefreshToken, "198.51.100.1")
			require.ErrorIs(t, err, autherrors.ErrTokenAlreadyRevoked)

			successor := f.refreshRow(t, second.RefreshToken)
			assert.Equal(t, tt.successorLive, successor.IsActive(f.clock.Now()))
			if !tt.successorLive {
				assert.Equal(t, refresh.ActorReuseDetection, successor.RevokedBy)
			}
			assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ReuseDetected))
		})
	}
}

func TestRevokeToken(t *testing.T) {
	f := setupTestFixture(t)
	user := f.createTestUser(t, testUserEmail)
	ctx := context.Background()

	resp, err := f.service.IssueSession(ctx, user, testIP)
	require.NoError(t, err)

	revoked, err := f.service.RevokeToken(ctx, resp.RefreshToken, testIP)
	require.NoError(t, err)
	assert.True(t, revoked)

	rt := f.refreshRow(t, resp.RefreshToken)
	assert.True(t, rt.Revoked)
	assert.Equal(t, testIP, rt.RevokedByIP)

	revoked, err = f.service.RevokeToken(ctx, resp.RefreshToken, testIP)
	require.NoError(t, err)
	assert.False(t, revoked)

	revoked, err = f.service.RevokeToken(ctx, "unknown", testIP)
	require.NoError(t, err)
	assert.False(t, revoked)

	_, err = f.service.RefreshSession(ctx, resp.Token, resp.RefreshToken, testIP)
	require.ErrorIs(t, err, autherrors.ErrTokenAlreadyRevoked)
}

func TestRevokeAllForUser(t *testing.T) {
	f := setupTestFixture(t)
	user := f.createTestUser(t, testUserEmail)
	ctx := context.Background()

	a, err := f.service.Authenticate(ctx, testUserEmail, testUserPassword, testIP)
	require.NoError(t, err)
	b, err := f.service.Authenticate(ctx, testUserEmail, testUserPassword, testIP)
	require.NoError(t, err)

	n, err := f.service.RevokeAllForUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	for _, resp := range []*auth.AuthResponse{a, b} {
		_, err := f.service.RefreshSession(ctx, resp.Token, resp.RefreshToken, testIP)
		require.ErrorIs(t, err, autherrors.ErrTokenAlreadyRevoked)
		assert.Equal(t, refresh.ActorLogout, f.refreshRow(t, resp.RefreshToken).RevokedBy)
	}

	n, err = f.service.RevokeAllForUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRegisterLoginRefreshReplay(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	registered, err := f.service.Register(ctx, testRegistration(testUserEmail, "1234567890"), testIP)
	require.NoError(t, err)
	assert.Equal(t, auth.MsgRegistered, registered.Message)
	assert.True(t, registered.IsAuthenticated)
	assert.Equal(t, []string{roles.EndUser}, registered.User.Roles)
	assert.Equal(t, testUserEmail, registered.User.UserName)
	assert.True(t, registered.User.IsActive)

	login, err := f.service.Authenticate(ctx, testUserEmail, testUserPassword, testIP)
	require.NoError(t, err)
	assert.Equal(t, registered.User.ID, login.User.ID)

	refreshed, err := f.service.RefreshSession(ctx, login.Token, login.RefreshToken, testIP)
	require.NoError(t, err)
	assert.Equal(t, []string{roles.EndUser}, f.decode(t, refreshed.Token).Roles)

	_, err = f.service.RefreshSession(ctx, login.Token, login.RefreshToken, testIP)
	require.ErrorIs(t, err, autherrors.ErrTokenAlreadyRevoked)
}

func TestRegisterRejections(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	_, err := f.service.Register(ctx, testRegistration(testUserEmail, "1234567890"), testIP)
	require.NoError(t, err)

	_, err = f.service.Register(ctx, testRegistration("JOHN.DOE@example.com", "999"), testIP)
	require.ErrorIs(t, err, autherrors.ErrDuplicate)

	_, err = f.service.Register(ctx, testRegistration("other@example.com", "1234567890"), testIP)
	require.ErrorIs(t, err, autherrors.ErrDuplicate)

	invalid := testRegistration("not-an-email", "555")
	invalid.ConfirmPassword = "different"
	_, err = f.service.Register(ctx, invalid, testIP)
	require.ErrorIs(t, err, autherrors.ErrValidation)

	list, err := f.store.Repos().Users.List(ctx, 0, 10)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestRegisterWithoutDefaultRole(t *testing.T) {
	f := setupTestFixture(t, auth.WithDefaultRole("Missing"))

	resp, err := f.service.Register(context.Background(), testRegistration(testUserEmail, "1"), testIP)
	require.NoError(t, err)
	assert.Empty(t, resp.User.Roles)
	assert.Empty(t, f.decode(t, resp.Token).Roles)
}

func TestChangePassword(t *testing.T) {
	f := setupTestFixture(t)
	user := f.createTestUser(t, testUserEmail)
	ctx := context.Background()
	const newPassword = "N3w-Passw0rd"

	login, err := f.service.Authenticate(ctx, testUserEmail, testUserPassword, testIP)
	require.NoError(t, err)

	err = f.service.ChangePassword(ctx, user.ID, "Wr0ng-pass", newPassword)
	require.ErrorIs(t, err, autherrors.ErrValidation)

	err = f.service.ChangePassword(ctx, user.ID, testUserPassword, "weak")
	require.ErrorIs(t, err, autherrors.ErrValidation)

	err = f.service.ChangePassword(ctx, "missing", testUserPassword, newPassword)
	require.ErrorIs(t, err, autherrors.ErrNotFound)

	require.NoError(t, f.service.ChangePassword(ctx, user.ID, testUserPassword, newPassword))

	rt := f.refreshRow(t, login.RefreshToken)
	assert.True(t, rt.Revoked)
	assert.Equal(t, refresh.ActorPasswordChange, rt.RevokedBy)

	_, err = f.service.Authenticate(ctx, testUserEmail, testUserPassword, testIP)
	require.ErrorIs(t, err, autherrors.ErrInvalidCredentials)
	_, err = f.service.Authenticate(ctx, testUserEmail, newPassword, testIP)
	require.NoError(t, err)
}

func TestProfile(t *testing.T) {
	f := setupTestFixture(t)
	user := f.createTestUser(t, testUserEmail, roles.Admin)
	ctx := context.Background()

	info, err := f.service.Profile(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, user.ID, info.ID)
	assert.Equal(t, testUserEmail, info.Email)
	assert.Equal(t, []string{roles.Admin}, info.Roles)
	assert.Nil(t, info.LastLoginAt)

	_, err = f.service.Profile(ctx, "missing")
	require.ErrorIs(t, err, autherrors.ErrNotFound)
}

func TestIssueSessionKeepsLockoutState(t *testing.T) {
	f := setupTestFixture(t)
	stale := f.createTestUser(t, testUserEmail)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, err := f.service.Authenticate(ctx, testUserEmail, "Wr0ng-pass", testIP)
		require.ErrorIs(t, err, autherrors.ErrInvalidCredentials)
	}

	f.clock.Advance(time.Minute)
	resp, err := f.service.IssueSession(ctx, stale, testIP)
	require.NoError(t, err)
	require.NotNil(t, resp.User.LastLoginAt)

	stored := f.storedUser(t, stale.ID)
	assert.Equal(t, 4, stored.FailedLoginAttempts)
	require.NotNil(t, stored.LastLoginAt)
	assert.Equal(t, f.clock.Now(), *stored.LastLoginAt)

	_, err = f.service.Authenticate(ctx, testUserEmail, "Wr0ng-pass", testIP)
	require.ErrorIs(t, err, autherrors.ErrLockedOut)

	_, err = f.service.IssueSession(ctx, stale, testIP)
	require.NoError(t, err)
	stored = f.storedUser(t, stale.ID)
	assert.Equal(t, 5, stored.FailedLoginAttempts)
	require.NotNil(t, stored.LockoutEnd)

	_, err = f.service.Authenticate(ctx, testUserEmail, testUserPassword, testIP)
	require.ErrorIs(t, err, autherrors.ErrLockedOut)
}

func TestOverlongPasswordIsRejectedAsValidation(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()
	long := "Aa1!" + strings.Repeat("abcdefgh", 9)

	reg := testRegistration(testUserEmail, "1")
	reg.Password, reg.ConfirmPassword = long, long
	_, err := f.service.Register(ctx, reg, testIP)
	require.ErrorIs(t, err, autherrors.ErrValidation)
	assert.NotErrorIs(t, err, autherrors.ErrInternal)

	user := f.createTestUser(t, "other@example.com")
	err = f.service.ChangePassword(ctx, user.ID, testUserPassword, long)
	require.ErrorIs(t, err, autherrors.ErrValidation)
	assert.NotErrorIs(t, err, autherrors.ErrInternal)
}

var errRetry = errors.New("serialization failure")

// retryingTransactor rolls fn back and runs it again until the last attempt,
// the way a serialization retry would.
type retryingTransactor struct {
	inner    auth.Transactor
	attempts int
}

func (rt retryingTransactor) InTransaction(ctx context.Context, fn func(ctx context.Context, repos auth.Repos) error) error {
	var err error
	for i := 0; i < rt.attempts; i++ {
		last := i == rt.attempts-1
		err = rt.inner.InTransaction(ctx, func(ctx context.Context, repos auth.Repos) error {
			if err := fn(ctx, repos); err != nil {
				return err
			}
			if !last {
				return errRetry
			}
			return nil
		})
		if !errors.Is(err, errRetry) {
			return err
		}
	}
	return err
}

func TestLockoutReportedOnceWhenTransactionRetries(t *testing.T) {
	f := setupTestFixture(t)
	user := f.createTestUser(t, testUserEmail)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, _ = f.service.Authenticate(ctx, testUserEmail, "Wr0ng-pass", testIP)
	}

	var buf bytes.Buffer
	retrying, err := auth.NewSessionService(
		f.store.Repos(),
		retryingTransactor{inner: f.store, attempts: 3},
		f.codec,
		f.tokens,
		users.BcryptVerifier{},
		auth.WithClock(f.clock),
		auth.WithMetrics(f.metrics),
		auth.WithLogger(zerolog.New(&buf)),
	)
	require.NoError(t, err)

	_, err = retrying.Authenticate(ctx, testUserEmail, "Wr0ng-pass", testIP)
	require.ErrorIs(t, err, autherrors.ErrLockedOut)

	assert.Equal(t, 5, f.storedUser(t, user.ID).FailedLoginAttempts)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.LockoutsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.LoginsTotal.WithLabelValues(metrics.OutcomeLockedOut)))
	assert.Equal(t, 1, strings.Count(buf.String(), "account locked after repeated failures"))
}

func TestConcurrentRefreshRotatesOnce(t *testing.T) {
	f := setupTestFixture(t)
	user := f.createTestUser(t, testUserEmail)
	ctx := context.Background()

	login, err := f.service.IssueSession(ctx, user, testIP)
	require.NoError(t, err)

	const workers = 10
	var (
		wg        sync.WaitGroup
		responses = make(chan *auth.AuthResponse, workers)
		failures  = make(chan error, workers)
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := f.service.RefreshSession(ctx, login.Token, login.RefreshToken, testIP)
			if err != nil {
				failures <- err
				return
			}
			responses <- resp
		}()
	}
	wg.Wait()
	close(responses)
	close(failures)

	require.Len(t, responses, 1)
	winner := <-responses
	for err := range failures {
		assert.ErrorIs(t, err, autherrors.ErrTokenAlreadyRevoked)
	}

	rt := f.refreshRow(t, login.RefreshToken)
	assert.True(t, rt.Revoked)
	assert.Equal(t, winner.RefreshToken, rt.ReplacedBy)
	assert.False(t, f.refreshRow(t, winner.RefreshToken).Revoked)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.RotationsTotal))

	list, err := f.tokens.List(ctx, user.ID)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestConcurrentFailuresCountEveryAttempt(t *testing.T) {
	f := setupTestFixture(t)
	user := f.createTestUser(t, testUserEmail)
	ctx := context.Background()

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.service.Authenticate(ctx, testUserEmail, "Wr0ng-pass", testIP)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var invalid, locked int
	for err := range errs {
		switch {
		case errors.Is(err, autherrors.ErrInvalidCredentials):
			invalid++
		case errors.Is(err, autherrors.ErrLockedOut):
			locked++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 4, invalid)
	assert.Equal(t, 4, locked)

	stored := f.storedUser(t, user.ID)
	assert.Equal(t, 5, stored.FailedLoginAttempts)
	require.NotNil(t, stored.LockoutEnd)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.LockoutsTotal))
}
