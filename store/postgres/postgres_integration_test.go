//go:build integration

package postgres_test

import (
	"context"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/prometheus/client_golang/prometheus"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/jrsteele09/go-session-auth/auth"
	"github.com/jrsteele09/go-session-auth/internal/clock"
	autherrors "github.com/jrsteele09/go-session-auth/internal/errors"
	"github.com/jrsteele09/go-session-auth/internal/metrics"
	"github.com/jrsteele09/go-session-auth/roles"
	"github.com/jrsteele09/go-session-auth/store/postgres"
	"github.com/jrsteele09/go-session-auth/token"
	"github.com/jrsteele09/go-session-auth/token/refresh"
	"github.com/jrsteele09/go-session-auth/users"
)

const password = "Str0ng!Pass"

// setupPostgresContainer starts PostgreSQL, applies the migrations and
// returns a connected store.
func setupPostgresContainer(ctx context.Context) (*postgres.Store, func(), error) {
	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("auth_test"),
		tcpostgres.WithUsername("auth"),
		tcpostgres.WithPassword("auth"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		return nil, nil, err
	}

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		return nil, nil, err
	}
	if err := postgres.Migrate(ctx, dsn); err != nil {
		return nil, nil, err
	}
	store, err := postgres.Connect(ctx, dsn, 3)
	if err != nil {
		return nil, nil, err
	}

	cleanup := func() {
		store.Close()
		_ = container.Terminate(context.Background())
	}
	return store, cleanup, nil
}

func registration(email, idNumber string) users.Registration {
	return users.Registration{
		Email:                email,
		Password:             password,
		ConfirmPassword:      password,
		IdentificationType:   "CC",
		IdentificationNumber: idNumber,
		Names:                "Ana",
		Surnames:             "Gómez",
		BirthDate:            "1992-11-20",
		Sex:                  "F",
		City:                 "Bogotá",
		Country:              "Colombia",
		Address:              "Calle 100",
		PhoneNumber:          "+57 310 000 0000",
		Department:           "Finance",
		EmployeeCode:         "EMP-7",
	}
}

var _ = Describe("Postgres store", Ordered, func() {
	var (
		ctx     context.Context
		store   *postgres.Store
		cleanup func()
		clk     *clock.Fake
		service *auth.SessionService
	)

	BeforeAll(func() {
		ctx = context.Background()
		var err error
		store, cleanup, err = setupPostgresContainer(ctx)
		Expect(err).NotTo(HaveOccurred())

		clk = clock.NewFake(time.Now().UTC().Truncate(time.Second))
		signer, err := token.NewHMACSigner("0123456789abcdef0123456789abcdef")
		Expect(err).NotTo(HaveOccurred())
		codec, err := token.NewCodec(signer, "com.testissuer", "api", token.WithClock(clk))
		Expect(err).NotTo(HaveOccurred())
		tokens, err := refresh.NewManager(store.Repos().RefreshTokens, refresh.WithClock(clk))
		Expect(err).NotTo(HaveOccurred())

		service, err = auth.NewSessionService(store.Repos(), store, codec, tokens, users.BcryptVerifier{},
			auth.WithClock(clk),
			auth.WithMetrics(metrics.New(prometheus.NewRegistry())),
			auth.WithReuseDetection(true),
		)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterAll(func() {
		if cleanup != nil {
			cleanup()
		}
	})

	It("seeds the default roles", func() {
		for _, name := range []string{roles.Admin, roles.Employee, roles.EndUser} {
			role, err := store.Repos().Roles.GetByName(ctx, name)
			Expect(err).NotTo(HaveOccurred())
			Expect(role.IsActive).To(BeTrue())
		}
		created, err := roles.Seed(ctx, store.Repos().Roles, clk.Now())
		Expect(err).NotTo(HaveOccurred())
		Expect(created).To(BeZero())
	})

	It("registers, rotates and detects reuse", func() {
		registered, err := service.Register(ctx, registration("ana@example.com", "900"), "10.0.0.1")
		Expect(err).NotTo(HaveOccurred())
		Expect(registered.IsAuthenticated).To(BeTrue())
		Expect(registered.User.Roles).To(Equal([]string{roles.EndUser}))

		_, err = service.Register(ctx, registration("ANA@example.com", "901"), "10.0.0.1")
		Expect(err).To(MatchError(autherrors.ErrDuplicate))

		clk.Advance(time.Minute)
		rotated, err := service.RefreshSession(ctx, registered.Token, registered.RefreshToken, "10.0.0.2")
		Expect(err).NotTo(HaveOccurred())
		Expect(rotated.RefreshToken).NotTo(Equal(registered.RefreshToken))

		_, err = service.RefreshSession(ctx, registered.Token, registered.RefreshToken, "10.0.0.3")
		Expect(err).To(MatchError(autherrors.ErrTokenAlreadyRevoked))

		// The replay revoked the whole family, successor included.
		_, err = service.RefreshSession(ctx, rotated.Token, rotated.RefreshToken, "10.0.0.2")
		Expect(err).To(MatchError(autherrors.ErrTokenAlreadyRevoked))
	})

	It("locks the account after repeated failures", func() {
		_, err := service.Register(ctx, registration("lock@example.com", "902"), "")
		Expect(err).NotTo(HaveOccurred())

		for range 4 {
			_, err = service.Authenticate(ctx, "lock@example.com", "wrong", "")
			Expect(err).To(MatchError(autherrors.ErrInvalidCredentials))
		}
		_, err = service.Authenticate(ctx, "lock@example.com", "wrong", "")
		Expect(err).To(MatchError(autherrors.ErrLockedOut))

		_, err = service.Authenticate(ctx, "lock@example.com", password, "")
		Expect(err).To(MatchError(autherrors.ErrLockedOut))

		clk.Advance(31 * time.Minute)
		resp, err := service.Authenticate(ctx, "lock@example.com", password, "")
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.IsAuthenticated).To(BeTrue())

		user, err := store.Repos().Users.GetByEmail(ctx, "lock@example.com")
		Expect(err).NotTo(HaveOccurred())
		Expect(user.FailedLoginAttempts).To(BeZero())
		Expect(user.LockoutEnd).To(BeNil())
		Expect(user.LastLoginAt).NotTo(BeNil())
	})

	It("revokes every session on password change", func() {
		resp, err := service.Register(ctx, registration("change@example.com", "903"), "")
		Expect(err).NotTo(HaveOccurred())

		Expect(service.ChangePassword(ctx, resp.User.ID, password, "N3w!Password")).To(Succeed())

		_, err = service.RefreshSession(ctx, resp.Token, resp.RefreshToken, "")
		Expect(err).To(MatchError(autherrors.ErrTokenAlreadyRevoked))

		_, err = service.Authenticate(ctx, "change@example.com", "N3w!Password", "")
		Expect(err).NotTo(HaveOccurred())
	})

	It("rotates a refresh token once under concurrent use", func() {
		resp, err := service.Register(ctx, registration("race@example.com", "904"), "")
		Expect(err).NotTo(HaveOccurred())

		const workers = 10
		var wg sync.WaitGroup
		errs := make(chan error, workers)
		for range workers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := service.RefreshSession(ctx, resp.Token, resp.RefreshToken, "10.0.0.9")
				errs <- err
			}()
		}
		wg.Wait()
		close(errs)

		succeeded := 0
		for err := range errs {
			if err == nil {
				succeeded++
				continue
			}
			Expect(err).To(MatchError(autherrors.ErrTokenAlreadyRevoked))
		}
		Expect(succeeded).To(Equal(1))

		list, err := store.Repos().RefreshTokens.ListByUser(ctx, resp.User.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(list).To(HaveLen(2))
	})

	It("counts every concurrent failed login", func() {
		_, err := service.Register(ctx, registration("burst@example.com", "905"), "")
		Expect(err).NotTo(HaveOccurred())

		var wg sync.WaitGroup
		for range 4 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _ = service.Authenticate(ctx, "burst@example.com", "wrong", "")
			}()
		}
		wg.Wait()

		user, err := store.Repos().Users.GetByEmail(ctx, "burst@example.com")
		Expect(err).NotTo(HaveOccurred())
		Expect(user.FailedLoginAttempts).To(Equal(4))
		Expect(user.LockoutEnd).To(BeNil())
	})

	It("manages roles and activation", func() {
		resp, err := service.Register(ctx, registration("staff@example.com", "906"), "")
		Expect(err).NotTo(HaveOccurred())
		userID := resp.User.ID

		assigned, err := service.AssignRoles(ctx, userID, []string{roles.Employee, "Ghost"}, nil, "admin-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(assigned.Roles).To(Equal([]string{roles.Employee}))
		Expect(assigned.Unknown).To(Equal([]string{"Ghost"}))

		members, err := service.UsersInRole(ctx, roles.Employee)
		Expect(err).NotTo(HaveOccurred())
		Expect(members).To(HaveLen(1))
		Expect(members[0].ID).To(Equal(userID))

		summaries, err := service.ListRoles(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(summaries).To(HaveLen(3))
		Expect(summaries[0].Name).To(Equal(roles.EndUser))

		revoked, err := service.SetUserActive(ctx, userID, false)
		Expect(err).NotTo(HaveOccurred())
		Expect(revoked).To(Equal(int64(1)))

		sessions, err := service.ListSessions(ctx, userID)
		Expect(err).NotTo(HaveOccurred())
		Expect(sessions).To(HaveLen(1))
		Expect(sessions[0].Active).To(BeFalse())
		Expect(sessions[0].RevokedBy).To(Equal(refresh.ActorDeactivation))

		_, err = service.Authenticate(ctx, "staff@example.com", password, "")
		Expect(err).To(MatchError(autherrors.ErrAccountInactive))

		_, err = service.SetUserActive(ctx, "missing", true)
		Expect(err).To(MatchError(autherrors.ErrNotFound))
	})

	It("rolls back a failed transaction", func() {
		user, err := store.Repos().Users.GetByEmail(ctx, "ana@example.com")
		Expect(err).NotTo(HaveOccurred())

		err = store.InTransaction(ctx, func(ctx context.Context, repos auth.Repos) error {
			if err := repos.Users.SetActive(ctx, user.ID, false); err != nil {
				return err
			}
			return autherrors.ErrInternal
		})
		Expect(err).To(MatchError(autherrors.ErrInternal))

		again, err := store.Repos().Users.GetByID(ctx, user.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(again.IsActive).To(BeTrue())
	})
})
