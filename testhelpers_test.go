package accounts_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	accounts "github.com/inkpress/go-accounts"
)

func init() {
	// keep hashing fast in tests
	accounts.BcryptCost = 4
}

const (
	sqliteCreateUsers = `CREATE TABLE users (
    id UUID NOT NULL PRIMARY KEY,
    user_role TEXT NOT NULL,
    username TEXT NOT NULL UNIQUE,
    first_name TEXT,
    last_name TEXT,
    phone_number TEXT,
    password_hash TEXT,
    primary_email_id UUID,
    social_id TEXT UNIQUE,
    login_attempts INTEGER NOT NULL DEFAULT 0,
    login_attempt_at TIMESTAMP NULL,
    loggedin_at TIMESTAMP NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    deleted_at TIMESTAMP NULL
);`

	sqliteCreateEmails = `CREATE TABLE user_email_addresses (
    id UUID NOT NULL PRIMARY KEY,
    user_id UUID NOT NULL,
    email_address TEXT NOT NULL UNIQUE,
    confirmed BOOLEAN NOT NULL DEFAULT FALSE,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);`

	sqliteCreateActivations = `CREATE TABLE email_activations (
    id UUID NOT NULL PRIMARY KEY,
    activation_code TEXT NOT NULL UNIQUE,
    kind TEXT NOT NULL,
    user_id UUID NOT NULL,
    email_address_id UUID NOT NULL,
    activated BOOLEAN NOT NULL DEFAULT FALSE,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);`
)

func setupTestDB(t *testing.T) (*bun.DB, func()) {
	t.Helper()

	db, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)

	bunDB := bun.NewDB(db, sqlitedialect.New())

	for _, ddl := range []string{sqliteCreateUsers, sqliteCreateEmails, sqliteCreateActivations} {
		_, err = bunDB.Exec(ddl)
		require.NoError(t, err)
	}

	cleanup := func() {
		_ = bunDB.Close()
		_ = db.Close()
	}

	return bunDB, cleanup
}

func setupRepoManager(t *testing.T) (accounts.RepositoryManager, func()) {
	t.Helper()
	db, cleanup := setupTestDB(t)
	return accounts.NewRepositoryManager(db), cleanup
}

// testConfig implements accounts.Config with test-friendly values.
type testConfig struct {
	activationTTL string
}

func (testConfig) GetSigningKey() string           { return "test-signing-key" }
func (testConfig) GetSigningMethod() string        { return "HS256" }
func (testConfig) GetContextKey() string           { return "user" }
func (testConfig) GetTokenExpiration() int         { return 24 }
func (testConfig) GetExtendedTokenDuration() int   { return 72 }
func (testConfig) GetTokenLookup() string          { return "cookie:user" }
func (testConfig) GetAuthScheme() string           { return "Bearer" }
func (testConfig) GetIssuer() string               { return "test-issuer" }
func (testConfig) GetAudience() []string           { return []string{"test-audience"} }
func (testConfig) GetRejectedRouteKey() string     { return "rejected_route" }
func (testConfig) GetRejectedRouteDefault() string { return "/" }
func (c testConfig) GetActivationTTL() string {
	if c.activationTTL != "" {
		return c.activationTTL
	}
	return "24h"
}

// capturingNotifier records notifications instead of sending them.
type capturingNotifier struct {
	confirmations []string
	resets        []string
	codes         []*accounts.EmailActivation
	fail          bool
}

func (n *capturingNotifier) SendConfirmation(_ context.Context, activation *accounts.EmailActivation, address string) error {
	if n.fail {
		return context.DeadlineExceeded
	}
	n.confirmations = append(n.confirmations, address)
	n.codes = append(n.codes, activation)
	return nil
}

func (n *capturingNotifier) SendPasswordReset(_ context.Context, activation *accounts.EmailActivation, address string) error {
	if n.fail {
		return context.DeadlineExceeded
	}
	n.resets = append(n.resets, address)
	n.codes = append(n.codes, activation)
	return nil
}

// capturingSink records activity events.
type capturingSink struct {
	events []accounts.ActivityEvent
}

func (c *capturingSink) Record(_ context.Context, evt accounts.ActivityEvent) error {
	c.events = append(c.events, evt)
	return nil
}

func registerTestUser(t *testing.T, repo accounts.RepositoryManager, notifier *capturingNotifier, email, password string) *accounts.RegisterUserResponse {
	t.Helper()

	var resp *accounts.RegisterUserResponse
	handler := accounts.NewRegisterUserHandler(repo, notifier)
	err := handler.Execute(context.Background(), accounts.RegisterUserMessage{
		FirstName: "Pepe",
		LastName:  "Rone",
		Email:     email,
		Password:  password,
		OnResponse: func(r *accounts.RegisterUserResponse) {
			resp = r
		},
	})
	require.NoError(t, err)
	require.NotNil(t, resp)

	return resp
}
