package social_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	accounts "github.com/inkpress/go-accounts"
	"github.com/inkpress/go-accounts/social"
)

const (
	createUsersTable = `CREATE TABLE users (
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

	createEmailsTable = `CREATE TABLE user_email_addresses (
    id UUID NOT NULL PRIMARY KEY,
    user_id UUID NOT NULL,
    email_address TEXT NOT NULL UNIQUE,
    confirmed BOOLEAN NOT NULL DEFAULT FALSE,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);`

	createActivationsTable = `CREATE TABLE email_activations (
    id UUID NOT NULL PRIMARY KEY,
    activation_code TEXT NOT NULL UNIQUE,
    kind TEXT NOT NULL,
    user_id UUID NOT NULL,
    email_address_id UUID NOT NULL,
    activated BOOLEAN NOT NULL DEFAULT FALSE,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);`
)

func setupLinker(t *testing.T) (accounts.RepositoryManager, *social.Linker, func()) {
	t.Helper()

	db, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)

	bunDB := bun.NewDB(db, sqlitedialect.New())
	for _, ddl := range []string{createUsersTable, createEmailsTable, createActivationsTable} {
		_, err = bunDB.Exec(ddl)
		require.NoError(t, err)
	}

	repo := accounts.NewRepositoryManager(bunDB)
	linker := social.NewLinker(repo)

	cleanup := func() {
		_ = bunDB.Close()
		_ = db.Close()
	}

	return repo, linker, cleanup
}

func githubProfile() *social.Profile {
	return &social.Profile{
		Provider:       "github",
		ProviderUserID: "12345",
		Email:          "pepe.rone@example.com",
		Name:           "Pepe Rone",
		Username:       "peperone",
	}
}

func TestLinkerProvisionsNewUser(t *testing.T) {
	repo, linker, cleanup := setupLinker(t)
	defer cleanup()

	result, err := linker.Resolve(context.Background(), githubProfile())
	require.NoError(t, err)
	require.NotNil(t, result.User)

	assert.True(t, result.IsNewUser)
	assert.False(t, result.Linked)
	assert.Equal(t, "peperone", result.User.Username)
	assert.Equal(t, "Pepe", result.User.FirstName)
	assert.Equal(t, "Rone", result.User.LastName)
	require.NotNil(t, result.User.SocialID)
	assert.Equal(t, "github:12345", *result.User.SocialID)

	// the provider vouched for the address, so it arrives confirmed
	email, err := repo.Emails().GetByAddress(context.Background(), "pepe.rone@example.com")
	require.NoError(t, err)
	assert.True(t, email.Confirmed)
	assert.Equal(t, result.User.ID, email.UserID)
	require.NotNil(t, result.User.PrimaryEmailID)
	assert.Equal(t, email.ID, *result.User.PrimaryEmailID)
}

func TestLinkerIsIdempotent(t *testing.T) {
	_, linker, cleanup := setupLinker(t)
	defer cleanup()

	first, err := linker.Resolve(context.Background(), githubProfile())
	require.NoError(t, err)
	assert.True(t, first.IsNewUser)

	second, err := linker.Resolve(context.Background(), githubProfile())
	require.NoError(t, err)

	assert.False(t, second.IsNewUser)
	assert.False(t, second.Linked)
	assert.Equal(t, first.User.ID, second.User.ID)
}

func TestLinkerLinksExistingAccountByEmail(t *testing.T) {
	repo, linker, cleanup := setupLinker(t)
	defer cleanup()

	ctx := context.Background()

	user, err := repo.Users().Create(ctx, &accounts.User{
		Username:     "peperone",
		PasswordHash: "$2a$04$notalotofentropyhere1234567890abcdefghijk",
	})
	require.NoError(t, err)

	_, err = repo.Emails().Create(ctx, &accounts.UserEmailAddress{
		UserID:    user.ID,
		Address:   "pepe.rone@example.com",
		Confirmed: true,
	})
	require.NoError(t, err)

	result, err := linker.Resolve(ctx, githubProfile())
	require.NoError(t, err)

	assert.False(t, result.IsNewUser)
	assert.True(t, result.Linked)
	assert.Equal(t, user.ID, result.User.ID)

	// the link is permanent: next login resolves by social id alone
	linked, err := repo.Users().GetBySocialID(ctx, "github:12345")
	require.NoError(t, err)
	assert.Equal(t, user.ID, linked.ID)
}

func TestLinkerProvisionsWithoutEmail(t *testing.T) {
	repo, linker, cleanup := setupLinker(t)
	defer cleanup()

	profile := &social.Profile{
		Provider:       "github",
		ProviderUserID: "98765",
	}

	result, err := linker.Resolve(context.Background(), profile)
	require.NoError(t, err)

	assert.True(t, result.IsNewUser)
	assert.Equal(t, "github_98765", result.User.Username)
	assert.Nil(t, result.User.PrimaryEmailID)

	// no address means password login stays unavailable
	provider := accounts.NewEmailCredentialProvider(repo)
	_, err = provider.FindIdentityByIdentifier(context.Background(), result.User.ID.String())
	require.NoError(t, err)
}

func TestLinkerUsernameCollisionFallback(t *testing.T) {
	repo, linker, cleanup := setupLinker(t)
	defer cleanup()

	ctx := context.Background()
	_, err := repo.Users().Create(ctx, &accounts.User{Username: "peperone"})
	require.NoError(t, err)

	profile := githubProfile()
	profile.Email = "other.address@example.com"

	result, err := linker.Resolve(ctx, profile)
	require.NoError(t, err)

	assert.True(t, result.IsNewUser)
	assert.Equal(t, "github_12345", result.User.Username)
}

func TestLinkerRejectsMissingSubject(t *testing.T) {
	_, linker, cleanup := setupLinker(t)
	defer cleanup()

	_, err := linker.Resolve(context.Background(), &social.Profile{Provider: "github"})
	assert.ErrorIs(t, err, social.ErrMissingSubject)

	_, err = linker.Resolve(context.Background(), nil)
	assert.ErrorIs(t, err, social.ErrUserInfoFailed)
}

func TestLinkerRecordsActivity(t *testing.T) {
	_, linker, cleanup := setupLinker(t)
	defer cleanup()

	var events []accounts.ActivityEvent
	sink := accounts.ActivitySinkFunc(func(_ context.Context, evt accounts.ActivityEvent) error {
		events = append(events, evt)
		return nil
	})

	_, err := linker.WithActivitySink(sink).Resolve(context.Background(), githubProfile())
	require.NoError(t, err)

	require.Len(t, events, 1)
	assert.Equal(t, accounts.ActivityEventSocialLogin, events[0].EventType)
	assert.Equal(t, true, events[0].Metadata["new_user"])
}
