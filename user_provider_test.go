package accounts_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	accounts "github.com/inkpress/go-accounts"
)

func setupConfirmedUser(t *testing.T, repo accounts.RepositoryManager, email, password string) *accounts.User {
	t.Helper()

	reg := registerTestUser(t, repo, &capturingNotifier{}, email, password)

	confirm := accounts.NewConfirmEmailHandler(repo, testConfig{})
	require.NoError(t, confirm.Execute(context.Background(), accounts.ConfirmEmailMessage{
		Code: reg.Activation.Code,
	}))

	return reg.User
}

func TestVerifyIdentityUnknownEmail(t *testing.T) {
	repo, cleanup := setupRepoManager(t)
	defer cleanup()

	provider := accounts.NewEmailCredentialProvider(repo)
	_, err := provider.VerifyIdentity(context.Background(), "nobody@example.com", "whatever")
	assert.ErrorIs(t, err, accounts.ErrUnknownEmail)
}

func TestVerifyIdentityWrongPassword(t *testing.T) {
	repo, cleanup := setupRepoManager(t)
	defer cleanup()

	user := setupConfirmedUser(t, repo, "pepe.rone@example.com", "some_secret_word")

	provider := accounts.NewEmailCredentialProvider(repo)
	_, err := provider.VerifyIdentity(context.Background(), "pepe.rone@example.com", "wrong_secret_word")
	assert.ErrorIs(t, err, accounts.ErrMismatchedHashAndPassword)

	// the failure was tracked
	record, err := repo.Users().GetByID(context.Background(), user.ID.String())
	require.NoError(t, err)
	assert.Equal(t, 1, record.LoginAttempts)
	assert.NotNil(t, record.LoginAttemptAt)
}

func TestVerifyIdentityUnconfirmedAccount(t *testing.T) {
	repo, cleanup := setupRepoManager(t)
	defer cleanup()

	registerTestUser(t, repo, &capturingNotifier{}, "pepe.rone@example.com", "some_secret_word")

	provider := accounts.NewEmailCredentialProvider(repo)

	// a correct password on an unconfirmed account reports the inactive
	// account, never a credential problem
	_, err := provider.VerifyIdentity(context.Background(), "pepe.rone@example.com", "some_secret_word")
	assert.ErrorIs(t, err, accounts.ErrAccountInactive)

	// a wrong password is still a credential problem, checked first
	_, err = provider.VerifyIdentity(context.Background(), "pepe.rone@example.com", "wrong_secret_word")
	assert.ErrorIs(t, err, accounts.ErrMismatchedHashAndPassword)
}

func TestVerifyIdentitySuccess(t *testing.T) {
	repo, cleanup := setupRepoManager(t)
	defer cleanup()

	user := setupConfirmedUser(t, repo, "pepe.rone@example.com", "some_secret_word")

	provider := accounts.NewEmailCredentialProvider(repo)

	// leave a failed attempt behind first
	_, err := provider.VerifyIdentity(context.Background(), "pepe.rone@example.com", "wrong_secret_word")
	require.ErrorIs(t, err, accounts.ErrMismatchedHashAndPassword)

	identity, err := provider.VerifyIdentity(context.Background(), "pepe.rone@example.com", "some_secret_word")
	require.NoError(t, err)
	require.NotNil(t, identity)

	assert.Equal(t, user.ID.String(), identity.ID())
	assert.Equal(t, "pepe.rone", identity.Username())
	assert.Equal(t, "pepe.rone@example.com", identity.Email())
	assert.Equal(t, string(accounts.RoleMember), identity.Role())

	// the success reset the attempt counter
	record, err := repo.Users().GetByID(context.Background(), user.ID.String())
	require.NoError(t, err)
	assert.Equal(t, 0, record.LoginAttempts)
	assert.Nil(t, record.LoginAttemptAt)
	assert.NotNil(t, record.LoggedInAt)
}

func TestVerifyIdentityLockout(t *testing.T) {
	repo, cleanup := setupRepoManager(t)
	defer cleanup()

	setupConfirmedUser(t, repo, "pepe.rone@example.com", "some_secret_word")

	provider := accounts.NewEmailCredentialProvider(repo)

	for i := 0; i <= accounts.MaxLoginAttempts; i++ {
		_, err := provider.VerifyIdentity(context.Background(), "pepe.rone@example.com", "wrong_secret_word")
		require.ErrorIs(t, err, accounts.ErrMismatchedHashAndPassword)
	}

	// the account is cooling down; even the correct password is refused
	_, err := provider.VerifyIdentity(context.Background(), "pepe.rone@example.com", "some_secret_word")
	assert.ErrorIs(t, err, accounts.ErrTooManyLoginAttempts)
}

func TestFindIdentityByIdentifier(t *testing.T) {
	repo, cleanup := setupRepoManager(t)
	defer cleanup()

	user := setupConfirmedUser(t, repo, "pepe.rone@example.com", "some_secret_word")

	provider := accounts.NewEmailCredentialProvider(repo)

	t.Run("by user id", func(t *testing.T) {
		identity, err := provider.FindIdentityByIdentifier(context.Background(), user.ID.String())
		require.NoError(t, err)
		assert.Equal(t, user.ID.String(), identity.ID())
		assert.Equal(t, "pepe.rone@example.com", identity.Email())
	})

	t.Run("by email address", func(t *testing.T) {
		identity, err := provider.FindIdentityByIdentifier(context.Background(), "pepe.rone@example.com")
		require.NoError(t, err)
		assert.Equal(t, user.ID.String(), identity.ID())
	})

	t.Run("unknown user id", func(t *testing.T) {
		_, err := provider.FindIdentityByIdentifier(context.Background(), uuid.NewString())
		assert.ErrorIs(t, err, accounts.ErrIdentityNotFound)
	})

	t.Run("unknown email", func(t *testing.T) {
		_, err := provider.FindIdentityByIdentifier(context.Background(), "nobody@example.com")
		assert.ErrorIs(t, err, accounts.ErrUnknownEmail)
	})
}
