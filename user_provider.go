package accounts

import (
	"context"

	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
)

// MaxLoginAttempts is the maximum number of failed attempts a user gets
// in a period
var MaxLoginAttempts = 5

// CoolDownPeriod is the period in which we enforce a cool down
var CoolDownPeriod = "24h"

// EmailCredentialProvider resolves identities by e-mail address and
// verifies passwords. Checks run in a fixed order so each failure mode
// is reported precisely: unknown address, missing owner, wrong
// password, and only then the unconfirmed-account gate. A correct
// password on an unconfirmed account reports the inactive account, not
// a credential problem.
type EmailCredentialProvider struct {
	repo      RepositoryManager
	Validator func(*User) error
	logger    Logger
}

// NewEmailCredentialProvider will create a new EmailCredentialProvider
func NewEmailCredentialProvider(repo RepositoryManager) *EmailCredentialProvider {
	return &EmailCredentialProvider{
		repo:      repo,
		logger:    defLogger{},
		Validator: defaultValidator,
	}
}

func (u *EmailCredentialProvider) WithLogger(l Logger) *EmailCredentialProvider {
	if l != nil {
		u.logger = l
	}
	return u
}

func (u *EmailCredentialProvider) validate(user *User) error {
	if u.Validator != nil {
		return u.Validator(user)
	}
	return defaultValidator(user)
}

// VerifyIdentity will find the user behind the e-mail address, compare
// the password, check the account is confirmed, and return the identity.
func (u *EmailCredentialProvider) VerifyIdentity(ctx context.Context, identifier, password string) (Identity, error) {
	user, email, err := u.resolve(ctx, identifier)
	if err != nil {
		return nil, err
	}

	if user.LoginAttemptAt != nil {
		expired, err := IsOutsideThresholdPeriod(*user.LoginAttemptAt, CoolDownPeriod)
		if err != nil {
			return nil, errors.Wrap(err, errors.CategoryInternal, "failed to calculate login attempt cooldown")
		}

		if expired {
			user.LoginAttempts = 0
		}
	}

	// if we have too many attempts in the given window, cool off!
	if user.LoginAttempts > MaxLoginAttempts {
		return nil, ErrTooManyLoginAttempts
	}

	if !VerifyPassword(password, user.PasswordHash) {
		// We have to increment the login_attempts counter and login_attempt_at
		if err2 := u.repo.Users().TrackAttemptedLogin(ctx, user); err2 != nil {
			return nil, errors.Wrap(err2, errors.CategoryInternal, "failed to track login attempt")
		}

		return nil, ErrMismatchedHashAndPassword
	}

	// The password matched; only now is the unconfirmed state reported.
	if email == nil || !email.Confirmed {
		return nil, ErrAccountInactive
	}

	// reset the login_attempts counter and login_attempt_at
	if err := u.repo.Users().TrackSuccessfulLogin(ctx, user); err != nil {
		u.logger.Error("failed to track successful login", "error", err)
	}

	if err := u.validate(user); err != nil {
		return nil, err
	}

	return newAuthIdentity(user, email), nil
}

// FindIdentityByIdentifier resolves an identity without checking
// credentials. Used for impersonation and session refresh paths.
func (u *EmailCredentialProvider) FindIdentityByIdentifier(ctx context.Context, identifier string) (Identity, error) {
	user, email, err := u.resolve(ctx, identifier)
	if err != nil {
		return nil, err
	}

	if err := u.validate(user); err != nil {
		return nil, err
	}

	return newAuthIdentity(user, email), nil
}

// resolve accepts either an e-mail address or a user id. Session
// refresh hands back the id minted into the token; login forms hand in
// the address.
func (u *EmailCredentialProvider) resolve(ctx context.Context, identifier string) (*User, *UserEmailAddress, error) {
	if uid, err := uuid.Parse(identifier); err == nil {
		return u.resolveByID(ctx, uid)
	}

	email, err := u.repo.Emails().GetByAddress(ctx, identifier)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, nil, ErrUnknownEmail
		}
		return nil, nil, errors.Wrap(err, errors.CategoryInternal, "failed to retrieve e-mail during verification")
	}

	user, err := u.repo.Users().GetByID(ctx, email.UserID.String())
	if err != nil {
		if repository.IsRecordNotFound(err) {
			// An address whose owner row is gone is a data integrity
			// failure, not a credential mistake.
			return nil, nil, ErrUnknownUser
		}
		return nil, nil, errors.Wrap(err, errors.CategoryInternal, "failed to retrieve user during verification")
	}

	return user, email, nil
}

func (u *EmailCredentialProvider) resolveByID(ctx context.Context, uid uuid.UUID) (*User, *UserEmailAddress, error) {
	user, err := u.repo.Users().GetByID(ctx, uid.String())
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, nil, ErrIdentityNotFound
		}
		return nil, nil, errors.Wrap(err, errors.CategoryInternal, "failed to retrieve user during verification")
	}

	var email *UserEmailAddress
	if user.PrimaryEmailID != nil {
		if rec, err := u.repo.Emails().GetByID(ctx, user.PrimaryEmailID.String()); err == nil {
			email = rec
		}
	}

	return user, email, nil
}

func newAuthIdentity(user *User, email *UserEmailAddress) authIdentity {
	aid := authIdentity{
		id:       user.ID.String(),
		username: user.Username,
		role:     string(user.Role),
	}
	if email != nil {
		aid.email = email.Address
	}
	return aid
}

type authIdentity struct {
	id       string
	username string
	email    string
	role     string
}

func (a authIdentity) ID() string {
	return a.id
}

func (a authIdentity) Username() string {
	return a.username
}

func (a authIdentity) Email() string {
	return a.email
}

func (a authIdentity) Role() string {
	return a.role
}

var _ Identity = authIdentity{}

func defaultValidator(u *User) error {
	switch u.Role {
	case RoleOwner, RoleAdmin, RoleMember, RoleGuest:
		return nil
	default:
		return errors.New("user has an unknown or invalid role", errors.CategoryAuth).
			WithTextCode("INVALID_ROLE").
			WithMetadata(map[string]any{"role": u.Role, "user_id": u.ID.String()})
	}
}
