package social

import (
	"context"
	"fmt"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"

	"github.com/inkpress/go-accounts"
)

// Result contains the resolved user and how it was obtained.
type Result struct {
	User      *accounts.User
	IsNewUser bool
	Linked    bool
}

// Linker resolves a provider profile to exactly one local user. Four
// outcomes are possible: the social id is already known, the profile
// e-mail belongs to an existing account which gets the social id linked,
// the e-mail is unknown and a fresh account is provisioned, or the
// provider shared no e-mail and an account is provisioned without one.
type Linker struct {
	repo     accounts.RepositoryManager
	activity accounts.ActivitySink
	logger   accounts.Logger
}

// NewLinker creates a Linker on top of the shared repositories.
func NewLinker(repo accounts.RepositoryManager) *Linker {
	return &Linker{
		repo:   repo,
		logger: accounts.NewDefaultLogger(),
	}
}

func (l *Linker) WithLogger(logger accounts.Logger) *Linker {
	if logger != nil {
		l.logger = logger
	}
	return l
}

func (l *Linker) WithActivitySink(sink accounts.ActivitySink) *Linker {
	l.activity = sink
	return l
}

// Resolve maps the profile to a user, provisioning or linking as
// needed. Everything runs in one transaction; re-running the same
// profile always lands on the same user.
func (l *Linker) Resolve(ctx context.Context, profile *Profile) (*Result, error) {
	if profile == nil {
		return nil, ErrUserInfoFailed
	}
	if profile.ProviderUserID == "" {
		return nil, ErrMissingSubject
	}

	res := &Result{}
	socialID := profile.SocialID()

	err := l.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		// Branch 1: the social id is already on record.
		user, err := l.repo.Users().GetBySocialIDTx(ctx, tx, socialID)
		if err == nil {
			if err := l.repo.Users().TrackSuccessfulLoginTx(ctx, tx, user); err != nil {
				l.logger.Error("failed to track social login", "error", err)
			}
			res.User = user
			return nil
		}
		if !repository.IsRecordNotFound(err) {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to look up social id")
		}

		if profile.Email != "" {
			// Branch 2: the e-mail belongs to an existing account.
			email, err := l.repo.Emails().GetByAddressTx(ctx, tx, profile.Email)
			if err == nil {
				owner, err := l.repo.Users().GetByIDTx(ctx, tx, email.UserID.String())
				if err != nil {
					return goerrors.Wrap(err, goerrors.CategoryInternal, "e-mail references missing user")
				}

				if err := l.repo.Users().LinkSocialIDTx(ctx, tx, owner.ID, socialID); err != nil {
					return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to link social id")
				}
				owner.SocialID = &socialID

				if err := l.repo.Users().TrackSuccessfulLoginTx(ctx, tx, owner); err != nil {
					l.logger.Error("failed to track social login", "error", err)
				}

				res.User = owner
				res.Linked = true
				return nil
			}
			if !repository.IsRecordNotFound(err) {
				return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to look up e-mail address")
			}

			// Branch 3: unknown e-mail, provision a fresh account. The
			// provider vouched for the address so it arrives confirmed.
			return l.provision(ctx, tx, profile, socialID, true, res)
		}

		// Branch 4: the provider shared no e-mail; provision a user
		// without an address. Password login stays unavailable until an
		// e-mail is attached and confirmed.
		return l.provision(ctx, tx, profile, socialID, false, res)
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return nil, richErr
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "social linking transaction failed")
	}

	l.recordLogin(ctx, res)

	return res, nil
}

func (l *Linker) provision(ctx context.Context, tx bun.Tx, profile *Profile, socialID string, withEmail bool, res *Result) error {
	user := l.userFromProfile(profile, socialID)

	if _, err := l.repo.Users().GetByUsernameTx(ctx, tx, user.Username); err == nil {
		// Someone already owns the friendly username; fall back to a
		// name derived from the provider subject, which is unique.
		user.Username = fmt.Sprintf("%s_%s", profile.Provider, profile.ProviderUserID)
	} else if !repository.IsRecordNotFound(err) {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to check username availability")
	}

	user, err := l.repo.Users().CreateTx(ctx, tx, user)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryConflict, "failed to create user from profile")
	}

	if withEmail {
		email := &accounts.UserEmailAddress{
			UserID:    user.ID,
			Address:   profile.Email,
			Confirmed: true,
		}

		if email, err = l.repo.Emails().CreateTx(ctx, tx, email); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryConflict, "failed to create e-mail from profile")
		}

		if err := l.repo.Users().SetPrimaryEmailTx(ctx, tx, user.ID, email.ID); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to set primary e-mail")
		}
		user.PrimaryEmailID = &email.ID
	}

	res.User = user
	res.IsNewUser = true
	return nil
}

func (l *Linker) userFromProfile(profile *Profile, socialID string) *accounts.User {
	user := &accounts.User{
		SocialID: &socialID,
	}

	if profile.FirstName != "" {
		user.FirstName = profile.FirstName
		user.LastName = profile.LastName
	} else if profile.Name != "" {
		parts := strings.SplitN(profile.Name, " ", 2)
		user.FirstName = parts[0]
		if len(parts) > 1 {
			user.LastName = parts[1]
		}
	}

	if profile.Username != "" {
		user.Username = profile.Username
	} else if profile.Email != "" {
		user.Username = strings.Split(profile.Email, "@")[0]
	} else {
		user.Username = fmt.Sprintf("%s_%s", profile.Provider, profile.ProviderUserID)
	}

	return user
}

func (l *Linker) recordLogin(ctx context.Context, res *Result) {
	if l.activity == nil || res.User == nil {
		return
	}

	event := accounts.ActivityEvent{
		EventType: accounts.ActivityEventSocialLogin,
		Actor:     accounts.ActorRef{ID: res.User.ID.String(), Type: "user"},
		UserID:    res.User.ID.String(),
		Metadata: map[string]any{
			"new_user": res.IsNewUser,
			"linked":   res.Linked,
		},
		OccurredAt: time.Now(),
	}

	if err := l.activity.Record(ctx, event); err != nil {
		l.logger.Warn("failed to record social login activity", "error", err)
	}
}
