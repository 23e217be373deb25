package accounts

import (
	"context"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/uptrace/bun"
)

type RegisterUserMessage struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	Password  string `json:"password"`
	UseHashid bool
	OnResponse func(resp *RegisterUserResponse)
}

func (e RegisterUserMessage) Type() string { return "user.register" }

type RegisterUserResponse struct {
	User             *User
	Activation       *EmailActivation
	NotificationSent bool
}

// RegisterUserHandler creates the user, its unconfirmed e-mail address,
// and the confirmation activation code in a single transaction, then
// dispatches the confirmation notification after commit. The user can
// not log in until the e-mail is confirmed.
type RegisterUserHandler struct {
	repo     RepositoryManager
	notifier Notifier
	logger   Logger
}

func NewRegisterUserHandler(repo RepositoryManager, notifier Notifier) *RegisterUserHandler {
	return &RegisterUserHandler{
		repo:     repo,
		notifier: notifier,
		logger:   defLogger{},
	}
}

func (h *RegisterUserHandler) WithLogger(logger Logger) *RegisterUserHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

func (h *RegisterUserHandler) Execute(ctx context.Context, event RegisterUserMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during user registration",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *RegisterUserHandler) execute(ctx context.Context, event RegisterUserMessage) error {
	resp := &RegisterUserResponse{}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	err := h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := h.repo.Users().GetByUsernameTx(ctx, tx, event.Username); err == nil {
			return ErrDuplicateUsername
		} else if !repository.IsRecordNotFound(err) {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to check username availability")
		}

		if _, err := h.repo.Emails().GetByAddressTx(ctx, tx, event.Email); err == nil {
			return ErrDuplicateEmail
		} else if !repository.IsRecordNotFound(err) {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to check e-mail availability")
		}

		hash, err := HashPassword(event.Password)
		if err != nil {
			var richErr *goerrors.Error
			if goerrors.As(err, &richErr) {
				return goerrors.Wrap(richErr, goerrors.CategoryValidation, "invalid password provided")
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password")
		}

		user := &User{
			PasswordHash: hash,
			FirstName:    event.FirstName,
			LastName:     event.LastName,
			Phone:        event.Phone,
			Username:     getUsername(event.Username, event.Email),
		}

		if event.UseHashid {
			if id, err := hashid.NewUUID(event.Email); err == nil {
				user.ID = id
			}
		}

		if user, err = h.repo.Users().CreateTx(ctx, tx, user); err != nil {
			if IsUniqueViolation(err) {
				return ErrDuplicateUsername
			}
			return goerrors.Wrap(err, goerrors.CategoryConflict, "could not create user")
		}

		email := &UserEmailAddress{
			UserID:  user.ID,
			Address: event.Email,
		}

		if email, err = h.repo.Emails().CreateTx(ctx, tx, email); err != nil {
			if IsUniqueViolation(err) {
				return ErrDuplicateEmail
			}
			return goerrors.Wrap(err, goerrors.CategoryConflict, "could not create e-mail address")
		}

		if err := h.repo.Users().SetPrimaryEmailTx(ctx, tx, user.ID, email.ID); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "could not set primary e-mail")
		}
		user.PrimaryEmailID = &email.ID

		activation, err := h.repo.Activations().IssueTx(ctx, tx, user.ID, email.ID, ActivationKindConfirm)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "could not issue activation code")
		}

		resp.User = user
		resp.Activation = activation
		return nil
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "user registration transaction failed")
	}

	// The activation row is committed; a delivery failure leaves a
	// usable token behind and resend is the recovery path.
	resp.NotificationSent = true
	if h.notifier != nil {
		if err := h.notifier.SendConfirmation(ctx, resp.Activation, event.Email); err != nil {
			resp.NotificationSent = false
			h.logger.Warn("failed to send confirmation notification", "error", err, "email", event.Email)
		}
	}

	if event.OnResponse != nil {
		event.OnResponse(resp)
	}

	return nil
}

func getUsername(username, email string) string {
	if username != "" {
		return username
	}

	if strings.Contains(email, "@") {
		username = strings.Split(email, "@")[0]
	}

	return username
}
