package accounts

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

type InitializePasswordResetMessage struct {
	Stage      string `json:"stage" example:"reset_init" doc:"Password reset stage."`
	Email      string `json:"email" example:"pepe.rone@example.com" doc:"Account email."`
	OnResponse func(resp *InitializePasswordResetResponse)
}

func (p InitializePasswordResetMessage) Type() string { return "user.password_reset" }

type InitializePasswordResetResponse struct {
	Activation       *EmailActivation
	Stage            string
	Success          bool
	NotificationSent bool
}

// InitializePasswordResetHandler issues a reset code for a registered
// e-mail address. Unknown addresses and orphaned e-mail rows surface as
// distinct errors; the HTTP boundary renders them the same as success
// so the form does not leak which addresses exist.
type InitializePasswordResetHandler struct {
	repo     RepositoryManager
	notifier Notifier
	logger   Logger
}

func NewInitializePasswordResetHandler(repo RepositoryManager, notifier Notifier) *InitializePasswordResetHandler {
	return &InitializePasswordResetHandler{
		repo:     repo,
		notifier: notifier,
		logger:   defLogger{},
	}
}

func (h *InitializePasswordResetHandler) WithLogger(logger Logger) *InitializePasswordResetHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

func (h *InitializePasswordResetHandler) Execute(ctx context.Context, event InitializePasswordResetMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during password reset initialization",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *InitializePasswordResetHandler) execute(ctx context.Context, event InitializePasswordResetMessage) error {
	resp := &InitializePasswordResetResponse{}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	if event.Stage != ResetInit {
		return goerrors.New("unknown or invalid stage for password reset initialization", goerrors.CategoryBadInput).
			WithMetadata(map[string]any{"stage": event.Stage})
	}

	var address string

	err := h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		email, err := h.repo.Emails().GetByAddressTx(ctx, tx, event.Email)
		if err != nil {
			if repository.IsRecordNotFound(err) {
				return ErrUnknownEmail
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to retrieve e-mail for password reset")
		}

		if _, err := h.repo.Users().GetByIDTx(ctx, tx, email.UserID.String()); err != nil {
			if repository.IsRecordNotFound(err) {
				return ErrUnknownUser
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to look up e-mail owner")
		}

		activation, err := h.repo.Activations().IssueTx(ctx, tx, email.UserID, email.ID, ActivationKindPasswordReset)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to issue password reset code")
		}

		address = email.Address
		resp.Activation = activation
		resp.Stage = AccountVerification
		return nil
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to initialize password reset")
	}

	resp.NotificationSent = true
	if h.notifier != nil {
		if err := h.notifier.SendPasswordReset(ctx, resp.Activation, address); err != nil {
			resp.NotificationSent = false
			h.logger.Warn("failed to send password reset notification", "error", err, "email", address)
		}
	}

	resp.Success = true
	if event.OnResponse != nil {
		event.OnResponse(resp)
	}

	return nil
}
