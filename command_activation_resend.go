package accounts

import (
	"context"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

type ResendActivationMessage struct {
	Email      string `json:"email"`
	OnResponse func(resp *ResendActivationResponse)
}

func (e ResendActivationMessage) Type() string { return "user.activation_resend" }

type ResendActivationResponse struct {
	Activation       *EmailActivation
	NotificationSent bool
}

// ResendActivationHandler issues a fresh confirmation code for an
// already registered e-mail address. Previously issued codes remain
// redeemable until each one is consumed or ages out on its own.
type ResendActivationHandler struct {
	repo     RepositoryManager
	notifier Notifier
	logger   Logger
}

func NewResendActivationHandler(repo RepositoryManager, notifier Notifier) *ResendActivationHandler {
	return &ResendActivationHandler{
		repo:     repo,
		notifier: notifier,
		logger:   defLogger{},
	}
}

func (h *ResendActivationHandler) WithLogger(logger Logger) *ResendActivationHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

func (h *ResendActivationHandler) Execute(ctx context.Context, event ResendActivationMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during activation resend",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *ResendActivationHandler) execute(ctx context.Context, event ResendActivationMessage) error {
	resp := &ResendActivationResponse{}

	var address string

	err := h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		email, err := h.repo.Emails().GetByAddressTx(ctx, tx, event.Email)
		if err != nil {
			if repository.IsRecordNotFound(err) {
				return ErrUnknownEmail
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to look up e-mail address")
		}

		if _, err := h.repo.Users().GetByIDTx(ctx, tx, email.UserID.String()); err != nil {
			if repository.IsRecordNotFound(err) {
				// The address exists but its owner does not; that is a data
				// integrity failure, not a user mistake.
				return ErrUnknownUser
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to look up e-mail owner")
		}

		activation, err := h.repo.Activations().IssueTx(ctx, tx, email.UserID, email.ID, ActivationKindConfirm)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "could not issue activation code")
		}

		address = email.Address
		resp.Activation = activation
		return nil
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "activation resend transaction failed")
	}

	resp.NotificationSent = true
	if h.notifier != nil {
		if err := h.notifier.SendConfirmation(ctx, resp.Activation, address); err != nil {
			resp.NotificationSent = false
			h.logger.Warn("failed to send confirmation notification", "error", err, "email", address)
		}
	}

	if event.OnResponse != nil {
		event.OnResponse(resp)
	}

	return nil
}
