package accounts

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

type ConfirmEmailMessage struct {
	Code       string `json:"confirmation_code"`
	OnResponse func(resp *ConfirmEmailResponse)
}

func (e ConfirmEmailMessage) Type() string { return "user.email_confirm" }

type ConfirmEmailResponse struct {
	User  *User
	Email *UserEmailAddress
}

// ConfirmEmailHandler redeems a confirmation code and flips the e-mail
// address to confirmed. Both happen in one transaction; a code consumed
// without the flag flipping would strand the account.
type ConfirmEmailHandler struct {
	repo     RepositoryManager
	config   Config
	activity ActivitySink
	logger   Logger
}

func NewConfirmEmailHandler(repo RepositoryManager, config Config) *ConfirmEmailHandler {
	return &ConfirmEmailHandler{
		repo:     repo,
		config:   config,
		activity: noopActivitySink{},
		logger:   defLogger{},
	}
}

func (h *ConfirmEmailHandler) WithLogger(logger Logger) *ConfirmEmailHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

func (h *ConfirmEmailHandler) WithActivitySink(sink ActivitySink) *ConfirmEmailHandler {
	h.activity = normalizeActivitySink(sink)
	return h
}

func (h *ConfirmEmailHandler) Execute(ctx context.Context, event ConfirmEmailMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during e-mail confirmation",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *ConfirmEmailHandler) execute(ctx context.Context, event ConfirmEmailMessage) error {
	if event.Code == "" {
		return ErrInvalidActivationCode
	}

	resp := &ConfirmEmailResponse{}

	err := h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		activation, err := h.repo.Activations().ConsumeTx(ctx, tx, event.Code, ActivationKindConfirm, h.activationTTL())
		if err != nil {
			return err
		}

		if err := h.repo.Emails().MarkConfirmedTx(ctx, tx, activation.EmailAddressID); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "could not confirm e-mail address")
		}

		user, err := h.repo.Users().GetByIDTx(ctx, tx, activation.UserID.String())
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "activation references missing user")
		}

		email, err := h.repo.Emails().GetByIDTx(ctx, tx, activation.EmailAddressID.String())
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "activation references missing e-mail address")
		}

		resp.User = user
		resp.Email = email
		return nil
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "e-mail confirmation transaction failed")
	}

	h.recordConfirmation(ctx, resp.User)

	if event.OnResponse != nil {
		event.OnResponse(resp)
	}

	return nil
}

func (h *ConfirmEmailHandler) recordConfirmation(ctx context.Context, user *User) {
	event := ActivityEvent{
		EventType:  ActivityEventEmailConfirmed,
		Actor:      ActorRef{ID: user.ID.String(), Type: "user"},
		UserID:     user.ID.String(),
		OccurredAt: time.Now(),
	}
	if err := h.activity.Record(ctx, event); err != nil {
		h.logger.Warn("failed to record confirmation activity", "error", err)
	}
}

func (h *ConfirmEmailHandler) activationTTL() string {
	if h.config != nil {
		if ttl := h.config.GetActivationTTL(); ttl != "" {
			return ttl
		}
	}
	return DefaultActivationTTL
}
