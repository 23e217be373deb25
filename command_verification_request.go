package accounts

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

type ActivationStatusMessage struct {
	Code       string         `json:"confirmation_code" doc:"Activation code to inspect"`
	Kind       ActivationKind `json:"kind" example:"password_reset" doc:"Which workflow issued the code"`
	OnResponse func(a *ActivationStatusResponse)
}

func (a ActivationStatusMessage) Type() string { return "user.activation_status" }

type ActivationStatusResponse struct {
	Stage    string   `json:"stage" doc:"Stage to render next."`
	Redirect string   `json:"redirect" doc:"Redirect target, when applicable."`
	Expired  bool     `json:"expired" example:"true" doc:"Has the code expired or been used?"`
	Found    bool     `json:"found" example:"true" doc:"Does the code exist for this workflow?"`
	Errors   []string `json:"errors" doc:"Error messages."`
}

// ActivationStatusHandler inspects a code without consuming it, so a
// form can be rendered before the user commits to redeeming the code.
type ActivationStatusHandler struct {
	repo   RepositoryManager
	config Config
}

func NewActivationStatusHandler(repo RepositoryManager, config Config) *ActivationStatusHandler {
	return &ActivationStatusHandler{repo: repo, config: config}
}

func (h *ActivationStatusHandler) Execute(ctx context.Context, event ActivationStatusMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(ctx.Err(), goerrors.CategoryOperation, "context cancelled during activation status check")
	default:
		return h.execute(ctx, event)
	}
}

func (h *ActivationStatusHandler) execute(ctx context.Context, event ActivationStatusMessage) error {
	resp := &ActivationStatusResponse{}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	record, err := h.repo.Activations().GetByCode(ctx, event.Code)
	if err != nil {
		// An unknown code is part of the expected flow, not an application error.
		if goerrors.IsNotFound(err) {
			resp.Found = false
			if event.OnResponse != nil {
				event.OnResponse(resp)
			}
			return nil
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to retrieve activation record")
	}

	if record.Kind != event.Kind {
		resp.Found = false
		if event.OnResponse != nil {
			event.OnResponse(resp)
		}
		return nil
	}

	resp.Found = true

	if record.Activated {
		resp.Expired = true
	} else {
		expired, err := record.Expired(h.activationTTL())
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to check activation expiry")
		}
		resp.Expired = expired
	}

	if resp.Found && !resp.Expired {
		resp.Stage = ChangingPassword
	}

	if event.OnResponse != nil {
		event.OnResponse(resp)
	}

	return nil
}

func (h *ActivationStatusHandler) activationTTL() string {
	if h.config != nil {
		if ttl := h.config.GetActivationTTL(); ttl != "" {
			return ttl
		}
	}
	return DefaultActivationTTL
}
