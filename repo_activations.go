package accounts

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// ConsumeActivationSQL flips the activated flag in a single conditional
// update so two concurrent requests presenting the same code can never
// both succeed. Expiry is part of the predicate: the window is checked at
// consume time, never at issue time.
var ConsumeActivationSQL = `UPDATE "email_activations" AS "act"
SET
	"activated" = TRUE
WHERE
	"act"."activation_code" = ?
AND "act"."kind" = ?
AND "act"."activated" = FALSE
AND "act"."created_at" > ?
RETURNING *;`

type Activations interface {
	repository.Repository[*EmailActivation]

	Issue(ctx context.Context, userID, emailID uuid.UUID, kind ActivationKind) (*EmailActivation, error)
	IssueTx(ctx context.Context, tx bun.IDB, userID, emailID uuid.UUID, kind ActivationKind) (*EmailActivation, error)

	GetByCode(ctx context.Context, code string) (*EmailActivation, error)
	GetByCodeTx(ctx context.Context, tx bun.IDB, code string) (*EmailActivation, error)

	Consume(ctx context.Context, code string, kind ActivationKind, ttl string) (*EmailActivation, error)
	ConsumeTx(ctx context.Context, tx bun.IDB, code string, kind ActivationKind, ttl string) (*EmailActivation, error)
}

type activations struct {
	repository.Repository[*EmailActivation]
	db *bun.DB
}

var (
	_ Activations                             = (*activations)(nil)
	_ repository.Repository[*EmailActivation] = (*activations)(nil)
)

func NewActivationsRepository(db *bun.DB) Activations {
	repo := repository.NewRepository[*EmailActivation](db, repository.ModelHandlers[*EmailActivation]{
		NewRecord: func() *EmailActivation { return &EmailActivation{} },
		GetID: func(a *EmailActivation) uuid.UUID {
			if a == nil {
				return uuid.Nil
			}
			return a.ID
		},
		SetID: func(a *EmailActivation, id uuid.UUID) {
			if a != nil {
				a.ID = id
			}
		},
		GetIdentifier: func() string {
			return "activation_code"
		},
	})

	return &activations{
		Repository: repo,
		db:         db,
	}
}

// GenerateActivationCode returns a URL-safe, unguessable code backed by
// 32 bytes of crypto randomness. Sequential or derivable ids must never
// appear in activation links.
func GenerateActivationCode() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to generate activation code")
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func (r *activations) Issue(ctx context.Context, userID, emailID uuid.UUID, kind ActivationKind) (*EmailActivation, error) {
	return r.IssueTx(ctx, r.db, userID, emailID, kind)
}

func (r *activations) IssueTx(ctx context.Context, tx bun.IDB, userID, emailID uuid.UUID, kind ActivationKind) (*EmailActivation, error) {
	code, err := GenerateActivationCode()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	record := &EmailActivation{
		ID:             uuid.New(),
		Code:           code,
		Kind:           kind,
		UserID:         userID,
		EmailAddressID: emailID,
		CreatedAt:      &now,
	}

	return r.Repository.CreateTx(ctx, tx, record)
}

func (r *activations) GetByCode(ctx context.Context, code string) (*EmailActivation, error) {
	return r.GetByCodeTx(ctx, r.db, code)
}

func (r *activations) GetByCodeTx(ctx context.Context, tx bun.IDB, code string) (*EmailActivation, error) {
	record := &EmailActivation{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.activation_code = ?", code).
		Limit(1).
		Scan(ctx)

	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, repository.NewRecordNotFound().
				WithMetadata(map[string]any{"activation_code": code})
		}
		return nil, err
	}

	return record, nil
}

func (r *activations) Consume(ctx context.Context, code string, kind ActivationKind, ttl string) (*EmailActivation, error) {
	return r.ConsumeTx(ctx, r.db, code, kind, ttl)
}

// ConsumeTx atomically marks a code as activated. On failure it re-reads
// the row to report why: unknown code (or a code issued for the other
// workflow), already activated, or expired. Activation is terminal.
func (r *activations) ConsumeTx(ctx context.Context, tx bun.IDB, code string, kind ActivationKind, ttl string) (*EmailActivation, error) {
	window, err := time.ParseDuration(ttl)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "invalid activation TTL")
	}
	cutoff := time.Now().Add(-window)

	res, err := r.Repository.RawTx(ctx, tx, ConsumeActivationSQL, code, kind, cutoff)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to consume activation code")
	}

	if len(res) > 0 {
		return res[0], nil
	}

	// The conditional update matched nothing; classify the refusal.
	record, err := r.GetByCodeTx(ctx, tx, code)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, ErrInvalidActivationCode
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to inspect activation code")
	}

	if record.Kind != kind {
		// A confirmation code presented to the reset flow (or the other
		// way around) is indistinguishable from an unknown code on purpose.
		return nil, ErrInvalidActivationCode
	}

	if record.Activated {
		return nil, ErrActivationConsumed
	}

	expired, err := record.Expired(ttl)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to check activation expiry")
	}
	if expired {
		return nil, ErrActivationExpired
	}

	return nil, ErrInvalidActivationCode
}
