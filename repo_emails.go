package accounts

import (
	"context"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type EmailAddresses interface {
	repository.Repository[*UserEmailAddress]

	GetByAddress(ctx context.Context, address string) (*UserEmailAddress, error)
	GetByAddressTx(ctx context.Context, tx bun.IDB, address string) (*UserEmailAddress, error)

	Create(ctx context.Context, record *UserEmailAddress, criteria ...repository.InsertCriteria) (*UserEmailAddress, error)
	CreateTx(ctx context.Context, tx bun.IDB, record *UserEmailAddress, criteria ...repository.InsertCriteria) (*UserEmailAddress, error)

	MarkConfirmed(ctx context.Context, id uuid.UUID) error
	MarkConfirmedTx(ctx context.Context, tx bun.IDB, id uuid.UUID) error
}

type emailAddresses struct {
	repository.Repository[*UserEmailAddress]
	db *bun.DB
}

var (
	_ EmailAddresses                           = (*emailAddresses)(nil)
	_ repository.Repository[*UserEmailAddress] = (*emailAddresses)(nil)
)

func NewEmailAddressesRepository(db *bun.DB) EmailAddresses {
	repo := repository.NewRepository[*UserEmailAddress](db, repository.ModelHandlers[*UserEmailAddress]{
		NewRecord: func() *UserEmailAddress { return &UserEmailAddress{} },
		GetID: func(e *UserEmailAddress) uuid.UUID {
			if e == nil {
				return uuid.Nil
			}
			return e.ID
		},
		SetID: func(e *UserEmailAddress, id uuid.UUID) {
			if e != nil {
				e.ID = id
			}
		},
		GetIdentifier: func() string {
			return "email_address"
		},
	})

	return &emailAddresses{
		Repository: repo,
		db:         db,
	}
}

func (r *emailAddresses) GetByAddress(ctx context.Context, address string) (*UserEmailAddress, error) {
	return r.GetByAddressTx(ctx, r.db, address)
}

func (r *emailAddresses) GetByAddressTx(ctx context.Context, tx bun.IDB, address string) (*UserEmailAddress, error) {
	record := &UserEmailAddress{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.email_address = ?", address).
		Limit(1).
		Scan(ctx)

	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, repository.NewRecordNotFound().
				WithMetadata(map[string]any{"email_address": address})
		}
		return nil, err
	}

	return record, nil
}

func (r *emailAddresses) Create(ctx context.Context, record *UserEmailAddress, criteria ...repository.InsertCriteria) (*UserEmailAddress, error) {
	return r.CreateTx(ctx, r.db, record, criteria...)
}

func (r *emailAddresses) CreateTx(ctx context.Context, tx bun.IDB, record *UserEmailAddress, criteria ...repository.InsertCriteria) (*UserEmailAddress, error) {
	if record != nil && record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	return r.Repository.CreateTx(ctx, tx, record, criteria...)
}

func (r *emailAddresses) MarkConfirmed(ctx context.Context, id uuid.UUID) error {
	return r.MarkConfirmedTx(ctx, r.db, id)
}

func (r *emailAddresses) MarkConfirmedTx(ctx context.Context, tx bun.IDB, id uuid.UUID) error {
	_, err := tx.NewUpdate().
		Model((*UserEmailAddress)(nil)).
		Set("confirmed = ?", true).
		Where("?TableAlias.id = ?", id).
		Exec(ctx)
	return err
}
