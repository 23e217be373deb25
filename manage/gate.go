package manage

import (
	"context"
	"database/sql"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/inkpress/go-accounts"
)

const (
	TextCodeNotManaged   = "manage_unknown_type"
	TextCodeNotFound     = "manage_record_not_found"
	TextCodeFKProtected  = "manage_fk_protected"
	TextCodeNotPermitted = "manage_not_permitted"
)

// ErrNotManaged is returned for type tags nothing registered.
var ErrNotManaged = goerrors.New("unknown managed type", goerrors.CategoryNotFound).
	WithTextCode(TextCodeNotManaged).
	WithCode(goerrors.CodeNotFound)

// ErrNotFound is returned when an id does not resolve to a record.
var ErrNotFound = goerrors.New("managed record not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodeNotFound).
	WithCode(goerrors.CodeNotFound)

// ErrForeignKeyProtected is returned when deleting a record that other
// records still reference.
var ErrForeignKeyProtected = goerrors.New("record is referenced by other records", goerrors.CategoryConflict).
	WithTextCode(TextCodeFKProtected).
	WithCode(goerrors.CodeConflict)

// ErrNotPermitted is returned when the session role lacks the verb.
var ErrNotPermitted = goerrors.New("operation not permitted for this role", goerrors.CategoryAuthz).
	WithTextCode(TextCodeNotPermitted).
	WithCode(goerrors.CodeForbidden)

// Object is a record type that can be administered through the gate.
// Implementations are bun models; the capability methods describe how
// the admin surface renders and protects them.
type Object interface {
	// Label names the record for confirmation pages and audit lines.
	Label() string

	// ManageTemplate is the form view used for create and update.
	ManageTemplate() string

	// DeleteTemplate is the confirmation view shown before a delete.
	DeleteTemplate() string

	// ForeignKeyGuard reports false when other records still reference
	// this one and deleting it would orphan them.
	ForeignKeyGuard(ctx context.Context, tx bun.IDB) (bool, error)
}

// PostPopulator runs after form values are bound, before persistence.
// Types use it to stamp server-side fields the form never carries.
type PostPopulator interface {
	PostPopulate(ctx context.Context) error
}

// DependentDeleter removes owned child records. The gate calls it in
// the same transaction, before the primary row goes away.
type DependentDeleter interface {
	DeleteDependents(ctx context.Context, tx bun.IDB) error
}

// Entry describes one managed type.
type Entry struct {
	New   func() Object
	GetID func(Object) uuid.UUID
	SetID func(Object, uuid.UUID)
}

// Registry maps type tags to entries. Registration happens during
// startup; lookups are read-only afterwards.
type Registry struct {
	entries map[string]Entry
}

func NewRegistry() *Registry {
	return &Registry{entries: map[string]Entry{}}
}

// Register adds a managed type under tag.
func (r *Registry) Register(tag string, entry Entry) {
	r.entries[tag] = entry
}

// Lookup resolves a tag to its entry.
func (r *Registry) Lookup(tag string) (Entry, error) {
	entry, ok := r.entries[tag]
	if !ok {
		return Entry{}, ErrNotManaged
	}
	return entry, nil
}

// Tags lists the registered type tags.
func (r *Registry) Tags() []string {
	tags := make([]string, 0, len(r.entries))
	for tag := range r.entries {
		tags = append(tags, tag)
	}
	return tags
}

// Verb says which persistence operation an upsert performed.
type Verb string

const (
	VerbCreate Verb = "create"
	VerbUpdate Verb = "update"
)

// Confirmation is returned by Delete when the caller has not confirmed
// yet; the handler renders the template and posts back with confirmed.
type Confirmation struct {
	Template string
	Label    string
}

// Gate performs generic create, update, and delete for registered
// types. One implementation serves every managed type; per-type
// behavior lives in the Object capabilities.
type Gate struct {
	db       *bun.DB
	registry *Registry
	logger   accounts.Logger
}

func NewGate(db *bun.DB, registry *Registry) *Gate {
	return &Gate{
		db:       db,
		registry: registry,
		logger:   accounts.NewDefaultLogger(),
	}
}

func (g *Gate) WithLogger(logger accounts.Logger) *Gate {
	if logger != nil {
		g.logger = logger
	}
	return g
}

// Registry exposes the gate's type registry.
func (g *Gate) Registry() *Registry {
	return g.registry
}

// Load fetches a managed record by tag and id.
func (g *Gate) Load(ctx context.Context, tag, id string) (Object, error) {
	entry, err := g.registry.Lookup(tag)
	if err != nil {
		return nil, err
	}
	return g.load(ctx, g.db, entry, id)
}

// Upsert creates or updates a record. An empty id means create; a
// non-empty id must resolve to an existing record. The populate
// callback binds form values onto the object before persistence.
func (g *Gate) Upsert(ctx context.Context, tag, id string, populate func(Object) error) (Object, Verb, error) {
	entry, err := g.registry.Lookup(tag)
	if err != nil {
		return nil, "", err
	}

	verb := VerbUpdate
	var obj Object

	err = g.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if id == "" {
			verb = VerbCreate
			obj = entry.New()
			entry.SetID(obj, uuid.New())
		} else {
			obj, err = g.load(ctx, tx, entry, id)
			if err != nil {
				return err
			}
		}

		if populate != nil {
			if err := populate(obj); err != nil {
				return goerrors.Wrap(err, goerrors.CategoryBadInput, "failed to bind form values")
			}
		}

		if pp, ok := obj.(PostPopulator); ok {
			if err := pp.PostPopulate(ctx); err != nil {
				return goerrors.Wrap(err, goerrors.CategoryInternal, "post populate failed")
			}
		}

		if verb == VerbCreate {
			if _, err := tx.NewInsert().Model(obj).Exec(ctx); err != nil {
				return goerrors.Wrap(err, goerrors.CategoryConflict, "failed to insert record")
			}
			return nil
		}

		if _, err := tx.NewUpdate().Model(obj).WherePK().Exec(ctx); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to update record")
		}
		return nil
	})

	if err != nil {
		return nil, "", err
	}

	g.logger.Info("managed record saved", "type", tag, "verb", string(verb), "label", obj.Label())

	return obj, verb, nil
}

// Delete removes a record in two phases. Unconfirmed calls return a
// Confirmation describing the page to render; confirmed calls check the
// foreign key guard, delete owned dependents, then the record itself,
// all in one transaction.
func (g *Gate) Delete(ctx context.Context, tag, id string, confirmed bool) (*Confirmation, error) {
	entry, err := g.registry.Lookup(tag)
	if err != nil {
		return nil, err
	}

	obj, err := g.load(ctx, g.db, entry, id)
	if err != nil {
		return nil, err
	}

	if !confirmed {
		return &Confirmation{
			Template: obj.DeleteTemplate(),
			Label:    obj.Label(),
		}, nil
	}

	err = g.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		ok, err := obj.ForeignKeyGuard(ctx, tx)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "foreign key guard failed")
		}
		if !ok {
			return ErrForeignKeyProtected
		}

		// Children first, so the delete never leaves orphans behind
		// even without database-level cascade rules.
		if dd, ok := obj.(DependentDeleter); ok {
			if err := dd.DeleteDependents(ctx, tx); err != nil {
				return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to delete dependent records")
			}
		}

		if _, err := tx.NewDelete().Model(obj).WherePK().Exec(ctx); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to delete record")
		}
		return nil
	})

	if err != nil {
		return nil, err
	}

	g.logger.Info("managed record deleted", "type", tag, "label", obj.Label())

	return nil, nil
}

func (g *Gate) load(ctx context.Context, db bun.IDB, entry Entry, id string) (Object, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, ErrNotFound
	}

	obj := entry.New()
	entry.SetID(obj, uid)

	if err := db.NewSelect().Model(obj).WherePK().Limit(1).Scan(ctx); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load record")
	}

	return obj, nil
}

// Authorize checks the session role against the verb the handler is
// about to perform. Read is implied for any authenticated session.
func Authorize(session *accounts.SessionObject, verb Verb) error {
	if session == nil {
		return ErrNotPermitted
	}

	role := session.GetRole()
	switch verb {
	case VerbCreate:
		if !role.CanCreate() {
			return ErrNotPermitted
		}
	case VerbUpdate:
		if !role.CanEdit() {
			return ErrNotPermitted
		}
	default:
		return ErrNotPermitted
	}
	return nil
}

// AuthorizeDelete checks the session role for delete.
func AuthorizeDelete(session *accounts.SessionObject) error {
	if session == nil || !session.GetRole().CanDelete() {
		return ErrNotPermitted
	}
	return nil
}
