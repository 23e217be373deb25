package manage_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	accounts "github.com/inkpress/go-accounts"
	"github.com/inkpress/go-accounts/blog"
	"github.com/inkpress/go-accounts/manage"
)

const (
	createArticlesTable = `CREATE TABLE articles (
    id UUID NOT NULL PRIMARY KEY,
    date_posted TIMESTAMP NULL,
    user_id UUID NULL,
    title TEXT,
    body TEXT
);`

	createImageAttachmentsTable = `CREATE TABLE article_image_attachments (
    id UUID NOT NULL PRIMARY KEY,
    article_id UUID NOT NULL,
    file_name TEXT,
    thumb_name TEXT
);`

	createAttachmentsTable = `CREATE TABLE article_attachments (
    id UUID NOT NULL PRIMARY KEY,
    article_id UUID NOT NULL,
    content_type TEXT,
    file_name TEXT,
    thumb_name TEXT
);`

	createLockedRecordsTable = `CREATE TABLE locked_records (
    id UUID NOT NULL PRIMARY KEY,
    name TEXT
);`
)

// lockedRecord is referenced by records the gate cannot see, so its
// guard always refuses deletion.
type lockedRecord struct {
	bun.BaseModel `bun:"table:locked_records,alias:lck"`
	ID            uuid.UUID `bun:"id,pk,nullzero,type:uuid"`
	Name          string    `bun:"name"`
}

func (r *lockedRecord) Label() string          { return r.Name }
func (r *lockedRecord) ManageTemplate() string { return "locked/manage" }
func (r *lockedRecord) DeleteTemplate() string { return "locked/delete" }

func (r *lockedRecord) ForeignKeyGuard(context.Context, bun.IDB) (bool, error) {
	return false, nil
}

func setupGate(t *testing.T) (*bun.DB, *manage.Gate, func()) {
	t.Helper()

	db, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)

	bunDB := bun.NewDB(db, sqlitedialect.New())
	ddls := []string{
		createArticlesTable,
		createImageAttachmentsTable,
		createAttachmentsTable,
		createLockedRecordsTable,
	}
	for _, ddl := range ddls {
		_, err = bunDB.Exec(ddl)
		require.NoError(t, err)
	}

	registry := manage.NewRegistry()
	blog.RegisterManagedTypes(registry)
	registry.Register("locked", manage.Entry{
		New: func() manage.Object { return &lockedRecord{} },
		GetID: func(o manage.Object) uuid.UUID {
			return o.(*lockedRecord).ID
		},
		SetID: func(o manage.Object, id uuid.UUID) {
			o.(*lockedRecord).ID = id
		},
	})

	gate := manage.NewGate(bunDB, registry)

	cleanup := func() {
		_ = bunDB.Close()
		_ = db.Close()
	}

	return bunDB, gate, cleanup
}

func TestGateUnknownTag(t *testing.T) {
	_, gate, cleanup := setupGate(t)
	defer cleanup()

	_, err := gate.Load(context.Background(), "widget", uuid.NewString())
	assert.ErrorIs(t, err, manage.ErrNotManaged)

	_, _, err = gate.Upsert(context.Background(), "widget", "", nil)
	assert.ErrorIs(t, err, manage.ErrNotManaged)

	_, err = gate.Delete(context.Background(), "widget", uuid.NewString(), false)
	assert.ErrorIs(t, err, manage.ErrNotManaged)
}

func TestGateUpsertCreate(t *testing.T) {
	_, gate, cleanup := setupGate(t)
	defer cleanup()

	author := uuid.New()
	ctx := blog.WithAuthor(context.Background(), author)

	obj, verb, err := gate.Upsert(ctx, "article", "", func(o manage.Object) error {
		article := o.(*blog.Article)
		article.Title = "First Post"
		article.Body = "Hello."
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, manage.VerbCreate, verb)

	article := obj.(*blog.Article)
	assert.NotEqual(t, uuid.Nil, article.ID)
	assert.Equal(t, "First Post", article.Title)

	// server-side stamps the form never carries
	require.NotNil(t, article.DatePosted)
	require.NotNil(t, article.UserID)
	assert.Equal(t, author, *article.UserID)

	loaded, err := gate.Load(context.Background(), "article", article.ID.String())
	require.NoError(t, err)
	assert.Equal(t, "First Post", loaded.(*blog.Article).Title)
}

func TestGateUpsertUpdatePreservesStamps(t *testing.T) {
	_, gate, cleanup := setupGate(t)
	defer cleanup()

	author := uuid.New()
	ctx := blog.WithAuthor(context.Background(), author)

	obj, _, err := gate.Upsert(ctx, "article", "", func(o manage.Object) error {
		o.(*blog.Article).Title = "First Post"
		return nil
	})
	require.NoError(t, err)

	created := obj.(*blog.Article)
	posted := *created.DatePosted

	// a different session edits the article later
	otherCtx := blog.WithAuthor(context.Background(), uuid.New())
	time.Sleep(5 * time.Millisecond)

	obj, verb, err := gate.Upsert(otherCtx, "article", created.ID.String(), func(o manage.Object) error {
		o.(*blog.Article).Title = "First Post (edited)"
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, manage.VerbUpdate, verb)

	edited := obj.(*blog.Article)
	assert.Equal(t, "First Post (edited)", edited.Title)
	require.NotNil(t, edited.DatePosted)
	assert.WithinDuration(t, posted, *edited.DatePosted, time.Second)
	require.NotNil(t, edited.UserID)
	assert.Equal(t, author, *edited.UserID)
}

func TestGateUpsertUnknownID(t *testing.T) {
	_, gate, cleanup := setupGate(t)
	defer cleanup()

	_, _, err := gate.Upsert(context.Background(), "article", uuid.NewString(), nil)
	assert.ErrorIs(t, err, manage.ErrNotFound)

	_, _, err = gate.Upsert(context.Background(), "article", "not-a-uuid", nil)
	assert.ErrorIs(t, err, manage.ErrNotFound)
}

func TestGateDeleteRequiresConfirmation(t *testing.T) {
	_, gate, cleanup := setupGate(t)
	defer cleanup()

	obj, _, err := gate.Upsert(context.Background(), "article", "", func(o manage.Object) error {
		o.(*blog.Article).Title = "Doomed Post"
		return nil
	})
	require.NoError(t, err)
	article := obj.(*blog.Article)

	confirmation, err := gate.Delete(context.Background(), "article", article.ID.String(), false)
	require.NoError(t, err)
	require.NotNil(t, confirmation)
	assert.Equal(t, "article/delete_article", confirmation.Template)
	assert.Equal(t, "Doomed Post", confirmation.Label)

	// nothing was deleted yet
	_, err = gate.Load(context.Background(), "article", article.ID.String())
	assert.NoError(t, err)
}

func TestGateDeleteRemovesDependentsFirst(t *testing.T) {
	db, gate, cleanup := setupGate(t)
	defer cleanup()

	obj, _, err := gate.Upsert(context.Background(), "article", "", func(o manage.Object) error {
		o.(*blog.Article).Title = "Doomed Post"
		return nil
	})
	require.NoError(t, err)
	article := obj.(*blog.Article)

	ctx := context.Background()
	_, err = db.NewInsert().Model(&blog.ArticleImageAttachment{
		ID:        uuid.New(),
		ArticleID: article.ID,
		FileName:  "photo.jpg",
	}).Exec(ctx)
	require.NoError(t, err)

	_, err = db.NewInsert().Model(&blog.ArticleAttachment{
		ID:          uuid.New(),
		ArticleID:   article.ID,
		ContentType: "application/pdf",
		FileName:    "notes.pdf",
	}).Exec(ctx)
	require.NoError(t, err)

	confirmation, err := gate.Delete(ctx, "article", article.ID.String(), true)
	require.NoError(t, err)
	assert.Nil(t, confirmation)

	_, err = gate.Load(ctx, "article", article.ID.String())
	assert.ErrorIs(t, err, manage.ErrNotFound)

	count, err := db.NewSelect().Model((*blog.ArticleImageAttachment)(nil)).Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	count, err = db.NewSelect().Model((*blog.ArticleAttachment)(nil)).Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestGateDeleteForeignKeyProtected(t *testing.T) {
	_, gate, cleanup := setupGate(t)
	defer cleanup()

	obj, _, err := gate.Upsert(context.Background(), "locked", "", func(o manage.Object) error {
		o.(*lockedRecord).Name = "still referenced"
		return nil
	})
	require.NoError(t, err)
	record := obj.(*lockedRecord)

	_, err = gate.Delete(context.Background(), "locked", record.ID.String(), true)
	assert.ErrorIs(t, err, manage.ErrForeignKeyProtected)

	// the refusal left the record in place
	_, err = gate.Load(context.Background(), "locked", record.ID.String())
	assert.NoError(t, err)
}

func TestAuthorize(t *testing.T) {
	session := func(role string) *accounts.SessionObject {
		return &accounts.SessionObject{Data: map[string]any{"role": role}}
	}

	tests := []struct {
		name    string
		session *accounts.SessionObject
		verb    manage.Verb
		wantErr bool
	}{
		{"admin can create", session("admin"), manage.VerbCreate, false},
		{"member cannot create", session("member"), manage.VerbCreate, true},
		{"member can update", session("member"), manage.VerbUpdate, false},
		{"guest cannot update", session("guest"), manage.VerbUpdate, true},
		{"owner can create", session("owner"), manage.VerbCreate, false},
		{"nil session", nil, manage.VerbUpdate, true},
		{"unknown verb", session("owner"), manage.Verb("read"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := manage.Authorize(tt.session, tt.verb)
			if tt.wantErr {
				assert.ErrorIs(t, err, manage.ErrNotPermitted)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestAuthorizeDelete(t *testing.T) {
	owner := &accounts.SessionObject{Data: map[string]any{"role": "owner"}}
	admin := &accounts.SessionObject{Data: map[string]any{"role": "admin"}}

	assert.NoError(t, manage.AuthorizeDelete(owner))
	assert.ErrorIs(t, manage.AuthorizeDelete(admin), manage.ErrNotPermitted)
	assert.ErrorIs(t, manage.AuthorizeDelete(nil), manage.ErrNotPermitted)
}
