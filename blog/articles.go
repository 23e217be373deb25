package blog

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/inkpress/go-accounts/manage"
)

type ctxKey int

const authorKey ctxKey = iota

// WithAuthor stores the acting user's id on the context so article
// saves can stamp ownership server-side.
func WithAuthor(ctx context.Context, userID uuid.UUID) context.Context {
	return context.WithValue(ctx, authorKey, userID)
}

// AuthorFromContext returns the acting user's id, if set.
func AuthorFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(authorKey).(uuid.UUID)
	return id, ok
}

// Article is a blog post. DatePosted and UserID are stamped when the
// record is first saved; forms never carry them.
type Article struct {
	bun.BaseModel `bun:"table:articles,alias:art"`
	ID            uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	DatePosted    *time.Time `bun:"date_posted,nullzero" json:"date_posted,omitempty"`
	UserID        *uuid.UUID `bun:"user_id,nullzero,type:uuid" json:"user_id,omitempty"`
	Title         string     `bun:"title" json:"title,omitempty"`
	Body          string     `bun:"body" json:"body,omitempty"`
}

// ArticleImageAttachment is an inline image owned by one article.
type ArticleImageAttachment struct {
	bun.BaseModel `bun:"table:article_image_attachments,alias:aia"`
	ID            uuid.UUID `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	ArticleID     uuid.UUID `bun:"article_id,notnull,type:uuid" json:"article_id,omitempty"`
	FileName      string    `bun:"file_name" json:"file_name,omitempty"`
	ThumbName     string    `bun:"thumb_name" json:"thumb_name,omitempty"`
}

// ArticleAttachment is a downloadable file owned by one article.
type ArticleAttachment struct {
	bun.BaseModel `bun:"table:article_attachments,alias:aat"`
	ID            uuid.UUID `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	ArticleID     uuid.UUID `bun:"article_id,notnull,type:uuid" json:"article_id,omitempty"`
	ContentType   string    `bun:"content_type" json:"content_type,omitempty"`
	FileName      string    `bun:"file_name" json:"file_name,omitempty"`
	ThumbName     string    `bun:"thumb_name" json:"thumb_name,omitempty"`
}

var (
	_ manage.Object           = (*Article)(nil)
	_ manage.PostPopulator    = (*Article)(nil)
	_ manage.DependentDeleter = (*Article)(nil)
)

// Label implements manage.Object.
func (a *Article) Label() string {
	if a.Title != "" {
		return a.Title
	}
	return "Article"
}

// ManageTemplate implements manage.Object.
func (a *Article) ManageTemplate() string {
	return "article/manage_article"
}

// DeleteTemplate implements manage.Object.
func (a *Article) DeleteTemplate() string {
	return "article/delete_article"
}

// ForeignKeyGuard implements manage.Object. Nothing outside the
// article's own attachments references it, and the attachments are
// deleted along with it.
func (a *Article) ForeignKeyGuard(context.Context, bun.IDB) (bool, error) {
	return true, nil
}

// PostPopulate stamps the posting date and the author on first save.
// Both survive later edits untouched.
func (a *Article) PostPopulate(ctx context.Context) error {
	if a.DatePosted == nil {
		now := time.Now().UTC()
		a.DatePosted = &now
	}

	if a.UserID == nil {
		if author, ok := AuthorFromContext(ctx); ok {
			a.UserID = &author
		}
	}

	return nil
}

// DeleteDependents removes both attachment kinds before the article
// itself goes away.
func (a *Article) DeleteDependents(ctx context.Context, tx bun.IDB) error {
	if _, err := tx.NewDelete().
		Model((*ArticleImageAttachment)(nil)).
		Where("article_id = ?", a.ID).
		Exec(ctx); err != nil {
		return err
	}

	if _, err := tx.NewDelete().
		Model((*ArticleAttachment)(nil)).
		Where("article_id = ?", a.ID).
		Exec(ctx); err != nil {
		return err
	}

	return nil
}

// RegisterManagedTypes wires the blog types into a manage registry.
func RegisterManagedTypes(registry *manage.Registry) {
	registry.Register("article", manage.Entry{
		New: func() manage.Object { return &Article{} },
		GetID: func(o manage.Object) uuid.UUID {
			if a, ok := o.(*Article); ok {
				return a.ID
			}
			return uuid.Nil
		},
		SetID: func(o manage.Object, id uuid.UUID) {
			if a, ok := o.(*Article); ok {
				a.ID = id
			}
		},
	})
}
