package bunremote

import (
	"context"
	"net/url"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-wedding-cache/remote"
)

type objectRecord struct {
	bun.BaseModel `bun:"table:storage_objects"`

	Bucket      string    `bun:"bucket,pk"`
	Path        string    `bun:"path,pk"`
	ContentType string    `bun:"content_type"`
	Data        []byte    `bun:"data"`
	Size        int64     `bun:"size"`
	CreatedAt   time.Time `bun:"created_at,notnull"`
}

func (o objectRecord) toObject() remote.Object {
	return remote.Object{Path: o.Path, ContentType: o.ContentType, Size: o.Size, CreatedAt: o.CreatedAt}
}

type bucket struct {
	backend *Backend
	name    string
}

func (b *bucket) Upload(ctx context.Context, path string, data []byte, opts remote.UploadOptions) (remote.Object, error) {
	path = strings.TrimPrefix(path, "/")
	if path == "" {
		return remote.Object{}, goerrors.New("object path cannot be empty", goerrors.CategoryBadInput).
			WithTextCode("OBJECT_PATH_EMPTY")
	}
	contentType := opts.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	rec := objectRecord{
		Bucket:      b.name,
		Path:        path,
		ContentType: contentType,
		Data:        data,
		Size:        int64(len(data)),
		CreatedAt:   b.backend.opts.Now().UTC(),
	}

	q := b.backend.db.NewInsert().Model(&rec)
	if opts.Upsert {
		q = q.On("CONFLICT (bucket, path) DO UPDATE").
			Set("content_type = EXCLUDED.content_type").
			Set("data = EXCLUDED.data").
			Set("size = EXCLUDED.size")
	}
	if _, err := q.Exec(ctx); err != nil {
		return remote.Object{}, classify(err, b.name+" upload")
	}
	return rec.toObject(), nil
}

func (b *bucket) Remove(ctx context.Context, paths ...string) error {
	if len(paths) == 0 {
		return nil
	}
	_, err := b.backend.db.NewDelete().
		Model((*objectRecord)(nil)).
		Where("? = ?", bun.Ident("bucket"), b.name).
		Where("? IN (?)", bun.Ident("path"), bun.In(paths)).
		Exec(ctx)
	return classify(err, b.name+" remove")
}

func (b *bucket) PublicURL(path string) string {
	base := strings.TrimRight(b.backend.opts.PublicBaseURL, "/")
	return base + "/storage/v1/object/public/" + url.PathEscape(b.name) + "/" + strings.TrimPrefix(path, "/")
}

func (b *bucket) List(ctx context.Context, prefix string) ([]remote.Object, error) {
	return remote.Retry(ctx, b.backend.opts.Retry, b.backend.logger, func(ctx context.Context) ([]remote.Object, error) {
		var recs []objectRecord
		err := b.backend.db.NewSelect().
			Model(&recs).
			Column("bucket", "path", "content_type", "size", "created_at").
			Where("? = ?", bun.Ident("bucket"), b.name).
			Where("? LIKE ?", bun.Ident("path"), prefix+"%").
			OrderExpr("? ASC", bun.Ident("path")).
			Scan(ctx)
		if err != nil {
			return nil, classify(err, b.name+" list")
		}
		out := make([]remote.Object, 0, len(recs))
		for _, rec := range recs {
			out = append(out, rec.toObject())
		}
		return out, nil
	})
}
