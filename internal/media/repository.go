package media

import (
	"context"
	"database/sql"
	"strings"

	"github.com/pkg/errors"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) InsertMedia(ctx context.Context, rec Record) (Record, error) {
	query := `INSERT INTO media (parent_id, owner_id, media_url, media_type, file_size, caption, position, thumbnail_url)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at`

	err := r.db.QueryRowContext(ctx, query,
		rec.ParentID, rec.OwnerID, rec.URL, string(rec.Kind), rec.Size,
		nullable(rec.Caption), rec.Position, nullable(rec.ThumbnailURL),
	).Scan(&rec.ID, &rec.CreatedAt)
	if err != nil {
		return Record{}, errors.Wrap(err, "mediaRepo.InsertMedia")
	}
	return rec, nil
}

func nullable(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}
