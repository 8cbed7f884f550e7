package repository

import (
	"context"
	"fmt"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/recipe-ingest/constants"
	"github.com/joseph-ayodele/recipe-ingest/internal/entity"
)

var sourceColumns = []string{
	"id", "user_id", "kind", "origin", "name", "url", "image_paths",
	"raw_text", "status", "pair_token", "created_at", "processed_at",
}

func (d *DB) CreateSource(ctx context.Context, src *entity.IngestionSource) error {
	if src.ID == uuid.Nil {
		src.ID = uuid.New()
	}
	if src.Status == "" {
		src.Status = constants.SourcePending
	}
	src.CreatedAt = utc(src.CreatedAt)
	paths, err := jsonList(src.ImagePaths)
	if err != nil {
		return err
	}
	q := d.builder().Insert(tableSources).Columns(sourceColumns...).Values(
		src.ID, src.UserID, string(src.Kind), string(src.Origin), src.Name, src.URL, paths,
		src.RawText, src.Status, src.PairToken, src.CreatedAt, utcPtr(src.ProcessedAt),
	)
	if _, err := exec(ctx, d.db, q); err != nil {
		d.logger.Error("create source failed", "source_id", src.ID, "error", err)
		return wrapDBError("create source", err)
	}
	d.logger.Debug("source created", "source_id", src.ID, "kind", src.Kind)
	return nil
}

func (d *DB) GetSource(ctx context.Context, id uuid.UUID) (*entity.IngestionSource, error) {
	q := d.builder().Select(sourceColumns...).From(d.builder().Table(tableSources)).Where(entsql.EQ("id", id))
	var (
		src              entity.IngestionSource
		kind, origin     string
		paths            dbJSON[[]string]
		created, handled dbTime
	)
	err := queryRow(ctx, d.db, q).Scan(&src.ID, &src.UserID, &kind, &origin, &src.Name, &src.URL, &paths,
		&src.RawText, &src.Status, &src.PairToken, &created, &handled)
	if err != nil {
		return nil, wrapDBError(fmt.Sprintf("get source %s", id), err)
	}
	src.Kind = constants.SourceKind(kind)
	src.Origin = constants.SourceOrigin(origin)
	src.ImagePaths = paths.V
	src.CreatedAt = created.Time
	src.ProcessedAt = handled.ptr()
	return &src, nil
}

func (d *DB) UpdateSourceStatus(ctx context.Context, id uuid.UUID, status string, processedAt *time.Time) error {
	u := d.builder().Update(tableSources).Set("status", status)
	if processedAt != nil {
		u.Set("processed_at", processedAt.UTC())
	}
	return execOne(ctx, d.db, u.Where(entsql.EQ("id", id)), fmt.Sprintf("update source %s", id))
}

func (d *DB) SetSourceText(ctx context.Context, id uuid.UUID, text string) error {
	u := d.builder().Update(tableSources).Set("raw_text", text).Where(entsql.EQ("id", id))
	return execOne(ctx, d.db, u, fmt.Sprintf("set source text %s", id))
}
