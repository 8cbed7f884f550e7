package repository

import (
	"context"
	"fmt"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/recipe-ingest/constants"
	"github.com/joseph-ayodele/recipe-ingest/internal/entity"
)

var pairingColumns = []string{
	"token", "user_id", "recipe_name", "ingredients", "directions", "status", "job_id", "created_at", "updated_at",
}

func (d *DB) CreatePairing(ctx context.Context, p *entity.PairedPhotoSource) error {
	p.CreatedAt = utc(p.CreatedAt)
	p.UpdatedAt = p.CreatedAt
	ing, err := jsonArg(p.Ingredients)
	if err != nil {
		return err
	}
	dir, err := jsonArg(p.Directions)
	if err != nil {
		return err
	}
	q := d.builder().Insert(tablePairings).Columns(pairingColumns...).Values(
		p.Token, p.UserID, p.RecipeName, ing, dir, string(p.Status), uuidArg(p.JobID), p.CreatedAt, p.UpdatedAt,
	)
	if _, err := exec(ctx, d.db, q); err != nil {
		return wrapDBError("create pairing", err)
	}
	return nil
}

func (d *DB) GetPairing(ctx context.Context, token string) (*entity.PairedPhotoSource, error) {
	q := d.builder().Select(pairingColumns...).From(d.builder().Table(tablePairings)).Where(entsql.EQ("token", token))
	var (
		p                entity.PairedPhotoSource
		ing, dir         dbJSON[*entity.PhotoRef]
		status           string
		jobID            uuid.NullUUID
		created, updated dbTime
	)
	err := queryRow(ctx, d.db, q).Scan(&p.Token, &p.UserID, &p.RecipeName, &ing, &dir, &status, &jobID, &created, &updated)
	if err != nil {
		return nil, wrapDBError(fmt.Sprintf("get pairing %s", token), err)
	}
	p.Ingredients, p.Directions = ing.V, dir.V
	p.Status = constants.PairingStatus(status)
	if jobID.Valid {
		id := jobID.UUID
		p.JobID = &id
	}
	p.CreatedAt, p.UpdatedAt = created.Time, updated.Time
	return &p, nil
}

func (d *DB) UpdatePairing(ctx context.Context, p *entity.PairedPhotoSource) error {
	p.UpdatedAt = utc(p.UpdatedAt)
	ing, err := jsonArg(p.Ingredients)
	if err != nil {
		return err
	}
	dir, err := jsonArg(p.Directions)
	if err != nil {
		return err
	}
	u := d.builder().Update(tablePairings).
		Set("recipe_name", p.RecipeName).
		Set("ingredients", ing).
		Set("directions", dir).
		Set("status", string(p.Status)).
		Set("job_id", uuidArg(p.JobID)).
		Set("updated_at", p.UpdatedAt).
		Where(entsql.EQ("token", p.Token))
	return execOne(ctx, d.db, u, fmt.Sprintf("update pairing %s", p.Token))
}

func uuidArg(id *uuid.UUID) any {
	if id == nil {
		return nil
	}
	return *id
}
