package repository

import (
	"context"
	"database/sql"
	"fmt"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/recipe-ingest/constants"
	"github.com/joseph-ayodele/recipe-ingest/internal/entity"
)

var extractedColumns = []string{
	"id", "job_id", "raw_name", "raw_ingredients", "raw_steps", "metadata",
	"confidence", "low_confidence", "status", "created_at",
}

func (d *DB) CreateExtracted(ctx context.Context, rec *entity.ExtractedRecipe) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.Status == "" {
		rec.Status = constants.RecipePending
	}
	rec.CreatedAt = utc(rec.CreatedAt)
	ings, err := jsonList(rec.RawIngredients)
	if err != nil {
		return err
	}
	steps, err := jsonList(rec.RawSteps)
	if err != nil {
		return err
	}
	md, err := jsonArg(rec.Metadata)
	if err != nil {
		return err
	}
	q := d.builder().Insert(tableExtracted).Columns(extractedColumns...).Values(
		rec.ID, rec.JobID, rec.RawName, ings, steps, md,
		rec.Confidence, rec.LowConfidence, string(rec.Status), rec.CreatedAt,
	)
	if _, err := exec(ctx, d.db, q); err != nil {
		return wrapDBError("create extracted recipe", err)
	}
	return nil
}

func (d *DB) SetExtractedStatus(ctx context.Context, id uuid.UUID, status constants.ExtractedRecipeStatus) error {
	u := d.builder().Update(tableExtracted).Set("status", string(status)).Where(entsql.EQ("id", id))
	return execOne(ctx, d.db, u, fmt.Sprintf("set extracted recipe status %s", id))
}

func (d *DB) ListExtracted(ctx context.Context, jobID uuid.UUID) ([]entity.ExtractedRecipe, error) {
	q := d.builder().Select(extractedColumns...).From(d.builder().Table(tableExtracted)).
		Where(entsql.EQ("job_id", jobID)).
		OrderBy("created_at")
	rows, err := query(ctx, d.db, q)
	if err != nil {
		return nil, wrapDBError("list extracted recipes", err)
	}
	defer rows.Close()
	var out []entity.ExtractedRecipe
	for rows.Next() {
		var (
			rec         entity.ExtractedRecipe
			ings, steps dbJSON[[]string]
			md          dbJSON[entity.RecipeMetadata]
			status      string
			created     dbTime
		)
		if err := rows.Scan(&rec.ID, &rec.JobID, &rec.RawName, &ings, &steps, &md,
			&rec.Confidence, &rec.LowConfidence, &status, &created); err != nil {
			return nil, wrapDBError("scan extracted recipe", err)
		}
		rec.RawIngredients, rec.RawSteps, rec.Metadata = ings.V, steps.V, md.V
		rec.Status = constants.ExtractedRecipeStatus(status)
		rec.CreatedAt = created.Time
		out = append(out, rec)
	}
	return out, wrapDBError("list extracted recipes", rows.Err())
}

var recipeColumns = []string{
	"id", "user_id", "name", "name_key", "instructions", "metadata",
	"source_name", "source_url", "source_kind", "confidence", "created_at", "updated_at",
}

var recipeIngredientColumns = []string{
	"recipe_id", "position", "ingredient_id", "name", "quantity", "quantity_min", "quantity_max",
	"unit", "descriptor", "preparation", "raw_text", "confidence", "partial",
}

// CreateRecipe stores r and its ingredients in one transaction.
func (d *DB) CreateRecipe(ctx context.Context, r *entity.Recipe) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	r.CreatedAt = utc(r.CreatedAt)
	r.UpdatedAt = r.CreatedAt
	steps, err := jsonList(r.Instructions)
	if err != nil {
		return err
	}
	md, err := jsonArg(r.Metadata)
	if err != nil {
		return err
	}
	err = d.inTx(ctx, func(tx *sql.Tx) error {
		q := d.builder().Insert(tableRecipes).Columns(recipeColumns...).Values(
			r.ID, r.UserID, r.Name, entity.RecipeNameKey(r.Name), steps, md,
			r.SourceName, r.SourceURL, r.SourceKind, r.Confidence, r.CreatedAt, r.UpdatedAt,
		)
		if _, err := exec(ctx, tx, q); err != nil {
			return wrapDBError("create recipe", err)
		}
		return d.insertRecipeIngredients(ctx, tx, r)
	})
	if err != nil {
		d.logger.Error("create recipe failed", "recipe_id", r.ID, "error", err)
		return err
	}
	d.logger.Info("recipe created", "recipe_id", r.ID, "name", r.Name, "ingredients", len(r.Ingredients))
	return nil
}

func (d *DB) insertRecipeIngredients(ctx context.Context, tx *sql.Tx, r *entity.Recipe) error {
	if len(r.Ingredients) == 0 {
		return nil
	}
	ins := d.builder().Insert(tableRecipeIngs).Columns(recipeIngredientColumns...)
	for _, ing := range r.Ingredients {
		ins.Values(
			r.ID, ing.Position, ing.IngredientID, ing.Name, floatArg(ing.Quantity), floatArg(ing.QuantityMin), floatArg(ing.QuantityMax),
			ing.Unit, ing.Descriptor, ing.Preparation, ing.RawText, ing.Confidence, ing.Partial,
		)
	}
	if _, err := exec(ctx, tx, ins); err != nil {
		return wrapDBError("insert recipe ingredients", err)
	}
	return nil
}

// UpdateRecipe rewrites r and replaces its ingredient list.
func (d *DB) UpdateRecipe(ctx context.Context, r *entity.Recipe) error {
	r.UpdatedAt = utc(r.UpdatedAt)
	steps, err := jsonList(r.Instructions)
	if err != nil {
		return err
	}
	md, err := jsonArg(r.Metadata)
	if err != nil {
		return err
	}
	return d.inTx(ctx, func(tx *sql.Tx) error {
		u := d.builder().Update(tableRecipes).
			Set("name", r.Name).
			Set("name_key", entity.RecipeNameKey(r.Name)).
			Set("instructions", steps).
			Set("metadata", md).
			Set("source_name", r.SourceName).
			Set("source_url", r.SourceURL).
			Set("source_kind", r.SourceKind).
			Set("confidence", r.Confidence).
			Set("updated_at", r.UpdatedAt).
			Where(entsql.EQ("id", r.ID))
		if err := execOne(ctx, tx, u, fmt.Sprintf("update recipe %s", r.ID)); err != nil {
			return err
		}
		del := d.builder().Delete(tableRecipeIngs).Where(entsql.EQ("recipe_id", r.ID))
		if _, err := exec(ctx, tx, del); err != nil {
			return wrapDBError("delete recipe ingredients", err)
		}
		return d.insertRecipeIngredients(ctx, tx, r)
	})
}

func (d *DB) GetRecipe(ctx context.Context, id uuid.UUID) (*entity.Recipe, error) {
	recs, err := d.selectRecipes(ctx, entsql.EQ("id", id))
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, wrapDBError(fmt.Sprintf("get recipe %s", id), sql.ErrNoRows)
	}
	return &recs[0], nil
}

func (d *DB) FindRecipesByName(ctx context.Context, userID uuid.UUID, name string) ([]entity.Recipe, error) {
	return d.selectRecipes(ctx, entsql.And(
		entsql.EQ("user_id", userID),
		entsql.EQ("name_key", entity.RecipeNameKey(name)),
	))
}

// LockRecipeName holds a Postgres advisory lock on the user's folded recipe
// name until the returned func runs, so saves from other processes wait.
// SQLite has no cross-process lock here and returns a no-op.
func (d *DB) LockRecipeName(ctx context.Context, userID uuid.UUID, name string) (func(), error) {
	if d.dialect != dialect.Postgres {
		return func() {}, nil
	}
	key := userID.String() + "/" + entity.RecipeNameKey(name)
	conn, err := d.db.Conn(ctx)
	if err != nil {
		return nil, wrapDBError("lock recipe name", err)
	}
	if _, err := conn.ExecContext(ctx, "SELECT pg_advisory_lock(hashtextextended($1, 0))", key); err != nil {
		_ = conn.Close()
		return nil, wrapDBError("lock recipe name", err)
	}
	return func() {
		if _, err := conn.ExecContext(context.Background(), "SELECT pg_advisory_unlock(hashtextextended($1, 0))", key); err != nil {
			d.logger.Warn("db.recipe_lock.release_failed", "key", key, "error", err)
		}
		_ = conn.Close()
	}, nil
}

func (d *DB) ListRecipes(ctx context.Context, userID uuid.UUID) ([]entity.Recipe, error) {
	if userID == uuid.Nil {
		return d.selectRecipes(ctx, nil)
	}
	return d.selectRecipes(ctx, entsql.EQ("user_id", userID))
}

func (d *DB) selectRecipes(ctx context.Context, where *entsql.Predicate) ([]entity.Recipe, error) {
	q := d.builder().Select(recipeColumns...).From(d.builder().Table(tableRecipes)).OrderBy("created_at", "id")
	if where != nil {
		q.Where(where)
	}
	rows, err := query(ctx, d.db, q)
	if err != nil {
		return nil, wrapDBError("list recipes", err)
	}
	var out []entity.Recipe
	index := map[uuid.UUID]int{}
	for rows.Next() {
		var (
			r                entity.Recipe
			nameKey          string
			steps            dbJSON[[]string]
			md               dbJSON[entity.RecipeMetadata]
			created, updated dbTime
		)
		if err := rows.Scan(&r.ID, &r.UserID, &r.Name, &nameKey, &steps, &md,
			&r.SourceName, &r.SourceURL, &r.SourceKind, &r.Confidence, &created, &updated); err != nil {
			rows.Close()
			return nil, wrapDBError("scan recipe", err)
		}
		r.Instructions, r.Metadata = steps.V, md.V
		r.CreatedAt, r.UpdatedAt = created.Time, updated.Time
		index[r.ID] = len(out)
		out = append(out, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, wrapDBError("list recipes", err)
	}
	if len(out) == 0 {
		return out, nil
	}

	ids := make([]any, 0, len(out))
	for _, r := range out {
		ids = append(ids, r.ID)
	}
	iq := d.builder().Select(recipeIngredientColumns...).From(d.builder().Table(tableRecipeIngs)).
		Where(entsql.In("recipe_id", ids...)).
		OrderBy("recipe_id", "position")
	irows, err := query(ctx, d.db, iq)
	if err != nil {
		return nil, wrapDBError("list recipe ingredients", err)
	}
	defer irows.Close()
	for irows.Next() {
		var (
			recipeID        uuid.UUID
			ing             entity.RecipeIngredient
			qty, qmin, qmax sql.NullFloat64
		)
		if err := irows.Scan(&recipeID, &ing.Position, &ing.IngredientID, &ing.Name, &qty, &qmin, &qmax,
			&ing.Unit, &ing.Descriptor, &ing.Preparation, &ing.RawText, &ing.Confidence, &ing.Partial); err != nil {
			return nil, wrapDBError("scan recipe ingredient", err)
		}
		ing.Quantity, ing.QuantityMin, ing.QuantityMax = floatPtr(qty), floatPtr(qmin), floatPtr(qmax)
		if i, ok := index[recipeID]; ok {
			out[i].Ingredients = append(out[i].Ingredients, ing)
		}
	}
	return out, wrapDBError("list recipe ingredients", irows.Err())
}

func floatArg(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

func floatPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}
