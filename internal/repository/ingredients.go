package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/recipe-ingest/internal/common"
	"github.com/joseph-ayodele/recipe-ingest/internal/entity"
)

// EnsureIngredient inserts ing unless an ingredient with the same name
// exists, and returns the stored row.
func (d *DB) EnsureIngredient(ctx context.Context, ing entity.Ingredient) (entity.Ingredient, error) {
	if ing.ID == uuid.Nil {
		ing.ID = uuid.New()
	}
	ing.CreatedAt = utc(ing.CreatedAt)
	ins := d.builder().Insert(tableIngredients).
		Columns("id", "name", "created_at").
		Values(ing.ID, ing.Name, ing.CreatedAt).
		OnConflict(entsql.ConflictColumns("name"), entsql.DoNothing())
	if _, err := exec(ctx, d.db, ins); err != nil {
		return entity.Ingredient{}, wrapDBError("ensure ingredient", err)
	}
	sel := d.builder().Select("id", "name", "created_at").From(d.builder().Table(tableIngredients)).
		Where(entsql.EQ("name", ing.Name))
	var (
		out     entity.Ingredient
		created dbTime
	)
	if err := queryRow(ctx, d.db, sel).Scan(&out.ID, &out.Name, &created); err != nil {
		return entity.Ingredient{}, wrapDBError(fmt.Sprintf("get ingredient %q", ing.Name), err)
	}
	out.CreatedAt = created.Time
	return out, nil
}

func (d *DB) ListIngredients(ctx context.Context) ([]entity.Ingredient, error) {
	q := d.builder().Select("id", "name", "created_at").From(d.builder().Table(tableIngredients)).OrderBy("name")
	rows, err := query(ctx, d.db, q)
	if err != nil {
		return nil, wrapDBError("list ingredients", err)
	}
	defer rows.Close()
	var out []entity.Ingredient
	for rows.Next() {
		var (
			ing     entity.Ingredient
			created dbTime
		)
		if err := rows.Scan(&ing.ID, &ing.Name, &created); err != nil {
			return nil, wrapDBError("scan ingredient", err)
		}
		ing.CreatedAt = created.Time
		out = append(out, ing)
	}
	return out, wrapDBError("list ingredients", rows.Err())
}

// mappingStore implements normalize.MappingStore on the ingredient_mappings
// table. Row locks serialize Update on Postgres; SQLite serializes writers.
type mappingStore struct {
	d *DB
}

var mappingColumns = []string{"key", "ingredient_id", "name", "unit", "usage", "confidence", "created_at", "updated_at"}

func scanMapping(row interface{ Scan(...any) error }) (entity.IngredientMapping, error) {
	var (
		m                entity.IngredientMapping
		created, updated dbTime
	)
	err := row.Scan(&m.Key, &m.IngredientID, &m.Name, &m.Unit, &m.Usage, &m.Confidence, &created, &updated)
	m.CreatedAt, m.UpdatedAt = created.Time, updated.Time
	return m, err
}

func (s *mappingStore) selectKey(key string) *entsql.Selector {
	return s.d.builder().Select(mappingColumns...).From(s.d.builder().Table(tableMappings)).Where(entsql.EQ("key", key))
}

func (s *mappingStore) Get(ctx context.Context, key string) (entity.IngredientMapping, bool, error) {
	m, err := scanMapping(queryRow(ctx, s.d.db, s.selectKey(key)))
	if errors.Is(err, sql.ErrNoRows) {
		return entity.IngredientMapping{}, false, nil
	}
	if err != nil {
		return entity.IngredientMapping{}, false, wrapDBError("get mapping", err)
	}
	return m, true, nil
}

func (s *mappingStore) Insert(ctx context.Context, m entity.IngredientMapping) (entity.IngredientMapping, bool, error) {
	m.CreatedAt = utc(m.CreatedAt)
	m.UpdatedAt = utc(m.UpdatedAt)
	ins := s.d.builder().Insert(tableMappings).Columns(mappingColumns...).
		Values(m.Key, m.IngredientID, m.Name, m.Unit, m.Usage, m.Confidence, m.CreatedAt, m.UpdatedAt).
		OnConflict(entsql.ConflictColumns("key"), entsql.DoNothing())
	res, err := exec(ctx, s.d.db, ins)
	if err != nil {
		return entity.IngredientMapping{}, false, wrapDBError("insert mapping", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return m, true, nil
	}
	stored, ok, err := s.Get(ctx, m.Key)
	if err == nil && !ok {
		err = fmt.Errorf("mapping %q vanished after insert: %w", m.Key, common.ErrConflict)
	}
	return stored, false, err
}

func (s *mappingStore) Update(ctx context.Context, key string, fn func(*entity.IngredientMapping)) (entity.IngredientMapping, error) {
	var out entity.IngredientMapping
	err := s.d.inTx(ctx, func(tx *sql.Tx) error {
		sel := s.selectKey(key)
		if s.d.dialect == dialect.Postgres {
			sel.ForUpdate()
		}
		m, err := scanMapping(queryRow(ctx, tx, sel))
		if err != nil {
			return wrapDBError(fmt.Sprintf("mapping %q", key), err)
		}
		fn(&m)
		m.Key = key
		m.UpdatedAt = utc(m.UpdatedAt)
		u := s.d.builder().Update(tableMappings).
			Set("ingredient_id", m.IngredientID).
			Set("name", m.Name).
			Set("unit", m.Unit).
			Set("usage", m.Usage).
			Set("confidence", m.Confidence).
			Set("updated_at", m.UpdatedAt).
			Where(entsql.EQ("key", key))
		if _, err := exec(ctx, tx, u); err != nil {
			return wrapDBError("update mapping", err)
		}
		out = m
		return nil
	})
	return out, err
}
