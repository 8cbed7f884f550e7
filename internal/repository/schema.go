package repository

import (
	"context"
	"fmt"

	"entgo.io/ent/dialect"
	"entgo.io/ent/dialect/sql/schema"
	"entgo.io/ent/schema/field"
)

// Table names.
const (
	tableSources     = "ingestion_sources"
	tableJobs        = "ingestion_jobs"
	tableLogs        = "processing_logs"
	tableExtracted   = "extracted_recipes"
	tableIngredients = "ingredients"
	tableMappings    = "ingredient_mappings"
	tableRecipes     = "recipes"
	tableRecipeIngs  = "recipe_ingredients"
	tablePairings    = "paired_photo_sources"
	tableSenders     = "approved_senders"
	tableEmails      = "processed_emails"
	tableAttachments = "email_attachments"
)

var textType = map[string]string{dialect.Postgres: "text", dialect.SQLite: "text"}

func col(name string, t field.Type) *schema.Column {
	return &schema.Column{Name: name, Type: t}
}

func textCol(name string) *schema.Column {
	return &schema.Column{Name: name, Type: field.TypeString, SchemaType: textType, Default: ""}
}

func nullable(c *schema.Column) *schema.Column {
	c.Nullable = true
	return c
}

func fk(symbol string, c *schema.Column, ref *schema.Table, onDelete schema.ReferenceOption) *schema.ForeignKey {
	return &schema.ForeignKey{
		Symbol:     symbol,
		Columns:    []*schema.Column{c},
		RefTable:   ref,
		RefColumns: []*schema.Column{ref.PrimaryKey[0]},
		OnDelete:   onDelete,
	}
}

// Tables returns the schema in dependency order.
func Tables() []*schema.Table {
	sourceCols := []*schema.Column{
		col("id", field.TypeUUID),
		col("user_id", field.TypeUUID),
		col("kind", field.TypeString),
		col("origin", field.TypeString),
		textCol("name"),
		textCol("url"),
		col("image_paths", field.TypeJSON),
		textCol("raw_text"),
		col("status", field.TypeString),
		textCol("pair_token"),
		col("created_at", field.TypeTime),
		nullable(col("processed_at", field.TypeTime)),
	}
	sources := &schema.Table{Name: tableSources, Columns: sourceCols, PrimaryKey: sourceCols[:1]}

	jobCols := []*schema.Column{
		col("id", field.TypeUUID),
		col("source_id", field.TypeUUID),
		col("stage", field.TypeString),
		col("recipes_found", field.TypeInt),
		col("recipes_saved", field.TypeInt),
		textCol("error_reason"),
		col("retryable", field.TypeBool),
		col("started_at", field.TypeTime),
		col("updated_at", field.TypeTime),
		nullable(col("finished_at", field.TypeTime)),
	}
	jobs := &schema.Table{Name: tableJobs, Columns: jobCols, PrimaryKey: jobCols[:1]}
	jobs.ForeignKeys = []*schema.ForeignKey{fk("ingestion_jobs_source", jobCols[1], sources, schema.Cascade)}
	jobs.Indexes = []*schema.Index{{Name: "ingestion_jobs_source_id", Columns: jobCols[1:2]}}

	logCols := []*schema.Column{
		col("job_id", field.TypeUUID),
		col("seq", field.TypeInt),
		col("stage", field.TypeString),
		col("outcome", field.TypeString),
		textCol("message"),
		col("created_at", field.TypeTime),
	}
	logs := &schema.Table{Name: tableLogs, Columns: logCols, PrimaryKey: logCols[:2]}
	logs.ForeignKeys = []*schema.ForeignKey{fk("processing_logs_job", logCols[0], jobs, schema.Cascade)}

	extractedCols := []*schema.Column{
		col("id", field.TypeUUID),
		col("job_id", field.TypeUUID),
		textCol("raw_name"),
		col("raw_ingredients", field.TypeJSON),
		col("raw_steps", field.TypeJSON),
		col("metadata", field.TypeJSON),
		col("confidence", field.TypeFloat64),
		col("low_confidence", field.TypeBool),
		col("status", field.TypeString),
		col("created_at", field.TypeTime),
	}
	extracted := &schema.Table{Name: tableExtracted, Columns: extractedCols, PrimaryKey: extractedCols[:1]}
	extracted.ForeignKeys = []*schema.ForeignKey{fk("extracted_recipes_job", extractedCols[1], jobs, schema.Cascade)}
	extracted.Indexes = []*schema.Index{{Name: "extracted_recipes_job_id", Columns: extractedCols[1:2]}}

	ingredientCols := []*schema.Column{
		col("id", field.TypeUUID),
		{Name: "name", Type: field.TypeString, Unique: true},
		col("created_at", field.TypeTime),
	}
	ingredients := &schema.Table{Name: tableIngredients, Columns: ingredientCols, PrimaryKey: ingredientCols[:1]}

	mappingCols := []*schema.Column{
		col("key", field.TypeString),
		col("ingredient_id", field.TypeUUID),
		col("name", field.TypeString),
		textCol("unit"),
		col("usage", field.TypeInt),
		col("confidence", field.TypeFloat64),
		col("created_at", field.TypeTime),
		col("updated_at", field.TypeTime),
	}
	mappings := &schema.Table{Name: tableMappings, Columns: mappingCols, PrimaryKey: mappingCols[:1]}
	mappings.ForeignKeys = []*schema.ForeignKey{fk("ingredient_mappings_ingredient", mappingCols[1], ingredients, schema.NoAction)}

	recipeCols := []*schema.Column{
		col("id", field.TypeUUID),
		col("user_id", field.TypeUUID),
		textCol("name"),
		col("name_key", field.TypeString),
		col("instructions", field.TypeJSON),
		col("metadata", field.TypeJSON),
		textCol("source_name"),
		textCol("source_url"),
		col("source_kind", field.TypeString),
		col("confidence", field.TypeFloat64),
		col("created_at", field.TypeTime),
		col("updated_at", field.TypeTime),
	}
	recipes := &schema.Table{Name: tableRecipes, Columns: recipeCols, PrimaryKey: recipeCols[:1]}
	recipes.Indexes = []*schema.Index{{Name: "recipes_user_name_key", Columns: []*schema.Column{recipeCols[1], recipeCols[3]}}}

	recipeIngCols := []*schema.Column{
		col("recipe_id", field.TypeUUID),
		col("position", field.TypeInt),
		col("ingredient_id", field.TypeUUID),
		col("name", field.TypeString),
		nullable(col("quantity", field.TypeFloat64)),
		nullable(col("quantity_min", field.TypeFloat64)),
		nullable(col("quantity_max", field.TypeFloat64)),
		textCol("unit"),
		textCol("descriptor"),
		textCol("preparation"),
		textCol("raw_text"),
		col("confidence", field.TypeFloat64),
		col("partial", field.TypeBool),
	}
	recipeIngs := &schema.Table{Name: tableRecipeIngs, Columns: recipeIngCols, PrimaryKey: recipeIngCols[:2]}
	recipeIngs.ForeignKeys = []*schema.ForeignKey{
		fk("recipe_ingredients_recipe", recipeIngCols[0], recipes, schema.Cascade),
		fk("recipe_ingredients_ingredient", recipeIngCols[2], ingredients, schema.NoAction),
	}

	pairingCols := []*schema.Column{
		col("token", field.TypeString),
		col("user_id", field.TypeUUID),
		textCol("recipe_name"),
		nullable(col("ingredients", field.TypeJSON)),
		nullable(col("directions", field.TypeJSON)),
		col("status", field.TypeString),
		nullable(col("job_id", field.TypeUUID)),
		col("created_at", field.TypeTime),
		col("updated_at", field.TypeTime),
	}
	pairings := &schema.Table{Name: tablePairings, Columns: pairingCols, PrimaryKey: pairingCols[:1]}

	senderCols := []*schema.Column{
		col("email", field.TypeString),
		textCol("name"),
		col("active", field.TypeBool),
		col("created_at", field.TypeTime),
	}
	senders := &schema.Table{Name: tableSenders, Columns: senderCols, PrimaryKey: senderCols[:1]}

	emailCols := []*schema.Column{
		col("message_id", field.TypeString),
		col("sender", field.TypeString),
		textCol("subject"),
		col("outcome", field.TypeString),
		col("jobs", field.TypeInt),
		col("received_at", field.TypeTime),
		col("processed_at", field.TypeTime),
	}
	emails := &schema.Table{Name: tableEmails, Columns: emailCols, PrimaryKey: emailCols[:1]}

	attachmentCols := []*schema.Column{
		col("id", field.TypeUUID),
		col("message_id", field.TypeString),
		col("sender", field.TypeString),
		textCol("filename"),
		col("content_type", field.TypeString),
		col("size", field.TypeInt),
		textCol("path"),
		col("group_index", field.TypeInt),
		textCol("slot"),
		col("embedded", field.TypeBool),
		col("status", field.TypeString),
		textCol("error"),
		nullable(col("job_id", field.TypeUUID)),
		col("created_at", field.TypeTime),
	}
	attachments := &schema.Table{Name: tableAttachments, Columns: attachmentCols, PrimaryKey: attachmentCols[:1]}
	attachments.Indexes = []*schema.Index{{Name: "email_attachments_message_id", Columns: attachmentCols[1:2]}}

	return []*schema.Table{
		sources, jobs, logs, extracted, ingredients, mappings,
		recipes, recipeIngs, pairings, senders, emails, attachments,
	}
}

// Migrate creates missing tables, columns and indexes.
func (d *DB) Migrate(ctx context.Context) error {
	m, err := schema.NewMigrate(d.drv, schema.WithForeignKeys(true))
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	if err := m.Create(ctx, Tables()...); err != nil {
		d.logger.Error("db.migrate.failed", "error", err)
		return fmt.Errorf("migrate: %w", err)
	}
	d.logger.Info("db.migrate.ok", "tables", len(Tables()))
	return nil
}
