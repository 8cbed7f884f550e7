package export

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/recipe-ingest/internal/entity"
	"github.com/joseph-ayodele/recipe-ingest/internal/repository"
)

const (
	recipesSheet     = "Recipes"
	ingredientsSheet = "Ingredients"
)

// Service produces XLSX workbooks of saved recipes.
type Service struct {
	recipes repository.RecipeRepository
	logger  *slog.Logger
	now     func() time.Time
}

func NewService(repo repository.RecipeRepository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{recipes: repo, logger: logger, now: time.Now}
}

// ExportRecipesXLSX returns a workbook (as bytes) with one row per recipe on
// the Recipes sheet and one row per ingredient line on the Ingredients
// sheet. userID uuid.Nil exports every user. The window applies to the
// recipe creation date:
// If only from is provided -> from..today (inclusive).
// If only to is provided   -> beginning..to (inclusive).
// If neither is provided   -> all recipes.
func (s *Service) ExportRecipesXLSX(ctx context.Context, userID uuid.UUID, from, to *time.Time) ([]byte, error) {
	start := time.Now()

	fromDate, toDate := dateOnly(from), dateOnly(to)
	if fromDate != nil && toDate == nil {
		toDate = dateOnly(ptr(s.now().UTC()))
	}

	all, err := s.recipes.ListRecipes(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("query recipes: %w", err)
	}
	recs := make([]entity.Recipe, 0, len(all))
	for _, r := range all {
		if inWindow(r.CreatedAt, fromDate, toDate) {
			recs = append(recs, r)
		}
	}

	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName("Sheet1", recipesSheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(ingredientsSheet); err != nil {
		return nil, err
	}
	activeIndex, _ := f.GetSheetIndex(recipesSheet)
	f.SetActiveSheet(activeIndex)

	writeRow(f, recipesSheet, 1, "Name", "Source", "Source URL", "Ingredients", "Prep (min)", "Cook (min)",
		"Total (min)", "Servings", "Difficulty", "Confidence", "Instructions", "Created")
	writeRow(f, ingredientsSheet, 1, "Recipe", "#", "Ingredient", "Quantity", "Unit", "Descriptor",
		"Preparation", "Original Line", "Partial")

	row, ingRow := 2, 2
	for _, r := range recs {
		md := r.Metadata
		writeRow(f, recipesSheet, row,
			r.Name,
			r.SourceName,
			r.SourceURL,
			len(r.Ingredients),
			blankZero(md.PrepMinutes),
			blankZero(md.CookMinutes),
			blankZero(md.TotalMinutes),
			blankZero(md.Servings),
			md.Difficulty,
			r.Confidence,
			truncate(numbered(r.Instructions), 32000),
			r.CreatedAt.UTC().Format("2006-01-02"),
		)
		row++

		for _, ing := range r.Ingredients {
			writeRow(f, ingredientsSheet, ingRow,
				r.Name,
				ing.Position,
				ing.Name,
				quantity(ing),
				ing.Unit,
				ing.Descriptor,
				ing.Preparation,
				ing.RawText,
				ing.Partial,
			)
			ingRow++
		}
	}

	// Widen a few columns
	_ = f.SetColWidth(recipesSheet, "A", "A", 32) // name
	_ = f.SetColWidth(recipesSheet, "B", "C", 28) // source
	_ = f.SetColWidth(recipesSheet, "K", "K", 80) // instructions
	_ = f.SetColWidth(ingredientsSheet, "A", "A", 32)
	_ = f.SetColWidth(ingredientsSheet, "C", "C", 24)
	_ = f.SetColWidth(ingredientsSheet, "H", "H", 48)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	s.logger.Info("export.xlsx.ok",
		"user_id", userID.String(),
		"rows", len(recs),
		"ingredient_rows", ingRow-2,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

func writeRow(f *excelize.File, sheet string, row int, values ...any) {
	for i, v := range values {
		cell, _ := excelize.CoordinatesToCellName(i+1, row)
		_ = f.SetCellValue(sheet, cell, v)
	}
}

func dateOnly(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return &d
}

func ptr[T any](v T) *T { return &v }

func inWindow(created time.Time, from, to *time.Time) bool {
	day := *dateOnly(ptr(created.UTC()))
	if from != nil && day.Before(*from) {
		return false
	}
	if to != nil && day.After(*to) {
		return false
	}
	return true
}

func blankZero(n int) any {
	if n == 0 {
		return ""
	}
	return n
}

// quantity renders a single amount or a min-max range.
func quantity(ing entity.RecipeIngredient) string {
	format := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	switch {
	case ing.Quantity != nil:
		return format(*ing.Quantity)
	case ing.QuantityMin != nil && ing.QuantityMax != nil:
		return format(*ing.QuantityMin) + "-" + format(*ing.QuantityMax)
	case ing.QuantityMin != nil:
		return format(*ing.QuantityMin)
	}
	return ""
}

func numbered(steps []string) string {
	var b strings.Builder
	for i, s := range steps {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%d. %s", i+1, s)
	}
	return b.String()
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 1 {
		return s[:n]
	}
	return s[:n-1] + "…"
}
