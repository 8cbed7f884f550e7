package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/recipe-ingest/constants"
	"github.com/joseph-ayodele/recipe-ingest/internal/entity"
	"github.com/joseph-ayodele/recipe-ingest/internal/extract"
	"github.com/joseph-ayodele/recipe-ingest/internal/normalize"
	"github.com/joseph-ayodele/recipe-ingest/internal/parser"
	"github.com/joseph-ayodele/recipe-ingest/internal/recipes"
)

// Extractor turns a source into text.
type Extractor interface {
	Extract(ctx context.Context, src extract.Source) (extract.Result, error)
	ExtractPaired(ctx context.Context, ingredientsPath, directionsPath string) (extract.Result, error)
}

// RecipeParser finds recipe candidates in text.
type RecipeParser interface {
	Parse(text string, hints parser.Hints) parser.Result
}

// IngredientNormalizer binds raw ingredient lines to canonical ingredients.
type IngredientNormalizer interface {
	NormalizeAll(ctx context.Context, lines []string) ([]entity.RecipeIngredient, normalize.Report, error)
}

// RecipeSaver persists a recipe, folding duplicates.
type RecipeSaver interface {
	Save(ctx context.Context, r *entity.Recipe) (recipes.SaveResult, error)
}

// JobState is what a stage reads and returns.
type JobState struct {
	Job    entity.IngestionJob
	Source entity.IngestionSource
}

var errNoRecipes = errors.New(ReasonNoContent)

// sourceFor maps a stored source to an extractor input.
func sourceFor(src *entity.IngestionSource) (extract.Source, error) {
	switch src.Kind {
	case constants.SourceImage:
		return extract.Image{Paths: src.ImagePaths}, nil
	case constants.SourceURL:
		return extract.URL{URL: src.URL}, nil
	case constants.SourceText:
		return extract.Text{Body: src.RawText}, nil
	}
	return nil, &extract.Error{Kind: extract.ErrUnsupportedFormat, Op: "source", Err: fmt.Errorf("kind %q", src.Kind)}
}

// extractStage pulls text out of the job's source.
func extractStage(ctx context.Context, ex Extractor, st JobState) (JobState, extract.Result, []LogEntry, error) {
	const stage = constants.StageExtracting
	var (
		res extract.Result
		err error
	)
	if st.Source.Paired() {
		res, err = ex.ExtractPaired(ctx, st.Source.ImagePaths[0], st.Source.ImagePaths[1])
	} else {
		var in extract.Source
		if in, err = sourceFor(&st.Source); err == nil {
			res, err = ex.Extract(ctx, in)
		}
	}
	if err != nil {
		return st, res, nil, err
	}
	logs := []LogEntry{okf(stage, "extracted %d characters via %s in %s", len(res.Text), res.Method, res.Duration.Round(time.Millisecond))}
	for _, w := range res.Warnings {
		logs = append(logs, warnf(stage, "%s", w))
	}
	return st, res, logs, nil
}

// parseStage finds recipe candidates in the extracted text.
func parseStage(p RecipeParser, st JobState, res extract.Result) (JobState, parser.Result, []LogEntry, error) {
	const stage = constants.StageParsing
	hints := parser.Hints{Streams: res.Streams, NameHint: nameHint(&st.Source, res)}
	out := p.Parse(res.Text, hints)
	st.Job.RecipesFound = len(out.Recipes)

	var logs []LogEntry
	for _, c := range out.Discarded {
		logs = append(logs, warnf(stage, "LowConfidenceDiscarded: %q scored %.2f", c.Name, c.Confidence))
	}
	if len(out.Recipes) == 0 {
		return st, out, logs, errNoRecipes
	}
	names := make([]string, 0, len(out.Recipes))
	for _, c := range out.Recipes {
		names = append(names, c.Name)
	}
	logs = append(logs, okf(stage, "found %d recipe(s): %s", len(out.Recipes), strings.Join(names, ", ")))
	return st, out, logs, nil
}

func nameHint(src *entity.IngestionSource, res extract.Result) string {
	if res.Title != "" {
		return res.Title
	}
	if src.Paired() || src.Kind == constants.SourceText {
		return src.Name
	}
	return ""
}

// Normalized is one extracted recipe after ingredient normalization. Err is
// set when normalization failed for this recipe only.
type Normalized struct {
	Extracted entity.ExtractedRecipe
	Recipe    *entity.Recipe
	Err       error
}

// normalizeStage builds recipes from the extracted candidates. A failure on
// one candidate is recorded on it; only context errors fail the stage.
func normalizeStage(ctx context.Context, n IngredientNormalizer, st JobState, items []entity.ExtractedRecipe) (JobState, []Normalized, []LogEntry, error) {
	const stage = constants.StageNormalizing
	out := make([]Normalized, 0, len(items))
	var logs []LogEntry
	for _, ex := range items {
		ings, rep, err := n.NormalizeAll(ctx, ex.RawIngredients)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return st, out, logs, ctxErr
		}
		if err != nil {
			out = append(out, Normalized{Extracted: ex, Err: err})
			logs = append(logs, errorf(stage, "normalize %q: %v", ex.RawName, err))
			continue
		}
		if rep.Partial > 0 || len(rep.Rejected) > 0 {
			logs = append(logs, warnf(stage, "NormalizationPartial: %q has %d partial and %d rejected line(s)",
				ex.RawName, rep.Partial, len(rep.Rejected)))
		}
		out = append(out, Normalized{Extracted: ex, Recipe: &entity.Recipe{
			UserID:       st.Source.UserID,
			Name:         ex.RawName,
			Instructions: ex.RawSteps,
			Metadata:     ex.Metadata,
			SourceName:   recipes.SourceName(&st.Source),
			SourceURL:    st.Source.URL,
			SourceKind:   string(st.Source.Kind),
			Ingredients:  ings,
			Confidence:   ex.Confidence,
		}})
	}
	logs = append(logs, okf(stage, "normalized %d of %d recipe(s)", countOK(out), len(items)))
	return st, out, logs, nil
}

func countOK(items []Normalized) int {
	n := 0
	for _, it := range items {
		if it.Err == nil {
			n++
		}
	}
	return n
}

// Saved is the save outcome for one extracted recipe.
type Saved struct {
	ExtractedID uuid.UUID
	RecipeID    uuid.UUID
	Status      constants.ExtractedRecipeStatus
}

// saveStage persists the normalized recipes.
func saveStage(ctx context.Context, s RecipeSaver, st JobState, items []Normalized) (JobState, []Saved, []LogEntry, error) {
	const stage = constants.StageSaving
	var (
		out  []Saved
		logs []LogEntry
	)
	for _, it := range items {
		if it.Err != nil {
			continue
		}
		res, err := s.Save(ctx, it.Recipe)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return st, out, logs, ctxErr
		}
		if err != nil {
			out = append(out, Saved{ExtractedID: it.Extracted.ID, Status: constants.RecipeFailed})
			logs = append(logs, errorf(stage, "save %q: %v", it.Recipe.Name, err))
			continue
		}
		st.Job.RecipesSaved++
		status := constants.RecipeSaved
		if res.Outcome.Duplicate() {
			status = constants.RecipeDuplicate
			logs = append(logs, warnf(stage, "DuplicateRecipe: %q merged into %s (%s)", it.Recipe.Name, res.Recipe.ID, res.Outcome))
		} else {
			logs = append(logs, okf(stage, "saved %q as %s", it.Recipe.Name, res.Recipe.ID))
		}
		out = append(out, Saved{ExtractedID: it.Extracted.ID, RecipeID: res.Recipe.ID, Status: status})
	}
	return st, out, logs, nil
}
