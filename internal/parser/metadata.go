package parser

import (
	"regexp"
	"strconv"

	"github.com/joseph-ayodele/recipe-ingest/constants"
	"github.com/joseph-ayodele/recipe-ingest/internal/entity"
)

const durationPattern = `(\d+\s*(?:hours?|hrs?|h)\b(?:\s*(?:and\s*)?\d+\s*(?:minutes?|mins?|m)\b)?|\d+\s*(?:minutes?|mins?|m)\b)`

var (
	rePrepTime   = regexp.MustCompile(`(?i)\bprep(?:aration)?(?:\s*time)?\s*[:\-]?\s*` + durationPattern)
	reCookTime   = regexp.MustCompile(`(?i)\b(?:cook(?:ing)?|bake|baking)(?:\s*time)?\s*[:\-]?\s*` + durationPattern)
	reTotalTime  = regexp.MustCompile(`(?i)\btotal(?:\s*time)?\s*[:\-]?\s*` + durationPattern)
	reServings   = regexp.MustCompile(`(?i)\b(?:serves|servings|yields?|makes)\s*[:\-]?\s*(\d+)`)
	reDifficulty = regexp.MustCompile(`(?i)\bdifficulty\s*(?:level)?\s*[:\-]?\s*([a-z]+)`)
	reHours      = regexp.MustCompile(`(?i)(\d+)\s*(?:hours?|hrs?|h)\b`)
	reMinutes    = regexp.MustCompile(`(?i)(\d+)\s*(?:minutes?|mins?|m)\b`)
)

// extractMetadata finds labeled prep/cook/total times, servings and
// difficulty anywhere in text. Hours are converted to minutes.
func extractMetadata(text string) entity.RecipeMetadata {
	var md entity.RecipeMetadata
	if m := rePrepTime.FindStringSubmatch(text); m != nil {
		md.PrepMinutes = durationMinutes(m[1])
	}
	if m := reCookTime.FindStringSubmatch(text); m != nil {
		md.CookMinutes = durationMinutes(m[1])
	}
	if m := reTotalTime.FindStringSubmatch(text); m != nil {
		md.TotalMinutes = durationMinutes(m[1])
	}
	if m := reServings.FindStringSubmatch(text); m != nil {
		md.Servings, _ = strconv.Atoi(m[1])
	}
	if m := reDifficulty.FindStringSubmatch(text); m != nil {
		if d, ok := constants.CanonicalDifficulty(m[1]); ok {
			md.Difficulty = string(d)
		}
	}
	return md
}

func durationMinutes(s string) int {
	total := 0
	if loc := reHours.FindStringSubmatchIndex(s); loc != nil {
		h, _ := strconv.Atoi(s[loc[2]:loc[3]])
		total += h * 60
		s = s[loc[1]:]
	}
	if m := reMinutes.FindStringSubmatch(s); m != nil {
		v, _ := strconv.Atoi(m[1])
		total += v
	}
	return total
}
