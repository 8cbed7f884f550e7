package ocr

import (
	"regexp"
	"strings"
)

var (
	reUnitWords = regexp.MustCompile(`\b(cups?|tbsp|tsp|tablespoons?|teaspoons?|oz|ounces?|lbs?|pounds?|grams?|g|ml)\b`)
	reVerbWords = regexp.MustCompile(`\b(preheat|bake|stir|mix|simmer|boil|whisk|combine|add|serve)\b`)
	reSections  = regexp.MustCompile(`\b(ingredients|instructions|directions|method)\b`)
)

// heuristicConfidence scores decoded text by how recipe-like it looks.
func heuristicConfidence(txt string) float32 {
	txtL := strings.ToLower(txt)
	score := float32(0.2) // base
	if reUnitWords.MatchString(txtL) {
		score += 0.25
	}
	if reVerbWords.MatchString(txtL) {
		score += 0.2
	}
	if reSections.MatchString(txtL) {
		score += 0.15
	}
	if len(txt) > 120 {
		score += 0.1
	} // enough content
	return min(score, 1)
}
