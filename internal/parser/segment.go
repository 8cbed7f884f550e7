package parser

import (
	"strings"
	"unicode/utf8"
)

func normalizeNewlines(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.ReplaceAll(text, "\r", "\n")
}

// segment splits text into candidate recipe blocks of trimmed, non-empty
// lines. Boundaries are runs of two or more blank lines, separator rules,
// "Recipe N" headings and a title that follows an instructions block.
func segment(text string) [][]string {
	lines := strings.Split(normalizeNewlines(text), "\n")

	var (
		blocks         [][]string
		cur            []string
		blank          int
		inInstructions bool
		sawIngredients bool
	)
	flush := func() {
		if len(cur) > 0 {
			blocks = append(blocks, cur)
		}
		cur = nil
		inInstructions = false
		sawIngredients = false
	}

	for i, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" {
			blank++
			continue
		}
		if reSeparator.MatchString(line) {
			flush()
			blank = 0
			continue
		}
		switch {
		case blank >= 2:
			flush()
		case len(cur) > 0 && reRecipeHeading.MatchString(line):
			flush()
		case blank >= 1 && inInstructions && isTitleLike(line) && startsRecipe(lines[i+1:]):
			flush()
		}
		blank = 0
		cur = append(cur, line)

		switch kind, _ := classifyHeader(line); {
		case kind == kindIngredientHeader:
			sawIngredients = true
			inInstructions = false
		case kind == kindInstructionHeader:
			inInstructions = true
		case isNumberedStep(line) && sawIngredients:
			inInstructions = true
		case !inInstructions && isIngredientLike(line):
			sawIngredients = true
		}
	}
	flush()
	return blocks
}

func blockChars(b []string) int {
	return utf8.RuneCountInString(strings.Join(b, "\n"))
}

// startsRecipe looks at the next few non-empty lines for an ingredients
// header or an ingredient line.
func startsRecipe(next []string) bool {
	seen := 0
	for _, raw := range next {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		if k, _ := classifyHeader(line); k == kindIngredientHeader {
			return true
		}
		if isIngredientLike(line) {
			return true
		}
		seen++
		if seen >= 2 {
			return false
		}
	}
	return false
}
