package parser

import (
	"regexp"
	"strings"
)

const (
	maxNameLength        = 100
	maxIngredientLength  = 200
	minInstructionLength = 10
	nameSearchLines      = 5
)

var (
	reIngredientHeader  = regexp.MustCompile(`(?i)^(?:ingredients?|what you(?:'ll| will)? need)\b\s*(?::\s*(.*))?$`)
	reInstructionHeader = regexp.MustCompile(`(?i)^(?:instructions?|directions?|method|steps|preparation)\b\s*(?::\s*(.*))?$`)
	reTrailerHeader     = regexp.MustCompile(`(?i)^(?:nutrition|notes?|tips?|additional\s+\w+)(?:\s+\w+){0,2}\s*(?::.*)?$`)
	reSubHeading        = regexp.MustCompile(`^[^\d].{0,60}:$`)
	reSeparator         = regexp.MustCompile(`^\s*(?:-{3,}|={3,}|\*{3,}|_{3,})\s*$`)
	reRecipeHeading     = regexp.MustCompile(`(?i)^recipe\s*(?:#\s*)?\d+\b\s*[:.\-]?\s*(.*)$`)
	reNumberedStep      = regexp.MustCompile(`(?i)^(?:step\s*)?\d{1,2}\s*[.):]\s+(\S.*)$`)
	reStepWord          = regexp.MustCompile(`(?i)^step\s*\d{1,2}\s*[.):\-]?\s*(\S.*)$`)
	reBullet            = regexp.MustCompile(`^[•▢▪◦●○□☐✓✔*\-–·]\s*`)
	reQuantityStart     = regexp.MustCompile(`^(?:\d+(?:\s+\d+/\d+|/\d+|\.\d+)?\s*[-–]?\s*(?:\d+\s*)?[a-zA-Z½⅓⅔¼¾⅛(]|[½⅓⅔¼¾⅕⅖⅗⅘⅙⅚⅛⅜⅝⅞]|(?i:a|an)\s+(?:pinch|dash|handful|cup|teaspoon|tablespoon)\b)`)
	reMetadataLine      = regexp.MustCompile(`(?i)^(?:(?:prep(?:aration)?|cook(?:ing)?|bake|baking|total|active|inactive)\s*(?:time)?\s*[:\-]?\s*\d|(?:serves|servings|yield|yields|makes)\b|difficulty\b)`)
	reCookingVerb       = regexp.MustCompile(`(?i)\b(?:preheat|bake|cook|mix|stir|add|combine|heat|pour|place|cover|simmer|boil|fry|grill|whisk|fold|season|serve|roast|saute|sauté|drain|blend|knead|chill|transfer|bring|remove|sprinkle|beat|toast|spread)\b`)
	rePlaceholderName   = regexp.MustCompile(`(?i)^(?:no name|untitled)\b`)
	reNameStopPrefix    = regexp.MustCompile(`(?i)^(?:ingredients?|instructions?|directions?|prep|cook|method|serves|servings|yield|makes|total|difficulty)\b`)
)

type lineKind int

const (
	kindOther lineKind = iota
	kindIngredientHeader
	kindInstructionHeader
	kindTrailerHeader
	kindSubHeading
	kindMetadata
	kindIngredient
	kindStep
)

func stripBullet(line string) string {
	return strings.TrimSpace(reBullet.ReplaceAllString(line, ""))
}

func stripStepNumber(line string) string {
	if m := reStepWord.FindStringSubmatch(line); m != nil {
		return strings.TrimSpace(m[1])
	}
	if m := reNumberedStep.FindStringSubmatch(line); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(line)
}

func isNumberedStep(line string) bool {
	return reNumberedStep.MatchString(line) || reStepWord.MatchString(line)
}

func isIngredientLike(line string) bool {
	if len(line) >= maxIngredientLength || isNumberedStep(line) {
		return false
	}
	if reBullet.MatchString(line) {
		return len(stripBullet(line)) > 2
	}
	return reQuantityStart.MatchString(line)
}

func isStepLike(line string) bool {
	if isNumberedStep(line) {
		return true
	}
	return len(line) > minInstructionLength && reCookingVerb.MatchString(line)
}

// classifyHeader recognises structural lines. rest carries text that
// follows a header on the same line ("Ingredients: 2 eggs").
func classifyHeader(line string) (lineKind, string) {
	switch {
	case reMetadataLine.MatchString(line):
		return kindMetadata, ""
	case reIngredientHeader.MatchString(line):
		return kindIngredientHeader, strings.TrimSpace(reIngredientHeader.FindStringSubmatch(line)[1])
	case reInstructionHeader.MatchString(line):
		return kindInstructionHeader, strings.TrimSpace(reInstructionHeader.FindStringSubmatch(line)[1])
	case reTrailerHeader.MatchString(line):
		return kindTrailerHeader, ""
	}
	return kindOther, ""
}

// isTitleLike reports whether line could start a new recipe.
func isTitleLike(line string) bool {
	if line == "" || len(line) > 60 || strings.HasSuffix(line, ".") {
		return false
	}
	if k, _ := classifyHeader(line); k != kindOther {
		return false
	}
	return !isIngredientLike(line) && !isNumberedStep(line) && !reCookingVerb.MatchString(line)
}
