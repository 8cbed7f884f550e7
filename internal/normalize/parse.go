package normalize

import (
	"errors"
	"math"
	"regexp"
	"strings"
	"unicode/utf8"
)

// ErrNotIngredient is returned for lines that cannot describe an ingredient.
var ErrNotIngredient = errors.New("not an ingredient line")

const (
	minIngredientLength = 3
	minNameLength       = 2

	baseConfidence    = 0.5
	quantityBonus     = 0.2
	unitBonus         = 0.2
	preparationBonus  = 0.1
	partialPenalty    = 0.2
	minLineConfidence = 0.1
)

// Parsed is the structural breakdown of one ingredient line.
type Parsed struct {
	Raw         string
	Name        string
	Quantity    *Quantity
	Unit        *Unit
	Descriptor  string
	Preparation string
	Partial     bool
	Confidence  float64
}

var (
	reParenthetical = regexp.MustCompile(`\(([^)]*)\)`)
	reSpaces        = regexp.MustCompile(`\s+`)
)

const bulletChars = "•▢▪◦●○□☐✓✔*-–· \t"

// Parse splits a raw ingredient line into quantity, unit, size descriptor,
// preparation and name using the reference table.
func (r *Reference) Parse(line string) (Parsed, error) {
	p := Parsed{Raw: line}
	text := strings.ToLower(strings.TrimSpace(line))
	text = strings.TrimLeft(text, bulletChars)
	text = strings.TrimSpace(text)

	if utf8.RuneCountInString(text) < minIngredientLength || r.isBareUnit(text) {
		return p, ErrNotIngredient
	}

	text, notes := r.extractParentheticals(text)

	q, rest, hasQty, err := ParseQuantity(text)
	switch {
	case err != nil:
		p.Partial = true
	case hasQty:
		p.Quantity = &q
	}

	words := strings.Fields(rest)
	i := 0
	if !hasQty && len(words) > 1 && (words[0] == "a" || words[0] == "an") {
		if _, ok := r.LookupUnit(trimWord(words[1])); ok {
			p.Quantity = &Quantity{Value: 1, Min: 1, Max: 1}
			hasQty = true
			i++
		}
	}

	var descriptors []string
	if i < len(words) && r.isSize(trimWord(words[i])) {
		descriptors = append(descriptors, trimWord(words[i]))
		i++
	}
	descriptors = append(descriptors, notes.other...)

	if u, n := r.matchUnit(words[i:], hasQty || p.Partial); u != nil {
		p.Unit = u
		i += n
	}
	for i < len(words) && r.isFiller(trimWord(words[i])) {
		i++
	}

	remainder := strings.Join(words[i:], " ")
	head, tail, _ := strings.Cut(remainder, ",")
	head, qualifier := r.cutQualifier(head)

	var preps []string
	var nameWords []string
	headWords := strings.Fields(head)
	for j := 0; j < len(headWords); j++ {
		w := trimWord(headWords[j])
		if r.isModifier(w) && j+1 < len(headWords) && r.isPrep(trimWord(headWords[j+1])) {
			preps = append(preps, w+" "+trimWord(headWords[j+1]))
			j++
			continue
		}
		if r.isPrep(w) {
			preps = append(preps, w)
			continue
		}
		nameWords = append(nameWords, headWords[j])
	}
	preps = append(preps, notes.preps...)
	if t := cleanPhrase(tail); t != "" {
		preps = append(preps, t)
	}
	if qualifier != "" {
		preps = append(preps, qualifier)
	}

	for len(nameWords) > 0 && r.isFiller(trimWord(nameWords[len(nameWords)-1])) {
		nameWords = nameWords[:len(nameWords)-1]
	}
	p.Name = cleanPhrase(strings.Join(nameWords, " "))
	if utf8.RuneCountInString(p.Name) < minNameLength || r.isBareUnit(p.Name) {
		return p, ErrNotIngredient
	}
	p.Descriptor = strings.Join(descriptors, ", ")
	p.Preparation = strings.Join(preps, ", ")
	p.Confidence = lineConfidence(p)
	return p, nil
}

type parentheticalNotes struct {
	preps []string
	other []string
}

func (r *Reference) extractParentheticals(text string) (string, parentheticalNotes) {
	var notes parentheticalNotes
	for _, m := range reParenthetical.FindAllStringSubmatch(text, -1) {
		inner := cleanPhrase(m[1])
		if inner == "" {
			continue
		}
		isPrep := false
		for _, w := range strings.Fields(inner) {
			if r.isPrep(trimWord(w)) {
				isPrep = true
				break
			}
		}
		if isPrep {
			notes.preps = append(notes.preps, inner)
		} else {
			notes.other = append(notes.other, inner)
		}
	}
	text = reParenthetical.ReplaceAllString(text, " ")
	return reSpaces.ReplaceAllString(strings.TrimSpace(text), " "), notes
}

// matchUnit tries a two-word unit first, then a single word. Without a
// preceding quantity a unit only counts when followed by a filler such as
// "of" ("pinch of salt").
func (r *Reference) matchUnit(words []string, quantified bool) (*Unit, int) {
	if len(words) >= 2 {
		if u, ok := r.LookupUnit(trimWord(words[0]) + " " + trimWord(words[1])); ok {
			return u, 2
		}
	}
	if len(words) == 0 {
		return nil, 0
	}
	u, ok := r.LookupUnit(trimWord(words[0]))
	if !ok {
		return nil, 0
	}
	if quantified || (len(words) > 1 && r.isFiller(trimWord(words[1]))) {
		return u, 1
	}
	return nil, 0
}

func (r *Reference) isBareUnit(text string) bool {
	_, ok := r.LookupUnit(strings.Trim(text, ".,;: "))
	return ok
}

func lineConfidence(p Parsed) float64 {
	c := baseConfidence
	if p.Quantity != nil {
		c += quantityBonus
	}
	if p.Unit != nil {
		c += unitBonus
	}
	if p.Preparation != "" {
		c += preparationBonus
	}
	if p.Partial {
		c -= partialPenalty
	}
	c = math.Max(minLineConfidence, math.Min(1, c))
	return math.Round(c*100) / 100
}

func trimWord(w string) string {
	return strings.Trim(w, ".,;:!?\"'")
}

func cleanPhrase(s string) string {
	s = reSpaces.ReplaceAllString(s, " ")
	return strings.Trim(s, " ,.;:•▢*-")
}
