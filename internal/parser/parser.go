// Package parser finds recipe candidates in free text and scores how
// confident it is in each one.
package parser

import (
	"math"
	"strings"

	"github.com/joseph-ayodele/recipe-ingest/internal/entity"
)

// UntitledRecipe is used when no line qualifies as a name.
const UntitledRecipe = "Untitled Recipe"

const (
	// DefaultDiscardThreshold drops candidates scoring below it.
	DefaultDiscardThreshold = 0.35
	// DefaultMinBlockChars discards shorter blocks unless they carry a
	// name, ingredients and steps.
	DefaultMinBlockChars = 50

	weightName           = 0.30
	weightClassification = 0.40
	weightStructure      = 0.20
	weightMetadata       = 0.10
)

// Role tells the parser what a hinted stream contains.
type Role string

const (
	RoleIngredients Role = "ingredients"
	RoleDirections  Role = "directions"
)

// Stream is text whose role is already known, e.g. one photo of a pair.
type Stream struct {
	Role Role
	Text string
}

// Hints carry out-of-band knowledge about the input.
type Hints struct {
	// Streams bypass segmentation: ingredients and directions are read
	// from their own texts and form a single candidate.
	Streams []Stream
	// NameHint names a single-recipe input that has no usable title line.
	NameHint string
}

// Candidate is one recipe found in the text.
type Candidate struct {
	Name          string
	Ingredients   []string
	Steps         []string
	Metadata      entity.RecipeMetadata
	Confidence    float64
	LowConfidence bool
}

// Result splits candidates into kept and low-confidence discarded ones.
type Result struct {
	Recipes   []Candidate
	Discarded []Candidate
}

// Parser is safe for concurrent use.
type Parser struct {
	threshold     float64
	minBlockChars int
}

// Option customises a Parser.
type Option func(*Parser)

// WithDiscardThreshold sets the minimum confidence a candidate needs.
func WithDiscardThreshold(t float64) Option { return func(p *Parser) { p.threshold = t } }

// WithMinBlockChars sets the size below which unstructured blocks are
// discarded.
func WithMinBlockChars(n int) Option { return func(p *Parser) { p.minBlockChars = n } }

// New creates a Parser.
func New(opts ...Option) *Parser {
	p := &Parser{threshold: DefaultDiscardThreshold, minBlockChars: DefaultMinBlockChars}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Parse extracts recipe candidates from text. The output depends only on
// the input.
func (p *Parser) Parse(text string, hints Hints) Result {
	if len(hints.Streams) > 0 {
		return p.sort([]Candidate{p.parseStreams(hints)})
	}
	if strings.TrimSpace(text) == "" {
		return Result{}
	}
	blocks := segment(text)
	parsed := make([]scored, len(blocks))
	var kept []int
	var small []Candidate
	for i, b := range blocks {
		parsed[i] = p.parseBlock(b)
		c := &parsed[i]
		// a short block survives only with a name, ingredients and steps
		if blockChars(b) < p.minBlockChars && (c.Name == UntitledRecipe || !c.structured()) {
			c.LowConfidence = true
			small = append(small, c.Candidate)
			continue
		}
		kept = append(kept, i)
	}

	cands := make([]Candidate, 0, len(kept))
	for _, i := range kept {
		c := parsed[i]
		if c.Name == UntitledRecipe && hints.NameHint != "" && len(kept) == 1 {
			c.Name = strings.TrimSpace(hints.NameHint)
			c.Confidence = score(true, c.ratio, c.structured(), !c.Metadata.Empty())
		}
		cands = append(cands, c.Candidate)
	}
	res := p.sort(cands)
	res.Discarded = append(res.Discarded, small...)
	return res
}

func (p *Parser) sort(cands []Candidate) Result {
	var res Result
	for _, c := range cands {
		if c.Confidence < p.threshold || (len(c.Ingredients) == 0 && len(c.Steps) == 0) {
			res.Discarded = append(res.Discarded, c)
			continue
		}
		res.Recipes = append(res.Recipes, c)
	}
	return res
}

type section int

const (
	sectionNone section = iota
	sectionIngredients
	sectionInstructions
	sectionTrailer
)

type scored struct {
	Candidate
	ratio float64
}

func (c *Candidate) structured() bool {
	return len(c.Ingredients) > 0 && len(c.Steps) > 0
}

type collector struct {
	ingredients []string
	steps       []string
	lastStep    bool
}

func (c *collector) addIngredient(line string) bool {
	s := stripBullet(line)
	if len(s) <= 2 {
		return false
	}
	c.ingredients = append(c.ingredients, s)
	c.lastStep = false
	return true
}

// addStep appends a step. Unnumbered text continues the previous step when
// that step has no closing punctuation, which rejoins wrapped OCR lines.
func (c *collector) addStep(line string, allowContinuation bool) {
	numbered := isNumberedStep(line)
	s := stripStepNumber(stripBullet(line))
	if s == "" {
		return
	}
	if !numbered && allowContinuation && len(c.steps) > 0 && !endsSentence(c.steps[len(c.steps)-1]) {
		c.steps[len(c.steps)-1] += " " + s
	} else {
		c.steps = append(c.steps, s)
	}
	c.lastStep = true
}

func (c *collector) finish() ([]string, []string) {
	steps := make([]string, 0, len(c.steps))
	for _, s := range c.steps {
		if len(s) < minInstructionLength && len(steps) > 0 {
			steps[len(steps)-1] += " " + s
			continue
		}
		if len(s) < minInstructionLength {
			continue
		}
		steps = append(steps, s)
	}
	return c.ingredients, steps
}

func endsSentence(s string) bool {
	return strings.HasSuffix(s, ".") || strings.HasSuffix(s, "!") || strings.HasSuffix(s, "?")
}

func (p *Parser) parseBlock(lines []string) scored {
	name, nameIdx := findName(lines)

	var col collector
	sec := sectionNone
	classified, total := 0, 0
	for i, l := range lines {
		if i == nameIdx {
			continue
		}
		total++
		kind, rest := classifyHeader(l)
		switch kind {
		case kindMetadata:
			classified++
			continue
		case kindIngredientHeader:
			sec = sectionIngredients
			classified++
			if rest != "" {
				col.addIngredient(rest)
			}
			continue
		case kindInstructionHeader:
			sec = sectionInstructions
			classified++
			if rest != "" {
				col.addStep(rest, false)
			}
			continue
		case kindTrailerHeader:
			sec = sectionTrailer
			classified++
			continue
		}
		if reRecipeHeading.MatchString(l) {
			classified++
			continue
		}

		switch sec {
		case sectionIngredients:
			switch {
			case isNumberedStep(l):
				sec = sectionInstructions
				col.addStep(l, false)
			case reSubHeading.MatchString(l) && !isIngredientLike(l):
			default:
				col.addIngredient(l)
			}
			classified++
		case sectionInstructions:
			if !reSubHeading.MatchString(l) {
				col.addStep(l, true)
			}
			classified++
		case sectionTrailer:
			classified++
		default:
			switch {
			case isIngredientLike(l):
				if col.addIngredient(l) {
					classified++
				}
			case isStepLike(l):
				col.addStep(l, false)
				classified++
			case col.lastStep && !endsSentence(col.steps[len(col.steps)-1]):
				col.addStep(l, true)
				classified++
			}
		}
	}

	ingredients, steps := col.finish()
	ratio := 0.0
	if total > 0 {
		ratio = float64(classified) / float64(total)
	}
	c := Candidate{
		Name:        name,
		Ingredients: ingredients,
		Steps:       steps,
		Metadata:    extractMetadata(strings.Join(lines, "\n")),
	}
	c.Confidence = score(name != UntitledRecipe, ratio, c.structured(), !c.Metadata.Empty())
	c.LowConfidence = !c.structured()
	return scored{Candidate: c, ratio: ratio}
}

func (p *Parser) parseStreams(h Hints) Candidate {
	var ingLines, dirLines []string
	for _, s := range h.Streams {
		lines := nonEmptyLines(s.Text)
		switch s.Role {
		case RoleIngredients:
			ingLines = append(ingLines, lines...)
		case RoleDirections:
			dirLines = append(dirLines, lines...)
		}
	}

	name := strings.TrimSpace(h.NameHint)
	nameIdx := -1
	if name == "" {
		name, nameIdx = findName(ingLines)
	}

	var col collector
	for i, l := range ingLines {
		if i == nameIdx {
			continue
		}
		kind, rest := classifyHeader(l)
		switch {
		case kind == kindIngredientHeader:
			if rest != "" {
				col.addIngredient(rest)
			}
		case kind != kindOther, reSubHeading.MatchString(l) && !isIngredientLike(l):
		default:
			col.addIngredient(l)
		}
	}
	for _, l := range dirLines {
		kind, rest := classifyHeader(l)
		switch {
		case kind == kindInstructionHeader:
			if rest != "" {
				col.addStep(rest, false)
			}
		case kind != kindOther, reSubHeading.MatchString(l):
		default:
			col.addStep(l, true)
		}
	}

	ingredients, steps := col.finish()
	c := Candidate{
		Name:        name,
		Ingredients: ingredients,
		Steps:       steps,
		Metadata:    extractMetadata(strings.Join(append(append([]string{}, ingLines...), dirLines...), "\n")),
	}
	ratio := 0.0
	if len(ingLines)+len(dirLines) > 0 {
		ratio = 1
	}
	c.Confidence = score(name != UntitledRecipe && name != "", ratio, c.structured(), !c.Metadata.Empty())
	c.LowConfidence = !c.structured()
	if c.Name == "" {
		c.Name = UntitledRecipe
	}
	return c
}

func nonEmptyLines(text string) []string {
	var out []string
	for _, l := range strings.Split(normalizeNewlines(text), "\n") {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return out
}

// findName returns the first of the leading lines that reads as a title.
func findName(lines []string) (string, int) {
	for i := 0; i < len(lines) && i < nameSearchLines; i++ {
		if n := nameCandidate(lines[i]); n != "" {
			return n, i
		}
	}
	return UntitledRecipe, -1
}

func nameCandidate(line string) string {
	l := strings.TrimSpace(line)
	if m := reRecipeHeading.FindStringSubmatch(l); m != nil {
		l = strings.TrimSpace(m[1])
	}
	l = strings.TrimSpace(strings.TrimPrefix(l, "#"))
	switch {
	case l == "", len(l) >= maxNameLength:
		return ""
	case reNameStopPrefix.MatchString(l), rePlaceholderName.MatchString(l), reMetadataLine.MatchString(l):
		return ""
	case isIngredientLike(l), isNumberedStep(l), reSeparator.MatchString(l):
		return ""
	case endsSentence(l) && len(strings.Fields(l)) > 6:
		return ""
	}
	return strings.TrimRight(l, ":")
}

func score(hasName bool, ratio float64, structured, hasMetadata bool) float64 {
	c := weightClassification * ratio
	if hasName {
		c += weightName
	}
	if structured {
		c += weightStructure
	}
	if hasMetadata {
		c += weightMetadata
	}
	c = math.Max(0, math.Min(1, c))
	return math.Round(c*1000) / 1000
}
