package scrape

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"golang.org/x/net/html"
)

//go:embed recipe.schema.json
var recipeSchemaJSON []byte

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func recipeSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("recipe.schema.json", bytes.NewReader(recipeSchemaJSON)); err != nil {
			schemaErr = fmt.Errorf("add schema: %w", err)
			return
		}
		schema, schemaErr = compiler.Compile("recipe.schema.json")
	})
	return schema, schemaErr
}

// jsonLDRecipe is the subset of schema.org/Recipe we read.
type jsonLDRecipe struct {
	Name         string
	Ingredients  []string
	Instructions []string
	PrepTime     string
	CookTime     string
	TotalTime    string
	Yield        string
}

// jsonLDRecipes returns every valid Recipe object in the page's
// application/ld+json scripts, in document order.
func jsonLDRecipes(doc *html.Node) []jsonLDRecipe {
	sc, err := recipeSchema()
	if err != nil {
		return nil
	}
	var out []jsonLDRecipe
	walk(doc, func(n *html.Node) bool {
		if n.Type != html.ElementNode || n.Data != "script" || !strings.EqualFold(attr(n, "type"), "application/ld+json") {
			return true
		}
		var v any
		if err := json.Unmarshal([]byte(rawText(n)), &v); err != nil {
			return false
		}
		for _, obj := range recipeObjects(v) {
			if sc.Validate(obj) != nil {
				continue
			}
			out = append(out, decodeRecipe(obj))
		}
		return false
	})
	return out
}

// recipeObjects flattens arrays and @graph containers and keeps objects
// whose @type is or includes "Recipe".
func recipeObjects(v any) []map[string]any {
	switch t := v.(type) {
	case []any:
		var out []map[string]any
		for _, item := range t {
			out = append(out, recipeObjects(item)...)
		}
		return out
	case map[string]any:
		if isRecipeType(t["@type"]) {
			return []map[string]any{t}
		}
		if g, ok := t["@graph"]; ok {
			return recipeObjects(g)
		}
	}
	return nil
}

func isRecipeType(v any) bool {
	switch t := v.(type) {
	case string:
		return t == "Recipe" || strings.HasSuffix(t, "/Recipe")
	case []any:
		for _, x := range t {
			if isRecipeType(x) {
				return true
			}
		}
	}
	return false
}

func decodeRecipe(obj map[string]any) jsonLDRecipe {
	r := jsonLDRecipe{
		Name:      cleanText(str(obj["name"])),
		PrepTime:  str(obj["prepTime"]),
		CookTime:  str(obj["cookTime"]),
		TotalTime: str(obj["totalTime"]),
		Yield:     yieldString(obj["recipeYield"]),
	}
	if list, ok := obj["recipeIngredient"].([]any); ok {
		for _, it := range list {
			if s := cleanText(str(it)); s != "" {
				r.Ingredients = append(r.Ingredients, s)
			}
		}
	}
	r.Instructions = instructionSteps(obj["recipeInstructions"])
	return r
}

// instructionSteps accepts a string, HowToStep objects and HowToSection
// objects with nested itemListElement.
func instructionSteps(v any) []string {
	switch t := v.(type) {
	case string:
		var out []string
		for _, ln := range strings.Split(t, "\n") {
			if ln = cleanText(ln); ln != "" {
				out = append(out, ln)
			}
		}
		return out
	case []any:
		var out []string
		for _, item := range t {
			out = append(out, instructionSteps(item)...)
		}
		return out
	case map[string]any:
		if items, ok := t["itemListElement"]; ok {
			return instructionSteps(items)
		}
		if s := cleanText(str(t["text"])); s != "" {
			return []string{s}
		}
		if s := cleanText(str(t["name"])); s != "" {
			return []string{s}
		}
	}
	return nil
}

func yieldString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.Itoa(int(t))
	case []any:
		if len(t) > 0 {
			return yieldString(t[0])
		}
	}
	return ""
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

var reISODuration = regexp.MustCompile(`^P(?:(\d+)D)?T?(?:(\d+)H)?(?:(\d+)M)?(?:\d+S)?$`)

// isoMinutes converts an ISO 8601 duration such as "PT1H30M" to minutes.
func isoMinutes(s string) int {
	m := reISODuration.FindStringSubmatch(strings.ToUpper(strings.TrimSpace(s)))
	if m == nil {
		return 0
	}
	d, _ := strconv.Atoi(m[1])
	h, _ := strconv.Atoi(m[2])
	mins, _ := strconv.Atoi(m[3])
	return d*24*60 + h*60 + mins
}

// format renders the recipe in the plain layout the recipe parser reads.
func (r jsonLDRecipe) format() string {
	var b strings.Builder
	if r.Name != "" {
		b.WriteString(r.Name + "\n")
	}
	for _, f := range []struct{ label, v string }{
		{"Prep Time", r.PrepTime},
		{"Cook Time", r.CookTime},
		{"Total Time", r.TotalTime},
	} {
		if m := isoMinutes(f.v); m > 0 {
			fmt.Fprintf(&b, "%s: %d minutes\n", f.label, m)
		}
	}
	if r.Yield != "" {
		fmt.Fprintf(&b, "Serves: %s\n", r.Yield)
	}
	if len(r.Ingredients) > 0 {
		b.WriteString("\nINGREDIENTS:\n")
		for _, ing := range r.Ingredients {
			b.WriteString("• " + ing + "\n")
		}
	}
	if len(r.Instructions) > 0 {
		b.WriteString("\nINSTRUCTIONS:\n")
		for i, step := range r.Instructions {
			fmt.Fprintf(&b, "%d. %s\n", i+1, step)
		}
	}
	return strings.TrimSpace(b.String())
}
