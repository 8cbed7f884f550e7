package normalize

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Dimension groups units that convert into each other.
type Dimension string

const (
	DimensionVolume Dimension = "volume"
	DimensionMass   Dimension = "mass"
	DimensionCount  Dimension = "count"
)

// Unit is one entry of the reference table.
type Unit struct {
	Name      string    `yaml:"name"`
	Dimension Dimension `yaml:"dimension"`
	Factor    float64   `yaml:"factor"`
	Aliases   []string  `yaml:"aliases"`
}

// Reference is the parsed unit and vocabulary table.
type Reference struct {
	Units        []Unit   `yaml:"units"`
	Sizes        []string `yaml:"sizes"`
	Preparations []string `yaml:"preparations"`
	Modifiers    []string `yaml:"modifiers"`
	Fillers      []string `yaml:"fillers"`
	// Qualifiers are trailing phrases such as "to taste" that belong to
	// the preparation, not the name.
	Qualifiers []string `yaml:"qualifiers"`

	byAlias map[string]*Unit
	sizes   map[string]struct{}
	preps   map[string]struct{}
	mods    map[string]struct{}
	fillers map[string]struct{}
}

//go:embed units.yaml
var unitsYAML []byte

var (
	defaultRef     *Reference
	defaultRefErr  error
	defaultRefOnce sync.Once
)

// DefaultReference returns the embedded reference table.
func DefaultReference() *Reference {
	defaultRefOnce.Do(func() {
		defaultRef, defaultRefErr = ParseReference(unitsYAML)
	})
	if defaultRefErr != nil {
		panic(fmt.Sprintf("normalize: embedded units.yaml: %v", defaultRefErr))
	}
	return defaultRef
}

// ParseReference decodes a YAML reference table and builds its indexes.
func ParseReference(data []byte) (*Reference, error) {
	var ref Reference
	if err := yaml.Unmarshal(data, &ref); err != nil {
		return nil, fmt.Errorf("decode reference: %w", err)
	}
	ref.byAlias = make(map[string]*Unit)
	for i := range ref.Units {
		u := &ref.Units[i]
		switch u.Dimension {
		case DimensionVolume, DimensionMass:
			if u.Factor <= 0 {
				return nil, fmt.Errorf("unit %q: factor must be positive", u.Name)
			}
		case DimensionCount:
		default:
			return nil, fmt.Errorf("unit %q: unknown dimension %q", u.Name, u.Dimension)
		}
		for _, alias := range append([]string{u.Name}, u.Aliases...) {
			key := unitKey(alias)
			if prev, ok := ref.byAlias[key]; ok && prev != u {
				return nil, fmt.Errorf("alias %q shared by %q and %q", alias, prev.Name, u.Name)
			}
			ref.byAlias[key] = u
		}
	}
	ref.sizes = toSet(ref.Sizes)
	ref.preps = toSet(ref.Preparations)
	ref.mods = toSet(ref.Modifiers)
	ref.fillers = toSet(ref.Fillers)
	for i, q := range ref.Qualifiers {
		ref.Qualifiers[i] = strings.ToLower(strings.Join(strings.Fields(q), " "))
	}
	return &ref, nil
}

// LookupUnit resolves an alias such as "Tbsp." to its unit.
func (r *Reference) LookupUnit(alias string) (*Unit, bool) {
	u, ok := r.byAlias[unitKey(alias)]
	return u, ok
}

func (r *Reference) isSize(word string) bool {
	_, ok := r.sizes[word]
	return ok
}

func (r *Reference) isPrep(word string) bool {
	_, ok := r.preps[word]
	return ok
}

func (r *Reference) isModifier(word string) bool {
	_, ok := r.mods[word]
	return ok
}

// cutQualifier removes a trailing qualifier from phrase.
func (r *Reference) cutQualifier(phrase string) (rest, qualifier string) {
	trimmed := strings.TrimRight(phrase, ".,;: ")
	for _, q := range r.Qualifiers {
		if q == "" {
			continue
		}
		if trimmed == q {
			return "", q
		}
		if strings.HasSuffix(trimmed, " "+q) {
			return strings.TrimSpace(strings.TrimSuffix(trimmed, q)), q
		}
	}
	return phrase, ""
}

func (r *Reference) isFiller(word string) bool {
	_, ok := r.fillers[word]
	return ok
}

func unitKey(s string) string {
	s = strings.ToLower(strings.ReplaceAll(s, ".", ""))
	return strings.Join(strings.Fields(s), " ")
}

func toSet(words []string) map[string]struct{} {
	out := make(map[string]struct{}, len(words))
	for _, w := range words {
		out[strings.ToLower(strings.TrimSpace(w))] = struct{}{}
	}
	return out
}
