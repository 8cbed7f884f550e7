package normalize

import (
	"strings"
	"unicode"
)

var uncountable = map[string]struct{}{
	"molasses": {}, "hummus": {}, "couscous": {}, "asparagus": {}, "swiss": {},
	"grits": {}, "series": {}, "species": {}, "citrus": {},
	"octopus": {}, "bass": {}, "glass": {}, "grass": {}, "watercress": {},
}

var irregularPlurals = map[string]string{
	"leaves":   "leaf",
	"halves":   "half",
	"loaves":   "loaf",
	"knives":   "knife",
	"geese":    "goose",
	"teeth":    "tooth",
	"mice":     "mouse",
	"children": "child",
}

// Key is the mapping key for an ingredient phrase: lower-cased, punctuation
// dropped and whitespace collapsed.
func Key(phrase string) string {
	var b strings.Builder
	b.Grow(len(phrase))
	for _, r := range strings.ToLower(phrase) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '\'':
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// Singularize maps the last word of a key to its singular form so that
// "cherry tomatoes" and "cherry tomato" share a key.
func Singularize(key string) string {
	words := strings.Fields(key)
	if len(words) == 0 {
		return key
	}
	words[len(words)-1] = singularWord(words[len(words)-1])
	return strings.Join(words, " ")
}

func singularWord(w string) string {
	if _, ok := uncountable[w]; ok {
		return w
	}
	if s, ok := irregularPlurals[w]; ok {
		return s
	}
	n := len(w)
	switch {
	case n <= 3:
		return w
	case strings.HasSuffix(w, "ies") && n > 4:
		return w[:n-3] + "y"
	case strings.HasSuffix(w, "oes"):
		return w[:n-2]
	case strings.HasSuffix(w, "ches"), strings.HasSuffix(w, "shes"),
		strings.HasSuffix(w, "sses"), strings.HasSuffix(w, "xes"), strings.HasSuffix(w, "zes"):
		return w[:n-2]
	case strings.HasSuffix(w, "ss"), strings.HasSuffix(w, "us"), strings.HasSuffix(w, "is"):
		return w
	case strings.HasSuffix(w, "s"):
		return w[:n-1]
	}
	return w
}
