package normalize

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
)

// Quantity is a parsed leading amount. Ranges keep both ends and use the
// midpoint as Value.
type Quantity struct {
	Value float64
	Min   float64
	Max   float64
	Range bool
}

var errMalformedQuantity = errors.New("malformed quantity")

var vulgarFractions = map[rune]float64{
	'½': 1.0 / 2, '⅓': 1.0 / 3, '⅔': 2.0 / 3, '¼': 1.0 / 4, '¾': 3.0 / 4,
	'⅕': 1.0 / 5, '⅖': 2.0 / 5, '⅗': 3.0 / 5, '⅘': 4.0 / 5, '⅙': 1.0 / 6,
	'⅚': 5.0 / 6, '⅛': 1.0 / 8, '⅜': 3.0 / 8, '⅝': 5.0 / 8, '⅞': 7.0 / 8,
}

const vulgarClass = `½⅓⅔¼¾⅕⅖⅗⅘⅙⅚⅛⅜⅝⅞`

const numberPattern = `(?:\d+\s+\d+\s*/\s*\d+|\d+\s*[` + vulgarClass + `]|\d+\s*/\s*\d+|\d*\.\d+|\d+|[` + vulgarClass + `])`

var (
	reLeadingQuantity = regexp.MustCompile(`^(` + numberPattern + `)`)
	reRangeSeparator  = regexp.MustCompile(`^(` + numberPattern + `)(?:\s*(?:-|–|—)\s*|\s+to\s+)(` + numberPattern + `)`)
	reTrailingGarbage = regexp.MustCompile(`^[./\d]`)
	reMixed           = regexp.MustCompile(`^(\d+)\s+(\d+)\s*/\s*(\d+)$`)
	reFraction        = regexp.MustCompile(`^(\d+)\s*/\s*(\d+)$`)
	reIntVulgar       = regexp.MustCompile(`^(\d+)\s*([` + vulgarClass + `])$`)
)

// ParseQuantity reads a leading quantity from s. It returns the quantity,
// the remaining text and whether a quantity was present. A leading number
// that cannot be evaluated yields errMalformedQuantity and the text after
// the numeric token.
func ParseQuantity(s string) (Quantity, string, bool, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Quantity{}, s, false, nil
	}

	if m := reRangeSeparator.FindStringSubmatch(s); m != nil {
		rest := s[len(m[0]):]
		lo, err1 := parseNumber(m[1])
		hi, err2 := parseNumber(m[2])
		if err1 != nil || err2 != nil || reTrailingGarbage.MatchString(rest) {
			return Quantity{}, skipNumericToken(rest), true, errMalformedQuantity
		}
		if hi < lo && hi < 1 && reFraction.MatchString(strings.TrimSpace(m[2])) {
			// "1-1/2" is a mixed number, not a range
			v := lo + hi
			return Quantity{Value: v, Min: v, Max: v}, strings.TrimSpace(rest), true, nil
		}
		if hi < lo {
			lo, hi = hi, lo
		}
		return Quantity{Value: (lo + hi) / 2, Min: lo, Max: hi, Range: true}, strings.TrimSpace(rest), true, nil
	}

	m := reLeadingQuantity.FindStringSubmatch(s)
	if m == nil {
		return Quantity{}, s, false, nil
	}
	token := m[1]
	rest := s[len(token):]
	v, err := parseNumber(token)
	if err != nil || reTrailingGarbage.MatchString(rest) {
		return Quantity{}, skipNumericToken(rest), true, errMalformedQuantity
	}
	return Quantity{Value: v, Min: v, Max: v}, strings.TrimSpace(rest), true, nil
}

func skipNumericToken(rest string) string {
	rest = strings.TrimLeft(rest, "0123456789./"+vulgarClass)
	return strings.TrimSpace(rest)
}

func parseNumber(tok string) (float64, error) {
	tok = strings.TrimSpace(tok)
	if m := reMixed.FindStringSubmatch(tok); m != nil {
		whole, _ := strconv.ParseFloat(m[1], 64)
		frac, err := fraction(m[2], m[3])
		if err != nil {
			return 0, err
		}
		return whole + frac, nil
	}
	if m := reFraction.FindStringSubmatch(tok); m != nil {
		return fraction(m[1], m[2])
	}
	if m := reIntVulgar.FindStringSubmatch(tok); m != nil {
		whole, _ := strconv.ParseFloat(m[1], 64)
		r := []rune(m[2])
		return whole + vulgarFractions[r[0]], nil
	}
	if r := []rune(tok); len(r) == 1 {
		if v, ok := vulgarFractions[r[0]]; ok {
			return v, nil
		}
	}
	v, err := strconv.ParseFloat(tok, 64)
	if err != nil {
		return 0, errMalformedQuantity
	}
	return v, nil
}

func fraction(num, den string) (float64, error) {
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, errMalformedQuantity
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0, errMalformedQuantity
	}
	return n / d, nil
}
