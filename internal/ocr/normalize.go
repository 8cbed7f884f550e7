package ocr

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	reCRLF        = regexp.MustCompile(`\r\n?`)
	reTabs        = regexp.MustCompile(`\t+`)
	reMultiSpace  = regexp.MustCompile(` {2,}`)
	reMultiBlank  = regexp.MustCompile(`\n{4,}`)
	reBoxNoise    = regexp.MustCompile(`(?m)^\s*[_|~]{3,}\s*$`)
	reFractionOCR = regexp.MustCompile(`\b[lI]/(\d)\b`)
	rePipeLetter  = regexp.MustCompile(`\|`)
)

// minLineRunes drops OCR crumbs such as stray punctuation.
const minLineRunes = 3

// Normalize collapses noisy whitespace and fixes common OCR artifacts in
// recipe text. Line breaks are kept and blank runs are capped at two lines
// so recipe boundaries survive.
func Normalize(s string) string {
	if s == "" {
		return s
	}
	s = reCRLF.ReplaceAllString(s, "\n")
	s = reBoxNoise.ReplaceAllString(s, "")
	s = reTabs.ReplaceAllString(s, " ")
	s = reMultiSpace.ReplaceAllString(s, " ")
	s = rePipeLetter.ReplaceAllString(s, "I")
	s = reFractionOCR.ReplaceAllString(s, "1/$1")

	lines := strings.Split(s, "\n")
	kept := lines[:0]
	for _, ln := range lines {
		ln = strings.TrimSpace(ln)
		if ln != "" && utf8.RuneCountInString(ln) < minLineRunes {
			continue
		}
		kept = append(kept, ln)
	}
	s = strings.Join(kept, "\n")
	s = reMultiBlank.ReplaceAllString(s, "\n\n\n")
	return strings.TrimSpace(s)
}
