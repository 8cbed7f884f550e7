package constants

import (
	"strings"
)

type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

var allDifficulties = []Difficulty{
	DifficultyEasy,
	DifficultyMedium,
	DifficultyHard,
}

// CanonicalDifficulty maps free-text difficulty labels onto the fixed set.
func CanonicalDifficulty(input string) (Difficulty, bool) {
	if input == "" {
		return "", false
	}

	normalized := strings.ToLower(strings.TrimSpace(input))

	synonyms := map[string]Difficulty{
		"simple":       DifficultyEasy,
		"beginner":     DifficultyEasy,
		"intermediate": DifficultyMedium,
		"moderate":     DifficultyMedium,
		"difficult":    DifficultyHard,
		"advanced":     DifficultyHard,
		"challenging":  DifficultyHard,
	}

	if d, ok := synonyms[normalized]; ok {
		return d, true
	}

	for _, d := range allDifficulties {
		if normalized == string(d) {
			return d, true
		}
	}

	return "", false
}
