package classifier

import (
	"strings"
	"unicode"
)

var stopWords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "with": {},
	"club": {}, "chess": {}, "tournament": {}, "championship": {}, "open": {},
	// es
	"torneo": {}, "campeonato": {}, "ajedrez": {}, "abierto": {},
	// de
	"schach": {}, "turnier": {}, "meisterschaft": {},
}

// nameTokens lowercases, strips everything that is not a letter or digit, and returns the
// distinct significant tokens of a tournament name.
func nameTokens(name string) []string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToLower(r)
		}
		return ' '
	}, name)

	seen := make(map[string]struct{})
	var tokens []string
	for _, w := range strings.Fields(cleaned) {
		if len([]rune(w)) <= 2 {
			continue
		}
		if _, stop := stopWords[w]; stop {
			continue
		}
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		tokens = append(tokens, w)
	}
	return tokens
}

// AreTournamentsSame is a permissive fuzzy match tolerant of truncated names. False positives
// are accepted: under-counting pending games is safer than double-counting rated ones.
func AreTournamentsSame(a, b string) bool {
	wa := nameTokens(a)
	wb := nameTokens(b)
	if len(wa) == 0 || len(wb) == 0 {
		return false
	}

	inB := make(map[string]struct{}, len(wb))
	for _, w := range wb {
		inB[w] = struct{}{}
	}

	common := 0
	for _, w := range wa {
		if _, ok := inB[w]; ok {
			common++
		}
	}

	if common >= 2 {
		return true
	}
	return common >= 1 && (len(wa) == 1 || len(wb) == 1)
}
