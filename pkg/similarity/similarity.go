// Package similarity provides the string comparison metrics used to score
// names and addresses. All metrics return a value in [0, 1].
package similarity

import (
	"fmt"
	"strings"
	"unicode"
)

// Func compares two strings.
type Func func(a, b string) float64

const (
	AlgorithmTrigram     = "trigram"
	AlgorithmJaroWinkler = "jaro_winkler"
	AlgorithmLevenshtein = "levenshtein"
)

// ByName returns the metric registered under name.
func ByName(name string) (Func, error) {
	switch strings.ToLower(name) {
	case "", AlgorithmTrigram:
		return Trigram, nil
	case AlgorithmJaroWinkler:
		return JaroWinkler, nil
	case AlgorithmLevenshtein:
		return Levenshtein, nil
	}
	return nil, fmt.Errorf("unknown similarity algorithm %q", name)
}

// ExactFold reports whether a and b are equal ignoring case and surrounding space.
func ExactFold(a, b string) bool {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	return a != "" && strings.EqualFold(a, b)
}

// Trigram follows pg_trgm: each word is lowercased and padded with two leading
// and one trailing space, and the score is shared trigrams over the union.
func Trigram(a, b string) float64 {
	left, right := trigrams(a), trigrams(b)
	if len(left) == 0 || len(right) == 0 {
		return 0
	}

	intersection := 0
	for token := range left {
		if _, ok := right[token]; ok {
			intersection++
		}
	}
	if intersection == 0 {
		return 0
	}

	union := len(left) + len(right) - intersection
	return float64(intersection) / float64(union)
}

func trigrams(s string) map[string]struct{} {
	words := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if len(words) == 0 {
		return nil
	}

	set := make(map[string]struct{})
	for _, w := range words {
		runes := []rune("  " + w + " ")
		for i := 0; i <= len(runes)-3; i++ {
			set[string(runes[i:i+3])] = struct{}{}
		}
	}
	return set
}

// JaroWinkler calculates the Jaro-Winkler similarity between two strings
func JaroWinkler(a, b string) float64 {
	ra, rb := []rune(strings.ToLower(a)), []rune(strings.ToLower(b))
	if string(ra) == string(rb) {
		if len(ra) == 0 {
			return 0
		}
		return 1
	}

	jaro := jaro(ra, rb)

	prefixLen := 0
	for i := 0; i < len(ra) && i < len(rb) && i < 4; i++ {
		if ra[i] != rb[i] {
			break
		}
		prefixLen++
	}

	return jaro + float64(prefixLen)*0.1*(1.0-jaro)
}

func jaro(a, b []rune) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	matchDist := max(len(a), len(b))/2 - 1
	if matchDist < 0 {
		matchDist = 0
	}

	aMatches := make([]bool, len(a))
	bMatches := make([]bool, len(b))

	matches := 0
	for i := range a {
		start := max(0, i-matchDist)
		end := min(len(b), i+matchDist+1)
		for j := start; j < end; j++ {
			if bMatches[j] || a[i] != b[j] {
				continue
			}
			aMatches[i] = true
			bMatches[j] = true
			matches++
			break
		}
	}
	if matches == 0 {
		return 0
	}

	transpositions := 0
	k := 0
	for i := range a {
		if !aMatches[i] {
			continue
		}
		for !bMatches[k] {
			k++
		}
		if a[i] != b[k] {
			transpositions++
		}
		k++
	}

	m := float64(matches)
	t := float64(transpositions) / 2
	return (m/float64(len(a)) + m/float64(len(b)) + (m-t)/m) / 3
}

// Levenshtein converts edit distance into a similarity.
func Levenshtein(a, b string) float64 {
	ra, rb := []rune(strings.ToLower(a)), []rune(strings.ToLower(b))
	maxLen := max(len(ra), len(rb))
	if maxLen == 0 {
		return 0
	}
	return 1.0 - float64(levenshteinDistance(ra, rb))/float64(maxLen)
}

func levenshteinDistance(a, b []rune) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	row := make([]int, len(b)+1)
	prevRow := make([]int, len(b)+1)
	for j := range prevRow {
		prevRow[j] = j
	}

	for i := 1; i <= len(a); i++ {
		row[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 0
			if a[i-1] != b[j-1] {
				cost = 1
			}
			row[j] = min(row[j-1]+1, prevRow[j]+1, prevRow[j-1]+cost)
		}
		row, prevRow = prevRow, row
	}

	return prevRow[len(b)]
}
