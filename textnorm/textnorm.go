// Package textnorm provides text normalization and fuzzy similarity for
// duplicate detection and clustering.
//
// Similarity is token-set based: word order and repeated words do not count,
// so "stripe webhook keeps failing" and "failing stripe webhook" score 1.0.
package textnorm

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"
	"unicode"
)

// Normalize lowercases s, strips punctuation, and collapses whitespace.
// Used to build content hashes and as the base for similarity comparison.
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	prevSpace := true
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			prevSpace = false
		default:
			if !prevSpace {
				b.WriteByte(' ')
				prevSpace = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}

// Hash returns the SHA-256 hex digest of the normalized text. Two items with
// identical wording modulo case/punctuation/whitespace share a hash.
func Hash(s string) string {
	sum := sha256.Sum256([]byte(Normalize(s)))
	return fmt.Sprintf("%x", sum)
}

// TokenSetRatio computes similarity in [0,1] between a and b using the
// token-set method: both are normalized and split into unique word sets,
// then the shared-token core is compared against each full set. A full
// subset relationship with a non-empty intersection scores 1.0.
func TokenSetRatio(a, b string) float64 {
	ta := tokenSet(a)
	tb := tokenSet(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}

	var inter, onlyA, onlyB []string
	for tok := range ta {
		if tb[tok] {
			inter = append(inter, tok)
		} else {
			onlyA = append(onlyA, tok)
		}
	}
	for tok := range tb {
		if !ta[tok] {
			onlyB = append(onlyB, tok)
		}
	}
	sort.Strings(inter)
	sort.Strings(onlyA)
	sort.Strings(onlyB)

	core := strings.Join(inter, " ")
	full1 := joinNonEmpty(core, strings.Join(onlyA, " "))
	full2 := joinNonEmpty(core, strings.Join(onlyB, " "))

	r := editRatio(core, full1)
	if r2 := editRatio(core, full2); r2 > r {
		r = r2
	}
	if r3 := editRatio(full1, full2); r3 > r {
		r = r3
	}
	return r
}

func joinNonEmpty(a, b string) string {
	if a == "" {
		return b
	}
	if b == "" {
		return a
	}
	return a + " " + b
}

func tokenSet(s string) map[string]bool {
	set := make(map[string]bool)
	for tok := range strings.FieldsSeq(Normalize(s)) {
		set[tok] = true
	}
	return set
}

// editRatio is the normalized Levenshtein similarity: 1 - dist/maxLen.
// Empty-vs-empty compares equal.
func editRatio(a, b string) float64 {
	if a == b {
		return 1
	}
	if a == "" || b == "" {
		return 0
	}
	ra, rb := []rune(a), []rune(b)
	dist := levenshtein(ra, rb)
	longest := max(len(ra), len(rb))
	return 1 - float64(dist)/float64(longest)
}

func levenshtein(a, b []rune) int {
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		cur[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}
