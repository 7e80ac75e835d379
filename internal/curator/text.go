package curator

import (
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"
)

var wordRe = regexp.MustCompile(`[\p{L}\p{N}]+`)

// englishStopwords is a small fixed stopword set for keyword/theme
// extraction. Kept as configurable data per the §9 Open Question about
// not code-baking stopword sets.
var englishStopwords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "but": true,
	"is": true, "are": true, "was": true, "were": true, "be": true, "been": true,
	"to": true, "of": true, "in": true, "on": true, "for": true, "with": true,
	"at": true, "by": true, "from": true, "this": true, "that": true, "it": true,
	"as": true, "not": true, "we": true, "you": true, "use": true, "using": true,
}

func tokenize(text string) []string {
	return wordRe.FindAllString(strings.ToLower(text), -1)
}

// computeSummary returns the leading prefix of content (≤100 chars,
// suffix "..." if truncated), per §3.
func computeSummary(content string) string {
	const maxLen = 100
	runes := []rune(strings.TrimSpace(content))
	if len(runes) <= maxLen {
		return string(runes)
	}
	return string(runes[:maxLen]) + "..."
}

// computeKeywords returns the comma-joined top-10 content tokens by
// frequency, excluding stopwords and tokens of length ≤1, per §3.
func computeKeywords(content string) string {
	counts := map[string]int{}
	for _, tok := range tokenize(content) {
		if utf8.RuneCountInString(tok) <= 1 || englishStopwords[tok] {
			continue
		}
		counts[tok]++
	}
	if len(counts) == 0 {
		return ""
	}

	type kv struct {
		word  string
		count int
	}
	pairs := make([]kv, 0, len(counts))
	for w, c := range counts {
		pairs = append(pairs, kv{w, c})
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].count != pairs[j].count {
			return pairs[i].count > pairs[j].count
		}
		return pairs[i].word < pairs[j].word
	})
	if len(pairs) > 10 {
		pairs = pairs[:10]
	}
	words := make([]string, len(pairs))
	for i, p := range pairs {
		words[i] = p.word
	}
	return strings.Join(words, ",")
}

// jaccardSimilarity computes word-level Jaccard similarity between two
// texts on whitespace/word tokenization — language-sensitive by design,
// since token boundaries assume space-separated words.
func jaccardSimilarity(a, b string) float64 {
	setA := toSet(tokenize(a))
	setB := toSet(tokenize(b))
	if len(setA) == 0 && len(setB) == 0 {
		return 1
	}
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}

	intersection := 0
	for tok := range setA {
		if setB[tok] {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func toSet(tokens []string) map[string]bool {
	set := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		set[t] = true
	}
	return set
}
