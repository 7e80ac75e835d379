package store

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

var (
	asciiTokenRe = regexp.MustCompile(`[A-Za-z0-9_]+`)
	cjkRunRe     = regexp.MustCompile(`[\p{Han}\p{Hiragana}\p{Katakana}\p{Hangul}]+`)
)

// cjkStopwords is the small fixed CJK-stopword set §4.1 calls for. Kept
// as configurable data (a plain map), per the Open Question in §9
// about not code-baking stopword sets.
var cjkStopwords = map[string]bool{
	"的": true, "了": true, "是": true, "在": true, "和": true,
	"这": true, "那": true, "都": true, "与": true, "也": true,
	"の": true, "は": true, "が": true, "を": true, "に": true,
	"と": true, "で": true, "た": true, "です": true, "ます": true,
}

// FullTextHit is one result of FullTextSearch.
type FullTextHit struct {
	ID    int64
	Score float64
}

// FullTextSearch implements §4.1's mixed-script tokenization: ASCII
// identifier tokens are issued as a disjunctive FTS5 phrase query;
// contiguous CJK runs are expanded into bigrams/trigrams, stopword
// filtered, and matched by substring; if neither path hits, a final
// whole-query substring match yields score 0.3. Results are merged by
// id, keeping the maximum score.
func FullTextSearch(db *DB, query string, k int) ([]FullTextHit, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}

	merged := map[int64]float64{}

	asciiHits, err := asciiPhraseSearch(db, query, k)
	if err != nil {
		return nil, err
	}
	mergeMax(merged, asciiHits)

	cjkHits, err := cjkNgramSearch(db, query, k)
	if err != nil {
		return nil, err
	}
	mergeMax(merged, cjkHits)

	if len(merged) == 0 {
		fallback, err := substringFallback(db, query, k)
		if err != nil {
			return nil, err
		}
		mergeMax(merged, fallback)
	}

	return topK(merged, k), nil
}

func mergeMax(merged map[int64]float64, hits map[int64]float64) {
	for id, score := range hits {
		if cur, ok := merged[id]; !ok || score > cur {
			merged[id] = score
		}
	}
}

func topK(merged map[int64]float64, k int) []FullTextHit {
	out := make([]FullTextHit, 0, len(merged))
	for id, score := range merged {
		out = append(out, FullTextHit{ID: id, Score: score})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > k {
		out = out[:k]
	}
	return out
}

func asciiPhraseSearch(db *DB, query string, k int) (map[int64]float64, error) {
	tokens := asciiTokenRe.FindAllString(query, -1)
	if len(tokens) == 0 {
		return nil, nil
	}
	parts := make([]string, len(tokens))
	for i, t := range tokens {
		parts[i] = fmt.Sprintf(`"%s"`, strings.ReplaceAll(t, `"`, ``))
	}
	matchExpr := strings.Join(parts, " OR ")

	rows, err := db.Query(`SELECT memories.id, -bm25(memories_fts) AS score
		FROM memories_fts JOIN memories ON memories.id = memories_fts.rowid
		WHERE memories_fts MATCH ? ORDER BY score DESC LIMIT ?`, matchExpr, k)
	if err != nil {
		return nil, fmt.Errorf("ascii phrase search: %w", err)
	}
	defer rows.Close()

	hits := map[int64]float64{}
	for rows.Next() {
		var id int64
		var score float64
		if err := rows.Scan(&id, &score); err != nil {
			return nil, fmt.Errorf("scan ascii hit: %w", err)
		}
		hits[id] = score
	}
	return hits, rows.Err()
}

func cjkNgramSearch(db *DB, query string, k int) (map[int64]float64, error) {
	ngrams := cjkNgrams(query)
	if len(ngrams) == 0 {
		return nil, nil
	}

	matchCounts := map[int64]int{}
	for _, ng := range ngrams {
		rows, err := db.Query(`SELECT id FROM memories WHERE content LIKE ? OR structured LIKE ?`,
			"%"+ng+"%", "%"+ng+"%")
		if err != nil {
			return nil, fmt.Errorf("cjk ngram search: %w", err)
		}
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan cjk hit: %w", err)
			}
			matchCounts[id]++
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, err
		}
	}

	hits := make(map[int64]float64, len(matchCounts))
	for id, n := range matchCounts {
		hits[id] = float64(n) * 0.5
	}
	_ = k // ranking/truncation happens in topK after merge
	return hits, nil
}

// cjkNgrams extracts bigrams and trigrams from every contiguous CJK run
// in query, dropping any ngram composed entirely of stopwords... the
// spec only asks to filter the small stopword set, so single-stopword
// ngrams are dropped outright.
func cjkNgrams(query string) []string {
	var ngrams []string
	for _, run := range cjkRunRe.FindAllString(query, -1) {
		runes := []rune(run)
		for n := 2; n <= 3; n++ {
			for i := 0; i+n <= len(runes); i++ {
				ng := string(runes[i : i+n])
				if isStopwordNgram(ng) {
					continue
				}
				ngrams = append(ngrams, ng)
			}
		}
	}
	return ngrams
}

func isStopwordNgram(ng string) bool {
	for _, r := range ng {
		if !cjkStopwords[string(r)] {
			return false
		}
	}
	return true
}

func substringFallback(db *DB, query string, k int) (map[int64]float64, error) {
	rows, err := db.Query(`SELECT id FROM memories WHERE content LIKE ? OR structured LIKE ? LIMIT ?`,
		"%"+query+"%", "%"+query+"%", k)
	if err != nil {
		return nil, fmt.Errorf("substring fallback: %w", err)
	}
	defer rows.Close()

	hits := map[int64]float64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan fallback hit: %w", err)
		}
		hits[id] = 0.3
	}
	return hits, rows.Err()
}
