// Package retriever implements the hybrid ranker (§4.4): it combines
// BM25 lexical scoring and cosine vector similarity, applies
// type/domain/confidence filters, and exposes both a full-hybrid mode
// and a lexical-only mode.
//
// Candidates from the lexical and vector passes are merged by record
// id into one map before scoring, so a record hit by both passes
// contributes both a bm25 and a vecSim term to its combined score.
package retriever

import (
	"context"
	"sort"

	"github.com/marrowdepot/memoryd/internal/embedclient"
	"github.com/marrowdepot/memoryd/internal/models"
	"github.com/marrowdepot/memoryd/internal/store"
)

// Filters narrows a search per §4.4.
type Filters struct {
	MinConfidence float64
	Type          models.RecordType // empty means unfiltered
	Domain        string            // empty means unfiltered
}

// Result is one ranked record, carrying both the display body and the
// raw content per §4.4's "content is structured when present, raw
// content under a separate attribute" rule.
type Result struct {
	Record         *models.Record
	Content        string // structured if present, else raw content
	RawContent     string
	BM25           float64
	VectorSim      float64
	CombinedScore  float64
}

// Retriever implements search(query, k, filters).
type Retriever struct {
	records  *store.RecordStore
	vectors  *store.VectorStore
	db       *store.DB
	embedder *embedclient.CachedClient
}

func New(db *store.DB, records *store.RecordStore, vectors *store.VectorStore, embedder *embedclient.CachedClient) *Retriever {
	return &Retriever{db: db, records: records, vectors: vectors, embedder: embedder}
}

type candidate struct {
	record  *models.Record
	bm25    float64
	vecSim  float64
}

// Search implements the full §4.4 algorithm.
func (r *Retriever) Search(ctx context.Context, query string, k int, f Filters) ([]Result, error) {
	return r.search(ctx, query, k, f, true)
}

// SearchLexical is the "quick" lexical-only mode: steps 2 and 4's
// vector term are skipped, ranking purely by bm25.
func (r *Retriever) SearchLexical(ctx context.Context, query string, k int, f Filters) ([]Result, error) {
	return r.search(ctx, query, k, f, false)
}

func (r *Retriever) search(ctx context.Context, query string, k int, f Filters, hybrid bool) ([]Result, error) {
	fanout := 2 * k
	if fanout < 1 {
		fanout = 1
	}

	candidates := map[int64]*candidate{}

	lexHits, err := store.FullTextSearch(r.db, query, fanout)
	if err != nil {
		return nil, err
	}
	for _, h := range lexHits {
		rec, err := r.records.GetByID(h.ID)
		if err != nil {
			continue
		}
		candidates[h.ID] = &candidate{record: rec, bm25: h.Score}
	}

	if hybrid && r.embedder != nil {
		qv, err := r.embedder.Embed(ctx, query, "")
		if err == nil && qv != nil {
			vecHits, err := r.vectors.VectorSearch(qv, fanout)
			if err == nil {
				for _, vh := range vecHits {
					vecSim := 1 - vh.Distance
					if c, ok := candidates[vh.ID]; ok {
						c.vecSim = vecSim
						continue
					}
					rec, err := r.records.GetByID(vh.ID)
					if err != nil {
						continue
					}
					candidates[vh.ID] = &candidate{record: rec, bm25: 0, vecSim: vecSim}
				}
			}
		}
	}

	results := make([]Result, 0, len(candidates))
	for _, c := range candidates {
		if !matchesFilters(c.record, f) {
			continue
		}
		var combined float64
		if hybrid {
			bm25Term := c.bm25 / 10
			if bm25Term > 1 {
				bm25Term = 1
			}
			combined = 0.7*c.vecSim + 0.3*bm25Term
		} else {
			combined = c.bm25
		}
		results = append(results, Result{
			Record:        c.record,
			Content:       c.record.Body(),
			RawContent:    c.record.Content,
			BM25:          c.bm25,
			VectorSim:     c.vecSim,
			CombinedScore: combined,
		})
	}

	sort.Slice(results, func(i, j int) bool { return results[i].CombinedScore > results[j].CombinedScore })
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

func matchesFilters(r *models.Record, f Filters) bool {
	if f.MinConfidence > 0 && r.Confidence < f.MinConfidence {
		return false
	}
	if f.Type != "" && r.Type != f.Type {
		return false
	}
	if f.Domain != "" && r.Domain != f.Domain {
		return false
	}
	return true
}
