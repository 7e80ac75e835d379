package curator

import (
	"database/sql"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/marrowdepot/memoryd/internal/models"
	"github.com/marrowdepot/memoryd/internal/store"
)

// tryJoinCluster implements the online join path of §4.5: it selects
// the best-matching growing/mature cluster in domain, joins the
// record, and promotes the cluster to mature if thresholds are met.
// Centroids are deliberately NOT re-averaged on single joins —
// accepted drift, rebuilt only on batch (§4.5, §9 Open Question). Runs
// against the caller's transaction so the join lands atomically with
// the record/vector insert that triggered it.
func (c *Curator) tryJoinCluster(tx *sql.Tx, recordID int64, v []float32, domain string, confidence float64) (*int64, error) {
	candidates, err := c.clusters.GrowingOrMatureTx(tx, domain)
	if err != nil {
		return nil, fmt.Errorf("try_join_cluster: %w", err)
	}

	// candidates is already ordered by id ascending (store.GrowingOrMatureTx),
	// so a strict ">" comparison naturally ties-break to the earliest id.
	var best *models.Cluster
	bestSim := -2.0
	for _, cl := range candidates {
		sim := store.CosineSimilarity(v, cl.Centroid)
		if sim >= c.ClusterSimThreshold && sim > bestSim {
			bestSim = sim
			best = cl
		}
	}
	if best == nil {
		return nil, nil
	}

	if err := c.records.UpdateFieldsTx(tx, recordID, map[string]any{"cluster_id": best.ID}); err != nil {
		return nil, fmt.Errorf("try_join_cluster: set record cluster_id: %w", err)
	}

	newMemberCount := best.MemberCount + 1
	newAvgConfidence := (best.AvgConfidence*float64(best.MemberCount) + confidence) / float64(newMemberCount)
	fields := map[string]any{
		"member_count":   newMemberCount,
		"avg_confidence": newAvgConfidence,
	}
	if best.Status == models.ClusterGrowing && newMemberCount >= c.Maturity.MinSize && newAvgConfidence >= c.Maturity.MinConfidence {
		fields["status"] = string(models.ClusterMature)
	}
	if err := c.clusters.UpdateClusterTx(tx, best.ID, fields); err != nil {
		return nil, fmt.Errorf("try_join_cluster: update cluster: %w", err)
	}

	id := best.ID
	return &id, nil
}

// AutoClusterParams carries auto_cluster's optional inputs (§4.5).
type AutoClusterParams struct {
	Domain        string
	MinConfidence float64
	MinSize       int
	Threshold     float64
	HoursBack     int
}

// AutoCluster implements the batch single-pass greedy clustering
// procedure of §4.5.
func (c *Curator) AutoCluster(p AutoClusterParams) (int, error) {
	if p.MinConfidence == 0 {
		p.MinConfidence = 0.5
	}
	if p.MinSize == 0 {
		p.MinSize = 2
	}
	if p.Threshold == 0 {
		p.Threshold = models.DefaultClusterSimThreshold
	}

	records, err := c.records.UnclusteredRecords(p.Domain, p.MinConfidence, 100, p.HoursBack)
	if err != nil {
		return 0, fmt.Errorf("auto_cluster: fetch unclustered: %w", err)
	}
	if len(records) == 0 {
		return 0, nil
	}

	byDomain := map[string][]*models.Record{}
	for _, r := range records {
		byDomain[r.Domain] = append(byDomain[r.Domain], r)
	}

	clustersCreated := 0
	for domain, group := range byDomain {
		vectorByID := map[int64][]float32{}
		for _, r := range group {
			v, err := c.vectors.VectorByID(r.ID)
			if err != nil {
				return clustersCreated, fmt.Errorf("auto_cluster: fetch vector: %w", err)
			}
			vectorByID[r.ID] = v
		}

		assigned := map[int64]bool{}
		for i, seed := range group {
			if assigned[seed.ID] || vectorByID[seed.ID] == nil {
				continue
			}
			members := []*models.Record{seed}
			assigned[seed.ID] = true

			for j := i + 1; j < len(group); j++ {
				cand := group[j]
				if assigned[cand.ID] || vectorByID[cand.ID] == nil {
					continue
				}
				sim := store.CosineSimilarity(vectorByID[seed.ID], vectorByID[cand.ID])
				if sim >= p.Threshold {
					members = append(members, cand)
					assigned[cand.ID] = true
				}
			}

			if len(members) < p.MinSize {
				continue
			}

			if err := c.materializeCluster(domain, members, vectorByID); err != nil {
				return clustersCreated, err
			}
			clustersCreated++
		}
	}

	return clustersCreated, nil
}

func (c *Curator) materializeCluster(domain string, members []*models.Record, vectorByID map[int64][]float32) error {
	centroid := meanVector(members, vectorByID)
	avgConfidence := 0.0
	for _, m := range members {
		avgConfidence += m.Confidence
	}
	avgConfidence /= float64(len(members))

	status := models.ClusterGrowing
	if len(members) >= c.Maturity.MinSize && avgConfidence >= c.Maturity.MinConfidence {
		status = models.ClusterMature
	}

	cluster := &models.Cluster{
		Theme:         inferTheme(members),
		Centroid:      centroid,
		MemberCount:   len(members),
		AvgConfidence: avgConfidence,
		Domain:        domain,
		Status:        status,
	}

	return c.db.WithTx(func(tx *sql.Tx) error {
		id, err := c.clusters.InsertClusterTx(tx, cluster)
		if err != nil {
			return fmt.Errorf("auto_cluster: insert cluster: %w", err)
		}
		for _, m := range members {
			if err := c.records.UpdateFieldsTx(tx, m.ID, map[string]any{"cluster_id": id}); err != nil {
				return fmt.Errorf("auto_cluster: set member cluster_id: %w", err)
			}
		}
		return nil
	})
}

func meanVector(members []*models.Record, vectorByID map[int64][]float32) []float32 {
	if len(members) == 0 {
		return nil
	}
	dim := len(vectorByID[members[0].ID])
	sum := make([]float64, dim)
	for _, m := range members {
		v := vectorByID[m.ID]
		for i := 0; i < dim && i < len(v); i++ {
			sum[i] += float64(v[i])
		}
	}
	out := make([]float32, dim)
	for i, s := range sum {
		out[i] = float32(s / float64(len(members)))
	}
	return out
}

// inferTheme implements §4.5's theme inference: concatenate members'
// content, split on non-word/non-CJK characters, drop stopwords and
// tokens of length ≤2, pick the 3 most frequent tokens joined with "-".
func inferTheme(members []*models.Record) string {
	var all strings.Builder
	for _, m := range members {
		all.WriteString(m.Content)
		all.WriteString(" ")
	}

	counts := map[string]int{}
	for _, tok := range tokenize(all.String()) {
		if utf8.RuneCountInString(tok) <= 2 || englishStopwords[tok] {
			continue
		}
		counts[tok]++
	}
	if len(counts) == 0 {
		return "general-pattern"
	}

	type kv struct {
		word  string
		count int
	}
	pairs := make([]kv, 0, len(counts))
	for w, n := range counts {
		pairs = append(pairs, kv{w, n})
	}
	for i := 1; i < len(pairs); i++ {
		for j := i; j > 0 && (pairs[j].count > pairs[j-1].count ||
			(pairs[j].count == pairs[j-1].count && pairs[j].word < pairs[j-1].word)); j-- {
			pairs[j], pairs[j-1] = pairs[j-1], pairs[j]
		}
	}
	if len(pairs) > 3 {
		pairs = pairs[:3]
	}
	words := make([]string, len(pairs))
	for i, p := range pairs {
		words[i] = p.word
	}
	return strings.Join(words, "-")
}
