package curator

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/marrowdepot/memoryd/internal/models"
)

// MergeCluster implements merge_cluster(cluster_id) (§4.5): a mature
// cluster with ≥2 members is collapsed into one new aggregate Record,
// its members and their vectors are deleted, and the cluster is marked
// merged.
func (c *Curator) MergeCluster(ctx context.Context, clusterID int64) (int64, error) {
	cluster, err := c.clusters.GetCluster(clusterID)
	if err != nil {
		return 0, fmt.Errorf("merge_cluster: %w", err)
	}
	if cluster.Status != models.ClusterMature {
		return 0, fmt.Errorf("merge_cluster: cluster %d is not mature (status=%s)", clusterID, cluster.Status)
	}

	members, err := c.records.ClusterMembers(clusterID)
	if err != nil {
		return 0, fmt.Errorf("merge_cluster: fetch members: %w", err)
	}
	if len(members) < 2 {
		return 0, fmt.Errorf("merge_cluster: cluster %d has fewer than 2 members", clusterID)
	}

	texts := make([]string, len(members))
	for i, m := range members {
		if m.Structured != "" {
			texts[i] = m.Structured
		} else {
			texts[i] = m.Content
		}
	}
	aggregateType := modeType(members)

	var structuredXML string
	var confidence float64
	if c.structurer != nil {
		merged, err := c.structurer.Merge(ctx, texts, cluster.Domain)
		if err == nil && merged != "" {
			structuredXML = merged
			confidence = 0.9
		}
	}

	content := structuredXML
	if structuredXML == "" {
		// LLM failure fallback: concatenate member texts (§4.5). This is
		// plain joined text, not XML, so Structured stays empty.
		content = strings.Join(texts, "\n---\n")
		confidence = 0.85
	}

	newRecord := &models.Record{
		Content:    content,
		Structured: structuredXML,
		Summary:    computeSummary(content),
		Keywords:   computeKeywords(content),
		Type:       aggregateType,
		Domain:     cluster.Domain,
		Confidence: confidence,
		Source:     "cluster-merge",
	}

	// Embed ahead of the transaction — an external RPC has no place
	// holding the single SQLite writer open.
	var vec []float32
	if c.embedder != nil {
		vec, err = c.embedder.Embed(ctx, newRecord.Body(), cluster.Domain)
		if err != nil {
			vec = nil
		}
	}

	var newID int64
	now := time.Now().UTC()
	err = c.db.WithTx(func(tx *sql.Tx) error {
		var err error
		newID, err = c.records.InsertRecordTx(tx, newRecord)
		if err != nil {
			return fmt.Errorf("insert aggregate record: %w", err)
		}
		if vec != nil {
			if err := c.vectors.InsertVectorTx(tx, newID, vec); err != nil {
				return fmt.Errorf("insert aggregate vector: %w", err)
			}
		}
		// New aggregate inserted before members are deleted (§5 ordering guarantee).
		for _, m := range members {
			if err := c.records.DeleteRecordTx(tx, m.ID); err != nil {
				return fmt.Errorf("delete member %d: %w", m.ID, err)
			}
		}
		if err := c.clusters.UpdateClusterTx(tx, clusterID, map[string]any{
			"status":     string(models.ClusterMerged),
			"evolved_at": now.Unix(),
		}); err != nil {
			return fmt.Errorf("update cluster status: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("merge_cluster: %w", err)
	}

	c.log.Info().Int64("cluster_id", clusterID).Int64("new_record_id", newID).Msg("merge_cluster: complete")
	return newID, nil
}

// modeType returns the most frequent Type among members, ties broken
// by first occurrence.
func modeType(members []*models.Record) models.RecordType {
	counts := map[models.RecordType]int{}
	order := []models.RecordType{}
	for _, m := range members {
		if counts[m.Type] == 0 {
			order = append(order, m.Type)
		}
		counts[m.Type]++
	}
	best := order[0]
	for _, t := range order[1:] {
		if counts[t] > counts[best] {
			best = t
		}
	}
	return best
}
