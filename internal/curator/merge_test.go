package curator_test

import (
	"context"
	"strings"
	"testing"

	"github.com/marrowdepot/memoryd/internal/curator"
)

func TestMergeClusterCollapsesMatureCluster(t *testing.T) {
	cur, records, clusters, _ := setupCuratorFull(t)
	ctx := context.Background()

	var ids []int64
	for _, text := range []string{"first member note", "second member note"} {
		outcome, err := cur.Save(ctx, text, curator.SaveParams{SkipStructurize: true, SuppressCluster: true})
		if err != nil {
			t.Fatalf("Save: %v", err)
		}
		ids = append(ids, outcome.Created.ID)
	}

	clusterID := setupMatureCluster(t, clusters, records, ids, "general")

	newID, err := cur.MergeCluster(ctx, clusterID)
	if err != nil {
		t.Fatalf("MergeCluster: %v", err)
	}
	if newID == 0 {
		t.Fatal("expected non-zero aggregate record id")
	}

	agg, err := records.GetByID(newID)
	if err != nil {
		t.Fatalf("GetByID(aggregate): %v", err)
	}
	if !strings.Contains(agg.Content, "first member note") || !strings.Contains(agg.Content, "second member note") {
		t.Errorf("aggregate content = %q, want both member texts (LLM-unavailable fallback)", agg.Content)
	}
	if agg.Structured != "" {
		t.Errorf("Structured = %q, want empty on the LLM-failure fallback path (Content holds the joined member texts, not XML)", agg.Structured)
	}
	if agg.Source != "cluster-merge" {
		t.Errorf("Source = %q, want cluster-merge", agg.Source)
	}

	for _, id := range ids {
		if _, err := records.GetByID(id); err == nil {
			t.Errorf("member %d should have been deleted by the merge", id)
		}
	}
}

func TestMergeClusterRejectsNonMature(t *testing.T) {
	cur, records, clusters, _ := setupCuratorFull(t)
	ctx := context.Background()

	outcome, err := cur.Save(ctx, "lone record", curator.SaveParams{SkipStructurize: true, SuppressCluster: true})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	clusterID := setupGrowingCluster(t, clusters, records, []int64{outcome.Created.ID}, "general")

	if _, err := cur.MergeCluster(ctx, clusterID); err == nil {
		t.Fatal("expected error merging a growing (non-mature) cluster")
	}
}
