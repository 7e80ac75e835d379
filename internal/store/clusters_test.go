package store_test

import (
	"testing"

	"github.com/marrowdepot/memoryd/internal/models"
	"github.com/marrowdepot/memoryd/internal/store"
)

func TestInsertAndGetCluster(t *testing.T) {
	db := setupTestDB(t)
	clusters := store.NewClusterStore(db)

	c := &models.Cluster{
		Theme: "retry-backoff", Centroid: []float32{0.1, 0.2, 0.3},
		MemberCount: 2, AvgConfidence: 0.6, Domain: "backend", Status: models.ClusterGrowing,
	}
	id, err := clusters.InsertCluster(c)
	if err != nil {
		t.Fatalf("InsertCluster: %v", err)
	}

	got, err := clusters.GetCluster(id)
	if err != nil {
		t.Fatalf("GetCluster: %v", err)
	}
	if got.Theme != c.Theme || got.Status != models.ClusterGrowing || got.MemberCount != 2 {
		t.Errorf("GetCluster = %+v, want matching %+v", got, c)
	}
	if len(got.Centroid) != 3 {
		t.Errorf("Centroid len = %d, want 3", len(got.Centroid))
	}
}

func TestUpdateClusterPromotesStatus(t *testing.T) {
	db := setupTestDB(t)
	clusters := store.NewClusterStore(db)

	id, err := clusters.InsertCluster(&models.Cluster{
		Theme: "x", Centroid: []float32{1}, MemberCount: 1, AvgConfidence: 0.5,
		Domain: "d", Status: models.ClusterGrowing,
	})
	if err != nil {
		t.Fatalf("InsertCluster: %v", err)
	}

	err = clusters.UpdateCluster(id, map[string]any{
		"member_count":   5,
		"avg_confidence": 0.7,
		"status":         string(models.ClusterMature),
	})
	if err != nil {
		t.Fatalf("UpdateCluster: %v", err)
	}

	got, err := clusters.GetCluster(id)
	if err != nil {
		t.Fatalf("GetCluster: %v", err)
	}
	if got.Status != models.ClusterMature || got.MemberCount != 5 {
		t.Errorf("got %+v, want status=mature member_count=5", got)
	}
}

func TestGrowingOrMatureExcludesMerged(t *testing.T) {
	db := setupTestDB(t)
	clusters := store.NewClusterStore(db)

	growing, _ := clusters.InsertCluster(&models.Cluster{Theme: "a", Centroid: []float32{1}, Domain: "d", Status: models.ClusterGrowing})
	mature, _ := clusters.InsertCluster(&models.Cluster{Theme: "b", Centroid: []float32{1}, Domain: "d", Status: models.ClusterMature})
	_, _ = clusters.InsertCluster(&models.Cluster{Theme: "c", Centroid: []float32{1}, Domain: "d", Status: models.ClusterMerged})

	got, err := clusters.GrowingOrMature("d")
	if err != nil {
		t.Fatalf("GrowingOrMature: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d candidates, want 2", len(got))
	}
	if got[0].ID != growing || got[1].ID != mature {
		t.Errorf("got ids %d,%d, want ascending id order %d,%d", got[0].ID, got[1].ID, growing, mature)
	}
}

func TestCountByStatus(t *testing.T) {
	db := setupTestDB(t)
	clusters := store.NewClusterStore(db)

	_, _ = clusters.InsertCluster(&models.Cluster{Theme: "a", Centroid: []float32{1}, Domain: "d", Status: models.ClusterGrowing})
	_, _ = clusters.InsertCluster(&models.Cluster{Theme: "b", Centroid: []float32{1}, Domain: "d", Status: models.ClusterGrowing})
	_, _ = clusters.InsertCluster(&models.Cluster{Theme: "c", Centroid: []float32{1}, Domain: "d", Status: models.ClusterMature})

	counts, err := clusters.CountByStatus()
	if err != nil {
		t.Fatalf("CountByStatus: %v", err)
	}
	if counts["growing"] != 2 || counts["mature"] != 1 {
		t.Errorf("counts = %+v, want growing=2 mature=1", counts)
	}
}
