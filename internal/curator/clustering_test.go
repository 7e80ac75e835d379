package curator

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/marrowdepot/memoryd/internal/models"
	"github.com/marrowdepot/memoryd/internal/store"
)

func setupTestCurator(t *testing.T) (*Curator, *store.RecordStore, *store.VectorStore, *store.ClusterStore) {
	t.Helper()
	dir := t.TempDir()
	db, err := store.Open(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
		os.RemoveAll(dir)
	})

	records := store.NewRecordStore(db)
	vectors := store.NewVectorStore(db)
	clusters := store.NewClusterStore(db)
	validations := store.NewValidationStore(db)

	cur := New(db, records, vectors, clusters, validations, nil, nil, zerolog.Nop())
	return cur, records, vectors, clusters
}

func TestTryJoinClusterJoinsBestMatch(t *testing.T) {
	cur, records, _, clusters := setupTestCurator(t)

	clusterID, err := clusters.InsertCluster(&models.Cluster{
		Theme: "retry-logic", Centroid: []float32{1, 0, 0},
		MemberCount: 1, AvgConfidence: 0.5, Domain: "infra", Status: models.ClusterGrowing,
	})
	if err != nil {
		t.Fatalf("InsertCluster: %v", err)
	}
	recordID, err := records.InsertRecord(&models.Record{Content: "x", Domain: "infra", Confidence: 0.6})
	if err != nil {
		t.Fatalf("InsertRecord: %v", err)
	}

	var joined *int64
	err = cur.db.WithTx(func(tx *sql.Tx) error {
		var err error
		joined, err = cur.tryJoinCluster(tx, recordID, []float32{0.99, 0.01, 0}, "infra", 0.6)
		return err
	})
	if err != nil {
		t.Fatalf("tryJoinCluster: %v", err)
	}
	if joined == nil || *joined != clusterID {
		t.Fatalf("joined = %v, want %d", joined, clusterID)
	}

	got, err := records.GetByID(recordID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.ClusterID == nil || *got.ClusterID != clusterID {
		t.Errorf("record cluster_id = %v, want %d", got.ClusterID, clusterID)
	}

	gotCluster, err := clusters.GetCluster(clusterID)
	if err != nil {
		t.Fatalf("GetCluster: %v", err)
	}
	if gotCluster.MemberCount != 2 {
		t.Errorf("MemberCount = %d, want 2", gotCluster.MemberCount)
	}
}

func TestTryJoinClusterPromotesToMature(t *testing.T) {
	cur, records, _, clusters := setupTestCurator(t)
	cur.Maturity.MinSize = 2
	cur.Maturity.MinConfidence = 0.6

	clusterID, err := clusters.InsertCluster(&models.Cluster{
		Theme: "t", Centroid: []float32{1, 0}, MemberCount: 1, AvgConfidence: 0.6,
		Domain: "d", Status: models.ClusterGrowing,
	})
	if err != nil {
		t.Fatalf("InsertCluster: %v", err)
	}
	recordID, err := records.InsertRecord(&models.Record{Content: "x", Domain: "d", Confidence: 0.7})
	if err != nil {
		t.Fatalf("InsertRecord: %v", err)
	}

	err = cur.db.WithTx(func(tx *sql.Tx) error {
		_, err := cur.tryJoinCluster(tx, recordID, []float32{1, 0}, "d", 0.7)
		return err
	})
	if err != nil {
		t.Fatalf("tryJoinCluster: %v", err)
	}

	got, err := clusters.GetCluster(clusterID)
	if err != nil {
		t.Fatalf("GetCluster: %v", err)
	}
	if got.Status != models.ClusterMature {
		t.Errorf("Status = %s, want mature", got.Status)
	}
}

func TestTryJoinClusterNoMatchBelowThreshold(t *testing.T) {
	cur, records, _, clusters := setupTestCurator(t)
	cur.ClusterSimThreshold = 0.9

	_, err := clusters.InsertCluster(&models.Cluster{
		Theme: "t", Centroid: []float32{1, 0}, Domain: "d", Status: models.ClusterGrowing,
	})
	if err != nil {
		t.Fatalf("InsertCluster: %v", err)
	}
	recordID, err := records.InsertRecord(&models.Record{Content: "x", Domain: "d", Confidence: 0.5})
	if err != nil {
		t.Fatalf("InsertRecord: %v", err)
	}

	var joined *int64
	err = cur.db.WithTx(func(tx *sql.Tx) error {
		var err error
		joined, err = cur.tryJoinCluster(tx, recordID, []float32{0, 1}, "d", 0.5)
		return err
	})
	if err != nil {
		t.Fatalf("tryJoinCluster: %v", err)
	}
	if joined != nil {
		t.Errorf("joined = %v, want nil (orthogonal vector below threshold)", joined)
	}
}

func TestAutoClusterGroupsSimilarUnclusteredRecords(t *testing.T) {
	cur, records, vectors, clusters := setupTestCurator(t)
	cur.Maturity.MinSize = 5 // keep new clusters "growing" for this assertion

	var ids []int64
	for i := 0; i < 3; i++ {
		id, err := records.InsertRecord(&models.Record{Content: "similar note", Domain: "d", Confidence: 0.6})
		if err != nil {
			t.Fatalf("InsertRecord: %v", err)
		}
		if err := vectors.InsertVector(id, []float32{1, 0, 0}); err != nil {
			t.Fatalf("InsertVector: %v", err)
		}
		ids = append(ids, id)
	}
	// An unrelated record that shouldn't join the group.
	oddID, err := records.InsertRecord(&models.Record{Content: "odd one out", Domain: "d", Confidence: 0.6})
	if err != nil {
		t.Fatalf("InsertRecord: %v", err)
	}
	if err := vectors.InsertVector(oddID, []float32{0, 1, 0}); err != nil {
		t.Fatalf("InsertVector: %v", err)
	}

	created, err := cur.AutoCluster(AutoClusterParams{Domain: "d", MinSize: 2, MinConfidence: 0.5})
	if err != nil {
		t.Fatalf("AutoCluster: %v", err)
	}
	if created != 1 {
		t.Fatalf("clusters created = %d, want 1", created)
	}

	all, err := clusters.GrowingOrMature("d")
	if err != nil {
		t.Fatalf("GrowingOrMature: %v", err)
	}
	if len(all) != 1 || all[0].MemberCount != 3 {
		t.Fatalf("got clusters %+v, want one cluster with 3 members", all)
	}

	for _, id := range ids {
		r, err := records.GetByID(id)
		if err != nil {
			t.Fatalf("GetByID: %v", err)
		}
		if r.ClusterID == nil || *r.ClusterID != all[0].ID {
			t.Errorf("record %d cluster_id = %v, want %d", id, r.ClusterID, all[0].ID)
		}
	}

	oddRec, err := records.GetByID(oddID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if oddRec.ClusterID != nil {
		t.Errorf("odd record should remain unclustered, got cluster_id=%v", *oddRec.ClusterID)
	}
}
