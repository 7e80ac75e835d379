package curator_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/marrowdepot/memoryd/internal/curator"
	"github.com/marrowdepot/memoryd/internal/models"
	"github.com/marrowdepot/memoryd/internal/store"
)

func setupCurator(t *testing.T) (*curator.Curator, *store.RecordStore, *store.ValidationStore) {
	cur, records, _, validations := setupCuratorFull(t)
	return cur, records, validations
}

func setupCuratorFull(t *testing.T) (*curator.Curator, *store.RecordStore, *store.ClusterStore, *store.ValidationStore) {
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

	log := zerolog.Nop()
	cur := curator.New(db, records, vectors, clusters, validations, nil, nil, log)
	return cur, records, clusters, validations
}

// setupGrowingCluster inserts a cluster in status "growing" with the
// given member ids assigned to it.
func setupGrowingCluster(t *testing.T, clusters *store.ClusterStore, records *store.RecordStore, memberIDs []int64, domain string) int64 {
	t.Helper()
	id, err := clusters.InsertCluster(&models.Cluster{
		Theme: "test-cluster", Centroid: []float32{1, 0}, MemberCount: len(memberIDs),
		AvgConfidence: 0.6, Domain: domain, Status: models.ClusterGrowing,
	})
	if err != nil {
		t.Fatalf("InsertCluster: %v", err)
	}
	for _, mid := range memberIDs {
		if err := records.UpdateFields(mid, map[string]any{"cluster_id": id}); err != nil {
			t.Fatalf("UpdateFields: %v", err)
		}
	}
	return id
}

// setupMatureCluster is setupGrowingCluster with status "mature".
func setupMatureCluster(t *testing.T, clusters *store.ClusterStore, records *store.RecordStore, memberIDs []int64, domain string) int64 {
	t.Helper()
	id := setupGrowingCluster(t, clusters, records, memberIDs, domain)
	if err := clusters.UpdateCluster(id, map[string]any{"status": string(models.ClusterMature)}); err != nil {
		t.Fatalf("UpdateCluster: %v", err)
	}
	return id
}

func TestSaveCreatesRecord(t *testing.T) {
	cur, records, _ := setupCurator(t)

	outcome, err := cur.Save(context.Background(), "go defers run LIFO within a function", curator.SaveParams{
		Type: models.TypeFact, Domain: "go", SkipStructurize: true,
	})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if outcome.Created == nil {
		t.Fatalf("expected Created outcome, got %+v", outcome)
	}
	got, err := records.GetByID(outcome.Created.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Type != models.TypeFact || got.Domain != "go" {
		t.Errorf("got %+v, want type=fact domain=go", got)
	}
}

func TestSaveDedupsNearDuplicate(t *testing.T) {
	cur, records, _ := setupCurator(t)
	ctx := context.Background()

	first, err := cur.Save(ctx, "the build pipeline times out after ten minutes", curator.SaveParams{SkipStructurize: true})
	if err != nil {
		t.Fatalf("Save (first): %v", err)
	}
	if first.Created == nil {
		t.Fatalf("expected first save to create, got %+v", first)
	}

	second, err := cur.Save(ctx, "the build pipeline times out after ten minutes", curator.SaveParams{SkipStructurize: true})
	if err != nil {
		t.Fatalf("Save (second): %v", err)
	}
	if second.Updated == nil {
		t.Fatalf("expected second save to dedup as Updated, got %+v", second)
	}
	if second.Updated.ID != first.Created.ID {
		t.Errorf("dedup updated id = %d, want %d", second.Updated.ID, first.Created.ID)
	}

	got, err := records.GetByID(first.Created.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.AccessCount != 1 {
		t.Errorf("AccessCount = %d, want 1 after one dedup hit", got.AccessCount)
	}
}

func TestValidateAdjustsConfidenceAndRecordsEvent(t *testing.T) {
	cur, records, validations := setupCurator(t)
	ctx := context.Background()

	outcome, err := cur.Save(ctx, "pgbouncer must run in transaction pooling mode", curator.SaveParams{SkipStructurize: true, Confidence: 0.5})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	id := outcome.Created.ID

	if err := cur.Validate(id, true); err != nil {
		t.Fatalf("Validate(true): %v", err)
	}
	got, err := records.GetByID(id)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Confidence <= 0.5 {
		t.Errorf("Confidence = %v, want increase above 0.5 after positive validation", got.Confidence)
	}
	if got.EvidenceCount != 1 {
		t.Errorf("EvidenceCount = %d, want 1", got.EvidenceCount)
	}
	n, err := validations.CountForRecord(id)
	if err != nil {
		t.Fatalf("CountForRecord: %v", err)
	}
	if n != 1 {
		t.Errorf("validation count = %d, want 1", n)
	}

	if err := cur.Validate(id, false); err != nil {
		t.Fatalf("Validate(false): %v", err)
	}
	got, err = records.GetByID(id)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Confidence >= 0.6 {
		t.Errorf("Confidence = %v, want decrease after negative validation", got.Confidence)
	}
}

func TestMarkUsedBumpsAccessCount(t *testing.T) {
	cur, records, _ := setupCurator(t)
	ctx := context.Background()

	outcome, err := cur.Save(ctx, "context cancellation propagates to children", curator.SaveParams{SkipStructurize: true})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	id := outcome.Created.ID

	if err := cur.MarkUsed([]int64{id}); err != nil {
		t.Fatalf("MarkUsed: %v", err)
	}
	got, err := records.GetByID(id)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.AccessCount != 1 || got.LastAccessedAt == nil {
		t.Errorf("got access_count=%d last_accessed_at=%v, want 1/non-nil", got.AccessCount, got.LastAccessedAt)
	}
}

func TestAutoBoostRaisesConfidenceAndMarksUsed(t *testing.T) {
	cur, records, _ := setupCurator(t)
	ctx := context.Background()

	outcome, err := cur.Save(ctx, "wal mode trades durability for write throughput", curator.SaveParams{SkipStructurize: true, Confidence: 0.5})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	id := outcome.Created.ID

	if err := cur.AutoBoost(id, 0); err != nil {
		t.Fatalf("AutoBoost: %v", err)
	}
	got, err := records.GetByID(id)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Confidence <= 0.5 {
		t.Errorf("Confidence = %v, want increase above 0.5 after default AutoBoost delta", got.Confidence)
	}
	if got.AccessCount != 1 {
		t.Errorf("AccessCount = %d, want 1 (AutoBoost also marks used)", got.AccessCount)
	}
}
