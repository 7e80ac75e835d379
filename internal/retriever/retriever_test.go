package retriever_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/marrowdepot/memoryd/internal/models"
	"github.com/marrowdepot/memoryd/internal/retriever"
	"github.com/marrowdepot/memoryd/internal/store"
)

func setupTestDB(t *testing.T) *store.DB {
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
	return db
}

func TestSearchLexicalRanksByBM25(t *testing.T) {
	db := setupTestDB(t)
	records := store.NewRecordStore(db)
	vectors := store.NewVectorStore(db)
	retr := retriever.New(db, records, vectors, nil)

	matchID, err := records.InsertRecord(&models.Record{Content: "exponential backoff prevents thundering herds", Type: models.TypePattern, Domain: "infra", Confidence: 0.6})
	if err != nil {
		t.Fatalf("InsertRecord: %v", err)
	}
	_, err = records.InsertRecord(&models.Record{Content: "unrelated note about pagination", Type: models.TypePattern, Domain: "infra", Confidence: 0.6})
	if err != nil {
		t.Fatalf("InsertRecord: %v", err)
	}

	results, err := retr.SearchLexical(context.Background(), "thundering herds backoff", 5, retriever.Filters{})
	if err != nil {
		t.Fatalf("SearchLexical: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("expected at least one result")
	}
	if results[0].Record.ID != matchID {
		t.Errorf("top result id = %d, want %d", results[0].Record.ID, matchID)
	}
}

func TestSearchAppliesTypeAndDomainFilters(t *testing.T) {
	db := setupTestDB(t)
	records := store.NewRecordStore(db)
	vectors := store.NewVectorStore(db)
	retr := retriever.New(db, records, vectors, nil)

	_, err := records.InsertRecord(&models.Record{Content: "caching strategy notes", Type: models.TypeFact, Domain: "backend", Confidence: 0.6})
	if err != nil {
		t.Fatalf("InsertRecord: %v", err)
	}
	_, err = records.InsertRecord(&models.Record{Content: "caching strategy notes", Type: models.TypeBug, Domain: "backend", Confidence: 0.6})
	if err != nil {
		t.Fatalf("InsertRecord: %v", err)
	}

	results, err := retr.SearchLexical(context.Background(), "caching strategy", 5, retriever.Filters{Type: models.TypeFact})
	if err != nil {
		t.Fatalf("SearchLexical: %v", err)
	}
	for _, r := range results {
		if r.Record.Type != models.TypeFact {
			t.Errorf("result type = %s, want fact only", r.Record.Type)
		}
	}
}

func TestSearchRespectsMinConfidence(t *testing.T) {
	db := setupTestDB(t)
	records := store.NewRecordStore(db)
	vectors := store.NewVectorStore(db)
	retr := retriever.New(db, records, vectors, nil)

	_, err := records.InsertRecord(&models.Record{Content: "low confidence note about retries", Confidence: 0.3})
	if err != nil {
		t.Fatalf("InsertRecord: %v", err)
	}
	highID, err := records.InsertRecord(&models.Record{Content: "high confidence note about retries", Confidence: 0.9})
	if err != nil {
		t.Fatalf("InsertRecord: %v", err)
	}

	results, err := retr.SearchLexical(context.Background(), "retries", 5, retriever.Filters{MinConfidence: 0.8})
	if err != nil {
		t.Fatalf("SearchLexical: %v", err)
	}
	for _, r := range results {
		if r.Record.ID != highID {
			t.Errorf("unexpected low-confidence result id %d surfaced", r.Record.ID)
		}
	}
}

func TestSearchUsesStructuredContentWhenPresent(t *testing.T) {
	db := setupTestDB(t)
	records := store.NewRecordStore(db)
	vectors := store.NewVectorStore(db)
	retr := retriever.New(db, records, vectors, nil)

	id, err := records.InsertRecord(&models.Record{
		Content:    "raw form of the note",
		Structured: "<memory type=\"fact\" domain=\"general\"><what>structured form</what></memory>",
		Confidence: 0.6,
	})
	if err != nil {
		t.Fatalf("InsertRecord: %v", err)
	}

	results, err := retr.SearchLexical(context.Background(), "raw form note", 5, retriever.Filters{})
	if err != nil {
		t.Fatalf("SearchLexical: %v", err)
	}
	for _, r := range results {
		if r.Record.ID == id {
			if r.Content != r.Record.Structured {
				t.Errorf("Content = %q, want structured form", r.Content)
			}
			if r.RawContent != "raw form of the note" {
				t.Errorf("RawContent = %q, want raw content", r.RawContent)
			}
		}
	}
}
