package store_test

import (
	"testing"

	"github.com/marrowdepot/memoryd/internal/models"
	"github.com/marrowdepot/memoryd/internal/store"
)

func TestFullTextSearchASCIIMatch(t *testing.T) {
	db := setupTestDB(t)
	records := store.NewRecordStore(db)

	id, err := records.InsertRecord(&models.Record{Content: "retry backoff must be jittered", Confidence: 0.5})
	if err != nil {
		t.Fatalf("InsertRecord: %v", err)
	}
	_, err = records.InsertRecord(&models.Record{Content: "unrelated content about databases", Confidence: 0.5})
	if err != nil {
		t.Fatalf("InsertRecord: %v", err)
	}

	hits, err := store.FullTextSearch(db, "jittered backoff", 10)
	if err != nil {
		t.Fatalf("FullTextSearch: %v", err)
	}
	if len(hits) == 0 {
		t.Fatal("expected at least one hit")
	}
	if hits[0].ID != id {
		t.Errorf("top hit id = %d, want %d", hits[0].ID, id)
	}
}

func TestFullTextSearchEmptyQuery(t *testing.T) {
	db := setupTestDB(t)
	hits, err := store.FullTextSearch(db, "   ", 10)
	if err != nil {
		t.Fatalf("FullTextSearch: %v", err)
	}
	if hits != nil {
		t.Errorf("expected nil hits for empty query, got %v", hits)
	}
}

func TestFullTextSearchCJKNgram(t *testing.T) {
	db := setupTestDB(t)
	records := store.NewRecordStore(db)

	id, err := records.InsertRecord(&models.Record{Content: "数据库连接池耗尽导致超时", Confidence: 0.5})
	if err != nil {
		t.Fatalf("InsertRecord: %v", err)
	}

	hits, err := store.FullTextSearch(db, "连接池", 10)
	if err != nil {
		t.Fatalf("FullTextSearch: %v", err)
	}
	found := false
	for _, h := range hits {
		if h.ID == id {
			found = true
		}
	}
	if !found {
		t.Errorf("expected CJK ngram match to surface record %d, got hits %v", id, hits)
	}
}

func TestFullTextSearchSubstringFallback(t *testing.T) {
	db := setupTestDB(t)
	records := store.NewRecordStore(db)

	id, err := records.InsertRecord(&models.Record{Content: "unparseabletoken99", Confidence: 0.5})
	if err != nil {
		t.Fatalf("InsertRecord: %v", err)
	}

	hits, err := store.FullTextSearch(db, "parseabletoken", 10)
	if err != nil {
		t.Fatalf("FullTextSearch: %v", err)
	}
	found := false
	for _, h := range hits {
		if h.ID == id {
			found = true
		}
	}
	if !found {
		t.Errorf("expected substring fallback to surface record %d, got hits %v", id, hits)
	}
}
