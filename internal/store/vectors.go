package store

import (
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sort"
)

// Float32ToBytes and BytesToFloat32 encode a vector as a little-endian
// float32 BLOB.
func Float32ToBytes(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func BytesToFloat32(b []byte) []float32 {
	n := len(b) / 4
	v := make([]float32, n)
	for i := 0; i < n; i++ {
		bits := binary.LittleEndian.Uint32(b[i*4:])
		v[i] = math.Float32frombits(bits)
	}
	return v
}

// CosineSimilarity returns the cosine similarity of two equal-length
// vectors in [-1, 1].
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// cosineDistance maps similarity [-1,1] to the [0,2] distance range
// vector_search returns per §4.1.
func cosineDistance(a, b []float32) float64 {
	return 1 - CosineSimilarity(a, b)
}

// VectorEntry is one row of the vectors table.
type VectorEntry struct {
	ID     int64
	Vector []float32
}

// VectorStore implements the Store's vector-shaped primitives from
// §4.1: insert/search/delete on a logical collection, backed by a BLOB
// column in the same memory.db file rather than an external vector
// database, since §6 specifies one vector index inside memory.db.
type VectorStore struct {
	db *DB
}

func NewVectorStore(db *DB) *VectorStore { return &VectorStore{db: db} }

// InsertVector stores a vector entry at rowid = id, replacing any
// existing entry for that id.
func (s *VectorStore) InsertVector(id int64, v []float32) error {
	return s.insertVector(s.db, id, v)
}

// InsertVectorTx is InsertVector run against an explicit transaction —
// used so a record's vector lands atomically with the record itself.
func (s *VectorStore) InsertVectorTx(tx *sql.Tx, id int64, v []float32) error {
	return s.insertVector(tx, id, v)
}

func (s *VectorStore) insertVector(q querier, id int64, v []float32) error {
	_, err := q.Exec(`INSERT INTO vectors (id, vector) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET vector = excluded.vector`,
		id, Float32ToBytes(v))
	if err != nil {
		return fmt.Errorf("insert vector: %w", err)
	}
	return nil
}

// DeleteVector removes the vector entry for id, if any.
func (s *VectorStore) DeleteVector(id int64) error {
	_, err := s.db.Exec(`DELETE FROM vectors WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete vector: %w", err)
	}
	return nil
}

// VectorByID fetches one vector entry, or (nil, nil) if absent.
func (s *VectorStore) VectorByID(id int64) ([]float32, error) {
	var blob []byte
	err := s.db.QueryRow(`SELECT vector FROM vectors WHERE id = ?`, id).Scan(&blob)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("vector by id: %w", err)
	}
	return BytesToFloat32(blob), nil
}

// VectorHit is one result of VectorSearch.
type VectorHit struct {
	ID       int64
	Distance float64
}

// VectorSearch returns up to k (id, distance) pairs by brute-force
// cosine distance against every vector entry (§4.1) — a Go-side linear
// scan rather than an ANN index, acceptable at the scale a single
// embedded engine instance operates at.
func (s *VectorStore) VectorSearch(v []float32, k int) ([]VectorHit, error) {
	rows, err := s.db.Query(`SELECT id, vector FROM vectors`)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	defer rows.Close()

	var hits []VectorHit
	for rows.Next() {
		var id int64
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, fmt.Errorf("scan vector: %w", err)
		}
		cand := BytesToFloat32(blob)
		hits = append(hits, VectorHit{ID: id, Distance: cosineDistance(v, cand)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].Distance < hits[j].Distance })
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}
