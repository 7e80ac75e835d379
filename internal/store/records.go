package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/marrowdepot/memoryd/internal/models"
)

// recordColumns lists every column scanOne/scanMany read, in order.
const recordColumns = `id, content, structured, summary, keywords, type, domain,
	confidence, evidence_count, access_count, last_accessed_at, cluster_id,
	source, created_at, updated_at, promoted_at`

// RecordStore implements the Store's Record-shaped primitives from §4.1:
// insert_record, update_fields, delete_record, recent_by_type_domain,
// plus the plain get/list helpers the rest of the engine needs.
type RecordStore struct {
	db *DB
}

func NewRecordStore(db *DB) *RecordStore { return &RecordStore{db: db} }

// InsertRecord inserts a new Record, clamping confidence to [0.3, 0.9]
// per the §3 invariant, and returns the assigned monotonic id.
func (s *RecordStore) InsertRecord(r *models.Record) (int64, error) {
	return s.insertRecord(s.db, r)
}

// InsertRecordTx is InsertRecord run against an explicit transaction —
// used where the caller must guarantee the insert either lands with
// its companion writes (vector, cluster) or not at all (§4.1, §7).
func (s *RecordStore) InsertRecordTx(tx *sql.Tx, r *models.Record) (int64, error) {
	return s.insertRecord(tx, r)
}

func (s *RecordStore) insertRecord(q querier, r *models.Record) (int64, error) {
	now := time.Now().UTC()
	r.Confidence = models.ClampConfidence(r.Confidence)
	if r.Type == "" {
		r.Type = models.DefaultRecordType
	}
	if r.Domain == "" {
		r.Domain = models.DefaultDomain
	}

	res, err := q.Exec(`
		INSERT INTO memories (content, structured, summary, keywords, type, domain,
			confidence, evidence_count, access_count, cluster_id, source, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, 0, ?, ?, ?, ?)`,
		r.Content, r.Structured, r.Summary, r.Keywords, string(r.Type), r.Domain,
		r.Confidence, nullableInt64(r.ClusterID), r.Source, now.Unix(), now.Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert record: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert record: last insert id: %w", err)
	}
	r.ID = id
	r.CreatedAt, r.UpdatedAt = now, now
	return id, nil
}

// UpdateFields applies a sparse set of column updates to one Record,
// bumping updated_at. Known keys: confidence, evidence_count,
// access_count, last_accessed_at, cluster_id, promoted_at, structured.
func (s *RecordStore) UpdateFields(id int64, fields map[string]any) error {
	return s.updateFields(s.db, id, fields)
}

// UpdateFieldsTx is UpdateFields run against an explicit transaction.
func (s *RecordStore) UpdateFieldsTx(tx *sql.Tx, id int64, fields map[string]any) error {
	return s.updateFields(tx, id, fields)
}

func (s *RecordStore) updateFields(q querier, id int64, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	set := ""
	args := make([]any, 0, len(fields)+1)
	for k, v := range fields {
		if set != "" {
			set += ", "
		}
		set += k + " = ?"
		args = append(args, v)
	}
	set += ", updated_at = ?"
	args = append(args, time.Now().UTC().Unix(), id)

	_, err := q.Exec(fmt.Sprintf("UPDATE memories SET %s WHERE id = ?", set), args...)
	if err != nil {
		return fmt.Errorf("update fields: %w", err)
	}
	return nil
}

// DeleteRecord removes a Record; ON DELETE CASCADE removes its vector
// entry and the FTS trigger removes its full-text entry (§3 invariant:
// full-text and vector entries exist iff the Record exists).
func (s *RecordStore) DeleteRecord(id int64) error {
	return s.deleteRecord(s.db, id)
}

// DeleteRecordTx is DeleteRecord run against an explicit transaction.
func (s *RecordStore) DeleteRecordTx(tx *sql.Tx, id int64) error {
	return s.deleteRecord(tx, id)
}

func (s *RecordStore) deleteRecord(q querier, id int64) error {
	_, err := q.Exec(`DELETE FROM memories WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	return nil
}

// GetByID fetches one Record, or sql.ErrNoRows if absent.
func (s *RecordStore) GetByID(id int64) (*models.Record, error) {
	row := s.db.QueryRow(`SELECT `+recordColumns+` FROM memories WHERE id = ?`, id)
	return scanOne(row)
}

// RecentByTypeDomain returns the limit most recent Records sharing
// (type, domain), most recent first — used by dedup (§4.5 step 1).
func (s *RecordStore) RecentByTypeDomain(t models.RecordType, domain string, limit int) ([]*models.Record, error) {
	rows, err := s.db.Query(`SELECT `+recordColumns+` FROM memories
		WHERE type = ? AND domain = ? ORDER BY created_at DESC, id DESC LIMIT ?`,
		string(t), domain, limit)
	if err != nil {
		return nil, fmt.Errorf("recent by type domain: %w", err)
	}
	defer rows.Close()
	return scanMany(rows)
}

// GetByIDs fetches many Records in one query, order not guaranteed.
func (s *RecordStore) GetByIDs(ids []int64) ([]*models.Record, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := ""
	args := make([]any, len(ids))
	for i, id := range ids {
		if i > 0 {
			placeholders += ","
		}
		placeholders += "?"
		args[i] = id
	}
	rows, err := s.db.Query(`SELECT `+recordColumns+` FROM memories WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("get by ids: %w", err)
	}
	defer rows.Close()
	return scanMany(rows)
}

// ClusterMembers returns every Record whose cluster_id matches c.
func (s *RecordStore) ClusterMembers(clusterID int64) ([]*models.Record, error) {
	rows, err := s.db.Query(`SELECT `+recordColumns+` FROM memories WHERE cluster_id = ?`, clusterID)
	if err != nil {
		return nil, fmt.Errorf("cluster members: %w", err)
	}
	defer rows.Close()
	return scanMany(rows)
}

// UnclusteredRecords returns up to `limit` Records with cluster_id NULL
// and confidence >= minConfidence, optionally scoped to domain and to
// records created within the last hoursBack hours, ordered by
// confidence descending (§4.5 auto_cluster).
func (s *RecordStore) UnclusteredRecords(domain string, minConfidence float64, limit int, hoursBack int) ([]*models.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM memories WHERE cluster_id IS NULL AND confidence >= ?`
	args := []any{minConfidence}
	if domain != "" {
		query += " AND domain = ?"
		args = append(args, domain)
	}
	if hoursBack > 0 {
		cutoff := time.Now().UTC().Add(-time.Duration(hoursBack) * time.Hour).Unix()
		query += " AND created_at >= ?"
		args = append(args, cutoff)
	}
	query += " ORDER BY confidence DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("unclustered records: %w", err)
	}
	defer rows.Close()
	return scanMany(rows)
}

// CountByTypeDomain returns totals grouped by type and domain, and the
// overall count — used by the tool surface's memory_stats operation.
func (s *RecordStore) CountByTypeDomain() (map[string]int, int, error) {
	rows, err := s.db.Query(`SELECT type, domain, COUNT(*) FROM memories GROUP BY type, domain`)
	if err != nil {
		return nil, 0, fmt.Errorf("count by type domain: %w", err)
	}
	defer rows.Close()

	counts := map[string]int{}
	total := 0
	for rows.Next() {
		var typ, domain string
		var n int
		if err := rows.Scan(&typ, &domain, &n); err != nil {
			return nil, 0, fmt.Errorf("scan count: %w", err)
		}
		counts[typ+"/"+domain] = n
		total += n
	}
	return counts, total, rows.Err()
}

// PromotedCount returns the number of Records with a non-null promoted_at.
func (s *RecordStore) PromotedCount() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM memories WHERE promoted_at IS NOT NULL`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("promoted count: %w", err)
	}
	return n, nil
}

func scanOne(row *sql.Row) (*models.Record, error) {
	var r models.Record
	var typ string
	var lastAccessed, clusterID, promotedAt sql.NullInt64
	var createdAt, updatedAt int64

	err := row.Scan(&r.ID, &r.Content, &r.Structured, &r.Summary, &r.Keywords, &typ, &r.Domain,
		&r.Confidence, &r.EvidenceCount, &r.AccessCount, &lastAccessed, &clusterID,
		&r.Source, &createdAt, &updatedAt, &promotedAt)
	if err != nil {
		return nil, err
	}
	populateRecord(&r, typ, lastAccessed, clusterID, promotedAt, createdAt, updatedAt)
	return &r, nil
}

func scanMany(rows *sql.Rows) ([]*models.Record, error) {
	var out []*models.Record
	for rows.Next() {
		var r models.Record
		var typ string
		var lastAccessed, clusterID, promotedAt sql.NullInt64
		var createdAt, updatedAt int64

		err := rows.Scan(&r.ID, &r.Content, &r.Structured, &r.Summary, &r.Keywords, &typ, &r.Domain,
			&r.Confidence, &r.EvidenceCount, &r.AccessCount, &lastAccessed, &clusterID,
			&r.Source, &createdAt, &updatedAt, &promotedAt)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		populateRecord(&r, typ, lastAccessed, clusterID, promotedAt, createdAt, updatedAt)
		out = append(out, &r)
	}
	return out, rows.Err()
}

func populateRecord(r *models.Record, typ string, lastAccessed, clusterID, promotedAt sql.NullInt64, createdAt, updatedAt int64) {
	r.Type = models.RecordType(typ)
	r.CreatedAt = time.Unix(createdAt, 0).UTC()
	r.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	if lastAccessed.Valid {
		t := time.Unix(lastAccessed.Int64, 0).UTC()
		r.LastAccessedAt = &t
	}
	if clusterID.Valid {
		id := clusterID.Int64
		r.ClusterID = &id
	}
	if promotedAt.Valid {
		t := time.Unix(promotedAt.Int64, 0).UTC()
		r.PromotedAt = &t
	}
}

func nullableInt64(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}
