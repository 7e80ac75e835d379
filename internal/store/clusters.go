package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/marrowdepot/memoryd/internal/models"
)

const clusterColumns = `id, theme, centroid, member_count, avg_confidence, domain, status, created_at, updated_at, evolved_at`

// ClusterStore implements the Store's cluster-shaped primitives from
// §4.1: insert_cluster, update_cluster, plus read helpers.
type ClusterStore struct {
	db *DB
}

func NewClusterStore(db *DB) *ClusterStore { return &ClusterStore{db: db} }

// InsertCluster inserts a new Cluster and returns its assigned id.
func (s *ClusterStore) InsertCluster(c *models.Cluster) (int64, error) {
	return s.insertCluster(s.db, c)
}

// InsertClusterTx is InsertCluster run against an explicit transaction.
func (s *ClusterStore) InsertClusterTx(tx *sql.Tx, c *models.Cluster) (int64, error) {
	return s.insertCluster(tx, c)
}

func (s *ClusterStore) insertCluster(q querier, c *models.Cluster) (int64, error) {
	now := time.Now().UTC()
	res, err := q.Exec(`INSERT INTO clusters (theme, centroid, member_count, avg_confidence, domain, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.Theme, Float32ToBytes(c.Centroid), c.MemberCount, c.AvgConfidence, c.Domain, string(c.Status), now.Unix(), now.Unix())
	if err != nil {
		return 0, fmt.Errorf("insert cluster: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert cluster: last insert id: %w", err)
	}
	c.ID = id
	c.CreatedAt, c.UpdatedAt = now, now
	return id, nil
}

// UpdateCluster applies a sparse set of column updates to one Cluster.
// Known keys: centroid ([]float32), member_count, avg_confidence,
// status, evolved_at.
func (s *ClusterStore) UpdateCluster(id int64, fields map[string]any) error {
	return s.updateCluster(s.db, id, fields)
}

// UpdateClusterTx is UpdateCluster run against an explicit transaction.
func (s *ClusterStore) UpdateClusterTx(tx *sql.Tx, id int64, fields map[string]any) error {
	return s.updateCluster(tx, id, fields)
}

func (s *ClusterStore) updateCluster(q querier, id int64, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	set := ""
	args := make([]any, 0, len(fields)+2)
	for k, v := range fields {
		if set != "" {
			set += ", "
		}
		if vec, ok := v.([]float32); ok {
			v = Float32ToBytes(vec)
		}
		set += k + " = ?"
		args = append(args, v)
	}
	set += ", updated_at = ?"
	args = append(args, time.Now().UTC().Unix(), id)

	_, err := q.Exec(fmt.Sprintf("UPDATE clusters SET %s WHERE id = ?", set), args...)
	if err != nil {
		return fmt.Errorf("update cluster: %w", err)
	}
	return nil
}

// GetCluster fetches one Cluster by id.
func (s *ClusterStore) GetCluster(id int64) (*models.Cluster, error) {
	row := s.db.QueryRow(`SELECT `+clusterColumns+` FROM clusters WHERE id = ?`, id)
	return scanCluster(row)
}

// GrowingOrMature returns every cluster in domain whose status is
// growing or mature — the candidate hosts for try_join_cluster (§4.5).
func (s *ClusterStore) GrowingOrMature(domain string) ([]*models.Cluster, error) {
	return s.growingOrMature(s.db, domain)
}

// GrowingOrMatureTx is GrowingOrMature run against an explicit transaction.
func (s *ClusterStore) GrowingOrMatureTx(tx *sql.Tx, domain string) ([]*models.Cluster, error) {
	return s.growingOrMature(tx, domain)
}

func (s *ClusterStore) growingOrMature(q querier, domain string) ([]*models.Cluster, error) {
	rows, err := q.Query(`SELECT `+clusterColumns+` FROM clusters
		WHERE domain = ? AND status IN ('growing','mature') ORDER BY id ASC`, domain)
	if err != nil {
		return nil, fmt.Errorf("growing or mature clusters: %w", err)
	}
	defer rows.Close()
	return scanClusters(rows)
}

// CountByStatus returns cluster totals grouped by status — used by the
// tool surface's memory_stats operation.
func (s *ClusterStore) CountByStatus() (map[string]int, error) {
	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM clusters GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	defer rows.Close()

	counts := map[string]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func scanCluster(row *sql.Row) (*models.Cluster, error) {
	var c models.Cluster
	var status string
	var centroid []byte
	var createdAt, updatedAt int64
	var evolvedAt sql.NullInt64

	err := row.Scan(&c.ID, &c.Theme, &centroid, &c.MemberCount, &c.AvgConfidence, &c.Domain, &status, &createdAt, &updatedAt, &evolvedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan cluster: %w", err)
	}
	populateCluster(&c, status, centroid, createdAt, updatedAt, evolvedAt)
	return &c, nil
}

func scanClusters(rows *sql.Rows) ([]*models.Cluster, error) {
	var out []*models.Cluster
	for rows.Next() {
		var c models.Cluster
		var status string
		var centroid []byte
		var createdAt, updatedAt int64
		var evolvedAt sql.NullInt64

		err := rows.Scan(&c.ID, &c.Theme, &centroid, &c.MemberCount, &c.AvgConfidence, &c.Domain, &status, &createdAt, &updatedAt, &evolvedAt)
		if err != nil {
			return nil, fmt.Errorf("scan cluster: %w", err)
		}
		populateCluster(&c, status, centroid, createdAt, updatedAt, evolvedAt)
		out = append(out, &c)
	}
	return out, rows.Err()
}

func populateCluster(c *models.Cluster, status string, centroid []byte, createdAt, updatedAt int64, evolvedAt sql.NullInt64) {
	c.Status = models.ClusterStatus(status)
	c.Centroid = BytesToFloat32(centroid)
	c.CreatedAt = time.Unix(createdAt, 0).UTC()
	c.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	if evolvedAt.Valid {
		t := time.Unix(evolvedAt.Int64, 0).UTC()
		c.EvolvedAt = &t
	}
}
