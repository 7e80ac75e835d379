// Package curator implements the online incremental clusterer,
// cluster-maturity tracker, cluster-merge executor, and
// confidence/decay bookkeeper (§4.5).
//
// Collaborators are constructor-injected; each public operation is one
// exported method wrapping its errors with fmt.Errorf("...: %w", err).
// Dedup runs on word-Jaccard similarity against recent same-type,
// same-domain records rather than cosine distance.
package curator

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/marrowdepot/memoryd/internal/embedclient"
	"github.com/marrowdepot/memoryd/internal/models"
	"github.com/marrowdepot/memoryd/internal/store"
	"github.com/marrowdepot/memoryd/internal/structurer"
)

const dedupRecentWindow = 10
const dedupSimilarityThreshold = 0.95

// Curator wires together the Store, Embedder gateway, and Structurer
// gateway behind the operations §4.5 names.
type Curator struct {
	db          *store.DB
	records     *store.RecordStore
	vectors     *store.VectorStore
	clusters    *store.ClusterStore
	validations *store.ValidationStore
	embedder    *embedclient.CachedClient
	structurer  *structurer.Client
	log         zerolog.Logger

	ClusterSimThreshold float64
	Maturity            models.MaturityParams
	StructuringEnabled  bool
}

func New(db *store.DB, records *store.RecordStore, vectors *store.VectorStore, clusters *store.ClusterStore,
	validations *store.ValidationStore, embedder *embedclient.CachedClient, structurerClient *structurer.Client,
	log zerolog.Logger) *Curator {
	return &Curator{
		db:                  db,
		records:             records,
		vectors:             vectors,
		clusters:            clusters,
		validations:         validations,
		embedder:            embedder,
		structurer:          structurerClient,
		log:                 log,
		ClusterSimThreshold: models.DefaultClusterSimThreshold,
		Maturity:            models.DefaultMaturity,
		StructuringEnabled:  true,
	}
}

// SaveParams carries Save's optional inputs (§4.5).
type SaveParams struct {
	Type            models.RecordType
	Domain          string
	Confidence      float64
	Source          string
	SkipStructurize bool
	PreStructured   string
	SuppressCluster bool
}

// SaveOutcome is Save's tagged result — exactly one of Updated,
// Rejected, or Created is populated.
type SaveOutcome struct {
	Updated  *UpdatedResult
	Rejected *RejectedResult
	Created  *CreatedResult
}

type UpdatedResult struct {
	ID         int64
	Similarity float64
}

type RejectedResult struct {
	Reason string
}

type CreatedResult struct {
	ID            int64
	ClusterJoined *int64
}

// Save implements the full save path of §4.5.
func (c *Curator) Save(ctx context.Context, text string, p SaveParams) (*SaveOutcome, error) {
	typ := p.Type
	if typ == "" {
		typ = models.DefaultRecordType
	}
	domain := p.Domain
	if domain == "" {
		domain = models.DefaultDomain
	}
	confidence := p.Confidence
	if confidence == 0 {
		confidence = models.DefaultConfidence
	}

	// Step 1: dedup against the 10 most recent same-(type,domain) records.
	recent, err := c.records.RecentByTypeDomain(typ, domain, dedupRecentWindow)
	if err != nil {
		return nil, fmt.Errorf("curator save: fetch recent records: %w", err)
	}
	for _, r := range recent {
		sim := jaccardSimilarity(text, r.Content)
		if sim >= dedupSimilarityThreshold {
			now := time.Now().UTC()
			newConfidence := models.ClampConfidence(r.Confidence + 0.05)
			err := c.records.UpdateFields(r.ID, map[string]any{
				"access_count":     r.AccessCount + 1,
				"last_accessed_at": now.Unix(),
				"confidence":       newConfidence,
			})
			if err != nil {
				return nil, fmt.Errorf("curator save: update duplicate: %w", err)
			}
			c.log.Info().Int64("id", r.ID).Float64("similarity", sim).Msg("save: dedup match")
			return &SaveOutcome{Updated: &UpdatedResult{ID: r.ID, Similarity: sim}}, nil
		}
	}

	// Step 2: obtain structured XML.
	structured := ""
	switch {
	case p.PreStructured != "":
		structured = p.PreStructured
	case p.SkipStructurize || !c.StructuringEnabled:
		structured = ""
	default:
		xml, err := c.structurer.Structurize(ctx, text, typ)
		if err != nil {
			var rejected *structurer.Rejected
			if asRejected(err, &rejected) {
				c.log.Info().Str("reason", rejected.Reason).Msg("save: rejected by structurer")
				return &SaveOutcome{Rejected: &RejectedResult{Reason: rejected.Reason}}, nil
			}
			// Dependency-unavailable/deadline-exceeded: proceed with
			// structuring skipped rather than fail the whole save (§7).
			c.log.Warn().Err(err).Msg("save: structurize failed, proceeding without structured form")
		} else {
			structured = xml
		}
	}

	// Step 3: embed ahead of the write transaction — embedding is an
	// external RPC and must not hold the single SQLite writer open.
	r := &models.Record{
		Content:    text,
		Structured: structured,
		Summary:    computeSummary(text),
		Keywords:   computeKeywords(text),
		Type:       typ,
		Domain:     domain,
		Confidence: confidence,
		Source:     p.Source,
	}

	var vec []float32
	if c.embedder != nil {
		vec, err = c.embedder.Embed(ctx, r.Body(), domain)
		if err != nil {
			c.log.Warn().Str("type", string(typ)).Msg("save: embedding failed")
			vec = nil
		}
	}

	// Step 4: insert the record, its vector, and its cluster join (if
	// any) as one transaction — a failure partway through leaves no
	// partial state (§4.1, §7).
	result := &CreatedResult{}
	err = c.db.WithTx(func(tx *sql.Tx) error {
		id, err := c.records.InsertRecordTx(tx, r)
		if err != nil {
			return fmt.Errorf("insert record: %w", err)
		}
		result.ID = id

		if vec == nil {
			return nil
		}
		if err := c.vectors.InsertVectorTx(tx, id, vec); err != nil {
			return fmt.Errorf("insert vector: %w", err)
		}

		if p.SuppressCluster {
			return nil
		}
		joined, err := c.tryJoinCluster(tx, id, vec, domain, r.Confidence)
		if err != nil {
			// Cluster join is best-effort, not part of the insert's
			// correctness: log and keep the record/vector commit.
			c.log.Warn().Int64("id", id).Err(err).Msg("save: cluster join failed")
			return nil
		}
		result.ClusterJoined = joined
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("curator save: %w", err)
	}

	c.log.Info().Int64("id", result.ID).Str("type", string(typ)).Str("domain", domain).Msg("save: created")
	return &SaveOutcome{Created: result}, nil
}

func asRejected(err error, target **structurer.Rejected) bool {
	r, ok := err.(*structurer.Rejected)
	if ok {
		*target = r
	}
	return ok
}

// Validate implements validate(id, is_valid) (§4.5).
func (c *Curator) Validate(id int64, isValid bool) error {
	r, err := c.records.GetByID(id)
	if err != nil {
		return fmt.Errorf("curator validate: %w", err)
	}
	delta := -0.05
	if isValid {
		delta = 0.1
	}
	newConfidence := models.ClampConfidence(r.Confidence + delta)
	err = c.records.UpdateFields(id, map[string]any{
		"confidence":     newConfidence,
		"evidence_count": r.EvidenceCount + 1,
	})
	if err != nil {
		return fmt.Errorf("curator validate: %w", err)
	}
	return c.validations.Record(id, isValid)
}

// MarkUsed implements mark_used(ids) (§4.5).
func (c *Curator) MarkUsed(ids []int64) error {
	now := time.Now().UTC().Unix()
	for _, id := range ids {
		r, err := c.records.GetByID(id)
		if err != nil {
			return fmt.Errorf("curator mark_used: %w", err)
		}
		err = c.records.UpdateFields(id, map[string]any{
			"last_accessed_at": now,
			"access_count":     r.AccessCount + 1,
		})
		if err != nil {
			return fmt.Errorf("curator mark_used: %w", err)
		}
	}
	return nil
}

// AutoBoost implements auto_boost(id, δ) (§4.5), defaulting δ to 0.1.
func (c *Curator) AutoBoost(id int64, delta float64) error {
	if delta == 0 {
		delta = 0.1
	}
	r, err := c.records.GetByID(id)
	if err != nil {
		return fmt.Errorf("curator auto_boost: %w", err)
	}
	newConfidence := models.ClampConfidence(r.Confidence + delta)
	if err := c.records.UpdateFields(id, map[string]any{"confidence": newConfidence}); err != nil {
		return fmt.Errorf("curator auto_boost: %w", err)
	}
	return c.MarkUsed([]int64{id})
}

// Decay computes §4.5's time-decay weight for a record.
func (c *Curator) Decay(r *models.Record) float64 {
	return models.Decay(r.CreatedAt, time.Now().UTC(), r.Type)
}
