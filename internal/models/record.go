// Package models defines the persistent record, cluster, and vector
// shapes shared by the store, retriever, and curator packages.
package models

import (
	"math"
	"time"
)

// RecordType enumerates the kinds of memory a Record can hold.
type RecordType string

const (
	TypeFact       RecordType = "fact"
	TypeDecision   RecordType = "decision"
	TypeBug        RecordType = "bug"
	TypePattern    RecordType = "pattern"
	TypeContext    RecordType = "context"
	TypePreference RecordType = "preference"
	TypeSkill      RecordType = "skill"
	TypeSession    RecordType = "session"
	TypeLearned    RecordType = "learned"
	TypePermanent  RecordType = "permanent"
)

// ValidRecordTypes lists every accepted RecordType.
var ValidRecordTypes = map[RecordType]bool{
	TypeFact: true, TypeDecision: true, TypeBug: true, TypePattern: true,
	TypeContext: true, TypePreference: true, TypeSkill: true, TypeSession: true,
	TypeLearned: true, TypePermanent: true,
}

// DefaultRecordType is used when Save is not given a type.
const DefaultRecordType = TypeContext

// DefaultDomain is used when Save is not given a domain.
const DefaultDomain = "general"

const (
	MinConfidence     = 0.3
	MaxConfidence     = 0.9
	DefaultConfidence = 0.5
)

// ClampConfidence applies the confidence invariant from §3.
func ClampConfidence(c float64) float64 {
	if c < MinConfidence {
		return MinConfidence
	}
	if c > MaxConfidence {
		return MaxConfidence
	}
	return c
}

// Record is one persistent memory.
type Record struct {
	ID             int64
	Content        string
	Structured     string // empty iff no structured form exists
	Summary        string
	Keywords       string
	Type           RecordType
	Domain         string
	Confidence     float64
	EvidenceCount  int
	AccessCount    int
	LastAccessedAt *time.Time
	ClusterID      *int64
	Source         string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	PromotedAt     *time.Time
}

// Body returns the structured form when present, else the raw content.
// This is the `body` referenced by build_embedding_input (§4.2) and the
// `content` attribute of a search result (§4.4).
func (r *Record) Body() string {
	if r.Structured != "" {
		return r.Structured
	}
	return r.Content
}

// FieldSubset lists the structured-XML child tags allowed for a type,
// per §4.3.
var FieldSubset = map[RecordType][]string{
	TypeFact:       {"what"},
	TypePattern:    {"what", "when", "do", "warn"},
	TypeDecision:   {"what", "warn"},
	TypePreference: {"what", "warn"},
	TypeBug:        {"what", "do"},
	TypeContext:    {"what", "when"},
	TypeSkill:      {"what"},
}

// decayParams holds the per-type half-life (days) and floor weight used
// by Decay (§4.5). Infinite half-life types are modeled with a zero
// half-life flag meaning "never decays".
type decayParams struct {
	halfLifeDays float64 // 0 means infinite (never decays)
	minWeight    float64
}

var decayTable = map[RecordType]decayParams{
	TypeFact:       {90, 0.3},
	TypeDecision:   {90, 0.3},
	TypeBug:        {60, 0.3},
	TypePattern:    {90, 0.4},
	TypePreference: {60, 0.2},
	TypeContext:    {30, 0.2},
	TypeSession:    {14, 0.1},
	TypeLearned:    {90, 0.4},
	TypeSkill:      {0, 1.0},
	TypePermanent:  {0, 1.0},
}

// Decay computes the time-decay weight for a record created at
// createdAt, evaluated at "now". Types absent from the table default to
// TypeContext's parameters. This is computed in Go rather than as a SQL
// expression since the half-life curve is exponential and not worth
// expressing portably in SQL.
func Decay(createdAt, now time.Time, t RecordType) float64 {
	params, ok := decayTable[t]
	if !ok {
		params = decayTable[TypeContext]
	}
	if params.halfLifeDays == 0 {
		return 1.0
	}
	ageDays := now.Sub(createdAt).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	weight := math.Pow(0.5, ageDays/params.halfLifeDays)
	if weight < params.minWeight {
		return params.minWeight
	}
	return weight
}
