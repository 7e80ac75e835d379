package models

import "time"

// ClusterStatus enumerates the lifecycle states a Cluster moves through.
type ClusterStatus string

const (
	ClusterGrowing ClusterStatus = "growing"
	ClusterMature  ClusterStatus = "mature"
	ClusterMerged  ClusterStatus = "merged"
)

// Cluster groups semantically related Records within one domain.
type Cluster struct {
	ID            int64
	Theme         string
	Centroid      []float32
	MemberCount   int
	AvgConfidence float64
	Domain        string
	Status        ClusterStatus
	CreatedAt     time.Time
	UpdatedAt     time.Time
	EvolvedAt     *time.Time
}

// MaturityParams holds the size/confidence thresholds that promote a
// growing cluster to mature (§4.5, §6 cluster config).
type MaturityParams struct {
	MinSize       int
	MinConfidence float64
}

// DefaultMaturity matches §6's enumerated cluster config defaults.
var DefaultMaturity = MaturityParams{MinSize: 5, MinConfidence: 0.65}

// DefaultClusterSimThreshold is CLUSTER_SIM_THRESHOLD from §4.5.
const DefaultClusterSimThreshold = 0.70
