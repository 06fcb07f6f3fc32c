package models

import (
	"time"

	"github.com/google/uuid"
)

// NodePhaseStats counts the outcome of the node phase
type NodePhaseStats struct {
	Created  map[NodeLabel]int `json:"created"`
	Filtered int               `json:"filtered"` // revoked or deprecated
	Skipped  int               `json:"skipped"`  // no resolvable mitre_id
}

// TotalCreated returns the number of upserted nodes over all labels
func (s NodePhaseStats) TotalCreated() int {
	total := 0
	for _, n := range s.Created {
		total += n
	}
	return total
}

// RelationshipPhaseStats counts the outcome of the relationship phase
type RelationshipPhaseStats struct {
	Created             map[EdgeKind]int `json:"created"`
	Duplicates          int              `json:"duplicates"`
	Filtered            int              `json:"filtered"`             // revoked or deprecated relationships
	SkippedDangling     int              `json:"skipped_dangling"`     // endpoint not a node of this run
	SkippedUnclassified int              `json:"skipped_unclassified"` // unknown (type, source, target)
	DerivedCreated      int              `json:"derived_created"`      // REQUIRES_TACTIC from kill-chain phases
	DerivedSkipped      int              `json:"derived_skipped"`      // phase without a tactic node
}

// TotalCreated returns the number of upserted edges, derived ones included
func (s RelationshipPhaseStats) TotalCreated() int {
	total := 0
	for _, n := range s.Created {
		total += n
	}
	return total
}

// TotalSkipped returns every relationship that did not become an edge
func (s RelationshipPhaseStats) TotalSkipped() int {
	return s.SkippedDangling + s.SkippedUnclassified + s.DerivedSkipped
}

// IngestStats is the result of one graph build
type IngestStats struct {
	Objects       int                    `json:"objects"`
	Nodes         NodePhaseStats         `json:"nodes"`
	Relationships RelationshipPhaseStats `json:"relationships"`
	Duration      time.Duration          `json:"duration"`
}

// NewIngestStats returns stats with initialized counters
func NewIngestStats() *IngestStats {
	return &IngestStats{
		Nodes:         NodePhaseStats{Created: make(map[NodeLabel]int)},
		Relationships: RelationshipPhaseStats{Created: make(map[EdgeKind]int)},
	}
}

// RunStatus is the final state of an ingestion run
type RunStatus string

const (
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// RunReport is the audit record of one ingestion run
type RunReport struct {
	ID         uuid.UUID        `json:"id"`
	BundleFile string           `json:"bundle_file"`
	BundleID   string           `json:"bundle_id,omitempty"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
	Status     RunStatus        `json:"status"`
	Error      string           `json:"error,omitempty"`
	Stats      *IngestStats     `json:"stats,omitempty"`
	GraphTotal map[string]int64 `json:"graph_total,omitempty"`
}

// NewRunReport starts a report for a bundle
func NewRunReport(bundleFile string) *RunReport {
	return &RunReport{
		ID:         uuid.New(),
		BundleFile: bundleFile,
		StartedAt:  time.Now().UTC(),
	}
}

// Finish stamps the report with its outcome
func (r *RunReport) Finish(stats *IngestStats, err error) {
	r.FinishedAt = time.Now().UTC()
	r.Stats = stats
	if err != nil {
		r.Status = RunStatusFailed
		r.Error = err.Error()
		return
	}
	r.Status = RunStatusSucceeded
}
