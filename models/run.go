package models

import (
	"encoding/json"
	"time"
)

type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusPartial   RunStatus = "partial"
	RunStatusFailed    RunStatus = "failed"
)

type PartitionStatus string

// Per-postal-code fetch lifecycle. Terminal states are final for the
// run; a failed partition is not refetched.
const (
	PartitionPending   PartitionStatus = "pending"
	PartitionFetching  PartitionStatus = "fetching"
	PartitionSucceeded PartitionStatus = "succeeded"
	PartitionFailed    PartitionStatus = "failed"
)

// Counts aggregates record outcomes for one partition or a whole run.
type Counts struct {
	Fetched   int `json:"fetched"`
	Inserted  int `json:"inserted"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
	Failed    int `json:"failed"`
}

func (c *Counts) Add(o Counts) {
	c.Fetched += o.Fetched
	c.Inserted += o.Inserted
	c.Updated += o.Updated
	c.Unchanged += o.Unchanged
	c.Failed += o.Failed
}

// PartitionReport is the outcome of one postal code's
// fetch→normalize→dedup→upsert unit of work.
type PartitionReport struct {
	PostalCode string          `json:"postal_code"`
	Status     PartitionStatus `json:"status"`
	Pages      int             `json:"pages"`
	Counts     Counts          `json:"counts"`
	Error      string          `json:"error,omitempty"`
}

// RunReport collects partition reports in completion order plus the
// run totals. It is the run's externally observable product besides
// the store itself.
type RunReport struct {
	Partitions []PartitionReport `json:"partitions"`
	Totals     Counts            `json:"totals"`
}

func (r *RunReport) Append(p PartitionReport) {
	r.Partitions = append(r.Partitions, p)
	r.Totals.Add(p.Counts)
}

func (r *RunReport) FailedPartitions() int {
	n := 0
	for _, p := range r.Partitions {
		if p.Status == PartitionFailed {
			n++
		}
	}
	return n
}

// Status derives the run outcome from partition outcomes: completed
// when every partition succeeded, failed when none did, partial
// otherwise. A fatal abort overrides this at the orchestrator level.
func (r *RunReport) Status() RunStatus {
	failed := r.FailedPartitions()
	switch {
	case len(r.Partitions) == 0:
		return RunStatusCompleted
	case failed == 0:
		return RunStatusCompleted
	case failed == len(r.Partitions):
		return RunStatusFailed
	default:
		return RunStatusPartial
	}
}

// PipelineRun is the persisted record of one ingest run.
type PipelineRun struct {
	ID            int64           `json:"id" db:"id"`
	Source        string          `json:"source" db:"source"`
	StartedAt     time.Time       `json:"started_at" db:"started_at"`
	FinishedAt    *time.Time      `json:"finished_at" db:"finished_at"`
	Status        RunStatus       `json:"status" db:"status"`
	Fetched       int             `json:"fetched" db:"fetched"`
	Inserted      int             `json:"inserted" db:"inserted"`
	Updated       int             `json:"updated" db:"updated"`
	Unchanged     int             `json:"unchanged" db:"unchanged"`
	RecordsFailed int             `json:"records_failed" db:"records_failed"`
	ZipsFailed    int             `json:"zips_failed" db:"zips_failed"`
	ErrorMessage  string          `json:"error_message" db:"error_message"`
	Metadata      json.RawMessage `json:"metadata" db:"metadata"`
}
