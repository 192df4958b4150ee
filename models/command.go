package models

import (
	"encoding/json"
	"time"
)

type CommandType string

// Commands the daemon polls for from the ops DB.
const (
	CmdRunScrape     CommandType = "run_scrape"
	CmdRunTransform  CommandType = "run_transform"
	CmdRunPhotos     CommandType = "run_photos"
	CmdRunEnrichment CommandType = "run_enrichment"
	CmdPause         CommandType = "pause"
	CmdResume        CommandType = "resume"
)

type Command struct {
	ID          int64           `json:"id" db:"id"`
	Command     CommandType     `json:"command" db:"command"`
	Params      json.RawMessage `json:"params" db:"params"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	ProcessedAt *time.Time      `json:"processed_at" db:"processed_at"`
}

type CommandParams struct {
	Market string `json:"market,omitempty"`
}
