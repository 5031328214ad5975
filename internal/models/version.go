package models

import (
	"encoding/json"
	"time"
)

// Version is a materialized (module, branch, commit) snapshot of content.
// For any (module, branch) pair at most one version has IsCurrentHead set;
// creating a new head atomically demotes the previous one.
type Version struct {
	ID          int64           `json:"id"`
	ModuleID    int64           `json:"module_id"`
	BranchID    int64           `json:"branch_id"`
	CommitID    int64           `json:"commit_id"`
	Title       string          `json:"title"`
	Description string          `json:"description,omitempty"`
	Content     json.RawMessage `json:"content,omitempty"`
	ContentHash string          `json:"content_hash"`
	IsHead      bool            `json:"is_current_head"`
	CreatedAt   time.Time       `json:"created_at"`
}
