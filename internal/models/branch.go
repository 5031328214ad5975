package models

import "time"

// DefaultBranchName is the conventional name of a lineage's default branch.
const DefaultBranchName = "main"

// Branch is a named ref inside one lineage's history. Exactly one branch per
// lineage carries IsDefault.
type Branch struct {
	ID          int64     `json:"id"`
	OriginID    int64     `json:"origin_id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	IsDefault   bool      `json:"is_default"`
	CreatedBy   int64     `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
}
