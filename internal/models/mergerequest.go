package models

import "time"

// MergeRequestStatus is the lifecycle state of a merge request.
type MergeRequestStatus string

const (
	MergeRequestOpen     MergeRequestStatus = "open"
	MergeRequestMerged   MergeRequestStatus = "merged"
	MergeRequestRejected MergeRequestStatus = "rejected"
	MergeRequestClosed   MergeRequestStatus = "closed"
)

// Terminal reports whether the status allows no further transitions.
func (s MergeRequestStatus) Terminal() bool {
	return s == MergeRequestMerged || s == MergeRequestRejected || s == MergeRequestClosed
}

// Valid reports whether s is a known status value.
func (s MergeRequestStatus) Valid() bool {
	switch s {
	case MergeRequestOpen, MergeRequestMerged, MergeRequestRejected, MergeRequestClosed:
		return true
	}
	return false
}

// MergeRequest proposes merging the "from" module's state into the "to"
// module. Both must share a lineage. Transitions are one-way: open moves to
// exactly one of the terminal states and stays there.
type MergeRequest struct {
	ID            int64              `json:"id"`
	FromModuleID  int64              `json:"from_module_id"`
	ToModuleID    int64              `json:"to_module_id"`
	Title         string             `json:"title"`
	Description   string             `json:"description,omitempty"`
	Status        MergeRequestStatus `json:"status"`
	AllowComments bool               `json:"allow_comments"`
	Reason        string             `json:"reason,omitempty"`
	CreatedBy     int64              `json:"created_by"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
	MergedBy      int64              `json:"merged_by,omitempty"`
	MergedAt      *time.Time         `json:"merged_at,omitempty"`
	RejectedBy    int64              `json:"rejected_by,omitempty"`
	RejectedAt    *time.Time         `json:"rejected_at,omitempty"`
	ClosedBy      int64              `json:"closed_by,omitempty"`
	ClosedAt      *time.Time         `json:"closed_at,omitempty"`
}

// MergeRequestComment belongs to one merge request.
type MergeRequestComment struct {
	ID             int64     `json:"id"`
	MergeRequestID int64     `json:"merge_request_id"`
	Body           string    `json:"body"`
	CreatedBy      int64     `json:"created_by"`
	CreatedAt      time.Time `json:"created_at"`
}
