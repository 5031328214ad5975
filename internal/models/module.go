package models

import "time"

// Module types understood by the authoring UI. The engine treats content as
// opaque; the type is a tag carried for filtering.
const (
	ModuleTypePage       = "page"
	ModuleTypeQuiz       = "quiz"
	ModuleTypeAssignment = "assignment"
	ModuleTypeDiscussion = "discussion"
	ModuleTypeWhiteboard = "whiteboard"
)

// Module statuses.
const (
	ModuleStatusDraft     = "draft"
	ModuleStatusPublished = "published"
	ModuleStatusArchived  = "archived"
)

// Module is an authoring unit. It is the durable identity that content
// history attaches to; forking produces a new Module record that shares
// lineage with its source via OriginID.
type Module struct {
	ID          int64     `json:"id"`
	Slug        string    `json:"slug"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Type        string    `json:"type"`
	Status      string    `json:"status"`
	OriginID    int64     `json:"origin_id,omitempty"` // 0 for a root module
	CreatedBy   int64     `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
}

// Origin returns the lineage root id. Root modules are their own origin, so
// two modules share a lineage exactly when their Origin values are equal.
func (m *Module) Origin() int64 {
	if m.OriginID != 0 {
		return m.OriginID
	}
	return m.ID
}

// SameLineage reports whether two modules share a common origin.
func (m *Module) SameLineage(other *Module) bool {
	return other != nil && m.Origin() == other.Origin()
}
