// Package store provides the persistence port for the version-control engine
// and its SQLite implementation. Higher layers depend only on the Store and
// Tx interfaces, never on a concrete database.
package store

import (
	"context"
	"errors"

	"github.com/courseloom/amvc/internal/models"
)

// Sentinel errors for expected conditions.
var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

// Page bounds a result set. A zero Limit means no limit.
type Page struct {
	Limit  int
	Offset int
}

// ModuleFilter selects modules. Zero-valued fields are ignored.
type ModuleFilter struct {
	Slug          string
	TitleContains string
	Type          string
	Status        string
	CreatedBy     int64
	Origin        int64
}

// MergeRequestFilter selects merge requests. ModuleID matches either
// endpoint; zero-valued fields are ignored.
type MergeRequestFilter struct {
	ModuleID     int64
	FromModuleID int64
	ToModuleID   int64
	Status       models.MergeRequestStatus
}

// Tx exposes typed access to every entity inside one transaction. Writes
// performed through a Tx become visible atomically when the enclosing Update
// commits; any error returned from the closure rolls everything back.
type Tx interface {
	// Modules
	CreateModule(ctx context.Context, m *models.Module) error
	GetModule(ctx context.Context, id int64) (*models.Module, error)
	GetModuleBySlug(ctx context.Context, slug string) (*models.Module, error)
	UpdateModule(ctx context.Context, m *models.Module) error
	DeleteModule(ctx context.Context, id int64) error
	FindModules(ctx context.Context, f ModuleFilter, page Page) ([]*models.Module, error)
	CountModules(ctx context.Context, f ModuleFilter) (int, error)

	// Branches
	CreateBranch(ctx context.Context, b *models.Branch) error
	GetBranch(ctx context.Context, id int64) (*models.Branch, error)
	GetBranchByName(ctx context.Context, originID int64, name string) (*models.Branch, error)
	GetDefaultBranch(ctx context.Context, originID int64) (*models.Branch, error)
	ListBranches(ctx context.Context, originID int64) ([]*models.Branch, error)
	DeleteBranch(ctx context.Context, id int64) error

	// Commits
	CreateCommit(ctx context.Context, c *models.Commit) error
	GetCommit(ctx context.Context, id int64) (*models.Commit, error)
	GetCommitByHash(ctx context.Context, hash string) (*models.Commit, error)
	AddCommitParent(ctx context.Context, p *models.CommitParent) error
	GetCommitParents(ctx context.Context, commitID int64) ([]*models.CommitParent, error)
	GetAncestors(ctx context.Context, commitID int64) (map[int64]bool, error)

	// Versions
	CreateVersion(ctx context.Context, v *models.Version) error
	GetHeadVersion(ctx context.Context, moduleID, branchID int64) (*models.Version, error)
	GetVersionAtCommit(ctx context.Context, moduleID, branchID, commitID int64) (*models.Version, error)
	ListHeadVersions(ctx context.Context, branchID int64) ([]*models.Version, error)
	ListModuleVersions(ctx context.Context, moduleID, branchID int64) ([]*models.Version, error)
	DemoteHead(ctx context.Context, moduleID, branchID int64) error
	DeleteVersionsByBranch(ctx context.Context, branchID int64) (int64, error)
	DeleteVersionsByModule(ctx context.Context, moduleID int64) (int64, error)

	// Merge requests
	CreateMergeRequest(ctx context.Context, mr *models.MergeRequest) error
	GetMergeRequest(ctx context.Context, id int64) (*models.MergeRequest, error)
	UpdateMergeRequest(ctx context.Context, mr *models.MergeRequest) error
	DeleteMergeRequest(ctx context.Context, id int64) error
	FindMergeRequests(ctx context.Context, f MergeRequestFilter, page Page) ([]*models.MergeRequest, error)
	CreateComment(ctx context.Context, c *models.MergeRequestComment) error
	ListComments(ctx context.Context, mergeRequestID int64) ([]*models.MergeRequestComment, error)
}

// Store opens transactions over the backing database.
type Store interface {
	// View runs fn in a read-only transaction.
	View(ctx context.Context, fn func(tx Tx) error) error
	// Update runs fn in a writable transaction, committing on nil return and
	// rolling back on error or panic.
	Update(ctx context.Context, fn func(tx Tx) error) error
	Close() error
}
