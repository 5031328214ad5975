package vcs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/courseloom/amvc/internal/models"
	"github.com/courseloom/amvc/internal/store"
)

// ModuleRevision is the result of a write to a module's history.
type ModuleRevision struct {
	Module  *models.Module  `json:"module"`
	Branch  *models.Branch  `json:"branch"`
	Commit  *models.Commit  `json:"commit"`
	Version *models.Version `json:"version"`
}

// ModuleSnapshot is a read of a module at a branch head or a pinned commit.
type ModuleSnapshot struct {
	Module  *models.Module  `json:"module"`
	Branch  *models.Branch  `json:"branch"`
	Version *models.Version `json:"version"`
}

// CreateModuleArgs are the inputs for CreateModule.
type CreateModuleArgs struct {
	Slug        string
	Title       string
	Description string
	Type        string
	Status      string
	Content     json.RawMessage
	Message     string
	ActorID     int64
}

// UpdateModuleArgs are the inputs for UpdateModule. Nil pointer fields keep
// the prior value; Content is shallow-merged over the prior head's content.
type UpdateModuleArgs struct {
	Branch      string
	Title       *string
	Description *string
	Status      *string
	Content     json.RawMessage
	Message     string
	ActorID     int64
}

// ModuleRef addresses a module by slug or id.
type ModuleRef struct {
	Slug string
	ID   int64
}

// SearchFilter selects modules for SearchModules.
type SearchFilter struct {
	TitleContains string
	Type          string
	Status        string
	CreatedBy     int64
}

// ModuleListing pairs a matching module with its head on the search branch.
// Version is nil when the module has no head there.
type ModuleListing struct {
	Module  *models.Module  `json:"module"`
	Version *models.Version `json:"version,omitempty"`
}

// CreateModule creates a module with its default branch, initial commit and
// head version, all in one transaction.
func CreateModule(ctx context.Context, st store.Store, args CreateModuleArgs) (*ModuleRevision, error) {
	if args.Slug == "" || args.Title == "" || args.Type == "" {
		return nil, fmt.Errorf("slug, title and type are required: %w", ErrInvalidArgument)
	}
	if args.Status == "" {
		args.Status = models.ModuleStatusDraft
	}
	if args.Message == "" {
		args.Message = "Initial commit"
	}

	rev := &ModuleRevision{}
	err := st.Update(ctx, func(tx store.Tx) error {
		if _, err := tx.GetModuleBySlug(ctx, args.Slug); err == nil {
			return fmt.Errorf("slug %q: %w", args.Slug, ErrDuplicateSlug)
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		module := &models.Module{
			Slug:        args.Slug,
			Title:       args.Title,
			Description: args.Description,
			Type:        args.Type,
			Status:      args.Status,
			CreatedBy:   args.ActorID,
		}
		if err := tx.CreateModule(ctx, module); err != nil {
			return err
		}
		rev.Module = module

		branch, err := getOrCreateDefaultBranchTx(ctx, tx, module.Origin(), args.ActorID)
		if err != nil {
			return err
		}
		rev.Branch = branch

		commit, version, err := writeRevisionTx(ctx, tx, module, branch, revisionInput{
			title:       args.Title,
			description: args.Description,
			content:     args.Content,
			message:     args.Message,
			actorID:     args.ActorID,
		})
		if err != nil {
			return err
		}
		rev.Commit = commit
		rev.Version = version
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rev, nil
}

// UpdateModule records a new revision of a module on a branch: partial
// content is shallow-merged over the prior head, a commit is chained to the
// prior head's commit, and the head pointer flips atomically. Any failure
// rolls the whole update back, leaving the prior head intact.
func UpdateModule(ctx context.Context, st store.Store, slug string, args UpdateModuleArgs) (*ModuleRevision, error) {
	if args.Branch == "" {
		args.Branch = models.DefaultBranchName
	}
	if args.Message == "" {
		args.Message = "Update " + slug
	}

	rev := &ModuleRevision{}
	err := st.Update(ctx, func(tx store.Tx) error {
		module, err := getModuleBySlugTx(ctx, tx, slug)
		if err != nil {
			return err
		}

		branch, err := getBranchTx(ctx, tx, module.Origin(), args.Branch)
		if err != nil {
			return err
		}
		rev.Branch = branch

		prior, err := tx.GetHeadVersion(ctx, module.ID, branch.ID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}

		in := revisionInput{
			title:   module.Title,
			message: args.Message,
			actorID: args.ActorID,
		}
		if prior != nil {
			in.title = prior.Title
			in.description = prior.Description
			in.content = prior.Content
			in.prior = prior
		}
		if args.Title != nil {
			in.title = *args.Title
		}
		if args.Description != nil {
			in.description = *args.Description
		}
		if args.Content != nil {
			merged, err := mergeContent(in.content, args.Content)
			if err != nil {
				return fmt.Errorf("invalid content: %w", ErrInvalidArgument)
			}
			in.content = merged
		}

		if args.Status != nil || args.Title != nil {
			if args.Status != nil {
				module.Status = *args.Status
			}
			if args.Title != nil {
				module.Title = *args.Title
			}
			if err := tx.UpdateModule(ctx, module); err != nil {
				return err
			}
		}
		rev.Module = module

		commit, version, err := writeRevisionTx(ctx, tx, module, branch, in)
		if err != nil {
			return err
		}
		rev.Commit = commit
		rev.Version = version
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rev, nil
}

// revisionInput carries the resolved content for one new revision.
type revisionInput struct {
	title       string
	description string
	content     json.RawMessage
	message     string
	actorID     int64
	prior       *models.Version // nil for the first write on the branch
}

// writeRevisionTx creates the commit and head version for one revision,
// demoting the prior head when there is one.
func writeRevisionTx(ctx context.Context, tx store.Tx, module *models.Module, branch *models.Branch, in revisionInput) (*models.Commit, *models.Version, error) {
	now := time.Now()
	contentHash := ContentHash(in.content)

	var parentID int64
	var parentHash string
	if in.prior != nil {
		parent, err := tx.GetCommit(ctx, in.prior.CommitID)
		if err != nil {
			return nil, nil, err
		}
		parentID = parent.ID
		parentHash = parent.Hash
	}

	commit := &models.Commit{
		Hash:        CommitHash(contentHash, in.message, in.actorID, now, parentHash),
		Message:     in.message,
		AuthorID:    in.actorID,
		CommitterID: in.actorID,
		ParentID:    parentID,
		CommittedAt: now,
	}
	if err := tx.CreateCommit(ctx, commit); err != nil {
		return nil, nil, err
	}

	if in.prior != nil {
		if err := tx.DemoteHead(ctx, module.ID, branch.ID); err != nil {
			return nil, nil, err
		}
	}

	version := &models.Version{
		ModuleID:    module.ID,
		BranchID:    branch.ID,
		CommitID:    commit.ID,
		Title:       in.title,
		Description: in.description,
		Content:     in.content,
		ContentHash: contentHash,
		IsHead:      true,
	}
	if err := tx.CreateVersion(ctx, version); err != nil {
		return nil, nil, err
	}
	return commit, version, nil
}

// GetModule resolves a module and either its current head on the branch or
// the version pinned to a specific commit hash.
func GetModule(ctx context.Context, st store.Store, ref ModuleRef, branchName, commitHash string) (*ModuleSnapshot, error) {
	if branchName == "" {
		branchName = models.DefaultBranchName
	}

	snap := &ModuleSnapshot{}
	err := st.View(ctx, func(tx store.Tx) error {
		module, err := getModuleTx(ctx, tx, ref)
		if err != nil {
			return err
		}
		snap.Module = module

		branch, err := getBranchTx(ctx, tx, module.Origin(), branchName)
		if err != nil {
			return err
		}
		snap.Branch = branch

		if commitHash != "" {
			commit, err := tx.GetCommitByHash(ctx, commitHash)
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("commit %s: %w", commitHash, ErrNotFound)
			}
			if err != nil {
				return err
			}
			version, err := tx.GetVersionAtCommit(ctx, module.ID, branch.ID, commit.ID)
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("commit %s never touched branch %q: %w", commit.ShortHash(), branchName, ErrNotFound)
			}
			snap.Version = version
			return err
		}

		version, err := tx.GetHeadVersion(ctx, module.ID, branch.ID)
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("module %q has no head on branch %q: %w", module.Slug, branchName, ErrNotFound)
		}
		snap.Version = version
		return err
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// SearchModules filters modules and resolves each match's current head on
// the given branch. Returns the page of listings and the total match count.
func SearchModules(ctx context.Context, st store.Store, filter SearchFilter, branchName string, page store.Page) ([]*ModuleListing, int, error) {
	if branchName == "" {
		branchName = models.DefaultBranchName
	}

	var listings []*ModuleListing
	var total int
	err := st.View(ctx, func(tx store.Tx) error {
		f := store.ModuleFilter{
			TitleContains: filter.TitleContains,
			Type:          filter.Type,
			Status:        filter.Status,
			CreatedBy:     filter.CreatedBy,
		}

		var err error
		total, err = tx.CountModules(ctx, f)
		if err != nil {
			return err
		}

		matches, err := tx.FindModules(ctx, f, page)
		if err != nil {
			return err
		}

		for _, module := range matches {
			listing := &ModuleListing{Module: module}

			branch, err := tx.GetBranchByName(ctx, module.Origin(), branchName)
			if err != nil && !errors.Is(err, store.ErrNotFound) {
				return err
			}
			if branch != nil {
				head, err := tx.GetHeadVersion(ctx, module.ID, branch.ID)
				if err != nil && !errors.Is(err, store.ErrNotFound) {
					return err
				}
				listing.Version = head
			}
			listings = append(listings, listing)
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return listings, total, nil
}

// DeleteModule removes a module and every version of it, transactionally.
func DeleteModule(ctx context.Context, st store.Store, slug string) (*models.Module, error) {
	var module *models.Module
	err := st.Update(ctx, func(tx store.Tx) error {
		var err error
		module, err = getModuleBySlugTx(ctx, tx, slug)
		if err != nil {
			return err
		}
		if _, err := tx.DeleteVersionsByModule(ctx, module.ID); err != nil {
			return err
		}
		return tx.DeleteModule(ctx, module.ID)
	})
	if err != nil {
		return nil, err
	}
	return module, nil
}

// ForkModuleArgs are the inputs for ForkModule.
type ForkModuleArgs struct {
	Slug    string // slug of the new module
	Title   string // optional; defaults to the source title
	Branch  string // branch to fork from, default "main"
	ActorID int64
}

// ForkModule creates a new module sharing the source's lineage. The new
// module's head on the branch points at the source's current commit; no new
// commit is created. From the fork point forward the chains are independent.
func ForkModule(ctx context.Context, st store.Store, sourceSlug string, args ForkModuleArgs) (*ModuleRevision, error) {
	if args.Slug == "" {
		return nil, fmt.Errorf("fork slug is required: %w", ErrInvalidArgument)
	}
	if args.Branch == "" {
		args.Branch = models.DefaultBranchName
	}

	rev := &ModuleRevision{}
	err := st.Update(ctx, func(tx store.Tx) error {
		source, err := getModuleBySlugTx(ctx, tx, sourceSlug)
		if err != nil {
			return err
		}

		if _, err := tx.GetModuleBySlug(ctx, args.Slug); err == nil {
			return fmt.Errorf("slug %q: %w", args.Slug, ErrDuplicateSlug)
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		branch, err := getBranchTx(ctx, tx, source.Origin(), args.Branch)
		if err != nil {
			return err
		}
		rev.Branch = branch

		head, err := tx.GetHeadVersion(ctx, source.ID, branch.ID)
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("module %q has no head on branch %q: %w", sourceSlug, args.Branch, ErrNotFound)
		}
		if err != nil {
			return err
		}

		title := args.Title
		if title == "" {
			title = source.Title
		}
		module := &models.Module{
			Slug:        args.Slug,
			Title:       title,
			Description: source.Description,
			Type:        source.Type,
			Status:      models.ModuleStatusDraft,
			OriginID:    source.Origin(),
			CreatedBy:   args.ActorID,
		}
		if err := tx.CreateModule(ctx, module); err != nil {
			return err
		}
		rev.Module = module

		version := &models.Version{
			ModuleID:    module.ID,
			BranchID:    branch.ID,
			CommitID:    head.CommitID,
			Title:       head.Title,
			Description: head.Description,
			Content:     head.Content,
			ContentHash: head.ContentHash,
			IsHead:      true,
		}
		if err := tx.CreateVersion(ctx, version); err != nil {
			return err
		}
		rev.Version = version

		rev.Commit, err = tx.GetCommit(ctx, head.CommitID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rev, nil
}

// HistoryEntry pairs a version with the commit that produced it.
type HistoryEntry struct {
	Version *models.Version `json:"version"`
	Commit  *models.Commit  `json:"commit"`
}

// ModuleHistory returns a module's versions on a branch, oldest first, each
// with its commit.
func ModuleHistory(ctx context.Context, st store.Store, slug, branchName string) ([]*HistoryEntry, error) {
	if branchName == "" {
		branchName = models.DefaultBranchName
	}

	var entries []*HistoryEntry
	err := st.View(ctx, func(tx store.Tx) error {
		module, err := getModuleBySlugTx(ctx, tx, slug)
		if err != nil {
			return err
		}
		branch, err := getBranchTx(ctx, tx, module.Origin(), branchName)
		if err != nil {
			return err
		}

		versions, err := tx.ListModuleVersions(ctx, module.ID, branch.ID)
		if err != nil {
			return err
		}
		for _, v := range versions {
			commit, err := tx.GetCommit(ctx, v.CommitID)
			if err != nil {
				return err
			}
			entries = append(entries, &HistoryEntry{Version: v, Commit: commit})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func getModuleBySlugTx(ctx context.Context, tx store.Tx, slug string) (*models.Module, error) {
	module, err := tx.GetModuleBySlug(ctx, slug)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("module %q: %w", slug, ErrNotFound)
	}
	return module, err
}

func getModuleTx(ctx context.Context, tx store.Tx, ref ModuleRef) (*models.Module, error) {
	if ref.Slug != "" {
		return getModuleBySlugTx(ctx, tx, ref.Slug)
	}
	module, err := tx.GetModule(ctx, ref.ID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("module %d: %w", ref.ID, ErrNotFound)
	}
	return module, err
}

// mergeContent overlays a partial content document on the prior one. The
// merge is shallow: top-level fields present in patch replace the prior
// field wholesale, absent fields are preserved.
func mergeContent(prior, patch json.RawMessage) (json.RawMessage, error) {
	if len(prior) == 0 {
		return patch, nil
	}
	if len(patch) == 0 {
		return prior, nil
	}

	var base map[string]json.RawMessage
	if err := json.Unmarshal(prior, &base); err != nil {
		// Prior content is not an object; replace it wholesale.
		return patch, nil
	}
	var overlay map[string]json.RawMessage
	if err := json.Unmarshal(patch, &overlay); err != nil {
		return nil, err
	}
	for k, v := range overlay {
		base[k] = v
	}
	return json.Marshal(base)
}
