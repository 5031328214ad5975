package vcs

import (
	"context"
	"errors"
	"fmt"

	"github.com/courseloom/amvc/internal/models"
	"github.com/courseloom/amvc/internal/store"
)

// CreateBranchResult describes a branch fork.
type CreateBranchResult struct {
	Branch         *models.Branch `json:"branch"`
	SourceBranch   *models.Branch `json:"source_branch"`
	CopiedVersions int            `json:"copied_versions"`
}

// GetOrCreateDefaultBranch returns the lineage's default branch, creating it
// as "main" when the lineage has none yet. Idempotent.
func GetOrCreateDefaultBranch(ctx context.Context, st store.Store, originID, actorID int64) (*models.Branch, error) {
	var branch *models.Branch
	err := st.Update(ctx, func(tx store.Tx) error {
		var err error
		branch, err = getOrCreateDefaultBranchTx(ctx, tx, originID, actorID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return branch, nil
}

func getOrCreateDefaultBranchTx(ctx context.Context, tx store.Tx, originID, actorID int64) (*models.Branch, error) {
	branch, err := tx.GetDefaultBranch(ctx, originID)
	if err == nil {
		return branch, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	branch = &models.Branch{
		OriginID:  originID,
		Name:      models.DefaultBranchName,
		IsDefault: true,
		CreatedBy: actorID,
	}
	if err := tx.CreateBranch(ctx, branch); err != nil {
		return nil, err
	}
	return branch, nil
}

// GetBranchByName resolves a branch inside a lineage.
func GetBranchByName(ctx context.Context, st store.Store, originID int64, name string) (*models.Branch, error) {
	var branch *models.Branch
	err := st.View(ctx, func(tx store.Tx) error {
		var err error
		branch, err = getBranchTx(ctx, tx, originID, name)
		return err
	})
	if err != nil {
		return nil, err
	}
	return branch, nil
}

func getBranchTx(ctx context.Context, tx store.Tx, originID int64, name string) (*models.Branch, error) {
	branch, err := tx.GetBranchByName(ctx, originID, name)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("branch %q: %w", name, ErrNotFound)
	}
	return branch, err
}

// ListBranches returns every branch of a lineage.
func ListBranches(ctx context.Context, st store.Store, originID int64) ([]*models.Branch, error) {
	var branches []*models.Branch
	err := st.View(ctx, func(tx store.Tx) error {
		var err error
		branches, err = tx.ListBranches(ctx, originID)
		return err
	})
	return branches, err
}

// CreateBranch forks a new branch off an existing one. Every current-head
// version of the source branch is copied into the new branch pointing at the
// same commit; no new commit is created. The whole fork is one transaction.
func CreateBranch(ctx context.Context, st store.Store, originID int64, name, from string, actorID int64, description string) (*CreateBranchResult, error) {
	if name == "" {
		return nil, fmt.Errorf("branch name is required: %w", ErrInvalidArgument)
	}
	if from == "" {
		from = models.DefaultBranchName
	}

	result := &CreateBranchResult{}
	err := st.Update(ctx, func(tx store.Tx) error {
		if _, err := tx.GetBranchByName(ctx, originID, name); err == nil {
			return fmt.Errorf("branch %q: %w", name, ErrDuplicateBranch)
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		source, err := getBranchTx(ctx, tx, originID, from)
		if err != nil {
			return err
		}
		result.SourceBranch = source

		branch := &models.Branch{
			OriginID:    originID,
			Name:        name,
			Description: description,
			CreatedBy:   actorID,
		}
		if err := tx.CreateBranch(ctx, branch); err != nil {
			return err
		}
		result.Branch = branch

		heads, err := tx.ListHeadVersions(ctx, source.ID)
		if err != nil {
			return err
		}
		for _, head := range heads {
			copied := &models.Version{
				ModuleID:    head.ModuleID,
				BranchID:    branch.ID,
				CommitID:    head.CommitID,
				Title:       head.Title,
				Description: head.Description,
				Content:     head.Content,
				ContentHash: head.ContentHash,
				IsHead:      true,
			}
			if err := tx.CreateVersion(ctx, copied); err != nil {
				return err
			}
			result.CopiedVersions++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// DeleteBranch removes a non-default branch and all versions scoped to it.
func DeleteBranch(ctx context.Context, st store.Store, originID int64, name string) (*models.Branch, error) {
	var branch *models.Branch
	err := st.Update(ctx, func(tx store.Tx) error {
		var err error
		branch, err = getBranchTx(ctx, tx, originID, name)
		if err != nil {
			return err
		}
		if branch.IsDefault {
			return fmt.Errorf("cannot delete the default branch %q: %w", name, ErrInvalidOperation)
		}

		if _, err := tx.DeleteVersionsByBranch(ctx, branch.ID); err != nil {
			return err
		}
		return tx.DeleteBranch(ctx, branch.ID)
	})
	if err != nil {
		return nil, err
	}
	return branch, nil
}
