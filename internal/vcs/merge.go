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

// mergeSide names one end of a merge: a module's head on a branch.
type mergeSide struct {
	module *models.Module
	branch *models.Branch
}

// MergeBranches applies the merge engine to every module with a current head
// on the source branch of a lineage, merging each into the same module on
// the target branch. The whole loop is one transaction: a failure on any
// module rolls back every commit and version created so far.
func MergeBranches(ctx context.Context, st store.Store, originID int64, from, to string, actorID int64) (*models.MergeResult, error) {
	if from == to {
		return nil, fmt.Errorf("cannot merge branch %q into itself: %w", from, ErrInvalidArgument)
	}

	result := &models.MergeResult{}
	err := st.Update(ctx, func(tx store.Tx) error {
		source, err := getBranchTx(ctx, tx, originID, from)
		if err != nil {
			return err
		}
		target, err := getBranchTx(ctx, tx, originID, to)
		if err != nil {
			return err
		}

		heads, err := tx.ListHeadVersions(ctx, source.ID)
		if err != nil {
			return err
		}
		for _, head := range heads {
			module, err := tx.GetModule(ctx, head.ModuleID)
			if err != nil {
				return err
			}
			entry, err := mergeHeadTx(ctx, tx,
				mergeSide{module: module, branch: source},
				mergeSide{module: module, branch: target},
				actorID, nil)
			if err != nil {
				return err
			}
			result.Add(entry)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// mergeHeadTx merges one source head into one target head inside the
// caller's transaction, choosing between copy, no-op, fast-forward replay
// and a true merge commit:
//
//   - target absent: copy the source head as a new commit on the target;
//   - identical content hash: nothing to merge;
//   - target head is an ancestor of the source head: replay the
//     source-exclusive chain onto the target;
//   - source head is an ancestor of the target head, or older than an
//     unrelated target head: skip, the target is ahead;
//   - genuine divergence: merge commit with the target's commit as primary
//     parent and the source's recorded as an extra CommitParent; the new
//     head carries resolved when non-nil, otherwise the source content.
//
// A non-nil resolved overrides the older-source skip: the caller has already
// reconciled both sides, so the resolved content wins even when the source
// head is the older of the two.
func mergeHeadTx(ctx context.Context, tx store.Tx, src, dst mergeSide, actorID int64, resolved json.RawMessage) (*models.MergeResult, error) {
	result := &models.MergeResult{}

	srcHead, err := tx.GetHeadVersion(ctx, src.module.ID, src.branch.ID)
	if errors.Is(err, store.ErrNotFound) {
		result.Skipped++
		return result, nil
	}
	if err != nil {
		return nil, err
	}

	dstHead, err := tx.GetHeadVersion(ctx, dst.module.ID, dst.branch.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	if dstHead == nil {
		if err := copyHeadTx(ctx, tx, src, dst, srcHead, actorID); err != nil {
			return nil, err
		}
		result.Copied++
		result.CommitsCreated++
		result.VersionsCreated++
		return result, nil
	}

	if dstHead.ContentHash == srcHead.ContentHash {
		result.Skipped++
		return result, nil
	}

	srcAncestors, err := tx.GetAncestors(ctx, srcHead.CommitID)
	if err != nil {
		return nil, err
	}
	if srcAncestors[dstHead.CommitID] {
		n, err := replayChainTx(ctx, tx, src, dst, srcHead, dstHead, actorID)
		if err != nil {
			return nil, err
		}
		result.FastForwarded++
		result.CommitsCreated += n
		result.VersionsCreated += n
		return result, nil
	}

	dstAncestors, err := tx.GetAncestors(ctx, dstHead.CommitID)
	if err != nil {
		return nil, err
	}
	if dstAncestors[srcHead.CommitID] {
		// Target already contains the source's state.
		result.Skipped++
		return result, nil
	}

	srcCommit, err := tx.GetCommit(ctx, srcHead.CommitID)
	if err != nil {
		return nil, err
	}
	dstCommit, err := tx.GetCommit(ctx, dstHead.CommitID)
	if err != nil {
		return nil, err
	}

	if resolved == nil && srcCommit.CommittedAt.Before(dstCommit.CommittedAt) {
		// The target holds newer work than the source; don't clobber it.
		// An explicit resolution already accounts for both sides and is
		// applied regardless of which head is newer.
		result.Skipped++
		return result, nil
	}

	if err := mergeCommitTx(ctx, tx, src, dst, srcHead, dstHead, srcCommit, dstCommit, actorID, resolved); err != nil {
		return nil, err
	}
	result.Merged++
	result.CommitsCreated++
	result.VersionsCreated++
	return result, nil
}

// copyHeadTx adopts a source head on a target that has no history for the
// module yet: one commit parented on the source commit, one head version.
func copyHeadTx(ctx context.Context, tx store.Tx, src, dst mergeSide, srcHead *models.Version, actorID int64) error {
	srcCommit, err := tx.GetCommit(ctx, srcHead.CommitID)
	if err != nil {
		return err
	}

	now := time.Now()
	message := fmt.Sprintf("Copy from %s", src.module.Slug)
	commit := &models.Commit{
		Hash:        CommitHash(srcHead.ContentHash, message, actorID, now, srcCommit.Hash),
		Message:     message,
		AuthorID:    actorID,
		CommitterID: actorID,
		ParentID:    srcCommit.ID,
		CommittedAt: now,
	}
	if err := tx.CreateCommit(ctx, commit); err != nil {
		return err
	}

	return tx.CreateVersion(ctx, &models.Version{
		ModuleID:    dst.module.ID,
		BranchID:    dst.branch.ID,
		CommitID:    commit.ID,
		Title:       srcHead.Title,
		Description: srcHead.Description,
		Content:     srcHead.Content,
		ContentHash: srcHead.ContentHash,
		IsHead:      true,
	})
}

// replayChainTx fast-forwards the target by replaying every source-exclusive
// version between the target's head commit and the source's head commit,
// oldest first, as fresh copy commits. Only the last replayed version stays
// head. Returns the number of versions created.
func replayChainTx(ctx context.Context, tx store.Tx, src, dst mergeSide, srcHead, dstHead *models.Version, actorID int64) (int, error) {
	// Walk the primary-parent chain from the source head down to the target
	// head's commit.
	var chain []*models.Commit
	cur, err := tx.GetCommit(ctx, srcHead.CommitID)
	if err != nil {
		return 0, err
	}
	for cur.ID != dstHead.CommitID {
		chain = append(chain, cur)
		if cur.ParentID == 0 {
			// Reachable only through a merge parent; adopt the head alone.
			chain = chain[:0]
			top, err := tx.GetCommit(ctx, srcHead.CommitID)
			if err != nil {
				return 0, err
			}
			chain = append(chain, top)
			break
		}
		cur, err = tx.GetCommit(ctx, cur.ParentID)
		if err != nil {
			return 0, err
		}
	}

	if err := tx.DemoteHead(ctx, dst.module.ID, dst.branch.ID); err != nil {
		return 0, err
	}

	prevID := dstHead.CommitID
	prevHash := ""
	if parent, err := tx.GetCommit(ctx, dstHead.CommitID); err == nil {
		prevHash = parent.Hash
	} else {
		return 0, err
	}

	message := fmt.Sprintf("Copy from %s", src.module.Slug)
	created := 0
	for i := len(chain) - 1; i >= 0; i-- {
		source, err := tx.GetVersionAtCommit(ctx, src.module.ID, src.branch.ID, chain[i].ID)
		if errors.Is(err, store.ErrNotFound) {
			// Commit on the chain that never touched the source module
			// (possible when the branch carries several modules).
			continue
		}
		if err != nil {
			return 0, err
		}

		now := time.Now()
		commit := &models.Commit{
			Hash:        CommitHash(source.ContentHash, message, actorID, now, prevHash),
			Message:     message,
			AuthorID:    actorID,
			CommitterID: actorID,
			ParentID:    prevID,
			CommittedAt: now,
		}
		if err := tx.CreateCommit(ctx, commit); err != nil {
			return 0, err
		}

		if err := tx.CreateVersion(ctx, &models.Version{
			ModuleID:    dst.module.ID,
			BranchID:    dst.branch.ID,
			CommitID:    commit.ID,
			Title:       source.Title,
			Description: source.Description,
			Content:     source.Content,
			ContentHash: source.ContentHash,
			IsHead:      i == 0,
		}); err != nil {
			return 0, err
		}

		prevID = commit.ID
		prevHash = commit.Hash
		created++
	}
	return created, nil
}

// mergeCommitTx records a true three-way merge: a commit with the target's
// head as primary parent and the source's head as an extra parent, and a new
// target head carrying the merge result content.
func mergeCommitTx(ctx context.Context, tx store.Tx, src, dst mergeSide, srcHead, dstHead *models.Version, srcCommit, dstCommit *models.Commit, actorID int64, resolved json.RawMessage) error {
	content := srcHead.Content
	contentHash := srcHead.ContentHash
	if resolved != nil {
		content = resolved
		contentHash = ContentHash(resolved)
	}

	now := time.Now()
	message := fmt.Sprintf("Merge %s into %s", src.module.Slug, dst.module.Slug)
	commit := &models.Commit{
		Hash:        MergeCommitHash(contentHash, message, actorID, now, dstCommit.Hash, srcCommit.Hash),
		Message:     message,
		AuthorID:    actorID,
		CommitterID: actorID,
		ParentID:    dstCommit.ID,
		IsMerge:     true,
		CommittedAt: now,
	}
	if err := tx.CreateCommit(ctx, commit); err != nil {
		return err
	}

	if err := tx.AddCommitParent(ctx, &models.CommitParent{
		CommitID:    commit.ID,
		ParentID:    srcCommit.ID,
		ParentOrder: 1,
	}); err != nil {
		return err
	}

	if err := tx.DemoteHead(ctx, dst.module.ID, dst.branch.ID); err != nil {
		return err
	}

	return tx.CreateVersion(ctx, &models.Version{
		ModuleID:    dst.module.ID,
		BranchID:    dst.branch.ID,
		CommitID:    commit.ID,
		Title:       srcHead.Title,
		Description: srcHead.Description,
		Content:     content,
		ContentHash: contentHash,
		IsHead:      true,
	})
}

// needsResolutionTx reports whether merging src into dst is a genuine
// three-way case: both heads exist, contents differ, and neither head is an
// ancestor of the other (with the source at least as new as the target).
func needsResolutionTx(ctx context.Context, tx store.Tx, src, dst mergeSide) (bool, error) {
	srcHead, err := tx.GetHeadVersion(ctx, src.module.ID, src.branch.ID)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	dstHead, err := tx.GetHeadVersion(ctx, dst.module.ID, dst.branch.ID)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if srcHead.ContentHash == dstHead.ContentHash {
		return false, nil
	}

	srcAncestors, err := tx.GetAncestors(ctx, srcHead.CommitID)
	if err != nil {
		return false, err
	}
	if srcAncestors[dstHead.CommitID] {
		return false, nil
	}
	dstAncestors, err := tx.GetAncestors(ctx, dstHead.CommitID)
	if err != nil {
		return false, err
	}
	if dstAncestors[srcHead.CommitID] {
		return false, nil
	}

	srcCommit, err := tx.GetCommit(ctx, srcHead.CommitID)
	if err != nil {
		return false, err
	}
	dstCommit, err := tx.GetCommit(ctx, dstHead.CommitID)
	if err != nil {
		return false, err
	}
	// An older source never clobbers a newer target, so no resolution is
	// needed for it either.
	return !srcCommit.CommittedAt.Before(dstCommit.CommittedAt), nil
}
