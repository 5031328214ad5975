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

// CreateMergeRequestArgs are the inputs for CreateMergeRequest.
type CreateMergeRequestArgs struct {
	Title        string
	Description  string
	FromModuleID int64
	ToModuleID   int64
	ActorID      int64
}

// AcceptResult pairs the merged request with what the merge engine did.
type AcceptResult struct {
	Request *models.MergeRequest `json:"request"`
	Merge   *models.MergeResult  `json:"merge"`
}

// CreateMergeRequest opens a merge proposal from one module into another.
// The modules must differ, share a lineage, and have no other open request
// for the same (from, to) pair.
func CreateMergeRequest(ctx context.Context, st store.Store, args CreateMergeRequestArgs) (*models.MergeRequest, error) {
	if args.Title == "" {
		return nil, fmt.Errorf("title is required: %w", ErrInvalidArgument)
	}
	if args.FromModuleID == args.ToModuleID {
		return nil, fmt.Errorf("cannot merge a module into itself: %w", ErrInvalidArgument)
	}

	mr := &models.MergeRequest{
		FromModuleID:  args.FromModuleID,
		ToModuleID:    args.ToModuleID,
		Title:         args.Title,
		Description:   args.Description,
		Status:        models.MergeRequestOpen,
		AllowComments: true,
		CreatedBy:     args.ActorID,
	}
	err := st.Update(ctx, func(tx store.Tx) error {
		from, err := getModuleTx(ctx, tx, ModuleRef{ID: args.FromModuleID})
		if err != nil {
			return err
		}
		to, err := getModuleTx(ctx, tx, ModuleRef{ID: args.ToModuleID})
		if err != nil {
			return err
		}
		if !from.SameLineage(to) {
			return fmt.Errorf("modules %q and %q have unrelated origins: %w", from.Slug, to.Slug, ErrInvalidArgument)
		}

		open, err := tx.FindMergeRequests(ctx, store.MergeRequestFilter{
			FromModuleID: args.FromModuleID,
			ToModuleID:   args.ToModuleID,
			Status:       models.MergeRequestOpen,
		}, store.Page{Limit: 1})
		if err != nil {
			return err
		}
		if len(open) > 0 {
			return fmt.Errorf("merge request #%d is already open for this pair: %w", open[0].ID, ErrDuplicateRequest)
		}

		return tx.CreateMergeRequest(ctx, mr)
	})
	if err != nil {
		return nil, err
	}
	return mr, nil
}

// CommentMergeRequest appends a comment. Commenting is refused once
// allow_comments has been cleared, regardless of the request's state.
func CommentMergeRequest(ctx context.Context, st store.Store, id int64, body string, actorID int64) (*models.MergeRequestComment, error) {
	if body == "" {
		return nil, fmt.Errorf("comment body is required: %w", ErrInvalidArgument)
	}

	comment := &models.MergeRequestComment{
		MergeRequestID: id,
		Body:           body,
		CreatedBy:      actorID,
	}
	err := st.Update(ctx, func(tx store.Tx) error {
		mr, err := getMergeRequestTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if !mr.AllowComments {
			return fmt.Errorf("merge request #%d: %w", id, ErrCommentsDisabled)
		}
		return tx.CreateComment(ctx, comment)
	})
	if err != nil {
		return nil, err
	}
	return comment, nil
}

// AcceptMergeRequest runs the merge engine for an open request and
// transitions it to merged. When the module pair has genuinely diverged the
// caller must supply the reconciled content; the engine does not guess.
// The merge and the status change commit atomically.
func AcceptMergeRequest(ctx context.Context, st store.Store, id, actorID int64, reason string, resolved json.RawMessage) (*AcceptResult, error) {
	result := &AcceptResult{}
	err := st.Update(ctx, func(tx store.Tx) error {
		mr, err := getMergeRequestTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if mr.Status != models.MergeRequestOpen {
			return fmt.Errorf("merge request #%d is %s: %w", id, mr.Status, ErrInvalidOperation)
		}

		from, err := getModuleTx(ctx, tx, ModuleRef{ID: mr.FromModuleID})
		if err != nil {
			return err
		}
		to, err := getModuleTx(ctx, tx, ModuleRef{ID: mr.ToModuleID})
		if err != nil {
			return err
		}

		branch, err := tx.GetDefaultBranch(ctx, to.Origin())
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("lineage of module %q has no default branch: %w", to.Slug, ErrNotFound)
		}
		if err != nil {
			return err
		}

		src := mergeSide{module: from, branch: branch}
		dst := mergeSide{module: to, branch: branch}

		if resolved == nil {
			needs, err := needsResolutionTx(ctx, tx, src, dst)
			if err != nil {
				return err
			}
			if needs {
				return fmt.Errorf("modules %q and %q diverged: %w", from.Slug, to.Slug, ErrConflictResolutionRequired)
			}
		}

		result.Merge, err = mergeHeadTx(ctx, tx, src, dst, actorID, resolved)
		if err != nil {
			return err
		}

		now := time.Now()
		mr.Status = models.MergeRequestMerged
		mr.MergedBy = actorID
		mr.MergedAt = &now
		if reason != "" {
			mr.Reason = reason
		}
		if err := tx.UpdateMergeRequest(ctx, mr); err != nil {
			return err
		}
		result.Request = mr
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// RejectMergeRequest transitions an open request to rejected.
func RejectMergeRequest(ctx context.Context, st store.Store, id, actorID int64, reason string, stopComments bool) (*models.MergeRequest, error) {
	return transitionMergeRequest(ctx, st, id, models.MergeRequestRejected, actorID, reason, stopComments)
}

// CloseMergeRequest transitions an open request to closed: abandoning it
// without judging it right or wrong.
func CloseMergeRequest(ctx context.Context, st store.Store, id, actorID int64, reason string, stopComments bool) (*models.MergeRequest, error) {
	return transitionMergeRequest(ctx, st, id, models.MergeRequestClosed, actorID, reason, stopComments)
}

func transitionMergeRequest(ctx context.Context, st store.Store, id int64, to models.MergeRequestStatus, actorID int64, reason string, stopComments bool) (*models.MergeRequest, error) {
	var mr *models.MergeRequest
	err := st.Update(ctx, func(tx store.Tx) error {
		var err error
		mr, err = getMergeRequestTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if mr.Status != models.MergeRequestOpen {
			return fmt.Errorf("merge request #%d is %s: %w", id, mr.Status, ErrInvalidOperation)
		}

		now := time.Now()
		mr.Status = to
		mr.Reason = reason
		switch to {
		case models.MergeRequestRejected:
			mr.RejectedBy = actorID
			mr.RejectedAt = &now
		case models.MergeRequestClosed:
			mr.ClosedBy = actorID
			mr.ClosedAt = &now
		}
		if stopComments {
			mr.AllowComments = false
		}
		return tx.UpdateMergeRequest(ctx, mr)
	})
	if err != nil {
		return nil, err
	}
	return mr, nil
}

// GetMergeRequest loads one request.
func GetMergeRequest(ctx context.Context, st store.Store, id int64) (*models.MergeRequest, error) {
	var mr *models.MergeRequest
	err := st.View(ctx, func(tx store.Tx) error {
		var err error
		mr, err = getMergeRequestTx(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return mr, nil
}

// ListMergeRequestsByModule returns every request where the module is either
// endpoint, optionally filtered by status.
func ListMergeRequestsByModule(ctx context.Context, st store.Store, moduleID int64, status models.MergeRequestStatus, page store.Page) ([]*models.MergeRequest, error) {
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("unknown status %q: %w", status, ErrInvalidArgument)
	}

	var requests []*models.MergeRequest
	err := st.View(ctx, func(tx store.Tx) error {
		var err error
		requests, err = tx.FindMergeRequests(ctx, store.MergeRequestFilter{
			ModuleID: moduleID,
			Status:   status,
		}, page)
		return err
	})
	return requests, err
}

// ListMergeRequestComments returns a request's comments, oldest first.
func ListMergeRequestComments(ctx context.Context, st store.Store, id int64) ([]*models.MergeRequestComment, error) {
	var comments []*models.MergeRequestComment
	err := st.View(ctx, func(tx store.Tx) error {
		if _, err := getMergeRequestTx(ctx, tx, id); err != nil {
			return err
		}
		var err error
		comments, err = tx.ListComments(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return comments, nil
}

// DeleteMergeRequest hard-deletes a request and its comments.
func DeleteMergeRequest(ctx context.Context, st store.Store, id, actorID int64) (*models.MergeRequest, error) {
	var mr *models.MergeRequest
	err := st.Update(ctx, func(tx store.Tx) error {
		var err error
		mr, err = getMergeRequestTx(ctx, tx, id)
		if err != nil {
			return err
		}
		return tx.DeleteMergeRequest(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	return mr, nil
}

func getMergeRequestTx(ctx context.Context, tx store.Tx, id int64) (*models.MergeRequest, error) {
	mr, err := tx.GetMergeRequest(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("merge request #%d: %w", id, ErrNotFound)
	}
	return mr, err
}
