package vcs

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/courseloom/amvc/internal/models"
	"github.com/courseloom/amvc/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupForkPair creates a module and a fork of it, returning both revisions.
func setupForkPair(t *testing.T, st store.Store) (*ModuleRevision, *ModuleRevision) {
	t.Helper()

	source := mustCreateModule(t, st, "lesson-1")
	fork, err := ForkModule(context.Background(), st, "lesson-1", ForkModuleArgs{
		Slug:    "lesson-1-fork",
		ActorID: 2,
	})
	require.NoError(t, err)
	return source, fork
}

func mustOpenMergeRequest(t *testing.T, st store.Store, from, to int64) *models.MergeRequest {
	t.Helper()

	mr, err := CreateMergeRequest(context.Background(), st, CreateMergeRequestArgs{
		Title:        "Fold fork back",
		FromModuleID: from,
		ToModuleID:   to,
		ActorID:      2,
	})
	require.NoError(t, err)
	return mr
}

func TestCreateMergeRequest_Open(t *testing.T) {
	st, cleanup := setupTestStore(t)
	defer cleanup()

	source, fork := setupForkPair(t, st)
	mr := mustOpenMergeRequest(t, st, fork.Module.ID, source.Module.ID)

	assert.Equal(t, models.MergeRequestOpen, mr.Status)
	assert.True(t, mr.AllowComments)
	assert.Equal(t, int64(2), mr.CreatedBy)
	assert.Nil(t, mr.MergedAt)
}

func TestCreateMergeRequest_SelfMergeRefused(t *testing.T) {
	st, cleanup := setupTestStore(t)
	defer cleanup()

	source, _ := setupForkPair(t, st)

	_, err := CreateMergeRequest(context.Background(), st, CreateMergeRequestArgs{
		Title:        "self",
		FromModuleID: source.Module.ID,
		ToModuleID:   source.Module.ID,
		ActorID:      1,
	})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestCreateMergeRequest_UnrelatedLineagesRefused(t *testing.T) {
	st, cleanup := setupTestStore(t)
	defer cleanup()

	a := mustCreateModule(t, st, "lesson-1")
	b := mustCreateModule(t, st, "lesson-2")

	_, err := CreateMergeRequest(context.Background(), st, CreateMergeRequestArgs{
		Title:        "unrelated",
		FromModuleID: a.Module.ID,
		ToModuleID:   b.Module.ID,
		ActorID:      1,
	})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestCreateMergeRequest_DuplicateOpenPairRefused(t *testing.T) {
	st, cleanup := setupTestStore(t)
	defer cleanup()

	source, fork := setupForkPair(t, st)
	mustOpenMergeRequest(t, st, fork.Module.ID, source.Module.ID)

	_, err := CreateMergeRequest(context.Background(), st, CreateMergeRequestArgs{
		Title:        "again",
		FromModuleID: fork.Module.ID,
		ToModuleID:   source.Module.ID,
		ActorID:      2,
	})
	assert.ErrorIs(t, err, ErrDuplicateRequest)
}

func TestCreateMergeRequest_ReopenAfterClose(t *testing.T) {
	st, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	source, fork := setupForkPair(t, st)
	mr := mustOpenMergeRequest(t, st, fork.Module.ID, source.Module.ID)

	_, err := CloseMergeRequest(ctx, st, mr.ID, 1, "later", false)
	require.NoError(t, err)

	// Only open requests block the pair.
	mustOpenMergeRequest(t, st, fork.Module.ID, source.Module.ID)
}

func TestCommentMergeRequest(t *testing.T) {
	st, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	source, fork := setupForkPair(t, st)
	mr := mustOpenMergeRequest(t, st, fork.Module.ID, source.Module.ID)

	first, err := CommentMergeRequest(ctx, st, mr.ID, "looks good", 3)
	require.NoError(t, err)
	assert.Equal(t, int64(3), first.CreatedBy)

	_, err = CommentMergeRequest(ctx, st, mr.ID, "one more thing", 1)
	require.NoError(t, err)

	comments, err := ListMergeRequestComments(ctx, st, mr.ID)
	require.NoError(t, err)
	require.Len(t, comments, 2)
	assert.Equal(t, "looks good", comments[0].Body)
}

func TestCommentMergeRequest_DisabledAfterReject(t *testing.T) {
	st, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	source, fork := setupForkPair(t, st)
	mr := mustOpenMergeRequest(t, st, fork.Module.ID, source.Module.ID)

	rejected, err := RejectMergeRequest(ctx, st, mr.ID, 1, "not ready", true)
	require.NoError(t, err)
	assert.False(t, rejected.AllowComments)

	_, err = CommentMergeRequest(ctx, st, mr.ID, "but why", 2)
	assert.ErrorIs(t, err, ErrCommentsDisabled)
}

func TestCommentMergeRequest_StillAllowedAfterPlainClose(t *testing.T) {
	st, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	source, fork := setupForkPair(t, st)
	mr := mustOpenMergeRequest(t, st, fork.Module.ID, source.Module.ID)

	_, err := CloseMergeRequest(ctx, st, mr.ID, 1, "", false)
	require.NoError(t, err)

	// Closing without stopping comments keeps the discussion open.
	_, err = CommentMergeRequest(ctx, st, mr.ID, "post-mortem", 2)
	require.NoError(t, err)
}

func TestAcceptMergeRequest_FastForward(t *testing.T) {
	st, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	source, fork := setupForkPair(t, st)
	forkEdit := mustUpdateModule(t, st, "lesson-1-fork", "", `{"body":"improved"}`)
	mr := mustOpenMergeRequest(t, st, fork.Module.ID, source.Module.ID)

	result, err := AcceptMergeRequest(ctx, st, mr.ID, 1, "ship it", nil)
	require.NoError(t, err)

	assert.Equal(t, models.MergeRequestMerged, result.Request.Status)
	assert.Equal(t, int64(1), result.Request.MergedBy)
	require.NotNil(t, result.Request.MergedAt)
	assert.Equal(t, "ship it", result.Request.Reason)
	assert.Equal(t, 1, result.Merge.FastForwarded)

	snap, err := GetModule(ctx, st, ModuleRef{Slug: "lesson-1"}, "", "")
	require.NoError(t, err)
	assert.Equal(t, forkEdit.Version.ContentHash, snap.Version.ContentHash)
}

func TestAcceptMergeRequest_NotOpen(t *testing.T) {
	st, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	source, fork := setupForkPair(t, st)
	mr := mustOpenMergeRequest(t, st, fork.Module.ID, source.Module.ID)

	_, err := RejectMergeRequest(ctx, st, mr.ID, 1, "", false)
	require.NoError(t, err)

	_, err = AcceptMergeRequest(ctx, st, mr.ID, 1, "", nil)
	assert.ErrorIs(t, err, ErrInvalidOperation)
}

func TestAcceptMergeRequest_DivergedNeedsResolution(t *testing.T) {
	st, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	source, fork := setupForkPair(t, st)

	mustUpdateModule(t, st, "lesson-1", "", `{"body":"target edit"}`)
	time.Sleep(2 * time.Millisecond)
	mustUpdateModule(t, st, "lesson-1-fork", "", `{"body":"source edit"}`)

	mr := mustOpenMergeRequest(t, st, fork.Module.ID, source.Module.ID)

	_, err := AcceptMergeRequest(ctx, st, mr.ID, 1, "", nil)
	assert.ErrorIs(t, err, ErrConflictResolutionRequired)

	// The failed accept rolled back; the request is still open.
	reloaded, err := GetMergeRequest(ctx, st, mr.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MergeRequestOpen, reloaded.Status)
}

func TestAcceptMergeRequest_DivergedWithResolvedContent(t *testing.T) {
	st, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	source, fork := setupForkPair(t, st)

	mustUpdateModule(t, st, "lesson-1", "", `{"body":"target edit"}`)
	time.Sleep(2 * time.Millisecond)
	mustUpdateModule(t, st, "lesson-1-fork", "", `{"body":"source edit"}`)

	mr := mustOpenMergeRequest(t, st, fork.Module.ID, source.Module.ID)

	resolved := json.RawMessage(`{"body":"reconciled"}`)
	result, err := AcceptMergeRequest(ctx, st, mr.ID, 1, "took both", resolved)
	require.NoError(t, err)
	assert.Equal(t, models.MergeRequestMerged, result.Request.Status)
	assert.Equal(t, 1, result.Merge.Merged)

	snap, err := GetModule(ctx, st, ModuleRef{Slug: "lesson-1"}, "", "")
	require.NoError(t, err)
	assert.JSONEq(t, string(resolved), string(snap.Version.Content))

	err = st.View(ctx, func(tx store.Tx) error {
		commit, err := tx.GetCommit(ctx, snap.Version.CommitID)
		require.NoError(t, err)
		assert.True(t, commit.IsMerge)
		return nil
	})
	require.NoError(t, err)
}

func TestAcceptMergeRequest_ResolutionOverridesOlderSource(t *testing.T) {
	st, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	source, fork := setupForkPair(t, st)

	// The source head is the older of the two diverged heads. An unresolved
	// merge would skip it, but an explicit resolution applies anyway.
	mustUpdateModule(t, st, "lesson-1-fork", "", `{"body":"source edit"}`)
	time.Sleep(2 * time.Millisecond)
	mustUpdateModule(t, st, "lesson-1", "", `{"body":"target edit"}`)

	mr := mustOpenMergeRequest(t, st, fork.Module.ID, source.Module.ID)

	resolved := json.RawMessage(`{"body":"reconciled"}`)
	result, err := AcceptMergeRequest(ctx, st, mr.ID, 1, "took both", resolved)
	require.NoError(t, err)
	assert.Equal(t, models.MergeRequestMerged, result.Request.Status)
	assert.Equal(t, 1, result.Merge.Merged)

	snap, err := GetModule(ctx, st, ModuleRef{Slug: "lesson-1"}, "", "")
	require.NoError(t, err)
	assert.JSONEq(t, string(resolved), string(snap.Version.Content))
}

func TestRejectMergeRequest_TerminalStamps(t *testing.T) {
	st, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	source, fork := setupForkPair(t, st)
	mr := mustOpenMergeRequest(t, st, fork.Module.ID, source.Module.ID)

	rejected, err := RejectMergeRequest(ctx, st, mr.ID, 4, "quality bar", false)
	require.NoError(t, err)

	assert.Equal(t, models.MergeRequestRejected, rejected.Status)
	assert.Equal(t, int64(4), rejected.RejectedBy)
	require.NotNil(t, rejected.RejectedAt)
	assert.Equal(t, "quality bar", rejected.Reason)
	assert.True(t, rejected.Status.Terminal())
}

func TestMergeRequest_TerminalStatesAreImmutable(t *testing.T) {
	st, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	source, fork := setupForkPair(t, st)
	mr := mustOpenMergeRequest(t, st, fork.Module.ID, source.Module.ID)

	_, err := CloseMergeRequest(ctx, st, mr.ID, 1, "", false)
	require.NoError(t, err)

	_, err = RejectMergeRequest(ctx, st, mr.ID, 1, "", false)
	assert.ErrorIs(t, err, ErrInvalidOperation)

	_, err = CloseMergeRequest(ctx, st, mr.ID, 1, "", false)
	assert.ErrorIs(t, err, ErrInvalidOperation)
}

func TestListMergeRequestsByModule(t *testing.T) {
	st, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	source, fork := setupForkPair(t, st)
	mr := mustOpenMergeRequest(t, st, fork.Module.ID, source.Module.ID)
	_, err := CloseMergeRequest(ctx, st, mr.ID, 1, "", false)
	require.NoError(t, err)
	mustOpenMergeRequest(t, st, fork.Module.ID, source.Module.ID)

	// The module matches as either endpoint.
	all, err := ListMergeRequestsByModule(ctx, st, source.Module.ID, "", store.Page{Limit: 10})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	open, err := ListMergeRequestsByModule(ctx, st, fork.Module.ID, models.MergeRequestOpen, store.Page{Limit: 10})
	require.NoError(t, err)
	assert.Len(t, open, 1)

	_, err = ListMergeRequestsByModule(ctx, st, source.Module.ID, "bogus", store.Page{Limit: 10})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestDeleteMergeRequest(t *testing.T) {
	st, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	source, fork := setupForkPair(t, st)
	mr := mustOpenMergeRequest(t, st, fork.Module.ID, source.Module.ID)
	_, err := CommentMergeRequest(ctx, st, mr.ID, "gone soon", 1)
	require.NoError(t, err)

	_, err = DeleteMergeRequest(ctx, st, mr.ID, 1)
	require.NoError(t, err)

	_, err = GetMergeRequest(ctx, st, mr.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = ListMergeRequestComments(ctx, st, mr.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}
