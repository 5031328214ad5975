package vcs

import (
	"context"
	"testing"

	"github.com/courseloom/amvc/internal/models"
	"github.com/courseloom/amvc/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetOrCreateDefaultBranch_Idempotent(t *testing.T) {
	st, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	rev := mustCreateModule(t, st, "lesson-1")

	first, err := GetOrCreateDefaultBranch(ctx, st, rev.Module.Origin(), 1)
	require.NoError(t, err)
	second, err := GetOrCreateDefaultBranch(ctx, st, rev.Module.Origin(), 1)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, models.DefaultBranchName, first.Name)
	assert.True(t, first.IsDefault)

	// CreateModule already made it, so all three are the same branch.
	assert.Equal(t, rev.Branch.ID, first.ID)
}

func TestCreateBranch_CopiesHeadsAtSameCommit(t *testing.T) {
	st, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	rev := mustCreateModule(t, st, "lesson-1")

	result, err := CreateBranch(ctx, st, rev.Module.Origin(), "review", "", 1, "review branch")
	require.NoError(t, err)
	assert.Equal(t, 1, result.CopiedVersions)
	assert.Equal(t, "review", result.Branch.Name)
	assert.False(t, result.Branch.IsDefault)

	// The copy is a pointer to the same commit, not a new commit.
	err = st.View(ctx, func(tx store.Tx) error {
		head, err := tx.GetHeadVersion(ctx, rev.Module.ID, result.Branch.ID)
		require.NoError(t, err)
		assert.Equal(t, rev.Commit.ID, head.CommitID)
		assert.Equal(t, rev.Version.ContentHash, head.ContentHash)
		assert.True(t, head.IsHead)
		return nil
	})
	require.NoError(t, err)
}

func TestCreateBranch_DivergeAfterFork(t *testing.T) {
	st, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	rev := mustCreateModule(t, st, "lesson-1")
	_, err := CreateBranch(ctx, st, rev.Module.Origin(), "review", "", 1, "")
	require.NoError(t, err)

	// Writing on the fork leaves the source branch untouched.
	updated := mustUpdateModule(t, st, "lesson-1", "review", `{"body":"revised"}`)
	assert.NotEqual(t, rev.Commit.ID, updated.Commit.ID)

	snap, err := GetModule(ctx, st, ModuleRef{Slug: "lesson-1"}, "", "")
	require.NoError(t, err)
	assert.Equal(t, rev.Version.ContentHash, snap.Version.ContentHash)
}

func TestCreateBranch_DuplicateName(t *testing.T) {
	st, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	rev := mustCreateModule(t, st, "lesson-1")

	_, err := CreateBranch(ctx, st, rev.Module.Origin(), "review", "", 1, "")
	require.NoError(t, err)

	_, err = CreateBranch(ctx, st, rev.Module.Origin(), "review", "", 1, "")
	assert.ErrorIs(t, err, ErrDuplicateBranch)
}

func TestCreateBranch_UnknownSource(t *testing.T) {
	st, cleanup := setupTestStore(t)
	defer cleanup()

	rev := mustCreateModule(t, st, "lesson-1")

	_, err := CreateBranch(context.Background(), st, rev.Module.Origin(), "review", "no-such-branch", 1, "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteBranch_DefaultRefused(t *testing.T) {
	st, cleanup := setupTestStore(t)
	defer cleanup()

	rev := mustCreateModule(t, st, "lesson-1")

	_, err := DeleteBranch(context.Background(), st, rev.Module.Origin(), models.DefaultBranchName)
	assert.ErrorIs(t, err, ErrInvalidOperation)
}

func TestDeleteBranch_RemovesScopedVersions(t *testing.T) {
	st, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	rev := mustCreateModule(t, st, "lesson-1")
	result, err := CreateBranch(ctx, st, rev.Module.Origin(), "review", "", 1, "")
	require.NoError(t, err)
	mustUpdateModule(t, st, "lesson-1", "review", `{"body":"revised"}`)

	_, err = DeleteBranch(ctx, st, rev.Module.Origin(), "review")
	require.NoError(t, err)

	err = st.View(ctx, func(tx store.Tx) error {
		_, err := tx.GetBranchByName(ctx, rev.Module.Origin(), "review")
		assert.ErrorIs(t, err, store.ErrNotFound)

		versions, err := tx.ListModuleVersions(ctx, rev.Module.ID, result.Branch.ID)
		require.NoError(t, err)
		assert.Empty(t, versions)
		return nil
	})
	require.NoError(t, err)
}

func TestListBranches(t *testing.T) {
	st, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	rev := mustCreateModule(t, st, "lesson-1")
	_, err := CreateBranch(ctx, st, rev.Module.Origin(), "review", "", 1, "")
	require.NoError(t, err)

	branches, err := ListBranches(ctx, st, rev.Module.Origin())
	require.NoError(t, err)
	require.Len(t, branches, 2)
}
