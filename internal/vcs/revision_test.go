package vcs

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/courseloom/amvc/internal/models"
	"github.com/courseloom/amvc/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateModule_InitialRevision(t *testing.T) {
	st, cleanup := setupTestStore(t)
	defer cleanup()

	rev := mustCreateModule(t, st, "lesson-1")

	assert.Equal(t, "lesson-1", rev.Module.Slug)
	assert.Equal(t, models.ModuleStatusDraft, rev.Module.Status)
	assert.Equal(t, models.DefaultBranchName, rev.Branch.Name)
	assert.Equal(t, "Initial commit", rev.Commit.Message)
	assert.Zero(t, rev.Commit.ParentID)
	assert.True(t, rev.Version.IsHead)
	assert.Equal(t, ContentHash(rev.Version.Content), rev.Version.ContentHash)

	// A root module is its own lineage origin.
	assert.Equal(t, rev.Module.ID, rev.Module.Origin())
}

func TestCreateModule_MissingFields(t *testing.T) {
	st, cleanup := setupTestStore(t)
	defer cleanup()

	_, err := CreateModule(context.Background(), st, CreateModuleArgs{Slug: "x", ActorID: 1})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestCreateModule_DuplicateSlug(t *testing.T) {
	st, cleanup := setupTestStore(t)
	defer cleanup()

	mustCreateModule(t, st, "lesson-1")

	_, err := CreateModule(context.Background(), st, CreateModuleArgs{
		Slug: "lesson-1", Title: "Again", Type: "lesson", ActorID: 1,
	})
	assert.ErrorIs(t, err, ErrDuplicateSlug)
}

func TestUpdateModule_ChainsCommits(t *testing.T) {
	st, cleanup := setupTestStore(t)
	defer cleanup()

	rev := mustCreateModule(t, st, "lesson-1")
	second := mustUpdateModule(t, st, "lesson-1", "", `{"body":"v2"}`)
	third := mustUpdateModule(t, st, "lesson-1", "", `{"body":"v3"}`)

	assert.Equal(t, rev.Commit.ID, second.Commit.ParentID)
	assert.Equal(t, second.Commit.ID, third.Commit.ParentID)
	assert.NotEqual(t, second.Commit.Hash, third.Commit.Hash)
}

func TestUpdateModule_SingleHeadAfterManyUpdates(t *testing.T) {
	st, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	rev := mustCreateModule(t, st, "lesson-1")
	mustUpdateModule(t, st, "lesson-1", "", `{"body":"v2"}`)
	mustUpdateModule(t, st, "lesson-1", "", `{"body":"v3"}`)
	last := mustUpdateModule(t, st, "lesson-1", "", `{"body":"v4"}`)

	err := st.View(ctx, func(tx store.Tx) error {
		versions, err := tx.ListModuleVersions(ctx, rev.Module.ID, rev.Branch.ID)
		require.NoError(t, err)
		require.Len(t, versions, 4)

		heads := 0
		for _, v := range versions {
			if v.IsHead {
				heads++
				assert.Equal(t, last.Version.ID, v.ID)
			}
		}
		assert.Equal(t, 1, heads, "exactly one head per module per branch")
		return nil
	})
	require.NoError(t, err)
}

func TestUpdateModule_ShallowContentMerge(t *testing.T) {
	st, cleanup := setupTestStore(t)
	defer cleanup()

	_, err := CreateModule(context.Background(), st, CreateModuleArgs{
		Slug:    "quiz-1",
		Title:   "Quiz",
		Type:    "quiz",
		Content: json.RawMessage(`{"questions":["q1"],"passing_score":70}`),
		ActorID: 1,
	})
	require.NoError(t, err)

	rev := mustUpdateModule(t, st, "quiz-1", "", `{"passing_score":80}`)

	var content map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rev.Version.Content, &content))
	assert.JSONEq(t, `80`, string(content["passing_score"]))
	assert.JSONEq(t, `["q1"]`, string(content["questions"]), "omitted fields survive")
}

func TestUpdateModule_TitleAndStatusTouchModuleRow(t *testing.T) {
	st, cleanup := setupTestStore(t)
	defer cleanup()

	mustCreateModule(t, st, "lesson-1")

	title := "Renamed"
	status := models.ModuleStatusPublished
	rev, err := UpdateModule(context.Background(), st, "lesson-1", UpdateModuleArgs{
		Title:   &title,
		Status:  &status,
		ActorID: 1,
	})
	require.NoError(t, err)

	assert.Equal(t, "Renamed", rev.Module.Title)
	assert.Equal(t, models.ModuleStatusPublished, rev.Module.Status)
	assert.Equal(t, "Renamed", rev.Version.Title)
}

func TestGetModule_PinnedCommit(t *testing.T) {
	st, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	first := mustCreateModule(t, st, "lesson-1")
	mustUpdateModule(t, st, "lesson-1", "", `{"body":"v2"}`)

	snap, err := GetModule(ctx, st, ModuleRef{Slug: "lesson-1"}, "", first.Commit.Hash)
	require.NoError(t, err)
	assert.Equal(t, first.Version.ContentHash, snap.Version.ContentHash)
	assert.False(t, snap.Version.IsHead)

	_, err = GetModule(ctx, st, ModuleRef{Slug: "lesson-1"}, "", "deadbeef")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetModule_NotFound(t *testing.T) {
	st, cleanup := setupTestStore(t)
	defer cleanup()

	_, err := GetModule(context.Background(), st, ModuleRef{Slug: "ghost"}, "", "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSearchModules_FilterAndHeads(t *testing.T) {
	st, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	mustCreateModule(t, st, "lesson-1")
	mustCreateModule(t, st, "lesson-2")
	_, err := CreateModule(ctx, st, CreateModuleArgs{
		Slug: "quiz-1", Title: "Quiz", Type: "quiz", ActorID: 1,
	})
	require.NoError(t, err)

	listings, total, err := SearchModules(ctx, st, SearchFilter{Type: "lesson"}, "", store.Page{Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, listings, 2)
	for _, l := range listings {
		assert.NotNil(t, l.Version, "each listing resolves its head")
		assert.True(t, l.Version.IsHead)
	}

	_, total, err = SearchModules(ctx, st, SearchFilter{TitleContains: "lesson-1"}, "", store.Page{Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

func TestDeleteModule_RemovesHistory(t *testing.T) {
	st, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	rev := mustCreateModule(t, st, "lesson-1")
	mustUpdateModule(t, st, "lesson-1", "", `{"body":"v2"}`)

	_, err := DeleteModule(ctx, st, "lesson-1")
	require.NoError(t, err)

	err = st.View(ctx, func(tx store.Tx) error {
		_, err := tx.GetModuleBySlug(ctx, "lesson-1")
		assert.ErrorIs(t, err, store.ErrNotFound)

		versions, err := tx.ListModuleVersions(ctx, rev.Module.ID, rev.Branch.ID)
		require.NoError(t, err)
		assert.Empty(t, versions)
		return nil
	})
	require.NoError(t, err)
}

func TestForkModule_SharesLineage(t *testing.T) {
	st, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	source := mustCreateModule(t, st, "lesson-1")

	fork, err := ForkModule(ctx, st, "lesson-1", ForkModuleArgs{
		Slug:    "lesson-1-fork",
		ActorID: 2,
	})
	require.NoError(t, err)

	assert.NotEqual(t, source.Module.ID, fork.Module.ID)
	assert.Equal(t, source.Module.Origin(), fork.Module.Origin())
	assert.True(t, fork.Module.SameLineage(source.Module))

	// The fork's head points at the source's commit; no new commit exists.
	assert.Equal(t, source.Commit.ID, fork.Commit.ID)
	assert.Equal(t, source.Version.ContentHash, fork.Version.ContentHash)
	assert.Equal(t, models.ModuleStatusDraft, fork.Module.Status)
}

func TestForkModule_IndependentAfterFork(t *testing.T) {
	st, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	source := mustCreateModule(t, st, "lesson-1")
	_, err := ForkModule(ctx, st, "lesson-1", ForkModuleArgs{Slug: "lesson-1-fork", ActorID: 2})
	require.NoError(t, err)

	mustUpdateModule(t, st, "lesson-1-fork", "", `{"body":"forked edit"}`)

	snap, err := GetModule(ctx, st, ModuleRef{Slug: "lesson-1"}, "", "")
	require.NoError(t, err)
	assert.Equal(t, source.Version.ContentHash, snap.Version.ContentHash)
}

func TestModuleHistory_OldestFirst(t *testing.T) {
	st, cleanup := setupTestStore(t)
	defer cleanup()

	mustCreateModule(t, st, "lesson-1")
	mustUpdateModule(t, st, "lesson-1", "", `{"body":"v2"}`)
	mustUpdateModule(t, st, "lesson-1", "", `{"body":"v3"}`)

	entries, err := ModuleHistory(context.Background(), st, "lesson-1", "")
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, "Initial commit", entries[0].Commit.Message)
	assert.True(t, entries[2].Version.IsHead)
	assert.Equal(t, entries[0].Commit.ID, entries[1].Commit.ParentID)
	assert.Equal(t, entries[1].Commit.ID, entries[2].Commit.ParentID)
}
