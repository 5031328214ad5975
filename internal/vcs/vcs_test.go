package vcs

import (
	"context"
	"encoding/json"
	"os"
	"testing"

	"github.com/courseloom/amvc/internal/store"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) (*store.SQLiteStore, func()) {
	tmpDir, err := os.MkdirTemp("", "amvc-vcs-test")
	require.NoError(t, err)

	st, err := store.New(tmpDir + "/test.db")
	require.NoError(t, err)

	err = st.Initialize()
	require.NoError(t, err)

	cleanup := func() {
		st.Close()
		os.RemoveAll(tmpDir)
	}

	return st, cleanup
}

// mustCreateModule creates a module with a lesson body and returns its revision.
func mustCreateModule(t *testing.T, st store.Store, slug string) *ModuleRevision {
	t.Helper()

	rev, err := CreateModule(context.Background(), st, CreateModuleArgs{
		Slug:    slug,
		Title:   "Module " + slug,
		Type:    "lesson",
		Content: json.RawMessage(`{"body":"hello from ` + slug + `"}`),
		ActorID: 1,
	})
	require.NoError(t, err)
	return rev
}

// mustUpdateModule records a new revision with the given content patch.
func mustUpdateModule(t *testing.T, st store.Store, slug, branch, content string) *ModuleRevision {
	t.Helper()

	args := UpdateModuleArgs{
		Branch:  branch,
		Message: "update " + slug,
		ActorID: 1,
	}
	if content != "" {
		args.Content = json.RawMessage(content)
	}
	rev, err := UpdateModule(context.Background(), st, slug, args)
	require.NoError(t, err)
	return rev
}
