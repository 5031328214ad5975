package vcs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestContentHash_Deterministic(t *testing.T) {
	a := ContentHash([]byte(`{"body":"x"}`))
	b := ContentHash([]byte(`{"body":"x"}`))
	c := ContentHash([]byte(`{"body":"y"}`))

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}

func TestCommitHash_TimestampKeepsCommitsDistinct(t *testing.T) {
	ts := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

	a := CommitHash("content", "msg", 1, ts, "parent")
	b := CommitHash("content", "msg", 1, ts, "parent")
	c := CommitHash("content", "msg", 1, ts.Add(time.Nanosecond), "parent")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestCommitHash_ParentParticipates(t *testing.T) {
	ts := time.Now()

	a := CommitHash("content", "msg", 1, ts, "p1")
	b := CommitHash("content", "msg", 1, ts, "p2")
	assert.NotEqual(t, a, b)
}

func TestMergeCommitHash_BothParentsParticipate(t *testing.T) {
	ts := time.Now()

	a := MergeCommitHash("content", "msg", 1, ts, "p1", "p2")
	b := MergeCommitHash("content", "msg", 1, ts, "p1", "p3")
	assert.NotEqual(t, a, b)

	// Parent order matters: the primary parent is the target side.
	c := MergeCommitHash("content", "msg", 1, ts, "p2", "p1")
	assert.NotEqual(t, a, c)
}
