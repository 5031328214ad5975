package vcs

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// ContentHash returns the hex sha256 of a content blob. Used to detect
// whether a version actually changed; integrity, not security.
func ContentHash(content []byte) string {
	hash := sha256.Sum256(content)
	return hex.EncodeToString(hash[:])
}

// CommitHash derives a commit hash from every commit-identifying field.
// Identical inputs hash identically, but differing timestamps keep commits
// distinct, so commits are never deduplicated across time.
func CommitHash(contentHash, message string, authorID int64, timestamp time.Time, parentHash string) string {
	data := fmt.Sprintf("%s|%s|%d|%s|%s", contentHash, message, authorID, timestamp.Format(time.RFC3339Nano), parentHash)
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}

// MergeCommitHash is CommitHash for merge commits: both parents participate.
func MergeCommitHash(contentHash, message string, authorID int64, timestamp time.Time, parent1Hash, parent2Hash string) string {
	data := fmt.Sprintf("%s|%s|%d|%s|%s|%s", contentHash, message, authorID, timestamp.Format(time.RFC3339Nano), parent1Hash, parent2Hash)
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
