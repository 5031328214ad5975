// Package vcs implements the activity-module version-control engine: branch
// management, revisions, the merge engine, and the merge-request workflow.
// All operations run over the store port and are stateless; every mutating
// operation executes inside a single transaction.
package vcs

import "errors"

// Sentinel errors returned across the engine boundary. Callers match with
// errors.Is; anything not wrapping one of these is an unexpected store
// failure.
var (
	ErrNotFound                   = errors.New("not found")
	ErrDuplicateSlug              = errors.New("module slug already exists")
	ErrDuplicateBranch            = errors.New("branch already exists")
	ErrDuplicateRequest           = errors.New("open merge request already exists")
	ErrInvalidArgument            = errors.New("invalid argument")
	ErrInvalidOperation           = errors.New("invalid operation")
	ErrCommentsDisabled           = errors.New("comments are disabled")
	ErrConflictResolutionRequired = errors.New("conflict resolution required")
)
