package models

// MergeResult summarizes what a merge invocation did, per contained module.
type MergeResult struct {
	Copied          int `json:"copied"`           // modules absent on the target, copied over
	FastForwarded   int `json:"fast_forwarded"`   // modules whose target head was behind the source
	Merged          int `json:"merged"`           // modules that needed a true merge commit
	Skipped         int `json:"skipped"`          // modules already up to date or newer on the target
	CommitsCreated  int `json:"commits_created"`
	VersionsCreated int `json:"versions_created"`
}

// Add folds another result into r.
func (r *MergeResult) Add(other *MergeResult) {
	r.Copied += other.Copied
	r.FastForwarded += other.FastForwarded
	r.Merged += other.Merged
	r.Skipped += other.Skipped
	r.CommitsCreated += other.CommitsCreated
	r.VersionsCreated += other.VersionsCreated
}
