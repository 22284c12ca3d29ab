// Package git wraps the git CLI for mirror and review operations.
package git

// BranchOperations covers branch creation and switching.
type BranchOperations interface {
	// CurrentBranch returns the name of the checked-out branch.
	CurrentBranch() (string, error)
	// CreateAndCheckoutBranch creates and switches to a new branch.
	CreateAndCheckoutBranch(name string) error
	// CheckoutBranch switches to an existing branch.
	CheckoutBranch(name string) error
	// BranchExists reports whether a local branch exists.
	BranchExists(name string) (bool, error)
	// DeleteBranch force-deletes a local branch.
	DeleteBranch(name string) error
	// HeadCommit returns the full hash of HEAD.
	HeadCommit() (string, error)
}

// DiffOperations covers the read-only surface review prompts are built from.
type DiffOperations interface {
	// Status returns git status --porcelain output.
	Status() (string, error)
	// HasChanges reports whether the tree has uncommitted changes.
	HasChanges() (bool, error)
	// Diff returns the diff against the given base ref.
	Diff(base string) (string, error)
	// DiffBetween returns the diff between two refs.
	DiffBetween(ref1, ref2 string) (string, error)
	// ChangedFilesRelative returns files changed on branch relative to
	// another, using the triple-dot range.
	ChangedFilesRelative(branch, relativeTo string) ([]string, error)
	// ConflictedFiles returns paths with unmerged changes.
	ConflictedFiles() ([]string, error)
}

// CommitOperations covers staging and committing.
type CommitOperations interface {
	// Add stages the given paths.
	Add(paths ...string) error
	// Commit creates a commit with the given message.
	Commit(message string) error
}

// MergeOperations covers the merge-back of epic mirrors.
type MergeOperations interface {
	// Fetch fetches a ref from the given remote or path into the local repo.
	Fetch(remote, ref string) error
	// Merge fast-forward merges the given ref into the current branch.
	Merge(ref string) error
	// MergeNoFFMessage merges with --no-ff and a custom commit message.
	MergeNoFFMessage(ref, message string) error
	// MergeAbort aborts an in-progress merge.
	MergeAbort() error
	// HasConflicts reports whether the tree holds unmerged paths.
	HasConflicts() (bool, error)
}

// Runner is the full git surface. Consumers should depend on the focused
// interfaces above where they can.
type Runner interface {
	BranchOperations
	DiffOperations
	CommitOperations
	MergeOperations
	// Run executes an arbitrary git command and returns trimmed output.
	Run(args ...string) (string, error)
}

// Factory creates a Runner bound to a repository directory. The mirror
// manager uses it to address both the primary checkout and each mirror.
type Factory func(repoPath string) Runner

// Clone copies the repository at src into dst using the given factory's
// runner bound to the parent of dst.
func Clone(f Factory, src, dst string) error {
	_, err := f(src).Run("clone", src, dst)
	return err
}
