// Package mirror builds and merges per-epic isolated working copies. A
// mirror is a full clone of the primary repository with an epic/{id} branch
// checked out; epic tasks run inside it so unrelated epics never collide.
package mirror

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/fuelsh/fuel/internal/git"
	"github.com/fuelsh/fuel/internal/state"
	"github.com/fuelsh/fuel/internal/workspace"
	"github.com/fuelsh/fuel/pkg/models"
)

// Manager drives the mirror lifecycle for all epics.
type Manager struct {
	store   *state.Store
	ws      *workspace.Context
	gitFor  git.Factory
	log     *zap.Logger
	removed func(path string) error
}

// NewManager creates a mirror Manager. gitFor binds git to a directory.
func NewManager(store *state.Store, ws *workspace.Context, gitFor git.Factory, log *zap.Logger) *Manager {
	return &Manager{store: store, ws: ws, gitFor: gitFor, log: log, removed: os.RemoveAll}
}

// BranchName returns the mirror branch for an epic.
func BranchName(epicShortID string) string {
	return "epic/" + epicShortID
}

// ProcessPending builds mirrors for every epic whose mirror is pending.
// Called each scheduler tick; a failed build leaves the epic pending so the
// next tick retries.
func (m *Manager) ProcessPending() error {
	epics, err := m.store.Epics.All()
	if err != nil {
		return err
	}
	for _, e := range epics {
		if e.MirrorStatus != models.MirrorPending {
			continue
		}
		if err := m.build(e); err != nil {
			m.log.Error("mirror build failed",
				zap.String("epic", e.ShortID), zap.Error(err))
			// Back to pending for the next tick.
			e.MirrorStatus = models.MirrorPending
			if uerr := m.store.Epics.Update(e); uerr != nil {
				return uerr
			}
		}
	}
	return nil
}

func (m *Manager) build(e *models.Epic) error {
	e.MirrorStatus = models.MirrorCreating
	if err := m.store.Epics.Update(e); err != nil {
		return err
	}

	path := m.ws.MirrorPath(e.ShortID)
	// A stale directory from a crashed build is removed before cloning.
	if _, err := os.Stat(path); err == nil {
		if err := m.removed(path); err != nil {
			return fmt.Errorf("remove stale mirror: %w", err)
		}
	}
	if err := git.Clone(m.gitFor, m.ws.Root, path); err != nil {
		return fmt.Errorf("clone mirror: %w", err)
	}

	g := m.gitFor(path)
	base, err := g.HeadCommit()
	if err != nil {
		return fmt.Errorf("mirror base commit: %w", err)
	}
	if err := g.CreateAndCheckoutBranch(BranchName(e.ShortID)); err != nil {
		return fmt.Errorf("create mirror branch: %w", err)
	}

	now := time.Now().UTC()
	e.MirrorPath = path
	e.MirrorBranch = BranchName(e.ShortID)
	e.MirrorBaseCommit = base
	e.MirrorCreatedAt = &now
	e.MirrorStatus = models.MirrorReady
	if err := m.store.Epics.Update(e); err != nil {
		return err
	}
	m.log.Info("mirror ready",
		zap.String("epic", e.ShortID),
		zap.String("path", path),
		zap.String("branch", e.MirrorBranch))
	return nil
}

// WorkDir returns the directory epic tasks should run in: the mirror when
// one is ready, the primary root otherwise.
func (m *Manager) WorkDir(e *models.Epic) string {
	if e != nil && e.MirrorStatus == models.MirrorReady && e.MirrorPath != "" {
		return e.MirrorPath
	}
	return m.ws.Root
}

// BeginMerge transitions a ready mirror to merging before the merge task
// spawns.
func (m *Manager) BeginMerge(e *models.Epic) error {
	if e.MirrorStatus != models.MirrorReady {
		return fmt.Errorf("epic %s mirror is %s, not ready", e.ShortID, e.MirrorStatus)
	}
	e.MirrorStatus = models.MirrorMerging
	return m.store.Epics.Update(e)
}

// Merge fetches the mirror branch into the primary repository and merges it
// with a merge commit. Conflicts abort the merge and fail the mirror.
func (m *Manager) Merge(e *models.Epic) error {
	if e.MirrorStatus != models.MirrorMerging {
		return fmt.Errorf("epic %s mirror is %s, not merging", e.ShortID, e.MirrorStatus)
	}
	primary := m.gitFor(m.ws.Root)
	if err := primary.Fetch(e.MirrorPath, e.MirrorBranch); err != nil {
		return m.failMerge(e, fmt.Errorf("fetch mirror branch: %w", err))
	}
	msg := fmt.Sprintf("Merge %s: %s", e.MirrorBranch, e.Title)
	if err := primary.MergeNoFFMessage("FETCH_HEAD", msg); err != nil {
		if conflicted, cerr := primary.HasConflicts(); cerr == nil && conflicted {
			if aerr := primary.MergeAbort(); aerr != nil {
				m.log.Error("merge abort failed",
					zap.String("epic", e.ShortID), zap.Error(aerr))
			}
		}
		return m.failMerge(e, fmt.Errorf("merge mirror branch: %w", err))
	}
	return m.CompleteMerge(e)
}

// CompleteMerge marks the mirror merged after a successful merge-back.
func (m *Manager) CompleteMerge(e *models.Epic) error {
	e.MirrorStatus = models.MirrorMerged
	if err := m.store.Epics.Update(e); err != nil {
		return err
	}
	m.log.Info("mirror merged", zap.String("epic", e.ShortID))
	return nil
}

// FailMerge marks the merge failed; a human resolves it and retries.
func (m *Manager) FailMerge(e *models.Epic) error {
	return m.failMerge(e, nil)
}

func (m *Manager) failMerge(e *models.Epic, cause error) error {
	e.MirrorStatus = models.MirrorMergeFailed
	if err := m.store.Epics.Update(e); err != nil {
		return err
	}
	m.log.Error("mirror merge failed",
		zap.String("epic", e.ShortID), zap.Error(cause))
	if cause != nil {
		return cause
	}
	return nil
}

// RetryMerge returns a failed mirror to ready so approval can enqueue a new
// merge task.
func (m *Manager) RetryMerge(e *models.Epic) error {
	if e.MirrorStatus != models.MirrorMergeFailed {
		return fmt.Errorf("epic %s mirror is %s, not merge_failed", e.ShortID, e.MirrorStatus)
	}
	e.MirrorStatus = models.MirrorReady
	return m.store.Epics.Update(e)
}

// Cleanup removes a merged mirror's directory and marks it cleaned.
func (m *Manager) Cleanup(e *models.Epic) error {
	if e.MirrorStatus != models.MirrorMerged {
		return fmt.Errorf("epic %s mirror is %s, not merged", e.ShortID, e.MirrorStatus)
	}
	if e.MirrorPath != "" {
		if err := m.removed(e.MirrorPath); err != nil {
			return fmt.Errorf("remove mirror: %w", err)
		}
	}
	e.MirrorStatus = models.MirrorCleaned
	if err := m.store.Epics.Update(e); err != nil {
		return err
	}
	m.log.Info("mirror cleaned", zap.String("epic", e.ShortID))
	return nil
}
