package download

import (
	"path/filepath"
	"sync"
	"time"

	apperrors "github.com/Orochidara23000/Game-Downloader/internal/errors"
	"github.com/Orochidara23000/Game-Downloader/internal/publish"
)

// ProgressUpdate carries the fields a supervisor merges into a job record.
// Nil pointers mean "leave unchanged".
type ProgressUpdate struct {
	Percent          *float64
	BytesTransferred *uint64
	BytesTotal       *uint64
	ETA              *time.Time
	ErrorText        string
}

// Registry is the shared table of all known jobs. One mutex serializes every
// mutation and multi-field read; critical sections stay short and never span
// blocking calls, and no caller holds a process handle while waiting on the
// lock.
type Registry struct {
	mu            sync.Mutex
	jobs          map[string]*job
	order         []string
	maxConcurrent int
	downloadRoot  string
}

// NewRegistry creates a registry admitting at most maxConcurrent live jobs.
// Install directories are allocated per app under downloadRoot.
func NewRegistry(maxConcurrent int, downloadRoot string) *Registry {
	return &Registry{
		jobs:          make(map[string]*job),
		maxConcurrent: maxConcurrent,
		downloadRoot:  downloadRoot,
	}
}

// Admit reserves a capacity slot and creates the job record in Starting
// state. The capacity check, duplicate check, and record creation happen
// under one critical section so concurrent admits cannot oversubscribe the
// limit or both claim the same app ID.
func (r *Registry) Admit(appID string) (Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.jobs[appID]; ok && !existing.state.Terminal() {
		return Snapshot{}, apperrors.DuplicateJob(appID)
	}
	if r.liveCountLocked() >= r.maxConcurrent {
		return Snapshot{}, apperrors.CapacityExceeded(r.maxConcurrent)
	}

	j := &job{
		id:         appID,
		state:      StateStarting,
		startedAt:  time.Now(),
		installDir: filepath.Join(r.downloadRoot, appID),
	}
	if _, seen := r.jobs[appID]; !seen {
		r.order = append(r.order, appID)
	}
	r.jobs[appID] = j

	return j.snapshot(), nil
}

// Get returns a point-in-time snapshot of one job.
func (r *Registry) Get(appID string) (Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.jobs[appID]
	if !ok {
		return Snapshot{}, apperrors.JobNotFound(appID)
	}
	return j.snapshot(), nil
}

// List returns snapshots of all known jobs in insertion order.
func (r *Registry) List() []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	snaps := make([]Snapshot, 0, len(r.order))
	for _, id := range r.order {
		if j, ok := r.jobs[id]; ok {
			snaps = append(snaps, j.snapshot())
		}
	}
	return snaps
}

// UpdateProgress merges fields into a live record. Updates arriving after a
// job reached a terminal state are silently dropped. A percentage lower than
// the stored value is discarded while the other fields are kept: the tool
// occasionally re-reports a lower intermediate percent and the stored value
// must not regress.
func (r *Registry) UpdateProgress(appID string, u ProgressUpdate) {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.jobs[appID]
	if !ok || j.state.Terminal() {
		return
	}

	if u.Percent != nil && *u.Percent >= j.progress {
		j.progress = *u.Percent
		if u.ETA != nil {
			eta := *u.ETA
			j.eta = &eta
		}
	}
	if u.BytesTransferred != nil {
		j.bytesTransferred = *u.BytesTransferred
	}
	if u.BytesTotal != nil {
		j.bytesTotal = *u.BytesTotal
	}
	if u.ErrorText != "" && j.lastError == "" {
		j.lastError = u.ErrorText
	}
}

// Finalize sets a terminal state exactly once. Later calls for an
// already-terminal job are no-ops, not errors: the supervisor's exit path and
// a racing cancel may both attempt it. It reports whether this call performed
// the transition.
func (r *Registry) Finalize(appID string, state State, errText string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.jobs[appID]
	if !ok || j.state.Terminal() {
		return false
	}

	j.state = state
	j.terminate = nil
	j.eta = nil
	if state == StateCompleted {
		j.progress = 100
	}
	if errText != "" && j.lastError == "" {
		j.lastError = errText
	}
	return true
}

// Cancel marks cancellation intent and signals the owning supervisor to
// terminate its process. The Cancelled state itself is set by the
// supervisor's exit handling once the process has actually exited, so two
// writers never race on the terminal transition. The terminate callback runs
// outside the lock.
func (r *Registry) Cancel(appID string) error {
	r.mu.Lock()
	j, ok := r.jobs[appID]
	if !ok {
		r.mu.Unlock()
		return apperrors.JobNotFound(appID)
	}
	if j.state.Terminal() {
		state := string(j.state)
		r.mu.Unlock()
		return apperrors.AlreadyTerminal(state)
	}
	j.cancelRequested = true
	term := j.terminate
	r.mu.Unlock()

	if term != nil {
		term()
	}
	return nil
}

// CanAdmit reports whether a new job would currently be admitted.
func (r *Registry) CanAdmit() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.liveCountLocked() < r.maxConcurrent
}

// ActiveCount returns the number of jobs in Starting or Downloading state.
func (r *Registry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.liveCountLocked()
}

// Live reports whether appID has a non-terminal record. The retention sweep
// uses this to avoid touching directories of running jobs.
func (r *Registry) Live(appID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[appID]
	return ok && !j.state.Terminal()
}

// markDownloading transitions Starting to Downloading and registers the
// supervisor's terminate callback. It reports whether cancellation was
// already requested, in which case the caller must terminate immediately.
func (r *Registry) markDownloading(appID string, terminate func()) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.jobs[appID]
	if !ok || j.state.Terminal() {
		return true
	}
	if j.state == StateStarting {
		j.state = StateDownloading
	}
	j.terminate = terminate
	return j.cancelRequested
}

func (r *Registry) cancelRequested(appID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[appID]
	return ok && j.cancelRequested
}

func (r *Registry) installDirOf(appID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if j, ok := r.jobs[appID]; ok {
		return j.installDir
	}
	return ""
}

func (r *Registry) setArtifacts(appID string, artifacts []publish.Artifact) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if j, ok := r.jobs[appID]; ok {
		j.artifacts = artifacts
	}
}

func (r *Registry) setPublishWarning(appID, warning string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if j, ok := r.jobs[appID]; ok {
		j.publishWarning = warning
	}
}

func (r *Registry) liveCountLocked() int {
	n := 0
	for _, j := range r.jobs {
		if !j.state.Terminal() {
			n++
		}
	}
	return n
}
