package download

import (
	"time"

	"github.com/Orochidara23000/Game-Downloader/internal/publish"
)

// State is the lifecycle state of a download job.
type State string

const (
	StateStarting    State = "starting"
	StateDownloading State = "downloading"
	StateCompleted   State = "completed"
	StateFailed      State = "failed"
	StateCancelled   State = "cancelled"
)

// Terminal returns true once a job can no longer change state.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// job is the registry's live record for one download. All fields are guarded
// by the registry mutex; the process handle itself never lives here, only the
// supervisor's terminate callback, which is cleared once the process exits.
type job struct {
	id               string
	state            State
	progress         float64
	bytesTransferred uint64
	bytesTotal       uint64 // 0 until the tool reports it
	startedAt        time.Time
	eta              *time.Time
	lastError        string
	publishWarning   string
	installDir       string
	artifacts        []publish.Artifact

	cancelRequested bool
	terminate       func()
}

// Snapshot is the read-only view of a job handed across the engine boundary.
// It never carries the process handle, install directory, or credentials.
type Snapshot struct {
	AppID            string             `json:"app_id"`
	State            State              `json:"state"`
	Progress         float64            `json:"progress"`
	BytesTransferred uint64             `json:"bytes_transferred"`
	BytesTotal       uint64             `json:"bytes_total,omitempty"`
	StartedAt        time.Time          `json:"started_at"`
	ETA              *time.Time         `json:"estimated_completion_at,omitempty"`
	LastError        string             `json:"error,omitempty"`
	PublishWarning   string             `json:"publish_warning,omitempty"`
	Artifacts        []publish.Artifact `json:"artifacts,omitempty"`
}

func (j *job) snapshot() Snapshot {
	snap := Snapshot{
		AppID:            j.id,
		State:            j.state,
		Progress:         j.progress,
		BytesTransferred: j.bytesTransferred,
		BytesTotal:       j.bytesTotal,
		StartedAt:        j.startedAt,
		LastError:        j.lastError,
		PublishWarning:   j.publishWarning,
	}
	if j.eta != nil {
		eta := *j.eta
		snap.ETA = &eta
	}
	if len(j.artifacts) > 0 {
		snap.Artifacts = append([]publish.Artifact(nil), j.artifacts...)
	}
	return snap
}
