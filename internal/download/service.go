package download

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	apperrors "github.com/Orochidara23000/Game-Downloader/internal/errors"
	"github.com/Orochidara23000/Game-Downloader/internal/logger"
	"github.com/Orochidara23000/Game-Downloader/internal/metrics"
	"github.com/Orochidara23000/Game-Downloader/internal/publish"
	"github.com/Orochidara23000/Game-Downloader/internal/steamcmd"
)

const mirrorTimeout = 5 * time.Minute

// Proc is the supervisor's view of a running download process. Err reports
// whether the output stream was read to completion; it is only meaningful
// after Wait returns.
type Proc interface {
	Lines() <-chan string
	Wait() int
	Err() error
	Terminate()
}

// Launcher starts download processes.
type Launcher interface {
	Start(spec steamcmd.DownloadSpec) (Proc, error)
}

// NewSteamLauncher wraps a steamcmd runner as a Launcher.
func NewSteamLauncher(r *steamcmd.Runner) Launcher {
	return steamLauncher{runner: r}
}

type steamLauncher struct {
	runner *steamcmd.Runner
}

func (l steamLauncher) Start(spec steamcmd.DownloadSpec) (Proc, error) {
	p, err := l.runner.Start(spec)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// ArtifactPublisher mirrors a completed install directory into the public
// tree.
type ArtifactPublisher interface {
	Publish(jobID, srcDir, dstDir string) ([]publish.Artifact, error)
}

// Mirror optionally uploads published artifacts to durable object storage
// and rewrites their public URLs.
type Mirror interface {
	MirrorArtifacts(ctx context.Context, jobID, srcDir string, artifacts []publish.Artifact) ([]publish.Artifact, error)
}

// Notifier receives a snapshot every time a job record changes. Delivery is
// the notifier's problem; the engine only emits.
type Notifier interface {
	JobUpdated(snap Snapshot)
}

// Service drives download jobs: it admits them through the registry, runs one
// supervisor goroutine per job, and publishes artifacts on success.
type Service struct {
	registry   *Registry
	launcher   Launcher
	publisher  ArtifactPublisher
	mirror     Mirror
	publicRoot string
	notifiers  []Notifier
	metrics    *metrics.Metrics
	log        *logger.Logger

	wg sync.WaitGroup
}

// ServiceConfig wires a Service. Mirror and Notifiers may be empty.
type ServiceConfig struct {
	Registry   *Registry
	Launcher   Launcher
	Publisher  ArtifactPublisher
	Mirror     Mirror
	PublicRoot string
	Notifiers  []Notifier
	Metrics    *metrics.Metrics
}

// NewService creates a download service.
func NewService(cfg ServiceConfig) *Service {
	m := cfg.Metrics
	if m == nil {
		m = metrics.New()
	}
	return &Service{
		registry:   cfg.Registry,
		launcher:   cfg.Launcher,
		publisher:  cfg.Publisher,
		mirror:     cfg.Mirror,
		publicRoot: cfg.PublicRoot,
		notifiers:  cfg.Notifiers,
		metrics:    m,
		log:        logger.Default().WithComponent("download"),
	}
}

// StartRequest is one inbound download request. Credentials are optional;
// empty username means anonymous login.
type StartRequest struct {
	AppID     string
	Username  string
	Password  string
	GuardCode string
}

// Start admits a job and spawns its supervisor. Admission errors come back
// synchronously; everything after admission is reported through the job
// record.
func (s *Service) Start(ctx context.Context, req StartRequest) (Snapshot, error) {
	snap, err := s.registry.Admit(req.AppID)
	if err != nil {
		return Snapshot{}, err
	}

	installDir := s.registry.installDirOf(req.AppID)
	if err := os.MkdirAll(installDir, 0o755); err != nil {
		s.finalize(req.AppID, StateFailed, fmt.Sprintf("create install dir: %v", err))
		return Snapshot{}, apperrors.SpawnFailed("failed to create install directory").WithCause(err)
	}

	s.metrics.DownloadsTotal.Inc()
	s.metrics.ActiveDownloads.Set(float64(s.registry.ActiveCount()))
	s.log.Info(ctx, "download admitted", map[string]interface{}{
		"app_id":    req.AppID,
		"anonymous": req.Username == "" || req.Username == "anonymous",
	})

	spec := steamcmd.DownloadSpec{
		AppID:      req.AppID,
		Username:   req.Username,
		Password:   req.Password,
		GuardCode:  req.GuardCode,
		InstallDir: installDir,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.supervise(req.AppID, spec)
	}()

	s.notify(req.AppID)
	return snap, nil
}

// Get returns a snapshot of one job.
func (s *Service) Get(appID string) (Snapshot, error) {
	return s.registry.Get(appID)
}

// List returns snapshots of all known jobs.
func (s *Service) List() []Snapshot {
	return s.registry.List()
}

// Cancel requests cancellation. The job transitions to Cancelled only once
// its process has actually exited.
func (s *Service) Cancel(appID string) error {
	err := s.registry.Cancel(appID)
	if err == nil {
		s.log.Info(context.Background(), "cancellation requested", map[string]interface{}{
			"app_id": appID,
		})
	}
	return err
}

// CanAdmit reports whether the engine can still accept admissions.
func (s *Service) CanAdmit() bool {
	return s.registry.CanAdmit()
}

// Registry exposes the underlying registry for collaborators that only need
// read access, like the retention sweep.
func (s *Service) Registry() *Registry {
	return s.registry
}

// Shutdown waits for all supervisors to finish or the context to expire.
func (s *Service) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// supervise is the per-job control loop. It owns the process, feeds its
// output through the parser, and drives the record to exactly one terminal
// state.
func (s *Service) supervise(appID string, spec steamcmd.DownloadSpec) {
	ctx := context.Background()

	proc, err := s.launcher.Start(spec)
	if err != nil {
		s.finalize(appID, StateFailed, err.Error())
		return
	}

	if s.registry.markDownloading(appID, proc.Terminate) {
		// Cancellation arrived before the process was registered.
		proc.Terminate()
	}
	s.notify(appID)

	snap, _ := s.registry.Get(appID)
	startedAt := snap.StartedAt

	for line := range proc.Lines() {
		u := steamcmd.ParseProgress(line)
		if u == nil {
			continue
		}

		pu := ProgressUpdate{
			Percent:          u.Percent,
			BytesTransferred: u.BytesTransferred,
			BytesTotal:       u.BytesTotal,
			ErrorText:        u.ErrorText,
		}
		if u.Percent != nil && *u.Percent > 0 {
			elapsed := time.Since(startedAt)
			remaining := time.Duration(float64(elapsed) * (100 - *u.Percent) / *u.Percent)
			eta := time.Now().Add(remaining)
			pu.ETA = &eta
		}

		s.registry.UpdateProgress(appID, pu)
		s.notify(appID)
	}

	exitCode := proc.Wait()
	snap, _ = s.registry.Get(appID)

	switch {
	case s.registry.cancelRequested(appID):
		// A nonzero exit code here is the expected result of termination,
		// not a failure.
		s.finalize(appID, StateCancelled, "")

	case exitCode == 0 && snap.LastError == "" && proc.Err() == nil:
		s.publishArtifacts(ctx, appID)
		s.finalize(appID, StateCompleted, "")

	default:
		reason := snap.LastError
		if reason == "" {
			if rerr := proc.Err(); rerr != nil {
				// Progress past the read failure was never observed, so the
				// download cannot be trusted as complete.
				reason = fmt.Sprintf("output stream error: %v", rerr)
			} else {
				reason = fmt.Sprintf("steamcmd exited with code %d", exitCode)
			}
		}
		s.finalize(appID, StateFailed, reason)
	}
}

// publishArtifacts mirrors the install directory into the public tree. A
// publish failure does not revert the completed download; it is recorded as a
// warning on the job instead.
func (s *Service) publishArtifacts(ctx context.Context, appID string) {
	installDir := s.registry.installDirOf(appID)
	dstDir := filepath.Join(s.publicRoot, appID)

	artifacts, err := s.publisher.Publish(appID, installDir, dstDir)
	if err != nil {
		perr := apperrors.PublishFailed("failed to mirror install directory into public tree").WithCause(err)
		s.registry.setPublishWarning(appID, perr.Error())
		s.log.Warn(ctx, "artifact publish failed", map[string]interface{}{
			"app_id": appID,
			"error":  perr.Error(),
		})
		return
	}

	if s.mirror != nil {
		mctx, cancel := context.WithTimeout(ctx, mirrorTimeout)
		mirrored, merr := s.mirror.MirrorArtifacts(mctx, appID, installDir, artifacts)
		cancel()
		if merr != nil {
			s.log.Warn(ctx, "artifact mirror failed, serving local links", map[string]interface{}{
				"app_id": appID,
				"error":  merr.Error(),
			})
		} else {
			artifacts = mirrored
		}
	}

	s.registry.setArtifacts(appID, artifacts)
}

// finalize performs the terminal transition once and emits the bookkeeping
// that goes with it.
func (s *Service) finalize(appID string, state State, errText string) {
	if !s.registry.Finalize(appID, state, errText) {
		return
	}

	snap, err := s.registry.Get(appID)
	if err != nil {
		return
	}

	s.metrics.ActiveDownloads.Set(float64(s.registry.ActiveCount()))
	switch state {
	case StateCompleted:
		s.metrics.DownloadDuration.Observe(time.Since(snap.StartedAt).Seconds())
		if snap.BytesTotal > 0 {
			s.metrics.DownloadSize.Observe(float64(snap.BytesTotal))
		}
		s.log.Info(context.Background(), "download completed", map[string]interface{}{
			"app_id":    appID,
			"artifacts": len(snap.Artifacts),
		})
	case StateFailed:
		s.metrics.DownloadErrors.Inc()
		s.log.Error(context.Background(), "download failed", apperrors.DownloadError(snap.LastError), map[string]interface{}{
			"app_id": appID,
		})
	case StateCancelled:
		s.log.Info(context.Background(), "download cancelled", map[string]interface{}{
			"app_id": appID,
		})
	}

	s.notify(appID)
}

func (s *Service) notify(appID string) {
	if len(s.notifiers) == 0 {
		return
	}
	snap, err := s.registry.Get(appID)
	if err != nil {
		return
	}
	for _, n := range s.notifiers {
		n.JobUpdated(snap)
	}
}
