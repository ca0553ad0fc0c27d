package download

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	apperrors "github.com/Orochidara23000/Game-Downloader/internal/errors"
	"github.com/Orochidara23000/Game-Downloader/internal/publish"
	"github.com/Orochidara23000/Game-Downloader/internal/steamcmd"
)

// fakeProc is a scriptable stand-in for a steamcmd process.
type fakeProc struct {
	lines      chan string
	done       chan struct{}
	exit       int
	readErr    error
	termOnce   sync.Once
	terminated chan struct{}
}

func newFakeProc() *fakeProc {
	return &fakeProc{
		lines:      make(chan string, 64),
		done:       make(chan struct{}),
		terminated: make(chan struct{}),
	}
}

func (p *fakeProc) Lines() <-chan string { return p.lines }

func (p *fakeProc) Wait() int {
	<-p.done
	return p.exit
}

func (p *fakeProc) Err() error { return p.readErr }

func (p *fakeProc) Terminate() {
	p.termOnce.Do(func() { close(p.terminated) })
}

// emit pushes output lines as if the process had printed them.
func (p *fakeProc) emit(lines ...string) {
	for _, l := range lines {
		p.lines <- l
	}
}

// exitWith ends the process with the given code.
func (p *fakeProc) exitWith(code int) {
	p.exit = code
	close(p.lines)
	close(p.done)
}

type fakeLauncher struct {
	mu    sync.Mutex
	procs map[string]*fakeProc
	err   error
}

func newFakeLauncher() *fakeLauncher {
	return &fakeLauncher{procs: make(map[string]*fakeProc)}
}

func (l *fakeLauncher) Start(spec steamcmd.DownloadSpec) (Proc, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	p := newFakeProc()
	l.procs[spec.AppID] = p
	return p, nil
}

func (l *fakeLauncher) proc(appID string) *fakeProc {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.procs[appID]
}

type fakePublisher struct {
	err error
}

func (p *fakePublisher) Publish(jobID, srcDir, dstDir string) ([]publish.Artifact, error) {
	if p.err != nil {
		return nil, p.err
	}
	return []publish.Artifact{
		{RelativePath: "game.bin", SizeBytes: 1024, PublicURL: "/public/" + jobID + "/game.bin"},
	}, nil
}

type recordingNotifier struct {
	mu    sync.Mutex
	snaps []Snapshot
}

func (n *recordingNotifier) JobUpdated(snap Snapshot) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.snaps = append(n.snaps, snap)
}

func (n *recordingNotifier) last() (Snapshot, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.snaps) == 0 {
		return Snapshot{}, false
	}
	return n.snaps[len(n.snaps)-1], true
}

func newTestService(t *testing.T, maxConcurrent int, launcher Launcher, pub ArtifactPublisher, notifiers ...Notifier) *Service {
	t.Helper()
	return NewService(ServiceConfig{
		Registry:   NewRegistry(maxConcurrent, t.TempDir()),
		Launcher:   launcher,
		Publisher:  pub,
		PublicRoot: t.TempDir(),
		Notifiers:  notifiers,
	})
}

// waitForState polls until the job reaches want or the deadline passes.
func waitForState(t *testing.T, svc *Service, appID string, want State) Snapshot {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		snap, err := svc.Get(appID)
		if err == nil && snap.State == want {
			return snap
		}
		time.Sleep(5 * time.Millisecond)
	}
	snap, _ := svc.Get(appID)
	t.Fatalf("job %s never reached %q, last state %q", appID, want, snap.State)
	return Snapshot{}
}

func waitForTerminal(t *testing.T, svc *Service, appID string) Snapshot {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		snap, err := svc.Get(appID)
		if err == nil && snap.State.Terminal() {
			return snap
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s never reached a terminal state", appID)
	return Snapshot{}
}

func TestDownloadLifecycle(t *testing.T) {
	launcher := newFakeLauncher()
	svc := newTestService(t, 1, launcher, &fakePublisher{})
	ctx := context.Background()

	snap, err := svc.Start(ctx, StartRequest{AppID: "440"})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if snap.State != StateStarting {
		t.Errorf("initial State = %q, want %q", snap.State, StateStarting)
	}

	// The same app cannot be started twice while live.
	if _, err := svc.Start(ctx, StartRequest{AppID: "440"}); err == nil {
		t.Error("duplicate Start should fail")
	} else if appErr, ok := err.(*apperrors.AppError); !ok || appErr.Code != apperrors.CodeDuplicateJob {
		t.Errorf("expected DUPLICATE_JOB, got %v", err)
	}

	// Capacity of one is exhausted.
	if _, err := svc.Start(ctx, StartRequest{AppID: "730"}); err == nil {
		t.Error("Start over capacity should fail")
	} else if appErr, ok := err.(*apperrors.AppError); !ok || appErr.Code != apperrors.CodeCapacityExceeded {
		t.Errorf("expected CAPACITY_EXCEEDED, got %v", err)
	}

	waitForState(t, svc, "440", StateDownloading)
	proc := launcher.proc("440")
	if proc == nil {
		t.Fatal("no process was launched")
	}

	proc.emit(
		"Update state (0x61) downloading, progress: 40.00 (40 / 100)",
		"Update state (0x61) downloading, progress: 30.00 (30 / 100)",
		"Update state (0x61) downloading, progress: 50.00 (50 / 100)",
	)

	deadline := time.Now().Add(5 * time.Second)
	for {
		snap, _ = svc.Get("440")
		if snap.Progress == 50 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("Progress = %v, want 50", snap.Progress)
		}
		time.Sleep(5 * time.Millisecond)
	}
	if snap.ETA == nil {
		t.Error("expected an ETA once progress is reported")
	}

	proc.exitWith(0)
	snap = waitForState(t, svc, "440", StateCompleted)
	if snap.Progress != 100 {
		t.Errorf("Progress = %v after completion, want 100", snap.Progress)
	}
	if len(snap.Artifacts) == 0 || snap.Artifacts[0].PublicURL == "" {
		t.Errorf("expected published artifacts with URLs, got %+v", snap.Artifacts)
	}
	if snap.ETA != nil {
		t.Error("terminal snapshot should not carry an ETA")
	}

	// Completion frees the capacity slot.
	if _, err := svc.Start(ctx, StartRequest{AppID: "730"}); err != nil {
		t.Errorf("Start after capacity freed failed: %v", err)
	}
}

func TestFailureCapturesErrorLine(t *testing.T) {
	launcher := newFakeLauncher()
	svc := newTestService(t, 5, launcher, &fakePublisher{})

	if _, err := svc.Start(context.Background(), StartRequest{AppID: "440"}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitForState(t, svc, "440", StateDownloading)

	proc := launcher.proc("440")
	proc.emit("ERROR! Failed to install app '440' (No subscription)")
	proc.exitWith(8)

	snap := waitForState(t, svc, "440", StateFailed)
	if snap.LastError != "ERROR! Failed to install app '440' (No subscription)" {
		t.Errorf("LastError = %q", snap.LastError)
	}
}

func TestFailureFromExitCode(t *testing.T) {
	launcher := newFakeLauncher()
	svc := newTestService(t, 5, launcher, &fakePublisher{})

	if _, err := svc.Start(context.Background(), StartRequest{AppID: "440"}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitForState(t, svc, "440", StateDownloading)

	launcher.proc("440").exitWith(5)

	snap := waitForState(t, svc, "440", StateFailed)
	if snap.LastError != "steamcmd exited with code 5" {
		t.Errorf("LastError = %q", snap.LastError)
	}
}

func TestErrorLineFailsDespiteCleanExit(t *testing.T) {
	launcher := newFakeLauncher()
	svc := newTestService(t, 5, launcher, &fakePublisher{})

	if _, err := svc.Start(context.Background(), StartRequest{AppID: "440"}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitForState(t, svc, "440", StateDownloading)

	proc := launcher.proc("440")
	proc.emit("Login FAILED with result code 5")
	proc.exitWith(0)

	snap := waitForState(t, svc, "440", StateFailed)
	if snap.LastError == "" {
		t.Error("expected the captured error line")
	}
}

func TestReadErrorFailsDespiteCleanExit(t *testing.T) {
	launcher := newFakeLauncher()
	svc := newTestService(t, 5, launcher, &fakePublisher{})

	if _, err := svc.Start(context.Background(), StartRequest{AppID: "440"}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitForState(t, svc, "440", StateDownloading)

	proc := launcher.proc("440")
	proc.readErr = errors.New("token too long")
	proc.exitWith(0)

	snap := waitForState(t, svc, "440", StateFailed)
	if snap.LastError != "output stream error: token too long" {
		t.Errorf("LastError = %q", snap.LastError)
	}
}

func TestLaunchFailure(t *testing.T) {
	launcher := newFakeLauncher()
	launcher.err = errors.New("spawn exploded")
	svc := newTestService(t, 5, launcher, &fakePublisher{})

	if _, err := svc.Start(context.Background(), StartRequest{AppID: "440"}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	snap := waitForState(t, svc, "440", StateFailed)
	if snap.LastError == "" {
		t.Error("expected a launch failure reason")
	}
}

func TestCancellation(t *testing.T) {
	launcher := newFakeLauncher()
	svc := newTestService(t, 5, launcher, &fakePublisher{})

	if _, err := svc.Start(context.Background(), StartRequest{AppID: "440"}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitForState(t, svc, "440", StateDownloading)
	proc := launcher.proc("440")

	if err := svc.Cancel("440"); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}

	select {
	case <-proc.terminated:
	case <-time.After(5 * time.Second):
		t.Fatal("cancel did not terminate the process")
	}

	// The process exits nonzero after termination; that must not read as a
	// failure.
	proc.exitWith(143)

	snap := waitForState(t, svc, "440", StateCancelled)
	if snap.LastError != "" {
		t.Errorf("cancelled job carries error %q", snap.LastError)
	}

	if err := svc.Cancel("440"); err == nil {
		t.Error("cancelling a terminal job should fail")
	}
}

func TestCancelRacesCleanExit(t *testing.T) {
	// A cancel landing exactly as the process exits cleanly must settle on
	// Cancelled or Completed, never Failed.
	for i := 0; i < 20; i++ {
		launcher := newFakeLauncher()
		svc := newTestService(t, 5, launcher, &fakePublisher{})

		if _, err := svc.Start(context.Background(), StartRequest{AppID: "440"}); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		waitForState(t, svc, "440", StateDownloading)
		proc := launcher.proc("440")

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			svc.Cancel("440")
		}()
		go func() {
			defer wg.Done()
			proc.exitWith(0)
		}()
		wg.Wait()

		snap := waitForTerminal(t, svc, "440")
		if snap.State == StateFailed {
			t.Fatalf("race iteration %d ended in Failed: %+v", i, snap)
		}
	}
}

func TestPublishFailureKeepsCompletion(t *testing.T) {
	launcher := newFakeLauncher()
	svc := newTestService(t, 5, launcher, &fakePublisher{err: errors.New("disk full")})

	if _, err := svc.Start(context.Background(), StartRequest{AppID: "440"}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitForState(t, svc, "440", StateDownloading)
	launcher.proc("440").exitWith(0)

	snap := waitForState(t, svc, "440", StateCompleted)
	if snap.PublishWarning == "" {
		t.Error("expected a publish warning")
	}
	if len(snap.Artifacts) != 0 {
		t.Errorf("expected no artifacts after failed publish, got %+v", snap.Artifacts)
	}
}

func TestNotifierSeesTerminalSnapshot(t *testing.T) {
	launcher := newFakeLauncher()
	rec := &recordingNotifier{}
	svc := newTestService(t, 5, launcher, &fakePublisher{}, rec)

	if _, err := svc.Start(context.Background(), StartRequest{AppID: "440"}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitForState(t, svc, "440", StateDownloading)
	launcher.proc("440").exitWith(0)
	waitForState(t, svc, "440", StateCompleted)

	if err := svc.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	last, ok := rec.last()
	if !ok {
		t.Fatal("notifier received no snapshots")
	}
	if last.State != StateCompleted {
		t.Errorf("last notified State = %q, want %q", last.State, StateCompleted)
	}
}

func TestShutdownWaitsForSupervisors(t *testing.T) {
	launcher := newFakeLauncher()
	svc := newTestService(t, 5, launcher, &fakePublisher{})

	if _, err := svc.Start(context.Background(), StartRequest{AppID: "440"}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitForState(t, svc, "440", StateDownloading)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := svc.Shutdown(ctx); err == nil {
		t.Error("Shutdown should time out while a supervisor is running")
	}

	launcher.proc("440").exitWith(0)
	if err := svc.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown after exit failed: %v", err)
	}
}
