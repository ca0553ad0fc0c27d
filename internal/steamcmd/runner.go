package steamcmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"
)

// Spawn precondition and launch failures.
var (
	ErrExecutableNotFound = errors.New("steamcmd executable not found")
	ErrNotExecutable      = errors.New("steamcmd executable lacks execute permission")
	ErrSpawnFailed        = errors.New("failed to spawn steamcmd")
)

// terminateGrace is how long Terminate waits for a clean exit after SIGTERM
// before escalating to SIGKILL.
const terminateGrace = 2 * time.Second

// Runner launches steamcmd processes.
type Runner struct {
	execPath string
}

// NewRunner creates a runner for the steamcmd executable at execPath.
func NewRunner(execPath string) *Runner {
	return &Runner{execPath: execPath}
}

// ExecPath returns the configured steamcmd path.
func (r *Runner) ExecPath() string {
	return r.execPath
}

// DownloadSpec describes one app download request.
type DownloadSpec struct {
	AppID      string
	Username   string
	Password   string
	GuardCode  string
	InstallDir string
}

// args builds the steamcmd argument list. Anonymous login is the default;
// credentialed login appends password and Steam Guard code when provided.
func (s DownloadSpec) args() []string {
	args := []string{"+login"}
	if s.Username == "" || s.Username == "anonymous" {
		args = append(args, "anonymous")
	} else {
		args = append(args, s.Username)
		if s.Password != "" {
			args = append(args, s.Password)
		}
		if s.GuardCode != "" {
			args = append(args, s.GuardCode)
		}
	}
	args = append(args,
		"+force_install_dir", s.InstallDir,
		"+app_update", s.AppID, "validate",
		"+quit",
	)
	return args
}

// Start launches a steamcmd download. The returned Process owns the child;
// its combined stdout/stderr is exposed as a line stream.
func (r *Runner) Start(spec DownloadSpec) (*Process, error) {
	if err := checkExecutable(r.execPath); err != nil {
		return nil, err
	}
	return startProcess(r.execPath, spec.args())
}

func checkExecutable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrExecutableNotFound, path)
	}
	if info.Mode()&0o111 == 0 {
		return fmt.Errorf("%w: %s", ErrNotExecutable, path)
	}
	return nil
}

// Process is one running steamcmd invocation.
type Process struct {
	cmd      *exec.Cmd
	lines    chan string
	done     chan struct{}
	termOnce sync.Once
	exitCode int
	readErr  error
}

func startProcess(path string, args []string) (*Process, error) {
	cmd := exec.Command(path, args...)
	// Own process group, so Terminate can signal steamcmd together with any
	// children it spawns. A surviving child would keep the output pipe open
	// and the line stream would never end.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	// One pipe carries both streams so output ordering is preserved.
	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSpawnFailed, err)
	}
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		pr.Close()
		pw.Close()
		return nil, fmt.Errorf("%w: %v", ErrSpawnFailed, err)
	}
	// Close the parent's write end so the read side sees EOF when the child
	// exits.
	pw.Close()

	p := &Process{
		cmd:   cmd,
		lines: make(chan string, 64),
		done:  make(chan struct{}),
	}
	go p.drain(pr)
	return p, nil
}

// drain pumps output lines until the child closes its output, then reaps it.
func (p *Process) drain(r io.ReadCloser) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line != "" {
			p.lines <- line
		}
	}
	p.readErr = scanner.Err()
	r.Close()
	close(p.lines)

	err := p.cmd.Wait()
	p.exitCode = exitCodeOf(p.cmd, err)
	close(p.done)
}

func exitCodeOf(cmd *exec.Cmd, waitErr error) int {
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	if waitErr != nil {
		return -1
	}
	return 0
}

// Lines returns the process output as a line stream. The channel is closed
// when the process closes its output; it is not restartable.
func (p *Process) Lines() <-chan string {
	return p.lines
}

// Wait blocks until the process has exited and the output stream is fully
// drained, then returns the exit code.
func (p *Process) Wait() int {
	<-p.done
	return p.exitCode
}

// Err reports a read failure on the output stream, e.g. a line exceeding the
// scanner buffer. It returns nil until the process has exited.
func (p *Process) Err() error {
	select {
	case <-p.done:
		return p.readErr
	default:
		return nil
	}
}

// Terminate requests a graceful stop, escalating to SIGKILL if the process
// has not exited within the grace period. Signals go to the whole process
// group: steamcmd's children share the output pipe, and any survivor would
// keep the line stream from reaching EOF. Terminating an already-exited
// process is a no-op.
func (p *Process) Terminate() {
	p.termOnce.Do(func() {
		select {
		case <-p.done:
			return
		default:
		}

		if p.cmd.Process == nil {
			return
		}
		pgid := p.cmd.Process.Pid
		_ = syscall.Kill(-pgid, syscall.SIGTERM)

		go func() {
			select {
			case <-p.done:
			case <-time.After(terminateGrace):
				_ = syscall.Kill(-pgid, syscall.SIGKILL)
			}
		}()
	})
}
