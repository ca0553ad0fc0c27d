package steamcmd

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// writeScript creates an executable shell script for driving the runner
// without a real steamcmd installation.
func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "steamcmd.sh")
	script := "#!/bin/sh\n" + body
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("failed to write script: %v", err)
	}
	return path
}

func TestStartExecutableNotFound(t *testing.T) {
	r := NewRunner(filepath.Join(t.TempDir(), "missing.sh"))
	_, err := r.Start(DownloadSpec{AppID: "440", InstallDir: t.TempDir()})
	if !errors.Is(err, ErrExecutableNotFound) {
		t.Errorf("expected ErrExecutableNotFound, got %v", err)
	}
}

func TestStartNotExecutable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "steamcmd.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"), 0o644); err != nil {
		t.Fatalf("failed to write script: %v", err)
	}

	r := NewRunner(path)
	_, err := r.Start(DownloadSpec{AppID: "440", InstallDir: t.TempDir()})
	if !errors.Is(err, ErrNotExecutable) {
		t.Errorf("expected ErrNotExecutable, got %v", err)
	}
}

func TestProcessLinesAndExitCode(t *testing.T) {
	path := writeScript(t, `
echo "line one"
echo "line two" >&2
echo "line three"
exit 3
`)

	r := NewRunner(path)
	p, err := r.Start(DownloadSpec{AppID: "440", InstallDir: t.TempDir()})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	var lines []string
	for line := range p.Lines() {
		lines = append(lines, line)
	}
	if len(lines) != 3 {
		t.Errorf("got %d lines, want 3: %v", len(lines), lines)
	}

	if code := p.Wait(); code != 3 {
		t.Errorf("exit code = %d, want 3", code)
	}
}

func TestProcessSkipsEmptyLines(t *testing.T) {
	path := writeScript(t, `
echo "first"
echo ""
echo "second"
`)

	r := NewRunner(path)
	p, err := r.Start(DownloadSpec{AppID: "440", InstallDir: t.TempDir()})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	var lines []string
	for line := range p.Lines() {
		lines = append(lines, line)
	}
	if len(lines) != 2 || lines[0] != "first" || lines[1] != "second" {
		t.Errorf("unexpected lines: %v", lines)
	}
	p.Wait()
}

func TestTerminateStopsSleepingProcess(t *testing.T) {
	path := writeScript(t, `
echo "started"
sleep 60
`)

	r := NewRunner(path)
	p, err := r.Start(DownloadSpec{AppID: "440", InstallDir: t.TempDir()})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// Wait for the first line so we know the process is up.
	select {
	case <-p.Lines():
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for process output")
	}

	p.Terminate()
	// Repeated terminates are no-ops.
	p.Terminate()

	doneCh := make(chan int, 1)
	go func() { doneCh <- p.Wait() }()

	select {
	case code := <-doneCh:
		if code == 0 {
			t.Errorf("terminated process reported exit code 0")
		}
	case <-time.After(10 * time.Second):
		t.Fatal("process did not exit after Terminate")
	}
}

func TestTerminateKillsChildProcesses(t *testing.T) {
	// The child inherits the output pipe; unless the whole process group is
	// signalled it survives, the pipe stays open, and Wait never returns.
	path := writeScript(t, `
echo "started"
sleep 60 &
wait
`)

	r := NewRunner(path)
	p, err := r.Start(DownloadSpec{AppID: "440", InstallDir: t.TempDir()})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	select {
	case <-p.Lines():
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for process output")
	}

	p.Terminate()

	doneCh := make(chan int, 1)
	go func() { doneCh <- p.Wait() }()

	select {
	case <-doneCh:
	case <-time.After(10 * time.Second):
		t.Fatal("process group did not exit after Terminate")
	}
}

func TestOversizedLineSurfacesReadError(t *testing.T) {
	path := writeScript(t, `
head -c 2000000 /dev/zero | tr '\0' 'a'
echo
`)

	r := NewRunner(path)
	p, err := r.Start(DownloadSpec{AppID: "440", InstallDir: t.TempDir()})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	for range p.Lines() {
	}
	p.Wait()

	if p.Err() == nil {
		t.Error("expected a read error for an oversized line")
	}
}

func TestDownloadSpecArgs(t *testing.T) {
	tests := []struct {
		name string
		spec DownloadSpec
		want []string
	}{
		{
			name: "anonymous by default",
			spec: DownloadSpec{AppID: "440", InstallDir: "/d/440"},
			want: []string{"+login", "anonymous", "+force_install_dir", "/d/440", "+app_update", "440", "validate", "+quit"},
		},
		{
			name: "explicit anonymous",
			spec: DownloadSpec{AppID: "440", Username: "anonymous", InstallDir: "/d/440"},
			want: []string{"+login", "anonymous", "+force_install_dir", "/d/440", "+app_update", "440", "validate", "+quit"},
		},
		{
			name: "credentialed with guard code",
			spec: DownloadSpec{AppID: "730", Username: "u", Password: "p", GuardCode: "GG", InstallDir: "/d/730"},
			want: []string{"+login", "u", "p", "GG", "+force_install_dir", "/d/730", "+app_update", "730", "validate", "+quit"},
		},
		{
			name: "credentialed without guard code",
			spec: DownloadSpec{AppID: "730", Username: "u", Password: "p", InstallDir: "/d/730"},
			want: []string{"+login", "u", "p", "+force_install_dir", "/d/730", "+app_update", "730", "validate", "+quit"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.spec.args()
			if len(got) != len(tt.want) {
				t.Fatalf("args = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("args[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}
