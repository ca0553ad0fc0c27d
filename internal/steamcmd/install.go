package steamcmd

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

const (
	verifyTimeout = 30 * time.Second
	updateTimeout = 60 * time.Second
)

// Verify checks that the steamcmd installation is present, executable, and
// able to start. It runs "steamcmd +quit" bounded by a timeout.
func (r *Runner) Verify(ctx context.Context) error {
	if err := checkExecutable(r.execPath); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, verifyTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, r.execPath, "+quit").CombinedOutput()
	if err != nil {
		return fmt.Errorf("steamcmd verification failed: %w: %s", err, lastLine(out))
	}
	return nil
}

// Update lets steamcmd self-update by performing an anonymous login and
// quitting. Failures are not fatal to the service; callers typically just
// log them.
func (r *Runner) Update(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, updateTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, r.execPath, "+login", "anonymous", "+quit").CombinedOutput()
	if err != nil {
		return fmt.Errorf("steamcmd update failed: %w: %s", err, lastLine(out))
	}
	return nil
}

func lastLine(out []byte) string {
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	if len(lines) == 0 {
		return ""
	}
	return strings.TrimSpace(lines[len(lines)-1])
}
