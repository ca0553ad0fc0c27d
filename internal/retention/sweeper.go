// Package retention removes stale download and published artifact trees so a
// long-running engine does not fill its volume.
package retention

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Orochidara23000/Game-Downloader/internal/health"
	"github.com/Orochidara23000/Game-Downloader/internal/logger"
	"github.com/Orochidara23000/Game-Downloader/internal/metrics"
)

// JobSource reports whether a download is still in flight, so the sweeper
// never deletes from under an active job.
type JobSource interface {
	Live(appID string) bool
}

// Sweeper periodically deletes aged entries under the download and public
// roots. Published copies are kept twice as long as raw downloads since
// clients may still be fetching them.
type Sweeper struct {
	downloadRoot string
	publicRoot   string
	volumePath   string
	maxAge       time.Duration
	interval     time.Duration
	jobs         JobSource
	metrics      *metrics.Metrics
	log          *logger.Logger
}

// Config holds sweeper configuration. Metrics is optional.
type Config struct {
	DownloadRoot string
	PublicRoot   string
	VolumePath   string
	MaxAge       time.Duration
	Interval     time.Duration
	Jobs         JobSource
	Metrics      *metrics.Metrics
}

// New creates a sweeper from the given configuration.
func New(cfg *Config) *Sweeper {
	return &Sweeper{
		downloadRoot: cfg.DownloadRoot,
		publicRoot:   cfg.PublicRoot,
		volumePath:   cfg.VolumePath,
		maxAge:       cfg.MaxAge,
		interval:     cfg.Interval,
		jobs:         cfg.Jobs,
		metrics:      cfg.Metrics,
		log:          logger.Default().WithComponent("retention"),
	}
}

// Run sweeps on the configured interval until ctx is cancelled. One sweep
// runs immediately at startup.
func (s *Sweeper) Run(ctx context.Context) {
	s.log.Info(ctx, "retention sweeper started", map[string]interface{}{
		"interval": s.interval.String(),
		"max_age":  s.maxAge.String(),
	})

	s.Sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info(ctx, "retention sweeper stopped")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep removes aged entries from both roots and refreshes the disk usage
// gauge. Errors are logged, not returned; a failed sweep retries on the next
// tick.
func (s *Sweeper) Sweep(ctx context.Context) {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.sweepRoot(ctx, s.downloadRoot, s.maxAge)
	})
	g.Go(func() error {
		return s.sweepRoot(ctx, s.publicRoot, 2*s.maxAge)
	})

	if err := g.Wait(); err != nil {
		s.log.Warn(ctx, "retention sweep incomplete", map[string]interface{}{
			"error": err.Error(),
		})
	}

	s.updateDiskUsage()
}

// sweepRoot deletes top-level entries whose newest content is older than
// maxAge. Entries belonging to live jobs are skipped regardless of age.
func (s *Sweeper) sweepRoot(ctx context.Context, root string, maxAge time.Duration) error {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if s.jobs != nil && s.jobs.Live(entry.Name()) {
			continue
		}

		path := filepath.Join(root, entry.Name())
		newest, err := newestModTime(path)
		if err != nil {
			s.log.Warn(ctx, "failed to stat retention candidate", map[string]interface{}{
				"path":  path,
				"error": err.Error(),
			})
			continue
		}
		if newest.After(cutoff) {
			continue
		}

		if err := os.RemoveAll(path); err != nil {
			s.log.Warn(ctx, "failed to remove aged entry", map[string]interface{}{
				"path":  path,
				"error": err.Error(),
			})
			continue
		}
		removed++
	}

	if removed > 0 {
		s.log.Info(ctx, "removed aged entries", map[string]interface{}{
			"root":    root,
			"removed": removed,
		})
	}
	return nil
}

// newestModTime walks path and returns the most recent modification time
// found, so a tree still being written into never looks stale.
func newestModTime(path string) (time.Time, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return time.Time{}, err
	}
	newest := info.ModTime()
	if !info.IsDir() {
		return newest, nil
	}

	err = filepath.WalkDir(path, func(p string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		if fi.ModTime().After(newest) {
			newest = fi.ModTime()
		}
		return nil
	})
	if err != nil {
		return time.Time{}, err
	}
	return newest, nil
}

func (s *Sweeper) updateDiskUsage() {
	if s.metrics == nil {
		return
	}
	free, total, err := health.DiskUsage(s.volumePath)
	if err != nil {
		return
	}
	s.metrics.DiskUsage.Set(float64(total - free))
}
