package sweeper

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ErlanBelekov/script-runner/internal/metrics"
	"github.com/robfig/cron/v3"
)

// Sweeper removes script files that an engine left behind, e.g. after a
// crash between writing a script and cleaning it up.
type Sweeper struct {
	dir      string
	prefix   string
	maxAge   time.Duration
	schedule cron.Schedule
	logger   *slog.Logger
	now      func() time.Time
}

// New parses expr as a standard five-field cron expression.
func New(dir, prefix, expr string, maxAge time.Duration, logger *slog.Logger) (*Sweeper, error) {
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("parse sweep schedule %q: %w", expr, err)
	}
	return &Sweeper{
		dir:      dir,
		prefix:   prefix,
		maxAge:   maxAge,
		schedule: sched,
		logger:   logger.With("component", "sweeper"),
		now:      time.Now,
	}, nil
}

func (s *Sweeper) Start(ctx context.Context) {
	s.logger.InfoContext(ctx, "sweeper started", "dir", s.dir, "max_age", s.maxAge)

	for {
		next := s.schedule.Next(s.now())
		timer := time.NewTimer(time.Until(next))

		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.InfoContext(ctx, "sweeper shut down")
			return
		case <-timer.C:
			start := time.Now()
			removed, err := s.Sweep(ctx)
			metrics.SweeperCycleDuration.Observe(time.Since(start).Seconds())
			if err != nil {
				s.logger.ErrorContext(ctx, "sweep", "error", err)
			} else if removed > 0 {
				s.logger.InfoContext(ctx, "removed orphaned scripts", "count", removed)
			}
		}
	}
}

// Sweep deletes every engine script in the directory older than maxAge and
// returns how many it removed. A missing directory is not an error.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("read script dir: %w", err)
	}

	cutoff := s.now().Add(-s.maxAge)
	removed := 0
	for _, e := range entries {
		if ctx.Err() != nil {
			return removed, ctx.Err()
		}
		if e.IsDir() || !strings.HasPrefix(e.Name(), s.prefix) {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}

		path := filepath.Join(s.dir, e.Name())
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			s.logger.WarnContext(ctx, "remove orphaned script", "path", path, "error", err)
			continue
		}
		removed++
		metrics.SweeperRemovedTotal.Inc()
	}
	return removed, nil
}
