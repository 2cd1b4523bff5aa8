// Package tmpsweep removes orphaned "avgate-upload-*" temp files: spill
// files a buffer.Buffer created on disk whose owning request crashed or
// was killed before its cleanup queue ran. It combines a periodic
// age-based sweep with an fsnotify watch on the spill directory so
// spill-file events between sweeps are logged at DebugLevel, following the
// fsnotify.Watcher wrapping and event-forwarding goroutine in
// gobeaver-filekit's driver/local/watcher.go.
package tmpsweep

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

const filePrefix = "avgate-upload-"

// Config controls where the sweeper looks and how stale a file must be
// before it's considered orphaned.
type Config struct {
	Dir      string
	MaxAge   time.Duration
	Interval time.Duration
}

func (c Config) withDefaults() Config {
	if c.Dir == "" {
		c.Dir = os.TempDir()
	}
	if c.MaxAge <= 0 {
		c.MaxAge = 1 * time.Hour
	}
	if c.Interval <= 0 {
		c.Interval = 10 * time.Minute
	}
	return c
}

// Sweeper periodically deletes orphaned spill files.
type Sweeper struct {
	cfg Config
	log *logrus.Logger
}

// New builds a Sweeper. Run must be called for it to do anything.
func New(cfg Config, log *logrus.Logger) *Sweeper {
	return &Sweeper{cfg: cfg.withDefaults(), log: log}
}

// Run blocks until ctx is cancelled, sweeping cfg.Dir on cfg.Interval
// and logging, at DebugLevel, the fsnotify events for avgate-upload-*
// files in between sweeps. A watcher setup failure is logged and Run degrades to
// ticker-only sweeping rather than exiting, since the age-based sweep
// alone is sufficient to reclaim orphaned files.
func (s *Sweeper) Run(ctx context.Context) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		s.log.WithError(err).Warn("tmpsweep: failed to start filesystem watcher, falling back to periodic sweep only")
		watcher = nil
	}
	if watcher != nil {
		defer watcher.Close()
		if err := watcher.Add(s.cfg.Dir); err != nil {
			s.log.WithError(err).Warn("tmpsweep: failed to watch temp directory")
		}
	}

	s.sweepOnce()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	var events <-chan fsnotify.Event
	var errs <-chan error
	if watcher != nil {
		events = watcher.Events
		errs = watcher.Errors
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepOnce()
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if strings.HasPrefix(filepath.Base(ev.Name), filePrefix) {
				s.log.WithFields(logrus.Fields{"file": ev.Name, "op": ev.Op.String()}).Debug("tmpsweep: observed spill file event")
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			s.log.WithError(err).Warn("tmpsweep: watcher error")
		}
	}
}

// sweepOnce deletes every avgate-upload-* file in cfg.Dir older than
// cfg.MaxAge. Entries that vanish between listing and stat (the normal
// case of a request finishing its own cleanup mid-sweep) are ignored.
func (s *Sweeper) sweepOnce() {
	entries, err := os.ReadDir(s.cfg.Dir)
	if err != nil {
		s.log.WithError(err).Warn("tmpsweep: failed to list temp directory")
		return
	}

	cutoff := time.Now().Add(-s.cfg.MaxAge)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), filePrefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(s.cfg.Dir, entry.Name())
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			s.log.WithError(err).WithField("file", path).Warn("tmpsweep: failed to remove orphaned file")
			continue
		}
		removed++
	}
	if removed > 0 {
		s.log.WithField("removed", removed).Info("tmpsweep: removed orphaned upload spill files")
	}
}
