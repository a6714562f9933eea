package songs

import (
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// Reloader periodically rebuilds the catalog from a directory and swaps it
// into the library.
type Reloader struct {
	lib    *Library
	dir    string
	clock  clockwork.Clock
	logger *zap.Logger
	sched  gocron.Scheduler
}

func NewReloader(lib *Library, dir string, clock clockwork.Clock, logger *zap.Logger) *Reloader {
	return &Reloader{
		lib:    lib,
		dir:    dir,
		clock:  clock,
		logger: logger.Named("songs"),
	}
}

// Reload loads the directory once. On error the current catalog stays.
func (r *Reloader) Reload() error {
	c, err := LoadDir(r.dir, r.clock.Now(), r.logger)
	if err != nil {
		return err
	}
	old := r.lib.Swap(c)
	r.logger.Info("song catalog loaded",
		zap.String("dir", r.dir),
		zap.Int("songs", c.Len()),
		zap.Int("previous", old.Len()),
	)
	return nil
}

// Start schedules Reload every interval.
func (r *Reloader) Start(interval time.Duration) error {
	s, err := gocron.NewScheduler(gocron.WithClock(r.clock))
	if err != nil {
		return fmt.Errorf("create scheduler: %w", err)
	}
	_, err = s.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			if err := r.Reload(); err != nil {
				r.logger.Warn("song catalog reload failed", zap.Error(err))
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = s.Shutdown()
		return fmt.Errorf("schedule reload: %w", err)
	}
	s.Start()
	r.sched = s
	return nil
}

func (r *Reloader) Stop() error {
	if r.sched == nil {
		return nil
	}
	return r.sched.Shutdown()
}
