package inbox

import (
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

const DefaultPollInterval = 30 * time.Second

// Refresher runs the engine's poll on a fixed interval. Restart replaces the
// running job; it is called whenever the mailbox, unread flag, query,
// auto-tag enablement or visibility changes.
type Refresher struct {
	interval time.Duration
	tick     func()
	logger   *slog.Logger

	mu     sync.Mutex
	cron   *cron.Cron
	closed bool
}

func newRefresher(interval time.Duration, tick func(), logger *slog.Logger) *Refresher {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Refresher{interval: interval, tick: tick, logger: logger}
}

// Restart tears down the current job and, if run is true, schedules a new
// one. The old job is not waited for, since it may be the caller.
func (r *Refresher) Restart(run bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopLocked()
	if !run || r.closed {
		return
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	c.Schedule(cron.Every(r.interval), cron.FuncJob(r.tick))
	c.Start()
	r.cron = c
	r.logger.Debug("refresher started", "interval", r.interval)
}

// Running reports whether a job is scheduled.
func (r *Refresher) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cron != nil
}

// Close stops the job for good.
func (r *Refresher) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopLocked()
	r.closed = true
}

func (r *Refresher) stopLocked() {
	if r.cron == nil {
		return
	}
	r.cron.Stop()
	r.cron = nil
}
