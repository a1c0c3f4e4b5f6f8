package remote

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/lesleslie/oneiric/internal/logging"
	"github.com/lesleslie/oneiric/internal/resilience"
)

// RefreshLoop repeats Loader.Sync on an interval, skipping overlapping
// runs, logging and swallowing errors rather than crashing, and honoring
// cancellation on Stop.
type RefreshLoop struct {
	loader   *Loader
	url      string
	interval time.Duration
	timeout  time.Duration
	retry    resilience.RetryPolicy
	log      *logging.Logger

	onResult func(SyncResult, error)

	mu       sync.Mutex
	cancel   context.CancelFunc
	stopped  chan struct{}
	running  bool
	schedule cron.Schedule
}

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// SetCronSchedule parses a standard 5-field cron expression and switches
// the loop from a fixed interval to cron-driven timing: refreshes then
// fire at the schedule's next occurrence rather than every r.interval.
// Takes effect on the next Start.
func (r *RefreshLoop) SetCronSchedule(expr string) error {
	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.schedule = schedule
	r.mu.Unlock()
	return nil
}

// NewRefreshLoop builds a RefreshLoop. onResult, if non-nil, is invoked
// after every iteration (success or failure) so callers (typically the
// Runtime Orchestrator) can update a health snapshot.
func NewRefreshLoop(loader *Loader, url string, interval, timeout time.Duration, retry resilience.RetryPolicy, log *logging.Logger, onResult func(SyncResult, error)) *RefreshLoop {
	if log == nil {
		log = logging.NewFromEnv("remote")
	}
	return &RefreshLoop{loader: loader, url: url, interval: interval, timeout: timeout, retry: retry, log: log, onResult: onResult}
}

// Start launches the loop. Calling Start on an already-running loop is an
// error.
func (r *RefreshLoop) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return errAlreadyRunning
	}
	loopCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.stopped = make(chan struct{})
	r.running = true
	r.mu.Unlock()

	go r.run(loopCtx)
	return nil
}

// Stop cancels the loop and awaits its completion. It is a no-op on a
// loop that is not running.
func (r *RefreshLoop) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	cancel := r.cancel
	stopped := r.stopped
	r.mu.Unlock()

	cancel()
	<-stopped
}

func (r *RefreshLoop) run(ctx context.Context) {
	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
		close(r.stopped)
	}()

	r.mu.Lock()
	schedule := r.schedule
	r.mu.Unlock()

	if schedule != nil {
		r.runCron(ctx, schedule)
		return
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *RefreshLoop) runCron(ctx context.Context, schedule cron.Schedule) {
	for {
		next := schedule.Next(time.Now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			r.tick(ctx)
		}
	}
}

func (r *RefreshLoop) tick(ctx context.Context) {
	result, err := r.loader.Sync(ctx, r.url, r.timeout, r.retry)
	if err != nil {
		r.log.WithContext(ctx).WithError(err).Warn("remote: scheduled manifest sync failed")
	} else {
		r.log.LogRemoteSync(ctx, result.Source, result.Registered, result.Skipped, result.Duration, nil)
	}
	if r.onResult != nil {
		r.onResult(result, err)
	}
}

// RunOnce performs a single sync cycle synchronously, outside the loop's
// schedule.
func (r *RefreshLoop) RunOnce(ctx context.Context) (SyncResult, error) {
	return r.loader.Sync(ctx, r.url, r.timeout, r.retry)
}
