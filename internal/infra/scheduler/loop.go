package scheduler

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"event_reminder_bot/internal/domain/reminder"
)

// ErrStoreUnavailable marks dispatch failures caused by an unreachable
// event store or ledger. The tick is aborted and retried at the next
// interval; affected jobs stay armed and their attempt count is untouched.
var ErrStoreUnavailable = errors.New("backing store unavailable")

// maxRetryBackoff caps the exponential re-arm delay for failed jobs.
const maxRetryBackoff = 10 * time.Minute

// Dispatcher delivers one due job to its recipients. A nil return means every
// recipient reached a terminal outcome and the job can be cleared.
type Dispatcher interface {
	Dispatch(ctx context.Context, job Job) error
}

// Metrics receives loop health signals. Implementations must be
// fire-and-forget: never block and never propagate errors. A nil sink
// disables metrics.
type Metrics interface {
	TickCompleted(duration time.Duration, dispatched int, err error)
	ConsecutiveTickFailures(n int)
}

// Config holds the scheduler loop tuning knobs.
type Config struct {
	TickInterval time.Duration
	MisfireGrace time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
}

// Loop is the single timer-driven dispatcher. At each tick it collects due
// jobs from the store, coalesces stale misfires, and hands each surviving job
// to the Dispatcher exactly once.
type Loop struct {
	cfg        Config
	store      *JobStore
	dispatcher Dispatcher
	clock      Clock
	observer   reminder.Observer
	metrics    Metrics
	logger     *logrus.Entry

	mu       sync.Mutex
	running  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	failures int // consecutive tick failures, for the degraded-health signal
}

func NewLoop(cfg Config, store *JobStore, dispatcher Dispatcher, observer reminder.Observer, logger *logrus.Entry) *Loop {
	return &Loop{
		cfg:        cfg,
		store:      store,
		dispatcher: dispatcher,
		clock:      SystemClock,
		observer:   observer,
		logger:     logger,
	}
}

// WithClock overrides the time source.
func (l *Loop) WithClock(clock Clock) *Loop {
	l.clock = clock
	return l
}

// WithMetrics attaches a metrics sink to the loop.
func (l *Loop) WithMetrics(m Metrics) *Loop {
	l.metrics = m
	return l
}

// Start transitions the loop from Stopped to Running. Starting a running
// loop is a no-op.
func (l *Loop) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	l.running = true
	l.wg.Add(1)
	go l.run(ctx)
	l.logger.WithField("tick_interval", l.cfg.TickInterval.String()).Info("Scheduler loop started")
}

// Stop transitions the loop back to Stopped. It blocks until the in-flight
// tick finishes so a batch is never left half-dispatched.
func (l *Loop) Stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	l.running = false
	cancel := l.cancel
	l.mu.Unlock()

	cancel()
	l.wg.Wait()
	l.logger.Info("Scheduler loop stopped")
}

func (l *Loop) run(ctx context.Context) {
	defer l.wg.Done()

	ticker := time.NewTicker(l.cfg.TickInterval)
	defer ticker.Stop()

	// First tick fires immediately so catch-up after OnStartup is prompt.
	l.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.tick(ctx)
		}
	}
}

// tick processes one poll cycle. Per-job failures are contained here; only a
// store outage aborts the remainder of the batch.
func (l *Loop) tick(ctx context.Context) {
	started := l.clock()
	due := l.store.DueBefore(started)

	fire := l.coalesce(due, started)

	dispatched := 0
	var tickErr error
	for _, job := range fire {
		if ctx.Err() != nil {
			break
		}
		err := l.dispatcher.Dispatch(ctx, job)
		switch {
		case err == nil:
			l.store.Cancel(job.Key)
			dispatched++
		case errors.Is(err, ErrStoreUnavailable):
			// Jobs remain armed, attempts untouched; retried next interval.
			l.logger.WithError(err).WithField("job_key", job.Key).Warn("Tick aborted, store unavailable")
			tickErr = err
		default:
			l.rearmOrDrop(job, started, err)
		}
		if tickErr != nil {
			break
		}
	}

	if tickErr != nil {
		l.failures++
	} else {
		l.failures = 0
	}
	if l.metrics != nil {
		l.metrics.TickCompleted(l.clock().Sub(started), dispatched, tickErr)
		l.metrics.ConsecutiveTickFailures(l.failures)
	}
	if l.failures > 1 {
		l.logger.WithField("consecutive_failures", l.failures).Warn("Scheduler loop degraded")
	}
}

// coalesce drops stale misfired duplicates: for each event, among jobs whose
// due instant passed more than their misfire window ago, only the most recent
// one is dispatched. A restart after long downtime therefore sends one
// relevant reminder per event instead of a storm of stale ones. A job may
// carry its own window; kinds like "started 15 minutes ago" use a tight one.
func (l *Loop) coalesce(due []Job, now time.Time) []Job {
	staleByEvent := make(map[int64]Job)
	var fresh []Job
	for _, job := range due {
		grace := l.cfg.MisfireGrace
		if job.Grace > 0 {
			grace = job.Grace
		}
		if now.Sub(job.DueAt) <= grace {
			fresh = append(fresh, job)
			continue
		}
		best, ok := staleByEvent[job.EventID]
		if !ok {
			staleByEvent[job.EventID] = job
			continue
		}
		drop := job
		if job.DueAt.After(best.DueAt) {
			staleByEvent[job.EventID] = job
			drop = best
		}
		l.store.Cancel(drop.Key)
		l.observer.Record(drop.EventID, 0, drop.Kind, reminder.OutcomeCoalesced)
		l.logger.WithFields(logrus.Fields{
			"event_id": drop.EventID,
			"kind":     drop.Kind,
			"due_at":   drop.DueAt.Format(time.RFC3339),
		}).Info("Coalesced stale misfired reminder")
	}

	fire := fresh
	for _, job := range staleByEvent {
		fire = append(fire, job)
	}
	return fire
}

func (l *Loop) rearmOrDrop(job Job, now time.Time, cause error) {
	job.Attempts++
	logCtx := l.logger.WithError(cause).WithFields(logrus.Fields{
		"event_id": job.EventID,
		"kind":     job.Kind,
		"attempts": job.Attempts,
	})

	if job.Attempts >= l.cfg.MaxRetries {
		l.store.Cancel(job.Key)
		l.observer.Record(job.EventID, 0, job.Kind, reminder.OutcomeDropped)
		logCtx.Error("Reminder job dropped, retries exhausted")
		return
	}

	backoff := backoffWithJitter(l.cfg.RetryBackoff, maxRetryBackoff, job.Attempts)
	job.DueAt = now.Add(backoff)
	l.store.Upsert(job)
	logCtx.WithField("next_due", job.DueAt.Format(time.RFC3339)).Warn("Reminder job re-armed after dispatch failure")
}

// backoffWithJitter grows the base delay exponentially per attempt, capped at
// max, with up to 50% random jitter to avoid synchronized retries.
func backoffWithJitter(base, max time.Duration, attempt int) time.Duration {
	if attempt <= 0 {
		return base
	}
	exp := float64(base) * math.Pow(2, float64(attempt-1))
	wait := time.Duration(exp)
	if wait > max {
		wait = max
	}
	jitter := time.Duration(rand.Int63n(int64(wait/2) + 1))
	return wait/2 + jitter
}
