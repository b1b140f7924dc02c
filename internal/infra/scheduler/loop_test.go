package scheduler

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"event_reminder_bot/internal/domain/reminder"
)

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l.WithField("component", "test")
}

// fixedClock returns the same instant on every call.
func fixedClock(t time.Time) Clock {
	return func() time.Time { return t }
}

// mockDispatcher records dispatched jobs and fails on demand.
type mockDispatcher struct {
	mu         sync.Mutex
	dispatched []Job
	errByKey   map[string]error
}

func newMockDispatcher() *mockDispatcher {
	return &mockDispatcher{errByKey: make(map[string]error)}
}

func (d *mockDispatcher) Dispatch(ctx context.Context, job Job) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err, ok := d.errByKey[job.Key]; ok {
		return err
	}
	d.dispatched = append(d.dispatched, job)
	return nil
}

func (d *mockDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.dispatched)
}

// recordingObserver captures delivery outcomes.
type recordingObserver struct {
	mu       sync.Mutex
	outcomes map[reminder.Outcome]int
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{outcomes: make(map[reminder.Outcome]int)}
}

func (o *recordingObserver) Record(eventID, recipientID int64, kind reminder.Kind, outcome reminder.Outcome) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes[outcome]++
}

func (o *recordingObserver) count(outcome reminder.Outcome) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.outcomes[outcome]
}

func newTestLoop(store *JobStore, dispatcher Dispatcher, observer reminder.Observer, now time.Time) *Loop {
	cfg := Config{
		TickInterval: time.Second,
		MisfireGrace: 5 * time.Minute,
		MaxRetries:   3,
		RetryBackoff: 30 * time.Second,
	}
	return NewLoop(cfg, store, dispatcher, observer, testLogger()).WithClock(fixedClock(now))
}

func TestTickDispatchesDueJobsOnce(t *testing.T) {
	now := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	store := NewJobStore()
	dispatcher := newMockDispatcher()
	loop := newTestLoop(store, dispatcher, newRecordingObserver(), now)

	store.Upsert(Job{Key: JobKey(1, "T-1h"), EventID: 1, Kind: "T-1h", DueAt: now.Add(-time.Minute)})
	store.Upsert(Job{Key: JobKey(2, "T-1h"), EventID: 2, Kind: "T-1h", DueAt: now.Add(time.Hour)})

	loop.tick(context.Background())
	if dispatcher.count() != 1 {
		t.Fatalf("expected 1 dispatch, got %d", dispatcher.count())
	}
	if store.Len() != 1 {
		t.Errorf("dispatched job must be cleared, store has %d jobs", store.Len())
	}

	// The same instant again: the fired job is gone, nothing new is due.
	loop.tick(context.Background())
	if dispatcher.count() != 1 {
		t.Errorf("job fired twice, got %d dispatches", dispatcher.count())
	}
}

func TestTickCoalescesStaleMisfiresPerEvent(t *testing.T) {
	now := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	store := NewJobStore()
	dispatcher := newMockDispatcher()
	observer := newRecordingObserver()
	loop := newTestLoop(store, dispatcher, observer, now)

	// Three reminders for event 1 missed during downtime, all past grace.
	store.Upsert(Job{Key: JobKey(1, "T-24h"), EventID: 1, Kind: "T-24h", DueAt: now.Add(-24 * time.Hour)})
	store.Upsert(Job{Key: JobKey(1, "T-6h"), EventID: 1, Kind: "T-6h", DueAt: now.Add(-6 * time.Hour)})
	store.Upsert(Job{Key: JobKey(1, "T-1h"), EventID: 1, Kind: "T-1h", DueAt: now.Add(-time.Hour)})
	// A fresh reminder for event 2, inside the grace window.
	store.Upsert(Job{Key: JobKey(2, "T-15m"), EventID: 2, Kind: "T-15m", DueAt: now.Add(-time.Minute)})

	loop.tick(context.Background())

	if dispatcher.count() != 2 {
		t.Fatalf("expected 2 dispatches (latest stale + fresh), got %d", dispatcher.count())
	}
	var sawLatestStale bool
	for _, job := range dispatcher.dispatched {
		if job.EventID == 1 {
			if job.Kind != "T-1h" {
				t.Errorf("coalescing kept %q, want the most recent kind T-1h", job.Kind)
			}
			sawLatestStale = true
		}
	}
	if !sawLatestStale {
		t.Error("no stale reminder survived coalescing for event 1")
	}
	if got := observer.count(reminder.OutcomeCoalesced); got != 2 {
		t.Errorf("expected 2 coalesced outcomes, got %d", got)
	}
	if store.Len() != 0 {
		t.Errorf("expected empty store after tick, got %d jobs", store.Len())
	}
}

func TestTickHonorsPerJobMisfireWindow(t *testing.T) {
	now := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	store := NewJobStore()
	dispatcher := newMockDispatcher()
	observer := newRecordingObserver()
	loop := newTestLoop(store, dispatcher, observer, now)

	// Both jobs are 3 minutes late. The global window (5m) still covers
	// that, but the after-the-event kind carries a tighter 1m window of its
	// own, so it counts as stale.
	store.Upsert(Job{Key: JobKey(1, "T-1h"), EventID: 1, Kind: "T-1h", DueAt: now.Add(-3 * time.Minute)})
	store.Upsert(Job{Key: JobKey(2, "T+15m"), EventID: 2, Kind: "T+15m", DueAt: now.Add(-3 * time.Minute), Grace: time.Minute})

	loop.tick(context.Background())

	if dispatcher.count() != 2 {
		t.Fatalf("expected 2 dispatches (a lone stale job still fires), got %d", dispatcher.count())
	}
	if got := observer.count(reminder.OutcomeCoalesced); got != 0 {
		t.Errorf("coalesced outcomes = %d, want 0", got)
	}

	// With a sibling stale job on the same event, the tight-window job is
	// the older one and gets coalesced away.
	store.Upsert(Job{Key: JobKey(3, "T+15m"), EventID: 3, Kind: "T+15m", DueAt: now.Add(-3 * time.Minute), Grace: time.Minute})
	store.Upsert(Job{Key: JobKey(3, "T+30m"), EventID: 3, Kind: "T+30m", DueAt: now.Add(-2 * time.Minute), Grace: time.Minute})

	loop.tick(context.Background())
	if got := observer.count(reminder.OutcomeCoalesced); got != 1 {
		t.Errorf("coalesced outcomes = %d, want 1", got)
	}
}

func TestTickRearmsFailedJobWithBackoff(t *testing.T) {
	now := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	store := NewJobStore()
	dispatcher := newMockDispatcher()
	loop := newTestLoop(store, dispatcher, newRecordingObserver(), now)

	key := JobKey(1, "T-1h")
	store.Upsert(Job{Key: key, EventID: 1, Kind: "T-1h", DueAt: now.Add(-time.Minute)})
	dispatcher.errByKey[key] = errors.New("telegram unreachable")

	loop.tick(context.Background())

	all := store.All()
	if len(all) != 1 {
		t.Fatalf("failed job must stay armed, store has %d jobs", len(all))
	}
	if all[0].Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", all[0].Attempts)
	}
	if !all[0].DueAt.After(now) {
		t.Errorf("re-armed job due at %v, want an instant after %v", all[0].DueAt, now)
	}
	if all[0].DueAt.Sub(now) > maxRetryBackoff {
		t.Errorf("backoff %v exceeds cap %v", all[0].DueAt.Sub(now), maxRetryBackoff)
	}
}

func TestTickDropsJobAfterMaxRetries(t *testing.T) {
	now := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	store := NewJobStore()
	dispatcher := newMockDispatcher()
	observer := newRecordingObserver()
	loop := newTestLoop(store, dispatcher, observer, now)

	key := JobKey(1, "T-1h")
	store.Upsert(Job{Key: key, EventID: 1, Kind: "T-1h", DueAt: now.Add(-time.Minute), Attempts: 2})
	dispatcher.errByKey[key] = errors.New("still failing")

	loop.tick(context.Background())

	if store.Len() != 0 {
		t.Errorf("job should be dropped after MaxRetries, store has %d jobs", store.Len())
	}
	if got := observer.count(reminder.OutcomeDropped); got != 1 {
		t.Errorf("expected 1 dropped outcome, got %d", got)
	}
}

func TestTickAbortsOnStoreUnavailable(t *testing.T) {
	now := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	store := NewJobStore()
	dispatcher := newMockDispatcher()
	loop := newTestLoop(store, dispatcher, newRecordingObserver(), now)

	first := JobKey(1, "T-1h")
	second := JobKey(2, "T-1h")
	store.Upsert(Job{Key: first, EventID: 1, Kind: "T-1h", DueAt: now.Add(-2 * time.Minute)})
	store.Upsert(Job{Key: second, EventID: 2, Kind: "T-1h", DueAt: now.Add(-time.Minute)})
	dispatcher.errByKey[first] = ErrStoreUnavailable

	loop.tick(context.Background())

	if dispatcher.count() != 0 {
		t.Errorf("tick must abort before later jobs, got %d dispatches", dispatcher.count())
	}
	all := store.All()
	if len(all) != 2 {
		t.Fatalf("both jobs must stay armed, store has %d jobs", len(all))
	}
	for _, job := range all {
		if job.Attempts != 0 {
			t.Errorf("job %d attempts = %d, want 0 (store outage is not the job's fault)", job.EventID, job.Attempts)
		}
	}
	if loop.failures != 1 {
		t.Errorf("consecutive failures = %d, want 1", loop.failures)
	}

	// A healthy tick resets the failure streak.
	delete(dispatcher.errByKey, first)
	loop.tick(context.Background())
	if loop.failures != 0 {
		t.Errorf("consecutive failures = %d after recovery, want 0", loop.failures)
	}
}

func TestStartStopLifecycle(t *testing.T) {
	store := NewJobStore()
	dispatcher := newMockDispatcher()
	loop := NewLoop(Config{
		TickInterval: 10 * time.Millisecond,
		MisfireGrace: time.Minute,
		MaxRetries:   3,
		RetryBackoff: time.Second,
	}, store, dispatcher, newRecordingObserver(), testLogger())

	store.Upsert(Job{Key: JobKey(1, "T-1h"), EventID: 1, Kind: "T-1h", DueAt: time.Now().UTC().Add(-time.Second)})

	loop.Start()
	loop.Start() // second Start is a no-op

	deadline := time.Now().Add(time.Second)
	for dispatcher.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if dispatcher.count() == 0 {
		t.Fatal("running loop never dispatched a due job")
	}

	loop.Stop()
	loop.Stop() // second Stop is a no-op

	// No tick may run after Stop returned.
	settled := dispatcher.count()
	time.Sleep(50 * time.Millisecond)
	if dispatcher.count() != settled {
		t.Error("loop dispatched after Stop returned")
	}
}

func TestBackoffWithJitterGrowsAndCaps(t *testing.T) {
	base := 30 * time.Second
	for attempt := 1; attempt <= 10; attempt++ {
		got := backoffWithJitter(base, maxRetryBackoff, attempt)
		if got <= 0 {
			t.Errorf("attempt %d: non-positive backoff %v", attempt, got)
		}
		if got > maxRetryBackoff {
			t.Errorf("attempt %d: backoff %v exceeds cap %v", attempt, got, maxRetryBackoff)
		}
	}
	low := backoffWithJitter(base, maxRetryBackoff, 1)
	if low < base/2 {
		t.Errorf("first retry backoff %v fell below half the base %v", low, base/2)
	}
}
