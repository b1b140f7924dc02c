package scheduler

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"time"

	"event_reminder_bot/internal/domain/reminder"
)

// Job is a single armed reminder: one (event, kind) pair with a due instant.
// Jobs are fully re-derivable from event data plus the static offset config,
// so the store is in-memory only; startup reconciliation rebuilds it.
type Job struct {
	Key      string
	EventID  int64
	Kind     reminder.Kind
	Template string
	DueAt    time.Time
	// Grace overrides the loop's misfire window for this job; zero means
	// the engine-wide default applies.
	Grace    time.Duration
	Attempts int
}

// JobKey derives the deterministic key for an (event, kind) pair. Re-arming
// an unchanged event therefore always hits the same store slot.
func JobKey(eventID int64, kind reminder.Kind) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d:%s", eventID, kind)))
	return hex.EncodeToString(sum[:])
}

// JobStore is the process-wide registry of armed jobs. All operations are
// serialized by a single mutex; mutation rate is low relative to tick rate.
type JobStore struct {
	mu   sync.Mutex
	jobs map[string]Job
}

func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[string]Job)}
}

// Upsert arms a job, replacing any existing entry with the same key.
func (s *JobStore) Upsert(job Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.Key] = job
}

// Cancel removes a pending job. Cancelling an absent key is a no-op.
func (s *JobStore) Cancel(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, key)
}

// CancelEvent removes every job armed for the given event id and returns how
// many were dropped.
func (s *JobStore) CancelEvent(eventID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for key, job := range s.jobs {
		if job.EventID == eventID {
			delete(s.jobs, key)
			removed++
		}
	}
	return removed
}

// DueBefore returns all jobs with DueAt <= instant, ordered by due instant.
func (s *JobStore) DueBefore(instant time.Time) []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []Job
	for _, job := range s.jobs {
		if !job.DueAt.After(instant) {
			due = append(due, job)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].DueAt.Before(due[j].DueAt) })
	return due
}

// All returns a snapshot of every armed job, for startup reconciliation.
func (s *JobStore) All() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := make([]Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		all = append(all, job)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].DueAt.Before(all[j].DueAt) })
	return all
}

// Len reports the number of armed jobs.
func (s *JobStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}
