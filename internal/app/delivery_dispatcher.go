package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"event_reminder_bot/internal/domain/event"
	"event_reminder_bot/internal/domain/recipient"
	"event_reminder_bot/internal/domain/reminder"
	domainTelegram "event_reminder_bot/internal/domain/telegram"
	idb "event_reminder_bot/internal/infra/database"
	"event_reminder_bot/internal/infra/scheduler"
)

// maxNotifyBackoff caps the per-recipient retry delay inside one dispatch.
const maxNotifyBackoff = 2 * time.Minute

// DispatcherConfig tunes the delivery fan-out.
type DispatcherConfig struct {
	Concurrency   int           // max concurrent notifier calls per job
	NotifyTimeout time.Duration // deadline per notifier call
	MaxAttempts   int           // per-recipient send attempts
	RetryBackoff  time.Duration // base delay between attempts
}

// DeliveryDispatcher orchestrates one due job: ledger check, notifier
// fan-out, ledger write, per-recipient retry. One recipient's failure never
// blocks delivery to the others; partial success is a normal outcome.
type DeliveryDispatcher struct {
	cfg        DispatcherConfig
	events     event.Repository
	recipients recipient.Repository
	ledger     reminder.Ledger
	client     domainTelegram.Client
	observer   reminder.Observer
	logger     *logrus.Entry
}

func NewDeliveryDispatcher(
	cfg DispatcherConfig,
	events event.Repository,
	recipients recipient.Repository,
	ledger reminder.Ledger,
	client domainTelegram.Client,
	observer reminder.Observer,
	logger *logrus.Entry,
) *DeliveryDispatcher {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	return &DeliveryDispatcher{
		cfg:        cfg,
		events:     events,
		recipients: recipients,
		ledger:     ledger,
		client:     client,
		observer:   observer,
		logger:     logger,
	}
}

// Dispatch delivers the job to every active recipient. It returns an error
// only when the event store or ledger is unreachable; the loop then re-arms
// the job. A nil return means every recipient reached a terminal outcome.
func (d *DeliveryDispatcher) Dispatch(ctx context.Context, job scheduler.Job) error {
	ev, err := d.events.GetByID(ctx, job.EventID)
	if err != nil {
		if err == idb.ErrEventNotFound {
			// Event deleted after the job was armed; nothing to send.
			d.logger.WithField("event_id", job.EventID).Info("Skipping reminder for deleted event")
			return nil
		}
		return fmt.Errorf("%w: get event %d: %v", scheduler.ErrStoreUnavailable, job.EventID, err)
	}

	roster, err := d.recipients.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("%w: list recipients: %v", scheduler.ErrStoreUnavailable, err)
	}
	if len(roster) == 0 {
		d.logger.WithField("event_id", job.EventID).Info("No active recipients for reminder")
		return nil
	}

	message := renderReminder(ev, job.Template)

	var (
		wg       sync.WaitGroup
		sem      = make(chan struct{}, d.cfg.Concurrency)
		mu       sync.Mutex
		storeErr error
	)
	for _, r := range roster {
		wg.Add(1)
		sem <- struct{}{}
		go func(r *recipient.Recipient) {
			defer wg.Done()
			defer func() { <-sem }()
			if err := d.deliverOne(ctx, ev, job.Kind, r, message); err != nil {
				mu.Lock()
				if storeErr == nil {
					storeErr = err
				}
				mu.Unlock()
			}
		}(r)
	}
	wg.Wait()

	if storeErr != nil {
		return fmt.Errorf("%w: %v", scheduler.ErrStoreUnavailable, storeErr)
	}
	return nil
}

// deliverOne handles a single recipient. Notifier failures are retried up to
// MaxAttempts and then contained; only ledger errors propagate, because
// without the ledger the at-most-once guarantee cannot be upheld.
func (d *DeliveryDispatcher) deliverOne(ctx context.Context, ev *event.Event, kind reminder.Kind, r *recipient.Recipient, message string) error {
	logCtx := d.logger.WithFields(logrus.Fields{
		"event_id":     ev.ID,
		"recipient_id": r.ID,
		"kind":         kind,
	})

	delivered, err := d.ledger.HasDelivery(ctx, ev.ID, r.ID, kind)
	if err != nil {
		return fmt.Errorf("ledger lookup: %w", err)
	}
	if delivered {
		d.observer.Record(ev.ID, r.ID, kind, reminder.OutcomeSkipped)
		logCtx.Debug("Reminder already delivered, skipping")
		return nil
	}

	var lastErr error
	for attempt := 1; attempt <= d.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			d.observer.Record(ev.ID, r.ID, kind, reminder.OutcomeRetrying)
			if err := sleepCtx(ctx, notifyBackoff(d.cfg.RetryBackoff, attempt)); err != nil {
				lastErr = err
				break
			}
		}

		attemptLog := logCtx.WithFields(logrus.Fields{
			"attempt":    attempt,
			"attempt_id": uuid.New().String(),
		})

		sendCtx, cancel := context.WithTimeout(ctx, d.cfg.NotifyTimeout)
		err := d.client.SendPhoto(sendCtx, r.TelegramID, photoID(ev), message, nil)
		cancel()
		if err != nil {
			lastErr = err
			attemptLog.WithError(err).Warn("Reminder delivery attempt failed")
			continue
		}

		recorded, err := d.ledger.TryRecordDelivery(ctx, ev.ID, r.ID, kind, time.Now().UTC())
		if err != nil {
			// The message went out; a ledger write failure must not trigger a
			// re-send. Surface it loudly instead.
			attemptLog.WithError(err).Error("Delivered but failed to write ledger record")
			d.observer.Record(ev.ID, r.ID, kind, reminder.OutcomeDelivered)
			return nil
		}
		if !recorded {
			// A concurrent dispatch won the insert race. Someone recorded the
			// delivery, so no re-send is needed.
			attemptLog.Info("Delivery already recorded by concurrent dispatch")
			d.observer.Record(ev.ID, r.ID, kind, reminder.OutcomeLedgerConflict)
			return nil
		}

		d.observer.Record(ev.ID, r.ID, kind, reminder.OutcomeDelivered)
		attemptLog.Info("Reminder delivered")
		return nil
	}

	d.observer.Record(ev.ID, r.ID, kind, reminder.OutcomeFailed)
	logCtx.WithError(lastErr).Error("Reminder delivery failed, attempts exhausted")
	return nil
}

func renderReminder(ev *event.Event, template string) string {
	return fmt.Sprintf("🔔 Event Reminder 🔔\n\n📌 %s\n📝 %s\n\n⏰ %s", ev.Title, ev.Description, template)
}

func photoID(ev *event.Event) string {
	if ev.PhotoID.Valid {
		return ev.PhotoID.String
	}
	return ""
}

func notifyBackoff(base time.Duration, attempt int) time.Duration {
	wait := base << uint(attempt-2) // attempt 2 waits base, 3 waits 2*base, ...
	if wait > maxNotifyBackoff {
		wait = maxNotifyBackoff
	}
	return wait
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
