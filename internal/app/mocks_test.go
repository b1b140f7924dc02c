package app

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"

	"event_reminder_bot/internal/domain/event"
	"event_reminder_bot/internal/domain/recipient"
	"event_reminder_bot/internal/domain/reminder"
	idb "event_reminder_bot/internal/infra/database"
)

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l.WithField("component", "test")
}

// memEventRepo is an in-memory event.Repository.
type memEventRepo struct {
	mu     sync.Mutex
	nextID int64
	events map[int64]*event.Event
	fail   error // when set, every call fails with this error
}

func newMemEventRepo() *memEventRepo {
	return &memEventRepo{nextID: 1, events: make(map[int64]*event.Event)}
}

func (m *memEventRepo) Create(ctx context.Context, ev *event.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	ev.ID = m.nextID
	m.nextID++
	copied := *ev
	m.events[ev.ID] = &copied
	return nil
}

func (m *memEventRepo) GetByID(ctx context.Context, id int64) (*event.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return nil, m.fail
	}
	ev, ok := m.events[id]
	if !ok {
		return nil, idb.ErrEventNotFound
	}
	copied := *ev
	return &copied, nil
}

func (m *memEventRepo) Delete(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	if _, ok := m.events[id]; !ok {
		return idb.ErrEventNotFound
	}
	delete(m.events, id)
	return nil
}

func (m *memEventRepo) ListUpcoming(ctx context.Context, afterOrIncluding time.Time) ([]*event.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return nil, m.fail
	}
	var out []*event.Event
	for _, ev := range m.events {
		if !ev.OccursAt.Before(afterOrIncluding) {
			copied := *ev
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OccursAt.Before(out[j].OccursAt) })
	return out, nil
}

// memRecipientRepo is an in-memory recipient.Repository.
type memRecipientRepo struct {
	mu         sync.Mutex
	nextID     int64
	recipients map[int64]*recipient.Recipient // keyed by telegram id
	failList   error
}

func newMemRecipientRepo() *memRecipientRepo {
	return &memRecipientRepo{nextID: 1, recipients: make(map[int64]*recipient.Recipient)}
}

func (m *memRecipientRepo) Upsert(ctx context.Context, r *recipient.Recipient) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.recipients[r.TelegramID]; ok {
		r.ID = existing.ID
	} else {
		r.ID = m.nextID
		m.nextID++
	}
	copied := *r
	m.recipients[r.TelegramID] = &copied
	return nil
}

func (m *memRecipientRepo) GetByTelegramID(ctx context.Context, telegramID int64) (*recipient.Recipient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.recipients[telegramID]
	if !ok {
		return nil, idb.ErrRecipientNotFound
	}
	copied := *r
	return &copied, nil
}

func (m *memRecipientRepo) Update(ctx context.Context, r *recipient.Recipient) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.recipients[r.TelegramID]; !ok {
		return idb.ErrRecipientNotFound
	}
	copied := *r
	m.recipients[r.TelegramID] = &copied
	return nil
}

func (m *memRecipientRepo) ListActive(ctx context.Context) ([]*recipient.Recipient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failList != nil {
		return nil, m.failList
	}
	var out []*recipient.Recipient
	for _, r := range m.recipients {
		if r.IsActive {
			copied := *r
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type ledgerKey struct {
	eventID     int64
	recipientID int64
	kind        reminder.Kind
}

// memLedger is an in-memory reminder.Ledger with the same insert-if-absent
// contract as the Postgres one.
type memLedger struct {
	mu       sync.Mutex
	records  map[ledgerKey]time.Time
	fail     error
	conflict bool // when set, TryRecordDelivery reports an existing record
}

func newMemLedger() *memLedger {
	return &memLedger{records: make(map[ledgerKey]time.Time)}
}

func (m *memLedger) TryRecordDelivery(ctx context.Context, eventID, recipientID int64, kind reminder.Kind, sentAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return false, m.fail
	}
	if m.conflict {
		return false, nil
	}
	key := ledgerKey{eventID, recipientID, kind}
	if _, exists := m.records[key]; exists {
		return false, nil
	}
	m.records[key] = sentAt
	return true, nil
}

func (m *memLedger) HasDelivery(ctx context.Context, eventID, recipientID int64, kind reminder.Kind) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return false, m.fail
	}
	_, exists := m.records[ledgerKey{eventID, recipientID, kind}]
	return exists, nil
}

func (m *memLedger) ListDeliveredRecipients(ctx context.Context, eventID int64, kind reminder.Kind) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return nil, m.fail
	}
	var ids []int64
	for key := range m.records {
		if key.eventID == eventID && key.kind == kind {
			ids = append(ids, key.recipientID)
		}
	}
	return ids, nil
}

func (m *memLedger) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// mockClient records sends and fails a configured number of times per chat.
type mockClient struct {
	mu        sync.Mutex
	sent      []int64 // chat ids in send order
	failTimes map[int64]int
}

func newMockClient() *mockClient {
	return &mockClient{failTimes: make(map[int64]int)}
}

func (c *mockClient) SendMessage(ctx context.Context, chatID int64, text string, options *telebot.SendOptions) error {
	return c.send(chatID)
}

func (c *mockClient) SendPhoto(ctx context.Context, chatID int64, photoID, caption string, options *telebot.SendOptions) error {
	return c.send(chatID)
}

func (c *mockClient) send(chatID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failTimes[chatID] > 0 {
		c.failTimes[chatID]--
		return errors.New("telegram: send failed")
	}
	c.sent = append(c.sent, chatID)
	return nil
}

func (c *mockClient) sendCount(chatID int64) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, id := range c.sent {
		if id == chatID {
			n++
		}
	}
	return n
}

func (c *mockClient) totalSends() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

// countObserver tallies outcomes per kind.
type countObserver struct {
	mu       sync.Mutex
	outcomes map[reminder.Outcome]int
}

func newCountObserver() *countObserver {
	return &countObserver{outcomes: make(map[reminder.Outcome]int)}
}

func (o *countObserver) Record(eventID, recipientID int64, kind reminder.Kind, outcome reminder.Outcome) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes[outcome]++
}

func (o *countObserver) count(outcome reminder.Outcome) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.outcomes[outcome]
}
