// Package observability implements the delivery-outcome sinks. Every sink is
// fire-and-forget: recording never blocks and never propagates errors back
// into the dispatch path.
package observability

import (
	"github.com/sirupsen/logrus"

	"event_reminder_bot/internal/domain/reminder"
)

// LogObserver writes every dispatch outcome as a structured log line.
type LogObserver struct {
	logger *logrus.Entry
}

func NewLogObserver(logger *logrus.Entry) *LogObserver {
	return &LogObserver{logger: logger}
}

func (o *LogObserver) Record(eventID, recipientID int64, kind reminder.Kind, outcome reminder.Outcome) {
	o.logger.WithFields(logrus.Fields{
		"event_id":     eventID,
		"recipient_id": recipientID,
		"kind":         kind,
		"outcome":      outcome,
	}).Info("Delivery outcome")
}

// MultiObserver fans one outcome out to several sinks.
type MultiObserver []reminder.Observer

func (m MultiObserver) Record(eventID, recipientID int64, kind reminder.Kind, outcome reminder.Outcome) {
	for _, o := range m {
		o.Record(eventID, recipientID, kind, outcome)
	}
}
