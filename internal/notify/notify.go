// Package notify delivers engine state-change events to outside listeners.
package notify

import (
	"context"

	"github.com/sirupsen/logrus"
)

type EventType string

const (
	TransactionCreated EventType = "transaction:created"
	AccountCreated     EventType = "account:created"
	AccountUpdated     EventType = "account:updated"
	AccountDeleted     EventType = "account:deleted"
	JobCreated         EventType = "job:created"
	JobUpdated         EventType = "job:updated"
	JobDeleted         EventType = "job:deleted"
	ApplicationCreated EventType = "application:created"
	ApplicationUpdated EventType = "application:updated"
	SettingsUpdated    EventType = "settings:updated"
)

// Event is one committed change. Summary is a short human readable line.
type Event struct {
	Type    EventType
	Summary string
	Payload any
}

// Notifier receives events after the change they describe is durable.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

type NotifierFunc func(ctx context.Context, ev Event) error

func (f NotifierFunc) Notify(ctx context.Context, ev Event) error { return f(ctx, ev) }

// Discard drops every event.
var Discard Notifier = NotifierFunc(func(context.Context, Event) error { return nil })

// LogNotifier writes events to a logrus logger.
type LogNotifier struct {
	log logrus.FieldLogger
}

func NewLogNotifier(log logrus.FieldLogger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Notify(_ context.Context, ev Event) error {
	n.log.WithField("event", string(ev.Type)).Info(ev.Summary)
	return nil
}

// Multi fans an event out to every notifier and returns the first error.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, ev Event) error {
	var first error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}
