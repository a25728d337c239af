// Package engine keeps a class economy consistent: account balances, the
// transaction log, the job board and job applications.
//
// One Engine serves one tenant store and is the only writer to it. Every
// mutating operation runs under a single write lock and commits its writes as
// a unit; reads take the read lock and never see a half applied unit.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/vi13x/classbank/internal/domain"
	"github.com/vi13x/classbank/internal/metrics"
	"github.com/vi13x/classbank/internal/notify"
	"github.com/vi13x/classbank/internal/storage"
)

type Engine struct {
	kv storage.KV
	mu sync.RWMutex

	now      func() time.Time
	newID    func(prefix string) string
	log      logrus.FieldLogger
	notifier notify.Notifier
	hashCost int
	validate *validator.Validate

	// events committed under the write lock, published after it is released
	outbox []notify.Event
}

type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithIDGenerator replaces the "<prefix>_<uuid>" identifier scheme.
func WithIDGenerator(gen func(prefix string) string) Option {
	return func(e *Engine) { e.newID = gen }
}

func WithLogger(log logrus.FieldLogger) Option {
	return func(e *Engine) { e.log = log }
}

func WithNotifier(n notify.Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithPasswordCost sets the bcrypt cost used for new password hashes.
func WithPasswordCost(cost int) Option {
	return func(e *Engine) { e.hashCost = cost }
}

func New(kv storage.KV, opts ...Option) *Engine {
	e := &Engine{
		kv:       kv,
		now:      func() time.Time { return time.Now().UTC() },
		newID:    func(prefix string) string { return prefix + "_" + uuid.NewString() },
		log:      logrus.StandardLogger(),
		notifier: notify.Discard,
		hashCost: bcrypt.DefaultCost,
		validate: newValidator(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// write runs fn under the write lock. fn commits its own units so that batch
// operations can commit per item; events of committed units are published
// once the lock is released.
func (e *Engine) write(ctx context.Context, op string, p domain.Principal, fn func() error) error {
	start := time.Now()
	e.log.WithFields(logrus.Fields{"op": op, "principal": p.ID}).Debug("engine op")

	e.mu.Lock()
	err := fn()
	events := e.outbox
	e.outbox = nil
	e.mu.Unlock()

	metrics.RecordOperation(op, string(KindOf(err)), time.Since(start))
	if err != nil {
		e.log.WithFields(logrus.Fields{"op": op, "principal": p.ID}).WithError(err).Debug("engine op failed")
	} else {
		e.log.WithFields(logrus.Fields{"op": op, "principal": p.ID}).Info("engine op committed")
	}
	e.publish(ctx, events)
	return err
}

// read runs fn under the read lock against a fresh snapshot.
func (e *Engine) read(ctx context.Context, op string, fn func(u *unit) error) error {
	start := time.Now()
	e.mu.RLock()
	err := fn(e.begin(ctx, op))
	e.mu.RUnlock()
	metrics.RecordOperation(op, string(KindOf(err)), time.Since(start))
	return err
}

func (e *Engine) publish(ctx context.Context, events []notify.Event) {
	for _, ev := range events {
		if err := e.notifier.Notify(ctx, ev); err != nil {
			e.log.WithField("event", string(ev.Type)).WithError(err).Warn("notify failed")
		}
	}
}

func requireRole(op string, p domain.Principal, role domain.Role) error {
	if p.Role != role {
		return fail(KindInvalidRole, op, "requires role %s", role)
	}
	return nil
}
