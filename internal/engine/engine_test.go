package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/vi13x/classbank/internal/domain"
	"github.com/vi13x/classbank/internal/notify"
	"github.com/vi13x/classbank/internal/storage"
)

var errInjected = errors.New("injected store failure")

// faultyKV fails the next Save or Load of a key once when armed.
type faultyKV struct {
	storage.KV
	mu    sync.Mutex
	armed map[string]bool
	loads map[string]bool
	saves []string
}

func newFaultyKV() *faultyKV {
	return &faultyKV{KV: storage.NewMemory(), armed: map[string]bool{}, loads: map[string]bool{}}
}

func (f *faultyKV) failNextLoad(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads[key] = true
}

func (f *faultyKV) Load(ctx context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	if f.loads[key] {
		delete(f.loads, key)
		f.mu.Unlock()
		return nil, errInjected
	}
	f.mu.Unlock()
	return f.KV.Load(ctx, key)
}

func (f *faultyKV) failNextSave(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.armed[key] = true
}

func (f *faultyKV) Save(ctx context.Context, key string, value []byte) error {
	f.mu.Lock()
	f.saves = append(f.saves, key)
	if f.armed[key] {
		delete(f.armed, key)
		f.mu.Unlock()
		return errInjected
	}
	f.mu.Unlock()
	return f.KV.Save(ctx, key, value)
}

type stepClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *stepClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

type recorder struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recorder) Notify(_ context.Context, ev notify.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) types() []notify.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]notify.EventType, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

type fixture struct {
	eng    *Engine
	kv     *faultyKV
	events *recorder
	bank   domain.Principal
	kari   domain.Principal
	ola    domain.Principal
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)

	var seq atomic.Int64
	f := &fixture{kv: newFaultyKV(), events: &recorder{}}
	clock := &stepClock{t: time.Date(2025, 9, 1, 8, 0, 0, 0, time.UTC)}
	f.eng = New(f.kv,
		WithClock(clock.now),
		WithIDGenerator(func(prefix string) string { return fmt.Sprintf("%s_%d", prefix, seq.Add(1)) }),
		WithLogger(log),
		WithNotifier(f.events),
		WithPasswordCost(bcrypt.MinCost),
	)

	ctx := context.Background()
	bank, err := f.eng.EnsureBank(ctx, BankAccount{DisplayName: "Bank", Username: "laerer", Password: "laerer123", AccountNumber: "100"})
	require.NoError(t, err)
	f.bank = bank.Principal()

	kari, err := f.eng.CreateAccount(ctx, f.bank, NewAccount{DisplayName: "Kari", Username: "kari123", Password: "passord", AccountNumber: "101"})
	require.NoError(t, err)
	f.kari = kari.Principal()

	ola, err := f.eng.CreateAccount(ctx, f.bank, NewAccount{DisplayName: "Ola", Username: "ola456", Password: "passord", AccountNumber: "102"})
	require.NoError(t, err)
	f.ola = ola.Principal()

	f.events.reset()
	return f
}

func (f *fixture) balance(t *testing.T, p domain.Principal) decimal.Decimal {
	t.Helper()
	acct, err := f.eng.Account(context.Background(), p.ID)
	require.NoError(t, err)
	return acct.Balance
}

func (f *fixture) newStudent(t *testing.T, name, username string) domain.Principal {
	t.Helper()
	acct, err := f.eng.CreateAccount(context.Background(), f.bank, NewAccount{DisplayName: name, Username: username, Password: "passord"})
	require.NoError(t, err)
	return acct.Principal()
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func requireKind(t *testing.T, err error, kind Kind) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, kind, KindOf(err), "error: %v", err)
}

func TestErrorKindsMatchSentinels(t *testing.T) {
	err := fail(KindConflict, "accept", "application is already %s", "rejected")
	assert.ErrorIs(t, err, ErrConflict)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.Equal(t, "accept: application is already rejected", err.Error())

	wrapped := fmt.Errorf("outer: %w", storageErr("transfer", "save users", storage.ErrNotFound))
	assert.ErrorIs(t, wrapped, ErrStorage)
	assert.ErrorIs(t, wrapped, storage.ErrNotFound)
	assert.Equal(t, KindStorage, KindOf(wrapped))
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
}

func TestNotificationsFollowCommit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.eng.Transfer(ctx, f.kari, "102", dec("10"), "")
	require.NoError(t, err)
	assert.Equal(t, []notify.EventType{notify.TransactionCreated}, f.events.types())

	f.events.reset()
	f.kv.failNextSave(storage.KeyTransactions)
	_, err = f.eng.Transfer(ctx, f.kari, "102", dec("10"), "")
	requireKind(t, err, KindStorage)
	assert.Empty(t, f.events.types())
}

func TestNotifierErrorsAreNotReturned(t *testing.T) {
	f := newFixture(t)
	f.eng.notifier = notify.NotifierFunc(func(context.Context, notify.Event) error { return errors.New("down") })

	_, err := f.eng.Transfer(context.Background(), f.kari, "102", dec("1"), "")
	assert.NoError(t, err)
}

func TestReadsSeeWholeUnits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	total := f.balance(t, f.kari).Add(f.balance(t, f.ola))

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			from, to := f.kari, "102"
			if i%2 == 1 {
				from, to = f.ola, "101"
			}
			_, err := f.eng.Transfer(ctx, from, to, dec("7.25"), "")
			assert.NoError(t, err)
		}
		close(stop)
	}()

	for done := false; !done; {
		select {
		case <-stop:
			done = true
		default:
		}
		list, err := f.eng.Students(ctx, f.bank)
		require.NoError(t, err)
		sum := decimal.Zero
		for _, s := range list {
			sum = sum.Add(s.Balance)
		}
		assert.True(t, total.Equal(sum), "snapshot total %s, want %s", sum, total)
	}
	wg.Wait()
}
