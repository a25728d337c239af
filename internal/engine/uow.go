package engine

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/vi13x/classbank/internal/domain"
	"github.com/vi13x/classbank/internal/metrics"
	"github.com/vi13x/classbank/internal/notify"
	"github.com/vi13x/classbank/internal/storage"
)

// commitOrder is the fixed order dirty collections are written in.
var commitOrder = []string{
	storage.KeyUsers,
	storage.KeyTransactions,
	storage.KeyJobs,
	storage.KeyApplications,
	storage.KeySettings,
}

type entry struct {
	prev   []byte // raw value as loaded, restored on rollback
	absent bool   // key did not exist; rollback deletes it
	value  any
	dirty  bool
}

// unit stages collection changes in memory and writes them on commit. If a
// save fails, keys already written by this unit are put back to the values
// they had when loaded. Callers must hold the engine lock for the unit's life.
type unit struct {
	e       *Engine
	ctx     context.Context
	op      string
	entries map[string]*entry
	events  []notify.Event
}

func (e *Engine) begin(ctx context.Context, op string) *unit {
	return &unit{e: e, ctx: ctx, op: op, entries: make(map[string]*entry, len(commitOrder))}
}

func load[T any](u *unit, key string, init T) (T, error) {
	if ent, ok := u.entries[key]; ok {
		return ent.value.(T), nil
	}
	ent := &entry{}
	raw, err := u.e.kv.Load(u.ctx, key)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		ent.absent = true
	case err != nil:
		return init, storageErr(u.op, "load "+key, err)
	default:
		ent.prev = raw
		if err := json.Unmarshal(raw, &init); err != nil {
			return init, storageErr(u.op, "decode "+key, err)
		}
	}
	ent.value = init
	u.entries[key] = ent
	return init, nil
}

// stage replaces a loaded collection. The key must have been loaded first.
func stage[T any](u *unit, key string, v T) {
	ent := u.entries[key]
	ent.value = v
	ent.dirty = true
}

func (u *unit) accounts() ([]*domain.Account, error) {
	return load[[]*domain.Account](u, storage.KeyUsers, nil)
}

func (u *unit) putAccounts(v []*domain.Account) { stage(u, storage.KeyUsers, v) }

func (u *unit) transactions() ([]*domain.Transaction, error) {
	return load[[]*domain.Transaction](u, storage.KeyTransactions, nil)
}

func (u *unit) putTransactions(v []*domain.Transaction) { stage(u, storage.KeyTransactions, v) }

func (u *unit) jobs() ([]*domain.Job, error) {
	return load[[]*domain.Job](u, storage.KeyJobs, nil)
}

func (u *unit) putJobs(v []*domain.Job) { stage(u, storage.KeyJobs, v) }

func (u *unit) applications() ([]*domain.Application, error) {
	return load[[]*domain.Application](u, storage.KeyApplications, nil)
}

func (u *unit) putApplications(v []*domain.Application) { stage(u, storage.KeyApplications, v) }

// settings returns the stored record merged over the defaults.
func (u *unit) settings() (*domain.Settings, error) {
	s, err := load(u, storage.KeySettings, ptr(domain.DefaultSettings()))
	if err != nil {
		return nil, err
	}
	def := domain.DefaultSettings()
	if s == nil {
		// stored as JSON null
		s = &def
		u.entries[storage.KeySettings].value = s
		return s, nil
	}
	if s.ClassName == "" {
		s.ClassName = def.ClassName
	}
	if s.CurrencyName == "" {
		s.CurrencyName = def.CurrencyName
	}
	if s.CurrencySymbol == "" {
		s.CurrencySymbol = def.CurrencySymbol
	}
	return s, nil
}

func (u *unit) putSettings(s *domain.Settings) { stage(u, storage.KeySettings, s) }

func (u *unit) emit(t notify.EventType, summary string, payload any) {
	u.events = append(u.events, notify.Event{Type: t, Summary: summary, Payload: payload})
}

func (u *unit) commit() error {
	saved := make([]string, 0, len(commitOrder))
	for _, key := range commitOrder {
		ent, ok := u.entries[key]
		if !ok || !ent.dirty {
			continue
		}
		raw, err := json.Marshal(ent.value)
		if err == nil {
			err = u.e.kv.Save(u.ctx, key, raw)
		}
		if err != nil {
			u.rollback(saved, err)
			return storageErr(u.op, "save "+key, err)
		}
		saved = append(saved, key)
	}
	u.e.outbox = append(u.e.outbox, u.events...)
	u.events = nil
	return nil
}

func (u *unit) rollback(saved []string, cause error) {
	if len(saved) == 0 {
		return
	}
	// restore even if the caller's context is what failed the save
	ctx := context.WithoutCancel(u.ctx)
	log := u.e.log.WithFields(logrus.Fields{"op": u.op, "keys": saved})
	log.WithError(cause).Warn("rolling back partial commit")

	restored := true
	for i := len(saved) - 1; i >= 0; i-- {
		key := saved[i]
		ent := u.entries[key]
		var err error
		if ent.absent {
			err = u.e.kv.Delete(ctx, key)
		} else {
			err = u.e.kv.Save(ctx, key, ent.prev)
		}
		if err != nil {
			restored = false
			log.WithField("key", key).WithError(err).Error("restore failed")
		}
	}
	metrics.RecordRollback(restored)
}

func ptr[T any](v T) *T { return &v }
