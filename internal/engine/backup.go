package engine

import (
	"context"
	"time"

	"github.com/vi13x/classbank/internal/domain"
	"github.com/vi13x/classbank/internal/metrics"
)

// BackupStore is a store that can copy itself to and from a directory.
type BackupStore interface {
	Backup(dir string) (string, error)
	Restore(dir, name string) error
}

// Backup copies the store into dir while no unit is committing, so the copy
// never holds half of a transfer. It returns the backup's file name.
func (e *Engine) Backup(ctx context.Context, p domain.Principal, store BackupStore, dir string) (string, error) {
	const op = "backup"
	if err := requireRole(op, p, domain.RoleTeacher); err != nil {
		return "", err
	}
	var name string
	err := e.read(ctx, op, func(*unit) error {
		var err error
		if name, err = store.Backup(dir); err != nil {
			return storageErr(op, "write backup", err)
		}
		return nil
	})
	return name, err
}

// Restore replaces the store with the named backup under the write lock.
// Readers see either the old state or the restored one.
func (e *Engine) Restore(ctx context.Context, p domain.Principal, store BackupStore, dir, name string) error {
	const op = "restore"
	if err := requireRole(op, p, domain.RoleTeacher); err != nil {
		return err
	}
	start := time.Now()
	e.mu.Lock()
	err := store.Restore(dir, name)
	e.mu.Unlock()
	if err != nil {
		err = storageErr(op, "restore "+name, err)
	}
	metrics.RecordOperation(op, string(KindOf(err)), time.Since(start))
	if err != nil {
		return err
	}
	e.log.WithField("backup", name).Warn("store restored from backup")
	return nil
}
