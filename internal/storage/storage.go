// Package storage holds the key-value adapters the engine persists its
// collections through. Adapters guarantee atomic single-key writes only.
package storage

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("not found")

// Collection keys.
const (
	KeyUsers        = "users"
	KeyTransactions = "transactions"
	KeyJobs         = "jobs"
	KeyApplications = "applications"
	KeySettings     = "settings"
)

// KV is a whole-value key store. Load returns ErrNotFound for unset keys.
type KV interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
