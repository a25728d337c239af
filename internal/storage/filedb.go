package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

type fileSnapshot struct {
	Version   int                        `json:"version"`
	Entries   map[string]json.RawMessage `json:"entries"`
	CreatedAt time.Time                  `json:"created_at"`
	UpdatedAt time.Time                  `json:"updated_at"`
}

// FileDB keeps every key in one JSON file that is rewritten on each save.
type FileDB struct {
	mu   sync.RWMutex
	snap *fileSnapshot
	path string
}

var _ KV = (*FileDB)(nil)

func OpenFileDB(path string) (*FileDB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db := &FileDB{path: path}
	if err := db.load(); err != nil {
		return nil, err
	}
	return db, nil
}

func (db *FileDB) Path() string { return db.path }

func (db *FileDB) Close() error { return nil }

func (db *FileDB) load() error {
	raw, err := os.ReadFile(db.path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	if len(raw) == 0 {
		now := time.Now().UTC()
		db.snap = &fileSnapshot{Version: 1, Entries: map[string]json.RawMessage{}, CreatedAt: now, UpdatedAt: now}
		return db.flushLocked()
	}
	var snap fileSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return fmt.Errorf("decode %s: %w", db.path, err)
	}
	if snap.Entries == nil {
		snap.Entries = map[string]json.RawMessage{}
	}
	db.snap = &snap
	return nil
}

// flushLocked writes a temp file and renames it over the db file, so a crash
// leaves either the old or the new snapshot on disk.
func (db *FileDB) flushLocked() error {
	raw, err := json.MarshalIndent(db.snap, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(db.path), filepath.Base(db.path)+".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), db.path)
}

func (db *FileDB) withWrite(ctx context.Context, fn func(*fileSnapshot)) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	prev := make(map[string]json.RawMessage, len(db.snap.Entries))
	for k, v := range db.snap.Entries {
		prev[k] = v
	}
	prevUpdated := db.snap.UpdatedAt
	fn(db.snap)
	db.snap.UpdatedAt = time.Now().UTC()
	if err := db.flushLocked(); err != nil {
		// keep memory in line with what is on disk
		db.snap.Entries = prev
		db.snap.UpdatedAt = prevUpdated
		return err
	}
	return nil
}

func (db *FileDB) Load(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	db.mu.RLock()
	defer db.mu.RUnlock()
	v, ok := db.snap.Entries[key]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneBytes(v), nil
}

func (db *FileDB) Save(ctx context.Context, key string, value []byte) error {
	if !json.Valid(value) {
		return fmt.Errorf("filedb: value for %q is not valid JSON", key)
	}
	return db.withWrite(ctx, func(s *fileSnapshot) {
		s.Entries[key] = cloneBytes(value)
	})
}

func (db *FileDB) Delete(ctx context.Context, key string) error {
	return db.withWrite(ctx, func(s *fileSnapshot) {
		delete(s.Entries, key)
	})
}

// Backups

// Backup copies the db file into dir with a timestamped name.
func (db *FileDB) Backup(dir string) (string, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	in, err := os.ReadFile(db.path)
	if err != nil {
		return "", err
	}
	name := fmt.Sprintf("classbank-%s.json", time.Now().UTC().Format("20060102-150405.000"))
	if err := os.WriteFile(filepath.Join(dir, name), in, 0o600); err != nil {
		return "", err
	}
	return name, nil
}

func ListBackups(dir string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []string
	for _, e := range ents {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

// Restore replaces the live snapshot with a backup from dir.
func (db *FileDB) Restore(dir, name string) error {
	if name != filepath.Base(name) {
		return fmt.Errorf("invalid backup name %q", name)
	}
	raw, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return err
	}
	var snap fileSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return fmt.Errorf("decode backup %s: %w", name, err)
	}
	if snap.Entries == nil {
		snap.Entries = map[string]json.RawMessage{}
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	db.snap = &snap
	return db.flushLocked()
}
