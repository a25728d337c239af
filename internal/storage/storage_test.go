package storage

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// exerciseKV runs the behaviour every adapter must share.
func exerciseKV(t *testing.T, kv KV) {
	t.Helper()
	ctx := context.Background()

	_, err := kv.Load(ctx, KeyUsers)
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, kv.Save(ctx, KeyUsers, []byte(`[{"id":"a"}]`)))
	got, err := kv.Load(ctx, KeyUsers)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id":"a"}]`, string(got))

	require.NoError(t, kv.Save(ctx, KeyUsers, []byte(`[]`)))
	got, err = kv.Load(ctx, KeyUsers)
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(got))

	require.NoError(t, kv.Delete(ctx, KeyUsers))
	_, err = kv.Load(ctx, KeyUsers)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemory(t *testing.T) {
	m := NewMemory()
	exerciseKV(t, m)

	ctx := context.Background()
	buf := []byte(`{"a":1}`)
	require.NoError(t, m.Save(ctx, KeySettings, buf))
	buf[2] = 'b'
	got, err := m.Load(ctx, KeySettings)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(got), "saved value must not alias caller buffer")
}

func TestFileDB(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db", "classbank.json")
	db, err := OpenFileDB(path)
	require.NoError(t, err)
	exerciseKV(t, db)
}

func TestFileDBPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "classbank.json")

	db, err := OpenFileDB(path)
	require.NoError(t, err)
	require.NoError(t, db.Save(ctx, KeyJobs, []byte(`[{"id":"job_1"}]`)))
	require.NoError(t, db.Close())

	reopened, err := OpenFileDB(path)
	require.NoError(t, err)
	got, err := reopened.Load(ctx, KeyJobs)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id":"job_1"}]`, string(got))
}

func TestFileDBRejectsInvalidJSON(t *testing.T) {
	db, err := OpenFileDB(filepath.Join(t.TempDir(), "classbank.json"))
	require.NoError(t, err)
	assert.Error(t, db.Save(context.Background(), KeyJobs, []byte(`{not json`)))
}

func TestFileDBBackupRestore(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	backups := filepath.Join(dir, "backups")

	db, err := OpenFileDB(filepath.Join(dir, "classbank.json"))
	require.NoError(t, err)
	require.NoError(t, db.Save(ctx, KeySettings, []byte(`{"className":"7A"}`)))

	name, err := db.Backup(backups)
	require.NoError(t, err)

	list, err := ListBackups(backups)
	require.NoError(t, err)
	assert.Equal(t, []string{name}, list)

	require.NoError(t, db.Save(ctx, KeySettings, []byte(`{"className":"8B"}`)))
	require.NoError(t, db.Restore(backups, name))

	got, err := db.Load(ctx, KeySettings)
	require.NoError(t, err)
	assert.JSONEq(t, `{"className":"7A"}`, string(got))

	assert.Error(t, db.Restore(backups, "../escape.json"))
}

func TestListBackupsMissingDir(t *testing.T) {
	list, err := ListBackups(filepath.Join(t.TempDir(), "nope"))
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestRedisKV(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	kv := NewRedisKV(client, "tenant7a")
	defer kv.Close()

	exerciseKV(t, kv)

	require.NoError(t, kv.Save(context.Background(), KeyJobs, []byte(`[]`)))
	assert.True(t, srv.Exists("tenant7a:jobs"))
}

func TestDialRedisFailsFast(t *testing.T) {
	srv, err := miniredis.Run()
	require.NoError(t, err)
	addr := srv.Addr()
	srv.Close()

	_, err = DialRedis(context.Background(), &redis.Options{Addr: addr, MaxRetries: -1}, "")
	assert.Error(t, err)
}

func TestPostgresKV(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	kv := NewPostgresKV(db, "7a")
	ctx := context.Background()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS classbank_kv").WillReturnResult(sqlmock.NewResult(0, 0))
	require.NoError(t, kv.EnsureSchema(ctx))

	mock.ExpectQuery("SELECT value FROM classbank_kv").
		WithArgs("7a:users").
		WillReturnRows(sqlmock.NewRows([]string{"value"}))
	_, err = kv.Load(ctx, KeyUsers)
	require.ErrorIs(t, err, ErrNotFound)

	mock.ExpectExec("INSERT INTO classbank_kv").
		WithArgs("7a:users", []byte(`[]`), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, kv.Save(ctx, KeyUsers, []byte(`[]`)))

	mock.ExpectQuery("SELECT value FROM classbank_kv").
		WithArgs("7a:users").
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow([]byte(`[]`)))
	got, err := kv.Load(ctx, KeyUsers)
	require.NoError(t, err)
	assert.Equal(t, `[]`, string(got))

	mock.ExpectExec("DELETE FROM classbank_kv").
		WithArgs("7a:users").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, kv.Delete(ctx, KeyUsers))

	mock.ExpectExec("INSERT INTO classbank_kv").WillReturnError(sql.ErrConnDone)
	err = kv.Save(ctx, KeyJobs, []byte(`[]`))
	require.ErrorIs(t, err, sql.ErrConnDone)

	mock.ExpectClose()
	require.NoError(t, kv.Close())
	require.NoError(t, mock.ExpectationsWereMet())
}
