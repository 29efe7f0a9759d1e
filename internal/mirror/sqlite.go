package mirror

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

// SQLiteMirror persists the key-value pairs in a local SQLite file.
// Several processes may share the file; WAL mode keeps readers unblocked.
type SQLiteMirror struct {
	db     *sql.DB
	path   string
	logger zerolog.Logger
}

// Options configures OpenSQLite.
type Options struct {
	Path string
	// EncryptionKey switches to the SQLCipher driver. Requires a build with
	// -tags sqlcipher.
	EncryptionKey string
	Logger        zerolog.Logger
}

// OpenSQLite opens (or creates) the mirror database and runs migrations.
func OpenSQLite(opts Options) (*SQLiteMirror, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("mirror path is required")
	}
	if dir := filepath.Dir(opts.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create mirror directory: %w", err)
		}
	}

	var (
		db  *sql.DB
		err error
	)
	if opts.EncryptionKey != "" {
		if !secureSQLiteSupported() {
			return nil, fmt.Errorf("encrypted mirror requires a sqlcipher-enabled build; rebuild with '-tags sqlcipher'")
		}
		db, err = openSecureSQLite(opts.Path, opts.EncryptionKey)
	} else {
		db, err = sql.Open("sqlite", opts.Path)
	}
	if err != nil {
		return nil, fmt.Errorf("open mirror: %w", err)
	}

	// SQLite only supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}

	m := &SQLiteMirror{db: db, path: opts.Path, logger: opts.Logger}
	if err := m.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate mirror: %w", err)
	}

	m.logger.Info().Str("path", opts.Path).Msg("mirror opened")
	return m, nil
}

func (m *SQLiteMirror) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS mirror_kv (
			key        TEXT PRIMARY KEY,
			value      TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := m.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (m *SQLiteMirror) Read(ctx context.Context, userID string) (Record, bool, error) {
	keys := Keys(userID)
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(keys)), ",")
	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}

	rows, err := m.db.QueryContext(ctx,
		`SELECT key, value FROM mirror_kv WHERE key IN (`+placeholders+`)`, args...)
	if err != nil {
		return Record{}, false, fmt.Errorf("query mirror for %q: %w", userID, err)
	}
	defer rows.Close()

	kv := make(map[string]string, len(keys))
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return Record{}, false, fmt.Errorf("scan mirror row: %w", err)
		}
		kv[k] = v
	}
	if err := rows.Err(); err != nil {
		return Record{}, false, err
	}

	return decode(userID, kv)
}

func (m *SQLiteMirror) Write(ctx context.Context, userID string, rec Record) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin mirror write: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	const q = `
INSERT INTO mirror_kv (key, value, updated_at)
VALUES (?, ?, ?)
ON CONFLICT(key) DO UPDATE SET
  value = excluded.value,
  updated_at = excluded.updated_at
`
	for k, v := range encode(userID, rec) {
		if _, err := tx.ExecContext(ctx, q, k, v, now); err != nil {
			return fmt.Errorf("upsert %s: %w", k, err)
		}
	}
	return tx.Commit()
}

func (m *SQLiteMirror) Clear(ctx context.Context, userID string) error {
	keys := Keys(userID)
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(keys)), ",")
	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}
	if _, err := m.db.ExecContext(ctx, `DELETE FROM mirror_kv WHERE key IN (`+placeholders+`)`, args...); err != nil {
		return fmt.Errorf("clear mirror for %q: %w", userID, err)
	}
	return nil
}

// PruneOlderThan deletes entries not written since cutoff. Used by the
// scheduler to drop users who have not logged in for a long time. Users with
// an unacknowledged reset or correction are kept: without the flag, the next
// login would merge the old remote balance back in.
func (m *SQLiteMirror) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	suffix := KeyOverridePending.name()
	const q = `
DELETE FROM mirror_kv
WHERE updated_at < ?
  AND NOT EXISTS (
    SELECT 1 FROM mirror_kv p
    WHERE p.key LIKE '%:' || ?
      AND p.value = 'true'
      AND substr(mirror_kv.key, 1, length(p.key) - length(?)) = substr(p.key, 1, length(p.key) - length(?))
  )
`
	res, err := m.db.ExecContext(ctx, q, cutoff.UTC().Format(time.RFC3339Nano), suffix, suffix, suffix)
	if err != nil {
		return 0, fmt.Errorf("prune mirror: %w", err)
	}
	return res.RowsAffected()
}

func (m *SQLiteMirror) Close() error {
	if m.db == nil {
		return nil
	}
	return m.db.Close()
}
