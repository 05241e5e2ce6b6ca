/*
Package sqlite provides a SQLite-backed implementation of the ledger ports.

PURPOSE:
  Alternate backend to the JSON file. Transactions are rows in an
  append-only table, so a write costs one INSERT per new transaction
  instead of rewriting the whole log.

INTERFACES IMPLEMENTED:
  ledger.BackupStore: Envelope persistence + VACUUM INTO backups
  ledger.Replacer:    Wholesale restore from an external backup
  ledger.ReportIndex: Generated summary reports
  ledger.SyncState:   Last report delivery time

APPEND-ONLY ENFORCEMENT:
  - No UPDATE on transactions (a trigger aborts it)
  - Save inserts only the rows beyond what is persisted
  - Save refuses an envelope whose prefix differs from the stored rows
  - Only Replace (restore) clears the table

KEY TABLES:
  transactions:     One row per ledger entry, seq = position in the log
  meta:             summary_count, shortcuts_asked, last_sync
  catalog_versions: Bounded catalog history (rewritten, not append-only)
  reports:          Generated summary report records

CONCURRENCY:
  One open connection (SetMaxOpenConns(1)) plus a mutex. The ledger
  serializes writers anyway; this keeps :memory: databases coherent.

USAGE:
  store, err := sqlite.New("./data/ledger.db", sqlite.WithBackupDir("./data/backups", 10))
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  l := ledger.Open(ctx, store)
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/warp/retail-ledger/ledger"
)

// ErrHistoryRewritten is returned by Save when the envelope does not extend
// the persisted transactions.
var ErrHistoryRewritten = errors.New("sqlite: envelope rewrites persisted transactions")

const (
	metaSummaryCount   = "summary_count"
	metaShortcutsAsked = "shortcuts_asked"
	metaLastSync       = "last_sync"

	backupPrefix = "ledger_backup_"
	backupStamp  = "20060102_150405.000000"
)

// Option configures a Store.
type Option func(*Store)

// WithBackupDir enables VACUUM INTO backups in dir, keeping the newest keep.
func WithBackupDir(dir string, keep int) Option {
	return func(s *Store) {
		s.backupDir = dir
		s.keep = keep
	}
}

func WithLogger(l *log.Logger) Option {
	return func(s *Store) { s.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store implements the ledger ports using SQLite.
type Store struct {
	db        *sqlx.DB
	mu        sync.Mutex
	backupDir string
	keep      int
	logger    *log.Logger
	now       func() time.Time
}

// New opens (and migrates) the database at dbPath.
// Use ":memory:" for an in-memory database.
func New(dbPath string, opts ...Option) (*Store, error) {
	db, err := sqlx.Connect("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db, keep: 10, logger: log.Default(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	if s.keep <= 0 {
		s.keep = 10
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	if s.backupDir != "" {
		if err := os.MkdirAll(s.backupDir, 0o755); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create backup dir: %w", err)
		}
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS transactions (
			seq INTEGER PRIMARY KEY,
			kind TEXT NOT NULL,
			timestamp TEXT NOT NULL,
			filename TEXT NOT NULL,
			ref_kind TEXT,
			ref_filename TEXT,
			record_json TEXT NOT NULL,
			created_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_filename ON transactions(filename);`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_ref ON transactions(ref_filename) WHERE ref_filename IS NOT NULL;`,
		`CREATE TRIGGER IF NOT EXISTS transactions_append_only
			BEFORE UPDATE ON transactions
			BEGIN
				SELECT RAISE(ABORT, 'transactions are append-only');
			END;`,
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS catalog_versions (
			seq INTEGER PRIMARY KEY,
			timestamp TEXT NOT NULL,
			snapshot_json TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS reports (
			id TEXT PRIMARY KEY,
			mode TEXT NOT NULL,
			period_start TEXT,
			period_end TEXT,
			created_at TEXT NOT NULL,
			total_sales TEXT NOT NULL,
			row_count INTEGER NOT NULL,
			corrections_json TEXT NOT NULL
		);`,
	}
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// LOAD
// =============================================================================

type txRow struct {
	Seq      int    `db:"seq"`
	Filename string `db:"filename"`
	Record   string `db:"record_json"`
}

type metaRow struct {
	Key   string `db:"key"`
	Value string `db:"value"`
}

type versionRow struct {
	Seq      int    `db:"seq"`
	Snapshot string `db:"snapshot_json"`
}

func (s *Store) Load(ctx context.Context) (ledger.Envelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var env ledger.Envelope

	var rows []txRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT seq, filename, record_json FROM transactions ORDER BY seq`); err != nil {
		return env, fmt.Errorf("failed to load transactions: %w", err)
	}
	// Every row stays in the envelope, readable or not, so the persisted
	// prefix always lines up with env.Transactions.
	for _, r := range rows {
		tx, problems := ledger.UnmarshalTransaction([]byte(r.Record))
		for _, p := range problems {
			s.logger.Warn("malformed ledger record kept as is", "seq", r.Seq, "error", p)
		}
		if o, ok := tx.(ledger.Opaque); ok {
			o.Filename = r.Filename
			tx = o
		}
		env.Transactions = append(env.Transactions, tx)
	}

	meta, err := s.metaLocked(ctx)
	if err != nil {
		return env, err
	}
	env.SummaryCount, _ = strconv.Atoi(meta[metaSummaryCount])
	env.ShortcutsAsked = meta[metaShortcutsAsked] == "true"

	var versions []versionRow
	if err := s.db.SelectContext(ctx, &versions, `SELECT seq, snapshot_json FROM catalog_versions ORDER BY seq`); err != nil {
		return env, fmt.Errorf("failed to load catalog versions: %w", err)
	}
	for _, v := range versions {
		snap, err := ledger.UnmarshalSnapshot([]byte(v.Snapshot))
		if err != nil {
			s.logger.Warn("skipped malformed catalog version", "seq", v.Seq, "error", err)
			continue
		}
		env.ProductHistory = append(env.ProductHistory, snap)
	}
	return env, nil
}

func (s *Store) metaLocked(ctx context.Context) (map[string]string, error) {
	var rows []metaRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT key, value FROM meta`); err != nil {
		return nil, fmt.Errorf("failed to load meta: %w", err)
	}
	out := make(map[string]string, len(rows))
	for _, r := range rows {
		out[r.Key] = r.Value
	}
	return out, nil
}

// =============================================================================
// SAVE - Insert the new suffix only
// =============================================================================

func (s *Store) Save(ctx context.Context, env ledger.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(ctx, env, false)
}

// Replace clears the transactions table and writes env from scratch.
func (s *Store) Replace(ctx context.Context, env ledger.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(ctx, env, true)
}

func (s *Store) write(ctx context.Context, env ledger.Envelope, replace bool) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if replace {
		if _, err := tx.ExecContext(ctx, `DELETE FROM transactions`); err != nil {
			return fmt.Errorf("failed to clear transactions: %w", err)
		}
	}

	var persisted []string
	if err := tx.SelectContext(ctx, &persisted, `SELECT filename FROM transactions ORDER BY seq`); err != nil {
		return fmt.Errorf("failed to read persisted transactions: %w", err)
	}
	if len(persisted) > len(env.Transactions) {
		return fmt.Errorf("%w: %d persisted, %d given", ErrHistoryRewritten, len(persisted), len(env.Transactions))
	}
	for i, name := range persisted {
		if env.Transactions[i].Head().Filename != name {
			return fmt.Errorf("%w: row %d is %q, envelope has %q", ErrHistoryRewritten, i, name, env.Transactions[i].Head().Filename)
		}
	}

	createdAt := s.now().UTC().Format(time.RFC3339Nano)
	for i := len(persisted); i < len(env.Transactions); i++ {
		t := env.Transactions[i]
		record, err := ledger.MarshalTransaction(t)
		if err != nil {
			return fmt.Errorf("failed to encode transaction %d: %w", i, err)
		}
		var refKind, refFilename sql.NullString
		if c, ok := t.(ledger.Correction); ok {
			refKind = sql.NullString{String: string(c.RefKind), Valid: true}
			refFilename = sql.NullString{String: c.RefFilename, Valid: true}
		}
		h := t.Head()
		_, err = tx.ExecContext(ctx, `
			INSERT INTO transactions (seq, kind, timestamp, filename, ref_kind, ref_filename, record_json, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			i, string(t.Kind()), h.Timestamp, h.Filename, refKind, refFilename, string(record), createdAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert transaction %d: %w", i, err)
		}
	}

	if err := putMeta(ctx, tx, metaSummaryCount, strconv.Itoa(env.SummaryCount)); err != nil {
		return err
	}
	if err := putMeta(ctx, tx, metaShortcutsAsked, strconv.FormatBool(env.ShortcutsAsked)); err != nil {
		return err
	}

	// Catalog history is bounded and evicts its oldest entry, so it is
	// rewritten on every save.
	if _, err := tx.ExecContext(ctx, `DELETE FROM catalog_versions`); err != nil {
		return fmt.Errorf("failed to clear catalog versions: %w", err)
	}
	for i, snap := range env.ProductHistory {
		data, err := ledger.MarshalSnapshot(snap)
		if err != nil {
			return fmt.Errorf("failed to encode catalog version: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO catalog_versions (seq, timestamp, snapshot_json) VALUES (?, ?, ?)`,
			i, snap.Timestamp, string(data)); err != nil {
			return fmt.Errorf("failed to insert catalog version: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

func putMeta(ctx context.Context, tx *sqlx.Tx, key, value string) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO meta (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("failed to write meta %s: %w", key, err)
	}
	return nil
}

// =============================================================================
// BACKUPS - VACUUM INTO, newest keep retained
// =============================================================================

// Backup writes a consistent copy of the database into the backup
// directory. Without a backup directory it is a no-op.
func (s *Store) Backup(ctx context.Context) error {
	if s.backupDir == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM transactions`); err != nil {
		return fmt.Errorf("failed to count transactions: %w", err)
	}
	if n == 0 {
		return nil
	}

	path := filepath.Join(s.backupDir, backupPrefix+s.now().Format(backupStamp)+".db")
	if _, err := s.db.ExecContext(ctx, `VACUUM INTO ?`, path); err != nil {
		return fmt.Errorf("failed to back up database: %w", err)
	}
	return s.pruneBackups()
}

// Backups lists backup file paths, oldest first.
func (s *Store) Backups() ([]string, error) {
	if s.backupDir == "" {
		return nil, nil
	}
	files, err := s.listBackups()
	if err != nil {
		return nil, err
	}
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = filepath.Join(s.backupDir, f.name)
	}
	return out, nil
}

type backupFile struct {
	name    string
	modTime time.Time
}

func (s *Store) listBackups() ([]backupFile, error) {
	entries, err := os.ReadDir(s.backupDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read backup dir: %w", err)
	}
	var files []backupFile
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), backupPrefix) || !strings.HasSuffix(e.Name(), ".db") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, backupFile{name: e.Name(), modTime: info.ModTime()})
	}
	sort.Slice(files, func(i, j int) bool {
		if !files[i].modTime.Equal(files[j].modTime) {
			return files[i].modTime.Before(files[j].modTime)
		}
		return files[i].name < files[j].name
	})
	return files, nil
}

func (s *Store) pruneBackups() error {
	files, err := s.listBackups()
	if err != nil {
		return err
	}
	for len(files) > s.keep {
		oldest := filepath.Join(s.backupDir, files[0].name)
		if err := os.Remove(oldest); err != nil {
			s.logger.Warn("could not evict old backup", "path", oldest, "error", err)
		}
		files = files[1:]
	}
	return nil
}

// =============================================================================
// REPORTS
// =============================================================================

type reportRow struct {
	ID string `db:"id"`
}

func (s *Store) RecordReport(ctx context.Context, rec ledger.ReportRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	corrections, err := json.Marshal(rec.Corrections)
	if err != nil {
		return fmt.Errorf("failed to encode corrections: %w", err)
	}
	var start, end sql.NullString
	if rec.Period != nil {
		start = sql.NullString{String: rec.Period.Start.Format(time.RFC3339), Valid: true}
		end = sql.NullString{String: rec.Period.End.Format(time.RFC3339), Valid: true}
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO reports (id, mode, period_start, period_end, created_at, total_sales, row_count, corrections_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		rec.ID, string(rec.Mode), start, end, rec.CreatedAt.Format(time.RFC3339), rec.TotalSales, rec.Rows, string(corrections),
	)
	if err != nil {
		return fmt.Errorf("failed to record report: %w", err)
	}
	return nil
}

func (s *Store) ReportIDs(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rows []reportRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT id FROM reports ORDER BY id`); err != nil {
		return nil, fmt.Errorf("failed to list reports: %w", err)
	}
	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = r.ID
	}
	return ids, nil
}

// =============================================================================
// SYNC STATE
// =============================================================================

func (s *Store) LastSync(ctx context.Context) (*time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var value string
	err := s.db.GetContext(ctx, &value, `SELECT value FROM meta WHERE key = ?`, metaLastSync)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read last sync: %w", err)
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		s.logger.Warn("unparsable last sync, treating as never synced", "value", value, "error", err)
		return nil, nil
	}
	return &t, nil
}

func (s *Store) SetLastSync(ctx context.Context, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO meta (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		metaLastSync, t.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to write last sync: %w", err)
	}
	return nil
}
