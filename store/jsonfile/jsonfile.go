/*
jsonfile.go - JSON file persistence for the ledger

PURPOSE:
  Stores the ledger envelope as a single JSON document. This is the
  default backend: one human-readable file that survives crashes.

FILES (under Dir unless overridden):
  ledger.json                         the envelope
  state.json                          last report delivery time
  backups/ledger_backup_<stamp>.json  rolling copies taken before writes
  reports/<report id>.json            one record per generated summary

DURABILITY:
  Save writes a temp file in the same directory, fsyncs it and renames it
  over ledger.json. A crash leaves either the old or the new document.

LOAD LENIENCY:
  Missing file      -> empty envelope
  Undecodable file  -> empty envelope, logged (the backups still hold it)
  Bad single record -> kept verbatim (ledger.Opaque), logged, written back
*/
package jsonfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/warp/retail-ledger/ledger"
)

const (
	ledgerFile   = "ledger.json"
	stateFile    = "state.json"
	backupPrefix = "ledger_backup_"
	backupStamp  = "20060102_150405.000000"

	// DefaultKeep is the number of rolling backups retained.
	DefaultKeep = 10
)

// Options configures a Store. Only Dir is required.
type Options struct {
	Dir        string
	BackupDir  string
	ReportsDir string
	Keep       int
	Logger     *log.Logger
	Now        func() time.Time
}

// Store implements ledger.BackupStore, ledger.ReportIndex and ledger.SyncState.
type Store struct {
	mu         sync.Mutex
	path       string
	statePath  string
	backupDir  string
	reportsDir string
	keep       int
	logger     *log.Logger
	now        func() time.Time
}

// New creates the directories it needs and returns the store.
func New(opts Options) (*Store, error) {
	if opts.Dir == "" {
		return nil, errors.New("jsonfile: data directory is required")
	}
	s := &Store{
		path:       filepath.Join(opts.Dir, ledgerFile),
		statePath:  filepath.Join(opts.Dir, stateFile),
		backupDir:  opts.BackupDir,
		reportsDir: opts.ReportsDir,
		keep:       opts.Keep,
		logger:     opts.Logger,
		now:        opts.Now,
	}
	if s.backupDir == "" {
		s.backupDir = filepath.Join(opts.Dir, "backups")
	}
	if s.reportsDir == "" {
		s.reportsDir = filepath.Join(opts.Dir, "reports")
	}
	if s.keep <= 0 {
		s.keep = DefaultKeep
	}
	if s.logger == nil {
		s.logger = log.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}

	for _, dir := range []string{opts.Dir, s.backupDir, s.reportsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("jsonfile: create %s: %w", dir, err)
		}
	}
	return s, nil
}

// Path returns the ledger file location.
func (s *Store) Path() string { return s.path }

// =============================================================================
// LOAD / SAVE
// =============================================================================

func (s *Store) Load(_ context.Context) (ledger.Envelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return ledger.Envelope{}, nil
	}
	if err != nil {
		return ledger.Envelope{}, fmt.Errorf("jsonfile: read ledger: %w", err)
	}

	env, warnings, err := ledger.UnmarshalEnvelope(data)
	if err != nil {
		s.logger.Error("ledger file is corrupt, starting empty", "path", s.path, "error", err)
		return ledger.Envelope{}, nil
	}
	for _, w := range warnings {
		s.logger.Warn("malformed ledger record kept as is", "path", s.path, "error", w)
	}
	return env, nil
}

func (s *Store) Save(_ context.Context, env ledger.Envelope) error {
	data, err := ledger.MarshalEnvelope(env)
	if err != nil {
		return fmt.Errorf("jsonfile: encode ledger: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return writeAtomic(s.path, data)
}

// Replace is Save: the file is always rewritten wholesale.
func (s *Store) Replace(ctx context.Context, env ledger.Envelope) error {
	return s.Save(ctx, env)
}

// writeAtomic replaces path with data via temp file, fsync and rename.
func writeAtomic(path string, data []byte) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("jsonfile: create temp: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return fmt.Errorf("jsonfile: write temp: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("jsonfile: sync temp: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("jsonfile: close temp: %w", err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("jsonfile: replace ledger: %w", err)
	}
	return nil
}

// =============================================================================
// BACKUPS - Rolling copies, newest Keep retained
// =============================================================================

// Backup copies the current ledger file into the backup directory and
// evicts the oldest copies beyond the retention limit.
func (s *Store) Backup(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	src, err := os.Open(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("jsonfile: open ledger for backup: %w", err)
	}
	defer src.Close()

	name := backupPrefix + s.now().Format(backupStamp) + ".json"
	dst, err := os.Create(filepath.Join(s.backupDir, name))
	if err != nil {
		return fmt.Errorf("jsonfile: create backup: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return fmt.Errorf("jsonfile: copy backup: %w", err)
	}
	if err := dst.Close(); err != nil {
		return fmt.Errorf("jsonfile: close backup: %w", err)
	}

	return s.pruneBackups()
}

type backupFile struct {
	name    string
	modTime time.Time
}

// Backups lists backup file paths, oldest first.
func (s *Store) Backups() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
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

func (s *Store) listBackups() ([]backupFile, error) {
	entries, err := os.ReadDir(s.backupDir)
	if err != nil {
		return nil, fmt.Errorf("jsonfile: read backups: %w", err)
	}
	var files []backupFile
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), backupPrefix) || !strings.HasSuffix(e.Name(), ".json") {
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
// REPORT INDEX
// =============================================================================

type reportFile struct {
	ID          string     `json:"id"`
	Mode        string     `json:"mode"`
	Start       *time.Time `json:"start,omitempty"`
	End         *time.Time `json:"end,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	TotalSales  string     `json:"total_sales"`
	Rows        int        `json:"rows"`
	Corrections []string   `json:"corrections"`
}

// RecordReport writes a small JSON record for the report into ReportsDir.
func (s *Store) RecordReport(_ context.Context, rec ledger.ReportRecord) error {
	rf := reportFile{
		ID:          rec.ID,
		Mode:        string(rec.Mode),
		CreatedAt:   rec.CreatedAt,
		TotalSales:  rec.TotalSales,
		Rows:        rec.Rows,
		Corrections: rec.Corrections,
	}
	if rec.Period != nil {
		rf.Start, rf.End = &rec.Period.Start, &rec.Period.End
	}
	data, err := json.MarshalIndent(rf, "", "  ")
	if err != nil {
		return fmt.Errorf("jsonfile: encode report: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return writeAtomic(filepath.Join(s.reportsDir, rec.ID+".json"), data)
}

// ReportIDs lists recorded reports. Files dropped into the directory by an
// external renderer (e.g. Summary-20250310-090000.pdf) count as well.
func (s *Store) ReportIDs(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.reportsDir)
	if err != nil {
		return nil, fmt.Errorf("jsonfile: read reports: %w", err)
	}
	seen := make(map[string]bool)
	var ids []string
	for _, e := range entries {
		if e.IsDir() || strings.HasSuffix(e.Name(), ".tmp") {
			continue
		}
		id := strings.TrimSuffix(e.Name(), ".json")
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// =============================================================================
// SYNC STATE
// =============================================================================

type state struct {
	LastSync *time.Time `json:"last_sync,omitempty"`
}

func (s *Store) LastSync(_ context.Context) (*time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.statePath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("jsonfile: read state: %w", err)
	}
	var st state
	if err := json.Unmarshal(data, &st); err != nil {
		s.logger.Warn("state file is corrupt, treating as never synced", "path", s.statePath, "error", err)
		return nil, nil
	}
	return st.LastSync, nil
}

func (s *Store) SetLastSync(_ context.Context, t time.Time) error {
	data, err := json.MarshalIndent(state{LastSync: &t}, "", "  ")
	if err != nil {
		return fmt.Errorf("jsonfile: encode state: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeAtomic(s.statePath, data)
}
