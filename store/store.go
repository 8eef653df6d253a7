// Package store persists fuzzing sessions. A session file records the
// session info (progress, failure count, model identity) and the full
// report of every stored test, so an interrupted session can resume and
// results can be inspected afterwards.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/adrg/xdg"
	_ "modernc.org/sqlite" // register the sqlite driver
)

// InMemory is the path of a session that lives only for the process.
const InMemory = ":memory:"

// ErrNoSession is returned when the session file carries no session
// info yet.
var ErrNoSession = errors.New("store: no session info stored")

// Options configures opening a session file.
type Options struct {
	// CreateIfNotExists creates the file when missing instead of
	// failing.
	CreateIfNotExists bool
	// EnableWAL turns on write ahead logging. Recommended when the web
	// interface reads while the engine writes.
	EnableWAL bool
}

// SessionStore is a sqlite backed session file plus an in-process
// volatile key value store for UI data that has no business being
// persisted.
type SessionStore struct {
	db   *sql.DB
	path string

	mu       sync.RWMutex
	volatile map[string]any
}

// DefaultPath returns the session file location under the user data
// directory.
func DefaultPath(name string) (string, error) {
	path, err := xdg.DataFile(filepath.Join("kitty", name))
	if err != nil {
		return "", fmt.Errorf("resolve data dir: %w", err)
	}
	return path, nil
}

// Open opens the session file at path. Pass InMemory for a session
// that is not persisted.
func Open(path string, opts Options) (*SessionStore, error) {
	var dsn string
	if path == InMemory {
		dsn = InMemory
	} else {
		mode := "rw"
		if opts.CreateIfNotExists {
			mode = "rwc"
		}
		dsn = fmt.Sprintf("file:%s?mode=%s", path, mode)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open session file: %w", err)
	}
	// Design decision: a single connection avoids SQLITE_BUSY errors
	// under the engine's write load; reads from the web interface are
	// cheap enough to share it.
	db.SetMaxOpenConns(1)
	if opts.EnableWAL && path != InMemory {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("enable WAL: %w", err)
		}
	}
	s := &SessionStore{db: db, path: path, volatile: map[string]any{}}
	if err := s.createTables(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the session file.
func (s *SessionStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close session file: %w", err)
	}
	return nil
}

// Path returns the session file path.
func (s *SessionStore) Path() string { return s.path }

func (s *SessionStore) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS info (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			session_id TEXT NOT NULL,
			start_time TEXT NOT NULL,
			start_index INTEGER NOT NULL,
			current_index INTEGER NOT NULL,
			end_index INTEGER NOT NULL,
			failure_count INTEGER NOT NULL,
			kitty_version TEXT NOT NULL,
			model_hash TEXT NOT NULL,
			test_list TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS reports (
			test_id INTEGER PRIMARY KEY,
			content BLOB NOT NULL,
			status TEXT NOT NULL,
			reason TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_reports_status ON reports (status)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("create tables: %w", err)
		}
	}
	return nil
}

// SessionInfo is the persisted identity and progress of a session.
type SessionInfo struct {
	SessionID    string
	StartTime    time.Time
	StartIndex   int
	CurrentIndex int
	EndIndex     int
	FailureCount int
	KittyVersion string
	ModelHash    uint64
	TestList     string
}

// timestampFormats are tried in order when reading timestamps back.
var timestampFormats = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
}

func parseTimestamp(s string) (time.Time, error) {
	for _, f := range timestampFormats {
		if t, err := time.Parse(f, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
}

// SaveInfo writes the session info, replacing the previous state.
func (s *SessionStore) SaveInfo(info *SessionInfo) error {
	_, err := s.db.Exec(`
		INSERT INTO info (id, session_id, start_time, start_index, current_index,
			end_index, failure_count, kitty_version, model_hash, test_list)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			session_id = excluded.session_id,
			start_time = excluded.start_time,
			start_index = excluded.start_index,
			current_index = excluded.current_index,
			end_index = excluded.end_index,
			failure_count = excluded.failure_count,
			kitty_version = excluded.kitty_version,
			model_hash = excluded.model_hash,
			test_list = excluded.test_list`,
		info.SessionID,
		info.StartTime.UTC().Format(time.RFC3339Nano),
		info.StartIndex,
		info.CurrentIndex,
		info.EndIndex,
		info.FailureCount,
		info.KittyVersion,
		fmt.Sprintf("%d", info.ModelHash),
		info.TestList,
	)
	if err != nil {
		return fmt.Errorf("save session info: %w", err)
	}
	return nil
}

// LoadInfo reads the session info back. It returns ErrNoSession for a
// fresh session file.
func (s *SessionStore) LoadInfo() (*SessionInfo, error) {
	row := s.db.QueryRow(`
		SELECT session_id, start_time, start_index, current_index, end_index,
			failure_count, kitty_version, model_hash, test_list
		FROM info WHERE id = 1`)
	var info SessionInfo
	var start, hash string
	err := row.Scan(&info.SessionID, &start, &info.StartIndex, &info.CurrentIndex,
		&info.EndIndex, &info.FailureCount, &info.KittyVersion, &hash, &info.TestList)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoSession
	}
	if err != nil {
		return nil, fmt.Errorf("load session info: %w", err)
	}
	if info.StartTime, err = parseTimestamp(start); err != nil {
		return nil, fmt.Errorf("load session info: %w", err)
	}
	if _, err := fmt.Sscanf(hash, "%d", &info.ModelHash); err != nil {
		return nil, fmt.Errorf("load session info: bad model hash %q: %w", hash, err)
	}
	return &info, nil
}
