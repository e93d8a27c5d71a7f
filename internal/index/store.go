package index

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"cjls/internal/logging"
)

// Sentinel errors surfaced by the store.
var (
	ErrReadOnly       = errors.New("index store is read-only")
	ErrSchemaMismatch = errors.New("index schema mismatch")
	ErrShutdown       = errors.New("shutdown requested")
)

// busyRetryBase is the first backoff step; backoff doubles up to busyRetryMax.
const (
	busyRetryBase = 5 * time.Millisecond
	busyRetryMax  = 250 * time.Millisecond
)

// Store is one logical database handle. The connection opens lazily on first
// use and statements are cached per connection. Writes serialize through a
// single mutex. The pool holds one connection, so reads also take turns on
// it; reads do not run concurrently with each other or with writes.
type Store struct {
	path     string
	readOnly bool
	// shutdown is polled inside busy-retry loops.
	shutdown func() bool

	connMu sync.Mutex
	db     *sql.DB
	stmts  map[string]*sql.Stmt

	writeMu   sync.Mutex
	upgradeMu sync.Mutex
}

// Open creates a store handle. No connection is made yet.
func Open(path string, readOnly bool, shutdown func() bool) *Store {
	if shutdown == nil {
		shutdown = func() bool { return false }
	}
	return &Store{
		path:     path,
		readOnly: readOnly,
		shutdown: shutdown,
		stmts:    make(map[string]*sql.Stmt),
	}
}

// conn returns the lazily opened connection, initializing the schema on the
// first call. Schema upgrades run under their own mutex so a concurrent
// background upgrade and a hot-path read cannot interleave.
func (s *Store) conn() (*sql.DB, error) {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.db != nil {
		return s.db, nil
	}

	if !s.readOnly {
		if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
			return nil, fmt.Errorf("create index directory: %w", err)
		}
	}

	dsn := s.path
	if s.readOnly {
		dsn = "file:" + s.path + "?mode=ro"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open index database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.IndexDebug("set busy_timeout: %v", err)
	}
	if !s.readOnly {
		if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
			logging.IndexDebug("set journal_mode=WAL: %v", err)
		}
		if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
			logging.IndexDebug("set synchronous=NORMAL: %v", err)
		}
	}

	s.upgradeMu.Lock()
	err = initSchema(db, s.readOnly)
	s.upgradeMu.Unlock()
	if err != nil {
		db.Close()
		return nil, err
	}

	s.db = db
	logging.Index("index database opened at %s (read_only=%v)", s.path, s.readOnly)
	return db, nil
}

// stmt returns a cached prepared statement for the SQL text, compiling and
// interning it on a miss. Statements are owned by the connection.
func (s *Store) stmt(query string) (*sql.Stmt, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if st, ok := s.stmts[query]; ok {
		return st, nil
	}
	st, err := db.Prepare(query)
	if err != nil {
		return nil, fmt.Errorf("prepare statement: %w", err)
	}
	s.stmts[query] = st
	return st, nil
}

// withRetry runs op, retrying bounded-backoff on SQLITE_BUSY until shutdown.
func (s *Store) withRetry(op func() error) error {
	delay := busyRetryBase
	for {
		err := op()
		if err == nil || !isBusy(err) {
			return err
		}
		if s.shutdown() {
			return ErrShutdown
		}
		logging.IndexDebug("database busy, retrying in %v", delay)
		time.Sleep(delay)
		if delay < busyRetryMax {
			delay *= 2
			if delay > busyRetryMax {
				delay = busyRetryMax
			}
		}
	}
}

func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}

// Update runs callback inside BEGIN/COMMIT under the write mutex. Any error
// or panic rolls the transaction back; on success every inserted row becomes
// visible atomically.
func (s *Store) Update(callback func(*DBUpdate) error) (err error) {
	if s.readOnly {
		return ErrReadOnly
	}
	timer := logging.StartTimer(logging.CategoryIndex, "Update")
	defer timer.StopWithThreshold(time.Second)

	db, err := s.conn()
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var tx *sql.Tx
	if err := s.withRetry(func() error {
		var berr error
		tx, berr = db.Begin()
		return berr
	}); err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			err = fmt.Errorf("index update panicked: %v", p)
			logging.Get(logging.CategoryIndex).Error("update rolled back after panic: %v", p)
		}
	}()

	u := &DBUpdate{tx: tx}
	if cerr := callback(u); cerr != nil {
		_ = tx.Rollback()
		return cerr
	}
	if cerr := s.withRetry(tx.Commit); cerr != nil {
		_ = tx.Rollback()
		return fmt.Errorf("commit: %w", cerr)
	}
	return nil
}

// Close closes cached statements and the connection.
func (s *Store) Close() error {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	for _, st := range s.stmts {
		_ = st.Close()
	}
	s.stmts = make(map[string]*sql.Stmt)
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
