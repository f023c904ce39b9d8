// Package pseq implements a generic durable ordered sequence: every
// mutation persists before the call returns, and reads are served from an
// in-memory copy. It is the generalisation of the teacher's WAL-mode
// SQLite alert queue (internal/queue/sqlite_queue.go in the source
// repository this module was adapted from) from one fixed alert-event
// schema to an arbitrary MessagePack-encodable element type, which is the
// storage substitution the element type's owner (the event queue) needs.
//
// Each element is stored as one row holding its MessagePack encoding;
// mutations go through a single-connection *sql.DB opened in WAL mode, so
// "reopen the backing file and it matches the last successful mutation" —
// the externally observable contract — holds exactly as it would for a
// whole-file rewrite scheme. A database that fails to open or whose schema
// cannot be read is deleted when the sequence is opened and replaced by a
// fresh, empty database, mirroring "invalid or partially written files are
// empty on open."
package pseq

import (
	"database/sql"
	"fmt"
	"os"
	"sync"

	"github.com/vmihailenco/msgpack/v5"
	_ "modernc.org/sqlite"
)

const ddl = `
CREATE TABLE IF NOT EXISTS items (
	seq  INTEGER PRIMARY KEY AUTOINCREMENT,
	blob BLOB NOT NULL
);
`

// Sequence is a durable ordered list of T. Use Open to create one; it is
// safe for concurrent use.
type Sequence[T any] struct {
	mu    sync.Mutex
	db    *sql.DB
	items []T
	ids   []int64
}

// Open opens (or creates) the backing database at path and loads its
// current contents into memory. A corrupt or unreadable database is
// discarded and replaced with a fresh, empty one.
func Open[T any](path string) (*Sequence[T], error) {
	db, items, ids, err := openAndLoad[T](path)
	if err != nil {
		return nil, err
	}
	return &Sequence[T]{db: db, items: items, ids: ids}, nil
}

func openAndLoad[T any](path string) (*sql.DB, []T, []int64, error) {
	db, items, ids, err := tryLoad[T](path)
	if err == nil {
		return db, items, ids, nil
	}

	// Treat any failure to open or read the existing file as corruption:
	// drop it and start fresh. The second tryLoad creates a new, empty file.
	_ = os.Remove(path)
	db, items, ids, err = tryLoad[T](path)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("pseq: open %q: %w", path, err)
	}
	return db, items, ids, nil
}

func tryLoad[T any](path string) (*sql.DB, []T, []int64, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, nil, nil, err
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode = WAL`); err != nil {
		_ = db.Close()
		return nil, nil, nil, err
	}
	if _, err := db.Exec(`PRAGMA synchronous = NORMAL`); err != nil {
		_ = db.Close()
		return nil, nil, nil, err
	}
	if _, err := db.Exec(ddl); err != nil {
		_ = db.Close()
		return nil, nil, nil, err
	}

	rows, err := db.Query(`SELECT seq, blob FROM items ORDER BY seq ASC`)
	if err != nil {
		_ = db.Close()
		return nil, nil, nil, err
	}
	defer rows.Close()

	var items []T
	var ids []int64
	for rows.Next() {
		var id int64
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			_ = db.Close()
			return nil, nil, nil, err
		}
		var v T
		if err := msgpack.Unmarshal(blob, &v); err != nil {
			_ = db.Close()
			return nil, nil, nil, err
		}
		items = append(items, v)
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		_ = db.Close()
		return nil, nil, nil, err
	}

	return db, items, ids, nil
}

// Len returns the number of elements currently in the sequence.
func (s *Sequence[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Items returns a copy of the in-memory sequence, oldest first.
func (s *Sequence[T]) Items() []T {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]T, len(s.items))
	copy(out, s.items)
	return out
}

// At returns the element at index i.
func (s *Sequence[T]) At(i int) (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var zero T
	if i < 0 || i >= len(s.items) {
		return zero, false
	}
	return s.items[i], true
}

// Push appends value to the end of the sequence and persists it before
// returning.
func (s *Sequence[T]) Push(value T) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	blob, err := msgpack.Marshal(value)
	if err != nil {
		return fmt.Errorf("pseq: marshal: %w", err)
	}
	res, err := s.db.Exec(`INSERT INTO items (blob) VALUES (?)`, blob)
	if err != nil {
		return fmt.Errorf("pseq: insert: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("pseq: last insert id: %w", err)
	}

	s.items = append(s.items, value)
	s.ids = append(s.ids, id)
	return nil
}

// Extend appends every value in values, in order, and persists the whole
// batch before returning.
func (s *Sequence[T]) Extend(values []T) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("pseq: begin: %w", err)
	}
	stmt, err := tx.Prepare(`INSERT INTO items (blob) VALUES (?)`)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("pseq: prepare: %w", err)
	}
	defer stmt.Close()

	newIDs := make([]int64, 0, len(values))
	for _, v := range values {
		blob, err := msgpack.Marshal(v)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("pseq: marshal: %w", err)
		}
		res, err := stmt.Exec(blob)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("pseq: insert: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("pseq: last insert id: %w", err)
		}
		newIDs = append(newIDs, id)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("pseq: commit: %w", err)
	}

	s.items = append(s.items, values...)
	s.ids = append(s.ids, newIDs...)
	return nil
}

// Pop removes and returns the last element, or ok=false if the sequence is
// empty.
func (s *Sequence[T]) Pop() (value T, ok bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.items)
	if n == 0 {
		return value, false, nil
	}
	id := s.ids[n-1]
	if _, err := s.db.Exec(`DELETE FROM items WHERE seq = ?`, id); err != nil {
		return value, false, fmt.Errorf("pseq: delete: %w", err)
	}

	value = s.items[n-1]
	s.items = s.items[:n-1]
	s.ids = s.ids[:n-1]
	return value, true, nil
}

// RemoveAt removes and returns the element at index i.
func (s *Sequence[T]) RemoveAt(i int) (value T, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if i < 0 || i >= len(s.items) {
		return value, fmt.Errorf("pseq: index %d out of range [0,%d)", i, len(s.items))
	}
	id := s.ids[i]
	if _, err := s.db.Exec(`DELETE FROM items WHERE seq = ?`, id); err != nil {
		return value, fmt.Errorf("pseq: delete: %w", err)
	}

	value = s.items[i]
	s.items = append(s.items[:i:i], s.items[i+1:]...)
	s.ids = append(s.ids[:i:i], s.ids[i+1:]...)
	return value, nil
}

// Guard exposes the in-memory sequence for batch mutation. Obtain one with
// Mutate; the sequence's lock is held until the guard is closed.
type Guard[T any] struct {
	seq    *Sequence[T]
	items  []T
	closed bool
}

// Mutate acquires the sequence's lock and returns a Guard over a working
// copy of its contents. The caller mutates *Guard.Items() freely (append,
// remove, reorder); the result replaces the sequence's contents and is
// persisted when the guard is closed.
func (s *Sequence[T]) Mutate() *Guard[T] {
	s.mu.Lock()
	working := make([]T, len(s.items))
	copy(working, s.items)
	return &Guard[T]{seq: s, items: working}
}

// Items returns a pointer to the guard's working copy for in-place
// mutation.
func (g *Guard[T]) Items() *[]T {
	return &g.items
}

// Flush persists the guard's current contents, replacing the sequence's
// backing rows wholesale, and releases the sequence's lock. It is safe to
// call at most once; a subsequent Close is then a no-op.
func (g *Guard[T]) Flush() error {
	if g.closed {
		return nil
	}
	g.closed = true
	defer g.seq.mu.Unlock()

	newIDs, err := g.seq.rewriteLocked(g.items)
	if err != nil {
		return err
	}
	g.seq.items = g.items
	g.seq.ids = newIDs
	return nil
}

// Close releases the guard, persisting its contents. Any error is
// swallowed; callers that need to observe a write failure should call
// Flush directly instead.
func (g *Guard[T]) Close() {
	_ = g.Flush()
}

// rewriteLocked replaces every row in the table with items, in order, and
// must be called with s.mu held.
func (s *Sequence[T]) rewriteLocked(items []T) ([]int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("pseq: begin: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM items`); err != nil {
		_ = tx.Rollback()
		return nil, fmt.Errorf("pseq: clear: %w", err)
	}
	stmt, err := tx.Prepare(`INSERT INTO items (blob) VALUES (?)`)
	if err != nil {
		_ = tx.Rollback()
		return nil, fmt.Errorf("pseq: prepare: %w", err)
	}
	defer stmt.Close()

	ids := make([]int64, 0, len(items))
	for _, v := range items {
		blob, err := msgpack.Marshal(v)
		if err != nil {
			_ = tx.Rollback()
			return nil, fmt.Errorf("pseq: marshal: %w", err)
		}
		res, err := stmt.Exec(blob)
		if err != nil {
			_ = tx.Rollback()
			return nil, fmt.Errorf("pseq: insert: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			_ = tx.Rollback()
			return nil, fmt.Errorf("pseq: last insert id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("pseq: commit: %w", err)
	}
	return ids, nil
}

// Close closes the underlying database connection. Subsequent use of the
// sequence is undefined.
func (s *Sequence[T]) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}
