// Package history provides SQLite-based persistence for generated turns
// and the per-agent sequence counters.
// The database is opened lazily and created on first use.
// If opening the DB or executing queries fails, the store falls back to
// in-memory storage so an exchange keeps running.
package history

import (
	"context"
	"database/sql"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"

	"github.com/comigor/midi64-go/internal/logger"
	"github.com/comigor/midi64-go/internal/protocol"
)

// Entry is one archived turn.
type Entry struct {
	ID        int64
	RunID     string
	Agent     string
	Prefix    string
	Sequence  uint32
	Payload   string
	CreatedAt time.Time
}

// Message rebuilds the protocol message the entry was recorded from.
func (e Entry) Message() (protocol.Message, error) {
	var prefix byte
	if len(e.Prefix) > 0 {
		prefix = e.Prefix[0]
	}
	id, err := protocol.NewID(e.Agent, prefix, e.Sequence)
	if err != nil {
		return protocol.Message{}, err
	}
	msg, err := protocol.NewMessage(id, e.Payload, e.CreatedAt)
	if err != nil {
		return protocol.Message{}, err
	}
	msg.Source = "history"
	return msg, nil
}

// Store archives turns and counters. The zero value is not usable; call Open.
type Store struct {
	path string

	once    sync.Once
	db      *sql.DB
	initErr error

	mu       sync.Mutex
	entries  []Entry                      // in-memory fallback
	counters map[string]map[string]uint32 // prefix -> agent key -> value
	nextID   int64
}

// Open returns a store for the database at path. Nothing touches the disk
// until the first call.
func Open(path string) *Store {
	if path == "" {
		path = "midi64.db"
	}
	return &Store{path: path, counters: make(map[string]map[string]uint32)}
}

func (s *Store) init() {
	db, err := sql.Open("sqlite", "file:"+s.path+"?_pragma=busy_timeout(10000)")
	if err != nil {
		s.initErr = err
		logger.L.Warn("sqlite open failed; using in-memory history", "path", s.path, "error", err)
		return
	}
	if _, err = db.Exec(`CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT,
		agent TEXT,
		session_prefix TEXT,
		sequence INTEGER,
		payload TEXT,
		created_at DATETIME
	);
	CREATE TABLE IF NOT EXISTS counters (
		session_prefix TEXT,
		agent TEXT,
		value INTEGER,
		PRIMARY KEY (session_prefix, agent)
	);`); err != nil {
		s.initErr = err
		_ = db.Close()
		logger.L.Warn("sqlite table creation failed; using in-memory history", "path", s.path, "error", err)
		return
	}
	s.db = db
	logger.L.Info("sqlite history DB initialized", "path", s.path)
}

func (s *Store) sqlite() *sql.DB {
	s.once.Do(s.init)
	if s.initErr != nil {
		return nil
	}
	return s.db
}

// Record archives msg under run. The in-memory copy is always kept.
func (s *Store) Record(ctx context.Context, run string, msg protocol.Message) error {
	e := Entry{
		RunID:     run,
		Agent:     msg.Agent(),
		Prefix:    string(msg.ID.Prefix),
		Sequence:  msg.ID.Sequence,
		Payload:   msg.Encoded,
		CreatedAt: msg.Timestamp,
	}
	if db := s.sqlite(); db != nil {
		_, err := db.ExecContext(ctx, `INSERT INTO messages (run_id, agent, session_prefix, sequence, payload, created_at) VALUES (?,?,?,?,?,?);`,
			e.RunID, e.Agent, e.Prefix, e.Sequence, e.Payload, e.CreatedAt)
		if err != nil {
			logger.L.Error("failed to store message in sqlite; falling back to memory", "id", msg.Label(), "error", err)
		}
	}

	s.mu.Lock()
	s.nextID++
	e.ID = s.nextID
	s.entries = append(s.entries, e)
	s.mu.Unlock()
	return nil
}

// List returns every archived turn of a session prefix in insertion order.
func (s *Store) List(ctx context.Context, prefix byte) ([]Entry, error) {
	if db := s.sqlite(); db != nil {
		rows, err := db.QueryContext(ctx, `SELECT id, run_id, agent, session_prefix, sequence, payload, created_at FROM messages WHERE session_prefix = ? ORDER BY id ASC;`, string(prefix))
		if err == nil {
			defer rows.Close()
			var out []Entry
			for rows.Next() {
				var e Entry
				if err := rows.Scan(&e.ID, &e.RunID, &e.Agent, &e.Prefix, &e.Sequence, &e.Payload, &e.CreatedAt); err != nil {
					logger.L.Warn("skipping unreadable history row", "error", err)
					continue
				}
				out = append(out, e)
			}
			return out, rows.Err()
		}
		logger.L.Error("history query failed; reading memory", "error", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Entry
	for _, e := range s.entries {
		if e.Prefix == string(prefix) {
			out = append(out, e)
		}
	}
	return out, nil
}

// LoadCounters returns the last issued sequence per agent key.
func (s *Store) LoadCounters(ctx context.Context, prefix byte) (map[string]uint32, error) {
	out := make(map[string]uint32)
	if db := s.sqlite(); db != nil {
		rows, err := db.QueryContext(ctx, `SELECT agent, value FROM counters WHERE session_prefix = ?;`, string(prefix))
		if err != nil {
			return nil, err
		}
		defer rows.Close()
		for rows.Next() {
			var agent string
			var v uint32
			if err := rows.Scan(&agent, &v); err != nil {
				return nil, err
			}
			out[agent] = v
		}
		return out, rows.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range s.counters[string(prefix)] {
		out[k] = v
	}
	return out, nil
}

// SaveCounter stores the last issued sequence for agent.
func (s *Store) SaveCounter(ctx context.Context, prefix byte, agent string, value uint32) error {
	key := protocol.AgentKey(agent)
	if db := s.sqlite(); db != nil {
		_, err := db.ExecContext(ctx, `INSERT INTO counters (session_prefix, agent, value) VALUES (?,?,?)
			ON CONFLICT(session_prefix, agent) DO UPDATE SET value = excluded.value;`, string(prefix), key, value)
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.counters[string(prefix)]
	if m == nil {
		m = make(map[string]uint32)
		s.counters[string(prefix)] = m
	}
	m[key] = value
	return nil
}

// ResetCounters drops every counter of the session prefix. Archived
// messages are kept.
func (s *Store) ResetCounters(ctx context.Context, prefix byte) error {
	if db := s.sqlite(); db != nil {
		_, err := db.ExecContext(ctx, `DELETE FROM counters WHERE session_prefix = ?;`, string(prefix))
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.counters, string(prefix))
	return nil
}

// Close releases the database, if one was opened.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
