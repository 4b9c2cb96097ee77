package discussion

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

const schema = `
CREATE TABLE IF NOT EXISTS discussions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    title TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    discussion_id INTEGER NOT NULL,
    parent_id INTEGER NOT NULL DEFAULT -1,
    sender_type INTEGER NOT NULL,
    sender TEXT NOT NULL,
    content TEXT NOT NULL DEFAULT '',
    kind INTEGER NOT NULL DEFAULT 0,
    metadata TEXT,
    rank INTEGER NOT NULL DEFAULT 0,
    binding TEXT NOT NULL DEFAULT '',
    model TEXT NOT NULL DEFAULT '',
    personality TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL,
    finished_generating_at TEXT
);

CREATE INDEX IF NOT EXISTS idx_messages_discussion ON messages(discussion_id, id);
`

// Store is the discussions database: an append-mostly tree of messages per
// discussion. Message content is mutable while a generation streams into it
// and frozen once finished_generating_at is set.
type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	// migration: add rank column to databases created before it existed
	if !s.columnExists("messages", "rank") {
		if _, err := s.db.Exec("ALTER TABLE messages ADD COLUMN rank INTEGER DEFAULT 0"); err != nil {
			return err
		}
	}

	return nil
}

func (s *Store) columnExists(table, column string) bool {
	rows, err := s.db.Query("PRAGMA table_info(" + table + ")")
	if err != nil {
		return false
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, colType string
		var notNull, pk int
		var dfltValue any
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dfltValue, &pk); err != nil {
			continue
		}
		if name == column {
			return true
		}
	}
	return false
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Store) DB() *sql.DB {
	return s.db
}

// CreateDiscussion starts a new discussion. An empty title is allowed; the UI
// renames discussions after the fact.
func (s *Store) CreateDiscussion(title string) (*Discussion, error) {
	now := time.Now().UTC().Format(time.RFC3339)

	res, err := s.db.Exec(
		`INSERT INTO discussions (title, created_at) VALUES (?, ?)`,
		title, now,
	)
	if err != nil {
		return nil, fmt.Errorf("create discussion: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}

	return &Discussion{ID: id, Title: title, store: s}, nil
}

// LoadDiscussion loads a discussion by id and positions its cursor on the
// most recent message.
func (s *Store) LoadDiscussion(id int64) (*Discussion, error) {
	var title string
	err := s.db.QueryRow(`SELECT title FROM discussions WHERE id = ?`, id).Scan(&title)
	if err != nil {
		return nil, fmt.Errorf("load discussion %d: %w", id, err)
	}

	d := &Discussion{ID: id, Title: title, store: s}
	if err := d.loadCurrent(); err != nil {
		return nil, err
	}

	return d, nil
}

// LoadLastDiscussion returns the most recently created discussion, creating
// one if the database is empty.
func (s *Store) LoadLastDiscussion() (*Discussion, error) {
	var id int64
	err := s.db.QueryRow(`SELECT id FROM discussions ORDER BY id DESC LIMIT 1`).Scan(&id)
	if err == sql.ErrNoRows {
		return s.CreateDiscussion("")
	}
	if err != nil {
		return nil, err
	}

	return s.LoadDiscussion(id)
}

// LastDiscussionHasMessages reports whether the newest discussion already
// holds messages. Used to decide between reusing it and starting fresh.
func (s *Store) LastDiscussionHasMessages() (bool, error) {
	var count int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM messages
		WHERE discussion_id = (SELECT id FROM discussions ORDER BY id DESC LIMIT 1)
	`).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
